// Package model defines stable boundary types for API layers.
//
// These structs are the only types intended for direct JSON/YAML
// serialization by consumers. Parsed crates stay behind the boundary; DTOs
// carry identifiers, provenance and content ids.
package model
