// Package compliance names the failure policies of subcrate collection.
package compliance

import (
	"fmt"
	"strings"
)

// ComplianceMode selects how collection reacts to a subcrate that cannot be
// resolved.
//
// Strict aborts the whole collection with the first error. Permissive logs
// the failure, drops that branch and carries on with the siblings.
type ComplianceMode int

const (
	Permissive ComplianceMode = iota
	Strict
)

func (m ComplianceMode) String() string {
	switch m {
	case Strict:
		return "strict"
	case Permissive:
		return "permissive"
	default:
		return fmt.Sprintf("ComplianceMode(%d)", int(m))
	}
}

// ParseMode accepts "strict", "permissive" and the alias "best-effort".
func ParseMode(s string) (ComplianceMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "strict":
		return Strict, nil
	case "permissive", "best-effort", "besteffort":
		return Permissive, nil
	default:
		return Permissive, fmt.Errorf("compliance: unknown mode %q", s)
	}
}
