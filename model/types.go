package model

// CrateRef names the crate to start from, either by locator or by its
// metadata bytes. Exactly one of Locator or Metadata MUST be set.
//
// JSON note: Metadata is encoded as base64 by encoding/json.
type CrateRef struct {
	Locator  string `json:"locator,omitempty"`
	Metadata []byte `json:"metadata,omitempty"`
}

type ComplianceMode string

const (
	CompliancePermissive ComplianceMode = "permissive"
	ComplianceStrict     ComplianceMode = "strict"
)

type SubcrateRequest struct {
	Crate      CrateRef       `json:"crate"`
	Compliance ComplianceMode `json:"compliance"`
	Recursive  bool           `json:"recursive"`
	// Base overrides what relative locators of the top-level crate resolve
	// against.
	Base     string `json:"base,omitempty"`
	Parallel int    `json:"parallel,omitempty"`
	MaxDepth int    `json:"maxDepth,omitempty"`
}

// SubcrateSummary describes one resolved subcrate.
type SubcrateSummary struct {
	Locator  string `json:"locator"`
	Source   string `json:"source"`
	Parent   string `json:"parent,omitempty"`
	Depth    int    `json:"depth"`
	Strategy string `json:"strategy"`
	Name     string `json:"name,omitempty"`
	RootID   string `json:"rootId"`
	Entities int    `json:"entities"`
	CID      string `json:"cid,omitempty"`
}

type SubcrateResponse struct {
	// Root is the locator the top-level crate was read from, if any.
	Root      string            `json:"root,omitempty"`
	Subcrates []SubcrateSummary `json:"subcrates"`
}
