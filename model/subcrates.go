package model

import (
	"context"
	"log/slog"
	"strings"

	"rocrate.dev/rocrate/compliance"
	"rocrate.dev/rocrate/locator"
	"rocrate.dev/rocrate/rocrate"
	"rocrate.dev/rocrate/subcrate"
)

type FetchOptions struct {
	// Resolver resolves locators; usually a *fetch.Fetcher.
	Resolver subcrate.Resolver
	Logger   *slog.Logger
}

// FetchSubcrates loads the requested crate and collects its subcrates.
// Errors are *CodedError.
func FetchSubcrates(ctx context.Context, req SubcrateRequest, opts FetchOptions) (*SubcrateResponse, error) {
	if opts.Resolver == nil {
		return nil, NewError(ErrInvalidRequest, "missing resolver")
	}
	mode, err := toCompliance(req.Compliance)
	if err != nil {
		return nil, err
	}
	if req.Parallel < 0 || req.MaxDepth < 0 {
		return nil, NewError(ErrInvalidRequest, "parallel and maxDepth must not be negative")
	}

	top, err := loadCrate(ctx, req, opts.Resolver)
	if err != nil {
		return nil, err
	}

	subs, err := subcrate.Collect(ctx, opts.Resolver, top.crate, subcrate.Options{
		Mode:      mode,
		Recursive: req.Recursive,
		Base:      top.base,
		Roots:     []string{top.locator, top.source},
		Parallel:  req.Parallel,
		MaxDepth:  req.MaxDepth,
		Logger:    opts.Logger,
	})
	if err != nil {
		return nil, mapErr(err)
	}

	resp := &SubcrateResponse{Root: top.locator, Subcrates: make([]SubcrateSummary, 0, len(subs))}
	for _, s := range subs {
		resp.Subcrates = append(resp.Subcrates, summarize(s))
	}
	return resp, nil
}

// topCrate is the crate a request names, with where it was read from.
type topCrate struct {
	crate   *rocrate.Crate
	base    string
	locator string
	source  string
}

func loadCrate(ctx context.Context, req SubcrateRequest, r subcrate.Resolver) (*topCrate, error) {
	ref := req.Crate
	hasLoc := strings.TrimSpace(ref.Locator) != ""
	switch {
	case hasLoc && len(ref.Metadata) > 0:
		return nil, NewError(ErrInvalidRequest, "crate ref has both locator and metadata")
	case len(ref.Metadata) > 0:
		c, err := rocrate.Parse(ref.Metadata)
		if err != nil {
			return nil, NewError(ErrParse, err.Error())
		}
		return &topCrate{crate: c, base: req.Base}, nil
	case hasLoc:
		res, err := r.Resolve(ctx, ref.Locator)
		if err != nil {
			return nil, mapErr(err)
		}
		base := req.Base
		if base == "" {
			base = locator.Base(res.Source)
		}
		return &topCrate{crate: res.Crate, base: base, locator: ref.Locator, source: res.Source}, nil
	default:
		return nil, NewError(ErrInvalidRequest, "crate ref missing locator/metadata")
	}
}

func toCompliance(m ComplianceMode) (compliance.ComplianceMode, error) {
	switch m {
	case CompliancePermissive:
		return compliance.Permissive, nil
	case ComplianceStrict:
		return compliance.Strict, nil
	case "":
		return 0, NewError(ErrInvalidRequest, "missing compliance mode")
	default:
		return 0, NewError(ErrInvalidRequest, "invalid compliance mode")
	}
}

func summarize(s subcrate.Subcrate) SubcrateSummary {
	out := SubcrateSummary{
		Locator:  s.Locator,
		Source:   s.Source,
		Parent:   s.Parent,
		Depth:    s.Depth,
		Strategy: string(s.Strategy),
	}
	if s.Crate != nil {
		out.Name = s.Crate.Name()
		out.RootID = s.Crate.RootID()
		out.Entities = len(s.Crate.Graph)
	}
	if s.CID.Defined() {
		out.CID = s.CID.String()
	}
	return out
}
