package subcrate

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ipfs/go-cid"
	"golang.org/x/sync/errgroup"

	"rocrate.dev/rocrate/compliance"
	"rocrate.dev/rocrate/fetch"
	"rocrate.dev/rocrate/locator"
	"rocrate.dev/rocrate/rocrate"
)

// Resolver turns a locator into a crate. *fetch.Fetcher implements it.
type Resolver interface {
	Resolve(ctx context.Context, loc string) (*fetch.Result, error)
}

var _ Resolver = (*fetch.Fetcher)(nil)

// Options controls Collect.
type Options struct {
	// Mode is compliance.Strict (first failure aborts) or
	// compliance.Permissive (failures are logged and the branch dropped).
	Mode compliance.ComplianceMode
	// Recursive descends into every resolved subcrate.
	Recursive bool
	// Base is what relative locators of the top-level crate resolve
	// against: a directory or a URL.
	Base string
	// Roots are the locators the top-level crate was read from. They are
	// marked visited up front so a crate listing itself is not fetched
	// again.
	Roots []string
	// Parallel bounds how many siblings are resolved at once. Values
	// below 2 resolve sequentially.
	Parallel int
	// MaxDepth stops descent below this depth; direct children are depth
	// 1. Zero means unlimited.
	MaxDepth int

	Logger *slog.Logger
}

// Subcrate is one resolved nested crate.
type Subcrate struct {
	Crate *rocrate.Crate
	// Locator is the identifier that was resolved, after joining with the
	// parent's base.
	Locator string
	// Source is where the metadata was read from.
	Source string
	// Parent is the locator of the declaring crate; empty for children of
	// the top-level crate.
	Parent   string
	Depth    int
	Strategy fetch.Strategy
	CID      cid.Cid
}

// FetchSubcrates resolves the direct subcrates of c. Any failure aborts.
func FetchSubcrates(ctx context.Context, r Resolver, c *rocrate.Crate, opts Options) ([]Subcrate, error) {
	opts.Mode, opts.Recursive = compliance.Strict, false
	return Collect(ctx, r, c, opts)
}

// FetchSubcratesRecursive resolves every subcrate reachable from c in
// depth-first pre-order. Any failure aborts and nothing is returned.
func FetchSubcratesRecursive(ctx context.Context, r Resolver, c *rocrate.Crate, opts Options) ([]Subcrate, error) {
	opts.Mode, opts.Recursive = compliance.Strict, true
	return Collect(ctx, r, c, opts)
}

// TryFetchSubcratesRecursive is the best-effort variant of
// FetchSubcratesRecursive: a subcrate that cannot be resolved is logged at
// WARN and skipped together with everything below it.
func TryFetchSubcratesRecursive(ctx context.Context, r Resolver, c *rocrate.Crate, opts Options) []Subcrate {
	opts.Mode, opts.Recursive = compliance.Permissive, true
	out, _ := Collect(ctx, r, c, opts)
	return out
}

// Collect resolves the subcrates of c according to opts.
//
// Output is in depth-first pre-order: each subcrate is followed by its own
// subcrates before its next sibling. Every locator is resolved at most once
// per call (keyed by locator.Canonical), so cycles terminate and a subcrate
// reachable along several paths appears once, under the first parent that
// claimed it. Siblings are claimed in declaration order before any of them
// is resolved, which keeps the output identical for every Parallel value.
func Collect(ctx context.Context, r Resolver, c *rocrate.Crate, opts Options) ([]Subcrate, error) {
	col := &collector{
		r:       r,
		opts:    opts,
		logger:  opts.Logger,
		visited: map[string]struct{}{},
	}
	if col.logger == nil {
		col.logger = slog.Default()
	}
	for _, loc := range opts.Roots {
		if loc != "" {
			col.claim(loc)
		}
	}
	out, err := col.walk(ctx, c, opts.Base, "", 1)
	if err != nil && opts.Mode == compliance.Strict {
		return nil, err
	}
	return out, nil
}

type collector struct {
	r      Resolver
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	visited map[string]struct{}
}

// claim marks loc as visited and reports whether this call was first.
func (col *collector) claim(loc string) bool {
	key := locator.Canonical(loc)
	col.mu.Lock()
	defer col.mu.Unlock()
	if _, seen := col.visited[key]; seen {
		return false
	}
	col.visited[key] = struct{}{}
	return true
}

func (col *collector) strict() bool { return col.opts.Mode == compliance.Strict }

func (col *collector) walk(ctx context.Context, c *rocrate.Crate, base, parent string, depth int) ([]Subcrate, error) {
	var locs []string
	for _, e := range Enumerate(c) {
		loc := locator.Join(base, Locate(e))
		if locator.Classify(loc) == locator.Fragment {
			col.logger.DebugContext(ctx, "skipping in-crate fragment reference", "locator", loc, "parent", parent)
			continue
		}
		if !col.claim(loc) {
			col.logger.DebugContext(ctx, "subcrate already visited", "locator", loc, "parent", parent)
			continue
		}
		locs = append(locs, loc)
	}
	if len(locs) == 0 {
		return nil, nil
	}

	results, err := col.resolveAll(ctx, locs)
	if err != nil {
		return nil, err
	}

	var out []Subcrate
	for i, res := range results {
		if res == nil {
			continue
		}
		out = append(out, Subcrate{
			Crate:    res.Crate,
			Locator:  locs[i],
			Source:   res.Source,
			Parent:   parent,
			Depth:    depth,
			Strategy: res.Strategy,
			CID:      res.CID,
		})
		if !col.opts.Recursive || (col.opts.MaxDepth > 0 && depth >= col.opts.MaxDepth) {
			continue
		}
		if err := ctx.Err(); err != nil {
			if col.strict() {
				return nil, err
			}
			return out, nil
		}
		nested, err := col.walk(ctx, res.Crate, locator.Base(res.Source), locs[i], depth+1)
		if err != nil {
			return nil, err
		}
		out = append(out, nested...)
	}
	return out, nil
}

// resolveAll resolves locs, slotting results by index. In permissive mode a
// failed slot is left nil. In strict mode a failure cancels only the
// siblings declared after it, so the error returned is always that of the
// first failing locator in declaration order.
func (col *collector) resolveAll(ctx context.Context, locs []string) ([]*fetch.Result, error) {
	results := make([]*fetch.Result, len(locs))
	errs := make([]error, len(locs))

	var mu sync.Mutex
	failed := len(locs)
	cancels := make([]context.CancelFunc, len(locs))
	fail := func(i int) {
		mu.Lock()
		defer mu.Unlock()
		if i >= failed {
			return
		}
		failed = i
		for j := i + 1; j < len(cancels); j++ {
			if cancels[j] != nil {
				cancels[j]()
			}
		}
	}
	start := func(i int) (context.Context, bool) {
		mu.Lock()
		defer mu.Unlock()
		if i > failed || ctx.Err() != nil {
			return nil, false
		}
		sctx, cancel := context.WithCancel(ctx)
		cancels[i] = cancel
		return sctx, true
	}

	var g errgroup.Group
	limit := col.opts.Parallel
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)

	for i, loc := range locs {
		g.Go(func() error {
			sctx, ok := start(i)
			if !ok {
				return nil
			}
			defer cancels[i]()
			res, err := col.r.Resolve(sctx, loc)
			if err != nil {
				if col.strict() {
					errs[i] = err
					fail(i)
					return nil
				}
				col.logger.WarnContext(ctx, "skipping subcrate", "locator", loc, "error", err)
				return nil
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	if !col.strict() {
		return results, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if failed < len(locs) {
		return nil, errs[failed]
	}
	return results, nil
}
