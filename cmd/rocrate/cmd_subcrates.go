package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/spf13/cobra"

	"rocrate.dev/rocrate/compliance"
	"rocrate.dev/rocrate/fetch"
	"rocrate.dev/rocrate/internal/format"
	"rocrate.dev/rocrate/internal/logging"
	"rocrate.dev/rocrate/model"
)

type subcratesFlags struct {
	recursive bool
	strict    bool
	parallel  int
	maxDepth  int
	timeout   time.Duration
	base      string
	output    string
	bundle    string
}

func newSubcratesCmd(a *app) *cobra.Command {
	var fl subcratesFlags
	cmd := &cobra.Command{
		Use:   "subcrates <crate>",
		Short: "List the subcrates of a crate",
		Long: "Reads the crate at <crate> (a metadata file, a directory, a ZIP file or a URL)\n" +
			"and resolves every subcrate it declares.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubcrates(cmd, a, &fl, args[0])
		},
	}
	f := cmd.Flags()
	f.BoolVarP(&fl.recursive, "recursive", "r", false, "Descend into subcrates of subcrates")
	f.BoolVar(&fl.strict, "strict", false, "Fail on the first subcrate that cannot be resolved")
	f.IntVar(&fl.parallel, "parallel", 0, "Resolve up to N siblings at once")
	f.IntVar(&fl.maxDepth, "max-depth", 0, "Stop below this depth (0 = unlimited)")
	f.DurationVar(&fl.timeout, "timeout", 0, "Per-request HTTP timeout")
	f.StringVar(&fl.base, "base", "", "Resolve relative locators of the top-level crate against this directory or URL")
	f.StringVarP(&fl.output, "output", "o", "table", "Output: table, markdown or json")
	f.StringVar(&fl.bundle, "bundle", "", "Also write the resolved documents to this bundle file (needs a store)")
	return cmd
}

func runSubcrates(cmd *cobra.Command, a *app, fl *subcratesFlags, target string) error {
	ctx := cmd.Context()
	flags := cmd.Flags()

	req := model.SubcrateRequest{
		Crate:      model.CrateRef{Locator: target},
		Compliance: model.CompliancePermissive,
		Recursive:  a.cfg.Collect.Recursive,
		Base:       fl.base,
		Parallel:   a.cfg.Collect.Parallel,
		MaxDepth:   a.cfg.Collect.MaxDepth,
	}
	if a.cfg.Mode() == compliance.Strict || fl.strict {
		req.Compliance = model.ComplianceStrict
	}
	if flags.Changed("recursive") {
		req.Recursive = fl.recursive
	}
	if flags.Changed("parallel") {
		req.Parallel = fl.parallel
	}
	if flags.Changed("max-depth") {
		req.MaxDepth = fl.maxDepth
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	var extra []fetch.Option
	if flags.Changed("timeout") {
		extra = append(extra, fetch.WithTimeout(fl.timeout))
	}
	resp, err := model.FetchSubcrates(ctx, req, model.FetchOptions{
		Resolver: a.fetcher(store, extra...),
		Logger:   logging.New("subcrate"),
	})
	if err != nil {
		return err
	}
	if fl.bundle != "" {
		if store == nil {
			return errNoStore
		}
		if err := writeBundle(ctx, store, fl.bundle, nil, bundleLabels(resp)); err != nil {
			return fmt.Errorf("write bundle: %w", err)
		}
	}
	return printSubcrates(cmd, resp, fl.output)
}

func printSubcrates(cmd *cobra.Command, resp *model.SubcrateResponse, output string) error {
	out := cmd.OutOrStdout()
	if output == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	mode, err := format.ParseMode(output)
	if err != nil {
		return err
	}
	tb := format.NewTable(mode)
	tb.Header("#", "Depth", "Name", "Strategy", "Locator", "CID")
	for i, s := range resp.Subcrates {
		tb.Row(i+1, s.Depth, s.Name, s.Strategy, s.Locator, s.CID)
	}
	tb.AlignRight(1, 2)
	_, err = fmt.Fprintln(out, tb.String())
	return err
}

// bundleLabels maps each stored subcrate's locator to its CID.
func bundleLabels(resp *model.SubcrateResponse) map[string]cid.Cid {
	labels := map[string]cid.Cid{}
	for _, s := range resp.Subcrates {
		if s.CID == "" {
			continue
		}
		if id, err := cid.Decode(s.CID); err == nil {
			labels[s.Locator] = id
		}
	}
	return labels
}
