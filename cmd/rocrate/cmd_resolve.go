package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"rocrate.dev/rocrate/internal/format"
)

func newResolveCmd(a *app) *cobra.Command {
	var raw bool
	var output string
	cmd := &cobra.Command{
		Use:   "resolve <locator>",
		Short: "Resolve a single locator and report how it was found",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, closeStore, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			res, err := a.fetcher(store).Resolve(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if raw {
				_, err := out.Write(res.Raw)
				return err
			}
			mode, err := format.ParseMode(output)
			if err != nil {
				return err
			}
			tb := format.NewTable(mode)
			tb.Header("Field", "Value")
			tb.Row("name", res.Crate.Name())
			tb.Row("locator", res.Locator)
			tb.Row("source", res.Source)
			if res.Entry != "" {
				tb.Row("entry", res.Entry)
			}
			tb.Row("strategy", res.Strategy)
			tb.Row("entities", len(res.Crate.Graph))
			if res.CID.Defined() {
				tb.Row("cid", res.CID.String())
			}
			_, err = fmt.Fprintln(out, tb.String())
			return err
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "Print the metadata document instead of a summary")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output: table or markdown")
	return cmd
}
