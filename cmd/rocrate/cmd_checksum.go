package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"rocrate.dev/rocrate/checksum"
)

func newChecksumCmd(a *app) *cobra.Command {
	var expect string
	cmd := &cobra.Command{
		Use:   "checksum <md5|sha1|sha256|sha512> <file>",
		Short: "Print or verify a file digest",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			alg, err := checksum.ParseAlgorithm(args[0])
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			if expect != "" {
				if err := checksum.Verify(args[1], data, expect, string(alg)); err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: OK\n", args[1])
				return err
			}
			sum, err := checksum.Compute(data, string(alg))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", sum, args[1])
			return err
		},
	}
	cmd.Flags().StringVar(&expect, "expect", "", "Verify against this hex digest instead of printing")
	return cmd
}
