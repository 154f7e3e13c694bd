package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"rocrate.dev/rocrate/archive"
	"rocrate.dev/rocrate/bagit"
)

func newBagitCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bagit",
		Short: "Inspect BagIt bags",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate <zip|dir>",
		Short: "Verify a bag's declaration, completeness and checksums",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bag, err := openBag(args[0])
			if err != nil {
				return err
			}
			defer bag.Close()

			if err := bag.Validate(); err != nil {
				return fmt.Errorf("invalid bag %s: %w", args[0], err)
			}
			complete, err := bag.IsComplete()
			if err != nil {
				return err
			}
			if !complete {
				return fmt.Errorf("incomplete bag %s: manifests and payload disagree", args[0])
			}
			decl, err := bag.Declaration()
			if err != nil {
				return err
			}
			payload := 0
			for _, n := range bag.Names() {
				if bagit.IsPayload(n) {
					payload++
				}
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "valid BagIt %s bag: %d payload files, manifests: %s\n",
				decl.Version, payload, strings.Join(bag.ManifestAlgorithms(), ", "))
			return err
		},
	})
	return cmd
}

// openBag opens a bag from a directory or a ZIP file.
func openBag(path string) (*bagit.Bag, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if fi.IsDir() {
		return bagit.OpenDir(path)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	z, err := archive.Open(b)
	if err != nil {
		return nil, err
	}
	return bagit.FromArchive(z), nil
}
