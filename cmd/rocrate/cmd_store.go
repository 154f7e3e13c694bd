package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ipfs/go-cid"
	"github.com/spf13/cobra"

	"rocrate.dev/rocrate/storage"
	"rocrate.dev/rocrate/storage/bundle"
)

var errNoStore = errors.New("no store backends configured")

func newStoreCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Read and write the crate metadata store",
	}
	cmd.AddCommand(
		newStoreExportCmd(a),
		newStoreImportCmd(a),
		&cobra.Command{
			Use:   "get <cid>",
			Short: "Print a stored metadata document",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := cid.Decode(args[0])
				if err != nil {
					return fmt.Errorf("invalid cid %q: %w", args[0], err)
				}
				ctx := cmd.Context()
				store, closeStore, err := a.openStore(ctx)
				if err != nil {
					return err
				}
				defer closeStore()
				if store == nil {
					return errNoStore
				}
				b, err := store.Get(ctx, id)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(b)
				return err
			},
		},
		&cobra.Command{
			Use:   "put <file>",
			Short: "Store a file and print its CID",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := os.ReadFile(args[0])
				if err != nil {
					return err
				}
				ctx := cmd.Context()
				store, closeStore, err := a.openStore(ctx)
				if err != nil {
					return err
				}
				defer closeStore()
				if store == nil {
					return errNoStore
				}
				id, err := store.Put(ctx, data)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), id.String())
				return err
			},
		},
	)
	return cmd
}

func newStoreExportCmd(a *app) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export <cid>...",
		Short: "Write stored documents to a bundle file",
		Long:  "Writes the given documents to a TAR bundle; a .zst suffix compresses it.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]cid.Cid, 0, len(args))
			for _, s := range args {
				id, err := cid.Decode(s)
				if err != nil {
					return fmt.Errorf("invalid cid %q: %w", s, err)
				}
				ids = append(ids, id)
			}
			return a.exportBundle(cmd.Context(), out, ids, nil)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Bundle file to write")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func newStoreImportCmd(a *app) *cobra.Command {
	var ignoreUnknown bool
	cmd := &cobra.Command{
		Use:   "import <bundle>",
		Short: "Load a bundle file into the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, closeStore, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore()
			if store == nil {
				return errNoStore
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			idx, err := bundle.Import(ctx, f, store, bundle.ImportOptions{IgnoreUnknown: ignoreUnknown})
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, id := range idx.Blocks {
				fmt.Fprintln(w, id.String())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&ignoreUnknown, "ignore-unknown", false, "Skip entries that are not documents")
	return cmd
}

// exportBundle writes ids and labels from the configured store to path.
func (a *app) exportBundle(ctx context.Context, path string, ids []cid.Cid, labels map[string]cid.Cid) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()
	if store == nil {
		return errNoStore
	}
	return writeBundle(ctx, store, path, ids, labels)
}

func writeBundle(ctx context.Context, store storage.CAS, path string, ids []cid.Cid, labels map[string]cid.Cid) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return bundle.Export(ctx, f, store, ids, bundle.ExportOptions{
		Labels:       labels,
		IncludeIndex: true,
		Compress:     strings.HasSuffix(path, ".zst"),
	})
}
