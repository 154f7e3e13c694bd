package main

import (
	"context"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"rocrate.dev/rocrate/config"
	"rocrate.dev/rocrate/fetch"
	"rocrate.dev/rocrate/internal/logging"
	"rocrate.dev/rocrate/storage"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	out, errOut io.Writer

	configPath string
	logLevel   string
	logFormat  string

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "rocrate",
		Short: "Resolve and inspect RO-Crate subcrates",
		Long: "rocrate finds the nested crates an RO-Crate declares and fetches them\n" +
			"from local paths, URLs, ZIP archives and BagIt bags.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&a.configPath, "config", "", "YAML config file")
	f.StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	f.StringVar(&a.logFormat, "log-format", "", "Log format: text or json (overrides config)")

	root.AddCommand(
		newSubcratesCmd(a),
		newResolveCmd(a),
		newBagitCmd(a),
		newChecksumCmd(a),
		newStoreCmd(a),
		newConfigCmd(a),
	)
	return root
}

func (a *app) setup() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Log.Format = a.logFormat
	}
	logger, err := logging.Init(a.errOut, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	a.cfg, a.logger = cfg, logger
	return nil
}

// openStore opens the configured store, or returns nil when none is
// configured.
func (a *app) openStore(ctx context.Context) (storage.CAS, func() error, error) {
	if len(a.cfg.Store.Backends) == 0 {
		return nil, func() error { return nil }, nil
	}
	return a.cfg.Store.Open(ctx, "")
}

func (a *app) fetcher(store storage.CAS, extra ...fetch.Option) *fetch.Fetcher {
	opts := a.cfg.FetchOptions(logging.New("fetch"), store)
	return fetch.New(append(opts, extra...)...)
}
