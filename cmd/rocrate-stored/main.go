// Command rocrate-stored serves a crate metadata store over gRPC so several
// rocrate clients can share one cache.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"
	"google.golang.org/grpc"

	"rocrate.dev/rocrate/config"
	"rocrate.dev/rocrate/internal/logging"
	"rocrate.dev/rocrate/storage"
	"rocrate.dev/rocrate/storage/grpccas"
	"rocrate.dev/rocrate/storage/localfs"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, errOut io.Writer) int {
	fs := flag.NewFlagSet("rocrate-stored", flag.ContinueOnError)
	fs.SetOutput(errOut)
	listen := fs.String("listen", "127.0.0.1:7777", "listen address")
	dir := fs.String("dir", "", "serve a localfs store rooted here")
	cfgPath := fs.String("config", "", "serve the store backends of this rocrate config instead of --dir")
	level := fs.String("log-level", "info", "log level")
	format := fs.String("log-format", "text", "log format: text or json")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	logger, err := logging.Init(errOut, *level, *format)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cas, closeFn, err := openStore(ctx, *dir, *cfgPath)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	defer closeFn()

	lis, err := net.Listen("tcp", *listen)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}

	s := grpc.NewServer()
	grpccas.RegisterStoreServer(s, &grpccas.Server{CAS: cas, Logger: logging.New("stored")})

	go func() {
		<-ctx.Done()
		s.GracefulStop()
	}()

	logger.Info("listening", "addr", lis.Addr().String())
	if err := s.Serve(lis); err != nil {
		logger.Error("serve failed", "error", err)
		return 1
	}
	return 0
}

func openStore(ctx context.Context, dir, cfgPath string) (storage.CAS, func() error, error) {
	switch {
	case cfgPath != "" && dir != "":
		return nil, nil, fmt.Errorf("--dir and --config are mutually exclusive")
	case cfgPath != "":
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return nil, nil, err
		}
		if len(cfg.Store.Backends) == 0 {
			return nil, nil, fmt.Errorf("%s configures no store backends", cfgPath)
		}
		return cfg.Store.Open(ctx, "")
	case dir != "":
		cas, err := localfs.New(dir)
		if err != nil {
			return nil, nil, err
		}
		slog.Debug("serving localfs store", "dir", cas.Root())
		return cas, func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("one of --dir or --config is required")
	}
}
