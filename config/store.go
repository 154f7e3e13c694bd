package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"rocrate.dev/rocrate/storage"
	"rocrate.dev/rocrate/storage/grpccas"
	"rocrate.dev/rocrate/storage/ipfs"
	"rocrate.dev/rocrate/storage/localfs"
)

// StoreConfig describes where fetched crate metadata is kept.
//
// WritePolicy values:
// - "first" (default): write only to the first backend; reads fall back in order
// - "all": write to all backends and require CID equality (see storage.ReplicatingCAS)
//
// Example:
//
//	store:
//	  write_policy: all
//	  backends:
//	    - name: localfs
//	      dir: /var/cache/rocrate
//	    - name: grpc
//	      id: shared
//	      target: store.internal:7070
//	      timeout: 5s
type StoreConfig struct {
	WritePolicy string          `mapstructure:"write_policy" yaml:"write_policy"`
	Backends    []BackendConfig `mapstructure:"backends" yaml:"backends,omitempty"`
}

type BackendConfig struct {
	// Name selects the backend kind: "localfs", "grpc" or "ipfs".
	Name string `mapstructure:"name" yaml:"name"`
	// ID is an optional stable alias used in logs and per-backend CID maps.
	// If empty, Name is used.
	ID      string        `mapstructure:"id" yaml:"id,omitempty"`
	Dir     string        `mapstructure:"dir" yaml:"dir,omitempty"`
	Target  string        `mapstructure:"target" yaml:"target,omitempty"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout,omitempty"`
	// Bin and Repo configure the ipfs backend: the Kubo binary and the
	// IPFS_PATH it runs against.
	Bin  string `mapstructure:"bin" yaml:"bin,omitempty"`
	Repo string `mapstructure:"repo" yaml:"repo,omitempty"`
}

func (b BackendConfig) id() string {
	if b.ID != "" {
		return b.ID
	}
	return b.Name
}

func (c StoreConfig) Validate() error {
	if len(c.Backends) == 0 {
		return errors.New("config: at least one store backend is required")
	}
	seen := make(map[string]struct{}, len(c.Backends))
	for _, b := range c.Backends {
		switch b.Name {
		case "localfs":
			if strings.TrimSpace(b.Dir) == "" {
				return fmt.Errorf("config: store backend %q needs dir", b.id())
			}
		case "grpc":
			if strings.TrimSpace(b.Target) == "" {
				return fmt.Errorf("config: store backend %q needs target", b.id())
			}
		case "ipfs":
		case "":
			return errors.New("config: store backend name is required")
		default:
			return fmt.Errorf("config: unknown store backend %q", b.Name)
		}
		if _, ok := seen[b.id()]; ok {
			return fmt.Errorf("config: duplicate store backend id %q", b.id())
		}
		seen[b.id()] = struct{}{}
	}
	switch c.WritePolicy {
	case "", "first", "all":
		return nil
	default:
		return fmt.Errorf("config: invalid store.write_policy %q", c.WritePolicy)
	}
}

// Open opens the configured backends and combines them per WritePolicy.
//
// If preferred is non-empty, the backend with that name or id is moved to
// the front (and thus used for writes when WritePolicy is "first"). The
// returned close function releases every backend in reverse order.
func (c StoreConfig) Open(ctx context.Context, preferred string) (storage.CAS, func() error, error) {
	if err := c.Validate(); err != nil {
		return nil, nil, err
	}

	ordered := append([]BackendConfig(nil), c.Backends...)
	if preferred != "" {
		idx := -1
		for i := range ordered {
			if ordered[i].Name == preferred || ordered[i].ID == preferred {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, nil, fmt.Errorf("config: preferred store backend %q not configured", preferred)
		}
		if idx != 0 {
			b := ordered[idx]
			copy(ordered[1:idx+1], ordered[0:idx])
			ordered[0] = b
		}
	}

	named := make([]storage.NamedCAS, 0, len(ordered))
	closers := make([]func() error, 0, len(ordered))
	closeAll := func() error {
		var firstErr error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}

	for _, b := range ordered {
		if err := ctx.Err(); err != nil {
			_ = closeAll()
			return nil, nil, err
		}
		cas, closeFn, err := openBackend(b)
		if err != nil {
			_ = closeAll()
			return nil, nil, fmt.Errorf("config: open store backend %q: %w", b.id(), err)
		}
		named = append(named, storage.NamedCAS{Name: b.id(), CAS: cas})
		if closeFn != nil {
			closers = append(closers, closeFn)
		}
	}

	if len(named) == 1 {
		return named[0].CAS, closeAll, nil
	}
	if c.WritePolicy == "all" {
		return storage.ReplicatingCAS{Backends: named}, closeAll, nil
	}
	adapters := make([]storage.CAS, 0, len(named))
	for _, n := range named {
		adapters = append(adapters, n.CAS)
	}
	return storage.MultiCAS{Adapters: adapters}, closeAll, nil
}

func openBackend(b BackendConfig) (storage.CAS, func() error, error) {
	switch b.Name {
	case "localfs":
		cas, err := localfs.New(b.Dir)
		return cas, nil, err
	case "grpc":
		client, err := grpccas.Dial(b.Target, grpccas.DialOptions{Timeout: b.Timeout})
		if err != nil {
			return nil, nil, err
		}
		return client, client.Close, nil
	case "ipfs":
		return ipfs.New(ipfs.Options{Bin: b.Bin, Repo: b.Repo}), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", b.Name)
	}
}
