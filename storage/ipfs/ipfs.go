// Package ipfs stores crate metadata as raw blocks in a local IPFS repo by
// driving the Kubo "ipfs" CLI. No daemon is needed.
//
// Blocks are written as CIDv1 raw + sha2-256, the same CIDs checksum.ContentID
// produces, and every read is verified against the requested CID.
package ipfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/ipfs/go-cid"

	"rocrate.dev/rocrate/checksum"
	"rocrate.dev/rocrate/storage"
)

var _ storage.CAS = (*CAS)(nil)

type Options struct {
	// Bin is the path to the ipfs binary. If empty, "ipfs" is used.
	Bin string
	// Repo sets IPFS_PATH for every invocation. If empty, the process
	// environment decides.
	Repo string
}

type CAS struct {
	bin string
	env []string
	run func(ctx context.Context, stdin []byte, args ...string) ([]byte, error)
}

func New(opts Options) *CAS {
	c := &CAS{bin: opts.Bin}
	if c.bin == "" {
		c.bin = "ipfs"
	}
	if opts.Repo != "" {
		c.env = append(os.Environ(), "IPFS_PATH="+opts.Repo)
	}
	c.run = c.exec
	return c
}

func (c *CAS) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	id, err := checksum.ContentID(data)
	if err != nil {
		return cid.Undef, err
	}
	out, err := c.run(ctx, data,
		"block", "put",
		"--quiet",
		"--format=raw",
		"--mhtype=sha2-256",
		"--mhlen=32",
		"--cid-version=1",
		"/dev/stdin",
	)
	if err != nil {
		return cid.Undef, err
	}
	got, err := cid.Decode(strings.TrimSpace(string(out)))
	if err != nil {
		return cid.Undef, fmt.Errorf("ipfs: unexpected block put output: %w", err)
	}
	if !got.Equals(id) {
		return cid.Undef, storage.ErrCIDMismatch
	}
	return id, nil
}

func (c *CAS) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, storage.ErrInvalidCID
	}
	out, err := c.run(ctx, nil, "block", "get", id.String())
	if err != nil {
		if isNotFound(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	got, err := checksum.ContentID(out)
	if err != nil {
		return nil, err
	}
	if !got.Equals(id) {
		return nil, storage.ErrCIDMismatch
	}
	return out, nil
}

func (c *CAS) Has(ctx context.Context, id cid.Cid) bool {
	if !id.Defined() {
		return false
	}
	_, err := c.run(ctx, nil, "block", "stat", "--offline", id.String())
	return err == nil
}

func (c *CAS) exec(ctx context.Context, stdin []byte, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.bin, args...)
	if c.env != nil {
		cmd.Env = c.env
	}
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	out, err := cmd.Output()
	if err == nil {
		return out, nil
	}
	if cerr := ctx.Err(); cerr != nil {
		return nil, cerr
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		if s := strings.TrimSpace(string(ee.Stderr)); s != "" {
			return nil, fmt.Errorf("ipfs: %s", s)
		}
	}
	return nil, fmt.Errorf("ipfs: %w", err)
}

func isNotFound(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "not found")
}
