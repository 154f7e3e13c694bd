// Package fetch resolves subcrate locators into parsed crates.
//
// Local locators are read from disk. Remote locators go through an ordered
// chain of strategies (direct fetch, archive fallback, signposting, content
// negotiation, location guessing); the first strategy that yields a crate
// wins and the failures of the others are kept as diagnostics.
package fetch

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ipfs/go-cid"

	"rocrate.dev/rocrate/archive"
	"rocrate.dev/rocrate/checksum"
	"rocrate.dev/rocrate/locator"
	"rocrate.dev/rocrate/rocrate"
	"rocrate.dev/rocrate/storage"
)

const (
	DefaultTimeout      = 30 * time.Second
	DefaultUserAgent    = "rocrate-fetch/1"
	DefaultMaxBodyBytes = 256 << 20
)

// Strategy names the route by which a crate was obtained.
type Strategy string

const (
	StrategyLocal       Strategy = "local"
	StrategyDirect      Strategy = "direct"
	StrategyArchive     Strategy = "archive"
	StrategySignposting Strategy = "signposting"
	StrategyNegotiation Strategy = "negotiation"
	StrategyGuess       Strategy = "guess"
)

// Result is a successfully resolved crate.
type Result struct {
	Crate *rocrate.Crate

	// Locator is the identifier that was resolved.
	Locator string
	// Source is the URL or file path the metadata was finally read from.
	Source string
	// Entry names the archive member holding the metadata, if any.
	Entry    string
	Strategy Strategy

	// Raw is the metadata document as received.
	Raw []byte
	// CID identifies Raw; see checksum.ContentID.
	CID cid.Cid
}

// Fetcher resolves locators. The zero value is not usable; call New.
// A Fetcher is safe for concurrent use.
type Fetcher struct {
	client    *http.Client
	timeout   time.Duration
	userAgent string
	maxBody   int64
	logger    *slog.Logger
	store     storage.CAS
}

type Option func(*Fetcher)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		if c != nil {
			f.client = c
		}
	}
}

// WithTimeout bounds each HTTP request. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) { f.timeout = d }
}

func WithUserAgent(ua string) Option {
	return func(f *Fetcher) { f.userAgent = ua }
}

// WithMaxBodyBytes caps response bodies. Zero or negative means no cap.
func WithMaxBodyBytes(n int64) Option {
	return func(f *Fetcher) { f.maxBody = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithStore persists the metadata of every resolved crate.
func WithStore(s storage.CAS) Option {
	return func(f *Fetcher) { f.store = s }
}

func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:    &http.Client{},
		timeout:   DefaultTimeout,
		userAgent: DefaultUserAgent,
		maxBody:   DefaultMaxBodyBytes,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Resolve dispatches on the locator's classification.
func (f *Fetcher) Resolve(ctx context.Context, loc string) (*Result, error) {
	switch locator.Classify(loc) {
	case locator.Remote:
		return f.ResolveRemote(ctx, loc)
	case locator.Local:
		return f.ResolveLocal(ctx, loc)
	default:
		return nil, newError(KindInvalidIdentifier, loc, "cannot resolve identifier")
	}
}

// ResolveLocal reads a crate from the filesystem. A path ending in a
// separator, or naming a directory, refers to the metadata document inside
// it. A ZIP file is searched like a downloaded archive.
func (f *Fetcher) ResolveLocal(ctx context.Context, loc string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrapError(KindIO, loc, "resolution cancelled", err)
	}
	p := locator.FilePath(loc)
	if p == "" {
		return nil, newError(KindInvalidIdentifier, loc, "empty path")
	}
	if strings.HasSuffix(p, "/") || strings.HasSuffix(p, string(filepath.Separator)) {
		p = filepath.Join(p, rocrate.MetadataFile)
	} else if fi, err := os.Stat(p); err == nil && fi.IsDir() {
		p = filepath.Join(p, rocrate.MetadataFile)
	}

	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, wrapError(KindNotFound, loc, "could not retrieve subcrate", err)
		}
		return nil, wrapError(KindIO, loc, "read crate metadata", err)
	}

	res := &Result{Locator: loc, Source: p, Strategy: StrategyLocal}
	if archive.IsZip(data) {
		ex, err := extractArchive(loc, data, f.maxBody)
		if err != nil {
			return nil, err
		}
		res.Crate, res.Raw, res.Entry = ex.crate, ex.raw, ex.entry
	} else {
		c, err := rocrate.Parse(data)
		if err != nil {
			return nil, wrapError(KindParse, loc, "parse crate metadata", err)
		}
		res.Crate, res.Raw = c, data
	}
	return f.finish(ctx, res)
}

// finish fills in the content id and persists the metadata when a store is
// configured. Store failures are logged, not returned.
func (f *Fetcher) finish(ctx context.Context, res *Result) (*Result, error) {
	id, err := checksum.ContentID(res.Raw)
	if err == nil {
		res.CID = id
	}
	if f.store != nil {
		if _, err := f.store.Put(ctx, res.Raw); err != nil {
			level := slog.LevelWarn
			if storage.IsCorrupt(err) {
				level = slog.LevelError
			}
			f.logger.Log(ctx, level, "store crate metadata failed", "locator", res.Locator, "error", err)
		}
	}
	f.logger.DebugContext(ctx, "resolved crate", "locator", res.Locator, "source", res.Source, "strategy", string(res.Strategy))
	return res, nil
}

type response struct {
	URL    string
	Status int
	Header http.Header
	Body   []byte
}

func (r *response) ok() bool { return r.Status >= 200 && r.Status < 300 }

func (r *response) zipTyped() bool {
	return strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/zip")
}

// get performs one GET and reads the whole body.
func (f *Fetcher) get(ctx context.Context, target, accept string) (*response, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, wrapError(KindInvalidIdentifier, target, "build request", err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, wrapError(KindTransport, target, "request failed", err)
	}
	defer resp.Body.Close()

	var body io.Reader = resp.Body
	if f.maxBody > 0 {
		body = io.LimitReader(resp.Body, f.maxBody+1)
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return nil, wrapError(KindTransport, target, "read response body", err)
	}
	if f.maxBody > 0 && int64(len(b)) > f.maxBody {
		return nil, newError(KindTransport, target, "response body too large")
	}

	final := target
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL.String()
	}
	f.logger.DebugContext(ctx, "http get", "url", target, "accept", accept, "status", resp.StatusCode, "final_url", final)
	return &response{URL: final, Status: resp.StatusCode, Header: resp.Header, Body: b}, nil
}
