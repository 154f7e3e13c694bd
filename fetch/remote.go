package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"rocrate.dev/rocrate/archive"
	"rocrate.dev/rocrate/rocrate"
)

const (
	AcceptCrate = "application/ld+json;profile=" + rocrate.Profile
	AcceptZip   = "application/zip;profile=" + rocrate.Profile
)

// strategy is one step of the remote chain.
type strategy struct {
	name Strategy
	run  func(r *remoteRun, ctx context.Context) (*Result, error)
}

// remoteChain is consulted in slice order; the first success wins.
var remoteChain = []strategy{
	{StrategyDirect, (*remoteRun).fetchDirect},
	{StrategyArchive, (*remoteRun).archiveFallback},
	{StrategySignposting, (*remoteRun).signposting},
	{StrategyNegotiation, (*remoteRun).negotiate},
	{StrategyGuess, (*remoteRun).guess},
}

// remoteRun holds the state shared by the strategies of one resolution.
// The direct response is fetched once and reused by later strategies.
type remoteRun struct {
	f       *Fetcher
	locator string
	direct  *response
	fetched map[string]struct{}
}

// ResolveRemote resolves an http(s) locator through the strategy chain.
// A checksum mismatch stops the chain; any other failure moves on to the
// next strategy. When every strategy fails the error is KindNotFound and
// lists the attempts.
func (f *Fetcher) ResolveRemote(ctx context.Context, rawURL string) (*Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, wrapError(KindInvalidIdentifier, rawURL, "not an http(s) url", err)
	}

	run := &remoteRun{f: f, locator: rawURL, fetched: map[string]struct{}{}}
	var attempts []Attempt
	for _, s := range remoteChain {
		res, err := s.run(run, ctx)
		if err == nil {
			res.Locator = rawURL
			res.Strategy = s.name
			return f.finish(ctx, res)
		}
		if errors.Is(err, errSkipped) {
			continue
		}
		if IsKind(err, KindChecksumMismatch) {
			return nil, err
		}
		if cerr := ctx.Err(); cerr != nil {
			return nil, wrapError(KindTransport, rawURL, "resolution cancelled", cerr)
		}
		f.logger.DebugContext(ctx, "strategy failed", "locator", rawURL, "strategy", string(s.name), "error", err)
		attempts = append(attempts, Attempt{Strategy: s.name, Err: err})
	}

	causes := make([]error, 0, len(attempts))
	for _, a := range attempts {
		causes = append(causes, fmt.Errorf("%s: %w", a.Strategy, a.Err))
	}
	return nil, &Error{
		Kind:     KindNotFound,
		Locator:  rawURL,
		Message:  "could not retrieve subcrate",
		Cause:    errors.Join(causes...),
		Attempts: attempts,
	}
}

func (r *remoteRun) get(ctx context.Context, target, accept string) (*response, error) {
	resp, err := r.f.get(ctx, target, accept)
	if err != nil {
		return nil, err
	}
	r.fetched[target] = struct{}{}
	r.fetched[resp.URL] = struct{}{}
	return resp, nil
}

func statusError(resp *response) error {
	return newError(KindTransport, resp.URL, fmt.Sprintf("unexpected status %d", resp.Status))
}

// decode turns a successful response into a crate: ZIP-typed bodies go
// through archive extraction, others are parsed, and a body that fails to
// parse but sniffs as ZIP is extracted after all.
func (r *remoteRun) decode(resp *response) (*Result, error) {
	if resp.zipTyped() {
		return r.fromArchive(resp)
	}
	c, err := rocrate.Parse(resp.Body)
	if err == nil {
		return &Result{Crate: c, Source: resp.URL, Raw: resp.Body}, nil
	}
	if archive.IsZip(resp.Body) {
		return r.fromArchive(resp)
	}
	return nil, wrapError(KindParse, resp.URL, "parse crate metadata", err)
}

func (r *remoteRun) fromArchive(resp *response) (*Result, error) {
	ex, err := extractArchive(resp.URL, resp.Body, r.f.maxBody)
	if err != nil {
		return nil, err
	}
	return &Result{Crate: ex.crate, Source: resp.URL, Entry: ex.entry, Raw: ex.raw}, nil
}

// fetchDirect GETs the locator and parses the body as crate metadata.
func (r *remoteRun) fetchDirect(ctx context.Context) (*Result, error) {
	resp, err := r.get(ctx, r.locator, "")
	if err != nil {
		return nil, err
	}
	r.direct = resp
	if !resp.ok() {
		return nil, statusError(resp)
	}
	if resp.zipTyped() {
		return nil, newError(KindParse, resp.URL, "response is a zip archive")
	}
	c, err := rocrate.Parse(resp.Body)
	if err != nil {
		return nil, wrapError(KindParse, resp.URL, "parse crate metadata", err)
	}
	return &Result{Crate: c, Source: resp.URL, Raw: resp.Body}, nil
}

// archiveFallback reads the direct response body as a ZIP archive.
func (r *remoteRun) archiveFallback(ctx context.Context) (*Result, error) {
	resp := r.direct
	if resp == nil || !resp.ok() {
		return nil, errSkipped
	}
	if !resp.zipTyped() && !archive.IsZip(resp.Body) {
		return nil, newError(KindParse, resp.URL, "response is not a zip archive")
	}
	return r.fromArchive(resp)
}

// signposting follows the crate link advertised in the direct response's
// Link headers.
func (r *remoteRun) signposting(ctx context.Context) (*Result, error) {
	if r.direct == nil {
		return nil, errSkipped
	}
	values := r.direct.Header.Values("Link")
	if len(values) == 0 {
		return nil, newError(KindNotFound, r.direct.URL, "no Link header")
	}
	for _, v := range values {
		if !utf8.ValidString(v) {
			return nil, newError(KindHeaderDecoding, r.direct.URL, "Link header is not valid UTF-8")
		}
	}
	link, ok := SelectCrateLink(ParseLinkHeader(values...))
	if !ok {
		return nil, newError(KindNotFound, r.direct.URL, "no crate link advertised")
	}
	target, err := resolveAgainst(r.direct.URL, link.URL)
	if err != nil {
		return nil, wrapError(KindInvalidIdentifier, link.URL, "invalid link target", err)
	}
	resp, err := r.get(ctx, target, "")
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, statusError(resp)
	}
	return r.decode(resp)
}

// negotiate asks for crate metadata via the Accept header and retries with
// the zip profile when the server cannot satisfy it.
func (r *remoteRun) negotiate(ctx context.Context) (*Result, error) {
	resp, err := r.get(ctx, r.locator, AcceptCrate)
	if err != nil {
		return nil, err
	}
	switch resp.Status {
	case http.StatusMultipleChoices, http.StatusNotAcceptable, http.StatusUnsupportedMediaType:
		resp, err = r.get(ctx, r.locator, AcceptZip)
		if err != nil {
			return nil, err
		}
	}
	if !resp.ok() {
		return nil, statusError(resp)
	}
	return r.decode(resp)
}

// guess looks for the metadata document next to the page the locator
// redirected to.
func (r *remoteRun) guess(ctx context.Context) (*Result, error) {
	from := r.locator
	if r.direct != nil {
		from = r.direct.URL
	}
	target, err := GuessMetadataURL(from)
	if err != nil {
		return nil, wrapError(KindInvalidIdentifier, from, "cannot derive metadata location", err)
	}
	if _, seen := r.fetched[target]; seen {
		return nil, newError(KindNotFound, target, "guessed location already tried")
	}
	resp, err := r.get(ctx, target, "")
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, statusError(resp)
	}
	return r.decode(resp)
}

// GuessMetadataURL derives where a crate's metadata document probably
// lives from the URL of a landing page: inside it when the URL ends in '/',
// otherwise next to it.
func GuessMetadataURL(from string) (string, error) {
	u, err := url.Parse(from)
	if err != nil {
		return "", err
	}
	u.RawQuery, u.Fragment, u.RawFragment, u.RawPath = "", "", "", ""
	switch {
	case strings.HasSuffix(u.Path, "/"):
		u.Path += rocrate.MetadataFile
	case u.Path == "":
		u.Path = "/" + rocrate.MetadataFile
	default:
		u.Path = u.Path[:strings.LastIndex(u.Path, "/")+1] + rocrate.MetadataFile
	}
	return u.String(), nil
}

func resolveAgainst(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(r).String(), nil
}
