// Package checksum computes and verifies the digests used by BagIt manifests
// and derives content identifiers for fetched crate metadata.
package checksum

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// Algorithm names a supported digest, spelled the way BagIt manifest file
// names spell it (manifest-<algorithm>.txt).
type Algorithm string

const (
	MD5    Algorithm = "md5"
	SHA1   Algorithm = "sha1"
	SHA256 Algorithm = "sha256"
	SHA512 Algorithm = "sha512"
)

var ErrUnsupportedAlgorithm = errors.New("checksum: unsupported algorithm")

var codes = map[Algorithm]uint64{
	MD5:    multihash.MD5,
	SHA1:   multihash.SHA1,
	SHA256: multihash.SHA2_256,
	SHA512: multihash.SHA2_512,
}

// Algorithms returns the supported algorithms, strongest first.
func Algorithms() []Algorithm {
	return []Algorithm{SHA512, SHA256, SHA1, MD5}
}

// ParseAlgorithm normalizes an algorithm name. Names are case-insensitive.
func ParseAlgorithm(name string) (Algorithm, error) {
	a := Algorithm(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := codes[a]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, name)
	}
	return a, nil
}

// Compute returns the lowercase hex digest of data.
func Compute(data []byte, algorithm string) (string, error) {
	a, err := ParseAlgorithm(algorithm)
	if err != nil {
		return "", err
	}
	sum, err := multihash.Sum(data, codes[a], -1)
	if err != nil {
		return "", err
	}
	dec, err := multihash.Decode(sum)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(dec.Digest), nil
}

// MismatchError reports a digest that disagrees with its expected value.
type MismatchError struct {
	Path      string
	Algorithm string
	Expected  string
	Actual    string
}

func (e *MismatchError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("checksum mismatch for %s (%s): expected %s, got %s", e.Path, e.Algorithm, e.Expected, e.Actual)
}

// Verify computes the digest of data and compares it to expected,
// case-insensitively. path is only used to label a *MismatchError.
func Verify(path string, data []byte, expected, algorithm string) error {
	actual, err := Compute(data, algorithm)
	if err != nil {
		return err
	}
	if !strings.EqualFold(actual, strings.TrimSpace(expected)) {
		return &MismatchError{
			Path:      path,
			Algorithm: strings.ToLower(algorithm),
			Expected:  strings.ToLower(strings.TrimSpace(expected)),
			Actual:    actual,
		}
	}
	return nil
}

// IsMismatch reports whether err is (or wraps) a *MismatchError.
func IsMismatch(err error) bool {
	var m *MismatchError
	return errors.As(err, &m)
}

// ContentID returns a CIDv1 using the "raw" multicodec and a sha2-256
// multihash of data. Stored crate metadata is keyed by it.
func ContentID(data []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}
