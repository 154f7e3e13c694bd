package fetch

import (
	"errors"
	"strings"

	"rocrate.dev/rocrate/archive"
	"rocrate.dev/rocrate/bagit"
	"rocrate.dev/rocrate/checksum"
	"rocrate.dev/rocrate/rocrate"
)

const bagMetadataPath = bagit.PayloadDir + rocrate.MetadataFile

// Manifest algorithms consulted for the bagged metadata document, in order.
var bagAlgorithms = []string{string(checksum.SHA512), string(checksum.SHA256)}

type extracted struct {
	crate *rocrate.Crate
	raw   []byte
	entry string
}

// extractArchive finds crate metadata inside a ZIP archive: a root
// metadata document first, then a BagIt payload, then any entry whose name
// contains "metadata.json". No entry may inflate beyond maxEntry bytes.
func extractArchive(loc string, body []byte, maxEntry int64) (*extracted, error) {
	a, err := archive.OpenLimited(body, maxEntry)
	if err != nil {
		return nil, wrapError(KindParse, loc, "open archive", err)
	}
	defer a.Close()

	if a.Has(rocrate.MetadataFile) {
		return readEntry(loc, a, rocrate.MetadataFile)
	}

	if a.Has(bagit.DeclarationFile) {
		ex, err := extractBag(loc, bagit.FromArchive(a))
		if err == nil || !errors.Is(err, errNoBagMetadata) {
			return ex, err
		}
	}

	name, ok := a.Find(func(n string) bool { return strings.Contains(n, "metadata.json") })
	if !ok {
		return nil, newError(KindNotFound, loc, "archive holds no crate metadata")
	}
	return readEntry(loc, a, name)
}

func readEntry(loc string, a *archive.Archive, name string) (*extracted, error) {
	data, err := a.ReadFile(name)
	if errors.Is(err, archive.ErrEntryTooLarge) {
		return nil, wrapError(KindTransport, loc, "archive entry too large", err)
	}
	if err != nil {
		return nil, wrapError(KindIO, loc, "read archive entry "+name, err)
	}
	c, err := rocrate.Parse(data)
	if err != nil {
		return nil, wrapError(KindParse, loc, "parse archive entry "+name, err)
	}
	return &extracted{crate: c, raw: data, entry: name}, nil
}

var errNoBagMetadata = errors.New("fetch: bag has no payload metadata")

// extractBag reads data/ro-crate-metadata.json out of a bag and verifies it
// against the sha512 manifest, falling back to sha256 when sha512 is
// missing, unreadable, silent about the document or disagrees. An unlisted
// document is treated like a mismatch.
func extractBag(loc string, bag *bagit.Bag) (*extracted, error) {
	if !bag.Has(bagMetadataPath) {
		return nil, errNoBagMetadata
	}
	data, err := bag.ReadFile(bagMetadataPath)
	if errors.Is(err, archive.ErrEntryTooLarge) {
		return nil, wrapError(KindTransport, loc, "bag payload too large", err)
	}
	if err != nil {
		return nil, wrapError(KindIO, loc, "read bag payload", err)
	}

	if err := verifyBagged(bag, data); err != nil {
		if checksum.IsMismatch(err) {
			return nil, wrapError(KindChecksumMismatch, loc, "bag checksum mismatch", err)
		}
		return nil, wrapError(KindParse, loc, "read bag manifest", err)
	}

	c, err := rocrate.Parse(data)
	if err != nil {
		return nil, wrapError(KindParse, loc, "parse bag payload", err)
	}
	return &extracted{crate: c, raw: data, entry: bagMetadataPath}, nil
}

func verifyBagged(bag *bagit.Bag, data []byte) error {
	var mismatch, unreadable error
	for _, alg := range bagAlgorithms {
		entry, err := bag.Lookup(alg, bagMetadataPath, rocrate.MetadataFile)
		if errors.Is(err, bagit.ErrNotListed) {
			continue
		}
		if err != nil {
			if unreadable == nil {
				unreadable = err
			}
			continue
		}
		err = checksum.Verify(bagMetadataPath, data, entry.Checksum, alg)
		if err == nil {
			return nil
		}
		if !checksum.IsMismatch(err) {
			return err
		}
		if mismatch == nil {
			mismatch = err
		}
	}
	switch {
	case mismatch != nil:
		return mismatch
	case unreadable != nil:
		return unreadable
	}
	actual, err := checksum.Compute(data, string(checksum.SHA512))
	if err != nil {
		return err
	}
	return &checksum.MismatchError{Path: bagMetadataPath, Algorithm: string(checksum.SHA512), Actual: actual}
}
