package provision

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/p-arndt/fabrik/internal/envman"
)

// newHasher parses a digest of the form "<algo>:<hex>".
func newHasher(digest string) (hash.Hash, string, error) {
	algo, sum, ok := strings.Cut(digest, ":")
	if !ok || sum == "" {
		return nil, "", fmt.Errorf("malformed digest %q", digest)
	}
	switch strings.ToLower(algo) {
	case "blake3":
		return blake3.New(), strings.ToLower(sum), nil
	case "sha256":
		return sha256.New(), strings.ToLower(sum), nil
	default:
		return nil, "", fmt.Errorf("unsupported digest algorithm %q", algo)
	}
}

// ComputeDigest hashes r with the algorithm named by algo ("blake3" or
// "sha256") and returns "<algo>:<hex>".
func ComputeDigest(algo string, r io.Reader) (string, error) {
	h, _, err := newHasher(algo + ":x")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return strings.ToLower(algo) + ":" + hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyFile checks the file at path against digest.
func VerifyFile(path, digest string) error {
	if _, _, err := newHasher(digest); err != nil {
		return fmt.Errorf("%w: %v", envman.ErrTransfer, err)
	}
	algo, _, _ := strings.Cut(digest, ":")
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", envman.ErrIO, path, err)
	}
	defer f.Close()
	actual, err := ComputeDigest(algo, f)
	if err != nil {
		return fmt.Errorf("%w: hash %s: %v", envman.ErrIO, path, err)
	}
	if !strings.EqualFold(actual, digest) {
		return fmt.Errorf("%w: hash mismatch: expected %s, got %s", envman.ErrTransfer, strings.ToLower(digest), actual)
	}
	return nil
}
