package cryptox

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/blake2b"
)

// FingerprintPrefix tags fingerprints produced by this package so they can be
// told apart from object store ETags.
const FingerprintPrefix = "b2b256:"

// Fingerprint hashes everything readable from r with BLAKE2b-256.
//
// The result identifies the content of an upload source across process
// restarts: a resumed upload compares it with the fingerprint stored in its
// checkpoint and refuses to continue when they differ.
//
// Parameters:
//   - r: the content to hash; it is read to EOF.
//
// Returns:
//   - the prefixed lowercase hex digest.
//   - the number of bytes read.
//   - err: non-nil if reading fails.
//
// Example:
//
//	fp, n, err := Fingerprint(strings.NewReader("hello"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(fp, n)
func Fingerprint(r io.Reader) (string, int64, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", 0, err
	}
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return FingerprintPrefix + hex.EncodeToString(h.Sum(nil)), n, nil
}

// FingerprintFile hashes the file at path.
func FingerprintFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	fp, n, err := Fingerprint(f)
	if err != nil {
		return "", n, fmt.Errorf("fingerprint %s: %w", path, err)
	}
	return fp, n, nil
}
