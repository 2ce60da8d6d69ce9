// Package checksum gates artifact downloads and device pushes on content
// digests. MD5 is the digest the on-device md5sum command reports, so the
// same algorithm is used host-side.
package checksum

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrMismatch is returned when a file's content digest does not match the
// expected one. Callers must not use the artifact after seeing it.
var ErrMismatch = errors.New("checksum mismatch")

// chunkSize is the read granularity for streaming hashes.
const chunkSize = 4096

// Sum computes the hex MD5 digest of the file at path.
func Sum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	h := md5.New()
	buf := make([]byte, chunkSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", path, err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// IsFresh reports whether path exists and its digest equals want. A missing
// or unreadable file is simply not fresh.
func IsFresh(path, want string) bool {
	sum, err := Sum(path)
	if err != nil {
		return false
	}
	return sum == want
}

// Verify returns an error wrapping ErrMismatch when the digest of path
// differs from want. It runs after every fetch so a corrupt artifact is never
// staged.
func Verify(path, want string) error {
	sum, err := Sum(path)
	if err != nil {
		return err
	}
	if sum != want {
		return fmt.Errorf("%w: %s has digest %s, want %s", ErrMismatch, path, sum, want)
	}
	return nil
}
