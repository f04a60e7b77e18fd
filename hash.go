package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// digestBufferSize is the read size used when hashing files.
const digestBufferSize = 4096

// FileDigest computes the hex-encoded SHA-256 digest of the file at path.
// The file is streamed in fixed-size reads so memory use does not depend on file size.
func FileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: opening %s: %v", ErrIO, path, err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, digestBufferSize)
	if _, err := io.CopyBuffer(h, onlyReader{f}, buf); err != nil {
		return "", fmt.Errorf("%w: reading %s: %v", ErrIO, path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyFile reports whether the digest of the file at path equals expectedHash.
// The comparison is exact and case-sensitive.
func VerifyFile(path, expectedHash string) (bool, error) {
	actual, err := FileDigest(path)
	if err != nil {
		return false, err
	}
	return actual == expectedHash, nil
}

// onlyReader hides WriterTo/ReaderFrom so io.CopyBuffer uses the supplied buffer.
type onlyReader struct {
	r io.Reader
}

func (o onlyReader) Read(p []byte) (int, error) {
	return o.r.Read(p)
}
