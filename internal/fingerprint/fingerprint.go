// Package fingerprint derives content digests for change detection and stable
// identifiers for chunks from file paths.
package fingerprint

import (
	"crypto/sha1"
	"encoding/hex"
	"path/filepath"
	"strconv"
)

// Size is the length of a hex-encoded fingerprint.
const Size = sha1.Size * 2

// Content returns the hex sha1 digest of b. Identical bytes always yield the
// same fingerprint; any byte difference changes it.
func Content(b []byte) string {
	sum := sha1.Sum(b)
	return hex.EncodeToString(sum[:])
}

// Path returns the hex sha1 digest of the cleaned path. It is the prefix of
// every chunk ID derived from the file.
func Path(path string) string {
	return Content([]byte(filepath.Clean(path)))
}

// ChunkID returns the deterministic identity key of the index-th chunk of path.
func ChunkID(path string, index int) string {
	return Path(path) + "-" + strconv.Itoa(index)
}
