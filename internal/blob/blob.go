// Package blob pins documents by content hash and resolves a hash to a
// retrieval URL. The ledger stores the hash verbatim and never reads the bytes.
package blob

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"

	dErrors "trustid/pkg/domain-errors"
)

// ContentHash is the lower-case hex SHA-256 of a pinned document.
type ContentHash string

func (h ContentHash) String() string { return string(h) }

var hashPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// HashOf returns the content address of data.
func HashOf(data []byte) ContentHash {
	sum := sha256.Sum256(data)
	return ContentHash(hex.EncodeToString(sum[:]))
}

// ParseHash validates a content hash supplied by a client.
func ParseHash(s string) (ContentHash, error) {
	if !hashPattern.MatchString(s) {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid content hash")
	}
	return ContentHash(s), nil
}

func validateDocument(data []byte) error {
	if len(data) == 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "document is empty")
	}
	return nil
}
