package common

import (
	"strings"

	"github.com/google/uuid"
)

// EncodeDocumentID derives a stable document identifier from a source locator
// (file path or URL). The same locator always yields the same id, so documents
// can be correlated across crawls and named on disk. Uses a SHA-1 name-based
// UUID in the URL namespace.
func EncodeDocumentID(prefix, locator string) string {
	id := uuid.NewSHA1(uuid.NameSpaceURL, []byte(locator)).String()
	if prefix == "" {
		return id
	}
	return prefix + "-" + id
}

// NewCorrelationID generates a short unique id for one-off correlation (crawl
// runs, notification rows). Not stable across runs; use EncodeDocumentID for
// documents.
func NewCorrelationID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}
