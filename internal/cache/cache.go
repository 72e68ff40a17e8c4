package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"time"
)

// ErrIntegrity is returned when a cached entry's content does not match its
// recorded content hash. The run must halt rather than pick a side.
var ErrIntegrity = errors.New("cache: content hash mismatch")

// Cache defines the interface for artifact caching
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte) error
	Delete(key string) error
	Clear() error
}

// Entry is the versioned envelope stored under a fingerprint.
// At most one valid entry exists per fingerprint at any time.
type Entry struct {
	Fingerprint string    `json:"fingerprint"`
	ContentHash string    `json:"content_hash"`
	BuiltAt     time.Time `json:"built_at"`
	Data        []byte    `json:"data"`
}

// Verify checks the entry's content against its recorded hash
func (e *Entry) Verify() error {
	if ContentHash(e.Data) != e.ContentHash {
		return ErrIntegrity
	}
	return nil
}

// Fingerprint derives the cache/stash key for a workflow artifact from its
// logical inputs. Keys are namespaced by workflow type so the shared cache
// directory and stash never collide across workflows.
func Fingerprint(workflow string, parts ...string) string {
	h := sha256.New()
	_, _ = io.WriteString(h, workflow)
	for _, p := range parts {
		h.Write([]byte{0x1f})
		_, _ = io.WriteString(h, p)
	}
	return "tf:v1:" + hex.EncodeToString(h.Sum(nil))
}

// ContentHash returns the hex digest used to validate entry contents
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
