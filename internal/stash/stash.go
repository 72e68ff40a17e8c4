// Package stash provides the durable remote backup store for workflow
// artifacts, distinct from the local build cache. Backends share the local
// cache's fingerprint key scheme.
package stash

import (
	"context"
	"errors"
	"time"
)

// ErrAbsent is returned when no record exists for a key
var ErrAbsent = errors.New("stash: key absent")

// Meta carries the version fields compared before overwriting in either
// direction between the stash and the local cache.
type Meta struct {
	BuiltAt     time.Time `json:"built_at"`
	ContentHash string    `json:"content_hash"`
}

// Stash is the remote backup/restore contract
type Stash interface {
	Put(ctx context.Context, key string, data []byte, meta Meta) error
	Get(ctx context.Context, key string) ([]byte, Meta, error)
	Head(ctx context.Context, key string) (Meta, error)
}

// Driver identifies a concrete stash backend
type Driver string

const (
	DriverFilesystem Driver = "fs"     // local directory (dev, tests)
	DriverS3         Driver = "s3"     // S3 / MinIO compatible
	DriverMemory     Driver = "memory" // in-memory (tests)
)
