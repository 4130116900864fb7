package domain

import (
	"context"
	"time"
)

// Uploader stores artifact bytes under a key in the configured bucket.
type Uploader interface {
	Put(ctx context.Context, key string, body []byte) error
}

// Storage is an Uploader that can also be pruned.
type Storage interface {
	Uploader
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, key string) error
	GetOldFiles(ctx context.Context, cutoffTime time.Time) ([]string, error)
}
