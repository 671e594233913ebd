package storage

import (
	"context"
)

// Storage is an object store for exported access-log batches.
type Storage interface {
	Put(ctx context.Context, key string, content []byte, contentType string) error
}
