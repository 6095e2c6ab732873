// Package storage provides object storage for dissolve inputs and outputs.
package storage

import (
	"context"
	"errors"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrUploadFailed   = errors.New("upload failed")
	ErrDownloadFailed = errors.New("download failed")
)

// ObjectStorage holds table files. Tables are read and written whole, so
// objects move as byte slices.
type ObjectStorage interface {
	// Get returns the content of an object, or ErrObjectNotFound.
	Get(ctx context.Context, objectPath string) ([]byte, error)

	// Put stores data as an object, replacing any previous content.
	Put(ctx context.Context, objectPath string, data []byte) error

	// Exists checks if an object exists in storage.
	Exists(ctx context.Context, objectPath string) (bool, error)
}
