package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	dserrors "github.com/arkilian/dissolve/internal/errors"
)

// Location names a table file: either an S3 object (s3://bucket/key) or a
// local path (plain or file://).
type Location struct {
	Bucket string
	// Key is the object key for S3 locations and the filesystem path for
	// local ones.
	Key string
}

// ParseLocation parses a location string.
func ParseLocation(raw string) (Location, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return Location{}, dserrors.NewValidationError(dserrors.CodeUnsupportedOption, "empty location")
	case strings.HasPrefix(raw, "s3://"):
		rest := strings.TrimPrefix(raw, "s3://")
		bucket, key, _ := strings.Cut(rest, "/")
		if bucket == "" || key == "" {
			return Location{}, dserrors.NewValidationError(dserrors.CodeUnsupportedOption,
				fmt.Sprintf("invalid S3 location %q: want s3://bucket/key", raw))
		}
		return Location{Bucket: bucket, Key: key}, nil
	case strings.HasPrefix(raw, "file://"):
		raw = strings.TrimPrefix(raw, "file://")
		if raw == "" {
			return Location{}, dserrors.NewValidationError(dserrors.CodeUnsupportedOption, "empty file location")
		}
	}
	return Location{Key: raw}, nil
}

// IsS3 reports whether the location names an S3 object.
func (l Location) IsS3() bool {
	return l.Bucket != ""
}

func (l Location) String() string {
	if l.IsS3() {
		return "s3://" + l.Bucket + "/" + l.Key
	}
	return l.Key
}

// Resolver maps locations to stores, creating one S3 client per bucket on
// first use.
type Resolver struct {
	cfg   S3Config
	newS3 func(ctx context.Context, bucket string, cfg S3Config) (ObjectStorage, error)

	mu      sync.Mutex
	buckets map[string]ObjectStorage
}

// NewResolver creates a resolver whose S3 clients use cfg.
func NewResolver(cfg S3Config) *Resolver {
	return &Resolver{
		cfg: cfg,
		newS3: func(ctx context.Context, bucket string, cfg S3Config) (ObjectStorage, error) {
			return NewS3Storage(ctx, bucket, cfg)
		},
		buckets: make(map[string]ObjectStorage),
	}
}

// Register makes store serve every location in bucket.
func (r *Resolver) Register(bucket string, store ObjectStorage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buckets[bucket] = store
}

// Store returns the store holding loc and the object path inside it.
func (r *Resolver) Store(ctx context.Context, loc Location) (ObjectStorage, string, error) {
	if !loc.IsS3() {
		abs, err := filepath.Abs(loc.Key)
		if err != nil {
			return nil, "", dserrors.NewStorageError(dserrors.CodeDownloadFailed,
				fmt.Sprintf("cannot resolve %s", loc.Key), err)
		}
		return &LocalStorage{basePath: filepath.Dir(abs)}, filepath.Base(abs), nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if store, ok := r.buckets[loc.Bucket]; ok {
		return store, loc.Key, nil
	}
	store, err := r.newS3(ctx, loc.Bucket, r.cfg)
	if err != nil {
		return nil, "", dserrors.NewStorageError(dserrors.CodeDownloadFailed,
			fmt.Sprintf("cannot open bucket %s", loc.Bucket), err)
	}
	r.buckets[loc.Bucket] = store
	return store, loc.Key, nil
}

// Read returns the content at the raw location.
func (r *Resolver) Read(ctx context.Context, raw string) ([]byte, error) {
	loc, err := ParseLocation(raw)
	if err != nil {
		return nil, err
	}
	store, key, err := r.Store(ctx, loc)
	if err != nil {
		return nil, err
	}
	return ReadObject(ctx, store, key)
}

// Write stores data at the raw location.
func (r *Resolver) Write(ctx context.Context, raw string, data []byte) error {
	loc, err := ParseLocation(raw)
	if err != nil {
		return err
	}
	store, key, err := r.Store(ctx, loc)
	if err != nil {
		return err
	}
	return WriteObject(ctx, store, key, data)
}

// ReadObject reads an object, mapping failures to storage errors.
func ReadObject(ctx context.Context, store ObjectStorage, objectPath string) ([]byte, error) {
	data, err := store.Get(ctx, objectPath)
	switch {
	case err == nil:
		return data, nil
	case errors.Is(err, ErrObjectNotFound):
		return nil, dserrors.NewStorageError(dserrors.CodeObjectNotFound,
			fmt.Sprintf("object %s not found", objectPath), err)
	default:
		return nil, dserrors.NewStorageError(dserrors.CodeDownloadFailed,
			fmt.Sprintf("cannot read %s", objectPath), err)
	}
}

// WriteObject stores data as an object, mapping failures to storage errors.
func WriteObject(ctx context.Context, store ObjectStorage, objectPath string, data []byte) error {
	if err := store.Put(ctx, objectPath, data); err != nil {
		return dserrors.NewStorageError(dserrors.CodeUploadFailed,
			fmt.Sprintf("cannot write %s", objectPath), err)
	}
	return nil
}
