// Package storage provides object storage backends for the staging area.
package storage

import (
	"context"
	"errors"
	"io"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrUploadFailed   = errors.New("upload failed")
	ErrDownloadFailed = errors.New("download failed")
	ErrDeleteFailed   = errors.New("delete failed")
)

// ObjectStorage abstracts the remote staging area.
// Implementations include S3 and the local filesystem.
type ObjectStorage interface {
	// Upload copies a local file to objectPath, replacing any existing
	// object. It returns the ETag of the stored object.
	Upload(ctx context.Context, localPath, objectPath string) (string, error)

	// Open streams an object. Callers must close the reader.
	// A missing object yields ErrObjectNotFound.
	Open(ctx context.Context, objectPath string) (io.ReadCloser, error)

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, objectPath string) error

	// Exists checks if an object exists in storage.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// ListObjects returns all object paths under the given prefix.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

// MultipartUploadConfig holds configuration for multipart uploads.
type MultipartUploadConfig struct {
	// PartSize is the size of each part in bytes (default: 16MB).
	PartSize int64
}

// DefaultMultipartConfig returns the default multipart upload configuration.
func DefaultMultipartConfig() MultipartUploadConfig {
	return MultipartUploadConfig{
		PartSize: 16 * 1024 * 1024, // 16MB
	}
}
