// Package staging uploads run logs to the staging area and reads them back
// for bulk loading. Staging is outside any warehouse transaction.
package staging

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"

	arkerrors "github.com/loadtrail/loadtrail/internal/errors"
	"github.com/loadtrail/loadtrail/internal/storage"
)

// Artifact identifies a staged file.
type Artifact struct {
	// Name is the staged file name: <local base name>.<codec extension>
	Name string

	// ObjectPath is the object key inside the staging storage
	ObjectPath string

	// Codec is the name of the codec the artifact is written with
	Codec string

	ETag string
	Size int64
}

// Transfer moves log files between local disk and the staging area.
type Transfer struct {
	store   storage.ObjectStorage
	codec   Codec
	prefix  string
	tempDir string
}

// Option configures a Transfer.
type Option func(*Transfer)

// WithTempDir sets where compressed files are written before upload.
func WithTempDir(dir string) Option {
	return func(t *Transfer) { t.tempDir = dir }
}

// NewTransfer creates a transfer into store under prefix.
func NewTransfer(store storage.ObjectStorage, codec Codec, prefix string, opts ...Option) *Transfer {
	t := &Transfer{
		store:  store,
		codec:  codec,
		prefix: prefix,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Codec returns the codec used for uploads.
func (t *Transfer) Codec() Codec {
	return t.codec
}

// Prefix returns the staging area prefix.
func (t *Transfer) Prefix() string {
	return t.prefix
}

// Plan derives the artifact a local file will be staged as.
func (t *Transfer) Plan(localPath string) Artifact {
	name := filepath.Base(localPath) + "." + t.codec.Extension()
	return Artifact{
		Name:       name,
		ObjectPath: path.Join(t.prefix, name),
		Codec:      t.codec.Name(),
	}
}

// Upload compresses localPath and uploads it, replacing any artifact with the
// same staged name. The planned artifact is returned even on failure so the
// caller can still clean it up.
func (t *Transfer) Upload(ctx context.Context, localPath string) (Artifact, error) {
	art := t.Plan(localPath)

	compressed, size, err := t.compress(localPath)
	if err != nil {
		return art, err
	}
	defer os.Remove(compressed)

	etag, err := t.store.Upload(ctx, compressed, art.ObjectPath)
	if err != nil {
		return art, arkerrors.NewStagingError(arkerrors.CodeUploadFailed,
			fmt.Sprintf("failed to upload %s to %s", localPath, art.ObjectPath), err)
	}
	art.ETag = etag
	art.Size = size

	log.Printf("staging: uploaded %s as %s (%d bytes, codec=%s)", localPath, art.ObjectPath, size, art.Codec)
	return art, nil
}

func (t *Transfer) compress(localPath string) (string, int64, error) {
	src, err := os.Open(localPath)
	if err != nil {
		return "", 0, arkerrors.NewStagingError(arkerrors.CodeUploadFailed,
			fmt.Sprintf("failed to open %s", localPath), err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(t.tempDir, "loadtrail-stage-*."+t.codec.Extension())
	if err != nil {
		return "", 0, arkerrors.NewStagingError(arkerrors.CodeCodecFailed, "failed to create temp file", err)
	}
	tmpPath := tmp.Name()

	fail := func(msg string, cause error) (string, int64, error) {
		tmp.Close()
		os.Remove(tmpPath)
		return "", 0, arkerrors.NewStagingError(arkerrors.CodeCodecFailed, msg, cause)
	}

	w, err := t.codec.NewWriter(tmp)
	if err != nil {
		return fail("failed to create compressor", err)
	}
	if _, err := io.Copy(w, src); err != nil {
		w.Close()
		return fail(fmt.Sprintf("failed to compress %s", localPath), err)
	}
	if err := w.Close(); err != nil {
		return fail("failed to flush compressor", err)
	}

	info, err := tmp.Stat()
	if err != nil {
		return fail("failed to stat compressed file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", 0, arkerrors.NewStagingError(arkerrors.CodeCodecFailed, "failed to close compressed file", err)
	}
	return tmpPath, info.Size(), nil
}

// Open streams the decompressed content of a staged artifact using the named
// codec.
func (t *Transfer) Open(ctx context.Context, objectPath, codecName string) (io.ReadCloser, error) {
	codec, err := CodecByName(codecName)
	if err != nil {
		return nil, arkerrors.NewStagingError(arkerrors.CodeCodecFailed, "unsupported file format", err)
	}

	rc, err := t.store.Open(ctx, objectPath)
	if err != nil {
		return nil, arkerrors.NewStagingError(arkerrors.CodeDownloadFailed,
			fmt.Sprintf("failed to open staged file %s", objectPath), err)
	}
	dec, err := codec.NewReader(rc)
	if err != nil {
		rc.Close()
		return nil, arkerrors.NewStagingError(arkerrors.CodeCodecFailed,
			fmt.Sprintf("failed to decode staged file %s", objectPath), err)
	}
	return &stagedReader{ReadCloser: dec, raw: rc}, nil
}

type stagedReader struct {
	io.ReadCloser
	raw io.Closer
}

func (s *stagedReader) Close() error {
	err := s.ReadCloser.Close()
	if rerr := s.raw.Close(); err == nil {
		err = rerr
	}
	return err
}

// Remove deletes a staged artifact.
func (t *Transfer) Remove(ctx context.Context, objectPath string) error {
	if err := t.store.Delete(ctx, objectPath); err != nil {
		return arkerrors.NewCleanupError(arkerrors.CodeRemoveFailed,
			fmt.Sprintf("failed to remove staged file %s", objectPath), err)
	}
	return nil
}

// Cleanup removes a staged artifact and logs instead of returning failures.
func (t *Transfer) Cleanup(ctx context.Context, objectPath string) bool {
	if err := t.Remove(ctx, objectPath); err != nil {
		log.Printf("staging: cleanup of %s failed: %v", objectPath, err)
		return false
	}
	return true
}

// Exists reports whether a staged artifact is present.
func (t *Transfer) Exists(ctx context.Context, objectPath string) (bool, error) {
	return t.store.Exists(ctx, objectPath)
}
