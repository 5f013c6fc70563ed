package staging

import (
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Codec compresses staged files. The extension is appended to the local file
// name to form the staged name.
type Codec interface {
	Name() string
	Extension() string
	NewWriter(w io.Writer) (io.WriteCloser, error)
	NewReader(r io.Reader) (io.ReadCloser, error)
}

// Codec names accepted by CodecByName.
const (
	CodecGzip   = "gzip"
	CodecSnappy = "snappy"
	CodecZstd   = "zstd"
)

// DefaultCodec is used when no codec is configured.
var DefaultCodec Codec = gzipCodec{}

// CodecByName returns the codec registered under name.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", CodecGzip:
		return gzipCodec{}, nil
	case CodecSnappy:
		return snappyCodec{}, nil
	case CodecZstd:
		return zstdCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown staging codec %q", name)
	}
}

type gzipCodec struct{}

func (gzipCodec) Name() string      { return CodecGzip }
func (gzipCodec) Extension() string { return "gz" }

func (gzipCodec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return gzip.NewWriterLevel(w, gzip.DefaultCompression)
}

func (gzipCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(r)
}

// snappyCodec uses the framed stream format, not block encoding.
type snappyCodec struct{}

func (snappyCodec) Name() string      { return CodecSnappy }
func (snappyCodec) Extension() string { return "sz" }

func (snappyCodec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return snappy.NewBufferedWriter(w), nil
}

func (snappyCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(snappy.NewReader(r)), nil
}

type zstdCodec struct{}

func (zstdCodec) Name() string      { return CodecZstd }
func (zstdCodec) Extension() string { return "zst" }

func (zstdCodec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return zstd.NewWriter(w)
}

func (zstdCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return dec.IOReadCloser(), nil
}
