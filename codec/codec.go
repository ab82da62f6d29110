// Package codec provides the closed set of block compression codecs an
// SSTable may be built with: none, gzip, and deflate. Codec identity is
// chosen at build time and is not self-describing in the block itself;
// a reader must be configured with the same codec the writer used.
package codec

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// Kind names one of the supported codecs.
type Kind string

const (
	None    Kind = "none"
	Gzip    Kind = "gzip"
	Deflate Kind = "deflate"
)

// ErrUnknownCodec is returned for any Kind outside the closed set.
var ErrUnknownCodec = errors.New("codec: unknown kind")

// Codec compresses and decompresses opaque byte blocks.
type Codec interface {
	Kind() Kind
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// ByKind resolves a Kind to its Codec implementation.
func ByKind(k Kind) (Codec, error) {
	switch k {
	case None, "":
		return noneCodec{}, nil
	case Gzip:
		return gzipCodec{}, nil
	case Deflate:
		return deflateCodec{}, nil
	default:
		return nil, errors.Wrapf(ErrUnknownCodec, "%q", k)
	}
}

type noneCodec struct{}

func (noneCodec) Kind() Kind { return None }
func (noneCodec) Compress(data []byte) ([]byte, error) {
	return data, nil
}
func (noneCodec) Decompress(data []byte) ([]byte, error) {
	return data, nil
}

type gzipCodec struct{}

func (gzipCodec) Kind() Kind { return Gzip }

func (gzipCodec) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, errors.Wrap(err, "codec: gzip compress")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "codec: gzip close")
	}
	return buf.Bytes(), nil
}

func (gzipCodec) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("codec: gzip decompress: %w: %v", ErrCorrupt, err)
	}
	defer func() { _ = r.Close() }()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("codec: gzip decompress: %w: %v", ErrCorrupt, err)
	}
	return out, nil
}

type deflateCodec struct{}

func (deflateCodec) Kind() Kind { return Deflate }

func (deflateCodec) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, errors.Wrap(err, "codec: deflate compress")
	}
	if _, err := w.Write(data); err != nil {
		return nil, errors.Wrap(err, "codec: deflate compress")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "codec: deflate close")
	}
	return buf.Bytes(), nil
}

func (deflateCodec) Decompress(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer func() { _ = r.Close() }()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("codec: deflate decompress: %w: %v", ErrCorrupt, err)
	}
	return out, nil
}

// ErrCorrupt marks a block that failed to decompress under its
// configured codec — a decoder using the wrong codec for the data it was
// handed surfaces as this error, per the engine's corruption handling.
var ErrCorrupt = errors.New("codec: corrupt or mismatched codec")
