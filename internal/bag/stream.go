package bag

import (
	"bytes"
	"io"

	"github.com/buaaliyuan/readros/internal/errors"

	"github.com/dsnet/compress/bzip2"
	"github.com/pierrec/lz4/v4"
)

// CompressionType is the literal ASCII compression tag stored in a chunk
// header: "none", "bz2", or "lz4".
type CompressionType string

const (
	CompressionNone CompressionType = "none"
	CompressionBZ2  CompressionType = "bz2"
	CompressionLZ4  CompressionType = "lz4"
)

func parseCompressionType(s string) (CompressionType, error) {
	switch CompressionType(s) {
	case CompressionNone, CompressionBZ2, CompressionLZ4:
		return CompressionType(s), nil
	default:
		return "", newBagFormatException(errors.Errorf("unknown compression type %q", s))
	}
}

// Stream is the contract every compression variant implements. The bag
// engine always knows the exact compressed and uncompressed size of a
// chunk before it decompresses it (both are stored in the chunk header),
// so Stream exposes one-shot, whole-buffer Compress/Decompress rather
// than a byte-at-a-time io.Reader/io.Writer pair: there is never an
// "unknown length" compressed region to stream across.
type Stream interface {
	CompressionType() CompressionType
	// Compress returns the compressed form of src.
	Compress(src []byte) ([]byte, error)
	// Decompress inflates src, which must hold exactly uncompressedSize
	// bytes once inflated, into a freshly sized buffer.
	Decompress(src []byte, uncompressedSize int) ([]byte, error)
}

// StreamFactory builds the Stream variant matching a compression tag.
type StreamFactory struct{}

func (f *StreamFactory) New(ct CompressionType) (Stream, error) {
	switch ct {
	case CompressionNone:
		return uncompressedStream{}, nil
	case CompressionBZ2:
		return bz2Stream{}, nil
	case CompressionLZ4:
		return lz4Stream{}, nil
	default:
		return nil, newBagFormatException(errors.Errorf("unknown compression type %q", ct))
	}
}

type uncompressedStream struct{}

func (uncompressedStream) CompressionType() CompressionType { return CompressionNone }

func (uncompressedStream) Compress(src []byte) ([]byte, error) {
	out := make([]byte, len(src))
	copy(out, src)
	return out, nil
}

func (uncompressedStream) Decompress(src []byte, uncompressedSize int) ([]byte, error) {
	if len(src) < uncompressedSize {
		return nil, newBagFormatException(errors.Errorf("uncompressed chunk too short: have %d, want %d", len(src), uncompressedSize))
	}
	out := make([]byte, uncompressedSize)
	copy(out, src[:uncompressedSize])
	return out, nil
}

type bz2Stream struct{}

func (bz2Stream) CompressionType() CompressionType { return CompressionBZ2 }

func (bz2Stream) Compress(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := bzip2.NewWriter(&buf, nil)
	if err != nil {
		return nil, newBagIOException(errors.Wrap(err, "bzip2.NewWriter"))
	}
	if _, err := w.Write(src); err != nil {
		return nil, newBagIOException(errors.Wrap(err, "bzip2 write"))
	}
	if err := w.Close(); err != nil {
		return nil, newBagIOException(errors.Wrap(err, "bzip2 close"))
	}
	return buf.Bytes(), nil
}

func (bz2Stream) Decompress(src []byte, uncompressedSize int) ([]byte, error) {
	r, err := bzip2.NewReader(bytes.NewReader(src), nil)
	if err != nil {
		return nil, newBagFormatException(errors.Wrap(err, "bzip2.NewReader"))
	}
	defer r.Close()

	out := make([]byte, uncompressedSize)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, newBagFormatException(errors.Wrap(err, "bzip2 decompress"))
	}
	return out, nil
}

type lz4Stream struct{}

func (lz4Stream) CompressionType() CompressionType { return CompressionLZ4 }

func (lz4Stream) Compress(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(src); err != nil {
		return nil, newBagIOException(errors.Wrap(err, "lz4 write"))
	}
	if err := w.Close(); err != nil {
		return nil, newBagIOException(errors.Wrap(err, "lz4 close"))
	}
	return buf.Bytes(), nil
}

func (lz4Stream) Decompress(src []byte, uncompressedSize int) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(src))
	out := make([]byte, uncompressedSize)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, newBagFormatException(errors.Wrap(err, "lz4 decompress"))
	}
	return out, nil
}
