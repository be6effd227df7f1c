package decoder

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies the compression format of an archive by its extension
type Codec string

const (
	CodecZstd Codec = ".zst"
	CodecGzip Codec = ".gz"
	CodecLZ4  Codec = ".lz4"
)

// zstdMaxWindow matches the long-distance windows used by Pushshift dumps
const zstdMaxWindow = 1 << 31

// Extensions lists the archive extensions the decoder can open
func Extensions() []string {
	return []string{string(CodecZstd), string(CodecGzip), string(CodecLZ4)}
}

// CodecFor returns the codec matching the file extension of path
func CodecFor(path string) (Codec, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch Codec(ext) {
	case CodecZstd, CodecGzip, CodecLZ4:
		return Codec(ext), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedCodec, ext)
	}
}

// TrimExtension strips a supported archive extension from name
func TrimExtension(name string) string {
	if codec, err := CodecFor(name); err == nil {
		return name[:len(name)-len(codec)]
	}
	return name
}

// newDecompressor wraps src with the streaming decompressor for codec.
// The returned close function releases decompressor resources only; src is
// owned by the caller.
func newDecompressor(codec Codec, src io.Reader) (io.Reader, func() error, error) {
	switch codec {
	case CodecZstd:
		d, err := zstd.NewReader(src,
			zstd.WithDecoderMaxWindow(zstdMaxWindow),
			zstd.WithDecoderConcurrency(1),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		return d, func() error { d.Close(); return nil }, nil
	case CodecGzip:
		gz, err := gzip.NewReader(src)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		return gz, gz.Close, nil
	case CodecLZ4:
		return lz4.NewReader(src), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnsupportedCodec, string(codec))
	}
}
