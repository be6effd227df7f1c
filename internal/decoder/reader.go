// Package decoder turns compressed newline-delimited archives into a lazy
// sequence of text lines with bounded memory.
//
// Decompressed data is read in fixed-size chunks. A chunk may end in the
// middle of a multi-byte character, so undecodable text is extended with the
// following chunks until it decodes or the accumulated window is exceeded.
// Only the partial trailing line of each decode cycle is carried over.
package decoder

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"unicode/utf8"
)

// Default sizes, in decompressed bytes
const (
	DefaultChunkSize = 1 << 27 // 128 MiB
	DefaultMaxWindow = 1 << 30 // 1 GiB
)

var (
	// ErrWindowExceeded means text could not be decoded, or a single line
	// could not be completed, within the maximum window. It signals a corrupt
	// archive rather than a chunk boundary artifact.
	ErrWindowExceeded = errors.New("decode window exceeded")

	// ErrInvalidText means the stream ended on bytes that are not valid UTF-8
	ErrInvalidText = errors.New("invalid utf-8 at end of stream")

	// ErrUnsupportedCodec is returned for unknown archive extensions
	ErrUnsupportedCodec = errors.New("unsupported codec")
)

// Options tunes the chunked decoding
type Options struct {
	ChunkSize int
	MaxWindow int
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.MaxWindow <= 0 {
		o.MaxWindow = DefaultMaxWindow
	}
	return o
}

// Reader yields the lines of one compressed archive. It is forward-only and
// not safe for concurrent use.
type Reader struct {
	opts Options

	src      *countingReader
	stream   io.Reader
	closers  []func() error
	closed   bool
	eof      bool
	err      error
	pending  []byte // decoded text not yet split into lines
	lines    []string
	nextLine int
}

// Open opens the archive at path, choosing the codec from its extension
func Open(path string, opts Options) (*Reader, error) {
	codec, err := CodecFor(path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	r, err := NewReader(file, codec, opts)
	if err != nil {
		file.Close()
		return nil, err
	}
	r.closers = append(r.closers, file.Close)

	return r, nil
}

// NewReader decodes src with codec. Closing the Reader does not close src.
func NewReader(src io.Reader, codec Codec, opts Options) (*Reader, error) {
	counter := &countingReader{r: src}

	stream, closeStream, err := newDecompressor(codec, counter)
	if err != nil {
		return nil, err
	}

	return &Reader{
		opts:    opts.withDefaults(),
		src:     counter,
		stream:  stream,
		closers: []func() error{closeStream},
	}, nil
}

// Next returns the next line without its trailing newline. It returns io.EOF
// once the archive is exhausted; any other error is final for this Reader.
func (r *Reader) Next() (string, error) {
	for {
		if r.err != nil {
			return "", r.err
		}

		if r.nextLine < len(r.lines) {
			line := r.lines[r.nextLine]
			r.nextLine++
			return line, nil
		}

		if r.eof {
			if len(r.pending) > 0 {
				line := string(r.pending)
				r.pending = r.pending[:0]
				return line, nil
			}
			r.err = io.EOF
			continue
		}

		r.lines = r.lines[:0]
		r.nextLine = 0
		if err := r.decodeCycle(); err != nil {
			r.err = err
		}
	}
}

// Offset returns the number of compressed bytes consumed from the source so far
func (r *Reader) Offset() int64 {
	return r.src.n
}

// Close releases the decompressor and the underlying file, if owned
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	for _, c := range r.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// decodeCycle reads one chunk (plus continuation chunks while the text does
// not decode) and splits the decoded text into complete lines.
func (r *Reader) decodeCycle() error {
	start := len(r.pending)

	if err := r.readChunk(); err != nil {
		return err
	}

	// pending[:start] is a decoded remainder that ends on a rune boundary,
	// so only the freshly read bytes need validating.
	for !utf8.Valid(r.pending[start:]) {
		accumulated := len(r.pending) - start
		if r.eof {
			return fmt.Errorf("%w after reading %d bytes", ErrInvalidText, accumulated)
		}
		if accumulated > r.opts.MaxWindow {
			return fmt.Errorf("%w: unable to decode frame after reading %d bytes", ErrWindowExceeded, accumulated)
		}
		if err := r.readChunk(); err != nil {
			return err
		}
	}

	r.splitLines()

	if len(r.pending) > r.opts.MaxWindow {
		return fmt.Errorf("%w: line longer than %d bytes", ErrWindowExceeded, r.opts.MaxWindow)
	}

	return nil
}

// readChunk appends up to ChunkSize decompressed bytes to pending. The
// buffer is reused across cycles and only grows when the carried partial
// line no longer fits next to a full chunk.
func (r *Reader) readChunk() error {
	have := len(r.pending)
	need := have + r.opts.ChunkSize
	if cap(r.pending) < need {
		grown := make([]byte, have, max(need+r.opts.ChunkSize/8, 2*cap(r.pending)))
		copy(grown, r.pending)
		r.pending = grown
	}

	n, err := io.ReadFull(r.stream, r.pending[have:need])
	r.pending = r.pending[:have+n]

	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		r.eof = true
		return nil
	default:
		return fmt.Errorf("failed to read decompressed stream: %w", err)
	}
}

// splitLines moves every complete line out of pending, keeping the partial tail
func (r *Reader) splitLines() {
	data := r.pending
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		r.lines = append(r.lines, string(data[:i]))
		data = data[i+1:]
	}

	n := copy(r.pending, data)
	r.pending = r.pending[:n]
}

// countingReader tracks how many compressed bytes have been read
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
