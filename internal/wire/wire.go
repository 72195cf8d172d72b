// Package wire provides framing for sample batches.
//
// A frame is a varint length prefix followed by a message in protobuf wire
// format, so batches can be streamed over pipes, files or TCP and decoded
// by any protobuf runtime with the matching schema:
//
//	message Frame {
//	  uint64 seq   = 1;
//	  Batch  batch = 2;
//	  Error  error = 3;
//	}
//	message Batch {
//	  uint32          dim    = 1;
//	  repeated sint64 stamps = 2; // packed, nanoseconds
//	  repeated double values = 3; // packed, len(stamps)*dim
//	}
//	message Error {
//	  int32  code    = 1;
//	  string message = 2;
//	}
package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/xtxerr/timering/config"
	"github.com/xtxerr/timering/internal/errors"
)

// Frame is one message on the stream. Exactly one of Batch and Error is
// normally set.
type Frame struct {
	Seq   uint64
	Batch *Batch
	Error *Error
}

// Reader reads length-delimited frames from an io.Reader.
// It is safe for concurrent use.
type Reader struct {
	r       *bufio.Reader
	mu      sync.Mutex
	maxSize int
	buf     []byte
}

// NewReader creates a Reader wrapping the given io.Reader with the default
// maximum frame size.
func NewReader(r io.Reader) *Reader {
	return NewReaderSize(r, config.DefaultMaxFrameSize)
}

// NewReaderSize creates a Reader that rejects frames larger than maxSize.
func NewReaderSize(r io.Reader, maxSize int) *Reader {
	if maxSize <= 0 {
		maxSize = config.DefaultMaxFrameSize
	}
	return &Reader{r: bufio.NewReader(r), maxSize: maxSize}
}

// Read reads and decodes the next frame. It returns io.EOF when the stream
// ends cleanly between frames and io.ErrUnexpectedEOF when it ends inside one.
func (r *Reader) Read() (*Frame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	size, err := binary.ReadUvarint(r.r)
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read frame length: %w", err)
	}
	if size > uint64(r.maxSize) {
		return nil, fmt.Errorf("frame of %d bytes, max %d: %w", size, r.maxSize, errors.ErrFrameTooLarge)
	}

	if cap(r.buf) < int(size) {
		r.buf = make([]byte, size)
	}
	buf := r.buf[:size]
	if _, err := io.ReadFull(r.r, buf); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("read frame: %w", err)
	}

	f, err := UnmarshalFrame(buf)
	if err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	return f, nil
}

// Writer writes length-delimited frames to an io.Writer.
// It is safe for concurrent use.
type Writer struct {
	w   io.Writer
	mu  sync.Mutex
	buf []byte
}

// NewWriter creates a Writer wrapping the given io.Writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write encodes and writes a frame with its length prefix.
func (w *Writer) Write(f *Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = AppendDelimited(w.buf[:0], f)
	if _, err := w.w.Write(w.buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// WriteBatch writes a batch frame.
func (w *Writer) WriteBatch(seq uint64, b *Batch) error {
	return w.Write(&Frame{Seq: seq, Batch: b})
}

// Conn combines Reader and Writer for bidirectional communication.
type Conn struct {
	*Reader
	*Writer
}

// NewConn creates a Conn from an io.ReadWriter (e.g., net.Conn). Frames
// larger than maxSize are rejected; zero means the default limit.
func NewConn(rw io.ReadWriter, maxSize int) *Conn {
	return &Conn{
		Reader: NewReaderSize(rw, maxSize),
		Writer: NewWriter(rw),
	}
}

// =============================================================================
// Error Frame Helpers
// =============================================================================

// Error is an error reported on the stream.
type Error struct {
	Code    int32
	Message string
}

// Err converts the frame error back to a Go error that matches the sentinel
// for its code.
func (e *Error) Err() error {
	return fmt.Errorf("%s: %w", e.Message, errors.CodeToError(e.Code))
}

// NewError creates an error frame with the given sequence, error code, and message.
// Error codes should be from the errors package (errors.Code*).
func NewError(seq uint64, code int32, msg string) *Frame {
	return &Frame{
		Seq:   seq,
		Error: &Error{Code: code, Message: msg},
	}
}

// NewErrorFromErr creates an error frame from a Go error.
// It maps the error to the appropriate wire code using errors.ErrorToCode.
func NewErrorFromErr(seq uint64, err error) *Frame {
	return NewError(seq, errors.ErrorToCode(err), err.Error())
}

// NewErrorf creates an error frame with a formatted message.
func NewErrorf(seq uint64, code int32, format string, args ...any) *Frame {
	return NewError(seq, code, fmt.Sprintf(format, args...))
}
