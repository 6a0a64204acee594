// Package stream implements the buffered byte reader/writer described in
// spec.md section 4.3: a thin layer over a file handle with a
// caller-supplied buffer. The lexer reads its source file through a
// Reader; the later passes (parser, codegen, linker) exchange their
// results as in-memory values and do not go through this package.
package stream

import (
	"io"

	"github.com/mimic/mimic/internal/errs"
)

// File is the minimal handle Stream needs; internal/fat32.Handle and
// *os.File both satisfy it.
type File interface {
	io.Reader
	io.Writer
	Close() error
}

// Reader is a buffered read stream. getc/read refill the buffer from File
// when exhausted; eof tracks whether the underlying file is drained.
type Reader struct {
	f        File
	buf      []byte
	pos, end int
	eof      bool
}

// NewReader wraps f with a read buffer of bufSize bytes.
func NewReader(f File, bufSize int) *Reader {
	if bufSize <= 0 {
		bufSize = 512
	}
	return &Reader{f: f, buf: make([]byte, bufSize)}
}

func (r *Reader) refill() error {
	if r.pos < r.end {
		return nil
	}
	n, err := r.f.Read(r.buf)
	r.pos, r.end = 0, n
	if n == 0 {
		if err == io.EOF || err == nil {
			r.eof = true
			return nil
		}
		return errs.New(errs.IO, "stream refill: %v", err)
	}
	return nil
}

// Getc returns the next byte, or -1 at EOF.
func (r *Reader) Getc() (int, error) {
	if err := r.refill(); err != nil {
		return -1, err
	}
	if r.pos >= r.end {
		return -1, nil
	}
	b := r.buf[r.pos]
	r.pos++
	return int(b), nil
}

// Ungetc pushes the last byte back, but only within the current buffer
// (spec.md section 4.3: "only works within the current buffer").
func (r *Reader) Ungetc() bool {
	if r.pos == 0 {
		return false
	}
	r.pos--
	return true
}

// Read fills p from the stream, returning the number of bytes copied.
func (r *Reader) Read(p []byte) (int, error) {
	total := 0
	for total < len(p) {
		if err := r.refill(); err != nil {
			return total, err
		}
		if r.pos >= r.end {
			break
		}
		n := copy(p[total:], r.buf[r.pos:r.end])
		r.pos += n
		total += n
	}
	return total, nil
}

// Eof reports whether the stream has been fully drained.
func (r *Reader) Eof() bool { return r.eof && r.pos >= r.end }

// Close closes the underlying file.
func (r *Reader) Close() error { return r.f.Close() }

// Writer is a buffered write stream: putc appends to the buffer and
// flushes when full; flush writes any remainder; close flushes then closes.
type Writer struct {
	f   File
	buf []byte
	pos int
}

// NewWriter wraps f with a write buffer of bufSize bytes.
func NewWriter(f File, bufSize int) *Writer {
	if bufSize <= 0 {
		bufSize = 512
	}
	return &Writer{f: f, buf: make([]byte, bufSize)}
}

// Putc appends one byte, flushing the buffer first if it is full.
func (w *Writer) Putc(b byte) error {
	if w.pos == len(w.buf) {
		if err := w.Flush(); err != nil {
			return err
		}
	}
	w.buf[w.pos] = b
	w.pos++
	return nil
}

// Write appends p, flushing as needed.
func (w *Writer) Write(p []byte) (int, error) {
	for _, b := range p {
		if err := w.Putc(b); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// Flush writes any buffered bytes to the underlying file. Flush is
// idempotent: flushing twice in a row is equivalent to flushing once
// (spec.md section 8), since a flush with nothing buffered is a no-op.
func (w *Writer) Flush() error {
	if w.pos == 0 {
		return nil
	}
	if _, err := w.f.Write(w.buf[:w.pos]); err != nil {
		return errs.New(errs.IO, "stream flush: %v", err)
	}
	w.pos = 0
	return nil
}

// Close flushes then closes the underlying file.
func (w *Writer) Close() error {
	if err := w.Flush(); err != nil {
		return err
	}
	return w.f.Close()
}
