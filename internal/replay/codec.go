package replay

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

const (
	stringAbsent  = 0x00
	stringPresent = 0x0b
)

var (
	ErrTruncated = errors.New("replay: truncated data")
	ErrBadString = errors.New("replay: bad string tag")
)

// Writer appends little-endian primitives to a growing buffer.
type Writer struct {
	buf bytes.Buffer
}

func (w *Writer) PutByte(b byte) { w.buf.WriteByte(b) }

func (w *Writer) PutUint16(v uint16) {
	w.buf.Write(binary.LittleEndian.AppendUint16(nil, v))
}

func (w *Writer) PutInt32(v int32) {
	w.buf.Write(binary.LittleEndian.AppendUint32(nil, uint32(v)))
}

// PutInt64 writes 8 raw bytes, not a varint.
func (w *Writer) PutInt64(v int64) {
	w.buf.Write(binary.LittleEndian.AppendUint64(nil, uint64(v)))
}

// PutULEB128 writes 7 bits per byte, least significant group first, with the
// high bit set on every byte but the last.
func (w *Writer) PutULEB128(v uint64) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		w.buf.WriteByte(b)
		if v == 0 {
			return
		}
	}
}

// PutString writes 0x00 for the empty string, otherwise 0x0b, the UTF-8
// byte length as ULEB128, and the bytes.
func (w *Writer) PutString(s string) {
	if s == "" {
		w.buf.WriteByte(stringAbsent)
		return
	}
	w.buf.WriteByte(stringPresent)
	w.PutULEB128(uint64(len(s)))
	w.buf.WriteString(s)
}

func (w *Writer) PutBytes(p []byte) { w.buf.Write(p) }

func (w *Writer) Len() int { return w.buf.Len() }

// Bytes returns the accumulated buffer. It aliases the writer's storage.
func (w *Writer) Bytes() []byte { return w.buf.Bytes() }

// Reader is the inverse of Writer.
type Reader struct {
	r *bytes.Reader
}

func NewReader(data []byte) *Reader {
	return &Reader{r: bytes.NewReader(data)}
}

func (r *Reader) read(n int) ([]byte, error) {
	p := make([]byte, n)
	if _, err := io.ReadFull(r.r, p); err != nil {
		return nil, ErrTruncated
	}
	return p, nil
}

func (r *Reader) Byte() (byte, error) {
	b, err := r.r.ReadByte()
	if err != nil {
		return 0, ErrTruncated
	}
	return b, nil
}

func (r *Reader) Uint16() (uint16, error) {
	p, err := r.read(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(p), nil
}

func (r *Reader) Int32() (int32, error) {
	p, err := r.read(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(p)), nil
}

func (r *Reader) Int64() (int64, error) {
	p, err := r.read(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(p)), nil
}

func (r *Reader) ULEB128() (uint64, error) {
	var v uint64
	for shift := uint(0); shift < 64; shift += 7 {
		b, err := r.Byte()
		if err != nil {
			return 0, err
		}
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, nil
		}
	}
	return 0, fmt.Errorf("replay: ULEB128 overflows 64 bits")
}

func (r *Reader) TaggedString() (string, error) {
	tag, err := r.Byte()
	if err != nil {
		return "", err
	}
	switch tag {
	case stringAbsent:
		return "", nil
	case stringPresent:
	default:
		return "", fmt.Errorf("%w: 0x%02x", ErrBadString, tag)
	}

	n, err := r.ULEB128()
	if err != nil {
		return "", err
	}
	if n > uint64(r.r.Len()) {
		return "", ErrTruncated
	}
	p, err := r.read(int(n))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(p) {
		return "", fmt.Errorf("%w: invalid UTF-8", ErrBadString)
	}
	return string(p), nil
}

func (r *Reader) Bytes(n int) ([]byte, error) {
	if n < 0 || n > r.r.Len() {
		return nil, ErrTruncated
	}
	return r.read(n)
}

// Remaining is the number of unread bytes.
func (r *Reader) Remaining() int { return r.r.Len() }
