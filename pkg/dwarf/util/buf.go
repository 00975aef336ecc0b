// Package util implements the low level byte-cursor primitives shared by
// the DWARF unit parser, the line-number program, and the CFI decoder:
// fixed width integers, LEB128, null terminated strings and the DWARF
// "initial length" field.
package util

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// ErrBufferTooShort is returned whenever a read would advance the cursor
// past its limit. The cursor is left unchanged.
var ErrBufferTooShort = errors.New("buffer too short")

// ErrUnsupported64BitDwarf is returned by ReadInitialLength when the
// 32-bit initial-length field carries the 0xffffffff escape marking
// 64-bit DWARF, which this package does not support.
var ErrUnsupported64BitDwarf = errors.New("64-bit DWARF is not supported")

// Reader is a cursor over a fixed byte range. It never mutates the
// underlying slice; every read either advances off or fails leaving off
// untouched.
type Reader struct {
	data []byte
	off  int
}

// NewReader wraps data for cursor-style reading starting at offset 0.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Off returns the current cursor position.
func (r *Reader) Off() int { return r.off }

// Len returns the number of unread bytes.
func (r *Reader) Len() int { return len(r.data) - r.off }

// Seek repositions the cursor to an absolute offset within the range.
func (r *Reader) Seek(off int) error {
	if off < 0 || off > len(r.data) {
		return errors.Wrapf(ErrBufferTooShort, "seek to %d, len %d", off, len(r.data))
	}
	r.off = off
	return nil
}

// Skip advances the cursor by n bytes without interpreting them.
func (r *Reader) Skip(n int) error {
	if n < 0 || n > r.Len() {
		return ErrBufferTooShort
	}
	r.off += n
	return nil
}

// Bytes returns the next n bytes without copying and advances the cursor.
func (r *Reader) Bytes(n int) ([]byte, error) {
	if n < 0 || n > r.Len() {
		return nil, ErrBufferTooShort
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *Reader) uintN(n int) (uint64, error) {
	b, err := r.Bytes(n)
	if err != nil {
		return 0, err
	}
	var v uint64
	for i := n - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v, nil
}

// Uint8 reads one byte.
func (r *Reader) Uint8() (uint8, error) {
	v, err := r.uintN(1)
	return uint8(v), err
}

// Uint16 reads a 2-byte little-endian unsigned integer.
func (r *Reader) Uint16() (uint16, error) {
	v, err := r.uintN(2)
	return uint16(v), err
}

// Uint32 reads a 4-byte little-endian unsigned integer.
func (r *Reader) Uint32() (uint32, error) {
	v, err := r.uintN(4)
	return uint32(v), err
}

// Uint64 reads an 8-byte little-endian unsigned integer.
func (r *Reader) Uint64() (uint64, error) {
	return r.uintN(8)
}

// Int8/Int16/Int32/Int64 are the signed counterparts, sign-extended from
// the fixed little-endian width.
func (r *Reader) Int8() (int8, error) {
	v, err := r.Uint8()
	return int8(v), err
}

func (r *Reader) Int16() (int16, error) {
	v, err := r.Uint16()
	return int16(v), err
}

func (r *Reader) Int32() (int32, error) {
	v, err := r.Uint32()
	return int32(v), err
}

func (r *Reader) Int64() (int64, error) {
	v, err := r.Uint64()
	return int64(v), err
}

// Address reads an address-sized (4 or 8 byte) unsigned little-endian
// integer.
func (r *Reader) Address(ptrSize int) (uint64, error) {
	if ptrSize != 4 && ptrSize != 8 {
		return 0, errors.Errorf("unsupported address size %d", ptrSize)
	}
	return r.uintN(ptrSize)
}

// String reads a null-terminated string and advances past the NUL.
func (r *Reader) String() (string, error) {
	start := r.off
	for r.off < len(r.data) {
		if r.data[r.off] == 0 {
			s := string(r.data[start:r.off])
			r.off++
			return s, nil
		}
		r.off++
	}
	r.off = start
	return "", errors.Wrap(ErrBufferTooShort, "unterminated string")
}

// ULEB128 decodes an unsigned little-endian base-128 integer: 7 data bits
// per byte, high bit set means "more bytes follow". Values requiring more
// than 16 encoded bytes are rejected (spec boundary: 17th byte fails).
func (r *Reader) ULEB128() (uint64, error) {
	start := r.off
	var result uint64
	var shift uint
	for i := 0; i < 17; i++ {
		b, err := r.Uint8()
		if err != nil {
			r.off = start
			return 0, err
		}
		if i == 16 {
			r.off = start
			return 0, errors.New("ULEB128 exceeds 16 bytes")
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
	}
	r.off = start
	return 0, errors.New("ULEB128 exceeds 16 bytes")
}

// SLEB128 decodes a signed little-endian base-128 integer, sign-extending
// when the high bit of the final 7-bit group is set.
func (r *Reader) SLEB128() (int64, error) {
	start := r.off
	var result int64
	var shift uint
	var b uint8
	var err error
	for i := 0; i < 17; i++ {
		if i == 16 {
			r.off = start
			return 0, errors.New("SLEB128 exceeds 16 bytes")
		}
		b, err = r.Uint8()
		if err != nil {
			r.off = start
			return 0, err
		}
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	if shift < 64 && b&0x40 != 0 {
		result |= -1 << shift
	}
	return result, nil
}

// ReadInitialLength reads the DWARF "initial length" field: a 4-byte
// value, where 0xffffffff marks the unsupported 64-bit DWARF format.
func (r *Reader) ReadInitialLength() (uint32, error) {
	v, err := r.Uint32()
	if err != nil {
		return 0, err
	}
	if v == 0xffffffff {
		return 0, ErrUnsupported64BitDwarf
	}
	return v, nil
}

// ReadUintRaw reads a target-sized (ptrSize in {1,2,4,8}) unsigned
// integer using the given byte order from an io.Reader. Kept as a
// free function (rather than a Reader method) because the CFI decoder
// reads pointer-encoded fields from byte-order-parameterised sub-slices
// that are not always little-endian (.eh_frame pointer encodings).
func ReadUintRaw(r io.Reader, order binary.ByteOrder, ptrSize int) (uint64, error) {
	switch ptrSize {
	case 1:
		var x uint8
		if err := binary.Read(r, order, &x); err != nil {
			return 0, err
		}
		return uint64(x), nil
	case 2:
		var x uint16
		if err := binary.Read(r, order, &x); err != nil {
			return 0, err
		}
		return uint64(x), nil
	case 4:
		var x uint32
		if err := binary.Read(r, order, &x); err != nil {
			return 0, err
		}
		return uint64(x), nil
	case 8:
		var x uint64
		if err := binary.Read(r, order, &x); err != nil {
			return 0, err
		}
		return x, nil
	default:
		return 0, errors.Errorf("unsupported ptrSize %d", ptrSize)
	}
}

// ParseString reads a null-terminated string out of buf, the shape the
// CFI decoder's augmentation-string field needs (it reads directly off a
// *bytes.Buffer rather than a Reader).
func ParseString(buf *bytes.Buffer) (string, error) {
	s, err := buf.ReadString(0)
	if err != nil {
		return "", err
	}
	return s[:len(s)-1], nil
}

// DecodeULEB128 decodes an unsigned LEB128 integer directly from a
// *bytes.Buffer, the CFI decoder's preferred cursor type.
func DecodeULEB128(buf *bytes.Buffer) (uint64, error) {
	var (
		result uint64
		shift  uint64
	)
	for {
		b, err := buf.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
	}
	return result, nil
}

// DecodeSLEB128 decodes a signed LEB128 integer directly from a
// *bytes.Buffer, the CFI decoder's preferred cursor type.
func DecodeSLEB128(buf *bytes.Buffer) (int64, error) {
	var (
		result int64
		shift  uint64
		b      byte
		err    error
	)
	for {
		b, err = buf.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	if shift < 64 && b&0x40 != 0 {
		result |= -1 << shift
	}
	return result, nil
}
