package util

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestULEB128(t *testing.T) {
	// spec.md §8 scenario 4.
	r := NewReader([]byte{0xe5, 0x8e, 0x26})
	v, err := r.ULEB128()
	require.NoError(t, err)
	assert.EqualValues(t, 624485, v)

	r = NewReader([]byte{0xc0, 0xbb, 0x78})
	v, err = r.ULEB128()
	require.NoError(t, err)
	assert.EqualValues(t, 1973696, v)
}

func TestSLEB128(t *testing.T) {
	r := NewReader([]byte{0xe5, 0x8e, 0x26})
	v, err := r.SLEB128()
	require.NoError(t, err)
	assert.EqualValues(t, 624485, v)

	r = NewReader([]byte{0xc0, 0xbb, 0x78})
	v, err = r.SLEB128()
	require.NoError(t, err)
	assert.EqualValues(t, -123456, v)
}

func TestULEB128SixteenBytesOK(t *testing.T) {
	data := make([]byte, 16)
	for i := range data[:15] {
		data[i] = 0xff
	}
	data[15] = 0x7f
	r := NewReader(data)
	_, err := r.ULEB128()
	assert.NoError(t, err)
}

func TestULEB128SeventeenBytesFails(t *testing.T) {
	data := make([]byte, 17)
	for i := range data {
		data[i] = 0xff
	}
	r := NewReader(data)
	_, err := r.ULEB128()
	assert.Error(t, err)
}

func TestReadInitialLength64BitFails(t *testing.T) {
	r := NewReader([]byte{0xff, 0xff, 0xff, 0xff})
	_, err := r.ReadInitialLength()
	assert.ErrorIs(t, err, ErrUnsupported64BitDwarf)
}

func TestReadInitialLength32Bit(t *testing.T) {
	r := NewReader([]byte{0x10, 0x00, 0x00, 0x00})
	v, err := r.ReadInitialLength()
	require.NoError(t, err)
	assert.EqualValues(t, 0x10, v)
}

func TestStringReadsPastLimitFails(t *testing.T) {
	r := NewReader([]byte{'a', 'b', 'c'})
	_, err := r.String()
	assert.Error(t, err)
	assert.Equal(t, 0, r.Off())
}

func TestBytesOutOfBoundsLeavesCursorUnchanged(t *testing.T) {
	r := NewReader([]byte{1, 2, 3})
	r.Skip(1)
	_, err := r.Bytes(10)
	assert.Error(t, err)
	assert.Equal(t, 1, r.Off())
}

func TestDecodeULEB128FromBuffer(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0xe5, 0x8e, 0x26})
	v, err := DecodeULEB128(buf)
	require.NoError(t, err)
	assert.EqualValues(t, 624485, v)
}

func TestDecodeSLEB128FromBuffer(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0xc0, 0xbb, 0x78})
	v, err := DecodeSLEB128(buf)
	require.NoError(t, err)
	assert.EqualValues(t, -123456, v)
}

func TestParseStringFromBuffer(t *testing.T) {
	buf := bytes.NewBuffer([]byte("hello\x00world"))
	s, err := ParseString(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", s)
}
