package dwarf

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadUnitsIsolatesPerUnitFailures(t *testing.T) {
	good := buildSingleUnitProgram(t)

	// A second, malformed unit: version field claims an unsupported
	// DWARF version, appended after the good one.
	var bad bytes.Buffer
	bad.WriteByte(99) // version (low byte)
	bad.WriteByte(0)
	bad.Write(make([]byte, 4)) // abbrev offset
	bad.WriteByte(8)           // addr size

	var info bytes.Buffer
	info.Write(good.Info)
	var length [4]byte
	binary.LittleEndian.PutUint32(length[:], uint32(bad.Len()))
	info.Write(length[:])
	info.Write(bad.Bytes())

	dw := LoadInfo(Sections{Info: info.Bytes(), Abbrev: good.Abbrev})
	units, err := dw.LoadUnits()
	require.Error(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, "main", units[0].Root.Children[0].Name())
}

func TestAranges(t *testing.T) {
	var data bytes.Buffer
	var setBody bytes.Buffer
	setBody.WriteByte(2) // version
	setBody.WriteByte(0)
	var infoOff [4]byte
	binary.LittleEndian.PutUint32(infoOff[:], 0x0)
	setBody.Write(infoOff[:])
	setBody.WriteByte(8) // address size
	setBody.WriteByte(0) // segment size
	// padding to align to 2*8=16 from set start; header so far within
	// setBody is 2+4+1+1=8 bytes, plus the 4-byte length prefix makes 12
	// from the true set start, so 4 bytes of padding are needed.
	setBody.Write(make([]byte, 4))

	var addr, ln [8]byte
	binary.LittleEndian.PutUint64(addr[:], 0x1000)
	binary.LittleEndian.PutUint64(ln[:], 0x40)
	setBody.Write(addr[:])
	setBody.Write(ln[:])
	setBody.Write(make([]byte, 16)) // (0,0) terminator

	var length [4]byte
	binary.LittleEndian.PutUint32(length[:], uint32(setBody.Len()))
	data.Write(length[:])
	data.Write(setBody.Bytes())

	dw := LoadInfo(Sections{Aranges: data.Bytes()})
	require.True(t, dw.HasRanges())

	idx, err := dw.Ranges()
	require.NoError(t, err)
	require.Len(t, idx.Sets, 1)

	off, ok := idx.UnitOffsetForPC(0x1020)
	require.True(t, ok)
	assert.EqualValues(t, 0, off)

	_, ok = idx.UnitOffsetForPC(0x5000)
	assert.False(t, ok)
}

func TestPubnames(t *testing.T) {
	var data bytes.Buffer
	var setBody bytes.Buffer
	setBody.WriteByte(2) // version
	setBody.WriteByte(0)
	var unitOff, unitLen [4]byte
	binary.LittleEndian.PutUint32(unitOff[:], 0)
	binary.LittleEndian.PutUint32(unitLen[:], 0x100)
	setBody.Write(unitOff[:])
	setBody.Write(unitLen[:])

	var dieOff [4]byte
	binary.LittleEndian.PutUint32(dieOff[:], 0x29)
	setBody.Write(dieOff[:])
	setBody.WriteString("main")
	setBody.WriteByte(0)
	setBody.Write(make([]byte, 4)) // terminator

	var length [4]byte
	binary.LittleEndian.PutUint32(length[:], uint32(setBody.Len()))
	data.Write(length[:])
	data.Write(setBody.Bytes())

	dw := LoadInfo(Sections{Pubnames: data.Bytes()})
	idx, err := dw.PubNames()
	require.NoError(t, err)

	matches := idx.Lookup("main")
	require.Len(t, matches, 1)
	assert.EqualValues(t, 0x29, matches[0].DieOffset)

	assert.Empty(t, idx.Lookup("missing"))
}
