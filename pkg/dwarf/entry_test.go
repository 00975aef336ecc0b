package dwarf

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeULEB128 appends the unsigned LEB128 encoding of v to buf.
func writeULEB128(buf *bytes.Buffer, v uint64) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		buf.WriteByte(b)
		if v == 0 {
			return
		}
	}
}

// buildSingleUnitProgram assembles the .debug_info/.debug_abbrev bytes
// for scenario 1 (spec.md §8): one compile unit whose only child is a
// subprogram DIE named "main" with low_pc=0x1000 and high_pc of form
// data4 (offset from low_pc).
func buildSingleUnitProgram(t *testing.T) Sections {
	t.Helper()

	var abbrev bytes.Buffer
	// code 1: compile_unit, has children, no attrs.
	abbrev.WriteByte(1)
	writeULEB128(&abbrev, uint64(TagCompileUnit))
	abbrev.WriteByte(1)
	abbrev.WriteByte(0)
	abbrev.WriteByte(0)
	// code 2: subprogram, no children, name/string, low_pc/addr, high_pc/data4.
	abbrev.WriteByte(2)
	writeULEB128(&abbrev, uint64(TagSubprogram))
	abbrev.WriteByte(0)
	writeULEB128(&abbrev, uint64(AttrName))
	writeULEB128(&abbrev, uint64(FormString))
	writeULEB128(&abbrev, uint64(AttrLowpc))
	writeULEB128(&abbrev, uint64(FormAddr))
	writeULEB128(&abbrev, uint64(AttrHighpc))
	writeULEB128(&abbrev, uint64(FormData4))
	abbrev.WriteByte(0)
	abbrev.WriteByte(0)
	abbrev.WriteByte(0) // table terminator

	var body bytes.Buffer
	body.WriteByte(1) // root: compile_unit
	body.WriteByte(2) // child: subprogram
	body.WriteString("main")
	body.WriteByte(0)
	var lowpc [8]byte
	binary.LittleEndian.PutUint64(lowpc[:], 0x1000)
	body.Write(lowpc[:])
	var highpc [4]byte
	binary.LittleEndian.PutUint32(highpc[:], 0x40) // high_pc = low_pc + 0x40
	body.Write(highpc[:])
	body.WriteByte(0) // end of root's children

	var unit bytes.Buffer
	unit.WriteByte(4) // version
	unit.WriteByte(0)
	var abbrevOff [4]byte // abbrev offset 0
	unit.Write(abbrevOff[:])
	unit.WriteByte(8) // address size
	unit.Write(body.Bytes())

	var info bytes.Buffer
	var length [4]byte
	binary.LittleEndian.PutUint32(length[:], uint32(unit.Len()))
	info.Write(length[:])
	info.Write(unit.Bytes())

	return Sections{Info: info.Bytes(), Abbrev: abbrev.Bytes()}
}

func TestSingleUnitSubprogramLookup(t *testing.T) {
	sec := buildSingleUnitProgram(t)
	dw := LoadInfo(sec)

	units, err := dw.LoadUnits()
	require.NoError(t, err)
	require.Len(t, units, 1)

	root := units[0].Root
	require.Len(t, root.Children, 1)
	sub := root.Children[0]

	assert.Equal(t, TagSubprogram, sub.Tag())
	assert.Equal(t, "main", sub.Name())

	ranges, err := sub.PCRanges()
	require.NoError(t, err)
	require.Len(t, ranges, 1)
	assert.Equal(t, [2]uint64{0x1000, 0x1040}, ranges[0])

	contains, err := sub.ContainsPC(0x1020)
	require.NoError(t, err)
	assert.True(t, contains)

	contains, err = sub.ContainsPC(0x2000)
	require.NoError(t, err)
	assert.False(t, contains)
}

// buildCrossUnitProgram assembles two back-to-back compile units for
// scenario 2 (spec.md §8): unit A has a DIE whose DW_AT_type is a
// ref_addr pointing at unit B's "int" base_type DIE.
func buildCrossUnitProgram(t *testing.T) (sec Sections, typeRefOff int64) {
	t.Helper()

	var abbrevA bytes.Buffer
	abbrevA.WriteByte(1) // root: compile_unit, has children, no attrs
	writeULEB128(&abbrevA, uint64(TagCompileUnit))
	abbrevA.WriteByte(1)
	abbrevA.WriteByte(0)
	abbrevA.WriteByte(0)
	abbrevA.WriteByte(2) // child: variable, no children, DW_AT_type/ref_addr
	writeULEB128(&abbrevA, uint64(TagVariable))
	abbrevA.WriteByte(0)
	writeULEB128(&abbrevA, uint64(AttrType))
	writeULEB128(&abbrevA, uint64(FormRefAddr))
	abbrevA.WriteByte(0)
	abbrevA.WriteByte(0)
	abbrevA.WriteByte(0) // terminator

	var abbrevB bytes.Buffer
	abbrevB.WriteByte(1) // root: base_type, no children, DW_AT_name/string
	writeULEB128(&abbrevB, uint64(TagBaseType))
	abbrevB.WriteByte(0)
	writeULEB128(&abbrevB, uint64(AttrName))
	writeULEB128(&abbrevB, uint64(FormString))
	abbrevB.WriteByte(0)
	abbrevB.WriteByte(0)
	abbrevB.WriteByte(0) // terminator

	abbrevAOff := 0
	abbrevBOff := abbrevA.Len()
	var abbrevSec bytes.Buffer
	abbrevSec.Write(abbrevA.Bytes())
	abbrevSec.Write(abbrevB.Bytes())

	// Unit B built first so its root DIE's absolute offset is known
	// before encoding unit A's reference to it.
	var bodyB bytes.Buffer
	bodyB.WriteByte(1) // root: base_type
	bodyB.WriteString("int")
	bodyB.WriteByte(0)

	var unitB bytes.Buffer
	unitB.WriteByte(4)
	unitB.WriteByte(0)
	var abbrevBOffBytes [4]byte
	binary.LittleEndian.PutUint32(abbrevBOffBytes[:], uint32(abbrevBOff))
	unitB.Write(abbrevBOffBytes[:])
	unitB.WriteByte(8)
	unitB.Write(bodyB.Bytes())

	const unitHeaderSize = 4 + 2 + 4 + 1 // length + version + abbrev_off + addr_size

	var bodyA bytes.Buffer
	bodyA.WriteByte(1) // root: compile_unit
	bodyA.WriteByte(2) // child: variable

	// unitB starts right after unit A's complete encoding (length prefix
	// included); compute unit A's total length up front so unitBStart is
	// known before writing the ref_addr value.
	// unit A body so far = root code (1) + child code (1) + ref_addr (4) + children terminator (1)
	provisionalBodyLen := 1 + 1 + 4 + 1
	unitALen := 2 + 4 + 1 + provisionalBodyLen // version+abbrev_off+addr_size + body
	unitAStart := 0
	unitAEnd := unitAStart + 4 + unitALen
	unitBStart := unitAEnd
	bTypeDieOff := int64(unitBStart) + unitHeaderSize

	var refAddrBytes [4]byte
	binary.LittleEndian.PutUint32(refAddrBytes[:], uint32(bTypeDieOff))
	bodyA.Write(refAddrBytes[:])
	bodyA.WriteByte(0) // end of root's children

	var unitA bytes.Buffer
	unitA.WriteByte(4)
	unitA.WriteByte(0)
	var abbrevAOffBytes [4]byte
	binary.LittleEndian.PutUint32(abbrevAOffBytes[:], uint32(abbrevAOff))
	unitA.Write(abbrevAOffBytes[:])
	unitA.WriteByte(8)
	unitA.Write(bodyA.Bytes())
	require.Equal(t, unitALen, unitA.Len())

	var info bytes.Buffer
	var lenA [4]byte
	binary.LittleEndian.PutUint32(lenA[:], uint32(unitA.Len()))
	info.Write(lenA[:])
	info.Write(unitA.Bytes())

	var lenB [4]byte
	binary.LittleEndian.PutUint32(lenB[:], uint32(unitB.Len()))
	info.Write(lenB[:])
	info.Write(unitB.Bytes())

	return Sections{Info: info.Bytes(), Abbrev: abbrevSec.Bytes()}, bTypeDieOff
}

func TestCrossUnitReferenceResolution(t *testing.T) {
	sec, typeOff := buildCrossUnitProgram(t)
	dw := LoadInfo(sec)

	units, err := dw.LoadUnits()
	require.NoError(t, err)
	require.Len(t, units, 2)

	unitA := units[0]
	variable := unitA.Root.Children[0]
	require.Equal(t, TagVariable, variable.Tag())

	target, err := variable.RefAttr(AttrType)
	require.NoError(t, err)
	assert.Equal(t, "int", target.Name())
	assert.Equal(t, typeOff, target.Offset)
}
