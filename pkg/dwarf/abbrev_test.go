package dwarf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAbbrevTable(t *testing.T) {
	var data []byte
	// code 1: DW_TAG_compile_unit, has children, DW_AT_name/DW_FORM_string
	data = append(data, 1, byte(TagCompileUnit), 1)
	data = append(data, byte(AttrName), byte(FormString))
	data = append(data, 0, 0)
	// code 2: DW_TAG_subprogram, no children, DW_AT_low_pc/addr, DW_AT_high_pc/data4
	data = append(data, 2, byte(TagSubprogram), 0)
	data = append(data, byte(AttrLowpc), byte(FormAddr))
	data = append(data, byte(AttrHighpc), byte(FormData4))
	data = append(data, 0, 0)
	data = append(data, 0) // table terminator

	tbl, err := parseAbbrevTable(data, 0)
	require.NoError(t, err)
	require.Len(t, tbl, 2)

	cu := tbl[1]
	assert.Equal(t, TagCompileUnit, cu.Tag)
	assert.True(t, cu.HasChildren)
	require.Len(t, cu.Fields, 1)
	assert.Equal(t, AttrName, cu.Fields[0].Attr)

	sub := tbl[2]
	assert.False(t, sub.HasChildren)
	require.Len(t, sub.Fields, 2)
	assert.Equal(t, AttrHighpc, sub.Fields[1].Attr)
}

func TestParseAbbrevTableDuplicateCodeFails(t *testing.T) {
	var data []byte
	data = append(data, 1, byte(TagCompileUnit), 0, 0, 0)
	data = append(data, 1, byte(TagSubprogram), 0, 0, 0)
	data = append(data, 0)

	_, err := parseAbbrevTable(data, 0)
	assert.Error(t, err)
}
