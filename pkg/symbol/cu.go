package symbol

import (
	"github.com/gostack/dwarfwalk/pkg/dwarf"
)

// CompileUnit is one DW_TAG_compile_unit, holding the functions parsed
// out of it (spec.md §4.3 "3.1.1 normal and partial compilation unit
// entries").
type CompileUnit struct {
	functions []*Function
	unit      *dwarf.Unit
	bi        *BinaryInfo
}

// Name returns the compile unit's DW_AT_name.
func (c *CompileUnit) Name() string { return c.unit.Name() }

// Functions returns every subprogram and inlined_subroutine found in
// this unit's DIE tree, nested ones included, in pre-order.
func (c *CompileUnit) Functions() []*Function { return c.functions }

// addLineRows folds one unit's line-number matrix into bi.Sources,
// keyed by file then line, the way the teacher's CompileUnit built
// bi.Sources row by row from a dwarf.LineReader.
func (c *CompileUnit) addLineRows() error {
	table, err := c.unit.LineTable()
	if err != nil {
		return WrapSymbol(err, "compile unit %q: line table", c.Name())
	}

	for i := range table.Rows {
		row := &table.Rows[i]
		if row.File == "" {
			continue
		}
		byLine, ok := c.bi.Sources[row.File]
		if !ok {
			byLine = make(map[int][]*LineRow)
			c.bi.Sources[row.File] = byLine
		}
		byLine[row.Line] = append(byLine[row.Line], &LineRow{Row: row, CU: c})
	}
	return nil
}
