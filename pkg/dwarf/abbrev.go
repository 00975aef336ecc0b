package dwarf

import (
	"github.com/pkg/errors"

	"github.com/gostack/dwarfwalk/pkg/dwarf/util"
)

// abbrevField is one (attribute, form) pair in an abbreviation's layout.
type abbrevField struct {
	Attr Attr
	Form Form
}

// abbrev is the decoded template shared by every DIE with the same
// abbreviation code within a unit: its tag, whether it has children,
// and the ordered (attribute, form) layout of its values.
type abbrev struct {
	Tag         Tag
	HasChildren bool
	Fields      []abbrevField
	// attrIndex maps an attribute name to its position in Fields, for
	// O(1) attribute lookup on a decoded DIE.
	attrIndex map[Attr]int
}

// abbrevTable is a unit's code -> abbrev mapping, parsed once from
// .debug_abbrev at the unit's abbreviation offset.
type abbrevTable map[uint64]*abbrev

// parseAbbrevTable reads a sequence of (code, tag, has-children,
// (name,form)*) records terminated by a code of 0. Each record's
// (name, form) list itself ends with (0, 0).
//
// Codes must be unique within a unit (spec.md §4.2 invariant); a
// duplicate code is a format error.
func parseAbbrevTable(data []byte, off int) (abbrevTable, error) {
	r := util.NewReader(data)
	if err := r.Seek(off); err != nil {
		return nil, errors.Wrap(err, "seek to abbrev offset")
	}

	table := abbrevTable{}
	for {
		code, err := r.ULEB128()
		if err != nil {
			return nil, errors.Wrap(err, "read abbrev code")
		}
		if code == 0 {
			return table, nil
		}
		if _, dup := table[code]; dup {
			return nil, errors.Errorf("duplicate abbreviation code %d", code)
		}

		tagv, err := r.ULEB128()
		if err != nil {
			return nil, errors.Wrap(err, "read abbrev tag")
		}
		hc, err := r.Uint8()
		if err != nil {
			return nil, errors.Wrap(err, "read abbrev has-children flag")
		}

		ab := &abbrev{Tag: Tag(tagv), HasChildren: hc != 0, attrIndex: map[Attr]int{}}
		for {
			attrv, err := r.ULEB128()
			if err != nil {
				return nil, errors.Wrap(err, "read abbrev attr name")
			}
			formv, err := r.ULEB128()
			if err != nil {
				return nil, errors.Wrap(err, "read abbrev attr form")
			}
			if attrv == 0 && formv == 0 {
				break
			}
			ab.attrIndex[Attr(attrv)] = len(ab.Fields)
			ab.Fields = append(ab.Fields, abbrevField{Attr: Attr(attrv), Form: Form(formv)})
		}
		table[code] = ab
	}
}
