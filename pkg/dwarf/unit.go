package dwarf

import (
	"github.com/gostack/dwarfwalk/pkg/dwarf/line"
	"github.com/gostack/dwarfwalk/pkg/dwarf/util"
)

// Unit is one compilation unit's debug information (spec.md §3). It
// owns its DIEs and its abbreviation sub-table; DIEs hold non-owning
// (unit, offset) references to siblings and cross-unit types.
type Unit struct {
	info *Info

	Offset    int64
	Length    uint32
	Version   uint16
	AbbrevOff uint64
	AddrSize  int

	Abbrevs     abbrevTable
	Root        *Entry
	dieByOffset map[int64]*Entry

	lineOnce  atomicOnce
	lineTable *line.Table
	lineErr   error
}

// End returns the absolute offset one past this unit's last byte.
func (u *Unit) End() int64 { return u.Offset + 4 + int64(u.Length) }

// dieAt looks up a DIE by its offset within this unit's flat index.
// O(1) via the map; the spec only requires O(log n).
func (u *Unit) dieAt(off int64) (*Entry, error) {
	e, ok := u.dieByOffset[off]
	if !ok {
		return nil, NewReferenceError("unit %#x: no DIE at offset %#x", u.Offset, off)
	}
	return e, nil
}

// parseUnit decodes one compilation unit's header and full DIE tree
// starting at the absolute offset off within info.sec.Info (spec.md
// §4.3).
func parseUnit(info *Info, off int64) (*Unit, error) {
	r := util.NewReader(info.sec.Info)
	if err := r.Seek(int(off)); err != nil {
		return nil, WrapFormat(err, "unit at %#x", off)
	}

	length, err := r.ReadInitialLength()
	if err != nil {
		return nil, WrapFormat(err, "unit at %#x: initial length", off)
	}
	unitEnd := off + 4 + int64(length)

	version, err := r.Uint16()
	if err != nil {
		return nil, WrapFormat(err, "unit at %#x: version", off)
	}
	if version < 2 || version > 4 {
		return nil, NewFormatError("unit at %#x: unsupported DWARF version %d", off, version)
	}

	abbrevOff, err := r.Uint32()
	if err != nil {
		return nil, WrapFormat(err, "unit at %#x: abbrev offset", off)
	}
	addrSize, err := r.Uint8()
	if err != nil {
		return nil, WrapFormat(err, "unit at %#x: address size", off)
	}
	if addrSize != 4 && addrSize != 8 {
		return nil, NewFormatError("unit at %#x: unsupported address size %d", off, addrSize)
	}

	abbrevs, err := parseAbbrevTable(info.sec.Abbrev, int(abbrevOff))
	if err != nil {
		return nil, WrapFormat(err, "unit at %#x: abbrev table", off)
	}

	u := &Unit{
		info:        info,
		Offset:      off,
		Length:      length,
		Version:     version,
		AbbrevOff:   uint64(abbrevOff),
		AddrSize:    int(addrSize),
		Abbrevs:     abbrevs,
		dieByOffset: map[int64]*Entry{},
	}

	entries, err := u.parseDIEs(r, unitEnd)
	if err != nil {
		return nil, err
	}
	if len(entries) != 1 {
		return nil, NewFormatError("unit at %#x: expected exactly one root DIE, got %d", off, len(entries))
	}
	u.Root = entries[0]
	return u, nil
}

// parseDIEs reads a sibling list: repeated (abbrev-code, values...,
// children...) records until either a zero code (explicit terminator,
// used by nested sibling lists) or end is reached (used by the
// top-level list, which the unit length bounds exactly).
func (u *Unit) parseDIEs(r *util.Reader, end int64) ([]*Entry, error) {
	var list []*Entry
	for int64(r.Off()) < end {
		dieOff := int64(r.Off())
		code, err := r.ULEB128()
		if err != nil {
			return nil, WrapFormat(err, "unit %#x: die %#x: abbrev code", u.Offset, dieOff)
		}
		if code == 0 {
			return list, nil
		}

		ab, ok := u.Abbrevs[code]
		if !ok {
			return nil, NewReferenceError("unit %#x: die %#x: unknown abbreviation code %d", u.Offset, dieOff, code)
		}

		e := &Entry{Unit: u, Offset: dieOff, ab: ab, Values: make([]Value, len(ab.Fields))}
		for i, f := range ab.Fields {
			v, err := decodeValue(r, u, f.Form)
			if err != nil {
				return nil, WrapFormat(err, "unit %#x: die %#x: attr %#x", u.Offset, dieOff, uint32(f.Attr))
			}
			e.Values[i] = v
		}

		// Inserted before children are read so forward sibling/child
		// references within this unit resolve (spec.md §4.3).
		u.dieByOffset[dieOff] = e

		if ab.HasChildren {
			children, err := u.parseDIEs(r, end)
			if err != nil {
				return nil, err
			}
			for _, c := range children {
				c.Parent = e
			}
			e.Children = children
		}

		list = append(list, e)
	}
	return list, nil
}

// LineTable lazily builds and caches this unit's line-number matrix
// (spec.md §4.4, §5 "line matrix is lazily built per unit").
func (u *Unit) LineTable() (*line.Table, error) {
	u.lineOnce.Do(func() {
		stmtOff, ok := u.Root.Uint64Attr(AttrStmtList)
		if !ok {
			u.lineTable = &line.Table{}
			return
		}
		compDir, _ := u.Root.StringAttr(AttrCompDir)
		u.lineTable, u.lineErr = line.Parse(u.info.sec.Line, int64(stmtOff), compDir, u.AddrSize)
	})
	return u.lineTable, u.lineErr
}

// Name returns the compile unit's DW_AT_name, or "" if absent.
func (u *Unit) Name() string {
	if u.Root == nil {
		return ""
	}
	return u.Root.Name()
}
