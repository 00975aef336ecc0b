package dwarf

import (
	"github.com/pkg/errors"

	"github.com/gostack/dwarfwalk/pkg/dwarf/util"
)

// ValueKind discriminates the tagged union an attribute's form decodes
// into (spec.md §3 "Attribute value").
type ValueKind int

const (
	KindAddress ValueKind = iota
	KindUint
	KindInt
	KindFlag
	KindBlock
	KindString
	KindRef
)

// Block is a byte range into .debug_info, stored as (offset, length)
// rather than copied (spec.md §4.3 form decoding rules for block*).
type Block struct {
	Off int64
	Len int64
}

// Ref is a reference attribute value: either relative to the owning
// unit's start offset, or an absolute offset into .debug_info.
type Ref struct {
	Absolute bool
	Off      int64
}

// Value is the decoded form of one attribute: exactly one of the fields
// below is meaningful, selected by Kind.
type Value struct {
	Kind  ValueKind
	Addr  uint64
	Uint  uint64
	Int   int64
	Flag  bool
	Block Block
	Str   string
	Ref   Ref
}

// Entry is a single debugging information entry (DIE). Its identity is
// the pair (Unit, Offset); Values[i] is interpreted through the
// entry's own abbreviation, ab.Fields[i].
type Entry struct {
	Unit     *Unit
	Offset   int64
	ab       *abbrev
	Values   []Value
	Parent   *Entry
	Children []*Entry
}

// Tag returns the entry's DW_TAG.
func (e *Entry) Tag() Tag { return e.ab.Tag }

// val returns the raw Value for attr and whether it is present.
func (e *Entry) val(attr Attr) (Value, bool) {
	idx, ok := e.ab.attrIndex[attr]
	if !ok {
		return Value{}, false
	}
	return e.Values[idx], true
}

// Uint64Attr reads an attribute as an unsigned integer, regardless of
// whether its form decoded to KindUint or KindAddress (both are
// unsigned scalars on disk).
func (e *Entry) Uint64Attr(attr Attr) (uint64, bool) {
	v, ok := e.val(attr)
	if !ok {
		return 0, false
	}
	switch v.Kind {
	case KindUint:
		return v.Uint, true
	case KindAddress:
		return v.Addr, true
	case KindInt:
		return uint64(v.Int), true
	}
	return 0, false
}

// StringAttr reads a string-valued attribute (DW_FORM_string or strp).
func (e *Entry) StringAttr(attr Attr) (string, bool) {
	v, ok := e.val(attr)
	if !ok || v.Kind != KindString {
		return "", false
	}
	return v.Str, true
}

// FlagAttr reads a boolean-valued attribute.
func (e *Entry) FlagAttr(attr Attr) (bool, bool) {
	v, ok := e.val(attr)
	if !ok || v.Kind != KindFlag {
		return false, false
	}
	return v.Flag, true
}

// BlockAttr reads a block/exprloc-valued attribute.
func (e *Entry) BlockAttr(attr Attr) (Block, bool) {
	v, ok := e.val(attr)
	if !ok || v.Kind != KindBlock {
		return Block{}, false
	}
	return v.Block, true
}

// Name returns the DW_AT_name attribute, or "" if absent.
func (e *Entry) Name() string {
	s, _ := e.StringAttr(AttrName)
	return s
}

// RefAttr resolves a reference-valued attribute to the entry it points
// at. Unit-local references are looked up in the owning unit's offset
// index; absolute references are routed through the Info registry,
// which binary-searches units by starting offset (spec.md §4.3
// "referenced_entry").
func (e *Entry) RefAttr(attr Attr) (*Entry, error) {
	v, ok := e.val(attr)
	if !ok || v.Kind != KindRef {
		return nil, errors.Errorf("entry at %#x has no reference attribute %v", e.Offset, attr)
	}
	var off int64
	if v.Ref.Absolute {
		off = v.Ref.Off
		unit, err := e.Unit.info.unitContaining(off)
		if err != nil {
			return nil, WrapReference(err, "resolve absolute ref %#x", off)
		}
		target, err := unit.dieAt(off)
		if err != nil {
			return nil, WrapReference(err, "resolve absolute ref %#x", off)
		}
		return target, nil
	}
	off = e.Unit.Offset + v.Ref.Off
	target, err := e.Unit.dieAt(off)
	if err != nil {
		return nil, WrapReference(err, "resolve unit-local ref %#x", off)
	}
	return target, nil
}

// PCRanges returns the set of [low, high) PC ranges a subprogram or
// inlined_subroutine DIE covers, preferring DW_AT_ranges over
// low_pc/high_pc when both are present (spec.md §9 open question,
// resolved in DESIGN.md).
func (e *Entry) PCRanges() ([][2]uint64, error) {
	if _, ok := e.val(AttrRanges); ok {
		return e.Unit.info.rangesAt(e)
	}

	lowv, lowOK := e.val(AttrLowpc)
	highv, highOK := e.val(AttrHighpc)
	if !lowOK || !highOK {
		return nil, nil
	}
	low := lowv.Addr
	if lowv.Kind == KindUint {
		low = lowv.Uint
	}

	var high uint64
	switch highv.Kind {
	case KindAddress:
		// DW_FORM_addr: absolute.
		high = highv.Addr
	default:
		// DW_FORM_data*: offset from low_pc.
		high = low + highv.Uint
	}
	return [][2]uint64{{low, high}}, nil
}

// ContainsPC reports whether pc falls within one of the entry's PC
// ranges.
func (e *Entry) ContainsPC(pc uint64) (bool, error) {
	ranges, err := e.PCRanges()
	if err != nil {
		return false, err
	}
	for _, r := range ranges {
		if pc >= r[0] && pc < r[1] {
			return true, nil
		}
	}
	return false, nil
}

// ExprBytes reads a block/exprloc-valued attribute's raw bytes: the
// form DW_AT_frame_base and DW_AT_location values are stored in
// (spec.md §4.7), ready to hand to the expression evaluator.
func (e *Entry) ExprBytes(attr Attr) ([]byte, bool) {
	b, ok := e.BlockAttr(attr)
	if !ok {
		return nil, false
	}
	data := e.Unit.info.sec.Info
	if b.Off < 0 || b.Len < 0 || b.Off+b.Len > int64(len(data)) {
		return nil, false
	}
	return data[b.Off : b.Off+b.Len], true
}

// decodeValue reads one attribute's value from r according to form,
// per spec.md §4.3's form decoding rules.
func decodeValue(r *util.Reader, unit *Unit, form Form) (Value, error) {
	switch form {
	case FormAddr:
		a, err := r.Address(unit.AddrSize)
		return Value{Kind: KindAddress, Addr: a}, err

	case FormData1:
		v, err := r.Uint8()
		return Value{Kind: KindUint, Uint: uint64(v)}, err
	case FormData2:
		v, err := r.Uint16()
		return Value{Kind: KindUint, Uint: uint64(v)}, err
	case FormData4:
		v, err := r.Uint32()
		return Value{Kind: KindUint, Uint: uint64(v)}, err
	case FormData8:
		v, err := r.Uint64()
		return Value{Kind: KindUint, Uint: v}, err
	case FormUdata:
		v, err := r.ULEB128()
		return Value{Kind: KindUint, Uint: v}, err
	case FormSdata:
		v, err := r.SLEB128()
		return Value{Kind: KindInt, Int: v}, err

	case FormFlag:
		v, err := r.Uint8()
		return Value{Kind: KindFlag, Flag: v != 0}, err
	case FormFlagPresent:
		return Value{Kind: KindFlag, Flag: true}, nil

	case FormString:
		s, err := r.String()
		return Value{Kind: KindString, Str: s}, err
	case FormStrp:
		off, err := r.Uint32()
		if err != nil {
			return Value{}, err
		}
		s, err := unit.info.stringAt(int64(off))
		return Value{Kind: KindString, Str: s}, err

	case FormBlock1, FormBlock2, FormBlock4, FormBlock, FormExprloc:
		var n uint64
		var err error
		switch form {
		case FormBlock1:
			var v uint8
			v, err = r.Uint8()
			n = uint64(v)
		case FormBlock2:
			var v uint16
			v, err = r.Uint16()
			n = uint64(v)
		case FormBlock4:
			var v uint32
			v, err = r.Uint32()
			n = uint64(v)
		default: // FormBlock, FormExprloc
			n, err = r.ULEB128()
		}
		if err != nil {
			return Value{}, err
		}
		off := int64(r.Off())
		if err := r.Skip(int(n)); err != nil {
			return Value{}, err
		}
		return Value{Kind: KindBlock, Block: Block{Off: off, Len: int64(n)}}, nil

	case FormRef1:
		v, err := r.Uint8()
		return Value{Kind: KindRef, Ref: Ref{Off: int64(v)}}, err
	case FormRef2:
		v, err := r.Uint16()
		return Value{Kind: KindRef, Ref: Ref{Off: int64(v)}}, err
	case FormRef4:
		v, err := r.Uint32()
		return Value{Kind: KindRef, Ref: Ref{Off: int64(v)}}, err
	case FormRef8:
		v, err := r.Uint64()
		return Value{Kind: KindRef, Ref: Ref{Off: int64(v)}}, err
	case FormRefUdata:
		v, err := r.ULEB128()
		return Value{Kind: KindRef, Ref: Ref{Off: int64(v)}}, err
	case FormRefAddr:
		v, err := r.Uint32()
		return Value{Kind: KindRef, Ref: Ref{Absolute: true, Off: int64(v)}}, err

	case FormSecOffset:
		v, err := r.Uint32()
		return Value{Kind: KindUint, Uint: uint64(v)}, err

	default:
		return Value{}, NewFormatError("unsupported form %#x", uint32(form))
	}
}
