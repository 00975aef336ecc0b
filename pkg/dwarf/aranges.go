package dwarf

import (
	"github.com/gostack/dwarfwalk/pkg/dwarf/util"
)

// ArangeSet is one compile unit's entry in the .debug_aranges
// accelerator table: the set of address ranges it covers, so a PC can
// be mapped to its owning unit without scanning every DIE tree
// (spec.md §4.5 supplemented feature).
type ArangeSet struct {
	UnitOffset int64
	Ranges     [][2]uint64
}

// RangesIndex is the parsed form of .debug_aranges.
type RangesIndex struct {
	Sets []ArangeSet
}

// UnitOffsetForPC returns the .debug_info offset of the unit whose
// aranges entry covers pc, if any.
func (idx *RangesIndex) UnitOffsetForPC(pc uint64) (int64, bool) {
	for _, set := range idx.Sets {
		for _, r := range set.Ranges {
			if pc >= r[0] && pc < r[1] {
				return set.UnitOffset, true
			}
		}
	}
	return 0, false
}

// HasRanges reports whether the object carried a non-empty
// .debug_aranges section.
func (info *Info) HasRanges() bool { return len(info.sec.Aranges) > 0 }

// Ranges lazily parses and caches .debug_aranges.
func (info *Info) Ranges() (*RangesIndex, error) {
	info.rangesOnce.Do(func() {
		info.rangesIdx, info.rangesErr = parseAranges(info.sec.Aranges)
	})
	return info.rangesIdx, info.rangesErr
}

// parseAranges decodes the sequence of address-range sets in
// .debug_aranges. Each set has a header (unit_length, version,
// debug_info_offset, address_size, segment_size) padded to a multiple
// of 2*address_size, followed by (address, length) tuples terminated
// by a (0, 0) pair.
func parseAranges(data []byte) (*RangesIndex, error) {
	idx := &RangesIndex{}
	if len(data) == 0 {
		return idx, nil
	}

	r := util.NewReader(data)
	for r.Off() < len(data) {
		setStart := r.Off()
		length, err := r.ReadInitialLength()
		if err != nil {
			return nil, WrapFormat(err, "aranges set at %#x: initial length", setStart)
		}
		setEnd := r.Off() + int(length)

		if _, err := r.Uint16(); err != nil { // version
			return nil, WrapFormat(err, "aranges set at %#x: version", setStart)
		}
		infoOff, err := r.Uint32()
		if err != nil {
			return nil, WrapFormat(err, "aranges set at %#x: debug_info offset", setStart)
		}
		addrSize, err := r.Uint8()
		if err != nil {
			return nil, WrapFormat(err, "aranges set at %#x: address size", setStart)
		}
		if _, err := r.Uint8(); err != nil { // segment_size, unsupported (assumed 0)
			return nil, WrapFormat(err, "aranges set at %#x: segment size", setStart)
		}

		// Tuples are aligned to a multiple of 2*address_size measured from
		// the start of the set.
		tupleAlign := 2 * int(addrSize)
		if tupleAlign > 0 {
			pad := (tupleAlign - (r.Off()-setStart)%tupleAlign) % tupleAlign
			if err := r.Skip(pad); err != nil {
				return nil, WrapFormat(err, "aranges set at %#x: padding", setStart)
			}
		}

		set := ArangeSet{UnitOffset: int64(infoOff)}
		for r.Off() < setEnd {
			addr, err := r.Address(int(addrSize))
			if err != nil {
				return nil, WrapFormat(err, "aranges set at %#x: address", setStart)
			}
			length, err := r.Address(int(addrSize))
			if err != nil {
				return nil, WrapFormat(err, "aranges set at %#x: length", setStart)
			}
			if addr == 0 && length == 0 {
				break
			}
			set.Ranges = append(set.Ranges, [2]uint64{addr, addr + length})
		}
		idx.Sets = append(idx.Sets, set)

		if err := r.Seek(setEnd); err != nil {
			return nil, WrapFormat(err, "aranges set at %#x: seek past set", setStart)
		}
	}
	return idx, nil
}
