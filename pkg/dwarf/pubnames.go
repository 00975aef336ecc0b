package dwarf

import (
	"github.com/gostack/dwarfwalk/pkg/dwarf/util"
)

// PubName is one entry of the .debug_pubnames accelerator table: a
// global or static name and the offset, within .debug_info, of the DIE
// that defines it (spec.md §4.5 supplemented feature).
type PubName struct {
	Name       string
	UnitOffset int64
	DieOffset  int64
}

// PubNamesIndex is the parsed form of .debug_pubnames, keyed for O(1)
// lookup by name.
type PubNamesIndex struct {
	byName map[string][]PubName
}

// Lookup returns every pubname entry matching name.
func (idx *PubNamesIndex) Lookup(name string) []PubName {
	return idx.byName[name]
}

// PubNames lazily parses and caches .debug_pubnames.
func (info *Info) PubNames() (*PubNamesIndex, error) {
	info.pubnamesOnce.Do(func() {
		info.pubnamesIdx, info.pubnamesErr = parsePubnames(info.sec.Pubnames)
	})
	return info.pubnamesIdx, info.pubnamesErr
}

// parsePubnames decodes the sequence of (unit-length, version,
// debug_info_offset, debug_info_length) headers each followed by
// (die_offset, name) pairs terminated by a zero offset. die_offset is
// the absolute offset of the named DIE within .debug_info, matching
// the layout emitted by mainstream toolchains.
func parsePubnames(data []byte) (*PubNamesIndex, error) {
	idx := &PubNamesIndex{byName: map[string][]PubName{}}
	if len(data) == 0 {
		return idx, nil
	}

	r := util.NewReader(data)
	for r.Off() < len(data) {
		setStart := r.Off()
		length, err := r.ReadInitialLength()
		if err != nil {
			return nil, WrapFormat(err, "pubnames set at %#x: initial length", setStart)
		}
		setEnd := r.Off() + int(length)

		if _, err := r.Uint16(); err != nil { // version
			return nil, WrapFormat(err, "pubnames set at %#x: version", setStart)
		}
		unitOff, err := r.Uint32()
		if err != nil {
			return nil, WrapFormat(err, "pubnames set at %#x: debug_info offset", setStart)
		}
		if _, err := r.Uint32(); err != nil { // debug_info_length, unused
			return nil, WrapFormat(err, "pubnames set at %#x: debug_info length", setStart)
		}

		for r.Off() < setEnd {
			dieOff, err := r.Uint32()
			if err != nil {
				return nil, WrapFormat(err, "pubnames set at %#x: die offset", setStart)
			}
			if dieOff == 0 {
				break
			}
			name, err := r.String()
			if err != nil {
				return nil, WrapFormat(err, "pubnames set at %#x: name", setStart)
			}
			pn := PubName{Name: name, UnitOffset: int64(unitOff), DieOffset: int64(dieOff)}
			idx.byName[name] = append(idx.byName[name], pn)
		}

		if err := r.Seek(setEnd); err != nil {
			return nil, WrapFormat(err, "pubnames set at %#x: seek past set", setStart)
		}
	}
	return idx, nil
}
