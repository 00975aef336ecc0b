package dwarf

import (
	"sort"
	"sync"

	"github.com/gostack/dwarfwalk/pkg/dwarf/util"
)

// Sections is the set of raw DWARF section bytes an Info is built from.
// Callers obtain these from an object file's section table (spec.md §6
// "Object file (consumed)"); this package never reads an object file
// itself.
type Sections struct {
	Info     []byte // .debug_info
	Abbrev   []byte // .debug_abbrev
	Str      []byte // .debug_str
	Line     []byte // .debug_line
	Ranges   []byte // .debug_ranges (DW_AT_ranges attribute values)
	Aranges  []byte // .debug_aranges (address-range accelerator table)
	Pubnames []byte // .debug_pubnames (name accelerator table)
}

type unitSpan struct {
	start, end int64
}

// Info owns every compilation unit (and through them their lazily
// parsed line-number tables) and the lazily populated aranges/pubnames
// indices (spec.md §3 "Ownership"). It holds no call frame
// information: .debug_frame is parsed separately, by pkg/dwarf/frame.
// It is not safe to mutate concurrently;
// concurrent reads of an already-populated Info are safe as long as no
// lazy cache is triggered for the first time concurrently (spec.md §5).
type Info struct {
	sec Sections

	scanOnce  atomicOnce
	scanErr   error
	unitSpans []unitSpan

	mu    sync.RWMutex
	units map[int64]*Unit

	rangesOnce atomicOnce
	rangesIdx  *RangesIndex
	rangesErr  error

	pubnamesOnce atomicOnce
	pubnamesIdx  *PubNamesIndex
	pubnamesErr  error
}

// LoadInfo constructs an Info over the given sections. Parsing of
// individual units is deferred until GetUnit/LoadUnits/Reader is
// called.
func LoadInfo(sec Sections) *Info {
	return &Info{sec: sec, units: map[int64]*Unit{}}
}

func (info *Info) ensureScanned() error {
	info.scanOnce.Do(func() {
		info.scanErr = info.scanUnits()
	})
	return info.scanErr
}

// scanUnits does a cheap pass over .debug_info recording each unit's
// (start, end) byte span without decoding any DIEs, so cross-unit
// reference resolution (unitContaining) and unit enumeration do not
// require parsing every unit's tree up front.
func (info *Info) scanUnits() error {
	r := util.NewReader(info.sec.Info)
	for r.Off() < len(info.sec.Info) {
		start := int64(r.Off())
		length, err := r.ReadInitialLength()
		if err != nil {
			return WrapFormat(err, "scan unit at %#x", start)
		}
		end := start + 4 + int64(length)
		info.unitSpans = append(info.unitSpans, unitSpan{start, end})
		if err := r.Seek(int(end)); err != nil {
			return WrapFormat(err, "scan unit at %#x: length %d overruns section", start, length)
		}
	}
	return nil
}

// GetUnit returns the fully parsed unit starting at the given absolute
// offset in .debug_info, parsing and caching it on first access
// (spec.md §3 "Unit construction is lazy and memoised keyed by
// offset").
func (info *Info) GetUnit(off int64) (*Unit, error) {
	info.mu.RLock()
	u, ok := info.units[off]
	info.mu.RUnlock()
	if ok {
		return u, nil
	}

	u, err := parseUnit(info, off)
	if err != nil {
		return nil, err
	}

	info.mu.Lock()
	defer info.mu.Unlock()
	if existing, ok := info.units[off]; ok {
		return existing, nil
	}
	info.units[off] = u
	return u, nil
}

// UnitIterator yields successive units in their on-disk order. A nil
// Unit with a nil error marks the end, matching the teacher's
// reader-style Next() convention.
type UnitIterator struct {
	info *Info
	idx  int
}

// Reader returns a lazy sequence over every compilation unit (spec.md
// §6 "Info::get_units()").
func (info *Info) Reader() (*UnitIterator, error) {
	if err := info.ensureScanned(); err != nil {
		return nil, err
	}
	return &UnitIterator{info: info}, nil
}

// Next returns the next unit, or (nil, nil) once exhausted.
func (it *UnitIterator) Next() (*Unit, error) {
	if it.idx >= len(it.info.unitSpans) {
		return nil, nil
	}
	span := it.info.unitSpans[it.idx]
	it.idx++
	return it.info.GetUnit(span.start)
}

// LoadUnits eagerly parses every unit, isolating per-unit format errors
// so that one malformed unit does not prevent the others from being
// usable (spec.md §7 policy). If the initial scan of .debug_info fails,
// that error is returned as is, with no units. Otherwise a non-nil
// error is a *github.com/hashicorp/go-multierror.Error combining every
// skipped unit's failure; it is safe to ignore and use the returned
// units.
func (info *Info) LoadUnits() ([]*Unit, error) {
	it, err := info.Reader()
	if err != nil {
		return nil, err
	}

	var units []*Unit
	var errs unitErrors
	for {
		u, err := it.Next()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if u == nil {
			break
		}
		units = append(units, u)
	}
	return units, errs.combined()
}

// unitContaining resolves an absolute .debug_info offset to the unit
// that contains it, via binary search over the span index built by
// scanUnits (spec.md §4.3 "referenced_entry" for absolute references).
func (info *Info) unitContaining(off int64) (*Unit, error) {
	if err := info.ensureScanned(); err != nil {
		return nil, err
	}
	spans := info.unitSpans
	idx := sort.Search(len(spans), func(i int) bool { return spans[i].start > off }) - 1
	if idx < 0 || off >= spans[idx].end {
		return nil, NewReferenceError("offset %#x is not within any unit", off)
	}
	return info.GetUnit(spans[idx].start)
}

// stringAt reads a null-terminated string from .debug_str at off
// (DW_FORM_strp).
func (info *Info) stringAt(off int64) (string, error) {
	r := util.NewReader(info.sec.Str)
	if err := r.Seek(int(off)); err != nil {
		return "", WrapFormat(err, "strp offset %#x", off)
	}
	s, err := r.String()
	if err != nil {
		return "", WrapFormat(err, "strp offset %#x", off)
	}
	return s, nil
}

// rangesAt resolves a DW_AT_ranges attribute on e to its list of
// [begin, end) PC ranges, following base-address-selection entries in
// .debug_ranges.
func (info *Info) rangesAt(e *Entry) ([][2]uint64, error) {
	v, ok := e.val(AttrRanges)
	if !ok {
		return nil, nil
	}
	off := int64(v.Uint)
	addrSize := e.Unit.AddrSize

	r := util.NewReader(info.sec.Ranges)
	if err := r.Seek(int(off)); err != nil {
		return nil, WrapFormat(err, "ranges offset %#x", off)
	}

	var base uint64
	if low, ok := e.Unit.Root.Uint64Attr(AttrLowpc); ok {
		base = low
	}
	maxAddr := uint64(0xffffffff)
	if addrSize == 8 {
		maxAddr = ^uint64(0)
	}

	var out [][2]uint64
	for {
		a, err := r.Address(addrSize)
		if err != nil {
			return nil, err
		}
		b, err := r.Address(addrSize)
		if err != nil {
			return nil, err
		}
		if a == 0 && b == 0 {
			break
		}
		if a == maxAddr {
			base = b
			continue
		}
		out = append(out, [2]uint64{base + a, base + b})
	}
	return out, nil
}

// unitErrors accumulates per-unit parse failures for LoadUnits.
type unitErrors []error

func (e unitErrors) combined() error {
	if len(e) == 0 {
		return nil
	}
	return newMultiUnitError(e)
}
