// Package symbol ties pkg/dwarf, pkg/dwarf/line and pkg/dwarf/frame
// together into a per-binary lookup layer: function and compile-unit
// tables, a PC-indexed line matrix, and the parsed call frame
// information, built once from an on-disk ELF executable (spec.md §1,
// §4.3, §4.4, §4.5).
package symbol

import (
	"debug/elf"
	"sort"
	"unsafe"

	"github.com/sirupsen/logrus"

	"github.com/gostack/dwarfwalk/pkg/dwarf"
	"github.com/gostack/dwarfwalk/pkg/dwarf/frame"
	"github.com/gostack/dwarfwalk/pkg/dwarf/line"
)

// LineRow pairs one line-number-matrix row with the compile unit that
// produced it, so a lookup can hand back both the source location and
// the unit it belongs to.
type LineRow struct {
	Row *line.Row
	CU  *CompileUnit
}

// BinaryInfo is the result of analyzing one executable's debug
// information.
type BinaryInfo struct {
	Sources      map[string]map[int][]*LineRow // key=filename, val=map[lineno]rows
	Functions    []*Function
	CompileUnits []*CompileUnit
	FdeEntries   frame.FrameDescriptionEntries

	Info *dwarf.Info

	path string
}

// log is the package-level logger; SetLogger redirects it (spec.md's
// ambient-stack requirement that library consumers can capture or
// silence diagnostics rather than have them go to stdout).
var log logrus.FieldLogger = logrus.StandardLogger()

// SetLogger overrides the logger used for lazy-cache population and
// recoverable per-unit diagnostics.
func SetLogger(l logrus.FieldLogger) { log = l }

// Analyze opens execFile, locates its DWARF sections and builds the
// full symbol/line/frame lookup layer (spec.md §1's object-under-
// analysis step).
func Analyze(execFile string) (*BinaryInfo, error) {
	file, err := elf.Open(execFile)
	if err != nil {
		return nil, WrapSymbol(err, "open %s", execFile)
	}
	defer file.Close()

	infoSec, err := getDebugSection(file, "info")
	if err != nil {
		return nil, err
	}
	abbrevSec, err := getDebugSection(file, "abbrev")
	if err != nil {
		return nil, err
	}
	lineSec, _ := getDebugSection(file, "line")
	strSec, _ := getDebugSection(file, "str")
	rangesSec, _ := getDebugSection(file, "ranges")
	arangesSec, _ := getDebugSection(file, "aranges")
	pubnamesSec, _ := getDebugSection(file, "pubnames")

	info := dwarf.LoadInfo(dwarf.Sections{
		Info:     infoSec,
		Abbrev:   abbrevSec,
		Str:      strSec,
		Line:     lineSec,
		Ranges:   rangesSec,
		Aranges:  arangesSec,
		Pubnames: pubnamesSec,
	})

	bi := &BinaryInfo{
		Sources: make(map[string]map[int][]*LineRow),
		Info:    info,
		path:    execFile,
	}

	if err := bi.parseUnits(info); err != nil {
		return nil, err
	}

	frameSec, err := getDebugSection(file, "frame")
	if err != nil {
		log.WithError(err).Warn("no .debug_frame section; stack unwinding will be unavailable")
		return bi, nil
	}

	order := frame.DwarfEndian(infoSec)
	ptrSize := int(unsafe.Sizeof(uintptr(0)))
	fdes, err := frame.Parse(frameSec, order, 0, ptrSize, false)
	if err != nil {
		return nil, WrapSymbol(err, "parse call frame information")
	}
	bi.FdeEntries = fdes

	return bi, nil
}

// getDebugSection returns the named DWARF section's (decompressed, if
// needed) bytes, trying both the uncompressed ".debug_*" and the
// legacy compressed ".zdebug_*" spelling.
func getDebugSection(f *elf.File, name string) ([]byte, error) {
	for _, prefix := range []string{".debug_", ".zdebug_"} {
		sec := f.Section(prefix + name)
		if sec == nil {
			continue
		}
		data, err := sec.Data()
		if err != nil {
			return nil, WrapSymbol(err, "read section %s", sec.Name)
		}
		return data, nil
	}
	return nil, newSymbolError("no .debug_%s / .zdebug_%s section", name, name)
}

// parseUnits walks every compilation unit's DIE tree, building
// CompileUnits, Functions and the per-file line matrix (spec.md §4.3,
// §4.4).
func (bi *BinaryInfo) parseUnits(info *dwarf.Info) error {
	units, err := info.LoadUnits()
	if err != nil {
		// Per-unit parse failures are isolated (spec.md §7); log and keep
		// whatever units did parse.
		log.WithError(err).Warn("some compilation units failed to parse")
	}

	for _, unit := range units {
		cu := &CompileUnit{unit: unit, bi: bi}
		bi.CompileUnits = append(bi.CompileUnits, cu)

		if err := cu.addLineRows(); err != nil {
			log.WithError(err).Warn("skipping line table")
		}

		bi.walkUnitTree(unit.Root, cu)
	}
	return nil
}

// walkUnitTree visits a compile unit's full DIE tree in pre-order,
// building one Function per DW_TAG_subprogram or
// DW_TAG_inlined_subroutine DIE (spec.md §4.3 "a DIE matches iff its
// tag is subprogram or inlined_subroutine") and attributing each
// DW_TAG_variable/DW_TAG_formal_parameter to the innermost function
// DIE currently open, tracked on a stack rather than a single "last
// function seen" pointer so a formal_parameter inside an
// inlined_subroutine is not mis-attributed to the enclosing
// subprogram once the walk returns to it. depth is the DIE's nesting
// depth below the unit root, recorded on Function for the "deepest
// match wins" rule in PCToFunction.
func (bi *BinaryInfo) walkUnitTree(root *dwarf.Entry, cu *CompileUnit) {
	var fnStack []*Function

	var walk func(e *dwarf.Entry, depth int)
	walk = func(e *dwarf.Entry, depth int) {
		var opened *Function
		switch e.Tag() {
		case dwarf.TagSubprogram, dwarf.TagInlinedSubroutine:
			fn, err := newFunction(e, cu, depth)
			if err != nil {
				log.WithError(err).Warn("skipping malformed subprogram")
				break
			}
			if fn.frameBase == nil && len(fnStack) > 0 {
				// An inlined_subroutine ordinarily carries no DW_AT_frame_base
				// of its own; a DW_OP_fbreg inside it still resolves against
				// the enclosing subprogram's frame base (spec.md §4.7).
				fn.frameBase = fnStack[len(fnStack)-1].frameBase
			}
			cu.functions = append(cu.functions, fn)
			bi.Functions = append(bi.Functions, fn)
			fnStack = append(fnStack, fn)
			opened = fn
		case dwarf.TagVariable:
			if len(fnStack) > 0 {
				cur := fnStack[len(fnStack)-1]
				cur.variables = append(cur.variables, e)
			}
		case dwarf.TagFormalParameter:
			if len(fnStack) > 0 {
				cur := fnStack[len(fnStack)-1]
				cur.parameters = append(cur.parameters, e)
			}
		}

		for _, c := range e.Children {
			walk(c, depth+1)
		}

		if opened != nil {
			fnStack = fnStack[:len(fnStack)-1]
		}
	}

	walk(root, 0)
}

// PCToFunction returns the function whose range covers pc. A
// subprogram and an inlined_subroutine nested inside it can both
// cover the same address; the deepest match wins, with ties (equal
// depth, which only arises between sibling ranges that should not
// overlap) broken by declaration order — the order Functions were
// appended while walking the DIE tree (spec.md §4.3).
func (bi *BinaryInfo) PCToFunction(pc uint64) (*Function, error) {
	var best *Function
	for _, f := range bi.Functions {
		if !f.ContainsPC(pc) {
			continue
		}
		if best == nil || f.Depth() > best.Depth() {
			best = f
		}
	}
	if best == nil {
		return nil, newSymbolError("no function covers pc %#x", pc)
	}
	return best, nil
}

// PCToFDE returns the call frame information entry covering pc.
func (bi *BinaryInfo) PCToFDE(pc uint64) (*frame.FrameDescriptionEntry, error) {
	if bi.FdeEntries == nil {
		return nil, newSymbolError("no call frame information loaded")
	}
	fde, err := bi.FdeEntries.FDEForPC(pc)
	if err != nil {
		return nil, WrapSymbol(err, "pc %#x", pc)
	}
	return fde, nil
}

// FileLineToPC resolves filename:lineno to the first matching row's
// address.
func (bi *BinaryInfo) FileLineToPC(filename string, lineno int) (uint64, error) {
	rows, ok := bi.Sources[filename]
	if !ok || len(rows[lineno]) == 0 {
		return 0, newSymbolError("no line table entry for %s:%d", filename, lineno)
	}
	return rows[lineno][0].Row.Address, nil
}

// FileLineToPCForBreakpoint resolves filename:lineno to the address a
// breakpoint should be set at: the first prologue-end row if one
// exists, otherwise the lowest address among the line's rows (spec.md
// §4.4 "breakpoint placement skips the prologue when marked").
func (bi *BinaryInfo) FileLineToPCForBreakpoint(filename string, lineno int) (uint64, error) {
	rows, ok := bi.Sources[filename]
	if !ok || len(rows[lineno]) == 0 {
		return 0, newSymbolError("no line table entry for %s:%d", filename, lineno)
	}

	for _, r := range rows[lineno] {
		if r.Row.PrologueEnd {
			return r.Row.Address, nil
		}
	}

	addr := rows[lineno][0].Row.Address
	for _, r := range rows[lineno][1:] {
		if r.Row.Address < addr {
			addr = r.Row.Address
		}
	}
	return addr, nil
}

// PCToFileLine returns the source location of the line-table row with
// the greatest address not exceeding pc, within the sequence pc
// actually falls in (spec.md §4.4 "source_from_addr": "binary search
// the matrix for the greatest row with address <= pc that is within an
// unfinished sequence"). It defers to each compile unit's own
// line.Table.SourceFromAddr rather than scanning bi.Sources, which
// merges every unit's rows — including EndSequence markers that carry
// forward the prior real file/line but mark unmapped padding between
// functions — into one flat map with no sequence boundaries left to
// check.
func (bi *BinaryInfo) PCToFileLine(pc uint64) (file string, lineno int, err error) {
	for _, cu := range bi.CompileUnits {
		table, terr := cu.unit.LineTable()
		if terr != nil {
			continue
		}
		if f, ln, ok := table.SourceFromAddr(pc); ok {
			return f, ln, nil
		}
	}
	return "", 0, newSymbolError("no source location for pc %#x", pc)
}

// SourceLine is one (file, line) entry returned by SourceLocations.
type SourceLine struct {
	File string
	Line int
}

// SourceLocations returns every (file, line) applicable to pc: the line
// table's own match, followed by the call-site location of each
// inlined_subroutine enclosing pc, outermost first (spec.md §6/§9
// "source_from_addr(pc) -> list<(file, line)> ... a list because
// inlined contexts may contribute multiple entries"). A non-inlined
// frame always gets exactly one entry.
func (bi *BinaryInfo) SourceLocations(pc uint64) ([]SourceLine, error) {
	file, lineNo, err := bi.PCToFileLine(pc)
	if err != nil {
		return nil, err
	}
	locs := []SourceLine{{File: file, Line: lineNo}}

	var inlined []*Function
	for _, f := range bi.Functions {
		if f.Inlined() && f.ContainsPC(pc) {
			inlined = append(inlined, f)
		}
	}
	sort.Slice(inlined, func(i, j int) bool { return inlined[i].Depth() < inlined[j].Depth() })

	for _, f := range inlined {
		if cf, cl, ok := f.CallSite(); ok {
			locs = append(locs, SourceLine{File: cf, Line: cl})
		}
	}
	return locs, nil
}
