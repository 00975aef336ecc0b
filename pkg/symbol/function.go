package symbol

import (
	"github.com/gostack/dwarfwalk/pkg/dwarf"
)

// Function is one subprogram or inlined_subroutine DIE, flattened into the fields the stack
// walker and symbolizer need (spec.md §4.3 "3.3 subroutine and entry
// point entries").
type Function struct {
	name      string
	ranges    [][2]uint64
	frameBase []byte
	declFile  int64
	external  bool

	entry      *dwarf.Entry
	variables  []*dwarf.Entry
	parameters []*dwarf.Entry
	depth      int
	cu         *CompileUnit
}

// Name returns the function's DW_AT_name.
func (f *Function) Name() string { return f.name }

// Variables returns the DW_TAG_variable DIEs nested anywhere under the
// function's DIE, lexical blocks included, except those under a nested
// subprogram or inlined_subroutine, which belong to that function.
func (f *Function) Variables() []*dwarf.Entry { return f.variables }

// Parameters returns the DW_TAG_formal_parameter DIEs nested under the
// function's DIE, in DIE order, except those under a nested subprogram
// or inlined_subroutine, which belong to that function. Each one's DW_AT_location
// is the expression the stack walker evaluates to produce an argument
// value (spec.md §1/§2/§9: arguments are printed "via the expression
// evaluator").
func (f *Function) Parameters() []*dwarf.Entry { return f.parameters }

// Depth is the DIE's nesting depth within its compile unit's root
// (1 for a subprogram directly under the root, deeper for an inlined_subroutine
// nested inside another subprogram). PCToFunction uses it to prefer the
// deepest match when an address falls inside both an outer subprogram
// and an inlined call site within it (spec.md §4.3).
func (f *Function) Depth() int { return f.depth }

// Inlined reports whether this entry is a DW_TAG_inlined_subroutine
// rather than a top-level DW_TAG_subprogram.
func (f *Function) Inlined() bool { return f.entry.Tag() == dwarf.TagInlinedSubroutine }

// CallSite returns the (file, line) recorded on an inlined_subroutine
// DIE's DW_AT_call_file/DW_AT_call_line — the location of the call that
// got inlined, as distinct from the inlined body's own location in the
// line table (spec.md §6/§9 source_from_addr: "a list because inlined
// contexts may contribute multiple entries"). ok is false for a
// top-level subprogram, or an inlined_subroutine missing either
// attribute.
func (f *Function) CallSite() (file string, line int, ok bool) {
	if !f.Inlined() {
		return "", 0, false
	}
	fileIdx, hasFile := f.entry.Uint64Attr(dwarf.AttrCallFile)
	lineNo, hasLine := f.entry.Uint64Attr(dwarf.AttrCallLine)
	if !hasFile || !hasLine {
		return "", 0, false
	}
	table, err := f.cu.unit.LineTable()
	if err != nil {
		return "", 0, false
	}
	return table.FileName(int(fileIdx)), int(lineNo), true
}

// FrameBase returns the raw DW_AT_frame_base expression, or nil if the
// function has none (spec.md §4.7 frame_base context for DW_OP_fbreg).
func (f *Function) FrameBase() []byte { return f.frameBase }

// ContainsPC reports whether pc falls within one of the function's PC
// ranges.
func (f *Function) ContainsPC(pc uint64) bool {
	for _, r := range f.ranges {
		if pc >= r[0] && pc < r[1] {
			return true
		}
	}
	return false
}

// LowPC returns the function's entry address, or 0 if it has no PC
// ranges (e.g. a declaration-only DIE).
func (f *Function) LowPC() uint64 {
	if len(f.ranges) == 0 {
		return 0
	}
	return f.ranges[0][0]
}

func newFunction(e *dwarf.Entry, cu *CompileUnit, depth int) (*Function, error) {
	ranges, err := e.PCRanges()
	if err != nil {
		return nil, WrapSymbol(err, "function %q: pc ranges", e.Name())
	}
	fb, _ := e.ExprBytes(dwarf.AttrFrameBase)
	declFile, _ := e.Uint64Attr(dwarf.AttrDeclFile)
	external, _ := e.FlagAttr(dwarf.AttrExternal)

	return &Function{
		name:      e.Name(),
		ranges:    ranges,
		frameBase: fb,
		declFile:  int64(declFile),
		external:  external,
		entry:     e,
		depth:     depth,
		cu:        cu,
	}, nil
}
