package proc

import (
	"encoding/binary"

	"github.com/gostack/dwarfwalk/pkg/dwarf"
	"github.com/gostack/dwarfwalk/pkg/dwarf/op"
)

// frameMemoryFor builds the buffer-to-scalar memory adapter Evaluate
// needs, matching the one pkg/proc/stackwalk.go builds for CFI.
func frameMemoryFor(f *Frame) *frameMemory {
	return &frameMemory{mem: f.mem, order: binary.LittleEndian}
}

// Argument is one formal parameter's resolved location, evaluated
// through the same DWARF expression machine the stack walker uses for
// CFI (spec.md §1 "argument values"; §2 "uses the DIE tree to name
// functions and print arguments ... via the expression evaluator";
// §9 "used both for locations (argument printing) and CFA rules").
// This stops at a raw address/value/register, matching
// _examples/original_source/process.cc's RemoteValue: type-directed
// formatting (char* as a C string, enum names, struct layout) is
// output-rendering and stays out of scope.
type Argument struct {
	Name   string
	Entry  *dwarf.Entry
	Result op.Result
}

// TODO(scope): DW_OP_piece composite locations (a value split across a
// register and memory) only ever produce the last operation's result
// today; Argument would need to carry a slice of Results to represent
// one properly.

// frameArgCtx adapts one Frame to op.Context for evaluating a formal
// parameter's DW_AT_location, in contrast to pkg/dwarf/frame's exprCtx
// which only ever serves CFI rules and has no frame base to offer.
type frameArgCtx struct {
	f         *Frame
	mem       *frameMemory
	frameBase []byte
}

func (c *frameArgCtx) Reg(n uint64) (uint64, bool) { return c.f.Regs.Reg(n) }

func (c *frameArgCtx) ReadMemory(addr uint64, size int) (uint64, error) {
	return c.mem.ReadMemory(addr, size)
}

func (c *frameArgCtx) CallFrameCFA() (uint64, error) {
	if !c.f.haveCFA {
		return 0, newUnwindError("no CFA available for this frame")
	}
	return c.f.CFA, nil
}

// FrameBase evaluates the enclosing function's DW_AT_frame_base
// expression (most commonly DW_OP_call_frame_cfa or a DW_OP_bregN off
// the base pointer), the value DW_OP_fbreg in a parameter's own
// location expression is offset from (spec.md §4.7).
func (c *frameArgCtx) FrameBase() (uint64, error) {
	if c.frameBase == nil {
		return 0, newUnwindError("function has no DW_AT_frame_base")
	}
	res, err := op.Evaluate(c.frameBase, c.f.ptrSize, c)
	if err != nil {
		return 0, err
	}
	switch res.Kind {
	case op.ResultRegister:
		v, ok := c.Reg(res.Reg)
		if !ok {
			return 0, newUnwindError("frame base register %d is not available", res.Reg)
		}
		return v, nil
	default:
		return res.Value, nil
	}
}

// Arguments evaluates every DW_TAG_formal_parameter declared on this
// frame's function, in declaration order. A parameter whose location
// expression fails to evaluate (e.g. it was optimized to "not
// available" at this PC) is skipped rather than aborting the rest.
func (f *Frame) Arguments() ([]Argument, error) {
	if f.Func == nil {
		return nil, newUnwindError("frame has no resolved function")
	}
	if f.mem == nil || f.Regs == nil {
		return nil, newUnwindError("frame has no memory/register context")
	}

	ctx := &frameArgCtx{f: f, mem: frameMemoryFor(f), frameBase: f.Func.FrameBase()}

	var args []Argument
	for _, param := range f.Func.Parameters() {
		loc, ok := param.ExprBytes(dwarf.AttrLocation)
		if !ok {
			continue
		}
		res, err := op.Evaluate(loc, f.ptrSize, ctx)
		if err != nil {
			log.WithError(err).WithField("name", param.Name()).Debug("argument location failed to evaluate")
			continue
		}
		args = append(args, Argument{Name: param.Name(), Entry: param, Result: res})
	}
	return args, nil
}

// Argument evaluates a single named parameter, matching what Arguments
// would return for it.
func (f *Frame) Argument(name string) (Argument, bool, error) {
	args, err := f.Arguments()
	if err != nil {
		return Argument{}, false, err
	}
	for _, a := range args {
		if a.Name == name {
			return a, true, nil
		}
	}
	return Argument{}, false, nil
}
