// Package regnum names DWARF register numbers for the architectures
// this module supports (amd64, 386) and provides the generic register
// file the CFI evaluator and DWARF expression evaluator read through
// (spec.md §9 "Register file": "indexed by DWARF register number, not
// by architecture-specific name").
package regnum

// RegisterFile is a flat, DWARF-register-number-indexed snapshot of a
// thread's general-purpose registers. It satisfies both
// pkg/dwarf/frame.Registers and the register half of pkg/dwarf/op.Context.
type RegisterFile struct {
	vals   []uint64
	known  []bool
	pcRegs uint64
}

// NewRegisterFile creates an empty register file. pcReg is the DWARF
// register number that names the program counter / CFI return-address
// column on this architecture (AMD64PC or I386PC).
func NewRegisterFile(pcReg uint64) *RegisterFile {
	return &RegisterFile{pcRegs: pcReg}
}

func (rf *RegisterFile) grow(n uint64) {
	if n < uint64(len(rf.vals)) {
		return
	}
	size := n + 1
	vals := make([]uint64, size)
	known := make([]bool, size)
	copy(vals, rf.vals)
	copy(known, rf.known)
	rf.vals, rf.known = vals, known
}

// Set records register n's value.
func (rf *RegisterFile) Set(n uint64, v uint64) {
	rf.grow(n)
	rf.vals[n] = v
	rf.known[n] = true
}

// Reg returns register n's value and whether it has been set
// (pkg/dwarf/frame.Registers, pkg/dwarf/op.Context).
func (rf *RegisterFile) Reg(n uint64) (uint64, bool) {
	if n >= uint64(len(rf.vals)) {
		return 0, false
	}
	return rf.vals[n], rf.known[n]
}

// PC returns the program counter.
func (rf *RegisterFile) PC() uint64 {
	v, _ := rf.Reg(rf.pcRegs)
	return v
}

// PCReg returns the DWARF register number PC() reads.
func (rf *RegisterFile) PCReg() uint64 { return rf.pcRegs }

// Clone returns an independent copy, used by the stack walker to build
// the next frame's register file from the current one plus the
// previous-frame values the CFI row resolves (spec.md §4.8 step 3).
func (rf *RegisterFile) Clone() *RegisterFile {
	out := &RegisterFile{pcRegs: rf.pcRegs}
	out.vals = append(out.vals, rf.vals...)
	out.known = append(out.known, rf.known...)
	return out
}
