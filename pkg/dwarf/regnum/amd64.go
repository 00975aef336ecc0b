package regnum

// AMD64 DWARF register numbers (System V AMD64 ABI, table 3.36). Only
// the general-purpose registers and the program counter the stack
// walker needs are named; the rest of the 0-66 range (mmx/xmm/control
// registers) is never produced by this package.
const (
	AMD64_Rax = 0
	AMD64_Rdx = 1
	AMD64_Rcx = 2
	AMD64_Rbx = 3
	AMD64_Rsi = 4
	AMD64_Rdi = 5
	AMD64_Rbp = 6
	AMD64_Rsp = 7
	AMD64_R8  = 8
	AMD64_R9  = 9
	AMD64_R10 = 10
	AMD64_R11 = 11
	AMD64_R12 = 12
	AMD64_R13 = 13
	AMD64_R14 = 14
	AMD64_R15 = 15
	AMD64_Rip = 16
)

// AMD64PC is the architecture's DWARF register number for the PC/the
// CFI return-address column (spec.md §9 "Register file").
const AMD64PC = AMD64_Rip

// AMD64SP is the DWARF register number for the stack pointer, used by
// the signal-trampoline fallback when no CFI covers the PC (spec.md
// §4.8 worked example #5).
const AMD64SP = AMD64_Rsp

// AMD64FromPtraceRegs builds a RegisterFile from a live amd64
// syscall.PtraceRegs snapshot, the generalization of cmd/debug's direct
// regs.Rbp/regs.PC() field access (spec.md SPEC_FULL "Multi-architecture
// register files").
func AMD64FromPtraceRegs(rax, rdx, rcx, rbx, rsi, rdi, rbp, rsp, r8, r9, r10, r11, r12, r13, r14, r15, rip uint64) *RegisterFile {
	rf := NewRegisterFile(AMD64PC)
	rf.Set(AMD64_Rax, rax)
	rf.Set(AMD64_Rdx, rdx)
	rf.Set(AMD64_Rcx, rcx)
	rf.Set(AMD64_Rbx, rbx)
	rf.Set(AMD64_Rsi, rsi)
	rf.Set(AMD64_Rdi, rdi)
	rf.Set(AMD64_Rbp, rbp)
	rf.Set(AMD64_Rsp, rsp)
	rf.Set(AMD64_R8, r8)
	rf.Set(AMD64_R9, r9)
	rf.Set(AMD64_R10, r10)
	rf.Set(AMD64_R11, r11)
	rf.Set(AMD64_R12, r12)
	rf.Set(AMD64_R13, r13)
	rf.Set(AMD64_R14, r14)
	rf.Set(AMD64_R15, r15)
	rf.Set(AMD64_Rip, rip)
	return rf
}
