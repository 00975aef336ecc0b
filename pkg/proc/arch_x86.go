package proc

import (
	"golang.org/x/arch/x86/x86asm"

	"github.com/gostack/dwarfwalk/pkg/dwarf/regnum"
)

// confirmTrampoline reads up to 16 bytes at addr and reports whether
// they decode as an x86 instruction in the given mode, as a check on
// top of the `__restore`/`__restore_rt` symbol address match (spec.md
// §8 scenario 5's worked example only matches on the resolved symbol
// address). Any instruction that decodes is accepted: which
// instruction it is, and whether a sigreturn system call follows, is
// not checked.
func confirmTrampoline(mem MemoryReadWriter, addr uint64, mode int) bool {
	buf := make([]byte, 16)
	n, err := mem.ReadMemory(addr, buf)
	if err != nil || n == 0 {
		return false
	}
	inst, err := x86asm.Decode(buf[:n], mode)
	if err != nil || inst.Len == 0 {
		return false
	}
	return true
}

// X86Arch implements Arch for 32-bit x86 targets.
type X86Arch struct{}

func (X86Arch) Name() string    { return "386" }
func (X86Arch) PtrSize() int    { return 4 }
func (X86Arch) PCReg() uint64   { return regnum.I386PC }
func (X86Arch) SPReg() uint64   { return regnum.I386SP }
func (X86Arch) DisasmMode() int { return 32 }

func (X86Arch) SignalTrampolineNames() []string {
	return []string{"__restore", "__restore_rt"}
}

// x86SigcontextSlots is the REG_* enum order glibc's 32-bit
// sigcontext/mcontext gregs array shares (gs, fs, es, ds, edi, esi,
// ebp, esp, ebx, edx, ecx, eax, trapno, err, eip, cs, eflags, esp_at_signal,
// ss), mapped to the DWARF registers the walker actually tracks.
// Slots this module has no DWARF register for (segment selectors,
// trapno, err, cs, eflags, ss) are skipped.
var x86SigcontextSlots = map[int]uint64{
	4:  regnum.I386_Edi,
	5:  regnum.I386_Esi,
	6:  regnum.I386_Ebp,
	7:  regnum.I386_Esp,
	8:  regnum.I386_Ebx,
	9:  regnum.I386_Edx,
	10: regnum.I386_Ecx,
	11: regnum.I386_Eax,
	14: regnum.I386_Eip,
}

// RecoverSignalFrame reads the interrupted frame's registers out of
// the kernel signal frame (spec.md §4.8 "for x86 signal trampolines...
// read the signal ucontext from a known offset above SP"; §8 scenario
// 5). For the older __restore convention the kernel places a
// sigcontext directly at sp+4; for __restore_rt it places a ucontext_t
// whose uc_mcontext.gregs array begins 20 bytes into the structure
// found at *(sp+8) (spec.md "Open Questions": these offsets are
// kernel-ABI-specific and may need versioning).
func (a X86Arch) RecoverSignalFrame(mem MemoryReadWriter, trampolineName string, sp uint64) (*RegisterSnapshot, error) {
	var base uint64
	switch trampolineName {
	case "__restore":
		base = sp + 4
	case "__restore_rt":
		ucontextPtr, err := readUint32LE(mem, sp+8)
		if err != nil {
			return nil, wrapUnwindError(err, "read ucontext pointer at sp+8")
		}
		base = uint64(ucontextPtr) + 20
	default:
		return nil, newUnwindError("unrecognized signal trampoline %q", trampolineName)
	}

	snap := &RegisterSnapshot{Slots: map[uint64]uint64{}}
	for slot, dwreg := range x86SigcontextSlots {
		v, err := readUint32LE(mem, base+uint64(slot*4))
		if err != nil {
			return nil, wrapUnwindError(err, "read %s signal frame slot %d", trampolineName, slot)
		}
		snap.Slots[dwreg] = uint64(v)
	}
	snap.PC = snap.Slots[regnum.I386_Eip]
	snap.SP = snap.Slots[regnum.I386_Esp]
	return snap, nil
}

// AMD64Arch implements Arch for 64-bit x86 targets. x86-64 Linux has
// no legacy sigcontext-only delivery path; every signal uses
// rt_sigreturn, so __restore never appears here.
type AMD64Arch struct{}

func (AMD64Arch) Name() string    { return "amd64" }
func (AMD64Arch) PtrSize() int    { return 8 }
func (AMD64Arch) PCReg() uint64   { return regnum.AMD64PC }
func (AMD64Arch) SPReg() uint64   { return regnum.AMD64SP }
func (AMD64Arch) DisasmMode() int { return 64 }

func (AMD64Arch) SignalTrampolineNames() []string {
	return []string{"__restore_rt"}
}

// amd64McontextSlots mirrors x86SigcontextSlots for the 64-bit REG_*
// enum (R8..R15, RDI, RSI, RBP, RBX, RDX, RAX, RCX, RSP, RIP, ...),
// mapped to the DWARF registers the walker tracks.
var amd64McontextSlots = map[int]uint64{
	8:  regnum.AMD64_Rdi,
	9:  regnum.AMD64_Rsi,
	10: regnum.AMD64_Rbp,
	11: regnum.AMD64_Rbx,
	12: regnum.AMD64_Rdx,
	13: regnum.AMD64_Rax,
	14: regnum.AMD64_Rcx,
	15: regnum.AMD64_Rsp,
	16: regnum.AMD64_Rip,
	0:  regnum.AMD64_R8,
	1:  regnum.AMD64_R9,
	2:  regnum.AMD64_R10,
	3:  regnum.AMD64_R11,
	4:  regnum.AMD64_R12,
	5:  regnum.AMD64_R13,
	6:  regnum.AMD64_R14,
	7:  regnum.AMD64_R15,
}

// RecoverSignalFrame reads the interrupted frame's registers out of
// the kernel's rt_sigframe: the ucontext_t's address is read from
// sp+8, and its uc_mcontext.gregs array begins 40 bytes in (sizeof(uc_flags) +
// sizeof(uc_link) + sizeof(stack_t) on the LP64 ABI), matching the
// structural counterpart to X86Arch's __restore_rt case.
func (a AMD64Arch) RecoverSignalFrame(mem MemoryReadWriter, trampolineName string, sp uint64) (*RegisterSnapshot, error) {
	if trampolineName != "__restore_rt" {
		return nil, newUnwindError("unrecognized signal trampoline %q", trampolineName)
	}

	ucontextPtr, err := readUint64LE(mem, sp+8)
	if err != nil {
		return nil, wrapUnwindError(err, "read ucontext pointer at sp+8")
	}
	base := ucontextPtr + 40

	snap := &RegisterSnapshot{Slots: map[uint64]uint64{}}
	for slot, dwreg := range amd64McontextSlots {
		v, err := readUint64LE(mem, base+uint64(slot*8))
		if err != nil {
			return nil, wrapUnwindError(err, "read %s signal frame slot %d", trampolineName, slot)
		}
		snap.Slots[dwreg] = v
	}
	snap.PC = snap.Slots[regnum.AMD64_Rip]
	snap.SP = snap.Slots[regnum.AMD64_Rsp]
	return snap, nil
}
