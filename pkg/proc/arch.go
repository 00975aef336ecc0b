package proc

import "encoding/binary"

// Arch supplies the two x86/x86-64-specific fallbacks the stack walker
// applies when CFI lookup fails outright (spec.md §4.8 "Architecture
// fallback (x86/x86-64 only)"). Non-goals restrict this module to
// 32/64-bit x86, so there is no architecture-independent variant.
type Arch interface {
	Name() string
	PtrSize() int
	PCReg() uint64
	SPReg() uint64

	// SignalTrampolineNames are the symbol names that mark a frame as
	// a kernel signal-delivery trampoline rather than ordinary code.
	SignalTrampolineNames() []string

	// DisasmMode is the x86asm decode mode (16, 32 or 64) used to
	// confirm a trampoline symbol match actually decodes.
	DisasmMode() int

	// RecoverSignalFrame reconstructs the interrupted frame's register
	// file given the trampoline frame's stack pointer (spec.md §8
	// scenario 5).
	RecoverSignalFrame(mem MemoryReadWriter, trampolineName string, sp uint64) (*RegisterSnapshot, error)
}

// RegisterSnapshot is a minimal (PC, SP) pair plus a full set of named
// slots, enough for the walker to seed the next frame without pulling
// in a full regnum.RegisterFile constructor per architecture.
type RegisterSnapshot struct {
	PC, SP uint64
	Slots  map[uint64]uint64 // DWARF register number -> value
}

func readUint32LE(mem MemoryReadWriter, addr uint64) (uint32, error) {
	buf := make([]byte, 4)
	n, err := mem.ReadMemory(addr, buf)
	if err != nil {
		return 0, wrapUnwindError(err, "read u32 at %#x", addr)
	}
	if n != 4 {
		return 0, newUnwindError("short read at %#x", addr)
	}
	return binary.LittleEndian.Uint32(buf), nil
}

func readUint64LE(mem MemoryReadWriter, addr uint64) (uint64, error) {
	buf := make([]byte, 8)
	n, err := mem.ReadMemory(addr, buf)
	if err != nil {
		return 0, wrapUnwindError(err, "read u64 at %#x", addr)
	}
	if n != 8 {
		return 0, newUnwindError("short read at %#x", addr)
	}
	return binary.LittleEndian.Uint64(buf), nil
}

// FirstFrameFallback implements the "assume a call to an invalid
// address" rule applied only to the outermost frame: pop a
// pointer-sized value from the stack and use it as PC, incrementing SP
// past it (spec.md §8 scenario 6).
func FirstFrameFallback(mem MemoryReadWriter, sp uint64, ptrSize int) (pc, newSP uint64, err error) {
	buf := make([]byte, ptrSize)
	n, err := mem.ReadMemory(sp, buf)
	if err != nil {
		return 0, 0, wrapUnwindError(err, "first-frame fallback: read return address at %#x", sp)
	}
	if n != ptrSize {
		return 0, 0, newUnwindError("first-frame fallback: short read at %#x", sp)
	}
	if ptrSize == 8 {
		pc = binary.LittleEndian.Uint64(buf)
	} else {
		pc = uint64(binary.LittleEndian.Uint32(buf))
	}
	return pc, sp + uint64(ptrSize), nil
}
