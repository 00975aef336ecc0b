package proc

import (
	"encoding/binary"
	"testing"

	"github.com/gostack/dwarfwalk/pkg/dwarf/regnum"
)

// mapMem is a sparse, address-indexed MemoryReadWriter fake for
// exercising the signal-trampoline and first-frame fallbacks without a
// live or core-file target.
type mapMem map[uint64]byte

func (m mapMem) ReadMemory(addr uint64, buf []byte) (int, error) {
	for i := range buf {
		b, ok := m[addr+uint64(i)]
		if !ok {
			return i, newUnwindError("unmapped address %#x", addr+uint64(i))
		}
		buf[i] = b
	}
	return len(buf), nil
}

func (m mapMem) WriteMemory(addr uint64, data []byte) (int, error) {
	for i, b := range data {
		m[addr+uint64(i)] = b
	}
	return len(data), nil
}

func putU32(m mapMem, addr uint64, v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	for i, b := range buf {
		m[addr+uint64(i)] = b
	}
}

func putU64(m mapMem, addr uint64, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	for i, b := range buf {
		m[addr+uint64(i)] = b
	}
}

// TestAMD64RecoverSignalFrame reconstructs the interrupted frame from a
// synthetic rt_sigframe, the 64-bit analogue of spec.md §8 scenario 5
// ("Signal trampoline: sp points into __restore_rt; the unwinder reads
// the ucontext and recovers eip from REG_EIP").
func TestAMD64RecoverSignalFrame(t *testing.T) {
	mem := mapMem{}
	const sp = 0x7ffee0001000
	const ucontextAddr = 0x7ffee0002000
	const mcontextBase = ucontextAddr + 40

	putU64(mem, sp+8, ucontextAddr)
	for slot := uint64(0); slot <= 16; slot++ {
		putU64(mem, mcontextBase+slot*8, 0) // every gregs slot the recovery reads
	}
	putU64(mem, mcontextBase+16*8, 0x555555556789) // RIP slot
	putU64(mem, mcontextBase+15*8, 0x7ffee0003000) // RSP slot

	snap, err := AMD64Arch{}.RecoverSignalFrame(mem, "__restore_rt", sp)
	if err != nil {
		t.Fatal(err)
	}
	if snap.PC != 0x555555556789 {
		t.Fatalf("PC = %#x, want 0x555555556789", snap.PC)
	}
	if snap.SP != 0x7ffee0003000 {
		t.Fatalf("SP = %#x, want 0x7ffee0003000", snap.SP)
	}
	if v, ok := snap.Slots[regnum.AMD64_Rip]; !ok || v != snap.PC {
		t.Fatalf("Rip slot = %#x, ok=%v", v, ok)
	}
}

func TestAMD64RecoverSignalFrameRejectsUnknownTrampoline(t *testing.T) {
	if _, err := (AMD64Arch{}).RecoverSignalFrame(mapMem{}, "__restore", 0); err == nil {
		t.Fatal("amd64 has no legacy __restore trampoline; expected an error")
	}
}

// TestX86RecoverSignalFrameRestoreRT is the 32-bit worked example from
// spec.md §8 scenario 5: ucontext at *(sp+8)+20, EIP recovered from the
// slot at REG_EIP (index 14 in the gregs array).
func TestX86RecoverSignalFrameRestoreRT(t *testing.T) {
	mem := mapMem{}
	const sp = 0xbffff000
	const ucontextAddr = 0xbffff100
	gregsBase := uint64(ucontextAddr) + 20

	putU32(mem, sp+8, uint32(ucontextAddr))
	for slot := uint64(0); slot < 19; slot++ {
		putU32(mem, gregsBase+slot*4, 0) // every gregs slot, gs through ss
	}
	putU32(mem, gregsBase+14*4, 0x08048555) // EIP
	putU32(mem, gregsBase+7*4, 0xbffff200)  // ESP

	snap, err := X86Arch{}.RecoverSignalFrame(mem, "__restore_rt", sp)
	if err != nil {
		t.Fatal(err)
	}
	if snap.PC != 0x08048555 {
		t.Fatalf("PC = %#x, want 0x08048555", snap.PC)
	}
	if snap.SP != 0xbffff200 {
		t.Fatalf("SP = %#x, want 0xbffff200", snap.SP)
	}
}

func TestX86RecoverSignalFrameRestoreLegacy(t *testing.T) {
	mem := mapMem{}
	const sp = 0xbffff000
	var sigcontextBase uint64 = sp + 4

	for slot := uint64(0); slot < 19; slot++ {
		putU32(mem, sigcontextBase+slot*4, 0) // every sigcontext slot, gs through ss
	}
	putU32(mem, sigcontextBase+14*4, 0x08048321) // EIP
	putU32(mem, sigcontextBase+7*4, 0xbffff050)  // ESP

	snap, err := X86Arch{}.RecoverSignalFrame(mem, "__restore", sp)
	if err != nil {
		t.Fatal(err)
	}
	if snap.PC != 0x08048321 {
		t.Fatalf("PC = %#x, want 0x08048321", snap.PC)
	}
}

// TestFirstFrameFallback is spec.md §8 scenario 6: the initial PC is 0
// (no CFI, no symbol), so the walker assumes a call to an invalid
// address and pops the return PC straight off the stack.
func TestFirstFrameFallback(t *testing.T) {
	mem := mapMem{}
	const sp = 0x7ffee0000500
	putU64(mem, sp, 0x401234)

	pc, newSP, err := FirstFrameFallback(mem, sp, 8)
	if err != nil {
		t.Fatal(err)
	}
	if pc != 0x401234 {
		t.Fatalf("pc = %#x, want 0x401234", pc)
	}
	if newSP != sp+8 {
		t.Fatalf("newSP = %#x, want %#x", newSP, sp+8)
	}
}

func TestFirstFrameFallback32Bit(t *testing.T) {
	mem := mapMem{}
	const sp = 0xbffff000
	putU32(mem, sp, 0x08049999)

	pc, newSP, err := FirstFrameFallback(mem, sp, 4)
	if err != nil {
		t.Fatal(err)
	}
	if pc != 0x08049999 {
		t.Fatalf("pc = %#x, want 0x08049999", pc)
	}
	if newSP != sp+4 {
		t.Fatalf("newSP = %#x, want %#x", newSP, sp+4)
	}
}

func TestFirstFrameFallbackUnmappedStack(t *testing.T) {
	if _, _, err := FirstFrameFallback(mapMem{}, 0x7ffee0000500, 8); err == nil {
		t.Fatal("expected an error reading an unmapped stack address")
	}
}
