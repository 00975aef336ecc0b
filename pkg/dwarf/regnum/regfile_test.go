package regnum

import "testing"

func TestRegisterFileSetAndGrow(t *testing.T) {
	rf := NewRegisterFile(AMD64PC)
	rf.Set(AMD64_Rbp, 0x7ffee000)
	rf.Set(AMD64_Rip, 0x401000)

	v, ok := rf.Reg(AMD64_Rbp)
	if !ok || v != 0x7ffee000 {
		t.Fatalf("Rbp = %#x, ok=%v", v, ok)
	}
	if rf.PC() != 0x401000 {
		t.Fatalf("PC() = %#x, want 0x401000", rf.PC())
	}

	if _, ok := rf.Reg(AMD64_R15); ok {
		t.Fatal("unset register reported known")
	}
}

func TestAMD64FromPtraceRegs(t *testing.T) {
	rf := AMD64FromPtraceRegs(1, 2, 3, 4, 5, 6, 0x7ffee000, 0x7ffedff0, 8, 9, 10, 11, 12, 13, 14, 15, 0x401000)
	if rf.PC() != 0x401000 {
		t.Fatalf("PC() = %#x", rf.PC())
	}
	rbp, _ := rf.Reg(AMD64_Rbp)
	if rbp != 0x7ffee000 {
		t.Fatalf("Rbp = %#x", rbp)
	}
}

func TestRegisterFileClone(t *testing.T) {
	rf := NewRegisterFile(I386PC)
	rf.Set(I386_Eip, 0x8048000)

	clone := rf.Clone()
	clone.Set(I386_Esp, 0xbffff000)

	if _, ok := rf.Reg(I386_Esp); ok {
		t.Fatal("mutating the clone should not affect the original")
	}
	pc, ok := clone.Reg(I386PC)
	if !ok || pc != 0x8048000 {
		t.Fatalf("clone lost PC: %#x, %v", pc, ok)
	}
}
