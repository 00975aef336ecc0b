package frame

import "testing"

// fakeRegs/fakeMem satisfy Registers/Memory for ResolveCFA/ResolveRegister.
type fakeRegs map[uint64]uint64

func (r fakeRegs) Reg(n uint64) (uint64, bool) { v, ok := r[n]; return v, ok }

type fakeMem map[uint64]uint64

func (m fakeMem) ReadMemory(addr uint64, size int) (uint64, error) { return m[addr], nil }

func TestEstablishFrameUnwindsOneFrame(t *testing.T) {
	cie := &CommonInformationEntry{
		CodeAlignmentFactor:   1,
		DataAlignmentFactor:   -4,
		ReturnAddressRegister: 8,
	}
	fde := &FrameDescriptionEntry{
		CIE:   cie,
		begin: 0x1000,
		size:  0x20,
		// DW_CFA_def_cfa(7, 8); DW_CFA_offset(8, 1); DW_CFA_advance_loc(4);
		// DW_CFA_def_cfa_offset(16); DW_CFA_offset(6, 2)
		Instructions: []byte{
			cfaDefCFA, 7, 8,
			cfaOffset | 8, 1,
			cfaAdvanceLoc | 4,
			cfaDefCFAOffset, 16,
			cfaOffset | 6, 2,
		},
	}

	fc, err := fde.EstablishFrame(0x1010, 8)
	if err != nil {
		t.Fatal(err)
	}

	if fc.CFA.Kind != RuleRegister || fc.CFA.Reg != 7 || fc.CFA.Offset != 16 {
		t.Fatalf("unexpected CFA rule: %+v", fc.CFA)
	}
	if r := fc.Regs[6]; r.Kind != RuleOffset || r.Offset != -8 {
		t.Fatalf("unexpected reg6 rule: %+v", r)
	}
	if r := fc.Regs[8]; r.Kind != RuleOffset || r.Offset != -4 {
		t.Fatalf("unexpected reg8 rule: %+v", r)
	}

	regs := fakeRegs{7: 0x7ffee000}
	mem := fakeMem{0x7ffee000 + 16 - 8: 0x41414141, 0x7ffee000 + 16 - 4: 0x42424242}

	cfa, err := fc.ResolveCFA(regs, mem, 8)
	if err != nil {
		t.Fatal(err)
	}
	if cfa != 0x7ffee000+16 {
		t.Fatalf("CFA = %#x, want %#x", cfa, 0x7ffee000+16)
	}

	reg6, known, err := fc.ResolveRegister(6, cfa, regs, mem, 8)
	if err != nil || !known || reg6 != 0x41414141 {
		t.Fatalf("reg6 = %#x, known=%v, err=%v", reg6, known, err)
	}

	pc, known, err := fc.PrevPC(regs, mem, 8)
	if err != nil || !known || pc != 0x42424242 {
		t.Fatalf("PrevPC = %#x, known=%v, err=%v", pc, known, err)
	}
}

func TestEstablishFrameStopsBeforeAdvancePastPC(t *testing.T) {
	cie := &CommonInformationEntry{CodeAlignmentFactor: 1, DataAlignmentFactor: -4, ReturnAddressRegister: 8}
	fde := &FrameDescriptionEntry{
		CIE:   cie,
		begin: 0x1000,
		size:  0x20,
		Instructions: []byte{
			cfaOffset | 8, 1,
			cfaAdvanceLoc | 4,
			cfaOffset | 6, 2, // must not apply: pc is before this instruction's location
		},
	}

	// pc=0x1002 is within the first row (begin..begin+4); the second
	// DW_CFA_offset must never be applied.
	fc, err := fde.EstablishFrame(0x1002, 8)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := fc.Regs[6]; ok {
		t.Fatalf("reg6 rule should not have been applied yet: %+v", fc.Regs[6])
	}
	if r := fc.Regs[8]; r.Kind != RuleOffset || r.Offset != -4 {
		t.Fatalf("unexpected reg8 rule: %+v", r)
	}
}

func TestRememberAndRestoreState(t *testing.T) {
	cie := &CommonInformationEntry{CodeAlignmentFactor: 1, DataAlignmentFactor: 1, ReturnAddressRegister: 8}
	fde := &FrameDescriptionEntry{
		CIE:   cie,
		begin: 0,
		size:  0x10,
		// DW_CFA_offset(6, 1); DW_CFA_remember_state; DW_CFA_offset(6, 9);
		// DW_CFA_restore_state
		Instructions: []byte{
			cfaOffset | 6, 1,
			cfaRememberState,
			cfaOffset | 6, 9,
			cfaRestoreState,
		},
	}

	fc, err := fde.EstablishFrame(0, 8)
	if err != nil {
		t.Fatal(err)
	}
	if r := fc.Regs[6]; r.Kind != RuleOffset || r.Offset != 1 {
		t.Fatalf("restore_state did not revert reg6 rule: %+v", r)
	}
}

func TestResolveRegisterUndefinedReturnAddressEndsWalk(t *testing.T) {
	fc := newFrameContext(8)
	fc.CFA = CFARule{Kind: RuleRegister, Reg: 7, Offset: 0}

	_, known, err := fc.PrevPC(fakeRegs{7: 0x100}, fakeMem{}, 8)
	if err != nil {
		t.Fatal(err)
	}
	if known {
		t.Fatal("expected undefined return-address register to report known=false")
	}
}
