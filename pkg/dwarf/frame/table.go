package frame

import (
	"github.com/gostack/dwarfwalk/pkg/dwarf/op"
	"github.com/gostack/dwarfwalk/pkg/dwarf/util"
)

// RuleKind is the rule a register (or the CFA) follows in one row of
// the unwind table (spec.md §4.6).
type RuleKind int

const (
	RuleUndefined RuleKind = iota
	RuleSameValue
	RuleOffset
	RuleValOffset
	RuleRegister
	RuleExpression
	RuleValExpression
)

// Rule is one register's recovery rule within a row.
type Rule struct {
	Kind   RuleKind
	Reg    uint64
	Offset int64
	Expr   []byte
}

// CFARule is the current-frame-address rule: either register+offset
// (RuleRegister) or a location expression (RuleExpression).
type CFARule struct {
	Kind   RuleKind
	Reg    uint64
	Offset int64
	Expr   []byte
}

// FrameContext is the CFI virtual machine's state while stepping
// through a CIE's initial instructions and then an FDE's instructions
// up to a target PC (spec.md §4.6). The exported CFA/Regs/RetAddrReg
// fields are the resulting row once EstablishFrame returns.
type FrameContext struct {
	loc        uint64
	CFA        CFARule
	Regs       map[uint64]Rule
	RetAddrReg uint64

	initialCFA  CFARule
	initialRegs map[uint64]Rule
	saved       []savedRow
}

type savedRow struct {
	cfa  CFARule
	regs map[uint64]Rule
}

func newFrameContext(retAddrReg uint64) *FrameContext {
	return &FrameContext{RetAddrReg: retAddrReg, Regs: map[uint64]Rule{}}
}

func cloneRules(m map[uint64]Rule) map[uint64]Rule {
	out := make(map[uint64]Rule, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (fc *FrameContext) setRule(reg uint64, rule Rule) { fc.Regs[reg] = rule }

func (fc *FrameContext) restoreReg(reg uint64) {
	if fc.initialRegs == nil {
		delete(fc.Regs, reg)
		return
	}
	if r, ok := fc.initialRegs[reg]; ok {
		fc.Regs[reg] = r
	} else {
		delete(fc.Regs, reg)
	}
}

func (fc *FrameContext) snapshotInitial() {
	fc.initialCFA = fc.CFA
	fc.initialRegs = cloneRules(fc.Regs)
}

func (fc *FrameContext) pushState() {
	fc.saved = append(fc.saved, savedRow{cfa: fc.CFA, regs: cloneRules(fc.Regs)})
}

func (fc *FrameContext) popState() error {
	if len(fc.saved) == 0 {
		return newCFIError("DW_CFA_restore_state with empty remember stack")
	}
	top := fc.saved[len(fc.saved)-1]
	fc.saved = fc.saved[:len(fc.saved)-1]
	fc.CFA = top.cfa
	fc.Regs = top.regs
	return nil
}

// EstablishFrame executes cie's initial instructions, snapshots the row
// they produce as the DW_CFA_restore target, then executes the FDE's
// own instructions up to pc, returning the row in effect at pc.
func (fde *FrameDescriptionEntry) EstablishFrame(pc uint64, ptrSize int) (*FrameContext, error) {
	cie := fde.CIE
	fc := newFrameContext(cie.ReturnAddressRegister)
	fc.loc = fde.begin

	if _, err := fc.execute(cie.InitialInstructions, cie, nil, ptrSize); err != nil {
		return nil, err
	}
	fc.snapshotInitial()

	if _, err := fc.execute(fde.Instructions, cie, &pc, ptrSize); err != nil {
		return nil, err
	}
	return fc, nil
}

// CFI instruction encoding (spec.md §4.6): the top two bits of the
// opcode byte select advance_loc/offset/restore with the low six bits
// as their operand; 0x00 selects an extended opcode in the low byte.
const (
	cfaAdvanceLoc  = 0x40
	cfaOffset      = 0x80
	cfaRestore     = 0xc0
	cfaOpMask      = 0xc0
	cfaOperandMask = 0x3f
)

const (
	cfaNop              = 0x00
	cfaSetLoc           = 0x01
	cfaAdvanceLoc1      = 0x02
	cfaAdvanceLoc2      = 0x03
	cfaAdvanceLoc4      = 0x04
	cfaOffsetExtended   = 0x05
	cfaRestoreExtended  = 0x06
	cfaUndefined        = 0x07
	cfaSameValue        = 0x08
	cfaRegister         = 0x09
	cfaRememberState    = 0x0a
	cfaRestoreState     = 0x0b
	cfaDefCFA           = 0x0c
	cfaDefCFARegister   = 0x0d
	cfaDefCFAOffset     = 0x0e
	cfaDefCFAExpression = 0x0f
	cfaExpression       = 0x10
	cfaOffsetExtendedSF = 0x11
	cfaDefCFASF         = 0x12
	cfaDefCFAOffsetSF   = 0x13
	cfaValOffset        = 0x14
	cfaValOffsetSF      = 0x15
	cfaValExpression    = 0x16
)

// execute runs instrs against fc. When stopAt is non-nil, an
// advance_loc-class instruction that would move the location past
// *stopAt halts execution before applying it and returns halted=true,
// leaving fc holding the row valid at *stopAt (spec.md §4.6
// "Terminate when location reaches target PC; return the row").
func (fc *FrameContext) execute(instrs []byte, cie *CommonInformationEntry, stopAt *uint64, ptrSize int) (halted bool, err error) {
	r := util.NewReader(instrs)

	advance := func(delta uint64) bool {
		newLoc := fc.loc + delta*cie.CodeAlignmentFactor
		if stopAt != nil && newLoc > *stopAt {
			return true
		}
		fc.loc = newLoc
		return false
	}

	for r.Off() < len(instrs) {
		opcode, err := r.Uint8()
		if err != nil {
			return false, err
		}

		switch opcode & cfaOpMask {
		case cfaAdvanceLoc:
			if advance(uint64(opcode & cfaOperandMask)) {
				return true, nil
			}
			continue
		case cfaOffset:
			reg := uint64(opcode & cfaOperandMask)
			n, err := r.ULEB128()
			if err != nil {
				return false, err
			}
			fc.setRule(reg, Rule{Kind: RuleOffset, Offset: int64(n) * cie.DataAlignmentFactor})
			continue
		case cfaRestore:
			fc.restoreReg(uint64(opcode & cfaOperandMask))
			continue
		}

		switch opcode {
		case cfaNop:

		case cfaSetLoc:
			addr, err := r.Address(ptrSize)
			if err != nil {
				return false, err
			}
			if stopAt != nil && addr > *stopAt {
				return true, nil
			}
			fc.loc = addr

		case cfaAdvanceLoc1:
			d, err := r.Uint8()
			if err != nil {
				return false, err
			}
			if advance(uint64(d)) {
				return true, nil
			}

		case cfaAdvanceLoc2:
			d, err := r.Uint16()
			if err != nil {
				return false, err
			}
			if advance(uint64(d)) {
				return true, nil
			}

		case cfaAdvanceLoc4:
			d, err := r.Uint32()
			if err != nil {
				return false, err
			}
			if advance(uint64(d)) {
				return true, nil
			}

		case cfaOffsetExtended:
			reg, err := r.ULEB128()
			if err != nil {
				return false, err
			}
			n, err := r.ULEB128()
			if err != nil {
				return false, err
			}
			fc.setRule(reg, Rule{Kind: RuleOffset, Offset: int64(n) * cie.DataAlignmentFactor})

		case cfaRestoreExtended:
			reg, err := r.ULEB128()
			if err != nil {
				return false, err
			}
			fc.restoreReg(reg)

		case cfaUndefined:
			reg, err := r.ULEB128()
			if err != nil {
				return false, err
			}
			fc.setRule(reg, Rule{Kind: RuleUndefined})

		case cfaSameValue:
			reg, err := r.ULEB128()
			if err != nil {
				return false, err
			}
			fc.setRule(reg, Rule{Kind: RuleSameValue})

		case cfaRegister:
			reg, err := r.ULEB128()
			if err != nil {
				return false, err
			}
			src, err := r.ULEB128()
			if err != nil {
				return false, err
			}
			fc.setRule(reg, Rule{Kind: RuleRegister, Reg: src})

		case cfaRememberState:
			fc.pushState()

		case cfaRestoreState:
			if err := fc.popState(); err != nil {
				return false, err
			}

		case cfaDefCFA:
			reg, err := r.ULEB128()
			if err != nil {
				return false, err
			}
			off, err := r.ULEB128()
			if err != nil {
				return false, err
			}
			fc.CFA = CFARule{Kind: RuleRegister, Reg: reg, Offset: int64(off)}

		case cfaDefCFARegister:
			reg, err := r.ULEB128()
			if err != nil {
				return false, err
			}
			fc.CFA.Kind = RuleRegister
			fc.CFA.Reg = reg

		case cfaDefCFAOffset:
			off, err := r.ULEB128()
			if err != nil {
				return false, err
			}
			fc.CFA.Kind = RuleRegister
			fc.CFA.Offset = int64(off)

		case cfaDefCFAExpression:
			n, err := r.ULEB128()
			if err != nil {
				return false, err
			}
			block, err := r.Bytes(int(n))
			if err != nil {
				return false, err
			}
			fc.CFA = CFARule{Kind: RuleExpression, Expr: block}

		case cfaExpression:
			reg, err := r.ULEB128()
			if err != nil {
				return false, err
			}
			n, err := r.ULEB128()
			if err != nil {
				return false, err
			}
			block, err := r.Bytes(int(n))
			if err != nil {
				return false, err
			}
			fc.setRule(reg, Rule{Kind: RuleExpression, Reg: reg, Expr: block})

		case cfaOffsetExtendedSF:
			reg, err := r.ULEB128()
			if err != nil {
				return false, err
			}
			off, err := r.SLEB128()
			if err != nil {
				return false, err
			}
			fc.setRule(reg, Rule{Kind: RuleOffset, Offset: off * cie.DataAlignmentFactor})

		case cfaDefCFASF:
			reg, err := r.ULEB128()
			if err != nil {
				return false, err
			}
			off, err := r.SLEB128()
			if err != nil {
				return false, err
			}
			fc.CFA = CFARule{Kind: RuleRegister, Reg: reg, Offset: off * cie.DataAlignmentFactor}

		case cfaDefCFAOffsetSF:
			off, err := r.SLEB128()
			if err != nil {
				return false, err
			}
			fc.CFA.Kind = RuleRegister
			fc.CFA.Offset = off * cie.DataAlignmentFactor

		case cfaValOffset:
			reg, err := r.ULEB128()
			if err != nil {
				return false, err
			}
			n, err := r.ULEB128()
			if err != nil {
				return false, err
			}
			fc.setRule(reg, Rule{Kind: RuleValOffset, Offset: int64(n) * cie.DataAlignmentFactor})

		case cfaValOffsetSF:
			reg, err := r.ULEB128()
			if err != nil {
				return false, err
			}
			off, err := r.SLEB128()
			if err != nil {
				return false, err
			}
			fc.setRule(reg, Rule{Kind: RuleValOffset, Offset: off * cie.DataAlignmentFactor})

		case cfaValExpression:
			reg, err := r.ULEB128()
			if err != nil {
				return false, err
			}
			n, err := r.ULEB128()
			if err != nil {
				return false, err
			}
			block, err := r.Bytes(int(n))
			if err != nil {
				return false, err
			}
			fc.setRule(reg, Rule{Kind: RuleValExpression, Reg: reg, Expr: block})

		default:
			return false, newCFIError("unsupported CFI opcode %#x", opcode)
		}
	}
	return false, nil
}

// Registers supplies a live register file to Resolve*.
type Registers interface {
	Reg(n uint64) (uint64, bool)
}

// Memory supplies target memory reads to Resolve*.
type Memory interface {
	ReadMemory(addr uint64, size int) (uint64, error)
}

type exprCtx struct {
	regs Registers
	mem  Memory
	cfa  uint64
}

func (c *exprCtx) Reg(n uint64) (uint64, bool) { return c.regs.Reg(n) }
func (c *exprCtx) ReadMemory(addr uint64, size int) (uint64, error) {
	return c.mem.ReadMemory(addr, size)
}
func (c *exprCtx) FrameBase() (uint64, error) {
	return 0, newCFIError("frame base is not available while evaluating a CFI expression")
}
func (c *exprCtx) CallFrameCFA() (uint64, error) { return c.cfa, nil }

// ResolveCFA computes the row's canonical frame address (spec.md §4.6
// "Applying the row", step 1).
func (fc *FrameContext) ResolveCFA(regs Registers, mem Memory, ptrSize int) (uint64, error) {
	switch fc.CFA.Kind {
	case RuleRegister:
		v, ok := regs.Reg(fc.CFA.Reg)
		if !ok {
			return 0, newCFIError("CFA register %d is not available", fc.CFA.Reg)
		}
		return uint64(int64(v) + fc.CFA.Offset), nil
	case RuleExpression:
		res, err := op.Evaluate(fc.CFA.Expr, ptrSize, &exprCtx{regs: regs, mem: mem})
		if err != nil {
			return 0, err
		}
		return res.Value, nil
	default:
		return 0, newCFIError("CFA rule is undefined at this location")
	}
}

// ResolveRegister recovers one register's previous-frame value given
// the CFA already computed by ResolveCFA (spec.md §4.6 "Applying the
// row", step 2). known is false for RuleUndefined, matching the walker
// termination rule for the return-address register.
func (fc *FrameContext) ResolveRegister(reg uint64, cfa uint64, regs Registers, mem Memory, ptrSize int) (value uint64, known bool, err error) {
	rule, ok := fc.Regs[reg]
	if !ok {
		rule = Rule{Kind: RuleUndefined}
	}

	switch rule.Kind {
	case RuleUndefined:
		return 0, false, nil
	case RuleSameValue:
		v, ok := regs.Reg(reg)
		return v, ok, nil
	case RuleOffset:
		v, err := mem.ReadMemory(uint64(int64(cfa)+rule.Offset), ptrSize)
		return v, err == nil, err
	case RuleValOffset:
		return uint64(int64(cfa) + rule.Offset), true, nil
	case RuleRegister:
		v, ok := regs.Reg(rule.Reg)
		return v, ok, nil
	case RuleExpression:
		res, err := op.Evaluate(rule.Expr, ptrSize, &exprCtx{regs: regs, mem: mem, cfa: cfa})
		if err != nil {
			return 0, false, err
		}
		v, err := mem.ReadMemory(res.Value, ptrSize)
		return v, err == nil, err
	case RuleValExpression:
		res, err := op.Evaluate(rule.Expr, ptrSize, &exprCtx{regs: regs, mem: mem, cfa: cfa})
		if err != nil {
			return 0, false, err
		}
		return res.Value, true, nil
	default:
		return 0, false, newCFIError("unknown register rule kind")
	}
}

// PrevPC resolves the return-address register through the row,
// terminating the walk (known=false) when its rule is undefined
// (spec.md §8 "Unwinding a frame whose CIE has return_address_register
// rule of undefined terminates the walk at that frame").
func (fc *FrameContext) PrevPC(regs Registers, mem Memory, ptrSize int) (pc uint64, known bool, err error) {
	cfa, err := fc.ResolveCFA(regs, mem, ptrSize)
	if err != nil {
		return 0, false, err
	}
	return fc.ResolveRegister(fc.RetAddrReg, cfa, regs, mem, ptrSize)
}
