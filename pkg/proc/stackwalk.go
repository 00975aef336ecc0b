package proc

import (
	"encoding/binary"

	"go.uber.org/atomic"

	"github.com/sirupsen/logrus"

	"github.com/gostack/dwarfwalk/pkg/dwarf/frame"
	"github.com/gostack/dwarfwalk/pkg/dwarf/regnum"
	"github.com/gostack/dwarfwalk/pkg/symbol"
)

// log is the package-level logger; SetLogger mirrors pkg/symbol's
// capture-or-silence convention.
var log logrus.FieldLogger = logrus.StandardLogger()

// SetLogger overrides the logger used for per-thread unwind diagnostics.
func SetLogger(l logrus.FieldLogger) { log = l }

// defaultMaxFrames bounds a walk against unwind tables that loop
// forever (spec.md §4.8 "bounded by a configurable maximum (default
// 1024)").
const defaultMaxFrames = 1024

// Frame is one entry in a reconstructed call stack.
type Frame struct {
	PC            uint64
	CFA           uint64
	Regs          *regnum.RegisterFile
	Func          *symbol.Function
	Object        *Object
	IsSignalFrame bool
	haveCFA       bool

	mem     MemoryReadWriter
	ptrSize int
}

// StackWalker reconstructs a thread's call stack by repeatedly
// applying call frame information (spec.md §4.8).
type StackWalker struct {
	Objects   *ObjectRegistry
	Mem       MemoryReadWriter
	Arch      Arch
	MaxFrames int
}

// NewStackWalker builds a walker over the given loaded objects and
// target memory, using MaxFrames=1024 unless overridden.
func NewStackWalker(objects *ObjectRegistry, mem MemoryReadWriter, arch Arch) *StackWalker {
	return &StackWalker{Objects: objects, Mem: mem, Arch: arch, MaxFrames: defaultMaxFrames}
}

// Unwind walks the call stack starting at initial, returning every
// frame it could recover. Per spec.md §7's unwind-error policy, a
// failure partway through stops the walk but does not discard the
// frames already produced: Unwind never returns a non-nil error
// together with a nil frame list for that reason, it simply returns
// what it has.
func (w *StackWalker) Unwind(initial *regnum.RegisterFile) []Frame {
	max := w.MaxFrames
	if max <= 0 {
		max = defaultMaxFrames
	}

	mem := &frameMemory{mem: w.Mem, order: binary.LittleEndian}
	ptrSize := w.Arch.PtrSize()

	var (
		frames      []Frame
		regs        = initial
		prevCFA     uint64
		havePrevCFA bool
		prevSignal  bool
	)
	count := atomic.NewInt64(0)

	for count.Load() < int64(max) {
		pc := regs.PC()

		// A return address ordinarily points just past its call
		// instruction; back it up by one byte before resolving FDE/
		// function/line so an address at the very end of a noreturn
		// call's function still resolves inside it. The PC of a
		// signal-interrupted frame is the fault address itself, not a
		// return address, so it is never adjusted (spec.md §4.8 step 7).
		lookupPC := pc
		if len(frames) > 0 && !prevSignal {
			lookupPC--
		}

		obj, filePC, err := w.Objects.FindByPC(lookupPC)
		var fde *frame.FrameDescriptionEntry
		var fn *symbol.Function
		if err == nil {
			fn, _ = obj.BI.PCToFunction(filePC)
			fde, err = obj.BI.PCToFDE(filePC)
		}

		if err != nil || fde == nil {
			isFirst := len(frames) == 0
			next, ok := w.fallback(regs, isFirst, pc)
			if !ok {
				log.WithField("pc", pc).Warn("stack walk stopped: no CFI and no applicable fallback")
				break
			}
			frames = append(frames, Frame{PC: pc, Regs: regs, Func: fn, Object: obj, mem: w.Mem, ptrSize: ptrSize})
			count.Inc()
			regs = next
			// A non-first frame only gets here through signal-trampoline
			// recovery, whose recovered PC is the interrupted address itself.
			prevSignal = !isFirst
			havePrevCFA = false
			continue
		}

		fc, err := fde.EstablishFrame(filePC, ptrSize)
		if err != nil {
			log.WithError(err).WithField("pc", pc).Debug("stack walk stopped: CFI evaluation failed")
			break
		}

		cfa, err := fc.ResolveCFA(regs, mem, ptrSize)
		if err != nil {
			log.WithError(err).WithField("pc", pc).Debug("stack walk stopped: CFA rule failed")
			break
		}

		isSignal := fde.CIE.IsSignalHandler
		frames = append(frames, Frame{
			PC: pc, CFA: cfa, Regs: regs, Func: fn, Object: obj, IsSignalFrame: isSignal,
			haveCFA: true, mem: w.Mem, ptrSize: ptrSize,
		})
		count.Inc()

		if havePrevCFA && cfa == prevCFA {
			// CFA did not advance: spec.md §4.8 termination condition.
			break
		}

		prevPC, known, err := fc.PrevPC(regs, mem, ptrSize)
		if err != nil {
			log.WithError(err).WithField("pc", pc).Debug("stack walk stopped: return address rule failed")
			break
		}
		if !known {
			break
		}
		if prevPC == 0 {
			// Next PC is zero: spec.md §4.8 termination condition.
			break
		}

		next := regnum.NewRegisterFile(w.Arch.PCReg())
		for reg := range fc.Regs {
			v, ok, err := fc.ResolveRegister(reg, cfa, regs, mem, ptrSize)
			if err == nil && ok {
				next.Set(reg, v)
			}
		}
		next.Set(w.Arch.PCReg(), prevPC)
		next.Set(w.Arch.SPReg(), cfa)

		regs, prevCFA, havePrevCFA, prevSignal = next, cfa, true, isSignal
	}

	return frames
}

// fallback applies the x86/x86-64 architecture-specific recovery rules
// when CFI lookup fails outright (spec.md §4.8 "Architecture
// fallback").
func (w *StackWalker) fallback(regs *regnum.RegisterFile, isFirst bool, pc uint64) (*regnum.RegisterFile, bool) {
	// The two cases are mutually exclusive and gated on isFirst, not on
	// symbol match: the first frame always takes the invalid-call
	// fallback below, even if its PC happens to coincide with a
	// trampoline symbol's address. Signal-trampoline recovery only ever
	// applies to a non-first frame.
	if isFirst {
		sp, ok := regs.Reg(w.Arch.SPReg())
		if !ok {
			return nil, false
		}
		newPC, newSP, err := FirstFrameFallback(w.Mem, sp, w.Arch.PtrSize())
		if err != nil {
			log.WithError(err).Debug("first-frame fallback failed")
			return nil, false
		}
		next := regs.Clone()
		next.Set(w.Arch.PCReg(), newPC)
		next.Set(w.Arch.SPReg(), newSP)
		return next, true
	}

	for _, name := range w.Arch.SignalTrampolineNames() {
		_, addr, ok := w.Objects.FindSymbolTrampoline(name)
		if !ok || addr != pc {
			continue
		}
		if !confirmTrampoline(w.Mem, addr, w.Arch.DisasmMode()) {
			log.WithField("trampoline", name).Debug("symbol matched but did not decode; skipping fallback")
			continue
		}
		sp, _ := regs.Reg(w.Arch.SPReg())
		snap, err := w.Arch.RecoverSignalFrame(w.Mem, name, sp)
		if err != nil {
			log.WithError(err).WithField("trampoline", name).Debug("signal-trampoline fallback failed")
			return nil, false
		}
		next := regnum.NewRegisterFile(w.Arch.PCReg())
		for reg, v := range snap.Slots {
			next.Set(reg, v)
		}
		return next, true
	}

	return nil, false
}
