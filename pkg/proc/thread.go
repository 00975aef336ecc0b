package proc

import "github.com/gostack/dwarfwalk/pkg/dwarf/regnum"

// ThreadKind distinguishes the OS-level thread types a ThreadEnumerator
// may report (spec.md §6 "Thread enumeration (consumed): a callback
// interface yielding (tid, lwp, type, register file) per thread").
type ThreadKind int

const (
	// ThreadKindTask is a normal kernel-scheduled thread (one ptraced
	// tid, or one PT_NOTE NT_PRSTATUS entry in a core file).
	ThreadKindTask ThreadKind = iota
	// ThreadKindGoroutine is a runtime-scheduled goroutine not
	// currently bound to an OS thread; its saved registers come from
	// the runtime's own bookkeeping rather than ptrace/core notes.
	ThreadKindGoroutine
)

// ThreadInfo is one unwindable execution context.
type ThreadInfo struct {
	Tid  int
	Lwp  int
	Kind ThreadKind
	Regs *regnum.RegisterFile
}

// ThreadEnumerator yields every thread a stack walk can be started
// from. The live ptrace target and the post-mortem core reader each
// implement this over their own source of register snapshots.
type ThreadEnumerator interface {
	Threads() ([]ThreadInfo, error)
}
