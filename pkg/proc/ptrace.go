package proc

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/gostack/dwarfwalk/pkg/dwarf/regnum"
)

// PtraceTarget is a live, ptrace-attached process: a MemoryReadWriter
// and ThreadEnumerator backed by the same single-tracer-goroutine
// serialization pkg/target's DebuggedProcess uses, since every ptrace
// request for a given tracee must come from the thread that attached
// to it.
type PtraceTarget struct {
	Pid int

	once       sync.Once
	ptraceCh   chan func()
	ptraceDone chan struct{}
}

// NewPtraceTarget wraps an already-attached (PTRACE_ATTACH'd or
// PTRACE_TRACEME'd and stopped) process.
func NewPtraceTarget(pid int) *PtraceTarget {
	return &PtraceTarget{
		Pid:        pid,
		ptraceCh:   make(chan func()),
		ptraceDone: make(chan struct{}),
	}
}

// execPtrace runs fn on the dedicated tracer goroutine, starting it on
// first use (golang.org/issue/7699: all ptrace requests for one tracee
// must issue from the same OS thread).
func (t *PtraceTarget) execPtrace(fn func()) {
	t.once.Do(func() {
		go func() {
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()
			for req := range t.ptraceCh {
				req()
				t.ptraceDone <- struct{}{}
			}
		}()
	})
	t.ptraceCh <- fn
	<-t.ptraceDone
}

// ReadMemory implements MemoryReadWriter over PTRACE_PEEKTEXT.
func (t *PtraceTarget) ReadMemory(addr uint64, buf []byte) (int, error) {
	var (
		n   int
		err error
	)
	t.execPtrace(func() {
		n, err = unix.PtracePeekText(t.Pid, uintptr(addr), buf)
	})
	return n, err
}

// WriteMemory implements MemoryReadWriter over PTRACE_POKETEXT.
func (t *PtraceTarget) WriteMemory(addr uint64, data []byte) (int, error) {
	var (
		n   int
		err error
	)
	t.execPtrace(func() {
		n, err = unix.PtracePokeText(t.Pid, uintptr(addr), data)
	})
	return n, err
}

// Threads implements ThreadEnumerator by listing /proc/pid/task and
// fetching each task's current registers via PTRACE_GETREGS.
func (t *PtraceTarget) Threads() ([]ThreadInfo, error) {
	paths, err := filepath.Glob(fmt.Sprintf("/proc/%d/task/*", t.Pid))
	if err != nil {
		return nil, wrapUnwindError(err, "list threads of pid %d", t.Pid)
	}

	var threads []ThreadInfo
	for _, p := range paths {
		tid, err := strconv.Atoi(filepath.Base(p))
		if err != nil {
			continue
		}

		var (
			regs unix.PtraceRegs
			gerr error
		)
		t.execPtrace(func() {
			gerr = unix.PtraceGetRegs(tid, &regs)
		})
		if gerr != nil {
			log.WithError(gerr).WithField("tid", tid).Debug("skipping thread: PTRACE_GETREGS failed")
			continue
		}

		threads = append(threads, ThreadInfo{
			Tid:  tid,
			Lwp:  tid,
			Kind: ThreadKindTask,
			Regs: ptraceRegsToRegisterFile(&regs),
		})
	}
	return threads, nil
}

// ptraceRegsToRegisterFile adapts the host's native PtraceRegs layout
// (amd64 on every platform this module is built for) to regnum's
// architecture-neutral RegisterFile.
func ptraceRegsToRegisterFile(regs *unix.PtraceRegs) *regnum.RegisterFile {
	return regnum.AMD64FromPtraceRegs(
		regs.Rax, regs.Rdx, regs.Rcx, regs.Rbx, regs.Rsi, regs.Rdi,
		regs.Rbp, regs.Rsp, regs.R8, regs.R9, regs.R10, regs.R11,
		regs.R12, regs.R13, regs.R14, regs.R15, regs.Rip,
	)
}
