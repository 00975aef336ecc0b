package proc

import (
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// Launch starts prog under ptrace (PTRACE_TRACEME via SysProcAttr) and
// waits for its initial stop, generalizing pkg/target/dbp.go's
// NewDebuggedProcess/launchCommand into a MemoryReadWriter/
// ThreadEnumerator this module's stack walker can drive directly.
func Launch(prog string, args []string) (*PtraceTarget, error) {
	cmd := exec.Command(prog, args...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Ptrace:  true, // implies PTRACE_TRACEME in the child before exec
		Setpgid: true,
	}
	cmd.Env = append(os.Environ(), "GODEBUG=asyncpreemptoff=1")

	// The thread that forks with Ptrace set becomes the tracer, so the
	// fork runs on t's tracer goroutine like every later request.
	t := NewPtraceTarget(0)
	var err error
	t.execPtrace(func() { err = cmd.Start() })
	if err != nil {
		return nil, wrapUnwindError(err, "launch %s", prog)
	}
	t.Pid = cmd.Process.Pid

	var status unix.WaitStatus
	if _, err := unix.Wait4(cmd.Process.Pid, &status, 0, nil); err != nil {
		return nil, wrapUnwindError(err, "wait for %s to stop after launch", prog)
	}
	if !status.Stopped() {
		return nil, newUnwindError("%s did not stop after exec: %v", prog, status)
	}

	t.execPtrace(func() { err = unix.PtraceSetOptions(t.Pid, unix.PTRACE_O_TRACECLONE) })
	if err != nil {
		log.WithError(err).Debug("PTRACE_O_TRACECLONE failed; child threads will not be traced")
	}

	return t, nil
}

// Attach seizes an already-running pid, generalizing
// pkg/target/dbp.go's AttachTargetProcess.
func Attach(pid int) (*PtraceTarget, error) {
	if !processExists(pid) {
		return nil, newUnwindError("process %d does not exist", pid)
	}

	t := NewPtraceTarget(pid)
	var err error
	t.execPtrace(func() { err = unix.PtraceAttach(pid) })
	if err != nil {
		return nil, wrapUnwindError(err, "attach to pid %d", pid)
	}

	var status unix.WaitStatus
	if _, err := unix.Wait4(pid, &status, 0, nil); err != nil {
		return nil, wrapUnwindError(err, "wait for pid %d to stop after attach", pid)
	}
	if !status.Stopped() {
		return nil, newUnwindError("pid %d did not stop after attach: %v", pid, status)
	}

	return t, nil
}

// Detach releases a PtraceTarget attached via Attach, letting the
// tracee resume independently.
func Detach(t *PtraceTarget) error {
	var err error
	t.execPtrace(func() {
		err = unix.PtraceDetach(t.Pid)
	})
	if err != nil {
		return wrapUnwindError(err, "detach from pid %d", t.Pid)
	}
	return nil
}

// processExists sends the null signal, which the kernel still
// validates against the target pid even though it delivers nothing
// (man 2 kill).
func processExists(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
