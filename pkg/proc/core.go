package proc

import (
	"debug/elf"
	"encoding/binary"
	"os"

	"github.com/gostack/dwarfwalk/pkg/dwarf/regnum"
)

// CoreReader is a post-mortem MemoryReadWriter/ThreadEnumerator backed
// by an ELF core file's PT_LOAD segments and NT_PRSTATUS notes (spec.md
// SPEC_FULL "core subcommand"): the same contract PtraceTarget
// satisfies for a live process, so the stack walker is indifferent to
// which one it drives.
type CoreReader struct {
	file     *elf.File
	osFile   *os.File
	segments []*elf.Prog
	threads  []ThreadInfo
}

// OpenCore parses path as an ELF core dump.
func OpenCore(path string) (*CoreReader, error) {
	osf, err := os.Open(path)
	if err != nil {
		return nil, wrapUnwindError(err, "open core file %s", path)
	}
	f, err := elf.NewFile(osf)
	if err != nil {
		osf.Close()
		return nil, wrapUnwindError(err, "open core file %s", path)
	}
	if f.Type != elf.ET_CORE {
		f.Close()
		osf.Close()
		return nil, newUnwindError("%s is not an ELF core file", path)
	}

	cr := &CoreReader{file: f, osFile: osf}
	for _, p := range f.Progs {
		if p.Type == elf.PT_LOAD {
			cr.segments = append(cr.segments, p)
		}
	}

	threads, err := parseNotes(f)
	if err != nil {
		f.Close()
		osf.Close()
		return nil, err
	}
	cr.threads = threads
	return cr, nil
}

// Close releases the underlying file.
func (cr *CoreReader) Close() error {
	err := cr.file.Close()
	if cerr := cr.osFile.Close(); err == nil {
		err = cerr
	}
	return err
}

// ReadMemory reads from whichever PT_LOAD segment covers addr.
func (cr *CoreReader) ReadMemory(addr uint64, buf []byte) (int, error) {
	for _, seg := range cr.segments {
		if addr < seg.Vaddr || addr >= seg.Vaddr+seg.Filesz {
			continue
		}
		off := seg.Off + (addr - seg.Vaddr)
		n, err := cr.osFile.ReadAt(buf, int64(off))
		if err != nil && n == 0 {
			return 0, wrapUnwindError(err, "read core segment at %#x", addr)
		}
		return n, nil
	}
	return 0, newUnwindError("address %#x is not mapped in this core file", addr)
}

// WriteMemory always fails: a core file is a read-only snapshot.
func (cr *CoreReader) WriteMemory(addr uint64, data []byte) (int, error) {
	return 0, newUnwindError("core file is read-only")
}

// Threads implements ThreadEnumerator over the core's NT_PRSTATUS notes.
func (cr *CoreReader) Threads() ([]ThreadInfo, error) { return cr.threads, nil }

// parseNotes extracts one ThreadInfo per NT_PRSTATUS note in the
// core's PT_NOTE segment. The note's register block is a raw
// struct user_regs_struct (amd64), the same layout ptrace's GETREGS
// returns, laid out after the fixed elf_prstatus prefix.
func parseNotes(f *elf.File) ([]ThreadInfo, error) {
	// Offsets below follow struct elf_prstatus on x86-64 linux-gnu:
	// pr_info(12) + pr_cursig(2) + pad(2) + pr_sigpend(8) + pr_sighold(8)
	// = 32 to pr_pid; pr_pid/pr_ppid/pr_pgrp/pr_sid(4*4=16) +
	// pr_utime/pr_stime/pr_cutime/pr_cstime(4*16=64) = 80 more, landing
	// pr_reg at offset 112.
	const (
		ntPrstatus      = 1
		prstatusPidOff  = 32
		prstatusRegsOff = 112
		userRegsStructN = 27 // amd64 user_regs_struct field count
	)

	var threads []ThreadInfo
	for _, p := range f.Progs {
		if p.Type != elf.PT_NOTE {
			continue
		}
		data := make([]byte, p.Filesz)
		if _, err := p.ReadAt(data, 0); err != nil {
			continue
		}
		for off := 0; off+12 <= len(data); {
			nameSz := binary.LittleEndian.Uint32(data[off:])
			descSz := binary.LittleEndian.Uint32(data[off+4:])
			noteType := binary.LittleEndian.Uint32(data[off+8:])
			off += 12
			off += align4(int(nameSz))
			descStart := off
			off += align4(int(descSz))
			if off > len(data) {
				break
			}
			if noteType != ntPrstatus {
				continue
			}
			desc := data[descStart : descStart+int(descSz)]
			if len(desc) < prstatusRegsOff+userRegsStructN*8 {
				continue
			}

			pid := int32(binary.LittleEndian.Uint32(desc[prstatusPidOff : prstatusPidOff+4]))
			regsOff := prstatusRegsOff
			var regs [userRegsStructN]uint64
			for i := 0; i < userRegsStructN; i++ {
				regs[i] = binary.LittleEndian.Uint64(desc[regsOff+i*8:])
			}
			threads = append(threads, ThreadInfo{
				Tid:  int(pid),
				Lwp:  int(pid),
				Kind: ThreadKindTask,
				Regs: userRegsStructToRegisterFile(regs),
			})
		}
	}
	return threads, nil
}

func align4(n int) int { return (n + 3) &^ 3 }

// userRegsStructToRegisterFile maps the amd64 struct user_regs_struct
// field order (r15, r14, r13, r12, rbp, rbx, r11, r10, r9, r8, rax,
// rcx, rdx, rsi, rdi, orig_rax, rip, cs, eflags, rsp, ss, fs_base,
// gs_base, ds, es, fs, gs) into a RegisterFile.
func userRegsStructToRegisterFile(r [27]uint64) *regnum.RegisterFile {
	return regnum.AMD64FromPtraceRegs(
		r[10], r[12], r[11], r[5], r[13], r[14],
		r[4], r[19], r[9], r[8], r[7], r[6],
		r[3], r[2], r[1], r[0], r[16],
	)
}
