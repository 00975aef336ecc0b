// Package proc drives the stack walker over a live ptrace target or a
// post-mortem core file: it adapts pkg/symbol's per-binary lookup
// tables and pkg/dwarf/frame's CFI evaluator to a concrete process
// memory/register source (spec.md §4.8, §6).
package proc

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// MemoryReadWriter is the target's address space, read and written in
// raw bytes (spec.md §6 "Process memory (consumed)": "same shape as
// byte reader but addressed in the target's virtual address space").
// Both the ptrace-backed live reader and the core-file reader satisfy
// this so the stack walker is oblivious to which it is driving.
type MemoryReadWriter interface {
	ReadMemory(addr uint64, buf []byte) (int, error)
	WriteMemory(addr uint64, data []byte) (int, error)
}

// frameMemory adapts a MemoryReadWriter's buffer-oriented reads to the
// single target-sized-scalar shape pkg/dwarf/frame.Memory and
// pkg/dwarf/op.Context need.
type frameMemory struct {
	mem   MemoryReadWriter
	order binary.ByteOrder
}

func (m *frameMemory) ReadMemory(addr uint64, size int) (uint64, error) {
	buf := make([]byte, size)
	n, err := m.mem.ReadMemory(addr, buf)
	if err != nil {
		return 0, errors.Wrapf(err, "read %d bytes at %#x", size, addr)
	}
	if n != size {
		return 0, errors.Errorf("short read at %#x: got %d of %d bytes", addr, n, size)
	}

	switch size {
	case 1:
		return uint64(buf[0]), nil
	case 2:
		return uint64(m.order.Uint16(buf)), nil
	case 4:
		return uint64(m.order.Uint32(buf)), nil
	case 8:
		return m.order.Uint64(buf), nil
	default:
		var v uint64
		for i := 0; i < size; i++ {
			if m.order == binary.BigEndian {
				v = v<<8 | uint64(buf[i])
			} else {
				v |= uint64(buf[i]) << (8 * i)
			}
		}
		return v, nil
	}
}
