package proc

import (
	"encoding/binary"
	"testing"
)

type byteSliceMem struct {
	base uint64
	data []byte
}

func (m *byteSliceMem) ReadMemory(addr uint64, buf []byte) (int, error) {
	off := addr - m.base
	if off > uint64(len(m.data)) || off+uint64(len(buf)) > uint64(len(m.data)) {
		return 0, newUnwindError("out of range read at %#x", addr)
	}
	return copy(buf, m.data[off:off+uint64(len(buf))]), nil
}

func (m *byteSliceMem) WriteMemory(addr uint64, data []byte) (int, error) {
	off := addr - m.base
	return copy(m.data[off:], data), nil
}

func TestFrameMemoryReadMemorySizes(t *testing.T) {
	data := make([]byte, 16)
	binary.LittleEndian.PutUint64(data[0:], 0x0102030405060708)
	binary.LittleEndian.PutUint32(data[8:], 0x0a0b0c0d)
	data[12] = 0xff

	mem := &frameMemory{mem: &byteSliceMem{base: 0x1000, data: data}, order: binary.LittleEndian}

	v8, err := mem.ReadMemory(0x1000, 8)
	if err != nil || v8 != 0x0102030405060708 {
		t.Fatalf("8-byte read: v=%#x err=%v", v8, err)
	}

	v4, err := mem.ReadMemory(0x1008, 4)
	if err != nil || v4 != 0x0a0b0c0d {
		t.Fatalf("4-byte read: v=%#x err=%v", v4, err)
	}

	v1, err := mem.ReadMemory(0x100c, 1)
	if err != nil || v1 != 0xff {
		t.Fatalf("1-byte read: v=%#x err=%v", v1, err)
	}
}

func TestFrameMemoryReadMemoryShortReadErrors(t *testing.T) {
	mem := &frameMemory{mem: &byteSliceMem{base: 0x1000, data: make([]byte, 4)}, order: binary.LittleEndian}
	if _, err := mem.ReadMemory(0x1000, 8); err == nil {
		t.Fatal("expected short-read error")
	}
}
