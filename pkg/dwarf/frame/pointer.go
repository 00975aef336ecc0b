package frame

import (
	"bytes"
	"encoding/binary"

	"github.com/gostack/dwarfwalk/pkg/dwarf/util"
)

// Pointer encoding bytes (spec.md §4.5): low nibble selects the on-disk
// representation, high nibble selects the base the decoded value is
// relative to. These are the GCC/LLVM .eh_frame augmentation
// encodings; .debug_frame records never carry one (Parse defaults
// unaugmented CIEs to encAbsPtr).
const (
	encFormatMask = 0x0f
	encAppMask    = 0x70
	encIndirect   = 0x80
	encOmit       = 0xff

	encAbsPtr  = 0x00
	encULEB128 = 0x01
	encUData2  = 0x02
	encUData4  = 0x03
	encUData8  = 0x04
	encSigned  = 0x08
	encSLEB128 = 0x09
	encSData2  = 0x0a
	encSData4  = 0x0b
	encSData8  = 0x0c

	encAbs     = 0x00
	encPCRel   = 0x10
	encTextRel = 0x20
	encDataRel = 0x30
	encFuncRel = 0x40
	encAligned = 0x50
)

// decodeEncodedPtr reads one pointer-encoded value from buf, which must
// be positioned at the field. fieldAddr is the value's own address in
// the section, needed to resolve a pc-relative base.
func decodeEncodedPtr(buf *bytes.Buffer, enc byte, ptrSize int, order binary.ByteOrder, fieldAddr uint64) (uint64, error) {
	if enc == encOmit {
		return 0, nil
	}

	format := enc & encFormatMask
	var raw uint64
	var err error
	switch format {
	case encAbsPtr:
		raw, err = util.ReadUintRaw(buf, order, ptrSize)
	case encULEB128:
		raw, err = util.DecodeULEB128(buf)
	case encUData2:
		raw, err = util.ReadUintRaw(buf, order, 2)
	case encUData4:
		raw, err = util.ReadUintRaw(buf, order, 4)
	case encUData8:
		raw, err = util.ReadUintRaw(buf, order, 8)
	case encSLEB128:
		var s int64
		s, err = util.DecodeSLEB128(buf)
		raw = uint64(s)
	case encSData2:
		var v uint64
		v, err = util.ReadUintRaw(buf, order, 2)
		raw = uint64(int64(int16(v)))
	case encSData4:
		var v uint64
		v, err = util.ReadUintRaw(buf, order, 4)
		raw = uint64(int64(int32(v)))
	case encSData8:
		raw, err = util.ReadUintRaw(buf, order, 8)
	default:
		return 0, newCFIError("unsupported pointer encoding format %#x", format)
	}
	if err != nil {
		return 0, err
	}

	base := enc & encAppMask
	switch base {
	case encAbs:
		return raw, nil
	case encPCRel:
		return fieldAddr + raw, nil
	default:
		return 0, newCFIError("unsupported pointer encoding base %#x (requires a base address this decoder cannot resolve)", base)
	}
}

// encodedPtrSize returns the byte width consumed by a fixed-width
// encoding, or -1 for the variable-length LEB128 forms.
func encodedPtrSize(enc byte, ptrSize int) int {
	switch enc & encFormatMask {
	case encAbsPtr:
		return ptrSize
	case encUData2, encSData2:
		return 2
	case encUData4, encSData4:
		return 4
	case encUData8, encSData8:
		return 8
	default:
		return -1
	}
}
