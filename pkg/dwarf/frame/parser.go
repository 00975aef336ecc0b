// Package frame decodes call frame information from .debug_frame or
// .eh_frame: a sequence of length-prefixed Common Information Entries
// and Frame Description Entries (spec.md §4.5), and evaluates their
// instruction streams into per-PC unwind rows (table.go, spec.md §4.6).
package frame

import (
	"bytes"
	"encoding/binary"

	"github.com/gostack/dwarfwalk/pkg/dwarf/util"
)

type parsefunc func(*parseContext) parsefunc

// parseContext threads state through the parsefunc chain that decodes
// the CIEs and FDEs in one section (spec.md §4.5). The byte-cursor
// idiom and the CIE/FDE discriminator logic in parselength are
// extended from the teacher's own .debug_frame-only parser to also
// cover .eh_frame's different discriminator convention, augmentation
// strings, and pointer encodings.
type parseContext struct {
	staticBase uint64
	ptrSize    int
	order      binary.ByteOrder
	ehFrame    bool

	data []byte
	buf  *bytes.Buffer

	entries     FrameDescriptionEntries
	cieByOffset map[int]*CommonInformationEntry

	common       *CommonInformationEntry
	commonOffset int
	frame        *FrameDescriptionEntry
	length       uint32
	err          error
}

func (ctx *parseContext) off() int { return len(ctx.data) - ctx.buf.Len() }

// Parse decodes every CIE/FDE record in data. order is the byte order
// of the owning object (see DwarfEndian); staticBase is added to every
// FDE's initial-location so callers can pre-relocate FDEs parsed from a
// position-independent image. ehFrame selects the .eh_frame
// CIE/FDE discriminator and pointer-encoding augmentations instead of
// plain .debug_frame.
func Parse(data []byte, order binary.ByteOrder, staticBase uint64, ptrSize int, ehFrame bool) (FrameDescriptionEntries, error) {
	pctx := &parseContext{
		data:        data,
		buf:         bytes.NewBuffer(data),
		entries:     newFrameDescriptionEntries(),
		cieByOffset: map[int]*CommonInformationEntry{},
		staticBase:  staticBase,
		ptrSize:     ptrSize,
		order:       order,
		ehFrame:     ehFrame,
	}

	for fn := parsefunc(parselength); fn != nil && pctx.err == nil; {
		fn = fn(pctx)
	}
	if pctx.err != nil {
		return nil, pctx.err
	}

	pctx.entries.sortByAddress()
	return pctx.entries, nil
}

// parselength reads one record's length and CIE/FDE discriminator and
// dispatches to parseCIE or parseFDE.
func parselength(ctx *parseContext) parsefunc {
	if ctx.buf.Len() == 0 {
		return nil
	}

	recordStart := ctx.off()
	if err := binary.Read(ctx.buf, ctx.order, &ctx.length); err != nil {
		ctx.err = err
		return nil
	}
	if ctx.length == 0 {
		// .eh_frame terminates with a zero-length record; for .debug_frame
		// this simply means no further records follow.
		return nil
	}

	idOff := ctx.off()
	idBytes := ctx.buf.Next(4)
	if len(idBytes) < 4 {
		ctx.err = newCFIError("record at %#x: truncated CIE/FDE id field", recordStart)
		return nil
	}
	id := ctx.order.Uint32(idBytes)
	ctx.length -= 4

	var isCIE bool
	if ctx.ehFrame {
		isCIE = id == 0
	} else {
		isCIE = id == 0xffffffff
	}

	if isCIE {
		ctx.common = &CommonInformationEntry{Length: ctx.length, staticBase: ctx.staticBase}
		ctx.commonOffset = recordStart
		return parseCIE
	}

	var cieOff int
	if ctx.ehFrame {
		cieOff = idOff - int(id)
	} else {
		cieOff = int(id)
	}
	cie, ok := ctx.cieByOffset[cieOff]
	if !ok {
		ctx.err = newCFIError("FDE at %#x references unknown CIE at offset %#x", recordStart, cieOff)
		return nil
	}

	ctx.frame = &FrameDescriptionEntry{Length: ctx.length, CIE: cie, order: ctx.order}
	return parseFDE
}

// parseFDE decodes one Frame Description Entry's initial-location,
// address-range, optional augmentation data, and instruction stream.
func parseFDE(ctx *parseContext) parsefunc {
	contentStart := ctx.off()
	data := ctx.buf.Next(int(ctx.length))
	buf := bytes.NewBuffer(data)

	cie := ctx.frame.CIE
	fdeEnc := cie.FDEPointerEncoding

	initLoc, err := decodeEncodedPtr(buf, fdeEnc, ctx.ptrSize, ctx.order, uint64(contentStart))
	if err != nil {
		ctx.err = err
		return nil
	}
	ctx.frame.begin = initLoc + ctx.staticBase

	size, err := decodeEncodedPtr(buf, fdeEnc&encFormatMask, ctx.ptrSize, ctx.order, 0)
	if err != nil {
		ctx.err = err
		return nil
	}
	ctx.frame.size = size

	if cie.hasAugmentation('z') {
		augLen, err := util.DecodeULEB128(buf)
		if err != nil {
			ctx.err = err
			return nil
		}
		buf.Next(int(augLen))
	}

	ctx.entries = append(ctx.entries, ctx.frame)
	ctx.frame.Instructions = buf.Bytes()
	ctx.length = 0

	return parselength
}

// parseCIE decodes one Common Information Entry: version, augmentation
// string, code/data alignment factors, return-address register, the
// augmentation-derived pointer encodings (if the string starts with
// 'z'), and the initial instruction stream.
func parseCIE(ctx *parseContext) parsefunc {
	data := ctx.buf.Next(int(ctx.length))
	buf := bytes.NewBuffer(data)
	cie := ctx.common

	var err error
	cie.Version, err = buf.ReadByte()
	if err != nil {
		ctx.err = err
		return nil
	}

	cie.Augmentation, err = util.ParseString(buf)
	if err != nil {
		ctx.err = err
		return nil
	}

	cie.CodeAlignmentFactor, err = util.DecodeULEB128(buf)
	if err != nil {
		ctx.err = err
		return nil
	}
	cie.DataAlignmentFactor, err = util.DecodeSLEB128(buf)
	if err != nil {
		ctx.err = err
		return nil
	}

	if cie.Version >= 3 {
		cie.ReturnAddressRegister, err = util.DecodeULEB128(buf)
	} else {
		var b byte
		b, err = buf.ReadByte()
		cie.ReturnAddressRegister = uint64(b)
	}
	if err != nil {
		ctx.err = err
		return nil
	}

	cie.FDEPointerEncoding = encAbsPtr
	cie.LSDAPointerEncoding = encOmit
	cie.PersonalityEncoding = encOmit

	if cie.hasAugmentation('z') {
		augLen, err := util.DecodeULEB128(buf)
		if err != nil {
			ctx.err = err
			return nil
		}
		augBuf := bytes.NewBuffer(buf.Next(int(augLen)))
		for i := 1; i < len(cie.Augmentation); i++ {
			switch cie.Augmentation[i] {
			case 'L':
				b, err := augBuf.ReadByte()
				if err != nil {
					ctx.err = err
					return nil
				}
				cie.LSDAPointerEncoding = b
			case 'P':
				encByte, err := augBuf.ReadByte()
				if err != nil {
					ctx.err = err
					return nil
				}
				cie.PersonalityEncoding = encByte
				val, err := decodeEncodedPtr(augBuf, encByte, ctx.ptrSize, ctx.order, 0)
				if err != nil {
					ctx.err = err
					return nil
				}
				cie.PersonalityFunc = val
			case 'R':
				b, err := augBuf.ReadByte()
				if err != nil {
					ctx.err = err
					return nil
				}
				cie.FDEPointerEncoding = b
			case 'S':
				cie.IsSignalHandler = true
			}
		}
	}

	cie.InitialInstructions = buf.Bytes()
	ctx.cieByOffset[ctx.commonOffset] = cie
	ctx.length = 0

	return parselength
}

// DwarfEndian determines the endianness of the DWARF data by examining
// the version field of a .debug_info section (trick borrowed from the
// standard library's debug/dwarf.New()).
func DwarfEndian(infoSec []byte) binary.ByteOrder {
	if len(infoSec) < 6 {
		return binary.LittleEndian
	}
	x, y := infoSec[4], infoSec[5]
	switch {
	case x == 0 && y == 0:
		return binary.BigEndian
	case x == 0:
		return binary.BigEndian
	case y == 0:
		return binary.LittleEndian
	default:
		return binary.BigEndian
	}
}
