// Package line interprets the DWARF line-number program (spec.md §4.4):
// a per-unit header followed by a state machine whose opcodes emit rows
// of (address, file, line, column, flags).
package line

import (
	"path/filepath"
	"sort"

	"github.com/pkg/errors"

	"github.com/gostack/dwarfwalk/pkg/dwarf/util"
)

// Row is one entry of the line-number matrix.
type Row struct {
	Address       uint64
	File          string
	Line          int
	Column        int
	IsStmt        bool
	BasicBlock    bool
	EndSequence   bool
	PrologueEnd   bool
	EpilogueBegin bool
	ISA           uint64
}

// Table is a unit's full line-number matrix, in program order. Rows are
// nondecreasing in address within a sequence; every sequence ends with
// an EndSequence row (spec.md §8 invariant).
type Table struct {
	Rows  []Row
	files []string // indexed by the unit's file-table index, for DW_AT_decl_file/DW_AT_call_file lookups
}

// FileName resolves a file-table index, as used by DW_AT_decl_file and
// DW_AT_call_file, to the path recorded for it in this unit's
// line-number program header. Returns "" for an out-of-range index.
func (t *Table) FileName(idx int) string {
	if idx < 0 || idx >= len(t.files) {
		return ""
	}
	return t.files[idx]
}

type fileEntry struct {
	name    string
	dirIdx  uint64
	fullDir string
}

type header struct {
	version                  uint16
	minInstLen               uint8
	defaultIsStmt            bool
	lineBase                 int8
	lineRange                uint8
	opcodeBase               uint8
	stdOpcodeLengths         []uint8
	includeDirs              []string
	files                    []fileEntry
	programStart, programEnd int
}

// Parse decodes the line-number program for one unit whose header
// starts at the given offset within the .debug_line section, and runs
// the state machine to completion, producing the full matrix.
func Parse(lineSec []byte, off int64, compDir string, addrSize int) (*Table, error) {
	if off < 0 || int(off) >= len(lineSec) {
		return nil, errors.Errorf("line: stmt_list offset %#x out of range", off)
	}
	r := util.NewReader(lineSec)
	if err := r.Seek(int(off)); err != nil {
		return nil, err
	}

	unitLength, err := r.ReadInitialLength()
	if err != nil {
		return nil, errors.Wrap(err, "line: initial length")
	}
	programEnd := r.Off() + int(unitLength)

	h := &header{}
	h.version, err = r.Uint16()
	if err != nil {
		return nil, err
	}

	headerLength, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	afterHeaderLenOff := r.Off()

	minInst, err := r.Uint8()
	if err != nil {
		return nil, err
	}
	h.minInstLen = minInst

	defStmt, err := r.Uint8()
	if err != nil {
		return nil, err
	}
	h.defaultIsStmt = defStmt != 0

	lineBase, err := r.Int8()
	if err != nil {
		return nil, err
	}
	h.lineBase = lineBase

	lineRange, err := r.Uint8()
	if err != nil {
		return nil, err
	}
	h.lineRange = lineRange

	opcodeBase, err := r.Uint8()
	if err != nil {
		return nil, err
	}
	h.opcodeBase = opcodeBase

	h.stdOpcodeLengths = make([]uint8, opcodeBase-1)
	for i := range h.stdOpcodeLengths {
		v, err := r.Uint8()
		if err != nil {
			return nil, err
		}
		h.stdOpcodeLengths[i] = v
	}

	// include_directories: NUL-terminated strings terminated by an
	// empty string. Index 0 is implicitly compDir.
	h.includeDirs = append(h.includeDirs, compDir)
	for {
		s, err := r.String()
		if err != nil {
			return nil, err
		}
		if s == "" {
			break
		}
		h.includeDirs = append(h.includeDirs, s)
	}

	// file_names: (name, dir-index, mtime, length) terminated by an
	// empty name.
	h.files = append(h.files, fileEntry{}) // index 0 unused by DWARF v2-4
	for {
		name, err := r.String()
		if err != nil {
			return nil, err
		}
		if name == "" {
			break
		}
		dirIdx, err := r.ULEB128()
		if err != nil {
			return nil, err
		}
		if _, err := r.ULEB128(); err != nil { // mtime, unused
			return nil, err
		}
		if _, err := r.ULEB128(); err != nil { // length, unused
			return nil, err
		}
		dir := ""
		if int(dirIdx) < len(h.includeDirs) {
			dir = h.includeDirs[dirIdx]
		}
		full := name
		if !filepath.IsAbs(name) && dir != "" {
			full = filepath.Join(dir, name)
		}
		h.files = append(h.files, fileEntry{name: name, dirIdx: dirIdx, fullDir: full})
	}

	programStart := afterHeaderLenOff + int(headerLength)
	h.programStart = programStart
	h.programEnd = programEnd

	if err := r.Seek(programStart); err != nil {
		return nil, err
	}
	return runStateMachine(r, h, addrSize)
}

// registers is the line-number program's state (spec.md §4.4).
type registers struct {
	address       uint64
	file          int
	line          int
	column        int
	isStmt        bool
	basicBlock    bool
	endSequence   bool
	prologueEnd   bool
	epilogueBegin bool
	isa           uint64
}

func newRegisters(h *header) registers {
	return registers{file: 1, line: 1, isStmt: h.defaultIsStmt}
}

func (h *header) fileName(idx int) string {
	if idx < 0 || idx >= len(h.files) {
		return ""
	}
	return h.files[idx].fullDir
}

func runStateMachine(r *util.Reader, h *header, addrSize int) (*Table, error) {
	files := make([]string, len(h.files))
	for i, fe := range h.files {
		files[i] = fe.fullDir
	}
	t := &Table{files: files}
	regs := newRegisters(h)

	appendRow := func() {
		t.Rows = append(t.Rows, Row{
			Address:       regs.address,
			File:          h.fileName(regs.file),
			Line:          regs.line,
			Column:        regs.column,
			IsStmt:        regs.isStmt,
			BasicBlock:    regs.basicBlock,
			EndSequence:   regs.endSequence,
			PrologueEnd:   regs.prologueEnd,
			EpilogueBegin: regs.epilogueBegin,
			ISA:           regs.isa,
		})
	}

	for r.Off() < h.programEnd {
		opcode, err := r.Uint8()
		if err != nil {
			return nil, err
		}

		switch {
		case opcode == 0:
			// Extended opcode: ULEB128 length, then the opcode byte and
			// its operands.
			length, err := r.ULEB128()
			if err != nil {
				return nil, err
			}
			sub, err := r.Uint8()
			if err != nil {
				return nil, err
			}
			remaining := int(length) - 1
			switch sub {
			case extEndSequence:
				regs.endSequence = true
				appendRow()
				regs = newRegisters(h)
			case extSetAddress:
				addr, err := r.Address(addrSize)
				if err != nil {
					return nil, err
				}
				regs.address = addr
			case extDefineFile:
				if _, err := r.String(); err != nil {
					return nil, err
				}
				if _, err := r.ULEB128(); err != nil {
					return nil, err
				}
				if _, err := r.ULEB128(); err != nil {
					return nil, err
				}
				if _, err := r.ULEB128(); err != nil {
					return nil, err
				}
			default:
				if err := r.Skip(remaining); err != nil {
					return nil, err
				}
			}

		case opcode >= h.opcodeBase:
			// Special opcode.
			adj := int(opcode) - int(h.opcodeBase)
			addrAdvance := (adj / int(h.lineRange)) * int(h.minInstLen)
			lineAdvance := int(h.lineBase) + (adj % int(h.lineRange))
			regs.address += uint64(addrAdvance)
			regs.line += lineAdvance
			appendRow()
			regs.basicBlock = false
			regs.prologueEnd = false
			regs.epilogueBegin = false

		default:
			// Standard opcode.
			switch opcode {
			case stdCopy:
				appendRow()
				regs.basicBlock = false
				regs.prologueEnd = false
				regs.epilogueBegin = false
			case stdAdvancePC:
				adv, err := r.ULEB128()
				if err != nil {
					return nil, err
				}
				regs.address += adv * uint64(h.minInstLen)
			case stdAdvanceLine:
				adv, err := r.SLEB128()
				if err != nil {
					return nil, err
				}
				regs.line += int(adv)
			case stdSetFile:
				f, err := r.ULEB128()
				if err != nil {
					return nil, err
				}
				regs.file = int(f)
			case stdSetColumn:
				c, err := r.ULEB128()
				if err != nil {
					return nil, err
				}
				regs.column = int(c)
			case stdNegateStmt:
				regs.isStmt = !regs.isStmt
			case stdSetBasicBlock:
				regs.basicBlock = true
			case stdConstAddPC:
				adj := 255 - int(h.opcodeBase)
				regs.address += uint64((adj / int(h.lineRange)) * int(h.minInstLen))
			case stdFixedAdvancePC:
				adv, err := r.Uint16()
				if err != nil {
					return nil, err
				}
				regs.address += uint64(adv)
			case stdSetPrologueEnd:
				regs.prologueEnd = true
			case stdSetEpilogueBegin:
				regs.epilogueBegin = true
			case stdSetISA:
				isa, err := r.ULEB128()
				if err != nil {
					return nil, err
				}
				regs.isa = isa
			default:
				// Unknown standard opcode: skip its declared LEB128 args.
				if int(opcode) <= len(h.stdOpcodeLengths) {
					n := h.stdOpcodeLengths[opcode-1]
					for i := uint8(0); i < n; i++ {
						if _, err := r.ULEB128(); err != nil {
							return nil, err
						}
					}
				}
			}
		}
	}

	return t, nil
}

// Standard opcodes (DWARF v2-4, spec.md §4.4).
const (
	stdCopy             = 1
	stdAdvancePC        = 2
	stdAdvanceLine      = 3
	stdSetFile          = 4
	stdSetColumn        = 5
	stdNegateStmt       = 6
	stdSetBasicBlock    = 7
	stdConstAddPC       = 8
	stdFixedAdvancePC   = 9
	stdSetPrologueEnd   = 10
	stdSetEpilogueBegin = 11
	stdSetISA           = 12
)

// Extended opcodes.
const (
	extEndSequence = 1
	extSetAddress  = 2
	extDefineFile  = 3
)

// SourceFromAddr returns the (file, line) for the greatest row with
// address <= pc that lies within an unfinished sequence (spec.md §4.4
// query "source_from_addr"). A table may hold several independently
// address-sorted sequences (one per EndSequence-terminated run), so the
// search is per-sequence rather than a single binary search over the
// whole table.
func (t *Table) SourceFromAddr(pc uint64) (file string, lineNo int, ok bool) {
	start := 0
	for end := 0; end < len(t.Rows); end++ {
		if !t.Rows[end].EndSequence {
			continue
		}
		// [start, end) are the live rows of this sequence; Rows[end] is
		// the EndSequence marker whose Address is one past the last live
		// address.
		seq := t.Rows[start:end]
		endAddr := t.Rows[end].Address
		if len(seq) > 0 && pc >= seq[0].Address && pc < endAddr {
			idx := sort.Search(len(seq), func(i int) bool { return seq[i].Address > pc }) - 1
			if idx >= 0 {
				return seq[idx].File, seq[idx].Line, true
			}
		}
		start = end + 1
	}
	return "", 0, false
}
