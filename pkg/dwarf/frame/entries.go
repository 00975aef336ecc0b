package frame

import (
	"encoding/binary"
	"sort"
)

// CommonInformationEntry holds the fields shared by every
// FrameDescriptionEntry that references it (spec.md §4.5).
type CommonInformationEntry struct {
	Length                uint32
	Version               uint8
	Augmentation          string
	CodeAlignmentFactor   uint64
	DataAlignmentFactor   int64
	ReturnAddressRegister uint64
	InitialInstructions   []byte

	staticBase uint64

	// Derived from the augmentation string's characters, present only
	// when Augmentation starts with 'z'.
	FDEPointerEncoding  byte
	LSDAPointerEncoding byte
	PersonalityEncoding byte
	PersonalityFunc     uint64
	IsSignalHandler     bool // 'S' augmentation character
}

func (cie *CommonInformationEntry) hasAugmentation(c byte) bool {
	for i := 0; i < len(cie.Augmentation); i++ {
		if cie.Augmentation[i] == c {
			return true
		}
	}
	return false
}

// FrameDescriptionEntry describes the CFI for one function's address
// range.
type FrameDescriptionEntry struct {
	Length       uint32
	CIE          *CommonInformationEntry
	Instructions []byte
	order        binary.ByteOrder

	begin uint64
	size  uint64
}

// Begin returns the FDE's first covered address.
func (fde *FrameDescriptionEntry) Begin() uint64 { return fde.begin }

// End returns the address one past the FDE's last covered byte.
func (fde *FrameDescriptionEntry) End() uint64 { return fde.begin + fde.size }

// Cover reports whether pc falls within [Begin, End).
func (fde *FrameDescriptionEntry) Cover(pc uint64) bool {
	return pc >= fde.begin && pc < fde.begin+fde.size
}

// FrameDescriptionEntries is a collection of FDEs kept sorted by
// Begin() so FDEForPC can binary search (spec.md §4.5 "SHOULD keep FDEs
// sorted by initial-location").
type FrameDescriptionEntries []*FrameDescriptionEntry

func newFrameDescriptionEntries() FrameDescriptionEntries {
	return make(FrameDescriptionEntries, 0, 10)
}

// sortByAddress orders entries by Begin() ascending.
func (fdes FrameDescriptionEntries) sortByAddress() {
	sort.Slice(fdes, func(i, j int) bool { return fdes[i].begin < fdes[j].begin })
}

// FDEForPC returns the entry covering pc (spec.md §4.5 "find_fde").
func (fdes FrameDescriptionEntries) FDEForPC(pc uint64) (*FrameDescriptionEntry, error) {
	idx := sort.Search(len(fdes), func(i int) bool { return fdes[i].begin > pc }) - 1
	if idx < 0 || !fdes[idx].Cover(pc) {
		return nil, &ErrNoFDEForPC{PC: pc}
	}
	return fdes[idx], nil
}
