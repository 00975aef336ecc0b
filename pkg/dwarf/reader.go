package dwarf

// Reader is a flat, pre-order walk over every DIE in every unit,
// mirroring the teacher's pkg/dwarf/reader.New(dwarfData) convention
// used by pkg/symbol/binary.go: a cursor-style Next() rather than a
// tree-shaped API, so callers that just want "every subprogram" don't
// need to recurse themselves.
type Reader struct {
	units   *UnitIterator
	stack   []*Entry
	curUnit *Unit
}

// NewReader builds a flat walker over every unit registered in info.
func NewReader(info *Info) (*Reader, error) {
	it, err := info.Reader()
	if err != nil {
		return nil, err
	}
	return &Reader{units: it}, nil
}

// Next returns the next DIE in pre-order, descending into children
// before siblings, and advancing to the next unit's root once the
// current unit is exhausted. Returns (nil, nil) once every unit is
// exhausted.
func (r *Reader) Next() (*Entry, error) {
	for {
		if len(r.stack) == 0 {
			u, err := r.units.Next()
			if err != nil {
				return nil, err
			}
			if u == nil {
				return nil, nil
			}
			r.curUnit = u
			if u.Root != nil {
				r.stack = []*Entry{u.Root}
			}
			continue
		}

		e := r.stack[len(r.stack)-1]
		r.stack = r.stack[:len(r.stack)-1]
		// Push children in reverse so the leftmost child is popped first,
		// preserving document order.
		for i := len(e.Children) - 1; i >= 0; i-- {
			r.stack = append(r.stack, e.Children[i])
		}
		return e, nil
	}
}

// SkipChildren discards the DIE most recently returned by Next and its
// descendants, without repositioning past its siblings. Because Next
// already expands children onto the stack eagerly, this just drops
// them back off.
func (r *Reader) SkipChildren(e *Entry) {
	n := len(e.Children)
	if n == 0 || len(r.stack) < n {
		return
	}
	r.stack = r.stack[:len(r.stack)-n]
}
