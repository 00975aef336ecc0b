package proc

import (
	"debug/elf"

	"github.com/gostack/dwarfwalk/pkg/symbol"
)

// Object is one loaded executable or shared object: its parsed symbol
// layer plus the load-time relocation (ASLR bias) between the
// addresses recorded in its DWARF/symbol tables and the addresses it
// actually occupies in the target's address space (spec.md §4.8 step 2
// "find the containing object and its load-relocation").
type Object struct {
	Path string
	BI   *symbol.BinaryInfo
	Base uint64 // runtime_addr - file_addr

	low, high uint64 // file-relative address range covered by PT_LOAD segments
}

// OpenObject analyzes path's DWARF/symbol information and records its
// loadable address range, so ObjectRegistry can later test whether a
// runtime PC, once debiased by base, falls inside it.
func OpenObject(path string, base uint64) (*Object, error) {
	bi, err := symbol.Analyze(path)
	if err != nil {
		return nil, wrapUnwindError(err, "analyze object %s", path)
	}

	f, err := elf.Open(path)
	if err != nil {
		return nil, wrapUnwindError(err, "open object %s", path)
	}
	defer f.Close()

	obj := &Object{Path: path, BI: bi, Base: base}
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		end := p.Vaddr + p.Memsz
		if obj.low == 0 && obj.high == 0 {
			obj.low, obj.high = p.Vaddr, end
			continue
		}
		if p.Vaddr < obj.low {
			obj.low = p.Vaddr
		}
		if end > obj.high {
			obj.high = end
		}
	}
	return obj, nil
}

// Contains reports whether the runtime address runtimePC was loaded as
// part of this object.
func (o *Object) Contains(runtimePC uint64) bool {
	filePC := runtimePC - o.Base
	return filePC >= o.low && filePC < o.high
}

// ToFile translates a runtime address into the file-relative address
// the object's DWARF/symbol tables are indexed by (spec.md §4.8 step
// 3 "subtract relocation from PC").
func (o *Object) ToFile(runtimePC uint64) uint64 { return runtimePC - o.Base }

// HasSymbol reports whether one of the functions recorded in this
// object's DWARF is named name, returning its low PC; the ELF symbol
// table is not consulted. It is used to recognize signal trampolines
// (spec.md §4.8 "Architecture fallback").
func (o *Object) HasSymbol(name string) (addr uint64, ok bool) {
	for _, fn := range o.BI.Functions {
		if fn.Name() == name {
			return fn.LowPC(), true
		}
	}
	return 0, false
}

// ObjectRegistry is the set of objects currently loaded into the
// target, ordered arbitrarily; FindByPC does a linear scan, adequate
// for the handful of objects a debuggee typically maps.
type ObjectRegistry struct {
	objects []*Object
}

// NewObjectRegistry builds a registry over the given objects.
func NewObjectRegistry(objs ...*Object) *ObjectRegistry {
	return &ObjectRegistry{objects: objs}
}

// Add registers an additional loaded object (e.g. discovered by
// walking the target's link map after attaching).
func (r *ObjectRegistry) Add(o *Object) { r.objects = append(r.objects, o) }

// FindByPC returns the object containing the runtime address pc and
// the file-relative address within it.
func (r *ObjectRegistry) FindByPC(pc uint64) (*Object, uint64, error) {
	for _, o := range r.objects {
		if o.Contains(pc) {
			return o, o.ToFile(pc), nil
		}
	}
	return nil, 0, newUnwindError("no loaded object covers pc %#x", pc)
}

// FindSymbolTrampoline looks up name in every loaded object, used by
// the architecture fallback to recognize __restore/__restore_rt
// regardless of which object defines them.
func (r *ObjectRegistry) FindSymbolTrampoline(name string) (obj *Object, runtimeAddr uint64, ok bool) {
	for _, o := range r.objects {
		if addr, found := o.HasSymbol(name); found {
			return o, addr + o.Base, true
		}
	}
	return nil, 0, false
}
