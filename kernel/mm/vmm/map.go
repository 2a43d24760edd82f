package vmm

import (
	"oskern/kernel"
	"oskern/kernel/kfmt"
	"oskern/kernel/mm"
)

// exampleFrameAddr is the physical address targeted by CreateExampleMapping:
// the VGA text buffer.
const exampleFrameAddr = uintptr(0xb8000)

// MapperFlush is returned by operations that change a leaf mapping. Until
// Flush is called the processor may keep using a stale translation for the
// page from its TLB, even though the page tables are already updated.
type MapperFlush struct {
	page mm.Page
}

// Flush invalidates the TLB entry for the changed page on the current
// processor.
func (f MapperFlush) Flush() {
	flushTLBEntryFn(f.page.Address())
}

// Ignore drops the flush obligation. It is only correct when the hierarchy
// is not active on any processor (e.g. a table being prepared for a new
// address space).
func (f MapperFlush) Ignore() {}

// Page returns the page whose mapping changed.
func (f MapperFlush) Page() mm.Page {
	return f.page
}

// Map establishes a mapping between page and frame with the given leaf
// flags. Missing intermediate tables are allocated from alloc, zeroed and
// linked as present and writable; they also become user-accessible when the
// leaf flags ask for it.
//
// Map refuses to replace an existing mapping and returns ErrAlreadyMapped.
// Map is not transactional: if allocating a table fails part way, the
// tables linked before the failure stay in place. They are empty and valid
// and will be reused by the next Map that walks through them.
//
// Map must never be used to change a page that the running kernel's code or
// stack lives in.
func (m *OffsetPageTable) Map(page mm.Page, frame mm.Frame, flags PageTableEntryFlag, alloc mm.FrameAllocator) (MapperFlush, *kernel.Error) {
	va := mm.VirtAddr(page.Address())
	switch {
	case !page.Valid() || !va.IsCanonical():
		return MapperFlush{}, ErrNonCanonicalAddress
	case !frame.Valid():
		return MapperFlush{}, ErrInvalidPhysAddress
	}

	var (
		table       = m.p4
		parentFlags = FlagPresent | FlagRW | (flags & FlagUserAccessible)
	)

	for level := uint8(pageLevels); level > 1; level-- {
		pte := &table[va.TableIndex(level)]

		switch {
		case !pte.HasFlags(FlagPresent):
			tableFrame, err := alloc.AllocFrame()
			if err != nil {
				return MapperFlush{}, err
			}

			// Clear the new table before it becomes reachable.
			tableAt(m.physOffset, tableFrame).Zero()

			*pte = 0
			pte.SetFrame(tableFrame)
			pte.SetFlags(parentFlags)
		case pte.HasFlags(FlagHugePage):
			return MapperFlush{}, ErrHugePage
		default:
			pte.SetFlags(parentFlags)
		}

		table = tableAt(m.physOffset, pte.Frame())
	}

	leaf := &table[va.P1Index()]
	if leaf.HasFlags(FlagPresent) {
		return MapperFlush{}, ErrAlreadyMapped
	}

	// Address bits in flags would redirect the entry to another frame.
	*leaf = 0
	leaf.SetFrame(frame)
	leaf.SetFlags(flags &^ PageTableEntryFlag(ptePhysPageMask))

	return MapperFlush{page: page}, nil
}

// Unmap removes the mapping for page and returns the frame it pointed to.
// The frame is not returned to any allocator.
func (m *OffsetPageTable) Unmap(page mm.Page) (mm.Frame, MapperFlush, *kernel.Error) {
	if !page.Valid() {
		return mm.InvalidFrame, MapperFlush{}, ErrInvalidMapping
	}

	leaf, err := m.leafEntry(mm.VirtAddr(page.Address()))
	if err != nil {
		return mm.InvalidFrame, MapperFlush{}, err
	}

	if !leaf.HasFlags(FlagPresent) {
		return mm.InvalidFrame, MapperFlush{}, ErrInvalidMapping
	}

	frame := leaf.Frame()
	*leaf = 0
	return frame, MapperFlush{page: page}, nil
}

// MapRegion backs pageCount consecutive pages starting at startPage with
// freshly allocated frames and flushes each page's TLB entry. It stops at
// the first error; pages mapped before it stay mapped.
func (m *OffsetPageTable) MapRegion(startPage mm.Page, pageCount uintptr, flags PageTableEntryFlag, alloc mm.FrameAllocator) *kernel.Error {
	for page := startPage; page < startPage+mm.Page(pageCount); page++ {
		frame, err := alloc.AllocFrame()
		if err != nil {
			return err
		}

		flush, err := m.Map(page, frame, flags, alloc)
		if err != nil {
			return err
		}
		flush.Flush()
	}

	return nil
}

// CreateExampleMapping maps page to the VGA text buffer frame (0xb8000) as
// present and writable. Failing to establish the mapping is fatal.
func CreateExampleMapping(page mm.Page, mapper *OffsetPageTable, alloc mm.FrameAllocator) {
	flush, err := mapper.Map(page, mm.FrameFromAddress(exampleFrameAddr), FlagPresent|FlagRW, alloc)
	if err != nil {
		kfmt.Printf("[vmm] map page 0x%16x -> frame 0x%x failed\n", page.Address(), exampleFrameAddr)
		panicFn(err)
		return
	}

	flush.Flush()
}
