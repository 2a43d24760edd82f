package vmm

import (
	"oskern/kernel"
	"oskern/kernel/kfmt"
	"oskern/kernel/mm"
)

// Translate returns the physical address that virtAddr maps to. The second
// result is false if virtAddr is not mapped; that is an ordinary outcome.
//
// Running into a huge page is not: huge pages are unsupported, so Translate
// reports the condition through the kernel panic path instead of returning
// a wrong address or a miss.
func (m *OffsetPageTable) Translate(virtAddr uintptr) (uintptr, bool) {
	physAddr, err := m.translate(mm.VirtAddr(virtAddr))
	switch err {
	case nil:
		return physAddr, true
	case ErrInvalidMapping:
		return 0, false
	default:
		kfmt.Printf("[vmm] translate 0x%16x failed\n", virtAddr)
		panicFn(err)
		return 0, false
	}
}

func (m *OffsetPageTable) translate(va mm.VirtAddr) (uintptr, *kernel.Error) {
	pte, err := m.leafEntry(va)
	if err != nil {
		return 0, err
	}

	if !pte.HasFlags(FlagPresent) {
		return 0, ErrInvalidMapping
	}

	return pte.Frame().Address() + va.PageOffset(), nil
}

// TranslateAddr behaves like Translate but walks the page tables that CR3
// currently points to. It takes a read-only look at the live tables and does
// not count against the single view handed out by ActiveTable.
func TranslateAddr(virtAddr, physOffset uintptr) (uintptr, bool) {
	active := NewOffsetPageTable(
		tableAt(physOffset, mm.FrameFromAddress(activePDTFn()&ptePhysPageMask)),
		physOffset,
	)
	return active.Translate(virtAddr)
}
