package vmm

import (
	"oskern/kernel"
	"oskern/kernel/mm"
)

// nextTable returns the table that pte points to. level is the level of the
// table holding pte. Missing tables yield ErrInvalidMapping and huge page
// entries ErrHugePage.
func (m *OffsetPageTable) nextTable(pte pageTableEntry, level uint8) (*PageTable, *kernel.Error) {
	switch {
	case !pte.HasFlags(FlagPresent):
		return nil, ErrInvalidMapping
	case level > 1 && pte.HasFlags(FlagHugePage):
		return nil, ErrHugePage
	}

	return tableAt(m.physOffset, pte.Frame()), nil
}

// leafEntry walks the table hierarchy for va down to the level 1 table and
// returns a pointer to the entry that maps va. The entry itself may or may
// not be present. The walk never allocates.
func (m *OffsetPageTable) leafEntry(va mm.VirtAddr) (*pageTableEntry, *kernel.Error) {
	if !va.IsCanonical() {
		return nil, ErrInvalidMapping
	}

	var (
		table = m.p4
		err   *kernel.Error
	)

	for level := uint8(pageLevels); level > 1; level-- {
		if table, err = m.nextTable(table[va.TableIndex(level)], level); err != nil {
			return nil, err
		}
	}

	return &table[va.P1Index()], nil
}
