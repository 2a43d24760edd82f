package mm

// VirtAddr is a 64-bit virtual address viewed through the 4-level paging
// scheme: four 9-bit table indices followed by a 12-bit page offset.
type VirtAddr uintptr

// TableIndex returns the index into the page table for the given paging
// level. Level 4 is the top-most table and level 1 holds the leaf entries.
func (va VirtAddr) TableIndex(level uint8) uintptr {
	shift := PageShift + uintptr(level-1)*TableIndexBits
	return (uintptr(va) >> shift) & ((1 << TableIndexBits) - 1)
}

// P4Index returns the index into the level 4 table.
func (va VirtAddr) P4Index() uintptr { return va.TableIndex(4) }

// P3Index returns the index into the level 3 table.
func (va VirtAddr) P3Index() uintptr { return va.TableIndex(3) }

// P2Index returns the index into the level 2 table.
func (va VirtAddr) P2Index() uintptr { return va.TableIndex(2) }

// P1Index returns the index into the level 1 table.
func (va VirtAddr) P1Index() uintptr { return va.TableIndex(1) }

// PageOffset returns the offset of the address within its page.
func (va VirtAddr) PageOffset() uintptr {
	return uintptr(va) & (PageSize - 1)
}

// IsCanonical returns true if bits 63..47 are copies of bit 47.
func (va VirtAddr) IsCanonical() bool {
	upper := uint64(va) >> (VirtAddrBits - 1)
	return upper == 0 || upper == (1<<(64-VirtAddrBits+1))-1
}
