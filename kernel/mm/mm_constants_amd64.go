package mm

const (
	// PointerShift is equal to log2(unsafe.Sizeof(uintptr)).
	PointerShift = uintptr(3)

	// PageShift is equal to log2(PageSize). Shifting a physical (virtual)
	// address right by PageShift yields its frame (page) number.
	PageShift = uintptr(12)

	// PageSize defines the system's page size in bytes.
	PageSize = uintptr(1 << PageShift)

	// PhysAddrBits is the widest physical address the paging structures
	// can encode. Bits above it must be zero.
	PhysAddrBits = 52

	// VirtAddrBits is the number of significant virtual address bits with
	// 4-level paging. Bits 63..VirtAddrBits-1 must all equal bit
	// VirtAddrBits-1.
	VirtAddrBits = 48

	// TableIndexBits is the number of virtual address bits consumed by
	// each paging level.
	TableIndexBits = 9
)
