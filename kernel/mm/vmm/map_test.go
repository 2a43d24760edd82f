package vmm

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"oskern/kernel/cpu"
	"oskern/kernel/kfmt"
	"oskern/kernel/mm"
	"oskern/kernel/mm/pmm"
)

var _ = Describe("Map", func() {
	var (
		f            *fixture
		flushedAddrs []uintptr
		panicErrors  []interface{}
	)

	BeforeEach(func() {
		f = newFixture(4 << 20)

		flushedAddrs = nil
		flushTLBEntryFn = func(addr uintptr) { flushedAddrs = append(flushedAddrs, addr) }

		panicErrors = nil
		panicFn = func(e interface{}) { panicErrors = append(panicErrors, e) }
	})

	AfterEach(func() {
		flushTLBEntryFn = cpu.FlushTLBEntry
		panicFn = kfmt.Panic
	})

	It("should map page 0 to the VGA buffer and route writes there", func() {
		flush, err := f.mapper.Map(mm.Page(0), mm.FrameFromAddress(0xb8000), FlagPresent|FlagRW, &f.alloc)
		Expect(err).To(BeNil())
		Expect(flush.Page()).To(Equal(mm.Page(0)))
		Expect(flushedAddrs).To(BeEmpty())

		flush.Flush()
		Expect(flushedAddrs).To(Equal([]uintptr{0}))

		physAddr, ok := f.mapper.Translate(0x0)
		Expect(ok).To(BeTrue())
		Expect(physAddr).To(Equal(uintptr(0xb8000)))

		f.writeVirt(0x0, []byte{'H', 0x0f, 'i', 0x0f})
		Expect(f.readPhys(0xb8000, 4)).To(Equal([]byte{'H', 0x0f, 'i', 0x0f}))

		// one table per level below P4
		Expect(f.alloc.AllocCount()).To(Equal(uint64(1 + 3)))
	})

	It("should translate every byte of a mapped page", func() {
		mappings := []struct {
			page  mm.Page
			frame mm.Frame
		}{
			{mm.PageFromAddress(0x1000), mm.FrameFromAddress(0xb8000)},
			{mm.PageFromAddress(0x444444440000), mm.FrameFromAddress(0xa0000)},
			{mm.PageFromAddress(0x444444441000), mm.FrameFromAddress(0xa1000)},
			{mm.PageFromAddress(0xffffff7ffffff000), mm.FrameFromAddress(0x000fffffffff000)},
			{mm.PageFromAddress(0x7ffffffff000), mm.FrameFromAddress(0x3000)},
		}

		for _, mapping := range mappings {
			flush, err := f.mapper.Map(mapping.page, mapping.frame, FlagPresent|FlagRW, &f.alloc)
			Expect(err).To(BeNil())
			flush.Flush()
		}

		for _, mapping := range mappings {
			for k := uintptr(0); k < mm.PageSize; k++ {
				physAddr, ok := f.mapper.Translate(mapping.page.Address() + k)
				Expect(ok).To(BeTrue())
				Expect(physAddr).To(Equal(mapping.frame.Address() + k))
			}
		}

		Expect(flushedAddrs).To(HaveLen(len(mappings)))
		Expect(panicErrors).To(BeEmpty())
	})

	It("should zero new tables before linking them", func() {
		const addr = uintptr(0x444444440000)

		flush, err := f.mapper.Map(mm.PageFromAddress(addr), mm.FrameFromAddress(0xb8000), FlagPresent|FlagRW, &f.alloc)
		Expect(err).To(BeNil())
		flush.Flush()

		va := mm.VirtAddr(addr)
		table := f.mapper.P4()
		for level := uint8(pageLevels); level >= 1; level-- {
			for i, pte := range table {
				if uintptr(i) == va.TableIndex(level) {
					Expect(pte.HasFlags(FlagPresent|FlagRW)).To(BeTrue(), "level %d", level)
					continue
				}
				Expect(pte.IsUnused()).To(BeTrue(), "level %d entry %d", level, i)
			}

			if level == 1 {
				break
			}
			table = tableAt(f.mapper.PhysOffset(), table[va.TableIndex(level)].Frame())
		}
	})

	It("should link intermediate tables as present and writable", func() {
		flush, err := f.mapper.Map(mm.PageFromAddress(0x200000), mm.FrameFromAddress(0xb8000), FlagPresent, &f.alloc)
		Expect(err).To(BeNil())
		flush.Flush()

		for level := uint8(4); level > 1; level-- {
			pte := f.entryFor(0x200000, level)
			Expect(pte.HasFlags(FlagPresent|FlagRW)).To(BeTrue(), "level %d", level)
			Expect(pte.HasFlags(FlagUserAccessible)).To(BeFalse(), "level %d", level)
		}

		leaf := f.entryFor(0x200000, 1)
		Expect(leaf.HasFlags(FlagPresent)).To(BeTrue())
		Expect(leaf.HasFlags(FlagRW)).To(BeFalse())
	})

	It("should propagate the user flag to intermediate tables", func() {
		flush, err := f.mapper.Map(mm.PageFromAddress(0x400000), mm.FrameFromAddress(0xb8000), FlagPresent, &f.alloc)
		Expect(err).To(BeNil())
		flush.Flush()

		flush, err = f.mapper.Map(mm.PageFromAddress(0x401000), mm.FrameFromAddress(0xb9000), FlagPresent|FlagUserAccessible, &f.alloc)
		Expect(err).To(BeNil())
		flush.Flush()

		for level := uint8(4); level > 1; level-- {
			Expect(f.entryFor(0x401000, level).HasFlags(FlagUserAccessible)).To(BeTrue(), "level %d", level)
		}
		Expect(f.entryFor(0x400000, 1).HasFlags(FlagUserAccessible)).To(BeFalse())
	})

	It("should reuse existing tables", func() {
		for i := uintptr(0); i < 16; i++ {
			flush, err := f.mapper.Map(mm.PageFromAddress(0x600000+i*mm.PageSize), mm.FrameFromAddress(0xa0000+i*mm.PageSize), FlagPresent, &f.alloc)
			Expect(err).To(BeNil())
			flush.Flush()
		}

		Expect(f.alloc.AllocCount()).To(Equal(uint64(1 + 3)))
	})

	It("should refuse to replace an existing mapping", func() {
		page := mm.PageFromAddress(0x1000)

		flush, err := f.mapper.Map(page, mm.FrameFromAddress(0xb8000), FlagPresent|FlagRW, &f.alloc)
		Expect(err).To(BeNil())
		flush.Flush()

		_, err = f.mapper.Map(page, mm.FrameFromAddress(0xb9000), FlagPresent|FlagRW, &f.alloc)
		Expect(err).To(BeIdenticalTo(ErrAlreadyMapped))

		physAddr, ok := f.mapper.Translate(page.Address())
		Expect(ok).To(BeTrue())
		Expect(physAddr).To(Equal(uintptr(0xb8000)))
	})

	It("should reject huge pages on the way down", func() {
		flush, err := f.mapper.Map(mm.PageFromAddress(0x40000000), mm.FrameFromAddress(0xb8000), FlagPresent, &f.alloc)
		Expect(err).To(BeNil())
		flush.Flush()

		f.entryFor(0x40000000, 2).SetFlags(FlagHugePage)

		_, err = f.mapper.Map(mm.PageFromAddress(0x40001000), mm.FrameFromAddress(0xb9000), FlagPresent, &f.alloc)
		Expect(err).To(BeIdenticalTo(ErrHugePage))
	})

	It("should reject bad addresses", func() {
		_, err := f.mapper.Map(mm.PageFromAddress(0x0000800000000000), mm.FrameFromAddress(0xb8000), FlagPresent, &f.alloc)
		Expect(err).To(BeIdenticalTo(ErrNonCanonicalAddress))

		_, err = f.mapper.Map(mm.Page(0), mm.FrameFromAddress(1<<52), FlagPresent, &f.alloc)
		Expect(err).To(BeIdenticalTo(ErrInvalidPhysAddress))

		_, err = f.mapper.Map(mm.Page(0), mm.InvalidFrame, FlagPresent, &f.alloc)
		Expect(err).To(BeIdenticalTo(ErrInvalidPhysAddress))

		// Frame and page numbers whose addresses wrap around to 0.
		_, err = f.mapper.Map(mm.Page(1), mm.Frame(1<<52), FlagPresent, &f.alloc)
		Expect(err).To(BeIdenticalTo(ErrInvalidPhysAddress))

		_, err = f.mapper.Map(mm.Page(1), mm.Frame(1<<40), FlagPresent, &f.alloc)
		Expect(err).To(BeIdenticalTo(ErrInvalidPhysAddress))

		_, err = f.mapper.Map(mm.Page(1<<52), mm.FrameFromAddress(0xb8000), FlagPresent, &f.alloc)
		Expect(err).To(BeIdenticalTo(ErrNonCanonicalAddress))

		Expect(f.alloc.AllocCount()).To(Equal(uint64(1)))

		for _, virtAddr := range []uintptr{0x0, 0x1000} {
			_, ok := f.mapper.Translate(virtAddr)
			Expect(ok).To(BeFalse(), "addr 0x%x", virtAddr)
		}
	})

	It("should keep address bits in the flags from changing the frame", func() {
		flush, err := f.mapper.Map(mm.PageFromAddress(0x1000), mm.FrameFromAddress(0xb8000), FlagPresent|PageTableEntryFlag(0x5000), &f.alloc)
		Expect(err).To(BeNil())
		flush.Flush()

		physAddr, ok := f.mapper.Translate(0x1000)
		Expect(ok).To(BeTrue())
		Expect(physAddr).To(Equal(uintptr(0xb8000)))
	})

	Context("when the frame allocator runs dry", func() {
		var (
			mockCtrl *gomock.Controller
			alloc    *MockFrameAllocator
		)

		BeforeEach(func() {
			mockCtrl = gomock.NewController(GinkgoT())
			alloc = NewMockFrameAllocator(mockCtrl)
		})

		It("should fail with the null allocator", func() {
			_, err := f.mapper.Map(mm.Page(0), mm.FrameFromAddress(0xb8000), FlagPresent, pmm.NullAllocator{})
			Expect(err).To(BeIdenticalTo(pmm.ErrOutOfMemory))
			Expect(f.mapper.P4()[0].IsUnused()).To(BeTrue())
		})

		It("should keep the tables linked before the failure", func() {
			gomock.InOrder(
				alloc.EXPECT().AllocFrame().DoAndReturn(f.alloc.AllocFrame),
				alloc.EXPECT().AllocFrame().Return(mm.InvalidFrame, pmm.ErrOutOfMemory),
			)

			_, err := f.mapper.Map(mm.PageFromAddress(0x2000), mm.FrameFromAddress(0xb8000), FlagPresent|FlagRW, alloc)
			Expect(err).To(BeIdenticalTo(pmm.ErrOutOfMemory))
			Expect(flushedAddrs).To(BeEmpty())

			p4Entry := f.entryFor(0x2000, 4)
			Expect(p4Entry.HasFlags(FlagPresent | FlagRW)).To(BeTrue())
			for i, pte := range tableAt(f.mapper.PhysOffset(), p4Entry.Frame()) {
				Expect(pte.IsUnused()).To(BeTrue(), "level 3 entry %d", i)
			}

			_, ok := f.mapper.Translate(0x2000)
			Expect(ok).To(BeFalse())

			// A later Map walks through the leftover table instead of
			// allocating a new level 3 table.
			allocated := f.alloc.AllocCount()
			flush, err := f.mapper.Map(mm.PageFromAddress(0x2000), mm.FrameFromAddress(0xb8000), FlagPresent|FlagRW, &f.alloc)
			Expect(err).To(BeNil())
			flush.Flush()
			Expect(f.alloc.AllocCount() - allocated).To(Equal(uint64(2)))

			physAddr, ok := f.mapper.Translate(0x2000)
			Expect(ok).To(BeTrue())
			Expect(physAddr).To(Equal(uintptr(0xb8000)))
		})

		It("should not touch the allocator when all tables exist", func() {
			flush, err := f.mapper.Map(mm.PageFromAddress(0x2000), mm.FrameFromAddress(0xb8000), FlagPresent, &f.alloc)
			Expect(err).To(BeNil())
			flush.Flush()

			alloc.EXPECT().AllocFrame().Times(0)
			flush, err = f.mapper.Map(mm.PageFromAddress(0x3000), mm.FrameFromAddress(0xb9000), FlagPresent, alloc)
			Expect(err).To(BeNil())
			flush.Flush()
		})
	})
})

var _ = Describe("Unmap", func() {
	var (
		f            *fixture
		flushedAddrs []uintptr
	)

	BeforeEach(func() {
		f = newFixture(2 << 20)
		flushedAddrs = nil
		flushTLBEntryFn = func(addr uintptr) { flushedAddrs = append(flushedAddrs, addr) }
	})

	AfterEach(func() {
		flushTLBEntryFn = cpu.FlushTLBEntry
	})

	It("should remove a mapping and return its frame", func() {
		page := mm.PageFromAddress(0x5000)
		flush, err := f.mapper.Map(page, mm.FrameFromAddress(0xb8000), FlagPresent|FlagRW, &f.alloc)
		Expect(err).To(BeNil())
		flush.Flush()

		frame, flush, err := f.mapper.Unmap(page)
		Expect(err).To(BeNil())
		Expect(frame).To(Equal(mm.FrameFromAddress(0xb8000)))
		flush.Flush()
		Expect(flushedAddrs).To(Equal([]uintptr{0x5000, 0x5000}))

		_, ok := f.mapper.Translate(0x5000)
		Expect(ok).To(BeFalse())
		Expect(f.entryFor(0x5000, 1).IsUnused()).To(BeTrue())

		_, _, err = f.mapper.Unmap(page)
		Expect(err).To(BeIdenticalTo(ErrInvalidMapping))

		flush, err = f.mapper.Map(page, mm.FrameFromAddress(0xb9000), FlagPresent|FlagRW, &f.alloc)
		Expect(err).To(BeNil())
		flush.Flush()
	})

	It("should fail for pages without tables", func() {
		_, _, err := f.mapper.Unmap(mm.PageFromAddress(0x444444440000))
		Expect(err).To(BeIdenticalTo(ErrInvalidMapping))

		_, _, err = f.mapper.Unmap(mm.PageFromAddress(0x0000800000000000))
		Expect(err).To(BeIdenticalTo(ErrInvalidMapping))

		_, _, err = f.mapper.Unmap(mm.Page(1 << 52))
		Expect(err).To(BeIdenticalTo(ErrInvalidMapping))
	})

	It("should reject huge pages", func() {
		flush, err := f.mapper.Map(mm.PageFromAddress(0x5000), mm.FrameFromAddress(0xb8000), FlagPresent, &f.alloc)
		Expect(err).To(BeNil())
		flush.Flush()

		f.entryFor(0x5000, 3).SetFlags(FlagHugePage)

		_, _, err = f.mapper.Unmap(mm.PageFromAddress(0x5000))
		Expect(err).To(BeIdenticalTo(ErrHugePage))
	})
})

var _ = Describe("MapRegion", func() {
	var f *fixture

	BeforeEach(func() {
		flushTLBEntryFn = func(uintptr) {}
	})

	AfterEach(func() {
		flushTLBEntryFn = cpu.FlushTLBEntry
	})

	It("should back every page with its own frame", func() {
		f = newFixture(2 << 20)
		start := mm.PageFromAddress(0x444444440000)

		Expect(f.mapper.MapRegion(start, 25, FlagPresent|FlagRW, &f.alloc)).To(BeNil())

		seen := map[uintptr]bool{}
		for page := start; page < start+25; page++ {
			physAddr, ok := f.mapper.Translate(page.Address())
			Expect(ok).To(BeTrue())
			Expect(seen[physAddr]).To(BeFalse())
			seen[physAddr] = true
		}

		f.writeVirt(start.Address()+24*mm.PageSize+8, []byte{0xca, 0xfe})
		physAddr, _ := f.mapper.Translate(start.Address() + 24*mm.PageSize + 8)
		Expect(f.readPhys(physAddr, 2)).To(Equal([]byte{0xca, 0xfe}))
	})

	It("should stop when memory runs out", func() {
		// 4 usable frames: P4, the data frame and two tables use them all
		// before the level 1 table can be allocated.
		f = newFixture(firstUsableAddr + 4*mm.PageSize)

		err := f.mapper.MapRegion(mm.PageFromAddress(0x10000), 1, FlagPresent|FlagRW, &f.alloc)
		Expect(err).To(BeIdenticalTo(pmm.ErrOutOfMemory))
	})

	It("should do nothing for an empty region", func() {
		f = newFixture(2 << 20)
		Expect(f.mapper.MapRegion(mm.Page(0), 0, FlagPresent, &f.alloc)).To(BeNil())
		Expect(f.alloc.AllocCount()).To(Equal(uint64(1)))
	})
})

var _ = Describe("CreateExampleMapping", func() {
	var (
		f            *fixture
		flushedAddrs []uintptr
		panicErrors  []interface{}
	)

	BeforeEach(func() {
		f = newFixture(2 << 20)
		flushedAddrs = nil
		flushTLBEntryFn = func(addr uintptr) { flushedAddrs = append(flushedAddrs, addr) }
		panicErrors = nil
		panicFn = func(e interface{}) { panicErrors = append(panicErrors, e) }
	})

	AfterEach(func() {
		flushTLBEntryFn = cpu.FlushTLBEntry
		panicFn = kfmt.Panic
	})

	It("should map the page to the VGA buffer", func() {
		CreateExampleMapping(mm.Page(0), &f.mapper, &f.alloc)

		Expect(panicErrors).To(BeEmpty())
		Expect(flushedAddrs).To(Equal([]uintptr{0}))

		physAddr, ok := f.mapper.Translate(0x0)
		Expect(ok).To(BeTrue())
		Expect(physAddr).To(Equal(uintptr(0xb8000)))

		leaf := f.entryFor(0x0, 1)
		Expect(leaf.HasFlags(FlagPresent | FlagRW)).To(BeTrue())
	})

	It("should panic when the mapping fails", func() {
		CreateExampleMapping(mm.Page(0), &f.mapper, &f.alloc)
		CreateExampleMapping(mm.Page(0), &f.mapper, &f.alloc)

		Expect(panicErrors).To(HaveLen(1))
		Expect(panicErrors[0]).To(BeIdenticalTo(ErrAlreadyMapped))
		Expect(flushedAddrs).To(HaveLen(1))
	})

	It("should panic when no frames are available", func() {
		CreateExampleMapping(mm.PageFromAddress(0xdeadb000), &f.mapper, pmm.NullAllocator{})

		Expect(panicErrors).To(HaveLen(1))
		Expect(panicErrors[0]).To(BeIdenticalTo(pmm.ErrOutOfMemory))
		Expect(flushedAddrs).To(BeEmpty())
	})
})
