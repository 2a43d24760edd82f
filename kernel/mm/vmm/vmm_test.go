package vmm

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"oskern/kernel/cpu"
	"oskern/kernel/mm"
	"oskern/kernel/mm/pmm"
)

var _ = Describe("ActiveTable", func() {
	var f *fixture

	BeforeEach(func() {
		f = newFixture(2 << 20)
		activeTableIssued = false
		activePDTFn = func() uintptr { return f.p4Frame.Address() | 0x8 }
	})

	AfterEach(func() {
		activeTableIssued = false
		activePDTFn = cpu.ActivePDT
		kernelMapper = OffsetPageTable{}
	})

	It("should overlay the table named by CR3", func() {
		p4, err := ActiveTable(f.mem.Offset())
		Expect(err).To(BeNil())
		Expect(p4).To(BeIdenticalTo(f.mapper.P4()))
	})

	It("should hand out the active table only once", func() {
		_, err := ActiveTable(f.mem.Offset())
		Expect(err).To(BeNil())

		p4, err := ActiveTable(f.mem.Offset())
		Expect(err).To(BeIdenticalTo(ErrActiveTableIssued))
		Expect(p4).To(BeNil())

		_, err = Init(f.mem.Offset())
		Expect(err).To(BeIdenticalTo(ErrActiveTableIssued))
	})

	It("should build the kernel mapper in Init", func() {
		mapper, err := Init(f.mem.Offset())
		Expect(err).To(BeNil())
		Expect(mapper).To(BeIdenticalTo(&kernelMapper))
		Expect(mapper.P4()).To(BeIdenticalTo(f.mapper.P4()))
		Expect(mapper.PhysOffset()).To(Equal(f.mem.Offset()))

		flushTLBEntryFn = func(uintptr) {}
		defer func() { flushTLBEntryFn = cpu.FlushTLBEntry }()

		flush, mapErr := mapper.Map(mm.PageFromAddress(0x3000), mm.FrameFromAddress(0x1ff000), FlagPresent, &f.alloc)
		Expect(mapErr).To(BeNil())
		flush.Flush()

		physAddr, ok := f.mapper.Translate(0x3010)
		Expect(ok).To(BeTrue())
		Expect(physAddr).To(Equal(uintptr(0x1ff010)))
	})
})

var _ = Describe("NewAddressSpace", func() {
	It("should allocate and clear a top-level table", func() {
		f := newFixture(2 << 20)

		Expect(f.p4Frame).To(Equal(mm.FrameFromAddress(firstUsableAddr)))
		Expect(f.mapper.PhysOffset()).To(Equal(f.mem.Offset()))
		for i, pte := range f.mapper.P4() {
			Expect(pte.IsUnused()).To(BeTrue(), "entry %d", i)
		}
	})

	It("should report allocator failures", func() {
		mockCtrl := gomock.NewController(GinkgoT())
		alloc := NewMockFrameAllocator(mockCtrl)
		alloc.EXPECT().AllocFrame().Return(mm.InvalidFrame, pmm.ErrOutOfMemory)

		_, frame, err := NewAddressSpace(0, alloc)
		Expect(err).To(BeIdenticalTo(pmm.ErrOutOfMemory))
		Expect(frame).To(Equal(mm.InvalidFrame))
	})
})
