package cmd

import (
	"oskern/internal/physmem"
	"oskern/kernel"
	"oskern/kernel/kfmt"
	"oskern/kernel/mm"
	"oskern/kernel/mm/pmm"
	"oskern/kernel/mm/vmm"
)

// simulator owns a page table hierarchy that lives in simulated physical
// memory. The hierarchy is never loaded into CR3, so TLB flushes are
// ignored.
type simulator struct {
	mem     *physmem.Memory
	alloc   pmm.RegionAllocator
	mapper  vmm.OffsetPageTable
	p4Frame mm.Frame
}

// newSimulator allocates memSize bytes of simulated memory, treats
// everything from firstUsable on as usable and sets up an empty address
// space.
func newSimulator(memSize, firstUsable uintptr) (*simulator, *kernel.Error) {
	mem := physmem.New(memSize)

	info, err := mem.BootInfo(firstUsable)
	if err != nil {
		return nil, err
	}
	info.Print()

	s := &simulator{mem: mem, alloc: pmm.NewRegionAllocator(info)}
	if s.mapper, s.p4Frame, err = vmm.NewAddressSpace(mem.Offset(), &s.alloc); err != nil {
		return nil, err
	}

	kfmt.Printf("[vmmsim] P4 table in frame 0x%x\n", s.p4Frame.Address())
	return s, nil
}

// mapPage maps the page containing virtAddr to the frame containing
// physAddr.
func (s *simulator) mapPage(virtAddr, physAddr uintptr, flags vmm.PageTableEntryFlag) *kernel.Error {
	flush, err := s.mapper.Map(mm.PageFromAddress(virtAddr), mm.FrameFromAddress(physAddr), flags, &s.alloc)
	if err != nil {
		return err
	}
	flush.Ignore()

	kfmt.Printf("[vmmsim] mapped 0x%16x -> 0x%16x\n", virtAddr&^(mm.PageSize-1), physAddr&^(mm.PageSize-1))
	return nil
}

// translate logs and returns the translation of virtAddr.
func (s *simulator) translate(virtAddr uintptr) (uintptr, bool) {
	physAddr, ok := s.mapper.Translate(virtAddr)
	if ok {
		kfmt.Printf("[vmmsim] 0x%16x -> 0x%16x\n", virtAddr, physAddr)
	} else {
		kfmt.Printf("[vmmsim] 0x%16x -> not mapped\n", virtAddr)
	}
	return physAddr, ok
}

// writeVirt stores data at virtAddr going through the page tables the way
// the MMU would. data must not cross a page boundary.
func (s *simulator) writeVirt(virtAddr uintptr, data []byte) *kernel.Error {
	physAddr, ok := s.mapper.Translate(virtAddr)
	if !ok {
		return vmm.ErrInvalidMapping
	}

	target, err := s.mem.Bytes(physAddr, uintptr(len(data)))
	if err != nil {
		return err
	}
	copy(target, data)
	return nil
}

// stats logs the allocator counters.
func (s *simulator) stats() {
	kfmt.Printf("[vmmsim] frames allocated: %d/%d\n", s.alloc.AllocCount(), s.alloc.TotalFrames())
}
