package kmain

import (
	"oskern/kernel"
	"oskern/kernel/boot"
	"oskern/kernel/kfmt"
	"oskern/kernel/mm"
	"oskern/kernel/mm/pmm"
	"oskern/kernel/mm/vmm"
	"oskern/multiboot"
)

const (
	// heapStart is the virtual address of the kernel heap.
	heapStart = uintptr(0x_4444_4444_0000)

	// heapSize is the size of the kernel heap in bytes.
	heapSize = 100 * 1024
)

var (
	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}

	// bootInfo is filled in from the multiboot payload. It lives in the
	// data segment as there is no allocator at that point.
	bootInfo boot.Info

	// the following functions are mocked by tests.
	vmmInitFn              = vmm.Init
	createExampleMappingFn = vmm.CreateExampleMapping
	mapRegionFn            = (*vmm.OffsetPageTable).MapRegion
	panicFn                = kfmt.Panic
)

// Kmain is the only Go symbol that is visible (exported) from the rt0 initialization
// code. This function is invoked by the rt0 assembly code after setting up the GDT
// and setting up a a minimal g0 struct that allows Go code using the 4K stack
// allocated by the assembly code.
//
// The rt0 code passes the address of the multiboot info payload provided by the
// bootloader, the physical addresses for the kernel start/end and the virtual
// address at which the bootstrap code mapped all of physical memory.
//
// Kmain is not expected to return. If it does, the rt0 code will halt the CPU.
//
//go:noinline
func Kmain(multibootInfoPtr, kernelStart, kernelEnd, physMemOffset uintptr) {
	multiboot.SetInfoPtr(multibootInfoPtr)

	bootInfo.PhysicalMemoryOffset = physMemOffset
	if err := boot.LoadMultibootMemoryMap(&bootInfo, kernelStart, kernelEnd); err != nil {
		panicFn(err)
		return
	}
	bootInfo.Print()

	pmm.Init(&bootInfo)

	mapper, err := vmmInitFn(physMemOffset)
	if err != nil {
		panicFn(err)
		return
	}

	if err = setupMappings(mapper, pmm.Allocator()); err != nil {
		panicFn(err)
		return
	}

	allocated, total := pmm.Stats()
	kfmt.Printf("[kmain] frames in use: %d/%d\n", allocated, total)

	// Use kfmt.Panic instead of panic to prevent the compiler from
	// treating kfmt.Panic as dead-code and eliminating it.
	panicFn(errKmainReturned)
}

// setupMappings maps the example page and the kernel heap and logs how they
// translate afterwards. Only addresses backed by 4KiB pages are translated;
// the bootloader's physical memory mapping may use huge pages.
func setupMappings(mapper *vmm.OffsetPageTable, alloc mm.FrameAllocator) *kernel.Error {
	createExampleMappingFn(mm.Page(0), mapper, alloc)

	heapPages := uintptr((heapSize + mm.PageSize - 1) >> mm.PageShift)
	if err := mapRegionFn(mapper, mm.PageFromAddress(heapStart), heapPages, vmm.FlagPresent|vmm.FlagRW, alloc); err != nil {
		return err
	}
	kfmt.Printf("[kmain] heap: 0x%16x - 0x%16x\n", heapStart, heapStart+heapPages<<mm.PageShift)

	for _, virtAddr := range []uintptr{0x0, 0xb8000, heapStart} {
		if physAddr, ok := mapper.Translate(virtAddr); ok {
			kfmt.Printf("[kmain] 0x%16x -> 0x%16x\n", virtAddr, physAddr)
		} else {
			kfmt.Printf("[kmain] 0x%16x -> not mapped\n", virtAddr)
		}
	}

	return nil
}
