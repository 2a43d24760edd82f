package boot

import (
	"oskern/kernel"
	"oskern/kernel/mm"
	"oskern/multiboot"
)

// LoadMultibootMemoryMap appends the memory regions reported through the
// multiboot info structure to info. multiboot.SetInfoPtr must have been
// called beforehand.
//
// Multiboot regions need not be frame-aligned. Available regions shrink to
// the frames they fully contain while every other kind grows to the frames
// it touches, so no frame that is even partly reserved is ever considered
// usable. Regions that shrink to nothing are dropped.
//
// The bootloader reports the memory it loaded the kernel image and the info
// structure into as available. Those frames, the image at the physical range
// [kernelStart, kernelEnd) and frame zero are carved out of the usable
// regions.
func LoadMultibootMemoryMap(info *Info, kernelStart, kernelEnd uintptr) *kernel.Error {
	if err := loadMultibootRegions(info); err != nil {
		return err
	}

	infoStart, infoSize := multiboot.InfoRange()
	reservations := [...]MemoryRegion{
		{Start: 0, End: uint64(mm.PageSize), Kind: FrameZero},
		{Start: uint64(kernelStart), End: uint64(kernelEnd), Kind: Kernel},
		{Start: uint64(infoStart), End: uint64(infoStart + infoSize), Kind: BootInfo},
	}
	for _, r := range reservations {
		if r.End == r.Start {
			continue
		}

		if err := info.MemoryMap.Reserve(r.Start, r.End, r.Kind); err != nil {
			return err
		}
	}

	return nil
}

func loadMultibootRegions(info *Info) *kernel.Error {
	var err *kernel.Error

	multiboot.VisitMemRegions(func(entry multiboot.MemoryMapEntry) bool {
		pageSizeMinus1 := uint64(mm.PageSize - 1)
		region := MemoryRegion{
			Start: entry.PhysAddress &^ pageSizeMinus1,
			End:   (entry.PhysAddress + entry.Length + pageSizeMinus1) &^ pageSizeMinus1,
			Kind:  kindFromMultiboot(entry.Type),
		}

		if region.Kind == Usable {
			region.Start = (entry.PhysAddress + pageSizeMinus1) &^ pageSizeMinus1
			region.End = (entry.PhysAddress + entry.Length) &^ pageSizeMinus1
		}

		if region.End <= region.Start {
			return true
		}

		err = info.MemoryMap.Add(region)
		return err == nil
	})

	return err
}

func kindFromMultiboot(t multiboot.MemoryEntryType) RegionKind {
	switch t {
	case multiboot.MemAvailable:
		return Usable
	case multiboot.MemAcpiReclaimable:
		return AcpiReclaimable
	case multiboot.MemNvs:
		return AcpiNvs
	default:
		return Reserved
	}
}
