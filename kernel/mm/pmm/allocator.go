package pmm

import (
	"oskern/kernel"
	"oskern/kernel/boot"
	"oskern/kernel/mm"
)

var (
	// ErrOutOfMemory is returned by frame allocators with no frames left.
	ErrOutOfMemory = &kernel.Error{Module: "pmm", Message: "out of memory"}
)

// NullAllocator is a frame allocator without a backing store. Every
// allocation fails with ErrOutOfMemory. It stands in wherever an allocator is
// required before any physical memory can be handed out.
type NullAllocator struct{}

// AllocFrame implements mm.FrameAllocator.
func (NullAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	return mm.InvalidFrame, ErrOutOfMemory
}

// RegionAllocator hands out the frames of the Usable regions in a boot memory
// map. Usable regions are treated as one concatenated stream of frames: the
// Nth call returns the Nth frame of that stream. Frames are never reclaimed.
//
// The allocator keeps a cursor (region index, frame offset within the
// region) so each call only looks at the regions it has not yet drained.
type RegionAllocator struct {
	regions []boot.MemoryRegion

	regionIndex int
	frameOffset uint64

	allocCount  uint64
	totalFrames uint64
}

// NewRegionAllocator returns an allocator over the Usable regions of info.
//
// The caller guarantees that every Usable region is genuinely free: no part
// of it may hold the kernel image, bootloader structures or firmware data.
// Frames handed out from an occupied region silently corrupt whatever lives
// there.
func NewRegionAllocator(info *boot.Info) RegionAllocator {
	return RegionAllocator{
		regions:     info.MemoryMap.Regions(),
		totalFrames: info.MemoryMap.UsableFrames(),
	}
}

// AllocFrame implements mm.FrameAllocator. Once all usable frames are handed
// out, every call returns ErrOutOfMemory.
func (alloc *RegionAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	for ; alloc.regionIndex < len(alloc.regions); alloc.regionIndex, alloc.frameOffset = alloc.regionIndex+1, 0 {
		region := alloc.regions[alloc.regionIndex]
		if region.Kind != boot.Usable || alloc.frameOffset >= region.FrameCount() {
			continue
		}

		frame := mm.FrameFromAddress(uintptr(region.Start)) + mm.Frame(alloc.frameOffset)
		alloc.frameOffset++
		alloc.allocCount++
		return frame, nil
	}

	return mm.InvalidFrame, ErrOutOfMemory
}

// AllocCount returns the number of frames handed out so far.
func (alloc *RegionAllocator) AllocCount() uint64 {
	return alloc.allocCount
}

// TotalFrames returns the number of frames in the Usable regions.
func (alloc *RegionAllocator) TotalFrames() uint64 {
	return alloc.totalFrames
}
