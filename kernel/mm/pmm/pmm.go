// Package pmm manages physical memory frame allocations.
package pmm

import (
	"oskern/kernel"
	"oskern/kernel/boot"
	"oskern/kernel/kfmt"
	"oskern/kernel/mm"
	"oskern/kernel/sync"
)

var (
	// lock serializes access to the allocator singleton. The kernel runs
	// on a single core today; the lock keeps AllocFrame safe once that
	// changes.
	lock sync.Spinlock

	regionAllocator RegionAllocator

	// activeAllocator is the allocator behind AllocFrame. It stays a
	// NullAllocator until Init runs.
	activeAllocator mm.FrameAllocator = NullAllocator{}
)

// Init installs a RegionAllocator over the usable memory described by info
// as the kernel's frame allocator. Init must be called exactly once.
func Init(info *boot.Info) {
	lock.Acquire()
	regionAllocator = NewRegionAllocator(info)
	activeAllocator = &regionAllocator
	lock.Release()

	kfmt.Printf("[pmm] usable frames: %d (%dKb)\n",
		regionAllocator.TotalFrames(),
		regionAllocator.TotalFrames()*uint64(mm.PageSize)/1024,
	)
}

// AllocFrame reserves a frame using the kernel's frame allocator.
func AllocFrame() (mm.Frame, *kernel.Error) {
	lock.Acquire()
	frame, err := activeAllocator.AllocFrame()
	lock.Release()
	return frame, err
}

// Stats returns the number of frames allocated so far and the number of
// usable frames known to the kernel's frame allocator.
func Stats() (allocated, total uint64) {
	lock.Acquire()
	allocated, total = regionAllocator.AllocCount(), regionAllocator.TotalFrames()
	lock.Release()
	return allocated, total
}

// kernelAllocator adapts AllocFrame to mm.FrameAllocator.
type kernelAllocator struct{}

func (kernelAllocator) AllocFrame() (mm.Frame, *kernel.Error) { return AllocFrame() }

// Allocator returns a mm.FrameAllocator that draws from the kernel's frame
// allocator.
func Allocator() mm.FrameAllocator { return kernelAllocator{} }
