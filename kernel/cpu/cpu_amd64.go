// Package cpu exposes the privileged amd64 instructions used by the memory
// subsystems. None of these functions may be called from user mode; code that
// depends on them reaches them through package-level function variables so
// tests can substitute them.
package cpu

// Halt disables interrupts and stops instruction execution.
func Halt()

// FlushTLBEntry invalidates the TLB entry for the page containing virtAddr on
// the current processor (INVLPG).
func FlushTLBEntry(virtAddr uintptr)

// ActivePDT returns the raw contents of the CR3 register: the physical
// address of the active top-level page table plus the PCID/cache-control bits
// stored in its low 12 bits.
func ActivePDT() uintptr
