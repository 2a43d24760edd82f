// Command vmmsim drives the kernel's frame allocator and page-table mapper
// against simulated physical memory.
package main

import "oskern/tools/vmmsim/cmd"

func main() {
	cmd.Execute()
}
