package cmd

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/spf13/cobra"

	"oskern/kernel/kfmt"
	"oskern/kernel/mm/vmm"
)

const (
	vgaBufferAddr = uintptr(0xb8000)

	// newMessage is "New!" encoded as four VGA text cells.
	newMessage = uint64(0x_f021_f077_f065_f04e)

	// newMessageOffset is the byte offset of the message inside the
	// example page, halfway down the screen.
	newMessageOffset = 400 * 8
)

func newExampleCmd() *cobra.Command {
	var memMiB uint

	exampleCmd := &cobra.Command{
		Use:   "example",
		Short: "Map page 0 to the VGA text buffer and write through it",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runExample(memMiB)
		},
	}

	exampleCmd.Flags().UintVar(&memMiB, "mem-mib", 4, "size of the simulated physical memory in MiB")
	return exampleCmd
}

func runExample(memMiB uint) error {
	sim, err := newSimulator(uintptr(memMiB)<<20, 0x100000)
	if err != nil {
		return err
	}

	if err = sim.mapPage(0x0, vgaBufferAddr, vmm.FlagPresent|vmm.FlagRW); err != nil {
		return err
	}

	var msg [8]byte
	binary.LittleEndian.PutUint64(msg[:], newMessage)
	if err = sim.writeVirt(newMessageOffset, msg[:]); err != nil {
		return err
	}

	got, err := sim.mem.Bytes(vgaBufferAddr+newMessageOffset, uintptr(len(msg)))
	if err != nil {
		return err
	}
	if !bytes.Equal(got, msg[:]) {
		return fmt.Errorf("write through page 0 did not reach the VGA buffer")
	}

	sim.translate(newMessageOffset)
	kfmt.Printf("[vmmsim] VGA buffer reads: %s\n", []byte{got[0], got[2], got[4], got[6]})
	sim.stats()
	return nil
}
