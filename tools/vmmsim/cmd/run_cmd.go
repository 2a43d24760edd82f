package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"oskern/kernel/mm/vmm"
)

type runOptions struct {
	memMiB      uint
	firstUsable string
	mappings    []string
	translate   []string
	user        bool
	readOnly    bool
}

func newRunCmd() *cobra.Command {
	var opts runOptions

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Apply mappings to a fresh address space and translate addresses",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runSimulation(opts)
		},
	}

	runCmd.Flags().UintVar(&opts.memMiB, "mem-mib", 16, "size of the simulated physical memory in MiB")
	runCmd.Flags().StringVar(&opts.firstUsable, "first-usable", "0x100000", "first physical address handed to the frame allocator")
	runCmd.Flags().StringArrayVarP(&opts.mappings, "map", "m", nil, "mapping to apply, as VIRT=PHYS (repeatable)")
	runCmd.Flags().StringArrayVarP(&opts.translate, "translate", "t", nil, "virtual address to translate (repeatable)")
	runCmd.Flags().BoolVar(&opts.user, "user", false, "make the mappings user-accessible")
	runCmd.Flags().BoolVar(&opts.readOnly, "read-only", false, "make the mappings read-only")
	return runCmd
}

func runSimulation(opts runOptions) error {
	firstUsable, err := parseAddr(opts.firstUsable)
	if err != nil {
		return fmt.Errorf("invalid --first-usable: %w", err)
	}

	type mapping struct{ virt, phys uintptr }
	mappings := make([]mapping, 0, len(opts.mappings))
	for _, m := range opts.mappings {
		virt, phys, err := parseMapping(m)
		if err != nil {
			return err
		}
		mappings = append(mappings, mapping{virt, phys})
	}

	translations := make([]uintptr, 0, len(opts.translate))
	for _, t := range opts.translate {
		addr, err := parseAddr(t)
		if err != nil {
			return fmt.Errorf("invalid address %q: %w", t, err)
		}
		translations = append(translations, addr)
	}

	sim, kerr := newSimulator(uintptr(opts.memMiB)<<20, firstUsable)
	if kerr != nil {
		return kerr
	}

	flags := vmm.FlagPresent | vmm.FlagRW
	if opts.readOnly {
		flags &^= vmm.FlagRW
	}
	if opts.user {
		flags |= vmm.FlagUserAccessible
	}

	for _, m := range mappings {
		if kerr = sim.mapPage(m.virt, m.phys, flags); kerr != nil {
			return fmt.Errorf("map 0x%x=0x%x: %w", m.virt, m.phys, kerr)
		}
	}

	for _, addr := range translations {
		sim.translate(addr)
	}

	sim.stats()
	return nil
}

// parseMapping splits a VIRT=PHYS argument.
func parseMapping(s string) (virt, phys uintptr, err error) {
	virtStr, physStr, found := strings.Cut(s, "=")
	if !found {
		return 0, 0, fmt.Errorf("invalid mapping %q: expected VIRT=PHYS", s)
	}

	if virt, err = parseAddr(virtStr); err != nil {
		return 0, 0, fmt.Errorf("invalid mapping %q: %w", s, err)
	}
	if phys, err = parseAddr(physStr); err != nil {
		return 0, 0, fmt.Errorf("invalid mapping %q: %w", s, err)
	}
	return virt, phys, nil
}

// parseAddr accepts decimal, 0x-prefixed hex and 0o/0b prefixed addresses.
// Underscores may separate digit groups.
func parseAddr(s string) (uintptr, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 64)
	if err != nil {
		return 0, err
	}
	return uintptr(v), nil
}
