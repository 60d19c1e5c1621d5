// debug.go - diagnostic register dump for illegal opcodes (component C6
// failure path, spec.md §4.1 / §7)
//
// Adapted from the teacher's debug_monitor.go register-dump helpers: a
// flat, deterministic text block routed through the injected slog.Logger
// rather than the teacher's dedicated debug console (no scripting surface
// is in scope for this SoC, see SPEC_FULL.md's dropped-dependency notes).
//
// License: GPLv3 or later

package main

import (
	"fmt"
	"log/slog"
	"strings"
)

// DumpCPUState renders the full register file plus the offending word and
// logs it as a single diagnostic event, then the caller halts the core.
func DumpCPUState(log *slog.Logger, c *CPU, word uint32) {
	var b strings.Builder
	fmt.Fprintf(&b, "unrecognised opcode 0x%08X at pc=0x%08X\n", word, c.pc)
	for i := 0; i < 32; i += 4 {
		fmt.Fprintf(&b, "  r%-2d=%08X r%-2d=%08X r%-2d=%08X r%-2d=%08X\n",
			i, c.r[i], i+1, c.r[i+1], i+2, c.r[i+2], i+3, c.r[i+3])
	}
	fmt.Fprintf(&b, "  cr0(IE)=%08X cr2(CAUSE)=%08X cr3(VBR)=%08X cr5(EPC)=%08X\n",
		c.cr[CR_IE], c.cr[CR_CAUSE], c.cr[CR_VBR], c.cr[CR_EPC])
	fmt.Fprintf(&b, "  flags N=%t Z=%t C=%t V=%t T=%t ceh=%08X cel=%08X",
		c.flags.N, c.flags.Z, c.flags.C, c.flags.V, c.flags.T, c.ceh, c.cel)
	log.Error("cpu halted on illegal opcode", "dump", b.String())
}
