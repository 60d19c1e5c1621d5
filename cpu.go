// cpu.go - S+core 7 interpreter core (component C6)
//
// Registers, flags and the step/fetch loop. Instruction decode and the ALU
// live in cpu_decode.go and cpu_alu.go; this file owns construction, reset,
// interrupt entry and the condition-code evaluator, mirroring how the
// teacher splits `cpu_z80.go` (core struct + lifecycle) from
// `cpu_z80_runner.go` (execution loop) and `cpu_z80_alu_test.go`-adjacent
// flag logic.
//
// License: GPLv3 or later

package main

import "log/slog"

// Condition codes, spec.md §4.1.
const (
	CondCS = iota
	CondCC
	CondGTU
	CondLEU
	CondEQ
	CondNE
	CondGT
	CondLE
	CondGE
	CondLT
	CondMI
	CondPL
	CondVS
	CondVC
	CondCNZ
	CondAL
)

// Flags holds the five condition flags named in spec.md §3.
type Flags struct {
	N, Z, C, V, T bool
}

// CPU implements component C6.
type CPU struct {
	r  [32]uint32 // general registers; r[3] is the link register
	cr [32]uint32 // control registers
	sr [3]uint32  // special registers
	ceh, cel uint32

	pc uint32

	flags Flags
	count uint32 // hidden CNZ counter

	pendingCause int32 // -1 when none queued
	isPCE        bool

	halted bool

	bus *Bus
	log *slog.Logger
}

// Control register indices named by spec.md §3.
const (
	CR_IE     = 0 // bit0: global interrupt enable
	CR_CAUSE  = 2 // bits 18..23: interrupt cause
	CR_VBR    = 3 // vector base register
	CR_EPC    = 5 // saved PC on interrupt entry
)

func NewCPU(bus *Bus, log *slog.Logger) *CPU {
	c := &CPU{bus: bus, log: log}
	c.Reset()
	return c
}

func (c *CPU) Reset() {
	for i := range c.r {
		c.r[i] = 0
	}
	for i := range c.cr {
		c.cr[i] = 0
	}
	for i := range c.sr {
		c.sr[i] = 0
	}
	c.ceh, c.cel = 0, 0
	c.pc = ramBase
	c.flags = Flags{}
	c.count = 0
	c.pendingCause = -1
	c.isPCE = false
	c.halted = false
}

// SetEntry sets the initial PC and stack pointer, used by the ELF/NOR
// loader after placing the image in memory.
func (c *CPU) SetEntry(entry, stack uint32) {
	c.pc = entry
	if stack != 0 {
		c.r[0] = stack // r0 doubles as SP per the reference ABI
	}
}

// RaiseInterrupt queues cause for delivery at the next Step, implementing
// the controller-calls-CPU half of spec.md's cyclic-ownership note (see
// DESIGN.md): the interrupt controller owns priority arbitration, the CPU
// only remembers the single winning cause until it can act on it.
func (c *CPU) RaiseInterrupt(cause int) {
	if cause < 0 || cause > 63 {
		return
	}
	c.pendingCause = int32(cause)
}

// evalCondition implements the sixteen standard conditions of spec.md
// §4.1. CNZ additionally decrements the hidden count register and
// disables itself at zero.
func (c *CPU) evalCondition(cond uint32) bool {
	f := c.flags
	switch cond {
	case CondCS:
		return f.C
	case CondCC:
		return !f.C
	case CondGTU:
		return f.C && !f.Z
	case CondLEU:
		return !f.C || f.Z
	case CondEQ:
		return f.Z
	case CondNE:
		return !f.Z
	case CondGT:
		return !f.Z && (f.N == f.V)
	case CondLE:
		return f.Z || (f.N != f.V)
	case CondGE:
		return f.N == f.V
	case CondLT:
		return f.N != f.V
	case CondMI:
		return f.N
	case CondPL:
		return !f.N
	case CondVS:
		return f.V
	case CondVC:
		return !f.V
	case CondCNZ:
		if c.count == 0 {
			return false
		}
		c.count--
		return c.count != 0
	case CondAL:
		return true
	}
	return false
}

// enterInterrupt implements spec.md §4.1's "Interrupt entry": no auto-mask
// of global IE, cause written into cr2[18:23], PC saved to cr5, PC set to
// VBR + 0x200 + cause*4.
func (c *CPU) enterInterrupt(cause int32) {
	c.cr[CR_CAUSE] = (c.cr[CR_CAUSE] &^ (0x3F << 18)) | (uint32(cause) << 18)
	c.cr[CR_EPC] = c.pc
	c.pc = c.cr[CR_VBR] + 0x200 + uint32(cause)*4
	c.pendingCause = -1
}

// Step executes exactly one instruction (or, for a PCE pair, one half of
// the pair). Interrupt entry is checked first, per spec.md §4.1 ("At the
// top of step()").
func (c *CPU) Step() {
	if c.halted {
		return
	}
	if c.pendingCause >= 0 && BitSet(c.cr[CR_IE], 0) {
		c.enterInterrupt(c.pendingCause)
	}
	c.fetchAndExecute()
}

func (c *CPU) SaveState(w *SaveWriter) {
	w.Tag("CPU")
	for _, v := range c.r {
		w.U32(v)
	}
	for _, v := range c.cr {
		w.U32(v)
	}
	for _, v := range c.sr {
		w.U32(v)
	}
	w.U32(c.ceh)
	w.U32(c.cel)
	w.U32(c.pc)
	w.Bool(c.flags.N)
	w.Bool(c.flags.Z)
	w.Bool(c.flags.C)
	w.Bool(c.flags.V)
	w.Bool(c.flags.T)
	w.U32(c.count)
	w.I32(c.pendingCause)
	w.Bool(c.isPCE)
	w.Bool(c.halted)
}

func (c *CPU) LoadState(r *SaveReader) {
	r.Tag("CPU")
	for i := range c.r {
		c.r[i] = r.U32()
	}
	for i := range c.cr {
		c.cr[i] = r.U32()
	}
	for i := range c.sr {
		c.sr[i] = r.U32()
	}
	c.ceh = r.U32()
	c.cel = r.U32()
	c.pc = r.U32()
	c.flags.N = r.Bool()
	c.flags.Z = r.Bool()
	c.flags.C = r.Bool()
	c.flags.V = r.Bool()
	c.flags.T = r.Bool()
	c.count = r.U32()
	c.pendingCause = r.I32()
	c.isPCE = r.Bool()
	c.halted = r.Bool()
}
