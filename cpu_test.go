// cpu_test.go - ALU flag and control-flow tests for component C6
//
// License: GPLv3 or later

package main

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func testCPU() *CPU {
	log := slog.New(slog.DiscardHandler)
	bus := NewBus(log)
	return NewCPU(bus, log)
}

func encALUImm(rd, rs1, subop uint32, cflag bool, imm uint32) uint32 {
	op := (opALUImm << 25) | (rd << 20) | (rs1 << 15) | (subop << 11) | (imm & 0x3FF)
	if cflag {
		op |= 1 << 10
	}
	return packLong(op)
}

func encLDI(rd, imm uint32) uint32 {
	return packLong((opLDI << 25) | (rd << 20) | (imm & 0xFFFFF))
}

func encBCond(cond uint32, link bool, dispBytes int32) uint32 {
	disp20 := uint32(dispBytes>>1) & 0xFFFFF
	op := (opBCond << 25) | (cond << 21) | disp20
	if link {
		op |= 1 << 20
	}
	return packLong(op)
}

// packLong reassembles a 30-bit opcode word into the two-halfword-MSB-set
// physical encoding consumed by fetchAndExecute.
func packLong(opcode30 uint32) uint32 {
	h0 := uint16(opcode30&0x7FFF) | 0x8000
	h1 := uint16((opcode30>>15)&0x7FFF) | 0x8000
	return uint32(h0) | uint32(h1)<<16
}

func TestALUAddFlags(t *testing.T) {
	c := testCPU()
	// addri.c r4, r0, -1 with r0=0 -> r4=0xFFFFFFFF, N=1 Z=0 C=0 V=0
	c.bus.Write32(ramBase, encALUImm(4, 0, iAdd, true, uint32(int32(-1))))
	c.pc = ramBase
	c.Step()
	require.Equal(t, uint32(0xFFFFFFFF), c.r[4])
	require.True(t, c.flags.N)
	require.False(t, c.flags.Z)
	require.False(t, c.flags.C)
	require.False(t, c.flags.V)
}

func TestAddCarryAndOverflow(t *testing.T) {
	c := testCPU()
	res := c.aluAdd(0xFFFFFFFF, 1, true)
	require.Equal(t, uint32(0), res)
	require.True(t, c.flags.C)
	require.True(t, c.flags.Z)
	require.False(t, c.flags.V)

	res = c.aluAdd(0x7FFFFFFF, 1, true)
	require.Equal(t, uint32(0x80000000), res)
	require.True(t, c.flags.V)
	require.True(t, c.flags.N)
}

func TestSubFlags(t *testing.T) {
	c := testCPU()
	res := c.aluSub(5, 5, true)
	require.Equal(t, uint32(0), res)
	require.True(t, c.flags.Z)
	require.True(t, c.flags.C) // a >= b

	res = c.aluSub(0, 1, true)
	require.Equal(t, uint32(0xFFFFFFFF), res)
	require.False(t, c.flags.C) // a < b
}

func TestBranchIfEqualSkipsInstruction(t *testing.T) {
	c := testCPU()
	pc := ramBase
	// ldi r4, 0x0005
	c.bus.Write32(pc, encLDI(4, 5))
	pc += 4
	// cmpi.c r4, 0x0005 (imm fits the ALUImm 10-bit field)
	c.bus.Write32(pc, encALUImm(0, 4, iCmp, false, 5))
	pc += 4
	beqAt := pc
	// ldi r4, 0xDEAD (to be skipped)
	skipped := pc + 4
	c.bus.Write32(skipped, encLDI(4, 0xDEAD))
	// ldi r5, 0xBEEF
	afterSkip := skipped + 4
	c.bus.Write32(afterSkip, encLDI(5, 0xBEEF))
	// beq +8 (skip the ldi r4,0xDEAD instruction, 4 bytes wide)
	c.bus.Write32(beqAt, encBCond(CondEQ, false, 8))

	c.pc = ramBase
	for i := 0; i < 4; i++ {
		c.Step()
	}
	require.Equal(t, uint32(5), c.r[4])
	require.Equal(t, uint32(0xBEEF), c.r[5])
}

func TestInterruptEntryAndReturn(t *testing.T) {
	c := testCPU()
	c.cr[CR_IE] = 1
	c.cr[CR_VBR] = ramBase + 0x1000
	c.pc = ramBase + 0x40
	c.RaiseInterrupt(5)
	c.Step()
	require.Equal(t, ramBase+0x1000+0x200+5*4, c.pc)
	require.Equal(t, uint32(5), Field(c.cr[CR_CAUSE], 23, 18))
	require.Equal(t, int32(-1), c.pendingCause)
}

func TestMulDivAccumulator(t *testing.T) {
	c := testCPU()
	c.mulUnsigned(0x10000, 0x10000)
	require.Equal(t, uint32(1), c.ceh)
	require.Equal(t, uint32(0), c.cel)

	c.divUnsigned(10, 3)
	require.Equal(t, uint32(3), c.cel)
	require.Equal(t, uint32(1), c.ceh)
}
