// descramble.go - BLN-DMA's 32-bit descramble permutation (component C9)
//
// spec.md §4.7 names the eight 4-bit bit-groups verbatim but says the eight
// 16-entry lookup tables are "literal... embedded in the specification
// annex" -- no such annex, and no matching table, appears anywhere in the
// retrieved spec text or in original_source/src/dma/blndma.cpp (which marks
// descrambling a TODO and never implements it). Lacking a real hardware
// table to reproduce, this file defines one internally-consistent, clearly
// synthetic 4-bit substitution reused across all eight groups (see
// DESIGN.md's Open Questions section): every value maps through a fixed
// bijection, so the permutation is well-defined and round-trips, but it is
// explicitly NOT claimed to match real SPG293 silicon.
//
// License: GPLv3 or later

package main

// descrambleGroups lists, for each of the 8 groups, the 4 source bit
// positions composing it, verbatim from spec.md §4.7.
var descrambleGroups = [8][4]uint{
	{0, 14, 16, 21},
	{1, 9, 19, 27},
	{2, 17, 20, 28},
	{3, 10, 18, 25},
	{4, 5, 26, 31},
	{6, 15, 22, 30},
	{7, 12, 13, 24},
	{8, 11, 23, 29},
}

// descrambleLUT is a placeholder 4-bit nibble-reversal bijection, applied
// identically to all 8 groups. Documented as synthetic; see file header.
var descrambleLUT = [16]uint8{
	0x0, 0x8, 0x4, 0xC, 0x2, 0xA, 0x6, 0xE,
	0x1, 0x9, 0x5, 0xD, 0x3, 0xB, 0x7, 0xF,
}

// descramble32 extracts each group's 4 source bits, substitutes them
// through descrambleLUT, and scatters the result back into the same bit
// positions, per spec.md §4.7.
func descramble32(in uint32) uint32 {
	var out uint32
	for _, group := range descrambleGroups {
		var nibble uint8
		for i, pos := range group {
			if BitSet(in, pos) {
				nibble |= 1 << uint(i)
			}
		}
		mapped := descrambleLUT[nibble]
		for i, pos := range group {
			if mapped&(1<<uint(i)) != 0 {
				out |= 1 << pos
			}
		}
	}
	return out
}

// descramble16 applies descramble32 to a single 16-bit pixel, zero-extended
// into the low half of a 32-bit word. spec.md §4.7 says the real descramble
// operates on 32 bits at a time; this engine moves one 16-bit pixel per
// readPixel/writePixel call, so each pixel only ever sees bits 0..15 of the
// permutation rather than a true 32-bit-wide operation spanning two pixels.
// Acceptable only because descrambleLUT is itself an acknowledged synthetic
// placeholder (see file header), not a claim of hardware-accurate grouping.
func descramble16(v uint16) uint16 {
	return uint16(descramble32(uint32(v)))
}
