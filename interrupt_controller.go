// interrupt_controller.go - 64-line maskable interrupt controller (component C3)
//
// Modelled as an owned value living at the system root (see DESIGN.md's
// note on cyclic ownership): peripherals hold a *InterruptController handle
// and call SetLine; dispatch writes the winning line into the CPU's single
// pending-cause slot through CPU.RaiseInterrupt (the CPU is attached late
// via AttachCPU), and the CPU acts on that slot at the top of every step.
//
// License: GPLv3 or later

package main

import "log/slog"

// Interrupt line numbers named by other components (spec.md §4.x).
const (
	IRQ_CAMERA        = 51
	IRQ_PPU_VBLANK_END = 46
	IRQ_PPU_VBLANK_START = 53
	IRQ_TIMER          = 56
	IRQ_PPU_DMA        = 45
	IRQ_BLNDMA         = 34
	IRQ_APBDMA_CH0     = 37
	IRQ_APBDMA_CH1     = 36
	IRQ_APBDMA_CH2     = 33
	IRQ_APBDMA_CH3     = 32
	IRQ_SPU_BEAT       = 62
	IRQ_SPU_SOFTCHAN   = 63
	IRQ_SD             = 58
)

// InterruptController implements spec.md C3: two 32-bit pending/mask word
// pairs addressed as logical lines 0..63, with a 64-bit "already fired"
// bitset deduplicating re-entry while a line remains asserted.
type InterruptController struct {
	pendL, pendH uint32
	maskL, maskH uint32
	fired        uint64
	globalEnable bool

	cpu *CPU
	log *slog.Logger
}

func NewInterruptController(log *slog.Logger) *InterruptController {
	return &InterruptController{log: log}
}

// AttachCPU wires the controller to the CPU it dispatches into. Done as a
// late bind so System can construct both without an initialisation cycle.
func (ic *InterruptController) AttachCPU(cpu *CPU) { ic.cpu = cpu }

// lineBit returns the pending/mask word and bit index holding line n, per
// spec.md §3: line n is bit (63-n) of PND-L for n>=32, else bit (31-n) of
// PND-H.
func lineBit(n int) (high bool, bit uint) {
	if n >= 32 {
		return false, uint(63 - n)
	}
	return true, uint(31 - n)
}

func (ic *InterruptController) SetLine(n int, asserted bool) {
	if n < 0 || n > 63 {
		ic.log.Warn("interrupt line out of range", "line", n)
		return
	}
	high, bit := lineBit(n)
	if asserted {
		if high {
			ic.pendH = SetBit(ic.pendH, bit, true)
		} else {
			ic.pendL = SetBit(ic.pendL, bit, true)
		}
		ic.dispatch()
		return
	}
	if high {
		ic.pendH = SetBit(ic.pendH, bit, false)
	} else {
		ic.pendL = SetBit(ic.pendL, bit, false)
	}
	ic.fired &^= 1 << uint(n)
}

func (ic *InterruptController) SetGlobalEnable(on bool) {
	ic.globalEnable = on
	if on {
		ic.dispatch()
	}
}

func (ic *InterruptController) isPending(n int) bool {
	high, bit := lineBit(n)
	if high {
		return BitSet(ic.pendH, bit)
	}
	return BitSet(ic.pendL, bit)
}

func (ic *InterruptController) isMasked(n int) bool {
	high, bit := lineBit(n)
	if high {
		return BitSet(ic.maskH, bit)
	}
	return BitSet(ic.maskL, bit)
}

// dispatch scans high->low across PND-H (lines 0..31) then PND-L (32..63)
// per spec.md §4.3 and raises the first eligible, unfired, unmasked line
// into the CPU's single pending-cause slot.
func (ic *InterruptController) dispatch() {
	if !ic.globalEnable || ic.cpu == nil {
		return
	}
	for n := 31; n >= 0; n-- {
		if ic.eligible(n) {
			ic.fired |= 1 << uint(n)
			ic.cpu.RaiseInterrupt(n)
			return
		}
	}
	for n := 63; n >= 32; n-- {
		if ic.eligible(n) {
			ic.fired |= 1 << uint(n)
			ic.cpu.RaiseInterrupt(n)
			return
		}
	}
}

func (ic *InterruptController) eligible(n int) bool {
	if !ic.isPending(n) || ic.isMasked(n) {
		return false
	}
	return ic.fired&(1<<uint(n)) == 0
}

// Register offsets within the controller's bus slot.
const (
	irqRegPendL  = 0x00
	irqRegPendH  = 0x04
	irqRegMaskL  = 0x08
	irqRegMaskH  = 0x0C
	irqRegEnable = 0x10
)

// Read32/Write32 implement the Peripheral interface (see bus.go).
func (ic *InterruptController) Read32(offset uint32) uint32 {
	switch offset {
	case irqRegPendL:
		return ic.pendL
	case irqRegPendH:
		return ic.pendH
	case irqRegMaskL:
		return ic.maskL
	case irqRegMaskH:
		return ic.maskH
	case irqRegEnable:
		if ic.globalEnable {
			return 1
		}
		return 0
	}
	return 0
}

func (ic *InterruptController) Write32(offset uint32, val uint32) {
	switch offset {
	case irqRegPendL:
		ic.WritePendL(val)
	case irqRegPendH:
		ic.WritePendH(val)
	case irqRegMaskL:
		ic.WriteMaskL(val)
	case irqRegMaskH:
		ic.WriteMaskH(val)
	case irqRegEnable:
		ic.SetGlobalEnable(val&1 != 0)
	}
}

func (ic *InterruptController) ReadPendL() uint32 { return ic.pendL }
func (ic *InterruptController) ReadPendH() uint32 { return ic.pendH }
func (ic *InterruptController) ReadMaskL() uint32 { return ic.maskL }
func (ic *InterruptController) ReadMaskH() uint32 { return ic.maskH }

func (ic *InterruptController) WriteMaskL(v uint32) { ic.maskL = v; ic.dispatch() }
func (ic *InterruptController) WriteMaskH(v uint32) { ic.maskH = v; ic.dispatch() }

// WritePendL/WritePendH let firmware clear pending+fired bits directly, as
// spec.md §4.3 allows ("writes to the pending register may also be used by
// firmware to clear fired lines"). Writing a 1 clears that bit.
func (ic *InterruptController) WritePendL(v uint32) {
	ic.pendL &^= v
	for bit := uint(0); bit < 32; bit++ {
		if BitSet(v, bit) {
			ic.fired &^= 1 << (63 - bit) // PND-L bit b is line 63-b
		}
	}
}

func (ic *InterruptController) WritePendH(v uint32) {
	ic.pendH &^= v
	for bit := uint(0); bit < 32; bit++ {
		if BitSet(v, bit) {
			ic.fired &^= 1 << (31 - bit) // PND-H bit b is line 31-b
		}
	}
}

func (ic *InterruptController) Reset() {
	ic.pendL, ic.pendH = 0, 0
	ic.maskL, ic.maskH = 0, 0
	ic.fired = 0
	ic.globalEnable = false
}

func (ic *InterruptController) SaveState(w *SaveWriter) {
	w.Tag("IRQC")
	w.U32(ic.pendL)
	w.U32(ic.pendH)
	w.U32(ic.maskL)
	w.U32(ic.maskH)
	w.U64(ic.fired)
	w.Bool(ic.globalEnable)
}

func (ic *InterruptController) LoadState(r *SaveReader) {
	r.Tag("IRQC")
	ic.pendL = r.U32()
	ic.pendH = r.U32()
	ic.maskL = r.U32()
	ic.maskH = r.U32()
	ic.fired = r.U64()
	ic.globalEnable = r.Bool()
}
