// sdcard.go - SD card model backed by a host image file (component C2)
//
// Grounded directly on _examples/original_source/src/stor/sdcard.cpp: the
// command set, state machine transitions, status bit numbering, and the
// CID/CSD/OCR/SCR register contents are carried over near-literally. The
// file-backed block storage follows file_io.go's plain os.File idiom rather
// than the teacher's in-RAM chip model, since the card's "registers" are a
// disk image, not a peripheral register block.
//
// License: GPLv3 or later

package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

type sdState int

const (
	sdStateIdle sdState = iota
	sdStateReady
	sdStateIdent
	sdStateStdby
	sdStateTrans
	sdStateSend
	sdStateRecv
	sdStateProg
	sdStateDis
	sdStateInactive
)

// Command indices honoured per spec.md §4.10.
const (
	cmdGoIdleState        = 0
	cmdAllSendCID         = 2
	cmdSendRelativeAddr   = 3
	cmdSelectCard         = 7
	cmdSendIfCond         = 8
	cmdSendCSD            = 9
	cmdSendCID            = 10
	cmdStopTransmission   = 12
	cmdSendStatus         = 13
	cmdGoInactiveState    = 15
	cmdSetBlocklen        = 16
	cmdReadSingleBlock    = 17
	cmdReadMultipleBlock  = 18
	cmdWriteSingleBlock   = 24
	cmdWriteMultipleBlock = 25
	cmdEraseWrBlkStart    = 32
	cmdEraseWrBlkEnd      = 33
	cmdErase              = 34
	cmdAppCmd             = 55
	// ACMD-gated (valid only with cardStatusAppCmd set from a prior CMD55)
	acmdSetWidth   = 6
	acmdSendOpCond = 41
	acmdSendSCR    = 51
	acmdSendOCR    = 58
)

const (
	cardStatusReadyForDat  = 8
	cardStatusAppCmd       = 5
	cardStatusEraseReset   = 13
	cardStatusWpEraseSkip  = 15
	cardStatusCsdOverwrite = 16
	cardStatusError        = 19
	cardStatusCCErr        = 20
	cardStatusCardEccFail  = 21
	cardStatusIllegalCmd   = 22
	cardStatusComCRCErr    = 23
	cardStatusCardLocked   = 25
	cardStatusWPViolation  = 26
	cardStatusEraseParam   = 27
	cardStatusEraseSeqErr  = 28
	cardStatusBlockLenErr  = 29
	cardStatusAddressErr   = 30
	cardStatusOutOfRange   = 31
)

const (
	sdDefaultBlockLen = 512
	sdSizeMult        = 512
	sdFileAlignment   = sdDefaultBlockLen * sdSizeMult // 256KiB
	sdMaxSize         = int64(65536) * sdFileAlignment // 16GiB
	sdDefaultStatus   = 0x00000100
)

// SDCard implements component C2: the card side of the protocol, backed by
// a raw disk image file. It is command-driven (Command/ReadResponse) and
// byte-granular for data transfers (Read/Write), matching spec.md §4.10's
// three-interface description.
type SDCard struct {
	img  *os.File
	size int64

	state               sdState
	blockLen            uint32
	rca                 uint16
	offset              int64
	byteCount           uint32
	expectingMultiBlock bool
	eraseBegin          uint32
	eraseEnd            uint32
	readingSCR          bool
	scrByteCount        int

	cardStatus uint32
	respBuf    [4]uint32
	respPtr    int

	csd [4]uint32 // most-significant word first, per the reference layout

	log *slog.Logger
}

var sdCID = [4]uint32{0x42445345, 0x6D753239, 0x10000000, 0x0000F7FF}
var sdSCR = [8]byte{0x00, 0x00, 0xA5, 0x01, 0x00, 0x00, 0x00, 0x00}

const sdOCR = 0xC0FF8000

func sdBaseCSD() [4]uint32 {
	return [4]uint32{0x400E015A, 0x5B99E000, 0x00000000, 0x026000FF}
}

// NewSDCard opens imagePath read-write, padding it to a sdFileAlignment
// boundary with 0xFF bytes if it isn't already aligned (spec.md §6), and
// computes the derived CSD capacity field.
func NewSDCard(imagePath string, log *slog.Logger) (*SDCard, error) {
	f, err := os.OpenFile(imagePath, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	size := st.Size()
	if size == 0 {
		f.Close()
		return nil, fmt.Errorf("sd image %q is empty", imagePath)
	}
	if size > sdMaxSize {
		f.Close()
		return nil, fmt.Errorf("sd image %q exceeds 16GiB maximum", imagePath)
	}
	if size%sdFileAlignment != 0 {
		padding := sdFileAlignment - (size % sdFileAlignment)
		pad := make([]byte, padding)
		for i := range pad {
			pad[i] = 0xFF
		}
		if _, err := f.WriteAt(pad, size); err != nil {
			f.Close()
			return nil, err
		}
		size += padding
	}

	c := &SDCard{img: f, size: size, log: log}
	csd := sdBaseCSD()
	cSize := uint32(((size / (1024 * 512)) - 1) & 0x3FFFFF)
	csd[2] |= (cSize & 0xFFFF) << 16
	csd[1] |= (cSize >> 16) & 0x3F
	c.csd = csd
	c.Reset()
	return c, nil
}

func (c *SDCard) Close() error { return c.img.Close() }

func (c *SDCard) Reset() {
	c.state = sdStateIdle
	c.blockLen = sdDefaultBlockLen
	c.respPtr = 0
	c.byteCount = 0
	c.cardStatus = sdDefaultStatus
	c.expectingMultiBlock = false
	c.eraseBegin = 0
	c.eraseEnd = 0
	c.readingSCR = false
	c.scrByteCount = 0
	c.offset = 0
}

func (c *SDCard) updateCardStatus() {
	c.cardStatus &= 0xFFFF81FF
	c.cardStatus |= uint32(c.state&0x0F) << 9
}

func (c *SDCard) sendR1() {
	c.updateCardStatus()
	c.respPtr = 0
	c.respBuf[0] = c.cardStatus
	c.cardStatus = SetBit(c.cardStatus, cardStatusOutOfRange, false)
}

func (c *SDCard) beginRead(addr uint32) {
	paddr := int64(addr) * 512
	if c.state != sdStateTrans {
		c.cardStatus = SetBit(c.cardStatus, cardStatusIllegalCmd, true)
		return
	}
	if paddr >= c.size {
		c.cardStatus = SetBit(c.cardStatus, cardStatusOutOfRange, true)
		return
	}
	c.offset = paddr
	c.state = sdStateSend
	c.byteCount = 0
}

func (c *SDCard) beginWrite(addr uint32) {
	paddr := int64(addr) * 512
	if c.state != sdStateTrans {
		c.cardStatus = SetBit(c.cardStatus, cardStatusIllegalCmd, true)
		return
	}
	if paddr >= c.size {
		c.cardStatus = SetBit(c.cardStatus, cardStatusOutOfRange, true)
		return
	}
	c.offset = paddr
	c.state = sdStateRecv
	c.byteCount = 0
}

// Command executes one SD/MMC command, per spec.md §4.10's state table.
// A preceding CMD55 is tracked in cardStatus's APP_CMD bit; while it is set
// the next command is interpreted as an ACMD, and the bit is cleared again
// after any command other than another CMD55.
func (c *SDCard) Command(cmd uint8, arg uint32) {
	if c.state == sdStateInactive {
		return
	}
	c.cardStatus = SetBit(c.cardStatus, cardStatusIllegalCmd, false)

	isAddressed := c.state == sdStateStdby || c.state == sdStateTrans ||
		c.state == sdStateSend || c.state == sdStateRecv ||
		c.state == sdStateProg || c.state == sdStateDis

	if BitSet(c.cardStatus, cardStatusAppCmd) {
		switch cmd {
		case acmdSendOpCond, acmdSendOCR:
			c.respPtr = 0
			c.respBuf[0] = sdOCR
			if c.state == sdStateIdle {
				c.state = sdStateReady
			}
		case acmdSendSCR:
			c.readingSCR = true
			c.expectingMultiBlock = false
			c.byteCount = 0
		case cmdSendStatus:
			c.sendR1()
		case cmdAppCmd:
			c.cardStatus = SetBit(c.cardStatus, cardStatusAppCmd, true)
		case acmdSetWidth:
			c.sendR1()
		default:
			c.cardStatus = SetBit(c.cardStatus, cardStatusAppCmd, false)
		}
		if cmd != cmdAppCmd {
			c.cardStatus = SetBit(c.cardStatus, cardStatusAppCmd, false)
		}
		c.updateCardStatus()
		return
	}

	switch cmd {
	case cmdGoIdleState:
		c.Reset()
	case cmdAllSendCID:
		c.respPtr = 0
		c.respBuf = sdCID
		c.state = sdStateIdent
	case cmdSendRelativeAddr:
		c.rca = 0x9001
		if c.state == sdStateIdent {
			c.state = sdStateStdby
		}
		resp := uint32(c.rca) << 16
		resp |= boolBit32(BitSet(c.cardStatus, 23)) << 15
		resp |= boolBit32(BitSet(c.cardStatus, 22)) << 14
		resp |= boolBit32(BitSet(c.cardStatus, 19)) << 13
		resp |= c.cardStatus & 0xFFF
		c.respPtr = 0
		c.respBuf[0] = resp
	case cmdSelectCard:
		if (arg >> 16) == uint32(c.rca) {
			switch c.state {
			case sdStateStdby, sdStateDis:
				c.state = sdStateTrans
			default:
				c.cardStatus = SetBit(c.cardStatus, cardStatusIllegalCmd, true)
			}
			c.sendR1()
		} else {
			switch c.state {
			case sdStateStdby, sdStateTrans, sdStateSend:
				c.state = sdStateStdby
			case sdStateProg:
				c.state = sdStateStdby
			default:
				c.cardStatus = SetBit(c.cardStatus, cardStatusIllegalCmd, true)
			}
		}
	case cmdSendCSD:
		if c.state == sdStateStdby {
			c.respPtr = 0
			c.respBuf = c.csd
		} else {
			c.cardStatus = SetBit(c.cardStatus, cardStatusIllegalCmd, true)
			c.sendR1()
		}
	case cmdSendCID:
		if c.state == sdStateStdby {
			c.respPtr = 0
			c.respBuf = sdCID
		} else {
			c.cardStatus = SetBit(c.cardStatus, cardStatusIllegalCmd, true)
		}
	case cmdStopTransmission:
		if c.state == sdStateSend || c.state == sdStateRecv {
			c.state = sdStateTrans
			c.sendR1()
		} else {
			c.cardStatus = SetBit(c.cardStatus, cardStatusIllegalCmd, true)
		}
	case cmdSendStatus:
		if isAddressed {
			c.sendR1()
		} else {
			c.cardStatus = SetBit(c.cardStatus, cardStatusIllegalCmd, true)
		}
	case cmdGoInactiveState:
		if isAddressed {
			c.state = sdStateInactive
		} else {
			c.cardStatus = SetBit(c.cardStatus, cardStatusIllegalCmd, true)
		}
	case cmdSetBlocklen:
		if c.state == sdStateTrans {
			c.blockLen = arg
		} else {
			c.cardStatus = SetBit(c.cardStatus, cardStatusIllegalCmd, true)
		}
		c.sendR1()
	case cmdReadSingleBlock:
		c.expectingMultiBlock = false
		c.beginRead(arg)
	case cmdReadMultipleBlock:
		c.expectingMultiBlock = true
		c.beginRead(arg)
	case cmdWriteSingleBlock:
		c.expectingMultiBlock = false
		c.beginWrite(arg)
	case cmdWriteMultipleBlock:
		c.expectingMultiBlock = true
		c.beginWrite(arg)
	case cmdEraseWrBlkStart:
		c.eraseBegin = arg * c.blockLen
	case cmdEraseWrBlkEnd:
		c.eraseEnd = arg * c.blockLen
	case cmdErase:
		if c.state == sdStateTrans {
			fill := make([]byte, c.blockLen)
			for i := range fill {
				fill[i] = 0xFF
			}
			for off := c.eraseBegin; off <= c.eraseEnd; off += c.blockLen {
				if int64(off)+int64(c.blockLen) > c.size {
					c.cardStatus = SetBit(c.cardStatus, cardStatusOutOfRange, true)
					break
				}
				c.img.WriteAt(fill, int64(off))
			}
		} else {
			c.cardStatus = SetBit(c.cardStatus, cardStatusIllegalCmd, true)
		}
		c.sendR1()
	case cmdAppCmd:
		c.cardStatus = SetBit(c.cardStatus, cardStatusAppCmd, true)
	case cmdSendIfCond:
		c.respPtr = 0
		c.respBuf[0] = arg
	default:
		c.cardStatus = SetBit(c.cardStatus, cardStatusIllegalCmd, true)
		c.sendR1()
	}

	c.updateCardStatus()
}

func boolBit32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// ReadResponse pops the next response word (R1/R3/R6 use one, R2 uses four).
func (c *SDCard) ReadResponse() uint32 {
	if c.respPtr < 4 {
		v := c.respBuf[c.respPtr]
		c.respPtr++
		return v
	}
	return 0
}

// Write accepts len(buf) bytes of host-issued data while in sdStateRecv,
// committing them to the backing image at the current offset.
func (c *SDCard) Write(buf []byte) (int, error) {
	if c.state != sdStateRecv {
		return 0, io.ErrClosedPipe
	}
	n, err := c.img.WriteAt(buf, c.offset)
	c.byteCount += uint32(n)
	c.offset += int64(n)
	if !c.expectingMultiBlock && c.byteCount >= c.blockLen {
		c.state = sdStateTrans
	}
	return n, err
}

// Read fills buf from the SCR (if mid-ACMD51) or the backing image while in
// sdStateSend.
func (c *SDCard) Read(buf []byte) (int, error) {
	if c.readingSCR {
		n := 0
		for n < len(buf) {
			buf[n] = sdSCR[c.scrByteCount]
			c.scrByteCount++
			n++
			if c.scrByteCount >= len(sdSCR) {
				c.readingSCR = false
				break
			}
		}
		return n, nil
	}
	if c.state != sdStateSend {
		return 0, io.EOF
	}
	n, err := c.img.ReadAt(buf, c.offset)
	c.offset += int64(n)
	c.byteCount += uint32(n)
	if !c.expectingMultiBlock && c.byteCount >= c.blockLen {
		c.state = sdStateTrans
	}
	if err == io.EOF && n == len(buf) {
		err = nil
	}
	return n, err
}

func (c *SDCard) SaveState(w *SaveWriter) {
	w.Tag("SDCD")
	w.U32(uint32(c.offset))
	w.U32(uint32(c.offset >> 32))
	w.U32(uint32(c.state))
	w.U32(c.byteCount)
	w.U32(uint32(c.respPtr))
	w.U32Array(c.respBuf[:])
	w.U32(c.cardStatus)
	w.U32(c.blockLen)
	w.U16(c.rca)
	w.Bool(c.expectingMultiBlock)
	w.U32(c.eraseBegin)
	w.U32(c.eraseEnd)
	w.Bool(c.readingSCR)
	w.U32(uint32(c.scrByteCount))
}

func (c *SDCard) LoadState(r *SaveReader) {
	r.Tag("SDCD")
	lo := r.U32()
	hi := r.U32()
	c.offset = int64(hi)<<32 | int64(lo)
	c.state = sdState(r.U32())
	c.byteCount = r.U32()
	c.respPtr = int(r.U32())
	copy(c.respBuf[:], r.U32Array(4))
	c.cardStatus = r.U32()
	c.blockLen = r.U32()
	c.rca = r.U16()
	c.expectingMultiBlock = r.Bool()
	c.eraseBegin = r.U32()
	c.eraseEnd = r.U32()
	c.readingSCR = r.Bool()
	c.scrByteCount = int(r.U32())
}
