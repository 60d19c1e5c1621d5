// file_io_test.go - ELF/NOR image loading for component C14's load half
//
// License: GPLv3 or later

package main

import (
	"encoding/binary"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildMinimalELF assembles the smallest little-endian 32-bit ELF image
// LoadELF accepts: a header, one PT_LOAD program header, and the raw body
// bytes it describes. No section headers, so symbol scanning finds nothing.
func buildMinimalELF(entry, vaddr uint32, body []byte) []byte {
	const ehsize = 52
	const phentsize = 32
	buf := make([]byte, ehsize+phentsize+len(body))

	copy(buf[0:8], elfMagic[:])
	binary.LittleEndian.PutUint32(buf[0x18:], entry)
	binary.LittleEndian.PutUint32(buf[0x1C:], ehsize) // phoff
	binary.LittleEndian.PutUint16(buf[0x2A:], phentsize)
	binary.LittleEndian.PutUint16(buf[0x2C:], 1) // phnum
	binary.LittleEndian.PutUint16(buf[0x2E:], 0) // shentsize
	binary.LittleEndian.PutUint16(buf[0x30:], 0) // shnum

	ph := buf[ehsize:]
	binary.LittleEndian.PutUint32(ph[0:], elfProgramTypeLoad)
	binary.LittleEndian.PutUint32(ph[4:], ehsize+phentsize) // p_offset
	binary.LittleEndian.PutUint32(ph[8:], vaddr)             // p_vaddr
	binary.LittleEndian.PutUint32(ph[16:], uint32(len(body)))
	binary.LittleEndian.PutUint32(ph[20:], uint32(len(body))+16) // p_memsz, extra for zero-fill check

	copy(buf[ehsize+phentsize:], body)
	return buf
}

func TestLoadELFCopiesSegmentAndZeroFills(t *testing.T) {
	log := slog.New(slog.DiscardHandler)
	bus := NewBus(log)

	body := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	vaddr := uint32(ramBase)
	img := buildMinimalELF(0x1234, vaddr, body)

	path := filepath.Join(t.TempDir(), "fw.elf")
	require.NoError(t, os.WriteFile(path, img, 0o644))

	entry, symbols, err := LoadELF(path, bus)
	require.NoError(t, err)
	require.Equal(t, uint32(0x1234), entry)
	require.NotNil(t, symbols)
	require.Empty(t, symbols.ByName)

	require.Equal(t, byte(0xAA), bus.Read8(vaddr))
	require.Equal(t, byte(0xDD), bus.Read8(vaddr+3))
	require.Equal(t, byte(0), bus.Read8(vaddr+4)) // zero-filled tail from memsz
}

func TestLoadELFRejectsBadMagic(t *testing.T) {
	log := slog.New(slog.DiscardHandler)
	bus := NewBus(log)

	path := filepath.Join(t.TempDir(), "bad.elf")
	require.NoError(t, os.WriteFile(path, make([]byte, 64), 0o644))

	_, _, err := LoadELF(path, bus)
	require.Error(t, err)
}

func buildNORImage(load, stack, entry uint32, body []byte) []byte {
	buf := make([]byte, norHeaderSize+len(body))
	binary.LittleEndian.PutUint32(buf[norHeaderLoad:], load)
	binary.LittleEndian.PutUint32(buf[norHeaderStack:], stack)
	binary.LittleEndian.PutUint32(buf[norHeaderEntry:], entry)
	copy(buf[norHeaderSize:], body)
	return buf
}

func TestLoadNORCopiesBodyToLoadAddress(t *testing.T) {
	log := slog.New(slog.DiscardHandler)
	bus := NewBus(log)

	load := uint32(ramBase) + 0x1000
	body := []byte{0x11, 0x22, 0x33}
	img := buildNORImage(load, 0xA0100000, load, body)

	path := filepath.Join(t.TempDir(), "fw.nor")
	require.NoError(t, os.WriteFile(path, img, 0o644))

	entry, stack, err := LoadNOR(path, bus)
	require.NoError(t, err)
	require.Equal(t, load, entry)
	require.Equal(t, uint32(0xA0100000), stack)
	require.Equal(t, byte(0x11), bus.Read8(load))
	require.Equal(t, byte(0x33), bus.Read8(load+2))
}

func TestLoadNORRejectsOutOfWindowLoadAddress(t *testing.T) {
	log := slog.New(slog.DiscardHandler)
	bus := NewBus(log)

	img := buildNORImage(0xDEADBEEF, 0, 0xDEADBEEF, []byte{0x01})
	path := filepath.Join(t.TempDir(), "bad.nor")
	require.NoError(t, os.WriteFile(path, img, 0o644))

	_, _, err := LoadNOR(path, bus)
	require.Error(t, err)
}

func TestLoadNORRejectsShortHeader(t *testing.T) {
	log := slog.New(slog.DiscardHandler)
	bus := NewBus(log)

	path := filepath.Join(t.TempDir(), "short.nor")
	require.NoError(t, os.WriteFile(path, make([]byte, 8), 0o644))

	_, _, err := LoadNOR(path, bus)
	require.Error(t, err)
}
