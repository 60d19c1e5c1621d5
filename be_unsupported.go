//go:build !(amd64 || arm64 || 386 || arm || riscv64 || loong64 || mipsle || mips64le || ppc64le || wasm)

package main

// The bus and savestate stream use fixed little-endian byte packing
// (bytes_util.go, savestate.go), which assumes a little-endian host.
var _ = "this emulator requires a little-endian architecture" + 1
