// chooser.go - no-argument platform-selector menu
//
// Additive scaffolding around the firmware loader (spec.md §6 names this
// surface but leaves its presentation unspecified): a raw-mode terminal
// list, built the way a CLI tool with no GUI frontend would, feeding the
// chosen path back into the same LoadFirmware path explicit arguments use.
//
// License: GPLv3 or later

package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/term"
)

var firmwareExtensions = map[string]bool{
	".elf": true,
	".bin": true,
	".nor": true,
}

// discoverSaveDir implements spec.md §6's "auto-discovered among {./roms,
// ../roms}" rule.
func discoverSaveDir() string {
	for _, dir := range []string{"./roms", "../roms"} {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}
	return "./roms"
}

func listFirmwareImages(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var images []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if firmwareExtensions[filepath.Ext(e.Name())] {
			images = append(images, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(images)
	return images
}

// RunChooser presents the known firmware images in dir and returns the
// selected path, or an error if none are available or the terminal can't
// be put into raw mode.
func RunChooser(dir string) (string, error) {
	images := listFirmwareImages(dir)
	if len(images) == 0 {
		return "", fmt.Errorf("chooser: no firmware images found in %s", dir)
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		// Non-interactive environment (CI, piped input): fall back to the
		// first discovered image rather than blocking on a menu.
		return images[0], nil
	}

	fmt.Println("Select a firmware image:")
	for i, img := range images {
		fmt.Printf("  %d) %s\n", i+1, filepath.Base(img))
	}
	fmt.Print("> ")

	state, err := term.MakeRaw(fd)
	if err != nil {
		return "", fmt.Errorf("chooser: enable raw mode: %w", err)
	}
	defer term.Restore(fd, state)

	reader := bufio.NewReader(os.Stdin)
	for {
		b, err := reader.ReadByte()
		if err != nil {
			return "", fmt.Errorf("chooser: read selection: %w", err)
		}
		if b < '1' || b > '9' {
			continue
		}
		idx := int(b - '1')
		if idx < len(images) {
			fmt.Printf("\r\n")
			return images[idx], nil
		}
	}
}
