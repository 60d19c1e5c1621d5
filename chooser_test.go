// chooser_test.go - firmware discovery for the no-argument platform-selector
//
// License: GPLv3 or later

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestListFirmwareImagesFiltersByExtensionAndSorts(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"zeta.elf", "alpha.bin", "notes.txt", "beta.nor"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir.elf"), 0o755))

	images := listFirmwareImages(dir)
	require.Len(t, images, 3)
	require.Equal(t, filepath.Join(dir, "alpha.bin"), images[0])
	require.Equal(t, filepath.Join(dir, "beta.nor"), images[1])
	require.Equal(t, filepath.Join(dir, "zeta.elf"), images[2])
}

func TestListFirmwareImagesEmptyForMissingDir(t *testing.T) {
	require.Nil(t, listFirmwareImages(filepath.Join(t.TempDir(), "does-not-exist")))
}

func TestDiscoverSaveDirFallsBackWhenNeitherExists(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	tmp := t.TempDir()
	require.NoError(t, os.Chdir(tmp))
	defer os.Chdir(wd)

	require.Equal(t, "./roms", discoverSaveDir())
}

func TestDiscoverSaveDirPrefersLocalRoms(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	tmp := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(tmp, "roms"), 0o755))
	require.NoError(t, os.Chdir(tmp))
	defer os.Chdir(wd)

	require.Equal(t, "./roms", discoverSaveDir())
}

func TestRunChooserErrorsWhenDirectoryHasNoImages(t *testing.T) {
	_, err := RunChooser(t.TempDir())
	require.Error(t, err)
}
