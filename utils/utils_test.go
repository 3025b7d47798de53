/*
   Copyright @ 2021 bocloud <fushaosong@beyondcent.com>.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContainsString(t *testing.T) {
	table := []struct {
		slice  []string
		s      string
		result bool
	}{
		{[]string{"a", "b", "c"}, "b", true},
		{[]string{"a", "b", "c"}, "d", false},
	}

	for _, e := range table {
		if ContainsString(e.slice, e.s) != e.result {
			t.Errorf("ContainsString(%v, %s)", e.slice, e.s)
		}
	}
}

func TestPatternMatches(t *testing.T) {
	table := []struct {
		pattern string
		path    string
		result  bool
	}{
		// '*' crosses path separators, fnmatch without FNM_PATHNAME.
		{"/devices/platform/*ehci*", "/devices/platform/soc/ehci-usb.0/usb1/block/sdb", true},
		{"/devices/platform/*", "/devices/platform/sdhci/mmc_host/mmc0", true},
		{"/devices/pci*", "/devices/platform/sdhci", false},
		{"/devices/platform/sdhci?", "/devices/platform/sdhci0", true},
		{"/devices/platform/sdhci?", "/devices/platform/sdhci", false},
		{"", "", true},
		{"/a/b", "/a/b", true},
		{"/a/b", "/a/bc", false},
	}

	for _, e := range table {
		assert.Equal(t, e.result, PatternMatches(e.pattern, e.path), "%s vs %s", e.pattern, e.path)
	}
}

func TestPrepareDir(t *testing.T) {
	base := t.TempDir()
	target := filepath.Join(base, "mnt/media_rw/XYZ")

	require.NoError(t, PrepareDir(target, 0700, os.Getuid(), os.Getgid()))

	info, err := os.Stat(target)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, os.FileMode(0700), info.Mode().Perm())

	// Idempotent on an existing directory.
	require.NoError(t, PrepareDir(target, 0700, os.Getuid(), os.Getgid()))
}

func TestReadFileToString(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vendor")
	require.NoError(t, os.WriteFile(path, []byte("  SanDisk \n"), 0644))

	out, err := ReadFileToString(path)
	require.NoError(t, err)
	assert.Equal(t, "SanDisk", out)

	_, err = ReadFileToString(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestWipeBlockDevice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blockfile")
	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = 0xaa
	}
	require.NoError(t, os.WriteFile(path, payload, 0600))

	require.NoError(t, WipeBlockDevice(path))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, len(payload)), got[:len(payload)])
}

func TestWipeBlockDeviceMissing(t *testing.T) {
	assert.Error(t, WipeBlockDevice(filepath.Join(t.TempDir(), "missing")))
}
