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

package device

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bocloud.com/cloudnative/droidvold/pkg/devicemanager/types"
)

func testEnv(t *testing.T) *types.Env {
	t.Helper()
	env := types.NewEnv(nil, nil, nil, nil)
	env.SysDir = t.TempDir()
	return env
}

func writeSys(t *testing.T, env *types.Env, rel, content string) string {
	t.Helper()
	path := filepath.Join(env.SysDir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestReadLabelScsiVendor(t *testing.T) {
	env := testEnv(t)
	sysPath := filepath.Join(env.SysDir, "block/sdb")
	writeSys(t, env, "block/sdb/device/vendor", "SanDisk \n")

	label, err := ReadLabel(env, 8, sysPath)
	require.NoError(t, err)
	assert.Equal(t, "SanDisk", label)
}

func TestReadLabelMmcManfid(t *testing.T) {
	env := testEnv(t)
	sysPath := filepath.Join(env.SysDir, "block/mmcblk0")

	table := []struct {
		manfid string
		label  string
	}{
		{"0x000003", "SanDisk"},
		{"0x00001b", "Samsung"},
		{"0x000028", "Lexar"},
		{"0x000074", "Transcend"},
		{"0x0000ff", ""}, // white-label stays unlabeled, not an error
	}

	for _, e := range table {
		writeSys(t, env, "block/mmcblk0/device/manfid", e.manfid+"\n")
		label, err := ReadLabel(env, 179, sysPath)
		require.NoError(t, err)
		assert.Equal(t, e.label, label, "manfid %s", e.manfid)
	}
}

func TestReadLabelVirtioBlk(t *testing.T) {
	env := testEnv(t)
	env.IsEmulator = true

	label, err := ReadLabel(env, 253, "/nonexistent")
	require.NoError(t, err)
	assert.Equal(t, "Virtual", label)

	// Outside the emulator the experimental range is unsupported.
	env.IsEmulator = false
	_, err = ReadLabel(env, 253, "/nonexistent")
	assert.ErrorIs(t, err, types.ErrUnsupported)
}

func TestReadLabelUnsupportedMajor(t *testing.T) {
	env := testEnv(t)
	_, err := ReadLabel(env, 42, "/nonexistent")
	assert.ErrorIs(t, err, types.ErrUnsupported)
}

func TestMaxMinors(t *testing.T) {
	env := testEnv(t)

	n, err := MaxMinors(env, 8)
	require.NoError(t, err)
	assert.Equal(t, 31, n)

	writeSys(t, env, "module/mmcblk/parameters/perdev_minors", "16\n")
	n, err = MaxMinors(env, 179)
	require.NoError(t, err)
	assert.Equal(t, 16, n)

	env.IsEmulator = true
	n, err = MaxMinors(env, 250)
	require.NoError(t, err)
	assert.Equal(t, 15, n)

	_, err = MaxMinors(env, 42)
	assert.ErrorIs(t, err, types.ErrUnsupported)
}

func TestIsJustPhysicalDevice(t *testing.T) {
	env := testEnv(t)

	sysPath := filepath.Join(env.SysDir, "block/sdb")
	require.NoError(t, os.MkdirAll(filepath.Join(sysPath, "device"), 0755))

	devName, ok := IsJustPhysicalDevice(sysPath)
	assert.True(t, ok)
	assert.Equal(t, "sdb", devName)

	require.NoError(t, os.MkdirAll(filepath.Join(sysPath, "sdb1"), 0755))
	_, ok = IsJustPhysicalDevice(sysPath)
	assert.False(t, ok)
}

func TestResolveLogicalPartition(t *testing.T) {
	env := testEnv(t)
	sysPath := filepath.Join(env.SysDir, "block/sdb")

	writeSys(t, env, "class/block/sdb17/dev", "259:3\n")

	major, minor, ok := ResolveLogicalPartition(env, sysPath, 17)
	require.True(t, ok)
	assert.Equal(t, uint32(259), major)
	assert.Equal(t, uint32(3), minor)

	_, _, ok = ResolveLogicalPartition(env, sysPath, 18)
	assert.False(t, ok)
}

func TestReadSizeMissingDevice(t *testing.T) {
	assert.Equal(t, int64(-1), ReadSize("/nonexistent/device"))
}
