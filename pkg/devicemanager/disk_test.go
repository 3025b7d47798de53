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

package devicemanager

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bocloud.com/cloudnative/droidvold/pkg/devicemanager/types"
	"bocloud.com/cloudnative/droidvold/pkg/response"
)

func newTestDisk(t *testing.T, fx *fixtureExecutor) (*Disk, *recorder, *types.Env) {
	t.Helper()
	env, rec, _ := newTestEnv(t, fx)
	disk := NewDisk(env, testEventPath, 8, 16, "usb", types.FlagUsb)
	return disk, rec, env
}

func TestDiskCreateBroadcastOrder(t *testing.T) {
	fx := &fixtureExecutor{outputs: map[string]string{
		"sgdisk": "DISK mbr\nPART 1 c\n",
	}}
	disk, rec, _ := newTestDisk(t, fx)

	require.NoError(t, disk.Create())

	codes := rec.codes()
	require.Len(t, codes, 6)
	assert.Equal(t, []int{
		response.DiskCreated,
		response.DiskSizeChanged,
		response.DiskLabelChanged,
		response.DiskSysPathChanged,
		response.VolumeCreated,
		response.DiskScanned,
	}, codes)

	assert.Equal(t, "disk:8,16 "+disk.SysPath(), rec.events[3].payload)
	assert.Equal(t, "SanDisk", disk.Label())
}

func TestDiskGptVendorPartitionSkipped(t *testing.T) {
	fx := &fixtureExecutor{outputs: map[string]string{
		"sgdisk": "DISK gpt\n" +
			"PART 1 EBD0A0A2-B9E5-4433-87C0-68B6B72699C7 0FC63DAF-8483-4772-8E79-3D69D8477DE4\n" +
			"PART 2 19A710A2-B3CA-11E4-B026-10604B889DCF 12345678-0000-0000-0000-000000000000\n",
	}}
	disk, rec, _ := newTestDisk(t, fx)

	require.NoError(t, disk.Create())

	require.Len(t, disk.Volumes(), 1)
	assert.Equal(t, "public:8,17", disk.Volumes()[0].Id())
	assert.Equal(t, 1, rec.count(response.VolumeCreated))
}

func TestDiskGptGuidCaseInsensitive(t *testing.T) {
	fx := &fixtureExecutor{outputs: map[string]string{
		"sgdisk": "DISK gpt\nPART 1 ebd0a0a2-b9e5-4433-87c0-68b6b72699c7 x\n",
	}}
	disk, _, _ := newTestDisk(t, fx)

	require.NoError(t, disk.Create())
	assert.Len(t, disk.Volumes(), 1)
}

func TestDiskUnknownTableFallback(t *testing.T) {
	fx := &fixtureExecutor{outputs: map[string]string{
		"sgdisk": "garbage\n",
		"blkid":  "TYPE=ext4\nUUID=0000-1111\n",
	}}
	disk, _, _ := newTestDisk(t, fx)

	require.NoError(t, disk.Create())

	// Whole-disk volume bound to the disk's own device id.
	require.Len(t, disk.Volumes(), 1)
	assert.Equal(t, "public:8,16", disk.Volumes()[0].Id())
}

func TestDiskUnknownTableNoFilesystemGivesUp(t *testing.T) {
	fx := &fixtureExecutor{outputs: map[string]string{
		"sgdisk": "garbage\n",
		"blkid":  "",
	}}
	disk, rec, _ := newTestDisk(t, fx)

	require.NoError(t, disk.Create())
	assert.Empty(t, disk.Volumes())
	assert.Equal(t, 1, rec.count(response.DiskScanned))
}

func TestDiskJustPhysicalDevice(t *testing.T) {
	fx := &fixtureExecutor{outputs: map[string]string{
		"sgdisk": "DISK mbr\nPART 1 c\nPART 2 c\n",
	}}
	disk, _, env := newTestDisk(t, fx)

	// No partition subdirectories below the device: physical-only.
	require.NoError(t, os.RemoveAll(filepath.Join(env.SysDir, testEventPath, "sdb1")))

	require.NoError(t, disk.Create())

	// The first physical-device match terminates the scan.
	require.Len(t, disk.Volumes(), 1)
	assert.Equal(t, "sdb", disk.Volumes()[0].Id())
}

func TestDiskIgnoresPartitionBeyondMaxMinors(t *testing.T) {
	fx := &fixtureExecutor{outputs: map[string]string{
		"sgdisk": "DISK mbr\nPART 1 c\nPART 32 c\n",
	}}
	disk, _, _ := newTestDisk(t, fx)

	require.NoError(t, disk.Create())
	require.Len(t, disk.Volumes(), 1)
	assert.Equal(t, "public:8,17", disk.Volumes()[0].Id())
}

func TestDiskJustPartitionedSilentFormat(t *testing.T) {
	fx := &fixtureExecutor{outputs: map[string]string{
		"sgdisk": "DISK mbr\nPART 1 c\n",
	}}
	disk, rec, _ := newTestDisk(t, fx)
	disk.SetJustPartitioned(true)

	require.NoError(t, disk.Create())

	// The silent create/format/destroy pass emits nothing; only the
	// second, visible create broadcasts.
	assert.Equal(t, 1, rec.count(response.VolumeCreated))
	assert.Equal(t, 0, rec.count(response.VolumeDestroyed))

	var sawNewfs bool
	for _, call := range fx.calls {
		if filepath.Base(call[0]) == "newfs_msdos" {
			sawNewfs = true
		}
	}
	assert.True(t, sawNewfs)

	// The flag clears after the scan.
	rec.events = nil
	fx.calls = nil
	require.NoError(t, disk.ReadPartitions())
	for _, call := range fx.calls {
		assert.NotEqual(t, "newfs_msdos", filepath.Base(call[0]))
	}
}

func TestDiskDestroyOrder(t *testing.T) {
	fx := &fixtureExecutor{outputs: map[string]string{
		"sgdisk": "DISK mbr\nPART 1 c\n",
	}}
	disk, rec, _ := newTestDisk(t, fx)
	require.NoError(t, disk.Create())

	rec.events = nil
	require.NoError(t, disk.Destroy())

	var sawVolumeDestroyed, sawDiskDestroyed bool
	for _, e := range rec.events {
		switch e.code {
		case response.VolumeDestroyed:
			assert.False(t, sawDiskDestroyed, "VolumeDestroyed must precede DiskDestroyed")
			sawVolumeDestroyed = true
		case response.DiskDestroyed:
			sawDiskDestroyed = true
		}
	}
	assert.True(t, sawVolumeDestroyed)
	assert.True(t, sawDiskDestroyed)
	assert.False(t, disk.Created())

	assert.ErrorIs(t, disk.Destroy(), types.ErrBadState)
}

func TestSrdiskSkipsProbeAndScan(t *testing.T) {
	fx := &fixtureExecutor{outputs: map[string]string{}}
	env, rec, _ := newTestEnv(t, fx)
	disk := NewDisk(env, testEventPath, 11, 0, "sr0", 0)

	require.NoError(t, disk.Create())

	assert.True(t, disk.IsOpticalLike())
	assert.Equal(t, []int{response.DiskCreated}, rec.codes())
	assert.Empty(t, disk.Volumes())
	assert.Empty(t, fx.calls)

	// Media shows up later through an explicit scan.
	require.NoError(t, disk.ReadPartitions())
	require.Len(t, disk.Volumes(), 1)
	assert.Equal(t, "public:11,0", disk.Volumes()[0].Id())
	assert.False(t, disk.IsSrdiskMounted())
}
