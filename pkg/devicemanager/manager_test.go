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
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/mount-utils"

	"bocloud.com/cloudnative/droidvold/pkg/devicemanager/types"
	"bocloud.com/cloudnative/droidvold/pkg/response"
)

// fixtureExecutor returns canned output per helper binary.
type fixtureExecutor struct {
	outputs map[string]string
	errs    map[string]error
	calls   [][]string
}

func (f *fixtureExecutor) record(command string, arg []string) {
	f.calls = append(f.calls, append([]string{command}, arg...))
}

func (f *fixtureExecutor) result(command string) (string, error) {
	name := filepath.Base(command)
	return f.outputs[name], f.errs[name]
}

func (f *fixtureExecutor) ExecuteCommand(command string, arg ...string) error {
	f.record(command, arg)
	_, err := f.result(command)
	return err
}

func (f *fixtureExecutor) ExecuteCommandWithEnv(env []string, command string, arg ...string) error {
	f.record(command, arg)
	_, err := f.result(command)
	return err
}

func (f *fixtureExecutor) ExecuteCommandWithOutput(command string, arg ...string) (string, error) {
	f.record(command, arg)
	return f.result(command)
}

func (f *fixtureExecutor) ExecuteCommandWithCombinedOutput(command string, arg ...string) (string, error) {
	f.record(command, arg)
	return f.result(command)
}

func (f *fixtureExecutor) ExecuteCommandWithTimeout(timeout time.Duration, command string, arg ...string) (string, error) {
	f.record(command, arg)
	return f.result(command)
}

type event struct {
	code    int
	payload string
}

type recorder struct {
	events []event
}

func (r *recorder) Broadcast(code int, payload string) {
	r.events = append(r.events, event{code, payload})
}

func (r *recorder) codes() []int {
	out := make([]int, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.code)
	}
	return out
}

func (r *recorder) count(code int) int {
	n := 0
	for _, e := range r.events {
		if e.code == code {
			n++
		}
	}
	return n
}

type fakeNodes struct{}

func (fakeNodes) CreateDeviceNode(path string, major, minor uint32) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d:%d", major, minor)), 0600)
}

func (fakeNodes) DestroyDeviceNode(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

const testEventPath = "devices/platform/usb/block/sdb"

func newTestEnv(t *testing.T, fx *fixtureExecutor) (*types.Env, *recorder, *mount.FakeMounter) {
	t.Helper()

	rec := &recorder{}
	mounter := mount.NewFakeMounter(nil)
	env := types.NewEnv(fx, mounter, rec, fakeNodes{})

	base := t.TempDir()
	env.DevDir = filepath.Join(base, "dev/block/droidvold")
	env.MountDir = filepath.Join(base, "mnt/media_rw")
	env.SysDir = filepath.Join(base, "sys")
	require.NoError(t, os.MkdirAll(env.DevDir, 0755))
	require.NoError(t, os.MkdirAll(env.MountDir, 0755))

	// sysfs tree for an USB stick with one partition node.
	sysPath := filepath.Join(env.SysDir, testEventPath)
	require.NoError(t, os.MkdirAll(filepath.Join(sysPath, "sdb1"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(sysPath, "device"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(sysPath, "device/vendor"), []byte("SanDisk\n"), 0644))

	return env, rec, mounter
}

func addEvent() *types.UEvent {
	return &types.UEvent{
		Action:    types.ActionAdd,
		Subsystem: "block",
		DevPath:   testEventPath,
		DevName:   "sdb",
		DevType:   "disk",
		Major:     8,
		Minor:     16,
		PartN:     -1,
	}
}

func removeEvent() *types.UEvent {
	evt := addEvent()
	evt.Action = types.ActionRemove
	return evt
}

func newTestManager(t *testing.T, fx *fixtureExecutor) (*VolumeManager, *recorder) {
	t.Helper()
	env, rec, _ := newTestEnv(t, fx)
	vm := New(env)
	vm.AddDiskSource(&types.DiskSource{
		SysPattern: "devices/platform/*",
		Nickname:   "usb",
	})
	return vm, rec
}

func TestHandleBlockEventAddRemove(t *testing.T) {
	fx := &fixtureExecutor{outputs: map[string]string{
		"sgdisk": "DISK mbr\nPART 1 c\n",
		"blkid":  "TYPE=vfat\nUUID=1234-ABCD\nLABEL=STICK\n",
	}}
	vm, rec := newTestManager(t, fx)

	vm.HandleBlockEvent(addEvent())

	require.Len(t, vm.Disks(), 1)
	disk := vm.Disks()[0]
	assert.Equal(t, "disk:8,16", disk.Id())
	assert.True(t, disk.Created())
	assert.FileExists(t, disk.DevPath())
	require.Len(t, disk.Volumes(), 1)
	assert.Equal(t, "public:8,17", disk.Volumes()[0].Id())

	// Duplicate add is idempotent.
	vm.HandleBlockEvent(addEvent())
	assert.Len(t, vm.Disks(), 1)
	assert.Equal(t, 1, rec.count(response.DiskCreated))

	devPath := disk.DevPath()
	volPath := disk.Volumes()[0].DevPath()

	vm.HandleBlockEvent(removeEvent())
	assert.Empty(t, vm.Disks())
	assert.Equal(t, 1, rec.count(response.DiskDestroyed))
	assert.Equal(t, 1, rec.count(response.VolumeDestroyed))
	assert.NoFileExists(t, devPath)
	assert.NoFileExists(t, volPath)
}

func TestHandleBlockEventNoSourceMatch(t *testing.T) {
	fx := &fixtureExecutor{outputs: map[string]string{}}
	env, rec, _ := newTestEnv(t, fx)
	vm := New(env)
	vm.AddDiskSource(&types.DiskSource{SysPattern: "devices/pci*", Nickname: "pci"})

	vm.HandleBlockEvent(addEvent())
	assert.Empty(t, vm.Disks())
	assert.Empty(t, rec.events)
}

func TestFindVolume(t *testing.T) {
	fx := &fixtureExecutor{outputs: map[string]string{
		"sgdisk": "DISK mbr\nPART 1 c\n",
	}}
	vm, _ := newTestManager(t, fx)
	vm.HandleBlockEvent(addEvent())

	assert.NotNil(t, vm.FindVolume("public:8,17"))
	assert.Nil(t, vm.FindVolume("public:8,99"))
	assert.NotNil(t, vm.FindDisk("disk:8,16"))
}

func TestResetDestroysEverything(t *testing.T) {
	fx := &fixtureExecutor{outputs: map[string]string{
		"sgdisk": "DISK mbr\nPART 1 c\n",
	}}
	vm, rec := newTestManager(t, fx)
	vm.HandleBlockEvent(addEvent())
	require.Len(t, vm.Disks(), 1)

	require.NoError(t, vm.Reset())
	assert.Empty(t, vm.Disks())
	assert.Equal(t, 1, rec.count(response.DiskDestroyed))

	// Sources survive a reset.
	vm.HandleBlockEvent(addEvent())
	assert.Len(t, vm.Disks(), 1)
}

func TestShutdownRefusesEvents(t *testing.T) {
	fx := &fixtureExecutor{outputs: map[string]string{
		"sgdisk": "DISK mbr\nPART 1 c\n",
	}}
	vm, _ := newTestManager(t, fx)

	require.NoError(t, vm.Shutdown())
	vm.HandleBlockEvent(addEvent())
	assert.Empty(t, vm.Disks())
}

func TestMkdirs(t *testing.T) {
	fx := &fixtureExecutor{outputs: map[string]string{
		"sgdisk": "DISK mbr\nPART 1 c\n",
		"blkid":  "TYPE=vfat\nUUID=1234-ABCD\nLABEL=STICK\n",
	}}
	vm, _ := newTestManager(t, fx)
	vm.HandleBlockEvent(addEvent())

	vol := vm.FindVolume("public:8,17")
	require.NotNil(t, vol)

	// Not mounted yet: refused.
	err := vm.Mkdirs(filepath.Join(vm.Env().MountDir, "1234-ABCD/Android"))
	assert.Error(t, err)

	require.NoError(t, vol.Mount())

	target := filepath.Join(vol.Path(), "Android/data")
	require.NoError(t, vm.Mkdirs(target))
	assert.DirExists(t, target)

	// Outside the managed mount roots: refused.
	assert.Error(t, vm.Mkdirs("/tmp/elsewhere"))
}
