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

// Package volume implements the state machine of a single mountable
// entity. A Volume is a common record plus a per-kind variant; only the
// public kind exists today.
package volume

import (
	"errors"
	"fmt"

	"bocloud.com/cloudnative/droidvold/pkg/devicemanager/types"
	"bocloud.com/cloudnative/droidvold/pkg/response"
	"bocloud.com/cloudnative/droidvold/utils/log"
)

// Volume is one mountable entity below a disk.
type Volume struct {
	env *types.Env

	id      string
	diskId  string
	sysPath string
	devPath string

	volType types.VolumeType
	state   types.VolumeState
	created bool

	fsType  string
	fsUuid  string
	fsLabel string

	rawPath      string
	internalPath string
	path         string

	mountFlags  int
	mountUserId int
	silent      bool

	volumes []*Volume

	public *publicState
}

// publicState is the variant payload of a public volume.
type publicState struct {
	// ownsNode is set for table-derived partitions whose private device
	// node we create and remove.
	ownsNode bool
	major    uint32
	minor    uint32

	fusePid   int
	srMounted bool
}

// NewPublic builds a public volume for a partition device id. The device
// node under the private dev directory belongs to this volume.
func NewPublic(env *types.Env, major, minor uint32) *Volume {
	id := fmt.Sprintf("public:%d,%d", major, minor)
	return &Volume{
		env:         env,
		id:          id,
		devPath:     env.DevDir + "/" + id,
		volType:     types.TypePublic,
		state:       types.StateUnmounted,
		mountUserId: -1,
		public: &publicState{
			ownsNode: true,
			major:    major,
			minor:    minor,
		},
	}
}

// NewPublicPhysical builds a public volume bound to the parent device name
// of a just-physical disk. The kernel owns the device node.
func NewPublicPhysical(env *types.Env, devName string) *Volume {
	return NewPublicDevice(env, devName, blockDir(env)+"/"+devName)
}

// NewPublicDevice builds a public volume over an arbitrary existing device
// node, e.g. a loop device.
func NewPublicDevice(env *types.Env, id, devPath string) *Volume {
	return &Volume{
		env:         env,
		id:          id,
		devPath:     devPath,
		volType:     types.TypePublic,
		state:       types.StateUnmounted,
		mountUserId: -1,
		public:      &publicState{},
	}
}

// blockDir is the parent of the private device directory, /dev/block in
// production.
func blockDir(env *types.Env) string {
	dir := env.DevDir
	for i := len(dir) - 1; i >= 0; i-- {
		if dir[i] == '/' {
			return dir[:i]
		}
	}
	return dir
}

func (v *Volume) Id() string               { return v.id }
func (v *Volume) DiskId() string           { return v.diskId }
func (v *Volume) SysPath() string          { return v.sysPath }
func (v *Volume) DevPath() string          { return v.devPath }
func (v *Volume) Type() types.VolumeType   { return v.volType }
func (v *Volume) State() types.VolumeState { return v.state }
func (v *Volume) FsType() string           { return v.fsType }
func (v *Volume) FsUuid() string           { return v.fsUuid }
func (v *Volume) FsLabel() string          { return v.fsLabel }
func (v *Volume) RawPath() string          { return v.rawPath }
func (v *Volume) Path() string             { return v.path }
func (v *Volume) InternalPath() string     { return v.internalPath }
func (v *Volume) MountFlags() int          { return v.mountFlags }
func (v *Volume) MountUserId() int         { return v.mountUserId }
func (v *Volume) Silent() bool             { return v.silent }
func (v *Volume) Volumes() []*Volume       { return v.volumes }

func (v *Volume) SetDiskId(diskId string)   { v.diskId = diskId }
func (v *Volume) SetSysPath(sysPath string) { v.sysPath = sysPath }
func (v *Volume) SetMountFlags(flags int)   { v.mountFlags = flags }
func (v *Volume) SetMountUserId(userId int) { v.mountUserId = userId }
func (v *Volume) SetSilent(silent bool)     { v.silent = silent }

func (v *Volume) SetPath(path string) {
	v.path = path
	v.notifyEvent(response.VolumePathChanged, path)
}

func (v *Volume) SetInternalPath(path string) {
	v.internalPath = path
	v.notifyEvent(response.VolumeInternalPathChanged, path)
}

// IsSrdiskMounted reports whether optical media is mounted through this
// volume.
func (v *Volume) IsSrdiskMounted() bool {
	return v.public != nil && v.public.srMounted
}

// FindVolume searches this volume's stacked children depth first.
func (v *Volume) FindVolume(id string) *Volume {
	for _, vol := range v.volumes {
		if vol.id == id {
			return vol
		}
		if stacked := vol.FindVolume(id); stacked != nil {
			return stacked
		}
	}
	return nil
}

// Create brings the volume to UNMOUNTED and publishes it. Creating twice
// is an error.
func (v *Volume) Create() error {
	if v.created {
		return fmt.Errorf("%s already created: %w", v.id, types.ErrBadState)
	}
	v.created = true

	if v.public.ownsNode {
		if err := v.env.Nodes.CreateDeviceNode(v.devPath, v.public.major, v.public.minor); err != nil {
			log.Errorf("%s failed to create device node %s: %v", v.id, v.devPath, err)
			v.created = false
			return err
		}
	}

	v.state = types.StateUnmounted
	v.notifyEvent(response.VolumeCreated,
		fmt.Sprintf("%d %s", int(v.volType), v.diskId))
	return nil
}

// Destroy tears the volume down from any state, unmounting first when
// needed, and removes an owned device node.
func (v *Volume) Destroy() error {
	if !v.created {
		return fmt.Errorf("%s not created: %w", v.id, types.ErrBadState)
	}

	if v.state == types.StateMounted {
		if err := v.Unmount(); err != nil {
			log.Warnf("%s failed to unmount before destroy: %v", v.id, err)
		}
	}

	for _, vol := range v.volumes {
		if err := vol.Destroy(); err != nil {
			log.Warnf("%s failed to destroy stacked volume %s: %v", v.id, vol.id, err)
		}
	}
	v.volumes = nil

	v.setState(types.StateRemoved)
	v.notifyEvent(response.VolumeDestroyed, "")

	if v.public.ownsNode {
		if err := v.env.Nodes.DestroyDeviceNode(v.devPath); err != nil {
			log.Warnf("%s failed to destroy device node %s: %v", v.id, v.devPath, err)
		}
	}

	v.created = false
	return nil
}

// Mount drives UNMOUNTED → CHECKING → MOUNTED. On failure the state rolls
// back to UNMOUNTED, or parks at UNMOUNTABLE when the filesystem is not
// one we can ever mount.
func (v *Volume) Mount() error {
	if v.state != types.StateUnmounted {
		log.Warnf("%s mount requires state unmounted, have %s", v.id, v.state)
		return types.ErrBadState
	}

	v.setState(types.StateChecking)

	err := v.doMount()
	if err == nil {
		v.setState(types.StateMounted)
		return nil
	}

	v.rawPath = ""
	v.internalPath = ""
	v.path = ""

	if isUnsupported(err) {
		v.setState(types.StateUnmountable)
	} else {
		// Transient or already-mounted failure; the device node stays so
		// a retry is possible.
		v.setState(types.StateUnmounted)
	}
	return err
}

// Unmount drives MOUNTED → EJECTING → UNMOUNTED.
func (v *Volume) Unmount() error {
	if v.state != types.StateMounted {
		log.Warnf("%s unmount requires state mounted, have %s", v.id, v.state)
		return types.ErrBadState
	}

	v.setState(types.StateEjecting)
	err := v.doUnmount()
	v.setState(types.StateUnmounted)
	return err
}

// Format rebuilds the filesystem; only "vfat" and "auto" are accepted.
func (v *Volume) Format(fsType string) error {
	if v.state != types.StateUnmounted && v.state != types.StateUnmountable {
		log.Warnf("%s format requires state unmounted or unmountable, have %s", v.id, v.state)
		return types.ErrBadState
	}

	before := v.state
	v.setState(types.StateFormatting)

	err := v.doFormat(fsType)
	switch {
	case err == nil:
		v.setState(types.StateUnmounted)
	case isUnsupported(err):
		v.setState(before)
	default:
		v.setState(types.StateUnmountable)
	}
	return err
}

func (v *Volume) setState(state types.VolumeState) {
	v.state = state
	v.notifyEvent(response.VolumeStateChanged, fmt.Sprintf("%d", int(state)))
}

// notifyEvent broadcasts "<id> [value]" unless the volume is silent.
func (v *Volume) notifyEvent(code int, value string) {
	if v.silent {
		return
	}
	payload := v.id
	if value != "" {
		payload = v.id + " " + value
	}
	v.env.Broadcast(code, payload)
}

func isUnsupported(err error) bool {
	return errors.Is(err, types.ErrUnsupported)
}
