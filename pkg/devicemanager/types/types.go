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

package types

import (
	"errors"
	"fmt"
)

// UEvent is a parsed kernel hot-plug notification. Only block subsystem
// events reach the device manager.
type UEvent struct {
	Action    string
	Subsystem string
	DevPath   string
	DevName   string
	DevType   string
	Major     uint32
	Minor     uint32
	PartN     int
}

const (
	ActionAdd    = "add"
	ActionRemove = "remove"
	ActionChange = "change"
)

// Disk source flags, bit-compatible with the platform framework.
const (
	FlagAdoptable      = 1 << 0
	FlagDefaultPrimary = 1 << 1
	FlagSd             = 1 << 2
	FlagUsb            = 1 << 3
	FlagEmmc           = 1 << 4
)

// Volume mount flags.
const (
	MountFlagPrimary = 1 << 0
	MountFlagVisible = 1 << 1
)

// DiskSource declares which hot-plug additions become managed disks.
// Immutable after configuration load.
type DiskSource struct {
	SysPattern string
	Nickname   string
	Flags      int
}

// VolumeState is the lifecycle state of a single mountable entity.
type VolumeState int

const (
	StateUnmounted VolumeState = iota
	StateChecking
	StateMounted
	StateMountedReadOnly
	StateFormatting
	StateEjecting
	StateUnmountable
	StateRemoved
	StateBadRemoval
)

func (s VolumeState) String() string {
	switch s {
	case StateUnmounted:
		return "unmounted"
	case StateChecking:
		return "checking"
	case StateMounted:
		return "mounted"
	case StateMountedReadOnly:
		return "mounted_ro"
	case StateFormatting:
		return "formatting"
	case StateEjecting:
		return "ejecting"
	case StateUnmountable:
		return "unmountable"
	case StateRemoved:
		return "removed"
	case StateBadRemoval:
		return "bad_removal"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// VolumeType distinguishes volume variants. Only public volumes are
// implemented today.
type VolumeType int

const (
	TypePublic VolumeType = iota
	TypePrivate
	TypeEmulated
	TypeAsec
	TypeObb
)

// Broadcaster fans out coded events with an "id [value]" payload to the
// upstream framework connection(s).
type Broadcaster interface {
	Broadcast(code int, payload string)
}

// NopBroadcaster drops every event. Used before the socket layer is up and
// by tests that only care about state.
type NopBroadcaster struct{}

func (NopBroadcaster) Broadcast(code int, payload string) {}

// NodeOps abstracts device-node maintenance so tests can run without
// mknod privileges.
type NodeOps interface {
	CreateDeviceNode(path string, major, minor uint32) error
	DestroyDeviceNode(path string) error
}

// Error kinds of the device manager. The command layer maps these to
// response codes, see pkg/server.
var (
	ErrUnsupported    = errors.New("unsupported device or filesystem")
	ErrAlreadyMounted = errors.New("mount point already in use")
	ErrBusy           = errors.New("resource busy")
	ErrNotFound       = errors.New("no such volume")
	ErrBadState       = errors.New("operation not allowed in current state")
)
