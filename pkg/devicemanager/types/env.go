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
	"k8s.io/mount-utils"

	"bocloud.com/cloudnative/droidvold/utils/exec"
)

// Default path roots. Tests override them through Env.
const (
	DefaultDevDir   = "/dev/block/droidvold"
	DefaultMountDir = "/mnt/media_rw"
	DefaultSysDir   = "/sys"
)

// SELinux contexts handed to helper subprocesses, set once at startup from
// command line flags.
type SecurityContexts struct {
	Blkid          string
	BlkidUntrusted string
	Fsck           string
	FsckUntrusted  string
}

// Env bundles the collaborators and path roots shared across the disk and
// volume tree. One Env per manager; tests build their own against temp
// directories, fixture executors and a fake mounter.
type Env struct {
	Executor    exec.Executor
	Mounter     mount.Interface
	Broadcaster Broadcaster
	Nodes       NodeOps

	DevDir   string
	MountDir string
	SysDir   string

	Contexts SecurityContexts

	// IsEmulator enables the virtio-blk major heuristic.
	IsEmulator bool

	// VfatDeferred reports whether a pre-existing vfat handler owns vfat
	// mounts; when it does, public volumes poll for the foreign mount
	// instead of mounting themselves.
	VfatDeferred bool

	// LoopRelease detaches the loop slot bound to a stable name, if any.
	// Set by the volume manager; volumes never hold a manager pointer.
	LoopRelease func(stableName string)

	Debug bool
}

// NewEnv returns an Env with production defaults for everything not given.
func NewEnv(executor exec.Executor, mounter mount.Interface, broadcaster Broadcaster, nodes NodeOps) *Env {
	if broadcaster == nil {
		broadcaster = NopBroadcaster{}
	}
	return &Env{
		Executor:    executor,
		Mounter:     mounter,
		Broadcaster: broadcaster,
		Nodes:       nodes,
		DevDir:      DefaultDevDir,
		MountDir:    DefaultMountDir,
		SysDir:      DefaultSysDir,
	}
}

// Broadcast forwards to the broadcaster unless it is nil.
func (e *Env) Broadcast(code int, payload string) {
	if e.Broadcaster != nil {
		e.Broadcaster.Broadcast(code, payload)
	}
}
