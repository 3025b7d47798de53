package devicemanager

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"bocloud.com/cloudnative/droidvold/pkg/devicemanager/device"
	"bocloud.com/cloudnative/droidvold/pkg/devicemanager/types"
	"bocloud.com/cloudnative/droidvold/pkg/devicemanager/volume"
	"bocloud.com/cloudnative/droidvold/utils"
	"bocloud.com/cloudnative/droidvold/utils/log"
)

// VolumeManager is the registry of disks and disk sources. One coarse
// mutex serialises every mutation: the uevent reader, each command
// connection and the subprocess waits they trigger all run under it.
type VolumeManager struct {
	mu sync.Mutex

	env     *types.Env
	sources []*types.DiskSource
	disks   []*Disk

	loop *loopMount

	debug    bool
	shutdown bool
}

// New builds a manager around the given environment. The manager installs
// itself as the environment's loop-release hook.
func New(env *types.Env) *VolumeManager {
	vm := &VolumeManager{env: env}
	// Runs from volume unmount paths which already hold the manager lock,
	// so it must not lock again.
	env.LoopRelease = vm.releaseLoopLocked
	return vm
}

// Lock exposes the manager lock so the command layer can make compound
// operations atomic.
func (vm *VolumeManager) Lock() *sync.Mutex {
	return &vm.mu
}

// Env returns the shared environment handle.
func (vm *VolumeManager) Env() *types.Env {
	return vm.env
}

// Start prepares the private device and mount directories. Failure here is
// fatal at startup.
func (vm *VolumeManager) Start() error {
	if err := os.MkdirAll(vm.env.DevDir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", vm.env.DevDir, err)
	}
	if err := os.MkdirAll(vm.env.MountDir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", vm.env.MountDir, err)
	}
	return nil
}

// AddDiskSource registers a configured source before events flow. Callers
// after startup must hold the manager lock.
func (vm *VolumeManager) AddDiskSource(source *types.DiskSource) {
	vm.sources = append(vm.sources, source)
}

// SetDebug toggles verbose probing. The caller must hold the manager lock.
func (vm *VolumeManager) SetDebug(debug bool) error {
	vm.debug = debug
	vm.env.Debug = debug
	return nil
}

// HandleBlockEvent routes a kernel block uevent to the owning disk. Adds
// for an already-present device are idempotent.
func (vm *VolumeManager) HandleBlockEvent(evt *types.UEvent) {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	if vm.shutdown {
		return
	}
	if evt.Subsystem != "block" {
		return
	}

	if vm.debug {
		log.Debugf("block event %s %s %d:%d", evt.Action, evt.DevPath, evt.Major, evt.Minor)
	}

	switch evt.Action {
	case types.ActionAdd:
		for _, source := range vm.sources {
			if !utils.PatternMatches(source.SysPattern, evt.DevPath) {
				continue
			}
			if vm.findDiskLocked(evt.Major, evt.Minor) != nil {
				log.Debugf("disk %d:%d already present, ignoring duplicate add", evt.Major, evt.Minor)
				return
			}

			flags := source.Flags
			if device.IsMmcMajor(evt.Major) {
				flags |= types.FlagSd
			} else {
				flags |= types.FlagUsb
			}

			nickname := source.Nickname
			if evt.DevName != "" {
				nickname = evt.DevName
			}

			disk := NewDisk(vm.env, evt.DevPath, evt.Major, evt.Minor, nickname, flags)
			vm.disks = append(vm.disks, disk)
			if err := disk.Create(); err != nil {
				log.Errorf("failed to create %s: %v", disk.Id(), err)
			}
			return
		}

	case types.ActionChange:
		if disk := vm.findDiskLocked(evt.Major, evt.Minor); disk != nil {
			log.Infof("disk %s changed, rescanning", disk.Id())
			if err := disk.ReadMetadata(); err != nil {
				log.Warnf("%s failed to read metadata: %v", disk.Id(), err)
			}
			if err := disk.ReadPartitions(); err != nil {
				log.Warnf("%s failed to read partitions: %v", disk.Id(), err)
			}
		}

	case types.ActionRemove:
		for i, disk := range vm.disks {
			if disk.Major() == evt.Major && disk.Minor() == evt.Minor {
				if err := disk.Destroy(); err != nil {
					log.Warnf("failed to destroy %s: %v", disk.Id(), err)
				}
				vm.disks = append(vm.disks[:i], vm.disks[i+1:]...)
				return
			}
		}
	}
}

// FindVolume resolves a volume id across every disk and the loop slot.
// The caller must hold the manager lock.
func (vm *VolumeManager) FindVolume(id string) *volume.Volume {
	for _, disk := range vm.disks {
		if vol := disk.FindVolume(id); vol != nil {
			return vol
		}
	}
	if vm.loop != nil && vm.loop.vol.Id() == id {
		return vm.loop.vol
	}
	return nil
}

// FindDisk resolves a disk id. The caller must hold the manager lock.
func (vm *VolumeManager) FindDisk(id string) *Disk {
	for _, disk := range vm.disks {
		if disk.Id() == id {
			return disk
		}
	}
	return nil
}

func (vm *VolumeManager) findDiskLocked(major, minor uint32) *Disk {
	for _, disk := range vm.disks {
		if disk.Major() == major && disk.Minor() == minor {
			return disk
		}
	}
	return nil
}

// Disks snapshots the registry for status reporting. The caller must hold
// the manager lock.
func (vm *VolumeManager) Disks() []*Disk {
	out := make([]*Disk, len(vm.disks))
	copy(out, vm.disks)
	return out
}

// Mkdirs prepares an application directory below a mounted volume. Paths
// outside known mount points are refused.
func (vm *VolumeManager) Mkdirs(path string) error {
	clean := filepath.Clean(path)
	if !strings.HasPrefix(clean, vm.env.MountDir+"/") {
		return fmt.Errorf("%s is outside managed mount points: %w", path, types.ErrNotFound)
	}

	mounted := false
	for _, disk := range vm.disks {
		for _, vol := range disk.Volumes() {
			if vol.State() != types.StateMounted {
				continue
			}
			if clean == vol.Path() || strings.HasPrefix(clean, vol.Path()+"/") {
				mounted = true
				break
			}
		}
	}
	if !mounted {
		return fmt.Errorf("%s is not under a mounted volume: %w", path, types.ErrNotFound)
	}

	return utils.PrepareDir(clean, 0700, 1023, 1023)
}

// Reset destroys every disk and clears the registry, for framework
// restarts. Disk sources survive.
func (vm *VolumeManager) Reset() error {
	for _, disk := range vm.disks {
		if err := disk.Destroy(); err != nil {
			log.Warnf("reset failed to destroy %s: %v", disk.Id(), err)
		}
	}
	vm.disks = nil
	return nil
}

// Shutdown resets and refuses any further events.
func (vm *VolumeManager) Shutdown() error {
	if err := vm.Reset(); err != nil {
		return err
	}
	vm.shutdown = true
	return nil
}
