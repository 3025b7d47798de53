package devicemanager

import (
	"fmt"
	"path/filepath"
	"syscall"

	losetup "github.com/freddierice/go-losetup/v2"

	"bocloud.com/cloudnative/droidvold/pkg/devicemanager/types"
	"bocloud.com/cloudnative/droidvold/pkg/devicemanager/volume"
	"bocloud.com/cloudnative/droidvold/utils/log"
)

// loopMount is the single virtual-CDROM slot: a file-backed loop device
// with one synthesized public volume on top.
type loopMount struct {
	hostPath string
	device   losetup.Device
	vol      *volume.Volume
}

// MountLoop attaches hostPath to a free loop device and mounts a
// synthesized public volume over it. At most one loop is active; a second
// request fails with EBUSY. The caller must hold the manager lock.
func (vm *VolumeManager) MountLoop(hostPath string) error {
	if vm.loop != nil {
		log.Warnf("loop slot busy with %s", vm.loop.hostPath)
		return fmt.Errorf("loop slot in use: %w", syscall.EBUSY)
	}

	dev, err := losetup.Attach(hostPath, 0, true)
	if err != nil {
		log.Errorf("failed to attach %s to a loop device: %v", hostPath, err)
		return err
	}

	vol := volume.NewPublicDevice(vm.env, filepath.Base(dev.Path()), dev.Path())
	if err := vol.Create(); err != nil {
		_ = dev.Detach()
		return err
	}
	if err := vol.Mount(); err != nil {
		log.Errorf("failed to mount loop volume %s: %v", vol.Id(), err)
		_ = vol.Destroy()
		_ = dev.Detach()
		return err
	}

	vm.loop = &loopMount{hostPath: hostPath, device: dev, vol: vol}
	log.Infof("loop mounted %s via %s", hostPath, dev.Path())
	return nil
}

// UnmountLoop releases the loop slot. Unmount errors abort unless force is
// set. The caller must hold the manager lock.
func (vm *VolumeManager) UnmountLoop(force bool) error {
	if vm.loop == nil {
		return fmt.Errorf("no loop mounted: %w", syscall.ENODEV)
	}
	slot := vm.loop

	if slot.vol.State() == types.StateMounted {
		if err := slot.vol.Unmount(); err != nil && !force {
			return err
		}
	}
	if err := slot.vol.Destroy(); err != nil && !force {
		return err
	}

	// The volume's own unmount may already have released the slot through
	// the loop-release hook.
	if vm.loop != nil {
		if err := vm.loop.device.Detach(); err != nil && !force {
			return err
		}
		vm.loop = nil
	}
	log.Infof("loop released %s", slot.hostPath)
	return nil
}

// releaseLoopLocked is the environment hook run from a volume's unmount
// path when its stable name owns the loop slot. The manager lock is
// already held by the operation driving the unmount.
func (vm *VolumeManager) releaseLoopLocked(stableName string) {
	if vm.loop == nil {
		return
	}
	vol := vm.loop.vol
	if vol.Id() != stableName && vol.FsUuid() != stableName {
		return
	}
	if err := vm.loop.device.Detach(); err != nil {
		log.Warnf("failed to detach loop device %s: %v", vm.loop.device.Path(), err)
	}
	vm.loop = nil
}
