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

package volume

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"bocloud.com/cloudnative/droidvold/pkg/devicemanager/device"
	"bocloud.com/cloudnative/droidvold/pkg/devicemanager/fs"
	"bocloud.com/cloudnative/droidvold/pkg/devicemanager/types"
	"bocloud.com/cloudnative/droidvold/pkg/response"
	"bocloud.com/cloudnative/droidvold/utils"
	"bocloud.com/cloudnative/droidvold/utils/log"
)

const (
	chownPath      = "/system/bin/chown"
	restoreconPath = "/system/bin/restorecon"

	aidRoot    = 0
	aidMediaRw = 1023

	// vfat deferral: bounded poll for the foreign handler's mount.
	vfatDeferWait = 2 * time.Second
	vfatDeferStep = 100 * time.Millisecond
)

// readMetadata probes the filesystem and broadcasts the three property
// changes. The returned uuid is the raw probe result; the broadcast value
// gets the framework's fake-uuid substitution when the probe came up
// empty.
func (v *Volume) readMetadata() (string, error) {
	fsType, fsUuid, fsLabel, err := fs.ReadMetadataUntrusted(v.env, v.devPath)
	if err != nil {
		log.Warnf("%s failed to probe %s: %v", v.id, v.devPath, err)
	}

	v.fsType = fsType
	v.fsLabel = fsLabel
	v.notifyEvent(response.VolumeFsTypeChanged, v.fsType)

	// An empty uuid upsets the framework UI once the volume mounts.
	v.fsUuid = fsUuid
	if v.fsUuid == "" {
		if device.IsSrMajor(v.public.major) {
			v.fsUuid = "sr0"
		} else {
			v.fsUuid = "fakeUuid"
		}
	}

	v.notifyEvent(response.VolumeFsUuidChanged, v.fsUuid)
	v.notifyEvent(response.VolumeFsLabelChanged, v.fsLabel)

	return fsUuid, nil
}

func (v *Volume) doMount() error {
	probedUuid, _ := v.readMetadata()

	if !fs.Supported(v.fsType) {
		log.Errorf("%s unsupported filesystem %q", v.id, v.fsType)
		return fmt.Errorf("%s: %w", v.fsType, types.ErrUnsupported)
	}

	// Use the uuid as stable name when the probe found one, so the mount
	// point survives re-insertion.
	stableName := v.id
	if probedUuid != "" {
		stableName = probedUuid
	}
	v.rawPath = v.env.MountDir + "/" + stableName

	if v.fsType == "vfat" && v.env.VfatDeferred {
		// A platform vold owns vfat; wait for its mount to appear instead
		// of racing it.
		deadline := time.Now().Add(vfatDeferWait)
		for time.Now().Before(deadline) {
			if v.isMountpointMounted(v.rawPath) {
				log.Debugf("%s vfat handled by platform vold", v.id)
				v.SetInternalPath(v.rawPath)
				v.SetPath(v.rawPath)
				return nil
			}
			time.Sleep(vfatDeferStep)
		}
	}

	if v.isMountpointMounted(v.rawPath) {
		log.Errorf("%s path %s is already mounted", v.id, v.rawPath)
		return fmt.Errorf("%s: %w", v.rawPath, types.ErrAlreadyMounted)
	}

	if err := fs.Check(v.env, v.fsType, v.devPath); err != nil {
		log.Warnf("%s filesystem check failed: %v", v.id, err)
		return err
	}

	v.SetInternalPath(v.rawPath)
	v.SetPath(v.rawPath)

	if err := v.prepareDir(v.rawPath); err != nil {
		log.Errorf("%s failed to create mount point: %v", v.id, err)
		return err
	}

	if err := fs.Mount(v.env, v.fsType, v.devPath, v.rawPath); err != nil {
		log.Errorf("failed to mount %s as %s: %v", v.devPath, v.fsType, err)
		// Keep the namespace consistent: a failed mount leaves no
		// mount point behind.
		_ = os.Remove(v.rawPath)
		return err
	}
	log.Infof("successfully mounted %s as %s at %s", v.devPath, v.fsType, v.rawPath)

	if strings.HasPrefix(v.fsType, "ext") {
		output, err := v.env.Executor.ExecuteCommandWithCombinedOutput(
			chownPath, "-R", "media_rw:media_rw", v.rawPath)
		if err != nil {
			log.Warnf("chown failed on %s: %v %s", v.rawPath, err, output)
			v.rollbackMount()
			return err
		}
		if output, err := v.env.Executor.ExecuteCommandWithCombinedOutput(
			restoreconPath, "-R", v.rawPath); err != nil {
			log.Warnf("restorecon failed on %s: %v %s", v.rawPath, err, output)
		}
	}

	if v.fsType == "iso9660" || v.fsType == "udf" {
		v.public.srMounted = true
	}

	return nil
}

func (v *Volume) doUnmount() error {
	// Kill holders before detaching the FUSE side, otherwise readers see
	// ENOTCONN instead of a clean removal.
	if err := utils.KillProcessesUsingPath(v.path); err != nil {
		log.Warnf("%s failed to kill processes using %s: %v", v.id, v.path, err)
	}

	if v.env.LoopRelease != nil {
		// rawPath ends in the stable name chosen at mount time: the probed
		// uuid, or the volume id when the probe found none.
		v.env.LoopRelease(strings.TrimPrefix(v.rawPath, v.env.MountDir+"/"))
	}

	if err := v.env.Mounter.Unmount(v.rawPath); err != nil {
		log.Warnf("%s unmount %s: %v, forcing", v.id, v.rawPath, err)
		if err := utils.ForceUnmount(v.rawPath); err != nil {
			log.Warnf("%s force unmount %s: %v", v.id, v.rawPath, err)
		}
	}

	if v.public.fusePid > 0 {
		_ = unix.Kill(v.public.fusePid, unix.SIGTERM)
		var ws unix.WaitStatus
		_, _ = unix.Wait4(v.public.fusePid, &ws, 0, nil)
		v.public.fusePid = 0
	}

	if err := os.Remove(v.rawPath); err != nil && !os.IsNotExist(err) {
		log.Warnf("%s failed to remove %s: %v", v.id, v.rawPath, err)
	}

	v.rawPath = ""
	v.internalPath = ""
	v.path = ""
	v.public.srMounted = false

	return nil
}

func (v *Volume) doFormat(fsType string) error {
	if fsType != "vfat" && fsType != "auto" {
		log.Errorf("unsupported format filesystem %q", fsType)
		return fmt.Errorf("%s: %w", fsType, types.ErrUnsupported)
	}

	if err := utils.WipeBlockDevice(v.devPath); err != nil {
		log.Warnf("%s failed to wipe: %v", v.id, err)
	}
	if err := fs.Format(v.env, "vfat", v.devPath); err != nil {
		log.Errorf("%s failed to format: %v", v.id, err)
		return err
	}
	return nil
}

// rollbackMount undoes a successful kernel mount when a later mount step
// fails, so a non-mounted volume never leaves a live mount or mount point
// at rawPath.
func (v *Volume) rollbackMount() {
	if err := v.env.Mounter.Unmount(v.rawPath); err != nil {
		log.Warnf("%s rollback unmount %s: %v, forcing", v.id, v.rawPath, err)
		if err := utils.ForceUnmount(v.rawPath); err != nil {
			log.Warnf("%s rollback force unmount %s: %v", v.id, v.rawPath, err)
		}
	}
	if err := os.Remove(v.rawPath); err != nil && !os.IsNotExist(err) {
		log.Warnf("%s failed to remove %s: %v", v.id, v.rawPath, err)
	}
}

// prepareDir creates the mount point 0700 root:root. ENOTCONN means a
// stale FUSE mount is squatting on the path; lazily detach and retry once.
func (v *Volume) prepareDir(path string) error {
	err := utils.PrepareDir(path, 0700, aidRoot, aidRoot)
	if err == nil {
		return nil
	}
	if !errors.Is(err, unix.ENOTCONN) {
		return err
	}

	log.Infof("stale mount at %s, lazily unmounting and retrying", path)
	if uerr := utils.LazyUnmount(path); uerr != nil {
		log.Errorf("failed to unmount %s: %v", path, uerr)
		return err
	}
	return utils.PrepareDir(path, 0700, aidRoot, aidRoot)
}

func (v *Volume) isMountpointMounted(path string) bool {
	mounts, err := v.env.Mounter.List()
	if err != nil {
		log.Warnf("failed to list mounts: %v", err)
		return false
	}
	for _, m := range mounts {
		if m.Path == path {
			return true
		}
	}
	return false
}
