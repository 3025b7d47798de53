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

// Package device probes raw block devices: size, vendor labels, partition
// minor budgets and the sysfs layout quirks of logical partitions.
package device

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"

	"bocloud.com/cloudnative/droidvold/pkg/devicemanager/types"
	"bocloud.com/cloudnative/droidvold/utils"
	"bocloud.com/cloudnative/droidvold/utils/log"
)

const (
	majorBlockSr  = 11
	majorBlockMmc = 179

	majorBlockExperimentalMin = 240
	majorBlockExperimentalMax = 254
)

// Per Documentation/devices.txt.
var scsiMajors = map[uint32]bool{
	8: true, 65: true, 66: true, 67: true, 68: true, 69: true, 70: true, 71: true,
	128: true, 129: true, 130: true, 131: true, 132: true, 133: true, 134: true, 135: true,
}

// Labels silk-screened on cards for the manfids we trust; white-label ids
// stay unlabeled on purpose.
var mmcManfids = map[int64]string{
	0x03: "SanDisk",
	0x1b: "Samsung",
	0x28: "Lexar",
	0x74: "Transcend",
}

func IsScsiMajor(major uint32) bool {
	return scsiMajors[major]
}

func IsSrMajor(major uint32) bool {
	return major == majorBlockSr
}

func IsMmcMajor(major uint32) bool {
	return major == majorBlockMmc
}

// IsVirtioBlk applies the emulator heuristic: virtio-blk has no fixed
// major, the kernel hands one out of the experimental range.
func IsVirtioBlk(env *types.Env, major uint32) bool {
	return env.IsEmulator && major >= majorBlockExperimentalMin && major <= majorBlockExperimentalMax
}

// ReadSize returns the device size in bytes, -1 when the ioctl fails.
func ReadSize(devPath string) int64 {
	f, err := os.OpenFile(devPath, os.O_RDONLY, 0)
	if err != nil {
		return -1
	}
	defer f.Close()

	var size uint64
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), unix.BLKGETSIZE64, uintptr(unsafe.Pointer(&size))); errno != 0 {
		return -1
	}
	return int64(size)
}

// ReadLabel resolves a user-facing label for the device from sysfs.
// Unknown majors fail with types.ErrUnsupported.
func ReadLabel(env *types.Env, major uint32, sysPath string) (string, error) {
	switch {
	case IsSrMajor(major), IsScsiMajor(major):
		vendor, err := utils.ReadFileToString(sysPath + "/device/vendor")
		if err != nil {
			log.Warnf("failed to read vendor from %s: %v", sysPath, err)
			return "", err
		}
		return strings.TrimSpace(vendor), nil
	case IsMmcMajor(major):
		raw, err := utils.ReadFileToString(sysPath + "/device/manfid")
		if err != nil {
			log.Warnf("failed to read manufacturer from %s: %v", sysPath, err)
			return "", err
		}
		manfid, err := strconv.ParseInt(strings.TrimPrefix(raw, "0x"), 16, 64)
		if err != nil {
			return "", err
		}
		return mmcManfids[manfid], nil
	case IsVirtioBlk(env, major):
		log.Debugf("recognized experimental block major %d as virtio-blk", major)
		return "Virtual", nil
	}
	log.Warnf("unsupported block major type %d", major)
	return "", fmt.Errorf("major %d: %w", major, types.ErrUnsupported)
}

// MaxMinors returns the partition minor budget of the device.
func MaxMinors(env *types.Env, major uint32) (int, error) {
	switch {
	case IsScsiMajor(major):
		// Static per Documentation/devices.txt.
		return 31, nil
	case IsMmcMajor(major):
		// Dynamic, set by the mmcblk module.
		raw, err := utils.ReadFileToString(env.SysDir + "/module/mmcblk/parameters/perdev_minors")
		if err != nil {
			log.Errorf("failed to read max minors: %v", err)
			return -1, err
		}
		return strconv.Atoi(raw)
	case IsVirtioBlk(env, major):
		// drivers/block/virtio_blk.c PART_BITS 4, so 2^4 - 1.
		return 15, nil
	}
	log.Errorf("unsupported block major type %d", major)
	return -1, fmt.Errorf("major %d: %w", major, types.ErrUnsupported)
}

var partSuffix = regexp.MustCompile(`[0-9]+$`)

// IsJustPhysicalDevice reports whether the kernel enumerated only the disk
// node itself, with no separately named partition nodes below it. The
// returned name is the bare device name, e.g. "sda".
func IsJustPhysicalDevice(sysPath string) (string, bool) {
	devName := filepath.Base(sysPath)

	entries, err := os.ReadDir(sysPath)
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, devName) && partSuffix.MatchString(name) {
			return "", false
		}
	}
	return devName, true
}

// ResolveLogicalPartition looks up the separately enumerated device of a
// logical partition (index > 15), whose minor is not diskMinor+index.
func ResolveLogicalPartition(env *types.Env, sysPath string, part int) (uint32, uint32, bool) {
	devName := filepath.Base(sysPath)
	lpName := fmt.Sprintf("%s%d", devName, part)

	raw, err := utils.ReadFileToString(env.SysDir + "/class/block/" + lpName + "/dev")
	if err != nil {
		return 0, 0, false
	}
	smajor, sminor, ok := strings.Cut(raw, ":")
	if !ok {
		return 0, 0, false
	}
	major, err1 := strconv.Atoi(smajor)
	minor, err2 := strconv.Atoi(sminor)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return uint32(major), uint32(minor), true
}
