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

// Package fs dispatches filesystem maintenance to external helper programs
// and the kernel mount table. Every filesystem exposes check, mount and
// (where supported) format; the device manager treats them as opaque.
package fs

import (
	"fmt"
	"strings"

	"bocloud.com/cloudnative/droidvold/pkg/devicemanager/types"
	"bocloud.com/cloudnative/droidvold/utils/log"
)

const (
	runconPath = "/system/bin/runcon"
	blkidPath  = "/system/bin/blkid"

	aidRoot    = 0
	aidMediaRw = 1023
)

// Supported reports whether the device manager knows how to mount fsType.
func Supported(fsType string) bool {
	switch {
	case fsType == "vfat", fsType == "ntfs", fsType == "exfat":
		return true
	case strings.HasPrefix(fsType, "ext"):
		return fsType == "ext2" || fsType == "ext3" || fsType == "ext4"
	case fsType == "hfs", fsType == "iso9660", fsType == "udf":
		return true
	}
	return false
}

// Check runs the pre-mount filesystem check appropriate to fsType. ext and
// optical filesystems are checked by the kernel at mount time.
func Check(env *types.Env, fsType, devPath string) error {
	switch {
	case fsType == "vfat":
		return vfatCheck(env, devPath)
	case fsType == "ntfs":
		return ntfsCheck(env, devPath)
	case fsType == "exfat":
		return exfatCheck(env, devPath)
	case fsType == "hfs":
		return hfsplusCheck(env, devPath)
	case strings.HasPrefix(fsType, "ext"), fsType == "iso9660", fsType == "udf":
		return nil
	}
	return fmt.Errorf("check %s: %w", fsType, types.ErrUnsupported)
}

// Mount attaches devPath at target with the canonical options for fsType.
func Mount(env *types.Env, fsType, devPath, target string) error {
	switch {
	case fsType == "vfat":
		return vfatMount(env, devPath, target)
	case fsType == "ntfs":
		return ntfsMount(env, devPath, target)
	case fsType == "exfat":
		return exfatMount(env, devPath, target)
	case strings.HasPrefix(fsType, "ext"):
		return extMount(env, fsType, devPath, target)
	case fsType == "hfs":
		return hfsplusMount(env, devPath, target)
	case fsType == "iso9660", fsType == "udf":
		return isoMount(env, fsType, devPath, target)
	}
	return fmt.Errorf("mount %s: %w", fsType, types.ErrUnsupported)
}

// Format rebuilds a filesystem on devPath. Only vfat is supported.
func Format(env *types.Env, fsType, devPath string) error {
	if fsType == "vfat" || fsType == "auto" {
		return vfatFormat(env, devPath)
	}
	return fmt.Errorf("format %s: %w", fsType, types.ErrUnsupported)
}

// ReadMetadata probes devPath with blkid under the trusted SELinux context
// and returns (fsType, uuid, label).
func ReadMetadata(env *types.Env, devPath string) (string, string, string, error) {
	return readMetadata(env, devPath, env.Contexts.Blkid)
}

// ReadMetadataUntrusted is the same probe under the untrusted context, used
// before a volume has been vetted.
func ReadMetadataUntrusted(env *types.Env, devPath string) (string, string, string, error) {
	return readMetadata(env, devPath, env.Contexts.BlkidUntrusted)
}

func readMetadata(env *types.Env, devPath, context string) (string, string, string, error) {
	args := []string{"-c", "/dev/null", "-s", "TYPE", "-s", "UUID", "-s", "LABEL", "-o", "export", devPath}
	output, err := runHelper(env, context, blkidPath, args...)
	if err != nil {
		return "", "", "", err
	}

	var fsType, uuid, label string
	for _, line := range strings.Split(output, "\n") {
		k, v, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch k {
		case "TYPE":
			fsType = v
		case "UUID":
			uuid = v
		case "LABEL":
			label = v
		}
	}

	if env.Debug {
		log.Debugf("blkid %s: type=%s uuid=%s label=%s", devPath, fsType, uuid, label)
	}
	return fsType, uuid, label, nil
}

// runHelper executes a helper program, wrapped with runcon when an SELinux
// context is configured for it.
func runHelper(env *types.Env, context, command string, arg ...string) (string, error) {
	if context != "" {
		arg = append([]string{context, command}, arg...)
		command = runconPath
	}
	return env.Executor.ExecuteCommandWithOutput(command, arg...)
}
