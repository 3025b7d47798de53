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

package fs

import (
	"fmt"

	"bocloud.com/cloudnative/droidvold/pkg/devicemanager/types"
	"bocloud.com/cloudnative/droidvold/utils/log"
)

const (
	fsckMsdosPath  = "/system/bin/fsck_msdos"
	newfsMsdosPath = "/system/bin/newfs_msdos"
)

func vfatCheck(env *types.Env, devPath string) error {
	// fsck_msdos returns 0 on a clean filesystem; any non-zero exit fails
	// the check.
	output, err := runHelper(env, env.Contexts.FsckUntrusted, fsckMsdosPath, "-p", "-f", devPath)
	if err != nil {
		log.Warnf("fsck_msdos %s: %v %s", devPath, err, output)
		return fmt.Errorf("vfat check failed: %w", err)
	}
	return nil
}

func vfatMount(env *types.Env, devPath, target string) error {
	options := []string{
		"utf8",
		"shortname=mixed",
		fmt.Sprintf("uid=%d", aidMediaRw),
		fmt.Sprintf("gid=%d", aidMediaRw),
		"fmask=0007",
		"dmask=0007",
		"nodev",
		"nosuid",
		"dirsync",
		"noatime",
	}
	return env.Mounter.Mount(devPath, target, "vfat", options)
}

func vfatFormat(env *types.Env, devPath string) error {
	output, err := env.Executor.ExecuteCommandWithCombinedOutput(newfsMsdosPath, "-F", "32", "-O", "android", "-A", devPath)
	if err != nil {
		log.Errorf("newfs_msdos %s: %v %s", devPath, err, output)
		return err
	}
	return nil
}
