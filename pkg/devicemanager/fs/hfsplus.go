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

const fsckHfsPath = "/system/bin/fsck_hfs"

func hfsplusCheck(env *types.Env, devPath string) error {
	output, err := runHelper(env, env.Contexts.FsckUntrusted, fsckHfsPath, devPath)
	if err != nil {
		log.Warnf("fsck_hfs %s: %v %s", devPath, err, output)
		return fmt.Errorf("hfs check failed: %w", err)
	}
	return nil
}

func hfsplusMount(env *types.Env, devPath, target string) error {
	options := []string{
		fmt.Sprintf("uid=%d", aidMediaRw),
		fmt.Sprintf("gid=%d", aidMediaRw),
		"umask=0007",
		"nodev",
		"nosuid",
		"noatime",
	}
	return env.Mounter.Mount(devPath, target, "hfsplus", options)
}
