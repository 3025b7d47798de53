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
	ntfsfixPath = "/system/bin/ntfsfix"
	ntfs3gPath  = "/system/bin/ntfs-3g"
)

func ntfsCheck(env *types.Env, devPath string) error {
	// ntfsfix -n only reports; a dirty volume is still mountable by the
	// ntfs-3g driver which replays the journal itself.
	output, err := runHelper(env, env.Contexts.FsckUntrusted, ntfsfixPath, "-n", devPath)
	if err != nil {
		log.Warnf("ntfsfix %s: %v %s", devPath, err, output)
	}
	return nil
}

func ntfsMount(env *types.Env, devPath, target string) error {
	options := fmt.Sprintf("uid=%d,gid=%d,fmask=0007,dmask=0007,noatime", aidMediaRw, aidMediaRw)
	output, err := env.Executor.ExecuteCommandWithCombinedOutput(ntfs3gPath, devPath, target, "-o", options)
	if err != nil {
		log.Errorf("ntfs-3g %s: %v %s", devPath, err, output)
		return err
	}
	return nil
}
