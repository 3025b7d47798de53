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
)

// isoMount mounts optical media read-only. fsType is iso9660 or udf as
// probed.
func isoMount(env *types.Env, fsType, devPath, target string) error {
	options := []string{
		"ro",
		fmt.Sprintf("uid=%d", aidMediaRw),
		fmt.Sprintf("gid=%d", aidMediaRw),
		"nodev",
		"nosuid",
	}
	if fsType == "udf" {
		options = append(options, "umask=0007")
	} else {
		options = append(options, "mode=0440", "dmode=0550")
	}
	return env.Mounter.Mount(devPath, target, fsType, options)
}
