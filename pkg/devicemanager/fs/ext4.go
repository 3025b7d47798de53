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
	"bocloud.com/cloudnative/droidvold/pkg/devicemanager/types"
)

// extMount mounts ext2/ext3/ext4 with the kernel driver. Ownership is fixed
// up afterwards by the volume layer with a recursive chown and relabel.
func extMount(env *types.Env, fsType, devPath, target string) error {
	options := []string{"noatime", "nosuid", "nodev"}
	return env.Mounter.Mount(devPath, target, fsType, options)
}
