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

package uevent

import (
	"os"
	"path/filepath"

	"bocloud.com/cloudnative/droidvold/utils"
	"bocloud.com/cloudnative/droidvold/utils/log"
)

// Coldboot walks a sysfs subtree writing "add" into every uevent trigger
// file so devices present before startup replay their add events.
func Coldboot(root string) {
	coldbootDir(root, 0)
}

func coldbootDir(dir string, level int) {
	if err := utils.WriteStringToFile(filepath.Join(dir, "uevent"), "add\n"); err == nil {
		log.Debugf("coldboot trigger %s", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.Name()[0] == '.' {
			continue
		}
		if !e.IsDir() && level > 0 {
			continue
		}
		child := filepath.Join(dir, e.Name())
		if !e.IsDir() {
			// Top-level entries such as those of /sys/block are symlinks
			// into /sys/devices; follow them only when they lead to a
			// directory.
			if info, err := os.Stat(child); err != nil || !info.IsDir() {
				continue
			}
		}
		coldbootDir(child, level+1)
	}
}

// SetMediaPollTime enables kernel media-change polling so optical drives
// generate change events; missing support is only logged.
func SetMediaPollTime() {
	if err := utils.WriteStringToFile("/sys/module/block/parameters/events_dfl_poll_msecs", "2000"); err != nil {
		log.Errorf("kernel does not support media poll uevents: %v", err)
	}
}
