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

package utils

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// DeviceNodes maintains the private block device nodes under
// /dev/block/droidvold.
type DeviceNodes struct{}

func (DeviceNodes) CreateDeviceNode(path string, major, minor uint32) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	dev := unix.Mkdev(major, minor)
	mode := uint32(0600 | unix.S_IFBLK)
	if err := unix.Mknod(path, mode, int(dev)); err != nil && err != unix.EEXIST {
		return err
	}
	return nil
}

func (DeviceNodes) DestroyDeviceNode(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
