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
	"strings"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"

	"bocloud.com/cloudnative/droidvold/utils/log"
)

// KillProcessesUsingPath hunts down every process holding a file, cwd, root
// or executable below path and kills it. Run before unmounting so the
// unmount does not return EBUSY.
func KillProcessesUsingPath(path string) error {
	procs, err := procfs.AllProcs()
	if err != nil {
		return err
	}

	self := os.Getpid()
	prefix := strings.TrimSuffix(path, "/") + "/"

	hits := func(p string) bool {
		return p == path || strings.HasPrefix(p, prefix)
	}

	for _, proc := range procs {
		if proc.PID == self {
			continue
		}

		using := false
		if cwd, err := proc.Cwd(); err == nil && hits(cwd) {
			using = true
		}
		if !using {
			if root, err := proc.RootDir(); err == nil && hits(root) {
				using = true
			}
		}
		if !using {
			if exe, err := proc.Executable(); err == nil && hits(exe) {
				using = true
			}
		}
		if !using {
			if targets, err := proc.FileDescriptorTargets(); err == nil {
				for _, t := range targets {
					if hits(t) {
						using = true
						break
					}
				}
			}
		}

		if using {
			comm, _ := proc.Comm()
			log.Warnf("killing pid %d (%s) with open files under %s", proc.PID, comm, path)
			if err := unix.Kill(proc.PID, unix.SIGKILL); err != nil {
				log.Warnf("failed to kill pid %d: %v", proc.PID, err)
			}
		}
	}
	return nil
}
