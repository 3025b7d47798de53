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
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"bocloud.com/cloudnative/droidvold/utils/log"
)

func ContainsString(slice []string, s string) bool {
	for _, item := range slice {
		if item == s {
			return true
		}
	}
	return false
}

func FileExists(path string) bool {
	_, err := os.Stat(path)
	if err != nil {
		if os.IsExist(err) {
			return true
		}
		return false
	}
	return true
}

func UntilMaxRetry(f func() error, maxRetry int, interval time.Duration) error {
	var err error
	for i := 0; i < maxRetry; i++ {
		err = f()
		if err == nil {
			return nil
		}
		time.Sleep(interval)
	}
	return err
}

// ReadFileToString reads a small sysfs attribute, trimming leading and
// trailing whitespace.
func ReadFileToString(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

// WriteStringToFile writes an attribute value, for sysfs knobs and uevent
// trigger files.
func WriteStringToFile(path, value string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(value)
	return err
}

// PatternMatches reports whether path matches a glob-like sysfs pattern.
// Unlike filepath.Match, '*' crosses path separators, matching fnmatch(3)
// without FNM_PATHNAME which is what the framework fstab expects.
func PatternMatches(pattern, path string) bool {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		log.Warnf("bad sys pattern %s: %v", pattern, err)
		return false
	}
	return re.MatchString(path)
}

// PrepareDir makes sure path exists as a directory with the given mode and
// ownership, the fs_prepare_dir contract.
func PrepareDir(path string, mode os.FileMode, uid, gid int) error {
	if err := os.MkdirAll(path, mode); err != nil {
		return err
	}
	if err := os.Chmod(path, mode); err != nil {
		return err
	}
	if err := os.Chown(path, uid, gid); err != nil {
		// Non-root test runs cannot chown; the directory itself is usable.
		log.Debugf("chown %s: %v", path, err)
	}
	return nil
}

// ForceUnmount detaches target even when it is busy, then falls back to a
// lazy detach the way the framework does on stale mounts.
func ForceUnmount(target string) error {
	if err := unix.Unmount(target, unix.MNT_FORCE); err == nil {
		return nil
	}
	if err := unix.Unmount(target, unix.MNT_DETACH); err != nil && err != unix.EINVAL && err != unix.ENOENT {
		return fmt.Errorf("failed to unmount %s: %w", target, err)
	}
	return nil
}

// LazyUnmount detaches target without waiting for openers.
func LazyUnmount(target string) error {
	if err := unix.Unmount(target, unix.MNT_DETACH); err != nil && err != unix.EINVAL && err != unix.ENOENT {
		return err
	}
	return nil
}

// IsRunningInEmulator detects the qemu/ranchu virtual board from the kernel
// command line.
func IsRunningInEmulator() bool {
	cmdline, err := os.ReadFile("/proc/cmdline")
	if err != nil {
		return false
	}
	s := string(cmdline)
	return strings.Contains(s, "androidboot.hardware=ranchu") || strings.Contains(s, "qemu=1")
}

// WipeBlockDevice zeroes the leading superblock region of a block device so
// stale filesystem signatures do not survive a reformat.
func WipeBlockDevice(devPath string) error {
	const wipeBytes = 16 << 20

	f, err := os.OpenFile(devPath, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	var size uint64
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), unix.BLKGETSIZE64, uintptr(unsafe.Pointer(&size))); errno != 0 {
		size = 0
	}

	remain := uint64(wipeBytes)
	if size > 0 && size < remain {
		remain = size
	}

	zeros := make([]byte, 1<<20)
	for remain > 0 {
		n := uint64(len(zeros))
		if n > remain {
			n = remain
		}
		if _, err := f.Write(zeros[:n]); err != nil {
			return err
		}
		remain -= n
	}
	return f.Sync()
}
