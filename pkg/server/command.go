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

package server

import (
	"fmt"
	"strconv"
	"strings"

	"bocloud.com/cloudnative/droidvold/pkg/devicemanager"
	"bocloud.com/cloudnative/droidvold/pkg/response"
)

// Tokenize splits a command line on spaces, honouring double quotes and
// backslash escapes.
func Tokenize(line string) ([]string, error) {
	var argv []string
	var cur strings.Builder
	inQuote := false
	escaped := false
	hasToken := false

	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
			hasToken = true
		case r == '"':
			inQuote = !inQuote
			hasToken = true
		case r == ' ' && !inQuote:
			if hasToken {
				argv = append(argv, cur.String())
				cur.Reset()
				hasToken = false
			}
		default:
			cur.WriteRune(r)
			hasToken = true
		}
	}
	if inQuote || escaped {
		return nil, fmt.Errorf("unterminated quoting")
	}
	if hasToken {
		argv = append(argv, cur.String())
	}
	return argv, nil
}

// Dispatch maps one framed command onto the volume manager and returns the
// response code and text. Every command executes under the manager lock.
func Dispatch(vm *devicemanager.VolumeManager, argv []string) (int, string) {
	switch argv[0] {
	case "volume":
		return volumeCommand(vm, argv)
	case "loop":
		return loopCommand(vm, argv)
	}
	return response.CommandSyntaxError, "Unknown command"
}

func okFail(err error) (int, string) {
	if err != nil {
		return response.OperationFailed, "Command failed"
	}
	return response.CommandOkay, "Command succeeded"
}

func volumeCommand(vm *devicemanager.VolumeManager, argv []string) (int, string) {
	if len(argv) < 2 {
		return response.CommandSyntaxError, "Missing Argument"
	}

	lock := vm.Lock()
	lock.Lock()
	defer lock.Unlock()

	switch argv[1] {
	case "reset":
		return okFail(vm.Reset())

	case "shutdown":
		return okFail(vm.Shutdown())

	case "debug":
		return okFail(vm.SetDebug(true))

	case "mkdirs":
		if len(argv) < 3 {
			return response.CommandSyntaxError, "Missing Argument"
		}
		return okFail(vm.Mkdirs(argv[2]))

	case "mount":
		if len(argv) < 3 {
			return response.CommandSyntaxError, "Missing Argument"
		}
		vol := vm.FindVolume(argv[2])
		if vol == nil {
			return response.CommandSyntaxError, "Unknown volume"
		}

		mountFlags := 0
		mountUserId := -1
		if len(argv) > 3 {
			mountFlags, _ = strconv.Atoi(argv[3])
		}
		if len(argv) > 4 {
			mountUserId, _ = strconv.Atoi(argv[4])
		}
		vol.SetMountFlags(mountFlags)
		vol.SetMountUserId(mountUserId)

		return okFail(vol.Mount())

	case "unmount":
		if len(argv) < 3 {
			return response.CommandSyntaxError, "Missing Argument"
		}
		vol := vm.FindVolume(argv[2])
		if vol == nil {
			return response.CommandSyntaxError, "Unknown volume"
		}
		return okFail(vol.Unmount())

	case "format":
		if len(argv) < 4 {
			return response.CommandSyntaxError, "Missing Argument"
		}
		vol := vm.FindVolume(argv[2])
		if vol == nil {
			return response.CommandSyntaxError, "Unknown volume"
		}
		return okFail(vol.Format(argv[3]))
	}

	return response.CommandSyntaxError, "Unknown volume cmd"
}

func loopCommand(vm *devicemanager.VolumeManager, argv []string) (int, string) {
	if len(argv) < 2 {
		return response.CommandSyntaxError, "Missing Argument"
	}

	lock := vm.Lock()
	lock.Lock()
	defer lock.Unlock()

	var err error
	switch argv[1] {
	case "mount":
		if len(argv) != 3 {
			return response.CommandSyntaxError, "Usage: loop mount <path>"
		}
		err = vm.MountLoop(argv[2])

	case "unmount":
		if len(argv) > 3 {
			return response.CommandSyntaxError, "Usage: loop unmount [force]"
		}
		force := len(argv) == 3 && argv[2] == "force"
		err = vm.UnmountLoop(force)

	default:
		return response.CommandSyntaxError, "Unknown loop cmd"
	}

	if err != nil {
		return response.FromErrno(err), "loop operation failed"
	}
	return response.CommandOkay, "loop operation succeeded"
}
