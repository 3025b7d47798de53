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

// Package partition turns the external partition dumper's output into
// volume-creation intents. The scanner is deliberately permissive: the
// filesystem probe at mount time is the authority on mountability.
package partition

import (
	"strconv"
	"strings"

	"github.com/google/uuid"

	"bocloud.com/cloudnative/droidvold/pkg/devicemanager/device"
	"bocloud.com/cloudnative/droidvold/pkg/devicemanager/types"
	"bocloud.com/cloudnative/droidvold/utils/log"
)

const sgdiskPath = "/system/bin/sgdisk"

// Table is the partition table mode reported by the dumper.
type Table int

const (
	TableUnknown Table = iota
	TableMbr
	TableGpt
)

func (t Table) String() string {
	switch t {
	case TableMbr:
		return "mbr"
	case TableGpt:
		return "gpt"
	}
	return "unknown"
}

var gptBasicData = uuid.MustParse("EBD0A0A2-B9E5-4433-87C0-68B6B72699C7")

// Intent describes one public volume the scan wants created. Either a
// partition device id, or a bare device name for the physical-only case.
type Intent struct {
	Major   uint32
	Minor   uint32
	DevName string
}

// Result is the outcome of one scan pass.
type Result struct {
	Intents    []Intent
	Table      Table
	FoundParts bool
}

// Scan runs the partition dumper over devPath and parses its records.
// Indices beyond maxMinors are skipped with a warning. A just-physical
// device terminates the scan with a single name-bound intent.
func Scan(env *types.Env, devPath, sysPath string, diskMajor, diskMinor uint32, maxMinors int) (*Result, error) {
	output, err := env.Executor.ExecuteCommandWithOutput(sgdiskPath, "--android-dump", devPath)
	if err != nil {
		log.Warnf("sgdisk failed to scan %s: %v", devPath, err)
		return nil, err
	}
	return parse(env, output, sysPath, diskMajor, diskMinor, maxMinors), nil
}

func parse(env *types.Env, output, sysPath string, diskMajor, diskMinor uint32, maxMinors int) *Result {
	res := &Result{Table: TableUnknown}

	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "DISK":
			if len(fields) < 2 {
				continue
			}
			switch fields[1] {
			case "mbr":
				res.Table = TableMbr
			case "gpt":
				res.Table = TableGpt
			}
		case "PART":
			if len(fields) < 2 {
				continue
			}
			res.FoundParts = true

			index, err := strconv.Atoi(fields[1])
			if err != nil || index <= 0 || index > maxMinors {
				log.Warnf("ignoring partition %s beyond max supported devices", fields[1])
				continue
			}

			partMajor := diskMajor
			partMinor := diskMinor + uint32(index)

			// Logical partitions past 15 get minors from a separate
			// range; resolve the real device through sysfs before the
			// table dispatch so both mbr and gpt records use it.
			if index > 15 {
				if ma, mi, ok := device.ResolveLogicalPartition(env, sysPath, index); ok {
					partMajor, partMinor = ma, mi
				}
			}

			switch res.Table {
			case TableMbr:
				if len(fields) < 3 {
					continue
				}

				if devName, ok := device.IsJustPhysicalDevice(sysPath); ok {
					// The kernel exposed no partition nodes; bind one
					// volume to the parent device name and stop.
					log.Infof("%s has physical device only, skipping partition nodes", sysPath)
					res.Intents = []Intent{{DevName: devName}}
					return res
				}

				mbrType, err := strconv.ParseInt(strings.TrimPrefix(fields[2], "0x"), 16, 32)
				if err != nil {
					log.Warnf("bad mbr type %q for partition %d", fields[2], index)
					mbrType = -1
				}
				switch mbrType {
				case 0x06, 0x0b, 0x0c, 0x0e, // FAT16 / FAT32
					0x07: // NTFS & exFAT
				default:
					// Still create a public volume: plenty of tables lie
					// about types that mount fine. The mount path rejects
					// what the probe cannot identify.
					log.Warnf("unsupported mbr partition type %s", fields[2])
				}
				res.Intents = append(res.Intents, Intent{Major: partMajor, Minor: partMinor})

			case TableGpt:
				if len(fields) < 3 {
					continue
				}
				typeGuid, err := uuid.Parse(fields[2])
				if err != nil {
					log.Warnf("bad gpt type guid %q for partition %d", fields[2], index)
					continue
				}
				if typeGuid == gptBasicData {
					res.Intents = append(res.Intents, Intent{Major: partMajor, Minor: partMinor})
				}
			}
		}
	}

	return res
}
