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

// Package response defines the 3-digit codes spoken on the droidvold
// control socket. 2xx is command success, 4xx a client-side error, 5xx a
// server-side failure and 6xx an unsolicited broadcast.
package response

import (
	"errors"
	"syscall"
)

const (
	// 2xx command success
	CommandOkay = 200

	// 4xx client error
	OperationFailedNoMedia      = 401
	OperationFailedMediaBlank   = 402
	OperationFailedMediaCorrupt = 403
	// 405 carries both argument mismatches and busy storage, as the
	// framework protocol always has.
	CommandParameterError = 405
	CommandSyntaxError    = 406

	// 5xx server error
	OperationFailed = 500

	// 6xx unsolicited broadcast, payload is "<id> [value]"
	DiskCreated        = 640
	DiskSizeChanged    = 641
	DiskLabelChanged   = 642
	DiskScanned        = 643
	DiskSysPathChanged = 644
	DiskDestroyed      = 649

	VolumeCreated             = 650
	VolumeStateChanged        = 651
	VolumeFsTypeChanged       = 652
	VolumeFsUuidChanged       = 653
	VolumeFsLabelChanged      = 654
	VolumePathChanged         = 655
	VolumeInternalPathChanged = 656
	VolumeDestroyed           = 659
)

// FromErrno maps a loop operation failure onto the closest client error
// code, falling back to the generic server failure.
func FromErrno(err error) int {
	switch {
	case errors.Is(err, syscall.ENODEV) || errors.Is(err, syscall.ENOENT):
		return OperationFailedNoMedia
	case errors.Is(err, syscall.EBUSY):
		return CommandParameterError
	case errors.Is(err, syscall.EIO):
		return OperationFailedMediaCorrupt
	}
	return OperationFailed
}
