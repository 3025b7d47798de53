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

// Package uevent reads kernel hot-plug notifications from a
// NETLINK_KOBJECT_UEVENT socket and feeds parsed block events to a
// handler.
package uevent

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"bocloud.com/cloudnative/droidvold/pkg/devicemanager/types"
	"bocloud.com/cloudnative/droidvold/utils/log"
)

const bufSize = 64 * 1024

// Handler consumes parsed uevents.
type Handler func(*types.UEvent)

// Reader owns the netlink socket.
type Reader struct {
	fd      int
	handler Handler
}

// NewReader opens and binds the uevent socket. Failure is fatal at
// startup.
func NewReader(handler Handler) (*Reader, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, unix.NETLINK_KOBJECT_UEVENT)
	if err != nil {
		return nil, fmt.Errorf("failed to open uevent socket: %w", err)
	}

	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUFFORCE, 1<<20)

	addr := &unix.SockaddrNetlink{
		Family: unix.AF_NETLINK,
		Groups: 0xffffffff,
		Pid:    uint32(os.Getpid()),
	}
	if err := unix.Bind(fd, addr); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("failed to bind uevent socket: %w", err)
	}

	return &Reader{fd: fd, handler: handler}, nil
}

// Start consumes events until the socket is closed.
func (r *Reader) Start() {
	go r.loop()
}

func (r *Reader) Stop() {
	_ = unix.Close(r.fd)
}

func (r *Reader) loop() {
	buf := make([]byte, bufSize)
	for {
		n, _, err := unix.Recvfrom(r.fd, buf, 0)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			log.Infof("uevent reader stopping: %v", err)
			return
		}
		if evt := Parse(buf[:n]); evt != nil {
			r.handler(evt)
		}
	}
}

// Parse decodes one raw uevent message: "action@devpath" followed by
// NUL-separated KEY=VALUE pairs. Non-block events return nil.
func Parse(raw []byte) *types.UEvent {
	fields := strings.Split(string(raw), "\x00")
	if len(fields) == 0 {
		return nil
	}

	action, _, ok := strings.Cut(fields[0], "@")
	if !ok {
		return nil
	}

	evt := &types.UEvent{Action: action, PartN: -1}
	for _, field := range fields[1:] {
		k, v, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch k {
		case "ACTION":
			evt.Action = v
		case "SUBSYSTEM":
			evt.Subsystem = v
		case "DEVPATH":
			evt.DevPath = v
		case "DEVNAME":
			evt.DevName = v
		case "DEVTYPE":
			evt.DevType = v
		case "MAJOR":
			if n, err := strconv.Atoi(v); err == nil {
				evt.Major = uint32(n)
			}
		case "MINOR":
			if n, err := strconv.Atoi(v); err == nil {
				evt.Minor = uint32(n)
			}
		case "PARTN":
			if n, err := strconv.Atoi(v); err == nil {
				evt.PartN = n
			}
		}
	}

	if evt.Subsystem != "block" {
		return nil
	}
	return evt
}
