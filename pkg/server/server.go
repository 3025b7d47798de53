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

// Package server speaks the droidvold control protocol on a local stream
// socket: length-prefixed text frames, space-separated tokens with
// shell-like quoting. Responses are "<code> <text>"; 6xx broadcasts fan
// out to every connected client.
package server

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"bocloud.com/cloudnative/droidvold/pkg/devicemanager"
	"bocloud.com/cloudnative/droidvold/utils/log"
)

// maxFrame bounds a single command frame.
const maxFrame = 4096

type Server struct {
	vm         *devicemanager.VolumeManager
	socketPath string

	listener net.Listener

	mu      sync.Mutex
	clients map[net.Conn]struct{}
}

func New(vm *devicemanager.VolumeManager, socketPath string) *Server {
	return &Server{
		vm:         vm,
		socketPath: socketPath,
		clients:    make(map[net.Conn]struct{}),
	}
}

// Start binds the socket and serves connections until Stop. Bind failure
// is fatal at startup.
func (s *Server) Start() error {
	_ = os.Remove(s.socketPath)
	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", s.socketPath, err)
	}
	s.listener = listener

	go s.acceptLoop()
	log.Infof("command listener on %s", s.socketPath)
	return nil
}

func (s *Server) Stop() {
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.mu.Lock()
	for conn := range s.clients {
		_ = conn.Close()
	}
	s.clients = make(map[net.Conn]struct{})
	s.mu.Unlock()
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.clients[conn] = struct{}{}
		s.mu.Unlock()
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		line, err := readFrame(conn)
		if err != nil {
			if err != io.EOF {
				log.Debugf("client read: %v", err)
			}
			return
		}

		argv, err := Tokenize(line)
		if err != nil || len(argv) == 0 {
			s.send(conn, 406, "Command syntax error")
			continue
		}

		code, text := Dispatch(s.vm, argv)
		s.send(conn, code, text)
	}
}

func (s *Server) send(conn net.Conn, code int, text string) {
	if err := writeFrame(conn, fmt.Sprintf("%d %s", code, text)); err != nil {
		log.Debugf("client write: %v", err)
	}
}

// Broadcast sends "<code> <payload>" to every connected client. Implements
// the device manager's broadcaster sink.
func (s *Server) Broadcast(code int, payload string) {
	frame := fmt.Sprintf("%d %s", code, payload)
	log.Debugf("broadcast %s", frame)

	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.clients {
		if err := writeFrame(conn, frame); err != nil {
			log.Debugf("broadcast to client: %v", err)
		}
	}
}

// readFrame reads one length-prefixed frame: 2-byte big-endian length plus
// UTF-8 payload.
func readFrame(r io.Reader) (string, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return "", err
	}
	n := binary.BigEndian.Uint16(hdr[:])
	if n > maxFrame {
		return "", fmt.Errorf("frame of %d bytes exceeds limit", n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return "", err
	}
	return string(payload), nil
}

func writeFrame(w io.Writer, text string) error {
	payload := []byte(text)
	if len(payload) > maxFrame {
		payload = payload[:maxFrame]
	}
	var hdr [2]byte
	binary.BigEndian.PutUint16(hdr[:], uint16(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}
