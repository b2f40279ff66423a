// Package control implements the local control socket of spec.md §4.F:
// accept connections, parse line commands, dispatch to the daemon, and
// reply with a length-prefixed text payload. Grounded on
// shine/command.py's comm()/handle() for the wire protocol and on
// internal/cli/input.go's strict, deterministic parsing discipline
// (adapted here from argv flags to one socket command line).
package control

import (
	"bufio"
	"encoding/binary"
	"net"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/jlulug/shined/internal/logging"
)

// Commands is the narrow interface the control server dispatches to. The
// daemon package implements it; control never reaches into the task table
// directly, keeping the socket protocol decoupled from daemon internals.
type Commands interface {
	Show() string
	Info(name string) (string, bool)
	Start(name string) string
	Stop(name string) string
	Enable(name string) string
	Disable(name string) string
	Remove(name string) string
	Reload() string
	Kill()
}

// Server binds a Unix domain socket at Path and serves one connection per
// accepted handler goroutine.
type Server struct {
	Path     string
	Commands Commands
	Log      *logging.Logger

	listener net.Listener
}

// Listen removes any stale socket file and binds the control socket.
// Callers should follow with Serve (typically in its own goroutine).
func (s *Server) Listen() error {
	_ = os.Remove(s.Path)
	l, err := net.Listen("unix", s.Path)
	if err != nil {
		return err
	}
	s.listener = l
	return nil
}

// Serve accepts connections until the listener is closed (Close, or the
// daemon shutting down the listener directly).
func (s *Server) Serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

// handle reads newline-terminated command lines and writes back a 4-byte
// big-endian length prefix followed by UTF-8 text, until EOF. Grounded on
// shine/command.py's handle(): "A connection may carry multiple
// request/reply pairs until EOF."
func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	id := uuid.New().String()
	log := s.Log.With("conn", id)

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		reply := Dispatch(s.Commands, line)
		if err := writeReply(conn, reply); err != nil {
			log.Warn("control connection write failed", "error", err)
			return
		}
	}
}

func writeReply(conn net.Conn, reply string) error {
	payload := []byte(reply)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := conn.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := conn.Write(payload)
	return err
}
