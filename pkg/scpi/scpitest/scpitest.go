// Package scpitest runs an in-process SCPI instrument on a loopback socket
// for tests.
package scpitest

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

// Handler answers one command. A nil reply sends nothing back.
type Handler func(cmd string) []byte

// Server is a fake instrument accepting one connection at a time.
type Server struct {
	Addr string

	ln      net.Listener
	handler Handler

	mu       sync.Mutex
	commands []string
	conns    []net.Conn
	wg       sync.WaitGroup
}

// NewServer starts a server and stops it when the test ends.
func NewServer(t *testing.T, h Handler) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &Server{Addr: ln.Addr().String(), ln: ln, handler: h}
	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.Close)
	return s
}

// Close stops accepting connections and waits for active ones to end.
func (s *Server) Close() {
	s.ln.Close()
	s.mu.Lock()
	for _, c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Commands returns every command received so far, in order.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// AwaitLast blocks until the most recently received command is cmd.
// Commands that expect no reply may still be in flight when the client
// returns.
func (s *Server) AwaitLast(t *testing.T, cmd string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		cmds := s.Commands()
		if len(cmds) > 0 && cmds[len(cmds)-1] == cmd {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("scpitest: last command is not %q; got %v", cmd, cmds)
		}
		time.Sleep(time.Millisecond)
	}
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		s.wg.Add(1)
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.TrimSpace(line)
		s.mu.Lock()
		s.commands = append(s.commands, cmd)
		s.mu.Unlock()

		if reply := s.handler(cmd); reply != nil {
			if _, err := conn.Write(reply); err != nil {
				return
			}
		}
	}
}

// Line formats a text reply.
func Line(format string, args ...any) []byte {
	return []byte(fmt.Sprintf(format, args...) + "\r\n")
}

// Block formats an IEEE 488.2 definite-length block reply.
func Block(payload []byte) []byte {
	n := fmt.Sprint(len(payload))
	out := fmt.Appendf(nil, "#%d%s", len(n), n)
	out = append(out, payload...)
	return append(out, '\r', '\n')
}
