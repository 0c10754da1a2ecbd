// Package control exposes the command surface over a TCP line protocol.
// Each request is one line: the command followed by pipe-separated
// arguments. Responses are a single line, "ok|<result>" or "err|<message>".
//
//	:PARAM:SET:|speed|4.5
//	:COURSE:PATH:|Loading Bay|[[0,0],[40,0]]
//	:RUN:START:|Dock Approach|regression
package control

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/trailerlab/trailerd/internal/dispatcher"
)

// maxLineSize bounds one request line. Course polylines are the largest
// payload and fit comfortably.
const maxLineSize = 1 << 20

// ErrServerClosed is returned by Serve after Close.
var ErrServerClosed = errors.New("control server closed")

// Server accepts control connections and feeds commands to the dispatcher.
type Server struct {
	addr string
	d    *dispatcher.Dispatcher
	log  *slog.Logger

	mu     sync.Mutex
	ln     net.Listener
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewServer creates a control server listening on addr.
func NewServer(addr string, d *dispatcher.Dispatcher, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:  addr,
		d:     d,
		log:   logger,
		conns: make(map[net.Conn]struct{}),
	}
}

// Start binds the listener and serves connections in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("control listen on %s: %w", s.addr, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return ErrServerClosed
	}
	s.ln = ln
	s.mu.Unlock()

	s.log.Info("control server listening", "addr", ln.Addr().String())

	s.wg.Add(1)
	go s.acceptLoop(ln)
	return nil
}

// Addr returns the bound listener address, or empty before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Close stops the listener, disconnects clients and waits for handlers.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.ln
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			s.log.Error("control accept failed", "error", err)
			return
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	s.log.Debug("control client connected", "remote", conn.RemoteAddr().String())

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	writer := bufio.NewWriter(conn)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		resp := s.handleLine(line)
		if _, err := writer.WriteString(resp + "\n"); err != nil {
			return
		}
		if err := writer.Flush(); err != nil {
			return
		}
	}
	s.log.Debug("control client disconnected", "remote", conn.RemoteAddr().String())
}

// handleLine parses one request line and dispatches it.
func (s *Server) handleLine(line string) string {
	parts := strings.Split(line, "|")
	command := parts[0]
	args := parts[1:]

	result, err := s.d.Dispatch(dispatcher.Event{
		Command:   command,
		Args:      args,
		Timestamp: time.Now(),
	})
	if err != nil {
		return "err|" + sanitize(err.Error())
	}
	if result == nil {
		return "ok|"
	}
	return "ok|" + sanitize(fmt.Sprintf("%v", result))
}

// sanitize keeps responses single-line.
func sanitize(s string) string {
	return strings.ReplaceAll(s, "\n", " ")
}
