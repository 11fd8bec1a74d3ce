/*
Package policyserver implements the Postfix policy-delegation wire protocol
(spec.md §4.E): a long-running TCP accept loop where each connection
carries exactly one query and one response line. Concurrency is bounded by
a buffered-channel semaphore sized max-connections, adapted from the
teacher's per-IP rate-limited TCPServer — here the limit is a fixed pool
size rather than a per-client rate, since the spec calls for "bounded
connection pool of size max-connections" with no per-client weighting
(spec.md §4.E, §5).
*/
package policyserver

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/postwhite/postwhite/decision"
	"github.com/postwhite/postwhite/lalog"
	"github.com/postwhite/postwhite/metrics"
	"github.com/postwhite/postwhite/request"
)

// ConnectionIOTimeout bounds how long a handler will wait on a single
// connection's request/response exchange before giving up.
const ConnectionIOTimeout = 30 * time.Second

// Server is the policy-protocol TCP listener.
type Server struct {
	ListenAddr     string
	ListenPort     int
	MaxConnections int
	Engine         *decision.Engine
	Logger         lalog.Logger
	Metrics        *metrics.Collector

	listener net.Listener
	slots    chan struct{}
}

// Initialise prepares the server's internal structures; call before
// StartAndBlock.
func (s *Server) Initialise() {
	if s.MaxConnections < 1 {
		s.MaxConnections = 1
	}
	s.slots = make(chan struct{}, s.MaxConnections)
}

// StartAndBlock opens the listener and serves connections until it is
// closed by Stop or fails to accept.
func (s *Server) StartAndBlock() error {
	if s.slots == nil {
		s.Initialise()
	}
	addr := net.JoinHostPort(s.ListenAddr, strconv.Itoa(s.ListenPort))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("policyserver: failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	s.Logger.Info("StartAndBlock", addr, nil, "policy server listening")
	for {
		conn, err := listener.Accept()
		if err != nil {
			return nil
		}
		s.slots <- struct{}{}
		go s.handle(conn)
	}
}

// Stop closes the listener, causing StartAndBlock to return.
func (s *Server) Stop() {
	if s.listener != nil {
		s.listener.Close()
	}
}

// handle processes one connection. The caller must have already acquired a
// slot from s.slots before spawning this as a goroutine, bounding
// accept-time concurrency itself rather than just processing concurrency.
func (s *Server) handle(conn net.Conn) {
	if s.Metrics != nil {
		s.Metrics.ActiveConnections.Inc()
	}
	defer func() {
		conn.Close()
		<-s.slots
		if s.Metrics != nil {
			s.Metrics.ActiveConnections.Dec()
		}
	}()

	conn.SetDeadline(time.Now().Add(ConnectionIOTimeout))
	req, err := request.Parse(conn)
	if err != nil {
		s.Logger.Warning("handle", conn.RemoteAddr(), err, "failed to parse policy request")
		fmt.Fprint(conn, "action=DUNNO daemon error\n\n")
		return
	}
	result := s.Engine.Decide(req)
	if _, err := fmt.Fprint(conn, result.Render()); err != nil {
		s.Logger.Warning("handle", conn.RemoteAddr(), err, "failed to write policy response")
	}
}
