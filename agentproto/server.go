// Package agentproto implements the SSH agent wire protocol surface of the
// credential agent: per-connection key listing and signing, gated by a UI
// approval round-trip, and the session-bind@openssh.com extension used to
// tie forwarded-agent connections to a host key.
package agentproto

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"github.com/creachadair/taskgroup"
	"golang.org/x/crypto/ssh/agent"

	"github.com/thornfield-labs/credagent/keystore"
	"github.com/thornfield-labs/credagent/peerid"
)

// Config carries the settings for a [Server].
type Config struct {
	// Keys is the key store backing List and Sign. It must be set.
	Keys *keystore.Store

	// Approvals routes List/Sign confirmation requests to the host UI. It
	// must be set.
	Approvals *ApprovalChannel

	// Logf, if set, is used to write logs. If nil, logs are discarded.
	Logf func(string, ...any)
}

// Server implements the listener side of the SSH agent socket. Server
// itself never answers agent RPCs: ServeOne constructs a fresh connHandler
// per connection so that session-bind state never leaks between clients,
// while Keys and Approvals stay shared across every connection.
type Server struct {
	keys      *keystore.Store
	approvals *ApprovalChannel
	logf      func(string, ...any)

	stopOnce sync.Once
	stop     chan struct{}

	everUnlocked atomic.Bool
}

// NewServer constructs a Server from config.
func NewServer(config Config) *Server {
	if config.Keys == nil {
		panic("agentproto: Config.Keys is nil")
	}
	if config.Approvals == nil {
		panic("agentproto: Config.Approvals is nil")
	}
	return &Server{
		keys:      config.Keys,
		approvals: config.Approvals,
		logf:      config.Logf,
		stop:      make(chan struct{}),
	}
}

// NoteUnlocked records that the key store holds material the user has
// already approved listing once. Call this whenever the vault pushes a
// fresh set of unlocked keys.
func (s *Server) NoteUnlocked() {
	s.everUnlocked.Store(true)
}

// NoteCleared records that the key store has been emptied (ClearKeys), so
// the next List on any connection requires a fresh approval.
func (s *Server) NoteCleared() {
	s.everUnlocked.Store(false)
}

// Stop unblocks every in-flight approval wait and causes subsequent
// connections' askCtx calls to resolve as cancelled. It is idempotent.
func (s *Server) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Serve accepts connections from lst and serves the agent protocol to each
// on its own goroutine, constructing one connHandler per connection
// instead of reusing a single shared handler. It stops accepting when lst
// closes or ctx ends, and returns once ctx has ended and every connection
// has finished.
func (s *Server) Serve(ctx context.Context, lst net.Listener) {
	var g taskgroup.Group
	g.Run(func() {
		<-ctx.Done()
		lst.Close()
	})
	for {
		conn, err := lst.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.logPrintf("agentproto: listener stopped: %v", err)
			}
			break
		}
		g.Go(func() error { return s.ServeOne(conn) })
	}
	g.Wait()
}

// ServeOne serves the agent protocol to one connection, identifying its
// peer first and constructing a fresh per-connection handler so that
// session-bind state is scoped to this connection alone. It is safe to call
// concurrently with Serve and with other ServeOne calls.
func (s *Server) ServeOne(conn net.Conn) error {
	defer conn.Close()

	info, err := peerid.Identify(conn)
	if err != nil {
		s.logPrintf("agentproto: peer identification unavailable: %v", err)
	}

	h := &connHandler{
		keys:         s.keys,
		approvals:    s.approvals,
		logf:         s.logf,
		stop:         s.stop,
		everUnlocked: s.everUnlocked.Load,
		ctx:          connectionContext{peer: info},
	}
	return agent.ServeAgent(h, conn)
}

func (s *Server) logPrintf(format string, args ...any) {
	if s.logf != nil {
		s.logf(format, args...)
	}
}
