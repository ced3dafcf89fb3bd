package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/creachadair/taskgroup"
)

// Server accepts many concurrent clients on a single listener, reading
// JSON messages off each and fanning outbound messages back out over a
// taskgroup.Group, with an addressable Send plus a Broadcast to every
// connected client.
type Server struct {
	logf func(string, ...any)

	mu      sync.Mutex
	clients map[ClientID]*serverConn
	nextID  ClientID
	closed  bool

	events chan Event
}

type serverConn struct {
	id   ClientID
	conn net.Conn
	out  chan []byte
	done chan struct{}
}

// NewServer constructs a Server. If logf is nil, logs are discarded.
func NewServer(logf func(string, ...any)) *Server {
	return &Server{
		logf:    logf,
		clients: make(map[ClientID]*serverConn),
		events:  make(chan Event, outboxCapacity),
	}
}

// Events returns the channel of connect/disconnect/message events. The
// caller must drain it promptly; while the channel is full, new events are
// dropped and logged.
func (s *Server) Events() <-chan Event { return s.events }

// Serve accepts connections from lst until lst closes or ctx is done.
func (s *Server) Serve(ctx context.Context, lst net.Listener) {
	var g taskgroup.Group
	g.Run(func() {
		<-ctx.Done()
		s.logPrintf("ipc: context done, closing listener")
		lst.Close()
	})
	for {
		conn, err := lst.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.logPrintf("ipc: accept: %v", err)
			}
			break
		}
		g.Go(func() error {
			s.serveOne(conn)
			return nil
		})
	}
	g.Wait()
	s.Close()
}

func (s *Server) serveOne(conn net.Conn) {
	sc := &serverConn{
		conn: conn,
		out:  make(chan []byte, outboxCapacity),
		done: make(chan struct{}),
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.nextID++
	sc.id = s.nextID
	s.clients[sc.id] = sc
	s.mu.Unlock()

	s.emit(Event{Kind: EventConnected, Client: sc.id})

	var g taskgroup.Group
	g.Go(func() error {
		s.writeLoop(sc)
		return nil
	})
	s.readLoop(sc)

	close(sc.done)
	g.Wait()

	s.mu.Lock()
	delete(s.clients, sc.id)
	s.mu.Unlock()
	conn.Close()
	s.emit(Event{Kind: EventDisconnected, Client: sc.id})
}

func (s *Server) readLoop(sc *serverConn) {
	dec := json.NewDecoder(sc.conn)
	for {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if !errors.Is(err, io.EOF) {
				s.logPrintf("ipc: client %d read: %v", sc.id, err)
			}
			return
		}
		s.emit(Event{Kind: EventMessage, Client: sc.id, Message: raw})
	}
}

func (s *Server) writeLoop(sc *serverConn) {
	for {
		select {
		case buf, ok := <-sc.out:
			if !ok {
				return
			}
			if _, err := sc.conn.Write(buf); err != nil {
				s.logPrintf("ipc: client %d write: %v", sc.id, err)
				return
			}
		case <-sc.done:
			return
		}
	}
}

// Send encodes msg as JSON and delivers it to the named client. It returns
// ErrDisconnected if the client is unknown (already gone) or its outbound
// queue is full.
func (s *Server) Send(id ClientID, msg any) error {
	buf, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("ipc: marshal: %w", err)
	}
	s.mu.Lock()
	sc, ok := s.clients[id]
	s.mu.Unlock()
	if !ok {
		return ErrDisconnected
	}
	select {
	case sc.out <- buf:
		return nil
	default:
		return ErrDisconnected
	}
}

// Broadcast sends msg to every currently connected client and returns how
// many received it (clients whose queue was full are skipped, not
// errored).
func (s *Server) Broadcast(msg any) int {
	buf, err := json.Marshal(msg)
	if err != nil {
		s.logPrintf("ipc: broadcast marshal: %v", err)
		return 0
	}
	s.mu.Lock()
	targets := make([]*serverConn, 0, len(s.clients))
	for _, sc := range s.clients {
		targets = append(targets, sc)
	}
	s.mu.Unlock()

	sent := 0
	for _, sc := range targets {
		select {
		case sc.out <- buf:
			sent++
		default:
		}
	}
	return sent
}

// Close disconnects every client and marks the server closed, so any
// connection accepted afterwards is closed at once. It does not close the
// listener passed to Serve.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	conns := make([]*serverConn, 0, len(s.clients))
	for _, sc := range s.clients {
		conns = append(conns, sc)
	}
	s.mu.Unlock()
	for _, sc := range conns {
		sc.conn.Close()
	}
}

func (s *Server) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.logPrintf("ipc: event channel full, dropping %s event for client %d", ev.Kind, ev.Client)
	}
}

func (s *Server) logPrintf(format string, args ...any) {
	if s.logf != nil {
		s.logf(format, args...)
	}
}
