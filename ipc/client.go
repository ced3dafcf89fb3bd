package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

const (
	maxReconnectAttempts = 20
	reconnectDelay       = 5 * time.Second
)

// State is the Client's connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// Dialer opens a connection to the server. A closure that calls
// transport.Dial with a fixed path satisfies this.
type Dialer func(ctx context.Context) (net.Conn, error)

// Client connects to an ipc.Server, reconnecting on drop up to
// maxReconnectAttempts times with reconnectDelay between attempts. Once
// attempts are exhausted it settles into StateDisconnected and stays there;
// any Send made in that state fails synchronously with ErrDisconnected
// rather than queuing.
type Client struct {
	dial Dialer
	logf func(string, ...any)

	mu    sync.Mutex
	state State
	conn  net.Conn
	out   chan []byte

	events chan Event
}

// NewClient constructs a Client that dials via dial. If logf is nil, logs
// are discarded.
func NewClient(dial Dialer, logf func(string, ...any)) *Client {
	return &Client{
		dial:   dial,
		logf:   logf,
		events: make(chan Event, outboxCapacity),
	}
}

// Events returns the channel of connected/disconnected/message events.
func (c *Client) Events() <-chan Event { return c.events }

// State reports the client's current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Run drives the connect/reconnect loop until ctx is done. It should be run
// in its own goroutine.
func (c *Client) Run(ctx context.Context) {
	for attempt := 0; attempt < maxReconnectAttempts; attempt++ {
		if ctx.Err() != nil {
			return
		}
		c.setState(StateConnecting)
		conn, err := c.dial(ctx)
		if err != nil {
			c.logPrintf("ipc: dial attempt %d/%d failed: %v", attempt+1, maxReconnectAttempts, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectDelay):
			}
			continue
		}

		attempt = -1 // a successful connection resets the attempt budget
		c.runConnection(ctx, conn)

		if ctx.Err() != nil {
			return
		}
	}
	c.setState(StateDisconnected)
	c.logPrintf("ipc: reconnect attempts exhausted, giving up")
}

func (c *Client) runConnection(ctx context.Context, conn net.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.out = make(chan []byte, outboxCapacity)
	c.state = StateConnected
	out := c.out
	c.mu.Unlock()

	c.emit(Event{Kind: EventConnected})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case buf, ok := <-out:
				if !ok {
					return
				}
				if _, err := conn.Write(buf); err != nil {
					c.logPrintf("ipc: write: %v", err)
					conn.Close()
					return
				}
			case <-ctx.Done():
				conn.Close()
				return
			}
		}
	}()

	dec := json.NewDecoder(conn)
	for {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if !errors.Is(err, io.EOF) {
				c.logPrintf("ipc: read: %v", err)
			}
			break
		}
		c.emit(Event{Kind: EventMessage, Message: raw})
	}

	conn.Close()
	<-done

	c.mu.Lock()
	c.conn = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	c.emit(Event{Kind: EventDisconnected})
}

// Send encodes msg as JSON and delivers it on the current connection. If
// the client is not connected, or the outbound queue is full, it returns
// ErrDisconnected synchronously without enqueuing anything.
func (c *Client) Send(msg any) error {
	buf, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("ipc: marshal: %w", err)
	}

	c.mu.Lock()
	state, out := c.state, c.out
	c.mu.Unlock()

	if state != StateConnected || out == nil {
		return ErrDisconnected
	}
	select {
	case out <- buf:
		return nil
	default:
		return ErrDisconnected
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.logPrintf("ipc: event channel full, dropping %s event", ev.Kind)
	}
}

func (c *Client) logPrintf(format string, args ...any) {
	if c.logf != nil {
		c.logf(format, args...)
	}
}
