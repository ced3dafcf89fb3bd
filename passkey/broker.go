// Package passkey implements the sequence-numbered request/response broker
// that sits on top of package ipc: it multiplexes WebAuthn
// registration/assertion requests, window-handle queries, and lock-status
// queries between OS credential-provider extensions and the vault app.
package passkey

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Sender is the minimal outbound capability the broker needs; both
// *ipc.Client and a per-client wrapper around *ipc.Server satisfy it.
type Sender interface {
	Send(msg any) error
}

// expiredCacheSize bounds how many recently-expired sequence numbers the
// broker remembers, purely so a late response logs as "expired" rather
// than "unknown".
const expiredCacheSize = 256

// Broker correlates outbound requests with inbound responses by sequence
// number.
type Broker struct {
	sender Sender
	logf   func(string, ...any)

	mu       sync.Mutex
	nextSeq  uint32
	inflight map[uint32]*pendingRequest
	expired  *lru.Cache[uint32, struct{}]
}

type pendingRequest struct {
	result chan callbackResult
}

type callbackResult struct {
	value json.RawMessage
	err   error
}

// NewBroker constructs a Broker that sends through sender. If logf is nil,
// logs are discarded.
func NewBroker(sender Sender, logf func(string, ...any)) *Broker {
	cache, _ := lru.New[uint32, struct{}](expiredCacheSize)
	return &Broker{
		sender:   sender,
		logf:     logf,
		inflight: make(map[uint32]*pendingRequest),
		expired:  cache,
	}
}

// Send allocates a sequence number, transmits req wrapped in an Envelope,
// and blocks until the matching response arrives, ctx is done, or timeout
// elapses. A non-nil, non-sentinel error return carries an *InternalError.
func (b *Broker) Send(ctx context.Context, req any, timeout time.Duration) (json.RawMessage, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, internalf("marshal request: %v", err)
	}

	seq, pr := b.register()
	env := Envelope{SequenceNumber: seq, Value: payload}

	if err := b.sender.Send(env); err != nil {
		b.remove(seq)
		return nil, internalf("send failed: %v", err)
	}

	select {
	case res := <-pr.result:
		return res.value, res.err
	case <-ctx.Done():
		b.expire(seq)
		return nil, ErrCancelled
	case <-time.After(timeout):
		b.expire(seq)
		return nil, ErrTimeout
	}
}

// SendStatus sends a fire-and-forget NativeStatus with sequence number 0:
// no pending entry is registered and no response is awaited.
func (b *Broker) SendStatus(status NativeStatus) error {
	payload, err := json.Marshal(status)
	if err != nil {
		return internalf("marshal status: %v", err)
	}
	env := Envelope{SequenceNumber: 0, Value: payload}
	if err := b.sender.Send(env); err != nil {
		return internalf("send failed: %v", err)
	}
	return nil
}

// Dispatch is fed every inbound JSON message from the underlying ipc
// connection. If it decodes as a response Envelope whose sequence number
// matches a pending request, that request is completed (or errored, if the
// value carries a tagged error) and removed. An unknown or already-expired
// sequence number is logged and dropped.
func (b *Broker) Dispatch(raw json.RawMessage) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		b.logPrintf("passkey: dispatch: not an envelope: %v", err)
		return
	}
	if env.SequenceNumber == 0 {
		b.logPrintf("passkey: dispatch: ignoring sequence 0 message")
		return
	}

	pr := b.remove(env.SequenceNumber)
	if pr == nil {
		b.mu.Lock()
		_, wasExpired := b.expired.Get(env.SequenceNumber)
		b.mu.Unlock()
		if wasExpired {
			b.logPrintf("passkey: dispatch: late response for expired sequence %d dropped", env.SequenceNumber)
		} else {
			b.logPrintf("passkey: dispatch: unknown sequence %d dropped", env.SequenceNumber)
		}
		return
	}

	if errVal, ok := decodeTaggedError(env.Value); ok {
		pr.result <- callbackResult{err: errVal}
		return
	}
	pr.result <- callbackResult{value: env.Value}
}

// decodeTaggedError recognizes the { "Internal": string } / { "Disconnected": null }
// error shapes carried in an envelope's value.
func decodeTaggedError(raw json.RawMessage) (error, bool) {
	var tagged struct {
		Internal     *string   `json:"Internal"`
		Disconnected *struct{} `json:"Disconnected"`
	}
	if err := json.Unmarshal(raw, &tagged); err != nil {
		return nil, false
	}
	switch {
	case tagged.Internal != nil:
		return &InternalError{Message: *tagged.Internal}, true
	case tagged.Disconnected != nil:
		return ErrDisconnected, true
	default:
		return nil, false
	}
}

func (b *Broker) register() (uint32, *pendingRequest) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var seq uint32
	for {
		b.nextSeq++
		if b.nextSeq == 0 {
			b.nextSeq = 1 // 0 is reserved for "no callback"
		}
		if _, inUse := b.inflight[b.nextSeq]; !inUse {
			seq = b.nextSeq
			break
		}
	}
	pr := &pendingRequest{result: make(chan callbackResult, 1)}
	b.inflight[seq] = pr
	return seq, pr
}

func (b *Broker) remove(seq uint32) *pendingRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	pr := b.inflight[seq]
	delete(b.inflight, seq)
	return pr
}

func (b *Broker) expire(seq uint32) {
	b.mu.Lock()
	delete(b.inflight, seq)
	b.expired.Add(seq, struct{}{})
	b.mu.Unlock()
}

func (b *Broker) logPrintf(format string, args ...any) {
	if b.logf != nil {
		b.logf(format, args...)
	}
}
