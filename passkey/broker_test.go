package passkey_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/thornfield-labs/credagent/passkey"
)

// fakeSender records every envelope sent and lets the test script replies
// back into the broker via Dispatch.
type fakeSender struct {
	mu       sync.Mutex
	sent     []passkey.Envelope
	failNext bool
}

func (f *fakeSender) Send(msg any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return errors.New("simulated send failure")
	}
	env, ok := msg.(passkey.Envelope)
	if !ok {
		return errors.New("unexpected message type")
	}
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeSender) last() passkey.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

func TestBrokerSendAndDispatch(t *testing.T) {
	sender := &fakeSender{}
	b := passkey.NewBroker(sender, t.Logf)

	done := make(chan struct {
		raw json.RawMessage
		err error
	}, 1)
	go func() {
		raw, err := b.Send(context.Background(), passkey.LockStatusRequest{}, time.Second)
		done <- struct {
			raw json.RawMessage
			err error
		}{raw, err}
	}()

	// Wait for the request to be "sent", then simulate the reply arriving
	// over the transport.
	deadline := time.After(time.Second)
	var seq uint32
	for seq == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for broker to send request")
		default:
		}
		if env := peekLast(sender); env.SequenceNumber != 0 {
			seq = env.SequenceNumber
			break
		}
		time.Sleep(time.Millisecond)
	}

	respValue, _ := json.Marshal(passkey.LockStatusResponse{IsUnlocked: true})
	reply, _ := json.Marshal(passkey.Envelope{SequenceNumber: seq, Value: respValue})
	b.Dispatch(reply)

	select {
	case res := <-done:
		if res.err != nil {
			t.Fatalf("Send: %v", res.err)
		}
		var got passkey.LockStatusResponse
		if err := json.Unmarshal(res.raw, &got); err != nil {
			t.Fatalf("unmarshal response: %v", err)
		}
		if !got.IsUnlocked {
			t.Error("IsUnlocked = false, want true")
		}
	case <-time.After(time.Second):
		t.Fatal("Send did not return after Dispatch")
	}
}

func peekLast(f *fakeSender) passkey.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return passkey.Envelope{}
	}
	return f.sent[len(f.sent)-1]
}

func TestBrokerTimeout(t *testing.T) {
	sender := &fakeSender{}
	b := passkey.NewBroker(sender, t.Logf)

	_, err := b.Send(context.Background(), passkey.LockStatusRequest{}, 10*time.Millisecond)
	if !errors.Is(err, passkey.ErrTimeout) {
		t.Fatalf("Send: err = %v, want ErrTimeout", err)
	}
}

func TestBrokerSendFailureIsSynchronous(t *testing.T) {
	sender := &fakeSender{failNext: true}
	b := passkey.NewBroker(sender, t.Logf)

	_, err := b.Send(context.Background(), passkey.LockStatusRequest{}, time.Second)
	var internalErr *passkey.InternalError
	if !errors.As(err, &internalErr) {
		t.Fatalf("Send: err = %v, want *InternalError", err)
	}
}

func TestBrokerUnknownSequenceIsDroppedNotFatal(t *testing.T) {
	sender := &fakeSender{}
	b := passkey.NewBroker(sender, t.Logf)

	respValue, _ := json.Marshal(passkey.LockStatusResponse{IsUnlocked: true})
	reply, _ := json.Marshal(passkey.Envelope{SequenceNumber: 999, Value: respValue})
	b.Dispatch(reply) // must not panic
}

func TestBrokerSequenceNumbersUniqueUnderConcurrency(t *testing.T) {
	sender := &fakeSender{}
	b := passkey.NewBroker(sender, t.Logf)

	const n = 32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Send(context.Background(), passkey.LockStatusRequest{}, 20*time.Millisecond)
		}()
	}
	wg.Wait()

	seen := map[uint32]bool{}
	sender.mu.Lock()
	for _, env := range sender.sent {
		if seen[env.SequenceNumber] {
			t.Errorf("sequence number %d reused", env.SequenceNumber)
		}
		seen[env.SequenceNumber] = true
	}
	sender.mu.Unlock()
}
