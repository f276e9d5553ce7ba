package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fluxorio/appbridge/pkg/core"
	"github.com/fluxorio/appbridge/pkg/loop"
)

func startLoop(t *testing.T, name string) *loop.Loop {
	t.Helper()

	l := loop.New(loop.Config{Name: name, QueueSize: 64, Logger: core.NewNopLogger()})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return l
}

func flush(t *testing.T, loops ...*loop.Loop) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, l := range loops {
		if err := l.Flush(ctx); err != nil {
			t.Fatalf("Flush(%s) error = %v", l.Name(), err)
		}
	}
}

// inbox collects messages delivered to a handler
type inbox struct {
	mu   sync.Mutex
	msgs []Message
	ch   chan Message
}

func newInbox() *inbox {
	return &inbox{ch: make(chan Message, 64)}
}

func (i *inbox) handler(_ context.Context, msg Message) {
	i.mu.Lock()
	i.msgs = append(i.msgs, msg)
	i.mu.Unlock()
	i.ch <- msg
}

func (i *inbox) wait(t *testing.T) Message {
	t.Helper()
	select {
	case msg := <-i.ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func (i *inbox) len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.msgs)
}

type stubMessage struct {
	id      string
	payload string
	replies []string
	err     error
}

func (m *stubMessage) ID() string      { return m.id }
func (m *stubMessage) Payload() string { return m.payload }
func (m *stubMessage) Sender() string  { return "com.example.caller" }
func (m *stubMessage) Method() string  { return "/status" }

func (m *stubMessage) Reply(payload string) error {
	if m.err != nil {
		return m.err
	}
	m.replies = append(m.replies, payload)
	return nil
}
