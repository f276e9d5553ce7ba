package bus

import (
	"sync"

	"github.com/tidwall/gjson"

	"github.com/fluxorio/appbridge/pkg/core"
)

// IsSubscribePayload reports whether payload asks for a subscription
// ("subscribe": true)
func IsSubscribePayload(payload string) bool {
	if !gjson.Valid(payload) {
		return false
	}
	v := gjson.Get(payload, "subscribe")
	return v.Type == gjson.True
}

// IsSubscription reports whether msg is a subscribing method call
func IsSubscription(msg Message) bool {
	return IsSubscribePayload(msg.Payload())
}

// SubscriptionSet tracks subscribing callers of a service's methods so that
// later updates can be posted to all of them.
type SubscriptionSet struct {
	mu     sync.Mutex
	subs   map[string][]Message
	logger core.Logger
}

// NewSubscriptionSet creates an empty set
func NewSubscriptionSet(logger core.Logger) *SubscriptionSet {
	if logger == nil {
		logger = core.NewNopLogger()
	}
	return &SubscriptionSet{
		subs:   make(map[string][]Message),
		logger: logger,
	}
}

// Process adds msg under key if it is a subscribing call and reports
// whether it was added.
func (s *SubscriptionSet) Process(key string, msg Message) bool {
	if !IsSubscription(msg) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[key] = append(s.subs[key], msg)
	return true
}

// Post replies payload to every subscriber under key and returns how many
// received it. Subscribers that can no longer be reached are dropped.
func (s *SubscriptionSet) Post(key, payload string) int {
	s.mu.Lock()
	subs := append([]Message(nil), s.subs[key]...)
	s.mu.Unlock()

	delivered := 0
	var failed map[string]bool
	for _, msg := range subs {
		if err := msg.Reply(payload); err != nil {
			s.logger.Warnf("bus: dropping subscriber %s on %s: %v", msg.Sender(), key, err)
			if failed == nil {
				failed = make(map[string]bool)
			}
			failed[msg.ID()] = true
			continue
		}
		delivered++
	}

	if failed != nil {
		s.mu.Lock()
		kept := s.subs[key][:0]
		for _, msg := range s.subs[key] {
			if !failed[msg.ID()] {
				kept = append(kept, msg)
			}
		}
		if len(kept) == 0 {
			delete(s.subs, key)
		} else {
			s.subs[key] = kept
		}
		s.mu.Unlock()
	}
	return delivered
}

// Cancel removes msg from every key it was added under
func (s *SubscriptionSet) Cancel(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, subs := range s.subs {
		kept := subs[:0]
		for _, m := range subs {
			if m.ID() != msg.ID() {
				kept = append(kept, m)
			}
		}
		if len(kept) == 0 {
			delete(s.subs, key)
		} else {
			s.subs[key] = kept
		}
	}
}

// Count returns the number of subscribers under key
func (s *SubscriptionSet) Count(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs[key])
}

// Clear drops all subscribers
func (s *SubscriptionSet) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = make(map[string][]Message)
}
