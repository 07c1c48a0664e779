package bus

import (
	"context"
	"strings"
	"sync"

	"github.com/cohort-dev/cohort/internal/common/logger"
)

// MemoryBus is an in-process Bus. Handlers run on the publisher's goroutine;
// a panicking handler is recovered and logged.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string][]*memorySub
	closed bool
	log    *logger.Logger
}

type memorySub struct {
	bus     *MemoryBus
	subject string
	handler Handler
}

// NewMemoryBus builds an empty in-memory bus.
func NewMemoryBus(log *logger.Logger) *MemoryBus {
	if log == nil {
		log = logger.Default()
	}
	return &MemoryBus{subs: make(map[string][]*memorySub), log: log}
}

func (b *MemoryBus) Publish(_ context.Context, subject string, data []byte) error {
	b.mu.RLock()
	var handlers []Handler
	for pattern, subs := range b.subs {
		if !matches(pattern, subject) {
			continue
		}
		for _, s := range subs {
			handlers = append(handlers, s.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.dispatch(h, subject, data)
	}
	return nil
}

func (b *MemoryBus) dispatch(h Handler, subject string, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked")
		}
	}()
	h(subject, data)
}

func (b *MemoryBus) Subscribe(_ context.Context, subject string, handler Handler) (Subscription, error) {
	s := &memorySub{bus: b, subject: subject, handler: handler}
	b.mu.Lock()
	b.subs[subject] = append(b.subs[subject], s)
	b.mu.Unlock()
	return s, nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	b.subs = make(map[string][]*memorySub)
	b.closed = true
	b.mu.Unlock()
	return nil
}

func (s *memorySub) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	subs := s.bus.subs[s.subject]
	for i, cur := range subs {
		if cur == s {
			s.bus.subs[s.subject] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	return nil
}

// matches supports exact subjects and a trailing ">" wildcard segment.
func matches(pattern, subject string) bool {
	if pattern == subject {
		return true
	}
	if strings.HasSuffix(pattern, ".>") {
		return strings.HasPrefix(subject, strings.TrimSuffix(pattern, ">"))
	}
	return false
}
