package app

import (
	"sync"
	"time"

	evbus "github.com/asaskevich/EventBus"
	"github.com/google/uuid"
)

const topicSessionChanged = "session:changed"

// ChangeKind names what happened to a session.
type ChangeKind string

// Session change kinds delivered to OnSessionChange subscribers.
const (
	SessionSignedIn  ChangeKind = "signed_in"
	SessionSignedOut ChangeKind = "signed_out"
	SessionRefreshed ChangeKind = "refreshed"
	SessionExpired   ChangeKind = "expired"
)

// SessionChange is published whenever a session is created, ended, extended
// or found expired.
type SessionChange struct {
	Kind      ChangeKind
	SessionID uuid.UUID
	Token     string
	UserID    int64
	ExpiresAt time.Time
	At        time.Time
}

// sessionEvents fans bus notifications out to listeners. EventBus matches
// handlers by code pointer on unsubscribe, which cannot tell two closures of
// the same literal apart, so per-listener bookkeeping lives here and the bus
// carries a single dispatch handler.
type sessionEvents struct {
	bus evbus.Bus

	mu        sync.Mutex
	nextID    uint64
	listeners map[uint64]func(SessionChange)
}

func newSessionEvents() *sessionEvents {
	e := &sessionEvents{
		bus:       evbus.New(),
		listeners: make(map[uint64]func(SessionChange)),
	}
	_ = e.bus.Subscribe(topicSessionChanged, e.dispatch)
	return e
}

// publish delivers c synchronously. Listeners must not publish from inside
// their callback: the bus holds its lock while dispatching.
func (e *sessionEvents) publish(c SessionChange) {
	e.bus.Publish(topicSessionChanged, c)
}

func (e *sessionEvents) dispatch(c SessionChange) {
	e.mu.Lock()
	fns := make([]func(SessionChange), 0, len(e.listeners))
	for _, fn := range e.listeners {
		fns = append(fns, fn)
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}

func (e *sessionEvents) subscribe(fn func(SessionChange)) func() {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.listeners[id] = fn
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.listeners, id)
			e.mu.Unlock()
		})
	}
}

func (e *sessionEvents) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners)
}
