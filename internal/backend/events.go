package backend

import (
	"sync"

	"github.com/sakif/crewcall/internal/model"
)

// hub fans lifecycle events out to subscribers.
//
// Each subscriber gets its own unbounded queue and a pump goroutine that feeds
// its channel. publish only appends to queues, so the session store never
// waits on a slow consumer, and each subscriber still sees events in exactly
// the order they were published.
type hub struct {
	mu     sync.Mutex
	subs   map[uint64]*subscriber
	nextID uint64
	closed bool
}

type subscriber struct {
	mu      sync.Mutex
	pending []model.AuthEvent
	wake    chan struct{}
	done    chan struct{}
	out     chan model.AuthEvent
	once    sync.Once
}

func newHub() *hub {
	return &hub{subs: make(map[uint64]*subscriber)}
}

func (h *hub) subscribe() (<-chan model.AuthEvent, func()) {
	s := &subscriber{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		out:  make(chan model.AuthEvent),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		s.stop()
		close(s.out)
		return s.out, func() {}
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = s
	h.mu.Unlock()

	go s.pump()

	return s.out, func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
		s.stop()
	}
}

// publish holds the hub lock while pushing so that two concurrent publishes
// land in the same order in every subscriber's queue.
func (h *hub) publish(ev model.AuthEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.subs {
		s.push(ev)
	}
}

func (h *hub) close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[uint64]*subscriber)
	h.closed = true
	h.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
}

func (s *subscriber) push(ev model.AuthEvent) {
	s.mu.Lock()
	s.pending = append(s.pending, ev)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscriber) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		ev := s.pending[0]
		s.pending[0] = model.AuthEvent{}
		s.pending = s.pending[1:]
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
}
