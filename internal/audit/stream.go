package audit

import (
	"context"
	"sync"
	"time"
)

// Event is the wire form of an audit entry delivered to live subscribers
// (SSE clients on the admin surface).
type Event struct {
	Event     string         `json:"event"`
	ActorID   string         `json:"actor_id,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Stream fan-outs audit events to all active subscribers.
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// NewStream initialises an empty stream.
func NewStream() *Stream {
	return &Stream{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (s *Stream) Publish(evt Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}

var (
	streamMu     sync.RWMutex
	globalStream *Stream
)

// SetStream wires the process-wide stream that LogEvent publishes to.
func SetStream(s *Stream) {
	streamMu.Lock()
	globalStream = s
	streamMu.Unlock()
}

func currentStream() *Stream {
	streamMu.RLock()
	defer streamMu.RUnlock()
	return globalStream
}
