package eventbus

import (
	"sync"

	"github.com/EducloudHQ/video-agent-nova-embeddings/pkg/types"
)

// EventSet is the idempotent merge rule consumers apply to the at-least-once
// stream: an event is visible at most once, deduplicated on its callbackId
// when present, otherwise on (requestId, status, videoUrl). Any sequence of
// duplicate deliveries converges to the same visible set as a single
// delivery of each unique event.
type EventSet struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewEventSet returns an empty merge set.
func NewEventSet() *EventSet {
	return &EventSet{seen: make(map[string]struct{})}
}

func mergeKey(event types.StatusEvent) string {
	if event.CallbackID != "" {
		return event.RequestID + "|" + string(event.Status) + "|cb:" + event.CallbackID
	}
	return event.RequestID + "|" + string(event.Status) + "|url:" + event.VideoURL
}

// Apply merges an event and reports whether it was new. Duplicates return
// false and leave the set unchanged.
func (s *EventSet) Apply(event types.StatusEvent) bool {
	key := mergeKey(event)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[key]; ok {
		return false
	}
	s.seen[key] = struct{}{}
	return true
}

// Len returns the number of unique events applied so far.
func (s *EventSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}
