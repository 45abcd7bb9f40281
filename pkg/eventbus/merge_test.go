package eventbus

import (
	"math/rand"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/EducloudHQ/video-agent-nova-embeddings/pkg/types"
)

func TestEventSet_DuplicatesCollapse(t *testing.T) {
	c := qt.New(t)
	s := NewEventSet()

	event := types.StatusEvent{
		RequestID:  "req-1",
		Status:     types.StatusAwaitingApproval,
		CallbackID: "cb-1",
		VideoURL:   "https://media.test/clip.mp4",
	}

	c.Assert(s.Apply(event), qt.IsTrue)
	c.Assert(s.Apply(event), qt.IsFalse)
	c.Assert(s.Apply(event), qt.IsFalse)
	c.Assert(s.Len(), qt.Equals, 1)
}

func TestEventSet_DistinctCallbacksStayDistinct(t *testing.T) {
	c := qt.New(t)
	s := NewEventSet()

	first := types.StatusEvent{RequestID: "req-1", Status: types.StatusRejected, CallbackID: "cb-1"}
	second := types.StatusEvent{RequestID: "req-1", Status: types.StatusRejected, CallbackID: "cb-2"}

	c.Assert(s.Apply(first), qt.IsTrue)
	c.Assert(s.Apply(second), qt.IsTrue)
	c.Assert(s.Len(), qt.Equals, 2)
}

// Replaying a stream in any order and with any duplication converges to the
// same visible set as a single ordered delivery.
func TestEventSet_RedeliveryConverges(t *testing.T) {
	c := qt.New(t)

	stream := []types.StatusEvent{
		{RequestID: "req-1", Status: types.StatusSearching},
		{RequestID: "req-1", Status: types.StatusAwaitingApproval, CallbackID: "cb-1", VideoURL: "https://media.test/a.mp4"},
		{RequestID: "req-1", Status: types.StatusRejected, CallbackID: "cb-1"},
		{RequestID: "req-1", Status: types.StatusAwaitingApproval, CallbackID: "cb-2", VideoURL: "https://media.test/b.mp4"},
		{RequestID: "req-1", Status: types.StatusApproved, CallbackID: "cb-2", VideoURL: "https://media.test/b.mp4"},
	}

	clean := NewEventSet()
	for _, e := range stream {
		clean.Apply(e)
	}

	// Duplicate and shuffle the stream.
	r := rand.New(rand.NewSource(42))
	noisy := append(append([]types.StatusEvent{}, stream...), stream...)
	noisy = append(noisy, stream[2], stream[4])
	r.Shuffle(len(noisy), func(i, j int) { noisy[i], noisy[j] = noisy[j], noisy[i] })

	replayed := NewEventSet()
	for _, e := range noisy {
		replayed.Apply(e)
	}

	c.Assert(replayed.Len(), qt.Equals, clean.Len())
}
