package stream

import (
	"slices"

	"github.com/gavinyap/bigseek/internal/sink"
)

// handleSet is an insertion-ordered set of message handles. NoHandle is
// a legal member: as the last element it marks the previous message as
// retired, so the next reasoning flush creates a fresh message.
type handleSet struct {
	items []sink.Handle
}

func (s *handleSet) add(h sink.Handle) {
	if !slices.Contains(s.items, h) {
		s.items = append(s.items, h)
	}
}

func (s *handleSet) remove(h sink.Handle) {
	s.items = slices.DeleteFunc(s.items, func(x sink.Handle) bool { return x == h })
}

// retire moves the NoHandle sentinel to the end.
func (s *handleSet) retire() {
	s.remove(sink.NoHandle)
	s.add(sink.NoHandle)
}

// last returns the handle the next flush should edit.
func (s *handleSet) last() sink.Handle {
	if len(s.items) == 0 {
		return sink.NoHandle
	}
	return s.items[len(s.items)-1]
}

// live returns every real handle in insertion order.
func (s *handleSet) live() []sink.Handle {
	out := make([]sink.Handle, 0, len(s.items))
	for _, h := range s.items {
		if h != sink.NoHandle {
			out = append(out, h)
		}
	}
	return out
}

func (s *handleSet) clear() {
	s.items = nil
}
