package delivery

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
)

// MemorySink keeps entries in memory, in append order
type MemorySink struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewMemorySink creates an empty MemorySink
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Append(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

// Entries returns a copy of everything appended so far
func (s *MemorySink) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// ForDocument returns the entries of one document in chronological order
func (s *MemorySink) ForDocument(documentID string) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, e := range s.entries {
		if e.DocumentID == documentID {
			out = append(out, e)
		}
	}
	return out
}

// MultiSink appends to each sink in turn. Every sink is attempted; the first
// failure is returned.
type MultiSink []LogSink

func (m MultiSink) Append(ctx context.Context, e Entry) error {
	var first error
	for i, s := range m {
		if err := s.Append(ctx, e); err != nil && first == nil {
			first = errors.Wrapf(err, "sink %d", i)
		}
	}
	return first
}

// DiscardSink drops every entry
type DiscardSink struct{}

func (DiscardSink) Append(context.Context, Entry) error { return nil }
