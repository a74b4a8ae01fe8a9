package client

import (
	"context"
	"errors"
	"sync"
)

// ErrScriptExhausted is returned by Scripted once its replies run out
var ErrScriptExhausted = errors.New("scripted client has no replies left")

// Reply is one canned answer of a Scripted client
type Reply struct {
	Text string
	Err  error
}

// Scripted is a deterministic VisionClient that replays canned replies in
// order. It is safe for concurrent use and records every query it receives.
type Scripted struct {
	mu       sync.Mutex
	replies  []Reply
	fallback *Reply
	calls    []Query
}

// NewScripted creates a client that answers with the given texts in order
func NewScripted(texts ...string) *Scripted {
	s := &Scripted{}
	for _, t := range texts {
		s.replies = append(s.replies, Reply{Text: t})
	}
	return s
}

// Push appends replies to the script
func (s *Scripted) Push(replies ...Reply) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, replies...)
	return s
}

// Repeat sets the reply used once the script is exhausted
func (s *Scripted) Repeat(r Reply) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = &r
	return s
}

// Query implements VisionClient
func (s *Scripted) Query(ctx context.Context, q Query) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, q)

	if len(s.replies) > 0 {
		r := s.replies[0]
		s.replies = s.replies[1:]
		return r.Text, r.Err
	}
	if s.fallback != nil {
		return s.fallback.Text, s.fallback.Err
	}
	return "", ErrScriptExhausted
}

// Calls returns a copy of every query received so far
func (s *Scripted) Calls() []Query {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Query, len(s.calls))
	copy(out, s.calls)
	return out
}
