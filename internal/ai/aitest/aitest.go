// Package aitest provides a scripted completion engine for tests.
package aitest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aldermoor/storyloom/internal/ai"
)

// Reply is one scripted outcome. When Err is non-nil it is returned instead
// of the response.
type Reply struct {
	Text string
	Err  error
}

// Engine returns scripted replies in order and records every request it saw.
// Schema-governed requests still run local validation so tests exercise the
// same acceptance path as production.
type Engine struct {
	mu       sync.Mutex
	replies  []Reply
	requests []ai.Request
}

// NewEngine scripts the given replies.
func NewEngine(replies ...Reply) *Engine {
	return &Engine{replies: replies}
}

// Push appends more scripted replies.
func (e *Engine) Push(replies ...Reply) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.replies = append(e.replies, replies...)
}

// Requests returns a copy of every request seen so far.
func (e *Engine) Requests() []ai.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ai.Request, len(e.requests))
	copy(out, e.requests)
	return out
}

// Complete implements ai.Engine.
func (e *Engine) Complete(_ context.Context, req ai.Request) (ai.Response, error) {
	e.mu.Lock()
	e.requests = append(e.requests, req)
	if len(e.replies) == 0 {
		e.mu.Unlock()
		return ai.Response{}, fmt.Errorf("aitest: no scripted reply for caller %q", req.Caller)
	}
	reply := e.replies[0]
	e.replies = e.replies[1:]
	e.mu.Unlock()

	if reply.Err != nil {
		return ai.Response{}, reply.Err
	}
	if req.Schema == nil {
		return ai.Response{Text: reply.Text}, nil
	}
	raw := json.RawMessage(reply.Text)
	if err := ai.ValidateAgainst(req.Schema, []byte(raw)); err != nil {
		return ai.Response{Text: reply.Text}, err
	}
	return ai.Response{Text: reply.Text, Value: raw}, nil
}
