// Package fence tags ledger requests with the session generation that issued
// them so late completions can be discarded instead of applied.
package fence

import (
	"context"
	"sync"

	"tournament-desk/internal/apperr"
)

// ErrBusy is returned when a request is already in flight.
var ErrBusy = apperr.Validation("a request is already in progress, wait for it to finish")

// Token identifies one in-flight request.
type Token struct {
	gen uint64
}

// Gate admits at most one in-flight request per generation.
type Gate struct {
	mu   sync.Mutex
	gen  uint64
	busy bool
}

// Acquire reserves the gate for one request.
func (g *Gate) Acquire() (Token, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.busy {
		return Token{}, ErrBusy
	}
	g.busy = true
	return Token{gen: g.gen}, nil
}

// Release frees the gate and reports whether t is still current.
func (g *Gate) Release(t Token) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if t.gen != g.gen {
		return false
	}
	g.busy = false
	return true
}

// Busy reports whether a current request is in flight.
func (g *Gate) Busy() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.busy
}

// Bump invalidates every outstanding token and frees the gate.
func (g *Gate) Bump() {
	g.mu.Lock()
	g.gen++
	g.busy = false
	g.mu.Unlock()
}

// Generation is exposed for logging.
func (g *Gate) Generation() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.gen
}

// Call is a prepared request: Do performs the remote part off the event loop,
// Commit applies the result on the loop if the token is still current.
type Call[T any] struct {
	gate   *Gate
	token  Token
	fetch  func(ctx context.Context) (T, error)
	commit func(T, error) error

	val T
	err error
}

// NewCall reserves gate and prepares a call. The caller must eventually
// Commit the call (directly or through Run) to release the gate.
func NewCall[T any](gate *Gate, fetch func(ctx context.Context) (T, error), commit func(T, error) error) (*Call[T], error) {
	tok, err := gate.Acquire()
	if err != nil {
		return nil, err
	}
	return &Call[T]{gate: gate, token: tok, fetch: fetch, commit: commit}, nil
}

// Do runs the remote part. Safe to call from any goroutine.
func (c *Call[T]) Do(ctx context.Context) {
	c.val, c.err = c.fetch(ctx)
}

// Commit applies the result, or returns a Stale error when the issuing
// session state is gone.
func (c *Call[T]) Commit() error {
	if !c.gate.Release(c.token) {
		return apperr.Wrap(apperr.CodeStale, "result discarded: the session moved on", c.err)
	}
	return c.commit(c.val, c.err)
}

// Value is the raw fetch result.
func (c *Call[T]) Value() T { return c.val }

// Run performs Do then Commit on the calling goroutine.
func Run[T any](ctx context.Context, c *Call[T]) error {
	c.Do(ctx)
	return c.Commit()
}
