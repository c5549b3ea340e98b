package tgbot

import (
	"context"
	"errors"

	"tournament-desk/internal/apperr"
	"tournament-desk/internal/fence"
)

// post hands fn to the event loop, giving up when ctx ends.
func (a *App) post(ctx context.Context, fn func()) {
	select {
	case a.events <- fn:
	case <-ctx.Done():
	}
}

// tryPost drops fn when the loop is backed up.
func (a *App) tryPost(fn func()) bool {
	select {
	case a.events <- fn:
		return true
	default:
		return false
	}
}

// background runs work off the loop with the ledger timeout and delivers
// the result to done on the loop.
func background[T any](a *App, ctx context.Context, work func(context.Context) (T, error), done func(T, error)) {
	run := func() (T, error) {
		wctx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
		defer cancel()
		return work(wctx)
	}
	if a.inline {
		v, err := run()
		done(v, err)
		return
	}
	go func() {
		v, err := run()
		a.post(ctx, func() { done(v, err) })
	}()
}

// dispatch performs a fenced call. Completions that lost their fence are
// dropped without reaching done.
func dispatch[T any](a *App, ctx context.Context, call *fence.Call[T], done func(error)) {
	background(a, ctx, func(ctx context.Context) (struct{}, error) {
		call.Do(ctx)
		return struct{}{}, nil
	}, func(struct{}, error) {
		err := call.Commit()
		if errors.Is(err, apperr.ErrStale) {
			a.log.Debug("discarding stale completion")
			return
		}
		done(err)
	})
}
