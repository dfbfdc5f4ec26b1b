package cache

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/kbukum/stepflow/artifact"
	"github.com/kbukum/stepflow/fingerprint"
)

// ErrAbandoned is shared with the waiters of an execution whose leader was
// cancelled before it started.
var ErrAbandoned = errors.New("cache: shared execution abandoned by its leader")

// Caller states of one Do call.
const (
	callWaiting int32 = iota
	callLeading
	callGone
)

// Flight runs at most one execution per fingerprint at a time. Callers
// arriving while an execution is in progress wait for it and share its
// outcome.
type Flight struct {
	group singleflight.Group
}

// Do runs fn for fp unless an execution for fp is already in flight. led
// reports whether this caller's fn ran.
//
// A waiting caller returns early with ctx.Err() when ctx is done. The
// leader never does: once fn has started, Do returns only with fn's result,
// so fn must honour ctx itself. A leader cancelled before fn starts skips
// fn and its waiters receive ErrAbandoned.
func (f *Flight) Do(ctx context.Context, fp fingerprint.Fingerprint, fn func() (map[string]artifact.Ref, error)) (refs map[string]artifact.Ref, led bool, err error) {
	var state atomic.Int32
	ch := f.group.DoChan(string(fp), func() (any, error) {
		if !state.CompareAndSwap(callWaiting, callLeading) {
			return nil, ErrAbandoned
		}
		return fn()
	})
	select {
	case res := <-ch:
		out, _ := res.Val.(map[string]artifact.Ref)
		return out, state.Load() == callLeading, res.Err
	case <-ctx.Done():
	}
	if state.CompareAndSwap(callWaiting, callGone) {
		return nil, false, ctx.Err()
	}
	res := <-ch
	out, _ := res.Val.(map[string]artifact.Ref)
	return out, true, res.Err
}
