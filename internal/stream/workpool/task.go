package workpool

import (
	"context"
	"fmt"
)

type result[T any] struct {
	v   T
	err error
}

// Task is a handle to one submitted job. Dropping the handle without polling
// abandons the result; the job itself still runs to completion.
type Task[T any] struct {
	ch   chan result[T]
	res  result[T]
	done bool
}

// Go submits fn to d. It reports false, and returns no task, when d refused the job.
// A panic inside fn completes the task with an error.
func Go[T any](d Dispatcher, fn func(ctx context.Context) (T, error)) (*Task[T], bool) {
	t := &Task[T]{ch: make(chan result[T], 1)}
	ok := d.Submit(func(ctx context.Context) {
		var r result[T]
		defer func() {
			if p := recover(); p != nil {
				r = result[T]{err: fmt.Errorf("workpool: job panicked: %v", p)}
			}
			t.ch <- r
		}()
		r.v, r.err = fn(ctx)
	})
	if !ok {
		return nil, false
	}
	return t, true
}

// Poll reports whether the job has finished and, if so, its result. It never blocks.
func (t *Task[T]) Poll() (T, bool, error) {
	if !t.done {
		select {
		case r := <-t.ch:
			t.res = r
			t.done = true
		default:
			var zero T
			return zero, false, nil
		}
	}
	return t.res.v, true, t.res.err
}
