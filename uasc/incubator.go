// Copyright 2021 Converter Systems LLC. All rights reserved.

package uasc

import (
	"sync"

	"github.com/gammazero/deque"
)

// ticket holds a place in an incubator. It is filled by a worker, possibly
// out of order, and released once every earlier ticket was released.
type ticket[T any] struct {
	value T
	err   error
	ready bool
}

// incubator releases filled tickets in the order they were reserved. Release
// is called by one goroutine at a time, never under the incubator's lock.
type incubator[T any] struct {
	sync.Mutex
	queue    *deque.Deque[*ticket[T]]
	flushing bool
	release  func(value T, err error)
}

func newIncubator[T any](release func(value T, err error)) *incubator[T] {
	return &incubator[T]{
		queue:   deque.New[*ticket[T]](),
		release: release,
	}
}

// reserve appends a ticket. Callers that need a particular order must
// reserve under their own lock.
func (q *incubator[T]) reserve() *ticket[T] {
	t := &ticket[T]{}
	q.Lock()
	q.queue.PushBack(t)
	q.Unlock()
	return t
}

// fill completes the ticket and releases every ready ticket at the front of the queue.
func (q *incubator[T]) fill(t *ticket[T], value T, err error) {
	q.Lock()
	t.value, t.err, t.ready = value, err, true
	if q.flushing {
		// the goroutine that is flushing will release it.
		q.Unlock()
		return
	}
	q.flushing = true
	for q.queue.Len() > 0 && q.queue.Front().ready {
		next := q.queue.PopFront()
		q.Unlock()
		q.release(next.value, next.err)
		q.Lock()
	}
	q.flushing = false
	q.Unlock()
}

// len returns the number of tickets not yet released.
func (q *incubator[T]) len() int {
	q.Lock()
	defer q.Unlock()
	return q.queue.Len()
}
