// Copyright 2021 Converter Systems LLC. All rights reserved.

package uasc

import (
	"container/heap"
	"sync"
	"time"
)

// Task is a func scheduled to run at a point in time.
type Task struct {
	at    time.Time
	fn    func()
	index int
	s     *Scheduler
}

// At returns the time the task is due.
func (t *Task) At() time.Time {
	return t.at
}

// Cancel removes the task from the schedule. Returns false if the task
// already ran or was cancelled.
func (t *Task) Cancel() bool {
	if t == nil {
		return false
	}
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.index < 0 {
		return false
	}
	heap.Remove(&s.queue, t.index)
	return true
}

type taskQueue []*Task

func (q taskQueue) Len() int           { return len(q) }
func (q taskQueue) Less(i, j int) bool { return q[i].at.Before(q[j].at) }
func (q taskQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *taskQueue) Push(x interface{}) {
	t := x.(*Task)
	t.index = len(*q)
	*q = append(*q, t)
}

func (q *taskQueue) Pop() interface{} {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*q = old[:n-1]
	return t
}

// Scheduler runs funcs at a point in time. A single goroutine waits for the
// earliest task; each due task runs on its own goroutine.
type Scheduler struct {
	mu       sync.Mutex
	queue    taskQueue
	wake     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewScheduler starts a new Scheduler.
func NewScheduler() *Scheduler {
	s := &Scheduler{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

var (
	defaultScheduler     *Scheduler
	defaultSchedulerOnce sync.Once
)

// DefaultScheduler returns the process-wide Scheduler.
func DefaultScheduler() *Scheduler {
	defaultSchedulerOnce.Do(func() {
		defaultScheduler = NewScheduler()
	})
	return defaultScheduler
}

// Schedule runs fn at the given time.
func (s *Scheduler) Schedule(at time.Time, fn func()) *Task {
	t := &Task{at: at, fn: fn, s: s, index: -1}
	s.mu.Lock()
	heap.Push(&s.queue, t)
	first := t.index == 0
	s.mu.Unlock()
	if first {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
	return t
}

// After runs fn after the duration elapses.
func (s *Scheduler) After(d time.Duration, fn func()) *Task {
	return s.Schedule(time.Now().Add(d), fn)
}

// Len returns the number of tasks waiting.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Stop stops the scheduler. Tasks not yet due never run.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
}

func (s *Scheduler) run() {
	for {
		s.mu.Lock()
		now := time.Now()
		var due []*Task
		for len(s.queue) > 0 && !s.queue[0].at.After(now) {
			due = append(due, heap.Pop(&s.queue).(*Task))
		}
		wait := time.Duration(-1)
		if len(s.queue) > 0 {
			wait = s.queue[0].at.Sub(now)
		}
		s.mu.Unlock()

		for _, t := range due {
			go t.fn()
		}

		var timer *time.Timer
		var fire <-chan time.Time
		if wait >= 0 {
			timer = time.NewTimer(wait)
			fire = timer.C
		}
		select {
		case <-fire:
		case <-s.wake:
		case <-s.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
		if timer != nil {
			timer.Stop()
		}
	}
}
