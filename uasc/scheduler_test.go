// Copyright 2021 Converter Systems LLC. All rights reserved.

package uasc

import (
	"sync"
	"testing"
	"time"

	"gotest.tools/assert"
)

func TestSchedulerOrder(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	var mu sync.Mutex
	var got []int
	var wg sync.WaitGroup
	wg.Add(3)
	now := time.Now()
	for _, i := range []int{3, 1, 2} {
		i := i
		s.Schedule(now.Add(time.Duration(i)*20*time.Millisecond), func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			wg.Done()
		})
	}
	wg.Wait()
	assert.DeepEqual(t, got, []int{1, 2, 3})
	assert.Equal(t, s.Len(), 0)
}

func TestSchedulerCancel(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	fired := make(chan struct{}, 1)
	task := s.After(50*time.Millisecond, func() { fired <- struct{}{} })
	assert.Assert(t, task.Cancel())
	assert.Assert(t, !task.Cancel())
	assert.Equal(t, s.Len(), 0)

	done := make(chan struct{})
	s.After(0, func() { close(done) })
	<-done
	select {
	case <-fired:
		t.Fatal("cancelled task ran")
	case <-time.After(100 * time.Millisecond):
	}

	var nilTask *Task
	assert.Assert(t, !nilTask.Cancel())
}
