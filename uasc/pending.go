// Copyright 2021 Converter Systems LLC. All rights reserved.

package uasc

import (
	"context"
	"sync"
	"time"

	"github.com/awcullen/uasc/ua"
)

// PendingRequest is a request waiting for its response. The result is set
// exactly once, by a response, a timeout, a cancellation or a failure of
// the channel.
type PendingRequest struct {
	RequestID uint32
	Start     time.Time
	Deadline  time.Time
	// Payload is the request, kept while the request has not been sent.
	Payload interface{}
	done    chan struct{}
	result  interface{}
	err     error
}

// NewPendingRequest returns a request that times out after the given duration.
func NewPendingRequest(requestID uint32, timeout time.Duration, payload interface{}) *PendingRequest {
	now := time.Now()
	return &PendingRequest{
		RequestID: requestID,
		Start:     now,
		Deadline:  now.Add(timeout),
		Payload:   payload,
		done:      make(chan struct{}),
	}
}

// Done returns a channel that is closed when the result is set.
func (p *PendingRequest) Done() <-chan struct{} {
	return p.done
}

// Result returns the response or the error. Valid after Done is closed.
func (p *PendingRequest) Result() (interface{}, error) {
	return p.result, p.err
}

// PendingRegistry maps request ids to the requests waiting for a response.
// A single task of the scheduler fires at the earliest deadline.
type PendingRegistry struct {
	sync.Mutex
	requests  map[uint32]*PendingRequest
	scheduler *Scheduler
	sweep     *Task
}

// NewPendingRegistry returns an empty registry that sweeps timeouts on the scheduler.
func NewPendingRegistry(scheduler *Scheduler) *PendingRegistry {
	if scheduler == nil {
		scheduler = DefaultScheduler()
	}
	return &PendingRegistry{
		requests:  make(map[uint32]*PendingRequest),
		scheduler: scheduler,
	}
}

// Register adds the request. Returns BadInternalError if the id is in use.
func (r *PendingRegistry) Register(p *PendingRequest) error {
	r.Lock()
	defer r.Unlock()
	if _, ok := r.requests[p.RequestID]; ok {
		return ua.BadInternalError
	}
	r.requests[p.RequestID] = p
	r.reschedule()
	return nil
}

// Resolve sets the result of the request with the given id. Returns false
// if the request was already resolved.
func (r *PendingRegistry) Resolve(id uint32, result interface{}, err error) bool {
	r.Lock()
	p, ok := r.requests[id]
	if !ok {
		r.Unlock()
		return false
	}
	delete(r.requests, id)
	p.result, p.err, p.Payload = result, err, nil
	close(p.done)
	r.reschedule()
	r.Unlock()
	return true
}

// Cancel fails the request with BadRequestCancelledByClient.
func (r *PendingRegistry) Cancel(id uint32) bool {
	return r.Resolve(id, nil, ua.BadRequestCancelledByClient)
}

// Get returns the request with the given id, or nil if it was resolved.
func (r *PendingRegistry) Get(id uint32) *PendingRequest {
	r.Lock()
	defer r.Unlock()
	return r.requests[id]
}

// Wait blocks until the request is resolved or the context is done. A done
// context cancels the request, unless a result won the race.
func (r *PendingRegistry) Wait(ctx context.Context, p *PendingRequest) (interface{}, error) {
	select {
	case <-p.done:
	case <-ctx.Done():
		r.Cancel(p.RequestID)
		<-p.done
	}
	return p.result, p.err
}

// SweepTimeouts fails the requests whose deadline passed with BadTimeout.
// Returns the number of requests that timed out.
func (r *PendingRegistry) SweepTimeouts(now time.Time) int {
	r.Lock()
	defer r.Unlock()
	n := 0
	for id, p := range r.requests {
		if !now.Before(p.Deadline) {
			delete(r.requests, id)
			p.result, p.err, p.Payload = nil, ua.BadTimeout, nil
			close(p.done)
			n++
		}
	}
	r.reschedule()
	return n
}

// FailAll fails every request with the error.
func (r *PendingRegistry) FailAll(err error) {
	r.Lock()
	defer r.Unlock()
	for id, p := range r.requests {
		delete(r.requests, id)
		p.result, p.err, p.Payload = nil, err, nil
		close(p.done)
	}
	r.reschedule()
}

// Len returns the number of requests waiting.
func (r *PendingRegistry) Len() int {
	r.Lock()
	defer r.Unlock()
	return len(r.requests)
}

// reschedule moves the sweep to the earliest deadline. Call with the lock held.
func (r *PendingRegistry) reschedule() {
	var earliest time.Time
	for _, p := range r.requests {
		if earliest.IsZero() || p.Deadline.Before(earliest) {
			earliest = p.Deadline
		}
	}
	if r.sweep != nil {
		if !earliest.IsZero() && r.sweep.At().Equal(earliest) {
			return
		}
		r.sweep.Cancel()
		r.sweep = nil
	}
	if earliest.IsZero() {
		return
	}
	r.sweep = r.scheduler.Schedule(earliest, func() {
		r.SweepTimeouts(time.Now())
	})
}
