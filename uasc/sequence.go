// Copyright 2021 Converter Systems LLC. All rights reserved.

package uasc

import (
	"math"
	"math/rand"
	"sync"

	"github.com/awcullen/uasc/ua"
)

const (
	// sequenceWrapZone is the distance below MaxUint32 where a sequence may wrap.
	sequenceWrapZone = 1024
	// sequenceWrapLimit bounds the value a sequence restarts at after a wrap.
	sequenceWrapLimit = 1024
)

// SendSequence hands out the sequence numbers of outgoing chunks.
type SendSequence struct {
	sync.Mutex
	prev   uint32
	wrapAt uint32
}

// NewSendSequence returns a sequence whose first number is 1. The point of
// the wrap is chosen at random within the wrap zone.
func NewSendSequence() *SendSequence {
	return &SendSequence{
		wrapAt: math.MaxUint32 - uint32(rand.Intn(sequenceWrapZone+1)),
	}
}

// Next returns the next sequence number.
func (s *SendSequence) Next() uint32 {
	s.Lock()
	defer s.Unlock()
	if s.prev >= s.wrapAt {
		s.prev = 1
		return s.prev
	}
	s.prev++
	return s.prev
}

// RecvSequence checks the sequence numbers of incoming chunks.
type RecvSequence struct {
	sync.Mutex
	prev   uint32
	seeded bool
}

// NewRecvSequence returns a tracker that is seeded by the first number it sees.
func NewRecvSequence() *RecvSequence {
	return &RecvSequence{}
}

// TestAndSet accepts n if it follows the previous number, or if the previous
// number is in the wrap zone and n restarts below the wrap limit. Otherwise
// returns BadSequenceNumberInvalid and leaves the tracker unchanged.
func (s *RecvSequence) TestAndSet(n uint32) error {
	s.Lock()
	defer s.Unlock()
	switch {
	case !s.seeded:
		s.seeded = true
	case s.prev != math.MaxUint32 && n == s.prev+1:
	case s.prev >= math.MaxUint32-sequenceWrapZone && n < sequenceWrapLimit:
	default:
		return ua.BadSequenceNumberInvalid
	}
	s.prev = n
	return nil
}

// Reset forgets the previous number, so the next number seeds the tracker.
func (s *RecvSequence) Reset() {
	s.Lock()
	s.seeded = false
	s.prev = 0
	s.Unlock()
}
