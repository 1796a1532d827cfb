// Copyright 2021 Converter Systems LLC. All rights reserved.

package uasc

import (
	"math"
	"testing"

	"github.com/awcullen/uasc/ua"
	"gotest.tools/assert"
)

func TestSendSequence(t *testing.T) {
	s := NewSendSequence()
	assert.Equal(t, s.Next(), uint32(1))
	assert.Equal(t, s.Next(), uint32(2))
	assert.Assert(t, s.wrapAt >= math.MaxUint32-sequenceWrapZone)
}

func TestSendSequenceWraps(t *testing.T) {
	s := &SendSequence{prev: math.MaxUint32 - 12, wrapAt: math.MaxUint32 - 10}
	assert.Equal(t, s.Next(), uint32(math.MaxUint32-11))
	assert.Equal(t, s.Next(), uint32(math.MaxUint32-10))
	assert.Equal(t, s.Next(), uint32(1))
	assert.Equal(t, s.Next(), uint32(2))
}

func TestRecvSequence(t *testing.T) {
	s := NewRecvSequence()
	// the first number seeds the tracker.
	assert.NilError(t, s.TestAndSet(5))
	assert.NilError(t, s.TestAndSet(6))
	assert.Equal(t, s.TestAndSet(8), ua.BadSequenceNumberInvalid)
	// a rejected number leaves the tracker unchanged.
	assert.NilError(t, s.TestAndSet(7))
	assert.Equal(t, s.TestAndSet(7), ua.BadSequenceNumberInvalid)
	assert.Equal(t, s.TestAndSet(3), ua.BadSequenceNumberInvalid)

	s.Reset()
	assert.NilError(t, s.TestAndSet(1000))
	assert.NilError(t, s.TestAndSet(1001))
}

func TestRecvSequenceWraps(t *testing.T) {
	s := NewRecvSequence()
	assert.NilError(t, s.TestAndSet(math.MaxUint32-5))
	assert.NilError(t, s.TestAndSet(3))
	assert.NilError(t, s.TestAndSet(4))

	s = NewRecvSequence()
	assert.NilError(t, s.TestAndSet(math.MaxUint32))
	assert.NilError(t, s.TestAndSet(1))

	// far from the wrap zone a small number is a replay.
	s = NewRecvSequence()
	assert.NilError(t, s.TestAndSet(100))
	assert.Equal(t, s.TestAndSet(3), ua.BadSequenceNumberInvalid)

	// in the wrap zone the restart must be below the limit.
	s = NewRecvSequence()
	assert.NilError(t, s.TestAndSet(math.MaxUint32-5))
	assert.Equal(t, s.TestAndSet(sequenceWrapLimit), ua.BadSequenceNumberInvalid)
}
