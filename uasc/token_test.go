// Copyright 2021 Converter Systems LLC. All rights reserved.

package uasc

import (
	"testing"
	"time"

	"github.com/awcullen/uasc/ua"
	"gotest.tools/assert"
)

func newNoneToken(t *testing.T, id uint32, createdAt time.Time, lifetime time.Duration) *SecurityToken {
	t.Helper()
	policy, err := ua.SecurityPolicyFromURI(ua.SecurityPolicyURINone)
	assert.NilError(t, err)
	tok, err := NewSecurityToken(1, id, createdAt, lifetime, nil, nil, policy, ua.MessageSecurityModeNone)
	assert.NilError(t, err)
	return tok
}

func TestSecurityTokenTimes(t *testing.T) {
	t0 := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	tok := newNoneToken(t, 1, t0, 100*time.Second)
	assert.Equal(t, tok.RenewAt(), t0.Add(75*time.Second))
	assert.Equal(t, tok.ExpiresAt(), t0.Add(100*time.Second))
	assert.Equal(t, tok.RecoveryDeadline(), t0.Add(125*time.Second))
	assert.Assert(t, tok.Valid(t0.Add(99*time.Second)))
	assert.Assert(t, !tok.Valid(t0.Add(100*time.Second)))
}

func TestSecurityTokenNonce(t *testing.T) {
	policy, err := ua.SecurityPolicyFromURI(ua.SecurityPolicyURIBasic256Sha256)
	assert.NilError(t, err)
	_, err = NewSecurityToken(1, 1, time.Now(), time.Hour, make([]byte, 32), make([]byte, 16), policy, ua.MessageSecurityModeSign)
	assert.Equal(t, err, ua.BadNonceInvalid)
	_, err = NewSecurityToken(1, 1, time.Now(), time.Hour, make([]byte, 32), make([]byte, 32), policy, ua.MessageSecurityModeSign)
	assert.NilError(t, err)
}

func TestTokenSet(t *testing.T) {
	now := time.Now()
	s := NewTokenSet()
	assert.Assert(t, s.Active() == nil)
	_, err := s.Get(1, now)
	assert.Equal(t, err, ua.BadSecureChannelTokenUnknown)

	t1 := newNoneToken(t, 1, now.Add(-50*time.Second), time.Minute)
	s.Add(t1)
	got, err := s.Get(1, now)
	assert.NilError(t, err)
	assert.Equal(t, got, t1)

	// the previous token stays valid until it expires.
	t2 := newNoneToken(t, 2, now, time.Minute)
	s.Add(t2)
	assert.Equal(t, s.Active(), t2)
	got, err = s.Get(1, now)
	assert.NilError(t, err)
	assert.Equal(t, got, t1)

	later := now.Add(30 * time.Second)
	_, err = s.Get(1, later)
	assert.Equal(t, err, ua.BadSecureChannelTokenUnknown)
	_, err = s.Get(9, later)
	assert.Equal(t, err, ua.BadSecureChannelTokenUnknown)

	assert.Assert(t, s.Prune(later))
	assert.Equal(t, s.Len(), 1)

	// once every token expired, the channel is closed.
	expired := now.Add(2 * time.Minute)
	_, err = s.Get(2, expired)
	assert.Equal(t, err, ua.BadSecureChannelClosed)
	assert.Assert(t, !s.Prune(expired))
	assert.Equal(t, s.Active(), t2)
}
