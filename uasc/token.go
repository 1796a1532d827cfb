// Copyright 2021 Converter Systems LLC. All rights reserved.

package uasc

import (
	"crypto/aes"
	"crypto/cipher"
	"sync"
	"time"

	"github.com/awcullen/uasc/ua"
)

// symmetricKeys are derived from the nonces of a token.
type symmetricKeys struct {
	signingKey    []byte
	encryptingKey []byte
	iv            []byte
	block         cipher.Block
}

func deriveKeys(policy ua.SecurityPolicy, secret, seed []byte) (*symmetricKeys, error) {
	sigLen := policy.SymSignatureKeySize()
	encLen := policy.SymEncryptionKeySize()
	ivLen := policy.SymEncryptionBlockSize()
	material := policy.PSHA(secret, seed, sigLen+encLen+ivLen)
	k := &symmetricKeys{
		signingKey:    material[:sigLen],
		encryptingKey: material[sigLen : sigLen+encLen],
		iv:            material[sigLen+encLen:],
	}
	block, err := aes.NewCipher(k.encryptingKey)
	if err != nil {
		return nil, ua.BadSecurityChecksFailed
	}
	k.block = block
	return k, nil
}

// SecurityToken holds the keys of one period of a secure channel. A token
// is immutable once issued.
type SecurityToken struct {
	ChannelID   uint32
	TokenID     uint32
	CreatedAt   time.Time
	Lifetime    time.Duration
	LocalNonce  []byte
	RemoteNonce []byte
	Policy      ua.SecurityPolicy
	Mode        ua.MessageSecurityMode
	local       *symmetricKeys
	remote      *symmetricKeys
}

// NewSecurityToken creates a token and derives its symmetric keys. The local
// keys protect outgoing chunks, the remote keys incoming chunks.
func NewSecurityToken(channelID, tokenID uint32, createdAt time.Time, lifetime time.Duration,
	localNonce, remoteNonce []byte, policy ua.SecurityPolicy, mode ua.MessageSecurityMode) (*SecurityToken, error) {
	t := &SecurityToken{
		ChannelID:   channelID,
		TokenID:     tokenID,
		CreatedAt:   createdAt,
		Lifetime:    lifetime,
		LocalNonce:  localNonce,
		RemoteNonce: remoteNonce,
		Policy:      policy,
		Mode:        mode,
	}
	if mode == ua.MessageSecurityModeSign || mode == ua.MessageSecurityModeSignAndEncrypt {
		n := policy.NonceSize()
		if len(localNonce) != n || len(remoteNonce) != n {
			return nil, ua.BadNonceInvalid
		}
		var err error
		if t.local, err = deriveKeys(policy, remoteNonce, localNonce); err != nil {
			return nil, err
		}
		if t.remote, err = deriveKeys(policy, localNonce, remoteNonce); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// ExpiresAt returns the time the token expires.
func (t *SecurityToken) ExpiresAt() time.Time {
	return t.CreatedAt.Add(t.Lifetime)
}

// Valid returns true if the token is not expired at time now.
func (t *SecurityToken) Valid(now time.Time) bool {
	return now.Before(t.ExpiresAt())
}

// RenewAt returns the time the client renews the token, at 75% of the lifetime.
func (t *SecurityToken) RenewAt() time.Time {
	return t.CreatedAt.Add(t.Lifetime * 3 / 4)
}

// RecoveryDeadline returns the time after which a lost connection is no
// longer resumed, at 125% of the lifetime.
func (t *SecurityToken) RecoveryDeadline() time.Time {
	return t.CreatedAt.Add(t.Lifetime * 5 / 4)
}

// TokenSet holds the current token of a channel and its predecessors that
// have not yet expired.
type TokenSet struct {
	sync.RWMutex
	tokens []*SecurityToken
}

// NewTokenSet returns an empty set.
func NewTokenSet() *TokenSet {
	return &TokenSet{}
}

// Add installs the token as the active token.
func (s *TokenSet) Add(t *SecurityToken) {
	s.Lock()
	s.tokens = append(s.tokens, t)
	s.Unlock()
}

// Active returns the most recently created token, or nil.
func (s *TokenSet) Active() *SecurityToken {
	s.RLock()
	defer s.RUnlock()
	if len(s.tokens) == 0 {
		return nil
	}
	return s.tokens[len(s.tokens)-1]
}

// Get returns the token with the given id if it is valid at time now. An
// unknown id returns BadSecureChannelTokenUnknown. A known but expired token
// returns BadSecureChannelClosed when no valid token remains.
func (s *TokenSet) Get(id uint32, now time.Time) (*SecurityToken, error) {
	s.RLock()
	defer s.RUnlock()
	anyValid := false
	var found *SecurityToken
	for _, t := range s.tokens {
		if t.Valid(now) {
			anyValid = true
		}
		if t.TokenID == id {
			found = t
		}
	}
	switch {
	case found == nil:
		return nil, ua.BadSecureChannelTokenUnknown
	case found.Valid(now):
		return found, nil
	case anyValid:
		return nil, ua.BadSecureChannelTokenUnknown
	default:
		return nil, ua.BadSecureChannelClosed
	}
}

// Prune removes the expired tokens, except the active token. Returns false
// if no valid token remains.
func (s *TokenSet) Prune(now time.Time) bool {
	s.Lock()
	defer s.Unlock()
	if len(s.tokens) == 0 {
		return false
	}
	kept := s.tokens[:0]
	last := len(s.tokens) - 1
	for i, t := range s.tokens {
		if i == last || t.Valid(now) {
			kept = append(kept, t)
		}
	}
	for i := len(kept); i < len(s.tokens); i++ {
		s.tokens[i] = nil
	}
	s.tokens = kept
	return s.tokens[len(s.tokens)-1].Valid(now)
}

// Len returns the number of tokens in the set.
func (s *TokenSet) Len() int {
	s.RLock()
	defer s.RUnlock()
	return len(s.tokens)
}
