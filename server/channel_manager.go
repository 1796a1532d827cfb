// Copyright 2021 Converter Systems LLC. All rights reserved.

package server

import (
	"math/rand"
	"sync"
	"time"

	"github.com/awcullen/uasc/ua"
	"github.com/awcullen/uasc/uasc"
	"go.uber.org/zap"
)

// ChannelManager manages the secure channels for a server. A channel
// outlives its connection until its last token expires.
type ChannelManager struct {
	sync.RWMutex
	server       *Server
	channelsByID map[uint32]*serverSecureChannel
	sweeps       map[uint32]*uasc.Task
	channelID    uint32
	tokenID      uint32
}

// NewChannelManager instantiates a new ChannelManager.
func NewChannelManager(server *Server) *ChannelManager {
	return &ChannelManager{
		server:       server,
		channelsByID: make(map[uint32]*serverSecureChannel),
		sweeps:       make(map[uint32]*uasc.Task),
		channelID:    rand.Uint32(),
		tokenID:      rand.Uint32(),
	}
}

// Get a secure channel from the server.
func (m *ChannelManager) Get(id uint32) (*serverSecureChannel, bool) {
	m.RLock()
	defer m.RUnlock()
	if ch, ok := m.channelsByID[id]; ok {
		return ch, ok
	}
	return nil, false
}

// Add a secure channel to the server, assigning it a new id.
func (m *ChannelManager) Add(ch *serverSecureChannel) uint32 {
	m.Lock()
	defer m.Unlock()
	for {
		m.channelID++
		if _, ok := m.channelsByID[m.channelID]; m.channelID != 0 && !ok {
			break
		}
	}
	id := m.channelID
	ch.sc.SetID(id)
	m.channelsByID[id] = ch
	return id
}

// Delete the secure channel from the server.
func (m *ChannelManager) Delete(ch *serverSecureChannel) {
	id := ch.sc.ID()
	m.Lock()
	if m.channelsByID[id] != ch {
		m.Unlock()
		return
	}
	delete(m.channelsByID, id)
	task := m.sweeps[id]
	delete(m.sweeps, id)
	n := len(m.channelsByID)
	m.Unlock()
	task.Cancel()
	m.server.logger.Debug("deleted channel", zap.Uint32("channel", id), zap.Int("open", n))
}

// Len returns the number of secure channels.
func (m *ChannelManager) Len() int {
	m.RLock()
	defer m.RUnlock()
	res := len(m.channelsByID)
	return res
}

// nextTokenID returns a token id that is unique within the server.
func (m *ChannelManager) nextTokenID() uint32 {
	m.Lock()
	defer m.Unlock()
	m.tokenID++
	if m.tokenID == 0 {
		m.tokenID++
	}
	return m.tokenID
}

// scheduleSweep checks the channel again when the token expires.
func (m *ChannelManager) scheduleSweep(ch *serverSecureChannel, at time.Time) {
	id := ch.sc.ID()
	m.Lock()
	defer m.Unlock()
	if m.channelsByID[id] != ch {
		return
	}
	if task := m.sweeps[id]; task != nil {
		task.Cancel()
	}
	m.sweeps[id] = m.server.scheduler.Schedule(at, func() {
		m.sweep(ch)
	})
}

// sweep deletes the channel if all of its tokens expired.
func (m *ChannelManager) sweep(ch *serverSecureChannel) {
	now := time.Now()
	if ch.sc.Tokens().Prune(now) {
		if tok := ch.sc.Tokens().Active(); tok != nil {
			m.scheduleSweep(ch, tok.ExpiresAt())
		}
		return
	}
	m.server.logger.Info("channel expired", zap.Uint32("channel", ch.sc.ID()))
	ch.close(ua.BadSecureChannelClosed)
}

func (m *ChannelManager) closeChannels() {
	m.RLock()
	channels := make([]*serverSecureChannel, 0, len(m.channelsByID))
	for _, ch := range m.channelsByID {
		channels = append(channels, ch)
	}
	m.RUnlock()
	for _, ch := range channels {
		ch.close(ua.BadServerHalted)
	}
}
