// Copyright 2021 Converter Systems LLC. All rights reserved.

package server

import (
	"sync"

	"github.com/awcullen/uasc/ua"
	"github.com/awcullen/uasc/uasc"
	"go.uber.org/zap"
)

// serverConn routes the chunks of one connection to the channels attached to it.
type serverConn struct {
	sync.Mutex
	srv      *Server
	conn     *uasc.Conn
	logger   *zap.Logger
	channels map[*serverSecureChannel]struct{}
}

func newServerConn(srv *Server, conn *uasc.Conn) *serverConn {
	return &serverConn{
		srv:      srv,
		conn:     conn,
		logger:   conn.Logger(),
		channels: make(map[*serverSecureChannel]struct{}),
	}
}

func (sc *serverConn) add(ch *serverSecureChannel) {
	sc.Lock()
	sc.channels[ch] = struct{}{}
	sc.Unlock()
}

// remove detaches the channel and returns the number of channels that remain.
func (sc *serverConn) remove(ch *serverSecureChannel) int {
	sc.Lock()
	defer sc.Unlock()
	delete(sc.channels, ch)
	return len(sc.channels)
}

// HandleChunk implements uasc.ChunkHandler. An OPN with channel id 0 opens
// a new channel; any other chunk must name a channel known to the server.
func (sc *serverConn) HandleChunk(c *uasc.Conn, messageType uint32, chunk []byte) error {
	id := uasc.ChannelIDOf(chunk)
	isOpen := ua.MessageTypeOf(messageType) == ua.MessageTypeOf(ua.MessageTypeOpenFinal)
	if isOpen && id == 0 {
		h, _, err := uasc.ParseAsymmetricHeader(chunk)
		if err != nil {
			return err
		}
		ch, err := newServerSecureChannel(sc.srv, h)
		if err != nil {
			sc.logger.Warn("error opening channel", zap.String("policy", h.PolicyURI), zap.Error(err))
			return err
		}
		id = sc.srv.channelManager.Add(ch)
		ch.attach(sc)
		sc.logger.Debug("channel created", zap.Uint32("channel", id), zap.String("policy", h.PolicyURI))
		return ch.sc.HandleChunk(c, messageType, chunk)
	}

	ch, ok := sc.srv.channelManager.Get(id)
	if !ok {
		return ua.BadSecureChannelIDInvalid
	}
	if ch.owner() != sc {
		// only an OPN may move a channel to a new connection
		if !isOpen {
			return ua.BadSecureChannelIDInvalid
		}
		// the channel moves only after the renewal was verified; a chunk
		// that fails ends this connection and leaves the channel alone.
		r, err := ch.sc.VerifyRenewal(chunk)
		if err != nil {
			sc.logger.Warn("renewal rejected", zap.Uint32("channel", id), zap.Error(err))
			return err
		}
		ch.attach(sc)
		sc.logger.Debug("channel reattached", zap.Uint32("channel", id))
		ch.sc.Resume(r)
		return nil
	}
	return ch.sc.HandleChunk(c, messageType, chunk)
}

// HandleClose implements uasc.ChunkHandler. Channels survive the loss of
// the connection until their tokens expire.
func (sc *serverConn) HandleClose(c *uasc.Conn, err error) {
	sc.srv.removeConn(sc)
	sc.Lock()
	channels := make([]*serverSecureChannel, 0, len(sc.channels))
	for ch := range sc.channels {
		channels = append(channels, ch)
	}
	sc.Unlock()
	sc.logger.Debug("connection closed", zap.Int("channels", len(channels)), zap.Error(err))
	for _, ch := range channels {
		// a channel without a token was never opened
		if ch.sc.Tokens().Active() == nil {
			ch.close(ua.BadSecureChannelClosed)
		}
	}
}
