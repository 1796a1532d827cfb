// Copyright 2021 Converter Systems LLC. All rights reserved.

package uasc

import (
	"bytes"
	"encoding/binary"
	"sync"
	"time"

	"github.com/awcullen/uasc/ua"
	"github.com/gammazero/workerpool"
	"go.uber.org/zap"
)

// Inbound is a message received on a secure channel.
type Inbound struct {
	ChannelID   uint32
	RequestID   uint32
	MessageType uint32
	Msg         interface{}
	Err         error
}

// ChannelConfig configures a SecureChannel.
type ChannelConfig struct {
	ID       uint32
	Security *SecurityConfig
	Codec    ua.Codec
	Pool     *workerpool.WorkerPool
	Logger   *zap.Logger
	// Deliver receives each message, possibly concurrently.
	Deliver func(Inbound)
	// OnFault is called once when a protocol or security error ends the channel.
	OnFault func(err error)
	// SwitchOnUse keeps sending with the previous token until the peer uses
	// the newest one. Servers switch on use, clients at once.
	SwitchOnUse bool
}

// SecureChannel holds the tokens and sequence numbers of a channel, and
// turns messages into protected chunks and back. Chunks are protected and
// unprotected on the worker pool; results are written and delivered in
// sequence number order.
type SecureChannel struct {
	sync.RWMutex
	id          uint32
	security    *SecurityConfig
	tokens      *TokenSet
	sendToken   *SecurityToken
	sendSeq     *SendSequence
	recvSeq     *RecvSequence
	conn        *Conn
	codec       ua.Codec
	pool        *workerpool.WorkerPool
	logger      *zap.Logger
	deliver     func(Inbound)
	onFault     func(err error)
	switchOnUse bool
	sendMu      sync.Mutex
	recv        *incubator[*chunkBody]
	builders    map[uint32]*builder
	err         error
}

// NewSecureChannel returns a channel that is not attached to a connection.
func NewSecureChannel(cfg ChannelConfig) *SecureChannel {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	codec := cfg.Codec
	if codec == nil {
		codec = ua.NewBinaryCodec()
	}
	ch := &SecureChannel{
		id:          cfg.ID,
		security:    cfg.Security,
		tokens:      NewTokenSet(),
		sendSeq:     NewSendSequence(),
		recvSeq:     NewRecvSequence(),
		codec:       codec,
		pool:        cfg.Pool,
		logger:      logger,
		deliver:     cfg.Deliver,
		onFault:     cfg.OnFault,
		switchOnUse: cfg.SwitchOnUse,
		builders:    make(map[uint32]*builder),
	}
	return ch
}

// ID returns the channel id, 0 until the first token was issued.
func (ch *SecureChannel) ID() uint32 {
	ch.RLock()
	defer ch.RUnlock()
	return ch.id
}

// SetID sets the channel id issued by the server.
func (ch *SecureChannel) SetID(id uint32) {
	ch.Lock()
	ch.id = id
	ch.Unlock()
}

// Security returns the security configuration.
func (ch *SecureChannel) Security() *SecurityConfig {
	return ch.security
}

// Tokens returns the token set.
func (ch *SecureChannel) Tokens() *TokenSet {
	return ch.tokens
}

// Conn returns the attached connection, or nil.
func (ch *SecureChannel) Conn() *Conn {
	ch.RLock()
	defer ch.RUnlock()
	return ch.conn
}

// Err returns the error that ended the channel, or nil.
func (ch *SecureChannel) Err() error {
	ch.RLock()
	defer ch.RUnlock()
	return ch.err
}

// Attach sends and receives the chunks of the channel on the connection.
// Receive sequence numbers are seeded again by the first chunk; send
// sequence numbers continue.
func (ch *SecureChannel) Attach(conn *Conn) {
	ch.Lock()
	ch.conn = conn
	for id, b := range ch.builders {
		b.abort(ua.BadConnectionClosed)
		delete(ch.builders, id)
	}
	inc := newIncubator[*chunkBody](nil)
	inc.release = func(cb *chunkBody, err error) { ch.release(inc, cb, err) }
	ch.recv = inc
	ch.Unlock()
	ch.recvSeq.Reset()
}

// InstallToken adds a token. The token is used for sending at once, unless
// the channel switches on use and already has a sending token.
func (ch *SecureChannel) InstallToken(tok *SecurityToken) {
	ch.tokens.Add(tok)
	ch.Lock()
	if !ch.switchOnUse || ch.sendToken == nil {
		ch.sendToken = tok
	}
	ch.Unlock()
	ch.logger.Debug("token installed", zap.Uint32("channel", tok.ChannelID), zap.Uint32("token", tok.TokenID))
}

// SendToken returns the token used for sending.
func (ch *SecureChannel) SendToken() *SecurityToken {
	ch.RLock()
	defer ch.RUnlock()
	return ch.sendToken
}

// ReceiveAsymmetric unprotects an OPN chunk whose header the caller verified.
func (ch *SecureChannel) ReceiveAsymmetric(chunk []byte, headerSize int) {
	ch.RLock()
	inc := ch.recv
	ch.RUnlock()
	t := inc.reserve()
	ch.submit(func() {
		cb, err := unprotectAsymmetric(ch.security, chunk, headerSize)
		inc.fill(t, cb, err)
	})
}

// ReceiveSymmetric looks up the token of a MSG or CLO chunk, then unprotects
// it. Returns an error if the token is unknown or expired.
func (ch *SecureChannel) ReceiveSymmetric(chunk []byte) error {
	tok, err := ch.tokens.Get(TokenIDOf(chunk), time.Now())
	if err != nil {
		putChunkBuffer(chunk)
		return err
	}
	ch.Lock()
	inc := ch.recv
	if ch.switchOnUse && ch.sendToken != tok && tok == ch.tokens.Active() {
		ch.sendToken = tok
		ch.logger.Debug("token activated", zap.Uint32("channel", ch.id), zap.Uint32("token", tok.TokenID))
	}
	ch.Unlock()
	t := inc.reserve()
	ch.submit(func() {
		cb, err := unprotectSymmetric(tok, chunk)
		inc.fill(t, cb, err)
	})
	return nil
}

// Renewal is an OPN Renew read from a connection the channel is not
// attached to, already unprotected and decoded.
type Renewal struct {
	ChannelID      uint32
	RequestID      uint32
	Request        *ua.OpenSecureChannelRequest
	messageType    uint32
	sequenceNumber uint32
}

// VerifyRenewal unprotects and decodes an OPN chunk read from a connection
// the channel is not attached to. The channel is not changed. Only a single
// chunk Renew protected by the remote party of the channel is accepted.
func (ch *SecureChannel) VerifyRenewal(chunk []byte) (*Renewal, error) {
	if ch.Err() != nil {
		putChunkBuffer(chunk)
		return nil, ua.BadSecureChannelIDInvalid
	}
	if ua.ChunkTypeOf(binary.LittleEndian.Uint32(chunk)) != ua.ChunkTypeFinal {
		putChunkBuffer(chunk)
		return nil, ua.BadSecurityChecksFailed
	}
	h, n, err := ParseAsymmetricHeader(chunk)
	if err != nil {
		putChunkBuffer(chunk)
		return nil, err
	}
	if err := ch.security.VerifyAsymmetricHeader(h); err != nil {
		putChunkBuffer(chunk)
		return nil, err
	}
	cb, err := unprotectAsymmetric(ch.security, chunk, n)
	if err != nil {
		return nil, err
	}
	defer cb.release()
	msg, err := ch.codec.Decode(bytes.NewReader(cb.body))
	if err != nil {
		return nil, ua.BadSecurityChecksFailed
	}
	req, ok := msg.(*ua.OpenSecureChannelRequest)
	if !ok || req.RequestType != ua.SecurityTokenRequestTypeRenew {
		return nil, ua.BadSecurityChecksFailed
	}
	return &Renewal{
		ChannelID:      cb.channelID,
		RequestID:      cb.requestID,
		Request:        req,
		messageType:    cb.messageType,
		sequenceNumber: cb.sequenceNumber,
	}, nil
}

// Resume seeds the receive sequence with a verified renewal and delivers
// it. Call after Attach to the connection the renewal was read from.
func (ch *SecureChannel) Resume(r *Renewal) {
	if err := ch.recvSeq.TestAndSet(r.sequenceNumber); err != nil {
		ch.Fail(err)
		return
	}
	go ch.emit(Inbound{ChannelID: r.ChannelID, RequestID: r.RequestID, MessageType: ua.MessageTypeOf(r.messageType), Msg: r.Request})
}

// HandleChunk routes a chunk read from the connection. Chunks read from a
// connection the channel is no longer attached to are dropped. An error
// fails the channel.
func (ch *SecureChannel) HandleChunk(c *Conn, messageType uint32, chunk []byte) error {
	ch.RLock()
	attached := ch.conn == c && ch.err == nil
	id := ch.id
	ch.RUnlock()
	if !attached {
		putChunkBuffer(chunk)
		return nil
	}
	var err error
	switch ua.MessageTypeOf(messageType) {
	case ua.MessageTypeOf(ua.MessageTypeOpenFinal):
		var h *AsymmetricHeader
		var n int
		if h, n, err = ParseAsymmetricHeader(chunk); err == nil {
			if err = ch.security.VerifyAsymmetricHeader(h); err == nil {
				ch.ReceiveAsymmetric(chunk, n)
				return nil
			}
		}
		putChunkBuffer(chunk)
	default:
		if id != 0 && ChannelIDOf(chunk) != id {
			putChunkBuffer(chunk)
			err = ua.BadSecureChannelIDInvalid
		} else {
			err = ch.ReceiveSymmetric(chunk)
		}
	}
	if err != nil {
		ch.Fail(err)
	}
	return err
}

func (ch *SecureChannel) submit(fn func()) {
	if ch.pool == nil {
		fn()
		return
	}
	ch.pool.Submit(fn)
}

// release runs in sequence number order.
func (ch *SecureChannel) release(inc *incubator[*chunkBody], cb *chunkBody, err error) {
	ch.Lock()
	stale := ch.recv != inc || ch.err != nil
	ch.Unlock()
	if stale {
		if cb != nil {
			cb.release()
		}
		return
	}
	if err != nil {
		ch.Fail(err)
		return
	}
	defer cb.release()
	if err := ch.recvSeq.TestAndSet(cb.sequenceNumber); err != nil {
		ch.Fail(err)
		return
	}
	chunkType := ua.ChunkTypeOf(cb.messageType)
	if chunkType != ua.ChunkTypeIntermediate && chunkType != ua.ChunkTypeFinal && chunkType != ua.ChunkTypeAbort {
		ch.Fail(ua.BadTCPMessageTypeInvalid)
		return
	}
	ch.Lock()
	b, ok := ch.builders[cb.requestID]
	if !ok && chunkType != ua.ChunkTypeAbort {
		b = ch.newBuilder(cb.requestID, ua.MessageTypeOf(cb.messageType), cb.channelID)
		ch.builders[cb.requestID] = b
	}
	if chunkType != ua.ChunkTypeIntermediate {
		delete(ch.builders, cb.requestID)
	}
	local := Limits{}
	if ch.conn != nil {
		local = ch.conn.Local()
	}
	ch.Unlock()

	switch chunkType {
	case ua.ChunkTypeIntermediate:
		if err := b.append(cb.body, local); err != nil {
			ch.Fail(err)
		}
	case ua.ChunkTypeFinal:
		if err := b.append(cb.body, local); err != nil {
			ch.Fail(err)
			return
		}
		b.final()
	case ua.ChunkTypeAbort:
		m := decodeError(cb.body)
		ch.logger.Debug("message aborted", zap.Uint32("request", cb.requestID), zap.Error(m.Error), zap.String("reason", m.Reason))
		if ok {
			b.abort(m.Error)
			return
		}
		ch.emit(Inbound{ChannelID: cb.channelID, RequestID: cb.requestID, MessageType: ua.MessageTypeOf(cb.messageType), Err: m.Error})
	}
}

// newBuilder starts a message. The channel id of the message is the one in
// the header of its first chunk.
func (ch *SecureChannel) newBuilder(requestID, messageType, channelID uint32) *builder {
	return newBuilder(requestID, ch.codec, func(requestID uint32, msg interface{}, err error) {
		ch.emit(Inbound{ChannelID: channelID, RequestID: requestID, MessageType: messageType, Msg: msg, Err: err})
	})
}

func (ch *SecureChannel) emit(m Inbound) {
	if ch.deliver != nil {
		ch.deliver(m)
	}
}

// SendMessage encodes the message, splits it into chunks, protects them and
// waits until the last chunk was written. OPN messages are protected with
// the certificates, MSG and CLO messages with the sending token.
func (ch *SecureChannel) SendMessage(messageType, requestID uint32, msg interface{}) error {
	buf := newMessageBuffer()
	defer buf.Reset()
	if err := ch.codec.Encode(buf, msg); err != nil {
		return err
	}
	n := int(buf.Len())

	ch.RLock()
	conn, tok, id, chErr := ch.conn, ch.sendToken, ch.id, ch.err
	ch.RUnlock()
	if chErr != nil {
		return chErr
	}
	if conn == nil {
		return ua.BadNotConnected
	}
	remote := conn.Remote()
	var layout *chunkLayout
	var err error
	asymmetric := ua.MessageTypeOf(messageType) == ua.MessageTypeOf(ua.MessageTypeOpenFinal)
	if asymmetric {
		layout, err = asymmetricLayout(ch.security, ch.security.localHeader(), int(remote.ReceiveBufferSize))
	} else {
		if tok == nil {
			return ua.BadSecureChannelClosed
		}
		layout, err = symmetricLayout(tok, int(remote.ReceiveBufferSize))
	}
	if err != nil {
		return err
	}
	if err := layout.checkLimits(n, remote); err != nil {
		return err
	}

	count := layout.chunkCount(n)
	scratch := getChunkBuffer(layout.maxBodySize)
	defer putChunkBuffer(scratch)
	var last *WriteTicket
	ch.sendMu.Lock()
	var off int64
	for i := 0; i < count; i++ {
		m, _ := buf.ReadAt(scratch, off)
		off += int64(m)
		chunkType := ua.ChunkTypeIntermediate
		if i == count-1 {
			chunkType = ua.ChunkTypeFinal
		}
		c := layout.writeChunk(ua.WithChunkType(messageType, chunkType), id, ch.sendSeq.Next(), requestID, scratch[:m])
		wt := conn.Reserve()
		ch.submit(func() {
			var out []byte
			var err error
			if asymmetric {
				out, err = protectAsymmetric(ch.security, c)
			} else {
				out, err = protectSymmetric(tok, c)
			}
			conn.Fill(wt, out, err)
		})
		last = wt
	}
	ch.sendMu.Unlock()
	return last.Wait()
}

// Fail ends the channel with a protocol or security error. The connection
// is aborted with the status of the error.
func (ch *SecureChannel) Fail(err error) {
	ch.Lock()
	if ch.err != nil {
		ch.Unlock()
		return
	}
	ch.err = err
	conn := ch.conn
	for id, b := range ch.builders {
		b.abort(err)
		delete(ch.builders, id)
	}
	ch.Unlock()
	ch.logger.Warn("channel failed", zap.Uint32("channel", ch.ID()), zap.Error(err))
	if conn != nil {
		conn.Abort(StatusCodeOf(err), "")
	}
	if ch.onFault != nil {
		ch.onFault(err)
	}
}

// Close ends the channel without aborting the connection.
func (ch *SecureChannel) Close(err error) {
	ch.Lock()
	if ch.err == nil {
		ch.err = err
	}
	for id, b := range ch.builders {
		b.abort(err)
		delete(ch.builders, id)
	}
	ch.Unlock()
}
