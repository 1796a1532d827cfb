// Copyright 2021 Converter Systems LLC. All rights reserved.

package client

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/awcullen/uasc/ua"
	"github.com/awcullen/uasc/uasc"
	"github.com/gammazero/deque"
	"github.com/gammazero/workerpool"
	"go.uber.org/zap"
)

// defaultReconnectDelays are the delays between attempts to reconnect. The last delay repeats.
var defaultReconnectDelays = []time.Duration{
	0, 1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
	16 * time.Second, 32 * time.Second, 64 * time.Second, 120 * time.Second,
}

type channelState int32

const (
	stateClosed channelState = iota
	stateOpening
	stateOpen
	stateRenewing
	stateClosing
)

func (s channelState) String() string {
	switch s {
	case stateOpening:
		return "Opening"
	case stateOpen:
		return "Open"
	case stateRenewing:
		return "Renewing"
	case stateClosing:
		return "Closing"
	default:
		return "Closed"
	}
}

// clientSecureChannel opens, renews and recovers a secure channel to a server.
type clientSecureChannel struct {
	sync.Mutex
	endpointURL        string
	security           *uasc.SecurityConfig
	validator          ua.CertificateValidator
	insecureSkipVerify bool
	limits             uasc.Limits
	timeoutHint        uint32
	tokenLifetime      uint32
	connectTimeout     time.Duration
	reconnectDelays    []time.Duration
	scheduler          *uasc.Scheduler
	pool               *workerpool.WorkerPool
	logger             *zap.Logger
	trace              bool
	renewDisabled      bool

	sc            *uasc.SecureChannel
	pending       *uasc.PendingRegistry
	conn          *uasc.Conn
	state         channelState
	recovering    bool
	backoff       int
	queue         *deque.Deque[*uasc.PendingRequest]
	openRequestID uint32
	renewTask     *uasc.Task
	expiryTask    *uasc.Task
	reconnectTask *uasc.Task
	requestID     uint32
	closeErr      error
}

// newClientSecureChannel initializes a new instance of the secure channel.
func newClientSecureChannel(cli *Client, security *uasc.SecurityConfig) *clientSecureChannel {
	ch := &clientSecureChannel{
		endpointURL:        cli.endpointURL,
		security:           security,
		validator:          cli.validator,
		insecureSkipVerify: cli.insecureSkipVerify,
		limits:             cli.limits,
		timeoutHint:        cli.timeoutHint,
		tokenLifetime:      cli.tokenLifetime,
		connectTimeout:     time.Duration(cli.connectTimeout) * time.Millisecond,
		reconnectDelays:    cli.reconnectDelays,
		scheduler:          cli.scheduler,
		pool:               cli.pool,
		logger:             cli.logger,
		trace:              cli.trace,
		pending:            uasc.NewPendingRegistry(cli.scheduler),
		queue:              deque.New[*uasc.PendingRequest](),
		requestID:          rand.Uint32(),
	}
	ch.sc = uasc.NewSecureChannel(uasc.ChannelConfig{
		Security: security,
		Codec:    cli.codec,
		Pool:     cli.pool,
		Logger:   cli.logger,
		Deliver:  ch.deliver,
		OnFault:  ch.closeWithError,
	})
	return ch
}

// nextRequestID returns the next request id, skipping zero.
func (ch *clientSecureChannel) nextRequestID() uint32 {
	for {
		if id := atomic.AddUint32(&ch.requestID, 1); id != 0 {
			return id
		}
	}
}

// ChannelID returns the id issued by the server.
func (ch *clientSecureChannel) ChannelID() uint32 {
	return ch.sc.ID()
}

// IsOpen returns true if the channel is open and its token is not expired.
func (ch *clientSecureChannel) IsOpen() bool {
	ch.Lock()
	state := ch.state
	ch.Unlock()
	if state != stateOpen && state != stateRenewing {
		return false
	}
	tok := ch.sc.Tokens().Active()
	return tok != nil && tok.Valid(time.Now())
}

// Open connects to the server and issues the first token.
func (ch *clientSecureChannel) Open(ctx context.Context) error {
	ch.Lock()
	if ch.state != stateClosed || ch.closeErr != nil {
		ch.Unlock()
		return ua.BadInvalidState
	}
	ch.state = stateOpening
	ch.Unlock()

	if err := ch.open(ctx); err != nil {
		ch.logger.Warn("open failed", zap.Error(err))
		ch.closeWithError(err)
		return err
	}
	return nil
}

func (ch *clientSecureChannel) open(ctx context.Context) error {
	if !ch.security.IsNone() {
		if len(ch.security.RemoteCertificate) == 0 {
			return ua.BadCertificateInvalid
		}
		if err := validateServerCertificate(ch.security.RemoteCertificate, ch.endpointURL, ch.validator, ch.insecureSkipVerify); err != nil {
			return err
		}
	}
	conn, err := uasc.Dial(ctx, ch.endpointURL, ch.limits, ch.connectTimeout, ch.logger)
	if err != nil {
		return err
	}
	ch.attach(conn)
	tok, err := ch.requestToken(ctx, ua.SecurityTokenRequestTypeIssue)
	if err != nil {
		return err
	}
	ch.Lock()
	if ch.state != stateOpening {
		ch.Unlock()
		return ua.BadSecureChannelClosed
	}
	ch.state = stateOpen
	ch.backoff = 0
	ch.scheduleTokenTasks(tok)
	ch.Unlock()
	ch.logger.Info("channel opened", zap.Uint32("channel", tok.ChannelID), zap.Uint32("token", tok.TokenID),
		zap.String("policy", ch.security.Policy.PolicyURI()), zap.Stringer("mode", ch.security.Mode))
	return nil
}

func (ch *clientSecureChannel) attach(conn *uasc.Conn) {
	ch.Lock()
	ch.conn = conn
	ch.Unlock()
	ch.sc.Attach(conn)
	conn.Start(ch)
}

// requestToken sends an OpenSecureChannelRequest and installs the token of the response.
func (ch *clientSecureChannel) requestToken(ctx context.Context, requestType ua.SecurityTokenRequestType) (*uasc.SecurityToken, error) {
	nonce, err := ch.security.NewNonce()
	if err != nil {
		return nil, err
	}
	id := ch.nextRequestID()
	req := &ua.OpenSecureChannelRequest{
		RequestHeader: ua.RequestHeader{
			Timestamp:     time.Now(),
			RequestHandle: id,
			TimeoutHint:   ch.timeoutHint,
		},
		ClientProtocolVersion: ua.ProtocolVersion,
		RequestType:           requestType,
		SecurityMode:          ch.security.Mode,
		ClientNonce:           ua.ByteString(nonce),
		RequestedLifetime:     ch.tokenLifetime,
	}
	timeout := time.Duration(ch.timeoutHint) * time.Millisecond
	p := uasc.NewPendingRequest(id, timeout, nil)
	if err := ch.pending.Register(p); err != nil {
		return nil, err
	}
	ch.Lock()
	ch.openRequestID = id
	ch.Unlock()
	defer func() {
		ch.Lock()
		if ch.openRequestID == id {
			ch.openRequestID = 0
		}
		ch.Unlock()
	}()
	if ch.trace {
		ch.logger.Debug("request", zap.String("type", "OpenSecureChannelRequest"), zap.Uint32("request", id), zap.Stringer("requestType", requestType))
	}
	if err := ch.sc.SendMessage(ua.MessageTypeOpenFinal, id, req); err != nil {
		ch.pending.Resolve(id, nil, err)
	}
	result, err := ch.pending.Wait(ctx, p)
	if err != nil {
		return nil, err
	}
	in := result.(uasc.Inbound)
	res, ok := in.Msg.(*ua.OpenSecureChannelResponse)
	if !ok {
		return nil, ua.BadUnknownResponse
	}

	channelID, err := ch.resolveChannelID(requestType, in.ChannelID, res.SecurityToken.ChannelID)
	if err != nil {
		return nil, err
	}
	lifetime := time.Duration(res.SecurityToken.RevisedLifetime) * time.Millisecond
	tok, err := uasc.NewSecurityToken(channelID, res.SecurityToken.TokenID, time.Now(), lifetime,
		nonce, []byte(res.ServerNonce), ch.security.Policy, ch.security.Mode)
	if err != nil {
		return nil, err
	}
	if requestType == ua.SecurityTokenRequestTypeIssue {
		ch.sc.SetID(channelID)
	}
	ch.sc.InstallToken(tok)
	return tok, nil
}

// resolveChannelID checks the channel id of the token against the id in the
// message header and the id of the channel. Some servers of the legacy
// policies answer with a conflicting id in the token; the header wins.
func (ch *clientSecureChannel) resolveChannelID(requestType ua.SecurityTokenRequestType, headerID, tokenID uint32) (uint32, error) {
	expected := headerID
	if requestType == ua.SecurityTokenRequestTypeRenew {
		expected = ch.sc.ID()
	}
	if tokenID == expected && (headerID == 0 || headerID == tokenID) {
		return tokenID, nil
	}
	if headerID == expected && ua.IsLegacyPolicy(ch.security.Policy.PolicyURI()) {
		ch.logger.Warn("conflicting channel id in token", zap.Uint32("channel", headerID), zap.Uint32("token", tokenID))
		return headerID, nil
	}
	return 0, ua.BadSecureChannelIDInvalid
}

// scheduleTokenTasks schedules the renewal and the expiry of the token. Call with the lock held.
func (ch *clientSecureChannel) scheduleTokenTasks(tok *uasc.SecurityToken) {
	ch.renewTask.Cancel()
	ch.expiryTask.Cancel()
	ch.renewTask = nil
	if !ch.renewDisabled {
		ch.renewTask = ch.scheduler.Schedule(tok.RenewAt(), ch.renew)
	}
	ch.expiryTask = ch.scheduler.Schedule(tok.ExpiresAt(), ch.expire)
}

// renew runs at 75% of the lifetime of the token. On failure the current
// token is used until it expires.
func (ch *clientSecureChannel) renew() {
	ch.Lock()
	if ch.state != stateOpen || ch.recovering {
		ch.Unlock()
		return
	}
	ch.state = stateRenewing
	ch.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(ch.timeoutHint)*time.Millisecond)
	defer cancel()
	tok, err := ch.requestToken(ctx, ua.SecurityTokenRequestTypeRenew)

	ch.Lock()
	defer ch.Unlock()
	if ch.state != stateRenewing {
		return
	}
	ch.state = stateOpen
	if err != nil {
		ch.logger.Warn("renew failed", zap.Uint32("channel", ch.sc.ID()), zap.Error(err))
		return
	}
	ch.scheduleTokenTasks(tok)
	ch.logger.Debug("token renewed", zap.Uint32("channel", tok.ChannelID), zap.Uint32("token", tok.TokenID))
}

// expire closes the channel when its newest token expired. While
// recovering, the channel is closed by the bound of the recovery instead.
func (ch *clientSecureChannel) expire() {
	if tok := ch.sc.Tokens().Active(); tok != nil && tok.Valid(time.Now()) {
		return
	}
	ch.Lock()
	recovering := ch.recovering
	ch.Unlock()
	if recovering {
		return
	}
	ch.logger.Warn("token expired", zap.Uint32("channel", ch.sc.ID()))
	ch.closeWithError(ua.BadSecureChannelClosed)
}

// HandleChunk routes a chunk to the secure channel.
func (ch *clientSecureChannel) HandleChunk(c *uasc.Conn, messageType uint32, chunk []byte) error {
	return ch.sc.HandleChunk(c, messageType, chunk)
}

// HandleClose starts error recovery when the connection of an open channel is lost.
func (ch *clientSecureChannel) HandleClose(c *uasc.Conn, err error) {
	ch.Lock()
	if c != ch.conn {
		ch.Unlock()
		return
	}
	openID := ch.openRequestID
	state := ch.state
	ch.Unlock()
	if openID != 0 {
		ch.pending.Resolve(openID, nil, err)
	}
	if state != stateOpen && state != stateRenewing {
		return
	}
	if ch.sc.Err() != nil {
		return
	}
	if !uasc.IsCommunicationError(err) {
		// the server sent an error message.
		ch.closeWithError(err)
		return
	}
	ch.logger.Info("connection lost", zap.Uint32("channel", ch.sc.ID()), zap.Error(err))
	ch.startRecovery()
}

// startRecovery sets the recovery flag and schedules the first attempt.
func (ch *clientSecureChannel) startRecovery() {
	ch.Lock()
	defer ch.Unlock()
	if ch.recovering || ch.state == stateClosed || ch.state == stateClosing {
		return
	}
	ch.recovering = true
	ch.backoff = 0
	ch.scheduleReconnect()
}

// scheduleReconnect schedules the next attempt, unless the attempt would
// come after the token can no longer be renewed. Call with the lock held.
func (ch *clientSecureChannel) scheduleReconnect() {
	delay := ch.reconnectDelays[len(ch.reconnectDelays)-1]
	if ch.backoff < len(ch.reconnectDelays) {
		delay = ch.reconnectDelays[ch.backoff]
	}
	tok := ch.sc.Tokens().Active()
	if tok == nil || time.Now().Add(delay).After(tok.RecoveryDeadline()) {
		ch.logger.Warn("reconnect abandoned", zap.Uint32("channel", ch.sc.ID()), zap.Int("attempt", ch.backoff))
		go ch.closeWithError(ua.BadSecureChannelClosed)
		return
	}
	ch.backoff++
	ch.reconnectTask = ch.scheduler.After(delay, ch.reconnect)
}

// reconnect dials the server and renews the token of the existing channel.
func (ch *clientSecureChannel) reconnect() {
	ch.Lock()
	if !ch.recovering || ch.state == stateClosed || ch.state == stateClosing {
		ch.Unlock()
		return
	}
	attempt := ch.backoff
	ch.Unlock()
	ch.logger.Info("reconnecting", zap.Uint32("channel", ch.sc.ID()), zap.Int("attempt", attempt))

	// every asymmetric handshake validates the server certificate.
	if !ch.security.IsNone() {
		if err := validateServerCertificate(ch.security.RemoteCertificate, ch.endpointURL, ch.validator, ch.insecureSkipVerify); err != nil {
			ch.logger.Warn("reconnect failed", zap.Int("attempt", attempt), zap.Error(err))
			ch.closeWithError(err)
			return
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), ch.connectTimeout+time.Duration(ch.timeoutHint)*time.Millisecond)
	defer cancel()
	conn, err := uasc.Dial(ctx, ch.endpointURL, ch.limits, ch.connectTimeout, ch.logger)
	if err != nil {
		ch.logger.Info("reconnect failed", zap.Int("attempt", attempt), zap.Error(err))
		ch.retry()
		return
	}
	ch.Lock()
	if ch.state == stateClosed || ch.state == stateClosing {
		ch.Unlock()
		conn.Close()
		return
	}
	ch.Unlock()
	ch.attach(conn)

	tok, err := ch.requestToken(ctx, ua.SecurityTokenRequestTypeRenew)
	if err != nil {
		ch.logger.Info("reconnect failed", zap.Int("attempt", attempt), zap.Error(err))
		switch uasc.StatusCodeOf(err) {
		case ua.BadSecureChannelIDInvalid, ua.BadSecureChannelTokenUnknown, ua.BadTCPSecureChannelUnknown:
			ch.closeWithError(err)
			return
		}
		if uasc.KindOf(err) == uasc.KindSecurity {
			ch.closeWithError(err)
			return
		}
		conn.Close()
		ch.retry()
		return
	}

	ch.Lock()
	ch.backoff = 0
	ch.scheduleTokenTasks(tok)
	ch.Unlock()
	ch.logger.Info("reconnected", zap.Uint32("channel", tok.ChannelID), zap.Uint32("token", tok.TokenID), zap.Int("attempt", attempt))
	ch.flush()
}

func (ch *clientSecureChannel) retry() {
	ch.Lock()
	defer ch.Unlock()
	if ch.state == stateClosed || ch.state == stateClosing {
		return
	}
	ch.scheduleReconnect()
}

// flush sends the requests queued during recovery, then clears the flag.
func (ch *clientSecureChannel) flush() {
	for {
		ch.Lock()
		if ch.queue.Len() == 0 {
			ch.recovering = false
			ch.Unlock()
			return
		}
		p := ch.queue.PopFront()
		ch.Unlock()

		if ch.pending.Get(p.RequestID) == nil {
			// timed out or cancelled while queued.
			continue
		}
		if err := ch.send(p); err != nil {
			if uasc.IsCommunicationError(err) {
				ch.Lock()
				ch.queue.PushFront(p)
				ch.Unlock()
				return
			}
			ch.pending.Resolve(p.RequestID, nil, err)
		}
	}
}

func (ch *clientSecureChannel) send(p *uasc.PendingRequest) error {
	if ch.trace {
		ch.logger.Debug("request", zap.String("type", fmt.Sprintf("%T", p.Payload)), zap.Uint32("request", p.RequestID))
	}
	return ch.sc.SendMessage(ua.MessageTypeFinal, p.RequestID, p.Payload)
}

// deliver resolves the pending request of a response.
func (ch *clientSecureChannel) deliver(in uasc.Inbound) {
	err := in.Err
	if err == nil {
		res, ok := in.Msg.(ua.ServiceResponse)
		switch {
		case !ok:
			err = ua.BadUnknownResponse
		case res.Header().ServiceResult.IsBad():
			err = ua.NewServiceFaultError(res)
		}
		if ch.trace && ok {
			ch.logger.Debug("response", zap.String("type", fmt.Sprintf("%T", res)), zap.Uint32("request", in.RequestID))
		}
	}
	if !ch.pending.Resolve(in.RequestID, in, err) {
		ch.logger.Debug("response dropped", zap.Uint32("request", in.RequestID))
	}
}

// RequestAsync registers and sends the request. During recovery, or when the
// connection is lost, the request is queued until the channel is recovered.
func (ch *clientSecureChannel) RequestAsync(req ua.ServiceRequest) (*uasc.PendingRequest, error) {
	// the cause of a close was reported to the requests pending at the time.
	ch.Lock()
	state := ch.state
	ch.Unlock()
	if state != stateOpen && state != stateRenewing {
		return nil, ua.BadSecureChannelClosed
	}
	if tok := ch.sc.Tokens().Active(); tok == nil || !tok.Valid(time.Now()) {
		return nil, ua.BadSecureChannelClosed
	}

	id := ch.nextRequestID()
	hdr := req.Header()
	hdr.Timestamp = time.Now()
	hdr.RequestHandle = id
	if hdr.TimeoutHint == 0 {
		hdr.TimeoutHint = ch.timeoutHint
	}
	p := uasc.NewPendingRequest(id, time.Duration(hdr.TimeoutHint)*time.Millisecond, req)
	if err := ch.pending.Register(p); err != nil {
		return nil, err
	}

	ch.Lock()
	if ch.recovering {
		ch.queue.PushBack(p)
		ch.Unlock()
		return p, nil
	}
	ch.Unlock()

	if err := ch.send(p); err != nil {
		if uasc.IsCommunicationError(err) {
			ch.Lock()
			ch.queue.PushBack(p)
			ch.Unlock()
			ch.startRecovery()
			return p, nil
		}
		ch.pending.Resolve(id, nil, err)
	}
	return p, nil
}

// Request sends the request and waits for the response.
func (ch *clientSecureChannel) Request(ctx context.Context, req ua.ServiceRequest) (ua.ServiceResponse, error) {
	p, err := ch.RequestAsync(req)
	if err != nil {
		return nil, err
	}
	return ch.wait(ctx, p)
}

func (ch *clientSecureChannel) wait(ctx context.Context, p *uasc.PendingRequest) (ua.ServiceResponse, error) {
	result, err := ch.pending.Wait(ctx, p)
	if in, ok := result.(uasc.Inbound); ok {
		if res, ok := in.Msg.(ua.ServiceResponse); ok {
			return res, err
		}
	}
	return nil, err
}

// Close sends a CloseSecureChannelRequest, if connected, then closes the channel.
func (ch *clientSecureChannel) Close(ctx context.Context) error {
	ch.Lock()
	if ch.state == stateClosed {
		ch.Unlock()
		return nil
	}
	connected := !ch.recovering && ch.state != stateOpening
	ch.state = stateClosing
	ch.Unlock()
	if connected {
		req := &ua.CloseSecureChannelRequest{
			RequestHeader: ua.RequestHeader{
				Timestamp:   time.Now(),
				TimeoutHint: ch.timeoutHint,
			},
		}
		id := ch.nextRequestID()
		req.RequestHandle = id
		if err := ch.sc.SendMessage(ua.MessageTypeCloseFinal, id, req); err != nil {
			ch.logger.Debug("close request failed", zap.Error(err))
		}
	}
	ch.closeWithError(ua.BadSecureChannelClosed)
	return nil
}

// closeWithError closes the channel and fails every pending request with the error.
func (ch *clientSecureChannel) closeWithError(err error) {
	ch.Lock()
	if ch.state == stateClosed && ch.closeErr != nil {
		ch.Unlock()
		return
	}
	ch.state = stateClosed
	ch.closeErr = err
	ch.recovering = false
	ch.renewTask.Cancel()
	ch.expiryTask.Cancel()
	ch.reconnectTask.Cancel()
	ch.queue.Clear()
	conn := ch.conn
	ch.Unlock()

	ch.sc.Close(err)
	if conn != nil {
		conn.Close()
	}
	ch.pending.FailAll(err)
	ch.logger.Info("channel closed", zap.Uint32("channel", ch.sc.ID()), zap.Error(err))
}
