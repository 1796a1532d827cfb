// Copyright 2021 Converter Systems LLC. All rights reserved.

package server

import (
	"context"
	"crypto/x509"
	"fmt"
	"sync"
	"time"

	"github.com/awcullen/uasc/ua"
	"github.com/awcullen/uasc/uasc"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// serverSecureChannel is the server end of a secure channel. It issues and
// renews tokens, and passes service requests to the handler of the server.
type serverSecureChannel struct {
	sync.RWMutex
	srv      *Server
	sc       *uasc.SecureChannel
	security *uasc.SecurityConfig
	conn     *serverConn
	closed   bool
}

// newServerSecureChannel creates a channel for the policy and certificate
// named in the header of the first OPN chunk.
func newServerSecureChannel(srv *Server, h *uasc.AsymmetricHeader) (*serverSecureChannel, error) {
	if !srv.securityPolicies[h.PolicyURI] {
		return nil, ua.BadSecurityPolicyRejected
	}
	// the mode is chosen by the OpenSecureChannelRequest; OPN chunks do not depend on it.
	mode := ua.MessageSecurityModeSignAndEncrypt
	if h.PolicyURI == ua.SecurityPolicyURINone {
		mode = ua.MessageSecurityModeNone
	}
	security, err := uasc.NewSecurityConfig(h.PolicyURI, mode, srv.localCertificate, srv.localPrivateKey, h.SenderCertificate)
	if err != nil {
		return nil, err
	}
	if !security.IsNone() {
		if len(h.SenderCertificate) == 0 {
			return nil, ua.BadCertificateInvalid
		}
		crt, err := x509.ParseCertificate(h.SenderCertificate)
		if err != nil {
			return nil, ua.BadCertificateInvalid
		}
		if err := srv.validator.Validate(crt); err != nil {
			return nil, err
		}
	}
	ch := &serverSecureChannel{srv: srv, security: security}
	ch.sc = uasc.NewSecureChannel(uasc.ChannelConfig{
		Security:    security,
		Codec:       srv.codec,
		Pool:        srv.workerpool,
		Logger:      srv.logger,
		Deliver:     ch.deliver,
		OnFault:     ch.onFault,
		SwitchOnUse: true,
	})
	return ch, nil
}

func (ch *serverSecureChannel) owner() *serverConn {
	ch.RLock()
	defer ch.RUnlock()
	return ch.conn
}

// attach moves the channel to the connection.
func (ch *serverSecureChannel) attach(sc *serverConn) {
	ch.Lock()
	old := ch.conn
	ch.conn = sc
	ch.Unlock()
	if old != nil && old != sc {
		old.remove(ch)
	}
	sc.add(ch)
	ch.sc.Attach(sc.conn)
}

// deliver receives the messages of the channel.
func (ch *serverSecureChannel) deliver(in uasc.Inbound) {
	if in.Err != nil {
		if ch.sc.Err() != nil || uasc.KindOf(in.Err) == uasc.KindTransport {
			return
		}
		if ua.MessageTypeOf(in.MessageType) != ua.MessageTypeOf(ua.MessageTypeFinal) {
			ch.sc.Fail(in.Err)
			return
		}
		ch.srv.logger.Debug("error decoding request", zap.Uint32("channel", ch.sc.ID()), zap.Uint32("request", in.RequestID), zap.Error(in.Err))
		go ch.sendFault(in.RequestID, 0, uasc.StatusCodeOf(in.Err))
		return
	}
	switch ua.MessageTypeOf(in.MessageType) {
	case ua.MessageTypeOf(ua.MessageTypeOpenFinal):
		req, ok := in.Msg.(*ua.OpenSecureChannelRequest)
		if !ok {
			ch.sc.Fail(ua.BadTCPMessageTypeInvalid)
			return
		}
		if err := ch.handleOpenSecureChannel(in.RequestID, req); err != nil {
			ch.srv.logger.Warn("error issuing token", zap.Uint32("channel", ch.sc.ID()), zap.Error(err))
			ch.sc.Fail(err)
		}
	case ua.MessageTypeOf(ua.MessageTypeCloseFinal):
		ch.srv.logger.Debug("channel closed by client", zap.Uint32("channel", ch.sc.ID()))
		ch.close(ua.BadSecureChannelClosed)
	default:
		req, ok := in.Msg.(ua.ServiceRequest)
		if !ok {
			go ch.sendFault(in.RequestID, 0, ua.BadServiceUnsupported)
			return
		}
		go ch.handleRequest(in.RequestID, req)
	}
}

// handleOpenSecureChannel issues the first token of the channel, or renews it.
func (ch *serverSecureChannel) handleOpenSecureChannel(requestID uint32, req *ua.OpenSecureChannelRequest) error {
	if req.ClientProtocolVersion < ua.ProtocolVersion {
		return ua.BadProtocolVersionUnsupported
	}
	active := ch.sc.Tokens().Active()
	switch req.RequestType {
	case ua.SecurityTokenRequestTypeIssue:
		if active != nil {
			return ua.BadSecurityChecksFailed
		}
		if err := ch.checkMode(req.SecurityMode); err != nil {
			return err
		}
		ch.security.Mode = req.SecurityMode
	case ua.SecurityTokenRequestTypeRenew:
		if active == nil {
			return ua.BadSecurityChecksFailed
		}
		if req.SecurityMode != active.Mode {
			return ua.BadSecurityModeRejected
		}
	default:
		return ua.BadSecurityChecksFailed
	}
	if ch.srv.trace {
		ch.srv.logger.Debug("request", zap.String("type", "OpenSecureChannelRequest"), zap.Uint32("request", requestID), zap.Stringer("requestType", req.RequestType))
	}

	nonce, err := ch.security.NewNonce()
	if err != nil {
		return err
	}
	lifetime := ch.srv.reviseLifetime(req.RequestedLifetime)
	now := time.Now()
	id := ch.sc.ID()
	tok, err := uasc.NewSecurityToken(id, ch.srv.channelManager.nextTokenID(), now,
		time.Duration(lifetime)*time.Millisecond, nonce, []byte(req.ClientNonce), ch.security.Policy, req.SecurityMode)
	if err != nil {
		return err
	}
	ch.sc.InstallToken(tok)
	ch.srv.channelManager.scheduleSweep(ch, tok.ExpiresAt())

	res := &ua.OpenSecureChannelResponse{
		ResponseHeader: ua.ResponseHeader{
			Timestamp:     now,
			RequestHandle: req.RequestHandle,
		},
		ServerProtocolVersion: ua.ProtocolVersion,
		SecurityToken: ua.ChannelSecurityToken{
			ChannelID:       id,
			TokenID:         tok.TokenID,
			CreatedAt:       now,
			RevisedLifetime: lifetime,
		},
		ServerNonce: ua.ByteString(nonce),
	}
	if err := ch.sc.SendMessage(ua.MessageTypeOpenFinal, requestID, res); err != nil {
		return err
	}
	ch.srv.logger.Debug("token issued", zap.Uint32("channel", id), zap.Uint32("token", tok.TokenID),
		zap.Stringer("requestType", req.RequestType), zap.Uint32("lifetime", lifetime))
	return nil
}

// checkMode returns an error if the server does not offer the mode with the policy of the channel.
func (ch *serverSecureChannel) checkMode(mode ua.MessageSecurityMode) error {
	if ch.security.IsNone() {
		if mode != ua.MessageSecurityModeNone {
			return ua.BadSecurityModeRejected
		}
		return nil
	}
	if !ch.srv.securityModes[mode] {
		return ua.BadSecurityModeRejected
	}
	return nil
}

// handleRequest calls the handler and sends the response. An error of the
// handler is answered with a ServiceFault.
func (ch *serverSecureChannel) handleRequest(requestID uint32, req ua.ServiceRequest) {
	hdr := req.Header()
	if ch.srv.trace {
		ch.srv.logger.Debug("request", zap.String("type", fmt.Sprintf("%T", req)), zap.Uint32("request", requestID))
	}
	ctx := context.WithValue(context.Background(), ChannelIDKey, ch.sc.ID())
	if hdr.TimeoutHint > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(hdr.TimeoutHint)*time.Millisecond)
		defer cancel()
	}
	res, err := ch.srv.handler.ServeUA(ctx, req)
	if err == nil && res == nil {
		err = ua.BadInternalError
	}
	if err != nil {
		code, ok := errors.Cause(err).(ua.StatusCode)
		if !ok || code.IsGood() {
			code = ua.BadInternalError
		}
		ch.sendFault(requestID, hdr.RequestHandle, code)
		return
	}
	rh := res.Header()
	rh.Timestamp = time.Now()
	rh.RequestHandle = hdr.RequestHandle
	if ch.srv.trace {
		ch.srv.logger.Debug("response", zap.String("type", fmt.Sprintf("%T", res)), zap.Uint32("request", requestID))
	}
	if err := ch.sc.SendMessage(ua.MessageTypeFinal, requestID, res); err != nil {
		ch.srv.logger.Debug("error sending response", zap.Uint32("channel", ch.sc.ID()), zap.Uint32("request", requestID), zap.Error(err))
	}
}

func (ch *serverSecureChannel) sendFault(requestID, requestHandle uint32, code ua.StatusCode) {
	res := &ua.ServiceFault{
		ResponseHeader: ua.ResponseHeader{
			Timestamp:     time.Now(),
			RequestHandle: requestHandle,
			ServiceResult: code,
		},
	}
	if err := ch.sc.SendMessage(ua.MessageTypeFinal, requestID, res); err != nil {
		ch.srv.logger.Debug("error sending fault", zap.Uint32("channel", ch.sc.ID()), zap.Uint32("request", requestID), zap.Error(err))
	}
}

// onFault removes a channel that failed a protocol or security check.
func (ch *serverSecureChannel) onFault(err error) {
	ch.close(err)
}

// close removes the channel from the server. The connection is closed
// when no other channel uses it.
func (ch *serverSecureChannel) close(err error) {
	ch.Lock()
	if ch.closed {
		ch.Unlock()
		return
	}
	ch.closed = true
	sc := ch.conn
	ch.Unlock()
	ch.sc.Close(err)
	ch.srv.channelManager.Delete(ch)
	if sc != nil && sc.remove(ch) == 0 {
		sc.conn.Close()
	}
}
