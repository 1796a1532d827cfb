// Copyright 2021 Converter Systems LLC. All rights reserved.

package uasc

import (
	"bytes"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/awcullen/uasc/ua"
	"github.com/gammazero/workerpool"
	"gotest.tools/assert"
)

var testLimits = Limits{ReceiveBufferSize: 8192, SendBufferSize: 8192, MaxMessageSize: 1 << 20, MaxChunkCount: 64}

// channelHandler adapts a SecureChannel to a ChunkHandler.
type channelHandler struct {
	*SecureChannel
	closed chan error
}

func (h *channelHandler) HandleClose(c *Conn, err error) {
	h.closed <- err
}

func newLoopback(t *testing.T) (client, server *Conn) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NilError(t, err)
	defer l.Close()
	accepted := make(chan *Conn, 1)
	go func() {
		nc, err := l.Accept()
		if err != nil {
			accepted <- nil
			return
		}
		c, err := Accept(nc, testLimits, 5*time.Second, nil)
		if err != nil {
			accepted <- nil
			return
		}
		accepted <- c
	}()
	client, err = Dial(context.Background(), "opc.tcp://"+l.Addr().String(), testLimits, 5*time.Second, nil)
	assert.NilError(t, err)
	server = <-accepted
	assert.Assert(t, server != nil)
	assert.Equal(t, server.EndpointURL(), "opc.tcp://"+l.Addr().String())
	return client, server
}

type channelPair struct {
	client, server             *SecureChannel
	clientConn, serverConn     *Conn
	clientClosed, serverClosed chan error
	received                   chan Inbound
}

func newChannelPair(t *testing.T, clientTok, serverTok *SecurityToken) *channelPair {
	t.Helper()
	none, err := NewSecurityConfig(ua.SecurityPolicyURINone, ua.MessageSecurityModeNone, nil, nil, nil)
	assert.NilError(t, err)
	pool := workerpool.New(4)
	t.Cleanup(pool.StopWait)

	p := &channelPair{
		clientClosed: make(chan error, 1),
		serverClosed: make(chan error, 1),
		received:     make(chan Inbound, 16),
	}
	p.client = NewSecureChannel(ChannelConfig{ID: 1, Security: none, Pool: pool})
	p.server = NewSecureChannel(ChannelConfig{ID: 1, Security: none, Pool: pool, SwitchOnUse: true,
		Deliver: func(in Inbound) { p.received <- in }})
	p.client.InstallToken(clientTok)
	p.server.InstallToken(serverTok)

	p.clientConn, p.serverConn = newLoopback(t)
	t.Cleanup(func() {
		p.clientConn.Close()
		p.serverConn.Close()
	})
	p.client.Attach(p.clientConn)
	p.clientConn.Start(&channelHandler{p.client, p.clientClosed})
	p.server.Attach(p.serverConn)
	p.serverConn.Start(&channelHandler{p.server, p.serverClosed})
	return p
}

func waitInbound(t *testing.T, ch <-chan Inbound) Inbound {
	t.Helper()
	select {
	case in := <-ch:
		return in
	case <-time.After(5 * time.Second):
		t.Fatal("message not received")
		return Inbound{}
	}
}

func TestChannelMessages(t *testing.T) {
	for _, mode := range []ua.MessageSecurityMode{ua.MessageSecurityModeNone, ua.MessageSecurityModeSign, ua.MessageSecurityModeSignAndEncrypt} {
		t.Run(mode.String(), func(t *testing.T) {
			policy := ua.SecurityPolicyURIBasic256Sha256
			if mode == ua.MessageSecurityModeNone {
				policy = ua.SecurityPolicyURINone
			}
			clientTok, serverTok := newTokenPair(t, policy, mode)
			p := newChannelPair(t, clientTok, serverTok)

			// the large message spans several chunks of the 8192 byte buffer.
			inputs := map[uint32]string{
				1: "small",
				2: strings.Repeat("abcdefgh", 4000),
				3: "",
			}
			for id, s := range inputs {
				req := &ua.TestStackRequest{RequestHeader: ua.RequestHeader{RequestHandle: id}, Input: ua.NewVariant(s)}
				assert.NilError(t, p.client.SendMessage(ua.MessageTypeFinal, id, req))
			}
			for range inputs {
				in := waitInbound(t, p.received)
				assert.NilError(t, in.Err)
				assert.Equal(t, in.ChannelID, uint32(1))
				assert.Equal(t, ua.MessageTypeOf(in.MessageType), ua.MessageTypeOf(ua.MessageTypeFinal))
				req, ok := in.Msg.(*ua.TestStackRequest)
				assert.Assert(t, ok)
				assert.Equal(t, req.RequestHandle, in.RequestID)
				assert.Equal(t, req.Input.Value, inputs[in.RequestID])
			}
		})
	}
}

func TestChannelMessageTooLarge(t *testing.T) {
	clientTok, serverTok := newTokenPair(t, ua.SecurityPolicyURINone, ua.MessageSecurityModeNone)
	p := newChannelPair(t, clientTok, serverTok)
	req := &ua.TestStackRequest{Input: ua.NewVariant(strings.Repeat("x", 2<<20))}
	assert.Equal(t, p.client.SendMessage(ua.MessageTypeFinal, 1, req), ua.BadTCPMessageTooLarge)
}

func TestChannelTokenUnknown(t *testing.T) {
	clientTok, _ := newTokenPair(t, ua.SecurityPolicyURIBasic256Sha256, ua.MessageSecurityModeSign)
	_, serverTok := newTokenPair(t, ua.SecurityPolicyURIBasic256Sha256, ua.MessageSecurityModeSign)
	clientTok.TokenID = 3
	p := newChannelPair(t, clientTok, serverTok)

	assert.NilError(t, p.client.SendMessage(ua.MessageTypeFinal, 1, &ua.TestStackRequest{}))
	select {
	case err := <-p.clientClosed:
		// the server aborts the connection with the status of the failure.
		assert.Equal(t, err, error(ua.BadSecureChannelTokenUnknown))
	case <-time.After(5 * time.Second):
		t.Fatal("connection not aborted")
	}
	assert.Equal(t, p.server.Err(), error(ua.BadSecureChannelTokenUnknown))
}

func TestChannelSwitchesTokenOnUse(t *testing.T) {
	clientTok1, serverTok1 := newTokenPair(t, ua.SecurityPolicyURIBasic256Sha256, ua.MessageSecurityModeSignAndEncrypt)
	p := newChannelPair(t, clientTok1, serverTok1)

	clientTok2, serverTok2 := newTokenPair(t, ua.SecurityPolicyURIBasic256Sha256, ua.MessageSecurityModeSignAndEncrypt)
	clientTok2.TokenID, serverTok2.TokenID = 3, 3
	p.server.InstallToken(serverTok2)
	assert.Equal(t, p.server.SendToken(), serverTok1)

	// a message protected with the old token is still accepted.
	assert.NilError(t, p.client.SendMessage(ua.MessageTypeFinal, 1, &ua.TestStackRequest{}))
	assert.NilError(t, waitInbound(t, p.received).Err)
	assert.Equal(t, p.server.SendToken(), serverTok1)

	p.client.InstallToken(clientTok2)
	assert.Equal(t, p.client.SendToken(), clientTok2)
	assert.NilError(t, p.client.SendMessage(ua.MessageTypeFinal, 2, &ua.TestStackRequest{}))
	assert.NilError(t, waitInbound(t, p.received).Err)
	assert.Equal(t, p.server.SendToken(), serverTok2)
}

// Messages of exactly k chunk bodies, and one byte either side, are split
// and joined.
func TestChannelChunkBoundaries(t *testing.T) {
	for _, mode := range []ua.MessageSecurityMode{ua.MessageSecurityModeNone, ua.MessageSecurityModeSignAndEncrypt} {
		t.Run(mode.String(), func(t *testing.T) {
			policy := ua.SecurityPolicyURIBasic256Sha256
			if mode == ua.MessageSecurityModeNone {
				policy = ua.SecurityPolicyURINone
			}
			clientTok, serverTok := newTokenPair(t, policy, mode)
			p := newChannelPair(t, clientTok, serverTok)
			layout, err := symmetricLayout(clientTok, int(p.clientConn.Remote().ReceiveBufferSize))
			assert.NilError(t, err)

			codec := ua.NewBinaryCodec()
			encodedSize := func(s string) int {
				buf := &bytes.Buffer{}
				assert.NilError(t, codec.Encode(buf, &ua.TestStackRequest{Input: ua.NewVariant(s)}))
				return buf.Len()
			}
			overhead := encodedSize("x") - 1

			id := uint32(0)
			for k := 1; k <= 3; k++ {
				for _, d := range []int{-1, 0, 1} {
					n := k*layout.maxBodySize + d
					input := strings.Repeat("y", n-overhead)
					assert.Equal(t, encodedSize(input), n)
					chunks := k
					if d > 0 {
						chunks++
					}
					assert.Equal(t, layout.chunkCount(n), chunks)

					id++
					req := &ua.TestStackRequest{RequestHeader: ua.RequestHeader{RequestHandle: id}, Input: ua.NewVariant(input)}
					assert.NilError(t, p.client.SendMessage(ua.MessageTypeFinal, id, req))
					in := waitInbound(t, p.received)
					assert.NilError(t, in.Err)
					assert.Equal(t, in.RequestID, id)
					assert.Equal(t, in.Msg.(*ua.TestStackRequest).Input.Value, input)
				}
			}
		})
	}
}

// A chunk that skips a sequence number ends the channel and is not delivered.
func TestChannelSequenceGap(t *testing.T) {
	clientTok, serverTok := newTokenPair(t, ua.SecurityPolicyURIBasic256Sha256, ua.MessageSecurityModeSignAndEncrypt)
	p := newChannelPair(t, clientTok, serverTok)
	assert.NilError(t, p.client.SendMessage(ua.MessageTypeFinal, 1, &ua.TestStackRequest{}))
	assert.NilError(t, waitInbound(t, p.received).Err)

	p.client.sendSeq.Next()
	assert.NilError(t, p.client.SendMessage(ua.MessageTypeFinal, 2, &ua.TestStackRequest{}))
	select {
	case err := <-p.clientClosed:
		assert.Equal(t, err, error(ua.BadSequenceNumberInvalid))
	case <-time.After(5 * time.Second):
		t.Fatal("connection not aborted")
	}
	assert.Equal(t, p.server.Err(), error(ua.BadSequenceNumberInvalid))
	select {
	case in := <-p.received:
		t.Fatalf("request %d delivered after the gap", in.RequestID)
	default:
	}
}
