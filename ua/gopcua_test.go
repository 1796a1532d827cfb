// Copyright 2021 Converter Systems LLC. All rights reserved.

package ua_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/awcullen/uasc/ua"
	gopcua "github.com/gopcua/opcua/ua"
	"gotest.tools/assert"
)

// The channel level services must encode exactly as another stack does.

var interopTime = time.Date(2021, time.March, 4, 5, 6, 7, 800, time.UTC)

func TestOpenSecureChannelRequestMatchesGopcua(t *testing.T) {
	nonce := []byte("0123456789abcdef0123456789abcdef")
	theirs, err := gopcua.Encode(&gopcua.OpenSecureChannelRequest{
		RequestHeader: &gopcua.RequestHeader{
			AuthenticationToken: gopcua.NewTwoByteNodeID(0),
			Timestamp:           interopTime,
			RequestHandle:       7,
			AuditEntryID:        "audit",
			TimeoutHint:         15000,
			AdditionalHeader:    gopcua.NewExtensionObject(nil),
		},
		ClientProtocolVersion: 0,
		RequestType:           gopcua.SecurityTokenRequestTypeRenew,
		SecurityMode:          gopcua.MessageSecurityModeSignAndEncrypt,
		ClientNonce:           nonce,
		RequestedLifetime:     3600000,
	})
	assert.NilError(t, err)

	buf := &bytes.Buffer{}
	ours := &ua.OpenSecureChannelRequest{
		RequestHeader: ua.RequestHeader{
			Timestamp:     interopTime,
			RequestHandle: 7,
			AuditEntryID:  "audit",
			TimeoutHint:   15000,
		},
		ClientProtocolVersion: 0,
		RequestType:           ua.SecurityTokenRequestTypeRenew,
		SecurityMode:          ua.MessageSecurityModeSignAndEncrypt,
		ClientNonce:           ua.ByteString(nonce),
		RequestedLifetime:     3600000,
	}
	assert.NilError(t, ours.EncodeBinary(ua.NewBinaryEncoder(buf)))
	assert.DeepEqual(t, buf.Bytes(), theirs)

	out := &ua.OpenSecureChannelRequest{}
	assert.NilError(t, out.DecodeBinary(ua.NewBinaryDecoder(bytes.NewReader(theirs))))
	assert.Equal(t, out.RequestHandle, uint32(7))
	assert.Equal(t, out.RequestType, ua.SecurityTokenRequestTypeRenew)
	assert.Equal(t, string(out.ClientNonce), string(nonce))
	assert.Assert(t, out.Timestamp.Equal(interopTime))
}

func TestOpenSecureChannelResponseFromGopcua(t *testing.T) {
	theirs, err := gopcua.Encode(&gopcua.OpenSecureChannelResponse{
		ResponseHeader: &gopcua.ResponseHeader{
			Timestamp:          interopTime,
			RequestHandle:      7,
			ServiceResult:      gopcua.StatusOK,
			ServiceDiagnostics: &gopcua.DiagnosticInfo{},
			StringTable:        []string{},
			AdditionalHeader:   gopcua.NewExtensionObject(nil),
		},
		ServerProtocolVersion: 0,
		SecurityToken: &gopcua.ChannelSecurityToken{
			ChannelID:       12,
			TokenID:         34,
			CreatedAt:       interopTime,
			RevisedLifetime: 600000,
		},
		ServerNonce: []byte("server nonce"),
	})
	assert.NilError(t, err)

	out := &ua.OpenSecureChannelResponse{}
	assert.NilError(t, out.DecodeBinary(ua.NewBinaryDecoder(bytes.NewReader(theirs))))
	assert.Equal(t, out.RequestHandle, uint32(7))
	assert.Equal(t, out.ServiceResult, ua.Good)
	assert.Equal(t, out.SecurityToken.ChannelID, uint32(12))
	assert.Equal(t, out.SecurityToken.TokenID, uint32(34))
	assert.Equal(t, out.SecurityToken.RevisedLifetime, uint32(600000))
	assert.Assert(t, out.SecurityToken.CreatedAt.Equal(interopTime))
	assert.Equal(t, string(out.ServerNonce), "server nonce")
}

// BenchmarkGopcuaEncode encodes an OpenSecureChannelRequest to a mock network connection.
func BenchmarkGopcuaEncode(b *testing.B) {
	req := &gopcua.OpenSecureChannelRequest{
		RequestHeader: &gopcua.RequestHeader{
			AuthenticationToken: gopcua.NewTwoByteNodeID(0),
			Timestamp:           interopTime,
			RequestHandle:       1000085,
			TimeoutHint:         15000,
			AdditionalHeader:    gopcua.NewExtensionObject(nil),
		},
		RequestType:       gopcua.SecurityTokenRequestTypeIssue,
		SecurityMode:      gopcua.MessageSecurityModeSignAndEncrypt,
		ClientNonce:       make([]byte, 32),
		RequestedLifetime: 3600000,
	}
	conn := &MockWriter{}
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		body, err := gopcua.Encode(req)
		if err != nil {
			b.Fatal(err)
		}
		if _, err := conn.Write(body); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkEncode encodes an OpenSecureChannelRequest to a mock network connection.
func BenchmarkEncode(b *testing.B) {
	req := &ua.OpenSecureChannelRequest{
		RequestHeader: ua.RequestHeader{
			Timestamp:     interopTime,
			RequestHandle: 1000085,
			TimeoutHint:   15000,
		},
		RequestType:       ua.SecurityTokenRequestTypeIssue,
		SecurityMode:      ua.MessageSecurityModeSignAndEncrypt,
		ClientNonce:       ua.ByteString(make([]byte, 32)),
		RequestedLifetime: 3600000,
	}
	codec := ua.NewBinaryCodec()
	conn := &MockWriter{}
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if err := codec.Encode(conn, req); err != nil {
			b.Fatal(err)
		}
	}
}

type MockWriter struct {
}

func (w *MockWriter) Write(p []byte) (n int, err error) {
	return len(p), nil
}
