// Copyright 2021 Converter Systems LLC. All rights reserved.

package uasc

import (
	"bytes"
	"encoding/binary"

	"github.com/awcullen/uasc/ua"
)

// maxEndpointURLLength is the longest url accepted in a Hello.
const maxEndpointURLLength = 4096

// Limits bound the chunks and messages one side of a connection accepts.
// Zero MaxMessageSize or MaxChunkCount means no limit.
type Limits struct {
	ReceiveBufferSize uint32
	SendBufferSize    uint32
	MaxMessageSize    uint32
	MaxChunkCount     uint32
}

// DefaultLimits returns the default limits of the transport.
func DefaultLimits() Limits {
	return Limits{
		ReceiveBufferSize: ua.DefaultBufferSize,
		SendBufferSize:    ua.DefaultBufferSize,
		MaxMessageSize:    ua.DefaultMaxMessageSize,
		MaxChunkCount:     ua.DefaultMaxChunkCount,
	}
}

func minUint32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

// Hello is sent by the client to open a connection.
type Hello struct {
	ProtocolVersion   uint32
	ReceiveBufferSize uint32
	SendBufferSize    uint32
	MaxMessageSize    uint32
	MaxChunkCount     uint32
	EndpointURL       string
}

// Acknowledge is the server's reply to a Hello, carrying the negotiated values.
type Acknowledge struct {
	ProtocolVersion   uint32
	ReceiveBufferSize uint32
	SendBufferSize    uint32
	MaxMessageSize    uint32
	MaxChunkCount     uint32
}

// ErrorMessage is sent before a connection is closed because of an error.
type ErrorMessage struct {
	Error  ua.StatusCode
	Reason string
}

func encodeHello(m *Hello) []byte {
	buf := &bytes.Buffer{}
	enc := ua.NewBinaryEncoder(buf)
	enc.WriteUInt32(ua.MessageTypeHello)
	enc.WriteUInt32(uint32(28 + 4 + len(m.EndpointURL)))
	enc.WriteUInt32(m.ProtocolVersion)
	enc.WriteUInt32(m.ReceiveBufferSize)
	enc.WriteUInt32(m.SendBufferSize)
	enc.WriteUInt32(m.MaxMessageSize)
	enc.WriteUInt32(m.MaxChunkCount)
	enc.WriteString(m.EndpointURL)
	return buf.Bytes()
}

func decodeHello(b []byte) (*Hello, error) {
	if len(b) < 32 {
		return nil, ua.BadDecodingError
	}
	dec := ua.NewBinaryDecoder(bytes.NewReader(b[8:]))
	m := &Hello{}
	dec.ReadUInt32(&m.ProtocolVersion)
	dec.ReadUInt32(&m.ReceiveBufferSize)
	dec.ReadUInt32(&m.SendBufferSize)
	dec.ReadUInt32(&m.MaxMessageSize)
	dec.ReadUInt32(&m.MaxChunkCount)
	if n := int32(binary.LittleEndian.Uint32(b[28:32])); n > maxEndpointURLLength {
		return nil, ua.BadTCPEndpointURLInvalid
	}
	if err := dec.ReadString(&m.EndpointURL); err != nil {
		return nil, err
	}
	return m, nil
}

func encodeAcknowledge(m *Acknowledge) []byte {
	buf := &bytes.Buffer{}
	enc := ua.NewBinaryEncoder(buf)
	enc.WriteUInt32(ua.MessageTypeAck)
	enc.WriteUInt32(28)
	enc.WriteUInt32(m.ProtocolVersion)
	enc.WriteUInt32(m.ReceiveBufferSize)
	enc.WriteUInt32(m.SendBufferSize)
	enc.WriteUInt32(m.MaxMessageSize)
	enc.WriteUInt32(m.MaxChunkCount)
	return buf.Bytes()
}

func decodeAcknowledge(b []byte) (*Acknowledge, error) {
	if len(b) < 28 {
		return nil, ua.BadDecodingError
	}
	dec := ua.NewBinaryDecoder(bytes.NewReader(b[8:]))
	m := &Acknowledge{}
	dec.ReadUInt32(&m.ProtocolVersion)
	dec.ReadUInt32(&m.ReceiveBufferSize)
	dec.ReadUInt32(&m.SendBufferSize)
	dec.ReadUInt32(&m.MaxMessageSize)
	dec.ReadUInt32(&m.MaxChunkCount)
	return m, nil
}

func encodeError(m *ErrorMessage) []byte {
	buf := &bytes.Buffer{}
	enc := ua.NewBinaryEncoder(buf)
	enc.WriteUInt32(ua.MessageTypeError)
	enc.WriteUInt32(uint32(16 + len(m.Reason)))
	enc.WriteUInt32(uint32(m.Error))
	enc.WriteString(m.Reason)
	return buf.Bytes()
}

// decodeError reads the status and reason of an ERR message, or of the body
// of an abort chunk.
func decodeError(b []byte) *ErrorMessage {
	m := &ErrorMessage{Error: ua.BadCommunicationError}
	dec := ua.NewBinaryDecoder(bytes.NewReader(b))
	var code uint32
	if err := dec.ReadUInt32(&code); err != nil {
		return m
	}
	m.Error = ua.StatusCode(code)
	dec.ReadString(&m.Reason)
	return m
}

// negotiateHello computes the Acknowledge of a server with the given limits,
// and the limits of both sides of the connection.
func negotiateHello(hel *Hello, local Limits) (*Acknowledge, Limits, Limits, error) {
	if hel.ReceiveBufferSize < ua.MinBufferSize || hel.SendBufferSize < ua.MinBufferSize {
		return nil, Limits{}, Limits{}, ua.BadTCPNotEnoughResources
	}
	ack := &Acknowledge{
		ProtocolVersion:   ua.ProtocolVersion,
		ReceiveBufferSize: minUint32(local.ReceiveBufferSize, hel.SendBufferSize),
		SendBufferSize:    minUint32(local.SendBufferSize, hel.ReceiveBufferSize),
		MaxMessageSize:    local.MaxMessageSize,
		MaxChunkCount:     local.MaxChunkCount,
	}
	if hel.ProtocolVersion < ack.ProtocolVersion {
		return nil, Limits{}, Limits{}, ua.BadProtocolVersionUnsupported
	}
	recv := Limits{
		ReceiveBufferSize: ack.ReceiveBufferSize,
		SendBufferSize:    ack.SendBufferSize,
		MaxMessageSize:    local.MaxMessageSize,
		MaxChunkCount:     local.MaxChunkCount,
	}
	send := Limits{
		ReceiveBufferSize: ack.SendBufferSize,
		SendBufferSize:    ack.ReceiveBufferSize,
		MaxMessageSize:    hel.MaxMessageSize,
		MaxChunkCount:     hel.MaxChunkCount,
	}
	return ack, recv, send, nil
}

// negotiateAcknowledge computes the limits of both sides of the connection
// from the Acknowledge of the server.
func negotiateAcknowledge(ack *Acknowledge, local Limits) (Limits, Limits, error) {
	if ack.ProtocolVersion > ua.ProtocolVersion {
		return Limits{}, Limits{}, ua.BadProtocolVersionUnsupported
	}
	if ack.ReceiveBufferSize < ua.MinBufferSize || ack.SendBufferSize < ua.MinBufferSize {
		return Limits{}, Limits{}, ua.BadTCPNotEnoughResources
	}
	recv := Limits{
		ReceiveBufferSize: minUint32(local.ReceiveBufferSize, ack.SendBufferSize),
		SendBufferSize:    minUint32(local.SendBufferSize, ack.ReceiveBufferSize),
		MaxMessageSize:    local.MaxMessageSize,
		MaxChunkCount:     local.MaxChunkCount,
	}
	send := Limits{
		ReceiveBufferSize: recv.SendBufferSize,
		SendBufferSize:    recv.ReceiveBufferSize,
		MaxMessageSize:    ack.MaxMessageSize,
		MaxChunkCount:     ack.MaxChunkCount,
	}
	return recv, send, nil
}
