// Copyright 2021 Converter Systems LLC. All rights reserved.

package ua

// MessageTypes indicate the kind of message. The fourth byte is the chunk type.
const (
	MessageTypeHello        uint32 = 'H' | 'E'<<8 | 'L'<<16 | 'F'<<24
	MessageTypeAck          uint32 = 'A' | 'C'<<8 | 'K'<<16 | 'F'<<24
	MessageTypeError        uint32 = 'E' | 'R'<<8 | 'R'<<16 | 'F'<<24
	MessageTypeReverseHello uint32 = 'R' | 'H'<<8 | 'E'<<16 | 'F'<<24
	MessageTypeOpenFinal    uint32 = 'O' | 'P'<<8 | 'N'<<16 | 'F'<<24
	MessageTypeCloseFinal   uint32 = 'C' | 'L'<<8 | 'O'<<16 | 'F'<<24
	MessageTypeFinal        uint32 = 'M' | 'S'<<8 | 'G'<<16 | 'F'<<24
	MessageTypeChunk        uint32 = 'M' | 'S'<<8 | 'G'<<16 | 'C'<<24
	MessageTypeAbort        uint32 = 'M' | 'S'<<8 | 'G'<<16 | 'A'<<24
)

// ChunkTypes occupy the high byte of the message type.
const (
	ChunkTypeIntermediate byte = 'C'
	ChunkTypeFinal        byte = 'F'
	ChunkTypeAbort        byte = 'A'
)

// MessageTypeOf returns the three letter message type, with the chunk type masked off.
func MessageTypeOf(messageType uint32) uint32 {
	return messageType & 0x00FFFFFF
}

// ChunkTypeOf returns the chunk type of the message type.
func ChunkTypeOf(messageType uint32) byte {
	return byte(messageType >> 24)
}

// WithChunkType returns the message type with the chunk type replaced.
func WithChunkType(messageType uint32, chunkType byte) uint32 {
	return MessageTypeOf(messageType) | uint32(chunkType)<<24
}

// ProtocolVersion of the UA TCP protocol.
const ProtocolVersion uint32 = 0

// Defaults and limits of the transport.
const (
	DefaultBufferSize     uint32 = 65535
	MinBufferSize         uint32 = 8192
	DefaultMaxMessageSize uint32 = 16 * 1024 * 1024
	DefaultMaxChunkCount  uint32 = 4096
	DefaultTokenLifetime  uint32 = 3600000 // ms
	MinTokenLifetime      uint32 = 60000   // ms
	DefaultTimeoutHint    uint32 = 15000   // ms
	DefaultConnectTimeout uint32 = 5000    // ms
)

// Sizes of the fixed headers of a chunk.
const (
	MessageHeaderSize           = 12
	SymmetricSecurityHeaderSize = 4
	SequenceHeaderSize          = 8
)

// MessageSecurityMode specifies whether chunks are signed, or signed and encrypted.
type MessageSecurityMode int32

// MessageSecurityModes
const (
	MessageSecurityModeInvalid        MessageSecurityMode = 0
	MessageSecurityModeNone           MessageSecurityMode = 1
	MessageSecurityModeSign           MessageSecurityMode = 2
	MessageSecurityModeSignAndEncrypt MessageSecurityMode = 3
)

func (m MessageSecurityMode) String() string {
	switch m {
	case MessageSecurityModeNone:
		return "None"
	case MessageSecurityModeSign:
		return "Sign"
	case MessageSecurityModeSignAndEncrypt:
		return "SignAndEncrypt"
	default:
		return "Invalid"
	}
}

// SecurityTokenRequestType specifies whether a token is issued or renewed.
type SecurityTokenRequestType int32

// SecurityTokenRequestTypes
const (
	SecurityTokenRequestTypeIssue SecurityTokenRequestType = 0
	SecurityTokenRequestTypeRenew SecurityTokenRequestType = 1
)

func (t SecurityTokenRequestType) String() string {
	if t == SecurityTokenRequestTypeRenew {
		return "Renew"
	}
	return "Issue"
}
