// Copyright 2021 Converter Systems LLC. All rights reserved.

package uasc

import (
	"encoding/binary"

	"github.com/awcullen/uasc/ua"
)

// securityHeader follows the message header of a chunk. It is either an
// AsymmetricHeader (OPN) or a symmetricHeader (MSG, CLO).
type securityHeader interface {
	size() int
	put(b []byte) int
}

// AsymmetricHeader names the policy and the certificates used to protect an OPN chunk.
type AsymmetricHeader struct {
	PolicyURI          string
	SenderCertificate  []byte
	ReceiverThumbprint []byte
}

func (h *AsymmetricHeader) size() int {
	return 12 + len(h.PolicyURI) + len(h.SenderCertificate) + len(h.ReceiverThumbprint)
}

func putByteString(b []byte, v []byte) int {
	if len(v) == 0 {
		binary.LittleEndian.PutUint32(b, 0xFFFFFFFF)
		return 4
	}
	binary.LittleEndian.PutUint32(b, uint32(len(v)))
	return 4 + copy(b[4:], v)
}

func (h *AsymmetricHeader) put(b []byte) int {
	n := putByteString(b, []byte(h.PolicyURI))
	n += putByteString(b[n:], h.SenderCertificate)
	n += putByteString(b[n:], h.ReceiverThumbprint)
	return n
}

func readByteString(b []byte) ([]byte, int, error) {
	if len(b) < 4 {
		return nil, 0, ua.BadDecodingError
	}
	n := int32(binary.LittleEndian.Uint32(b))
	if n == -1 {
		return nil, 4, nil
	}
	if n < 0 {
		return nil, 0, ua.BadDecodingError
	}
	if int(n) > len(b)-4 {
		return nil, 0, ua.BadDecodingError
	}
	return b[4 : 4+n], 4 + int(n), nil
}

// ParseAsymmetricHeader reads the asymmetric header that starts after the message header.
func ParseAsymmetricHeader(chunk []byte) (*AsymmetricHeader, int, error) {
	b := chunk[ua.MessageHeaderSize:]
	uri, n1, err := readByteString(b)
	if err != nil {
		return nil, 0, err
	}
	cert, n2, err := readByteString(b[n1:])
	if err != nil {
		return nil, 0, err
	}
	thumb, n3, err := readByteString(b[n1+n2:])
	if err != nil {
		return nil, 0, err
	}
	h := &AsymmetricHeader{
		PolicyURI:          string(uri),
		SenderCertificate:  append([]byte(nil), cert...),
		ReceiverThumbprint: append([]byte(nil), thumb...),
	}
	return h, ua.MessageHeaderSize + n1 + n2 + n3, nil
}

// symmetricHeader names the token used to protect a MSG or CLO chunk.
type symmetricHeader struct {
	TokenID uint32
}

func (h *symmetricHeader) size() int { return ua.SymmetricSecurityHeaderSize }

func (h *symmetricHeader) put(b []byte) int {
	binary.LittleEndian.PutUint32(b, h.TokenID)
	return ua.SymmetricSecurityHeaderSize
}

// chunkLayout holds the sizes that determine how a message is split into chunks.
type chunkLayout struct {
	header            securityHeader
	headerSize        int
	cipherBlockSize   int
	plainBlockSize    int
	signatureSize     int
	paddingHeaderSize int
	encrypt           bool
	maxBodySize       int
}

// asymmetricLayout lays out OPN chunks. Unless the policy is None, the chunk
// is signed with the local key and encrypted with the remote key.
func asymmetricLayout(sc *SecurityConfig, h *AsymmetricHeader, bufferSize int) (*chunkLayout, error) {
	l := &chunkLayout{
		header:          h,
		headerSize:      ua.MessageHeaderSize + h.size(),
		cipherBlockSize: 1,
		plainBlockSize:  1,
	}
	if !sc.IsNone() {
		if sc.remoteKey == nil || sc.LocalKey == nil {
			return nil, ua.BadCertificateInvalid
		}
		l.encrypt = true
		l.cipherBlockSize = sc.remoteKeySize()
		l.plainBlockSize = l.cipherBlockSize - sc.Policy.RSAPaddingSize()
		l.signatureSize = sc.localKeySize()
		l.paddingHeaderSize = 1
		if l.cipherBlockSize > 256 {
			l.paddingHeaderSize = 2
		}
	}
	return l, l.computeMaxBodySize(bufferSize)
}

// symmetricLayout lays out MSG and CLO chunks protected with the token.
func symmetricLayout(tok *SecurityToken, bufferSize int) (*chunkLayout, error) {
	l := &chunkLayout{
		header:          &symmetricHeader{TokenID: tok.TokenID},
		headerSize:      ua.MessageHeaderSize + ua.SymmetricSecurityHeaderSize,
		cipherBlockSize: 1,
		plainBlockSize:  1,
	}
	switch tok.Mode {
	case ua.MessageSecurityModeSign:
		l.signatureSize = tok.Policy.SymSignatureSize()
	case ua.MessageSecurityModeSignAndEncrypt:
		l.signatureSize = tok.Policy.SymSignatureSize()
		l.encrypt = true
		l.cipherBlockSize = tok.Policy.SymEncryptionBlockSize()
		l.plainBlockSize = l.cipherBlockSize
		l.paddingHeaderSize = 1
	}
	return l, l.computeMaxBodySize(bufferSize)
}

func (l *chunkLayout) computeMaxBodySize(bufferSize int) error {
	l.maxBodySize = ((bufferSize-l.headerSize)/l.cipherBlockSize)*l.plainBlockSize -
		ua.SequenceHeaderSize - l.paddingHeaderSize - l.signatureSize
	if l.maxBodySize < 1 {
		return ua.BadTCPNotEnoughResources
	}
	return nil
}

// plan returns the padding and the final size of a chunk with a body of n bytes.
func (l *chunkLayout) plan(n int) (paddingSize, chunkSize int) {
	if !l.encrypt {
		return 0, l.headerSize + ua.SequenceHeaderSize + n + l.signatureSize
	}
	rem := (ua.SequenceHeaderSize + n + l.paddingHeaderSize + l.signatureSize) % l.plainBlockSize
	paddingSize = (l.plainBlockSize - rem) % l.plainBlockSize
	blocks := (ua.SequenceHeaderSize + n + paddingSize + l.paddingHeaderSize + l.signatureSize) / l.plainBlockSize
	return paddingSize, l.headerSize + blocks*l.cipherBlockSize
}

// chunkCount returns the number of chunks for a message of n bytes. An
// empty message takes one chunk.
func (l *chunkLayout) chunkCount(n int) int {
	if n == 0 {
		return 1
	}
	return (n + l.maxBodySize - 1) / l.maxBodySize
}

// checkLimits applies the limits of the receiving party to a message of n bytes.
func (l *chunkLayout) checkLimits(n int, remote Limits) error {
	if remote.MaxMessageSize > 0 && n > int(remote.MaxMessageSize) {
		return ua.BadTCPMessageTooLarge
	}
	if remote.MaxChunkCount > 0 && l.chunkCount(n) > int(remote.MaxChunkCount) {
		return ua.BadEncodingLimitsExceeded
	}
	return nil
}

// plainChunk is a chunk laid out but not yet signed or encrypted. The
// signature occupies the last signatureSize bytes of plain.
type plainChunk struct {
	plain  []byte
	size   int
	layout *chunkLayout
}

// writeChunk lays out one chunk with the given body. The size field of the
// message header holds the final size, as the signature covers it.
func (l *chunkLayout) writeChunk(messageType, channelID, sequenceNumber, requestID uint32, body []byte) *plainChunk {
	paddingSize, chunkSize := l.plan(len(body))
	plainSize := l.headerSize + ua.SequenceHeaderSize + len(body) + l.signatureSize
	if l.encrypt {
		plainSize += l.paddingHeaderSize + paddingSize
	}
	b := getChunkBuffer(plainSize)
	binary.LittleEndian.PutUint32(b[0:], messageType)
	binary.LittleEndian.PutUint32(b[4:], uint32(chunkSize))
	binary.LittleEndian.PutUint32(b[8:], channelID)
	pos := ua.MessageHeaderSize
	pos += l.header.put(b[pos:])
	binary.LittleEndian.PutUint32(b[pos:], sequenceNumber)
	binary.LittleEndian.PutUint32(b[pos+4:], requestID)
	pos += ua.SequenceHeaderSize
	pos += copy(b[pos:], body)
	if l.encrypt {
		paddingByte := byte(paddingSize & 0xFF)
		b[pos] = paddingByte
		pos++
		for i := 0; i < paddingSize; i++ {
			b[pos] = paddingByte
			pos++
		}
		if l.paddingHeaderSize == 2 {
			b[pos] = byte(paddingSize >> 8)
			pos++
		}
	}
	// zero the space of the signature, the buffer may come from the pool.
	for i := pos; i < plainSize; i++ {
		b[i] = 0
	}
	return &plainChunk{plain: b, size: chunkSize, layout: l}
}

// chunkBody is the plaintext of a received chunk after it was checked.
type chunkBody struct {
	messageType    uint32
	channelID      uint32
	sequenceNumber uint32
	requestID      uint32
	body           []byte
	buf            []byte
}

// release returns the buffer of the chunk to the pool.
func (c *chunkBody) release() {
	if c.buf != nil {
		putChunkBuffer(c.buf)
		c.buf = nil
	}
}

// splitBody reads the sequence header and body of a verified plaintext chunk.
// end is the index of the first byte of padding or signature.
func splitBody(plain []byte, headerSize, end int) (*chunkBody, error) {
	if end < headerSize+ua.SequenceHeaderSize || end > len(plain) {
		return nil, ua.BadSecurityChecksFailed
	}
	return &chunkBody{
		messageType:    binary.LittleEndian.Uint32(plain[0:]),
		channelID:      binary.LittleEndian.Uint32(plain[8:]),
		sequenceNumber: binary.LittleEndian.Uint32(plain[headerSize:]),
		requestID:      binary.LittleEndian.Uint32(plain[headerSize+4:]),
		body:           plain[headerSize+ua.SequenceHeaderSize : end],
		buf:            plain,
	}, nil
}
