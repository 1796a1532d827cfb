// Copyright 2021 Converter Systems LLC. All rights reserved.

package uasc

import (
	"crypto/cipher"
	"crypto/hmac"
	"encoding/binary"

	"github.com/awcullen/uasc/ua"
)

// protectAsymmetric signs the plaintext chunk with the local key, then
// encrypts everything after the headers with the remote key, block by block.
// Returns the chunk to write.
func protectAsymmetric(sc *SecurityConfig, c *plainChunk) ([]byte, error) {
	l := c.layout
	if !l.encrypt {
		return c.plain, nil
	}
	sigStart := len(c.plain) - l.signatureSize
	signature, err := sc.Policy.RSASign(sc.LocalKey, c.plain[:sigStart])
	if err != nil || len(signature) != l.signatureSize {
		putChunkBuffer(c.plain)
		return nil, ua.BadSecurityChecksFailed
	}
	copy(c.plain[sigStart:], signature)

	out := getChunkBuffer(c.size)
	copy(out, c.plain[:l.headerSize])
	src := c.plain[l.headerSize:]
	dst := out[l.headerSize:]
	for len(src) > 0 {
		cipherText, err := sc.Policy.RSAEncrypt(sc.remoteKey, src[:l.plainBlockSize])
		if err != nil || len(cipherText) != l.cipherBlockSize {
			putChunkBuffer(c.plain)
			putChunkBuffer(out)
			return nil, ua.BadSecurityChecksFailed
		}
		copy(dst, cipherText)
		src = src[l.plainBlockSize:]
		dst = dst[l.cipherBlockSize:]
	}
	putChunkBuffer(c.plain)
	return out, nil
}

// protectSymmetric signs the plaintext chunk with the token's local signing
// key, then encrypts everything after the headers in place.
func protectSymmetric(tok *SecurityToken, c *plainChunk) ([]byte, error) {
	l := c.layout
	if tok.Mode == ua.MessageSecurityModeSign || tok.Mode == ua.MessageSecurityModeSignAndEncrypt {
		sigStart := len(c.plain) - l.signatureSize
		mac := tok.Policy.SymHMACFactory(tok.local.signingKey)
		mac.Write(c.plain[:sigStart])
		copy(c.plain[sigStart:], mac.Sum(nil))
	}
	if tok.Mode == ua.MessageSecurityModeSignAndEncrypt {
		// the iv restarts with every chunk.
		cbc := cipher.NewCBCEncrypter(tok.local.block, tok.local.iv)
		cbc.CryptBlocks(c.plain[l.headerSize:], c.plain[l.headerSize:])
	}
	return c.plain, nil
}

// unprotectAsymmetric decrypts an OPN chunk with the local key and verifies
// the signature with the remote key. The caller has checked the security
// header and set the remote certificate.
func unprotectAsymmetric(sc *SecurityConfig, chunk []byte, headerSize int) (*chunkBody, error) {
	if sc.IsNone() {
		return splitBody(chunk, headerSize, len(chunk))
	}
	if sc.LocalKey == nil || sc.remoteKey == nil {
		return nil, ua.BadSecurityChecksFailed
	}
	blockSize := sc.localKeySize()
	cipherText := chunk[headerSize:]
	if len(cipherText)%blockSize != 0 {
		putChunkBuffer(chunk)
		return nil, ua.BadSecurityChecksFailed
	}
	plain := getChunkBuffer(len(chunk))
	copy(plain, chunk[:headerSize])
	n := headerSize
	for len(cipherText) > 0 {
		plainText, err := sc.Policy.RSADecrypt(sc.LocalKey, cipherText[:blockSize])
		if err != nil {
			putChunkBuffer(chunk)
			putChunkBuffer(plain)
			return nil, ua.BadSecurityChecksFailed
		}
		n += copy(plain[n:], plainText)
		cipherText = cipherText[blockSize:]
	}
	putChunkBuffer(chunk)
	plain = plain[:n]

	sigSize := sc.remoteKeySize()
	if n < headerSize+ua.SequenceHeaderSize+sigSize+1 {
		putChunkBuffer(plain)
		return nil, ua.BadSecurityChecksFailed
	}
	sigStart := n - sigSize
	if err := sc.Policy.RSAVerify(sc.remoteKey, plain[:sigStart], plain[sigStart:]); err != nil {
		putChunkBuffer(plain)
		return nil, ua.BadSecurityChecksFailed
	}

	// the sender sized the padding header by the key of the receiver.
	paddingHeaderSize := 1
	if blockSize > 256 {
		paddingHeaderSize = 2
	}
	paddingSize := int(plain[sigStart-paddingHeaderSize])
	if paddingHeaderSize == 2 {
		paddingSize = int(plain[sigStart-2]) | int(plain[sigStart-1])<<8
	}
	end := sigStart - paddingHeaderSize - paddingSize
	if end < headerSize+ua.SequenceHeaderSize || !validPadding(plain[end:sigStart-paddingHeaderSize+1], paddingSize) {
		putChunkBuffer(plain)
		return nil, ua.BadSecurityChecksFailed
	}
	body, err := splitBody(plain, headerSize, end)
	if err != nil {
		putChunkBuffer(plain)
		return nil, err
	}
	return body, nil
}

// unprotectSymmetric decrypts a MSG or CLO chunk in place with the token's
// remote keys, then verifies its signature.
func unprotectSymmetric(tok *SecurityToken, chunk []byte) (*chunkBody, error) {
	headerSize := ua.MessageHeaderSize + ua.SymmetricSecurityHeaderSize
	end := len(chunk)
	if tok.Mode == ua.MessageSecurityModeSignAndEncrypt {
		blockSize := tok.Policy.SymEncryptionBlockSize()
		if (len(chunk)-headerSize)%blockSize != 0 {
			putChunkBuffer(chunk)
			return nil, ua.BadSecurityChecksFailed
		}
		cbc := cipher.NewCBCDecrypter(tok.remote.block, tok.remote.iv)
		cbc.CryptBlocks(chunk[headerSize:], chunk[headerSize:])
	}
	if tok.Mode == ua.MessageSecurityModeSign || tok.Mode == ua.MessageSecurityModeSignAndEncrypt {
		sigSize := tok.Policy.SymSignatureSize()
		if end < headerSize+ua.SequenceHeaderSize+sigSize {
			putChunkBuffer(chunk)
			return nil, ua.BadSecurityChecksFailed
		}
		end -= sigSize
		mac := tok.Policy.SymHMACFactory(tok.remote.signingKey)
		mac.Write(chunk[:end])
		if !hmac.Equal(mac.Sum(nil), chunk[end:end+sigSize]) {
			putChunkBuffer(chunk)
			return nil, ua.BadSecurityChecksFailed
		}
	}
	if tok.Mode == ua.MessageSecurityModeSignAndEncrypt {
		if end < headerSize+ua.SequenceHeaderSize+1 {
			putChunkBuffer(chunk)
			return nil, ua.BadSecurityChecksFailed
		}
		paddingSize := int(chunk[end-1])
		start := end - 1 - paddingSize
		if start < headerSize+ua.SequenceHeaderSize || !validPadding(chunk[start:end], paddingSize) {
			putChunkBuffer(chunk)
			return nil, ua.BadSecurityChecksFailed
		}
		end = start
	}
	body, err := splitBody(chunk, headerSize, end)
	if err != nil {
		putChunkBuffer(chunk)
		return nil, err
	}
	return body, nil
}

// validPadding returns true if the padding bytes and the low byte of the
// padding size all hold the low byte of the padding size.
func validPadding(padding []byte, paddingSize int) bool {
	b := byte(paddingSize & 0xFF)
	for _, v := range padding {
		if v != b {
			return false
		}
	}
	return true
}

// TokenIDOf returns the token id of a symmetric chunk.
func TokenIDOf(chunk []byte) uint32 {
	return binary.LittleEndian.Uint32(chunk[ua.MessageHeaderSize:])
}

// ChannelIDOf returns the channel id of a chunk.
func ChannelIDOf(chunk []byte) uint32 {
	return binary.LittleEndian.Uint32(chunk[8:])
}
