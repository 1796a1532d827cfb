// Copyright 2021 Converter Systems LLC. All rights reserved.

package uasc

import (
	"bytes"
	"testing"

	"github.com/awcullen/uasc/ua"
	"gotest.tools/assert"
)

var securedPolicies = []string{
	ua.SecurityPolicyURIBasic128Rsa15,
	ua.SecurityPolicyURIBasic256,
	ua.SecurityPolicyURIBasic256Sha256,
	ua.SecurityPolicyURIAes128Sha256RsaOaep,
	ua.SecurityPolicyURIAes256Sha256RsaPss,
}

func TestSymmetricRoundTrip(t *testing.T) {
	type testCase struct {
		policy string
		mode   ua.MessageSecurityMode
	}
	cases := []testCase{{ua.SecurityPolicyURINone, ua.MessageSecurityModeNone}}
	for _, p := range securedPolicies {
		cases = append(cases, testCase{p, ua.MessageSecurityModeSign}, testCase{p, ua.MessageSecurityModeSignAndEncrypt})
	}
	for _, c := range cases {
		t.Run(c.policy+"/"+c.mode.String(), func(t *testing.T) {
			client, server := newTokenPair(t, c.policy, c.mode)
			l, err := symmetricLayout(client, 8192)
			assert.NilError(t, err)
			for _, n := range []int{0, 1, 15, 16, 17, 1000, l.maxBodySize} {
				body := bytes.Repeat([]byte{0xA5}, n)
				pc := l.writeChunk(ua.MessageTypeFinal, 1, 42, 7, body)
				out, err := protectSymmetric(client, pc)
				assert.NilError(t, err)
				assert.Equal(t, len(out), pc.size)
				if c.mode == ua.MessageSecurityModeSignAndEncrypt && n >= 16 {
					assert.Assert(t, !bytes.Contains(out, body), "body was not encrypted")
				}

				cb, err := unprotectSymmetric(server, out)
				assert.NilError(t, err)
				assert.Equal(t, cb.sequenceNumber, uint32(42))
				assert.Equal(t, cb.requestID, uint32(7))
				assert.Equal(t, cb.channelID, uint32(1))
				assert.DeepEqual(t, cb.body, body)
				cb.release()
			}
		})
	}
}

func TestSymmetricTamperedChunk(t *testing.T) {
	for _, mode := range []ua.MessageSecurityMode{ua.MessageSecurityModeSign, ua.MessageSecurityModeSignAndEncrypt} {
		client, server := newTokenPair(t, ua.SecurityPolicyURIBasic256Sha256, mode)
		l, err := symmetricLayout(client, 8192)
		assert.NilError(t, err)
		out, err := protectSymmetric(client, l.writeChunk(ua.MessageTypeFinal, 1, 1, 1, []byte("payload")))
		assert.NilError(t, err)
		out[len(out)-40] ^= 0xFF
		_, err = unprotectSymmetric(server, out)
		assert.Equal(t, err, ua.BadSecurityChecksFailed)
	}
}

// Padding under a valid signature must still repeat the padding size.
func TestSymmetricMalformedPadding(t *testing.T) {
	client, server := newTokenPair(t, ua.SecurityPolicyURIBasic256Sha256, ua.MessageSecurityModeSignAndEncrypt)
	l, err := symmetricLayout(client, 8192)
	assert.NilError(t, err)
	body := []byte("hello")
	padding, _ := l.plan(len(body))
	assert.Equal(t, padding, 2)
	pc := l.writeChunk(ua.MessageTypeFinal, 1, 1, 1, body)
	pc.plain[l.headerSize+ua.SequenceHeaderSize+len(body)] = 0xEE
	out, err := protectSymmetric(client, pc)
	assert.NilError(t, err)
	_, err = unprotectSymmetric(server, out)
	assert.Equal(t, err, ua.BadSecurityChecksFailed)
}

func TestSymmetricWrongKeys(t *testing.T) {
	client, _ := newTokenPair(t, ua.SecurityPolicyURIBasic256Sha256, ua.MessageSecurityModeSign)
	_, other := newTokenPair(t, ua.SecurityPolicyURIBasic256Sha256, ua.MessageSecurityModeSign)
	l, err := symmetricLayout(client, 8192)
	assert.NilError(t, err)
	out, err := protectSymmetric(client, l.writeChunk(ua.MessageTypeFinal, 1, 1, 1, []byte("payload")))
	assert.NilError(t, err)
	_, err = unprotectSymmetric(other, out)
	assert.Equal(t, err, ua.BadSecurityChecksFailed)
}

func TestAsymmetricRoundTrip(t *testing.T) {
	clientCert, clientKey := newTestCertificate(t, "client")
	serverCert, serverKey := newTestCertificate(t, "server")
	for _, policy := range securedPolicies {
		t.Run(policy, func(t *testing.T) {
			client, err := NewSecurityConfig(policy, ua.MessageSecurityModeSignAndEncrypt, clientCert, clientKey, serverCert)
			assert.NilError(t, err)
			server, err := NewSecurityConfig(policy, ua.MessageSecurityModeSignAndEncrypt, serverCert, serverKey, nil)
			assert.NilError(t, err)

			l, err := asymmetricLayout(client, client.localHeader(), 65535)
			assert.NilError(t, err)
			for _, n := range []int{0, 1, 100, 1000} {
				body := bytes.Repeat([]byte{0x5A}, n)
				out, err := protectAsymmetric(client, l.writeChunk(ua.MessageTypeOpenFinal, 0, 3, 9, body))
				assert.NilError(t, err)

				h, headerSize, err := ParseAsymmetricHeader(out)
				assert.NilError(t, err)
				// the server learns the certificate of the client from the header.
				assert.NilError(t, server.SetRemoteCertificate(h.SenderCertificate))
				assert.NilError(t, server.VerifyAsymmetricHeader(h))

				cb, err := unprotectAsymmetric(server, out, headerSize)
				assert.NilError(t, err)
				assert.Equal(t, cb.sequenceNumber, uint32(3))
				assert.Equal(t, cb.requestID, uint32(9))
				assert.DeepEqual(t, cb.body, body)
				cb.release()
			}
		})
	}
}

func TestAsymmetricMalformedPadding(t *testing.T) {
	clientCert, clientKey := newTestCertificate(t, "client")
	serverCert, serverKey := newTestCertificate(t, "server")
	client, err := NewSecurityConfig(ua.SecurityPolicyURIBasic256Sha256, ua.MessageSecurityModeSignAndEncrypt, clientCert, clientKey, serverCert)
	assert.NilError(t, err)
	server, err := NewSecurityConfig(ua.SecurityPolicyURIBasic256Sha256, ua.MessageSecurityModeSignAndEncrypt, serverCert, serverKey, clientCert)
	assert.NilError(t, err)

	l, err := asymmetricLayout(client, client.localHeader(), 65535)
	assert.NilError(t, err)
	body := []byte{1}
	padding, _ := l.plan(len(body))
	assert.Assert(t, padding > 0)
	pc := l.writeChunk(ua.MessageTypeOpenFinal, 0, 1, 1, body)
	pc.plain[l.headerSize+ua.SequenceHeaderSize+len(body)] ^= 0xFF
	out, err := protectAsymmetric(client, pc)
	assert.NilError(t, err)
	_, headerSize, err := ParseAsymmetricHeader(out)
	assert.NilError(t, err)
	_, err = unprotectAsymmetric(server, out, headerSize)
	assert.Equal(t, err, ua.BadSecurityChecksFailed)
}

func TestVerifyAsymmetricHeader(t *testing.T) {
	clientCert, clientKey := newTestCertificate(t, "client")
	serverCert, serverKey := newTestCertificate(t, "server")
	otherCert, _ := newTestCertificate(t, "other")
	server, err := NewSecurityConfig(ua.SecurityPolicyURIBasic256Sha256, ua.MessageSecurityModeSign, serverCert, serverKey, clientCert)
	assert.NilError(t, err)
	client, err := NewSecurityConfig(ua.SecurityPolicyURIBasic256Sha256, ua.MessageSecurityModeSign, clientCert, clientKey, serverCert)
	assert.NilError(t, err)

	h := client.localHeader()
	assert.NilError(t, server.VerifyAsymmetricHeader(h))

	wrongPolicy := *h
	wrongPolicy.PolicyURI = ua.SecurityPolicyURIBasic256
	assert.Equal(t, server.VerifyAsymmetricHeader(&wrongPolicy), ua.BadSecurityPolicyRejected)

	wrongCert := *h
	wrongCert.SenderCertificate = otherCert
	assert.Equal(t, server.VerifyAsymmetricHeader(&wrongCert), ua.BadCertificateInvalid)

	wrongThumbprint := *h
	wrongThumbprint.ReceiverThumbprint = ua.Thumbprint(otherCert)
	assert.Equal(t, server.VerifyAsymmetricHeader(&wrongThumbprint), ua.BadSecurityChecksFailed)

	none, err := NewSecurityConfig(ua.SecurityPolicyURINone, ua.MessageSecurityModeNone, nil, nil, nil)
	assert.NilError(t, err)
	assert.NilError(t, none.VerifyAsymmetricHeader(none.localHeader()))
}

func TestNewSecurityConfig(t *testing.T) {
	cert, key := newTestCertificate(t, "client")
	_, err := NewSecurityConfig(ua.SecurityPolicyURINone, ua.MessageSecurityModeSign, nil, nil, nil)
	assert.Equal(t, err, ua.BadSecurityModeRejected)
	_, err = NewSecurityConfig(ua.SecurityPolicyURIBasic256Sha256, ua.MessageSecurityModeNone, cert, key, nil)
	assert.Equal(t, err, ua.BadSecurityModeRejected)
	_, err = NewSecurityConfig(ua.SecurityPolicyURIBasic256Sha256, ua.MessageSecurityModeSign, nil, nil, nil)
	assert.Equal(t, err, ua.BadCertificateInvalid)
	_, err = NewSecurityConfig(ua.SecurityPolicyURIBasic256Sha256, ua.MessageSecurityModeSign, cert, key, []byte{1, 2, 3})
	assert.Equal(t, err, ua.BadCertificateInvalid)

	sc, err := NewSecurityConfig(ua.SecurityPolicyURIBasic256Sha256, ua.MessageSecurityModeSign, cert, key, nil)
	assert.NilError(t, err)
	nonce, err := sc.NewNonce()
	assert.NilError(t, err)
	assert.Equal(t, len(nonce), sc.Policy.NonceSize())
}
