// Copyright 2021 Converter Systems LLC. All rights reserved.

package uasc

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"

	"github.com/awcullen/uasc/ua"
)

// SecurityConfig holds the security policy, mode and certificates of a channel.
type SecurityConfig struct {
	Policy            ua.SecurityPolicy
	Mode              ua.MessageSecurityMode
	LocalCertificate  []byte
	LocalKey          *rsa.PrivateKey
	RemoteCertificate []byte
	remoteKey         *rsa.PublicKey
	localThumbprint   []byte
	remoteThumbprint  []byte
}

// NewSecurityConfig checks the combination of policy and mode, and that the
// certificates needed by the policy are present. The remote certificate may
// be nil when it is learned from the first asymmetric chunk.
func NewSecurityConfig(policyURI string, mode ua.MessageSecurityMode, localCert []byte, localKey *rsa.PrivateKey, remoteCert []byte) (*SecurityConfig, error) {
	policy, err := ua.SecurityPolicyFromURI(policyURI)
	if err != nil {
		return nil, err
	}
	switch mode {
	case ua.MessageSecurityModeNone:
		if policyURI != ua.SecurityPolicyURINone {
			return nil, ua.BadSecurityModeRejected
		}
	case ua.MessageSecurityModeSign, ua.MessageSecurityModeSignAndEncrypt:
		if policyURI == ua.SecurityPolicyURINone {
			return nil, ua.BadSecurityModeRejected
		}
	default:
		return nil, ua.BadSecurityModeRejected
	}
	sc := &SecurityConfig{Policy: policy, Mode: mode}
	if policyURI == ua.SecurityPolicyURINone {
		return sc, nil
	}
	if localKey == nil || len(localCert) == 0 {
		return nil, ua.BadCertificateInvalid
	}
	sc.LocalCertificate = localCert
	sc.LocalKey = localKey
	sc.localThumbprint = ua.Thumbprint(localCert)
	if len(remoteCert) > 0 {
		if err := sc.SetRemoteCertificate(remoteCert); err != nil {
			return nil, err
		}
	}
	return sc, nil
}

// SetRemoteCertificate parses the certificate of the remote party.
func (sc *SecurityConfig) SetRemoteCertificate(der []byte) error {
	crt, err := x509.ParseCertificate(der)
	if err != nil {
		return ua.BadCertificateInvalid
	}
	pub, ok := crt.PublicKey.(*rsa.PublicKey)
	if !ok {
		return ua.BadCertificateInvalid
	}
	sc.RemoteCertificate = der
	sc.remoteKey = pub
	sc.remoteThumbprint = ua.Thumbprint(der)
	return nil
}

// IsNone returns true if chunks are neither signed nor encrypted.
func (sc *SecurityConfig) IsNone() bool {
	return sc.Policy.PolicyURI() == ua.SecurityPolicyURINone
}

// SameRemoteCertificate returns true if der is the certificate of the remote party.
func (sc *SecurityConfig) SameRemoteCertificate(der []byte) bool {
	return bytes.Equal(sc.RemoteCertificate, der)
}

// localKeySize is the size in bytes of the local RSA key.
func (sc *SecurityConfig) localKeySize() int {
	if sc.LocalKey == nil {
		return 0
	}
	return sc.LocalKey.Size()
}

// remoteKeySize is the size in bytes of the remote RSA key.
func (sc *SecurityConfig) remoteKeySize() int {
	if sc.remoteKey == nil {
		return 0
	}
	return sc.remoteKey.Size()
}

// NewNonce returns a random nonce of the size required by the policy.
func (sc *SecurityConfig) NewNonce() ([]byte, error) {
	n := sc.Policy.NonceSize()
	if n == 0 {
		return nil, nil
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, ua.BadInternalError
	}
	return b, nil
}

// VerifyAsymmetricHeader checks the header of an OPN chunk against the
// policy and the certificates of the channel.
func (sc *SecurityConfig) VerifyAsymmetricHeader(h *AsymmetricHeader) error {
	if h.PolicyURI != sc.Policy.PolicyURI() {
		return ua.BadSecurityPolicyRejected
	}
	if sc.IsNone() {
		return nil
	}
	if len(h.SenderCertificate) == 0 {
		return ua.BadCertificateInvalid
	}
	if len(sc.RemoteCertificate) > 0 && !sc.SameRemoteCertificate(h.SenderCertificate) {
		return ua.BadCertificateInvalid
	}
	if !bytes.Equal(h.ReceiverThumbprint, sc.localThumbprint) {
		return ua.BadSecurityChecksFailed
	}
	return nil
}

// localHeader returns the header of the OPN chunks sent by this side.
func (sc *SecurityConfig) localHeader() *AsymmetricHeader {
	h := &AsymmetricHeader{PolicyURI: sc.Policy.PolicyURI()}
	if !sc.IsNone() {
		h.SenderCertificate = sc.LocalCertificate
		h.ReceiverThumbprint = sc.remoteThumbprint
	}
	return h
}
