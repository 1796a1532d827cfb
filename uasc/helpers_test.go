// Copyright 2021 Converter Systems LLC. All rights reserved.

package uasc

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/awcullen/uasc/ua"
	"gotest.tools/assert"
)

// newTestCertificate returns a self-signed certificate and its key.
func newTestCertificate(t *testing.T, name string) ([]byte, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	assert.NilError(t, err)
	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	assert.NilError(t, err)
	template := x509.Certificate{
		SerialNumber:          serialNumber,
		Subject:               pkix.Name{CommonName: name},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment | x509.KeyUsageDataEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	assert.NilError(t, err)
	return der, key
}

// newTokenPair returns the client and server tokens of one channel.
func newTokenPair(t *testing.T, policyURI string, mode ua.MessageSecurityMode) (client, server *SecurityToken) {
	t.Helper()
	policy, err := ua.SecurityPolicyFromURI(policyURI)
	assert.NilError(t, err)
	var clientNonce, serverNonce []byte
	if mode != ua.MessageSecurityModeNone {
		clientNonce = make([]byte, policy.NonceSize())
		serverNonce = make([]byte, policy.NonceSize())
		rand.Read(clientNonce)
		rand.Read(serverNonce)
	}
	now := time.Now()
	client, err = NewSecurityToken(1, 2, now, time.Hour, clientNonce, serverNonce, policy, mode)
	assert.NilError(t, err)
	server, err = NewSecurityToken(1, 2, now, time.Hour, serverNonce, clientNonce, policy, mode)
	assert.NilError(t, err)
	return client, server
}
