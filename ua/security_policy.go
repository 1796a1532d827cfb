// Copyright 2021 Converter Systems LLC. All rights reserved.

package ua

import (
	"crypto"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"hash"
)

// SecurityPolicyURIs
const (
	SecurityPolicyURINone                = "http://opcfoundation.org/UA/SecurityPolicy#None"
	SecurityPolicyURIBasic128Rsa15       = "http://opcfoundation.org/UA/SecurityPolicy#Basic128Rsa15"
	SecurityPolicyURIBasic256            = "http://opcfoundation.org/UA/SecurityPolicy#Basic256"
	SecurityPolicyURIBasic256Sha256      = "http://opcfoundation.org/UA/SecurityPolicy#Basic256Sha256"
	SecurityPolicyURIAes128Sha256RsaOaep = "http://opcfoundation.org/UA/SecurityPolicy#Aes128_Sha256_RsaOaep"
	SecurityPolicyURIAes256Sha256RsaPss  = "http://opcfoundation.org/UA/SecurityPolicy#Aes256_Sha256_RsaPss"
)

// SecurityPolicy is a mapping of PolicyURI to the algorithms and sizes used to
// protect the chunks of a secure channel.
type SecurityPolicy interface {
	PolicyURI() string
	RSASign(priv *rsa.PrivateKey, plainText []byte) ([]byte, error)
	RSAVerify(pub *rsa.PublicKey, plainText, signature []byte) error
	RSAEncrypt(pub *rsa.PublicKey, plainText []byte) ([]byte, error)
	RSADecrypt(priv *rsa.PrivateKey, cipherText []byte) ([]byte, error)
	SymHMACFactory(key []byte) hash.Hash
	// PSHA derives size bytes of key material from secret and seed.
	PSHA(secret, seed []byte, size int) []byte
	RSAPaddingSize() int
	SymSignatureSize() int
	SymSignatureKeySize() int
	SymEncryptionBlockSize() int
	SymEncryptionKeySize() int
	NonceSize() int
}

// securityPolicy describes a policy by its algorithms and sizes.
type securityPolicy struct {
	uri           string
	signHash      crypto.Hash
	pss           bool
	pkcs1Encrypt  bool
	oaepHash      func() hash.Hash
	hmacHash      func() hash.Hash
	rsaPadding    int
	symSignature  int
	symSigningKey int
	symBlock      int
	symEncryptKey int
	nonce         int
}

var (
	policyNone = &securityPolicy{
		uri:      SecurityPolicyURINone,
		symBlock: 1,
	}
	policyBasic128Rsa15 = &securityPolicy{
		uri:           SecurityPolicyURIBasic128Rsa15,
		signHash:      crypto.SHA1,
		pkcs1Encrypt:  true,
		hmacHash:      sha1.New,
		rsaPadding:    11,
		symSignature:  20,
		symSigningKey: 16,
		symBlock:      16,
		symEncryptKey: 16,
		nonce:         16,
	}
	policyBasic256 = &securityPolicy{
		uri:           SecurityPolicyURIBasic256,
		signHash:      crypto.SHA1,
		oaepHash:      sha1.New,
		hmacHash:      sha1.New,
		rsaPadding:    42,
		symSignature:  20,
		symSigningKey: 24,
		symBlock:      16,
		symEncryptKey: 32,
		nonce:         32,
	}
	policyBasic256Sha256 = &securityPolicy{
		uri:           SecurityPolicyURIBasic256Sha256,
		signHash:      crypto.SHA256,
		oaepHash:      sha1.New,
		hmacHash:      sha256.New,
		rsaPadding:    42,
		symSignature:  32,
		symSigningKey: 32,
		symBlock:      16,
		symEncryptKey: 32,
		nonce:         32,
	}
	policyAes128Sha256RsaOaep = &securityPolicy{
		uri:           SecurityPolicyURIAes128Sha256RsaOaep,
		signHash:      crypto.SHA256,
		oaepHash:      sha1.New,
		hmacHash:      sha256.New,
		rsaPadding:    42,
		symSignature:  32,
		symSigningKey: 32,
		symBlock:      16,
		symEncryptKey: 16,
		nonce:         32,
	}
	policyAes256Sha256RsaPss = &securityPolicy{
		uri:           SecurityPolicyURIAes256Sha256RsaPss,
		signHash:      crypto.SHA256,
		pss:           true,
		oaepHash:      sha256.New,
		hmacHash:      sha256.New,
		rsaPadding:    66,
		symSignature:  32,
		symSigningKey: 32,
		symBlock:      16,
		symEncryptKey: 32,
		nonce:         32,
	}
)

// SecurityPolicyFromURI returns the SecurityPolicy for the given uri, or
// BadSecurityPolicyRejected if the uri is not supported.
func SecurityPolicyFromURI(uri string) (SecurityPolicy, error) {
	switch uri {
	case SecurityPolicyURINone:
		return policyNone, nil
	case SecurityPolicyURIBasic128Rsa15:
		return policyBasic128Rsa15, nil
	case SecurityPolicyURIBasic256:
		return policyBasic256, nil
	case SecurityPolicyURIBasic256Sha256:
		return policyBasic256Sha256, nil
	case SecurityPolicyURIAes128Sha256RsaOaep:
		return policyAes128Sha256RsaOaep, nil
	case SecurityPolicyURIAes256Sha256RsaPss:
		return policyAes256Sha256RsaPss, nil
	default:
		return nil, BadSecurityPolicyRejected
	}
}

// IsLegacyPolicy returns true for the policies whose peers are known to
// disagree about the channel id of a renewed token.
func IsLegacyPolicy(uri string) bool {
	switch uri {
	case SecurityPolicyURINone, SecurityPolicyURIBasic128Rsa15, SecurityPolicyURIBasic256:
		return true
	default:
		return false
	}
}

func (p *securityPolicy) PolicyURI() string { return p.uri }

func (p *securityPolicy) digest(plainText []byte) []byte {
	h := p.signHash.New()
	h.Write(plainText)
	return h.Sum(nil)
}

// RSASign signs the plainText with the private key.
func (p *securityPolicy) RSASign(priv *rsa.PrivateKey, plainText []byte) ([]byte, error) {
	if p.signHash == 0 {
		return nil, BadSecurityPolicyRejected
	}
	if p.pss {
		return rsa.SignPSS(rand.Reader, priv, p.signHash, p.digest(plainText), &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash})
	}
	return rsa.SignPKCS1v15(rand.Reader, priv, p.signHash, p.digest(plainText))
}

// RSAVerify verifies the signature of the plainText with the public key.
func (p *securityPolicy) RSAVerify(pub *rsa.PublicKey, plainText, signature []byte) error {
	if p.signHash == 0 {
		return BadSecurityPolicyRejected
	}
	if p.pss {
		return rsa.VerifyPSS(pub, p.signHash, p.digest(plainText), signature, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash})
	}
	return rsa.VerifyPKCS1v15(pub, p.signHash, p.digest(plainText), signature)
}

// RSAEncrypt encrypts one block of plainText with the public key.
func (p *securityPolicy) RSAEncrypt(pub *rsa.PublicKey, plainText []byte) ([]byte, error) {
	switch {
	case p.pkcs1Encrypt:
		return rsa.EncryptPKCS1v15(rand.Reader, pub, plainText)
	case p.oaepHash != nil:
		return rsa.EncryptOAEP(p.oaepHash(), rand.Reader, pub, plainText, []byte{})
	default:
		return nil, BadSecurityPolicyRejected
	}
}

// RSADecrypt decrypts one block of cipherText with the private key.
func (p *securityPolicy) RSADecrypt(priv *rsa.PrivateKey, cipherText []byte) ([]byte, error) {
	switch {
	case p.pkcs1Encrypt:
		return rsa.DecryptPKCS1v15(rand.Reader, priv, cipherText)
	case p.oaepHash != nil:
		return rsa.DecryptOAEP(p.oaepHash(), rand.Reader, priv, cipherText, []byte{})
	default:
		return nil, BadSecurityPolicyRejected
	}
}

// SymHMACFactory returns a new HMAC keyed with key, or nil for policy None.
func (p *securityPolicy) SymHMACFactory(key []byte) hash.Hash {
	if p.hmacHash == nil {
		return nil
	}
	return hmac.New(p.hmacHash, key)
}

// PSHA implements the P_SHA1 or P_SHA256 pseudo random function, depending on the policy.
func (p *securityPolicy) PSHA(secret, seed []byte, size int) []byte {
	newHash := sha256.New
	if p.signHash == crypto.SHA1 {
		newHash = sha1.New
	}
	mac := hmac.New(newHash, secret)
	result := make([]byte, 0, size+mac.Size())

	// A(0) = seed, A(i) = HMAC(secret, A(i-1))
	a := seed
	for len(result) < size {
		mac.Reset()
		mac.Write(a)
		a = mac.Sum(nil)
		mac.Reset()
		mac.Write(a)
		mac.Write(seed)
		result = mac.Sum(result)
	}
	return result[:size]
}

func (p *securityPolicy) RSAPaddingSize() int { return p.rsaPadding }

func (p *securityPolicy) SymSignatureSize() int { return p.symSignature }

func (p *securityPolicy) SymSignatureKeySize() int { return p.symSigningKey }

func (p *securityPolicy) SymEncryptionBlockSize() int { return p.symBlock }

func (p *securityPolicy) SymEncryptionKeySize() int { return p.symEncryptKey }

func (p *securityPolicy) NonceSize() int { return p.nonce }
