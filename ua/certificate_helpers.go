// Copyright 2021 Converter Systems LLC. All rights reserved.

package ua

import (
	"bytes"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/pem"
	"os"
	"strings"

	"golang.org/x/crypto/pkcs12"
)

// GetCertificateFromFile reads the certificate and private key from files.
// The certificate may be PEM or DER encoded, the key PKCS1 or PKCS8.
func GetCertificateFromFile(certFile, keyFile string) (*x509.Certificate, *rsa.PrivateKey, error) {
	buf, err := os.ReadFile(certFile)
	if err != nil {
		return nil, nil, BadCertificateInvalid
	}
	crt := ParseCertificate(buf)
	if crt == nil {
		return nil, nil, BadCertificateInvalid
	}
	buf, err = os.ReadFile(keyFile)
	if err != nil {
		return nil, nil, BadCertificateInvalid
	}
	key := parsePrivateKey(buf)
	if key == nil {
		return nil, nil, BadCertificateInvalid
	}
	return crt, key, nil
}

// GetCertificateFromPKCS12 reads the certificate and private key from a PKCS#12 bundle.
func GetCertificateFromPKCS12(file, password string) (*x509.Certificate, *rsa.PrivateKey, error) {
	buf, err := os.ReadFile(file)
	if err != nil {
		return nil, nil, BadCertificateInvalid
	}
	k, crt, err := pkcs12.Decode(buf, password)
	if err != nil {
		return nil, nil, BadCertificateInvalid
	}
	key, ok := k.(*rsa.PrivateKey)
	if !ok {
		return nil, nil, BadCertificateInvalid
	}
	return crt, key, nil
}

// ParseCertificate returns the first certificate of a PEM or DER encoded buffer, or nil.
func ParseCertificate(buf []byte) *x509.Certificate {
	for len(buf) > 0 {
		var block *pem.Block
		block, buf = pem.Decode(buf)
		if block == nil {
			// maybe its ASN.1 DER data
			if cert, err := x509.ParseCertificate(buf); err == nil {
				return cert
			}
			return nil
		}
		if block.Type != "CERTIFICATE" || len(block.Headers) != 0 {
			continue
		}
		if cert, err := x509.ParseCertificate(block.Bytes); err == nil {
			return cert
		}
		return nil
	}
	return nil
}

func parsePrivateKey(buf []byte) *rsa.PrivateKey {
	block, _ := pem.Decode(buf)
	if block == nil || !strings.HasSuffix(block.Type, "PRIVATE KEY") {
		return nil
	}
	if k, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return k
	}
	if k, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		if k2, ok := k.(*rsa.PrivateKey); ok {
			return k2
		}
	}
	return nil
}

// Thumbprint returns the SHA1 thumbprint of the certificate.
func Thumbprint(cert []byte) []byte {
	sum := sha1.Sum(cert)
	return sum[:]
}

// CertificateValidator decides whether a certificate of the remote party is trusted.
type CertificateValidator interface {
	Validate(cert *x509.Certificate) error
}

// CertificateValidatorFunc adapts a func to a CertificateValidator.
type CertificateValidatorFunc func(cert *x509.Certificate) error

// Validate calls f(cert).
func (f CertificateValidatorFunc) Validate(cert *x509.Certificate) error {
	return f(cert)
}

// AcceptAnyCertificate trusts every certificate.
var AcceptAnyCertificate = CertificateValidatorFunc(func(cert *x509.Certificate) error {
	if cert == nil {
		return BadCertificateInvalid
	}
	return nil
})

// X509Validator builds and verifies the chain of a certificate against a set of
// trusted certificates.
type X509Validator struct {
	Roots                   *x509.CertPool
	Intermediates           *x509.CertPool
	KeyUsage                x509.ExtKeyUsage
	SuppressTimeInvalid     bool
	SuppressChainIncomplete bool
}

// NewX509Validator returns a validator trusting the certificates found in
// trustedCertsFile. Self-signed certificates become roots, others intermediates.
// A missing file results in an empty trust list.
func NewX509Validator(trustedCertsFile string, usage x509.ExtKeyUsage) *X509Validator {
	v := &X509Validator{KeyUsage: usage}
	buf, err := os.ReadFile(trustedCertsFile)
	if err != nil {
		return v
	}
	add := func(cert *x509.Certificate) {
		// is self-signed?
		if bytes.Equal(cert.RawIssuer, cert.RawSubject) {
			if v.Roots == nil {
				v.Roots = x509.NewCertPool()
			}
			v.Roots.AddCert(cert)
			return
		}
		if v.Intermediates == nil {
			v.Intermediates = x509.NewCertPool()
		}
		v.Intermediates.AddCert(cert)
	}
	for len(buf) > 0 {
		var block *pem.Block
		block, buf = pem.Decode(buf)
		if block == nil {
			// maybe its der
			if cert, err := x509.ParseCertificate(buf); err == nil {
				add(cert)
			}
			break
		}
		if block.Type != "CERTIFICATE" || len(block.Headers) != 0 {
			continue
		}
		if cert, err := x509.ParseCertificate(block.Bytes); err == nil {
			add(cert)
		}
	}
	return v
}

// Validate builds the chain of the certificate and verifies it.
func (v *X509Validator) Validate(cert *x509.Certificate) error {
	if cert == nil {
		return BadCertificateInvalid
	}
	opts := x509.VerifyOptions{
		Roots:         v.Roots,
		Intermediates: v.Intermediates,
		KeyUsages:     []x509.ExtKeyUsage{v.KeyUsage},
	}
	if v.SuppressTimeInvalid {
		opts.CurrentTime = cert.NotBefore
	}
	if v.SuppressChainIncomplete {
		if opts.Roots == nil {
			opts.Roots = x509.NewCertPool()
		} else {
			opts.Roots = opts.Roots.Clone()
		}
		opts.Roots.AddCert(cert)
	}
	if opts.Roots == nil {
		return BadCertificateUntrusted
	}
	if _, err := cert.Verify(opts); err != nil {
		switch se := err.(type) {
		case x509.CertificateInvalidError:
			switch se.Reason {
			case x509.Expired:
				return BadCertificateTimeInvalid
			case x509.IncompatibleUsage:
				return BadCertificateUseNotAllowed
			default:
				return BadSecurityChecksFailed
			}
		case x509.UnknownAuthorityError:
			return BadCertificateUntrusted
		default:
			return BadSecurityChecksFailed
		}
	}
	return nil
}
