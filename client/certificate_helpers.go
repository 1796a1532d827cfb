// Copyright 2021 Converter Systems LLC. All rights reserved.

package client

import (
	"crypto/x509"
	"net/url"

	"github.com/awcullen/uasc/ua"
)

// validateServerCertificate validates the certificate of the server, and
// that it names the host of the endpoint.
func validateServerCertificate(cert []byte, endpointURL string, validator ua.CertificateValidator, suppressHostNameInvalid bool) error {
	crt := ua.ParseCertificate(cert)
	if crt == nil {
		return ua.BadCertificateInvalid
	}
	if err := validator.Validate(crt); err != nil {
		return err
	}
	if suppressHostNameInvalid {
		return nil
	}
	u, err := url.Parse(endpointURL)
	if err != nil {
		return ua.BadTCPEndpointURLInvalid
	}
	if err := crt.VerifyHostname(u.Hostname()); err != nil {
		return ua.BadCertificateHostNameInvalid
	}
	return nil
}

// newServerCertificateValidator returns the validator used when none was
// configured.
func newServerCertificateValidator(trustedCertsFile string, insecureSkipVerify bool) ua.CertificateValidator {
	if insecureSkipVerify {
		return ua.AcceptAnyCertificate
	}
	return ua.NewX509Validator(trustedCertsFile, x509.ExtKeyUsageServerAuth)
}
