// Copyright 2021 Converter Systems LLC. All rights reserved.

package server

import (
	"time"

	"github.com/awcullen/uasc/ua"
	"github.com/awcullen/uasc/uasc"
	"go.uber.org/zap"
)

// Option is a functional option to be applied to a server during initialization.
type Option func(*Server) error

// WithServerCertificateFile sets the file paths of the server certificate and private key.
func WithServerCertificateFile(certPath, keyPath string) Option {
	return func(srv *Server) error {
		crt, key, err := ua.GetCertificateFromFile(certPath, keyPath)
		if err != nil {
			return err
		}
		srv.localCertificate = crt.Raw
		srv.localPrivateKey = key
		return nil
	}
}

// WithServerCertificatePKCS12 sets the file path and password of a PKCS#12 bundle holding the server certificate and private key.
func WithServerCertificatePKCS12(path, password string) Option {
	return func(srv *Server) error {
		crt, key, err := ua.GetCertificateFromPKCS12(path, password)
		if err != nil {
			return err
		}
		srv.localCertificate = crt.Raw
		srv.localPrivateKey = key
		return nil
	}
}

// WithSecurityPolicies sets the security policies a client may select. (default: None, plus every secured policy when a certificate is set)
func WithSecurityPolicies(uris ...string) Option {
	return func(srv *Server) error {
		srv.securityPolicies = make(map[string]bool, len(uris))
		for _, uri := range uris {
			if _, err := ua.SecurityPolicyFromURI(uri); err != nil {
				return err
			}
			srv.securityPolicies[uri] = true
		}
		return nil
	}
}

// WithSecurityModes sets the message security modes a client may select with a secured policy. (default: Sign, SignAndEncrypt)
func WithSecurityModes(modes ...ua.MessageSecurityMode) Option {
	return func(srv *Server) error {
		srv.securityModes = make(map[ua.MessageSecurityMode]bool, len(modes))
		for _, m := range modes {
			srv.securityModes[m] = true
		}
		return nil
	}
}

// WithTrustedCertificatesFile sets the file path of the trusted client certificates or certificate authorities.
func WithTrustedCertificatesFile(path string) Option {
	return func(srv *Server) error {
		srv.trustedCertsFile = path
		return nil
	}
}

// WithInsecureSkipVerify skips verification of client certificates.
func WithInsecureSkipVerify() Option {
	return func(srv *Server) error {
		srv.insecureSkipVerify = true
		return nil
	}
}

// WithCertificateValidator sets the validator of client certificates. (default: trusted certificates file)
func WithCertificateValidator(v ua.CertificateValidator) Option {
	return func(srv *Server) error {
		srv.validator = v
		return nil
	}
}

// WithBufferSize sets the size of the send and receive buffers. (default: 65535)
func WithBufferSize(value uint32) Option {
	return func(srv *Server) error {
		if value < ua.MinBufferSize {
			return ua.BadTCPNotEnoughResources
		}
		srv.limits.ReceiveBufferSize = value
		srv.limits.SendBufferSize = value
		return nil
	}
}

// WithMaxMessageSize sets the limit on the size of messages that may be accepted. (default: 16 MiB)
func WithMaxMessageSize(value uint32) Option {
	return func(srv *Server) error {
		srv.limits.MaxMessageSize = value
		return nil
	}
}

// WithMaxChunkCount sets the limit on the number of chunks of a message that may be accepted. (default: 4096)
func WithMaxChunkCount(value uint32) Option {
	return func(srv *Server) error {
		srv.limits.MaxChunkCount = value
		return nil
	}
}

// WithTokenLifetimeLimits sets the bounds of the revised token lifetime in milliseconds. (default: 60000, 3600000)
func WithTokenLifetimeLimits(min, max uint32) Option {
	return func(srv *Server) error {
		if min == 0 || max < min {
			return ua.BadInvalidState
		}
		srv.minTokenLifetime = min
		srv.maxTokenLifetime = max
		return nil
	}
}

// WithHandshakeTimeout sets the time to wait for the Hello of a client. (default: 5 sec)
func WithHandshakeTimeout(value time.Duration) Option {
	return func(srv *Server) error {
		srv.handshakeTimeout = value
		return nil
	}
}

// WithMaxWorkerThreads sets the number of workers that sign and encrypt chunks. (default: 4)
func WithMaxWorkerThreads(value int) Option {
	return func(srv *Server) error {
		srv.maxWorkerThreads = value
		return nil
	}
}

// WithHandler sets the handler of service requests. (default: TestStack only)
func WithHandler(h Handler) Option {
	return func(srv *Server) error {
		srv.handler = h
		return nil
	}
}

// WithCodec sets the codec of the messages. (default: ua.NewBinaryCodec)
func WithCodec(codec ua.Codec) Option {
	return func(srv *Server) error {
		srv.codec = codec
		return nil
	}
}

// WithScheduler sets the scheduler of the channel sweeps. (default: uasc.DefaultScheduler)
func WithScheduler(s *uasc.Scheduler) Option {
	return func(srv *Server) error {
		srv.scheduler = s
		return nil
	}
}

// WithLogger sets the logger. (default: no logging)
func WithLogger(logger *zap.Logger) Option {
	return func(srv *Server) error {
		srv.logger = logger
		return nil
	}
}

// WithTrace logs all ServiceRequests and ServiceResponses at Debug level.
func WithTrace() Option {
	return func(srv *Server) error {
		srv.trace = true
		return nil
	}
}
