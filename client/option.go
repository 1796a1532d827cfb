// Copyright 2021 Converter Systems LLC. All rights reserved.

package client

import (
	"crypto/rsa"
	"os"
	"time"

	"github.com/awcullen/uasc/ua"
	"github.com/awcullen/uasc/uasc"
	"go.uber.org/zap"
)

// Option is a functional option to be applied to a client during initialization.
type Option func(*Client) error

// WithSecurityPolicyNone selects security policy of None. (default)
func WithSecurityPolicyNone() Option {
	return func(c *Client) error {
		c.securityPolicyURI = ua.SecurityPolicyURINone
		c.securityMode = ua.MessageSecurityModeNone
		return nil
	}
}

// WithSecurityPolicyBasic128Rsa15 selects security policy of Basic128Rsa15.
func WithSecurityPolicyBasic128Rsa15() Option {
	return withSecuredPolicy(ua.SecurityPolicyURIBasic128Rsa15)
}

// WithSecurityPolicyBasic256 selects security policy of Basic256.
func WithSecurityPolicyBasic256() Option {
	return withSecuredPolicy(ua.SecurityPolicyURIBasic256)
}

// WithSecurityPolicyBasic256Sha256 selects security policy of Basic256Sha256.
func WithSecurityPolicyBasic256Sha256() Option {
	return withSecuredPolicy(ua.SecurityPolicyURIBasic256Sha256)
}

// WithSecurityPolicyAes128Sha256RsaOaep selects security policy of Aes128Sha256RsaOaep.
func WithSecurityPolicyAes128Sha256RsaOaep() Option {
	return withSecuredPolicy(ua.SecurityPolicyURIAes128Sha256RsaOaep)
}

// WithSecurityPolicyAes256Sha256RsaPss selects security policy of Aes256Sha256RsaPss.
func WithSecurityPolicyAes256Sha256RsaPss() Option {
	return withSecuredPolicy(ua.SecurityPolicyURIAes256Sha256RsaPss)
}

func withSecuredPolicy(uri string) Option {
	return func(c *Client) error {
		c.securityPolicyURI = uri
		if c.securityMode == ua.MessageSecurityModeNone {
			c.securityMode = ua.MessageSecurityModeSignAndEncrypt
		}
		return nil
	}
}

// WithSecurityMode sets the message security mode. (default: SignAndEncrypt for secured policies)
func WithSecurityMode(mode ua.MessageSecurityMode) Option {
	return func(c *Client) error {
		c.securityMode = mode
		return nil
	}
}

// WithClientCertificate sets the client certificate and private key.
func WithClientCertificate(cert []byte, privateKey *rsa.PrivateKey) Option {
	return func(c *Client) error {
		c.localCertificate = cert
		c.localPrivateKey = privateKey
		return nil
	}
}

// WithClientCertificateFile sets the file paths of the client certificate and private key.
func WithClientCertificateFile(certPath, keyPath string) Option {
	return func(c *Client) error {
		crt, key, err := ua.GetCertificateFromFile(certPath, keyPath)
		if err != nil {
			return err
		}
		c.localCertificate = crt.Raw
		c.localPrivateKey = key
		return nil
	}
}

// WithClientCertificatePKCS12 sets the file path and password of a PKCS#12 bundle holding the client certificate and private key.
func WithClientCertificatePKCS12(path, password string) Option {
	return func(c *Client) error {
		crt, key, err := ua.GetCertificateFromPKCS12(path, password)
		if err != nil {
			return err
		}
		c.localCertificate = crt.Raw
		c.localPrivateKey = key
		return nil
	}
}

// WithServerCertificate sets the certificate of the server, required by the secured policies.
func WithServerCertificate(cert []byte) Option {
	return func(c *Client) error {
		c.serverCertificate = cert
		return nil
	}
}

// WithServerCertificateFile sets the file path of the certificate of the server.
func WithServerCertificateFile(path string) Option {
	return func(c *Client) error {
		buf, err := os.ReadFile(path)
		if err != nil {
			return ua.BadCertificateInvalid
		}
		crt := ua.ParseCertificate(buf)
		if crt == nil {
			return ua.BadCertificateInvalid
		}
		c.serverCertificate = crt.Raw
		return nil
	}
}

// WithTrustedCertificatesFile sets the file path of the trusted server certificates or certificate authorities.
func WithTrustedCertificatesFile(path string) Option {
	return func(c *Client) error {
		c.trustedCertsFile = path
		return nil
	}
}

// WithInsecureSkipVerify skips verification of server certificate. Skips checking HostName, Expiration, and Authority.
func WithInsecureSkipVerify() Option {
	return func(c *Client) error {
		c.insecureSkipVerify = true
		return nil
	}
}

// WithCertificateValidator sets the validator of the server certificate. (default: trusted certificates file)
func WithCertificateValidator(v ua.CertificateValidator) Option {
	return func(c *Client) error {
		c.validator = v
		return nil
	}
}

// WithTimeoutHint sets the default number of milliseconds to wait before the ServiceRequest is cancelled. (default: 15000)
func WithTimeoutHint(value uint32) Option {
	return func(c *Client) error {
		c.timeoutHint = value
		return nil
	}
}

// WithTokenLifetime sets the requested number of milliseconds before a security token is expired. (default: 60 min)
func WithTokenLifetime(value uint32) Option {
	return func(c *Client) error {
		c.tokenLifetime = value
		return nil
	}
}

// WithConnectTimeout sets the number of milliseconds to wait for a connection response. (default:5000)
func WithConnectTimeout(value int64) Option {
	return func(c *Client) error {
		c.connectTimeout = value
		return nil
	}
}

// WithBufferSize sets the size of the send and receive buffers. (default: 65535)
func WithBufferSize(value uint32) Option {
	return func(c *Client) error {
		if value < ua.MinBufferSize {
			return ua.BadTCPNotEnoughResources
		}
		c.limits.ReceiveBufferSize = value
		c.limits.SendBufferSize = value
		return nil
	}
}

// WithMaxMessageSize sets the limit on the size of messages that may be accepted. (default: 16 MiB)
func WithMaxMessageSize(value uint32) Option {
	return func(c *Client) error {
		c.limits.MaxMessageSize = value
		return nil
	}
}

// WithMaxChunkCount sets the limit on the number of chunks of a message that may be accepted. (default: 4096)
func WithMaxChunkCount(value uint32) Option {
	return func(c *Client) error {
		c.limits.MaxChunkCount = value
		return nil
	}
}

// WithReconnectDelays sets the delays between attempts to reconnect. The last delay repeats. (default: 0,1,2,4,8,16,32,64,120 sec)
func WithReconnectDelays(delays ...time.Duration) Option {
	return func(c *Client) error {
		if len(delays) == 0 {
			return ua.BadInvalidState
		}
		c.reconnectDelays = delays
		return nil
	}
}

// WithLogger sets the logger. (default: no logging)
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) error {
		c.logger = logger
		return nil
	}
}

// WithCodec sets the codec of the messages. (default: ua.NewBinaryCodec)
func WithCodec(codec ua.Codec) Option {
	return func(c *Client) error {
		c.codec = codec
		return nil
	}
}

// WithScheduler sets the scheduler of renewals, reconnects and timeouts. (default: uasc.DefaultScheduler)
func WithScheduler(s *uasc.Scheduler) Option {
	return func(c *Client) error {
		c.scheduler = s
		return nil
	}
}

// WithWorkerCount sets the number of workers that sign and encrypt chunks. (default: 4)
func WithWorkerCount(value int) Option {
	return func(c *Client) error {
		c.workerCount = value
		return nil
	}
}

// WithTrace logs all ServiceRequests and ServiceResponses at Debug level.
func WithTrace() Option {
	return func(c *Client) error {
		c.trace = true
		return nil
	}
}
