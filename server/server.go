// Copyright 2021 Converter Systems LLC. All rights reserved.

package server

import (
	"crypto/rsa"
	"crypto/x509"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/awcullen/uasc/ua"
	"github.com/awcullen/uasc/uasc"
	"github.com/gammazero/workerpool"
	"go.uber.org/zap"
)

type key string

const (
	// ChannelIDKey stores the id of the secure channel of a request in context.
	ChannelIDKey key = "uasc-channel"
	// the default number of worker threads that may be created.
	defaultMaxWorkerThreads int = 4
	// the default time to wait for the Hello of a client.
	defaultHandshakeTimeout = 5 * time.Second
)

// Server accepts secure channels from clients and dispatches their requests to a Handler.
type Server struct {
	sync.RWMutex
	endpointURL        string
	localCertificate   []byte
	localPrivateKey    *rsa.PrivateKey
	securityPolicies   map[string]bool
	securityModes      map[ua.MessageSecurityMode]bool
	trustedCertsFile   string
	insecureSkipVerify bool
	validator          ua.CertificateValidator
	limits             uasc.Limits
	minTokenLifetime   uint32
	maxTokenLifetime   uint32
	handshakeTimeout   time.Duration
	maxWorkerThreads   int
	handler            Handler
	codec              ua.Codec
	scheduler          *uasc.Scheduler
	logger             *zap.Logger
	trace              bool
	listeners          []net.Listener
	conns              map[*serverConn]struct{}
	closing            chan struct{}
	closeOnce          sync.Once
	workerpool         *workerpool.WorkerPool
	channelManager     *ChannelManager
}

// New initializes a new instance of the Server.
func New(endpointURL string, options ...Option) (*Server, error) {
	srv := &Server{
		endpointURL:      endpointURL,
		limits:           uasc.DefaultLimits(),
		minTokenLifetime: ua.MinTokenLifetime,
		maxTokenLifetime: ua.DefaultTokenLifetime,
		handshakeTimeout: defaultHandshakeTimeout,
		maxWorkerThreads: defaultMaxWorkerThreads,
		conns:            make(map[*serverConn]struct{}),
		closing:          make(chan struct{}),
	}

	// apply each option to the default
	for _, opt := range options {
		if err := opt(srv); err != nil {
			return nil, err
		}
	}

	if srv.securityPolicies == nil {
		srv.securityPolicies = map[string]bool{ua.SecurityPolicyURINone: true}
		if len(srv.localCertificate) > 0 {
			for _, uri := range []string{ua.SecurityPolicyURIBasic128Rsa15, ua.SecurityPolicyURIBasic256,
				ua.SecurityPolicyURIBasic256Sha256, ua.SecurityPolicyURIAes128Sha256RsaOaep, ua.SecurityPolicyURIAes256Sha256RsaPss} {
				srv.securityPolicies[uri] = true
			}
		}
	}
	for uri := range srv.securityPolicies {
		if uri != ua.SecurityPolicyURINone && (srv.localPrivateKey == nil || len(srv.localCertificate) == 0) {
			return nil, ua.BadCertificateInvalid
		}
	}
	if srv.securityModes == nil {
		srv.securityModes = map[ua.MessageSecurityMode]bool{
			ua.MessageSecurityModeSign:           true,
			ua.MessageSecurityModeSignAndEncrypt: true,
		}
	}
	if srv.validator == nil {
		if srv.insecureSkipVerify {
			srv.validator = ua.AcceptAnyCertificate
		} else {
			srv.validator = ua.NewX509Validator(srv.trustedCertsFile, x509.ExtKeyUsageClientAuth)
		}
	}
	if srv.handler == nil {
		srv.handler = HandlerFunc(srv.serveDefault)
	}
	if srv.codec == nil {
		srv.codec = ua.NewBinaryCodec()
	}
	if srv.scheduler == nil {
		srv.scheduler = uasc.DefaultScheduler()
	}
	if srv.logger == nil {
		srv.logger = zap.NewNop()
	}
	if srv.maxWorkerThreads < 1 {
		srv.maxWorkerThreads = 1
	}
	srv.workerpool = workerpool.New(srv.maxWorkerThreads)
	srv.channelManager = NewChannelManager(srv)
	return srv, nil
}

// EndpointURL gets the url of the endpoint.
func (srv *Server) EndpointURL() string {
	return srv.endpointURL
}

// LocalCertificate gets the certificate of the server.
func (srv *Server) LocalCertificate() []byte {
	return srv.localCertificate
}

// ChannelManager gets the channel manager of the server.
func (srv *Server) ChannelManager() *ChannelManager {
	return srv.channelManager
}

// WorkerPool gets the pool that signs and encrypts chunks.
func (srv *Server) WorkerPool() *workerpool.WorkerPool {
	return srv.workerpool
}

// Closing gets a channel that is closed when the server closes.
func (srv *Server) Closing() <-chan struct{} {
	return srv.closing
}

// ListenAndServe listens on the port of the endpoint url and serves clients.
// ListenAndServe always returns a non-nil error. After Close, the returned
// error is BadServerHalted.
func (srv *Server) ListenAndServe() error {
	baseURL, err := url.Parse(srv.endpointURL)
	if err != nil {
		return ua.BadTCPEndpointURLInvalid
	}
	l, err := net.Listen("tcp", ":"+baseURL.Port())
	if err != nil {
		srv.logger.Warn("error opening listener", zap.Error(err))
		return ua.BadResourceUnavailable
	}
	return srv.Serve(l)
}

// Serve accepts connections on the listener.
func (srv *Server) Serve(l net.Listener) error {
	srv.Lock()
	select {
	case <-srv.closing:
		srv.Unlock()
		l.Close()
		return ua.BadServerHalted
	default:
	}
	srv.listeners = append(srv.listeners, l)
	srv.Unlock()
	srv.logger.Info("listening", zap.String("endpoint", srv.endpointURL), zap.String("addr", l.Addr().String()))

	var delay time.Duration
	for {
		nc, err := l.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if delay == 0 {
					delay = 5 * time.Millisecond
				} else {
					delay *= 2
				}
				if max := 1 * time.Second; delay > max {
					delay = max
				}
				time.Sleep(delay)
				continue
			}
			select {
			case <-srv.closing:
				return ua.BadServerHalted
			default:
				return ua.BadTCPInternalError
			}
		}
		delay = 0
		go srv.accept(nc)
	}
}

func (srv *Server) accept(nc net.Conn) {
	conn, err := uasc.Accept(nc, srv.limits, srv.handshakeTimeout, srv.logger)
	if err != nil {
		srv.logger.Debug("hello rejected", zap.String("remote", nc.RemoteAddr().String()), zap.Error(err))
		return
	}
	sc := newServerConn(srv, conn)
	srv.Lock()
	select {
	case <-srv.closing:
		srv.Unlock()
		conn.Close()
		return
	default:
	}
	srv.conns[sc] = struct{}{}
	srv.Unlock()
	conn.Start(sc)
}

func (srv *Server) removeConn(sc *serverConn) {
	srv.Lock()
	delete(srv.conns, sc)
	srv.Unlock()
}

// reviseLifetime clamps the requested lifetime of a token. Zero selects the default.
func (srv *Server) reviseLifetime(requested uint32) uint32 {
	if requested == 0 {
		requested = ua.DefaultTokenLifetime
	}
	if requested < srv.minTokenLifetime {
		return srv.minTokenLifetime
	}
	if requested > srv.maxTokenLifetime {
		return srv.maxTokenLifetime
	}
	return requested
}

// Close stops listening, then closes every channel and connection.
func (srv *Server) Close() error {
	return srv.shutdown(true)
}

// Abort stops listening and closes every channel and connection, without
// waiting for queued work.
func (srv *Server) Abort() error {
	return srv.shutdown(false)
}

func (srv *Server) shutdown(wait bool) error {
	closed := false
	srv.closeOnce.Do(func() {
		closed = true
		srv.Lock()
		close(srv.closing)
		listeners := srv.listeners
		conns := srv.conns
		srv.conns = make(map[*serverConn]struct{})
		srv.Unlock()

		// close listeners
		for _, l := range listeners {
			if err := l.Close(); err != nil {
				srv.logger.Warn("error closing listener", zap.Error(err))
			}
		}
		srv.channelManager.closeChannels()
		for sc := range conns {
			sc.conn.Close()
		}
		// stop workers.
		if wait {
			srv.workerpool.StopWait()
		} else {
			srv.workerpool.Stop()
		}
		srv.logger.Info("server closed")
	})
	if !closed {
		return ua.BadInvalidState
	}
	return nil
}
