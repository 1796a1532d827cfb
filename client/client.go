// Copyright 2021 Converter Systems LLC. All rights reserved.

package client

import (
	"context"
	"crypto/rsa"
	"time"

	"github.com/awcullen/uasc/ua"
	"github.com/awcullen/uasc/uasc"
	"github.com/gammazero/workerpool"
	"go.uber.org/zap"
)

const defaultWorkerCount = 4

// Dial returns a secure channel to the OPC UA server with the given URL and options.
func Dial(ctx context.Context, endpointURL string, opts ...Option) (c *Client, err error) {
	cli := newClient(endpointURL)

	// apply each option to the default
	for _, opt := range opts {
		if err := opt(cli); err != nil {
			return nil, err
		}
	}
	if err := cli.init(); err != nil {
		return nil, err
	}

	if err := cli.channel.Open(ctx); err != nil {
		cli.pool.Stop()
		return nil, err
	}
	return cli, nil
}

func newClient(endpointURL string) *Client {
	return &Client{
		endpointURL:       endpointURL,
		securityPolicyURI: ua.SecurityPolicyURINone,
		securityMode:      ua.MessageSecurityModeNone,
		timeoutHint:       ua.DefaultTimeoutHint,
		tokenLifetime:     ua.DefaultTokenLifetime,
		connectTimeout:    int64(ua.DefaultConnectTimeout),
		limits:            uasc.DefaultLimits(),
		reconnectDelays:   defaultReconnectDelays,
		workerCount:       defaultWorkerCount,
	}
}

// init fills the defaults the options left unset and creates the channel.
func (cli *Client) init() error {
	if cli.logger == nil {
		cli.logger = zap.NewNop()
	}
	if cli.codec == nil {
		cli.codec = ua.NewBinaryCodec()
	}
	if cli.scheduler == nil {
		cli.scheduler = uasc.DefaultScheduler()
	}
	if cli.validator == nil {
		cli.validator = newServerCertificateValidator(cli.trustedCertsFile, cli.insecureSkipVerify)
	}
	if cli.workerCount < 1 {
		cli.workerCount = 1
	}
	security, err := uasc.NewSecurityConfig(cli.securityPolicyURI, cli.securityMode, cli.localCertificate, cli.localPrivateKey, cli.serverCertificate)
	if err != nil {
		return err
	}
	cli.pool = workerpool.New(cli.workerCount)
	cli.channel = newClientSecureChannel(cli, security)
	return nil
}

// Client for exchanging binary encoded requests and responses with an OPC UA server.
// Uses TCP with the binary security protocol UA-SecureConversation 1.0 and the binary message encoding UA-Binary 1.0.
type Client struct {
	channel            *clientSecureChannel
	endpointURL        string
	securityPolicyURI  string
	securityMode       ua.MessageSecurityMode
	serverCertificate  []byte
	localCertificate   []byte
	localPrivateKey    *rsa.PrivateKey
	trustedCertsFile   string
	insecureSkipVerify bool
	validator          ua.CertificateValidator
	timeoutHint        uint32
	tokenLifetime      uint32
	connectTimeout     int64
	limits             uasc.Limits
	reconnectDelays    []time.Duration
	logger             *zap.Logger
	codec              ua.Codec
	scheduler          *uasc.Scheduler
	pool               *workerpool.WorkerPool
	workerCount        int
	trace              bool
}

// EndpointURL gets the EndpointURL of the server.
func (ch *Client) EndpointURL() string {
	return ch.endpointURL
}

// SecurityPolicyURI gets the SecurityPolicyURI of the secure channel.
func (ch *Client) SecurityPolicyURI() string {
	return ch.securityPolicyURI
}

// SecurityMode gets the MessageSecurityMode of the secure channel.
func (ch *Client) SecurityMode() ua.MessageSecurityMode {
	return ch.securityMode
}

// ChannelID gets the id of the secure channel.
func (ch *Client) ChannelID() uint32 {
	return ch.channel.ChannelID()
}

// IsOpen returns true if the secure channel is open and its token is valid.
func (ch *Client) IsOpen() bool {
	return ch.channel.IsOpen()
}

// Request sends a service request to the server and returns the response.
// A response with a bad ServiceResult returns a *ua.ServiceFaultError.
func (ch *Client) Request(ctx context.Context, req ua.ServiceRequest) (ua.ServiceResponse, error) {
	return ch.channel.Request(ctx, req)
}

// Future is the result of a request sent with RequestAsync.
type Future struct {
	p  *uasc.PendingRequest
	ch *clientSecureChannel
}

// RequestID returns the id of the request.
func (f *Future) RequestID() uint32 {
	return f.p.RequestID
}

// Done returns a channel that is closed when the response arrived, or the request failed.
func (f *Future) Done() <-chan struct{} {
	return f.p.Done()
}

// Wait blocks until the response arrives or the context is done.
func (f *Future) Wait(ctx context.Context) (ua.ServiceResponse, error) {
	return f.ch.wait(ctx, f.p)
}

// RequestAsync sends a service request to the server without waiting for the response.
func (ch *Client) RequestAsync(req ua.ServiceRequest) (*Future, error) {
	p, err := ch.channel.RequestAsync(req)
	if err != nil {
		return nil, err
	}
	return &Future{p: p, ch: ch.channel}, nil
}

// Close closes the secure channel, failing the pending requests.
func (ch *Client) Close(ctx context.Context) error {
	err := ch.channel.Close(ctx)
	ch.pool.Stop()
	return err
}

// Abort closes the connection without sending a CloseSecureChannelRequest.
func (ch *Client) Abort(ctx context.Context) error {
	ch.channel.closeWithError(ua.BadSecureChannelClosed)
	ch.pool.Stop()
	return nil
}
