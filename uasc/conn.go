// Copyright 2021 Converter Systems LLC. All rights reserved.

package uasc

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/awcullen/uasc/ua"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ChunkHandler receives the OPN, CLO and MSG chunks read by a Conn.
type ChunkHandler interface {
	// HandleChunk takes ownership of the chunk. An error aborts the connection.
	HandleChunk(c *Conn, messageType uint32, chunk []byte) error
	// HandleClose is called once, after the connection is closed.
	HandleClose(c *Conn, err error)
}

// outChunk is a protected chunk waiting for its turn on the socket.
type outChunk struct {
	buf  []byte
	done chan error
}

// WriteTicket holds the place of a chunk in the write order of a Conn.
type WriteTicket struct {
	t  *ticket[*outChunk]
	oc *outChunk
}

// Wait blocks until the chunk was written, or failed.
func (wt *WriteTicket) Wait() error {
	return <-wt.oc.done
}

// Conn is a connection that carries the chunks of one or more secure
// channels. A single read loop routes the chunks to a ChunkHandler. Chunks
// are written in the order their tickets were reserved.
type Conn struct {
	id          uuid.UUID
	conn        net.Conn
	endpointURL string
	local       Limits
	remote      Limits
	logger      *zap.Logger
	writeMu     sync.Mutex
	writer      *incubator[*outChunk]
	handler     ChunkHandler
	closeOnce   sync.Once
	closed      chan struct{}
	errMu       sync.Mutex
	err         error
}

func newConn(nc net.Conn, endpointURL string, logger *zap.Logger) *Conn {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Conn{
		id:          uuid.New(),
		conn:        nc,
		endpointURL: endpointURL,
		closed:      make(chan struct{}),
	}
	c.logger = logger.With(zap.String("conn", c.id.String()))
	c.writer = newIncubator(c.write)
	return c
}

// Dial connects to the endpoint and exchanges Hello and Acknowledge. The
// connection does not read until Start is called.
func Dial(ctx context.Context, endpointURL string, local Limits, timeout time.Duration, logger *zap.Logger) (*Conn, error) {
	u, err := url.Parse(endpointURL)
	if err != nil || u.Host == "" {
		return nil, ua.BadTCPEndpointURLInvalid
	}
	if timeout <= 0 {
		timeout = time.Duration(ua.DefaultConnectTimeout) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", u.Host)
	if err != nil {
		return nil, errors.Wrap(err, "dial")
	}
	c := newConn(nc, endpointURL, logger)
	if deadline, ok := ctx.Deadline(); ok {
		nc.SetDeadline(deadline)
	}
	if err := c.hello(local); err != nil {
		nc.Close()
		return nil, err
	}
	nc.SetDeadline(time.Time{})
	c.logger.Debug("connected", zap.String("endpoint", endpointURL))
	return c, nil
}

func (c *Conn) hello(local Limits) error {
	hel := &Hello{
		ProtocolVersion:   ua.ProtocolVersion,
		ReceiveBufferSize: local.ReceiveBufferSize,
		SendBufferSize:    local.SendBufferSize,
		MaxMessageSize:    local.MaxMessageSize,
		MaxChunkCount:     local.MaxChunkCount,
		EndpointURL:       c.endpointURL,
	}
	if _, err := c.conn.Write(encodeHello(hel)); err != nil {
		return errors.Wrap(err, "write hello")
	}
	b, err := c.readMessage(ua.MinBufferSize)
	if err != nil {
		return err
	}
	defer putChunkBuffer(b)
	switch binary.LittleEndian.Uint32(b) {
	case ua.MessageTypeAck:
		ack, err := decodeAcknowledge(b)
		if err != nil {
			return err
		}
		c.local, c.remote, err = negotiateAcknowledge(ack, local)
		return err
	case ua.MessageTypeError:
		return decodeError(b[8:]).Error
	default:
		return ua.BadTCPMessageTypeInvalid
	}
}

// Accept reads the Hello of a client and replies with an Acknowledge, or with
// an Error when the Hello is not acceptable.
func Accept(nc net.Conn, local Limits, timeout time.Duration, logger *zap.Logger) (*Conn, error) {
	c := newConn(nc, "", logger)
	if timeout > 0 {
		nc.SetDeadline(time.Now().Add(timeout))
	}
	b, err := c.readMessage(ua.MinBufferSize)
	if err != nil {
		nc.Close()
		return nil, err
	}
	defer putChunkBuffer(b)
	if binary.LittleEndian.Uint32(b) != ua.MessageTypeHello {
		c.abortHandshake(ua.BadTCPMessageTypeInvalid)
		return nil, ua.BadTCPMessageTypeInvalid
	}
	hel, err := decodeHello(b)
	if err != nil {
		c.abortHandshake(StatusCodeOf(err))
		return nil, err
	}
	ack, recv, send, err := negotiateHello(hel, local)
	if err != nil {
		c.abortHandshake(StatusCodeOf(err))
		return nil, err
	}
	if _, err := nc.Write(encodeAcknowledge(ack)); err != nil {
		nc.Close()
		return nil, errors.Wrap(err, "write acknowledge")
	}
	nc.SetDeadline(time.Time{})
	c.endpointURL = hel.EndpointURL
	c.local, c.remote = recv, send
	c.logger.Debug("accepted", zap.String("endpoint", hel.EndpointURL), zap.String("remote", nc.RemoteAddr().String()))
	return c, nil
}

func (c *Conn) abortHandshake(code ua.StatusCode) {
	c.conn.Write(encodeError(&ErrorMessage{Error: code}))
	c.conn.Close()
}

// ID returns the id of the connection, used in logs.
func (c *Conn) ID() uuid.UUID { return c.id }

// EndpointURL returns the url sent in the Hello.
func (c *Conn) EndpointURL() string { return c.endpointURL }

// Local returns the limits of the chunks and messages this side accepts.
func (c *Conn) Local() Limits { return c.local }

// Remote returns the limits of the chunks and messages the peer accepts.
func (c *Conn) Remote() Limits { return c.remote }

// Logger returns the logger of the connection.
func (c *Conn) Logger() *zap.Logger { return c.logger }

// Start runs the read loop, routing chunks to the handler.
func (c *Conn) Start(handler ChunkHandler) {
	c.handler = handler
	go c.readLoop()
}

// Closed returns a channel that is closed with the connection.
func (c *Conn) Closed() <-chan struct{} {
	return c.closed
}

// Err returns the error that closed the connection.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// readMessage reads one message, header included, of at most max bytes.
func (c *Conn) readMessage(max uint32) ([]byte, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(c.conn, hdr[:]); err != nil {
		return nil, errors.Wrap(err, "read")
	}
	size := binary.LittleEndian.Uint32(hdr[4:])
	if size > max {
		return nil, ua.BadTCPMessageTooLarge
	}
	if size < 8 {
		return nil, ua.BadDecodingError
	}
	b := getChunkBuffer(int(size))
	copy(b, hdr[:])
	if _, err := io.ReadFull(c.conn, b[8:]); err != nil {
		putChunkBuffer(b)
		return nil, errors.Wrap(err, "read")
	}
	return b, nil
}

func (c *Conn) readLoop() {
	for {
		chunk, err := c.readMessage(c.local.ReceiveBufferSize)
		if err != nil {
			if code, ok := err.(ua.StatusCode); ok {
				c.Abort(code, "")
				return
			}
			c.closeWithError(err)
			return
		}
		messageType := binary.LittleEndian.Uint32(chunk)
		switch ua.MessageTypeOf(messageType) {
		case ua.MessageTypeOf(ua.MessageTypeOpenFinal),
			ua.MessageTypeOf(ua.MessageTypeCloseFinal),
			ua.MessageTypeOf(ua.MessageTypeFinal):
			if len(chunk) < ua.MessageHeaderSize+ua.SymmetricSecurityHeaderSize+ua.SequenceHeaderSize {
				putChunkBuffer(chunk)
				c.Abort(ua.BadDecodingError, "")
				return
			}
			if err := c.handler.HandleChunk(c, messageType, chunk); err != nil {
				c.logger.Warn("chunk rejected", zap.Error(err))
				c.Abort(StatusCodeOf(err), "")
				return
			}
		case ua.MessageTypeOf(ua.MessageTypeError):
			m := decodeError(chunk[8:])
			putChunkBuffer(chunk)
			c.logger.Debug("error received", zap.Error(m.Error), zap.String("reason", m.Reason))
			c.closeWithError(m.Error)
			return
		default:
			// HEL, ACK and RHE are not expected once the connection is open.
			putChunkBuffer(chunk)
			c.Abort(ua.BadTCPMessageTypeInvalid, "")
			return
		}
	}
}

// Reserve holds the next place in the write order. Callers assign sequence
// numbers and reserve tickets under the same lock.
func (c *Conn) Reserve() *WriteTicket {
	oc := &outChunk{done: make(chan error, 1)}
	return &WriteTicket{t: c.writer.reserve(), oc: oc}
}

// Fill hands over the protected chunk. Chunks are written once every
// earlier ticket was filled. An error closes the connection.
func (c *Conn) Fill(wt *WriteTicket, buf []byte, err error) {
	wt.oc.buf = buf
	c.writer.fill(wt.t, wt.oc, err)
}

func (c *Conn) write(oc *outChunk, err error) {
	if err != nil {
		c.closeWithError(err)
		oc.done <- err
		return
	}
	c.writeMu.Lock()
	select {
	case <-c.closed:
		err = ua.BadConnectionClosed
	default:
		if _, werr := c.conn.Write(oc.buf); werr != nil {
			err = errors.Wrap(werr, "write")
		}
	}
	c.writeMu.Unlock()
	putChunkBuffer(oc.buf)
	oc.buf = nil
	if err != nil {
		c.closeWithError(err)
	}
	oc.done <- err
}

// Abort sends an Error message, then closes the connection.
func (c *Conn) Abort(code ua.StatusCode, reason string) {
	c.writeMu.Lock()
	select {
	case <-c.closed:
	default:
		c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		c.conn.Write(encodeError(&ErrorMessage{Error: code, Reason: reason}))
	}
	c.writeMu.Unlock()
	c.closeWithError(code)
}

// Close closes the connection.
func (c *Conn) Close() error {
	c.closeWithError(ua.BadConnectionClosed)
	return nil
}

func (c *Conn) closeWithError(err error) {
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		c.err = err
		c.errMu.Unlock()
		close(c.closed)
		c.conn.Close()
		c.logger.Debug("closed", zap.Error(err))
		if c.handler != nil {
			go c.handler.HandleClose(c, err)
		}
	})
}
