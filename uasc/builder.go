// Copyright 2021 Converter Systems LLC. All rights reserved.

package uasc

import (
	"io"
	"sync"

	"github.com/awcullen/uasc/ua"
	"github.com/djherbis/nio/v3"
)

// builder reassembles the bodies of the chunks of one message. The bodies
// flow through a buffered pipe into a decoder running on its own goroutine,
// so decoding starts with the first chunk.
type builder struct {
	sync.Mutex
	requestID uint32
	w         *nio.PipeWriter
	size      int
	count     int
	abortErr  error
}

// newBuilder starts decoding the message with the given request id. deliver
// is called once, after the final or abort chunk, with the message or error.
func newBuilder(requestID uint32, codec ua.Codec, deliver func(requestID uint32, msg interface{}, err error)) *builder {
	r, w := nio.Pipe(newMessageBuffer())
	b := &builder{requestID: requestID, w: w}
	go func() {
		msg, err := codec.Decode(r)
		if err != nil {
			// unblock the writer, later chunks of this message are dropped.
			r.CloseWithError(err)
			if abortErr := b.aborted(); abortErr != nil {
				err = abortErr
			}
			deliver(requestID, nil, err)
			return
		}
		// an abort chunk may follow the last byte of the body.
		if _, err := io.Copy(io.Discard, r); err != nil {
			deliver(requestID, nil, err)
			return
		}
		deliver(requestID, msg, nil)
	}()
	return b
}

// append writes the body of the next chunk. Returns an error if the
// message exceeds the local limits.
func (b *builder) append(body []byte, local Limits) error {
	b.count++
	b.size += len(body)
	if local.MaxChunkCount > 0 && b.count > int(local.MaxChunkCount) {
		b.abort(ua.BadEncodingLimitsExceeded)
		return ua.BadEncodingLimitsExceeded
	}
	if local.MaxMessageSize > 0 && b.size > int(local.MaxMessageSize) {
		b.abort(ua.BadTCPMessageTooLarge)
		return ua.BadTCPMessageTooLarge
	}
	// a failed decoder closed the pipe, the error was delivered.
	b.w.Write(body)
	return nil
}

// final ends the message.
func (b *builder) final() {
	b.w.Close()
}

// abort ends the message with an error.
func (b *builder) abort(err error) {
	b.Lock()
	b.abortErr = err
	b.Unlock()
	b.w.CloseWithError(err)
}

func (b *builder) aborted() error {
	b.Lock()
	defer b.Unlock()
	return b.abortErr
}
