// Copyright 2021 Converter Systems LLC. All rights reserved.

package uasc

import (
	"sync"

	"github.com/awcullen/uasc/ua"
	"github.com/djherbis/buffer"
)

// bytesPool is a pool of byte slices, each large enough for a chunk of the default buffer size.
var bytesPool = sync.Pool{New: func() interface{} { return make([]byte, ua.DefaultBufferSize) }}

// bufferPool is a pool of memory pages for the buffers of encoded messages.
var bufferPool = buffer.NewMemPoolAt(int64(ua.DefaultBufferSize))

// getChunkBuffer returns a slice of the given length, from the pool if it fits.
func getChunkBuffer(n int) []byte {
	if n <= int(ua.DefaultBufferSize) {
		return bytesPool.Get().([]byte)[:n]
	}
	return make([]byte, n)
}

// putChunkBuffer returns a slice from getChunkBuffer to the pool.
func putChunkBuffer(b []byte) {
	if cap(b) == int(ua.DefaultBufferSize) {
		bytesPool.Put(b[:cap(b)])
	}
}

// newMessageBuffer returns a buffer for an encoded message. Call Reset to
// return its pages to the pool.
func newMessageBuffer() buffer.BufferAt {
	return buffer.NewPartitionAt(bufferPool)
}
