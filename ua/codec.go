// Copyright 2021 Converter Systems LLC. All rights reserved.

package ua

import (
	"io"
	"sync"
)

// Codec encodes and decodes the body of a message carried by the secure channel.
type Codec interface {
	Encode(w io.Writer, msg interface{}) error
	Decode(r io.Reader) (interface{}, error)
}

// BinaryEncodable is implemented by the messages a BinaryCodec can carry.
type BinaryEncodable interface {
	BinaryEncodingID() NodeID
	EncodeBinary(enc *BinaryEncoder) error
	DecodeBinary(dec *BinaryDecoder) error
}

// BinaryCodec writes the binary encoding id followed by the body. Messages are
// looked up by encoding id when decoding.
type BinaryCodec struct {
	sync.RWMutex
	types map[NodeID]func() BinaryEncodable
}

// NewBinaryCodec returns a codec that knows the channel level services.
func NewBinaryCodec() *BinaryCodec {
	c := &BinaryCodec{types: make(map[NodeID]func() BinaryEncodable)}
	c.Register(func() BinaryEncodable { return new(OpenSecureChannelRequest) })
	c.Register(func() BinaryEncodable { return new(OpenSecureChannelResponse) })
	c.Register(func() BinaryEncodable { return new(CloseSecureChannelRequest) })
	c.Register(func() BinaryEncodable { return new(CloseSecureChannelResponse) })
	c.Register(func() BinaryEncodable { return new(ServiceFault) })
	c.Register(func() BinaryEncodable { return new(TestStackRequest) })
	c.Register(func() BinaryEncodable { return new(TestStackResponse) })
	return c
}

// Register adds a message type to the codec.
func (c *BinaryCodec) Register(factory func() BinaryEncodable) {
	c.Lock()
	c.types[factory().BinaryEncodingID()] = factory
	c.Unlock()
}

// Encode writes the encoding id and body of msg.
func (c *BinaryCodec) Encode(w io.Writer, msg interface{}) error {
	m, ok := msg.(BinaryEncodable)
	if !ok {
		return BadEncodingError
	}
	enc := NewBinaryEncoder(w)
	if err := enc.WriteNodeID(m.BinaryEncodingID()); err != nil {
		return err
	}
	return m.EncodeBinary(enc)
}

// Decode reads the encoding id and body of a message. Unknown ids return
// BadServiceUnsupported.
func (c *BinaryCodec) Decode(r io.Reader) (interface{}, error) {
	dec := NewBinaryDecoder(r)
	var id NodeID
	if err := dec.ReadNodeID(&id); err != nil {
		return nil, err
	}
	c.RLock()
	factory, ok := c.types[id]
	c.RUnlock()
	if !ok {
		return nil, BadServiceUnsupported
	}
	m := factory()
	if err := m.DecodeBinary(dec); err != nil {
		return nil, err
	}
	return m, nil
}
