// Copyright 2021 Converter Systems LLC. All rights reserved.

package ua

import (
	"encoding/binary"
	"io"
	"time"
	"unsafe"
)

// maxArrayLength guards allocations driven by lengths read from the wire.
const maxArrayLength = int32(DefaultMaxMessageSize)

// BinaryDecoder decodes the UA binary protocol.
type BinaryDecoder struct {
	r  io.Reader
	bs [8]byte
}

// NewBinaryDecoder returns a new decoder that reads from an io.Reader.
func NewBinaryDecoder(r io.Reader) *BinaryDecoder {
	return &BinaryDecoder{r: r}
}

func (dec *BinaryDecoder) read(n int) error {
	if _, err := io.ReadFull(dec.r, dec.bs[:n]); err != nil {
		return BadDecodingError
	}
	return nil
}

// ReadBoolean reads a boolean.
func (dec *BinaryDecoder) ReadBoolean(value *bool) error {
	if err := dec.read(1); err != nil {
		return err
	}
	*value = dec.bs[0] != 0
	return nil
}

// ReadByte reads a byte.
func (dec *BinaryDecoder) ReadByte(value *byte) error {
	if err := dec.read(1); err != nil {
		return err
	}
	*value = dec.bs[0]
	return nil
}

// ReadUInt16 reads a uint16.
func (dec *BinaryDecoder) ReadUInt16(value *uint16) error {
	if err := dec.read(2); err != nil {
		return err
	}
	*value = binary.LittleEndian.Uint16(dec.bs[:2])
	return nil
}

// ReadInt32 reads an int32.
func (dec *BinaryDecoder) ReadInt32(value *int32) error {
	if err := dec.read(4); err != nil {
		return err
	}
	*value = int32(binary.LittleEndian.Uint32(dec.bs[:4]))
	return nil
}

// ReadUInt32 reads an uint32.
func (dec *BinaryDecoder) ReadUInt32(value *uint32) error {
	if err := dec.read(4); err != nil {
		return err
	}
	*value = binary.LittleEndian.Uint32(dec.bs[:4])
	return nil
}

// ReadInt64 reads an int64.
func (dec *BinaryDecoder) ReadInt64(value *int64) error {
	if err := dec.read(8); err != nil {
		return err
	}
	*value = int64(binary.LittleEndian.Uint64(dec.bs[:8]))
	return nil
}

func (dec *BinaryDecoder) readBytes() ([]byte, error) {
	var num int32
	if err := dec.ReadInt32(&num); err != nil {
		return nil, err
	}
	if num < 0 {
		return nil, nil
	}
	if num > maxArrayLength {
		return nil, BadEncodingLimitsExceeded
	}
	bs := make([]byte, num)
	if _, err := io.ReadFull(dec.r, bs); err != nil {
		return nil, BadDecodingError
	}
	return bs, nil
}

// ReadString reads a string.
func (dec *BinaryDecoder) ReadString(value *string) error {
	bs, err := dec.readBytes()
	if err != nil {
		return err
	}
	if len(bs) == 0 {
		*value = ""
		return nil
	}
	// eliminate alloc of a second byte array and copying from one byte array to another.
	*value = *(*string)(unsafe.Pointer(&bs))
	return nil
}

// ReadByteString reads a ByteString.
func (dec *BinaryDecoder) ReadByteString(value *ByteString) error {
	var s string
	if err := dec.ReadString(&s); err != nil {
		return err
	}
	*value = ByteString(s)
	return nil
}

// ReadByteArray reads a ByteString into a slice of bytes. Null is returned as nil.
func (dec *BinaryDecoder) ReadByteArray(value *[]byte) error {
	bs, err := dec.readBytes()
	if err != nil {
		return err
	}
	*value = bs
	return nil
}

// ReadStringArray reads a slice of strings.
func (dec *BinaryDecoder) ReadStringArray(value *[]string) error {
	var num int32
	if err := dec.ReadInt32(&num); err != nil {
		return err
	}
	if num < 0 {
		*value = nil
		return nil
	}
	if num > maxArrayLength/4 {
		return BadEncodingLimitsExceeded
	}
	*value = make([]string, num)
	for i := range *value {
		if err := dec.ReadString(&(*value)[i]); err != nil {
			return err
		}
	}
	return nil
}

// ReadDateTime reads a date/time.
func (dec *BinaryDecoder) ReadDateTime(value *time.Time) error {
	// ticks are 100 nanosecond intervals since January 1, 1601
	var ticks int64
	if err := dec.ReadInt64(&ticks); err != nil {
		return err
	}
	if ticks < 0 {
		ticks = 0
	}
	if ticks == 0x7FFFFFFFFFFFFFFF {
		ticks = 2650467743990000000
	}
	*value = time.Unix(ticks/10000000-11644473600, (ticks%10000000)*100).UTC()
	return nil
}

// ReadStatusCode reads a StatusCode.
func (dec *BinaryDecoder) ReadStatusCode(value *StatusCode) error {
	var u uint32
	if err := dec.ReadUInt32(&u); err != nil {
		return err
	}
	*value = StatusCode(u)
	return nil
}

// ReadNodeID reads a numeric NodeID in any of its encodings.
func (dec *BinaryDecoder) ReadNodeID(value *NodeID) error {
	var b byte
	if err := dec.ReadByte(&b); err != nil {
		return err
	}
	switch b {
	case 0x00:
		var id byte
		if err := dec.ReadByte(&id); err != nil {
			return err
		}
		*value = NewNodeIDNumeric(0, uint32(id))
		return nil

	case 0x01:
		var ns byte
		if err := dec.ReadByte(&ns); err != nil {
			return err
		}
		var id uint16
		if err := dec.ReadUInt16(&id); err != nil {
			return err
		}
		*value = NewNodeIDNumeric(uint16(ns), uint32(id))
		return nil

	case 0x02:
		var ns uint16
		if err := dec.ReadUInt16(&ns); err != nil {
			return err
		}
		var id uint32
		if err := dec.ReadUInt32(&id); err != nil {
			return err
		}
		*value = NewNodeIDNumeric(ns, id)
		return nil

	default:
		return BadDecodingError
	}
}

// ReadExtensionObject reads an ExtensionObject. The null object is returned as nil.
func (dec *BinaryDecoder) ReadExtensionObject(value **ExtensionObject) error {
	var typeID NodeID
	if err := dec.ReadNodeID(&typeID); err != nil {
		return err
	}
	var encoding byte
	if err := dec.ReadByte(&encoding); err != nil {
		return err
	}
	switch encoding {
	case 0x00:
		*value = nil
		return nil
	case 0x01, 0x02:
		var body ByteString
		if err := dec.ReadByteString(&body); err != nil {
			return err
		}
		*value = &ExtensionObject{TypeID: typeID, Body: body}
		return nil
	default:
		return BadDecodingError
	}
}

// ReadDiagnosticInfo reads a DiagnosticInfo. An empty mask is returned as nil.
func (dec *BinaryDecoder) ReadDiagnosticInfo(value **DiagnosticInfo) error {
	var mask byte
	if err := dec.ReadByte(&mask); err != nil {
		return err
	}
	if mask == 0 {
		*value = nil
		return nil
	}
	d := NewDiagnosticInfo()
	if mask&0x01 != 0 {
		if err := dec.ReadInt32(&d.SymbolicID); err != nil {
			return err
		}
	}
	if mask&0x02 != 0 {
		if err := dec.ReadInt32(&d.NamespaceURI); err != nil {
			return err
		}
	}
	if mask&0x40 != 0 {
		if err := dec.ReadInt32(&d.Locale); err != nil {
			return err
		}
	}
	if mask&0x04 != 0 {
		if err := dec.ReadInt32(&d.LocalizedText); err != nil {
			return err
		}
	}
	if mask&0x08 != 0 {
		if err := dec.ReadString(&d.AdditionalInfo); err != nil {
			return err
		}
	}
	if mask&0x10 != 0 {
		if err := dec.ReadStatusCode(&d.InnerStatusCode); err != nil {
			return err
		}
	}
	if mask&0x20 != 0 {
		if err := dec.ReadDiagnosticInfo(&d.InnerDiagnosticInfo); err != nil {
			return err
		}
	}
	*value = d
	return nil
}

// ReadVariant reads a scalar Variant. The null variant is returned as nil.
func (dec *BinaryDecoder) ReadVariant(value **Variant) error {
	var mask byte
	if err := dec.ReadByte(&mask); err != nil {
		return err
	}
	if mask&0xC0 != 0 {
		// arrays are not carried by the channel level services.
		return BadDecodingError
	}
	switch mask & 0x3F {
	case VariantTypeNull:
		*value = nil
		return nil
	case VariantTypeBoolean:
		var v bool
		if err := dec.ReadBoolean(&v); err != nil {
			return err
		}
		*value = NewVariant(v)
	case VariantTypeInt32:
		var v int32
		if err := dec.ReadInt32(&v); err != nil {
			return err
		}
		*value = NewVariant(v)
	case VariantTypeUInt32:
		var v uint32
		if err := dec.ReadUInt32(&v); err != nil {
			return err
		}
		*value = NewVariant(v)
	case VariantTypeString:
		var v string
		if err := dec.ReadString(&v); err != nil {
			return err
		}
		*value = NewVariant(v)
	case VariantTypeByteString:
		var v ByteString
		if err := dec.ReadByteString(&v); err != nil {
			return err
		}
		*value = NewVariant(v)
	default:
		return BadDecodingError
	}
	return nil
}
