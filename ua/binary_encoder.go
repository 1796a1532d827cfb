// Copyright 2021 Converter Systems LLC. All rights reserved.

package ua

import (
	"encoding/binary"
	"io"
	"time"
)

// BinaryEncoder encodes the UA Binary protocol.
type BinaryEncoder struct {
	w  io.Writer
	bs [8]byte
}

// NewBinaryEncoder returns a new encoder that writes to an io.Writer.
func NewBinaryEncoder(w io.Writer) *BinaryEncoder {
	return &BinaryEncoder{w: w}
}

func (enc *BinaryEncoder) write(b []byte) error {
	if _, err := enc.w.Write(b); err != nil {
		return BadEncodingError
	}
	return nil
}

// WriteBoolean writes a boolean.
func (enc *BinaryEncoder) WriteBoolean(value bool) error {
	enc.bs[0] = 0
	if value {
		enc.bs[0] = 1
	}
	return enc.write(enc.bs[:1])
}

// WriteByte writes a byte.
func (enc *BinaryEncoder) WriteByte(value byte) error {
	enc.bs[0] = value
	return enc.write(enc.bs[:1])
}

// WriteUInt16 writes a uint16.
func (enc *BinaryEncoder) WriteUInt16(value uint16) error {
	binary.LittleEndian.PutUint16(enc.bs[:2], value)
	return enc.write(enc.bs[:2])
}

// WriteInt32 writes an int32.
func (enc *BinaryEncoder) WriteInt32(value int32) error {
	binary.LittleEndian.PutUint32(enc.bs[:4], uint32(value))
	return enc.write(enc.bs[:4])
}

// WriteUInt32 writes an uint32.
func (enc *BinaryEncoder) WriteUInt32(value uint32) error {
	binary.LittleEndian.PutUint32(enc.bs[:4], value)
	return enc.write(enc.bs[:4])
}

// WriteInt64 writes an int64.
func (enc *BinaryEncoder) WriteInt64(value int64) error {
	binary.LittleEndian.PutUint64(enc.bs[:8], uint64(value))
	return enc.write(enc.bs[:8])
}

// WriteString writes a string. The empty string is written as null.
func (enc *BinaryEncoder) WriteString(value string) error {
	if len(value) == 0 {
		return enc.WriteInt32(-1)
	}
	if err := enc.WriteInt32(int32(len(value))); err != nil {
		return err
	}
	if _, err := io.WriteString(enc.w, value); err != nil {
		return BadEncodingError
	}
	return nil
}

// WriteByteString writes a ByteString. The empty ByteString is written as null.
func (enc *BinaryEncoder) WriteByteString(value ByteString) error {
	return enc.WriteString(string(value))
}

// WriteByteArray writes a slice of bytes as a ByteString.
func (enc *BinaryEncoder) WriteByteArray(value []byte) error {
	if value == nil {
		return enc.WriteInt32(-1)
	}
	if err := enc.WriteInt32(int32(len(value))); err != nil {
		return err
	}
	return enc.write(value)
}

// WriteStringArray writes a slice of strings.
func (enc *BinaryEncoder) WriteStringArray(value []string) error {
	if value == nil {
		return enc.WriteInt32(-1)
	}
	if err := enc.WriteInt32(int32(len(value))); err != nil {
		return err
	}
	for _, s := range value {
		if err := enc.WriteString(s); err != nil {
			return err
		}
	}
	return nil
}

// WriteDateTime writes a date/time.
func (enc *BinaryEncoder) WriteDateTime(value time.Time) error {
	// ticks are 100 nanosecond intervals since January 1, 1601
	ticks := (value.Unix()+11644473600)*10000000 + int64(value.Nanosecond())/100
	if ticks < 0 {
		ticks = 0
	}
	if ticks >= 2650467743990000000 {
		ticks = 0x7FFFFFFFFFFFFFFF
	}
	return enc.WriteInt64(ticks)
}

// WriteStatusCode writes a StatusCode.
func (enc *BinaryEncoder) WriteStatusCode(value StatusCode) error {
	return enc.WriteUInt32(uint32(value))
}

// WriteNodeID writes a numeric NodeID using the most compact form.
func (enc *BinaryEncoder) WriteNodeID(value NodeID) error {
	switch {
	case value.ID <= 255 && value.NamespaceIndex == 0:
		if err := enc.WriteByte(0x00); err != nil {
			return err
		}
		return enc.WriteByte(byte(value.ID))
	case value.ID <= 65535 && value.NamespaceIndex <= 255:
		if err := enc.WriteByte(0x01); err != nil {
			return err
		}
		if err := enc.WriteByte(byte(value.NamespaceIndex)); err != nil {
			return err
		}
		return enc.WriteUInt16(uint16(value.ID))
	default:
		if err := enc.WriteByte(0x02); err != nil {
			return err
		}
		if err := enc.WriteUInt16(value.NamespaceIndex); err != nil {
			return err
		}
		return enc.WriteUInt32(value.ID)
	}
}

// WriteExtensionObject writes an ExtensionObject. A nil value is written as the null object.
func (enc *BinaryEncoder) WriteExtensionObject(value *ExtensionObject) error {
	if value == nil {
		if err := enc.WriteNodeID(NodeID{}); err != nil {
			return err
		}
		return enc.WriteByte(0x00)
	}
	if err := enc.WriteNodeID(value.TypeID); err != nil {
		return err
	}
	if err := enc.WriteByte(0x01); err != nil {
		return err
	}
	return enc.WriteByteString(value.Body)
}

// WriteDiagnosticInfo writes a DiagnosticInfo. A nil value is written as an empty mask.
func (enc *BinaryEncoder) WriteDiagnosticInfo(value *DiagnosticInfo) error {
	if value == nil {
		return enc.WriteByte(0x00)
	}
	var mask byte
	if value.SymbolicID >= 0 {
		mask |= 0x01
	}
	if value.NamespaceURI >= 0 {
		mask |= 0x02
	}
	if value.LocalizedText >= 0 {
		mask |= 0x04
	}
	if value.AdditionalInfo != "" {
		mask |= 0x08
	}
	if value.InnerStatusCode != Good {
		mask |= 0x10
	}
	if value.InnerDiagnosticInfo != nil {
		mask |= 0x20
	}
	if value.Locale >= 0 {
		mask |= 0x40
	}
	if err := enc.WriteByte(mask); err != nil {
		return err
	}
	if mask&0x01 != 0 {
		if err := enc.WriteInt32(value.SymbolicID); err != nil {
			return err
		}
	}
	if mask&0x02 != 0 {
		if err := enc.WriteInt32(value.NamespaceURI); err != nil {
			return err
		}
	}
	if mask&0x40 != 0 {
		if err := enc.WriteInt32(value.Locale); err != nil {
			return err
		}
	}
	if mask&0x04 != 0 {
		if err := enc.WriteInt32(value.LocalizedText); err != nil {
			return err
		}
	}
	if mask&0x08 != 0 {
		if err := enc.WriteString(value.AdditionalInfo); err != nil {
			return err
		}
	}
	if mask&0x10 != 0 {
		if err := enc.WriteStatusCode(value.InnerStatusCode); err != nil {
			return err
		}
	}
	if mask&0x20 != 0 {
		return enc.WriteDiagnosticInfo(value.InnerDiagnosticInfo)
	}
	return nil
}

// WriteVariant writes a Variant. A nil value is written as the null variant.
func (enc *BinaryEncoder) WriteVariant(value *Variant) error {
	if value == nil || value.Value == nil {
		return enc.WriteByte(VariantTypeNull)
	}
	switch v := value.Value.(type) {
	case bool:
		if err := enc.WriteByte(VariantTypeBoolean); err != nil {
			return err
		}
		return enc.WriteBoolean(v)
	case int32:
		if err := enc.WriteByte(VariantTypeInt32); err != nil {
			return err
		}
		return enc.WriteInt32(v)
	case uint32:
		if err := enc.WriteByte(VariantTypeUInt32); err != nil {
			return err
		}
		return enc.WriteUInt32(v)
	case string:
		if err := enc.WriteByte(VariantTypeString); err != nil {
			return err
		}
		return enc.WriteString(v)
	case ByteString:
		if err := enc.WriteByte(VariantTypeByteString); err != nil {
			return err
		}
		return enc.WriteByteString(v)
	default:
		return BadEncodingError
	}
}
