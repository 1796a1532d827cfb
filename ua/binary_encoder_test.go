// Copyright 2021 Converter Systems LLC. All rights reserved.

package ua_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/awcullen/uasc/ua"
	"gotest.tools/assert"
)

func TestInt32(t *testing.T) {
	cases := []struct {
		in    int32
		bytes []byte
	}{
		{
			1_000_000_000,
			[]byte{
				0x00, 0xCA, 0x9A, 0x3B,
			},
		},
		{
			-1,
			[]byte{
				0xFF, 0xFF, 0xFF, 0xFF,
			},
		},
	}
	for _, c := range cases {
		buf := &bytes.Buffer{}
		enc := ua.NewBinaryEncoder(buf)
		if err := enc.WriteInt32(c.in); err != nil {
			t.Fatal(err)
		}
		assert.DeepEqual(t, buf.Bytes(), c.bytes)

		dec := ua.NewBinaryDecoder(buf)
		var out int32
		if err := dec.ReadInt32(&out); err != nil {
			t.Fatal(err)
		}
		assert.Equal(t, out, c.in)
	}
}

func TestString(t *testing.T) {
	cases := []struct {
		in    string
		bytes []byte
	}{
		{
			"bar",
			[]byte{
				0x03, 0x00, 0x00, 0x00, // len
				0x62, 0x61, 0x72, // char
			},
		},
		{
			"",
			[]byte{
				0xFF, 0xFF, 0xFF, 0xFF, // null
			},
		},
	}
	for _, c := range cases {
		buf := &bytes.Buffer{}
		enc := ua.NewBinaryEncoder(buf)
		if err := enc.WriteString(c.in); err != nil {
			t.Fatal(err)
		}
		assert.DeepEqual(t, buf.Bytes(), c.bytes)

		dec := ua.NewBinaryDecoder(buf)
		var out string
		if err := dec.ReadString(&out); err != nil {
			t.Fatal(err)
		}
		assert.Equal(t, out, c.in)
	}
}

func TestTime(t *testing.T) {
	cases := []struct {
		in    time.Time
		bytes []byte
	}{
		{
			time.Date(1601, time.January, 1, 0, 0, 0, 0, time.UTC),
			[]byte{
				0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
			},
		},
		{
			time.Date(1601, time.January, 1, 0, 0, 0, 100, time.UTC),
			[]byte{
				0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
			},
		},
	}
	for _, c := range cases {
		buf := &bytes.Buffer{}
		enc := ua.NewBinaryEncoder(buf)
		if err := enc.WriteDateTime(c.in); err != nil {
			t.Fatal(err)
		}
		assert.DeepEqual(t, buf.Bytes(), c.bytes)

		dec := ua.NewBinaryDecoder(buf)
		var out time.Time
		if err := dec.ReadDateTime(&out); err != nil {
			t.Fatal(err)
		}
		assert.Assert(t, out.Equal(c.in))
	}
}

func TestNodeID(t *testing.T) {
	cases := []struct {
		in    ua.NodeID
		bytes []byte
	}{
		{
			ua.NewNodeIDNumeric(0, 255),
			[]byte{
				// mask
				0x00,
				// id
				0xff,
			},
		},
		{
			ua.NewNodeIDNumeric(2, 65535),
			[]byte{
				// mask
				0x01,
				// namespace
				0x02,
				// id
				0xff, 0xff,
			},
		},
		{
			ua.NewNodeIDNumeric(10, 4294967295),
			[]byte{
				// mask
				0x02,
				// namespace
				0x0a, 0x00,
				// id
				0xff, 0xff, 0xff, 0xff,
			},
		},
	}
	for _, c := range cases {
		buf := &bytes.Buffer{}
		enc := ua.NewBinaryEncoder(buf)
		if err := enc.WriteNodeID(c.in); err != nil {
			t.Fatal(err)
		}
		assert.DeepEqual(t, buf.Bytes(), c.bytes)

		dec := ua.NewBinaryDecoder(buf)
		var out ua.NodeID
		if err := dec.ReadNodeID(&out); err != nil {
			t.Fatal(err)
		}
		assert.DeepEqual(t, out, c.in)
	}
}

func TestNodeIDStringRejected(t *testing.T) {
	dec := ua.NewBinaryDecoder(bytes.NewReader([]byte{0x03, 0x02, 0x00, 0x01, 0x00, 0x00, 0x00, 0x62}))
	var out ua.NodeID
	assert.Equal(t, dec.ReadNodeID(&out), ua.BadDecodingError)
}

func TestVariant(t *testing.T) {
	cases := []struct {
		in    *ua.Variant
		bytes []byte
	}{
		{
			nil,
			[]byte{0x00},
		},
		{
			ua.NewVariant(ua.ByteString("\x01\x02")),
			[]byte{
				0x0F,                   // type
				0x02, 0x00, 0x00, 0x00, // len
				0x01, 0x02,
			},
		},
		{
			ua.NewVariant(int32(7)),
			[]byte{
				0x06,
				0x07, 0x00, 0x00, 0x00,
			},
		},
	}
	for _, c := range cases {
		buf := &bytes.Buffer{}
		enc := ua.NewBinaryEncoder(buf)
		if err := enc.WriteVariant(c.in); err != nil {
			t.Fatal(err)
		}
		assert.DeepEqual(t, buf.Bytes(), c.bytes)

		dec := ua.NewBinaryDecoder(buf)
		var out *ua.Variant
		if err := dec.ReadVariant(&out); err != nil {
			t.Fatal(err)
		}
		assert.DeepEqual(t, out, c.in)
	}
}

func TestDiagnosticInfo(t *testing.T) {
	in := ua.NewDiagnosticInfo()
	in.SymbolicID = 3
	in.AdditionalInfo = "detail"
	in.InnerStatusCode = ua.BadTimeout
	in.InnerDiagnosticInfo = ua.NewDiagnosticInfo()
	in.InnerDiagnosticInfo.Locale = 1

	buf := &bytes.Buffer{}
	enc := ua.NewBinaryEncoder(buf)
	if err := enc.WriteDiagnosticInfo(in); err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, buf.Bytes()[0], byte(0x01|0x08|0x10|0x20))

	dec := ua.NewBinaryDecoder(buf)
	var out *ua.DiagnosticInfo
	if err := dec.ReadDiagnosticInfo(&out); err != nil {
		t.Fatal(err)
	}
	assert.DeepEqual(t, out, in)
}

func TestCodecOpenSecureChannelRequest(t *testing.T) {
	in := &ua.OpenSecureChannelRequest{
		RequestHeader: ua.RequestHeader{
			Timestamp:     time.Date(2021, time.March, 4, 5, 6, 7, 800, time.UTC),
			RequestHandle: 42,
			TimeoutHint:   15000,
		},
		ClientProtocolVersion: ua.ProtocolVersion,
		RequestType:           ua.SecurityTokenRequestTypeRenew,
		SecurityMode:          ua.MessageSecurityModeSignAndEncrypt,
		ClientNonce:           ua.ByteString("0123456789abcdef0123456789abcdef"),
		RequestedLifetime:     60000,
	}
	codec := ua.NewBinaryCodec()
	buf := &bytes.Buffer{}
	if err := codec.Encode(buf, in); err != nil {
		t.Fatal(err)
	}
	// two byte encoding of i=446 does not fit, four byte form
	assert.DeepEqual(t, buf.Bytes()[:4], []byte{0x01, 0x00, 0xBE, 0x01})

	out, err := codec.Decode(buf)
	if err != nil {
		t.Fatal(err)
	}
	assert.DeepEqual(t, out, in)
}

func TestCodecServiceFault(t *testing.T) {
	in := &ua.ServiceFault{
		ResponseHeader: ua.ResponseHeader{
			Timestamp:     time.Date(2021, time.March, 4, 5, 6, 7, 0, time.UTC),
			RequestHandle: 7,
			ServiceResult: ua.BadServiceUnsupported,
			StringTable:   []string{"a", "b"},
		},
	}
	codec := ua.NewBinaryCodec()
	buf := &bytes.Buffer{}
	if err := codec.Encode(buf, in); err != nil {
		t.Fatal(err)
	}
	out, err := codec.Decode(buf)
	if err != nil {
		t.Fatal(err)
	}
	assert.DeepEqual(t, out, in)
}

func TestCodecUnknownType(t *testing.T) {
	codec := ua.NewBinaryCodec()
	_, err := codec.Decode(bytes.NewReader([]byte{0x01, 0x00, 0x01, 0x02}))
	assert.Equal(t, err, ua.BadServiceUnsupported)

	err = codec.Encode(&bytes.Buffer{}, struct{}{})
	assert.Equal(t, err, ua.BadEncodingError)
}

func TestCodecTruncated(t *testing.T) {
	codec := ua.NewBinaryCodec()
	buf := &bytes.Buffer{}
	if err := codec.Encode(buf, &ua.TestStackRequest{Input: ua.NewVariant("hello")}); err != nil {
		t.Fatal(err)
	}
	_, err := codec.Decode(bytes.NewReader(buf.Bytes()[:buf.Len()-2]))
	assert.Equal(t, err, ua.BadDecodingError)
}
