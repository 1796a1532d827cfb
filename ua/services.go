// Copyright 2021 Converter Systems LLC. All rights reserved.

package ua

import (
	"time"
)

// Binary encoding ids of the services carried by the secure channel.
var (
	ObjectIDServiceFaultEncodingDefaultBinary               = NewNodeIDNumeric(0, 397)
	ObjectIDTestStackRequestEncodingDefaultBinary           = NewNodeIDNumeric(0, 410)
	ObjectIDTestStackResponseEncodingDefaultBinary          = NewNodeIDNumeric(0, 413)
	ObjectIDOpenSecureChannelRequestEncodingDefaultBinary   = NewNodeIDNumeric(0, 446)
	ObjectIDOpenSecureChannelResponseEncodingDefaultBinary  = NewNodeIDNumeric(0, 449)
	ObjectIDCloseSecureChannelRequestEncodingDefaultBinary  = NewNodeIDNumeric(0, 452)
	ObjectIDCloseSecureChannelResponseEncodingDefaultBinary = NewNodeIDNumeric(0, 455)
)

// ServiceRequest is a request message.
type ServiceRequest interface {
	Header() *RequestHeader
}

// ServiceResponse is a response message.
type ServiceResponse interface {
	Header() *ResponseHeader
}

// RequestHeader is the common header of every request.
type RequestHeader struct {
	AuthenticationToken NodeID
	Timestamp           time.Time
	RequestHandle       uint32
	ReturnDiagnostics   uint32
	AuditEntryID        string
	TimeoutHint         uint32
	AdditionalHeader    *ExtensionObject
}

func (h *RequestHeader) encode(enc *BinaryEncoder) error {
	if err := enc.WriteNodeID(h.AuthenticationToken); err != nil {
		return err
	}
	if err := enc.WriteDateTime(h.Timestamp); err != nil {
		return err
	}
	if err := enc.WriteUInt32(h.RequestHandle); err != nil {
		return err
	}
	if err := enc.WriteUInt32(h.ReturnDiagnostics); err != nil {
		return err
	}
	if err := enc.WriteString(h.AuditEntryID); err != nil {
		return err
	}
	if err := enc.WriteUInt32(h.TimeoutHint); err != nil {
		return err
	}
	return enc.WriteExtensionObject(h.AdditionalHeader)
}

func (h *RequestHeader) decode(dec *BinaryDecoder) error {
	if err := dec.ReadNodeID(&h.AuthenticationToken); err != nil {
		return err
	}
	if err := dec.ReadDateTime(&h.Timestamp); err != nil {
		return err
	}
	if err := dec.ReadUInt32(&h.RequestHandle); err != nil {
		return err
	}
	if err := dec.ReadUInt32(&h.ReturnDiagnostics); err != nil {
		return err
	}
	if err := dec.ReadString(&h.AuditEntryID); err != nil {
		return err
	}
	if err := dec.ReadUInt32(&h.TimeoutHint); err != nil {
		return err
	}
	return dec.ReadExtensionObject(&h.AdditionalHeader)
}

// ResponseHeader is the common header of every response.
type ResponseHeader struct {
	Timestamp          time.Time
	RequestHandle      uint32
	ServiceResult      StatusCode
	ServiceDiagnostics *DiagnosticInfo
	StringTable        []string
	AdditionalHeader   *ExtensionObject
}

func (h *ResponseHeader) encode(enc *BinaryEncoder) error {
	if err := enc.WriteDateTime(h.Timestamp); err != nil {
		return err
	}
	if err := enc.WriteUInt32(h.RequestHandle); err != nil {
		return err
	}
	if err := enc.WriteStatusCode(h.ServiceResult); err != nil {
		return err
	}
	if err := enc.WriteDiagnosticInfo(h.ServiceDiagnostics); err != nil {
		return err
	}
	if err := enc.WriteStringArray(h.StringTable); err != nil {
		return err
	}
	return enc.WriteExtensionObject(h.AdditionalHeader)
}

func (h *ResponseHeader) decode(dec *BinaryDecoder) error {
	if err := dec.ReadDateTime(&h.Timestamp); err != nil {
		return err
	}
	if err := dec.ReadUInt32(&h.RequestHandle); err != nil {
		return err
	}
	if err := dec.ReadStatusCode(&h.ServiceResult); err != nil {
		return err
	}
	if err := dec.ReadDiagnosticInfo(&h.ServiceDiagnostics); err != nil {
		return err
	}
	if err := dec.ReadStringArray(&h.StringTable); err != nil {
		return err
	}
	return dec.ReadExtensionObject(&h.AdditionalHeader)
}

// ChannelSecurityToken describes a token issued by the server.
type ChannelSecurityToken struct {
	ChannelID       uint32
	TokenID         uint32
	CreatedAt       time.Time
	RevisedLifetime uint32
}

// OpenSecureChannelRequest issues or renews a security token.
type OpenSecureChannelRequest struct {
	RequestHeader
	ClientProtocolVersion uint32
	RequestType           SecurityTokenRequestType
	SecurityMode          MessageSecurityMode
	ClientNonce           ByteString
	RequestedLifetime     uint32
}

// Header returns the request header.
func (r *OpenSecureChannelRequest) Header() *RequestHeader { return &r.RequestHeader }

// BinaryEncodingID returns the id written before the body.
func (r *OpenSecureChannelRequest) BinaryEncodingID() NodeID {
	return ObjectIDOpenSecureChannelRequestEncodingDefaultBinary
}

// EncodeBinary writes the body.
func (r *OpenSecureChannelRequest) EncodeBinary(enc *BinaryEncoder) error {
	if err := r.RequestHeader.encode(enc); err != nil {
		return err
	}
	if err := enc.WriteUInt32(r.ClientProtocolVersion); err != nil {
		return err
	}
	if err := enc.WriteInt32(int32(r.RequestType)); err != nil {
		return err
	}
	if err := enc.WriteInt32(int32(r.SecurityMode)); err != nil {
		return err
	}
	if err := enc.WriteByteString(r.ClientNonce); err != nil {
		return err
	}
	return enc.WriteUInt32(r.RequestedLifetime)
}

// DecodeBinary reads the body.
func (r *OpenSecureChannelRequest) DecodeBinary(dec *BinaryDecoder) error {
	if err := r.RequestHeader.decode(dec); err != nil {
		return err
	}
	if err := dec.ReadUInt32(&r.ClientProtocolVersion); err != nil {
		return err
	}
	var requestType, mode int32
	if err := dec.ReadInt32(&requestType); err != nil {
		return err
	}
	r.RequestType = SecurityTokenRequestType(requestType)
	if err := dec.ReadInt32(&mode); err != nil {
		return err
	}
	r.SecurityMode = MessageSecurityMode(mode)
	if err := dec.ReadByteString(&r.ClientNonce); err != nil {
		return err
	}
	return dec.ReadUInt32(&r.RequestedLifetime)
}

// OpenSecureChannelResponse returns the issued or renewed token.
type OpenSecureChannelResponse struct {
	ResponseHeader
	ServerProtocolVersion uint32
	SecurityToken         ChannelSecurityToken
	ServerNonce           ByteString
}

// Header returns the response header.
func (r *OpenSecureChannelResponse) Header() *ResponseHeader { return &r.ResponseHeader }

// BinaryEncodingID returns the id written before the body.
func (r *OpenSecureChannelResponse) BinaryEncodingID() NodeID {
	return ObjectIDOpenSecureChannelResponseEncodingDefaultBinary
}

// EncodeBinary writes the body.
func (r *OpenSecureChannelResponse) EncodeBinary(enc *BinaryEncoder) error {
	if err := r.ResponseHeader.encode(enc); err != nil {
		return err
	}
	if err := enc.WriteUInt32(r.ServerProtocolVersion); err != nil {
		return err
	}
	if err := enc.WriteUInt32(r.SecurityToken.ChannelID); err != nil {
		return err
	}
	if err := enc.WriteUInt32(r.SecurityToken.TokenID); err != nil {
		return err
	}
	if err := enc.WriteDateTime(r.SecurityToken.CreatedAt); err != nil {
		return err
	}
	if err := enc.WriteUInt32(r.SecurityToken.RevisedLifetime); err != nil {
		return err
	}
	return enc.WriteByteString(r.ServerNonce)
}

// DecodeBinary reads the body.
func (r *OpenSecureChannelResponse) DecodeBinary(dec *BinaryDecoder) error {
	if err := r.ResponseHeader.decode(dec); err != nil {
		return err
	}
	if err := dec.ReadUInt32(&r.ServerProtocolVersion); err != nil {
		return err
	}
	if err := dec.ReadUInt32(&r.SecurityToken.ChannelID); err != nil {
		return err
	}
	if err := dec.ReadUInt32(&r.SecurityToken.TokenID); err != nil {
		return err
	}
	if err := dec.ReadDateTime(&r.SecurityToken.CreatedAt); err != nil {
		return err
	}
	if err := dec.ReadUInt32(&r.SecurityToken.RevisedLifetime); err != nil {
		return err
	}
	return dec.ReadByteString(&r.ServerNonce)
}

// CloseSecureChannelRequest closes the channel. The server sends no response.
type CloseSecureChannelRequest struct {
	RequestHeader
}

// Header returns the request header.
func (r *CloseSecureChannelRequest) Header() *RequestHeader { return &r.RequestHeader }

// BinaryEncodingID returns the id written before the body.
func (r *CloseSecureChannelRequest) BinaryEncodingID() NodeID {
	return ObjectIDCloseSecureChannelRequestEncodingDefaultBinary
}

// EncodeBinary writes the body.
func (r *CloseSecureChannelRequest) EncodeBinary(enc *BinaryEncoder) error {
	return r.RequestHeader.encode(enc)
}

// DecodeBinary reads the body.
func (r *CloseSecureChannelRequest) DecodeBinary(dec *BinaryDecoder) error {
	return r.RequestHeader.decode(dec)
}

// CloseSecureChannelResponse is defined for completeness.
type CloseSecureChannelResponse struct {
	ResponseHeader
}

// Header returns the response header.
func (r *CloseSecureChannelResponse) Header() *ResponseHeader { return &r.ResponseHeader }

// BinaryEncodingID returns the id written before the body.
func (r *CloseSecureChannelResponse) BinaryEncodingID() NodeID {
	return ObjectIDCloseSecureChannelResponseEncodingDefaultBinary
}

// EncodeBinary writes the body.
func (r *CloseSecureChannelResponse) EncodeBinary(enc *BinaryEncoder) error {
	return r.ResponseHeader.encode(enc)
}

// DecodeBinary reads the body.
func (r *CloseSecureChannelResponse) DecodeBinary(dec *BinaryDecoder) error {
	return r.ResponseHeader.decode(dec)
}

// ServiceFault is returned in place of a response when a service fails.
type ServiceFault struct {
	ResponseHeader
}

// Header returns the response header.
func (r *ServiceFault) Header() *ResponseHeader { return &r.ResponseHeader }

// BinaryEncodingID returns the id written before the body.
func (r *ServiceFault) BinaryEncodingID() NodeID {
	return ObjectIDServiceFaultEncodingDefaultBinary
}

// EncodeBinary writes the body.
func (r *ServiceFault) EncodeBinary(enc *BinaryEncoder) error {
	return r.ResponseHeader.encode(enc)
}

// DecodeBinary reads the body.
func (r *ServiceFault) DecodeBinary(dec *BinaryDecoder) error {
	return r.ResponseHeader.decode(dec)
}

// TestStackRequest asks the server to echo the input.
type TestStackRequest struct {
	RequestHeader
	TestID    uint32
	Iteration int32
	Input     *Variant
}

// Header returns the request header.
func (r *TestStackRequest) Header() *RequestHeader { return &r.RequestHeader }

// BinaryEncodingID returns the id written before the body.
func (r *TestStackRequest) BinaryEncodingID() NodeID {
	return ObjectIDTestStackRequestEncodingDefaultBinary
}

// EncodeBinary writes the body.
func (r *TestStackRequest) EncodeBinary(enc *BinaryEncoder) error {
	if err := r.RequestHeader.encode(enc); err != nil {
		return err
	}
	if err := enc.WriteUInt32(r.TestID); err != nil {
		return err
	}
	if err := enc.WriteInt32(r.Iteration); err != nil {
		return err
	}
	return enc.WriteVariant(r.Input)
}

// DecodeBinary reads the body.
func (r *TestStackRequest) DecodeBinary(dec *BinaryDecoder) error {
	if err := r.RequestHeader.decode(dec); err != nil {
		return err
	}
	if err := dec.ReadUInt32(&r.TestID); err != nil {
		return err
	}
	if err := dec.ReadInt32(&r.Iteration); err != nil {
		return err
	}
	return dec.ReadVariant(&r.Input)
}

// TestStackResponse returns the echoed input.
type TestStackResponse struct {
	ResponseHeader
	Output *Variant
}

// Header returns the response header.
func (r *TestStackResponse) Header() *ResponseHeader { return &r.ResponseHeader }

// BinaryEncodingID returns the id written before the body.
func (r *TestStackResponse) BinaryEncodingID() NodeID {
	return ObjectIDTestStackResponseEncodingDefaultBinary
}

// EncodeBinary writes the body.
func (r *TestStackResponse) EncodeBinary(enc *BinaryEncoder) error {
	if err := r.ResponseHeader.encode(enc); err != nil {
		return err
	}
	return enc.WriteVariant(r.Output)
}

// DecodeBinary reads the body.
func (r *TestStackResponse) DecodeBinary(dec *BinaryDecoder) error {
	if err := r.ResponseHeader.decode(dec); err != nil {
		return err
	}
	return dec.ReadVariant(&r.Output)
}
