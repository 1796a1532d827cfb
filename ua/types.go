// Copyright 2021 Converter Systems LLC. All rights reserved.

package ua

import "fmt"

// ByteString is a sequence of octets.
type ByteString string

// NodeID identifies a node. Only the numeric form is used by the secure channel services.
type NodeID struct {
	NamespaceIndex uint16
	ID             uint32
}

// NewNodeIDNumeric makes a NodeID of numeric type.
func NewNodeIDNumeric(ns uint16, id uint32) NodeID {
	return NodeID{NamespaceIndex: ns, ID: id}
}

// String returns a string representation, e.g. "ns=1;i=446"
func (n NodeID) String() string {
	if n.NamespaceIndex == 0 {
		return fmt.Sprintf("i=%d", n.ID)
	}
	return fmt.Sprintf("ns=%d;i=%d", n.NamespaceIndex, n.ID)
}

// ExtensionObject carries an encoded structure with its type id.
type ExtensionObject struct {
	TypeID NodeID
	Body   ByteString
}

// DiagnosticInfo holds additional information about a failed operation.
// Negative indexes are absent.
type DiagnosticInfo struct {
	SymbolicID          int32
	NamespaceURI        int32
	Locale              int32
	LocalizedText       int32
	AdditionalInfo      string
	InnerStatusCode     StatusCode
	InnerDiagnosticInfo *DiagnosticInfo
}

// NewDiagnosticInfo returns a DiagnosticInfo with every index absent.
func NewDiagnosticInfo() *DiagnosticInfo {
	return &DiagnosticInfo{SymbolicID: -1, NamespaceURI: -1, Locale: -1, LocalizedText: -1}
}

// VariantTypes carried by the scalar Variant.
const (
	VariantTypeNull       byte = 0
	VariantTypeBoolean    byte = 1
	VariantTypeInt32      byte = 6
	VariantTypeUInt32     byte = 7
	VariantTypeString     byte = 12
	VariantTypeByteString byte = 15
)

// Variant holds a scalar value of type bool, int32, uint32, string or ByteString.
type Variant struct {
	Value interface{}
}

// NewVariant returns a Variant holding the value.
func NewVariant(value interface{}) *Variant {
	return &Variant{Value: value}
}
