// Copyright 2021 Converter Systems LLC. All rights reserved.

package uasc

import (
	"github.com/awcullen/uasc/ua"
	"github.com/pkg/errors"
)

// Kind classifies an error by how the channel reacts to it.
type Kind int

// Kinds of errors.
const (
	// KindFault is an application level failure. The channel stays open.
	KindFault Kind = iota
	// KindProtocol is a violation of the framing or sequencing rules. Fatal to the channel.
	KindProtocol
	// KindSecurity is a failed security check. Fatal to the channel.
	KindSecurity
	// KindTransport is a failure of the connection. The client may reconnect.
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindSecurity:
		return "security"
	case KindTransport:
		return "transport"
	default:
		return "fault"
	}
}

// KindOf classifies the error.
func KindOf(err error) Kind {
	if err == nil {
		return KindFault
	}
	if _, ok := err.(*ua.ServiceFaultError); ok {
		return KindFault
	}
	cause := errors.Cause(err)
	code, ok := cause.(ua.StatusCode)
	if !ok {
		// socket and io errors
		return KindTransport
	}
	switch code {
	case ua.BadCommunicationError, ua.BadConnectionClosed, ua.BadNotConnected,
		ua.BadServerNotConnected, ua.BadRequestInterrupted, ua.BadTCPServerTooBusy,
		ua.BadTCPNotEnoughResources, ua.BadResourceUnavailable:
		return KindTransport
	case ua.BadSecurityChecksFailed, ua.BadCertificateInvalid, ua.BadCertificateUntrusted,
		ua.BadCertificateTimeInvalid, ua.BadCertificateUseNotAllowed, ua.BadCertificateChainIncomplete,
		ua.BadCertificateHostNameInvalid, ua.BadSecurityPolicyRejected, ua.BadSecurityModeRejected,
		ua.BadNonceInvalid:
		return KindSecurity
	case ua.BadTCPMessageTypeInvalid, ua.BadTCPMessageTooLarge, ua.BadTCPSecureChannelUnknown,
		ua.BadTCPInternalError, ua.BadTCPEndpointURLInvalid, ua.BadSequenceNumberInvalid,
		ua.BadEncodingLimitsExceeded, ua.BadDecodingError, ua.BadEncodingError,
		ua.BadProtocolVersionUnsupported, ua.BadSecureChannelIDInvalid,
		ua.BadSecureChannelTokenUnknown, ua.BadSecureChannelClosed:
		return KindProtocol
	default:
		return KindFault
	}
}

// IsCommunicationError returns true if the request may succeed on a new connection.
func IsCommunicationError(err error) bool {
	return err != nil && KindOf(err) == KindTransport
}

// StatusCodeOf returns the StatusCode at the root of the error. Errors that
// are not a StatusCode map to BadCommunicationError.
func StatusCodeOf(err error) ua.StatusCode {
	if err == nil {
		return ua.Good
	}
	if sf, ok := err.(*ua.ServiceFaultError); ok {
		return sf.Status
	}
	if code, ok := errors.Cause(err).(ua.StatusCode); ok {
		return code
	}
	return ua.BadCommunicationError
}
