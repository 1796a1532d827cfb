// Copyright 2021 Converter Systems LLC. All rights reserved.

package ua

// StatusCode is the result of a service or operation. A StatusCode with the
// severity bit set is an error.
type StatusCode uint32

const (
	// Good - The operation completed successfully.
	Good StatusCode = 0x00000000
	// BadUnexpectedError - An unexpected error occurred.
	BadUnexpectedError StatusCode = 0x80010000
	// BadInternalError - An internal error occurred as a result of a programming or configuration error.
	BadInternalError StatusCode = 0x80020000
	// BadResourceUnavailable - An operating system resource is not available.
	BadResourceUnavailable StatusCode = 0x80040000
	// BadCommunicationError - A low level communication error occurred.
	BadCommunicationError StatusCode = 0x80050000
	// BadEncodingError - Encoding halted because of invalid data in the objects being serialized.
	BadEncodingError StatusCode = 0x80060000
	// BadDecodingError - Decoding halted because of invalid data in the stream.
	BadDecodingError StatusCode = 0x80070000
	// BadEncodingLimitsExceeded - The message encoding/decoding limits imposed by the stack have been exceeded.
	BadEncodingLimitsExceeded StatusCode = 0x80080000
	// BadUnknownResponse - An unrecognized response was received from the server.
	BadUnknownResponse StatusCode = 0x80090000
	// BadTimeout - The operation timed out.
	BadTimeout StatusCode = 0x800A0000
	// BadServiceUnsupported - The server does not support the requested service.
	BadServiceUnsupported StatusCode = 0x800B0000
	// BadShutdown - The operation was cancelled because the application is shutting down.
	BadShutdown StatusCode = 0x800C0000
	// BadServerNotConnected - The operation could not complete because the client is not connected to the server.
	BadServerNotConnected StatusCode = 0x800D0000
	// BadServerHalted - The server has stopped and cannot process any requests.
	BadServerHalted StatusCode = 0x800E0000
	// BadCertificateInvalid - The certificate provided as a parameter is not valid.
	BadCertificateInvalid StatusCode = 0x80120000
	// BadSecurityChecksFailed - An error occurred verifying security.
	BadSecurityChecksFailed StatusCode = 0x80130000
	// BadCertificateTimeInvalid - The certificate has expired or is not yet valid.
	BadCertificateTimeInvalid StatusCode = 0x80140000
	// BadCertificateHostNameInvalid - The HostName used to connect to a server does not match a HostName in the certificate.
	BadCertificateHostNameInvalid StatusCode = 0x80160000
	// BadCertificateUseNotAllowed - The certificate may not be used for the requested operation.
	BadCertificateUseNotAllowed StatusCode = 0x80180000
	// BadCertificateUntrusted - The certificate is not trusted.
	BadCertificateUntrusted StatusCode = 0x801A0000
	// BadSecureChannelIDInvalid - The specified secure channel is no longer valid.
	BadSecureChannelIDInvalid StatusCode = 0x80220000
	// BadNonceInvalid - The nonce does appear to be not a random value or it is not the correct length.
	BadNonceInvalid StatusCode = 0x80240000
	// BadRequestCancelledByClient - The request was cancelled by the client.
	BadRequestCancelledByClient StatusCode = 0x802C0000
	// BadSecurityModeRejected - The security mode does not meet the requirements set by the server.
	BadSecurityModeRejected StatusCode = 0x80540000
	// BadSecurityPolicyRejected - The security policy does not meet the requirements set by the server.
	BadSecurityPolicyRejected StatusCode = 0x80550000
	// BadTCPServerTooBusy - The server cannot process the request because it is too busy.
	BadTCPServerTooBusy StatusCode = 0x807D0000
	// BadTCPMessageTypeInvalid - The type of the message specified in the header invalid.
	BadTCPMessageTypeInvalid StatusCode = 0x807E0000
	// BadTCPSecureChannelUnknown - The SecureChannelId and/or TokenId are not currently in use.
	BadTCPSecureChannelUnknown StatusCode = 0x807F0000
	// BadTCPMessageTooLarge - The size of the message chunk specified in the header is too large.
	BadTCPMessageTooLarge StatusCode = 0x80800000
	// BadTCPNotEnoughResources - There are not enough resources to process the request.
	BadTCPNotEnoughResources StatusCode = 0x80810000
	// BadTCPInternalError - An internal error occurred.
	BadTCPInternalError StatusCode = 0x80820000
	// BadTCPEndpointURLInvalid - The server does not recognize the QueryString specified.
	BadTCPEndpointURLInvalid StatusCode = 0x80830000
	// BadRequestInterrupted - The request could not be sent because of a network interruption.
	BadRequestInterrupted StatusCode = 0x80840000
	// BadRequestTimeout - Timeout occurred while processing the request.
	BadRequestTimeout StatusCode = 0x80850000
	// BadSecureChannelClosed - The secure channel has been closed.
	BadSecureChannelClosed StatusCode = 0x80860000
	// BadSecureChannelTokenUnknown - The token has expired or is not recognized.
	BadSecureChannelTokenUnknown StatusCode = 0x80870000
	// BadSequenceNumberInvalid - The sequence number is not valid.
	BadSequenceNumberInvalid StatusCode = 0x80880000
	// BadProtocolVersionUnsupported - The applications do not have compatible protocol versions.
	BadProtocolVersionUnsupported StatusCode = 0x80BE0000
	// BadNotConnected - The variable should receive its value from another variable, but has never been configured to do so.
	BadNotConnected StatusCode = 0x808A0000
	// BadConnectionClosed - The network connection has been closed.
	BadConnectionClosed StatusCode = 0x80AE0000
	// BadInvalidState - The operation cannot be completed because the object is closed, uninitialized or in some other invalid state.
	BadInvalidState StatusCode = 0x80AF0000
	// BadCertificateChainIncomplete - The certificate chain is incomplete.
	BadCertificateChainIncomplete StatusCode = 0x810D0000
)

// IsGood returns true if the StatusCode is good.
func (c StatusCode) IsGood() bool {
	return (uint32(c) & SeverityMask) == SeverityGood
}

// IsBad returns true if the StatusCode is bad.
func (c StatusCode) IsBad() bool {
	return (uint32(c) & SeverityMask) == SeverityBad
}

// IsUncertain returns true if the StatusCode is uncertain.
func (c StatusCode) IsUncertain() bool {
	return (uint32(c) & SeverityMask) == SeverityUncertain
}

const (
	// SeverityMask is used to return the severity of a StatusCode.
	SeverityMask uint32 = 0xC0000000
	// SeverityGood indicates a good StatusCode.
	SeverityGood uint32 = 0x00000000
	// SeverityUncertain indicates a uncertain StatusCode.
	SeverityUncertain uint32 = 0x40000000
	// SeverityBad indicates a bad StatusCode.
	SeverityBad uint32 = 0x80000000
)

// Error returns the StatusCode message.
func (c StatusCode) Error() string {
	switch c {
	case Good:
		return "The operation completed successfully."
	case BadUnexpectedError:
		return "An unexpected error occurred."
	case BadInternalError:
		return "An internal error occurred as a result of a programming or configuration error."
	case BadResourceUnavailable:
		return "An operating system resource is not available."
	case BadCommunicationError:
		return "A low level communication error occurred."
	case BadEncodingError:
		return "Encoding halted because of invalid data in the objects being serialized."
	case BadDecodingError:
		return "Decoding halted because of invalid data in the stream."
	case BadEncodingLimitsExceeded:
		return "The message encoding/decoding limits imposed by the stack have been exceeded."
	case BadUnknownResponse:
		return "An unrecognized response was received from the server."
	case BadTimeout:
		return "The operation timed out."
	case BadServiceUnsupported:
		return "The server does not support the requested service."
	case BadShutdown:
		return "The operation was cancelled because the application is shutting down."
	case BadServerNotConnected:
		return "The operation could not complete because the client is not connected to the server."
	case BadServerHalted:
		return "The server has stopped and cannot process any requests."
	case BadCertificateInvalid:
		return "The certificate provided as a parameter is not valid."
	case BadSecurityChecksFailed:
		return "An error occurred verifying security."
	case BadCertificateTimeInvalid:
		return "The certificate has expired or is not yet valid."
	case BadCertificateHostNameInvalid:
		return "The HostName used to connect to a server does not match a HostName in the certificate."
	case BadCertificateUseNotAllowed:
		return "The certificate may not be used for the requested operation."
	case BadCertificateUntrusted:
		return "The certificate is not trusted."
	case BadSecureChannelIDInvalid:
		return "The specified secure channel is no longer valid."
	case BadNonceInvalid:
		return "The nonce does appear to be not a random value or it is not the correct length."
	case BadRequestCancelledByClient:
		return "The request was cancelled by the client."
	case BadSecurityModeRejected:
		return "The security mode does not meet the requirements set by the server."
	case BadSecurityPolicyRejected:
		return "The security policy does not meet the requirements set by the server."
	case BadTCPServerTooBusy:
		return "The server cannot process the request because it is too busy."
	case BadTCPMessageTypeInvalid:
		return "The type of the message specified in the header invalid."
	case BadTCPSecureChannelUnknown:
		return "The SecureChannelId and/or TokenId are not currently in use."
	case BadTCPMessageTooLarge:
		return "The size of the message chunk specified in the header is too large."
	case BadTCPNotEnoughResources:
		return "There are not enough resources to process the request."
	case BadTCPInternalError:
		return "An internal error occurred."
	case BadTCPEndpointURLInvalid:
		return "The server does not recognize the QueryString specified."
	case BadRequestInterrupted:
		return "The request could not be sent because of a network interruption."
	case BadRequestTimeout:
		return "Timeout occurred while processing the request."
	case BadSecureChannelClosed:
		return "The secure channel has been closed."
	case BadSecureChannelTokenUnknown:
		return "The token has expired or is not recognized."
	case BadSequenceNumberInvalid:
		return "The sequence number is not valid."
	case BadProtocolVersionUnsupported:
		return "The applications do not have compatible protocol versions."
	case BadNotConnected:
		return "The variable should receive its value from another variable, but has never been configured to do so."
	case BadConnectionClosed:
		return "The network connection has been closed."
	case BadInvalidState:
		return "The operation cannot be completed because the object is closed, uninitialized or in some other invalid state."
	case BadCertificateChainIncomplete:
		return "The certificate chain is incomplete."
	default:
		return "An unknown error occurred."
	}
}
