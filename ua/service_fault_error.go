// Copyright 2021 Converter Systems LLC. All rights reserved.

package ua

import "fmt"

// ServiceFaultError is returned when the server answers a request with a bad
// ServiceResult. The channel remains open.
type ServiceFaultError struct {
	Response ServiceResponse
	Status   StatusCode
}

// NewServiceFaultError wraps a response whose ServiceResult is bad.
func NewServiceFaultError(res ServiceResponse) *ServiceFaultError {
	return &ServiceFaultError{Response: res, Status: res.Header().ServiceResult}
}

func (e *ServiceFaultError) Error() string {
	return fmt.Sprintf("service fault 0x%08X: %s", uint32(e.Status), e.Status.Error())
}

// Cause returns the StatusCode, for use with errors.Cause.
func (e *ServiceFaultError) Cause() error {
	return e.Status
}
