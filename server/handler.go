// Copyright 2021 Converter Systems LLC. All rights reserved.

package server

import (
	"context"

	"github.com/awcullen/uasc/ua"
)

// Handler responds to a service request. The context carries the id of the
// secure channel under ChannelIDKey, and expires with the TimeoutHint of the
// request. A returned error is sent to the client as a ServiceFault with the
// StatusCode of the error.
type Handler interface {
	ServeUA(ctx context.Context, req ua.ServiceRequest) (ua.ServiceResponse, error)
}

// HandlerFunc adapts a func to a Handler.
type HandlerFunc func(ctx context.Context, req ua.ServiceRequest) (ua.ServiceResponse, error)

// ServeUA calls f(ctx, req).
func (f HandlerFunc) ServeUA(ctx context.Context, req ua.ServiceRequest) (ua.ServiceResponse, error) {
	return f(ctx, req)
}

// ChannelIDFromContext returns the id of the secure channel that received the request.
func ChannelIDFromContext(ctx context.Context) (uint32, bool) {
	id, ok := ctx.Value(ChannelIDKey).(uint32)
	return id, ok
}
