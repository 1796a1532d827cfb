// Copyright 2021 Converter Systems LLC. All rights reserved.

package server

import (
	"context"

	"github.com/awcullen/uasc/ua"
)

// serveDefault is the handler of a server configured without WithHandler.
func (srv *Server) serveDefault(ctx context.Context, req ua.ServiceRequest) (ua.ServiceResponse, error) {
	switch req := req.(type) {
	case *ua.TestStackRequest:
		return srv.handleTestStack(ctx, req)
	default:
		return nil, ua.BadServiceUnsupported
	}
}

// TestStack echoes the input of the request.
// See https://reference.opcfoundation.org/v104/Core/docs/Part4/5.14/
func (srv *Server) handleTestStack(ctx context.Context, req *ua.TestStackRequest) (ua.ServiceResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, ua.BadTimeout
	}
	return &ua.TestStackResponse{Output: req.Input}, nil
}
