// Copyright 2021 Converter Systems LLC. All rights reserved.

package client

import (
	"context"

	"github.com/awcullen/uasc/ua"
)

// TestStack sends a message that is echoed by the server.
// See https://reference.opcfoundation.org/v104/Core/docs/Part4/5.14/
func (ch *Client) TestStack(ctx context.Context, request *ua.TestStackRequest) (*ua.TestStackResponse, error) {
	response, err := ch.Request(ctx, request)
	if err != nil {
		return nil, err
	}
	res, ok := response.(*ua.TestStackResponse)
	if !ok {
		return nil, ua.BadUnknownResponse
	}
	return res, nil
}
