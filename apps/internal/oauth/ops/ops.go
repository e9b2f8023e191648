// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

/*
Package ops provides operations to various backend services using REST clients.

The REST type provides several clients that can be used to communicate to backends.
Usage is simple:

	rest := ops.New(httpClient)

	// Get a client for device code and token calls.
	rest.AccessTokens()
*/
package ops

import (
	"context"

	"github.com/devicegrant/devicegrant-go/apps/internal/oauth/ops/accesstokens"
	"github.com/devicegrant/devicegrant-go/apps/internal/oauth/ops/internal/comm"
)

// HTTPClient represents an HTTP pipeline used to send HTTP requests and receive responses.
type HTTPClient = comm.HTTPClient

// REST provides REST clients for communicating with various backends used by the module.
type REST struct {
	client *comm.Client
}

// New is the constructor for REST.
func New(httpClient HTTPClient) *REST {
	return &REST{client: comm.New(httpClient)}
}

// AccessTokens returns a client that can be used to get tokens.
func (r *REST) AccessTokens() accesstokens.Client {
	return accesstokens.Client{Comm: r.client}
}

// WithCorrelationID returns a Context whose requests carry id as the client-request-id header.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return comm.WithCorrelationID(ctx, id)
}
