// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

/*
Package accesstokens exposes a REST client for querying backend systems to get various types of
access tokens (oauth) for use in authentication.

These calls are of type "application/x-www-form-urlencoded".  This means we use url.Values to
represent arguments and then encode them into the POST body message.  We receive JSON in
return for the requests.  The device authorization grant is defined in https://tools.ietf.org/html/rfc8628 .
*/
package accesstokens

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/devicegrant/devicegrant-go/apps/errors"
	"github.com/devicegrant/devicegrant-go/apps/internal/oauth/ops/authority"
	"github.com/devicegrant/devicegrant-go/apps/internal/oauth/ops/internal/grant"
)

const (
	grantType  = "grant_type"
	deviceCode = "code"
	clientID   = "client_id"
	resource   = "resource"
	clientInfo = "client_info"

	clientInfoVal = "1"
)

type urlFormCaller interface {
	URLFormCall(ctx context.Context, endpoint string, qv url.Values, resp any) error
}

// Client represents the REST calls to get tokens from token generator backends.
type Client struct {
	// Comm provides the HTTP transport client.
	Comm urlFormCaller
	// Now returns the current time. time.Now is used when nil.
	Now func() time.Time
}

func (c Client) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// DeviceCodeResult requests a device code from the authority's device code endpoint.
func (c Client) DeviceCodeResult(ctx context.Context, authParams authority.AuthParams) (DeviceCodeResult, error) {
	qv := url.Values{}
	qv.Set(clientID, authParams.ClientID)
	qv.Set(resource, authParams.Resource)

	resp := DeviceCodeResponse{}
	if err := c.Comm.URLFormCall(ctx, authParams.Endpoints.DeviceCodeEndpoint, qv, &resp); err != nil {
		return DeviceCodeResult{}, err
	}
	if err := resp.Err(); err != nil {
		return DeviceCodeResult{}, err
	}

	return resp.ToDeviceCodeResult(authParams.ClientID, authParams.Resource, c.now())
}

// FromDeviceCodeResult makes one poll of the token endpoint for a device code. While the user has
// not finished signing in the authority replies with an error whose code is "authorization_pending"
// or "slow_down"; those are returned as KindService errors like any other.
func (c Client) FromDeviceCodeResult(ctx context.Context, authParams authority.AuthParams, dcr DeviceCodeResult) (TokenResponse, error) {
	qv := url.Values{}
	qv.Set(grantType, grant.DeviceCode)
	qv.Set(deviceCode, dcr.DeviceCode)
	qv.Set(clientID, authParams.ClientID)
	qv.Set(resource, authParams.Resource)
	qv.Set(clientInfo, clientInfoVal)

	return c.doTokenResp(ctx, authParams, qv)
}

// FromRefreshToken uses a refresh token to get a new access token.
func (c Client) FromRefreshToken(ctx context.Context, authParams authority.AuthParams, refreshToken string) (TokenResponse, error) {
	qv := url.Values{}
	qv.Set(grantType, grant.RefreshToken)
	qv.Set("refresh_token", refreshToken)
	qv.Set(clientID, authParams.ClientID)
	qv.Set(resource, authParams.Resource)
	qv.Set(clientInfo, clientInfoVal)

	return c.doTokenResp(ctx, authParams, qv)
}

func (c Client) doTokenResp(ctx context.Context, authParams authority.AuthParams, qv url.Values) (TokenResponse, error) {
	resp := TokenResponse{}
	if err := c.Comm.URLFormCall(ctx, authParams.Endpoints.TokenEndpoint, qv, &resp); err != nil {
		return TokenResponse{}, err
	}
	if err := resp.Err(); err != nil {
		return TokenResponse{}, err
	}
	if err := resp.Validate(); err != nil {
		return TokenResponse{}, errors.Service("", "", err)
	}
	resp.ComputeExpiry(c.now())
	return resp, nil
}

// ToDeviceCodeResult converts the DeviceCodeResponse to a DeviceCodeResult. A negative expires_in
// or interval is rejected. An expires_in of 0 gives a result that has already expired at now.
func (dcr DeviceCodeResponse) ToDeviceCodeResult(clientID, resource string, now time.Time) (DeviceCodeResult, error) {
	if dcr.ExpiresIn < 0 || dcr.Interval < 0 {
		return DeviceCodeResult{}, errors.Service(
			errors.InvalidDeviceCodeResponse,
			fmt.Sprintf("device code response had expires_in %d and interval %d, neither may be negative", dcr.ExpiresIn, dcr.Interval),
			nil,
		)
	}
	if dcr.DeviceCode == "" {
		return DeviceCodeResult{}, errors.Service(errors.InvalidDeviceCodeResponse, "device code response had no device_code", nil)
	}
	verificationURL := dcr.VerificationURL
	if verificationURL == "" {
		verificationURL = dcr.VerificationURI
	}
	return NewDeviceCodeResult(
		dcr.UserCode,
		dcr.DeviceCode,
		verificationURL,
		now.Add(dcr.ExpiresIn.Duration()),
		int(dcr.Interval),
		dcr.Message,
		clientID,
		resource,
	), nil
}
