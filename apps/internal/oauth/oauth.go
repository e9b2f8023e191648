// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Package oauth runs token acquisition flows against the authority: the device authorization
// grant and refresh token redemption.
package oauth

import (
	"context"
	"time"

	"github.com/devicegrant/devicegrant-go/apps/errors"
	"github.com/devicegrant/devicegrant-go/apps/internal/logger"
	"github.com/devicegrant/devicegrant-go/apps/internal/metrics"
	"github.com/devicegrant/devicegrant-go/apps/internal/oauth/ops"
	"github.com/devicegrant/devicegrant-go/apps/internal/oauth/ops/accesstokens"
	"github.com/devicegrant/devicegrant-go/apps/internal/oauth/ops/authority"
)

type accessTokens interface {
	DeviceCodeResult(ctx context.Context, authParams authority.AuthParams) (accesstokens.DeviceCodeResult, error)
	FromDeviceCodeResult(ctx context.Context, authParams authority.AuthParams, dcr accesstokens.DeviceCodeResult) (accesstokens.TokenResponse, error)
	FromRefreshToken(ctx context.Context, authParams authority.AuthParams, refreshToken string) (accesstokens.TokenResponse, error)
}

// Clock is the source of time for polling. Now is compared with a device code's expiry and
// After is the wait between polls.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Client provides tokens for various types of token requests.
type Client struct {
	accessTokens accessTokens
	clock        Clock
	log          *logger.Logger
	rec          *metrics.Recorder
}

// Option is an optional argument to New.
type Option func(c *Client)

// WithClock sets the clock. The default is the system clock.
func WithClock(clock Clock) Option {
	return func(c *Client) {
		c.clock = clock
	}
}

// WithLogger sets the logger. The default discards.
func WithLogger(l *logger.Logger) Option {
	return func(c *Client) {
		c.log = l
	}
}

// WithMetrics sets the metrics recorder. The default records nothing.
func WithMetrics(r *metrics.Recorder) Option {
	return func(c *Client) {
		c.rec = r
	}
}

// New is the constructor for Client.
func New(httpClient ops.HTTPClient, opts ...Option) *Client {
	c := &Client{clock: realClock{}, log: logger.New(nil)}
	for _, opt := range opts {
		opt(c)
	}
	at := ops.New(httpClient).AccessTokens()
	at.Now = c.clock.Now
	c.accessTokens = at
	return c
}

// DeviceCode requests a device code and returns the Poller that redeems it. The caller shows
// Poller.Result.Message to the user, then calls Poller.Run.
func (c *Client) DeviceCode(ctx context.Context, authParams authority.AuthParams) (*Poller, error) {
	if c.accessTokens == nil {
		return nil, errors.New("oauth.Client was not created with New()")
	}
	if authParams.CorrelationID != "" {
		ctx = ops.WithCorrelationID(ctx, authParams.CorrelationID)
	}

	dcr, err := c.accessTokens.DeviceCodeResult(ctx, authParams)
	if err != nil {
		c.log.Log(ctx, logger.Err, "device code request failed", logger.Field("error", err.Error()))
		return nil, err
	}
	c.log.Log(ctx, logger.Info, "device code issued",
		logger.Field("client_id", authParams.ClientID),
		logger.Field("verification_url", dcr.VerificationURL),
		logger.Field("expires_on", dcr.ExpiresOn),
		logger.Field("interval", dcr.Interval),
	)
	return newPoller(dcr, authParams, c.accessTokens, c.clock, c.log, c.rec), nil
}

// Refresh redeems a refresh token for new tokens.
func (c *Client) Refresh(ctx context.Context, authParams authority.AuthParams, refreshToken string) (accesstokens.TokenResponse, error) {
	if c.accessTokens == nil {
		return accesstokens.TokenResponse{}, errors.New("oauth.Client was not created with New()")
	}
	if authParams.CorrelationID != "" {
		ctx = ops.WithCorrelationID(ctx, authParams.CorrelationID)
	}
	return c.accessTokens.FromRefreshToken(ctx, authParams, refreshToken)
}
