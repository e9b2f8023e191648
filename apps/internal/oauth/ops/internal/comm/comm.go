// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Package comm provides helpers for communicating with HTTP backends.
package comm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"runtime"
	"strings"

	"github.com/devicegrant/devicegrant-go/apps/errors"
	"github.com/devicegrant/devicegrant-go/apps/internal/oauth/ops/authority"
	"github.com/devicegrant/devicegrant-go/apps/internal/shared"
	"github.com/devicegrant/devicegrant-go/apps/internal/version"
	"github.com/google/uuid"
)

// HTTPClient represents an HTTP client.
// It's usually an *http.Client from the standard library.
type HTTPClient interface {
	// Do sends an HTTP request and returns an HTTP response.
	Do(req *http.Request) (*http.Response, error)

	// CloseIdleConnections closes any idle connections in a "keep-alive" state.
	CloseIdleConnections()
}

// Client provides a wrapper to our *http.Client that handles compression and serialization needs.
type Client struct {
	client HTTPClient
}

// New returns a new Client object.
func New(httpClient HTTPClient) *Client {
	if httpClient == nil {
		panic("http.Client == nil")
	}

	return &Client{client: httpClient}
}

type correlationKey struct{}

// WithCorrelationID returns a Context whose requests carry id as the client-request-id header.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// testID is used in tests to make the client-request-id predictable.
var testID string

func correlationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey{}).(string); ok && id != "" {
		return id
	}
	if testID != "" {
		return testID
	}
	return uuid.New().String()
}

// URLFormCall is used to make a call where we need to send application/x-www-form-urlencoded data
// to the backend and receive JSON back. qv will be encoded into the request body. resp must be a
// pointer to a struct. A non-2xx reply is returned as an errors.CallErr wrapping a KindService
// *errors.Error built from the reply's OAuth error body.
func (c *Client) URLFormCall(ctx context.Context, endpoint string, qv url.Values, resp any) error {
	if len(qv) == 0 {
		return fmt.Errorf("URLFormCall() requires qv to have non-zero length")
	}

	if err := c.checkResp(reflect.ValueOf(resp)); err != nil {
		return err
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("could not parse path URL(%s): %w", endpoint, err)
	}

	headers := http.Header{}
	headers.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")
	addStdHeaders(ctx, headers)

	enc := qv.Encode()

	req := &http.Request{
		Method:        http.MethodPost,
		URL:           u,
		Header:        headers,
		ContentLength: int64(len(enc)),
		Body:          io.NopCloser(strings.NewReader(enc)),
		GetBody: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(enc)), nil
		},
	}
	req = req.WithContext(ctx)

	data, err := c.do(req)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, resp); err != nil {
		return errors.Service("", "", fmt.Errorf("json decode error: %w\njson message bytes were: %s", err, string(data)))
	}
	return nil
}

// do makes the HTTP call to the server and returns the contents of the body.
func (c *Client) do(req *http.Request) ([]byte, error) {
	reply, err := c.client.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, errors.Cancelled(ctxErr)
		}
		return nil, errors.Service("", "", fmt.Errorf("server response error:\n %w", err))
	}
	defer reply.Body.Close()

	data, err := c.readBody(reply)
	if err != nil {
		return nil, errors.Service("", "", err)
	}

	if reply.StatusCode < 200 || reply.StatusCode > 299 {
		// The body was consumed above. Put it back so CallErr.Verbose() can print it.
		reply.Body = io.NopCloser(bytes.NewReader(data))
		return nil, errors.CallErr{
			Req:  req,
			Resp: reply,
			Err:  replyError(reply.StatusCode, req.URL, data),
		}
	}

	return data, nil
}

// replyError turns the body of a non-2xx reply into an error. OAuth error bodies become a
// KindService *errors.Error with the server's code and description.
func replyError(status int, u *url.URL, data []byte) error {
	base := authority.OAuthResponseBase{}
	if err := json.Unmarshal(data, &base); err == nil {
		if err := base.Err(); err != nil {
			return err
		}
	}
	return errors.Service(
		"",
		fmt.Sprintf("http call(%s)(%s) error: reply status code was %d", u.String(), http.MethodPost, status),
		errors.New(strings.TrimSpace(string(data))),
	)
}

// checkResp checks a response object to make sure it is a pointer to a struct.
func (c *Client) checkResp(v reflect.Value) error {
	if v.Kind() != reflect.Ptr {
		return fmt.Errorf("bug: resp argument must a *struct, was %T", v.Interface())
	}
	v = v.Elem()
	if v.Kind() != reflect.Struct {
		return fmt.Errorf("bug: resp argument must be a *struct, was %T", v.Interface())
	}
	return nil
}

// readBody reads the body out of an *http.Response.
func (c *Client) readBody(resp *http.Response) ([]byte, error) {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read the body of an HTTP Response: %w", err)
	}
	return data, nil
}

// addStdHeaders adds the standard headers we use on all calls.
func addStdHeaders(ctx context.Context, headers http.Header) http.Header {
	headers.Set(shared.ClientRequestIDHeader, correlationID(ctx))
	headers.Set("Return-Client-Request-Id", "false")
	headers.Set("x-client-sku", "devicegrant.go")
	headers.Set("x-client-os", runtime.GOOS)
	headers.Set("x-client-version", version.Version)
	return headers
}
