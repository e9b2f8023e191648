// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Package mock holds test doubles for the HTTP client, the clock and the authority.
package mock

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type response struct {
	body     []byte
	callback func(*http.Request)
	code     int
	headers  http.Header
	err      error
}

type responseOption interface {
	apply(*response)
}

type respOpt func(*response)

func (fn respOpt) apply(r *response) {
	fn(r)
}

// WithBody sets the HTTP response's body to the specified value.
func WithBody(b []byte) responseOption {
	return respOpt(func(r *response) {
		r.body = b
	})
}

// WithCallback sets a callback to invoke before returning the response.
func WithCallback(callback func(*http.Request)) responseOption {
	return respOpt(func(r *response) {
		r.callback = callback
	})
}

// WithHTTPHeader sets the HTTP headers of the response to the specified value.
func WithHTTPHeader(header http.Header) responseOption {
	return respOpt(func(r *response) {
		r.headers = header
	})
}

// WithHTTPStatusCode sets the HTTP statusCode of response to the specified value.
func WithHTTPStatusCode(statusCode int) responseOption {
	return respOpt(func(r *response) {
		r.code = statusCode
	})
}

// WithTransportError makes Do return err instead of a response.
func WithTransportError(err error) responseOption {
	return respOpt(func(r *response) {
		r.err = err
	})
}

// Client is a mock HTTP client that returns a sequence of responses. Use AppendResponse to specify the sequence.
type Client struct {
	mu       sync.Mutex
	resp     []response
	requests int
}

func NewClient() *Client {
	return &Client{}
}

func (c *Client) AppendResponse(opts ...responseOption) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := response{code: http.StatusOK, headers: http.Header{}}
	for _, o := range opts {
		o.apply(&r)
	}
	c.resp = append(c.resp, r)
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.resp) == 0 {
		panic(fmt.Sprintf(`no response for "%s"`, req.URL.String()))
	}
	c.requests++
	resp := c.resp[0]
	c.resp = c.resp[1:]
	if resp.callback != nil {
		resp.callback(req)
	}
	if resp.err != nil {
		return nil, resp.err
	}
	res := http.Response{Header: resp.headers, StatusCode: resp.code, Request: req}
	res.Body = io.NopCloser(bytes.NewReader(resp.body))
	return &res, nil
}

// CloseIdleConnections implements the comm.HTTPClient interface
func (*Client) CloseIdleConnections() {}

// Requests returns the number of requests Do has answered.
func (c *Client) Requests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests
}

// Remaining returns the number of appended responses that have not been used.
func (c *Client) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.resp)
}

// GetAccessTokenBody returns a token endpoint reply. Empty optional fields are left out.
func GetAccessTokenBody(accessToken, idToken, refreshToken, clientInfo string, expiresIn int) []byte {
	body := fmt.Sprintf(
		`{"access_token": "%s","expires_in": %d,"ext_expires_in": %d,"token_type": "Bearer","resource": "https://resource.example.com"`,
		accessToken, expiresIn, expiresIn,
	)
	if clientInfo != "" {
		body += fmt.Sprintf(`, "client_info": "%s"`, clientInfo)
	}
	if idToken != "" {
		body += fmt.Sprintf(`, "id_token": "%s"`, idToken)
	}
	if refreshToken != "" {
		body += fmt.Sprintf(`, "refresh_token": "%s"`, refreshToken)
	}
	body += "}"

	return []byte(body)
}

// GetDeviceCodeBody returns a device code endpoint reply.
func GetDeviceCodeBody(deviceCode, userCode, verificationURL string, expiresIn, interval int) []byte {
	return []byte(fmt.Sprintf(
		`{"device_code": "%s","user_code": "%s","verification_url": "%s","expires_in": %d,"interval": %d,"message": "To sign in, use a web browser to open the page %s and enter the code %s to authenticate."}`,
		deviceCode, userCode, verificationURL, expiresIn, interval, verificationURL, userCode,
	))
}

// GetErrorBody returns an OAuth error reply.
func GetErrorBody(code, description string) []byte {
	return []byte(fmt.Sprintf(`{"error": "%s","error_description": "%s","error_codes": [70000],"trace_id": "trace","correlation_id": "correlation"}`, code, description))
}

// GetIDToken returns a JWT id token for the user. It is signed with a throwaway key.
func GetIDToken(oid, tenant, username string) string {
	now := time.Now()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"aud":                "client-id",
		"exp":                now.Add(time.Hour).Unix(),
		"iat":                now.Unix(),
		"iss":                fmt.Sprintf("https://login.example.com/%s/v2.0", tenant),
		"oid":                oid,
		"tid":                tenant,
		"preferred_username": username,
		"name":               username,
	}).SignedString([]byte("mock-signing-key"))
	if err != nil {
		panic(err)
	}
	return s
}

// GetClientInfo returns an encoded client_info value.
func GetClientInfo(uid, utid string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(fmt.Sprintf(`{"uid":"%s","utid":"%s"}`, uid, utid)))
}
