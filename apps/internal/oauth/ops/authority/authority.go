// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Package authority describes the authority (the authorization server and tenant) that tokens
// are requested from, and the parameters that go with every request to it.
package authority

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/devicegrant/devicegrant-go/apps/errors"
)

// Info contains the information required to access an authority.
type Info struct {
	// Host is the host of the authority, such as "login.microsoftonline.com". It is the
	// "environment" of every cache entry.
	Host string
	// CanonicalAuthorityURI is scheme://host/tenant/, always with a trailing slash.
	CanonicalAuthorityURI string
	// Tenant is the first path segment of the authority URI.
	Tenant string
}

// NewInfoFromAuthorityURI returns the Info for an authority URI of the form https://host/tenant.
// Plain http is accepted only for loopback hosts.
func NewInfoFromAuthorityURI(authority string) (Info, error) {
	u, err := url.Parse(strings.ToLower(authority))
	if err != nil {
		return Info{}, fmt.Errorf("authority URI %q is not valid: %w", authority, err)
	}
	switch u.Scheme {
	case "https":
	case "http":
		if !isLoopback(u.Hostname()) {
			return Info{}, fmt.Errorf("authority URI %q must use https", authority)
		}
	default:
		return Info{}, fmt.Errorf("authority URI %q must use https", authority)
	}
	if u.Host == "" {
		return Info{}, fmt.Errorf("authority URI %q has no host", authority)
	}

	pathParts := strings.Split(strings.Trim(u.EscapedPath(), "/"), "/")
	tenant := pathParts[0]
	if tenant == "" {
		return Info{}, fmt.Errorf("authority URI %q did not have a tenant in the path, like https://host/tenant", authority)
	}

	return Info{
		Host:                  u.Host,
		CanonicalAuthorityURI: fmt.Sprintf("%s://%s/%s/", u.Scheme, u.Host, tenant),
		Tenant:                tenant,
	}, nil
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Endpoints consists of the endpoints on the authority that this module calls.
type Endpoints struct {
	DeviceCodeEndpoint string
	TokenEndpoint      string
}

// NewEndpoints creates the Endpoints for info.
func NewEndpoints(info Info) Endpoints {
	return Endpoints{
		DeviceCodeEndpoint: info.CanonicalAuthorityURI + "oauth2/devicecode",
		TokenEndpoint:      info.CanonicalAuthorityURI + "oauth2/token",
	}
}

// AuthParams represents the parameters used for authorization for token acquisition.
type AuthParams struct {
	AuthorityInfo Info
	Endpoints     Endpoints
	ClientID      string
	// Resource is the resource the access token is requested for.
	Resource string
	// HomeAccountID is the home account id of the user the request is for, if known.
	HomeAccountID string
	// CorrelationID is sent as the client-request-id header. A random one is used if empty.
	CorrelationID string
}

// NewAuthParams creates an authorization parameters object.
func NewAuthParams(clientID string, authorityInfo Info) AuthParams {
	return AuthParams{
		ClientID:      clientID,
		AuthorityInfo: authorityInfo,
		Endpoints:     NewEndpoints(authorityInfo),
	}
}

// OAuthResponseBase is the error part of every authority response. Error is empty on success.
type OAuthResponseBase struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	ErrorCodes       []int  `json:"error_codes"`
	Timestamp        string `json:"timestamp"`
	TraceID          string `json:"trace_id"`
	CorrelationID    string `json:"correlation_id"`
}

// Err returns the response's error as a KindService *errors.Error, or nil if Error is empty.
func (b OAuthResponseBase) Err() error {
	if b.Error == "" {
		return nil
	}
	e := errors.Service(b.Error, b.ErrorDescription, nil)
	e.ErrorCodes = b.ErrorCodes
	e.Timestamp = b.Timestamp
	e.TraceID = b.TraceID
	e.CorrelationID = b.CorrelationID
	return e
}
