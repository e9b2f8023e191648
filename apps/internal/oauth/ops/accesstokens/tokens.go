// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package accesstokens

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	internalTime "github.com/devicegrant/devicegrant-go/apps/internal/json/types/time"
	"github.com/devicegrant/devicegrant-go/apps/internal/oauth/ops/authority"
	"github.com/golang-jwt/jwt/v5"
)

// DeviceCodeResponse represents the HTTP response received from the device code endpoint
type DeviceCodeResponse struct {
	authority.OAuthResponseBase

	UserCode   string `json:"user_code"`
	DeviceCode string `json:"device_code"`
	// VerificationURL is sent by Azure AD v1 endpoints, VerificationURI by RFC 8628 servers.
	VerificationURL string               `json:"verification_url"`
	VerificationURI string               `json:"verification_uri"`
	ExpiresIn       internalTime.Seconds `json:"expires_in"`
	Interval        internalTime.Seconds `json:"interval"`
	Message         string               `json:"message"`
}

// DeviceCodeResult stores the response from the STS device code endpoint. It is immutable once
// created and is consumed by exactly one polling sequence.
type DeviceCodeResult struct {
	// UserCode is the code the user must enter at VerificationURL.
	UserCode string
	// DeviceCode is the code used in the access token request.
	DeviceCode string
	// VerificationURL is the URL where the user can authenticate.
	VerificationURL string
	// ExpiresOn is the time after which the device code can no longer be redeemed.
	ExpiresOn time.Time
	// Interval is the number of seconds to wait between polls. 0 means the server did not say.
	Interval int
	// Message is the text to show the user.
	Message string
	// ClientID is the client the device code was issued to.
	ClientID string
	// Resource is the resource the token will be issued for.
	Resource string
}

// NewDeviceCodeResult creates a DeviceCodeResult instance.
func NewDeviceCodeResult(userCode, deviceCode, verificationURL string, expiresOn time.Time, interval int, message, clientID, resource string) DeviceCodeResult {
	return DeviceCodeResult{userCode, deviceCode, verificationURL, expiresOn, interval, message, clientID, resource}
}

func (dcr DeviceCodeResult) String() string {
	return fmt.Sprintf("UserCode: (%v)\nDeviceCode: (%v)\nURL: (%v)\nMessage: (%v)\n", dcr.UserCode, dcr.DeviceCode, dcr.VerificationURL, dcr.Message)
}

// ClientInfo is used to create a Home Account ID for an account.
type ClientInfo struct {
	UID  string `json:"uid"`
	UTID string `json:"utid"`
}

// UnmarshalJSON implements json.Unmarshaler. The authority sends client_info as a base64url
// encoded JSON object.
func (c *ClientInfo) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*c = ClientInfo{}
		return nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
	if err != nil {
		return fmt.Errorf("client_info could not be base64 decoded: %w", err)
	}
	type plain ClientInfo
	p := plain{}
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("client_info could not be decoded: %w", err)
	}
	*c = ClientInfo(p)
	return nil
}

// HomeAccountID returns "uid.utid", or "" if either part is missing.
func (c ClientInfo) HomeAccountID() string {
	if c.UID == "" || c.UTID == "" {
		return ""
	}
	return c.UID + "." + c.UTID
}

// IDToken consists of all the information used to validate a user.
// https://docs.microsoft.com/azure/active-directory/develop/id-tokens .
type IDToken struct {
	PreferredUsername string
	Name              string
	Oid               string
	TenantID          string
	Subject           string
	UPN               string
	Email             string
	Issuer            string
	ExpirationTime    time.Time

	// RawToken is the signed JWT as received.
	RawToken string
}

type idTokenClaims struct {
	jwt.RegisteredClaims
	PreferredUsername string `json:"preferred_username,omitempty"`
	Name              string `json:"name,omitempty"`
	Oid               string `json:"oid,omitempty"`
	TenantID          string `json:"tid,omitempty"`
	UPN               string `json:"upn,omitempty"`
	Email             string `json:"email,omitempty"`
	// UniqueName is sent by Azure AD v1 endpoints in place of preferred_username.
	UniqueName string `json:"unique_name,omitempty"`
}

// NewIDToken parses the claims of a JWT id token. The signature is not verified: the token came
// directly from the authority over TLS, and it is only used to describe the account.
func NewIDToken(raw string) (IDToken, error) {
	if raw == "" {
		return IDToken{}, nil
	}
	claims := idTokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return IDToken{}, fmt.Errorf("could not parse id token: %w", err)
	}

	i := IDToken{
		PreferredUsername: claims.PreferredUsername,
		Name:              claims.Name,
		Oid:               claims.Oid,
		TenantID:          claims.TenantID,
		Subject:           claims.Subject,
		UPN:               claims.UPN,
		Email:             claims.Email,
		Issuer:            claims.Issuer,
		RawToken:          raw,
	}
	if i.PreferredUsername == "" {
		i.PreferredUsername = claims.UniqueName
	}
	if claims.ExpiresAt != nil {
		i.ExpirationTime = claims.ExpiresAt.Time.UTC()
	}
	return i, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (i *IDToken) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*i = IDToken{}
		return nil
	}
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("id_token must be a string: %w", err)
	}
	tok, err := NewIDToken(raw)
	if err != nil {
		return err
	}
	*i = tok
	return nil
}

// IsZero indicates if the IDToken is the zero value.
func (i IDToken) IsZero() bool {
	return i.RawToken == ""
}

// LocalAccountID extracts an account's local account ID from an ID token.
func (i IDToken) LocalAccountID() string {
	if i.Oid != "" {
		return i.Oid
	}
	return i.Subject
}

// DisplayableID is the name the user signs in with.
func (i IDToken) DisplayableID() string {
	switch {
	case i.PreferredUsername != "":
		return i.PreferredUsername
	case i.UPN != "":
		return i.UPN
	}
	return i.Email
}

// TokenResponse is the information that is returned from a token endpoint during a token acquisition flow.
type TokenResponse struct {
	authority.OAuthResponseBase

	AccessToken  string               `json:"access_token"`
	RefreshToken string               `json:"refresh_token"`
	TokenType    string               `json:"token_type"`
	Resource     string               `json:"resource"`
	Scope        string               `json:"scope"`
	IDToken      IDToken              `json:"id_token"`
	ClientInfo   ClientInfo           `json:"client_info"`
	FamilyID     string               `json:"foci"`
	ExpiresIn    internalTime.Seconds `json:"expires_in"`
	ExtExpiresIn internalTime.Seconds `json:"ext_expires_in"`

	// ExpiresOn and ExtExpiresOn are set from ExpiresIn and ExtExpiresIn by ComputeExpiry.
	ExpiresOn    time.Time `json:"-"`
	ExtExpiresOn time.Time `json:"-"`
	// RawJSON is the response body the TokenResponse was decoded from.
	RawJSON string `json:"-"`
}

// UnmarshalJSON implements json.Unmarshaler. It keeps the raw body in RawJSON.
func (tr *TokenResponse) UnmarshalJSON(b []byte) error {
	type plain TokenResponse
	p := plain{}
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*tr = TokenResponse(p)
	tr.RawJSON = string(b)
	return nil
}

// ComputeExpiry sets ExpiresOn and ExtExpiresOn relative to now. A missing ext_expires_in is
// taken to be the same as expires_in.
func (tr *TokenResponse) ComputeExpiry(now time.Time) {
	tr.ExpiresOn = now.Add(tr.ExpiresIn.Duration())
	if tr.ExtExpiresIn > 0 {
		tr.ExtExpiresOn = now.Add(tr.ExtExpiresIn.Duration())
	} else {
		tr.ExtExpiresOn = tr.ExpiresOn
	}
}

// Validate validates the TokenResponse has basic valid values. It must be called
// after Unmarshal() was successful.
func (tr TokenResponse) Validate() error {
	if tr.Error != "" {
		return fmt.Errorf("%s: %s", tr.Error, tr.ErrorDescription)
	}
	if tr.AccessToken == "" {
		return errors.New("response is missing access_token")
	}
	return nil
}

// HasAccessToken reports whether the response carries an access token.
func (tr TokenResponse) HasAccessToken() bool {
	return len(tr.AccessToken) > 0
}

// HasRefreshToken reports whether the response carries a refresh token.
func (tr TokenResponse) HasRefreshToken() bool {
	return len(tr.RefreshToken) > 0
}

// HomeAccountID returns the identifier the cache files the user's entries under. It comes from
// client_info when the authority sent one and from the id token otherwise. It is "" when the
// response identifies no user.
func (tr TokenResponse) HomeAccountID() string {
	if id := tr.ClientInfo.HomeAccountID(); id != "" {
		return id
	}
	local := tr.IDToken.LocalAccountID()
	if local == "" {
		return ""
	}
	if tr.IDToken.TenantID != "" {
		return local + "." + tr.IDToken.TenantID
	}
	return local
}
