// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package storage

import (
	"errors"
	"time"

	internalTime "github.com/devicegrant/devicegrant-go/apps/internal/json/types/time"
)

// Entry is a value that can be kept in a Store.
type Entry interface {
	// Key returns the key the entry is stored under. It must be derived with BuildKey.
	Key() string
}

// AccessToken is the JSON representation of an access token for encoding to storage.
// The cache never expires access tokens; readers decide with Expired().
type AccessToken struct {
	HomeAccountID     string            `json:"home_account_id,omitempty"`
	Environment       string            `json:"environment,omitempty"`
	Realm             string            `json:"realm,omitempty"`
	CredentialType    string            `json:"credential_type,omitempty"`
	ClientID          string            `json:"client_id,omitempty"`
	Secret            string            `json:"secret,omitempty"`
	Resource          string            `json:"target,omitempty"`
	ExpiresOn         internalTime.Unix `json:"expires_on"`
	ExtendedExpiresOn internalTime.Unix `json:"extended_expires_on"`
	CachedAt          internalTime.Unix `json:"cached_at"`
	// RawJSON is the token endpoint response this token was taken from.
	RawJSON string `json:"raw_json,omitempty"`
}

// NewAccessToken is the constructor for AccessToken.
func NewAccessToken(homeID, env, realm, clientID string, cachedAt, expiresOn, extendedExpiresOn time.Time, resource, token, rawJSON string) AccessToken {
	return AccessToken{
		HomeAccountID:     homeID,
		Environment:       env,
		Realm:             realm,
		CredentialType:    string(CredentialAccessToken),
		ClientID:          clientID,
		Secret:            token,
		Resource:          resource,
		CachedAt:          internalTime.Unix{T: cachedAt.UTC()},
		ExpiresOn:         internalTime.Unix{T: expiresOn.UTC()},
		ExtendedExpiresOn: internalTime.Unix{T: extendedExpiresOn.UTC()},
		RawJSON:           rawJSON,
	}
}

// Key outputs the key that can be used to uniquely look up this entry in a map.
func (a AccessToken) Key() string {
	return BuildKey(KeyAttributes{
		Type:           CredentialAccessToken,
		UserIdentifier: a.HomeAccountID,
		Authority:      a.Environment,
		Realm:          a.Realm,
		ClientID:       a.ClientID,
		Target:         a.Resource,
	})
}

// Expired reports whether the token has expired at now.
func (a AccessToken) Expired(now time.Time) bool {
	return !now.Before(a.ExpiresOn.T)
}

// Validate validates that this AccessToken can be used at now. A token is not usable within
// five minutes of its expiry.
func (a AccessToken) Validate(now time.Time) error {
	if a.CachedAt.T.IsZero() {
		return errors.New("access token does not have CachedAt set")
	}
	if a.CachedAt.T.After(now) {
		return errors.New("access token isn't valid, it was cached at a future time")
	}
	if a.ExpiresOn.T.Before(now.Add(5 * time.Minute)) {
		return errors.New("access token is expired")
	}
	return nil
}

// RefreshToken is the JSON representation of a refresh token for encoding to storage.
type RefreshToken struct {
	HomeAccountID  string `json:"home_account_id,omitempty"`
	Environment    string `json:"environment,omitempty"`
	CredentialType string `json:"credential_type,omitempty"`
	ClientID       string `json:"client_id,omitempty"`
	FamilyID       string `json:"family_id,omitempty"`
	Secret         string `json:"secret,omitempty"`
}

// NewRefreshToken is the constructor for RefreshToken.
func NewRefreshToken(homeID, env, clientID, refreshToken, familyID string) RefreshToken {
	return RefreshToken{
		HomeAccountID:  homeID,
		Environment:    env,
		CredentialType: string(CredentialRefreshToken),
		ClientID:       clientID,
		FamilyID:       familyID,
		Secret:         refreshToken,
	}
}

// Key outputs the key that can be used to uniquely look up this entry in a map.
// A family refresh token is keyed by its family so every client in the family shares it.
func (rt RefreshToken) Key() string {
	attrs := KeyAttributes{
		Type:           CredentialRefreshToken,
		UserIdentifier: rt.HomeAccountID,
		Authority:      rt.Environment,
		ClientID:       rt.ClientID,
	}
	if rt.FamilyID != "" {
		attrs.ClientID = ""
		attrs.Target = rt.FamilyID
	}
	return BuildKey(attrs)
}

// IDToken is the JSON representation of an id token for encoding to storage.
type IDToken struct {
	HomeAccountID  string `json:"home_account_id,omitempty"`
	Environment    string `json:"environment,omitempty"`
	Realm          string `json:"realm,omitempty"`
	CredentialType string `json:"credential_type,omitempty"`
	ClientID       string `json:"client_id,omitempty"`
	Secret         string `json:"secret,omitempty"`
}

// NewIDToken is the constructor for IDToken.
func NewIDToken(homeID, env, realm, clientID, idToken string) IDToken {
	return IDToken{
		HomeAccountID:  homeID,
		Environment:    env,
		Realm:          realm,
		CredentialType: string(CredentialIDToken),
		ClientID:       clientID,
		Secret:         idToken,
	}
}

// IsZero determines if IDToken is the zero value.
func (i IDToken) IsZero() bool {
	return i == IDToken{}
}

// Key outputs the key that can be used to uniquely look up this entry in a map.
func (i IDToken) Key() string {
	return BuildKey(KeyAttributes{
		Type:           CredentialIDToken,
		UserIdentifier: i.HomeAccountID,
		Authority:      i.Environment,
		Realm:          i.Realm,
		ClientID:       i.ClientID,
	})
}

// Account is a user who has signed in. Deleting an Account never deletes its tokens.
type Account struct {
	HomeAccountID  string `json:"home_account_id,omitempty"`
	Environment    string `json:"environment,omitempty"`
	Realm          string `json:"realm,omitempty"`
	LocalAccountID string `json:"local_account_id,omitempty"`
	// DisplayableID is the username the user signs in with, usually an email address.
	DisplayableID string `json:"username,omitempty"`
	Name          string `json:"name,omitempty"`
}

// NewAccount creates an account.
func NewAccount(homeAccountID, env, realm, localAccountID, displayableID, name string) Account {
	return Account{
		HomeAccountID:  homeAccountID,
		Environment:    env,
		Realm:          realm,
		LocalAccountID: localAccountID,
		DisplayableID:  displayableID,
		Name:           name,
	}
}

// Key creates the key for storing accounts in the cache.
func (acc Account) Key() string {
	return BuildKey(KeyAttributes{
		Type:           CredentialAccount,
		UserIdentifier: acc.HomeAccountID,
		Authority:      acc.Environment,
		Realm:          acc.Realm,
	})
}

// IsZero checks the zero value of account.
func (acc Account) IsZero() bool {
	return acc == Account{}
}
