// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package storage

import (
	"strings"

	"github.com/devicegrant/devicegrant-go/apps/internal/shared"
)

// CredentialType names the kind of entity a key addresses. It is always the first key component.
type CredentialType string

const (
	CredentialAccessToken  CredentialType = "AccessToken"
	CredentialRefreshToken CredentialType = "RefreshToken"
	CredentialIDToken      CredentialType = "IDToken"
	CredentialAccount      CredentialType = "Account"
)

// KeyAttributes are the components of a cache key. Empty components are kept as empty
// positions so that two attribute sets that differ only in which field is empty do not
// produce the same key.
type KeyAttributes struct {
	Type CredentialType
	// UserIdentifier is the home account id of the user. Empty for entries not bound to a user.
	UserIdentifier string
	// Authority is the authority host, such as "login.microsoftonline.com".
	Authority string
	// Realm is the tenant.
	Realm    string
	ClientID string
	// Target is the resource (or scope) of an access token, or the family id of a refresh token.
	Target string
}

// keyEscaper escapes the separator inside components, so that components holding "-" (GUID
// tenants and client ids) cannot shift into a neighbouring position.
var keyEscaper = strings.NewReplacer("%", "%25", shared.CacheKeySeparator, "%2d")

// BuildKey returns the cache key for attrs. It is a pure function: equal attributes always give
// equal keys, and different attributes give different keys. Type is the first component.
// Components are compared case-insensitively.
func BuildKey(attrs KeyAttributes) string {
	parts := []string{string(attrs.Type), attrs.UserIdentifier, attrs.Authority, attrs.Realm, attrs.ClientID, attrs.Target}
	for i, p := range parts {
		parts[i] = keyEscaper.Replace(strings.ToLower(p))
	}
	return strings.Join(parts, shared.CacheKeySeparator)
}
