// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package public

import (
	"context"

	"golang.org/x/oauth2"
)

// OAuth2Token converts the result into an *oauth2.Token. The token has no refresh token; use
// Client.TokenSource() for tokens that renew themselves.
func (ar AuthResult) OAuth2Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken: ar.AccessToken,
		TokenType:   "Bearer",
		Expiry:      ar.ExpiresOn,
	}
}

type tokenSource struct {
	ctx      context.Context
	client   Client
	resource string
	account  Account
}

// Token implements oauth2.TokenSource.Token().
func (ts tokenSource) Token() (*oauth2.Token, error) {
	ar, err := ts.client.AcquireTokenSilent(ts.ctx, ts.resource, WithSilentAccount(ts.account))
	if err != nil {
		return nil, err
	}
	return ar.OAuth2Token(), nil
}

// TokenSource returns an oauth2.TokenSource serving tokens for resource and account from the
// cache. The account must already have signed in with AcquireTokenByDeviceCode(). ctx is used
// for every token request the source makes.
func (pca Client) TokenSource(ctx context.Context, resource string, account Account) oauth2.TokenSource {
	return oauth2.ReuseTokenSource(nil, tokenSource{ctx: ctx, client: pca, resource: resource, account: account})
}
