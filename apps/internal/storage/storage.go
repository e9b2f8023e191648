// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Package storage holds the token cache: four independent stores (access tokens, refresh tokens,
// id tokens and accounts) and the Manager that reads and writes them as a unit.
//
// Every store writes to its own cache.Namespace, so any cache.Backend can hold the cache.
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/devicegrant/devicegrant-go/apps/cache"
	"github.com/devicegrant/devicegrant-go/apps/errors"
	"github.com/devicegrant/devicegrant-go/apps/internal/logger"
	"github.com/devicegrant/devicegrant-go/apps/internal/metrics"
	"github.com/devicegrant/devicegrant-go/apps/internal/oauth/ops/accesstokens"
	"github.com/devicegrant/devicegrant-go/apps/internal/oauth/ops/authority"
)

// Namespace names. Backends see these, prefixed by the partition if one is set.
const (
	AccessTokenNamespace  = "accesstoken"
	RefreshTokenNamespace = "refreshtoken"
	IDTokenNamespace      = "idtoken"
	AccountNamespace      = "account"
)

// TokenResponse mimics a token response that was pulled from the cache.
type TokenResponse struct {
	RefreshToken RefreshToken
	IDToken      IDToken
	AccessToken  AccessToken
	Account      Account
}

// Manager is the token cache. It is safe for concurrent use.
type Manager struct {
	accessTokens  *Store[AccessToken]
	refreshTokens *Store[RefreshToken]
	idTokens      *Store[IDToken]
	accounts      *Store[Account]

	log *logger.Logger
	now func() time.Time
}

type options struct {
	partition string
	log       *logger.Logger
	rec       *metrics.Recorder
	now       func() time.Time
}

// Option is an optional argument to New.
type Option func(o *options)

// WithPartition prefixes every namespace name with partition and a ".", so that several caches
// can share one backend.
func WithPartition(partition string) Option {
	return func(o *options) {
		o.partition = partition
	}
}

// WithLogger sets the logger. The default discards.
func WithLogger(l *logger.Logger) Option {
	return func(o *options) {
		o.log = l
	}
}

// WithMetrics sets the metrics recorder. The default records nothing.
func WithMetrics(r *metrics.Recorder) Option {
	return func(o *options) {
		o.rec = r
	}
}

// WithClock sets the function used to read the current time when writing and validating tokens.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// New opens the four stores on backend. Failure to open any of them is a KindConfiguration error.
func New(ctx context.Context, backend cache.Backend, opts ...Option) (*Manager, error) {
	if backend == nil {
		return nil, errors.Configuration(errors.FailedToCreateStore, fmt.Errorf("storage: backend is nil"))
	}
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.New(nil)
	}
	name := func(ns string) string {
		if o.partition == "" {
			return ns
		}
		return o.partition + "." + ns
	}

	m := &Manager{log: o.log, now: o.now}
	var err error
	if m.accessTokens, err = newStore[AccessToken](ctx, backend, name(AccessTokenNamespace), o.log, o.rec); err != nil {
		return nil, err
	}
	if m.refreshTokens, err = newStore[RefreshToken](ctx, backend, name(RefreshTokenNamespace), o.log, o.rec); err != nil {
		return nil, err
	}
	if m.idTokens, err = newStore[IDToken](ctx, backend, name(IDTokenNamespace), o.log, o.rec); err != nil {
		return nil, err
	}
	if m.accounts, err = newStore[Account](ctx, backend, name(AccountNamespace), o.log, o.rec); err != nil {
		return nil, err
	}
	return m, nil
}

// SaveAccessToken stores at, replacing any access token with the same key.
func (m *Manager) SaveAccessToken(ctx context.Context, at AccessToken) error {
	return m.accessTokens.Save(ctx, at)
}

// SaveRefreshToken stores rt, replacing any refresh token with the same key.
func (m *Manager) SaveRefreshToken(ctx context.Context, rt RefreshToken) error {
	return m.refreshTokens.Save(ctx, rt)
}

// SaveIDToken stores id, replacing any id token with the same key.
func (m *Manager) SaveIDToken(ctx context.Context, id IDToken) error {
	return m.idTokens.Save(ctx, id)
}

// SaveAccount stores acc, replacing any account with the same key.
func (m *Manager) SaveAccount(ctx context.Context, acc Account) error {
	return m.accounts.Save(ctx, acc)
}

// AccessToken returns the access token at key.
func (m *Manager) AccessToken(ctx context.Context, key string) (AccessToken, bool, error) {
	return m.accessTokens.Get(ctx, key)
}

// RefreshToken returns the refresh token at key.
func (m *Manager) RefreshToken(ctx context.Context, key string) (RefreshToken, bool, error) {
	return m.refreshTokens.Get(ctx, key)
}

// IDToken returns the id token at key.
func (m *Manager) IDToken(ctx context.Context, key string) (IDToken, bool, error) {
	return m.idTokens.Get(ctx, key)
}

// Account returns the account at key.
func (m *Manager) Account(ctx context.Context, key string) (Account, bool, error) {
	return m.accounts.Get(ctx, key)
}

// AllAccessTokens returns every access token, expired ones included.
func (m *Manager) AllAccessTokens(ctx context.Context) (Listing[AccessToken], error) {
	return m.accessTokens.GetAll(ctx)
}

// AllRefreshTokens returns every refresh token.
func (m *Manager) AllRefreshTokens(ctx context.Context) (Listing[RefreshToken], error) {
	return m.refreshTokens.GetAll(ctx)
}

// AllIDTokens returns every id token.
func (m *Manager) AllIDTokens(ctx context.Context) (Listing[IDToken], error) {
	return m.idTokens.GetAll(ctx)
}

// AllAccounts returns every account.
func (m *Manager) AllAccounts(ctx context.Context) (Listing[Account], error) {
	return m.accounts.GetAll(ctx)
}

// DeleteAccessToken removes the access token at key.
func (m *Manager) DeleteAccessToken(ctx context.Context, key string) error {
	return m.accessTokens.Delete(ctx, key)
}

// DeleteRefreshToken removes the refresh token at key.
func (m *Manager) DeleteRefreshToken(ctx context.Context, key string) error {
	return m.refreshTokens.Delete(ctx, key)
}

// DeleteIDToken removes the id token at key.
func (m *Manager) DeleteIDToken(ctx context.Context, key string) error {
	return m.idTokens.Delete(ctx, key)
}

// DeleteAccount removes the account at key. Tokens issued to the account are not removed.
func (m *Manager) DeleteAccount(ctx context.Context, key string) error {
	return m.accounts.Delete(ctx, key)
}

// Clear empties all four stores. Every store is attempted even if an earlier one fails, and
// the failures are returned together.
func (m *Manager) Clear(ctx context.Context) error {
	var errs []error
	for _, c := range []func(context.Context) error{
		m.accessTokens.Clear,
		m.refreshTokens.Clear,
		m.idTokens.Clear,
		m.accounts.Clear,
	} {
		if err := c(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		err := errors.Join(errs...)
		m.log.Log(ctx, logger.Err, "token cache was not fully cleared", logger.Field("error", err.Error()))
		return fmt.Errorf("storage: clear: %w", err)
	}
	return nil
}

// ClearAccessTokens empties only the access token store.
func (m *Manager) ClearAccessTokens(ctx context.Context) error {
	return m.accessTokens.Clear(ctx)
}

// ClearRefreshTokens empties only the refresh token store.
func (m *Manager) ClearRefreshTokens(ctx context.Context) error {
	return m.refreshTokens.Clear(ctx)
}

// ClearIDTokens empties only the id token store.
func (m *Manager) ClearIDTokens(ctx context.Context) error {
	return m.idTokens.Clear(ctx)
}

// ClearAccounts empties only the account store.
func (m *Manager) ClearAccounts(ctx context.Context) error {
	return m.accounts.Clear(ctx)
}

// AccessTokenCount returns the number of access tokens that can be decoded.
func (m *Manager) AccessTokenCount(ctx context.Context) (int, error) {
	return m.accessTokens.Count(ctx)
}

// RefreshTokenCount returns the number of refresh tokens that can be decoded.
func (m *Manager) RefreshTokenCount(ctx context.Context) (int, error) {
	return m.refreshTokens.Count(ctx)
}

// IDTokenCount returns the number of id tokens that can be decoded.
func (m *Manager) IDTokenCount(ctx context.Context) (int, error) {
	return m.idTokens.Count(ctx)
}

// AccountCount returns the number of accounts that can be decoded.
func (m *Manager) AccountCount(ctx context.Context) (int, error) {
	return m.accounts.Count(ctx)
}

// Write writes a token response to the cache and returns the account information the token is stored with.
func (m *Manager) Write(ctx context.Context, authParams authority.AuthParams, tokenResponse accesstokens.TokenResponse) (Account, error) {
	homeAccountID := tokenResponse.HomeAccountID()
	environment := authParams.AuthorityInfo.Host
	realm := authParams.AuthorityInfo.Tenant
	clientID := authParams.ClientID
	cachedAt := m.now()

	if tokenResponse.HasRefreshToken() {
		refreshToken := NewRefreshToken(homeAccountID, environment, clientID, tokenResponse.RefreshToken, tokenResponse.FamilyID)
		if err := m.SaveRefreshToken(ctx, refreshToken); err != nil {
			return Account{}, err
		}
	}

	if tokenResponse.HasAccessToken() {
		accessToken := NewAccessToken(
			homeAccountID,
			environment,
			realm,
			clientID,
			cachedAt,
			tokenResponse.ExpiresOn,
			tokenResponse.ExtExpiresOn,
			authParams.Resource,
			tokenResponse.AccessToken,
			tokenResponse.RawJSON,
		)
		if err := m.SaveAccessToken(ctx, accessToken); err != nil {
			return Account{}, err
		}
	}

	var account Account
	if !tokenResponse.IDToken.IsZero() {
		idToken := NewIDToken(homeAccountID, environment, realm, clientID, tokenResponse.IDToken.RawToken)
		if err := m.SaveIDToken(ctx, idToken); err != nil {
			return Account{}, err
		}

		account = NewAccount(
			homeAccountID,
			environment,
			realm,
			tokenResponse.IDToken.LocalAccountID(),
			tokenResponse.IDToken.DisplayableID(),
			tokenResponse.IDToken.Name,
		)
		if err := m.SaveAccount(ctx, account); err != nil {
			return Account{}, err
		}
	}

	m.log.Log(ctx, logger.Debug, "wrote token response to the cache",
		logger.Field("environment", environment),
		logger.Field("client_id", clientID),
		logger.Field("has_refresh_token", tokenResponse.HasRefreshToken()),
		logger.Field("has_id_token", !tokenResponse.IDToken.IsZero()),
	)
	return account, nil
}

// Read reads a storage token from the cache if it exists. The access token is only returned if
// it is still usable; the refresh token, id token and account are returned whenever they exist.
// If account is the zero value, the entries of the single user holding an access token for
// authParams are returned. Without such an access token, the single user holding a refresh token
// for the client is used. More than one candidate user is a KindInvalidOperation error.
func (m *Manager) Read(ctx context.Context, authParams authority.AuthParams, account Account) (TokenResponse, error) {
	homeAccountID := account.HomeAccountID
	environment := authParams.AuthorityInfo.Host
	realm := authParams.AuthorityInfo.Tenant
	clientID := authParams.ClientID
	resource := authParams.Resource

	ats, err := m.AllAccessTokens(ctx)
	if err != nil {
		return TokenResponse{}, err
	}
	var matches []AccessToken
	for _, at := range ats.Entries {
		if homeAccountID != "" && !strings.EqualFold(at.HomeAccountID, homeAccountID) {
			continue
		}
		if strings.EqualFold(at.Environment, environment) &&
			strings.EqualFold(at.Realm, realm) &&
			strings.EqualFold(at.ClientID, clientID) &&
			strings.EqualFold(at.Resource, resource) {
			matches = append(matches, at)
		}
	}
	if homeAccountID == "" && len(matches) > 1 {
		return TokenResponse{}, &errors.Error{
			Kind:        errors.KindInvalidOperation,
			Description: fmt.Sprintf("%d accounts hold tokens for client %q and resource %q, an account must be given", len(matches), clientID, resource),
		}
	}

	tr := TokenResponse{}
	if len(matches) == 1 {
		if homeAccountID == "" {
			homeAccountID = matches[0].HomeAccountID
		}
		if err := matches[0].Validate(m.now()); err == nil {
			tr.AccessToken = matches[0]
		}
	}
	if homeAccountID == "" {
		if homeAccountID, err = m.soleRefreshTokenUser(ctx, environment, clientID); err != nil || homeAccountID == "" {
			return tr, err
		}
	}

	if tr.RefreshToken, err = m.readRefreshToken(ctx, homeAccountID, environment, clientID); err != nil {
		return TokenResponse{}, err
	}

	idKey := IDToken{HomeAccountID: homeAccountID, Environment: environment, Realm: realm, ClientID: clientID}.Key()
	if tr.IDToken, _, err = m.IDToken(ctx, idKey); err != nil {
		m.log.Log(ctx, logger.Warn, "ignoring id token that could not be read", logger.Field("error", err.Error()))
	}

	accKey := Account{HomeAccountID: homeAccountID, Environment: environment, Realm: realm}.Key()
	if tr.Account, _, err = m.Account(ctx, accKey); err != nil {
		m.log.Log(ctx, logger.Warn, "ignoring account that could not be read", logger.Field("error", err.Error()))
	}
	return tr, nil
}

// soleRefreshTokenUser returns the home account id of the only user holding a refresh token for
// clientID at environment, or "" when there is none.
func (m *Manager) soleRefreshTokenUser(ctx context.Context, environment, clientID string) (string, error) {
	rts, err := m.AllRefreshTokens(ctx)
	if err != nil {
		return "", err
	}
	users := map[string]bool{}
	for _, rt := range rts.Entries {
		if strings.EqualFold(rt.Environment, environment) && strings.EqualFold(rt.ClientID, clientID) {
			users[strings.ToLower(rt.HomeAccountID)] = true
		}
	}
	if len(users) > 1 {
		return "", &errors.Error{
			Kind:        errors.KindInvalidOperation,
			Description: fmt.Sprintf("%d accounts hold refresh tokens for client %q, an account must be given", len(users), clientID),
		}
	}
	for hid := range users {
		return hid, nil
	}
	return "", nil
}

// readRefreshToken returns the refresh token for the user and client. The family refresh token is
// preferred when this client is known to be in a family, which is when it was issued a family
// refresh token itself. The client's own refresh token is used otherwise.
func (m *Manager) readRefreshToken(ctx context.Context, homeAccountID, environment, clientID string) (RefreshToken, error) {
	rts, err := m.AllRefreshTokens(ctx)
	if err != nil {
		return RefreshToken{}, err
	}

	var own RefreshToken
	familyID := ""
	for _, rt := range rts.Entries {
		if !strings.EqualFold(rt.HomeAccountID, homeAccountID) || !strings.EqualFold(rt.Environment, environment) {
			continue
		}
		if strings.EqualFold(rt.ClientID, clientID) {
			if rt.FamilyID != "" {
				familyID = rt.FamilyID
			} else {
				own = rt
			}
		}
	}
	if familyID != "" {
		for _, rt := range rts.Entries {
			if strings.EqualFold(rt.HomeAccountID, homeAccountID) && strings.EqualFold(rt.Environment, environment) && rt.FamilyID == familyID {
				return rt, nil
			}
		}
	}
	return own, nil
}

// RemoveAccount removes acc from the cache. Its tokens are kept.
func (m *Manager) RemoveAccount(ctx context.Context, acc Account) error {
	return m.DeleteAccount(ctx, acc.Key())
}
