// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

/*
Package public provides a client for authentication of "public" applications with the OAuth2
device authorization grant. A "public" application runs on a device that cannot keep a secret
and often has no browser, such as a CLI, a TV or an IoT device. The user signs in on a second
device by visiting a URL and typing a short code.

Tokens are kept in a cache made of four stores: access tokens, refresh tokens, ID tokens and
accounts. By default the cache lives in memory; WithCacheBackend() selects any cache.Backend.

	client, err := public.New("client_id", public.WithAuthority("https://login.example.com/your_tenant"))
	if err != nil {
		// TODO: handle error
	}
	dc, err := client.AcquireTokenByDeviceCode(ctx, "https://resource.example.com")
	if err != nil {
		// TODO: handle error
	}
	fmt.Println(dc.Result.Message)
	result, err := dc.AuthenticationResult(ctx)
*/
package public

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/devicegrant/devicegrant-go/apps/cache"
	"github.com/devicegrant/devicegrant-go/apps/cache/memory"
	"github.com/devicegrant/devicegrant-go/apps/errors"
	"github.com/devicegrant/devicegrant-go/apps/internal/logger"
	"github.com/devicegrant/devicegrant-go/apps/internal/metrics"
	"github.com/devicegrant/devicegrant-go/apps/internal/oauth"
	"github.com/devicegrant/devicegrant-go/apps/internal/oauth/ops"
	"github.com/devicegrant/devicegrant-go/apps/internal/oauth/ops/accesstokens"
	"github.com/devicegrant/devicegrant-go/apps/internal/oauth/ops/authority"
	"github.com/devicegrant/devicegrant-go/apps/internal/shared"
	"github.com/devicegrant/devicegrant-go/apps/internal/storage"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// codeInvalidGrant is the token endpoint error for a refresh token that can no longer be redeemed.
const codeInvalidGrant = "invalid_grant"

// DefaultAuthority is the authority used when WithAuthority() is not given.
const DefaultAuthority = "https://login.microsoftonline.com/common"

// Account is a user known to the cache.
type Account = storage.Account

// DeviceCodeResult holds the code to show the user.
type DeviceCodeResult = accesstokens.DeviceCodeResult

// IDToken holds the claims of an ID token.
type IDToken = accesstokens.IDToken

// HTTPClient sends the requests to the authority. *http.Client satisfies it.
type HTTPClient = ops.HTTPClient

// Clock is the source of time for polling and expiry checks.
type Clock = oauth.Clock

// ErrNoCachedToken is returned by AcquireTokenSilent() when the cache holds neither a usable
// access token nor a refresh token for the request.
var ErrNoCachedToken = errors.New("no cached token for the account and resource")

// Options configures the Client's behavior.
type Options struct {
	// Authority is the authority URI, including the tenant. The default is DefaultAuthority.
	Authority string

	// Backend persists the token cache. The default is an in-memory backend.
	Backend cache.Backend

	// Partition prefixes the backend's namespace names so several caches can share a backend.
	Partition string

	// HTTPClient sends requests to the authority. The default is a client with a 30 second timeout.
	HTTPClient HTTPClient

	// Logger receives the client's log records. The default discards them.
	Logger *slog.Logger

	// Registerer receives the client's metrics. The default records no metrics.
	Registerer prometheus.Registerer

	// Clock is the source of time. The default is the system clock.
	Clock Clock
}

// Option is an optional argument to the New constructor.
type Option func(o *Options)

// WithAuthority allows for a custom authority to be set. This must be a valid https url.
func WithAuthority(authority string) Option {
	return func(o *Options) {
		o.Authority = authority
	}
}

// WithCacheBackend sets the backend the token cache is persisted to.
func WithCacheBackend(backend cache.Backend) Option {
	return func(o *Options) {
		o.Backend = backend
	}
}

// WithCachePartition sets a prefix for the namespaces opened on the cache backend.
func WithCachePartition(partition string) Option {
	return func(o *Options) {
		o.Partition = partition
	}
}

// WithHTTPClient allows for a custom HTTP client to be set.
func WithHTTPClient(httpClient HTTPClient) Option {
	return func(o *Options) {
		o.HTTPClient = httpClient
	}
}

// WithLogger sets the logger for the client.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithMetrics registers the client's prometheus collectors with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *Options) {
		o.Registerer = reg
	}
}

// WithClock sets the clock. It is meant for tests.
func WithClock(clock Clock) Option {
	return func(o *Options) {
		o.Clock = clock
	}
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Client acquires tokens with the device code flow and keeps them in a token cache.
type Client struct {
	clientID   string
	authParams authority.AuthParams

	token   *oauth.Client
	manager *storage.Manager
	clock   Clock
	log     *logger.Logger
}

// New is the constructor for Client. It opens the cache backend, so a backend that cannot be
// reached makes New fail with a KindConfiguration error.
func New(clientID string, options ...Option) (Client, error) {
	opts := Options{
		Authority:  DefaultAuthority,
		HTTPClient: shared.DefaultClient,
		Clock:      systemClock{},
	}
	for _, o := range options {
		o(&opts)
	}
	if clientID == "" {
		return Client{}, errors.Configuration("", errors.New("client ID is required"))
	}
	if opts.Backend == nil {
		opts.Backend = memory.New()
	}

	info, err := authority.NewInfoFromAuthorityURI(opts.Authority)
	if err != nil {
		return Client{}, errors.Configuration("", err)
	}

	log := logger.New(opts.Logger)
	var rec *metrics.Recorder
	if opts.Registerer != nil {
		if rec, err = metrics.New(opts.Registerer); err != nil {
			return Client{}, errors.Configuration("", err)
		}
	}

	manager, err := storage.New(context.Background(), opts.Backend,
		storage.WithPartition(opts.Partition),
		storage.WithLogger(log),
		storage.WithMetrics(rec),
		storage.WithClock(opts.Clock.Now),
	)
	if err != nil {
		return Client{}, err
	}

	return Client{
		clientID:   clientID,
		authParams: authority.NewAuthParams(clientID, info),
		token: oauth.New(opts.HTTPClient,
			oauth.WithClock(opts.Clock),
			oauth.WithLogger(log),
			oauth.WithMetrics(rec),
		),
		manager: manager,
		clock:   opts.Clock,
		log:     log,
	}, nil
}

func (pca Client) paramsFor(resource string) authority.AuthParams {
	authParams := pca.authParams
	authParams.Resource = resource
	authParams.CorrelationID = uuid.New().String()
	return authParams
}

// AuthResult contains the results of one token acquisition operation.
type AuthResult struct {
	Account     Account
	IDToken     IDToken
	AccessToken string
	ExpiresOn   time.Time
	Resource    string
}

// AuthenticationResult is an alias of AuthResult.
type AuthenticationResult = AuthResult

func authResultFromToken(account Account, resource string, tr accesstokens.TokenResponse) AuthResult {
	return AuthResult{
		Account:     account,
		IDToken:     tr.IDToken,
		AccessToken: tr.AccessToken,
		ExpiresOn:   tr.ExpiresOn,
		Resource:    resource,
	}
}

func authResultFromStorage(st storage.TokenResponse, resource string) (AuthResult, error) {
	var idToken IDToken
	if st.IDToken.Secret != "" {
		var err error
		if idToken, err = accesstokens.NewIDToken(st.IDToken.Secret); err != nil {
			return AuthResult{}, fmt.Errorf("cached id token could not be parsed: %w", err)
		}
	}
	return AuthResult{
		Account:     st.Account,
		IDToken:     idToken,
		AccessToken: st.AccessToken.Secret,
		ExpiresOn:   st.AccessToken.ExpiresOn.T,
		Resource:    resource,
	}, nil
}

// DeviceCode provides the results of the device code flows first stage (containing the code)
// that must be entered on the second device and provides a method to retrieve the AuthenticationResult
// once that code has been entered and verified.
type DeviceCode struct {
	// Result holds the information about the device code (such as the code).
	Result DeviceCodeResult

	authParams authority.AuthParams
	client     Client
	poller     *oauth.Poller
}

// AuthenticationResult retrieves the AuthenticationResult once the user enters the code on the
// second device, and writes the tokens to the cache. Until then it blocks until ctx is
// cancelled, the code expires or the user declines. It may be called once.
func (d DeviceCode) AuthenticationResult(ctx context.Context) (AuthenticationResult, error) {
	if d.poller == nil {
		return AuthenticationResult{}, errors.New("DeviceCode was not returned by AcquireTokenByDeviceCode()")
	}
	token, err := d.poller.Run(ctx)
	if err != nil {
		return AuthenticationResult{}, err
	}
	account, err := d.client.manager.Write(ctx, d.authParams, token)
	if err != nil {
		return AuthenticationResult{}, err
	}
	return authResultFromToken(account, d.authParams.Resource, token), nil
}

// AcquireTokenByDeviceCode requests a device code for resource. Show Result.Message to the user,
// then call AuthenticationResult() to wait for the token.
func (pca Client) AcquireTokenByDeviceCode(ctx context.Context, resource string) (DeviceCode, error) {
	if pca.token == nil {
		return DeviceCode{}, errors.New("public.Client was not created with New()")
	}
	authParams := pca.paramsFor(resource)
	poller, err := pca.token.DeviceCode(ctx, authParams)
	if err != nil {
		return DeviceCode{}, err
	}
	return DeviceCode{Result: poller.Result, authParams: authParams, client: pca, poller: poller}, nil
}

// AcquireSilentOptions are all the optional settings to an AcquireTokenSilent() call.
// These are set by using various AcquireSilentOption functions.
type AcquireSilentOptions struct {
	// Account represents the account to use. To set, use the WithSilentAccount() option.
	Account Account
}

// AcquireSilentOption changes options inside AcquireSilentOptions used in .AcquireTokenSilent().
type AcquireSilentOption func(a *AcquireSilentOptions)

// WithSilentAccount uses the passed account during an AcquireTokenSilent() call.
func WithSilentAccount(account Account) AcquireSilentOption {
	return func(a *AcquireSilentOptions) {
		a.Account = account
	}
}

// AcquireTokenSilent acquires a token for resource from the cache, redeeming a cached refresh
// token when the access token is missing or about to expire. Without WithSilentAccount() the
// cache must hold tokens of a single user. ErrNoCachedToken is returned when the device code
// flow is needed.
func (pca Client) AcquireTokenSilent(ctx context.Context, resource string, options ...AcquireSilentOption) (AuthenticationResult, error) {
	if pca.manager == nil {
		return AuthenticationResult{}, errors.New("public.Client was not created with New()")
	}
	opts := AcquireSilentOptions{}
	for _, o := range options {
		o(&opts)
	}
	authParams := pca.paramsFor(resource)
	authParams.HomeAccountID = opts.Account.HomeAccountID

	st, err := pca.manager.Read(ctx, authParams, opts.Account)
	if err != nil {
		return AuthenticationResult{}, err
	}
	if st.AccessToken.Secret != "" {
		pca.log.Log(ctx, logger.Debug, "access token served from the cache", logger.Field("resource", resource))
		return authResultFromStorage(st, resource)
	}
	if st.RefreshToken.Secret == "" {
		return AuthenticationResult{}, ErrNoCachedToken
	}

	token, err := pca.token.Refresh(ctx, authParams, st.RefreshToken.Secret)
	if err != nil {
		if errors.CodeOf(err) == codeInvalidGrant {
			pca.log.Log(ctx, logger.Warn, "refresh token was rejected, removing it from the cache")
			if derr := pca.manager.DeleteRefreshToken(ctx, st.RefreshToken.Key()); derr != nil {
				return AuthenticationResult{}, errors.Join(err, derr)
			}
		}
		return AuthenticationResult{}, err
	}
	account, err := pca.manager.Write(ctx, authParams, token)
	if err != nil {
		return AuthenticationResult{}, err
	}
	if account.IsZero() {
		account = st.Account
	}
	return authResultFromToken(account, resource, token), nil
}

// Accounts gets all the accounts in the token cache.
// If there are no accounts in the cache the returned slice is empty.
func (pca Client) Accounts(ctx context.Context) ([]Account, error) {
	if pca.manager == nil {
		return nil, errors.New("public.Client was not created with New()")
	}
	accounts, err := pca.manager.AllAccounts(ctx)
	if err != nil {
		return nil, err
	}
	return accounts.Entries, nil
}

// RemoveAccount removes the account from the cache. Its tokens stay until the cache is cleared.
func (pca Client) RemoveAccount(ctx context.Context, account Account) error {
	if pca.manager == nil {
		return errors.New("public.Client was not created with New()")
	}
	return pca.manager.RemoveAccount(ctx, account)
}

// CacheCounts is the number of entries in each store of the token cache.
type CacheCounts struct {
	AccessTokens  int
	RefreshTokens int
	IDTokens      int
	Accounts      int
}

// CacheCounts counts the entries of each store of the token cache.
func (pca Client) CacheCounts(ctx context.Context) (CacheCounts, error) {
	if pca.manager == nil {
		return CacheCounts{}, errors.New("public.Client was not created with New()")
	}
	var (
		c   CacheCounts
		err error
	)
	if c.AccessTokens, err = pca.manager.AccessTokenCount(ctx); err != nil {
		return CacheCounts{}, err
	}
	if c.RefreshTokens, err = pca.manager.RefreshTokenCount(ctx); err != nil {
		return CacheCounts{}, err
	}
	if c.IDTokens, err = pca.manager.IDTokenCount(ctx); err != nil {
		return CacheCounts{}, err
	}
	if c.Accounts, err = pca.manager.AccountCount(ctx); err != nil {
		return CacheCounts{}, err
	}
	return c, nil
}

// ClearCache empties every store of the token cache. It fails if any store could not be cleared.
func (pca Client) ClearCache(ctx context.Context) error {
	if pca.manager == nil {
		return errors.New("public.Client was not created with New()")
	}
	return pca.manager.Clear(ctx)
}

// ClearAccessTokens empties only the access token store, forcing the next AcquireTokenSilent()
// to redeem a refresh token.
func (pca Client) ClearAccessTokens(ctx context.Context) error {
	if pca.manager == nil {
		return errors.New("public.Client was not created with New()")
	}
	return pca.manager.ClearAccessTokens(ctx)
}

// ClearRefreshTokens empties only the refresh token store.
func (pca Client) ClearRefreshTokens(ctx context.Context) error {
	if pca.manager == nil {
		return errors.New("public.Client was not created with New()")
	}
	return pca.manager.ClearRefreshTokens(ctx)
}
