// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/devicegrant/devicegrant-go/apps/cache"
	"github.com/devicegrant/devicegrant-go/apps/cache/file"
	"github.com/devicegrant/devicegrant-go/apps/cache/keyring"
	"github.com/devicegrant/devicegrant-go/apps/cache/keyvault"
	"github.com/devicegrant/devicegrant-go/apps/cache/memory"
	cachemongo "github.com/devicegrant/devicegrant-go/apps/cache/mongo"
	cacheredis "github.com/devicegrant/devicegrant-go/apps/cache/redis"
	"github.com/devicegrant/devicegrant-go/apps/public"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/term"
)

// keyVaultResource is the resource Key Vault tokens are issued for.
const keyVaultResource = "https://vault.azure.net"

// passphrasePrompt reads a passphrase without echo. It is a variable for tests.
var passphrasePrompt = func(prompt string) ([]byte, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil, fmt.Errorf("the file backend needs a passphrase, set %s_PASSPHRASE", envPrefix)
	}
	fmt.Fprintf(os.Stderr, "%s: ", prompt)
	defer fmt.Fprintln(os.Stderr)
	return term.ReadPassword(int(os.Stdin.Fd()))
}

// openBackend builds the cache.Backend named by cfg. The returned func releases its connections.
func (rt *runtimeState) openBackend(ctx context.Context) (cache.Backend, func(), error) {
	noop := func() {}
	if rt.opts.Backend != nil {
		return rt.opts.Backend, noop, nil
	}

	cfg := rt.cfg
	switch cfg.Backend {
	case "memory":
		return memory.New(), noop, nil
	case "file":
		passphrase := []byte(cfg.Passphrase)
		if len(passphrase) == 0 {
			var err error
			if passphrase, err = passphrasePrompt("Token cache passphrase"); err != nil {
				return nil, nil, err
			}
		}
		b, err := file.New(cfg.CacheDir, passphrase)
		if err != nil {
			return nil, nil, err
		}
		return b, noop, nil
	case "keyring":
		return keyring.New(keyring.WithService(cfg.KeyringService)), noop, nil
	case "redis":
		if cfg.RedisURL == "" {
			return nil, nil, fmt.Errorf("the redis backend needs --redis-url or %s_REDIS_URL", envPrefix)
		}
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing Redis URL: %w", err)
		}
		client := redis.NewClient(redisOpts)
		return cacheredis.New(client), func() { client.Close() }, nil
	case "mongo":
		if cfg.MongoURI == "" {
			return nil, nil, fmt.Errorf("the mongo backend needs --mongo-uri or %s_MONGO_URI", envPrefix)
		}
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		closer := func() { _ = client.Disconnect(context.Background()) }
		return cachemongo.New(client.Database(cfg.MongoDatabase)), closer, nil
	case "keyvault":
		if cfg.KeyVaultURL == "" {
			return nil, nil, fmt.Errorf("the keyvault backend needs --keyvault-url or %s_KEYVAULT_URL", envPrefix)
		}
		cred, err := rt.keyVaultCredential(ctx)
		if err != nil {
			return nil, nil, err
		}
		b, err := keyvault.NewFromURL(cfg.KeyVaultURL, cred)
		if err != nil {
			return nil, nil, err
		}
		return b, noop, nil
	}
	return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

// keyVaultCredential signs in to Key Vault with a client whose own cache lives in the OS keyring.
func (rt *runtimeState) keyVaultCredential(ctx context.Context) (azcore.TokenCredential, error) {
	client, err := public.New(rt.cfg.ClientID,
		public.WithAuthority(rt.cfg.Authority),
		public.WithCacheBackend(keyring.New(keyring.WithService(rt.cfg.KeyringService))),
		public.WithCachePartition("keyvault"),
		public.WithLogger(rt.log),
	)
	if err != nil {
		return nil, err
	}
	_, err = client.AcquireTokenSilent(ctx, keyVaultResource)
	if errors.Is(err, public.ErrNoCachedToken) {
		fmt.Fprintln(rt.out, "Sign in to reach the token cache in Key Vault.")
		_, err = deviceCodeLogin(ctx, client, keyVaultResource, rt.out, nil)
	}
	if err != nil {
		return nil, err
	}
	return client.Credential(public.Account{}), nil
}
