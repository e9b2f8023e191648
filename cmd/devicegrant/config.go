// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/cobra"
)

const envPrefix = "DEVICEGRANT"

// config is read from DEVICEGRANT_* environment variables. Flags override it.
type config struct {
	ClientID  string `envconfig:"CLIENT_ID"`
	Authority string `envconfig:"AUTHORITY" default:"https://login.microsoftonline.com/common"`
	Resource  string `envconfig:"RESOURCE"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"warn"`

	Backend    string `envconfig:"BACKEND" default:"file"`
	Partition  string `envconfig:"PARTITION"`
	CacheDir   string `envconfig:"CACHE_DIR"`
	Passphrase string `envconfig:"PASSPHRASE"`

	KeyringService string `envconfig:"KEYRING_SERVICE" default:"devicegrant"`
	RedisURL       string `envconfig:"REDIS_URL"`
	MongoURI       string `envconfig:"MONGO_URI"`
	MongoDatabase  string `envconfig:"MONGO_DATABASE" default:"devicegrant"`
	KeyVaultURL    string `envconfig:"KEYVAULT_URL"`
}

// flagBinding ties a persistent flag to a config field.
type flagBinding struct {
	name  string
	usage string
	field func(c *config) *string
}

var flagBindings = []flagBinding{
	{"client-id", "Application (client) ID", func(c *config) *string { return &c.ClientID }},
	{"authority", "Authority URI, including the tenant", func(c *config) *string { return &c.Authority }},
	{"resource", "Resource to request tokens for", func(c *config) *string { return &c.Resource }},
	{"log-level", "Log level: debug, info, warn or error", func(c *config) *string { return &c.LogLevel }},
	{"backend", "Token cache backend: memory, file, keyring, redis, mongo or keyvault", func(c *config) *string { return &c.Backend }},
	{"partition", "Token cache partition", func(c *config) *string { return &c.Partition }},
	{"cache-dir", "Directory of the file backend", func(c *config) *string { return &c.CacheDir }},
	{"redis-url", "Redis URL of the redis backend", func(c *config) *string { return &c.RedisURL }},
	{"mongo-uri", "MongoDB URI of the mongo backend", func(c *config) *string { return &c.MongoURI }},
	{"mongo-database", "MongoDB database of the mongo backend", func(c *config) *string { return &c.MongoDatabase }},
	{"keyvault-url", "Vault URL of the keyvault backend", func(c *config) *string { return &c.KeyVaultURL }},
}

// flagValues holds the values of the persistent flags before they are merged into a config.
type flagValues map[string]*string

func bindFlags(cmd *cobra.Command) flagValues {
	values := flagValues{}
	for _, b := range flagBindings {
		v := new(string)
		cmd.PersistentFlags().StringVar(v, b.name, "", b.usage)
		values[b.name] = v
	}
	return values
}

// loadConfig reads the environment and applies the flags that were set on cmd.
func loadConfig(cmd *cobra.Command, values flagValues) (config, error) {
	var cfg config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return config{}, fmt.Errorf("reading %s_* environment: %w", envPrefix, err)
	}
	for _, b := range flagBindings {
		if cmd.Flags().Changed(b.name) {
			*b.field(&cfg) = *values[b.name]
		}
	}
	if cfg.ClientID == "" {
		return config{}, fmt.Errorf("a client ID is required, set --client-id or %s_CLIENT_ID", envPrefix)
	}
	return cfg, nil
}

func (c config) logLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}
