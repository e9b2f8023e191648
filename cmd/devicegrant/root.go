// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/devicegrant/devicegrant-go/apps/cache"
	"github.com/devicegrant/devicegrant-go/apps/public"
	"github.com/pkg/browser"
	"github.com/spf13/cobra"
)

// Options replaces parts of the command's environment, for tests.
type Options struct {
	Out        io.Writer
	Backend    cache.Backend
	HTTPClient public.HTTPClient
	OpenURL    func(url string) error
}

type runtimeState struct {
	opts   Options
	out    io.Writer
	cfg    config
	log    *slog.Logger
	client public.Client
	close  func()
}

func newRootCommand(opts Options) *cobra.Command {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.OpenURL == nil {
		opts.OpenURL = browser.OpenURL
	}
	rt := &runtimeState{opts: opts, out: opts.Out, close: func() {}}

	var flags flagValues
	root := &cobra.Command{
		Use:           "devicegrant",
		Short:         "Sign in with a device code and manage the token cache",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			rt.cfg = cfg

			level, err := cfg.logLevel()
			if err != nil {
				return err
			}
			rt.log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

			backend, closer, err := rt.openBackend(cmd.Context())
			if err != nil {
				return err
			}
			rt.close = closer

			clientOpts := []public.Option{
				public.WithAuthority(cfg.Authority),
				public.WithCacheBackend(backend),
				public.WithCachePartition(cfg.Partition),
				public.WithLogger(rt.log),
			}
			if opts.HTTPClient != nil {
				clientOpts = append(clientOpts, public.WithHTTPClient(opts.HTTPClient))
			}
			rt.client, err = public.New(cfg.ClientID, clientOpts...)
			return err
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			rt.close()
		},
	}
	flags = bindFlags(root)
	root.SetOut(opts.Out)

	root.AddCommand(
		newLoginCommand(rt),
		newAccountsCommand(rt),
		newTokensCommand(rt),
		newClearCommand(rt),
		newRemoveAccountCommand(rt),
	)
	return root
}

// deviceCodeLogin runs the device code flow for resource, printing the instructions to out. A
// non-nil openURL is given the verification URL.
func deviceCodeLogin(ctx context.Context, client public.Client, resource string, out io.Writer, openURL func(string) error) (public.AuthResult, error) {
	dc, err := client.AcquireTokenByDeviceCode(ctx, resource)
	if err != nil {
		return public.AuthResult{}, err
	}
	fmt.Fprintln(out, dc.Result.Message)
	if openURL != nil {
		if err := openURL(dc.Result.VerificationURL); err != nil {
			fmt.Fprintf(out, "Could not open a browser: %v\n", err)
		}
	}
	return dc.AuthenticationResult(ctx)
}

func newLoginCommand(rt *runtimeState) *cobra.Command {
	var open bool
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with a device code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if rt.cfg.Resource == "" {
				return fmt.Errorf("a resource is required, set --resource or %s_RESOURCE", envPrefix)
			}
			var openURL func(string) error
			if open {
				openURL = rt.opts.OpenURL
			}
			ar, err := deviceCodeLogin(cmd.Context(), rt.client, rt.cfg.Resource, rt.out, openURL)
			if err != nil {
				return err
			}
			name := ar.Account.DisplayableID
			if name == "" {
				name = ar.Account.HomeAccountID
			}
			fmt.Fprintf(rt.out, "Signed in as %s. The access token expires at %s.\n", name, ar.ExpiresOn.Format("2006-01-02 15:04:05 MST"))
			return nil
		},
	}
	cmd.Flags().BoolVar(&open, "open", false, "Open the verification URL in a browser")
	return cmd
}

func newAccountsCommand(rt *runtimeState) *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List the accounts in the token cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			accounts, err := rt.client.Accounts(cmd.Context())
			if err != nil {
				return err
			}
			if len(accounts) == 0 {
				fmt.Fprintln(rt.out, "No accounts.")
				return nil
			}
			w := tabwriter.NewWriter(rt.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "USERNAME\tNAME\tHOME ACCOUNT ID\tENVIRONMENT\tTENANT")
			for _, a := range accounts {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", a.DisplayableID, a.Name, a.HomeAccountID, a.Environment, a.Realm)
			}
			return w.Flush()
		},
	}
}

func newTokensCommand(rt *runtimeState) *cobra.Command {
	return &cobra.Command{
		Use:   "tokens",
		Short: "Count the entries in each store of the token cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			counts, err := rt.client.CacheCounts(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(rt.out, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "access tokens\t%d\n", counts.AccessTokens)
			fmt.Fprintf(w, "refresh tokens\t%d\n", counts.RefreshTokens)
			fmt.Fprintf(w, "id tokens\t%d\n", counts.IDTokens)
			fmt.Fprintf(w, "accounts\t%d\n", counts.Accounts)
			return w.Flush()
		},
	}
}

func newClearCommand(rt *runtimeState) *cobra.Command {
	var accessTokens, refreshTokens bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear the token cache, or one of its stores",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			var err error
			switch {
			case accessTokens:
				err = rt.client.ClearAccessTokens(ctx)
			case refreshTokens:
				err = rt.client.ClearRefreshTokens(ctx)
			default:
				err = rt.client.ClearCache(ctx)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(rt.out, "Cleared.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&accessTokens, "access-tokens", false, "Clear only access tokens")
	cmd.Flags().BoolVar(&refreshTokens, "refresh-tokens", false, "Clear only refresh tokens")
	cmd.MarkFlagsMutuallyExclusive("access-tokens", "refresh-tokens")
	return cmd
}

func newRemoveAccountCommand(rt *runtimeState) *cobra.Command {
	return &cobra.Command{
		Use:   "remove-account <username|home-account-id>",
		Short: "Remove an account from the token cache. Its tokens are kept.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			accounts, err := rt.client.Accounts(cmd.Context())
			if err != nil {
				return err
			}
			removed := 0
			for _, a := range accounts {
				if strings.EqualFold(a.DisplayableID, args[0]) || strings.EqualFold(a.HomeAccountID, args[0]) {
					if err := rt.client.RemoveAccount(cmd.Context(), a); err != nil {
						return err
					}
					removed++
				}
			}
			if removed == 0 {
				return fmt.Errorf("no account matches %q", args[0])
			}
			fmt.Fprintf(rt.out, "Removed %d account(s).\n", removed)
			return nil
		},
	}
}
