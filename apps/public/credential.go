// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package public

import (
	"context"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
)

type credential struct {
	client  Client
	account Account
}

// GetToken implements azcore.TokenCredential.GetToken(). The single scope is mapped to a resource
// by dropping a "/.default" suffix.
func (c credential) GetToken(ctx context.Context, options policy.TokenRequestOptions) (azcore.AccessToken, error) {
	if len(options.Scopes) != 1 {
		return azcore.AccessToken{}, fmt.Errorf("credential supports exactly one scope, got %d", len(options.Scopes))
	}
	resource := strings.TrimSuffix(options.Scopes[0], "/.default")

	ar, err := c.client.AcquireTokenSilent(ctx, resource, WithSilentAccount(c.account))
	if err != nil {
		return azcore.AccessToken{}, err
	}
	return azcore.AccessToken{Token: ar.AccessToken, ExpiresOn: ar.ExpiresOn}, nil
}

// Credential returns an azcore.TokenCredential serving cached tokens of account to Azure SDK
// clients. The zero Account selects the only signed in user.
func (pca Client) Credential(account Account) azcore.TokenCredential {
	return credential{client: pca, account: account}
}
