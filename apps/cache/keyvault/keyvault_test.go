// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package keyvault

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
	"github.com/kylelemons/godebug/pretty"
)

// fakeSecrets keeps the latest version of each secret.
type fakeSecrets struct {
	mu      sync.Mutex
	secrets map[string]string
	sets    int
	getErr  error
}

func newFakeSecrets() *fakeSecrets {
	return &fakeSecrets{secrets: map[string]string{}}
}

func (f *fakeSecrets) GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return azsecrets.GetSecretResponse{}, f.getErr
	}
	v, ok := f.secrets[name]
	if !ok {
		return azsecrets.GetSecretResponse{}, &azcore.ResponseError{StatusCode: http.StatusNotFound, ErrorCode: "SecretNotFound"}
	}
	return azsecrets.GetSecretResponse{Secret: azsecrets.Secret{Value: &v}}, nil
}

func (f *fakeSecrets) SetSecret(ctx context.Context, name string, parameters azsecrets.SetSecretParameters, options *azsecrets.SetSecretOptions) (azsecrets.SetSecretResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets++
	f.secrets[name] = *parameters.Value
	return azsecrets.SetSecretResponse{Secret: azsecrets.Secret{Value: parameters.Value}}, nil
}

func TestNamespace(t *testing.T) {
	ctx := context.Background()
	secrets := newFakeSecrets()
	b := New(secrets)

	ns, err := b.Namespace(ctx, "p.tenant.accesstoken")
	if err != nil {
		t.Fatalf("TestNamespace: got err == %s, want err == nil", err)
	}
	for k, v := range map[string]string{"a": "1", "b": "2"} {
		if err := ns.Put(ctx, k, v); err != nil {
			t.Fatalf("TestNamespace(Put): got err == %s, want err == nil", err)
		}
	}
	if _, ok := secrets.secrets["devicegrant-p-tenant-accesstoken"]; !ok {
		t.Errorf("TestNamespace: secret devicegrant-p-tenant-accesstoken was not written, have %v", secrets.secrets)
	}

	got, err := ns.GetAll(ctx)
	if err != nil {
		t.Fatalf("TestNamespace(GetAll): got err == %s, want err == nil", err)
	}
	if diff := pretty.Compare(map[string]string{"a": "1", "b": "2"}, got); diff != "" {
		t.Errorf("TestNamespace(GetAll): -want/+got:\n%s", diff)
	}

	if err := ns.Remove(ctx, "a"); err != nil {
		t.Fatalf("TestNamespace(Remove): got err == %s, want err == nil", err)
	}
	sets := secrets.sets
	if err := ns.Remove(ctx, "missing"); err != nil {
		t.Fatalf("TestNamespace(Remove missing): got err == %s, want err == nil", err)
	}
	if secrets.sets != sets {
		t.Errorf("TestNamespace(Remove missing): removing a missing key wrote a new version")
	}

	for i := 0; i < 2; i++ {
		if err := ns.Clear(ctx); err != nil {
			t.Fatalf("TestNamespace(Clear): got err == %s, want err == nil", err)
		}
	}
	if got, _ := ns.GetAll(ctx); len(got) != 0 {
		t.Errorf("TestNamespace(Clear): got %v, want empty", got)
	}
}

func TestSecretName(t *testing.T) {
	tests := map[string]string{
		"devicegrant-accesstoken":    "devicegrant-accesstoken",
		"devicegrant-p.x_y.idtoken":  "devicegrant-p-x-y-idtoken",
		"devicegrant-p.user@host.rt": "devicegrant-p-user-host-rt",
	}
	for in, want := range tests {
		if got := secretName(in); got != want {
			t.Errorf("TestSecretName(%s): got %q, want %q", in, got, want)
		}
	}
}

func TestUnreachableVault(t *testing.T) {
	secrets := newFakeSecrets()
	secrets.getErr = &azcore.ResponseError{StatusCode: http.StatusForbidden, ErrorCode: "Forbidden"}

	_, err := New(secrets).Namespace(context.Background(), "account")
	var respErr *azcore.ResponseError
	if !errors.As(err, &respErr) {
		t.Errorf("TestUnreachableVault: got %v, want an *azcore.ResponseError", err)
	}
}
