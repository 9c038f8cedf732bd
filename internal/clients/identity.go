package clients

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/noah-isme/uni-onboarding-api/pkg/config"
)

// IdentityProfile carries the attributes sent when creating an account.
// The engine owns the credential; the provider stores what it is given.
type IdentityProfile struct {
	FullName   string `json:"full_name"`
	Email      string `json:"email"`
	Credential string `json:"credential"`
}

// IdentityAccount describes a provider account.
type IdentityAccount struct {
	ID        string `json:"id"`
	Principal string `json:"principal"`
	Active    bool   `json:"active"`
}

// IdentityClient consumes the external identity provider.
type IdentityClient struct {
	http httpClient
}

// NewIdentityClient builds an identity client.
func NewIdentityClient(cfg config.ClientConfig) *IdentityClient {
	return &IdentityClient{http: newHTTPClient(cfg)}
}

// FindOrCreate creates the account for a principal, falling back to a lookup
// when the provider reports it already exists (HTTP 409). The boolean result
// reports whether a new account was created.
func (c *IdentityClient) FindOrCreate(ctx context.Context, principal string, profile IdentityProfile) (*IdentityAccount, bool, error) {
	body := struct {
		Principal string `json:"principal"`
		IdentityProfile
	}{Principal: principal, IdentityProfile: profile}

	var out IdentityAccount
	status, err := c.http.doJSON(ctx, http.MethodPost, "/accounts", body, &out)
	if err != nil {
		return nil, false, err
	}
	switch status {
	case http.StatusOK, http.StatusCreated:
		return &out, true, nil
	case http.StatusConflict:
		account, err := c.Get(ctx, principal)
		if err != nil {
			return nil, false, fmt.Errorf("account exists but lookup failed: %w", err)
		}
		return account, false, nil
	default:
		return nil, false, fmt.Errorf("create account %s: unexpected status %d", principal, status)
	}
}

// Get fetches an account by principal name. Returns ErrNotFound when the
// provider has no such account.
func (c *IdentityClient) Get(ctx context.Context, principal string) (*IdentityAccount, error) {
	var out IdentityAccount
	status, err := c.http.doJSON(ctx, http.MethodGet, "/accounts/"+url.PathEscape(principal), nil, &out)
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
		return &out, nil
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("get account %s: unexpected status %d", principal, status)
	}
}

// ResetCredential replaces the stored credential for a principal.
func (c *IdentityClient) ResetCredential(ctx context.Context, principal, credential string) error {
	body := struct {
		Credential string `json:"credential"`
	}{Credential: credential}

	status, err := c.http.doJSON(ctx, http.MethodPut, "/accounts/"+url.PathEscape(principal)+"/credential", body, nil)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return ErrNotFound
	default:
		return fmt.Errorf("reset credential %s: unexpected status %d", principal, status)
	}
}

// Delete removes an account. The caller is responsible for the sandbox
// gate; the provider is expected to enforce it as well.
func (c *IdentityClient) Delete(ctx context.Context, principal string) error {
	status, err := c.http.doJSON(ctx, http.MethodDelete, "/accounts/"+url.PathEscape(principal), nil, nil)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return ErrNotFound
	default:
		return fmt.Errorf("delete account %s: unexpected status %d", principal, status)
	}
}

// AssignEntitlement grants a license or role to an account id.
func (c *IdentityClient) AssignEntitlement(ctx context.Context, accountID, entitlement string) error {
	body := struct {
		Entitlement string `json:"entitlement"`
	}{Entitlement: entitlement}

	status, err := c.http.doJSON(ctx, http.MethodPost, "/accounts/"+url.PathEscape(accountID)+"/entitlements", body, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusCreated && status != http.StatusNoContent {
		return fmt.Errorf("assign entitlement %s: unexpected status %d", accountID, status)
	}
	return nil
}
