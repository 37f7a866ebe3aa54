package auth

import (
	"context"
	"crypto"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

// oidcClaims are the custom claims read from an ID token
type oidcClaims struct {
	Email        string   `json:"email"`
	TenantID     string   `json:"tenant_id"`
	Role         string   `json:"role"`
	Permissions  []string `json:"permissions"`
	OwnerDevice  bool     `json:"owner_device"`
	HomeTenantID string   `json:"home_tenant_id"`
}

// OIDCVerifier validates ID tokens issued by an OpenID Connect provider
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier discovers the provider at issuerURL and verifies tokens
// issued for clientID against its published keys.
func NewOIDCVerifier(ctx context.Context, issuerURL, clientID string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}
	return &OIDCVerifier{
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
	}, nil
}

// NewStaticOIDCVerifier verifies tokens against a fixed set of public keys,
// for deployments that pin keys instead of using discovery.
func NewStaticOIDCVerifier(issuerURL, clientID string, keys ...crypto.PublicKey) *OIDCVerifier {
	keySet := &oidc.StaticKeySet{PublicKeys: keys}
	return &OIDCVerifier{
		verifier: oidc.NewVerifier(issuerURL, keySet, &oidc.Config{ClientID: clientID}),
	}
}

// Verify implements Verifier
func (v *OIDCVerifier) Verify(ctx context.Context, rawToken string) (*Principal, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return nil, ErrNoCredential
	}

	idToken, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	var claims oidcClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: failed to parse claims: %v", ErrInvalidToken, err)
	}
	if idToken.Subject == "" {
		return nil, fmt.Errorf("%w: subject missing", ErrInvalidToken)
	}

	return &Principal{
		UserID:       idToken.Subject,
		Email:        claims.Email,
		TenantID:     strings.TrimSpace(claims.TenantID),
		Role:         claims.Role,
		Permissions:  normalizePermissions(claims.Permissions),
		OwnerDevice:  claims.OwnerDevice,
		HomeTenantID: strings.TrimSpace(claims.HomeTenantID),
		Issuer:       idToken.Issuer,
	}, nil
}
