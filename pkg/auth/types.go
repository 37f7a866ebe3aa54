package auth

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNoCredential is returned when the request carries no bearer token
	ErrNoCredential = errors.New("no credential presented")

	// ErrInvalidToken indicates the token failed validation
	ErrInvalidToken = errors.New("invalid token")
)

// Principal is the authenticated caller. Only UserID is guaranteed; the other
// fields come from optional token claims.
type Principal struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`

	// TenantID is the tenant the token was issued for, if any
	TenantID string `json:"tenant_id,omitempty"`

	// Role and Permissions are hints carried by the token. The membership
	// store stays authoritative.
	Role        string   `json:"role,omitempty"`
	Permissions []string `json:"permissions,omitempty"`

	// OwnerDevice marks a token minted for a device registered to the
	// deployment owner.
	OwnerDevice bool `json:"owner_device,omitempty"`

	// HomeTenantID is the tenant an owner device belongs to
	HomeTenantID string `json:"home_tenant_id,omitempty"`

	// Issuer identifies which verifier accepted the token
	Issuer string `json:"issuer,omitempty"`
}

// HasClaimPermissions reports whether the token carried a permission list
func (p *Principal) HasClaimPermissions() bool {
	return p != nil && len(p.Permissions) > 0
}

// Clone returns a deep copy
func (p *Principal) Clone() *Principal {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Permissions = append([]string(nil), p.Permissions...)
	return &cp
}

// Verifier turns a raw bearer token into a Principal
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (*Principal, error)
}

// VerifierFunc adapts a function to Verifier
type VerifierFunc func(ctx context.Context, rawToken string) (*Principal, error)

// Verify calls f
func (f VerifierFunc) Verify(ctx context.Context, rawToken string) (*Principal, error) {
	return f(ctx, rawToken)
}

// Chain tries each verifier in order and returns the first success
type Chain []Verifier

// Verify implements Verifier
func (c Chain) Verify(ctx context.Context, rawToken string) (*Principal, error) {
	if strings.TrimSpace(rawToken) == "" {
		return nil, ErrNoCredential
	}
	for _, v := range c {
		if p, err := v.Verify(ctx, rawToken); err == nil {
			return p, nil
		}
	}
	return nil, ErrInvalidToken
}

// normalizePermissions trims, drops empties and de-duplicates while keeping order
func normalizePermissions(perms []string) []string {
	if len(perms) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(perms))
	var out []string
	for _, p := range perms {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
