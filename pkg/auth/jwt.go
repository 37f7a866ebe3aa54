package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the token payload understood by the HS256 verifier
type Claims struct {
	Email        string   `json:"email,omitempty"`
	TenantID     string   `json:"tenant_id,omitempty"`
	Role         string   `json:"role,omitempty"`
	Permissions  []string `json:"permissions,omitempty"`
	OwnerDevice  bool     `json:"owner_device,omitempty"`
	HomeTenantID string   `json:"home_tenant_id,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HS256 tokens signed with a shared secret
type JWTVerifier struct {
	secret []byte
	issuer string
	leeway time.Duration
	now    func() time.Time
}

// NewJWTVerifier creates a verifier. issuer is required on every token.
func NewJWTVerifier(secret, issuer string) (*JWTVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("jwt secret is not configured")
	}
	if issuer == "" {
		return nil, errors.New("jwt issuer is required")
	}
	return &JWTVerifier{
		secret: []byte(secret),
		issuer: issuer,
		leeway: 5 * time.Second,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Issue signs a token for p, valid for ttl
func (v *JWTVerifier) Issue(p *Principal, ttl time.Duration) (string, error) {
	if p == nil || strings.TrimSpace(p.UserID) == "" {
		return "", errors.New("userID is required")
	}
	if ttl <= 0 {
		return "", errors.New("ttl must be greater than zero")
	}

	now := v.now()
	claims := Claims{
		Email:        p.Email,
		TenantID:     p.TenantID,
		Role:         p.Role,
		Permissions:  normalizePermissions(p.Permissions),
		OwnerDevice:  p.OwnerDevice,
		HomeTenantID: p.HomeTenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			Subject:   p.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature, issuer and timestamps of rawToken
func (v *JWTVerifier) Verify(_ context.Context, rawToken string) (*Principal, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return nil, ErrNoCredential
	}

	parsed, err := jwt.ParseWithClaims(rawToken, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	},
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: subject missing", ErrInvalidToken)
	}

	return &Principal{
		UserID:       claims.Subject,
		Email:        claims.Email,
		TenantID:     strings.TrimSpace(claims.TenantID),
		Role:         claims.Role,
		Permissions:  normalizePermissions(claims.Permissions),
		OwnerDevice:  claims.OwnerDevice,
		HomeTenantID: strings.TrimSpace(claims.HomeTenantID),
		Issuer:       claims.Issuer,
	}, nil
}
