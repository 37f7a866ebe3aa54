package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJWTVerifier(t *testing.T) *JWTVerifier {
	t.Helper()
	v, err := NewJWTVerifier("test-secret", "tenantguard")
	require.NoError(t, err)
	return v
}

func TestNewJWTVerifier_Validation(t *testing.T) {
	_, err := NewJWTVerifier("  ", "tenantguard")
	assert.Error(t, err)

	_, err = NewJWTVerifier("secret", "")
	assert.Error(t, err)
}

func TestJWTVerifier_RoundTrip(t *testing.T) {
	v := newTestJWTVerifier(t)

	token, err := v.Issue(&Principal{
		UserID:       "user-1",
		Email:        "alice@example.com",
		TenantID:     "t1",
		Role:         "manager",
		Permissions:  []string{"Inventory:Write", "inventory:write", " reports:read "},
		OwnerDevice:  true,
		HomeTenantID: "t0",
	}, time.Hour)
	require.NoError(t, err)

	p, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", p.UserID)
	assert.Equal(t, "alice@example.com", p.Email)
	assert.Equal(t, "t1", p.TenantID)
	assert.Equal(t, "manager", p.Role)
	assert.Equal(t, []string{"inventory:write", "reports:read"}, p.Permissions)
	assert.True(t, p.OwnerDevice)
	assert.Equal(t, "t0", p.HomeTenantID)
	assert.Equal(t, "tenantguard", p.Issuer)
}

func TestJWTVerifier_Rejects(t *testing.T) {
	v := newTestJWTVerifier(t)
	ctx := context.Background()

	other, err := NewJWTVerifier("other-secret", "tenantguard")
	require.NoError(t, err)
	wrongSecret, err := other.Issue(&Principal{UserID: "user-1"}, time.Hour)
	require.NoError(t, err)

	foreign, err := NewJWTVerifier("test-secret", "someone-else")
	require.NoError(t, err)
	wrongIssuer, err := foreign.Issue(&Principal{UserID: "user-1"}, time.Hour)
	require.NoError(t, err)

	past := time.Now().Add(-2 * time.Hour)
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "tenantguard",
			Subject:   "user-1",
			IssuedAt:  jwt.NewNumericDate(past),
			ExpiresAt: jwt.NewNumericDate(past.Add(time.Hour)),
		},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "tenantguard", Subject: "user-1"},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "tenantguard",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	tests := map[string]string{
		"wrong secret": wrongSecret,
		"wrong issuer": wrongIssuer,
		"expired":      expired,
		"no expiry":    noExpiry,
		"no subject":   noSubject,
		"garbage":      "not-a-jwt",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(ctx, token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}

	_, err = v.Verify(ctx, "")
	assert.ErrorIs(t, err, ErrNoCredential)
}

func TestJWTVerifier_RejectsOtherAlgorithms(t *testing.T) {
	v := newTestJWTVerifier(t)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "tenantguard",
			Subject:   "user-1",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTVerifier_IssueValidation(t *testing.T) {
	v := newTestJWTVerifier(t)

	_, err := v.Issue(&Principal{}, time.Hour)
	assert.Error(t, err)

	_, err = v.Issue(&Principal{UserID: "u"}, 0)
	assert.Error(t, err)
}

func TestChain(t *testing.T) {
	v := newTestJWTVerifier(t)
	token, err := v.Issue(&Principal{UserID: "user-1"}, time.Hour)
	require.NoError(t, err)

	reject := VerifierFunc(func(context.Context, string) (*Principal, error) {
		return nil, ErrInvalidToken
	})

	chain := Chain{reject, v}
	p, err := chain.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", p.UserID)

	_, err = Chain{reject}.Verify(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = chain.Verify(context.Background(), " ")
	assert.ErrorIs(t, err, ErrNoCredential)
}

func TestPrincipal_Clone(t *testing.T) {
	p := &Principal{UserID: "u", Permissions: []string{"inventory:read"}}
	cp := p.Clone()
	cp.Permissions[0] = "inventory:write"

	assert.Equal(t, "inventory:read", p.Permissions[0])
	assert.True(t, p.HasClaimPermissions())
	assert.False(t, (&Principal{}).HasClaimPermissions())
	assert.Nil(t, (*Principal)(nil).Clone())
}
