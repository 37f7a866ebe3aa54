// Package auth turns request credentials into a Principal.
//
// # Verifiers
//
// A Verifier validates a raw bearer token and returns the caller identity
// together with any optional claims the token carries:
//
//   - JWTVerifier: HS256 tokens signed with a shared secret. Issuer, expiry and
//     subject are required.
//   - OIDCVerifier: ID tokens from an OpenID Connect provider, either through
//     discovery or against a pinned key set.
//   - Chain: tries several verifiers in order.
//
// Token claims such as tenant_id, role and permissions are hints. The
// authorization engine only trusts a permission claim when the caller opts
// into the claim fast path and strict mode is off.
//
//	v, err := auth.NewJWTVerifier(secret, "tenantguard")
//	principal, err := v.Verify(ctx, auth.BearerToken(r))
//
// # API Keys
//
// Tenant API keys have the form tg_<base64url(32 random bytes)>. Only the hex
// SHA-256 of a key is stored; HashAPIKey produces the lookup form.
//
//	key, hash, err := auth.GenerateAPIKey()
//	// hand key to the client once, persist hash
package auth
