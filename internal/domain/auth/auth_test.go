package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentity_HasPlan(t *testing.T) {
	id := Identity{UserID: "u1", Plans: []string{"basic", "Plus"}}
	assert.True(t, id.HasPlan("plus"))
	assert.True(t, id.IsMember())
	assert.False(t, id.HasPlan("gold"))
	assert.False(t, Identity{}.IsMember())
}

func TestEmailPolicy_Role(t *testing.T) {
	p := NewEmailPolicy([]string{" Ops@Example.com ", ""})

	assert.Equal(t, RoleMasterVendor, p.Role(Identity{Email: "ops@example.com"}))
	assert.Equal(t, RoleBuyer, p.Role(Identity{Email: "buyer@example.com"}))
	assert.Equal(t, RoleBuyer, p.Role(Identity{}))
}

func TestTokenVerifier_RoundTrip(t *testing.T) {
	v := NewTokenVerifier([]byte("secret"), "bazaar")
	in := Identity{UserID: "u1", Email: "a@b.c", Name: "Asha", Plans: []string{"plus"}}

	tok, err := v.Sign(in, time.Minute)
	require.NoError(t, err)

	out, err := v.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestTokenVerifier_Rejects(t *testing.T) {
	v := NewTokenVerifier([]byte("secret"), "")

	expired, err := v.Sign(Identity{UserID: "u1"}, -time.Minute)
	require.NoError(t, err)

	otherKey, err := NewTokenVerifier([]byte("other"), "").Sign(Identity{UserID: "u1"}, time.Minute)
	require.NoError(t, err)

	noSub, err := v.Sign(Identity{}, time.Minute)
	require.NoError(t, err)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "u1"}).
		SignedString([]byte("secret"))
	require.NoError(t, err)

	for name, tok := range map[string]string{
		"garbage":     "not-a-token",
		"expired":     expired,
		"wrong key":   otherKey,
		"no subject":  noSub,
		"no expiry":   noExp,
		"empty token": "",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(tok)
			require.ErrorIs(t, err, ErrUnauthorized)
		})
	}
}

func TestContextIdentity(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx := WithIdentity(context.Background(), Identity{UserID: "u1"})
	id, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "u1", id.UserID)
}
