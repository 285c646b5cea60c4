package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJWTAuthenticatorAcceptsValidToken(t *testing.T) {
	secret := []byte("test-secret")
	token, err := IssueClientToken(secret, "client-1", map[string]interface{}{"tenant": "acme"}, time.Minute)
	require.NoError(t, err)

	authn := NewJWTAuthenticator(secret)
	metadata := map[string]interface{}{}
	ok, err := authn(token, metadata)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "acme", metadata["tenant"])
}

func TestJWTAuthenticatorRejectsBadSignature(t *testing.T) {
	token, err := IssueClientToken([]byte("right-secret"), "client-1", nil, time.Minute)
	require.NoError(t, err)

	authn := NewJWTAuthenticator([]byte("wrong-secret"))
	ok, err := authn(token, map[string]interface{}{})
	require.Error(t, err)
	require.False(t, ok)
}

func TestJWTAuthenticatorRejectsExpiredToken(t *testing.T) {
	secret := []byte("test-secret")
	token, err := IssueClientToken(secret, "client-1", nil, -time.Minute)
	require.NoError(t, err)

	authn := NewJWTAuthenticator(secret)
	ok, err := authn(token, map[string]interface{}{})
	require.Error(t, err)
	require.False(t, ok)
}

func TestJWTAuthenticatorRejectsEmptyToken(t *testing.T) {
	authn := NewJWTAuthenticator([]byte("test-secret"))
	ok, err := authn("", map[string]interface{}{})
	require.Error(t, err)
	require.False(t, ok)
}
