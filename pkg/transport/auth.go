package transport

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// clientClaims is the JWT payload a hivemesh client's auth token carries:
// a stable client identity plus whatever opaque metadata the caller
// wants echoed back into the client's Metadata (spec §4.F's
// authenticate(token, metadata) hook).
type clientClaims struct {
	jwt.RegisteredClaims
	ClientID string                 `json:"clientId,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// NewJWTAuthenticator builds an Authenticator that verifies the auth
// frame's token as an HMAC-signed JWT, grounded on the teacher's
// internal/auth/jwt.go ValidateToken flow (parse-with-claims, reject
// unexpected signing methods, check expiry) but adapted to the single
// shared-secret/symmetric-key shape this package's pluggable hook needs
// rather than the teacher's full RSA key-pair/refresh-token apparatus.
// Claims in the token's own metadata take precedence over the auth
// frame's inline metadata when both are present; the caller must pass a
// non-nil metadata map for the merge to be observable (Server.awaitAuth
// always does).
func NewJWTAuthenticator(secret []byte) Authenticator {
	return func(token string, metadata map[string]interface{}) (bool, error) {
		if token == "" {
			return false, fmt.Errorf("empty token")
		}
		claims := &clientClaims{}
		parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return secret, nil
		})
		if err != nil {
			return false, fmt.Errorf("parse token: %w", err)
		}
		if !parsed.Valid {
			return false, fmt.Errorf("invalid token")
		}
		if claims.Metadata != nil && metadata != nil {
			for k, v := range claims.Metadata {
				metadata[k] = v
			}
		}
		return true, nil
	}
}

// IssueClientToken signs a token carrying clientID and metadata, valid
// for ttl. It is the counterpart callers (tests, trusted admission
// services) use to mint tokens that NewJWTAuthenticator accepts.
func IssueClientToken(secret []byte, clientID string, metadata map[string]interface{}, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &clientClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   clientID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		ClientID: clientID,
		Metadata: metadata,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(secret)
}
