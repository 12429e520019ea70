package gateway

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the fixed claim shape of a session token: the session id,
// descriptive connection metadata captured at mint
// time, and a standard expiry. user_agent/ip_address are carried for
// diagnostics only, never consulted for authorization.
type Claims struct {
	UUID      string `json:"uuid"`
	UserAgent string `json:"user_agent"`
	IPAddress string `json:"ip_address"`
	jwt.RegisteredClaims
}

// tokenIssuer mints and verifies HS256 session tokens against a single
// process-wide secret (jwt_secret is required; there is no compiled-in
// default).
type tokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

func newTokenIssuer(secret string, ttl time.Duration) *tokenIssuer {
	return &tokenIssuer{secret: []byte(secret), ttl: ttl}
}

// mint signs a new token for sessionID, binding the caller's user agent
// and remote address as descriptive claims.
func (i *tokenIssuer) mint(sessionID, userAgent, remoteAddr string) (string, error) {
	now := time.Now()
	claims := Claims{
		UUID:      sessionID,
		UserAgent: userAgent,
		IPAddress: remoteAddr,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// verify parses and validates a token, returning its claims. Signature
// mismatch, algorithm confusion, and expiry are all rejected by
// jwt.ParseWithClaims itself; the HS256-only key function additionally
// refuses any token signed with a different algorithm.
func (i *tokenIssuer) verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return i.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}
