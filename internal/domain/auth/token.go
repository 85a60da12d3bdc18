package auth

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"
)

// Claims is the bearer token payload issued by the identity provider.
type Claims struct {
	Email string   `json:"email,omitempty"`
	Name  string   `json:"name,omitempty"`
	Plans []string `json:"plans,omitempty"`
	jwt.RegisteredClaims
}

// TokenVerifier validates HS256 bearer tokens.
type TokenVerifier struct {
	secret []byte
	issuer string
}

// NewTokenVerifier creates a verifier. An empty issuer disables the issuer check.
func NewTokenVerifier(secret []byte, issuer string) *TokenVerifier {
	return &TokenVerifier{secret: secret, issuer: issuer}
}

// Verify parses the token and returns the identity it asserts.
func (v *TokenVerifier) Verify(token string) (Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return Identity{}, errors.Wrap(ErrUnauthorized, err.Error())
	}
	if claims.Subject == "" {
		return Identity{}, errors.Wrap(ErrUnauthorized, "missing subject")
	}

	return Identity{
		UserID: claims.Subject,
		Email:  claims.Email,
		Name:   claims.Name,
		Plans:  claims.Plans,
	}, nil
}

// Sign issues a token for id valid for ttl. Used by tooling and tests.
func (v *TokenVerifier) Sign(id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email: id.Email,
		Name:  id.Name,
		Plans: id.Plans,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return s, nil
}
