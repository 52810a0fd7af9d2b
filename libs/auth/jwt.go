package auth

import (
	"errors"
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims carried by merchant access tokens. Sub is the user id and
// MerchantID the tenant that owns the storefronts the user may manage.
type Claims struct {
	MerchantID string `json:"merchant_id"`
	Role       string `json:"role"`
	jwt.RegisteredClaims
}

// NewClaims builds claims for a merchant user valid for ttl.
func NewClaims(userID, merchantID, role string, ttl time.Duration) Claims {
	now := time.Now()
	return Claims{
		MerchantID: merchantID,
		Role:       role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
}

func SignHS256(claims Claims, secret string) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// Verifier validates HS256 tokens with a shared secret and, when a JWKS
// client is configured, RS256 tokens whose kid resolves to a published key.
type Verifier struct {
	secret []byte
	jwks   *JWKSClient
}

func NewVerifier(secret string, jwks *JWKSClient) *Verifier {
	return &Verifier{secret: []byte(secret), jwks: jwks}
}

func (v *Verifier) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, v.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (v *Verifier) keyFunc(t *jwt.Token) (any, error) {
	switch t.Method.Alg() {
	case jwt.SigningMethodHS256.Alg():
		if len(v.secret) == 0 {
			return nil, errors.New("hs256 secret not configured")
		}
		return v.secret, nil
	case jwt.SigningMethodRS256.Alg():
		if v.jwks == nil {
			return nil, errors.New("jwks not configured")
		}
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		return v.jwks.Get(kid)
	default:
		return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
	}
}
