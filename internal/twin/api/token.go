package api

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	cookieName  = "cart"
	tokenIssuer = "twin-shopcart"
	// DefaultCartTTL is how long a cart cookie stays valid.
	DefaultCartTTL = 14 * 24 * time.Hour
)

// TokenIssuer signs and verifies the HS256 cart cookie. Expiry is checked
// against now, so advancing the twin's simulated clock expires carts.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates an issuer. An empty secret generates a random one;
// ttl <= 0 uses DefaultCartTTL; now defaults to time.Now.
func NewTokenIssuer(secret []byte, ttl time.Duration, now func() time.Time) (*TokenIssuer, error) {
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generating cart secret: %w", err)
		}
	}
	if ttl <= 0 {
		ttl = DefaultCartTTL
	}
	if now == nil {
		now = time.Now
	}
	return &TokenIssuer{secret: secret, ttl: ttl, now: now}, nil
}

// Issue signs cartToken into a cookie value.
func (ti *TokenIssuer) Issue(cartToken string) (string, time.Time, error) {
	now := ti.now()
	exp := now.Add(ti.ttl)
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   cartToken,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ti.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing cart token: %w", err)
	}
	return signed, exp, nil
}

// Parse verifies a cookie value and returns the cart token it carries.
func (ti *TokenIssuer) Parse(signed string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(signed, claims,
		func(*jwt.Token) (any, error) { return ti.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(ti.now),
	)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errors.New("cart token has no subject")
	}
	return claims.Subject, nil
}

// cookie builds the cart cookie. The browser-side expiry uses wall time; the
// simulated expiry lives in the signed claims.
func (ti *TokenIssuer) cookie(cartToken string) (*http.Cookie, error) {
	signed, _, err := ti.Issue(cartToken)
	if err != nil {
		return nil, err
	}
	return &http.Cookie{
		Name:     cookieName,
		Value:    signed,
		Path:     "/",
		Expires:  time.Now().Add(ti.ttl),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}, nil
}
