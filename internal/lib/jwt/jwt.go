// Package jwt issues and verifies the signed, expiring tokens handed out by
// the service: access tokens (subject = username) and password-reset tokens
// (subject = email).
package jwt

import (
	"errors"
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken covers bad signatures, unexpected algorithms, malformed
// tokens, expired tokens and tokens of the wrong kind alike.
var ErrInvalidToken = errors.New("invalid token")

type Kind string

const (
	KindAccess        Kind = "access"
	KindPasswordReset Kind = "password_reset"
)

type Claims struct {
	Kind Kind `json:"kind"`
	jwtlib.RegisteredClaims
}

type Codec struct {
	secret []byte
	method *jwtlib.SigningMethodHMAC
	now    func() time.Time
}

type Option func(*Codec)

// WithClock overrides the time source used for issuing and validating tokens.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		c.now = now
	}
}

func New(secret, algorithm string, opts ...Option) (*Codec, error) {
	const op = "jwt.New"

	if secret == "" {
		return nil, fmt.Errorf("%s: empty signing secret", op)
	}

	method, ok := jwtlib.GetSigningMethod(algorithm).(*jwtlib.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("%s: unsupported signing algorithm %q", op, algorithm)
	}

	c := &Codec{
		secret: []byte(secret),
		method: method,
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

func (c *Codec) Encode(kind Kind, subject string, ttl time.Duration) (string, error) {
	const op = "jwt.Encode"

	now := c.now()

	token := jwtlib.NewWithClaims(c.method, Claims{
		Kind: kind,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
		},
	})

	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return signed, nil
}

// Decode verifies tokenStr and returns its claims. The subject is not
// checked for presence; callers decide what an empty subject means.
func (c *Codec) Decode(tokenStr string, kind Kind) (*Claims, error) {
	claims := &Claims{}

	parsed, err := jwtlib.ParseWithClaims(tokenStr, claims,
		func(t *jwtlib.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return c.secret, nil
		},
		jwtlib.WithValidMethods([]string{c.method.Alg()}),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithTimeFunc(c.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !parsed.Valid {
		return nil, ErrInvalidToken
	}

	if claims.Kind != kind {
		return nil, fmt.Errorf("%w: unexpected token kind %q", ErrInvalidToken, claims.Kind)
	}

	return claims, nil
}
