// Package auth verifies and issues the bearer tokens presented by clients,
// both at WebSocket connect time and on REST calls.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrCredentialMissing means no bearer credential was presented.
	ErrCredentialMissing = errors.New("credential missing")
	// ErrCredentialInvalid covers expired, malformed and badly signed credentials.
	ErrCredentialInvalid = errors.New("credential invalid")
)

// Claims is the token payload. Subject carries the user id.
type Claims struct {
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates bearer credentials and yields the subject user id.
type Verifier struct {
	secret []byte
	method jwt.SigningMethod
	parser *jwt.Parser
}

// NewVerifier creates a verifier for HMAC tokens signed with secret.
func NewVerifier(secret []byte, alg string) (*Verifier, error) {
	method, err := signingMethod(alg)
	if err != nil {
		return nil, err
	}
	return &Verifier{
		secret: secret,
		method: method,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{method.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
		),
	}, nil
}

// VerifyToken returns the user id the credential was issued for.
func (v *Verifier) VerifyToken(credential string) (int64, error) {
	if strings.TrimSpace(credential) == "" {
		return 0, ErrCredentialMissing
	}

	var claims Claims
	token, err := v.parser.ParseWithClaims(credential, &claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrCredentialInvalid, err)
	}
	if !token.Valid {
		return 0, ErrCredentialInvalid
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return 0, fmt.Errorf("%w: subject %q is not a user id", ErrCredentialInvalid, claims.Subject)
	}
	return userID, nil
}

// Issuer mints tokens the Verifier accepts.
type Issuer struct {
	secret []byte
	method jwt.SigningMethod
	now    func() time.Time
}

// NewIssuer creates an issuer sharing the verifier's secret and algorithm.
func NewIssuer(secret []byte, alg string) (*Issuer, error) {
	method, err := signingMethod(alg)
	if err != nil {
		return nil, err
	}
	return &Issuer{secret: secret, method: method, now: time.Now}, nil
}

// Issue signs a token for userID valid for ttl.
func (i *Issuer) Issue(userID int64, username string, ttl time.Duration) (string, time.Time, error) {
	now := i.now()
	exp := now.Add(ttl)
	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(i.method, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, exp, nil
}

func signingMethod(alg string) (jwt.SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "", "HS256":
		return jwt.SigningMethodHS256, nil
	case "HS384":
		return jwt.SigningMethodHS384, nil
	case "HS512":
		return jwt.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("unsupported alg: %s (use HS256/HS384/HS512)", alg)
	}
}

// BearerToken strips the "Bearer " scheme from an Authorization header value.
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
