// Package auth verifies the signed token presented on REGISTER (spec.md
// §4.4 request type 0, §6). Of the two REGISTER paths the original source
// exposes (a signed token, and a raw accountId), this router implements
// only the signed-token path — see SPEC_FULL.md's Open Questions.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMissingAccountID is returned when a token verifies but carries no
// accountId claim.
var ErrMissingAccountID = fmt.Errorf("auth: token has no accountId claim")

// Verifier checks HMAC-SHA256 tokens against one shared secret.
type Verifier struct {
	secret []byte
}

// NewVerifier builds a Verifier from the configured shared secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// AccountID validates tokenString and returns the accountId claim it
// carries. Any validation failure (bad signature, expired, wrong
// algorithm, missing claim) is reported as a single error; handlers map
// this to state 500 per spec.md §4.4.
func (v *Verifier) AccountID(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", fmt.Errorf("auth: verify token: %w", err)
	}
	if !token.Valid {
		return "", fmt.Errorf("auth: token not valid")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrMissingAccountID
	}
	accountID, ok := claims["accountId"].(string)
	if !ok || accountID == "" {
		return "", ErrMissingAccountID
	}
	return accountID, nil
}

// Issuer mints tokens for tests and for any out-of-band admin tooling that
// needs to hand a client a REGISTER token.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

// NewIssuer builds an Issuer from the configured shared secret. ttl of 0
// means tokens never expire.
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl}
}

// Sign mints a token carrying accountId.
func (i *Issuer) Sign(accountID string) (string, error) {
	claims := jwt.MapClaims{"accountId": accountID}
	if i.ttl > 0 {
		claims["exp"] = time.Now().Add(i.ttl).Unix()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}
