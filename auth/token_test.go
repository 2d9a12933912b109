package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerify(t *testing.T) {
	issuer := NewIssuer("top-secret", time.Hour)
	verifier := NewVerifier("top-secret")

	tok, err := issuer.Sign("A")
	require.NoError(t, err)

	accountID, err := verifier.AccountID(tok)
	require.NoError(t, err)
	assert.Equal(t, "A", accountID)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	issuer := NewIssuer("secret-one", time.Hour)
	verifier := NewVerifier("secret-two")

	tok, err := issuer.Sign("A")
	require.NoError(t, err)

	_, err = verifier.AccountID(tok)
	require.Error(t, err)
}

func TestVerifyRejectsExpired(t *testing.T) {
	issuer := NewIssuer("top-secret", -time.Hour)
	verifier := NewVerifier("top-secret")

	tok, err := issuer.Sign("A")
	require.NoError(t, err)

	_, err = verifier.AccountID(tok)
	require.Error(t, err)
}

func TestVerifyRejectsMissingAccountID(t *testing.T) {
	verifier := NewVerifier("top-secret")
	issuer := NewIssuer("top-secret", 0)

	// Sign a token whose accountId claim is empty; the verifier treats an
	// empty claim the same as a missing one.
	tok, err := issuer.Sign("")
	require.NoError(t, err)

	_, err = verifier.AccountID(tok)
	require.Error(t, err)
}
