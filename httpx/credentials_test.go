package httpx_test

import (
	"testing"
	"time"

	"github.com/go-chi/oauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formvault/formvault/httpx"
	"github.com/formvault/formvault/internal/testdb"
)

func TestValidateTokenID(t *testing.T) {
	db := testdb.Open(t)
	verifier := httpx.CredentialsVerifier(db)

	_, err := db.Exec(
		"INSERT INTO token (username, token_id, refresh_token_id, expiration) VALUES (?, ?, ?, ?)",
		"admin", "tok", "refresh", time.Now().Add(time.Hour))
	require.NoError(t, err)

	require.NoError(t, verifier.ValidateTokenID(oauth.BearerToken, "admin", "tok", "refresh"))

	// the row is consumed on use
	err = verifier.ValidateTokenID(oauth.BearerToken, "admin", "tok", "refresh")
	assert.EqualError(t, err, "could not refresh")
}

func TestValidateTokenIDExpired(t *testing.T) {
	db := testdb.Open(t)
	verifier := httpx.CredentialsVerifier(db)

	_, err := db.Exec(
		"INSERT INTO token (username, token_id, refresh_token_id, expiration) VALUES (?, ?, ?, ?)",
		"admin", "tok", "refresh", time.Now().Add(-time.Hour))
	require.NoError(t, err)

	err = verifier.ValidateTokenID(oauth.BearerToken, "admin", "tok", "refresh")
	assert.EqualError(t, err, "could not refresh")
}

func TestValidateTokenIDSurfacesStorageErrors(t *testing.T) {
	db := testdb.Open(t)
	verifier := httpx.CredentialsVerifier(db)
	require.NoError(t, db.Close())

	// an infrastructure failure must not masquerade as a bad token
	err := verifier.ValidateTokenID(oauth.BearerToken, "admin", "tok", "refresh")
	require.Error(t, err)
	assert.NotEqual(t, "could not refresh", err.Error())
}
