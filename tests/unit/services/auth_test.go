package services_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/services"
)

func TestTokenRoundTrip(t *testing.T) {
	tokens := services.NewTokenService("test-secret", time.Hour)

	token, err := tokens.IssueJoinToken("alice", "lobby")
	assert.NoError(t, err)
	assert.NotEmpty(t, token)

	peerID, err := tokens.ValidateJoinToken(token)
	assert.NoError(t, err)
	assert.Equal(t, domain.PeerID("alice"), peerID)
}

func TestTokenRejectsGarbage(t *testing.T) {
	tokens := services.NewTokenService("test-secret", time.Hour)

	_, err := tokens.ValidateJoinToken("not-a-jwt")
	assert.ErrorIs(t, err, services.ErrInvalidToken)

	_, err = tokens.ValidateJoinToken("")
	assert.ErrorIs(t, err, services.ErrInvalidToken)
}

func TestTokenRejectsWrongSecret(t *testing.T) {
	issuer := services.NewTokenService("secret-one", time.Hour)
	validator := services.NewTokenService("secret-two", time.Hour)

	token, err := issuer.IssueJoinToken("alice", "lobby")
	assert.NoError(t, err)

	_, err = validator.ValidateJoinToken(token)
	assert.ErrorIs(t, err, services.ErrInvalidToken)
}

func TestTokenExpiry(t *testing.T) {
	tokens := services.NewTokenService("test-secret", -time.Minute)

	token, err := tokens.IssueJoinToken("alice", "lobby")
	assert.NoError(t, err)

	_, err = tokens.ValidateJoinToken(token)
	assert.ErrorIs(t, err, services.ErrExpiredToken)
}
