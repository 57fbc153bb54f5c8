package services

import (
	"errors"
	"time"

	"peerlink/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// TokenService issues and validates relay join tokens. A token binds a
// peer identifier to a room so a relay running with auth enabled only
// admits peers someone vouched for.
type TokenService interface {
	IssueJoinToken(peer domain.PeerID, roomID string) (string, error)
	ValidateJoinToken(tokenString string) (domain.PeerID, error)
}

type JoinClaims struct {
	PeerID domain.PeerID `json:"peer_id"`
	RoomID string        `json:"room_id"`
	jwt.RegisteredClaims
}

type tokenService struct {
	jwtSecret []byte
	tokenTTL  time.Duration
}

func NewTokenService(jwtSecret string, tokenTTL time.Duration) TokenService {
	return &tokenService{
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
	}
}

func (s *tokenService) IssueJoinToken(peer domain.PeerID, roomID string) (string, error) {
	claims := &JoinClaims{
		PeerID: peer,
		RoomID: roomID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *tokenService) ValidateJoinToken(tokenString string) (domain.PeerID, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JoinClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.jwtSecret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(*JoinClaims)
	if !ok || !token.Valid || claims.PeerID == "" {
		return "", ErrInvalidToken
	}
	return claims.PeerID, nil
}
