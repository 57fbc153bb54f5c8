package utils

import "github.com/google/uuid"

// GeneratePeerID generates a fresh session-scoped peer ID.
func GeneratePeerID() string {
	return uuid.New().String()
}
