package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// GenerateSecret returns bytes of cryptographically secure randomness, hex encoded
func GenerateSecret(bytes int) (string, error) {
	b := make([]byte, bytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Secrets are the values the server refuses to start without
type Secrets struct {
	JWTSecret              string
	EncryptionMasterSecret string
}

// GenerateSecrets creates an independent JWT secret and encryption master secret
func GenerateSecrets() (*Secrets, error) {
	jwtSecret, err := GenerateSecret(32) // 256-bit
	if err != nil {
		return nil, fmt.Errorf("failed to generate JWT secret: %w", err)
	}

	// The master secret feeds PBKDF2 for field keys and signs tickets
	masterSecret, err := GenerateSecret(48)
	if err != nil {
		return nil, fmt.Errorf("failed to generate encryption master secret: %w", err)
	}

	return &Secrets{JWTSecret: jwtSecret, EncryptionMasterSecret: masterSecret}, nil
}
