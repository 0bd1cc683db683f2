package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// GenerateSecret returns n random bytes hex encoded
func GenerateSecret(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Secrets are the shared secrets a deployment needs
type Secrets struct {
	JWTSecret              string
	FlutterwaveWebhookHash string
}

// GenerateSecrets creates a 256-bit JWT secret and a webhook hash for the Flutterwave dashboard
func GenerateSecrets() (*Secrets, error) {
	jwtSecret, err := GenerateSecret(32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate JWT secret: %w", err)
	}
	webhookHash, err := GenerateSecret(24)
	if err != nil {
		return nil, fmt.Errorf("failed to generate webhook hash: %w", err)
	}
	return &Secrets{JWTSecret: jwtSecret, FlutterwaveWebhookHash: webhookHash}, nil
}
