package utils

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// minSecretBytes is the smallest secret accepted for HMAC signing keys
const minSecretBytes = 32

// SecretEncoding selects how random secret bytes are rendered
type SecretEncoding string

const (
	EncodingHex       SecretEncoding = "hex"
	EncodingBase64URL SecretEncoding = "base64url"
)

// ServiceSecrets are the shared secrets the booking backend needs in production
type ServiceSecrets struct {
	JWTSecret     string `json:"jwt_secret"`
	WebhookSecret string `json:"payment_webhook_secret"`
}

// GenerateSecret returns n random bytes rendered with enc
func GenerateSecret(n int, enc SecretEncoding) (string, error) {
	if n < minSecretBytes {
		return "", fmt.Errorf("secret must be at least %d bytes, got %d", minSecretBytes, n)
	}

	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	switch enc {
	case EncodingHex, "":
		return hex.EncodeToString(b), nil
	case EncodingBase64URL:
		return base64.RawURLEncoding.EncodeToString(b), nil
	default:
		return "", fmt.Errorf("unknown secret encoding %q", enc)
	}
}

// GenerateServiceSecrets creates an independent JWT signing secret and
// payment webhook signing secret
func GenerateServiceSecrets(n int, enc SecretEncoding) (*ServiceSecrets, error) {
	jwtSecret, err := GenerateSecret(n, enc)
	if err != nil {
		return nil, fmt.Errorf("failed to generate jwt secret: %w", err)
	}

	webhookSecret, err := GenerateSecret(n, enc)
	if err != nil {
		return nil, fmt.Errorf("failed to generate webhook secret: %w", err)
	}

	return &ServiceSecrets{JWTSecret: jwtSecret, WebhookSecret: webhookSecret}, nil
}
