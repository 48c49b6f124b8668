package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spacehub/booking-backend/internal/models"
	"github.com/spacehub/booking-backend/internal/utils"
	"github.com/spacehub/booking-backend/pkg/jwt"
)

// Prints fresh JWT and webhook secrets, optionally with a development
// admin token signed by the new JWT secret.
func main() {
	var (
		size       int
		encoding   string
		format     string
		adminToken bool
		tokenTTL   time.Duration
	)
	flag.IntVar(&size, "bytes", 32, "random bytes per secret (minimum 32)")
	flag.StringVar(&encoding, "encoding", string(utils.EncodingHex), "secret encoding: hex or base64url")
	flag.StringVar(&format, "format", "env", "output format: env or json")
	flag.BoolVar(&adminToken, "admin-token", false, "also print an admin access token for local testing")
	flag.DurationVar(&tokenTTL, "token-ttl", 24*time.Hour, "lifetime of the admin token")
	flag.Parse()

	secrets, err := utils.GenerateServiceSecrets(size, utils.SecretEncoding(encoding))
	if err != nil {
		log.Fatalf("Failed to generate secrets: %v", err)
	}

	var token string
	if adminToken {
		token, err = jwt.NewService(secrets.JWTSecret, tokenTTL).
			GenerateAccessToken(uuid.New(), []string{models.RoleAdmin})
		if err != nil {
			log.Fatalf("Failed to sign admin token: %v", err)
		}
	}

	switch format {
	case "json":
		out := struct {
			*utils.ServiceSecrets
			AdminToken string `json:"admin_token,omitempty"`
		}{secrets, token}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			log.Fatalf("Failed to encode secrets: %v", err)
		}
	case "env":
		fmt.Println("# Add to .env or the deployment secret store. Never commit these values.")
		fmt.Printf("JWT_SECRET=%s\n", secrets.JWTSecret)
		fmt.Printf("PAYMENT_WEBHOOK_SECRET=%s\n", secrets.WebhookSecret)
		if token != "" {
			fmt.Printf("# admin bearer token, valid for %s\n", tokenTTL)
			fmt.Printf("ADMIN_TOKEN=%s\n", token)
		}
		fmt.Println("# PAYMENT_WEBHOOK_SECRET must also be set on the payment gateway.")
	default:
		log.Fatalf("Unknown format %q (want env or json)", format)
	}
}
