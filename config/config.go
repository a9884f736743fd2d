package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config carries every credential and tunable the service needs. It is built
// once in main and handed to the services that use it — business logic never
// reads the environment directly.
type Config struct {
	DatabaseURL    string
	ListenAddr     string
	AllowedOrigins string

	// Gateway auth: every inbound request must carry this token.
	ServiceToken string

	// Wallet service (Stellar escrow operations).
	WalletServiceURL   string
	WalletServiceToken string
	EscrowAddress      string
	BountyAssetCode    string
	BountyAssetIssuer  string

	// GitHub App credentials.
	GitHubAppID         string
	GitHubPrivateKeyPEM string
	GitHubWebhookSecret string

	// KMS envelope encryption for wallet secrets.
	KMSKeyID           string
	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string

	// Pending-payment sweeper.
	PendingSweepInterval time.Duration
	PendingMaxAge        time.Duration

	// Production mode hides internal error details from responses.
	Production bool
}

// Load reads .env (best effort) and builds the Config. Missing required keys
// are collected into a single error so a bad deploy fails loudly with the
// full list.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	cfg := &Config{
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		ListenAddr:           getOr("LISTEN_ADDR", ":5300"),
		AllowedOrigins:       getOr("ALLOWED_ORIGINS", "http://localhost:3000"),
		ServiceToken:         os.Getenv("MARKETPLACE_SERVICE_TOKEN"),
		WalletServiceURL:     os.Getenv("WALLET_SERVICE_URL"),
		WalletServiceToken:   os.Getenv("WALLET_SERVICE_TOKEN"),
		EscrowAddress:        os.Getenv("ESCROW_ADDRESS"),
		BountyAssetCode:      getOr("BOUNTY_ASSET_CODE", "USDC"),
		BountyAssetIssuer:    os.Getenv("BOUNTY_ASSET_ISSUER"),
		GitHubAppID:          os.Getenv("GITHUB_APP_ID"),
		GitHubPrivateKeyPEM:  os.Getenv("GITHUB_APP_PRIVATE_KEY"),
		GitHubWebhookSecret:  os.Getenv("GITHUB_WEBHOOK_SECRET"),
		KMSKeyID:             os.Getenv("KMS_KEY_ID"),
		AWSRegion:            getOr("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:       os.Getenv("AWS_ACCESS_KEY_ID"),
		AWSSecretAccessKey:   os.Getenv("AWS_SECRET_ACCESS_KEY"),
		PendingSweepInterval: getDurationOr("PENDING_SWEEP_INTERVAL", 5*time.Minute),
		PendingMaxAge:        getDurationOr("PENDING_MAX_AGE", 30*time.Minute),
		Production:           strings.EqualFold(os.Getenv("APP_ENV"), "production"),
	}

	var missing []string
	for key, val := range map[string]string{
		"DATABASE_URL":              cfg.DatabaseURL,
		"MARKETPLACE_SERVICE_TOKEN": cfg.ServiceToken,
		"WALLET_SERVICE_URL":        cfg.WalletServiceURL,
		"WALLET_SERVICE_TOKEN":      cfg.WalletServiceToken,
		"ESCROW_ADDRESS":            cfg.EscrowAddress,
		"GITHUB_APP_ID":             cfg.GitHubAppID,
		"GITHUB_APP_PRIVATE_KEY":    cfg.GitHubPrivateKeyPEM,
		"KMS_KEY_ID":                cfg.KMSKeyID,
	} {
		if val == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	return cfg, nil
}

func getOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDurationOr(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("⚠️  Invalid %s=%q, using default %s", key, v, fallback)
		return fallback
	}
	return d
}
