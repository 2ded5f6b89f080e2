package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every environment variable, e.g. DALEEL_HTTP_ADDR.
const Prefix = "DALEEL"

const minSecretLen = 32

// Config is loaded once at process start and passed to constructors.
type Config struct {
	Env         string `envconfig:"ENV" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogEncoding string `envconfig:"LOG_ENCODING" default:"json"`
	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8080"`
	GRPCAddr    string `envconfig:"GRPC_ADDR" default:":9090"`
	// PostgresDSN selects the Postgres user store; empty keeps users in memory.
	PostgresDSN string `envconfig:"POSTGRES_DSN"`

	// CORSOrigins is a comma-separated allow-list; empty allows localhost only.
	CORSOrigins []string `envconfig:"CORS_ORIGINS"`

	Auth      Auth      `envconfig:"AUTH"`
	RateLimit RateLimit `envconfig:"RATE_LIMIT"`
	OpenAI    OpenAI    `envconfig:"OPENAI"`
	Seed      Seed      `envconfig:"SEED"`
}

type Auth struct {
	Secret string `envconfig:"SECRET"`
	// SecretFile is read when Secret is empty (Docker/Kubernetes secret mounts).
	SecretFile        string        `envconfig:"SECRET_FILE"`
	Algorithm         string        `envconfig:"ALGORITHM" default:"HS256"`
	Issuer            string        `envconfig:"ISSUER" default:"daleel"`
	AccessTTL         time.Duration `envconfig:"ACCESS_TTL" default:"60m"`
	RefreshTTL        time.Duration `envconfig:"REFRESH_TTL" default:"168h"`
	PasswordAlgorithm string        `envconfig:"PASSWORD_ALGORITHM" default:"bcrypt"`
	BcryptCost        int           `envconfig:"BCRYPT_COST" default:"10"`
}

// RateLimit applies per client IP to the login endpoint.
type RateLimit struct {
	PerSecond float64 `envconfig:"PER_SECOND" default:"1"`
	Burst     int     `envconfig:"BURST" default:"5"`

	// TrustedProxies are addresses or CIDRs allowed to set X-Forwarded-For.
	TrustedProxies []string `envconfig:"TRUSTED_PROXIES"`
}

type OpenAI struct {
	APIKey         string `envconfig:"API_KEY"`
	BaseURL        string `envconfig:"BASE_URL"`
	EmbeddingModel string `envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-small"`
	ChatModel      string `envconfig:"CHAT_MODEL" default:"gpt-4o-mini"`
}

// Seed describes the bootstrap global administrator.
type Seed struct {
	AdminUsername string `envconfig:"ADMIN_USERNAME"`
	AdminPassword string `envconfig:"ADMIN_PASSWORD"`
}

// Load reads envFile (if non-empty) into the process environment without
// overriding variables that are already set, then decodes and validates.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.Auth.Secret == "" && cfg.Auth.SecretFile != "" {
		secret, err := readSecret(cfg.Auth.SecretFile)
		if err != nil {
			return nil, err
		}
		cfg.Auth.Secret = secret
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Auth.Secret == "" {
		return errors.New("config: DALEEL_AUTH_SECRET or DALEEL_AUTH_SECRET_FILE is required")
	}
	if len(c.Auth.Secret) < minSecretLen {
		return fmt.Errorf("config: auth secret must be at least %d bytes", minSecretLen)
	}
	switch strings.ToUpper(c.Auth.Algorithm) {
	case "HS256", "HS384", "HS512":
	default:
		return fmt.Errorf("config: unsupported signing algorithm %q", c.Auth.Algorithm)
	}
	switch c.Auth.PasswordAlgorithm {
	case "bcrypt", "argon2id":
	default:
		return fmt.Errorf("config: unsupported password algorithm %q", c.Auth.PasswordAlgorithm)
	}
	if c.Auth.AccessTTL <= 0 || c.Auth.RefreshTTL <= 0 {
		return errors.New("config: token lifetimes must be positive")
	}
	if c.Auth.AccessTTL >= c.Auth.RefreshTTL {
		return errors.New("config: access token lifetime must be shorter than refresh token lifetime")
	}
	if c.RateLimit.PerSecond <= 0 || c.RateLimit.Burst <= 0 {
		return errors.New("config: rate limit must be positive")
	}
	if (c.Seed.AdminUsername == "") != (c.Seed.AdminPassword == "") {
		return errors.New("config: seed admin username and password must be set together")
	}
	return nil
}

// Production reports whether the service runs with production defaults.
func (c *Config) Production() bool {
	return strings.EqualFold(c.Env, "production")
}

func readSecret(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: read secret file %s: %w", path, err)
	}
	secret := strings.TrimSpace(string(raw))
	if secret == "" {
		return "", fmt.Errorf("config: secret file %s is empty", path)
	}
	return secret, nil
}
