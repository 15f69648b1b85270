package signing

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
)

// Signer authenticates an outbound request in place. Signing happens at
// execution time, after the request left the queue, so timestamps are
// fresh even when a task waited.
type Signer interface {
	Sign(req *http.Request) error
}

// SignerFunc adapts a function to Signer.
type SignerFunc func(req *http.Request) error

// Sign calls f(req).
func (f SignerFunc) Sign(req *http.Request) error { return f(req) }

// Signer types.
const (
	TypeNone = "none"
	TypeHMAC = "hmac"
	TypeJWT  = "jwt"
)

// Config selects and configures the request signer.
type Config struct {
	// Type is none, hmac or jwt (default: none).
	Type string `yaml:"type" mapstructure:"type" validate:"omitempty,oneof=none hmac jwt"`
	// APIKey identifies the account to the exchange.
	APIKey string `yaml:"api_key" mapstructure:"api_key"`
	// Secret is the signing secret, plain or sealed (see SealedPrefix).
	Secret string `yaml:"secret" mapstructure:"secret"`
	// Passphrase opens a sealed Secret. Usually supplied via the environment.
	Passphrase string `yaml:"passphrase" mapstructure:"passphrase"`

	// APIKeyHeader carries APIKey for hmac signing (default: X-MBX-APIKEY).
	APIKeyHeader string `yaml:"api_key_header" mapstructure:"api_key_header"`
	// RecvWindow, when set, is sent with hmac-signed requests.
	RecvWindow time.Duration `yaml:"recv_window" mapstructure:"recv_window" validate:"gte=0"`

	// Issuer is the jwt "iss" claim.
	Issuer string `yaml:"issuer" mapstructure:"issuer"`
	// TokenTTL is the lifetime of each jwt (default: 2m).
	TokenTTL time.Duration `yaml:"token_ttl" mapstructure:"token_ttl" validate:"gte=0"`
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	c.Type = strings.ToLower(strings.TrimSpace(c.Type))
	if c.Type == "" {
		c.Type = TypeNone
	}
	if c.APIKeyHeader == "" {
		c.APIKeyHeader = "X-MBX-APIKEY"
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = 2 * time.Minute
	}
}

// Validate checks that a configured signer has credentials.
func (c *Config) Validate() error {
	switch c.Type {
	case TypeNone:
		return nil
	case TypeHMAC, TypeJWT:
		if c.APIKey == "" {
			return fmt.Errorf("signing: api_key is required for %s", c.Type)
		}
		if c.Secret == "" {
			return fmt.Errorf("signing: secret is required for %s", c.Type)
		}
		if IsSealed(c.Secret) && c.Passphrase == "" {
			return fmt.Errorf("signing: passphrase is required for a sealed secret")
		}
		return nil
	default:
		return fmt.Errorf("signing: unknown type %q", c.Type)
	}
}

// New builds the signer described by cfg. It returns a nil Signer for
// TypeNone.
func New(cfg Config, clk clock.Clock) (Signer, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Type == TypeNone {
		return nil, nil
	}
	if clk == nil {
		clk = clock.New()
	}

	secret, err := ResolveSecret(cfg.APIKey, cfg.Secret, cfg.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("signing: open secret: %w", err)
	}

	if cfg.Type == TypeJWT {
		s, err := NewJWTSigner(JWTConfig{
			KeyName: cfg.APIKey,
			Secret:  secret,
			Issuer:  cfg.Issuer,
			TTL:     cfg.TokenTTL,
		}, clk)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return NewHMACSigner(HMACConfig{
		APIKey:     cfg.APIKey,
		Secret:     secret,
		Header:     cfg.APIKeyHeader,
		RecvWindow: cfg.RecvWindow,
	}, clk), nil
}
