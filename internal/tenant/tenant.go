// Package tenant resolves per-tenant submission settings: the issuer tax ID,
// the gateway environment and channel, and the certificate password handle.
package tenant

import (
	"context"
	"os"
	"strings"

	"github.com/go-faster/errors"
)

// Environment selects which gateway endpoints a tenant talks to
type Environment string

const (
	EnvironmentStub       Environment = "stub"
	EnvironmentStaging    Environment = "staging"
	EnvironmentProduction Environment = "production"
)

// Channel selects the registry a tenant submits to
type Channel string

const (
	// ChannelFACe is the public-sector registry (FACe)
	ChannelFACe Channel = "face"
	// ChannelFACeB2B is the business-to-business platform (FACeB2B)
	ChannelFACeB2B Channel = "faceb2b"
)

// ParseEnvironment accepts the environment names case-insensitively. Empty
// means staging.
func ParseEnvironment(s string) (Environment, error) {
	switch Environment(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return EnvironmentStaging, nil
	case EnvironmentStub:
		return EnvironmentStub, nil
	case EnvironmentStaging, "test", "pruebas":
		return EnvironmentStaging, nil
	case EnvironmentProduction, "prod", "produccion":
		return EnvironmentProduction, nil
	}
	return "", errors.Errorf("unknown environment %q", s)
}

// ParseChannel accepts the channel names case-insensitively. Empty means FACe.
func ParseChannel(s string) (Channel, error) {
	switch Channel(strings.ToLower(strings.TrimSpace(s))) {
	case "", ChannelFACe:
		return ChannelFACe, nil
	case ChannelFACeB2B, "face-b2b", "b2b":
		return ChannelFACeB2B, nil
	}
	return "", errors.Errorf("unknown channel %q", s)
}

// Config is a tenant's submission configuration
type Config struct {
	TenantID    string      `mapstructure:"-" json:"tenant_id"`
	TaxID       string      `mapstructure:"tax_id" json:"tax_id"`
	Active      bool        `mapstructure:"active" json:"active"`
	Environment Environment `mapstructure:"environment" json:"environment"`
	Channel     Channel     `mapstructure:"channel" json:"channel"`
	Email       string      `mapstructure:"email" json:"email,omitempty"`

	// CertificatePassword is either the password itself or a handle of the
	// form env:NAME naming the variable that holds it.
	CertificatePassword string `mapstructure:"certificate_password" json:"-"`
}

// ResolvePassword dereferences the certificate password handle. An empty
// result means no password is on file.
func (c *Config) ResolvePassword() string {
	if name, ok := strings.CutPrefix(c.CertificatePassword, "env:"); ok {
		return os.Getenv(name)
	}
	return c.CertificatePassword
}

// Provider looks up tenant configuration. A missing tenant is (nil, nil),
// not an error.
type Provider interface {
	Get(ctx context.Context, tenantID string) (*Config, error)
}
