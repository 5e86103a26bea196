package tenant

import (
	"context"
	"sort"
	"sync"

	"github.com/go-faster/errors"
	"github.com/spf13/viper"
)

// FileProvider reads tenants from a YAML, JSON or TOML file:
//
//	tenants:
//	  acme:
//	    tax_id: B12345678
//	    active: true
//	    environment: staging
//	    channel: face
//	    certificate_password: env:ACME_CERT_PASSWORD
type FileProvider struct {
	path string

	mu      sync.RWMutex
	tenants map[string]Config
}

// NewFileProvider loads path
func NewFileProvider(path string) (*FileProvider, error) {
	p := &FileProvider{path: path}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Reload re-reads the file, keeping the previous tenants on failure
func (p *FileProvider) Reload() error {
	v := viper.New()
	v.SetConfigFile(p.path)
	if err := v.ReadInConfig(); err != nil {
		return errors.Wrapf(err, "read tenants file %s", p.path)
	}

	raw := make(map[string]Config)
	if err := v.UnmarshalKey("tenants", &raw); err != nil {
		return errors.Wrap(err, "decode tenants")
	}

	tenants := make(map[string]Config, len(raw))
	for id, c := range raw {
		c.TenantID = id
		env, err := ParseEnvironment(string(c.Environment))
		if err != nil {
			return errors.Wrapf(err, "tenant %s", id)
		}
		ch, err := ParseChannel(string(c.Channel))
		if err != nil {
			return errors.Wrapf(err, "tenant %s", id)
		}
		c.Environment, c.Channel = env, ch
		tenants[id] = c
	}

	p.mu.Lock()
	p.tenants = tenants
	p.mu.Unlock()
	return nil
}

// Get returns a copy of the tenant's configuration
func (p *FileProvider) Get(ctx context.Context, tenantID string) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.tenants[tenantID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

// IDs lists the configured tenants in sorted order
func (p *FileProvider) IDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.tenants))
	for id := range p.tenants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
