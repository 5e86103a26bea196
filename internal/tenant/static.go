package tenant

import (
	"context"
	"sync"
)

// StaticProvider serves configuration held in memory
type StaticProvider struct {
	mu      sync.RWMutex
	tenants map[string]Config
}

// NewStaticProvider creates a provider from the given configs, keyed by TenantID
func NewStaticProvider(configs ...Config) *StaticProvider {
	p := &StaticProvider{tenants: make(map[string]Config, len(configs))}
	for _, c := range configs {
		p.tenants[c.TenantID] = c
	}
	return p
}

// Put adds or replaces a tenant
func (p *StaticProvider) Put(c Config) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tenants[c.TenantID] = c
}

// Get returns a copy of the tenant's configuration
func (p *StaticProvider) Get(_ context.Context, tenantID string) (*Config, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.tenants[tenantID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}
