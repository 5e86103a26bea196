package certs

import (
	"context"
	"crypto"
	"crypto/x509"
	"sync"
	"time"

	"github.com/go-faster/errors"
)

type material struct {
	password string
	key      crypto.Signer
	cert     *x509.Certificate
}

// StaticProvider holds certificate material in memory, for key stores that
// were unlocked elsewhere and for tests.
type StaticProvider struct {
	mu      sync.RWMutex
	tenants map[string]material
	now     func() time.Time
}

// NewStaticProvider creates an empty provider
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{tenants: make(map[string]material), now: time.Now}
}

// Add registers material for a tenant. An empty password accepts any.
func (p *StaticProvider) Add(tenantID, password string, key crypto.Signer, cert *x509.Certificate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tenants[tenantID] = material{password: password, key: key, cert: cert}
}

func (p *StaticProvider) lookup(tenantID, password string) (material, error) {
	p.mu.RLock()
	m, ok := p.tenants[tenantID]
	p.mu.RUnlock()
	if !ok {
		return material{}, errors.Wrapf(ErrNotFound, "tenant %s", tenantID)
	}
	if m.password != "" && m.password != password {
		return material{}, ErrBadPassword
	}
	return m, nil
}

func (p *StaticProvider) PrivateKey(_ context.Context, tenantID, password string) (crypto.Signer, error) {
	m, err := p.lookup(tenantID, password)
	if err != nil {
		return nil, err
	}
	if m.key == nil {
		return nil, errors.Wrapf(ErrNotFound, "tenant %s: private key", tenantID)
	}
	return m.key, nil
}

func (p *StaticProvider) Certificate(_ context.Context, tenantID, password string) ([]byte, error) {
	m, err := p.lookup(tenantID, password)
	if err != nil {
		return nil, err
	}
	if m.cert == nil {
		return nil, errors.Wrapf(ErrNotFound, "tenant %s: certificate", tenantID)
	}
	return EncodeCertificatePEM(m.cert), nil
}

func (p *StaticProvider) ValidateCertificate(_ context.Context, tenantID, password string) (*CertificateStatus, error) {
	m, err := p.lookup(tenantID, password)
	if err != nil {
		return nil, err
	}
	if m.cert == nil {
		return nil, errors.Wrapf(ErrNotFound, "tenant %s: certificate", tenantID)
	}
	return Status(m.cert, p.now()), nil
}
