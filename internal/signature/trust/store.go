// Package trust verifies signer certificates against a set of trusted roots
// and checks revocation over OCSP.
package trust

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"os"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-resty/resty/v2"
)

// Store manages trusted CA certificates and revocation checking
type Store struct {
	roots       *x509.CertPool
	count       int
	ocspCache   *OCSPCache
	ocspTimeout time.Duration
	softFail    bool
	http        *resty.Client
}

// Option configures a Store
type Option func(*Store)

// NewStore creates a store with no trusted roots
func NewStore(opts ...Option) *Store {
	s := &Store{
		roots:       x509.NewCertPool(),
		ocspCache:   NewOCSPCache(DefaultOCSPCacheTTL, nil),
		ocspTimeout: DefaultOCSPTimeout,
		http:        resty.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithSoftFail makes OCSP failures warnings instead of errors
func WithSoftFail() Option {
	return func(s *Store) {
		s.softFail = true
	}
}

// WithOCSPTimeout sets the timeout for OCSP requests
func WithOCSPTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.ocspTimeout = d
	}
}

// WithOCSPCacheTTL sets the TTL for OCSP cache entries
func WithOCSPCacheTTL(d time.Duration) Option {
	return func(s *Store) {
		s.ocspCache = NewOCSPCache(d, nil)
	}
}

// WithHTTPClient sets the client used to reach OCSP responders
func WithHTTPClient(c *resty.Client) Option {
	return func(s *Store) {
		s.http = c
	}
}

// WithSystemRoots starts from the host's root pool. Spanish qualified
// certificate issuers (FNMT-RCM and others) are usually added on top with
// LoadFile.
func WithSystemRoots() Option {
	return func(s *Store) {
		if pool, err := x509.SystemCertPool(); err == nil && pool != nil {
			s.roots = pool
		}
	}
}

// AddCertificate adds a single certificate to the trust store
func (s *Store) AddCertificate(cert *x509.Certificate) {
	if cert != nil {
		s.roots.AddCert(cert)
		s.count++
	}
}

// AddCertificatesFromPEM parses and adds every certificate in pemData
func (s *Store) AddCertificatesFromPEM(pemData []byte) error {
	var added int
	for {
		block, rest := pem.Decode(pemData)
		if block == nil {
			break
		}
		if block.Type == "CERTIFICATE" {
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return errors.Wrap(err, "parse certificate")
			}
			s.AddCertificate(cert)
			added++
		}
		pemData = rest
	}
	if added == 0 {
		return errors.New("no certificates found in PEM data")
	}
	return nil
}

// LoadFile adds the certificates of a PEM bundle
func (s *Store) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read trust bundle")
	}
	return s.AddCertificatesFromPEM(data)
}

// Len returns the number of certificates added explicitly
func (s *Store) Len() int {
	return s.count
}

// VerifyChain verifies cert against the trusted roots as of at. A zero at
// means now.
func (s *Store) VerifyChain(cert *x509.Certificate, intermediates []*x509.Certificate, at time.Time) ([]*x509.Certificate, error) {
	if cert == nil {
		return nil, errors.New("certificate is nil")
	}
	if at.IsZero() {
		at = time.Now()
	}

	var interPool *x509.CertPool
	if len(intermediates) > 0 {
		interPool = x509.NewCertPool()
		for _, inter := range intermediates {
			interPool.AddCert(inter)
		}
	}

	chains, err := cert.Verify(x509.VerifyOptions{
		Roots:         s.roots,
		Intermediates: interPool,
		CurrentTime:   at,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return nil, errors.Wrap(err, "chain verification failed")
	}
	if len(chains) == 0 {
		return nil, errors.New("no valid certificate chains found")
	}
	return chains[0], nil
}

// CheckRevocation reports whether cert is still good according to its OCSP
// responder. Certificates without a responder are treated as good.
func (s *Store) CheckRevocation(ctx context.Context, cert, issuer *x509.Certificate) (bool, error) {
	if cert == nil || issuer == nil {
		return false, errors.New("certificate or issuer is nil")
	}

	if notRevoked, found := s.ocspCache.Get(cert); found {
		return notRevoked, nil
	}

	if len(cert.OCSPServer) == 0 {
		return true, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.ocspTimeout)
	defer cancel()

	answer, err := checkOCSP(ctx, s.http, cert, issuer)
	if err != nil {
		if s.softFail {
			return true, errors.Wrap(err, "OCSP check failed (soft-fail enabled)")
		}
		return false, errors.Wrap(err, "OCSP check failed")
	}

	s.ocspCache.Set(cert, !answer.revoked, answer.nextUpdate)
	return !answer.revoked, nil
}

// IsSoftFail returns whether soft-fail mode is enabled
func (s *Store) IsSoftFail() bool {
	return s.softFail
}
