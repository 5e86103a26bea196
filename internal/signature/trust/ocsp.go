package trust

import (
	"context"
	"crypto"
	"crypto/x509"
	"net/http"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-resty/resty/v2"
	"golang.org/x/crypto/ocsp"
)

const (
	DefaultOCSPTimeout  = 10 * time.Second
	DefaultOCSPCacheTTL = time.Hour
)

// OCSPCache remembers revocation answers keyed by issuer and serial. An
// entry lives for the cache TTL or until the responder's NextUpdate,
// whichever comes first.
type OCSPCache struct {
	mu      sync.Mutex
	entries map[string]ocspCacheEntry
	ttl     time.Duration
	now     func() time.Time
}

type ocspCacheEntry struct {
	notRevoked bool
	expiresAt  time.Time
}

// NewOCSPCache creates a cache. A nil clock means time.Now.
func NewOCSPCache(ttl time.Duration, now func() time.Time) *OCSPCache {
	if now == nil {
		now = time.Now
	}
	return &OCSPCache{entries: make(map[string]ocspCacheEntry), ttl: ttl, now: now}
}

// Get returns the cached answer for cert. Expired entries are dropped.
func (c *OCSPCache) Get(cert *x509.Certificate) (notRevoked, found bool) {
	if cert == nil {
		return false, false
	}
	key := revocationKey(cert)

	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return false, false
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.entries, key)
		return false, false
	}
	return entry.notRevoked, true
}

// Set records an answer. A zero nextUpdate leaves the TTL as the only bound.
func (c *OCSPCache) Set(cert *x509.Certificate, notRevoked bool, nextUpdate time.Time) {
	if cert == nil {
		return
	}
	expires := c.now().Add(c.ttl)
	if !nextUpdate.IsZero() && nextUpdate.Before(expires) {
		expires = nextUpdate
	}

	c.mu.Lock()
	c.entries[revocationKey(cert)] = ocspCacheEntry{notRevoked: notRevoked, expiresAt: expires}
	c.mu.Unlock()
}

// Len returns the number of entries, expired ones included
func (c *OCSPCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func revocationKey(cert *x509.Certificate) string {
	return string(cert.RawIssuer) + "|" + cert.SerialNumber.Text(16)
}

// ocspAnswer is a definitive responder answer
type ocspAnswer struct {
	revoked    bool
	nextUpdate time.Time
}

// checkOCSP asks the certificate's responders in order and returns the
// first definitive answer
func checkOCSP(ctx context.Context, client *resty.Client, cert, issuer *x509.Certificate) (ocspAnswer, error) {
	if len(cert.OCSPServer) == 0 {
		return ocspAnswer{}, errors.New("no OCSP server URL in certificate")
	}

	req, err := ocsp.CreateRequest(cert, issuer, &ocsp.RequestOptions{Hash: crypto.SHA256})
	if err != nil {
		return ocspAnswer{}, errors.Wrap(err, "create OCSP request")
	}

	var lastErr error
	for _, server := range cert.OCSPServer {
		answer, err := askResponder(ctx, client, server, req, issuer)
		if err == nil {
			return answer, nil
		}
		if ctx.Err() != nil {
			return ocspAnswer{}, errors.Wrap(ctx.Err(), "OCSP")
		}
		lastErr = err
	}
	return ocspAnswer{}, errors.Wrap(lastErr, "all OCSP servers failed")
}

func askResponder(ctx context.Context, client *resty.Client, serverURL string, request []byte, issuer *x509.Certificate) (ocspAnswer, error) {
	resp, err := client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/ocsp-request").
		SetHeader("Accept", "application/ocsp-response").
		SetBody(request).
		Post(serverURL)
	if err != nil {
		return ocspAnswer{}, errors.Wrapf(err, "POST %s", serverURL)
	}
	if resp.StatusCode() != http.StatusOK {
		return ocspAnswer{}, errors.Errorf("%s answered HTTP %d", serverURL, resp.StatusCode())
	}

	parsed, err := ocsp.ParseResponseForCert(resp.Body(), nil, issuer)
	if err != nil {
		return ocspAnswer{}, errors.Wrap(err, "parse OCSP response")
	}

	switch parsed.Status {
	case ocsp.Good, ocsp.Revoked:
		return ocspAnswer{revoked: parsed.Status == ocsp.Revoked, nextUpdate: parsed.NextUpdate}, nil
	default:
		return ocspAnswer{}, errors.Errorf("%s does not know the certificate", serverURL)
	}
}
