package trust_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ocsp"

	"github.com/rezonia/einvoice-engine/internal/signature/trust"
)

type pki struct {
	root    *x509.Certificate
	rootKey *rsa.PrivateKey
}

func newPKI(t *testing.T) *pki {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Test Root CA", Organization: []string{"FNMT-RCM"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return &pki{root: cert, rootKey: key}
}

func (p *pki) issue(t *testing.T, serial int64, ocspURL string) *x509.Certificate {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(serial),
		Subject:      pkix.Name{CommonName: "Servicios Norte SL", SerialNumber: "VATES-B12345678"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(12 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	if ocspURL != "" {
		tmpl.OCSPServer = []string{ocspURL}
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, p.root, &key.PublicKey, p.rootKey)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

// responder answers Revoked for serials in revoked and Good otherwise
func (p *pki) responder(t *testing.T, revoked map[int64]bool, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		body, _ := io.ReadAll(r.Body)
		req, err := ocsp.ParseRequest(body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		tmpl := ocsp.Response{
			Status:       ocsp.Good,
			SerialNumber: req.SerialNumber,
			ThisUpdate:   time.Now().Add(-time.Minute),
			NextUpdate:   time.Now().Add(time.Hour),
		}
		if revoked[req.SerialNumber.Int64()] {
			tmpl.Status = ocsp.Revoked
			tmpl.RevokedAt = time.Now().Add(-time.Minute)
			tmpl.RevocationReason = ocsp.KeyCompromise
		}
		resp, err := ocsp.CreateResponse(p.root, p.root, tmpl, p.rootKey)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/ocsp-response")
		_, _ = w.Write(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestStore_VerifyChain(t *testing.T) {
	p := newPKI(t)
	leaf := p.issue(t, 2, "")

	store := trust.NewStore()
	_, err := store.VerifyChain(leaf, nil, time.Time{})
	require.Error(t, err, "empty store trusts nothing")

	store.AddCertificate(p.root)
	assert.Equal(t, 1, store.Len())

	chain, err := store.VerifyChain(leaf, nil, time.Time{})
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.True(t, chain[1].Equal(p.root))

	_, err = store.VerifyChain(leaf, nil, leaf.NotAfter.Add(time.Hour))
	assert.Error(t, err, "expired at the given time")

	_, err = store.VerifyChain(nil, nil, time.Time{})
	assert.Error(t, err)
}

func TestStore_LoadFile(t *testing.T) {
	p := newPKI(t)
	path := filepath.Join(t.TempDir(), "roots.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: p.root.Raw}), 0o644))

	store := trust.NewStore()
	require.NoError(t, store.LoadFile(path))
	assert.Equal(t, 1, store.Len())

	assert.Error(t, store.LoadFile(filepath.Join(t.TempDir(), "missing.pem")))
	assert.Error(t, store.AddCertificatesFromPEM([]byte("not a certificate")))
}

func TestStore_CheckRevocation(t *testing.T) {
	ctx := context.Background()
	p := newPKI(t)
	var hits int32
	srv := p.responder(t, map[int64]bool{3: true}, &hits)

	store := trust.NewStore()
	store.AddCertificate(p.root)

	good := p.issue(t, 2, srv.URL)
	ok, err := store.CheckRevocation(ctx, good, p.root)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.CheckRevocation(ctx, good, p.root)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "second answer comes from the cache")

	revoked := p.issue(t, 3, srv.URL)
	ok, err = store.CheckRevocation(ctx, revoked, p.root)
	require.NoError(t, err)
	assert.False(t, ok)

	noResponder := p.issue(t, 4, "")
	ok, err = store.CheckRevocation(ctx, noResponder, p.root)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = store.CheckRevocation(ctx, nil, p.root)
	assert.Error(t, err)
}

func TestStore_CheckRevocation_ResponderDown(t *testing.T) {
	ctx := context.Background()
	p := newPKI(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	leaf := p.issue(t, 5, srv.URL)

	hard := trust.NewStore()
	ok, err := hard.CheckRevocation(ctx, leaf, p.root)
	require.Error(t, err)
	assert.False(t, ok)

	soft := trust.NewStore(trust.WithSoftFail(), trust.WithOCSPTimeout(2*time.Second))
	assert.True(t, soft.IsSoftFail())
	ok, err = soft.CheckRevocation(ctx, leaf, p.root)
	require.Error(t, err)
	assert.True(t, ok)
}

func TestOCSPCache(t *testing.T) {
	p := newPKI(t)
	a := p.issue(t, 10, "")
	b := p.issue(t, 11, "")

	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	cache := trust.NewOCSPCache(time.Hour, func() time.Time { return now })
	_, found := cache.Get(a)
	assert.False(t, found)

	cache.Set(a, true, time.Time{})
	cache.Set(b, false, now.Add(10*time.Minute))
	v, found := cache.Get(a)
	assert.True(t, found)
	assert.True(t, v)
	v, found = cache.Get(b)
	assert.True(t, found)
	assert.False(t, v)
	assert.Equal(t, 2, cache.Len())

	cache.Set(nil, true, time.Time{})
	_, found = cache.Get(nil)
	assert.False(t, found)

	// NextUpdate bounds b before the TTL bounds a
	now = now.Add(15 * time.Minute)
	_, found = cache.Get(b)
	assert.False(t, found)
	_, found = cache.Get(a)
	assert.True(t, found)

	now = now.Add(time.Hour)
	_, found = cache.Get(a)
	assert.False(t, found)
	assert.Zero(t, cache.Len())
}
