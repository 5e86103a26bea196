// Package certstest generates throwaway signing material for tests.
package certstest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/youmark/pkcs8"

	"github.com/rezonia/einvoice-engine/internal/certs"
)

// Material is a self-signed RSA certificate and its key
type Material struct {
	Key  *rsa.PrivateKey
	Cert *x509.Certificate
}

// New creates material whose subject carries taxID the way Spanish
// qualified certificates do. The certificate is valid from an hour ago for
// one year.
func New(t testing.TB, commonName, taxID string) *Material {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	require.NoError(t, err)

	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   commonName,
			SerialNumber: "IDCES-" + taxID,
			Organization: []string{"Pruebas"},
			Country:      []string{"ES"},
		},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.AddDate(1, 0, 0),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return &Material{Key: key, Cert: cert}
}

// CertificatePEM encodes the certificate
func (m *Material) CertificatePEM() []byte {
	return certs.EncodeCertificatePEM(m.Cert)
}

// EncryptedKeyPEM encodes the key as password-protected PKCS#8
func (m *Material) EncryptedKeyPEM(t testing.TB, password string) []byte {
	t.Helper()
	der, err := pkcs8.MarshalPrivateKey(m.Key, []byte(password), nil)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "ENCRYPTED PRIVATE KEY", Bytes: der})
}

// WriteTenant lays the material out the way certs.FileProvider expects
func (m *Material) WriteTenant(t testing.TB, baseDir, tenantID, password string) {
	t.Helper()
	dir := filepath.Join(baseDir, tenantID)
	require.NoError(t, os.MkdirAll(dir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, certs.CertificateFile), m.CertificatePEM(), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, certs.PrivateKeyFile), m.EncryptedKeyPEM(t, password), 0o600))
}

// Static registers the material in a new StaticProvider
func (m *Material) Static(tenantID, password string) *certs.StaticProvider {
	p := certs.NewStaticProvider()
	p.Add(tenantID, password, m.Key, m.Cert)
	return p
}
