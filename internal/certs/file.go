package certs

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/youmark/pkcs8"
)

// File names inside a tenant directory
const (
	CertificateFile = "certificate.pem"
	PrivateKeyFile  = "private_key.pem"
)

// FileProvider reads certificate material from <baseDir>/<tenantID>/
type FileProvider struct {
	baseDir string
	now     func() time.Time
}

// FileOption configures a FileProvider
type FileOption func(*FileProvider)

// WithClock sets the clock used for certificate validity checks
func WithClock(now func() time.Time) FileOption {
	return func(p *FileProvider) {
		p.now = now
	}
}

// NewFileProvider creates a provider rooted at baseDir
func NewFileProvider(baseDir string, opts ...FileOption) *FileProvider {
	p := &FileProvider{baseDir: baseDir, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *FileProvider) read(tenantID, name string) ([]byte, error) {
	if tenantID == "" || strings.ContainsAny(tenantID, `/\`) || strings.Contains(tenantID, "..") {
		return nil, errors.Errorf("invalid tenant id %q", tenantID)
	}
	data, err := os.ReadFile(filepath.Join(p.baseDir, tenantID, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrapf(ErrNotFound, "tenant %s: %s", tenantID, name)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", name)
	}
	return data, nil
}

// PrivateKey loads the tenant key. Encrypted PKCS#8, plain PKCS#8 and PKCS#1
// blocks are accepted; the password only applies to the encrypted form.
func (p *FileProvider) PrivateKey(ctx context.Context, tenantID, password string) (crypto.Signer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := p.read(tenantID, PrivateKeyFile)
	if err != nil {
		return nil, err
	}
	return ParsePrivateKeyPEM(data, password)
}

// Certificate returns the tenant certificate as PEM
func (p *FileProvider) Certificate(ctx context.Context, tenantID, _ string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := p.read(tenantID, CertificateFile)
	if err != nil {
		return nil, err
	}
	if _, err := ParseCertificatePEM(data); err != nil {
		return nil, err
	}
	return data, nil
}

// ValidateCertificate reports the certificate's validity window and holder
func (p *FileProvider) ValidateCertificate(ctx context.Context, tenantID, password string) (*CertificateStatus, error) {
	data, err := p.Certificate(ctx, tenantID, password)
	if err != nil {
		return nil, err
	}
	cert, err := ParseCertificatePEM(data)
	if err != nil {
		return nil, err
	}
	return Status(cert, p.now()), nil
}

// ParsePrivateKeyPEM decodes the first private key block in data
func ParsePrivateKeyPEM(data []byte, password string) (crypto.Signer, error) {
	for len(data) > 0 {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}

		var (
			key any
			err error
		)
		switch block.Type {
		case "ENCRYPTED PRIVATE KEY":
			if password == "" {
				return nil, errors.Wrap(ErrBadPassword, "password is required for ENCRYPTED PRIVATE KEY")
			}
			key, err = pkcs8.ParsePKCS8PrivateKey(block.Bytes, []byte(password))
			if err != nil {
				return nil, errors.Wrap(ErrBadPassword, err.Error())
			}
		case "PRIVATE KEY":
			key, err = pkcs8.ParsePKCS8PrivateKey(block.Bytes)
		case "RSA PRIVATE KEY":
			key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
		default:
			continue
		}
		if err != nil {
			return nil, errors.Wrap(err, "parse private key")
		}

		switch k := key.(type) {
		case *rsa.PrivateKey:
			return k, nil
		case *ecdsa.PrivateKey:
			return k, nil
		default:
			return nil, errors.Errorf("unsupported key type %T (expected RSA or ECDSA)", key)
		}
	}
	return nil, errors.New("no private key block found in PEM")
}
