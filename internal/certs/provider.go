// Package certs resolves a tenant's signing key and X.509 certificate.
package certs

import (
	"context"
	"crypto"
	"crypto/x509"
	"encoding/asn1"
	"encoding/pem"
	"math"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"github.com/rezonia/einvoice-engine/internal/checksum"
)

// ErrNotFound means the tenant has no key or certificate on file
var ErrNotFound = errors.New("certificate material not found")

// ErrBadPassword means the key could not be decrypted with the given password
var ErrBadPassword = errors.New("private key password rejected")

// Provider gives access to per-tenant certificate material. Implementations
// must be safe for concurrent use by different tenants.
type Provider interface {
	PrivateKey(ctx context.Context, tenantID, password string) (crypto.Signer, error)
	// Certificate returns the PEM-encoded signing certificate
	Certificate(ctx context.Context, tenantID, password string) ([]byte, error)
	ValidateCertificate(ctx context.Context, tenantID, password string) (*CertificateStatus, error)
}

// CertificateStatus summarizes a tenant certificate
type CertificateStatus struct {
	IsValid       bool      `json:"is_valid"`
	Subject       string    `json:"subject"`
	Issuer        string    `json:"issuer"`
	TaxID         string    `json:"tax_id,omitempty"`
	SerialNumber  string    `json:"serial_number"`
	ValidFrom     time.Time `json:"valid_from"`
	ValidTo       time.Time `json:"valid_to"`
	DaysRemaining int       `json:"days_remaining"`
}

// Status builds a CertificateStatus for cert as of now
func Status(cert *x509.Certificate, now time.Time) *CertificateStatus {
	days := int(math.Floor(cert.NotAfter.Sub(now).Hours() / 24))
	return &CertificateStatus{
		IsValid:       !now.Before(cert.NotBefore) && now.Before(cert.NotAfter),
		Subject:       cert.Subject.String(),
		Issuer:        cert.Issuer.String(),
		TaxID:         TaxIDFromCertificate(cert),
		SerialNumber:  cert.SerialNumber.String(),
		ValidFrom:     cert.NotBefore,
		ValidTo:       cert.NotAfter,
		DaysRemaining: days,
	}
}

var oidOrganizationIdentifier = asn1.ObjectIdentifier{2, 5, 4, 97}

// TaxIDFromCertificate extracts the holder's Spanish tax identifier. Spanish
// qualified certificates carry it in the subject serialNumber (IDCES-... for
// individuals, VATES-... for entities) or in organizationIdentifier.
func TaxIDFromCertificate(cert *x509.Certificate) string {
	candidates := []string{cert.Subject.SerialNumber}
	for _, name := range cert.Subject.Names {
		if name.Type.Equal(oidOrganizationIdentifier) {
			if s, ok := name.Value.(string); ok {
				candidates = append(candidates, s)
			}
		}
	}

	for _, c := range candidates {
		c = strings.ToUpper(strings.TrimSpace(c))
		for _, prefix := range []string{"IDCES-", "VATES-", "PASES-"} {
			c = strings.TrimPrefix(c, prefix)
		}
		if checksum.ValidTaxID(c) {
			return checksum.NormalizeTaxID(c)
		}
	}
	return ""
}

// ParseCertificatePEM decodes the first CERTIFICATE block
func ParseCertificatePEM(data []byte) (*x509.Certificate, error) {
	for len(data) > 0 {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, errors.Wrap(err, "parse certificate")
		}
		return cert, nil
	}
	return nil, errors.New("no CERTIFICATE block found in PEM")
}

// EncodeCertificatePEM wraps a DER certificate in a PEM block
func EncodeCertificatePEM(cert *x509.Certificate) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
}
