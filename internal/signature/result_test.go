package signature_test

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rezonia/einvoice-engine/internal/signature"
)

func passing() *signature.VerificationResult {
	r := signature.NewVerificationResult()
	r.SignatureFound = true
	r.ReferencesValid = true
	r.SignatureValid = true
	r.CertDigestValid = true
	return r
}

func TestComputeValidity(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*signature.VerificationResult)
		want   bool
	}{
		{"all checks pass", func(*signature.VerificationResult) {}, true},
		{"no signature", func(r *signature.VerificationResult) { r.SignatureFound = false }, false},
		{"bad reference", func(r *signature.VerificationResult) { r.ReferencesValid = false }, false},
		{"bad signature value", func(r *signature.VerificationResult) { r.SignatureValid = false }, false},
		{"bad cert digest", func(r *signature.VerificationResult) { r.CertDigestValid = false }, false},
		{"chain not checked", func(r *signature.VerificationResult) { r.CertChainValid = false }, true},
		{"chain checked and invalid", func(r *signature.VerificationResult) { r.ChainChecked = true }, false},
		{"chain checked and valid", func(r *signature.VerificationResult) { r.ChainChecked = true; r.CertChainValid = true }, true},
		{"revoked", func(r *signature.VerificationResult) { r.NotRevoked = false }, false},
		{"error recorded", func(r *signature.VerificationResult) { r.AddError("boom") }, false},
		{"warning only", func(r *signature.VerificationResult) { r.AddWarning("soft") }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := passing()
			tt.mutate(r)
			r.ComputeValidity()
			assert.Equal(t, tt.want, r.Valid)
		})
	}
}

func TestSetSigner(t *testing.T) {
	r := signature.NewVerificationResult()
	r.SetSigner(nil)
	assert.Nil(t, r.Signer)

	cert := &x509.Certificate{
		SerialNumber: big.NewInt(42),
		Subject: pkix.Name{
			CommonName:   "GARCIA LOPEZ JUAN - 12345678Z",
			Organization: []string{"Servicios Norte SL"},
			SerialNumber: "IDCES-12345678Z",
		},
		Issuer:    pkix.Name{Organization: []string{"FNMT-RCM"}},
		NotBefore: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		NotAfter:  time.Date(2028, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	r.SetSigner(cert)

	assert.Equal(t, "GARCIA LOPEZ JUAN - 12345678Z", r.Signer.Name)
	assert.Equal(t, "Servicios Norte SL", r.Signer.Organization)
	assert.Equal(t, "12345678Z", r.Signer.TaxID)
	assert.Equal(t, "42", r.Signer.SerialNumber)
	assert.Equal(t, "FNMT-RCM", r.Signer.Issuer)
}

func TestErrors(t *testing.T) {
	assert.Equal(t, "[NO_SIGNATURE] No ds:Signature element found.", signature.ErrNoSignature().Error())
	assert.Equal(t, "[DIGEST_MISMATCH] Reference: digest mismatch for document", signature.ErrDigestMismatch("").Error())

	cause := errors.New("bad padding")
	err := signature.ErrInvalidSignature(cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "bad padding")

	keyErr := signature.NewKeyError("acme", "cannot load private key", cause)
	assert.ErrorIs(t, keyErr, cause)
	assert.Equal(t, "[KEY_UNAVAILABLE] tenant acme: cannot load private key (bad padding)", keyErr.Error())

	certErr := signature.NewCertError("acme", "no certificate on file", nil)
	assert.Equal(t, "[CERT_UNAVAILABLE] tenant acme: no certificate on file", certErr.Error())

	var target *signature.CertError
	assert.True(t, errors.As(error(certErr), &target))
}
