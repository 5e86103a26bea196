package xades_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/einvoice-engine/internal/certs"
	"github.com/rezonia/einvoice-engine/internal/certs/certstest"
	"github.com/rezonia/einvoice-engine/internal/codec"
	"github.com/rezonia/einvoice-engine/internal/model"
	"github.com/rezonia/einvoice-engine/internal/signature"
	"github.com/rezonia/einvoice-engine/internal/signature/trust"
	"github.com/rezonia/einvoice-engine/internal/signature/xades"
	"github.com/rezonia/einvoice-engine/internal/tenant"
)

const (
	tenantID = "acme"
	password = "s3cret"
)

var (
	materialOnce sync.Once
	material     *certstest.Material
)

func testMaterial(t *testing.T) *certstest.Material {
	materialOnce.Do(func() {
		material = certstest.New(t, "SERVICIOS NORTE SL", "B12345678")
	})
	return material
}

var signingTime = time.Now().UTC().Truncate(time.Second)

func newSigner(t *testing.T, opts ...xades.Option) *xades.Signer {
	m := testMaterial(t)
	tenants := tenant.NewStaticProvider(tenant.Config{TenantID: tenantID, Active: true, CertificatePassword: password})
	opts = append([]xades.Option{xades.WithClock(func() time.Time { return signingTime })}, opts...)
	return xades.NewSigner(m.Static(tenantID, password), tenants, opts...)
}

func newVerifier(opts ...xades.VerifierOption) *xades.Verifier {
	opts = append([]xades.VerifierOption{xades.WithVerifierClock(func() time.Time { return signingTime.Add(time.Hour) })}, opts...)
	return xades.NewVerifier(opts...)
}

func invoiceXML(t *testing.T, f codec.Format) []byte {
	t.Helper()
	inv := model.Invoice{
		Number:    "F-2026-001",
		IssueDate: time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
		TypeCode:  model.InvoiceTypeCommercial,
		Currency:  "EUR",
		Seller:    model.Party{Name: "Servicios Norte SL", TaxID: "B12345678"},
		Buyer:     model.Party{Name: "Ayuntamiento de Ejemplo", TaxID: "P2807900B"},
		Lines: []model.Line{{
			ID: "1", Description: "Consultoria", Quantity: decimal.NewFromInt(1), Unit: "C62",
			UnitPrice: decimal.NewFromInt(1000), NetAmount: decimal.NewFromInt(1000),
			TaxPercent: decimal.NewFromInt(21), TaxCategory: "S",
		}},
		TotalWithoutTax: decimal.NewFromInt(1000),
		TotalTax:        decimal.NewFromInt(210),
		TotalWithTax:    decimal.NewFromInt(1210),
		AmountDue:       decimal.NewFromInt(1210),
	}
	out, err := codec.New(codec.WithClock(func() time.Time { return signingTime })).Generate(inv, f)
	require.NoError(t, err)
	return out
}

func TestSignVerify_RoundTrip(t *testing.T) {
	ctx := context.Background()
	signer := newSigner(t)
	verifier := newVerifier()

	docs := map[string][]byte{
		"facturae":        invoiceXML(t, codec.FormatFacturae),
		"ubl":             invoiceXML(t, codec.FormatUBL),
		"plain":           []byte(`<doc attr="x"><a>1</a><b/></doc>`),
		"prefixed":        []byte(`<?xml version="1.0"?><p:root xmlns:p="urn:example"><p:item>ñ &amp; €</p:item></p:root>`),
		"carriage return": []byte(`<doc><v>a&#13;b</v><w note="x&#13;&#10;y&#9;z">c&#xD;&#xA;d</w></doc>`),
	}
	for name, doc := range docs {
		t.Run(name, func(t *testing.T) {
			signed, err := signer.Sign(ctx, doc, tenantID)
			require.NoError(t, err)

			res, err := verifier.Verify(ctx, signed)
			require.NoError(t, err)
			assert.True(t, res.Valid, "errors: %v", res.Errors)
			assert.True(t, res.SignatureFound)
			assert.True(t, res.ReferencesValid)
			assert.True(t, res.SignatureValid)
			assert.True(t, res.CertDigestValid)
			assert.False(t, res.ChainChecked)
			require.NotNil(t, res.SigningTime)
			assert.True(t, signingTime.Equal(*res.SigningTime))
			assert.Equal(t, xades.PolicyIdentifier, res.PolicyIdentifier)
			require.NotNil(t, res.Signer)
			assert.Equal(t, "B12345678", res.Signer.TaxID)
			assert.Empty(t, res.Warnings)
		})
	}
}

func TestSign_Structure(t *testing.T) {
	signed, err := newSigner(t, xades.WithIDGenerator(func() string { return "fixed" })).
		Sign(context.Background(), invoiceXML(t, codec.FormatFacturae), tenantID)
	require.NoError(t, err)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(signed))
	sig := doc.Root().FindElement("./ds:Signature")
	require.NotNil(t, sig, "signature is the last child of the root")
	assert.Equal(t, "Signature-fixed", sig.SelectAttrValue("Id", ""))

	for _, p := range []string{"./ds:SignedInfo", "./ds:SignatureValue", "./ds:KeyInfo/ds:X509Data/ds:X509Certificate", "./ds:Object/etsi:QualifyingProperties/etsi:SignedProperties"} {
		assert.NotNil(t, sig.FindElement(p), p)
	}
	assert.Len(t, sig.FindElements("./ds:SignedInfo/ds:Reference"), 3)
	assert.Equal(t, xades.PolicyHash, sig.FindElement(".//etsi:SigPolicyHash/ds:DigestValue").Text())
	assert.Equal(t, signingTime.Format(xades.SigningTimeLayout), sig.FindElement(".//etsi:SigningTime").Text())
	assert.Equal(t, "emisor", sig.FindElement(".//etsi:ClaimedRole").Text())
	assert.Equal(t, "#Reference-fixed", sig.FindElement(".//etsi:DataObjectFormat").SelectAttrValue("ObjectReference", ""))
}

func TestSign_LeavesDocumentUntouched(t *testing.T) {
	original := string(invoiceXML(t, codec.FormatFacturae))
	signed, err := newSigner(t).Sign(context.Background(), []byte(original), tenantID)
	require.NoError(t, err)

	closing := strings.LastIndex(original, "</fe:Facturae>")
	require.Positive(t, closing)
	assert.True(t, strings.HasPrefix(string(signed), original[:closing]))
	assert.True(t, strings.HasSuffix(strings.TrimSpace(string(signed)), "</ds:Signature></fe:Facturae>"))
}

func TestVerify_Tampering(t *testing.T) {
	ctx := context.Background()
	signed, err := newSigner(t).Sign(ctx, invoiceXML(t, codec.FormatFacturae), tenantID)
	require.NoError(t, err)
	v := newVerifier()

	tests := []struct {
		name string
		old  string
		new  string
		want string
	}{
		{"document content", "<InvoiceTotal>1210.00</InvoiceTotal>", "<InvoiceTotal>1.00</InvoiceTotal>", signature.ErrCodeDigestMismatch},
		{"signing time", signingTime.Format(xades.SigningTimeLayout), signingTime.Add(-time.Minute).Format(xades.SigningTimeLayout), signature.ErrCodeDigestMismatch},
		{"claimed role", ">emisor<", ">receptor<", signature.ErrCodeDigestMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Contains(t, string(signed), tt.old)
			tampered := strings.Replace(string(signed), tt.old, tt.new, 1)
			res, err := v.Verify(ctx, []byte(tampered))
			require.NoError(t, err)
			assert.False(t, res.Valid)
			assert.False(t, res.ReferencesValid)
			assert.Contains(t, strings.Join(res.Errors, "\n"), tt.want)
		})
	}

	t.Run("signature value", func(t *testing.T) {
		doc := etree.NewDocument()
		require.NoError(t, doc.ReadFromBytes(signed))
		sv := doc.FindElement("//ds:SignatureValue")
		text := []byte(sv.Text())
		if text[0] == 'A' {
			text[0] = 'B'
		} else {
			text[0] = 'A'
		}
		sv.SetText(string(text))
		tampered, err := doc.WriteToBytes()
		require.NoError(t, err)

		res, err := v.Verify(ctx, tampered)
		require.NoError(t, err)
		assert.False(t, res.Valid)
		assert.True(t, res.ReferencesValid)
		assert.False(t, res.SignatureValid)
		assert.Contains(t, strings.Join(res.Errors, "\n"), signature.ErrCodeInvalidSignature)
	})
}

func TestVerify_Unsigned(t *testing.T) {
	ctx := context.Background()
	res, err := newVerifier().Verify(ctx, invoiceXML(t, codec.FormatUBL))
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.False(t, res.SignatureFound)
	assert.Equal(t, []string{"No ds:Signature element found."}, res.Errors)

	res, err = newVerifier().Verify(ctx, []byte("<broken"))
	require.NoError(t, err)
	assert.False(t, res.Valid)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "malformed XML")

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = newVerifier().Verify(cctx, []byte("<a/>"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestVerify_TrustStore(t *testing.T) {
	ctx := context.Background()
	signed, err := newSigner(t).Sign(ctx, []byte("<doc/>"), tenantID)
	require.NoError(t, err)

	store := trust.NewStore()
	store.AddCertificate(testMaterial(t).Cert)
	res, err := newVerifier(xades.WithTrustStore(store)).Verify(ctx, signed)
	require.NoError(t, err)
	assert.True(t, res.Valid, "errors: %v", res.Errors)
	assert.True(t, res.ChainChecked)
	assert.True(t, res.CertChainValid)
	assert.Contains(t, strings.Join(res.Warnings, "\n"), "revocation check skipped")

	res, err = newVerifier(xades.WithTrustStore(trust.NewStore())).Verify(ctx, signed)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.False(t, res.CertChainValid)
	assert.True(t, res.SignatureValid, "signature itself is still sound")
}

func TestSign_Errors(t *testing.T) {
	ctx := context.Background()
	m := testMaterial(t)

	tests := []struct {
		name    string
		tenants tenant.Provider
		certs   certs.Provider
		doc     string
		check   func(t *testing.T, err error)
	}{
		{
			name:    "no tenant configuration",
			tenants: tenant.NewStaticProvider(),
			certs:   m.Static(tenantID, password),
			check: func(t *testing.T, err error) {
				var cfgErr *model.ConfigError
				require.ErrorAs(t, err, &cfgErr)
				assert.Equal(t, tenantID, cfgErr.TenantID)
			},
		},
		{
			name:    "no password on file",
			tenants: tenant.NewStaticProvider(tenant.Config{TenantID: tenantID}),
			certs:   m.Static(tenantID, password),
			check: func(t *testing.T, err error) {
				var cfgErr *model.ConfigError
				require.ErrorAs(t, err, &cfgErr)
				assert.Contains(t, cfgErr.Error(), "password")
			},
		},
		{
			name:    "wrong password",
			tenants: tenant.NewStaticProvider(tenant.Config{TenantID: tenantID, CertificatePassword: "wrong"}),
			certs:   m.Static(tenantID, password),
			check: func(t *testing.T, err error) {
				var keyErr *signature.KeyError
				require.ErrorAs(t, err, &keyErr)
				assert.ErrorIs(t, err, certs.ErrBadPassword)
			},
		},
		{
			name:    "no key material",
			tenants: tenant.NewStaticProvider(tenant.Config{TenantID: tenantID, CertificatePassword: password}),
			certs:   certs.NewStaticProvider(),
			check: func(t *testing.T, err error) {
				var keyErr *signature.KeyError
				require.ErrorAs(t, err, &keyErr)
				assert.ErrorIs(t, err, certs.ErrNotFound)
			},
		},
		{
			name:    "certificate missing",
			tenants: tenant.NewStaticProvider(tenant.Config{TenantID: tenantID, CertificatePassword: password}),
			certs: func() certs.Provider {
				p := certs.NewStaticProvider()
				p.Add(tenantID, password, m.Key, nil)
				return p
			}(),
			check: func(t *testing.T, err error) {
				var certErr *signature.CertError
				require.ErrorAs(t, err, &certErr)
			},
		},
		{
			name:    "malformed document",
			tenants: tenant.NewStaticProvider(tenant.Config{TenantID: tenantID, CertificatePassword: password}),
			certs:   m.Static(tenantID, password),
			doc:     "<Invoice><ID>",
			check: func(t *testing.T, err error) {
				var parseErr *model.ParseError
				require.ErrorAs(t, err, &parseErr)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := tt.doc
			if doc == "" {
				doc = "<doc/>"
			}
			_, err := xades.NewSigner(tt.certs, tt.tenants).Sign(ctx, []byte(doc), tenantID)
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestSign_RejectsNonRSAKeys(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	p := certs.NewStaticProvider()
	p.Add(tenantID, "", key, testMaterial(t).Cert)

	tenants := tenant.NewStaticProvider(tenant.Config{TenantID: tenantID, CertificatePassword: password})
	_, err = xades.NewSigner(p, tenants).Sign(context.Background(), []byte("<doc/>"), tenantID)
	var keyErr *signature.KeyError
	require.ErrorAs(t, err, &keyErr)
}

func TestSignerInfo(t *testing.T) {
	st, err := newSigner(t).SignerInfo(context.Background(), tenantID)
	require.NoError(t, err)
	assert.True(t, st.IsValid)
	assert.Equal(t, "B12345678", st.TaxID)

	_, err = newSigner(t).SignerInfo(context.Background(), "ghost")
	var cfgErr *model.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}
