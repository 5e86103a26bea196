// Package invoicelib is the public API of the e-invoice engine.
//
// It re-exports the neutral invoice model and wraps codec, validation,
// signing and registry delivery behind a single Engine.
//
// Example usage:
//
//	engine, err := invoicelib.NewEngine(invoicelib.Options{
//	    Tenants:      invoicelib.NewStaticTenants(invoicelib.TenantConfig{TenantID: "acme", Active: true, CertificatePassword: "env:ACME_PW"}),
//	    Certificates: invoicelib.NewCertificateDir("/etc/einvoice/certs"),
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	res, err := engine.ProcessInvoice(ctx, data, invoicelib.FormatFacturae, "acme")
package invoicelib

import (
	"github.com/rezonia/einvoice-engine/internal/codec"
	"github.com/rezonia/einvoice-engine/internal/model"
)

// Re-export core types for public API
type (
	Invoice              = model.Invoice
	Line                 = model.Line
	Party                = model.Party
	Address              = model.Address
	TaxTotal             = model.TaxTotal
	PaymentMeans         = model.PaymentMeans
	AdministrativeCentre = model.AdministrativeCentre
	InvoiceType          = model.InvoiceType
	CentreRole           = model.CentreRole
	Violation            = model.Violation
	Format               = codec.Format
)

// Re-export document formats
const (
	FormatFacturae = codec.FormatFacturae
	FormatUBL      = codec.FormatUBL
	FormatUnknown  = codec.FormatUnknown
)

// Re-export invoice types
const (
	InvoiceTypeCommercial = model.InvoiceTypeCommercial
	InvoiceTypeCreditNote = model.InvoiceTypeCreditNote
	InvoiceTypeCorrected  = model.InvoiceTypeCorrected
)

// Re-export administrative centre roles
const (
	CentreAccountingOffice = model.CentreAccountingOffice
	CentreManagementBody   = model.CentreManagementBody
	CentreProcessingUnit   = model.CentreProcessingUnit
)

// Re-export error types
type (
	ModelError      = model.ModelError
	ParseError      = model.ParseError
	ConversionError = model.ConversionError
	ConfigError     = model.ConfigError
)

// FromMap builds an Invoice from decoded JSON or other plain data
func FromMap(data map[string]any) (Invoice, error) {
	return model.FromMap(data)
}

// ParseFormat accepts canonical format names and short aliases such as
// "facturae" and "ubl"
func ParseFormat(s string) (Format, error) {
	return codec.ParseFormat(s)
}
