package validation_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/einvoice-engine/internal/codec"
	"github.com/rezonia/einvoice-engine/internal/model"
	"github.com/rezonia/einvoice-engine/internal/validation"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func sampleInvoice() model.Invoice {
	return model.Invoice{
		Number:    "F-2026-010",
		IssueDate: time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC),
		TypeCode:  model.InvoiceTypeCommercial,
		Currency:  "EUR",
		Seller:    model.Party{Name: "Servicios Norte SL", TaxID: "B12345678"},
		Buyer:     model.Party{Name: "Ayuntamiento de Ejemplo", TaxID: "P2807900B"},
		Lines: []model.Line{{
			ID: "1", Description: "Mantenimiento", Quantity: d("1"), Unit: "C62",
			UnitPrice: d("1000"), NetAmount: d("1000"), TaxPercent: d("21"), TaxCategory: "S",
		}},
		TotalWithoutTax: d("1000"),
		TotalTax:        d("210"),
		TotalWithTax:    d("1210"),
		AmountDue:       d("1210"),
		PaymentMeans:    &model.PaymentMeans{Code: "30", IBAN: "ES9121000418450200051332"},
		AdministrativeCentres: []model.AdministrativeCentre{
			{Code: "L01280796", Role: model.CentreAccountingOffice},
		},
	}
}

func generate(t *testing.T, inv model.Invoice, f codec.Format) []byte {
	t.Helper()
	c := codec.New(codec.WithClock(func() time.Time { return time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC) }))
	out, err := c.Generate(inv, f)
	require.NoError(t, err)
	return out
}

func TestValidateAmounts(t *testing.T) {
	totals := validation.Totals{
		GrossAmountBeforeTaxes: d("1000.00"),
		TaxOutputs:             d("210.00"),
		TaxesWithheld:          d("150.00"),
		InvoiceTotal:           d("1060.00"),
		OutstandingAmount:      d("1060.00"),
		ExecutableAmount:       d("1060.00"),
	}

	res := validation.ValidateAmounts(totals)
	assert.True(t, res.Valid)
	assert.Empty(t, res.Errors)
	assert.Equal(t, validation.LayerBusinessRules, res.Layer)

	t.Run("total mismatch", func(t *testing.T) {
		bad := totals
		bad.InvoiceTotal = d("999.00")
		res := validation.ValidateAmounts(bad)
		require.False(t, res.Valid)
		assert.Contains(t, strings.Join(res.Errors, "\n"), "does not match expected")
		// 1060 outstanding now also exceeds the 999 total
		assert.Len(t, res.Errors, 2)
	})

	t.Run("within tolerance", func(t *testing.T) {
		ok := totals
		ok.InvoiceTotal = d("1060.01")
		assert.True(t, validation.ValidateAmounts(ok).Valid)
	})

	t.Run("executable exceeds outstanding", func(t *testing.T) {
		bad := totals
		bad.OutstandingAmount = d("500.00")
		bad.ExecutableAmount = d("600.00")
		res := validation.ValidateAmounts(bad)
		require.False(t, res.Valid)
		require.Len(t, res.Errors, 1)
		assert.True(t, strings.HasPrefix(res.Errors[0], "TotalExecutableAmount"))
	})
}

func TestTotalsFromInvoice(t *testing.T) {
	tot := validation.TotalsFromInvoice(sampleInvoice())
	assert.True(t, tot.InvoiceTotal.Equal(d("1210")))
	assert.True(t, tot.TaxesWithheld.IsZero())
	assert.True(t, validation.ValidateAmounts(tot).Valid)
}

func TestValidateModel(t *testing.T) {
	assert.True(t, validation.ValidateModel(sampleInvoice()).Valid)

	inv := sampleInvoice()
	inv.Number = ""
	res := validation.ValidateModel(inv)
	require.False(t, res.Valid)
	assert.Equal(t, validation.LayerModel, res.Layer)
	assert.Contains(t, res.Errors[0], model.RuleInvoiceNumberRequired)
}

func TestResultErr(t *testing.T) {
	assert.NoError(t, validation.Success(validation.LayerComplete).Err())

	err := validation.Failed(validation.LayerStructural, "a", "b").Err()
	var failure *validation.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, validation.LayerStructural, failure.Layer)
	assert.Equal(t, "structural validation failed: a; b", err.Error())

	assert.Equal(t, []string{"validation failed"}, validation.Failed(validation.LayerModel).Errors)
}

func TestValidateSchematron_MinimalDocument(t *testing.T) {
	v := validation.NewValidator()

	res := v.ValidateSchematron([]byte(`<Invoice/>`))
	require.False(t, res.Valid)
	joined := strings.Join(res.Errors, "\n")
	for _, rule := range []string{"BR-02", "BR-03", "BR-05", "BR-06", "BR-07", "BR-12", "BR-16"} {
		assert.Contains(t, joined, "["+rule+"]")
	}
	assert.Len(t, res.Errors, 7)

	res = v.ValidateSchematron([]byte(`<Root/>`))
	require.False(t, res.Valid)
	assert.Len(t, res.Errors, 5, "unknown roots get the common rules only")
}

func TestValidateSchematron_GeneratedDocuments(t *testing.T) {
	v := validation.NewValidator()
	for _, f := range []codec.Format{codec.FormatFacturae, codec.FormatUBL} {
		t.Run(string(f), func(t *testing.T) {
			res := v.ValidateSchematron(generate(t, sampleInvoice(), f))
			assert.True(t, res.Valid, "errors: %v", res.Errors)
		})
	}
}

func TestValidateSchematron_ContentRules(t *testing.T) {
	v := validation.NewValidator()

	tests := []struct {
		name   string
		mutate func(*model.Invoice)
		format codec.Format
		rule   string
	}{
		{"facturae totals", func(inv *model.Invoice) { inv.TotalWithTax = d("999") }, codec.FormatFacturae, "[FA-CO-01]"},
		{"ubl totals", func(inv *model.Invoice) { inv.TotalWithTax = d("999"); inv.AmountDue = d("999") }, codec.FormatUBL, "[BR-CO-15]"},
		{"ubl payable", func(inv *model.Invoice) { inv.AmountDue = d("5000") }, codec.FormatUBL, "[BR-CO-16]"},
		{"facturae seller tax id", func(inv *model.Invoice) { inv.Seller.TaxID = "12345678A" }, codec.FormatFacturae, "[ES-TAXID]"},
		{"ubl buyer tax id", func(inv *model.Invoice) { inv.Buyer.TaxID = "X1234567A" }, codec.FormatUBL, "[ES-TAXID]"},
		{"facturae dir3", func(inv *model.Invoice) { inv.AdministrativeCentres[0].Code = "12345678A" }, codec.FormatFacturae, "[ES-DIR3]"},
		{"ubl dir3", func(inv *model.Invoice) { inv.AdministrativeCentres[0].Code = "L0128" }, codec.FormatUBL, "[ES-DIR3]"},
		{"facturae iban", func(inv *model.Invoice) { inv.PaymentMeans.IBAN = "ES9121000418450200051333" }, codec.FormatFacturae, "[ES-IBAN]"},
		{"ubl iban", func(inv *model.Invoice) { inv.PaymentMeans.IBAN = "ES9121000418450200051333" }, codec.FormatUBL, "[ES-IBAN]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := sampleInvoice()
			tt.mutate(&inv)
			res := v.ValidateSchematron(generate(t, inv, tt.format))
			require.False(t, res.Valid)
			assert.Contains(t, strings.Join(res.Errors, "\n"), tt.rule)
		})
	}
}

func TestValidateSchematron_OutstandingDefaultsToInvoiceTotal(t *testing.T) {
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(generate(t, sampleInvoice(), codec.FormatFacturae)))
	totals := doc.FindElement("//InvoiceTotals")
	require.NotNil(t, totals)
	outstanding := totals.SelectElement("TotalOutstandingAmount")
	require.NotNil(t, outstanding)
	totals.RemoveChild(outstanding)
	require.NotNil(t, totals.SelectElement("TotalExecutableAmount"))
	out, err := doc.WriteToBytes()
	require.NoError(t, err)

	res := validation.NewValidator().ValidateSchematron(out)
	assert.True(t, res.Valid, "errors: %v", res.Errors)

	totals.SelectElement("TotalExecutableAmount").SetText("1300.00")
	out, err = doc.WriteToBytes()
	require.NoError(t, err)
	res = validation.NewValidator().ValidateSchematron(out)
	require.False(t, res.Valid)
	assert.Contains(t, strings.Join(res.Errors, "\n"), "[FA-CO-01]")
}

func TestValidateSchematron_ForeignPartySkipsTaxIDChecksum(t *testing.T) {
	inv := sampleInvoice()
	inv.Buyer = model.Party{
		Name:    "Handels GmbH",
		TaxID:   "DE123456789",
		Address: &model.Address{Street: "Hauptstr. 1", PostalCode: "10115", City: "Berlin", Country: "DE"},
	}
	inv.AdministrativeCentres = nil

	v := validation.NewValidator()
	for _, f := range []codec.Format{codec.FormatFacturae, codec.FormatUBL} {
		res := v.ValidateSchematron(generate(t, inv, f))
		assert.True(t, res.Valid, "%s: %v", f, res.Errors)
	}
}

func TestValidateSchematron_EmptyIdentifier(t *testing.T) {
	doc := `<Invoice xmlns="urn:oasis:names:specification:ubl:schema:xsd:Invoice-2"
	xmlns:cbc="urn:oasis:names:specification:ubl:schema:xsd:CommonBasicComponents-2">
	<cbc:ID> </cbc:ID><cbc:IssueDate>2026-13-01</cbc:IssueDate></Invoice>`

	res := validation.NewValidator().ValidateSchematron([]byte(doc))
	require.False(t, res.Valid)
	joined := strings.Join(res.Errors, "\n")
	assert.Contains(t, joined, "[BR-02] mandatory node is empty")
	assert.Contains(t, joined, "[BR-DATE]")
}

func TestValidateXSD(t *testing.T) {
	ctx := context.Background()
	v := validation.NewValidator()

	t.Run("empty", func(t *testing.T) {
		res := v.ValidateXSD(ctx, []byte("  "), codec.FormatUBL)
		require.False(t, res.Valid)
		assert.Equal(t, validation.LayerStructural, res.Layer)
		assert.Contains(t, res.Errors[0], "empty")
	})

	t.Run("malformed", func(t *testing.T) {
		res := v.ValidateXSD(ctx, []byte("<Invoice><ID>"), codec.FormatUBL)
		require.False(t, res.Valid)
		assert.Contains(t, res.Errors[0], "not well-formed")
	})

	t.Run("degraded without schema", func(t *testing.T) {
		res := v.ValidateXSD(ctx, []byte("<Invoice/>"), codec.FormatUBL)
		assert.True(t, res.Valid)
		assert.True(t, res.Degraded)
		require.Len(t, res.Warnings, 1)
		assert.Contains(t, res.Warnings[0], "well-formedness only")
	})

	t.Run("schema directory missing", func(t *testing.T) {
		xv := validation.NewXmllintValidator(t.TempDir(), validation.WithXmllintPath("/bin/sh"))
		res := validation.NewValidator(validation.WithSchemaValidator(xv)).ValidateXSD(ctx, []byte("<Invoice/>"), codec.FormatUBL)
		assert.True(t, res.Valid)
		assert.True(t, res.Degraded)
	})
}

type stubSchema struct {
	err error
}

func (s stubSchema) ValidateSchema(context.Context, []byte, codec.Format) error {
	return s.err
}

func TestValidate_Pipeline(t *testing.T) {
	ctx := context.Background()
	doc := generate(t, sampleInvoice(), codec.FormatUBL)

	t.Run("complete with schema", func(t *testing.T) {
		v := validation.NewValidator(validation.WithSchemaValidator(stubSchema{}))
		res := v.Validate(ctx, doc, codec.FormatUBL)
		assert.True(t, res.Valid)
		assert.Equal(t, validation.LayerComplete, res.Layer)
		assert.False(t, res.Degraded)
		assert.Empty(t, res.Warnings)
	})

	t.Run("complete but degraded", func(t *testing.T) {
		res := validation.NewValidator().Validate(ctx, doc, codec.FormatUBL)
		assert.True(t, res.Valid)
		assert.Equal(t, validation.LayerComplete, res.Layer)
		assert.True(t, res.Degraded)
	})

	t.Run("structural failure short-circuits", func(t *testing.T) {
		v := validation.NewValidator(validation.WithSchemaValidator(stubSchema{
			err: &validation.SchemaError{Schema: "UBL-Invoice-2.1.xsd", Messages: []string{"element Foo: not expected"}},
		}))
		res := v.Validate(ctx, []byte("<Invoice/>"), codec.FormatUBL)
		require.False(t, res.Valid)
		assert.Equal(t, validation.LayerStructural, res.Layer)
		assert.Equal(t, []string{"element Foo: not expected"}, res.Errors)
	})

	t.Run("business rules failure", func(t *testing.T) {
		res := validation.NewValidator().Validate(ctx, []byte("<Invoice/>"), codec.FormatUBL)
		require.False(t, res.Valid)
		assert.Equal(t, validation.LayerBusinessRules, res.Layer)
		assert.NotEmpty(t, res.Warnings)
	})

	t.Run("schema backend error", func(t *testing.T) {
		v := validation.NewValidator(validation.WithSchemaValidator(stubSchema{err: context.DeadlineExceeded}))
		res := v.Validate(ctx, doc, codec.FormatUBL)
		require.False(t, res.Valid)
		assert.Equal(t, validation.LayerStructural, res.Layer)
	})
}

func writeScript(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "xmllint")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\ncat >/dev/null\n"+body), 0o755))
	return path
}

func TestXmllintValidator(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script fixture")
	}
	ctx := context.Background()

	schemaDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(schemaDir, "Facturaev3_2_2.xsd"), []byte("<xs:schema/>"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(schemaDir, "maindoc"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(schemaDir, "maindoc", "UBL-Invoice-2.1.xsd"), []byte("<xs:schema/>"), 0o644))

	t.Run("passes", func(t *testing.T) {
		bin := writeScript(t, t.TempDir(), "echo '- validates' >&2\nexit 0\n")
		xv := validation.NewXmllintValidator(schemaDir, validation.WithXmllintPath(bin))
		require.True(t, xv.IsAvailable())
		assert.NoError(t, xv.ValidateSchema(ctx, generate(t, sampleInvoice(), codec.FormatFacturae), codec.FormatFacturae))
		assert.NoError(t, xv.ValidateSchema(ctx, generate(t, sampleInvoice(), codec.FormatUBL), codec.FormatUBL))
	})

	t.Run("fails with messages", func(t *testing.T) {
		bin := writeScript(t, t.TempDir(),
			"echo '-:4: element InvoiceNumber: Schemas validity error : too long' >&2\necho '- fails to validate' >&2\nexit 1\n")
		xv := validation.NewXmllintValidator(schemaDir, validation.WithXmllintPath(bin))

		err := xv.ValidateSchema(ctx, generate(t, sampleInvoice(), codec.FormatFacturae), codec.FormatFacturae)
		var schemaErr *validation.SchemaError
		require.ErrorAs(t, err, &schemaErr)
		assert.Equal(t, []string{"-:4: element InvoiceNumber: Schemas validity error : too long"}, schemaErr.Messages)
		assert.Contains(t, err.Error(), "Facturaev3_2_2.xsd")

		res := validation.NewValidator(validation.WithSchemaValidator(xv)).
			ValidateXSD(ctx, generate(t, sampleInvoice(), codec.FormatFacturae), codec.FormatFacturae)
		assert.False(t, res.Valid)
		assert.Equal(t, schemaErr.Messages, res.Errors)
	})

	t.Run("no schema for credit notes", func(t *testing.T) {
		bin := writeScript(t, t.TempDir(), "exit 0\n")
		xv := validation.NewXmllintValidator(schemaDir, validation.WithXmllintPath(bin))
		err := xv.ValidateSchema(ctx, []byte(`<CreditNote xmlns="urn:oasis:names:specification:ubl:schema:xsd:CreditNote-2"/>`), codec.FormatUBL)
		assert.ErrorIs(t, err, validation.ErrSchemaUnavailable)
	})

	t.Run("missing binary", func(t *testing.T) {
		xv := validation.NewXmllintValidator(schemaDir, validation.WithXmllintPath(filepath.Join(t.TempDir(), "nope")))
		assert.False(t, xv.IsAvailable())
		assert.ErrorIs(t, xv.ValidateSchema(ctx, []byte("<Invoice/>"), codec.FormatUBL), validation.ErrSchemaUnavailable)
	})
}
