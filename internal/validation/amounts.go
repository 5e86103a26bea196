package validation

import (
	"fmt"

	"github.com/shopspring/decimal"

	money "github.com/rezonia/einvoice-engine/internal/decimal"
	"github.com/rezonia/einvoice-engine/internal/model"
)

// Totals are the document-level amounts checked by ValidateAmounts. Names
// follow the Facturae InvoiceTotals block.
type Totals struct {
	GrossAmountBeforeTaxes decimal.Decimal
	TaxOutputs             decimal.Decimal
	TaxesWithheld          decimal.Decimal
	InvoiceTotal           decimal.Decimal
	OutstandingAmount      decimal.Decimal
	ExecutableAmount       decimal.Decimal
}

// TotalsFromInvoice maps the neutral model onto Totals. The model carries no
// withholding, and the outstanding and executable amounts are the amount due.
func TotalsFromInvoice(inv model.Invoice) Totals {
	return Totals{
		GrossAmountBeforeTaxes: inv.TotalWithoutTax,
		TaxOutputs:             inv.TotalTax,
		TaxesWithheld:          decimal.Zero,
		InvoiceTotal:           inv.TotalWithTax,
		OutstandingAmount:      inv.AmountDue,
		ExecutableAmount:       inv.AmountDue,
	}
}

// ValidateAmounts recomputes the invoice total from gross, tax outputs and
// withholding and checks the outstanding and executable amounts against it.
func ValidateAmounts(t Totals) Result {
	var errs []string

	expected := t.GrossAmountBeforeTaxes.Add(t.TaxOutputs).Sub(t.TaxesWithheld)
	if !money.WithinTolerance(expected, t.InvoiceTotal) {
		errs = append(errs, fmt.Sprintf(
			"InvoiceTotal: declared %s does not match expected %s (gross %s + tax outputs %s - taxes withheld %s)",
			money.Format(t.InvoiceTotal), money.Format(expected),
			money.Format(t.GrossAmountBeforeTaxes), money.Format(t.TaxOutputs), money.Format(t.TaxesWithheld)))
	}
	if money.Exceeds(t.OutstandingAmount, t.InvoiceTotal) {
		errs = append(errs, fmt.Sprintf("TotalOutstandingAmount: %s exceeds InvoiceTotal %s",
			money.Format(t.OutstandingAmount), money.Format(t.InvoiceTotal)))
	}
	if money.Exceeds(t.ExecutableAmount, t.OutstandingAmount) {
		errs = append(errs, fmt.Sprintf("TotalExecutableAmount: %s exceeds TotalOutstandingAmount %s",
			money.Format(t.ExecutableAmount), money.Format(t.OutstandingAmount)))
	}

	if len(errs) > 0 {
		return Failed(LayerBusinessRules, errs...)
	}
	return Success(LayerBusinessRules)
}
