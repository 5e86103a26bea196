package codec

import (
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"

	money "github.com/rezonia/einvoice-engine/internal/decimal"
	"github.com/rezonia/einvoice-engine/internal/model"
)

func addText(parent *etree.Element, tag, value string) *etree.Element {
	el := parent.CreateElement(tag)
	el.SetText(value)
	return el
}

func addAmount(parent *etree.Element, tag string, d decimal.Decimal) *etree.Element {
	return addText(parent, tag, money.Format(d))
}

func addCurrencyAmount(parent *etree.Element, tag string, d decimal.Decimal, currency string) *etree.Element {
	el := addAmount(parent, tag, d)
	el.CreateAttr("currencyID", currency)
	return el
}

// formatQuantity keeps significant decimals but never fewer than two
func formatQuantity(d decimal.Decimal) string {
	if d.Exponent() >= -2 {
		return d.StringFixed(2)
	}
	return d.String()
}

// taxBreakdown returns the declared tax totals or, when none are declared,
// groups the lines by tax rate.
func taxBreakdown(inv model.Invoice) []model.TaxTotal {
	if len(inv.TaxTotals) > 0 {
		return inv.TaxTotals
	}
	var out []model.TaxTotal
	index := map[string]int{}
	for _, line := range inv.Lines {
		key := line.TaxCategory + "/" + line.TaxPercent.String()
		i, ok := index[key]
		if !ok {
			i = len(out)
			index[key] = i
			out = append(out, model.TaxTotal{CategoryID: line.TaxCategory, Percent: line.TaxPercent})
		}
		out[i].TaxableAmount = out[i].TaxableAmount.Add(line.NetAmount)
	}
	for i := range out {
		out[i].TaxAmount = money.CalculateTax(out[i].TaxableAmount, out[i].Percent)
	}
	return out
}

// fieldReader converts text values and keeps the first failure
type fieldReader struct {
	format Format
	err    error
}

func (f *fieldReader) fail(field, msg string, cause error) {
	if f.err == nil {
		f.err = model.NewParseError(string(f.format), field, msg, cause)
	}
}

func (f *fieldReader) amount(field, s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		f.fail(field, "invalid number", err)
		return decimal.Zero
	}
	return d
}

func (f *fieldReader) amountDefault(field, s string, def decimal.Decimal) decimal.Decimal {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return f.amount(field, s)
}

func (f *fieldReader) date(field, s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(model.DateLayout, s)
	if err != nil {
		f.fail(field, "invalid date", err)
		return time.Time{}
	}
	return t
}

func (f *fieldReader) optionalDate(field, s string) *time.Time {
	t := f.date(field, s)
	if t.IsZero() {
		return nil
	}
	return &t
}

func categoryForRate(rate decimal.Decimal) string {
	if rate.IsZero() {
		return "Z"
	}
	return model.DefaultTaxCategory
}
