package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	money "github.com/rezonia/einvoice-engine/internal/decimal"
)

// Defaults applied by FromMap when optional keys are absent
const (
	DefaultCurrency    = "EUR"
	DefaultUnit        = "C62"
	DefaultTaxCategory = "S"
)

var defaultTaxPercent = decimal.NewFromInt(21)

var requiredKeys = []string{"invoice_number", "issue_date", "seller", "buyer"}

// FromMap builds an Invoice from plain key/value data such as decoded JSON
// or a persisted record. Missing required keys or values of the wrong type
// fail with *ModelError; missing optional amounts default to zero.
func FromMap(data map[string]any) (Invoice, error) {
	if data == nil {
		return Invoice{}, NewModelError("invoice", "no data provided", nil)
	}
	for _, key := range requiredKeys {
		if _, ok := data[key]; !ok {
			return Invoice{}, NewModelError(key, "required key is missing", nil)
		}
	}

	r := reader{data: data}
	inv := Invoice{
		Number:                    r.str("invoice_number"),
		Currency:                  strings.ToUpper(r.strDefault("currency_code", DefaultCurrency)),
		Note:                      r.str("note"),
		BuyerReference:            r.str("buyer_reference"),
		PrecedingInvoiceReference: r.str("preceding_invoice_reference"),
	}

	inv.IssueDate = r.date("issue_date")
	if due := r.date("due_date"); !due.IsZero() {
		inv.DueDate = &due
	}

	inv.TypeCode = InvoiceTypeCommercial
	if _, ok := data["invoice_type_code"]; ok {
		inv.TypeCode = InvoiceType(r.integer("invoice_type_code"))
	}

	inv.Seller = r.party("seller")
	inv.Buyer = r.party("buyer")

	for i, raw := range r.list("lines") {
		lr := r.nested(fmt.Sprintf("lines[%d]", i), raw)
		net := lr.amount("net_amount")
		line := Line{
			ID:          lr.strDefault("id", strconv.Itoa(i+1)),
			Description: lr.str("description"),
			Quantity:    lr.amountDefault("quantity", decimal.NewFromInt(1)),
			Unit:        lr.strDefault("unit", DefaultUnit),
			UnitPrice:   lr.amountDefault("price", net),
			NetAmount:   net,
			TaxPercent:  lr.amountDefault("tax_percent", defaultTaxPercent),
			TaxCategory: lr.strDefault("tax_category", DefaultTaxCategory),
		}
		if lr.err != nil {
			return Invoice{}, lr.err
		}
		inv.Lines = append(inv.Lines, line)
	}

	for i, raw := range r.list("tax_totals") {
		tr := r.nested(fmt.Sprintf("tax_totals[%d]", i), raw)
		tt := TaxTotal{
			TaxableAmount: tr.amount("taxable_amount"),
			TaxAmount:     tr.amount("tax_amount"),
			CategoryID:    tr.strDefault("category_id", DefaultTaxCategory),
			Percent:       tr.amountDefault("percent", defaultTaxPercent),
		}
		if tr.err != nil {
			return Invoice{}, tr.err
		}
		inv.TaxTotals = append(inv.TaxTotals, tt)
	}

	inv.TotalWithoutTax = r.amount("total_without_tax")
	inv.TotalTax = r.amount("total_tax")
	inv.TotalWithTax = r.amount("total_with_tax")
	inv.AmountDue = r.amountDefault("amount_due", inv.TotalWithTax)

	if raw, ok := data["payment_means"]; ok && raw != nil {
		pr := r.nested("payment_means", raw)
		pm := &PaymentMeans{
			Code: pr.strDefault("code", "30"),
			IBAN: strings.ToUpper(strings.ReplaceAll(pr.str("iban"), " ", "")),
			BIC:  pr.str("bic"),
		}
		if pr.err != nil {
			return Invoice{}, pr.err
		}
		inv.PaymentMeans = pm
	}

	for i, raw := range r.list("administrative_centres") {
		cr := r.nested(fmt.Sprintf("administrative_centres[%d]", i), raw)
		c := AdministrativeCentre{
			Code: strings.ToUpper(cr.str("code")),
			Role: CentreRole(cr.str("role")),
		}
		if cr.err != nil {
			return Invoice{}, cr.err
		}
		inv.AdministrativeCentres = append(inv.AdministrativeCentres, c)
	}

	if r.err != nil {
		return Invoice{}, r.err
	}
	return inv, nil
}

// reader extracts typed values from loosely typed maps and keeps the first
// type error it sees.
type reader struct {
	path string
	data map[string]any
	err  error
}

func (r *reader) field(key string) string {
	if r.path == "" {
		return key
	}
	return r.path + "." + key
}

func (r *reader) fail(key, msg string, cause error) {
	if r.err == nil {
		r.err = NewModelError(r.field(key), msg, cause)
	}
}

func (r *reader) str(key string) string {
	return r.strDefault(key, "")
}

func (r *reader) strDefault(key, def string) string {
	v, ok := r.data[key]
	if !ok || v == nil {
		return def
	}
	switch x := v.(type) {
	case string:
		if strings.TrimSpace(x) == "" {
			return def
		}
		return strings.TrimSpace(x)
	case int, int64, float64:
		return fmt.Sprint(x)
	default:
		r.fail(key, fmt.Sprintf("expected string, got %T", v), nil)
		return def
	}
}

func (r *reader) integer(key string) int {
	v := r.data[key]
	switch x := v.(type) {
	case int:
		return x
	case int64:
		return int(x)
	case float64:
		if x != float64(int(x)) {
			r.fail(key, "expected integer", nil)
		}
		return int(x)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			r.fail(key, "expected integer", err)
		}
		return n
	default:
		d, err := money.FromAny(v)
		if err != nil || !d.IsInteger() {
			r.fail(key, fmt.Sprintf("expected integer, got %T", v), err)
			return 0
		}
		return int(d.IntPart())
	}
}

func (r *reader) amount(key string) decimal.Decimal {
	return r.amountDefault(key, decimal.Zero)
}

func (r *reader) amountDefault(key string, def decimal.Decimal) decimal.Decimal {
	v, ok := r.data[key]
	if !ok || v == nil {
		return def
	}
	if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
		return def
	}
	d, err := money.FromAny(v)
	if err != nil {
		r.fail(key, "expected number", err)
		return def
	}
	return d
}

func (r *reader) date(key string) time.Time {
	v, ok := r.data[key]
	if !ok || v == nil {
		return time.Time{}
	}
	switch x := v.(type) {
	case time.Time:
		return x
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return time.Time{}
		}
		if len(s) > len(DateLayout) {
			s = s[:len(DateLayout)]
		}
		t, err := time.Parse(DateLayout, s)
		if err != nil {
			r.fail(key, "expected date in YYYY-MM-DD form", err)
			return time.Time{}
		}
		return t
	default:
		r.fail(key, fmt.Sprintf("expected date string, got %T", v), nil)
		return time.Time{}
	}
}

func (r *reader) asMap(key string, v any) map[string]any {
	switch x := v.(type) {
	case map[string]any:
		return x
	case map[string]string:
		out := make(map[string]any, len(x))
		for k, s := range x {
			out[k] = s
		}
		return out
	default:
		r.fail(key, fmt.Sprintf("expected object, got %T", v), nil)
		return map[string]any{}
	}
}

func (r *reader) list(key string) []any {
	v, ok := r.data[key]
	if !ok || v == nil {
		return nil
	}
	switch x := v.(type) {
	case []any:
		return x
	case []map[string]any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = x[i]
		}
		return out
	default:
		r.fail(key, fmt.Sprintf("expected list, got %T", v), nil)
		return nil
	}
}

// nested returns a reader for a child object; its errors surface through
// the child's err field.
func (r *reader) nested(key string, v any) *reader {
	child := &reader{path: r.field(key)}
	child.data = r.asMap(key, v)
	if r.err != nil && child.err == nil {
		child.err = r.err
	}
	return child
}

func (r *reader) party(key string) Party {
	pr := r.nested(key, r.data[key])
	p := Party{
		Name:  pr.str("name"),
		TaxID: strings.ToUpper(pr.str("tax_id")),
	}
	if raw, ok := pr.data["address"]; ok && raw != nil {
		ar := pr.nested("address", raw)
		p.Address = &Address{
			Street:     ar.str("street"),
			PostalCode: ar.str("postal_code"),
			City:       ar.str("city"),
			Province:   ar.str("province"),
			Country:    strings.ToUpper(ar.strDefault("country", "ES")),
		}
		if ar.err != nil && pr.err == nil {
			pr.err = ar.err
		}
	}
	if pr.err != nil && r.err == nil {
		r.err = pr.err
	}
	return p
}
