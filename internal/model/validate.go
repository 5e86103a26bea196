package model

import (
	"fmt"
	"regexp"
	"strings"

	money "github.com/rezonia/einvoice-engine/internal/decimal"
)

// Rule codes reported by Invoice.Validate
const (
	RuleInvoiceNumberRequired = "INVOICE_NUMBER_REQUIRED"
	RuleIssueDateRequired     = "ISSUE_DATE_REQUIRED"
	RuleTypeCodeInvalid       = "TYPE_CODE_INVALID"
	RuleCurrencyInvalid       = "CURRENCY_INVALID"
	RuleSellerNameRequired    = "SELLER_NAME_REQUIRED"
	RuleSellerTaxIDRequired   = "SELLER_TAX_ID_REQUIRED"
	RuleBuyerNameRequired     = "BUYER_NAME_REQUIRED"
	RuleBuyerTaxIDRequired    = "BUYER_TAX_ID_REQUIRED"
	RuleLinesRequired         = "LINES_REQUIRED"
	RuleLineQuantityNegative  = "LINE_QUANTITY_NEGATIVE"
	RuleLineAmountNegative    = "LINE_AMOUNT_NEGATIVE"
	RuleTotalsInconsistent    = "TOTALS_INCONSISTENT"
	RuleAmountDueExceedsTotal = "AMOUNT_DUE_EXCEEDS_TOTAL"
	RuleDueDateBeforeIssue    = "DUE_DATE_BEFORE_ISSUE"
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// Violation is a single failed model rule
type Violation struct {
	Code    string
	Field   string
	Message string
}

func (v Violation) String() string {
	return fmt.Sprintf("[%s] %s", v.Code, v.Message)
}

// Validate checks the invoice independently of any serialization format and
// returns every violated rule in a stable order.
func (inv Invoice) Validate() []Violation {
	var out []Violation
	add := func(code, field, format string, args ...any) {
		out = append(out, Violation{Code: code, Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(inv.Number) == "" {
		add(RuleInvoiceNumberRequired, "invoice_number", "invoice number is required")
	}
	if inv.IssueDate.IsZero() {
		add(RuleIssueDateRequired, "issue_date", "issue date is required")
	}
	if !inv.TypeCode.Valid() {
		add(RuleTypeCodeInvalid, "invoice_type_code", "invoice type code %d is not allowed", int(inv.TypeCode))
	}
	if !currencyPattern.MatchString(inv.Currency) {
		add(RuleCurrencyInvalid, "currency_code", "currency code %q must be three uppercase letters", inv.Currency)
	}

	if strings.TrimSpace(inv.Seller.Name) == "" {
		add(RuleSellerNameRequired, "seller.name", "seller name is required")
	}
	if strings.TrimSpace(inv.Seller.TaxID) == "" {
		add(RuleSellerTaxIDRequired, "seller.tax_id", "seller tax identifier is required")
	}
	if strings.TrimSpace(inv.Buyer.Name) == "" {
		add(RuleBuyerNameRequired, "buyer.name", "buyer name is required")
	}
	if strings.TrimSpace(inv.Buyer.TaxID) == "" {
		add(RuleBuyerTaxIDRequired, "buyer.tax_id", "buyer tax identifier is required")
	}

	if len(inv.Lines) == 0 {
		add(RuleLinesRequired, "lines", "at least one line item is required")
	}
	for i, line := range inv.Lines {
		field := fmt.Sprintf("lines[%d]", i)
		if line.Quantity.IsNegative() {
			add(RuleLineQuantityNegative, field+".quantity", "line %d quantity must not be negative", i+1)
		}
		if line.NetAmount.IsNegative() || line.UnitPrice.IsNegative() {
			add(RuleLineAmountNegative, field+".net_amount", "line %d amounts must not be negative", i+1)
		}
	}

	expected := inv.TotalWithoutTax.Add(inv.TotalTax)
	if !money.WithinTolerance(expected, inv.TotalWithTax) {
		add(RuleTotalsInconsistent, "total_with_tax", "total with tax %s does not equal %s + %s",
			money.Format(inv.TotalWithTax), money.Format(inv.TotalWithoutTax), money.Format(inv.TotalTax))
	}
	if money.Exceeds(inv.AmountDue, inv.TotalWithTax) {
		add(RuleAmountDueExceedsTotal, "amount_due", "amount due %s exceeds total with tax %s",
			money.Format(inv.AmountDue), money.Format(inv.TotalWithTax))
	}
	if inv.DueDate != nil && !inv.IssueDate.IsZero() && inv.DueDate.Before(inv.IssueDate) {
		add(RuleDueDateBeforeIssue, "due_date", "due date is before issue date")
	}

	return out
}

// ValidationMessages returns Validate's result formatted as "[CODE] message"
func (inv Invoice) ValidationMessages() []string {
	violations := inv.Validate()
	if len(violations) == 0 {
		return nil
	}
	msgs := make([]string, len(violations))
	for i, v := range violations {
		msgs[i] = v.String()
	}
	return msgs
}
