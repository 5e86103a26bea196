package validation

import (
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"

	"github.com/rezonia/einvoice-engine/internal/checksum"
	"github.com/rezonia/einvoice-engine/internal/codec"
	money "github.com/rezonia/einvoice-engine/internal/decimal"
	"github.com/rezonia/einvoice-engine/internal/model"
)

// presenceRule requires one of several alternative nodes. Paths are etree
// paths relative to the root; tags carry no prefix so they match in any
// namespace.
type presenceRule struct {
	ID       string
	Node     string
	Paths    []string
	Formats  []codec.Format // nil applies to every format
	NonEmpty bool
}

var presenceRules = []presenceRule{
	{ID: "BR-02", Node: "invoice identifier", Paths: []string{".//InvoiceHeader/InvoiceNumber", "./ID"}, NonEmpty: true},
	{ID: "BR-03", Node: "issue date", Paths: []string{".//InvoiceIssueData/IssueDate", "./IssueDate"}, NonEmpty: true},
	{ID: "BR-05", Node: "currency code", Paths: []string{".//InvoiceIssueData/InvoiceCurrencyCode", "./DocumentCurrencyCode"}, NonEmpty: true},
	{ID: "BR-06", Node: "seller party", Paths: []string{"./Parties/SellerParty", "./AccountingSupplierParty"}},
	{ID: "BR-07", Node: "buyer party", Paths: []string{"./Parties/BuyerParty", "./AccountingCustomerParty"}},
	{ID: "FA-01", Node: "file header", Paths: []string{"./FileHeader"}, Formats: []codec.Format{codec.FormatFacturae}},
	{ID: "FA-02", Node: "invoice totals", Paths: []string{".//InvoiceTotals/InvoiceTotal"}, Formats: []codec.Format{codec.FormatFacturae}},
	{ID: "FA-03", Node: "invoice lines", Paths: []string{".//Items/InvoiceLine"}, Formats: []codec.Format{codec.FormatFacturae}},
	{ID: "BR-12", Node: "legal monetary total", Paths: []string{"./LegalMonetaryTotal/PayableAmount"}, Formats: []codec.Format{codec.FormatUBL}},
	{ID: "BR-16", Node: "invoice lines", Paths: []string{"./InvoiceLine", "./CreditNoteLine"}, Formats: []codec.Format{codec.FormatUBL}},
}

func (r presenceRule) appliesTo(f codec.Format) bool {
	if r.Formats == nil {
		return true
	}
	for _, rf := range r.Formats {
		if rf == f {
			return true
		}
	}
	return false
}

func (r presenceRule) check(root *etree.Element) (string, bool) {
	for _, p := range r.Paths {
		if el := root.FindElement(p); el != nil {
			if r.NonEmpty && strings.TrimSpace(el.Text()) == "" {
				return fmt.Sprintf("[%s] mandatory node is empty: %s (%s)", r.ID, r.Node, el.Tag), false
			}
			return "", true
		}
	}
	return fmt.Sprintf("[%s] missing mandatory node: %s (%s)", r.ID, r.Node, strings.Join(tagNames(r.Paths), " | ")), false
}

func tagNames(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = p[strings.LastIndex(p, "/")+1:]
	}
	return out
}

// checkRules runs presence rules, then content rules on the nodes that are
// present. Each violated rule yields one message.
func checkRules(root *etree.Element, format codec.Format) []string {
	var errs []string
	for _, rule := range presenceRules {
		if !rule.appliesTo(format) {
			continue
		}
		if msg, ok := rule.check(root); !ok {
			errs = append(errs, msg)
		}
	}

	c := contentChecker{root: root}
	c.dates(".//InvoiceIssueData/IssueDate", "./IssueDate", "./DueDate", ".//Installment/InstallmentDueDate")

	switch format {
	case codec.FormatFacturae:
		c.facturaeTotals()
		c.facturaeTaxIDs()
		c.dir3(".//AdministrativeCentre/CentreCode")
		c.ibans(".//AccountToBeCredited/IBAN")
	case codec.FormatUBL:
		c.ublTotals()
		c.ublTaxIDs()
		c.dir3("./AccountingCustomerParty/Party/PartyIdentification/ID[@schemeName]")
		c.ibans("./PaymentMeans/PayeeFinancialAccount/ID")
	}

	return append(errs, c.errs...)
}

type contentChecker struct {
	root *etree.Element
	errs []string
}

func (c *contentChecker) add(format string, args ...any) {
	c.errs = append(c.errs, fmt.Sprintf(format, args...))
}

func (c *contentChecker) text(path string) (string, bool) {
	el := c.root.FindElement(path)
	if el == nil {
		return "", false
	}
	return strings.TrimSpace(el.Text()), true
}

func (c *contentChecker) dates(paths ...string) {
	for _, p := range paths {
		for _, el := range c.root.FindElements(p) {
			v := strings.TrimSpace(el.Text())
			if v == "" {
				continue
			}
			if _, err := time.Parse(model.DateLayout, v); err != nil {
				c.add("[BR-DATE] %s: %q is not a YYYY-MM-DD date", el.Tag, v)
			}
		}
	}
}

func (c *contentChecker) amount(path string) (decimal.Decimal, bool) {
	v, ok := c.text(path)
	if !ok || v == "" {
		return decimal.Zero, false
	}
	d, err := money.FromString(v)
	if err != nil {
		c.add("[BR-AMOUNT] %s: %q is not a number", path[strings.LastIndex(path, "/")+1:], v)
		return decimal.Zero, false
	}
	return d, true
}

func (c *contentChecker) facturaeTotals() {
	if c.root.FindElement(".//InvoiceTotals") == nil {
		return
	}
	t := Totals{}
	t.GrossAmountBeforeTaxes, _ = c.amount(".//InvoiceTotals/TotalGrossAmountBeforeTaxes")
	t.TaxOutputs, _ = c.amount(".//InvoiceTotals/TotalTaxOutputs")
	t.TaxesWithheld, _ = c.amount(".//InvoiceTotals/TotalTaxesWithheld")
	t.InvoiceTotal, _ = c.amount(".//InvoiceTotals/InvoiceTotal")
	if outstanding, ok := c.amount(".//InvoiceTotals/TotalOutstandingAmount"); ok {
		t.OutstandingAmount = outstanding
	} else {
		t.OutstandingAmount = t.InvoiceTotal
	}
	t.ExecutableAmount, _ = c.amount(".//InvoiceTotals/TotalExecutableAmount")

	if res := ValidateAmounts(t); !res.Valid {
		for _, e := range res.Errors {
			c.add("[FA-CO-01] %s", e)
		}
	}
}

func (c *contentChecker) ublTotals() {
	exclusive, okEx := c.amount("./LegalMonetaryTotal/TaxExclusiveAmount")
	inclusive, okIn := c.amount("./LegalMonetaryTotal/TaxInclusiveAmount")
	payable, okPay := c.amount("./LegalMonetaryTotal/PayableAmount")
	tax, okTax := c.amount("./TaxTotal/TaxAmount")

	if okEx && okIn && okTax {
		expected := exclusive.Add(tax)
		if !money.WithinTolerance(expected, inclusive) {
			c.add("[BR-CO-15] TaxInclusiveAmount: declared %s does not match expected %s",
				money.Format(inclusive), money.Format(expected))
		}
	}
	if okIn && okPay && money.Exceeds(payable, inclusive) {
		c.add("[BR-CO-16] PayableAmount: %s exceeds TaxInclusiveAmount %s",
			money.Format(payable), money.Format(inclusive))
	}
}

// facturaeTaxIDs checks the identifiers of resident parties. Foreign
// identifiers carry no checksum this engine knows.
func (c *contentChecker) facturaeTaxIDs() {
	for _, tid := range c.root.FindElements("./Parties/*/TaxIdentification") {
		if rt := tid.FindElement("ResidenceTypeCode"); rt != nil && strings.TrimSpace(rt.Text()) == "E" {
			continue
		}
		if el := tid.FindElement("TaxIdentificationNumber"); el != nil {
			c.taxID(el)
		}
	}
}

func (c *contentChecker) ublTaxIDs() {
	for _, party := range []string{"./AccountingSupplierParty/Party", "./AccountingCustomerParty/Party"} {
		p := c.root.FindElement(party)
		if p == nil {
			continue
		}
		if country := p.FindElement("./PostalAddress/Country/IdentificationCode"); country != nil &&
			strings.TrimSpace(country.Text()) != "ES" {
			continue
		}
		if el := p.FindElement("./PartyTaxScheme/CompanyID"); el != nil {
			c.taxID(el)
		}
	}
}

func (c *contentChecker) taxID(el *etree.Element) {
	v := strings.TrimSpace(el.Text())
	if v == "" {
		return
	}
	if !checksum.ValidTaxID(checksum.NormalizeTaxID(v)) {
		c.add("[ES-TAXID] %s: %q is not a valid NIF/NIE/CIF", el.Tag, v)
	}
}

func (c *contentChecker) dir3(path string) {
	for _, el := range c.root.FindElements(path) {
		if scheme := el.SelectAttrValue("schemeName", ""); scheme != "" && !strings.HasPrefix(scheme, "DIR3") {
			continue
		}
		if v := strings.TrimSpace(el.Text()); !checksum.ValidDIR3(v) {
			c.add("[ES-DIR3] %s: %q is not a valid DIR3 code", el.Tag, v)
		}
	}
}

func (c *contentChecker) ibans(path string) {
	for _, el := range c.root.FindElements(path) {
		v := strings.TrimSpace(el.Text())
		if v == "" {
			continue
		}
		if !checksum.ValidIBAN(v) {
			c.add("[ES-IBAN] %s: %q fails the IBAN checksum", el.Tag, v)
		}
	}
}
