package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the calendar-date layout used on every wire format.
const DateLayout = "2006-01-02"

// InvoiceType is the UNTDID 1001 document type code
type InvoiceType int

const (
	InvoiceTypeCommercial     InvoiceType = 380
	InvoiceTypeCreditNote     InvoiceType = 381
	InvoiceTypeDebitNote      InvoiceType = 383
	InvoiceTypeCorrected      InvoiceType = 384
	InvoiceTypePrepayment     InvoiceType = 386
	InvoiceTypeSelfBilled     InvoiceType = 389
	InvoiceTypeAccountingInfo InvoiceType = 751
)

var allowedTypes = map[InvoiceType]bool{
	InvoiceTypeCommercial:     true,
	InvoiceTypeCreditNote:     true,
	InvoiceTypeDebitNote:      true,
	InvoiceTypeCorrected:      true,
	InvoiceTypePrepayment:     true,
	InvoiceTypeSelfBilled:     true,
	InvoiceTypeAccountingInfo: true,
}

// Valid reports whether the code belongs to the accepted enumeration
func (t InvoiceType) Valid() bool {
	return allowedTypes[t]
}

// CentreRole identifies the role of a public-administration unit
type CentreRole string

const (
	CentreAccountingOffice CentreRole = "01"
	CentreManagementBody   CentreRole = "02"
	CentreProcessingUnit   CentreRole = "03"
)

// Invoice is the canonical, format-agnostic invoice. Values are built once
// and never mutated; transformations return new values.
type Invoice struct {
	Number    string
	IssueDate time.Time
	DueDate   *time.Time
	TypeCode  InvoiceType
	Currency  string

	Seller Party
	Buyer  Party

	Lines     []Line
	TaxTotals []TaxTotal

	TotalWithoutTax decimal.Decimal
	TotalTax        decimal.Decimal
	TotalWithTax    decimal.Decimal
	AmountDue       decimal.Decimal

	PaymentMeans *PaymentMeans

	Note                      string
	BuyerReference            string
	PrecedingInvoiceReference string

	// DIR3 routing codes of the receiving public administration
	AdministrativeCentres []AdministrativeCentre
}

// Party represents seller or buyer
type Party struct {
	Name    string
	TaxID   string
	Address *Address
}

// Address is a postal address. Optional on both parties.
type Address struct {
	Street     string
	PostalCode string
	City       string
	Province   string
	Country    string
}

// Line is a single invoice line
type Line struct {
	ID          string
	Description string
	Quantity    decimal.Decimal
	Unit        string
	UnitPrice   decimal.Decimal
	NetAmount   decimal.Decimal
	TaxPercent  decimal.Decimal
	TaxCategory string
}

// TaxTotal is one tax breakdown entry
type TaxTotal struct {
	TaxableAmount decimal.Decimal
	TaxAmount     decimal.Decimal
	CategoryID    string
	Percent       decimal.Decimal
}

// PaymentMeans describes how the invoice is paid
type PaymentMeans struct {
	Code string
	IBAN string
	BIC  string
}

// AdministrativeCentre is a DIR3 unit with its role
type AdministrativeCentre struct {
	Code string
	Role CentreRole
}

// IsCreditNote reports whether the invoice corrects a previous one downwards
func (inv Invoice) IsCreditNote() bool {
	return inv.TypeCode == InvoiceTypeCreditNote
}

// Centre returns the administrative centre with the given role, if any
func (inv Invoice) Centre(role CentreRole) (AdministrativeCentre, bool) {
	for _, c := range inv.AdministrativeCentres {
		if c.Role == role {
			return c, true
		}
	}
	return AdministrativeCentre{}, false
}

// Clone returns a deep copy
func (inv Invoice) Clone() Invoice {
	out := inv
	if inv.DueDate != nil {
		d := *inv.DueDate
		out.DueDate = &d
	}
	out.Seller = inv.Seller.clone()
	out.Buyer = inv.Buyer.clone()
	if inv.Lines != nil {
		out.Lines = append([]Line(nil), inv.Lines...)
	}
	if inv.TaxTotals != nil {
		out.TaxTotals = append([]TaxTotal(nil), inv.TaxTotals...)
	}
	if inv.PaymentMeans != nil {
		pm := *inv.PaymentMeans
		out.PaymentMeans = &pm
	}
	if inv.AdministrativeCentres != nil {
		out.AdministrativeCentres = append([]AdministrativeCentre(nil), inv.AdministrativeCentres...)
	}
	return out
}

func (p Party) clone() Party {
	if p.Address != nil {
		a := *p.Address
		p.Address = &a
	}
	return p
}
