package codec

import (
	"context"
	"encoding/xml"
	"io"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"

	"github.com/rezonia/einvoice-engine/internal/checksum"
	"github.com/rezonia/einvoice-engine/internal/model"
)

// PEPPOL BIS Billing 3.0 identifiers
const (
	UBLCustomizationID = "urn:cen.eu:en16931:2017#compliant#urn:fdc:peppol.eu:2017:poacc:billing:3.0"
	UBLProfileID       = "urn:fdc:peppol.eu:2017:poacc:billing:01:1.0"
)

// DIR3 units travel as PartyIdentification with schemeName "DIR3-<role>"
const dir3SchemePrefix = "DIR3-"

// UBL XML structures (OASIS UBL 2.1 Invoice and CreditNote)
type ublDoc struct {
	XMLName            xml.Name
	ID                 string   `xml:"ID"`
	IssueDate          string   `xml:"IssueDate"`
	DueDate            string   `xml:"DueDate"`
	InvoiceTypeCode    string   `xml:"InvoiceTypeCode"`
	CreditNoteTypeCode string   `xml:"CreditNoteTypeCode"`
	Note               string   `xml:"Note"`
	Currency           string   `xml:"DocumentCurrencyCode"`
	BuyerReference     string   `xml:"BuyerReference"`
	Preceding          string   `xml:"BillingReference>InvoiceDocumentReference>ID"`
	Supplier           ublParty `xml:"AccountingSupplierParty>Party"`
	Customer           ublParty `xml:"AccountingCustomerParty>Party"`
	PaymentMeans       *struct {
		Code    string `xml:"PaymentMeansCode"`
		DueDate string `xml:"PaymentDueDate"`
		IBAN    string `xml:"PayeeFinancialAccount>ID"`
		BIC     string `xml:"PayeeFinancialAccount>FinancialInstitutionBranch>ID"`
	} `xml:"PaymentMeans"`
	TaxTotals []struct {
		TaxAmount string `xml:"TaxAmount"`
		Subtotals []struct {
			TaxableAmount string `xml:"TaxableAmount"`
			TaxAmount     string `xml:"TaxAmount"`
			CategoryID    string `xml:"TaxCategory>ID"`
			Percent       string `xml:"TaxCategory>Percent"`
		} `xml:"TaxSubtotal"`
	} `xml:"TaxTotal"`
	Totals struct {
		LineExtension string `xml:"LineExtensionAmount"`
		TaxExclusive  string `xml:"TaxExclusiveAmount"`
		TaxInclusive  string `xml:"TaxInclusiveAmount"`
		Payable       string `xml:"PayableAmount"`
	} `xml:"LegalMonetaryTotal"`
	InvoiceLines    []ublLine `xml:"InvoiceLine"`
	CreditNoteLines []ublLine `xml:"CreditNoteLine"`
}

type ublParty struct {
	EndpointID  string `xml:"EndpointID"`
	Identifiers []struct {
		ID struct {
			Value  string `xml:",chardata"`
			Scheme string `xml:"schemeName,attr"`
		} `xml:"ID"`
	} `xml:"PartyIdentification"`
	Address *struct {
		Street     string `xml:"StreetName"`
		City       string `xml:"CityName"`
		PostalZone string `xml:"PostalZone"`
		Province   string `xml:"CountrySubentity"`
		Country    string `xml:"Country>IdentificationCode"`
	} `xml:"PostalAddress"`
	VATID            string `xml:"PartyTaxScheme>CompanyID"`
	RegistrationName string `xml:"PartyLegalEntity>RegistrationName"`
	CompanyID        string `xml:"PartyLegalEntity>CompanyID"`
}

type ublQuantity struct {
	Value    string `xml:",chardata"`
	UnitCode string `xml:"unitCode,attr"`
}

type ublLine struct {
	ID               string       `xml:"ID"`
	InvoicedQuantity *ublQuantity `xml:"InvoicedQuantity"`
	CreditedQuantity *ublQuantity `xml:"CreditedQuantity"`
	LineExtension    string       `xml:"LineExtensionAmount"`
	Name             string       `xml:"Item>Name"`
	TaxCategory      string       `xml:"Item>ClassifiedTaxCategory>ID"`
	TaxPercent       string       `xml:"Item>ClassifiedTaxCategory>Percent"`
	Price            string       `xml:"Price>PriceAmount"`
}

// UBL is the OASIS UBL 2.1 dialect
type UBL struct{}

// NewUBL creates the UBL dialect
func NewUBL() *UBL {
	return &UBL{}
}

// Format returns the dialect identifier
func (d *UBL) Format() Format {
	return FormatUBL
}

// Matches checks for an Invoice or CreditNote root in the UBL namespaces
func (d *UBL) Matches(root xml.Name) bool {
	return (root.Local == "Invoice" && root.Space == NSUBLInvoice) ||
		(root.Local == "CreditNote" && root.Space == NSUBLCreditNote)
}

// Build renders an Invoice or CreditNote root element
func (d *UBL) Build(inv model.Invoice) (*etree.Element, error) {
	credit := inv.IsCreditNote()

	rootTag, rootNS, lineTag, qtyTag, typeTag := "Invoice", NSUBLInvoice, "cac:InvoiceLine", "cbc:InvoicedQuantity", "cbc:InvoiceTypeCode"
	if credit {
		rootTag, rootNS, lineTag, qtyTag, typeTag = "CreditNote", NSUBLCreditNote, "cac:CreditNoteLine", "cbc:CreditedQuantity", "cbc:CreditNoteTypeCode"
	}

	root := etree.NewElement(rootTag)
	root.CreateAttr("xmlns", rootNS)
	root.CreateAttr("xmlns:cac", NSCac)
	root.CreateAttr("xmlns:cbc", NSCbc)

	addText(root, "cbc:CustomizationID", UBLCustomizationID)
	addText(root, "cbc:ProfileID", UBLProfileID)
	addText(root, "cbc:ID", inv.Number)
	addText(root, "cbc:IssueDate", inv.IssueDate.Format(model.DateLayout))
	if inv.DueDate != nil && !credit {
		addText(root, "cbc:DueDate", inv.DueDate.Format(model.DateLayout))
	}
	addText(root, typeTag, strconv.Itoa(int(inv.TypeCode)))
	if inv.Note != "" {
		addText(root, "cbc:Note", inv.Note)
	}
	addText(root, "cbc:DocumentCurrencyCode", inv.Currency)
	if inv.BuyerReference != "" {
		addText(root, "cbc:BuyerReference", inv.BuyerReference)
	}
	if inv.PrecedingInvoiceReference != "" {
		ref := root.CreateElement("cac:BillingReference").CreateElement("cac:InvoiceDocumentReference")
		addText(ref, "cbc:ID", inv.PrecedingInvoiceReference)
	}

	d.buildParty(root.CreateElement("cac:AccountingSupplierParty"), inv.Seller, nil)
	d.buildParty(root.CreateElement("cac:AccountingCustomerParty"), inv.Buyer, inv.AdministrativeCentres)

	if inv.PaymentMeans != nil {
		pm := root.CreateElement("cac:PaymentMeans")
		code := inv.PaymentMeans.Code
		if code == "" {
			code = "30"
		}
		addText(pm, "cbc:PaymentMeansCode", code)
		if credit && inv.DueDate != nil {
			addText(pm, "cbc:PaymentDueDate", inv.DueDate.Format(model.DateLayout))
		}
		if inv.PaymentMeans.IBAN != "" {
			account := pm.CreateElement("cac:PayeeFinancialAccount")
			addText(account, "cbc:ID", inv.PaymentMeans.IBAN)
			if inv.PaymentMeans.BIC != "" {
				addText(account.CreateElement("cac:FinancialInstitutionBranch"), "cbc:ID", inv.PaymentMeans.BIC)
			}
		}
	}

	taxTotal := root.CreateElement("cac:TaxTotal")
	addCurrencyAmount(taxTotal, "cbc:TaxAmount", inv.TotalTax, inv.Currency)
	for _, tt := range taxBreakdown(inv) {
		sub := taxTotal.CreateElement("cac:TaxSubtotal")
		addCurrencyAmount(sub, "cbc:TaxableAmount", tt.TaxableAmount, inv.Currency)
		addCurrencyAmount(sub, "cbc:TaxAmount", tt.TaxAmount, inv.Currency)
		addTaxCategory(sub, "cac:TaxCategory", tt.CategoryID, tt.Percent)
	}

	lmt := root.CreateElement("cac:LegalMonetaryTotal")
	addCurrencyAmount(lmt, "cbc:LineExtensionAmount", inv.TotalWithoutTax, inv.Currency)
	addCurrencyAmount(lmt, "cbc:TaxExclusiveAmount", inv.TotalWithoutTax, inv.Currency)
	addCurrencyAmount(lmt, "cbc:TaxInclusiveAmount", inv.TotalWithTax, inv.Currency)
	addCurrencyAmount(lmt, "cbc:PayableAmount", inv.AmountDue, inv.Currency)

	for i, line := range inv.Lines {
		el := root.CreateElement(lineTag)
		id := line.ID
		if id == "" {
			id = strconv.Itoa(i + 1)
		}
		addText(el, "cbc:ID", id)
		qty := addText(el, qtyTag, formatQuantity(line.Quantity))
		unit := line.Unit
		if unit == "" {
			unit = model.DefaultUnit
		}
		qty.CreateAttr("unitCode", unit)
		addCurrencyAmount(el, "cbc:LineExtensionAmount", line.NetAmount, inv.Currency)
		item := el.CreateElement("cac:Item")
		addText(item, "cbc:Name", line.Description)
		addTaxCategory(item, "cac:ClassifiedTaxCategory", line.TaxCategory, line.TaxPercent)
		price := el.CreateElement("cac:Price")
		addText(price, "cbc:PriceAmount", line.UnitPrice.StringFixed(6)).CreateAttr("currencyID", inv.Currency)
	}

	return root, nil
}

func addTaxCategory(parent *etree.Element, tag, category string, percent decimal.Decimal) {
	cat := parent.CreateElement(tag)
	if category == "" {
		category = model.DefaultTaxCategory
	}
	addText(cat, "cbc:ID", category)
	addAmount(cat, "cbc:Percent", percent)
	addText(cat.CreateElement("cac:TaxScheme"), "cbc:ID", "VAT")
}

func (d *UBL) buildParty(parent *etree.Element, p model.Party, centres []model.AdministrativeCentre) {
	party := parent.CreateElement("cac:Party")

	for _, c := range centres {
		pid := party.CreateElement("cac:PartyIdentification")
		id := addText(pid, "cbc:ID", c.Code)
		id.CreateAttr("schemeName", dir3SchemePrefix+string(c.Role))
	}

	if p.Address != nil {
		addr := party.CreateElement("cac:PostalAddress")
		if p.Address.Street != "" {
			addText(addr, "cbc:StreetName", p.Address.Street)
		}
		if p.Address.City != "" {
			addText(addr, "cbc:CityName", p.Address.City)
		}
		if p.Address.PostalCode != "" {
			addText(addr, "cbc:PostalZone", p.Address.PostalCode)
		}
		if p.Address.Province != "" {
			addText(addr, "cbc:CountrySubentity", p.Address.Province)
		}
		country := p.Address.Country
		if country == "" {
			country = "ES"
		}
		addText(addr.CreateElement("cac:Country"), "cbc:IdentificationCode", country)
	}

	if p.TaxID != "" {
		scheme := party.CreateElement("cac:PartyTaxScheme")
		addText(scheme, "cbc:CompanyID", "ES"+checksum.NormalizeTaxID(p.TaxID))
		addText(scheme.CreateElement("cac:TaxScheme"), "cbc:ID", "VAT")
	}

	legal := party.CreateElement("cac:PartyLegalEntity")
	addText(legal, "cbc:RegistrationName", p.Name)
	if p.TaxID != "" {
		addText(legal, "cbc:CompanyID", p.TaxID)
	}
}

// Parse reads a UBL Invoice or CreditNote
func (d *UBL) Parse(ctx context.Context, r io.Reader) (model.Invoice, error) {
	if err := ctx.Err(); err != nil {
		return model.Invoice{}, err
	}

	var doc ublDoc
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return model.Invoice{}, model.NewParseError(string(FormatUBL), "xml", "failed to parse XML", err)
	}

	f := &fieldReader{format: FormatUBL}
	inv := model.Invoice{
		Number:                    strings.TrimSpace(doc.ID),
		IssueDate:                 f.date("IssueDate", doc.IssueDate),
		DueDate:                   f.optionalDate("DueDate", doc.DueDate),
		TypeCode:                  model.InvoiceTypeCommercial,
		Currency:                  strings.TrimSpace(doc.Currency),
		Note:                      strings.TrimSpace(doc.Note),
		BuyerReference:            strings.TrimSpace(doc.BuyerReference),
		PrecedingInvoiceReference: strings.TrimSpace(doc.Preceding),
		Seller:                    d.parseParty(doc.Supplier),
		Buyer:                     d.parseParty(doc.Customer),
	}

	typeCode := strings.TrimSpace(doc.InvoiceTypeCode)
	if typeCode == "" {
		typeCode = strings.TrimSpace(doc.CreditNoteTypeCode)
	}
	if typeCode != "" {
		n, err := strconv.Atoi(typeCode)
		if err != nil {
			f.fail("InvoiceTypeCode", "invalid type code", err)
		}
		inv.TypeCode = model.InvoiceType(n)
	} else if doc.XMLName.Local == "CreditNote" {
		inv.TypeCode = model.InvoiceTypeCreditNote
	}

	for _, pid := range doc.Customer.Identifiers {
		role, ok := strings.CutPrefix(strings.TrimSpace(pid.ID.Scheme), dir3SchemePrefix)
		if !ok {
			continue
		}
		inv.AdministrativeCentres = append(inv.AdministrativeCentres, model.AdministrativeCentre{
			Code: strings.TrimSpace(pid.ID.Value),
			Role: model.CentreRole(role),
		})
	}

	if doc.PaymentMeans != nil {
		if inv.DueDate == nil {
			inv.DueDate = f.optionalDate("PaymentDueDate", doc.PaymentMeans.DueDate)
		}
		inv.PaymentMeans = &model.PaymentMeans{
			Code: strings.TrimSpace(doc.PaymentMeans.Code),
			IBAN: strings.TrimSpace(doc.PaymentMeans.IBAN),
			BIC:  strings.TrimSpace(doc.PaymentMeans.BIC),
		}
	}

	lines := doc.InvoiceLines
	if len(lines) == 0 {
		lines = doc.CreditNoteLines
	}
	for _, l := range lines {
		qty := l.InvoicedQuantity
		if qty == nil {
			qty = l.CreditedQuantity
		}
		line := model.Line{
			ID:          strings.TrimSpace(l.ID),
			Description: strings.TrimSpace(l.Name),
			Quantity:    decimal.NewFromInt(1),
			Unit:        model.DefaultUnit,
			NetAmount:   f.amount("LineExtensionAmount", l.LineExtension),
			TaxPercent:  f.amount("Percent", l.TaxPercent),
			TaxCategory: strings.TrimSpace(l.TaxCategory),
		}
		if qty != nil {
			line.Quantity = f.amountDefault("InvoicedQuantity", qty.Value, line.Quantity)
			if u := strings.TrimSpace(qty.UnitCode); u != "" {
				line.Unit = u
			}
		}
		line.UnitPrice = f.amountDefault("PriceAmount", l.Price, line.NetAmount)
		if line.TaxCategory == "" {
			line.TaxCategory = model.DefaultTaxCategory
		}
		inv.Lines = append(inv.Lines, line)
	}

	if len(doc.TaxTotals) > 0 {
		for _, st := range doc.TaxTotals[0].Subtotals {
			inv.TaxTotals = append(inv.TaxTotals, model.TaxTotal{
				TaxableAmount: f.amount("TaxableAmount", st.TaxableAmount),
				TaxAmount:     f.amount("TaxAmount", st.TaxAmount),
				CategoryID:    strings.TrimSpace(st.CategoryID),
				Percent:       f.amount("Percent", st.Percent),
			})
		}
		inv.TotalTax = f.amount("TaxAmount", doc.TaxTotals[0].TaxAmount)
	}

	inv.TotalWithoutTax = f.amountDefault("TaxExclusiveAmount", doc.Totals.TaxExclusive,
		f.amount("LineExtensionAmount", doc.Totals.LineExtension))
	inv.TotalWithTax = f.amount("TaxInclusiveAmount", doc.Totals.TaxInclusive)
	inv.AmountDue = f.amountDefault("PayableAmount", doc.Totals.Payable, inv.TotalWithTax)

	if f.err != nil {
		return model.Invoice{}, f.err
	}
	return inv, nil
}

func (d *UBL) parseParty(p ublParty) model.Party {
	out := model.Party{
		Name:  strings.TrimSpace(p.RegistrationName),
		TaxID: strings.TrimSpace(p.CompanyID),
	}
	if out.TaxID == "" {
		out.TaxID = checksum.NormalizeTaxID(p.VATID)
	}
	if p.Address != nil {
		out.Address = &model.Address{
			Street:     strings.TrimSpace(p.Address.Street),
			PostalCode: strings.TrimSpace(p.Address.PostalZone),
			City:       strings.TrimSpace(p.Address.City),
			Province:   strings.TrimSpace(p.Address.Province),
			Country:    strings.TrimSpace(p.Address.Country),
		}
	}
	return out
}
