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
	money "github.com/rezonia/einvoice-engine/internal/decimal"
	"github.com/rezonia/einvoice-engine/internal/model"
)

// Facturae XML structures (Spanish public administration format)
type facturaeDoc struct {
	XMLName    xml.Name          `xml:"Facturae"`
	FileHeader facturaeHeader    `xml:"FileHeader"`
	Seller     facturaeParty     `xml:"Parties>SellerParty"`
	Buyer      facturaeParty     `xml:"Parties>BuyerParty"`
	Invoices   []facturaeInvoice `xml:"Invoices>Invoice"`
}

type facturaeHeader struct {
	SchemaVersion string `xml:"SchemaVersion"`
	Modality      string `xml:"Modality"`
	IssuerType    string `xml:"InvoiceIssuerType"`
	Batch         struct {
		Identifier   string `xml:"BatchIdentifier"`
		InvoiceCount string `xml:"InvoicesCount"`
		Currency     string `xml:"InvoiceCurrencyCode"`
	} `xml:"Batch"`
}

type facturaeParty struct {
	PersonTypeCode    string `xml:"TaxIdentification>PersonTypeCode"`
	ResidenceTypeCode string `xml:"TaxIdentification>ResidenceTypeCode"`
	TaxID             string `xml:"TaxIdentification>TaxIdentificationNumber"`

	Centres []struct {
		Code string `xml:"CentreCode"`
		Role string `xml:"RoleTypeCode"`
	} `xml:"AdministrativeCentres>AdministrativeCentre"`

	LegalEntity *struct {
		CorporateName string          `xml:"CorporateName"`
		Spain         *facturaeAddr   `xml:"AddressInSpain"`
		Overseas      *facturaeAbroad `xml:"OverseasAddress"`
	} `xml:"LegalEntity"`

	Individual *struct {
		Name          string          `xml:"Name"`
		FirstSurname  string          `xml:"FirstSurname"`
		SecondSurname string          `xml:"SecondSurname"`
		Spain         *facturaeAddr   `xml:"AddressInSpain"`
		Overseas      *facturaeAbroad `xml:"OverseasAddress"`
	} `xml:"Individual"`
}

type facturaeAddr struct {
	Address  string `xml:"Address"`
	PostCode string `xml:"PostCode"`
	Town     string `xml:"Town"`
	Province string `xml:"Province"`
	Country  string `xml:"CountryCode"`
}

type facturaeAbroad struct {
	Address         string `xml:"Address"`
	PostCodeAndTown string `xml:"PostCodeAndTown"`
	Province        string `xml:"Province"`
	Country         string `xml:"CountryCode"`
}

type facturaeInvoice struct {
	Header struct {
		Number       string `xml:"InvoiceNumber"`
		Series       string `xml:"InvoiceSeriesCode"`
		DocumentType string `xml:"InvoiceDocumentType"`
		Class        string `xml:"InvoiceClass"`
		Corrective   *struct {
			InvoiceNumber string `xml:"InvoiceNumber"`
			ReasonCode    string `xml:"ReasonCode"`
		} `xml:"Corrective"`
	} `xml:"InvoiceHeader"`
	IssueData struct {
		IssueDate string `xml:"IssueDate"`
		Currency  string `xml:"InvoiceCurrencyCode"`
	} `xml:"InvoiceIssueData"`
	Taxes  []facturaeTax `xml:"TaxesOutputs>Tax"`
	Totals struct {
		GrossBeforeTaxes string `xml:"TotalGrossAmountBeforeTaxes"`
		TaxOutputs       string `xml:"TotalTaxOutputs"`
		TaxesWithheld    string `xml:"TotalTaxesWithheld"`
		InvoiceTotal     string `xml:"InvoiceTotal"`
		Outstanding      string `xml:"TotalOutstandingAmount"`
		Executable       string `xml:"TotalExecutableAmount"`
	} `xml:"InvoiceTotals"`
	Lines        []facturaeLine `xml:"Items>InvoiceLine"`
	Installments []struct {
		DueDate      string `xml:"InstallmentDueDate"`
		Amount       string `xml:"InstallmentAmount"`
		PaymentMeans string `xml:"PaymentMeans"`
		IBAN         string `xml:"AccountToBeCredited>IBAN"`
		BIC          string `xml:"AccountToBeCredited>BIC"`
	} `xml:"PaymentDetails>Installment"`
	AdditionalInformation string             `xml:"AdditionalData>InvoiceAdditionalInformation"`
	Extensions            facturaeExtensions `xml:"AdditionalData>Extensions"`
}

// facturaeExtensions carries neutral-model values that Facturae has no
// element for, so they survive a round trip.
type facturaeExtensions struct {
	InvoiceTypeCode    string `xml:"InvoiceTypeCode"`
	PaymentMeansCode   string `xml:"PaymentMeansCode"`
	DueDateUnspecified bool   `xml:"DueDateUnspecified"`
}

type facturaeTax struct {
	TypeCode      string `xml:"TaxTypeCode"`
	Rate          string `xml:"TaxRate"`
	TaxableAmount string `xml:"TaxableBase>TotalAmount"`
	TaxAmount     string `xml:"TaxAmount>TotalAmount"`
}

type facturaeLine struct {
	ReceiverReference string        `xml:"ReceiverTransactionReference"`
	Description       string        `xml:"ItemDescription"`
	Quantity          string        `xml:"Quantity"`
	Unit              string        `xml:"UnitOfMeasure"`
	UnitPrice         string        `xml:"UnitPriceWithoutTax"`
	TotalCost         string        `xml:"TotalCost"`
	GrossAmount       string        `xml:"GrossAmount"`
	Taxes             []facturaeTax `xml:"TaxesOutputs>Tax"`
	ArticleCode       string        `xml:"ArticleCode"`
}

// Facturae unit-of-measure codes and their UN/ECE Rec 20 equivalents
var facturaeUnits = map[string]string{
	"C62": "01",
	"HUR": "02",
	"KGM": "03",
	"LTR": "04",
	"MTR": "06",
	"DAY": "24",
}

// Facturae payment means and their UNCL 4461 equivalents
var facturaePaymentMeans = map[string]string{
	"10": "01",
	"49": "02",
	"59": "02",
	"30": "04",
	"58": "04",
	"20": "11",
	"48": "19",
}

var iso3166Alpha3 = map[string]string{
	"ES": "ESP",
	"PT": "PRT",
	"FR": "FRA",
	"DE": "DEU",
	"IT": "ITA",
	"GB": "GBR",
	"NL": "NLD",
	"BE": "BEL",
	"IE": "IRL",
	"AD": "AND",
}

const (
	facturaeClassOriginal   = "OO"
	facturaeClassCorrective = "OR"
	facturaeDocComplete     = "FC"
	facturaeDocSelfBilled   = "AF"
	facturaeTaxIVA          = "01"
)

// Facturae is the Facturae 3.2.2 dialect
type Facturae struct{}

// NewFacturae creates the Facturae dialect
func NewFacturae() *Facturae {
	return &Facturae{}
}

// Format returns the dialect identifier
func (d *Facturae) Format() Format {
	return FormatFacturae
}

// Matches checks the root element name and namespace
func (d *Facturae) Matches(root xml.Name) bool {
	return root.Local == "Facturae" &&
		(root.Space == NSFacturae || strings.Contains(strings.ToLower(root.Space), "facturae"))
}

// Build renders a fe:Facturae root element
func (d *Facturae) Build(inv model.Invoice) (*etree.Element, error) {
	root := etree.NewElement("fe:Facturae")
	root.CreateAttr("xmlns:ds", NSDsig)
	root.CreateAttr("xmlns:fe", NSFacturae)

	sellerID := checksum.NormalizeTaxID(inv.Seller.TaxID)

	header := root.CreateElement("FileHeader")
	addText(header, "SchemaVersion", "3.2.2")
	addText(header, "Modality", "I")
	addText(header, "InvoiceIssuerType", "EM")
	batch := header.CreateElement("Batch")
	addText(batch, "BatchIdentifier", sellerID+inv.Number)
	addText(batch, "InvoicesCount", "1")
	addAmount(batch.CreateElement("TotalInvoicesAmount"), "TotalAmount", inv.TotalWithTax)
	addAmount(batch.CreateElement("TotalOutstandingAmount"), "TotalAmount", inv.AmountDue)
	addAmount(batch.CreateElement("TotalExecutableAmount"), "TotalAmount", inv.AmountDue)
	addText(batch, "InvoiceCurrencyCode", inv.Currency)

	parties := root.CreateElement("Parties")
	d.buildParty(parties, "SellerParty", inv.Seller, nil)
	d.buildParty(parties, "BuyerParty", inv.Buyer, inv.AdministrativeCentres)

	invoice := root.CreateElement("Invoices").CreateElement("Invoice")

	ih := invoice.CreateElement("InvoiceHeader")
	addText(ih, "InvoiceNumber", inv.Number)
	if inv.TypeCode == model.InvoiceTypeSelfBilled {
		addText(ih, "InvoiceDocumentType", facturaeDocSelfBilled)
	} else {
		addText(ih, "InvoiceDocumentType", facturaeDocComplete)
	}
	if inv.IsCreditNote() || inv.TypeCode == model.InvoiceTypeCorrected {
		addText(ih, "InvoiceClass", facturaeClassCorrective)
		corrective := ih.CreateElement("Corrective")
		addText(corrective, "InvoiceNumber", inv.PrecedingInvoiceReference)
		addText(corrective, "ReasonCode", "01")
		addText(corrective, "ReasonDescription", "Número de la factura")
		period := corrective.CreateElement("TaxPeriod")
		addText(period, "StartDate", inv.IssueDate.Format(model.DateLayout))
		addText(period, "EndDate", inv.IssueDate.Format(model.DateLayout))
		addText(corrective, "CorrectionMethod", "01")
		addText(corrective, "CorrectionMethodDescription", "Rectificación íntegra")
	} else {
		addText(ih, "InvoiceClass", facturaeClassOriginal)
	}

	issue := invoice.CreateElement("InvoiceIssueData")
	addText(issue, "IssueDate", inv.IssueDate.Format(model.DateLayout))
	addText(issue, "InvoiceCurrencyCode", inv.Currency)
	addText(issue, "TaxCurrencyCode", inv.Currency)
	addText(issue, "LanguageName", "es")

	taxes := invoice.CreateElement("TaxesOutputs")
	for _, tt := range taxBreakdown(inv) {
		addFacturaeTax(taxes, tt.Percent, tt.TaxableAmount, tt.TaxAmount)
	}

	totals := invoice.CreateElement("InvoiceTotals")
	addAmount(totals, "TotalGrossAmount", inv.TotalWithoutTax)
	addAmount(totals, "TotalGrossAmountBeforeTaxes", inv.TotalWithoutTax)
	addAmount(totals, "TotalTaxOutputs", inv.TotalTax)
	addAmount(totals, "TotalTaxesWithheld", decimal.Zero)
	addAmount(totals, "InvoiceTotal", inv.TotalWithTax)
	addAmount(totals, "TotalOutstandingAmount", inv.AmountDue)
	addAmount(totals, "TotalExecutableAmount", inv.AmountDue)

	items := invoice.CreateElement("Items")
	for _, line := range inv.Lines {
		il := items.CreateElement("InvoiceLine")
		if inv.BuyerReference != "" {
			addText(il, "ReceiverTransactionReference", inv.BuyerReference)
		}
		addText(il, "ItemDescription", line.Description)
		addText(il, "Quantity", formatQuantity(line.Quantity))
		if code, ok := facturaeUnits[line.Unit]; ok {
			addText(il, "UnitOfMeasure", code)
		}
		addText(il, "UnitPriceWithoutTax", line.UnitPrice.StringFixed(6))
		addAmount(il, "TotalCost", line.NetAmount)
		addAmount(il, "GrossAmount", line.NetAmount)
		lineTaxes := il.CreateElement("TaxesOutputs")
		addFacturaeTax(lineTaxes, line.TaxPercent, line.NetAmount, money.CalculateTax(line.NetAmount, line.TaxPercent))
		if line.ID != "" {
			addText(il, "ArticleCode", line.ID)
		}
	}

	var ext facturaeExtensions
	if inv.TypeCode != model.InvoiceTypeCommercial && inv.TypeCode != 0 {
		ext.InvoiceTypeCode = strconv.Itoa(int(inv.TypeCode))
	}

	if inv.PaymentMeans != nil || inv.DueDate != nil {
		inst := invoice.CreateElement("PaymentDetails").CreateElement("Installment")
		// InstallmentDueDate is mandatory; without a due date the issue
		// date stands in and is flagged.
		due := inv.IssueDate
		if inv.DueDate != nil {
			due = *inv.DueDate
		} else {
			ext.DueDateUnspecified = true
		}
		addText(inst, "InstallmentDueDate", due.Format(model.DateLayout))
		addAmount(inst, "InstallmentAmount", inv.AmountDue)
		means := "04"
		if inv.PaymentMeans != nil {
			if m, ok := facturaePaymentMeans[inv.PaymentMeans.Code]; ok {
				means = m
			}
		}
		addText(inst, "PaymentMeans", means)
		if inv.PaymentMeans != nil {
			ext.PaymentMeansCode = inv.PaymentMeans.Code
		}
		if inv.PaymentMeans != nil && inv.PaymentMeans.IBAN != "" {
			account := inst.CreateElement("AccountToBeCredited")
			addText(account, "IBAN", inv.PaymentMeans.IBAN)
			if inv.PaymentMeans.BIC != "" {
				addText(account, "BIC", inv.PaymentMeans.BIC)
			}
		}
	}

	hasExt := ext != facturaeExtensions{}
	if inv.Note != "" || hasExt {
		additional := invoice.CreateElement("AdditionalData")
		if inv.Note != "" {
			addText(additional, "InvoiceAdditionalInformation", inv.Note)
		}
		if hasExt {
			extensions := additional.CreateElement("Extensions")
			if ext.InvoiceTypeCode != "" {
				addText(extensions, "InvoiceTypeCode", ext.InvoiceTypeCode)
			}
			if ext.PaymentMeansCode != "" {
				addText(extensions, "PaymentMeansCode", ext.PaymentMeansCode)
			}
			if ext.DueDateUnspecified {
				addText(extensions, "DueDateUnspecified", "true")
			}
		}
	}

	return root, nil
}

func addFacturaeTax(parent *etree.Element, rate, base, amount decimal.Decimal) {
	tax := parent.CreateElement("Tax")
	addText(tax, "TaxTypeCode", facturaeTaxIVA)
	addAmount(tax, "TaxRate", rate)
	addAmount(tax.CreateElement("TaxableBase"), "TotalAmount", base)
	addAmount(tax.CreateElement("TaxAmount"), "TotalAmount", amount)
}

func (d *Facturae) buildParty(parent *etree.Element, tag string, p model.Party, centres []model.AdministrativeCentre) {
	party := parent.CreateElement(tag)

	taxID := checksum.NormalizeTaxID(p.TaxID)
	kind := checksum.TaxIDKind(taxID)
	personType := "J"
	if kind == checksum.KindPerson || kind == checksum.KindForeigner {
		personType = "F"
	}
	residence := "R"
	if p.Address != nil && p.Address.Country != "" && p.Address.Country != "ES" {
		residence = "E"
	}

	tid := party.CreateElement("TaxIdentification")
	addText(tid, "PersonTypeCode", personType)
	addText(tid, "ResidenceTypeCode", residence)
	addText(tid, "TaxIdentificationNumber", taxID)

	if len(centres) > 0 {
		ac := party.CreateElement("AdministrativeCentres")
		for _, c := range centres {
			el := ac.CreateElement("AdministrativeCentre")
			addText(el, "CentreCode", c.Code)
			addText(el, "RoleTypeCode", string(c.Role))
		}
	}

	var entity *etree.Element
	if personType == "F" {
		entity = party.CreateElement("Individual")
		first, rest, _ := strings.Cut(strings.TrimSpace(p.Name), " ")
		addText(entity, "Name", first)
		addText(entity, "FirstSurname", strings.TrimSpace(rest))
	} else {
		entity = party.CreateElement("LegalEntity")
		addText(entity, "CorporateName", p.Name)
	}

	if p.Address == nil {
		return
	}
	a := p.Address
	if residence == "R" {
		addr := entity.CreateElement("AddressInSpain")
		addText(addr, "Address", a.Street)
		addText(addr, "PostCode", a.PostalCode)
		addText(addr, "Town", a.City)
		addText(addr, "Province", a.Province)
		addText(addr, "CountryCode", "ESP")
		return
	}
	addr := entity.CreateElement("OverseasAddress")
	addText(addr, "Address", a.Street)
	addText(addr, "PostCodeAndTown", strings.TrimSpace(a.PostalCode+" "+a.City))
	addText(addr, "Province", a.Province)
	addText(addr, "CountryCode", alpha3(a.Country))
}

// Parse reads a Facturae document. Only the first invoice of a batch is
// mapped to the neutral model.
func (d *Facturae) Parse(ctx context.Context, r io.Reader) (model.Invoice, error) {
	if err := ctx.Err(); err != nil {
		return model.Invoice{}, err
	}

	var doc facturaeDoc
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return model.Invoice{}, model.NewParseError(string(FormatFacturae), "xml", "failed to parse XML", err)
	}
	if len(doc.Invoices) == 0 {
		return model.Invoice{}, model.NewParseError(string(FormatFacturae), "Invoices", "no invoice found", nil)
	}

	src := doc.Invoices[0]
	f := &fieldReader{format: FormatFacturae}

	inv := model.Invoice{
		Number:    strings.TrimSpace(src.Header.Number),
		IssueDate: f.date("IssueDate", src.IssueData.IssueDate),
		TypeCode:  model.InvoiceTypeCommercial,
		Currency:  strings.TrimSpace(src.IssueData.Currency),
		Seller:    d.parseParty(doc.Seller),
		Buyer:     d.parseParty(doc.Buyer),
		Note:      strings.TrimSpace(src.AdditionalInformation),
	}
	if inv.Currency == "" {
		inv.Currency = strings.TrimSpace(doc.FileHeader.Batch.Currency)
	}

	if strings.TrimSpace(src.Header.DocumentType) == facturaeDocSelfBilled {
		inv.TypeCode = model.InvoiceTypeSelfBilled
	}
	if src.Header.Class == facturaeClassCorrective || src.Header.Corrective != nil {
		inv.TypeCode = model.InvoiceTypeCreditNote
		if src.Header.Corrective != nil {
			inv.PrecedingInvoiceReference = strings.TrimSpace(src.Header.Corrective.InvoiceNumber)
		}
	}
	ext := src.Extensions
	if code := strings.TrimSpace(ext.InvoiceTypeCode); code != "" {
		n, err := strconv.Atoi(code)
		if err != nil || !model.InvoiceType(n).Valid() {
			f.fail("InvoiceTypeCode", "invalid type code", err)
		} else {
			inv.TypeCode = model.InvoiceType(n)
		}
	}

	for _, c := range doc.Buyer.Centres {
		inv.AdministrativeCentres = append(inv.AdministrativeCentres, model.AdministrativeCentre{
			Code: strings.TrimSpace(c.Code),
			Role: model.CentreRole(strings.TrimSpace(c.Role)),
		})
	}

	units := reverse(facturaeUnits)
	for i, l := range src.Lines {
		net := f.amount("TotalCost", l.TotalCost)
		line := model.Line{
			ID:          strings.TrimSpace(l.ArticleCode),
			Description: strings.TrimSpace(l.Description),
			Quantity:    f.amountDefault("Quantity", l.Quantity, decimal.NewFromInt(1)),
			Unit:        model.DefaultUnit,
			UnitPrice:   f.amountDefault("UnitPriceWithoutTax", l.UnitPrice, net),
			NetAmount:   net,
			TaxCategory: model.DefaultTaxCategory,
		}
		if line.ID == "" {
			line.ID = strconv.Itoa(i + 1)
		}
		if u, ok := units[strings.TrimSpace(l.Unit)]; ok {
			line.Unit = u
		}
		if len(l.Taxes) > 0 {
			line.TaxPercent = f.amount("TaxRate", l.Taxes[0].Rate)
			line.TaxCategory = categoryForRate(line.TaxPercent)
		}
		if inv.BuyerReference == "" {
			inv.BuyerReference = strings.TrimSpace(l.ReceiverReference)
		}
		inv.Lines = append(inv.Lines, line)
	}

	for _, t := range src.Taxes {
		rate := f.amount("TaxRate", t.Rate)
		inv.TaxTotals = append(inv.TaxTotals, model.TaxTotal{
			TaxableAmount: f.amount("TaxableBase", t.TaxableAmount),
			TaxAmount:     f.amount("TaxAmount", t.TaxAmount),
			CategoryID:    categoryForRate(rate),
			Percent:       rate,
		})
	}

	inv.TotalWithoutTax = f.amount("TotalGrossAmountBeforeTaxes", src.Totals.GrossBeforeTaxes)
	inv.TotalTax = f.amount("TotalTaxOutputs", src.Totals.TaxOutputs)
	inv.TotalWithTax = f.amount("InvoiceTotal", src.Totals.InvoiceTotal)
	inv.AmountDue = f.amountDefault("TotalOutstandingAmount", src.Totals.Outstanding, inv.TotalWithTax)

	if len(src.Installments) > 0 {
		inst := src.Installments[0]
		if !ext.DueDateUnspecified {
			inv.DueDate = f.optionalDate("InstallmentDueDate", inst.DueDate)
		}
		means := strings.TrimSpace(inst.PaymentMeans)
		iban := strings.TrimSpace(inst.IBAN)
		code := strings.TrimSpace(ext.PaymentMeansCode)
		if iban != "" || code != "" || (means != "" && means != "04") {
			if code == "" {
				code = reverse(facturaePaymentMeans)[means]
			}
			if code == "" {
				code = "30"
			}
			inv.PaymentMeans = &model.PaymentMeans{
				Code: code,
				IBAN: iban,
				BIC:  strings.TrimSpace(inst.BIC),
			}
		}
	}

	if f.err != nil {
		return model.Invoice{}, f.err
	}
	return inv, nil
}

func (d *Facturae) parseParty(p facturaeParty) model.Party {
	out := model.Party{TaxID: strings.TrimSpace(p.TaxID)}

	var spain *facturaeAddr
	var abroad *facturaeAbroad
	switch {
	case p.LegalEntity != nil:
		out.Name = strings.TrimSpace(p.LegalEntity.CorporateName)
		spain, abroad = p.LegalEntity.Spain, p.LegalEntity.Overseas
	case p.Individual != nil:
		parts := []string{p.Individual.Name, p.Individual.FirstSurname, p.Individual.SecondSurname}
		out.Name = strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
		spain, abroad = p.Individual.Spain, p.Individual.Overseas
	}

	switch {
	case spain != nil:
		out.Address = &model.Address{
			Street:     strings.TrimSpace(spain.Address),
			PostalCode: strings.TrimSpace(spain.PostCode),
			City:       strings.TrimSpace(spain.Town),
			Province:   strings.TrimSpace(spain.Province),
			Country:    "ES",
		}
	case abroad != nil:
		postal, city, _ := strings.Cut(strings.TrimSpace(abroad.PostCodeAndTown), " ")
		out.Address = &model.Address{
			Street:     strings.TrimSpace(abroad.Address),
			PostalCode: postal,
			City:       strings.TrimSpace(city),
			Province:   strings.TrimSpace(abroad.Province),
			Country:    alpha2(strings.TrimSpace(abroad.Country)),
		}
	}
	return out
}

func alpha3(code string) string {
	if c, ok := iso3166Alpha3[strings.ToUpper(code)]; ok {
		return c
	}
	return code
}

func alpha2(code string) string {
	for two, three := range iso3166Alpha3 {
		if three == strings.ToUpper(code) {
			return two
		}
	}
	return code
}

func reverse(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if _, seen := out[v]; !seen || k < out[v] {
			out[v] = k
		}
	}
	return out
}
