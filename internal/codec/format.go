package codec

import (
	"bytes"
	"encoding/xml"
	"io"
	"strings"

	"github.com/go-faster/errors"
)

// Format identifies a supported XML invoice dialect
type Format string

const (
	FormatFacturae Format = "facturae_3.2.2"
	FormatUBL      Format = "ubl_2.1"
	FormatUnknown  Format = "unknown"
)

// Namespaces of the supported dialects
const (
	NSFacturae      = "http://www.facturae.gob.es/formato/Versiones/Facturaev3_2_2.xml"
	NSUBLInvoice    = "urn:oasis:names:specification:ubl:schema:xsd:Invoice-2"
	NSUBLCreditNote = "urn:oasis:names:specification:ubl:schema:xsd:CreditNote-2"
	NSCac           = "urn:oasis:names:specification:ubl:schema:xsd:CommonAggregateComponents-2"
	NSCbc           = "urn:oasis:names:specification:ubl:schema:xsd:CommonBasicComponents-2"
	NSDsig          = "http://www.w3.org/2000/09/xmldsig#"
)

// ParseFormat accepts the canonical names plus short aliases
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(FormatFacturae), "facturae", "facturae322":
		return FormatFacturae, nil
	case string(FormatUBL), "ubl", "ubl21", "peppol":
		return FormatUBL, nil
	}
	return FormatUnknown, errors.Errorf("unsupported format %q", s)
}

// RootName returns the namespace and local name of the first element in
// content. Prolog tokens (declaration, comments, doctype) are skipped.
func RootName(content []byte) (xml.Name, error) {
	if len(bytes.TrimSpace(content)) == 0 {
		return xml.Name{}, errors.New("empty document")
	}
	dec := xml.NewDecoder(bytes.NewReader(content))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return xml.Name{}, errors.New("no root element")
		}
		if err != nil {
			return xml.Name{}, errors.Wrap(err, "read token")
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start.Name, nil
		}
	}
}
