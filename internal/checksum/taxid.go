// Package checksum validates Spanish tax identifiers, IBAN bank accounts and
// DIR3 public-administration routing codes. Every function is total: invalid
// input yields false, never a panic or an error.
package checksum

import (
	"strings"
)

// Kind classifies a tax identifier by shape
type Kind int

const (
	KindInvalid Kind = iota
	KindPerson
	KindForeigner
	KindOrganization
)

func (k Kind) String() string {
	switch k {
	case KindPerson:
		return "person"
	case KindForeigner:
		return "foreigner"
	case KindOrganization:
		return "organization"
	default:
		return "invalid"
	}
}

const controlLetters = "TRWAGMYFPDXBNJZSQVHLCKE"

const (
	organizationLetters = "ABCDEFGHJNPQRSUVW"
	letterControlOnly   = "PQRSNW"
	digitControlOnly    = "ABEH"
	organizationControl = "JABCDEFGHI"
)

// NormalizeTaxID trims, uppercases and drops a leading "ES" country prefix
func NormalizeTaxID(id string) string {
	s := strings.ToUpper(strings.TrimSpace(id))
	if len(s) == 11 && strings.HasPrefix(s, "ES") {
		s = s[2:]
	}
	return s
}

// ValidTaxID reports whether id is a well-formed NIF, NIE or CIF
func ValidTaxID(id string) bool {
	return TaxIDKind(id) != KindInvalid
}

// TaxIDKind returns the identifier's shape, or KindInvalid when the shape or
// control character is wrong.
func TaxIDKind(id string) Kind {
	s := strings.ToUpper(strings.TrimSpace(id))
	if len(s) != 9 {
		return KindInvalid
	}

	switch {
	case isDigits(s[:8]):
		if validPersonControl(s[:8], s[8]) {
			return KindPerson
		}
	case strings.IndexByte("XYZ", s[0]) >= 0:
		if !isDigits(s[1:8]) {
			return KindInvalid
		}
		prefix := string(rune('0' + strings.IndexByte("XYZ", s[0])))
		if validPersonControl(prefix+s[1:8], s[8]) {
			return KindForeigner
		}
	case strings.IndexByte(organizationLetters, s[0]) >= 0:
		if validOrganizationShape(s) {
			return KindOrganization
		}
	}
	return KindInvalid
}

func validPersonControl(digits string, control byte) bool {
	n := 0
	for i := 0; i < len(digits); i++ {
		n = n*10 + int(digits[i]-'0')
	}
	return controlLetters[n%23] == control
}

// validOrganizationShape checks the leading letter, seven digits and the
// kind of control character the leading letter allows. The control value
// itself is accepted as given.
func validOrganizationShape(s string) bool {
	if !isDigits(s[1:8]) {
		return false
	}
	c := s[8]
	isLetter := strings.IndexByte(organizationControl, c) >= 0
	isDigit := c >= '0' && c <= '9'

	switch {
	case strings.IndexByte(letterControlOnly, s[0]) >= 0:
		return isLetter
	case strings.IndexByte(digitControlOnly, s[0]) >= 0:
		return isDigit
	default:
		return isLetter || isDigit
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
