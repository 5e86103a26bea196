package checksum

import "strings"

const (
	ibanMinLength = 15
	ibanMaxLength = 34
)

// NormalizeIBAN removes spaces and uppercases
func NormalizeIBAN(iban string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(iban), " ", ""))
}

// ValidIBAN checks an international bank account number with the ISO 13616
// mod-97 algorithm.
func ValidIBAN(iban string) bool {
	s := NormalizeIBAN(iban)
	if len(s) < ibanMinLength || len(s) > ibanMaxLength {
		return false
	}
	if !isUpper(s[0]) || !isUpper(s[1]) || !isDigit(s[2]) || !isDigit(s[3]) {
		return false
	}

	rearranged := s[4:] + s[:4]
	rem := 0
	for i := 0; i < len(rearranged); i++ {
		c := rearranged[i]
		switch {
		case isDigit(c):
			rem = (rem*10 + int(c-'0')) % 97
		case isUpper(c):
			v := int(c-'A') + 10
			rem = (rem*100 + v) % 97
		default:
			return false
		}
	}
	return rem == 1
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isUpper(c byte) bool { return c >= 'A' && c <= 'Z' }
