package checksum_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rezonia/einvoice-engine/internal/checksum"
)

func TestValidTaxID(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
		kind  checksum.Kind
	}{
		{"person", "12345678Z", true, checksum.KindPerson},
		{"person lowercase", "12345678z", true, checksum.KindPerson},
		{"person padded", " 12345678Z ", true, checksum.KindPerson},
		{"person wrong letter", "12345678A", false, checksum.KindInvalid},
		{"person zero", "00000000T", true, checksum.KindPerson},
		{"foreigner X", "X1234567L", true, checksum.KindForeigner},
		{"foreigner Y", "Y1234567X", true, checksum.KindForeigner},
		{"foreigner Z", "Z1234567R", true, checksum.KindForeigner},
		{"foreigner wrong letter", "X1234567A", false, checksum.KindInvalid},
		{"foreigner letters in body", "X12A4567L", false, checksum.KindInvalid},
		{"organization digit control", "B12345678", true, checksum.KindOrganization},
		{"organization letter control", "P2807900B", true, checksum.KindOrganization},
		{"organization either control", "G1234567J", true, checksum.KindOrganization},
		{"organization either digit", "G12345674", true, checksum.KindOrganization},
		{"organization needs letter", "P28079001", false, checksum.KindInvalid},
		{"organization needs digit", "A1234567B", false, checksum.KindInvalid},
		{"organization bad control letter", "Q1234567Z", false, checksum.KindInvalid},
		{"invalid prefix", "I12345678", false, checksum.KindInvalid},
		{"empty", "", false, checksum.KindInvalid},
		{"too short", "1234567Z", false, checksum.KindInvalid},
		{"too long", "123456789Z", false, checksum.KindInvalid},
		{"punctuation", "12.345.678-Z", false, checksum.KindInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, checksum.ValidTaxID(tt.input))
			assert.Equal(t, tt.kind, checksum.TaxIDKind(tt.input))
		})
	}
}

func TestNormalizeTaxID(t *testing.T) {
	assert.Equal(t, "B12345678", checksum.NormalizeTaxID(" esb12345678 "))
	assert.Equal(t, "12345678Z", checksum.NormalizeTaxID("12345678z"))
	assert.Equal(t, "ES", checksum.NormalizeTaxID("es"))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "person", checksum.KindPerson.String())
	assert.Equal(t, "organization", checksum.KindOrganization.String())
	assert.Equal(t, "invalid", checksum.KindInvalid.String())
}

func TestValidIBAN(t *testing.T) {
	valid := []string{
		"ES9121000418450200051332",
		"es91 2100 0418 4502 0005 1332",
		"GB82WEST12345698765432",
		"DE89370400440532013000",
		"NO9386011117947",
	}
	for _, iban := range valid {
		assert.True(t, checksum.ValidIBAN(iban), iban)
	}

	invalid := []string{
		"",
		"ES9",
		"ES9121000418450200051333",
		"1291ABCD0418450200051332",
		"ES91-2100-0418-4502-0005-1332",
		"ES9121000418450200051332123456789012345",
	}
	for _, iban := range invalid {
		assert.False(t, checksum.ValidIBAN(iban), iban)
	}
}

func TestValidIBAN_SingleDigitFlip(t *testing.T) {
	base := "ES9121000418450200051332"
	for i := 2; i < len(base); i++ {
		b := []byte(base)
		b[i] = '0' + (b[i]-'0'+1)%10
		assert.False(t, checksum.ValidIBAN(string(b)), "flip at %d: %s", i, string(b))
	}
}

func TestValidDIR3(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{"L01280796", true},
		{"E04921301", true},
		{"GE0001234", true},
		{" l01280796 ", true},
		{"A01004456", true},
		{"012807960", false},
		{"L0128079", false},
		{"L012807960", false},
		{"L01-80796", false},
		{"L01 80796", false},
		{"ABC123456", false},
		{"", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, checksum.ValidDIR3(tt.code), tt.code)
	}
}

func BenchmarkValidIBAN(b *testing.B) {
	for i := 0; i < b.N; i++ {
		checksum.ValidIBAN("ES9121000418450200051332")
	}
}
