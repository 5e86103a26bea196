package checksum

import (
	"regexp"
	"strings"
)

// DIR3 codes are nine characters: one or two letters identifying the
// administration level followed by digits.
var dir3Pattern = regexp.MustCompile(`^[A-Z]{1,2}[0-9]{7,8}$`)

const dir3Length = 9

// ValidDIR3 reports whether code is a well-formed DIR3 unit code
func ValidDIR3(code string) bool {
	s := strings.ToUpper(strings.TrimSpace(code))
	return len(s) == dir3Length && dir3Pattern.MatchString(s)
}
