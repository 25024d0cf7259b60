// Package phone canonicalizes Algerian phone numbers to their
// international +213 form and recognizes linkable candidates.
package phone

import (
	"regexp"
	"strings"
)

// CountryCode is the international prefix all numbers are canonicalized to.
const CountryCode = "213"

// Pattern matches locally formatted Algerian mobile numbers that may be
// used to link an account: +213 or 0 prefix, then a 5/6/7 operator digit
// and eight more digits.
var Pattern = regexp.MustCompile(`^(\+213|0)[567]\d{8}$`)

var nonDigits = regexp.MustCompile(`\D`)

// Normalize strips all non-digit characters and prefixes the result with
// +213. Normalization is unconditional: it does not validate the number,
// matching is done upstream against Pattern.
func Normalize(raw string) string {
	digits := nonDigits.ReplaceAllString(raw, "")
	switch {
	case strings.HasPrefix(digits, CountryCode):
		return "+" + digits
	case strings.HasPrefix(digits, "0"):
		return "+" + CountryCode + digits[1:]
	default:
		return "+" + CountryCode + digits
	}
}

// IsCandidate reports whether text looks like a phone number a customer
// may send to link their account.
func IsCandidate(text string) bool {
	return Pattern.MatchString(strings.TrimSpace(text))
}
