package model

import "strings"

// cnpjLength is the number of digits in a Brazilian CNPJ.
const cnpjLength = 14

// NormalizeCNPJ strips punctuation from a CNPJ and returns the bare 14-digit
// form. Returns the empty string when the input does not contain exactly 14
// digits, so callers can treat the result as "no usable tax ID".
func NormalizeCNPJ(raw string) string {
	var b strings.Builder
	b.Grow(cnpjLength)
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) != cnpjLength {
		return ""
	}
	return digits
}

// ValidCNPJ reports whether the input normalizes to a well-formed CNPJ.
func ValidCNPJ(raw string) bool {
	return NormalizeCNPJ(raw) != ""
}
