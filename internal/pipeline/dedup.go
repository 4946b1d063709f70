package pipeline

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/segmenta/prospect-cli/internal/model"
)

// legalSuffixPattern strips trailing Brazilian corporate designators so
// "Acme Embalagens Ltda" and "Acme Embalagens" compare equal.
var legalSuffixPattern = regexp.MustCompile(`(?i)[\s,.-]+(ltda|eireli|epp|mei|me|s\.?\s?a\.?|s/a|cia|companhia)\.?$`)

var diacriticStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// normalizeCompanyName lowercases, strips diacritics and legal suffixes,
// and collapses whitespace. Returns "" when nothing meaningful remains.
func normalizeCompanyName(name string) string {
	stripped, _, err := transform.String(diacriticStripper, name)
	if err != nil {
		stripped = name
	}
	lowered := strings.ToLower(strings.TrimSpace(stripped))
	for {
		trimmed := legalSuffixPattern.ReplaceAllString(lowered, "")
		if trimmed == lowered {
			break
		}
		lowered = trimmed
	}
	return strings.Join(strings.Fields(lowered), " ")
}

// SameCompany reports whether two entities refer to the same company:
// either their normalized tax IDs match, or one normalized name contains
// the other.
func SameCompany(a, b model.Entity) bool {
	ca, cb := model.NormalizeCNPJ(a.CNPJ), model.NormalizeCNPJ(b.CNPJ)
	if ca != "" && ca == cb {
		return true
	}

	na, nb := normalizeCompanyName(a.Name), normalizeCompanyName(b.Name)
	if na == "" || nb == "" {
		return false
	}
	return strings.Contains(na, nb) || strings.Contains(nb, na)
}

// FilterDuplicates returns the candidates not already present in any of
// the known lists, and with duplicates among themselves collapsed to the
// first occurrence. Input order is preserved.
func FilterDuplicates(candidates []model.Entity, known ...[]model.Entity) []model.Entity {
	var unique []model.Entity
	for _, cand := range candidates {
		if isKnown(cand, known) || containsCompany(unique, cand) {
			continue
		}
		unique = append(unique, cand)
	}
	return unique
}

func isKnown(cand model.Entity, known [][]model.Entity) bool {
	for _, list := range known {
		if containsCompany(list, cand) {
			return true
		}
	}
	return false
}

func containsCompany(list []model.Entity, cand model.Entity) bool {
	for _, e := range list {
		if SameCompany(e, cand) {
			return true
		}
	}
	return false
}
