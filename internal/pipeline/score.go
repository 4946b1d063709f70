package pipeline

import (
	"strings"

	"github.com/segmenta/prospect-cli/internal/config"
	"github.com/segmenta/prospect-cli/internal/model"
)

// ComputeQualityScore sums the weights of the fields present on the
// entity. With the default weights a fully populated entity scores 100
// and an empty one 0; the result is clamped to [0, 100] regardless of
// how the weights are configured.
func ComputeQualityScore(e model.Entity, w config.QualityConfig) int {
	score := 0
	if model.NormalizeCNPJ(e.CNPJ) != "" {
		score += w.CNPJ
	}
	if present(e.Email) {
		score += w.Email
	}
	if present(e.Phone) {
		score += w.Phone
	}
	if present(e.Site) {
		score += w.Site
	}
	if present(e.LinkedIn) || present(e.Instagram) {
		score += w.Social
	}
	if present(e.Description) {
		score += w.Description
	}
	if present(e.City) {
		score += w.City
	}
	if present(e.State) {
		score += w.State
	}
	if present(e.CNAE) {
		score += w.CNAE
	}
	if present(e.Size) {
		score += w.Size
	}

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// ApplyQualityScore computes and stores the score, its label, and the
// validation status derived from it.
func ApplyQualityScore(e *model.Entity, w config.QualityConfig) {
	e.QualityScore = ComputeQualityScore(*e, w)
	e.QualityLabel = model.LabelForScore(e.QualityScore)
	e.ValidationStatus = statusForScore(e.QualityScore)
}

// statusForScore maps completeness to a review status: well-filled
// records are ready, sparse ones are flagged for manual adjustment.
func statusForScore(score int) model.ValidationStatus {
	switch {
	case score >= 60:
		return model.ValidationRich
	case score >= 40:
		return model.ValidationPending
	default:
		return model.ValidationNeedsAdjustment
	}
}

func present(s string) bool {
	return strings.TrimSpace(s) != ""
}
