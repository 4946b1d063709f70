package model

import "time"

// Role identifies which part a discovered company plays within a project.
// The Deduplicator guarantees a company holds at most one role per project.
type Role string

const (
	RoleClient     Role = "client"
	RoleCompetitor Role = "competitor"
	RoleLead       Role = "lead"
)

// Segmentation classifies a market's commercial model.
type Segmentation string

const (
	SegmentationB2B   Segmentation = "B2B"
	SegmentationB2C   Segmentation = "B2C"
	SegmentationB2B2C Segmentation = "B2B2C"
)

// ValidationStatus tracks the manual review state of an enriched entity.
type ValidationStatus string

const (
	ValidationPending         ValidationStatus = "pending"
	ValidationRich            ValidationStatus = "rich"
	ValidationNeedsAdjustment ValidationStatus = "needs_adjustment"
	ValidationDiscarded       ValidationStatus = "discarded"
)

// QualityLabel is the four-tier human-readable reading of a quality score.
type QualityLabel string

const (
	QualityExcellent QualityLabel = "Excellent"
	QualityGood      QualityLabel = "Good"
	QualityRegular   QualityLabel = "Regular"
	QualityPoor      QualityLabel = "Poor"
)

// LabelForScore maps a 0-100 quality score to its tier.
func LabelForScore(score int) QualityLabel {
	switch {
	case score >= 80:
		return QualityExcellent
	case score >= 60:
		return QualityGood
	case score >= 40:
		return QualityRegular
	default:
		return QualityPoor
	}
}

// Market is a named segment attached to one or more clients.
type Market struct {
	ID           string       `json:"id"`
	ProjectID    string       `json:"project_id"`
	Name         string       `json:"name"`
	Category     string       `json:"category"`
	Segmentation Segmentation `json:"segmentation"`
	CreatedAt    time.Time    `json:"created_at"`
}

// Entity is a company record in any of the three roles. Contact and identity
// fields feed the quality score; MarketID links the entity to its segment.
type Entity struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id"`
	MarketID    string `json:"market_id,omitempty"`
	Name        string `json:"name"`
	CNPJ        string `json:"cnpj,omitempty"`
	Site        string `json:"site,omitempty"`
	Description string `json:"description,omitempty"`
	Product     string `json:"product,omitempty"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	City        string `json:"city,omitempty"`
	State       string `json:"state,omitempty"`
	CNAE        string `json:"cnae,omitempty"`
	Size        string `json:"size,omitempty"`
	LinkedIn    string `json:"linkedin,omitempty"`
	Instagram   string `json:"instagram,omitempty"`

	QualityScore     int              `json:"quality_score"`
	QualityLabel     QualityLabel     `json:"quality_label"`
	ValidationStatus ValidationStatus `json:"validation_status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Candidate is a raw search result not yet validated as a real company.
type Candidate struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet,omitempty"`
	CNPJ    string `json:"cnpj,omitempty"`
}

// RegistryRecord is the normalized shape of a tax-registry lookup, cached
// per CNPJ.
type RegistryRecord struct {
	OfficialName string `json:"official_name"`
	Size         string `json:"size,omitempty"`
	Street       string `json:"street,omitempty"`
	City         string `json:"city,omitempty"`
	State        string `json:"state,omitempty"`
	CNAE         string `json:"cnae,omitempty"`
	Email        string `json:"email,omitempty"`
	Phone        string `json:"phone,omitempty"`
	Status       string `json:"status,omitempty"`
}
