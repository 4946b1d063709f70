package pipeline

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/segmenta/prospect-cli/internal/cache"
	"github.com/segmenta/prospect-cli/internal/config"
	"github.com/segmenta/prospect-cli/internal/model"
	"github.com/segmenta/prospect-cli/internal/resilience"
	"github.com/segmenta/prospect-cli/pkg/receita"
)

// EntityStore is the slice of the store the enricher writes to.
type EntityStore interface {
	SaveEntity(ctx context.Context, role model.Role, e *model.Entity) error
}

// Enricher fills in a company record from the tax registry, resolves its
// market, scores its completeness, and persists it. Registry lookups go
// through the response cache so repeated runs do not hammer the API.
type Enricher struct {
	store      EntityStore
	cache      *cache.Cache
	registry   receita.Client
	identifier *MarketIdentifier
	quality    config.QualityConfig
	retry      resilience.RetryConfig
	logger     *zap.Logger
}

// NewEnricher wires an enricher from its collaborators.
func NewEnricher(store EntityStore, c *cache.Cache, registry receita.Client, identifier *MarketIdentifier, quality config.QualityConfig) *Enricher {
	return &Enricher{
		store:      store,
		cache:      c,
		registry:   registry,
		identifier: identifier,
		quality:    quality,
		retry:      resilience.DefaultRetryConfig(),
		logger:     zap.L().With(zap.String("component", "enricher")),
	}
}

// EnrichClient runs the full enrichment for one client record and saves
// the result. A CNPJ absent from the registry is not an error; the record
// is scored and saved with whatever data it already has.
func (en *Enricher) EnrichClient(ctx context.Context, e *model.Entity) error {
	return en.enrich(ctx, model.RoleClient, e)
}

// EnrichEntity enriches and saves an entity under the given role.
func (en *Enricher) EnrichEntity(ctx context.Context, role model.Role, e *model.Entity) error {
	return en.enrich(ctx, role, e)
}

func (en *Enricher) enrich(ctx context.Context, role model.Role, e *model.Entity) error {
	if cnpj := model.NormalizeCNPJ(e.CNPJ); cnpj != "" {
		record, err := en.lookupRegistry(ctx, cnpj)
		if err != nil {
			return eris.Wrapf(err, "pipeline: enrich %s", e.Name)
		}
		if record != nil {
			mergeRegistry(e, record)
		}
		e.CNPJ = cnpj
	}

	if e.MarketID == "" && en.identifier != nil && e.Product != "" {
		marketID, err := en.identifier.Identify(ctx, e.Product)
		if err != nil {
			// Classification failures degrade the record, not the run.
			en.logger.Warn("market identification failed",
				zap.String("entity", e.Name), zap.Error(err))
		} else {
			e.MarketID = marketID
		}
	}

	ApplyQualityScore(e, en.quality)

	if err := en.store.SaveEntity(ctx, role, e); err != nil {
		return eris.Wrapf(err, "pipeline: save %s", e.Name)
	}

	en.logger.Debug("entity enriched",
		zap.String("entity", e.Name),
		zap.String("role", string(role)),
		zap.Int("quality_score", e.QualityScore))
	return nil
}

// lookupRegistry fetches the registry record for a normalized CNPJ,
// consulting the cache first. Returns nil without error when the CNPJ is
// unknown to the registry.
func (en *Enricher) lookupRegistry(ctx context.Context, cnpj string) (*model.RegistryRecord, error) {
	if payload, ok := en.cache.Get(ctx, cnpj); ok {
		var record model.RegistryRecord
		if err := json.Unmarshal(payload, &record); err == nil {
			return &record, nil
		}
		en.logger.Warn("corrupt cache payload, refetching", zap.String("cnpj", cnpj))
	}

	company, err := resilience.DoVal(ctx, en.retry, func(ctx context.Context) (*receita.Company, error) {
		return en.registry.Lookup(ctx, cnpj)
	})
	if err != nil {
		if errors.Is(err, receita.ErrNotFound) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "registry lookup")
	}

	record := &model.RegistryRecord{
		OfficialName: company.OfficialName,
		Size:         company.Size,
		Street:       company.Street,
		City:         company.City,
		State:        company.State,
		CNAE:         company.CNAE,
		Email:        company.Email,
		Phone:        company.Phone,
		Status:       company.Status,
	}

	if payload, err := json.Marshal(record); err == nil {
		en.cache.Set(ctx, cnpj, payload, "receita")
	}
	return record, nil
}

// mergeRegistry overlays registry data onto the entity. Registry fields
// win when present; existing values survive registry gaps.
func mergeRegistry(e *model.Entity, r *model.RegistryRecord) {
	if r.OfficialName != "" {
		e.Name = r.OfficialName
	}
	if r.Email != "" {
		e.Email = r.Email
	}
	if r.Phone != "" {
		e.Phone = r.Phone
	}
	if r.City != "" {
		e.City = r.City
	}
	if r.State != "" {
		e.State = r.State
	}
	if r.CNAE != "" {
		e.CNAE = r.CNAE
	}
	if r.Size != "" {
		e.Size = r.Size
	}
}
