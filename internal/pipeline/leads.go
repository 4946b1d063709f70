package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/segmenta/prospect-cli/internal/model"
	"github.com/segmenta/prospect-cli/pkg/serper"
)

// ListingStore is the slice of the store discovery reads known entities from.
type ListingStore interface {
	ListEntities(ctx context.Context, projectID string, role model.Role) ([]model.Entity, error)
}

// cnpjPattern matches formatted or bare tax IDs inside search snippets.
var cnpjPattern = regexp.MustCompile(`\d{2}\.?\d{3}\.?\d{3}/?\d{4}-?\d{2}`)

// titleSeparators cut search-result decorations off company names, e.g.
// "Acme Embalagens | Caixas e Filmes" keeps only "Acme Embalagens".
var titleSeparators = []string{" | ", " - ", " – ", ": "}

// Discoverer finds competitor and lead candidates for a market via web
// search, filters out non-companies, drops duplicates of anything the
// project already knows, and enriches the survivors.
type Discoverer struct {
	search   serper.Client
	filter   *CompanyFilter
	enricher *Enricher
	store    ListingStore
	logger   *zap.Logger
}

// NewDiscoverer wires a discoverer from its collaborators.
func NewDiscoverer(search serper.Client, filter *CompanyFilter, enricher *Enricher, store ListingStore) *Discoverer {
	return &Discoverer{
		search:   search,
		filter:   filter,
		enricher: enricher,
		store:    store,
		logger:   zap.L().With(zap.String("component", "discoverer")),
	}
}

// Discover searches for companies in the market, in the given role, and
// persists the enriched survivors. Returns how many new entities were
// saved. Individual enrichment failures are logged and skipped; only
// search or store failures abort the pass.
func (d *Discoverer) Discover(ctx context.Context, projectID string, market model.Market, role model.Role, limit int) (int, error) {
	query := searchQuery(market.Name, role)
	results, err := d.search.Search(ctx, query, limit)
	if err != nil {
		return 0, eris.Wrapf(err, "pipeline: discover %s for market %s", role, market.Name)
	}

	candidates := make([]model.Candidate, 0, len(results))
	for _, r := range results {
		candidates = append(candidates, model.Candidate{
			Title:   r.Title,
			Link:    r.Link,
			Snippet: r.Snippet,
			CNPJ:    extractCNPJ(r.Title + " " + r.Snippet),
		})
	}

	companies := d.filter.Filter(candidates)
	d.logger.Debug("candidates filtered",
		zap.String("market", market.Name),
		zap.Int("raw", len(candidates)),
		zap.Int("kept", len(companies)))

	fresh := make([]model.Entity, 0, len(companies))
	for _, c := range companies {
		fresh = append(fresh, candidateToEntity(projectID, market.ID, c))
	}

	known, err := d.knownEntities(ctx, projectID)
	if err != nil {
		return 0, err
	}
	fresh = FilterDuplicates(fresh, known...)

	saved := 0
	for i := range fresh {
		if err := d.enricher.EnrichEntity(ctx, role, &fresh[i]); err != nil {
			d.logger.Warn("discovery enrichment failed",
				zap.String("entity", fresh[i].Name), zap.Error(err))
			continue
		}
		saved++
	}

	d.logger.Info("discovery pass complete",
		zap.String("market", market.Name),
		zap.String("role", string(role)),
		zap.Int("saved", saved))
	return saved, nil
}

func (d *Discoverer) knownEntities(ctx context.Context, projectID string) ([][]model.Entity, error) {
	known := make([][]model.Entity, 0, 3)
	for _, role := range []model.Role{model.RoleClient, model.RoleCompetitor, model.RoleLead} {
		list, err := d.store.ListEntities(ctx, projectID, role)
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: list %s entities", role)
		}
		known = append(known, list)
	}
	return known, nil
}

// searchQuery builds the Portuguese search query for a market and role.
func searchQuery(marketName string, role model.Role) string {
	switch role {
	case model.RoleLead:
		return fmt.Sprintf("distribuidores e compradores de %s no Brasil", marketName)
	default:
		return fmt.Sprintf("empresas de %s no Brasil", marketName)
	}
}

func candidateToEntity(projectID, marketID string, c model.Candidate) model.Entity {
	return model.Entity{
		ID:          uuid.NewString(),
		ProjectID:   projectID,
		MarketID:    marketID,
		Name:        cleanTitle(c.Title),
		Site:        c.Link,
		Description: strings.TrimSpace(c.Snippet),
		CNPJ:        model.NormalizeCNPJ(c.CNPJ),
	}
}

func extractCNPJ(text string) string {
	return model.NormalizeCNPJ(cnpjPattern.FindString(text))
}

func cleanTitle(title string) string {
	title = strings.TrimSpace(title)
	for _, sep := range titleSeparators {
		if i := strings.Index(title, sep); i > 0 {
			title = title[:i]
		}
	}
	return strings.TrimSpace(title)
}
