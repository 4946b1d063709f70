package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segmenta/prospect-cli/internal/cache"
	"github.com/segmenta/prospect-cli/internal/model"
	"github.com/segmenta/prospect-cli/pkg/receita"
	"github.com/segmenta/prospect-cli/pkg/serper"
)

// TestEnrichAndDiscoverScenario drives the full pipeline for a small
// project: two clients sharing one product (one with a registry-known
// CNPJ, one without), then competitor discovery whose results overlap
// the client set.
func TestEnrichAndDiscoverScenario(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	reg := &fakeRegistry{companies: map[string]*receita.Company{"12345678000195": acmeCompany()}}
	ai := &fakeAI{responses: []string{
		`{"market": "Embalagens Plásticas", "category": "Embalagens", "segmentation": "B2B"}`,
	}}
	identifier := newTestIdentifier(ai, st)
	enricher := NewEnricher(st, cache.New(st), reg, identifier, defaultWeights(t))

	clients := []model.Entity{
		{ID: "cl-1", ProjectID: "proj-1", Name: "Acme", CNPJ: "12.345.678/0001-95", Product: "caixas plásticas"},
		{ID: "cl-2", ProjectID: "proj-1", Name: "Beta Plásticos", Product: "Caixas Plásticas"},
	}
	for i := range clients {
		require.NoError(t, enricher.EnrichClient(ctx, &clients[i]))
	}

	// One registry lookup produced exactly one cache write; the second
	// client has no CNPJ and never touches the registry.
	assert.Equal(t, 1, st.cacheSetCalls)
	assert.Equal(t, 1, reg.lookups)

	// One market per distinct product string, shared by both clients.
	markets, err := st.ListMarkets(ctx, "proj-1")
	require.NoError(t, err)
	require.Len(t, markets, 1)
	assert.Equal(t, 1, ai.calls)
	assert.Equal(t, markets[0].ID, clients[0].MarketID)
	assert.Equal(t, markets[0].ID, clients[1].MarketID)

	// Discovery returns one genuine competitor plus both clients again
	// under different spellings; the duplicates must not survive.
	search := &fakeSearch{results: []serper.SearchResult{
		{Title: "ACME EMBALAGENS LTDA", Link: "https://acmeembalagens.com.br"},
		{Title: "Beta Plásticos S.A.", Link: "https://betaplasticos.com.br"},
		{Title: "Gamma Filmes", Link: "https://gammafilmes.com.br"},
	}}
	d := NewDiscoverer(search, NewCompanyFilter(DefaultFilterRules()), enricher, st)

	saved, err := d.Discover(ctx, "proj-1", markets[0], model.RoleCompetitor, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, saved)

	// Zero duplicates across the combined client/competitor/lead set.
	var combined []model.Entity
	for _, role := range []model.Role{model.RoleClient, model.RoleCompetitor, model.RoleLead} {
		list, err := st.ListEntities(ctx, "proj-1", role)
		require.NoError(t, err)
		combined = append(combined, list...)
	}
	require.Len(t, combined, 3)
	for i := range combined {
		for j := i + 1; j < len(combined); j++ {
			assert.False(t, SameCompany(combined[i], combined[j]),
				"%s and %s refer to the same company", combined[i].Name, combined[j].Name)
		}
	}
}
