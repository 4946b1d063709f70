package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segmenta/prospect-cli/internal/config"
	"github.com/segmenta/prospect-cli/internal/model"
)

func newTestIdentifier(ai *fakeAI, st *fakeStore) *MarketIdentifier {
	cfg := config.AnthropicConfig{Model: "claude-haiku-4-5-20251001", MaxTokens: 1024}
	return NewMarketIdentifier(ai, cfg, st, "proj-1")
}

func TestIdentifyCreatesMarket(t *testing.T) {
	ai := &fakeAI{responses: []string{
		`{"market": "Embalagens Plásticas", "category": "Embalagens", "segmentation": "B2B"}`,
	}}
	st := newFakeStore()
	mi := newTestIdentifier(ai, st)

	id, err := mi.Identify(context.Background(), "caixas plásticas industriais")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	markets, err := st.ListMarkets(context.Background(), "proj-1")
	require.NoError(t, err)
	require.Len(t, markets, 1)
	assert.Equal(t, "Embalagens Plásticas", markets[0].Name)
	assert.Equal(t, "Embalagens", markets[0].Category)
	assert.Equal(t, model.SegmentationB2B, markets[0].Segmentation)
	assert.Equal(t, id, markets[0].ID)
}

func TestIdentifyReusesExistingMarketBySubstring(t *testing.T) {
	ai := &fakeAI{responses: []string{
		`{"market": "Embalagens Plásticas Industriais", "category": "Embalagens", "segmentation": "B2B"}`,
	}}
	st := newFakeStore()
	existing := &model.Market{ID: "mkt-1", ProjectID: "proj-1", Name: "Embalagens Plásticas"}
	require.NoError(t, st.CreateMarket(context.Background(), existing))

	mi := newTestIdentifier(ai, st)
	id, err := mi.Identify(context.Background(), "filme stretch")
	require.NoError(t, err)
	assert.Equal(t, "mkt-1", id)

	markets, err := st.ListMarkets(context.Background(), "proj-1")
	require.NoError(t, err)
	assert.Len(t, markets, 1)
}

func TestIdentifyMemoizesPerProduct(t *testing.T) {
	ai := &fakeAI{responses: []string{
		`{"market": "Embalagens Plásticas", "category": "Embalagens", "segmentation": "B2B"}`,
	}}
	st := newFakeStore()
	mi := newTestIdentifier(ai, st)

	first, err := mi.Identify(context.Background(), "Caixas Plásticas")
	require.NoError(t, err)
	second, err := mi.Identify(context.Background(), "  caixas plásticas  ")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, ai.calls)
}

func TestIdentifyEmptyProduct(t *testing.T) {
	ai := &fakeAI{}
	mi := newTestIdentifier(ai, newFakeStore())

	id, err := mi.Identify(context.Background(), "   ")
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.Zero(t, ai.calls)
}

func TestIdentifyTrimsProseAroundJSON(t *testing.T) {
	ai := &fakeAI{responses: []string{
		"Here is the classification:\n" +
			`{"market": "Software de Gestão", "category": "Tecnologia", "segmentation": "B2B"}` +
			"\nLet me know if you need anything else.",
	}}
	st := newFakeStore()
	mi := newTestIdentifier(ai, st)

	id, err := mi.Identify(context.Background(), "ERP para indústrias")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestIdentifyRejectsEmptyClassification(t *testing.T) {
	ai := &fakeAI{responses: []string{`{"market": "", "category": "", "segmentation": ""}`}}
	mi := newTestIdentifier(ai, newFakeStore())

	_, err := mi.Identify(context.Background(), "produto misterioso")
	assert.Error(t, err)
}

func TestIdentifyAllSkipsFailedClassifications(t *testing.T) {
	ai := &fakeAI{responses: []string{
		`{"market": "Embalagens Plásticas", "category": "Embalagens", "segmentation": "B2B"}`,
		`not json at all`,
		`{"market": "Software de Gestão", "category": "Tecnologia", "segmentation": "B2B"}`,
	}}
	st := newFakeStore()
	mi := newTestIdentifier(ai, st)

	out := mi.IdentifyAll(context.Background(), []string{
		"caixas plásticas", "produto quebrado", "ERP", "Caixas Plásticas", "",
	})

	assert.Len(t, out, 2)
	assert.Contains(t, out, "caixas plásticas")
	assert.Contains(t, out, "erp")
	// Duplicate and empty products cost no extra classification calls.
	assert.Equal(t, 3, ai.calls)
}

func TestMatchMarket(t *testing.T) {
	markets := []model.Market{
		{ID: "1", Name: "Embalagens Plásticas"},
		{ID: "2", Name: "Software de Gestão"},
	}

	tests := []struct {
		name           string
		classification string
		wantID         string
	}{
		{"exact name", "Embalagens Plásticas", "1"},
		{"classification contains market name", "Mercado de Embalagens Plásticas no Brasil", "1"},
		{"market name contains classification", "software", "2"},
		{"case insensitive", "EMBALAGENS PLÁSTICAS", "1"},
		{"no match", "Autopeças", ""},
		{"empty classification", "  ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MatchMarket(tt.classification, markets)
			if tt.wantID == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.wantID, got.ID)
		})
	}
}

func TestIdentifyConcurrentSameProductClassifiesOnce(t *testing.T) {
	ai := &fakeAI{responses: []string{
		`{"market": "Embalagens Plásticas", "category": "Embalagens", "segmentation": "B2B"}`,
	}}
	st := newFakeStore()
	mi := newTestIdentifier(ai, st)

	const workers = 4
	ids := make([]string, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = mi.Identify(context.Background(), "caixas plásticas industriais")
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		require.NotEmpty(t, ids[i])
		assert.Equal(t, ids[0], ids[i])
	}

	markets, err := st.ListMarkets(context.Background(), "proj-1")
	require.NoError(t, err)
	assert.Len(t, markets, 1)
	assert.Equal(t, 1, ai.calls)
}

// collidingMarketStore rejects every insert the way a store does when
// another writer created the market first: the market only shows up on
// the listing that follows the failed insert.
type collidingMarketStore struct {
	market model.Market
	lists  int
}

func (c *collidingMarketStore) CreateMarket(context.Context, *model.Market) error {
	return fmt.Errorf("duplicate market %q", c.market.Name)
}

func (c *collidingMarketStore) ListMarkets(context.Context, string) ([]model.Market, error) {
	c.lists++
	if c.lists == 1 {
		return nil, nil
	}
	return []model.Market{c.market}, nil
}

func TestIdentifyRecoversFromCreateCollision(t *testing.T) {
	ai := &fakeAI{responses: []string{
		`{"market": "Embalagens Plásticas", "category": "Embalagens", "segmentation": "B2B"}`,
	}}
	st := &collidingMarketStore{
		market: model.Market{ID: "mkt-1", ProjectID: "proj-1", Name: "Embalagens Plásticas"},
	}
	cfg := config.AnthropicConfig{Model: "claude-haiku-4-5-20251001", MaxTokens: 1024}
	mi := NewMarketIdentifier(ai, cfg, st, "proj-1")

	id, err := mi.Identify(context.Background(), "caixas plásticas industriais")
	require.NoError(t, err)
	assert.Equal(t, "mkt-1", id)
	assert.Equal(t, 2, st.lists)
}
