package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/segmenta/prospect-cli/internal/model"
	"github.com/segmenta/prospect-cli/pkg/anthropic"
	"github.com/segmenta/prospect-cli/pkg/receita"
	"github.com/segmenta/prospect-cli/pkg/serper"
)

// fakeStore implements the narrow store slices the pipeline depends on,
// plus the cache backing, all in memory.
type fakeStore struct {
	mu            sync.Mutex
	entities      map[model.Role][]model.Entity
	markets       []model.Market
	cache         map[string]*model.CacheEntry
	cacheSetCalls int

	saveErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		entities: make(map[model.Role][]model.Entity),
		cache:    make(map[string]*model.CacheEntry),
	}
}

func (f *fakeStore) SaveEntity(_ context.Context, role model.Role, e *model.Entity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	for i, existing := range f.entities[role] {
		if existing.ID == e.ID {
			f.entities[role][i] = *e
			return nil
		}
	}
	f.entities[role] = append(f.entities[role], *e)
	return nil
}

func (f *fakeStore) ListEntities(_ context.Context, projectID string, role model.Role) ([]model.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Entity
	for _, e := range f.entities[role] {
		if e.ProjectID == projectID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateMarket(_ context.Context, m *model.Market) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.markets {
		if existing.ProjectID == m.ProjectID && existing.Name == m.Name {
			return fmt.Errorf("duplicate market %q", m.Name)
		}
	}
	f.markets = append(f.markets, *m)
	return nil
}

func (f *fakeStore) ListMarkets(_ context.Context, projectID string) ([]model.Market, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Market
	for _, m := range f.markets {
		if m.ProjectID == projectID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeStore) GetCacheEntry(_ context.Context, cnpj string) (*model.CacheEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cache[cnpj], nil
}

func (f *fakeStore) SetCacheEntry(_ context.Context, entry *model.CacheEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cacheSetCalls++
	f.cache[entry.CNPJ] = entry
	return nil
}

func (f *fakeStore) DeleteCacheEntry(_ context.Context, cnpj string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.cache, cnpj)
	return nil
}

func (f *fakeStore) CacheStats(_ context.Context) (*model.CacheStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &model.CacheStats{Count: len(f.cache)}, nil
}

// fakeAI returns a canned response per call and counts invocations.
type fakeAI struct {
	mu        sync.Mutex
	responses []string
	calls     int
	err       error
}

func (f *fakeAI) CreateMessage(_ context.Context, _ anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	text := f.responses[len(f.responses)-1]
	if f.calls < len(f.responses) {
		text = f.responses[f.calls]
	}
	f.calls++
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
	}, nil
}

// fakeRegistry serves companies by normalized CNPJ and counts lookups.
type fakeRegistry struct {
	mu        sync.Mutex
	companies map[string]*receita.Company
	lookups   int
	err       error
}

func (f *fakeRegistry) Lookup(_ context.Context, cnpj string) (*receita.Company, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.err != nil {
		return nil, f.err
	}
	company, ok := f.companies[cnpj]
	if !ok {
		return nil, receita.ErrNotFound
	}
	return company, nil
}

// fakeSearch returns canned results for any query.
type fakeSearch struct {
	results []serper.SearchResult
	queries []string
	err     error
}

func (f *fakeSearch) Search(_ context.Context, query string, limit int) ([]serper.SearchResult, error) {
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.results) {
		return f.results[:limit], nil
	}
	return f.results, nil
}
