package pipeline

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/segmenta/prospect-cli/internal/config"
	"github.com/segmenta/prospect-cli/internal/model"
	"github.com/segmenta/prospect-cli/pkg/anthropic"
)

// MarketStore is the slice of the store the identifier needs.
type MarketStore interface {
	CreateMarket(ctx context.Context, m *model.Market) error
	ListMarkets(ctx context.Context, projectID string) ([]model.Market, error)
}

const marketSystemPrompt = `You classify products sold in the Brazilian market.
Given a product or service description, answer with a single JSON object and
nothing else, in the shape:
{"market": "<short market segment name in Portuguese>", "category": "<broader category>", "segmentation": "B2B" | "B2C" | "B2B2C"}
Use established segment names (e.g. "Embalagens Plásticas", "Software de Gestão").`

// marketClassification is the JSON shape the model is asked to produce.
type marketClassification struct {
	Market       string `json:"market"`
	Category     string `json:"category"`
	Segmentation string `json:"segmentation"`
}

// MarketIdentifier resolves a client's product description to a market,
// creating the market when no existing one matches. Classifications are
// memoized per identifier instance so a run never classifies the same
// product twice.
type MarketIdentifier struct {
	ai        anthropic.Client
	cfg       config.AnthropicConfig
	store     MarketStore
	projectID string
	logger    *zap.Logger

	mu    sync.Mutex
	memo  map[string]string // normalized product -> market ID
	locks map[string]*sync.Mutex
}

// NewMarketIdentifier creates an identifier scoped to one project.
func NewMarketIdentifier(ai anthropic.Client, cfg config.AnthropicConfig, store MarketStore, projectID string) *MarketIdentifier {
	return &MarketIdentifier{
		ai:        ai,
		cfg:       cfg,
		store:     store,
		projectID: projectID,
		logger:    zap.L().With(zap.String("component", "market_identifier"), zap.String("project_id", projectID)),
		memo:      make(map[string]string),
		locks:     make(map[string]*sync.Mutex),
	}
}

// keyLock returns the serialization lock for one normalized product, so
// concurrent lookups of the same product classify and create only once.
func (mi *MarketIdentifier) keyLock(key string) *sync.Mutex {
	mi.mu.Lock()
	defer mi.mu.Unlock()
	l, ok := mi.locks[key]
	if !ok {
		l = &sync.Mutex{}
		mi.locks[key] = l
	}
	return l
}

// Identify returns the market ID for a product description, classifying
// it with the model and matching or creating a market as needed. An empty
// product yields an empty ID with no error.
func (mi *MarketIdentifier) Identify(ctx context.Context, product string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(product))
	if key == "" {
		return "", nil
	}

	lock := mi.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	mi.mu.Lock()
	if id, ok := mi.memo[key]; ok {
		mi.mu.Unlock()
		return id, nil
	}
	mi.mu.Unlock()

	classification, err := mi.classify(ctx, product)
	if err != nil {
		return "", err
	}

	markets, err := mi.store.ListMarkets(ctx, mi.projectID)
	if err != nil {
		return "", eris.Wrap(err, "pipeline: list markets")
	}

	market := MatchMarket(classification.Market, markets)
	if market == nil {
		market = &model.Market{
			ID:           uuid.NewString(),
			ProjectID:    mi.projectID,
			Name:         classification.Market,
			Category:     classification.Category,
			Segmentation: model.Segmentation(classification.Segmentation),
		}
		if err := mi.store.CreateMarket(ctx, market); err != nil {
			// Two distinct products can classify to the same market
			// name: another caller may have created it between our
			// listing and the insert. Re-list before giving up.
			markets, listErr := mi.store.ListMarkets(ctx, mi.projectID)
			if listErr != nil {
				return "", eris.Wrap(err, "pipeline: create market")
			}
			market = MatchMarket(classification.Market, markets)
			if market == nil {
				return "", eris.Wrap(err, "pipeline: create market")
			}
		} else {
			mi.logger.Info("market created",
				zap.String("market", market.Name),
				zap.String("segmentation", string(market.Segmentation)))
		}
	}

	mi.mu.Lock()
	mi.memo[key] = market.ID
	mi.mu.Unlock()
	return market.ID, nil
}

// IdentifyAll maps each distinct product description to a market ID.
// A product whose classification fails is skipped with a warning; it
// simply has no entry in the result.
func (mi *MarketIdentifier) IdentifyAll(ctx context.Context, products []string) map[string]string {
	out := make(map[string]string)
	for _, product := range products {
		key := strings.ToLower(strings.TrimSpace(product))
		if key == "" {
			continue
		}
		if _, done := out[key]; done {
			continue
		}
		id, err := mi.Identify(ctx, product)
		if err != nil {
			mi.logger.Warn("product classification skipped",
				zap.String("product", product), zap.Error(err))
			continue
		}
		out[key] = id
	}
	return out
}

func (mi *MarketIdentifier) classify(ctx context.Context, product string) (*marketClassification, error) {
	resp, err := mi.ai.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     mi.cfg.Model,
		MaxTokens: mi.cfg.MaxTokens,
		System:    marketSystemPrompt,
		Messages: []anthropic.Message{
			{Role: "user", Content: "Product: " + strings.TrimSpace(product)},
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: classify product")
	}

	var classification marketClassification
	if err := json.Unmarshal([]byte(extractJSON(resp.Text())), &classification); err != nil {
		return nil, eris.Wrapf(err, "pipeline: parse classification for %q", product)
	}
	if classification.Market == "" {
		return nil, eris.Errorf("pipeline: empty market classification for %q", product)
	}
	return &classification, nil
}

// MatchMarket finds the first known market whose name matches the
// classification by case-insensitive substring containment, in either
// direction. Returns nil when nothing matches.
func MatchMarket(classification string, markets []model.Market) *model.Market {
	needle := strings.ToLower(strings.TrimSpace(classification))
	if needle == "" {
		return nil
	}
	for i := range markets {
		name := strings.ToLower(markets[i].Name)
		if strings.Contains(needle, name) || strings.Contains(name, needle) {
			return &markets[i]
		}
	}
	return nil
}

// extractJSON trims any prose the model wraps around its JSON object.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return text
	}
	return text[start : end+1]
}
