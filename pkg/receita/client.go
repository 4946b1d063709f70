// Package receita looks up company registration data by CNPJ via the
// BrasilAPI public endpoint.
package receita

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/segmenta/prospect-cli/internal/resilience"
)

const defaultBaseURL = "https://brasilapi.com.br/api/cnpj/v1"

// ErrNotFound is returned when the registry has no record for the CNPJ.
var ErrNotFound = eris.New("receita: cnpj not found")

// Client performs tax-registry lookups.
type Client interface {
	Lookup(ctx context.Context, cnpj string) (*Company, error)
}

// Company is the registry record for a CNPJ.
type Company struct {
	CNPJ         string `json:"cnpj"`
	OfficialName string `json:"razao_social"`
	TradeName    string `json:"nome_fantasia"`
	Size         string `json:"porte"`
	Status       string `json:"descricao_situacao_cadastral"`
	CNAE         string `json:"-"`
	CNAECode     int    `json:"cnae_fiscal"`
	CNAEText     string `json:"cnae_fiscal_descricao"`
	Street       string `json:"logradouro"`
	City         string `json:"municipio"`
	State        string `json:"uf"`
	Email        string `json:"email"`
	Phone        string `json:"ddd_telefone_1"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit overrides the default requests-per-second limit.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

type httpClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a registry lookup client. The public endpoint needs no
// credentials but is aggressively rate limited.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
		limiter: rate.NewLimiter(3, 3),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Lookup(ctx context.Context, cnpj string) (*Company, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "receita: rate limit wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+cnpj, nil)
	if err != nil {
		return nil, eris.Wrap(err, "receita: create request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "receita: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "receita: read response")
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		apiErr := eris.Errorf("receita: unexpected status %d: %s", resp.StatusCode, string(body))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(apiErr, resp.StatusCode)
		}
		return nil, apiErr
	}

	var company Company
	if err := json.Unmarshal(body, &company); err != nil {
		return nil, eris.Wrap(err, "receita: unmarshal response")
	}
	if company.CNAEText != "" {
		company.CNAE = company.CNAEText
	}

	return &company, nil
}
