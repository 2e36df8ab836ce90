package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Provider is one external rate source. Order in the chain encodes priority.
type Provider interface {
	Name() string
	BuildRequest(ctx context.Context, from, to string) (*http.Request, error)
	ParseRate(body []byte, to string) (float64, error)
}

// Default public endpoints.
const (
	DefaultExchangeRateAPIURL = "https://api.exchangerate-api.com"
	DefaultFrankfurterURL     = "https://api.frankfurter.app"
	DefaultFloatRatesURL      = "https://www.floatrates.com"
)

// ProviderURLs overrides provider base URLs. Empty values keep the defaults.
type ProviderURLs struct {
	ExchangeRateAPI string
	Frankfurter     string
	FloatRates      string
}

// DefaultProviders returns the three providers in priority order.
func DefaultProviders(urls ProviderURLs) []Provider {
	return []Provider{
		NewExchangeRateAPI(urls.ExchangeRateAPI),
		NewFrankfurter(urls.Frankfurter),
		NewFloatRates(urls.FloatRates),
	}
}

// ExchangeRateAPI reads https://api.exchangerate-api.com/v4/latest/{FROM}.
type ExchangeRateAPI struct {
	baseURL string
}

// NewExchangeRateAPI constructs the provider; an empty baseURL uses the public endpoint.
func NewExchangeRateAPI(baseURL string) *ExchangeRateAPI {
	return &ExchangeRateAPI{baseURL: baseOrDefault(baseURL, DefaultExchangeRateAPIURL)}
}

func (p *ExchangeRateAPI) Name() string { return "exchangerate-api" }

func (p *ExchangeRateAPI) BuildRequest(ctx context.Context, from, _ string) (*http.Request, error) {
	endpoint := fmt.Sprintf("%s/v4/latest/%s", p.baseURL, url.PathEscape(strings.ToUpper(from)))
	return newGet(ctx, endpoint)
}

func (p *ExchangeRateAPI) ParseRate(body []byte, to string) (float64, error) {
	return ratesTableLookup(body, to)
}

// Frankfurter reads ECB reference rates from https://api.frankfurter.app.
type Frankfurter struct {
	baseURL string
}

// NewFrankfurter constructs the provider; an empty baseURL uses the public endpoint.
func NewFrankfurter(baseURL string) *Frankfurter {
	return &Frankfurter{baseURL: baseOrDefault(baseURL, DefaultFrankfurterURL)}
}

func (p *Frankfurter) Name() string { return "frankfurter" }

func (p *Frankfurter) BuildRequest(ctx context.Context, from, to string) (*http.Request, error) {
	query := url.Values{}
	query.Set("from", strings.ToUpper(from))
	query.Set("symbols", strings.ToUpper(to))
	return newGet(ctx, p.baseURL+"/latest?"+query.Encode())
}

func (p *Frankfurter) ParseRate(body []byte, to string) (float64, error) {
	return ratesTableLookup(body, to)
}

// FloatRates reads the daily per-currency feed at https://www.floatrates.com/daily/{from}.json.
type FloatRates struct {
	baseURL string
}

// NewFloatRates constructs the provider; an empty baseURL uses the public endpoint.
func NewFloatRates(baseURL string) *FloatRates {
	return &FloatRates{baseURL: baseOrDefault(baseURL, DefaultFloatRatesURL)}
}

func (p *FloatRates) Name() string { return "floatrates" }

func (p *FloatRates) BuildRequest(ctx context.Context, from, _ string) (*http.Request, error) {
	endpoint := fmt.Sprintf("%s/daily/%s.json", p.baseURL, url.PathEscape(strings.ToLower(from)))
	return newGet(ctx, endpoint)
}

func (p *FloatRates) ParseRate(body []byte, to string) (float64, error) {
	var payload map[string]struct {
		Rate *float64 `json:"rate"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, fmt.Errorf("decode floatrates body: %w", err)
	}
	entry, ok := payload[strings.ToLower(to)]
	if !ok || entry.Rate == nil {
		return 0, fmt.Errorf("%w: %s", ErrRateMissing, to)
	}
	return *entry.Rate, nil
}

// ratesTableLookup handles the {"rates": {"ILS": 3.7}} shape shared by two providers.
func ratesTableLookup(body []byte, to string) (float64, error) {
	var payload struct {
		Rates map[string]float64 `json:"rates"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, fmt.Errorf("decode rates body: %w", err)
	}
	rate, ok := payload.Rates[strings.ToUpper(to)]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrRateMissing, to)
	}
	return rate, nil
}

func newGet(ctx context.Context, endpoint string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func baseOrDefault(baseURL, fallback string) string {
	if strings.TrimSpace(baseURL) == "" {
		return fallback
	}
	return strings.TrimRight(baseURL, "/")
}
