package price

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// HTTPSource reads a Binance-compatible ticker endpoint
// (GET <url>?symbol=<pair> returning {"symbol": ..., "price": "..."}).
// It exists for price-endpoint overrides and tests.
type HTTPSource struct {
	endpoint string
	client   http.Client
}

func NewHTTPSource(endpoint string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{endpoint: endpoint, client: http.Client{Timeout: timeout}}
}

func (s *HTTPSource) Spot(ctx context.Context, pair string) (decimal.Decimal, error) {
	target := s.endpoint + "?symbol=" + url.QueryEscape(pair)
	req, err := http.NewRequestWithContext(ctx, "GET", target, nil)
	if err != nil {
		return decimal.Decimal{}, errors.Wrap(err, "failed to build price request")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(err, "price lookup for %s failed", pair)
	}
	//goland:noinspection GoUnhandledErrorResult
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, errors.Errorf("price endpoint returned status %d for %s", resp.StatusCode, pair)
	}

	var ticker struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ticker); err != nil {
		return decimal.Decimal{}, errors.Wrap(err, "malformed price response")
	}
	rate, err := decimal.NewFromString(ticker.Price)
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(err, "unparseable price %q for %s", ticker.Price, pair)
	}
	return rate, nil
}
