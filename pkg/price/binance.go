package price

import (
	"context"

	"github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// BinanceSource serves spot prices from the public Binance ticker. No API
// credentials are needed for price reads.
type BinanceSource struct {
	client *binance.Client
}

func NewBinanceSource() *BinanceSource {
	return &BinanceSource{client: binance.NewClient("", "")}
}

func (s *BinanceSource) Spot(ctx context.Context, pair string) (decimal.Decimal, error) {
	prices, err := s.client.NewListPricesService().Symbol(pair).Do(ctx)
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(err, "binance price lookup for %s failed", pair)
	}
	if len(prices) == 0 {
		return decimal.Decimal{}, errors.Errorf("binance returned no prices for %s", pair)
	}
	rate, err := decimal.NewFromString(prices[0].Price)
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(err, "unparseable binance price %q for %s", prices[0].Price, pair)
	}
	return rate, nil
}
