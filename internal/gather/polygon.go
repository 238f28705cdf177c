package gather

import (
	"context"
	"fmt"
	"strings"
	"time"

	polygon "github.com/polygon-io/client-go/rest"
	"github.com/polygon-io/client-go/rest/models"

	"tradesim/internal/domain"
)

var _ Source = (*PolygonSource)(nil)

// aggsFunc fetches aggregates for one request.
type aggsFunc func(ctx context.Context, params *models.ListAggsParams) ([]models.Agg, error)

// PolygonSource fetches split-adjusted aggregates from the Polygon REST API.
// Crypto pairs such as BTC/USD are requested as X:BTCUSD.
type PolygonSource struct {
	fetch aggsFunc
	now   func() time.Time
}

// NewPolygonSource creates a PolygonSource authenticated with apiKey.
func NewPolygonSource(apiKey string) *PolygonSource {
	client := polygon.New(apiKey)
	return newPolygonSource(func(ctx context.Context, params *models.ListAggsParams) ([]models.Agg, error) {
		it := client.ListAggs(ctx, params)
		var aggs []models.Agg
		for it.Next() {
			aggs = append(aggs, it.Item())
		}
		if err := it.Err(); err != nil {
			return nil, err
		}
		return aggs, nil
	})
}

func newPolygonSource(fetch aggsFunc) *PolygonSource {
	return &PolygonSource{fetch: fetch, now: time.Now}
}

// Name returns the provider identifier.
func (s *PolygonSource) Name() string { return "polygon" }

// Bars fetches bars for symbol. An open-ended range runs to now.
func (s *PolygonSource) Bars(ctx context.Context, symbol string, tf Timeframe, r DateRange) ([]domain.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	span, err := polygonTimespan(tf)
	if err != nil {
		return nil, err
	}
	end := r.End
	if end.IsZero() {
		end = s.now()
	}

	symbol = strings.ToUpper(symbol)
	params := models.ListAggsParams{
		Ticker:     polygonTicker(symbol),
		Multiplier: tf.N,
		Timespan:   span,
		From:       models.Millis(r.Start),
		To:         models.Millis(end),
	}.WithOrder(models.Asc).WithAdjusted(true)

	aggs, err := s.fetch(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("polygon ListAggs %s: %w", symbol, err)
	}

	bars := make([]domain.Bar, 0, len(aggs))
	for _, a := range aggs {
		bars = append(bars, domain.Bar{
			Symbol:     symbol,
			Timestamp:  time.Time(a.Timestamp).UTC(),
			Open:       a.Open,
			High:       a.High,
			Low:        a.Low,
			Close:      a.Close,
			Volume:     a.Volume,
			TradeCount: a.Transactions,
			VWAP:       a.VWAP,
		})
	}
	return bars, nil
}

func polygonTicker(symbol string) string {
	if IsCrypto(symbol) {
		return "X:" + strings.ReplaceAll(symbol, "/", "")
	}
	return symbol
}

func polygonTimespan(tf Timeframe) (models.Timespan, error) {
	if tf.N <= 0 {
		return "", fmt.Errorf("invalid timeframe %s", tf)
	}
	switch tf.Unit {
	case Minute:
		return models.Minute, nil
	case Hour:
		return models.Hour, nil
	case Day:
		return models.Day, nil
	}
	return "", fmt.Errorf("unsupported timeframe %s", tf)
}
