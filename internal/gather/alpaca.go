package gather

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"tradesim/internal/domain"
)

var _ Source = (*AlpacaSource)(nil)

// alpacaClient is the subset of *marketdata.Client used by AlpacaSource.
type alpacaClient interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
	GetCryptoBars(symbol string, req marketdata.GetCryptoBarsRequest) ([]marketdata.CryptoBar, error)
}

// AlpacaConfig configures AlpacaSource.
type AlpacaConfig struct {
	APIKey    string
	APISecret string
	DataURL   string
	// Feed is the equity feed, "sip" or "iex". Empty means "sip".
	Feed string
	// Adjustment is "raw", "split", "dividend" or "all". Empty means "all".
	Adjustment string
}

// AlpacaSource fetches bars from the Alpaca market-data API. Symbols
// containing a slash are fetched as crypto pairs.
type AlpacaSource struct {
	client     alpacaClient
	feed       string
	adjustment string
}

// NewAlpacaSource creates an AlpacaSource.
func NewAlpacaSource(cfg AlpacaConfig) *AlpacaSource {
	opts := marketdata.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
	}
	if cfg.DataURL != "" {
		opts.BaseURL = cfg.DataURL
	}
	return newAlpacaSource(marketdata.NewClient(opts), cfg)
}

func newAlpacaSource(client alpacaClient, cfg AlpacaConfig) *AlpacaSource {
	s := &AlpacaSource{client: client, feed: cfg.Feed, adjustment: cfg.Adjustment}
	if s.feed == "" {
		s.feed = "sip"
	}
	if s.adjustment == "" {
		s.adjustment = "all"
	}
	return s
}

// Name returns the provider identifier.
func (s *AlpacaSource) Name() string { return "alpaca" }

// Bars fetches bars for symbol. The client paginates internally.
func (s *AlpacaSource) Bars(ctx context.Context, symbol string, tf Timeframe, r DateRange) ([]domain.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	atf, err := alpacaTimeFrame(tf)
	if err != nil {
		return nil, err
	}
	symbol = strings.ToUpper(symbol)

	var bars []domain.Bar
	if IsCrypto(symbol) {
		cbs, err := s.client.GetCryptoBars(symbol, marketdata.GetCryptoBarsRequest{
			TimeFrame: atf,
			Start:     r.Start,
			End:       r.End,
		})
		if err != nil {
			return nil, fmt.Errorf("alpaca GetCryptoBars %s: %w", symbol, err)
		}
		for _, cb := range cbs {
			bars = append(bars, domain.Bar{
				Symbol:     symbol,
				Timestamp:  cb.Timestamp.UTC(),
				Open:       cb.Open,
				High:       cb.High,
				Low:        cb.Low,
				Close:      cb.Close,
				Volume:     float64(cb.Volume),
				TradeCount: int64(cb.TradeCount),
				VWAP:       cb.VWAP,
			})
		}
	} else {
		abs, err := s.client.GetBars(symbol, marketdata.GetBarsRequest{
			TimeFrame:  atf,
			Adjustment: marketdata.Adjustment(s.adjustment),
			Start:      r.Start,
			End:        r.End,
			Feed:       s.feed,
		})
		if err != nil {
			return nil, fmt.Errorf("alpaca GetBars %s: %w", symbol, err)
		}
		for _, ab := range abs {
			bars = append(bars, domain.Bar{
				Symbol:     symbol,
				Timestamp:  ab.Timestamp.UTC(),
				Open:       ab.Open,
				High:       ab.High,
				Low:        ab.Low,
				Close:      ab.Close,
				Volume:     float64(ab.Volume),
				TradeCount: int64(ab.TradeCount),
				VWAP:       ab.VWAP,
			})
		}
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	return bars, nil
}

func alpacaTimeFrame(tf Timeframe) (marketdata.TimeFrame, error) {
	if tf.N <= 0 {
		return marketdata.TimeFrame{}, fmt.Errorf("invalid timeframe %s", tf)
	}
	switch tf.Unit {
	case Minute:
		return marketdata.NewTimeFrame(tf.N, marketdata.Min), nil
	case Hour:
		return marketdata.NewTimeFrame(tf.N, marketdata.Hour), nil
	case Day:
		return marketdata.NewTimeFrame(tf.N, marketdata.Day), nil
	}
	return marketdata.TimeFrame{}, fmt.Errorf("unsupported timeframe %s", tf)
}
