// Package marketdata retrieves daily OHLCV history from the configured
// provider.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dyluth/cerebrum/internal/config"
	"github.com/dyluth/cerebrum/pkg/protocol"
)

var (
	// ErrUnsupportedProvider is returned when the highest-priority provider
	// has no implementation.
	ErrUnsupportedProvider = errors.New("unsupported market data provider")
	// ErrNoData is returned when a provider answers with an empty history.
	ErrNoData = errors.New("no market data returned")
)

// Bar is one trading day.
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Series is the ordered history of one ticker, oldest first.
type Series struct {
	Ticker string
	Bars   []Bar
}

// Closes returns the close column.
func (s *Series) Closes() []float64 { return s.column(func(b Bar) float64 { return b.Close }) }

// Highs returns the high column.
func (s *Series) Highs() []float64 { return s.column(func(b Bar) float64 { return b.High }) }

// Lows returns the low column.
func (s *Series) Lows() []float64 { return s.column(func(b Bar) float64 { return b.Low }) }

// Volumes returns the volume column.
func (s *Series) Volumes() []float64 { return s.column(func(b Bar) float64 { return b.Volume }) }

func (s *Series) column(get func(Bar) float64) []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = get(b)
	}
	return out
}

// Provider retrieves history for a ticker.
type Provider interface {
	Name() string
	Retrieve(ctx context.Context, ticker string, filter protocol.Filter) (*Series, error)
}

// Factory builds a provider from its config entry.
type Factory func(entry config.MarketDataProvider, cfg config.MarketDataConfig) Provider

var factories = map[string]Factory{
	"yahoofinance": func(_ config.MarketDataProvider, cfg config.MarketDataConfig) Provider {
		return NewYahoo(cfg.BaseURL, cfg.Timeout)
	},
}

// Select returns the implementation of the highest-priority provider.
// Lower-priority entries are not consulted when it is unsupported.
func Select(cfg config.MarketDataConfig) (Provider, error) {
	ordered := cfg.ByPriority()
	if len(ordered) == 0 {
		return nil, fmt.Errorf("%w: none configured", ErrUnsupportedProvider)
	}
	top := ordered[0]
	factory, ok := factories[strings.ToLower(top.Name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, top.Name)
	}
	return factory(top, cfg), nil
}
