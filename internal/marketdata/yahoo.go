package marketdata

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dyluth/cerebrum/internal/logger"
	"github.com/dyluth/cerebrum/pkg/protocol"
	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
)

// DefaultYahooURL is the public chart API host.
const DefaultYahooURL = "https://query1.finance.yahoo.com"

const yahooUserAgent = "Mozilla/5.0 (compatible; cerebrum/1.0)"

// Yahoo reads daily bars from the Yahoo Finance chart API.
type Yahoo struct {
	client *resty.Client
}

// NewYahoo returns a provider against baseURL, or DefaultYahooURL when empty.
func NewYahoo(baseURL string, timeout time.Duration) *Yahoo {
	if baseURL == "" {
		baseURL = DefaultYahooURL
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("User-Agent", yahooUserAgent).
		SetHeader("Accept", "application/json")
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	return &Yahoo{client: client}
}

// Name implements Provider.
func (y *Yahoo) Name() string { return "YahooFinance" }

// Retrieve implements Provider.
func (y *Yahoo) Retrieve(ctx context.Context, ticker string, filter protocol.Filter) (*Series, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return nil, fmt.Errorf("ticker cannot be empty")
	}
	params, err := chartParams(filter)
	if err != nil {
		return nil, err
	}

	resp, err := y.client.R().
		SetContext(ctx).
		SetPathParam("ticker", ticker).
		SetQueryParams(params).
		Get("/v8/finance/chart/{ticker}")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s history: %w", ticker, err)
	}

	body := resp.Body()
	if desc := gjson.GetBytes(body, "chart.error.description"); desc.Exists() && desc.String() != "" {
		return nil, fmt.Errorf("failed to fetch %s history: %s", ticker, desc.String())
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch %s history: HTTP %d", ticker, resp.StatusCode())
	}

	series, err := parseChart(ticker, body)
	if err != nil {
		return nil, err
	}
	logger.DebugCF("marketdata", "Retrieved history", logger.Fields{
		"provider": y.Name(),
		"ticker":   ticker,
		"filter":   filter.String(),
		"bars":     len(series.Bars),
	})
	return series, nil
}

func chartParams(filter protocol.Filter) (map[string]string, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	params := map[string]string{"interval": "1d", "events": "history"}
	if filter.Option == protocol.FilterByDateRange {
		start, _ := time.Parse(protocol.DateLayout, filter.StartDate)
		end, _ := time.Parse(protocol.DateLayout, filter.EndDate)
		params["period1"] = strconv.FormatInt(start.Unix(), 10)
		params["period2"] = strconv.FormatInt(end.Unix(), 10)
		return params, nil
	}
	params["range"] = filter.Period
	return params, nil
}

func parseChart(ticker string, body []byte) (*Series, error) {
	result := gjson.GetBytes(body, "chart.result.0")
	if !result.Exists() {
		return nil, fmt.Errorf("%w for %s", ErrNoData, ticker)
	}
	stamps := result.Get("timestamp").Array()
	quote := result.Get("indicators.quote.0")
	opens := quote.Get("open").Array()
	highs := quote.Get("high").Array()
	lows := quote.Get("low").Array()
	closes := quote.Get("close").Array()
	volumes := quote.Get("volume").Array()

	series := &Series{Ticker: ticker}
	for i, ts := range stamps {
		if i >= len(closes) || closes[i].Type == gjson.Null {
			continue
		}
		c := closes[i].Float()
		series.Bars = append(series.Bars, Bar{
			Time:   time.Unix(ts.Int(), 0).UTC(),
			Open:   valueOr(opens, i, c),
			High:   valueOr(highs, i, c),
			Low:    valueOr(lows, i, c),
			Close:  c,
			Volume: valueOr(volumes, i, 0),
		})
	}
	if len(series.Bars) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoData, ticker)
	}
	return series, nil
}

func valueOr(values []gjson.Result, i int, fallback float64) float64 {
	if i >= len(values) || values[i].Type == gjson.Null {
		return fallback
	}
	return values[i].Float()
}
