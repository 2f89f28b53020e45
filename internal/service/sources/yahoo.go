package sources

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"FinPulse/internal/domain/models"
	"FinPulse/internal/domain/repository"
	"FinPulse/internal/service/ratelimit"
	xhttp "FinPulse/pkg/http"
)

const yahooName = "yahoo"

// YahooConfig configures the Yahoo Finance chart adapter.
type YahooConfig struct {
	BaseURL  string
	Range    string // chart range, e.g. 1d
	Interval string // bar interval, e.g. 5m
}

// Yahoo serves equities, commodities and forex from the chart endpoint.
type Yahoo struct {
	cfg  YahooConfig
	http *xhttp.Client
	gate *ratelimit.Gate
}

var (
	_ repository.SourceAdapter  = (*Yahoo)(nil)
	_ repository.Backfiller     = (*Yahoo)(nil)
	_ repository.HistoryFetcher = (*Yahoo)(nil)
)

func NewYahoo(cfg YahooConfig, client *xhttp.Client, gate *ratelimit.Gate) *Yahoo {
	if cfg.Range == "" {
		cfg.Range = "1d"
	}
	if cfg.Interval == "" {
		cfg.Interval = "5m"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Yahoo{cfg: cfg, http: client, gate: gate}
}

func (y *Yahoo) Name() string { return yahooName }

type yahooQuote struct {
	Open   []*float64 `json:"open"`
	High   []*float64 `json:"high"`
	Low    []*float64 `json:"low"`
	Close  []*float64 `json:"close"`
	Volume []*float64 `json:"volume"`
}

type yahooChart struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol             string  `json:"symbol"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				RegularMarketTime  int64   `json:"regularMarketTime"`
				PreviousClose      float64 `json:"chartPreviousClose"`
				RegularMarketVol   float64 `json:"regularMarketVolume"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []yahooQuote `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (y *Yahoo) chart(ctx context.Context, in models.Instrument) (*yahooChart, error) {
	if err := y.gate.Wait(ctx); err != nil {
		return nil, models.Unavailable(yahooName, in.Symbol, err)
	}

	var out yahooChart
	err := y.http.SendAndParse(ctx, &xhttp.RequestOptions{
		URL: fmt.Sprintf("%s/v8/finance/chart/%s", y.cfg.BaseURL, url.PathEscape(in.ProviderID)),
		QueryParams: map[string][]string{
			"range":    {y.cfg.Range},
			"interval": {y.cfg.Interval},
		},
	}, &out)
	if err != nil {
		return nil, Classify(yahooName, in.Symbol, err)
	}
	if e := out.Chart.Error; e != nil {
		if strings.EqualFold(e.Code, "Not Found") {
			return nil, models.NotFound(yahooName, in.Symbol, errors.New(e.Description))
		}
		return nil, models.Unavailable(yahooName, in.Symbol, fmt.Errorf("%s: %s", e.Code, e.Description))
	}
	if len(out.Chart.Result) == 0 {
		return nil, models.NotFound(yahooName, in.Symbol, errors.New("empty chart result"))
	}
	return &out, nil
}

// Fetch returns the latest bar: the regular market price stamped with the
// regular market time, and OHLC from the last complete interval.
func (y *Yahoo) Fetch(ctx context.Context, in models.Instrument) (*models.Bar, error) {
	bar, _, err := y.FetchWithHistory(ctx, in, 0)
	return bar, err
}

// FetchWithHistory returns the latest bar and up to limit chart bars,
// oldest first, from a single chart request.
func (y *Yahoo) FetchWithHistory(ctx context.Context, in models.Instrument, limit int) (*models.Bar, []models.Bar, error) {
	out, err := y.chart(ctx, in)
	if err != nil {
		return nil, nil, err
	}
	res := out.Chart.Result[0]
	bars := yahooBars(in, res.Timestamp, res.Indicators.Quote)
	bar, err := yahooLatest(in, res.Meta.RegularMarketPrice, res.Meta.RegularMarketTime,
		res.Meta.PreviousClose, res.Meta.RegularMarketVol, bars)
	if err != nil {
		return nil, nil, err
	}
	if limit > 0 && len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return bar, bars, nil
}

func yahooLatest(in models.Instrument, price float64, unix int64, prevClose, volume float64, bars []models.Bar) (*models.Bar, error) {
	if price <= 0 {
		if len(bars) == 0 {
			return nil, models.Unavailable(yahooName, in.Symbol, errors.New("no price in response"))
		}
		last := bars[len(bars)-1]
		return &last, nil
	}

	bar := &models.Bar{
		Symbol:    in.Symbol,
		Type:      in.Type,
		Price:     price,
		Source:    yahooName,
		Timestamp: time.Unix(unix, 0).UTC(),
	}
	if len(bars) > 0 {
		bar.OHLC = bars[len(bars)-1].OHLC
		bar.Volume = bars[len(bars)-1].Volume
	}
	if volume > 0 {
		bar.Volume = models.Float(volume)
	}
	if prevClose > 0 {
		bar.ChangePct = models.Float((price - prevClose) / prevClose * 100)
	}
	return bar, nil
}

// Backfill returns up to limit of the most recent chart bars, oldest first.
func (y *Yahoo) Backfill(ctx context.Context, in models.Instrument, limit int) ([]models.Bar, error) {
	out, err := y.chart(ctx, in)
	if err != nil {
		return nil, err
	}
	res := out.Chart.Result[0]
	bars := yahooBars(in, res.Timestamp, res.Indicators.Quote)
	if limit > 0 && len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return bars, nil
}

// yahooBars zips the parallel timestamp/quote arrays, skipping intervals
// where Yahoo reports a null close.
func yahooBars(in models.Instrument, ts []int64, quotes []yahooQuote) []models.Bar {
	if len(quotes) == 0 {
		return []models.Bar{}
	}
	q := quotes[0]
	at := func(s []*float64, i int) *float64 {
		if i < len(s) {
			return s[i]
		}
		return nil
	}

	bars := make([]models.Bar, 0, len(ts))
	for i, t := range ts {
		c := at(q.Close, i)
		if c == nil || *c <= 0 {
			continue
		}
		bar := models.Bar{
			Symbol:    in.Symbol,
			Type:      in.Type,
			Price:     *c,
			Source:    yahooName,
			Timestamp: time.Unix(t, 0).UTC(),
		}
		o, h, l := at(q.Open, i), at(q.High, i), at(q.Low, i)
		if o != nil && h != nil && l != nil {
			bar.OHLC = &models.OHLC{Open: *o, High: *h, Low: *l, Close: *c}
		}
		if v := at(q.Volume, i); v != nil {
			bar.Volume = models.Float(*v)
		}
		bars = append(bars, bar)
	}
	return bars
}
