package sources

import (
	"context"
	"encoding/json"
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

const coinGeckoName = "coingecko"

type CoinGeckoConfig struct {
	BaseURL string
	APIKey  string // demo key, sent as x-cg-demo-api-key
}

// CoinGecko serves crypto instruments. ProviderID is the coin id.
type CoinGecko struct {
	cfg  CoinGeckoConfig
	http *xhttp.Client
	gate *ratelimit.Gate
}

var (
	_ repository.SourceAdapter = (*CoinGecko)(nil)
	_ repository.Backfiller    = (*CoinGecko)(nil)
)

func NewCoinGecko(cfg CoinGeckoConfig, client *xhttp.Client, gate *ratelimit.Gate) *CoinGecko {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &CoinGecko{cfg: cfg, http: client, gate: gate}
}

func (c *CoinGecko) Name() string { return coinGeckoName }

func (c *CoinGecko) get(ctx context.Context, symbol, path string, query map[string][]string, dest interface{}) error {
	if err := c.gate.Wait(ctx); err != nil {
		return models.Unavailable(coinGeckoName, symbol, err)
	}
	opts := &xhttp.RequestOptions{URL: c.cfg.BaseURL + path, QueryParams: query}
	if c.cfg.APIKey != "" {
		opts.Headers = map[string]string{"x-cg-demo-api-key": c.cfg.APIKey}
	}
	return Classify(coinGeckoName, symbol, c.http.SendAndParse(ctx, opts, dest))
}

type coinPrice struct {
	USD         *float64 `json:"usd"`
	Change24h   *float64 `json:"usd_24h_change"`
	Volume24h   *float64 `json:"usd_24h_vol"`
	LastUpdated int64    `json:"last_updated_at"`
}

// Fetch reads /simple/price. An id CoinGecko does not know comes back as
// an empty object, which is NotFound.
func (c *CoinGecko) Fetch(ctx context.Context, in models.Instrument) (*models.Bar, error) {
	var out map[string]coinPrice
	err := c.get(ctx, in.Symbol, "/simple/price", map[string][]string{
		"ids":                     {in.ProviderID},
		"vs_currencies":           {"usd"},
		"include_24hr_change":     {"true"},
		"include_24hr_vol":        {"true"},
		"include_last_updated_at": {"true"},
	}, &out)
	if err != nil {
		return nil, err
	}

	p, ok := out[in.ProviderID]
	if !ok {
		return nil, models.NotFound(coinGeckoName, in.Symbol, fmt.Errorf("unknown coin id %q", in.ProviderID))
	}
	if p.USD == nil || *p.USD <= 0 {
		return nil, models.Unavailable(coinGeckoName, in.Symbol, errors.New("missing usd price"))
	}

	ts := time.Now().UTC()
	if p.LastUpdated > 0 {
		ts = time.Unix(p.LastUpdated, 0).UTC()
	}
	return &models.Bar{
		Symbol:    in.Symbol,
		Type:      in.Type,
		Price:     *p.USD,
		Volume:    p.Volume24h,
		ChangePct: p.Change24h,
		Source:    coinGeckoName,
		Timestamp: ts,
	}, nil
}

type marketChart struct {
	Prices       [][2]json.Number `json:"prices"`
	TotalVolumes [][2]json.Number `json:"total_volumes"`
}

// Backfill reads one day of /market_chart points, oldest first.
func (c *CoinGecko) Backfill(ctx context.Context, in models.Instrument, limit int) ([]models.Bar, error) {
	var out marketChart
	err := c.get(ctx, in.Symbol, "/coins/"+url.PathEscape(in.ProviderID)+"/market_chart", map[string][]string{
		"vs_currency": {"usd"},
		"days":        {"1"},
	}, &out)
	if err != nil {
		return nil, err
	}

	volumes := make(map[int64]float64, len(out.TotalVolumes))
	for _, v := range out.TotalVolumes {
		ms, err1 := v[0].Int64()
		vol, err2 := v[1].Float64()
		if err1 == nil && err2 == nil {
			volumes[ms] = vol
		}
	}

	bars := make([]models.Bar, 0, len(out.Prices))
	for _, p := range out.Prices {
		ms, err1 := p[0].Int64()
		price, err2 := p[1].Float64()
		if err1 != nil || err2 != nil || price <= 0 {
			continue
		}
		bar := models.Bar{
			Symbol:    in.Symbol,
			Type:      in.Type,
			Price:     price,
			Source:    coinGeckoName,
			Timestamp: time.UnixMilli(ms).UTC(),
		}
		if v, ok := volumes[ms]; ok {
			bar.Volume = models.Float(v)
		}
		bars = append(bars, bar)
	}
	if limit > 0 && len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return bars, nil
}
