package finnhub

import (
	"context"
	"errors"
	"strings"
	"time"

	"FinPulse/internal/domain/models"
	"FinPulse/internal/domain/repository"
	"FinPulse/internal/service/ratelimit"
	"FinPulse/internal/service/sources"
	xhttp "FinPulse/pkg/http"
)

const name = "finnhub"

// Client is an equity SourceAdapter backed by Finnhub's REST /quote.
type Client struct {
	baseURL string
	apiKey  string
	http    *xhttp.Client
	gate    *ratelimit.Gate
}

var _ repository.SourceAdapter = (*Client)(nil)

func New(baseURL, apiKey string, client *xhttp.Client, gate *ratelimit.Gate) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    client,
		gate:    gate,
	}
}

func (c *Client) Name() string { return name }

type quote struct {
	Current       float64  `json:"c"`
	Change        *float64 `json:"d"`
	ChangePct     *float64 `json:"dp"`
	High          float64  `json:"h"`
	Low           float64  `json:"l"`
	Open          float64  `json:"o"`
	PreviousClose float64  `json:"pc"`
	Time          int64    `json:"t"`
}

// Fetch returns the current quote. Finnhub answers unknown symbols with a
// 200 and an all-zero body, which is treated as NotFound.
func (c *Client) Fetch(ctx context.Context, in models.Instrument) (*models.Bar, error) {
	if err := c.gate.Wait(ctx); err != nil {
		return nil, models.Unavailable(name, in.Symbol, err)
	}

	var q quote
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		URL:         c.baseURL + "/quote",
		QueryParams: map[string][]string{"symbol": {in.Symbol}},
		Headers:     map[string]string{"X-Finnhub-Token": c.apiKey},
	}, &q)
	if err != nil {
		return nil, sources.Classify(name, in.Symbol, err)
	}
	if q.Current <= 0 {
		if q.Time == 0 {
			return nil, models.NotFound(name, in.Symbol, errors.New("empty quote"))
		}
		return nil, models.Unavailable(name, in.Symbol, errors.New("quote without price"))
	}

	bar := &models.Bar{
		Symbol:    in.Symbol,
		Type:      in.Type,
		Price:     q.Current,
		ChangePct: q.ChangePct,
		Source:    name,
		Timestamp: time.Unix(q.Time, 0).UTC(),
	}
	if q.Open > 0 && q.High > 0 && q.Low > 0 {
		bar.OHLC = &models.OHLC{Open: q.Open, High: q.High, Low: q.Low, Close: q.Current}
	}
	return bar, nil
}
