package sources

import (
	"context"
	"fmt"
	"sort"

	"FinPulse/internal/domain/models"
	"FinPulse/internal/domain/repository"
)

// Router picks the adapter for an instrument by its type. It is itself a
// SourceAdapter, so the aggregator never knows how many providers exist.
type Router struct {
	byType map[models.InstrumentType]repository.SourceAdapter
}

var (
	_ repository.SourceAdapter  = (*Router)(nil)
	_ repository.Backfiller     = (*Router)(nil)
	_ repository.HistoryFetcher = (*Router)(nil)
)

func NewRouter() *Router {
	return &Router{byType: make(map[models.InstrumentType]repository.SourceAdapter)}
}

// Route assigns adapter to the given instrument types, replacing any
// earlier assignment.
func (r *Router) Route(adapter repository.SourceAdapter, types ...models.InstrumentType) *Router {
	for _, t := range types {
		r.byType[t] = adapter
	}
	return r
}

func (r *Router) Name() string { return "router" }

func (r *Router) adapterFor(in models.Instrument) (repository.SourceAdapter, error) {
	a, ok := r.byType[in.Type]
	if !ok {
		return nil, models.NotFound(r.Name(), in.Symbol, fmt.Errorf("no source for instrument type %q", in.Type))
	}
	return a, nil
}

func (r *Router) Fetch(ctx context.Context, in models.Instrument) (*models.Bar, error) {
	a, err := r.adapterFor(in)
	if err != nil {
		return nil, err
	}
	return a.Fetch(ctx, in)
}

// FetchWithHistory returns nil history when the routed adapter cannot
// deliver it with the quote.
func (r *Router) FetchWithHistory(ctx context.Context, in models.Instrument, limit int) (*models.Bar, []models.Bar, error) {
	a, err := r.adapterFor(in)
	if err != nil {
		return nil, nil, err
	}
	if hf, ok := a.(repository.HistoryFetcher); ok {
		return hf.FetchWithHistory(ctx, in, limit)
	}
	bar, err := a.Fetch(ctx, in)
	return bar, nil, err
}

// Backfill returns nil, nil when the routed adapter cannot backfill.
func (r *Router) Backfill(ctx context.Context, in models.Instrument, limit int) ([]models.Bar, error) {
	a, err := r.adapterFor(in)
	if err != nil {
		return nil, err
	}
	bf, ok := a.(repository.Backfiller)
	if !ok {
		return nil, nil
	}
	return bf.Backfill(ctx, in, limit)
}

// SourceFor names the adapter serving in, for logs and metrics.
func (r *Router) SourceFor(in models.Instrument) string {
	if a, ok := r.byType[in.Type]; ok {
		return a.Name()
	}
	return "none"
}

// Sources lists "type=adapter" pairs in a stable order.
func (r *Router) Sources() []string {
	out := make([]string, 0, len(r.byType))
	for t, a := range r.byType {
		out = append(out, string(t)+"="+a.Name())
	}
	sort.Strings(out)
	return out
}
