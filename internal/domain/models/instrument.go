package models

import (
	"sort"
	"strings"
)

// Instrument describes a tradable symbol and how its provider names it.
type Instrument struct {
	Symbol     string         `json:"symbol"`
	Name       string         `json:"name"`
	Type       InstrumentType `json:"type"`
	ProviderID string         `json:"provider_id"`
}

// DefaultInstruments is the built-in catalog.
var DefaultInstruments = []Instrument{
	{Symbol: "AAPL", Name: "Apple Inc.", Type: Equity, ProviderID: "AAPL"},
	{Symbol: "GOOGL", Name: "Alphabet Inc.", Type: Equity, ProviderID: "GOOGL"},
	{Symbol: "MSFT", Name: "Microsoft Corp.", Type: Equity, ProviderID: "MSFT"},
	{Symbol: "TSLA", Name: "Tesla Inc.", Type: Equity, ProviderID: "TSLA"},
	{Symbol: "AMZN", Name: "Amazon.com Inc.", Type: Equity, ProviderID: "AMZN"},
	{Symbol: "META", Name: "Meta Platforms Inc.", Type: Equity, ProviderID: "META"},
	{Symbol: "NVDA", Name: "NVIDIA Corp.", Type: Equity, ProviderID: "NVDA"},
	{Symbol: "NFLX", Name: "Netflix Inc.", Type: Equity, ProviderID: "NFLX"},
	{Symbol: "GC=F", Name: "Gold Futures", Type: Commodity, ProviderID: "GC=F"},
	{Symbol: "CL=F", Name: "Crude Oil Futures", Type: Commodity, ProviderID: "CL=F"},
	{Symbol: "EURUSD", Name: "Euro/US Dollar", Type: Forex, ProviderID: "EURUSD=X"},
	{Symbol: "BITCOIN", Name: "Bitcoin", Type: Crypto, ProviderID: "bitcoin"},
	{Symbol: "ETHEREUM", Name: "Ethereum", Type: Crypto, ProviderID: "ethereum"},
	{Symbol: "SOLANA", Name: "Solana", Type: Crypto, ProviderID: "solana"},
}

var cryptoAliases = map[string]string{
	"BTC": "BITCOIN",
	"ETH": "ETHEREUM",
	"SOL": "SOLANA",
}

var currencies = map[string]struct{}{
	"USD": {}, "EUR": {}, "GBP": {}, "JPY": {}, "CHF": {}, "AUD": {}, "CAD": {}, "NZD": {}, "CNY": {},
}

// NormalizeSymbol trims and uppercases a client supplied symbol.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Catalog resolves symbols to instruments. It is read-only after construction.
type Catalog struct {
	bySymbol map[string]Instrument
}

// NewCatalog builds a catalog from instruments; later entries win.
func NewCatalog(instruments []Instrument) *Catalog {
	c := &Catalog{bySymbol: make(map[string]Instrument, len(instruments))}
	for _, in := range instruments {
		in.Symbol = NormalizeSymbol(in.Symbol)
		if in.ProviderID == "" {
			in.ProviderID = in.Symbol
		}
		c.bySymbol[in.Symbol] = in
	}
	return c
}

// Lookup returns a known instrument.
func (c *Catalog) Lookup(symbol string) (Instrument, bool) {
	sym := NormalizeSymbol(symbol)
	if alias, ok := cryptoAliases[sym]; ok {
		sym = alias
	}
	in, ok := c.bySymbol[sym]
	return in, ok
}

// Resolve returns the catalog entry or a best guess for unknown symbols.
func (c *Catalog) Resolve(symbol string) Instrument {
	if in, ok := c.Lookup(symbol); ok {
		return in
	}
	sym := NormalizeSymbol(symbol)
	switch {
	case strings.HasSuffix(sym, "=F"):
		return Instrument{Symbol: sym, Name: sym, Type: Commodity, ProviderID: sym}
	case strings.HasSuffix(sym, "=X"):
		return Instrument{Symbol: strings.TrimSuffix(sym, "=X"), Name: sym, Type: Forex, ProviderID: sym}
	case isCurrencyPair(sym):
		return Instrument{Symbol: sym, Name: sym, Type: Forex, ProviderID: sym + "=X"}
	default:
		return Instrument{Symbol: sym, Name: sym, Type: Equity, ProviderID: sym}
	}
}

// Canonical maps aliases (BTC, EURUSD=X) to the symbol used as cache key.
func (c *Catalog) Canonical(symbol string) string {
	return c.Resolve(symbol).Symbol
}

// All returns the catalog sorted by symbol.
func (c *Catalog) All() []Instrument {
	out := make([]Instrument, 0, len(c.bySymbol))
	for _, in := range c.bySymbol {
		out = append(out, in)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func isCurrencyPair(s string) bool {
	if len(s) != 6 {
		return false
	}
	_, a := currencies[s[:3]]
	_, b := currencies[s[3:]]
	return a && b
}
