package http

import (
	"time"

	xutil "FinPulse/pkg/util"
)

// ParseTimeDefault parses RFC3339 or unix seconds, returning def when s is
// empty or invalid.
func ParseTimeDefault(s string, def time.Time) time.Time { return xutil.ParseTimeDefault(s, def) }

// SplitQueryList turns "a, b,,c" into normalized symbols.
func SplitQueryList(s string) []string { return xutil.NormalizeSymbols(s) }
