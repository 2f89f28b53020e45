package util

import (
	"reflect"
	"strconv"
	"testing"
	"time"
)

func TestParseTimeRFC3339(t *testing.T) {
	s := "2024-10-10T10:10:10Z"
	got, ok := ParseTime(s)
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.Format(time.RFC3339) != s {
		t.Fatalf("unexpected time %v", got)
	}

	got, ok = ParseTime("2024-10-10T12:10:10.5+02:00")
	if !ok || got.Hour() != 10 || got.Nanosecond() != 5e8 {
		t.Fatalf("unexpected time %v ok=%v", got, ok)
	}
}

func TestParseTimeUnix(t *testing.T) {
	ts := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC).Unix()
	got, ok := ParseTime(strconv.FormatInt(ts, 10))
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.Unix() != ts {
		t.Fatalf("unexpected unix %v", got.Unix())
	}
}

func TestParseTimeDefault(t *testing.T) {
	def := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)
	if got := ParseTimeDefault("", def); !got.Equal(def) {
		t.Fatalf("expected default for empty input")
	}
	if got := ParseTimeDefault("yesterday", def); !got.Equal(def) {
		t.Fatalf("expected default for garbage input")
	}
}

func TestIsUSMarketOpen(t *testing.T) {
	cases := []struct {
		name string
		at   time.Time
		want bool
	}{
		// 2025-03-04 is a Tuesday; New York is UTC-5 until DST on 03-09.
		{"before open", time.Date(2025, 3, 4, 14, 29, 0, 0, time.UTC), false},
		{"at open", time.Date(2025, 3, 4, 14, 30, 0, 0, time.UTC), true},
		{"midday", time.Date(2025, 3, 4, 17, 0, 0, 0, time.UTC), true},
		{"at close", time.Date(2025, 3, 4, 21, 0, 0, 0, time.UTC), false},
		{"saturday", time.Date(2025, 3, 8, 17, 0, 0, 0, time.UTC), false},
	}
	for _, tc := range cases {
		if got := IsUSMarketOpen(tc.at); got != tc.want {
			t.Errorf("%s: IsUSMarketOpen(%v) = %v, want %v", tc.name, tc.at, got, tc.want)
		}
	}
}

func TestNormalizeSymbols(t *testing.T) {
	got := NormalizeSymbols(" aapl, msft,,AAPL ,gc=f")
	want := []string{"AAPL", "MSFT", "GC=F"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("NormalizeSymbols = %v, want %v", got, want)
	}
	if NormalizeSymbols("") != nil {
		t.Fatalf("expected nil for empty input")
	}
}
