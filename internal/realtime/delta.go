package realtime

import (
	"encoding/binary"
	"hash/fnv"
	"math"
	"sync"

	"FinPulse/internal/domain/models"
)

// DeltaTracker remembers what was last broadcast per symbol so unchanged
// payloads can be skipped.
type DeltaTracker struct {
	mu   sync.Mutex
	last map[string]uint64
}

func NewDeltaTracker() *DeltaTracker {
	return &DeltaTracker{last: make(map[string]uint64)}
}

// Changed reports whether a differs from the previous payload for its
// symbol, and records it.
func (d *DeltaTracker) Changed(a *models.AssetData) bool {
	fp := fingerprint(a)
	d.mu.Lock()
	defer d.mu.Unlock()
	prev, ok := d.last[a.Symbol]
	d.last[a.Symbol] = fp
	return !ok || prev != fp
}

func (d *DeltaTracker) Forget(symbol string) {
	d.mu.Lock()
	delete(d.last, symbol)
	d.mu.Unlock()
}

func fingerprint(a *models.AssetData) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	put := func(v float64) {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		_, _ = h.Write(buf[:])
	}
	put(a.Bar.Price)
	if o := a.Bar.OHLC; o != nil {
		put(o.Open)
		put(o.High)
		put(o.Low)
		put(o.Close)
	}
	if a.Bar.Volume != nil {
		put(*a.Bar.Volume)
	}
	if a.Stale {
		_, _ = h.Write([]byte{1})
	}
	binary.LittleEndian.PutUint64(buf[:], uint64(a.Bar.Timestamp.UnixNano()))
	_, _ = h.Write(buf[:])
	return h.Sum64()
}
