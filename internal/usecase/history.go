package usecase

import (
	"sync"
	"time"

	"FinPulse/internal/domain/models"
)

// barRing is a fixed-capacity window of bars, oldest evicted first.
type barRing struct {
	mu    sync.RWMutex
	buf   []models.Bar
	start int
	n     int
}

func newBarRing(capacity int) *barRing {
	if capacity < 1 {
		capacity = 1
	}
	return &barRing{buf: make([]models.Bar, capacity)}
}

func (r *barRing) push(b models.Bar) {
	cp := len(r.buf)
	if r.n < cp {
		r.buf[(r.start+r.n)%cp] = b
		r.n++
		return
	}
	r.buf[r.start] = b
	r.start = (r.start + 1) % cp
}

// Append adds b and reports whether it was kept. A bar with the newest
// timestamp replaces it, since providers often report the same bar twice
// between market updates. Older bars are dropped.
func (r *barRing) Append(b models.Bar) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.n > 0 {
		last := (r.start + r.n - 1) % len(r.buf)
		switch {
		case r.buf[last].Timestamp.Equal(b.Timestamp):
			r.buf[last] = b
			return true
		case b.Timestamp.Before(r.buf[last].Timestamp):
			return false
		}
	}
	r.push(b)
	return true
}

// Latest returns the newest bar.
func (r *barRing) Latest() (models.Bar, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.n == 0 {
		return models.Bar{}, false
	}
	return r.buf[(r.start+r.n-1)%len(r.buf)], true
}

// Seed prepends older bars into an empty ring.
func (r *barRing) Seed(bars []models.Bar) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.n > 0 {
		return
	}
	for _, b := range bars {
		r.push(b)
	}
}

func (r *barRing) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.n
}

// Snapshot copies the window oldest first.
func (r *barRing) Snapshot() []models.Bar {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Bar, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

// Since returns at most limit bars newer than since, newest last.
func (r *barRing) Since(since time.Time, limit int) []models.Bar {
	all := r.Snapshot()
	i := 0
	if !since.IsZero() {
		for i < len(all) && !all[i].Timestamp.After(since) {
			i++
		}
	}
	all = all[i:]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all
}
