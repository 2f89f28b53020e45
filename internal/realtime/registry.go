// Package realtime tracks live subscribers and fans payloads out to them.
package realtime

import (
	"context"
	"crypto/rand"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	drepo "FinPulse/internal/domain/repository"
	"FinPulse/pkg/logger"
)

var (
	ErrTooManyClients    = errors.New("too many clients")
	ErrTooManySymbols    = errors.New("too many symbols")
	ErrUnknownSubscriber = errors.New("unknown subscriber")
)

// Sender delivers one encoded message to a subscriber. Send must honor the
// context deadline.
type Sender interface {
	Send(ctx context.Context, msg []byte) error
	Close() error
}

// Subscriber is a live connection and the symbols it follows.
type Subscriber struct {
	ID          string
	ConnectedAt time.Time

	sender  Sender
	symbols map[string]struct{}
}

// RegistryConfig bounds the registry.
type RegistryConfig struct {
	MaxClients  int
	MaxSymbols  int
	SendTimeout time.Duration
}

// BroadcastResult counts the outcome of one broadcast.
type BroadcastResult struct {
	Delivered int
	Dropped   int
}

// Registry owns the subscriber set. Broadcasts work on a point-in-time
// snapshot, so subscribers may come and go while one is running.
type Registry struct {
	cfg     RegistryConfig
	metrics drepo.Metrics
	log     *logger.Logger

	mu   sync.RWMutex
	subs map[string]*Subscriber

	entropy  *ulid.MonotonicEntropy
	idMu     sync.Mutex
	accepted atomic.Uint64
	removed  atomic.Uint64
}

func NewRegistry(cfg RegistryConfig, metrics drepo.Metrics, log *logger.Logger) *Registry {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = time.Second
	}
	return &Registry{
		cfg:     cfg,
		metrics: metrics,
		log:     log,
		subs:    make(map[string]*Subscriber),
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

func (r *Registry) newID(now time.Time) string {
	r.idMu.Lock()
	defer r.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), r.entropy).String()
}

// Add registers a connection and returns its subscriber.
func (r *Registry) Add(sender Sender) (*Subscriber, error) {
	now := time.Now()
	sub := &Subscriber{
		ID:          r.newID(now),
		ConnectedAt: now,
		sender:      sender,
		symbols:     make(map[string]struct{}),
	}

	r.mu.Lock()
	if r.cfg.MaxClients > 0 && len(r.subs) >= r.cfg.MaxClients {
		r.mu.Unlock()
		return nil, ErrTooManyClients
	}
	r.subs[sub.ID] = sub
	n := len(r.subs)
	r.mu.Unlock()

	r.accepted.Add(1)
	r.metrics.SetConnections(n)
	return sub, nil
}

// Remove drops the subscriber and closes its connection. It reports whether
// the id was present.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	sub, ok := r.subs[id]
	delete(r.subs, id)
	n := len(r.subs)
	r.mu.Unlock()
	if !ok {
		return false
	}

	r.removed.Add(1)
	r.metrics.SetConnections(n)
	_ = sub.sender.Close()
	return true
}

// Subscribe adds symbols to id's set and returns the resulting set. The
// whole request is rejected if it would exceed the per-client limit.
func (r *Registry) Subscribe(id string, symbols []string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[id]
	if !ok {
		return nil, ErrUnknownSubscriber
	}

	added := 0
	for _, s := range symbols {
		if _, have := sub.symbols[s]; !have {
			added++
		}
	}
	if r.cfg.MaxSymbols > 0 && len(sub.symbols)+added > r.cfg.MaxSymbols {
		return nil, ErrTooManySymbols
	}
	for _, s := range symbols {
		sub.symbols[s] = struct{}{}
	}
	return sortedKeys(sub.symbols), nil
}

// Unsubscribe removes symbols from id's set and returns what is left.
func (r *Registry) Unsubscribe(id string, symbols []string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[id]
	if !ok {
		return nil, ErrUnknownSubscriber
	}
	for _, s := range symbols {
		delete(sub.symbols, s)
	}
	return sortedKeys(sub.symbols), nil
}

// UpdateSubscription replaces id's set.
func (r *Registry) UpdateSubscription(id string, symbols []string) error {
	if r.cfg.MaxSymbols > 0 && len(symbols) > r.cfg.MaxSymbols {
		return ErrTooManySymbols
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[id]
	if !ok {
		return ErrUnknownSubscriber
	}
	next := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		next[s] = struct{}{}
	}
	sub.symbols = next
	return nil
}

// Symbols is the union of every subscriber's set, sorted.
func (r *Registry) Symbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make(map[string]struct{})
	for _, sub := range r.subs {
		for s := range sub.symbols {
			all[s] = struct{}{}
		}
	}
	return sortedKeys(all)
}

// SubscriptionsOf returns id's symbols.
func (r *Registry) SubscriptionsOf(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if sub, ok := r.subs[id]; ok {
		return sortedKeys(sub.symbols)
	}
	return nil
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

type target struct {
	id     string
	sender Sender
}

func (r *Registry) snapshot(symbol string) []target {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]target, 0, len(r.subs))
	for id, sub := range r.subs {
		if symbol != "" {
			if _, ok := sub.symbols[symbol]; !ok {
				continue
			}
		}
		out = append(out, target{id: id, sender: sub.sender})
	}
	return out
}

// Broadcast sends payload to every subscriber of symbol. Each send gets
// its own timeout; a subscriber whose send fails is removed and the rest
// carry on.
func (r *Registry) Broadcast(ctx context.Context, symbol string, payload []byte) BroadcastResult {
	res := r.fanout(ctx, r.snapshot(symbol), payload)
	r.metrics.RecordBroadcast(symbol, res.Delivered, res.Dropped)
	return res
}

// BroadcastAll sends payload to every subscriber regardless of symbols.
func (r *Registry) BroadcastAll(ctx context.Context, payload []byte) BroadcastResult {
	return r.fanout(ctx, r.snapshot(""), payload)
}

// SendTo delivers one message to one subscriber, removing it on failure.
func (r *Registry) SendTo(ctx context.Context, id string, payload []byte) error {
	r.mu.RLock()
	sub, ok := r.subs[id]
	r.mu.RUnlock()
	if !ok {
		return ErrUnknownSubscriber
	}
	if err := r.send(ctx, target{id: id, sender: sub.sender}, payload); err != nil {
		return err
	}
	return nil
}

func (r *Registry) fanout(ctx context.Context, targets []target, payload []byte) BroadcastResult {
	if len(targets) == 0 {
		return BroadcastResult{}
	}
	var delivered, dropped atomic.Int64
	// One goroutine per target: every send is bounded by SendTimeout, so a
	// broadcast never outlasts it however many subscribers hang.
	var g errgroup.Group
	for _, t := range targets {
		t := t
		g.Go(func() error {
			if err := r.send(ctx, t, payload); err != nil {
				dropped.Add(1)
				return nil
			}
			delivered.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return BroadcastResult{Delivered: int(delivered.Load()), Dropped: int(dropped.Load())}
}

func (r *Registry) send(ctx context.Context, t target, payload []byte) error {
	sctx, cancel := context.WithTimeout(ctx, r.cfg.SendTimeout)
	defer cancel()
	err := t.sender.Send(sctx, payload)
	if err == nil {
		return nil
	}
	// A cancelled parent means shutdown, not a bad subscriber.
	if ctx.Err() != nil {
		return err
	}
	r.log.Debug("dropping subscriber after failed send", logger.String("subscriber", t.id), logger.Error(err))
	r.Remove(t.id)
	return err
}

// CloseAll disconnects every subscriber.
func (r *Registry) CloseAll() {
	for _, t := range r.snapshot("") {
		r.Remove(t.id)
	}
}

// RegistryStats is exposed on /api/stats.
type RegistryStats struct {
	Connections int    `json:"connections"`
	Symbols     int    `json:"symbols"`
	Accepted    uint64 `json:"accepted"`
	Removed     uint64 `json:"removed"`
}

func (r *Registry) Stats() RegistryStats {
	return RegistryStats{
		Connections: r.Count(),
		Symbols:     len(r.Symbols()),
		Accepted:    r.accepted.Load(),
		Removed:     r.removed.Load(),
	}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
