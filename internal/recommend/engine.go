// Package recommend derives a property ranking from local engagement. The
// ranking is recomputed on a ticker and verified against the live catalog
// so delisted properties drop out; local data stays authoritative when the
// catalog is unreachable.
package recommend

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nidohq/nido/internal/bus"
	"github.com/nidohq/nido/internal/catalog"
	"github.com/nidohq/nido/internal/query"
	"github.com/nidohq/nido/internal/userdata"
	"go.uber.org/zap"
)

// Engagement weights. Paying for a stay says more than starring a listing.
const (
	weightBooking  = 5
	weightReview   = 4
	weightFavorite = 3
	weightWishlist = 2
	weightMessage  = 1
)

const checkpointKey = "recommend_refreshed_at"

// Entry is one ranked property.
type Entry struct {
	PropertyID string
	Score      int
}

// ActivitySource provides the engagement data the ranking is derived from.
type ActivitySource interface {
	Snapshot() userdata.Snapshot
}

// Resolver checks which property IDs still exist in the live catalog.
type Resolver interface {
	PropertiesByIDs(ctx context.Context, ids []string) ([]catalog.Property, error)
}

// Checkpoints records when the last refresh happened, surviving restarts.
type Checkpoints interface {
	SetMeta(key, value string) error
	GetMeta(key string) (string, error)
}

// Options configures an Engine. Resolver and Checkpoints may be nil; the
// engine then skips live verification and checkpointing respectively.
type Options struct {
	Source      ActivitySource
	Resolver    Resolver
	Checkpoints Checkpoints
	Bus         *bus.Bus
	Logger      *zap.Logger
	Interval    time.Duration
}

// Engine maintains the current recommendation ranking.
type Engine struct {
	source      ActivitySource
	verify      *query.Cache[[]string, []catalog.Property]
	checkpoints Checkpoints
	bus         *bus.Bus
	logger      *zap.Logger
	interval    time.Duration
	cancel      context.CancelFunc

	mu      sync.RWMutex
	current []Entry
}

// NewEngine creates a recommendation engine.
func NewEngine(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	e := &Engine{
		source:      opts.Source,
		checkpoints: opts.Checkpoints,
		bus:         opts.Bus,
		logger:      logger,
		interval:    interval,
	}
	if opts.Resolver != nil {
		// Skip mode: verification fetches happen only inside Refresh, and
		// catalog outages stay quiet.
		e.verify = query.New(context.Background(), query.Options[[]string, []catalog.Property]{
			Name:   "recommend.verify",
			Fn:     opts.Resolver.PropertiesByIDs,
			Skip:   true,
			Logger: logger,
		})
	}
	return e
}

// Start begins the periodic refresh loop with an immediate first refresh.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	go e.loop(ctx)
}

// Stop stops the refresh loop.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) loop(ctx context.Context) {
	e.Refresh(ctx)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.Refresh(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Current returns the latest ranking, best first.
func (e *Engine) Current() []Entry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.current)
}

// Refresh recomputes the ranking from the activity snapshot, filters out
// properties no longer in the live catalog, and publishes
// "recommend.updated" when the ranking changed.
func (e *Engine) Refresh(ctx context.Context) {
	ranking := Rank(e.source.Snapshot())
	ranking = e.filterLive(ctx, ranking)

	e.mu.Lock()
	changed := !slices.Equal(e.current, ranking)
	e.current = ranking
	e.mu.Unlock()

	if e.checkpoints != nil {
		if err := e.checkpoints.SetMeta(checkpointKey, strconv.FormatInt(time.Now().UnixMilli(), 10)); err != nil {
			e.logger.Warn("checkpoint write failed", zap.Error(err))
		}
	}
	if changed {
		e.logger.Info("recommendation ranking updated", zap.Int("entries", len(ranking)))
		if e.bus != nil {
			e.bus.Publish(bus.Event{
				Kind:      "recommend.updated",
				Timestamp: time.Now(),
				Payload:   slices.Clone(ranking),
			})
		}
	}
}

// LastRefreshedAt returns the checkpoint of the previous refresh, or zero
// time when none was recorded.
func (e *Engine) LastRefreshedAt() time.Time {
	if e.checkpoints == nil {
		return time.Time{}
	}
	raw, err := e.checkpoints.GetMeta(checkpointKey)
	if err != nil || raw == "" {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func (e *Engine) filterLive(ctx context.Context, ranking []Entry) []Entry {
	if e.verify == nil || len(ranking) == 0 {
		return ranking
	}
	ids := make([]string, len(ranking))
	for i, entry := range ranking {
		ids[i] = entry.PropertyID
	}
	e.verify.RefetchWith(ctx, ids)

	st := e.verify.State()
	if st.Err != "" {
		// Unverifiable is not unrankable.
		return ranking
	}
	live := make(map[string]bool, len(st.Data))
	for _, p := range st.Data {
		live[p.ID] = true
	}
	kept := ranking[:0]
	for _, entry := range ranking {
		if live[entry.PropertyID] {
			kept = append(kept, entry)
		}
	}
	return kept
}

// Rank scores every property touched by the snapshot and orders them by
// score, then by most recent activity, then by ID. The ordering is fully
// deterministic for a given snapshot.
func Rank(snap userdata.Snapshot) []Entry {
	scores := make(map[string]int)
	latest := make(map[string]int64)

	touch := func(id string, weight int, at int64) {
		if id == "" {
			return
		}
		scores[id] += weight
		if at > latest[id] {
			latest[id] = at
		}
	}

	for _, id := range snap.Wishlist {
		touch(id, weightWishlist, 0)
	}
	for _, id := range snap.Favorites {
		touch(id, weightFavorite, 0)
	}
	for _, b := range snap.Bookings {
		touch(b.PropertyID, weightBooking, b.CreatedAt)
	}
	for id, msgs := range snap.Messages {
		for _, m := range msgs {
			touch(id, weightMessage, m.CreatedAt)
		}
	}
	for id, reviews := range snap.Reviews {
		for _, r := range reviews {
			touch(id, weightReview, r.CreatedAt)
		}
	}

	ranking := make([]Entry, 0, len(scores))
	for id, score := range scores {
		ranking = append(ranking, Entry{PropertyID: id, Score: score})
	}
	slices.SortFunc(ranking, func(a, b Entry) int {
		if a.Score != b.Score {
			return b.Score - a.Score
		}
		if latest[a.PropertyID] != latest[b.PropertyID] {
			if latest[a.PropertyID] > latest[b.PropertyID] {
				return -1
			}
			return 1
		}
		return strings.Compare(a.PropertyID, b.PropertyID)
	})
	return ranking
}
