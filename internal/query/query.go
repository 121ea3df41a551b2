// Package query provides a generic cache around an asynchronous data
// source: it tracks {data, loading, error} per logical query, supports a
// skip mode for on-demand fetching, and guards against superseded in-flight
// requests with a monotonic sequence number.
package query

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nidohq/nido/internal/bus"
	"go.uber.org/zap"
)

// Func is the collaborator contract: any context-aware fetch function.
type Func[P, T any] func(ctx context.Context, params P) (T, error)

// State is a point-in-time view of a query's lifecycle. Data holds the last
// successful result and is NOT cleared by a later failure.
type State[T any] struct {
	Data    T
	HasData bool
	Loading bool
	Err     string
}

// Failure is the payload of "query.failed" events. The alerting surface is
// an external collaborator subscribed to the bus.
type Failure struct {
	Query   string
	Message string
}

// Options configures a Cache.
type Options[P, T any] struct {
	// Name identifies the logical query in logs and failure events.
	Name   string
	Fn     Func[P, T]
	Params P
	// Skip suppresses the auto-fetch on construction and failure events,
	// for prefetch/poll patterns where errors should stay quiet.
	Skip   bool
	Bus    *bus.Bus
	Logger *zap.Logger
}

// Cache wraps one logical query against an asynchronous data source.
type Cache[P, T any] struct {
	name   string
	fn     Func[P, T]
	skip   bool
	bus    *bus.Bus
	logger *zap.Logger

	mu         sync.Mutex
	params     P
	paramsJSON string
	state      State[T]
	seq        uint64 // latest issued fetch; completions of older fetches are discarded
}

// New creates a cache. Unless opts.Skip is set, a fetch of opts.Params is
// issued immediately and Loading is true until it resolves.
func New[P, T any](ctx context.Context, opts Options[P, T]) *Cache[P, T] {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cache[P, T]{
		name:       opts.Name,
		fn:         opts.Fn,
		skip:       opts.Skip,
		bus:        opts.Bus,
		logger:     logger,
		params:     opts.Params,
		paramsJSON: marshalParams(opts.Params),
	}
	if !opts.Skip {
		c.state.Loading = true
		c.seq = 1
		go c.do(ctx, opts.Params, 1)
	}
	return c
}

// State returns the current query state.
func (c *Cache[P, T]) State() State[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Refetch re-invokes the fetch function with the last-used params and
// blocks until that fetch completes. Fetch errors never escape: they are
// captured in State so callers can sequence UI work unconditionally.
func (c *Cache[P, T]) Refetch(ctx context.Context) {
	c.mu.Lock()
	params := c.params
	c.mu.Unlock()
	c.RefetchWith(ctx, params)
}

// RefetchWith is Refetch with new params, which become the last-used params.
func (c *Cache[P, T]) RefetchWith(ctx context.Context, params P) {
	c.mu.Lock()
	c.params = params
	c.paramsJSON = marshalParams(params)
	seq := c.beginFetchLocked()
	c.mu.Unlock()

	c.do(ctx, params, seq)
}

// SetParams installs new params, triggering a background fetch when their
// serialized content differs from the last-used params. Content compare,
// not identity: callers often rebuild equal param structs per render.
// In skip mode the params are stored for a later Refetch without fetching.
func (c *Cache[P, T]) SetParams(ctx context.Context, params P) {
	j := marshalParams(params)

	c.mu.Lock()
	if j == c.paramsJSON {
		c.mu.Unlock()
		return
	}
	c.params = params
	c.paramsJSON = j
	if c.skip {
		c.mu.Unlock()
		return
	}
	seq := c.beginFetchLocked()
	c.mu.Unlock()

	go c.do(ctx, params, seq)
}

func (c *Cache[P, T]) beginFetchLocked() uint64 {
	c.seq++
	c.state.Loading = true
	c.state.Err = ""
	return c.seq
}

func (c *Cache[P, T]) do(ctx context.Context, params P, seq uint64) {
	result, err := c.fn(ctx, params)

	c.mu.Lock()
	if seq != c.seq {
		c.mu.Unlock()
		c.logger.Debug("superseded fetch discarded", zap.String("query", c.name), zap.Uint64("seq", seq))
		return
	}
	if err != nil {
		c.state.Err = err.Error()
		c.state.Loading = false
		c.mu.Unlock()

		c.logger.Warn("fetch failed", zap.String("query", c.name), zap.Error(err))
		if !c.skip && c.bus != nil {
			c.bus.Publish(bus.Event{
				Kind:      "query.failed",
				Timestamp: time.Now(),
				Payload:   Failure{Query: c.name, Message: err.Error()},
			})
		}
		return
	}
	c.state.Data = result
	c.state.HasData = true
	c.state.Err = ""
	c.state.Loading = false
	c.mu.Unlock()
}

func marshalParams(params any) string {
	data, err := json.Marshal(params)
	if err != nil {
		return ""
	}
	return string(data)
}
