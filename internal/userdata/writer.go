package userdata

import (
	"fmt"
	"sync"

	"github.com/nidohq/nido/internal/store"
	"go.uber.org/zap"
)

// persistRequest is one unit of durable work: record deletions applied
// before record upserts.
type persistRequest struct {
	put map[string][]byte
	del []string
}

// writer is the store's coalescing persistence queue. Mutations replace the
// pending request wholesale, so a burst of edits collapses into one durable
// write of the latest snapshot (last snapshot wins). All six records of a
// snapshot commit in a single transaction via store.PutRecords.
//
// Write failures are logged and swallowed: durability is best-effort and
// the in-memory state remains authoritative.
type writer struct {
	db     *store.DB
	logger *zap.Logger

	mu       sync.Mutex
	pending  *persistRequest
	onResult func(error)

	applyMu  sync.Mutex // serializes flushes so an older snapshot never lands after a newer one
	kick     chan struct{}
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newWriter(db *store.DB, logger *zap.Logger) *writer {
	w := &writer{
		db:     db,
		logger: logger,
		kick:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *writer) enqueue(req persistRequest) {
	w.mu.Lock()
	w.pending = &req
	w.mu.Unlock()

	select {
	case w.kick <- struct{}{}:
	default:
	}
}

func (w *writer) setOnResult(fn func(error)) {
	w.mu.Lock()
	w.onResult = fn
	w.mu.Unlock()
}

func (w *writer) loop() {
	defer close(w.done)
	for {
		select {
		case <-w.kick:
			w.flush()
		case <-w.quit:
			w.flush()
			return
		}
	}
}

// flush applies the pending request, if any. Safe to call concurrently with
// the loop; applies are serialized in take order.
func (w *writer) flush() {
	w.applyMu.Lock()
	defer w.applyMu.Unlock()

	w.mu.Lock()
	req := w.pending
	w.pending = nil
	cb := w.onResult
	w.mu.Unlock()

	if req == nil {
		return
	}

	err := w.apply(req)
	if err != nil {
		w.logger.Warn("persist failed, in-memory state remains authoritative", zap.Error(err))
	}
	if cb != nil {
		cb(err)
	}
}

func (w *writer) apply(req *persistRequest) error {
	if len(req.del) > 0 {
		if err := w.db.DeleteRecords(req.del...); err != nil {
			return fmt.Errorf("delete records: %w", err)
		}
	}
	if err := w.db.PutRecords(req.put); err != nil {
		return fmt.Errorf("put records: %w", err)
	}
	return nil
}

// stop flushes any pending snapshot and ends the loop. Idempotent.
func (w *writer) stop() {
	w.stopOnce.Do(func() { close(w.quit) })
	<-w.done
}
