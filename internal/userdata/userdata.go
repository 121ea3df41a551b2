package userdata

import (
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nidohq/nido/internal/bus"
	"github.com/nidohq/nido/internal/store"
	"go.uber.org/zap"
)

// Storage keys, one durable record per collection. These are private to the
// store: no other component reads or writes the records directly.
const (
	keyWishlist      = "wishlist"
	keyFavorites     = "favorites"
	keyMessages      = "messages"
	keyBookings      = "bookings"
	keyReviews       = "reviews"
	keyNotifications = "notifications"
)

// Store is the single source of truth for the six user-scoped collections:
// wishlist, favorites, message threads, bookings, reviews and notifications.
//
// All mutations run against the latest in-memory state behind one mutex, so
// no update can be lost to a stale snapshot. Every mutation captures a full
// six-collection snapshot and hands it to the persistence writer before
// returning; the durable write itself is asynchronous and best-effort — the
// in-memory state stays authoritative for the process lifetime even when
// persistence fails.
type Store struct {
	mu            sync.Mutex
	wishlist      []string
	favorites     []string
	messages      map[string][]Message
	bookings      []Booking
	reviews       map[string][]Review
	notifications []Notification

	writer *writer
	bus    *bus.Bus
	logger *zap.Logger
}

// WishlistChange is the payload for wishlist/favorite toggle events.
type WishlistChange struct {
	PropertyID string
	Added      bool
}

// New creates a store backed by db. A nil db yields a memory-only store;
// a nil bus disables event publishing.
func New(db *store.DB, b *bus.Bus, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		messages: make(map[string][]Message),
		reviews:  make(map[string][]Review),
		bus:      b,
		logger:   logger,
	}
	if db != nil {
		s.writer = newWriter(db, logger)
	}
	return s
}

// Hydrate loads all six records from durable storage. A missing or corrupt
// record degrades that one collection to its empty default without
// affecting the others; the number of degraded collections is returned.
// Before (or without) hydration the store is fully usable on empty defaults.
func (s *Store) Hydrate() (degraded int) {
	if s.writer == nil {
		return 0
	}
	db := s.writer.db

	s.mu.Lock()
	defer s.mu.Unlock()
	degraded += loadInto(db, s.logger, keyWishlist, &s.wishlist)
	degraded += loadInto(db, s.logger, keyFavorites, &s.favorites)
	degraded += loadInto(db, s.logger, keyMessages, &s.messages)
	degraded += loadInto(db, s.logger, keyBookings, &s.bookings)
	degraded += loadInto(db, s.logger, keyReviews, &s.reviews)
	degraded += loadInto(db, s.logger, keyNotifications, &s.notifications)

	if s.messages == nil {
		s.messages = make(map[string][]Message)
	}
	if s.reviews == nil {
		s.reviews = make(map[string][]Review)
	}
	// Records written before booking kinds existed carry no tag.
	for i := range s.bookings {
		if s.bookings[i].Kind == "" {
			s.bookings[i].Kind = BookingStay
		}
	}
	return degraded
}

// loadInto reads one record into dst, leaving dst untouched on a missing
// record and reporting 1 when the record could not be read or parsed.
func loadInto[T any](db *store.DB, logger *zap.Logger, key string, dst *T) int {
	raw, err := db.GetRecord(key)
	if err != nil {
		logger.Warn("record load failed, using empty default", zap.String("key", key), zap.Error(err))
		return 1
	}
	if raw == nil {
		return 0
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		logger.Warn("record corrupt, using empty default", zap.String("key", key), zap.Error(err))
		return 1
	}
	return 0
}

// ToggleWishlist flips membership of propertyID in the wishlist and reports
// the new membership. Any string is a valid property id.
func (s *Store) ToggleWishlist(propertyID string) bool {
	s.mu.Lock()
	var added bool
	s.wishlist, added = toggleMembership(s.wishlist, propertyID)
	s.persistLocked()
	s.mu.Unlock()

	s.publish("userdata.wishlist_toggled", WishlistChange{PropertyID: propertyID, Added: added})
	return added
}

// ToggleFavorite flips membership of propertyID in the favorites set.
func (s *Store) ToggleFavorite(propertyID string) bool {
	s.mu.Lock()
	var added bool
	s.favorites, added = toggleMembership(s.favorites, propertyID)
	s.persistLocked()
	s.mu.Unlock()

	s.publish("userdata.favorite_toggled", WishlistChange{PropertyID: propertyID, Added: added})
	return added
}

// SendMessage appends a new message to the property's thread, creating the
// thread if absent. The id and timestamp are generated here; thread order
// is append order, never re-sorted.
func (s *Store) SendMessage(propertyID string, from Sender, text string) (Message, error) {
	if from != SenderGuest && from != SenderHost {
		return Message{}, fmt.Errorf("invalid sender %q", from)
	}
	msg := Message{
		ID:         uuid.NewString(),
		PropertyID: propertyID,
		From:       from,
		Text:       text,
		CreatedAt:  time.Now().UnixMilli(),
	}

	s.mu.Lock()
	s.messages[propertyID] = append(s.messages[propertyID], msg)
	s.persistLocked()
	s.mu.Unlock()

	s.publish("userdata.message_sent", msg)
	return msg, nil
}

// AddBooking prepends the caller-supplied booking (newest first). The kind
// variant is validated at this boundary; an untagged booking defaults to a
// stay. Duplicate ids are accepted — id uniqueness is the caller's job.
func (s *Store) AddBooking(b Booking) error {
	if b.ID == "" {
		return fmt.Errorf("booking id required")
	}
	if b.Kind == "" {
		b.Kind = BookingStay
	}
	switch b.Kind {
	case BookingStay:
		if b.CheckIn == "" || b.CheckOut == "" {
			return fmt.Errorf("stay booking %s: check-in and check-out required", b.ID)
		}
	case BookingService:
		if b.ServiceDate == "" {
			return fmt.Errorf("service booking %s: service date required", b.ID)
		}
	default:
		return fmt.Errorf("booking %s: unknown kind %q", b.ID, b.Kind)
	}

	s.mu.Lock()
	s.bookings = append([]Booking{b}, s.bookings...)
	s.persistLocked()
	s.mu.Unlock()

	s.publish("userdata.booking_added", b)
	return nil
}

// AddReview generates id and timestamp and prepends the review onto the
// property's list (index 0 = newest).
func (s *Store) AddReview(d ReviewDraft) (Review, error) {
	if d.PropertyID == "" {
		return Review{}, fmt.Errorf("review property id required")
	}
	if d.Rating < 1 || d.Rating > 5 {
		return Review{}, fmt.Errorf("review rating %d out of range 1-5", d.Rating)
	}
	rev := Review{
		ID:         uuid.NewString(),
		PropertyID: d.PropertyID,
		Author:     d.Author,
		Rating:     d.Rating,
		Text:       d.Text,
		CreatedAt:  time.Now().UnixMilli(),
	}

	s.mu.Lock()
	s.reviews[d.PropertyID] = append([]Review{rev}, s.reviews[d.PropertyID]...)
	s.persistLocked()
	s.mu.Unlock()

	s.publish("userdata.review_added", rev)
	return rev, nil
}

// AddNotification generates id and timestamp and prepends an unread
// notification onto the global list.
func (s *Store) AddNotification(d NotificationDraft) Notification {
	n := Notification{
		ID:          uuid.NewString(),
		Title:       d.Title,
		Body:        d.Body,
		CreatedAt:   time.Now().UnixMilli(),
		Read:        false,
		PropertyID:  d.PropertyID,
		ReferenceID: d.ReferenceID,
	}

	s.mu.Lock()
	s.notifications = append([]Notification{n}, s.notifications...)
	s.persistLocked()
	s.mu.Unlock()

	s.publish("userdata.notification_added", n)
	return n
}

// MarkAllNotificationsRead sets read=true on every notification, leaving
// all other fields untouched.
func (s *Store) MarkAllNotificationsRead() {
	s.mu.Lock()
	for i := range s.notifications {
		s.notifications[i].Read = true
	}
	s.persistLocked()
	s.mu.Unlock()

	s.publish("userdata.notifications_read", nil)
}

// ClearAll resets wishlist, favorites, messages, bookings and reviews and
// removes their durable records. Notifications intentionally survive a
// clear so the activity trail outlives a data reset.
func (s *Store) ClearAll() {
	s.mu.Lock()
	s.wishlist = nil
	s.favorites = nil
	s.messages = make(map[string][]Message)
	s.bookings = nil
	s.reviews = make(map[string][]Review)
	if s.writer != nil {
		s.writer.enqueue(persistRequest{
			del: []string{keyWishlist, keyFavorites, keyMessages, keyBookings, keyReviews},
			put: map[string][]byte{keyNotifications: mustMarshal(s.logger, keyNotifications, s.notifications)},
		})
	}
	s.mu.Unlock()

	s.publish("userdata.cleared", nil)
}

// Wishlist returns the wishlist property ids in insertion order.
func (s *Store) Wishlist() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.wishlist)
}

// Favorites returns the favorite property ids in insertion order.
func (s *Store) Favorites() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.favorites)
}

// InWishlist reports wishlist membership.
func (s *Store) InWishlist(propertyID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Contains(s.wishlist, propertyID)
}

// InFavorites reports favorites membership.
func (s *Store) InFavorites(propertyID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Contains(s.favorites, propertyID)
}

// Thread returns the property's message thread in append order, empty when
// no messages exist.
func (s *Store) Thread(propertyID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.messages[propertyID])
}

// Threads returns a deep copy of all message threads keyed by property id.
func (s *Store) Threads() map[string][]Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]Message, len(s.messages))
	for pid, msgs := range s.messages {
		out[pid] = slices.Clone(msgs)
	}
	return out
}

// Bookings returns all bookings, newest first.
func (s *Store) Bookings() []Booking {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.bookings)
}

// Reviews returns the property's reviews, newest first, empty when absent.
func (s *Store) Reviews(propertyID string) []Review {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.reviews[propertyID])
}

// Notifications returns all notifications, newest first.
func (s *Store) Notifications() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.notifications)
}

// UnreadNotifications returns the count of notifications not yet read.
func (s *Store) UnreadNotifications() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, n := range s.notifications {
		if !n.Read {
			count++
		}
	}
	return count
}

// Snapshot returns a deep copy of all six collections at one instant.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Wishlist:      slices.Clone(s.wishlist),
		Favorites:     slices.Clone(s.favorites),
		Messages:      make(map[string][]Message, len(s.messages)),
		Bookings:      slices.Clone(s.bookings),
		Reviews:       make(map[string][]Review, len(s.reviews)),
		Notifications: slices.Clone(s.notifications),
	}
	for pid, msgs := range s.messages {
		snap.Messages[pid] = slices.Clone(msgs)
	}
	for pid, revs := range s.reviews {
		snap.Reviews[pid] = slices.Clone(revs)
	}
	return snap
}

// OnPersistResult registers a callback invoked with the outcome of every
// durable write. Used by the daemon to track persistence health.
func (s *Store) OnPersistResult(fn func(error)) {
	if s.writer != nil {
		s.writer.setOnResult(fn)
	}
}

// Flush synchronously persists any pending snapshot.
func (s *Store) Flush() {
	if s.writer != nil {
		s.writer.flush()
	}
}

// Close flushes pending writes and stops the persistence writer.
func (s *Store) Close() {
	if s.writer != nil {
		s.writer.stop()
	}
}

// persistLocked assembles the durable snapshot from the current state and
// hands it to the writer. Must be called with s.mu held so the snapshot is
// never a stale combination of collections.
func (s *Store) persistLocked() {
	if s.writer == nil {
		return
	}
	s.writer.enqueue(persistRequest{put: map[string][]byte{
		keyWishlist:      mustMarshal(s.logger, keyWishlist, emptyAsList(s.wishlist)),
		keyFavorites:     mustMarshal(s.logger, keyFavorites, emptyAsList(s.favorites)),
		keyMessages:      mustMarshal(s.logger, keyMessages, s.messages),
		keyBookings:      mustMarshal(s.logger, keyBookings, emptyAsList(s.bookings)),
		keyReviews:       mustMarshal(s.logger, keyReviews, s.reviews),
		keyNotifications: mustMarshal(s.logger, keyNotifications, emptyAsList(s.notifications)),
	}})
}

func (s *Store) publish(kind string, payload any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

// toggleMembership removes id when present, appends it when absent.
func toggleMembership(set []string, id string) ([]string, bool) {
	for i, v := range set {
		if v == id {
			return append(set[:i:i], set[i+1:]...), false
		}
	}
	return append(set, id), true
}

// emptyAsList keeps nil slices encoding as [] rather than null.
func emptyAsList[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func mustMarshal(logger *zap.Logger, key string, v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// Unreachable for these types; keep the record valid regardless.
		logger.Error("marshal record failed", zap.String("key", key), zap.Error(err))
		return []byte("null")
	}
	return data
}
