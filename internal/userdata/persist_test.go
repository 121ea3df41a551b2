package userdata

import (
	"encoding/json"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/nidohq/nido/internal/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// Simulated process restart: everything written before the restart must
// hydrate back identically.
func TestPersistenceRoundTrip(t *testing.T) {
	db := testDB(t)

	s1 := New(db, nil, nil)
	s1.ToggleWishlist("p1")
	s1.ToggleWishlist("p2")
	s1.ToggleFavorite("p3")
	if _, err := s1.SendMessage("P1", SenderGuest, "hello"); err != nil {
		t.Fatal(err)
	}
	if _, err := s1.SendMessage("P1", SenderHost, "hi there"); err != nil {
		t.Fatal(err)
	}
	if err := s1.AddBooking(Booking{ID: "B1", PropertyID: "P1", Kind: BookingStay, CheckIn: "2024-01-01", CheckOut: "2024-01-03", Total: 300, CreatedAt: 1000}); err != nil {
		t.Fatal(err)
	}
	if _, err := s1.AddReview(ReviewDraft{PropertyID: "P1", Author: "Jo", Rating: 5, Text: "Great"}); err != nil {
		t.Fatal(err)
	}
	s1.AddNotification(NotificationDraft{Title: "Booking confirmed", PropertyID: "P1", ReferenceID: "B1"})

	before := s1.Snapshot()
	s1.Close()

	s2 := New(db, nil, nil)
	t.Cleanup(s2.Close)
	if degraded := s2.Hydrate(); degraded != 0 {
		t.Fatalf("Hydrate() degraded = %d, want 0", degraded)
	}

	after := s2.Snapshot()
	if !reflect.DeepEqual(before, after) {
		t.Errorf("snapshot mismatch after restart:\nbefore: %+v\nafter:  %+v", before, after)
	}
}

func TestHydrateFreshDBIsEmpty(t *testing.T) {
	db := testDB(t)

	s := New(db, nil, nil)
	t.Cleanup(s.Close)
	if degraded := s.Hydrate(); degraded != 0 {
		t.Errorf("Hydrate() degraded = %d, want 0 (missing records are not errors)", degraded)
	}
	if len(s.Wishlist()) != 0 || len(s.Bookings()) != 0 || s.UnreadNotifications() != 0 {
		t.Error("fresh store must hydrate to empty defaults")
	}
}

// One corrupt record degrades only its own collection; the other five load.
func TestHydrateIsolatesCorruptRecord(t *testing.T) {
	db := testDB(t)

	s1 := New(db, nil, nil)
	s1.ToggleWishlist("p1")
	if err := s1.AddBooking(Booking{ID: "B1", PropertyID: "P1", CheckIn: "a", CheckOut: "b"}); err != nil {
		t.Fatal(err)
	}
	s1.AddNotification(NotificationDraft{Title: "n1"})
	s1.Close()

	if err := db.PutRecords(map[string][]byte{"bookings": []byte("{corrupt")}); err != nil {
		t.Fatal(err)
	}

	s2 := New(db, nil, nil)
	t.Cleanup(s2.Close)
	if degraded := s2.Hydrate(); degraded != 1 {
		t.Errorf("Hydrate() degraded = %d, want 1", degraded)
	}
	if got := len(s2.Bookings()); got != 0 {
		t.Errorf("bookings = %d entries, want 0 (degraded to empty)", got)
	}
	if !s2.InWishlist("p1") {
		t.Error("wishlist lost to an unrelated corrupt record")
	}
	if got := len(s2.Notifications()); got != 1 {
		t.Errorf("notifications = %d entries, want 1", got)
	}
}

// Rapid mutations may coalesce into fewer durable writes, but the final
// durable state must equal the final in-memory state.
func TestCoalescedWritesConvergeToLatest(t *testing.T) {
	db := testDB(t)

	s := New(db, nil, nil)
	for i := 0; i < 50; i++ {
		s.ToggleWishlist("p1") // ends removed
		s.ToggleWishlist("p2") // ends removed
	}
	s.ToggleWishlist("p3") // ends present
	s.Flush()
	s.Close()

	raw, err := db.GetRecord("wishlist")
	if err != nil {
		t.Fatal(err)
	}
	var persisted []string
	if err := json.Unmarshal(raw, &persisted); err != nil {
		t.Fatalf("unmarshal persisted wishlist %q: %v", raw, err)
	}
	if len(persisted) != 1 || persisted[0] != "p3" {
		t.Errorf("persisted wishlist = %v, want [p3]", persisted)
	}
}

func TestClearAllRemovesDurableRecords(t *testing.T) {
	db := testDB(t)

	s := New(db, nil, nil)
	t.Cleanup(s.Close)
	s.ToggleWishlist("p1")
	s.ToggleFavorite("p2")
	if _, err := s.SendMessage("P1", SenderGuest, "hi"); err != nil {
		t.Fatal(err)
	}
	s.AddNotification(NotificationDraft{Title: "keep"})
	s.Flush()

	s.ClearAll()
	s.Flush()

	keys, err := db.ListRecordKeys()
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || keys[0] != "notifications" {
		t.Errorf("durable keys after ClearAll = %v, want [notifications]", keys)
	}

	raw, err := db.GetRecord("notifications")
	if err != nil {
		t.Fatal(err)
	}
	var notes []Notification
	if err := json.Unmarshal(raw, &notes); err != nil {
		t.Fatal(err)
	}
	if len(notes) != 1 || notes[0].Title != "keep" {
		t.Errorf("persisted notifications = %+v, want the kept entry", notes)
	}
}

// A failing durable write is logged and swallowed; the in-memory state
// stays authoritative and the health callback observes the error.
func TestPersistFailureSwallowed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}

	s := New(db, nil, nil)
	t.Cleanup(s.Close)

	results := make(chan error, 8)
	s.OnPersistResult(func(err error) { results <- err })

	// Break the storage underneath the writer.
	_ = db.Close()

	s.ToggleWishlist("p1")
	s.Flush()

	select {
	case err := <-results:
		if err == nil {
			t.Error("expected a persist error after closing the db")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for persist result")
	}

	if !s.InWishlist("p1") {
		t.Error("in-memory state must remain authoritative despite persist failure")
	}
}

// Legacy booking records predate kind tags and must hydrate as stays.
func TestHydrateNormalizesUntaggedBookings(t *testing.T) {
	db := testDB(t)

	legacy := []byte(`[{"id":"B1","propertyId":"P1","checkIn":"2024-01-01","checkOut":"2024-01-03","total":300,"createdAt":1000}]`)
	if err := db.PutRecords(map[string][]byte{"bookings": legacy}); err != nil {
		t.Fatal(err)
	}

	s := New(db, nil, nil)
	t.Cleanup(s.Close)
	if degraded := s.Hydrate(); degraded != 0 {
		t.Fatalf("Hydrate() degraded = %d, want 0", degraded)
	}

	got := s.Bookings()
	if len(got) != 1 || got[0].Kind != BookingStay {
		t.Errorf("bookings = %+v, want single stay booking", got)
	}
}
