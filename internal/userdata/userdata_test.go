package userdata

import (
	"testing"
	"time"

	"github.com/nidohq/nido/internal/bus"
)

func memStore(t *testing.T) *Store {
	t.Helper()
	s := New(nil, nil, nil)
	t.Cleanup(s.Close)
	return s
}

func TestToggleWishlistIdempotentPair(t *testing.T) {
	s := memStore(t)

	if added := s.ToggleWishlist("p1"); !added {
		t.Error("first toggle should add")
	}
	if !s.InWishlist("p1") {
		t.Error("p1 missing after first toggle")
	}
	if added := s.ToggleWishlist("p1"); added {
		t.Error("second toggle should remove")
	}
	if s.InWishlist("p1") {
		t.Error("p1 present after double toggle; must restore original state")
	}
	if got := len(s.Wishlist()); got != 0 {
		t.Errorf("wishlist length = %d, want 0", got)
	}
}

func TestToggleFavoriteIdempotentPair(t *testing.T) {
	s := memStore(t)

	s.ToggleFavorite("p9")
	s.ToggleFavorite("p9")
	if s.InFavorites("p9") {
		t.Error("p9 present after double toggle")
	}
}

func TestToggleAcceptsAnyString(t *testing.T) {
	s := memStore(t)

	for _, id := range []string{"", "  ", "no-such-property", "p/with/slash"} {
		s.ToggleWishlist(id)
		if !s.InWishlist(id) {
			t.Errorf("id %q not in wishlist after toggle", id)
		}
	}
}

// Two different mutations issued back to back must both be visible: no
// update may be lost to a stale snapshot of the other collection.
func TestNoLostUpdatesAcrossCollections(t *testing.T) {
	s := memStore(t)

	s.ToggleWishlist("A")
	s.ToggleFavorite("B")

	if got := s.Wishlist(); len(got) != 1 || got[0] != "A" {
		t.Errorf("wishlist = %v, want [A]", got)
	}
	if got := s.Favorites(); len(got) != 1 || got[0] != "B" {
		t.Errorf("favorites = %v, want [B]", got)
	}
}

func TestSendMessageAppendOrder(t *testing.T) {
	s := memStore(t)

	texts := []string{"hi", "is it available?", "thanks"}
	for _, txt := range texts {
		if _, err := s.SendMessage("P1", SenderGuest, txt); err != nil {
			t.Fatal(err)
		}
	}

	thread := s.Thread("P1")
	if len(thread) != len(texts) {
		t.Fatalf("thread length = %d, want %d", len(thread), len(texts))
	}
	for i, msg := range thread {
		if msg.Text != texts[i] {
			t.Errorf("thread[%d].Text = %q, want %q (order must be call order)", i, msg.Text, texts[i])
		}
		if msg.ID == "" || msg.CreatedAt == 0 {
			t.Errorf("thread[%d] missing generated id/createdAt: %+v", i, msg)
		}
		if msg.PropertyID != "P1" {
			t.Errorf("thread[%d].PropertyID = %q", i, msg.PropertyID)
		}
	}
}

func TestSendMessageCreatesThread(t *testing.T) {
	s := memStore(t)

	if got := s.Thread("unknown"); len(got) != 0 {
		t.Errorf("Thread(unknown) = %v, want empty", got)
	}
	if _, err := s.SendMessage("P2", SenderHost, "welcome"); err != nil {
		t.Fatal(err)
	}
	if got := s.Thread("P2"); len(got) != 1 || got[0].From != SenderHost {
		t.Errorf("thread = %v, want single host message", got)
	}
}

func TestSendMessageRejectsUnknownSender(t *testing.T) {
	s := memStore(t)
	if _, err := s.SendMessage("P1", Sender("admin"), "hey"); err == nil {
		t.Error("expected error for unknown sender")
	}
}

func TestAddBookingNewestFirst(t *testing.T) {
	s := memStore(t)

	b1 := Booking{ID: "B1", PropertyID: "P1", Kind: BookingStay, CheckIn: "2024-01-01", CheckOut: "2024-01-03", Total: 300, CreatedAt: 1000}
	b2 := Booking{ID: "B2", PropertyID: "P1", Kind: BookingStay, CheckIn: "2024-02-01", CheckOut: "2024-02-03", Total: 400, CreatedAt: 2000}
	if err := s.AddBooking(b1); err != nil {
		t.Fatal(err)
	}
	if err := s.AddBooking(b2); err != nil {
		t.Fatal(err)
	}

	got := s.Bookings()
	if len(got) != 2 {
		t.Fatalf("bookings length = %d, want 2", len(got))
	}
	if got[0].ID != "B2" || got[1].ID != "B1" {
		t.Errorf("order = [%s %s], want [B2 B1] (newest first)", got[0].ID, got[1].ID)
	}
	if got[1].CreatedAt != 1000 {
		t.Errorf("caller-supplied createdAt = %d, want 1000 (no field generation)", got[1].CreatedAt)
	}
}

// Reusing a booking id is accepted: the store performs no dedup and id
// uniqueness is the caller's responsibility.
func TestAddBookingDuplicateIDAccepted(t *testing.T) {
	s := memStore(t)

	b := Booking{ID: "B1", PropertyID: "P1", CheckIn: "2024-01-01", CheckOut: "2024-01-03", Total: 300, CreatedAt: 1000}
	if err := s.AddBooking(b); err != nil {
		t.Fatal(err)
	}
	if err := s.AddBooking(b); err != nil {
		t.Fatalf("duplicate id rejected: %v", err)
	}
	if got := len(s.Bookings()); got != 2 {
		t.Errorf("bookings length = %d, want 2", got)
	}
}

func TestAddBookingValidatesVariants(t *testing.T) {
	tests := []struct {
		name    string
		booking Booking
		wantErr bool
	}{
		{"stay ok", Booking{ID: "B1", PropertyID: "P1", Kind: BookingStay, CheckIn: "2024-01-01", CheckOut: "2024-01-02"}, false},
		{"untagged defaults to stay", Booking{ID: "B2", PropertyID: "P1", CheckIn: "2024-01-01", CheckOut: "2024-01-02"}, false},
		{"stay missing checkout", Booking{ID: "B3", PropertyID: "P1", Kind: BookingStay, CheckIn: "2024-01-01"}, true},
		{"service ok", Booking{ID: "B4", PropertyID: "P1", Kind: BookingService, ServiceDate: "2024-03-01", Units: 2}, false},
		{"service missing date", Booking{ID: "B5", PropertyID: "P1", Kind: BookingService}, true},
		{"unknown kind", Booking{ID: "B6", PropertyID: "P1", Kind: "charter"}, true},
		{"missing id", Booking{PropertyID: "P1", Kind: BookingStay, CheckIn: "a", CheckOut: "b"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := memStore(t)
			err := s.AddBooking(tt.booking)
			if (err != nil) != tt.wantErr {
				t.Errorf("AddBooking() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAddReviewGeneratesFieldsAndPrepends(t *testing.T) {
	s := memStore(t)

	first, err := s.AddReview(ReviewDraft{PropertyID: "P1", Author: "Jo", Rating: 5, Text: "Great"})
	if err != nil {
		t.Fatal(err)
	}
	if first.ID == "" || first.CreatedAt == 0 {
		t.Errorf("generated fields missing: %+v", first)
	}

	revs := s.Reviews("P1")
	if len(revs) != 1 || revs[0].Author != "Jo" || revs[0].Rating != 5 {
		t.Fatalf("reviews = %+v, want single 5-star review by Jo", revs)
	}

	second, err := s.AddReview(ReviewDraft{PropertyID: "P1", Author: "Sam", Rating: 3, Text: "OK"})
	if err != nil {
		t.Fatal(err)
	}

	revs = s.Reviews("P1")
	if len(revs) != 2 {
		t.Fatalf("reviews length = %d, want 2", len(revs))
	}
	if revs[0].ID != second.ID {
		t.Error("newest review must be at index 0")
	}
	if revs[1].ID != first.ID {
		t.Error("older review must shift to index 1")
	}
}

func TestAddReviewValidatesRating(t *testing.T) {
	s := memStore(t)
	for _, rating := range []int{0, -1, 6} {
		if _, err := s.AddReview(ReviewDraft{PropertyID: "P1", Author: "X", Rating: rating}); err == nil {
			t.Errorf("rating %d accepted, want error", rating)
		}
	}
}

func TestNotificationsUnreadCount(t *testing.T) {
	s := memStore(t)

	if got := s.UnreadNotifications(); got != 0 {
		t.Errorf("unread on empty store = %d, want 0", got)
	}

	s.AddNotification(NotificationDraft{Title: "Booking confirmed", Body: "See you soon", PropertyID: "P1"})
	s.AddNotification(NotificationDraft{Title: "New message", Body: "Host replied", PropertyID: "P2"})

	if got := s.UnreadNotifications(); got != 2 {
		t.Errorf("unread = %d, want 2", got)
	}

	before := s.Notifications()
	s.MarkAllNotificationsRead()

	if got := s.UnreadNotifications(); got != 0 {
		t.Errorf("unread after mark-all = %d, want 0", got)
	}
	after := s.Notifications()
	for i := range after {
		if !after[i].Read {
			t.Errorf("notification %d still unread", i)
		}
		// Only the read flag may change.
		if after[i].ID != before[i].ID || after[i].Title != before[i].Title ||
			after[i].Body != before[i].Body || after[i].CreatedAt != before[i].CreatedAt {
			t.Errorf("notification %d fields changed: before %+v after %+v", i, before[i], after[i])
		}
	}
}

func TestNotificationsNewestFirst(t *testing.T) {
	s := memStore(t)

	s.AddNotification(NotificationDraft{Title: "first"})
	s.AddNotification(NotificationDraft{Title: "second"})

	got := s.Notifications()
	if got[0].Title != "second" || got[1].Title != "first" {
		t.Errorf("order = [%s %s], want [second first]", got[0].Title, got[1].Title)
	}
}

func TestClearAllKeepsNotifications(t *testing.T) {
	s := memStore(t)

	s.ToggleWishlist("p1")
	s.ToggleFavorite("p2")
	if _, err := s.SendMessage("P1", SenderGuest, "hi"); err != nil {
		t.Fatal(err)
	}
	if err := s.AddBooking(Booking{ID: "B1", PropertyID: "P1", CheckIn: "a", CheckOut: "b"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddReview(ReviewDraft{PropertyID: "P1", Author: "Jo", Rating: 4}); err != nil {
		t.Fatal(err)
	}
	s.AddNotification(NotificationDraft{Title: "keep me"})

	s.ClearAll()

	if len(s.Wishlist()) != 0 || len(s.Favorites()) != 0 || len(s.Bookings()) != 0 {
		t.Error("wishlist/favorites/bookings must be empty after ClearAll")
	}
	if len(s.Thread("P1")) != 0 || len(s.Reviews("P1")) != 0 {
		t.Error("messages/reviews must be empty after ClearAll")
	}
	if got := len(s.Notifications()); got != 1 {
		t.Errorf("notifications length = %d, want 1 (survive ClearAll)", got)
	}
}

// Returned containers are copies: mutating them must not be observable by
// other consumers.
func TestReadsAreCopies(t *testing.T) {
	s := memStore(t)

	s.ToggleWishlist("p1")
	wl := s.Wishlist()
	wl[0] = "tampered"
	if got := s.Wishlist(); got[0] != "p1" {
		t.Errorf("wishlist = %v, caller mutation leaked into store", got)
	}

	if _, err := s.SendMessage("P1", SenderGuest, "hi"); err != nil {
		t.Fatal(err)
	}
	thread := s.Thread("P1")
	thread[0].Text = "tampered"
	if got := s.Thread("P1"); got[0].Text != "hi" {
		t.Errorf("thread = %v, caller mutation leaked into store", got)
	}

	threads := s.Threads()
	threads["P1"][0].Text = "tampered"
	delete(threads, "P1")
	if got := s.Thread("P1"); len(got) != 1 || got[0].Text != "hi" {
		t.Errorf("threads copy leaked into store: %v", got)
	}
}

func TestMutationEventsPublished(t *testing.T) {
	b := bus.New()
	s := New(nil, b, nil)
	t.Cleanup(s.Close)

	ch, unsub := b.Subscribe("userdata.", 16)
	defer unsub()

	s.ToggleWishlist("p1")

	select {
	case evt := <-ch:
		if evt.Kind != "userdata.wishlist_toggled" {
			t.Errorf("kind = %q, want userdata.wishlist_toggled", evt.Kind)
		}
		change, ok := evt.Payload.(WishlistChange)
		if !ok {
			t.Fatalf("payload type = %T, want WishlistChange", evt.Payload)
		}
		if change.PropertyID != "p1" || !change.Added {
			t.Errorf("payload = %+v, want {p1 true}", change)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for wishlist_toggled event")
	}
}
