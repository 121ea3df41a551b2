package userdata

// Sender identifies which side of a conversation wrote a message.
type Sender string

const (
	SenderGuest Sender = "guest"
	SenderHost  Sender = "host"
)

// Message is one entry in a property's conversation thread. Messages are
// append-only: never mutated or deleted after creation.
type Message struct {
	ID         string `json:"id"`
	PropertyID string `json:"propertyId"`
	From       Sender `json:"from"`
	Text       string `json:"text"`
	CreatedAt  int64  `json:"createdAt"`
	Read       bool   `json:"read,omitempty"`
}

// BookingKind tags the two booking variants.
type BookingKind string

const (
	// BookingStay is a property stay with check-in/check-out dates.
	BookingStay BookingKind = "stay"
	// BookingService is a scheduled service (cleaning, tour, ...) on a date.
	BookingService BookingKind = "service"
)

// Booking is a caller-supplied reservation. IDs are caller-owned and not
// deduplicated; a reused ID is accepted as-is.
type Booking struct {
	ID         string      `json:"id"`
	PropertyID string      `json:"propertyId"`
	Kind       BookingKind `json:"kind"`
	// Stay fields (ISO dates).
	CheckIn  string `json:"checkIn,omitempty"`
	CheckOut string `json:"checkOut,omitempty"`
	// Service fields.
	ServiceDate string `json:"serviceDate,omitempty"`
	Units       int    `json:"units,omitempty"`

	Total     float64 `json:"total"`
	CreatedAt int64   `json:"createdAt"`
}

// Review is one entry in a property's review list, newest first.
type Review struct {
	ID         string `json:"id"`
	PropertyID string `json:"propertyId"`
	Author     string `json:"author"`
	Rating     int    `json:"rating"`
	Text       string `json:"text"`
	CreatedAt  int64  `json:"createdAt"`
}

// ReviewDraft is the caller-supplied part of a review; the store generates
// ID and CreatedAt.
type ReviewDraft struct {
	PropertyID string
	Author     string
	Rating     int
	Text       string
}

// Notification is one entry in the global notification list, newest first.
type Notification struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	CreatedAt   int64  `json:"createdAt"`
	Read        bool   `json:"read"`
	PropertyID  string `json:"propertyId,omitempty"`
	ReferenceID string `json:"referenceId,omitempty"`
}

// NotificationDraft is the caller-supplied part of a notification; the
// store generates ID and CreatedAt and starts it unread.
type NotificationDraft struct {
	Title       string
	Body        string
	PropertyID  string
	ReferenceID string
}

// Snapshot is a deep copy of all six collections at one instant.
type Snapshot struct {
	Wishlist      []string
	Favorites     []string
	Messages      map[string][]Message
	Bookings      []Booking
	Reviews       map[string][]Review
	Notifications []Notification
}
