// Package notify turns store mutations into notification entries. It is the
// event-driven half of the notification feed: bookings and host replies
// produce entries without the mutating caller knowing about the feed.
package notify

import (
	"context"

	"github.com/nidohq/nido/internal/bus"
	"github.com/nidohq/nido/internal/userdata"
	"go.uber.org/zap"
)

// Recorder is the slice of the user-data store the notifier writes through.
type Recorder interface {
	AddNotification(draft userdata.NotificationDraft) userdata.Notification
}

// Notifier subscribes to "userdata.*" events on the bus and appends
// notification entries for the ones a user would want surfaced.
type Notifier struct {
	recorder Recorder
	bus      *bus.Bus
	logger   *zap.Logger
	cancel   context.CancelFunc
}

// New creates a notifier.
func New(recorder Recorder, b *bus.Bus, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		recorder: recorder,
		bus:      b,
		logger:   logger,
	}
}

// Start subscribes to store mutation events on the bus.
func (n *Notifier) Start(ctx context.Context) {
	ctx, n.cancel = context.WithCancel(ctx)
	ch, unsub := n.bus.Subscribe("userdata.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				n.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the notifier.
func (n *Notifier) Stop() {
	if n.cancel != nil {
		n.cancel()
	}
}

func (n *Notifier) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case "userdata.booking_added":
		b, ok := evt.Payload.(userdata.Booking)
		if !ok {
			return
		}
		n.recorder.AddNotification(userdata.NotificationDraft{
			Title:       "Booking confirmed",
			Body:        "Your booking is confirmed.",
			PropertyID:  b.PropertyID,
			ReferenceID: b.ID,
		})
		n.logger.Info("booking notification added", zap.String("booking_id", b.ID))
	case "userdata.message_sent":
		msg, ok := evt.Payload.(userdata.Message)
		if !ok {
			return
		}
		// Only host replies surface; the guest's own messages do not.
		if msg.From != userdata.SenderHost {
			return
		}
		n.recorder.AddNotification(userdata.NotificationDraft{
			Title:       "New message from your host",
			Body:        truncate(msg.Text, 100),
			PropertyID:  msg.PropertyID,
			ReferenceID: msg.ID,
		})
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
