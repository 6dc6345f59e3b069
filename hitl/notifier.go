package hitl

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// EventType labels approval lifecycle notifications.
type EventType string

const (
	EventCreated   EventType = "created"
	EventApproved  EventType = "approved"
	EventRejected  EventType = "rejected"
	EventCancelled EventType = "cancelled"
	EventEscalated EventType = "escalated"
)

// Event is one approval lifecycle notification.
type Event struct {
	Type    EventType `json:"type"`
	Request *Request  `json:"request"`
}

// Notifier delivers an approval event to one channel (chat, mail, pager).
type Notifier interface {
	Name() string
	Notify(ctx context.Context, event Event) error
}

// Dispatcher fans events out to all notifiers without blocking approval
// transitions. Each delivery retries independently with widening backoff;
// a channel that stays down is logged and dropped, never surfaced to the
// approval caller.
type Dispatcher struct {
	notifiers []Notifier
	attempts  int
	backoff   time.Duration
	timeout   time.Duration
}

// NewDispatcher creates a Dispatcher over the given notifiers.
func NewDispatcher(notifiers ...Notifier) *Dispatcher {
	return &Dispatcher{
		notifiers: notifiers,
		attempts:  3,
		backoff:   time.Second,
		timeout:   30 * time.Second,
	}
}

// Dispatch delivers the event in the background.
func (d *Dispatcher) Dispatch(event Event) {
	if len(d.notifiers) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		g, ctx := errgroup.WithContext(ctx)
		for _, n := range d.notifiers {
			n := n
			g.Go(func() error {
				d.deliver(ctx, n, event)
				return nil
			})
		}
		_ = g.Wait()
	}()
}

// deliver retries with 1s, 5s, 25s gaps.
func (d *Dispatcher) deliver(ctx context.Context, n Notifier, event Event) {
	backoff := d.backoff
	for attempt := 1; attempt <= d.attempts; attempt++ {
		err := n.Notify(ctx, event)
		if err == nil {
			return
		}
		slog.Warn("approval notification failed",
			"notifier", n.Name(),
			"event", event.Type,
			"approval_id", event.Request.ID,
			"attempt", attempt,
			"error", err)
		if attempt == d.attempts {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 5
	}
}

// LogNotifier writes events to the structured log. It is the default
// channel and a safe stand-in while real channels are not configured.
type LogNotifier struct{}

func (LogNotifier) Name() string { return "log" }

func (LogNotifier) Notify(_ context.Context, event Event) error {
	slog.Info("approval event",
		"event", event.Type,
		"approval_id", event.Request.ID,
		"approver", event.Request.Approver,
		"risk_level", event.Request.Assessment.Level,
		"escalation_level", event.Request.EscalationLevel)
	return nil
}
