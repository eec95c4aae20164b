package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brightmind-edu/gamification/internal/domain/activity"
	"github.com/brightmind-edu/gamification/internal/domain/shared"
)

// handlerTimeout bounds one inbound activity event's processing, which may
// fan out to the ledger, badge, and challenge engines.
const handlerTimeout = 30 * time.Second

// ActivitySink consumes inbound learning activity. The activity intake
// implements it.
type ActivitySink interface {
	ProblemCompleted(ctx context.Context, attempt activity.ProblemAttempt) error
	TimeSpent(ctx context.Context, studentID int64, date time.Time, minutesDelta int) error
	StreakUpdated(ctx context.Context, studentID int64, currentStreakDays int) error
}

// SubscribeActivity routes inbound activity events from the bus into the
// sink. Handler errors surface through the bus's error logging; the sink's
// idempotency makes redelivery safe.
func SubscribeActivity(bus shared.EventBus, sink ActivitySink) error {
	if sink == nil {
		return errors.New("activity sink cannot be nil")
	}

	routes := map[shared.EventType]shared.EventHandler{
		shared.EventProblemCompleted: func(event shared.Event) error {
			e, ok := event.(activity.ProblemCompletedEvent)
			if !ok {
				return fmt.Errorf("unexpected payload %T for %s", event, event.EventType())
			}
			ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
			defer cancel()
			return sink.ProblemCompleted(ctx, e.Attempt)
		},
		shared.EventTimeSpent: func(event shared.Event) error {
			e, ok := event.(activity.TimeSpentEvent)
			if !ok {
				return fmt.Errorf("unexpected payload %T for %s", event, event.EventType())
			}
			ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
			defer cancel()
			return sink.TimeSpent(ctx, e.StudentID, e.Date, e.Minutes)
		},
		shared.EventStreakUpdated: func(event shared.Event) error {
			e, ok := event.(activity.StreakUpdatedEvent)
			if !ok {
				return fmt.Errorf("unexpected payload %T for %s", event, event.EventType())
			}
			ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
			defer cancel()
			return sink.StreakUpdated(ctx, e.StudentID, e.CurrentStreakDays)
		},
	}

	for eventType, handler := range routes {
		if err := bus.Subscribe(eventType, handler); err != nil {
			return fmt.Errorf("subscribe %s: %w", eventType, err)
		}
	}
	return nil
}
