// Package frequency enforces per-contact daily message caps. Consumption
// is a compare-and-increment, never read-then-write, so concurrent Message
// steps for one contact cannot slip past the cap.
package frequency

import (
	"context"
	"fmt"
	"time"
)

// Limiter is the cap capability used by the Message processor
type Limiter interface {
	// TryConsume atomically takes one send slot for the contact on the
	// day containing at. It returns false when the cap is already
	// reached. A cap of 0 or less means uncapped and always consumes.
	// sendKey identifies the send being paid for: a slot already held
	// for that key is reused, so retries of one send never consume a
	// second slot. An empty sendKey always consumes fresh.
	TryConsume(ctx context.Context, contactID, sendKey string, at time.Time, cap int) (bool, error)

	// Count returns the slots consumed for the contact on the day
	// containing at.
	Count(ctx context.Context, contactID string, at time.Time) (int, error)
}

// DayKey buckets a timestamp into the UTC day used for cap accounting
func DayKey(contactID string, at time.Time) string {
	return fmt.Sprintf("%s.%s", contactID, at.UTC().Format("2006-01-02"))
}
