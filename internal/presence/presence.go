// Package presence records terminal heartbeats and derives online state.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/your-org/admsgw/internal/clock"
)

// OnlineWindow is how recently a terminal must have been seen to count as online.
const OnlineWindow = 5 * time.Minute

// IsOnline reports whether a terminal last seen at lastSeen is online at now.
// Online state is never stored; callers recompute it on every read.
func IsOnline(lastSeen, now time.Time) bool {
	return now.Sub(lastSeen) < OnlineWindow
}

// Store persists heartbeats. TouchDevice creates the device row on first
// contact and sets last_seen on every call.
type Store interface {
	TouchDevice(ctx context.Context, serialNumber string, seenAt time.Time) error
}

type Tracker struct {
	store Store
	clock clock.Clock
}

func NewTracker(store Store, clk clock.Clock) *Tracker {
	return &Tracker{store: store, clock: clk}
}

// Touch records contact from serialNumber at the current time.
func (t *Tracker) Touch(ctx context.Context, serialNumber string) error {
	if err := t.store.TouchDevice(ctx, serialNumber, t.clock.Now()); err != nil {
		return fmt.Errorf("touch device %s: %w", serialNumber, err)
	}
	return nil
}

// Online evaluates IsOnline against the tracker's clock.
func (t *Tracker) Online(lastSeen time.Time) bool {
	return IsOnline(lastSeen, t.clock.Now())
}
