package ledger

import (
	"fmt"
	"time"
)

// DefaultWindowDuration is how long a bidding window stays open.
const DefaultWindowDuration = 12 * time.Hour

// StartPolicy decides what opens a property's bidding window.
type StartPolicy string

const (
	// StartOnFirstBid opens the window when the first valid bid is accepted.
	StartOnFirstBid StartPolicy = "on_first_bid"
	// StartOnActivation opens the window only on an explicit Activate call.
	StartOnActivation StartPolicy = "on_activation"
)

// ParseStartPolicy parses a configured policy name. Empty means StartOnFirstBid.
func ParseStartPolicy(s string) (StartPolicy, error) {
	switch StartPolicy(s) {
	case "", StartOnFirstBid:
		return StartOnFirstBid, nil
	case StartOnActivation:
		return StartOnActivation, nil
	default:
		return "", fmt.Errorf("unknown window start policy %q (must be %s or %s)", s, StartOnFirstBid, StartOnActivation)
	}
}

// Stopper cancels a scheduled task.
type Stopper interface {
	Stop() bool
}

// Scheduler runs a function once after a delay.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Stopper
}

type timeScheduler struct{}

// NewTimeScheduler returns a Scheduler backed by time.AfterFunc.
func NewTimeScheduler() Scheduler {
	return timeScheduler{}
}

func (timeScheduler) AfterFunc(d time.Duration, f func()) Stopper {
	return time.AfterFunc(d, f)
}
