// Package timeout implements the time budget that bounds blocking waits.
//
// A Budget is created with a total duration and a start instant. Each wait
// asks the budget for the time left; once the budget is spent every call
// fails with a wmierr timeout error carrying the budget's message.
//
// The clock is injectable so that tests can advance time without sleeping.
package timeout

import (
	"time"

	"github.com/smnsjas/go-wmicore/wmierr"
)

// Sleep steps used by StagedSleep, keyed on elapsed time.
const (
	InitialStep = 100 * time.Millisecond
	MiddleStep  = 500 * time.Millisecond
	LateStep    = time.Second

	initialPhase = time.Second
	middlePhase  = 10 * time.Second
)

// Clock is the time source for a Budget.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// Sleep calls time.Sleep.
func (SystemClock) Sleep(d time.Duration) { time.Sleep(d) }

// Remaining returns the part of timeout not yet consumed at now for a budget
// that started at start. It fails with a timeout error carrying message when
// nothing is left.
func Remaining(timeout time.Duration, start, now time.Time, message string) (time.Duration, error) {
	left := timeout - now.Sub(start)
	if left <= 0 {
		return 0, wmierr.Timeout("Remaining", message)
	}
	return left, nil
}

// StagedSleep sleeps one backoff step for a budget of timeout started at
// start: 100ms during the first second, 500ms until ten seconds have
// elapsed, one second afterwards. It never sleeps past the budget and fails
// with a timeout error when the budget is already spent.
func StagedSleep(clock Clock, timeout time.Duration, start time.Time, message string) error {
	now := clock.Now()
	left, err := Remaining(timeout, start, now, message)
	if err != nil {
		return err
	}
	clock.Sleep(min(step(now.Sub(start)), left))
	return nil
}

func step(elapsed time.Duration) time.Duration {
	switch {
	case elapsed < initialPhase:
		return InitialStep
	case elapsed < middlePhase:
		return MiddleStep
	default:
		return LateStep
	}
}

// Budget tracks a time limit from a fixed start.
type Budget struct {
	clock   Clock
	timeout time.Duration
	start   time.Time
	message string
}

// NewBudget starts a budget of timeout on clock. A nil clock means
// SystemClock. message is reported when the budget runs out.
func NewBudget(clock Clock, timeout time.Duration, message string) *Budget {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Budget{
		clock:   clock,
		timeout: timeout,
		start:   clock.Now(),
		message: message,
	}
}

// Remaining returns the time left.
func (b *Budget) Remaining() (time.Duration, error) {
	return Remaining(b.timeout, b.start, b.clock.Now(), b.message)
}

// Elapsed returns the time consumed so far.
func (b *Budget) Elapsed() time.Duration {
	return b.clock.Now().Sub(b.start)
}

// Sleep performs one staged backoff step.
func (b *Budget) Sleep() error {
	return StagedSleep(b.clock, b.timeout, b.start, b.message)
}

// Expired reports whether the budget is spent.
func (b *Budget) Expired() bool {
	_, err := b.Remaining()
	return err != nil
}
