package node

import (
	"context"
	"fmt"
	"time"
)

// BlinkDirective is the half-period of the status LED pattern. Zero means no blink.
type BlinkDirective time.Duration

const (
	BlinkNone     BlinkDirective = 0
	BlinkVeryFast BlinkDirective = BlinkDirective(50 * time.Millisecond)
	BlinkFast     BlinkDirective = BlinkDirective(200 * time.Millisecond)
	BlinkSlow     BlinkDirective = BlinkDirective(1000 * time.Millisecond)
)

// blinkCycles is how many high/low pairs one directive produces.
const blinkCycles = 5

func (b BlinkDirective) Duration() time.Duration { return time.Duration(b) }

func (b BlinkDirective) String() string {
	if b == BlinkNone {
		return "none"
	}
	return time.Duration(b).String()
}

// Output is a single digital output line.
type Output interface {
	Set(high bool) error
}

// Sleeper blocks for d or until ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleepFunc adapts a function to Sleeper.
type SleepFunc func(ctx context.Context, d time.Duration) error

func (f SleepFunc) Sleep(ctx context.Context, d time.Duration) error { return f(ctx, d) }

// TimerSleeper sleeps on a real timer.
var TimerSleeper Sleeper = SleepFunc(func(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
})

// Blink toggles led blinkCycles times, holding each phase for the directive.
// A zero directive writes nothing.
func Blink(ctx context.Context, led Output, sleeper Sleeper, b BlinkDirective) error {
	if b == BlinkNone {
		return nil
	}
	for i := 0; i < blinkCycles; i++ {
		if err := led.Set(true); err != nil {
			return fmt.Errorf("led high: %w", err)
		}
		if err := sleeper.Sleep(ctx, b.Duration()); err != nil {
			return err
		}
		if err := led.Set(false); err != nil {
			return fmt.Errorf("led low: %w", err)
		}
		if err := sleeper.Sleep(ctx, b.Duration()); err != nil {
			return err
		}
	}
	return nil
}
