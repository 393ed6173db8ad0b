// Package backoff computes retry delays shared by the consumer, the
// projection writer and the coordinator loops.
package backoff

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Type selects how delays grow between attempts.
type Type string

const (
	Exp       Type = "exp"
	ExpJitter Type = "exp-jitter"
	Fixed     Type = "fixed"
	None      Type = "none"
)

// Policy describes a retry delay curve.
type Policy struct {
	Type   Type
	Base   time.Duration
	Cap    time.Duration
	Factor float64
}

// Default is capped exponential backoff with jitter, 200ms to 30s.
var Default = Policy{Type: ExpJitter, Base: 200 * time.Millisecond, Cap: 30 * time.Second, Factor: 2}

// Delay returns the wait before retry number attempt (1-based).
//
// The jittered curve draws from [d/2, d) so a retry never fires
// immediately and never exceeds the cap.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	switch p.Type {
	case None:
		return 0
	case Fixed:
		if p.Cap > 0 && p.Base > p.Cap {
			return p.Cap
		}
		return p.Base
	case Exp, ExpJitter, "":
		base := p.Base
		if base <= 0 {
			base = 200 * time.Millisecond
		}
		factor := p.Factor
		if factor <= 0 {
			factor = 2
		}
		delay := float64(base) * math.Pow(factor, float64(attempt-1))
		d := time.Duration(delay)
		if delay > math.MaxInt64 || d <= 0 {
			d = time.Duration(math.MaxInt64)
		}
		if p.Cap > 0 && d > p.Cap {
			d = p.Cap
		}
		if p.Type == Exp {
			return d
		}
		half := int64(d / 2)
		if half <= 0 {
			return d
		}
		return time.Duration(half + rand.Int63n(half))
	}
	return 0
}

// Sleep waits for d or until ctx is done, returning ctx.Err() in the latter case.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
