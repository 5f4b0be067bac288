package gateway

import (
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Reconnect delay defaults.
const (
	DefaultBaseDelay = time.Second
	DefaultMaxDelay  = 30 * time.Second
)

// fullJitter draws each delay uniformly from [0, d) where d is the next
// exponential step.
type fullJitter struct {
	exp  *backoff.ExponentialBackOff
	rand func() float64
}

// NewBackOff returns an unbounded exponential backoff (doubling from base, capped
// at limit) with full jitter.
func NewBackOff(base, limit time.Duration) backoff.BackOff {
	if base <= 0 {
		base = DefaultBaseDelay
	}
	if limit < base {
		limit = DefaultMaxDelay
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = base
	exp.MaxInterval = limit
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	exp.Reset()
	return &fullJitter{exp: exp, rand: rand.Float64}
}

func (j *fullJitter) NextBackOff() time.Duration {
	d := j.exp.NextBackOff()
	if d == backoff.Stop {
		return d
	}
	return time.Duration(j.rand() * float64(d))
}

func (j *fullJitter) Reset() {
	j.exp.Reset()
}
