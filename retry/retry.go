// Package retry bounds re-execution of fallible operations with
// exponential backoff. The update pipeline applies it around embedding
// and vector-store calls; callers choose which errors are worth retrying.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
)

// Policy configures a bounded exponential backoff: an operation runs at
// most MaxRetries+1 times, waiting InitialDelay * Multiplier^attempt
// between consecutive attempts.
type Policy struct {
	MaxRetries   int
	InitialDelay time.Duration
	Multiplier   float64
}

// DefaultPolicy matches the pipeline defaults: four total attempts with
// 1s, 2s, 4s waits between them.
var DefaultPolicy = Policy{
	MaxRetries:   3,
	InitialDelay: time.Second,
	Multiplier:   2.0,
}

func (p Policy) newBackOff(ctx context.Context) backoff.BackOff {
	// BackOff implementations are stateful; always build a fresh instance.
	var bo = backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialDelay
	bo.Multiplier = p.Multiplier
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(bo, uint64(p.MaxRetries)), ctx)
}

// Do runs op, retrying every failure until the attempt budget is spent.
// The final attempt's error is returned as-is.
func (p Policy) Do(ctx context.Context, name string, op func() error) error {
	return p.DoIf(ctx, name, op, func(error) bool { return true })
}

// DoIf runs op, retrying only failures for which retriable returns true.
// Non-retriable errors return immediately without consuming the budget.
func (p Policy) DoIf(ctx context.Context, name string, op func() error, retriable func(error) bool) error {
	var attempt int

	return backoff.Retry(func() error {
		var err = op()
		if err == nil {
			return nil
		} else if !retriable(err) {
			return backoff.Permanent(err)
		}

		attempt++
		log.WithFields(log.Fields{
			"op":      name,
			"attempt": attempt,
			"err":     err,
		}).Warn("operation failed")
		return err
	}, p.newBackOff(ctx))
}
