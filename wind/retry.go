package wind

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"

	"github.com/a-bouts/nav-sim/latlon"
)

// Retry bounds each fetch of the wrapped source with a timeout and retries
// failures with an exponential backoff. Malformed payloads are not retried.
type Retry struct {
	source   Source
	timeout  time.Duration
	retries  uint64
	interval time.Duration
}

func NewRetry(source Source, timeout time.Duration, retries int, interval time.Duration) *Retry {
	if retries < 0 {
		retries = 0
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Retry{
		source:   source,
		timeout:  timeout,
		retries:  uint64(retries),
		interval: interval,
	}
}

func (r *Retry) Fetch(ctx context.Context, at latlon.LatLon) (Sample, error) {
	var s Sample

	op := func() error {
		actx := ctx
		if r.timeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, r.timeout)
			defer cancel()
		}

		var err error
		s, err = r.source.Fetch(actx, at)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || errors.Is(err, ErrMalformedPayload) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.interval
	b.MaxElapsedTime = 0

	err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(b, r.retries), ctx), func(err error, d time.Duration) {
		log.WithError(err).Debugf("Wind fetch at %s failed, retrying in %s", at, d)
	})
	if err != nil {
		return Sample{}, err
	}
	return s, nil
}
