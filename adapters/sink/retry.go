package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v5"

	"github.com/flowmesh/streamcore/internal/errkind"
)

// maxWriteAttempts bounds the retry loop spec §7 calls "retry with
// bounded backoff" for transient sink I/O; exhausting it escalates to
// a persistent failure.
const maxWriteAttempts = 5

// withRetry runs write, retrying with exponential backoff while it
// returns a *TransientError, and wrapping any error surviving
// maxWriteAttempts attempts (transient or not) in errkind.ErrSink.
func withRetry(ctx context.Context, write func() error) error {
	op := func() (struct{}, error) {
		if err := write(); err != nil {
			var transient *TransientError
			if errors.As(err, &transient) {
				return struct{}{}, err
			}
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, nil
	}
	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(maxWriteAttempts),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", errkind.ErrSink, err)
	}
	return nil
}
