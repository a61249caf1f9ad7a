package auth

import (
	"context"
	"time"

	"github.com/goliatone/go-errors"
)

// RetryOptions bounds credential store calls
type RetryOptions struct {
	// Timeout applies to each attempt
	Timeout time.Duration
	// Attempts is the total number of tries, including the first
	Attempts int
	// Backoff is multiplied by the attempt number between tries
	Backoff time.Duration
}

// DefaultRetryOptions are used for zero fields
var DefaultRetryOptions = RetryOptions{
	Timeout:  2 * time.Second,
	Attempts: 3,
	Backoff:  50 * time.Millisecond,
}

// RetryStore decorates a CredentialStore with per attempt timeouts and a
// bounded number of retries. Only ErrStoreUnavailable is retried.
type RetryStore struct {
	next    CredentialStore
	opts    RetryOptions
	metrics MetricsRecorder
	logger  Logger
}

var _ CredentialStore = (*RetryStore)(nil)

// NewRetryStore wraps next
func NewRetryStore(next CredentialStore, opts RetryOptions) *RetryStore {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultRetryOptions.Timeout
	}
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultRetryOptions.Attempts
	}
	if opts.Backoff < 0 {
		opts.Backoff = 0
	}
	return &RetryStore{
		next:    next,
		opts:    opts,
		metrics: noopMetrics{},
		logger:  defLogger(),
	}
}

// WithMetrics sets the metrics recorder
func (s *RetryStore) WithMetrics(m MetricsRecorder) *RetryStore {
	if m != nil {
		s.metrics = m
	}
	return s
}

// WithLogger sets the logger
func (s *RetryStore) WithLogger(logger Logger) *RetryStore {
	if logger != nil {
		s.logger = logger
	}
	return s
}

func (s *RetryStore) FindByID(ctx context.Context, userID string) (Identity, error) {
	var identity Identity
	err := s.do(ctx, "find_by_id", func(ctx context.Context) error {
		var err error
		identity, err = s.next.FindByID(ctx, userID)
		return err
	})
	return identity, err
}

func (s *RetryStore) DowngradeExpiredMember(ctx context.Context, userID string, asOf time.Time) (bool, error) {
	var changed bool
	err := s.do(ctx, "downgrade_expired_member", func(ctx context.Context) error {
		var err error
		changed, err = s.next.DowngradeExpiredMember(ctx, userID, asOf)
		return err
	})
	return changed, err
}

func (s *RetryStore) do(ctx context.Context, op string, fn func(context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= s.opts.Attempts; attempt++ {
		if attempt > 1 {
			s.metrics.RecordStoreRetry()
			if err := sleepCtx(ctx, time.Duration(attempt-1)*s.opts.Backoff); err != nil {
				return WrapError(ErrStoreUnavailable, err)
			}
		}

		start := time.Now()
		attemptCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
		err := fn(attemptCtx)
		cancel()
		s.metrics.RecordStoreLatency(time.Since(start))

		if err == nil {
			return nil
		}

		if errors.Is(err, context.DeadlineExceeded) {
			err = WrapError(ErrStoreUnavailable, err)
		}

		if !errors.Is(err, ErrStoreUnavailable) {
			return err
		}

		lastErr = err
		s.logger.Warn("credential store call failed",
			"op", op,
			"attempt", attempt,
			"attempts", s.opts.Attempts,
			"error", err,
		)

		if ctx.Err() != nil {
			return WrapError(ErrStoreUnavailable, ctx.Err())
		}
	}

	return lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
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
}
