package notify

import (
	"context"
	"errors"

	"slotkeeper/internal/domain"
	"slotkeeper/internal/worker"

	"github.com/rs/zerolog"
)

// RetryingNotifier retries a failing notifier with backoff, bounded by the
// caller's context.
type RetryingNotifier struct {
	next   domain.Notifier
	policy worker.RetryPolicy
	logger *zerolog.Logger
}

func NewRetryingNotifier(next domain.Notifier, policy worker.RetryPolicy, logger *zerolog.Logger) *RetryingNotifier {
	return &RetryingNotifier{next: next, policy: policy, logger: logger}
}

func (r *RetryingNotifier) NotifyBookingCreated(ctx context.Context, n domain.Notification) error {
	return r.policy.Do(ctx, func(ctx context.Context) error {
		err := r.next.NotifyBookingCreated(ctx, n)
		if errors.Is(err, ErrNotConfigured) {
			return worker.Permanent(err)
		}
		return err
	}, func(attempt int, err error) {
		r.logger.Warn().Err(err).Int("attempt", attempt).Msg("Notification failed, retrying")
	})
}
