package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-faster/errors"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"cadreline/internal/domain"
)

const (
	defaultAttempts  = 4
	defaultBaseDelay = 50 * time.Millisecond
)

// Runner executes a unit of work inside one transaction and re-runs the
// whole unit from scratch when storage is temporarily unavailable.
type Runner struct {
	DB          *sql.DB
	MaxAttempts int
	BaseDelay   time.Duration
	Log         *zap.Logger
	// OnRetry is called before each re-run.
	OnRetry func(op string)
}

// Do runs fn in a transaction, committing when it returns nil.
// Only *domain.StorageUnavailableError is retried; every other error is returned as is.
func (r Runner) Do(ctx context.Context, op string, fn func(ctx context.Context, tx *sql.Tx) error) error {
	attempts := r.MaxAttempts
	if attempts <= 0 {
		attempts = defaultAttempts
	}
	base := r.BaseDelay
	if base <= 0 {
		base = defaultBaseDelay
	}
	backoff := retry.WithMaxRetries(uint64(attempts-1), retry.NewExponential(base))
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := r.once(ctx, op, fn)
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrStorageUnavailable) {
			if attempt < attempts {
				r.logger().Warn("storage busy, retrying", zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))
				if r.OnRetry != nil {
					r.OnRetry(op)
				}
			}
			return retry.RetryableError(err)
		}
		return err
	})
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, domain.ErrStorageUnavailable) {
		return &domain.StorageUnavailableError{Op: op, Err: err}
	}
	return err
}

func (r Runner) once(ctx context.Context, op string, fn func(ctx context.Context, tx *sql.Tx) error) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return Classify(op, err)
	}
	defer tx.Rollback()

	if err := fn(ctx, tx); err != nil {
		return Classify(op, err)
	}
	if err := tx.Commit(); err != nil {
		return Classify(op, err)
	}
	return nil
}

func (r Runner) logger() *zap.Logger {
	if r.Log != nil {
		return r.Log
	}
	return zap.NewNop()
}
