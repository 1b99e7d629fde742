// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/alem-hub/learning-progress/internal/domain/rules"
	"github.com/alem-hub/learning-progress/internal/domain/shared"
	"github.com/alem-hub/learning-progress/pkg/logger"
	"github.com/alem-hub/learning-progress/pkg/retry"
	"github.com/alem-hub/learning-progress/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// SHARED HANDLER ENVIRONMENT
// ══════════════════════════════════════════════════════════════════════════════

// Env is the ambient state every command handler needs besides its
// repositories.
type Env struct {
	Rules     rules.Rules
	Clock     timeutil.Clock
	Calendar  timeutil.Calendar
	Publisher shared.EventPublisher
	Logger    *logger.Logger
}

// withDefaults fills unset fields so tests can pass a partial Env.
func (e Env) withDefaults() Env {
	if e.Clock == nil {
		e.Clock = timeutil.SystemClock{}
	}
	if e.Publisher == nil {
		e.Publisher = shared.NoopPublisher{}
	}
	if e.Logger == nil {
		e.Logger = logger.Nop()
	}
	return e
}

// now returns at when set, else the clock time.
func (e Env) now(at time.Time) time.Time {
	if at.IsZero() {
		return e.Clock.Now()
	}
	return at
}

func (e Env) publish(events ...shared.Event) {
	for _, ev := range events {
		if err := e.Publisher.Publish(ev); err != nil {
			e.Logger.Warn("event publish failed",
				logger.String("event_type", string(ev.EventType())),
				logger.Err(err),
			)
		}
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Validation and retries
// ──────────────────────────────────────────────────────────────────────────────

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateCommand runs struct tag validation and maps failures to
// shared.ErrInvalidInput.
func validateCommand(op string, cmd any) error {
	if err := validate.Struct(cmd); err != nil {
		return shared.WrapError("command", op, shared.ErrInvalidInput, "validation failed", err)
	}
	return nil
}

// requireUser rejects commands without an acting learner.
func requireUser(id shared.UserID) error {
	if !id.IsValid() {
		return shared.ErrNoUserContext
	}
	return nil
}

// withStoreRetry runs a read-modify-write cycle, retrying conflicts and
// transient store failures with fresh reads.
func (e Env) withStoreRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	log := e.Logger
	r := retry.StoreRetrier(
		retry.WithRetryIf(shared.IsRetryable),
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			log.Debug("retrying store operation",
				logger.Operation(op),
				logger.Attempt(attempt),
				logger.Duration("delay", delay),
				logger.Err(err),
			)
		}),
	)
	return r.Do(ctx, fn)
}

// Warnings collects non-fatal downstream failures of a command.
type Warnings []string

func (w *Warnings) add(log *logger.Logger, step string, err error, fields ...logger.Field) {
	fields = append(fields, logger.Operation(step), logger.Err(err))
	log.Error("downstream step failed", fields...)
	*w = append(*w, step+": "+err.Error())
}
