// Package query contains read operations following CQRS pattern.
// Queries never modify state - they only read and return data.
// Each query is a self-contained use case with its own request/response types.
package query

import (
	"github.com/alem-hub/learning-progress/internal/domain/rules"
	"github.com/alem-hub/learning-progress/internal/domain/shared"
	"github.com/alem-hub/learning-progress/pkg/logger"
	"github.com/alem-hub/learning-progress/pkg/timeutil"
)

// Env is the ambient state shared by query handlers.
type Env struct {
	Rules    rules.Rules
	Clock    timeutil.Clock
	Calendar timeutil.Calendar
	Logger   *logger.Logger
}

func (e Env) withDefaults() Env {
	if e.Clock == nil {
		e.Clock = timeutil.SystemClock{}
	}
	if e.Logger == nil {
		e.Logger = logger.Nop()
	}
	return e
}

func requireUser(id shared.UserID) error {
	if !id.IsValid() {
		return shared.ErrNoUserContext
	}
	return nil
}
