// Package jobs contains the worker's scheduled jobs.
package jobs

import (
	"context"
	"fmt"

	"github.com/alem-hub/learning-progress/internal/application/command"
)

// GrantReconciler repairs achievements whose points were never credited.
type GrantReconciler interface {
	Handle(ctx context.Context, cmd command.ReconcileGrantsCommand) (*command.ReconcileGrantsResult, error)
}

// ReconcileGrantsJob pays out achievements that were recorded without their
// ledger entry.
type ReconcileGrantsJob struct {
	reconciler GrantReconciler
	batch      int
}

// NewReconcileGrantsJob creates the job. batch of zero uses the command
// default.
func NewReconcileGrantsJob(reconciler GrantReconciler, batch int) *ReconcileGrantsJob {
	return &ReconcileGrantsJob{reconciler: reconciler, batch: batch}
}

func (j *ReconcileGrantsJob) Name() string { return "reconcile_grants" }

func (j *ReconcileGrantsJob) Description() string {
	return "Credits points for achievements that have no matching ledger entry"
}

// Run executes one reconciliation batch. Individual grant failures fail the
// run so the scheduler records them.
func (j *ReconcileGrantsJob) Run(ctx context.Context) error {
	result, err := j.reconciler.Handle(ctx, command.ReconcileGrantsCommand{Limit: j.batch})
	if err != nil {
		return err
	}
	if result.Failed > 0 {
		return fmt.Errorf("reconcile_grants: %d of %d grants failed", result.Failed, result.Scanned)
	}
	return nil
}
