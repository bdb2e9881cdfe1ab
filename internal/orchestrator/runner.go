package orchestrator

import (
	"context"

	"marketsync/internal/model"
)

// Runner executes one job type. Implementations are stateless between runs;
// all job state lives in the shared store, so any worker process can pick up
// any job.
type Runner interface {
	// Run executes the job body and returns its result payload. The
	// cancelled flag reports a cooperative stop: the result still carries
	// whatever completed before the cancel landed.
	Run(ctx context.Context, job *model.Job) (result interface{}, cancelled bool, err error)

	// Name returns a human-readable runner name
	Name() string

	// Type returns the job type this runner handles
	Type() string
}
