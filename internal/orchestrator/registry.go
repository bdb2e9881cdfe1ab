package orchestrator

import (
	"sync"

	"github.com/rs/zerolog/log"
)

type RunnerRegistry interface {
	Register(Runner)
	Get(jobType string) (Runner, bool)
	AvailableTypes() []string
}

// Registry is a central registry of job runners keyed by job type
type Registry struct {
	runners map[string]Runner
	mu      sync.RWMutex
}

// NewRunnerRegistry creates a registry pre-loaded with the given runners
func NewRunnerRegistry(runners ...Runner) RunnerRegistry {
	registry := Registry{
		runners: make(map[string]Runner),
	}

	for _, r := range runners {
		registry.Register(r)
	}

	return &registry
}

// Register adds a runner to the registry, replacing any previous runner for
// the same job type
func (r *Registry) Register(runner Runner) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.runners[runner.Type()] = runner

	log.Info().
		Str("jobType", runner.Type()).
		Str("runner", runner.Name()).
		Msg("Registered job runner")
}

// Get retrieves a runner by job type
func (r *Registry) Get(jobType string) (Runner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	runner, exists := r.runners[jobType]
	return runner, exists
}

// AvailableTypes returns all registered job types
func (r *Registry) AvailableTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.runners))
	for jobType := range r.runners {
		types = append(types, jobType)
	}

	return types
}
