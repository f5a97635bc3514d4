package assembler

import (
	"errors"
	"sync"
)

// ErrRunInProgress is returned when a project is already being assembled.
var ErrRunInProgress = errors.New("assembly already in progress for project")

// RunRepository defines the concurrency-safe contract for tracking assembly
// runs per project.
type RunRepository interface {
	// Begin marks projectID as running. It returns ErrRunInProgress if a run
	// for the project has not finished yet.
	Begin(projectID string) error

	// Finish clears the running mark and keeps report as the project's latest.
	// A nil report only clears the mark.
	Finish(projectID string, report *Report)

	// LatestReport returns the last finished report for projectID.
	LatestReport(projectID string) (*Report, bool)

	// ActiveRunCount returns the number of runs in progress. Used for metrics.
	ActiveRunCount() int
}

// InMemoryRunRepository is a concurrency-safe in-memory RunRepository.
type InMemoryRunRepository struct {
	mu      sync.RWMutex
	active  map[string]struct{}
	reports map[string]*Report
}

// NewInMemoryRunRepository constructs an empty repository.
func NewInMemoryRunRepository() *InMemoryRunRepository {
	return &InMemoryRunRepository{
		active:  make(map[string]struct{}),
		reports: make(map[string]*Report),
	}
}

// Begin implements RunRepository.Begin.
func (r *InMemoryRunRepository) Begin(projectID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, running := r.active[projectID]; running {
		return ErrRunInProgress
	}
	r.active[projectID] = struct{}{}
	return nil
}

// Finish implements RunRepository.Finish.
func (r *InMemoryRunRepository) Finish(projectID string, report *Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, projectID)
	if report != nil {
		r.reports[projectID] = report
	}
}

// LatestReport implements RunRepository.LatestReport.
func (r *InMemoryRunRepository) LatestReport(projectID string) (*Report, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rep, ok := r.reports[projectID]
	return rep, ok
}

// ActiveRunCount implements RunRepository.ActiveRunCount.
func (r *InMemoryRunRepository) ActiveRunCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active)
}
