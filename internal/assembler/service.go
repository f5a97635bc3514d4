package assembler

import (
	"context"
	"log/slog"
)

// Service resolves Context Maps, serializes runs per project and delegates
// the assembly itself to an Assembler.
type Service struct {
	asm   *Assembler
	store Store
	runs  RunRepository
	log   *slog.Logger
}

// NewService returns a Service. A nil store or runs falls back to the in-memory
// implementation.
func NewService(asm *Assembler, store Store, runs RunRepository, log *slog.Logger) *Service {
	if store == nil {
		store = NewInMemoryStore()
	}
	if runs == nil {
		runs = NewInMemoryRunRepository()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{asm: asm, store: store, runs: runs, log: log}
}

// Assemble runs one assembly. When cm is nil the project's Context Map is read
// from the store. The returned error is ErrContextMapNotFound,
// ErrRunInProgress or a store error; failures inside the run are reported in
// the Report.
func (s *Service) Assemble(ctx context.Context, projectID string, cm *ContextMap, outputPath string) (*Report, error) {
	if cm == nil {
		stored, err := s.store.Get(projectID)
		if err != nil {
			return nil, err
		}
		cm = stored
	}
	if cm.ProjectID != "" && cm.ProjectID != projectID {
		s.log.Warn("context map project mismatch",
			slog.String("project_id", projectID),
			slog.String("context_map_project_id", cm.ProjectID))
	}

	if err := s.runs.Begin(projectID); err != nil {
		return nil, err
	}
	var rep *Report
	// Deferred so the project is released even if the run panics.
	defer func() { s.runs.Finish(projectID, rep) }()
	rep = s.asm.Assemble(ctx, projectID, cm, outputPath)
	return rep, nil
}

// ValidateDuration delegates to the Assembler.
func (s *Service) ValidateDuration(ctx context.Context, path string, expectedMs, toleranceMs int64) (*DurationCheck, error) {
	return s.asm.ValidateDuration(ctx, path, expectedMs, toleranceMs)
}

// PutContextMap stores cm for later runs.
func (s *Service) PutContextMap(cm *ContextMap) error {
	return s.store.Put(cm)
}

// LatestReport returns the last finished report for projectID.
func (s *Service) LatestReport(projectID string) (*Report, bool) {
	return s.runs.LatestReport(projectID)
}

// ActiveRunCount returns the number of runs in progress.
func (s *Service) ActiveRunCount() int {
	return s.runs.ActiveRunCount()
}
