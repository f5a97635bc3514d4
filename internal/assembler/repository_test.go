package assembler

import (
	"errors"
	"sync"
	"testing"
)

func TestInMemoryRunRepository_Begin(t *testing.T) {
	repo := NewInMemoryRunRepository()

	if err := repo.Begin("p1"); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	t.Run("second_run_rejected", func(t *testing.T) {
		if err := repo.Begin("p1"); !errors.Is(err, ErrRunInProgress) {
			t.Errorf("expected ErrRunInProgress, got %v", err)
		}
	})
	t.Run("other_project_allowed", func(t *testing.T) {
		if err := repo.Begin("p2"); err != nil {
			t.Errorf("Begin p2: %v", err)
		}
	})
	if n := repo.ActiveRunCount(); n != 2 {
		t.Errorf("ActiveRunCount = %d, want 2", n)
	}

	repo.Finish("p1", &Report{ProjectID: "p1", Success: true})
	repo.Finish("p2", nil)
	if n := repo.ActiveRunCount(); n != 0 {
		t.Errorf("ActiveRunCount after finish = %d, want 0", n)
	}
	if err := repo.Begin("p1"); err != nil {
		t.Errorf("Begin after finish: %v", err)
	}
}

func TestInMemoryRunRepository_LatestReport(t *testing.T) {
	repo := NewInMemoryRunRepository()
	if _, ok := repo.LatestReport("p1"); ok {
		t.Error("expected no report")
	}

	_ = repo.Begin("p1")
	repo.Finish("p1", &Report{RunID: "a"})
	_ = repo.Begin("p1")
	repo.Finish("p1", &Report{RunID: "b"})

	rep, ok := repo.LatestReport("p1")
	if !ok || rep.RunID != "b" {
		t.Errorf("LatestReport = %+v, %v", rep, ok)
	}

	// A nil report keeps the previous one.
	_ = repo.Begin("p1")
	repo.Finish("p1", nil)
	if rep, _ := repo.LatestReport("p1"); rep.RunID != "b" {
		t.Errorf("nil Finish replaced report: %+v", rep)
	}
}

func TestInMemoryRunRepository_concurrent_begin(t *testing.T) {
	repo := NewInMemoryRunRepository()
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		won int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if repo.Begin("same") == nil {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if won != 1 {
		t.Errorf("%d concurrent Begin calls succeeded, want 1", won)
	}
}
