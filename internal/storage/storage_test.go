package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNew(t *testing.T) {
	tempDir := t.TempDir()

	store, err := New(tempDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	if store.db == nil {
		t.Error("Store database is nil")
	}

	dbPath := filepath.Join(tempDir, "koi-runs.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}
}

func TestNew_InvalidPath(t *testing.T) {
	invalidPath := filepath.Join(t.TempDir(), "missing", "dir")

	_, err := New(invalidPath)
	if err == nil {
		t.Error("Expected error for invalid path, got nil")
	}
}

func TestStore_Close(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Errorf("Error closing store: %v", err)
	}

	// Closing twice is a no-op
	if err := store.Close(); err != nil {
		t.Errorf("Error closing already closed store: %v", err)
	}
}

func TestStore_CloseNilDB(t *testing.T) {
	store := &Store{db: nil}
	if err := store.Close(); err != nil {
		t.Errorf("Expected no error for nil db, got: %v", err)
	}
}

func TestSaveAndGetRun(t *testing.T) {
	store := newTestStore(t)

	run := RunRecord{
		ID:            "run-1",
		CreatedAt:     time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Source:        "upload.csv",
		BundleVersion: "fixture-1",
		StatsMode:     "batch",
		Summary:       RunSummary{TotalRows: 3, Confirmed: 1, FalsePositives: 1, Errors: 1},
	}
	preds := []PredictionRecord{
		{Row: 0, Prediction: "CONFIRMED", Proba: [3]float64{0.1, 0.2, 0.7}},
		{Row: 1, Error: "featurization failed on koi_duration: no finite value after preprocessing", ErrorKind: "featurization"},
		{Row: 2, Prediction: "FALSE POSITIVE", Proba: [3]float64{0.8, 0.1, 0.1}},
	}

	if err := store.SaveRun(run, preds); err != nil {
		t.Fatalf("Failed to save run: %v", err)
	}

	got, err := store.GetRun("run-1")
	if err != nil {
		t.Fatalf("Failed to get run: %v", err)
	}
	if got.Source != "upload.csv" || got.Summary.Confirmed != 1 || !got.CreatedAt.Equal(run.CreatedAt) {
		t.Errorf("Unexpected run: %+v", got)
	}

	rows, err := store.GetPredictions("run-1")
	if err != nil {
		t.Fatalf("Failed to get predictions: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("Expected 3 rows, got %d", len(rows))
	}
	for i, r := range rows {
		if r.Row != i {
			t.Errorf("Expected row %d at position %d, got %d", i, i, r.Row)
		}
	}
	if rows[1].ErrorKind != "featurization" {
		t.Errorf("Expected row 1 to carry its error kind, got %q", rows[1].ErrorKind)
	}
}

func TestGetPredictions_OrderedPastTen(t *testing.T) {
	store := newTestStore(t)

	var preds []PredictionRecord
	for i := 11; i >= 0; i-- {
		preds = append(preds, PredictionRecord{Row: i, Prediction: "CANDIDATE"})
	}
	if err := store.SaveRun(RunRecord{ID: "r", CreatedAt: time.Now()}, preds); err != nil {
		t.Fatal(err)
	}

	rows, err := store.GetPredictions("r")
	if err != nil {
		t.Fatal(err)
	}
	for i, r := range rows {
		if r.Row != i {
			t.Fatalf("Expected ascending row numbers, got %d at %d", r.Row, i)
		}
	}
}

func TestSaveRun_ReplacesRows(t *testing.T) {
	store := newTestStore(t)
	run := RunRecord{ID: "r", CreatedAt: time.Now()}

	if err := store.SaveRun(run, []PredictionRecord{{Row: 0}, {Row: 1}, {Row: 2}}); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveRun(run, []PredictionRecord{{Row: 0}}); err != nil {
		t.Fatal(err)
	}

	rows, err := store.GetPredictions("r")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Errorf("Expected replaced run to have 1 row, got %d", len(rows))
	}

	runs, err := store.ListRuns(time.Time{}, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Errorf("Expected a single index entry, got %d", len(runs))
	}
}

func TestSaveRun_EmptyID(t *testing.T) {
	store := newTestStore(t)
	if err := store.SaveRun(RunRecord{}, nil); err == nil {
		t.Error("Expected error for empty run ID")
	}
}

func TestGetRun_NotFound(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.GetRun("nope"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Expected ErrRunNotFound, got %v", err)
	}
	if _, err := store.GetPredictions("nope"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Expected ErrRunNotFound, got %v", err)
	}
}

func TestListRuns(t *testing.T) {
	store := newTestStore(t)

	now := time.Now()
	runs := []RunRecord{
		{ID: "a", CreatedAt: now},
		{ID: "b", CreatedAt: now.Add(time.Second)},
		{ID: "c", CreatedAt: now.Add(10 * time.Second)}, // Outside range
	}
	for _, r := range runs {
		if err := store.SaveRun(r, nil); err != nil {
			t.Fatalf("Failed to save run: %v", err)
		}
	}

	got, err := store.ListRuns(now.Add(-time.Second), now.Add(5*time.Second))
	if err != nil {
		t.Fatalf("Failed to list runs: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 runs, got %d", len(got))
	}
	if got[0].ID != "a" || got[1].ID != "b" {
		t.Errorf("Expected runs oldest first, got %s, %s", got[0].ID, got[1].ID)
	}
}

func TestListRuns_EmptyResult(t *testing.T) {
	store := newTestStore(t)

	now := time.Now()
	runs, err := store.ListRuns(now.Add(-time.Hour), now.Add(-30*time.Minute))
	if err != nil {
		t.Fatalf("Failed to list runs: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("Expected empty result, got %d runs", len(runs))
	}
}

func TestDeleteRun(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	if err := store.SaveRun(RunRecord{ID: "a", CreatedAt: now}, []PredictionRecord{{Row: 0}}); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveRun(RunRecord{ID: "ab", CreatedAt: now}, []PredictionRecord{{Row: 0}}); err != nil {
		t.Fatal(err)
	}

	if err := store.DeleteRun("a"); err != nil {
		t.Fatalf("Failed to delete run: %v", err)
	}
	if _, err := store.GetRun("a"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Expected deleted run to be gone, got %v", err)
	}
	rows, err := store.GetPredictions("ab")
	if err != nil || len(rows) != 1 {
		t.Errorf("Expected sibling run rows to survive, got %d rows, err %v", len(rows), err)
	}
	if err := store.DeleteRun("a"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Expected ErrRunNotFound on second delete, got %v", err)
	}
}
