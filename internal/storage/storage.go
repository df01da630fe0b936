// Package storage persists batch prediction runs for the KOI classifier.
// It uses BoltDB as the underlying storage engine: one bucket holds run
// summaries, one holds per-row predictions keyed by run and row number, and
// a time index supports range queries over run creation time.
package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"koi-classifier/internal/common"
)

const (
	runsBucket        = "runs"        // Run summaries keyed by run ID
	predictionsBucket = "predictions" // Row results keyed by "runID_row"
	runIndexBucket    = "runs_by_time"
)

// ErrRunNotFound is returned when a run ID is not in the store.
var ErrRunNotFound = errors.New("run not found")

// Store provides persistent storage for prediction runs using BoltDB.
type Store struct {
	db *bbolt.DB // BoltDB database instance
}

// New creates a new storage instance with the specified data path.
// It initializes the BoltDB database and creates necessary buckets.
func New(dataPath string) (*Store, error) {
	dbPath := filepath.Join(dataPath, common.DatabaseFile)

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{runsBucket, predictionsBucket, runIndexBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}

// RunSummary counts the outcomes of a run.
type RunSummary struct {
	TotalRows      int `json:"total_rows_processed"`
	Confirmed      int `json:"exoplanets_found"`
	Candidates     int `json:"candidates"`
	FalsePositives int `json:"false_positives"`
	Errors         int `json:"errors"`
}

// RunRecord describes one persisted batch run.
type RunRecord struct {
	ID            string     `json:"id"`
	CreatedAt     time.Time  `json:"created_at"`
	Source        string     `json:"source"`
	BundleVersion string     `json:"bundle_version"`
	StatsMode     string     `json:"stats_mode"`
	DurationMs    int64      `json:"duration_ms"`
	Summary       RunSummary `json:"summary"`
}

// PredictionRecord is one row of a run. Error is empty on success.
type PredictionRecord struct {
	Row        int        `json:"row_number"`
	Prediction string     `json:"prediction,omitempty"`
	Proba      [3]float64 `json:"proba"`
	Error      string     `json:"error,omitempty"`
	ErrorKind  string     `json:"error_kind,omitempty"`
}

func predictionKey(runID string, row int) []byte {
	return []byte(fmt.Sprintf("%s_%010d", runID, row))
}

func indexKey(ts time.Time, runID string) []byte {
	return []byte(fmt.Sprintf("%020d_%s", ts.UnixNano(), runID))
}

// SaveRun stores a run and its row results in a single transaction.
// Saving an existing run ID replaces its rows.
func (s *Store) SaveRun(run RunRecord, preds []PredictionRecord) error {
	if run.ID == "" {
		return fmt.Errorf("run ID cannot be empty")
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		runs := tx.Bucket([]byte(runsBucket))
		rows := tx.Bucket([]byte(predictionsBucket))
		index := tx.Bucket([]byte(runIndexBucket))

		if old := runs.Get([]byte(run.ID)); old != nil {
			var prev RunRecord
			if err := json.Unmarshal(old, &prev); err == nil {
				if err := index.Delete(indexKey(prev.CreatedAt, prev.ID)); err != nil {
					return fmt.Errorf("delete index entry: %w", err)
				}
			}
			if err := deletePrefix(rows, []byte(run.ID+"_")); err != nil {
				return err
			}
		}

		data, err := json.Marshal(run)
		if err != nil {
			return fmt.Errorf("marshal run: %w", err)
		}
		if err := runs.Put([]byte(run.ID), data); err != nil {
			return err
		}
		if err := index.Put(indexKey(run.CreatedAt, run.ID), []byte(run.ID)); err != nil {
			return err
		}

		for _, p := range preds {
			data, err := json.Marshal(p)
			if err != nil {
				return fmt.Errorf("marshal prediction row %d: %w", p.Row, err)
			}
			if err := rows.Put(predictionKey(run.ID, p.Row), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetRun returns the run with the given ID or ErrRunNotFound.
func (s *Store) GetRun(id string) (*RunRecord, error) {
	var run RunRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(runsBucket)).Get([]byte(id))
		if data == nil {
			return ErrRunNotFound
		}
		return json.Unmarshal(data, &run)
	})
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// GetPredictions returns the rows of a run ordered by row number.
func (s *Store) GetPredictions(id string) ([]PredictionRecord, error) {
	var preds []PredictionRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(runsBucket)).Get([]byte(id)) == nil {
			return ErrRunNotFound
		}

		c := tx.Bucket([]byte(predictionsBucket)).Cursor()
		prefix := []byte(id + "_")
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var p PredictionRecord
			if err := json.Unmarshal(v, &p); err != nil {
				continue // Skip malformed records
			}
			preds = append(preds, p)
		}
		return nil
	})

	return preds, err
}

// ListRuns returns runs created within [start, end], oldest first.
func (s *Store) ListRuns(start, end time.Time) ([]RunRecord, error) {
	var runs []RunRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		byID := tx.Bucket([]byte(runsBucket))
		c := tx.Bucket([]byte(runIndexBucket)).Cursor()

		startKey := []byte(fmt.Sprintf("%020d", start.UnixNano()))
		endKey := []byte(fmt.Sprintf("%020d_\xff", end.UnixNano()))

		for k, v := c.Seek(startKey); k != nil && bytes.Compare(k, endKey) <= 0; k, v = c.Next() {
			data := byID.Get(v)
			if data == nil {
				continue
			}
			var run RunRecord
			if err := json.Unmarshal(data, &run); err != nil {
				continue
			}
			runs = append(runs, run)
		}
		return nil
	})

	return runs, err
}

// DeleteRun removes a run and its rows.
func (s *Store) DeleteRun(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		runs := tx.Bucket([]byte(runsBucket))
		data := runs.Get([]byte(id))
		if data == nil {
			return ErrRunNotFound
		}
		var run RunRecord
		if err := json.Unmarshal(data, &run); err == nil {
			if err := tx.Bucket([]byte(runIndexBucket)).Delete(indexKey(run.CreatedAt, run.ID)); err != nil {
				return err
			}
		}
		if err := deletePrefix(tx.Bucket([]byte(predictionsBucket)), []byte(id+"_")); err != nil {
			return err
		}
		return runs.Delete([]byte(id))
	})
}

func deletePrefix(b *bbolt.Bucket, prefix []byte) error {
	var keys [][]byte
	c := b.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return fmt.Errorf("delete %s: %w", k, err)
		}
	}
	return nil
}
