// Package storage keeps the history of training runs in BoltDB so operators can
// compare runs and trace a served artifact back to the run that produced it.
//
// Run records are keyed by start time, so cursor scans return them in
// chronological order; a second bucket indexes them by run id.
package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"defect-predictor/internal/evaluate"
	"defect-predictor/internal/ml"
)

const (
	runsBucket     = "runs"    // time-ordered run records
	runIndexBucket = "run_ids" // run id -> runs key

	dbFile = "defect-runs.db"
)

// ErrRunNotFound is returned when no run has the requested id.
var ErrRunNotFound = errors.New("run not found")

// Run statuses
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// RunRecord describes one training run.
type RunRecord struct {
	ID           string                     `json:"id"`
	StartedAt    time.Time                  `json:"started_at"`
	FinishedAt   time.Time                  `json:"finished_at"`
	Status       string                     `json:"status"`
	Error        string                     `json:"error,omitempty"`
	Schema       string                     `json:"schema"`
	Seed         int64                      `json:"seed"`
	DatasetRows  int                        `json:"dataset_rows"`
	TrainRows    int                        `json:"train_rows"`
	ValRows      int                        `json:"validation_rows"`
	TestRows     int                        `json:"test_rows"`
	ArtifactPath string                     `json:"artifact_path,omitempty"`
	BestParams   map[string]ml.Params       `json:"best_params,omitempty"`
	Reports      map[string]evaluate.Report `json:"reports,omitempty"`
}

// Duration returns how long the run took.
func (r RunRecord) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Store persists run records.
type Store struct {
	db *bbolt.DB
}

// New opens (or creates) the run database inside dataPath.
func New(dataPath string) (*Store, error) {
	dbPath := filepath.Join(dataPath, dbFile)

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(runsBucket)); err != nil {
			return fmt.Errorf("create runs bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(runIndexBucket)); err != nil {
			return fmt.Errorf("create run index bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database. It is safe to call more than once.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// SaveRun inserts or replaces a run record.
func (s *Store) SaveRun(run RunRecord) error {
	if run.ID == "" {
		return fmt.Errorf("run has no id")
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		runs := tx.Bucket([]byte(runsBucket))
		index := tx.Bucket([]byte(runIndexBucket))

		data, err := json.Marshal(run)
		if err != nil {
			return fmt.Errorf("marshal run: %w", err)
		}

		if old := index.Get([]byte(run.ID)); old != nil {
			if err := runs.Delete(old); err != nil {
				return fmt.Errorf("replace run: %w", err)
			}
		}

		key := runKey(run.StartedAt, run.ID)
		if err := runs.Put(key, data); err != nil {
			return fmt.Errorf("store run: %w", err)
		}
		return index.Put([]byte(run.ID), key)
	})
}

// GetRun returns the run with id.
func (s *Store) GetRun(id string) (RunRecord, error) {
	var run RunRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		key := tx.Bucket([]byte(runIndexBucket)).Get([]byte(id))
		if key == nil {
			return fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		data := tx.Bucket([]byte(runsBucket)).Get(key)
		if data == nil {
			return fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		return json.Unmarshal(data, &run)
	})
	return run, err
}

// ListRuns returns up to limit runs, newest first. limit <= 0 returns all.
func (s *Store) ListRuns(limit int) ([]RunRecord, error) {
	var runs []RunRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(runsBucket)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var run RunRecord
			if err := json.Unmarshal(v, &run); err != nil {
				continue // skip malformed records
			}
			runs = append(runs, run)
			if limit > 0 && len(runs) >= limit {
				break
			}
		}
		return nil
	})
	return runs, err
}

// LatestRun returns the most recently started run.
func (s *Store) LatestRun() (RunRecord, error) {
	runs, err := s.ListRuns(1)
	if err != nil {
		return RunRecord{}, err
	}
	if len(runs) == 0 {
		return RunRecord{}, ErrRunNotFound
	}
	return runs[0], nil
}

// RunsBetween returns runs started within [start, end], oldest first.
func (s *Store) RunsBetween(start, end time.Time) ([]RunRecord, error) {
	var runs []RunRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(runsBucket)).Cursor()
		startKey := []byte(fmt.Sprintf("%020d", start.UnixNano()))
		endKey := []byte(fmt.Sprintf("%020d~", end.UnixNano()))

		for k, v := c.Seek(startKey); k != nil && bytes.Compare(k, endKey) <= 0; k, v = c.Next() {
			var run RunRecord
			if err := json.Unmarshal(v, &run); err != nil {
				continue
			}
			runs = append(runs, run)
		}
		return nil
	})
	return runs, err
}

// runKey sorts lexically by start time; the id breaks ties.
func runKey(startedAt time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%020d_%s", startedAt.UnixNano(), id))
}
