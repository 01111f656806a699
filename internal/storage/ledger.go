package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/zombor/invoice-reconciler/internal/workflow"
)

const (
	batchBucketName  = "batches"
	recordBucketName = "records"
)

// ErrNotFound is returned when a batch is not in the ledger.
var ErrNotFound = errors.New("not found")

// Ledger keeps the history of batches and their per-file records in BoltDB.
type Ledger struct {
	db *bbolt.DB
}

// NewLedger opens or creates the ledger database at path
func NewLedger(path string) (*Ledger, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	// Create buckets if they don't exist
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(batchBucketName)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(recordBucketName)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &Ledger{db: db}, nil
}

// records are keyed batch id, NUL, source path so a batch's records are one
// contiguous key range.
func recordKey(batchID, source string) []byte {
	return append(recordPrefix(batchID), source...)
}

func recordPrefix(batchID string) []byte {
	return append([]byte(batchID), 0)
}

// SaveBatch stores the batch summary, replacing any earlier one.
func (l *Ledger) SaveBatch(summary workflow.Summary) error {
	return l.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(batchBucketName))
		data, err := json.Marshal(summary)
		if err != nil {
			return fmt.Errorf("marshaling batch: %w", err)
		}
		return bucket.Put([]byte(summary.BatchID), data)
	})
}

// GetBatch retrieves a batch summary by ID
func (l *Ledger) GetBatch(id string) (*workflow.Summary, error) {
	var summary *workflow.Summary
	err := l.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(batchBucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("batch %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &summary)
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// ListBatches returns every batch, most recent first.
func (l *Ledger) ListBatches() ([]workflow.Summary, error) {
	batches := make([]workflow.Summary, 0)
	err := l.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(batchBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var summary workflow.Summary
			if err := json.Unmarshal(v, &summary); err != nil {
				return fmt.Errorf("unmarshaling batch: %w", err)
			}
			batches = append(batches, summary)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(batches, func(i, j int) bool {
		return batches[i].StartedAt.After(batches[j].StartedAt)
	})
	return batches, nil
}

// SaveRecord stores one file's record under its batch.
func (l *Ledger) SaveRecord(record Record) error {
	if record.BatchID == "" {
		return errors.New("record has no batch id")
	}
	return l.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(recordBucketName))
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshaling record: %w", err)
		}
		return bucket.Put(recordKey(record.BatchID, record.SourceFile), data)
	})
}

// ListRecords returns the records of one batch ordered by source path.
func (l *Ledger) ListRecords(batchID string) ([]Record, error) {
	records := make([]Record, 0)
	prefix := recordPrefix(batchID)
	err := l.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(recordBucketName)).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var record Record
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("unmarshaling record: %w", err)
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Report records file outcomes and batch summaries as controller events
// arrive. Ledger errors are logged; history is never allowed to fail a batch.
func (l *Ledger) Report(e workflow.Event) {
	switch e.Type {
	case workflow.EventFileCompleted:
		if e.Task == nil {
			return
		}
		if err := l.SaveRecord(NewRecord(e.BatchID, *e.Task)); err != nil {
			slog.Error("Failed to record file in history", "file", e.Task.SourcePath, "error", err)
		}
	case workflow.EventBatchCompleted:
		if e.Summary == nil {
			return
		}
		if err := l.SaveBatch(*e.Summary); err != nil {
			slog.Error("Failed to record batch in history", "batch", e.BatchID, "error", err)
		}
	}
}

// Close closes the database connection
func (l *Ledger) Close() error {
	return l.db.Close()
}
