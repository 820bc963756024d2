package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/docuflow/pkg/docmodel"
)

var bucketJobs = []byte("jobs")

// BoltStore is the durable job index backed by bbolt, one bucket holding
// every job keyed by job_id, JSON-encoded. Listing operations (ListByBatch,
// ListInFlight) scan the bucket; the job count expected for this workload
// (single-tenant queue depth, not a multi-tenant index) keeps a full scan
// cheap enough to avoid a secondary index.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) the job index at dataDir/queue.db.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	path := filepath.Join(dataDir, "queue.db")
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open queue db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketJobs)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

func (s *BoltStore) put(job *docmodel.Job) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		data, err := json.Marshal(job)
		if err != nil {
			return err
		}
		return b.Put([]byte(job.JobID), data)
	})
}

func (s *BoltStore) Create(_ context.Context, job *docmodel.Job) error {
	return s.put(job)
}

func (s *BoltStore) Update(_ context.Context, job *docmodel.Job) error {
	job.UpdatedAt = time.Now()
	return s.put(job)
}

func (s *BoltStore) Get(_ context.Context, jobID string) (*docmodel.Job, error) {
	var job *docmodel.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		data := b.Get([]byte(jobID))
		if data == nil {
			return nil
		}
		job = &docmodel.Job{}
		return json.Unmarshal(data, job)
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (s *BoltStore) ListByBatch(_ context.Context, batchID string) ([]*docmodel.Job, error) {
	var jobs []*docmodel.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		return b.ForEach(func(_, v []byte) error {
			var job docmodel.Job
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			if job.ParentBatchID == batchID {
				jobs = append(jobs, &job)
			}
			return nil
		})
	})
	return jobs, err
}

func (s *BoltStore) ListInFlight(_ context.Context, now time.Time) ([]*docmodel.Job, error) {
	var jobs []*docmodel.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		return b.ForEach(func(_, v []byte) error {
			var job docmodel.Job
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			if job.InFlightUntil.After(now) {
				jobs = append(jobs, &job)
			}
			return nil
		})
	})
	return jobs, err
}

func (s *BoltStore) ListRecoverable(_ context.Context, now time.Time) ([]*docmodel.Job, error) {
	var jobs []*docmodel.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		return b.ForEach(func(_, v []byte) error {
			var job docmodel.Job
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			stuck := job.State == docmodel.JobStateRunning && !job.InFlightUntil.IsZero() && job.InFlightUntil.Before(now)
			if job.State == docmodel.JobStateQueued || stuck {
				jobs = append(jobs, &job)
			}
			return nil
		})
	})
	return jobs, err
}
