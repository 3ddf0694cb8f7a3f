package store

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/mahirjain10/brainscan-workers/internal/types"
)

const (
	jobKeyPrefix   = "job:"
	imageKeyPrefix = "image:"

	maxConflictRetries = 5
)

// BadgerStore is an embedded Store for local runs and tests. Values are
// msgpack-encoded records.
type BadgerStore struct {
	db *badger.DB
}

var _ Store = (*BadgerStore)(nil)

// OpenBadger opens a Badger database at path, or an in-memory one when
// inMemory is true.
func OpenBadger(path string, inMemory bool) (*BadgerStore, error) {
	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("create badger dir %s: %w", path, err)
		}
		opts = badger.DefaultOptions(path)
	}
	opts.Logger = &badgerLogger{logger: log.With().Str("component", "badger").Logger()}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error {
	if s.db.IsClosed() {
		return nil
	}
	return s.db.Close()
}

func jobKey(id string) []byte   { return []byte(jobKeyPrefix + id) }
func imageKey(id string) []byte { return []byte(imageKeyPrefix + id) }

// update runs fn in a read-write transaction, retrying on conflicts.
func (s *BadgerStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if s.db.IsClosed() {
		return ErrClosed
	}
	var err error
	for i := 0; i < maxConflictRetries; i++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func getRecord(txn *badger.Txn, key []byte, out any) (bool, error) {
	item, err := txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return false, err
	}
	if err := msgpack.Unmarshal(val, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func setRecord(txn *badger.Txn, key []byte, v any) error {
	val, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return txn.Set(key, val)
}

func (s *BadgerStore) CreateJob(ctx context.Context, job *types.Job) (bool, error) {
	created := false
	err := s.update(ctx, func(txn *badger.Txn) error {
		created = false
		var existing types.Job
		found, err := getRecord(txn, jobKey(job.JobID), &existing)
		if err != nil || found {
			return err
		}
		created = true
		return setRecord(txn, jobKey(job.JobID), job)
	})
	if err != nil {
		return false, fmt.Errorf("create job %s: %w", job.JobID, err)
	}
	return created, nil
}

func (s *BadgerStore) GetJob(ctx context.Context, jobID string) (*types.Job, error) {
	if s.db.IsClosed() {
		return nil, ErrClosed
	}
	var job types.Job
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		found, err = getRecord(txn, jobKey(jobID), &job)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	if !found {
		return nil, nil
	}
	return &job, nil
}

func (s *BadgerStore) TransitionJob(ctx context.Context, jobID string, t types.JobTransition) (bool, error) {
	applied := false
	err := s.update(ctx, func(txn *badger.Txn) error {
		applied = false
		var job types.Job
		found, err := getRecord(txn, jobKey(jobID), &job)
		if err != nil {
			return err
		}
		if !found {
			return ErrNotFound
		}
		if job.StateRank >= t.State.Rank() {
			return nil
		}
		job.Apply(t)
		applied = true
		return setRecord(txn, jobKey(jobID), &job)
	})
	if err != nil {
		return false, fmt.Errorf("transition job %s -> %s: %w", jobID, t.State, err)
	}
	return applied, nil
}

func (s *BadgerStore) AppendJobAttempts(ctx context.Context, jobID string, attempts []types.Attempt) error {
	if len(attempts) == 0 {
		return nil
	}
	err := s.update(ctx, func(txn *badger.Txn) error {
		var job types.Job
		found, err := getRecord(txn, jobKey(jobID), &job)
		if err != nil {
			return err
		}
		if !found {
			return ErrNotFound
		}
		job.Attempts = append(job.Attempts, attempts...)
		return setRecord(txn, jobKey(jobID), &job)
	})
	if err != nil {
		return fmt.Errorf("append attempts to job %s: %w", jobID, err)
	}
	return nil
}

func (s *BadgerStore) CreateImage(ctx context.Context, img *types.Image) (bool, error) {
	created := false
	err := s.update(ctx, func(txn *badger.Txn) error {
		created = false
		var existing types.Image
		found, err := getRecord(txn, imageKey(img.ID), &existing)
		if err != nil || found {
			return err
		}
		created = true
		return setRecord(txn, imageKey(img.ID), img)
	})
	if err != nil {
		return false, fmt.Errorf("create image %s: %w", img.ID, err)
	}
	return created, nil
}

func (s *BadgerStore) GetImage(ctx context.Context, imageID string) (*types.Image, error) {
	if s.db.IsClosed() {
		return nil, ErrClosed
	}
	var img types.Image
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		found, err = getRecord(txn, imageKey(imageID), &img)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get image %s: %w", imageID, err)
	}
	if !found {
		return nil, nil
	}
	return &img, nil
}

func (s *BadgerStore) UpdateImage(ctx context.Context, imageID string, u types.ImageUpdate) (bool, error) {
	applied := false
	err := s.update(ctx, func(txn *badger.Txn) error {
		applied = false
		var img types.Image
		found, err := getRecord(txn, imageKey(imageID), &img)
		if err != nil {
			return err
		}
		if !found {
			return ErrNotFound
		}
		if !u.Allows(img.ProcessingRank) {
			return nil
		}
		img.Apply(u)
		applied = true
		return setRecord(txn, imageKey(imageID), &img)
	})
	if err != nil {
		return false, fmt.Errorf("update image %s: %w", imageID, err)
	}
	return applied, nil
}

// badgerLogger routes Badger's internal logging through zerolog.
type badgerLogger struct {
	logger zerolog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error().Msgf(format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn().Msgf(format, args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug().Msgf(format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Trace().Msgf(format, args...)
}
