package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"proofjudge/internal/common/cache"
	"proofjudge/internal/evaluation/model"
)

const (
	submissionKeyPrefix = "grader:submission:"
	submissionSeqKey    = "grader:submission:seq"
	defaultLockTTL      = 5 * time.Second
)

var (
	ErrSubmissionNotFound = errors.New("submission not found")
)

// SubmissionRepository defines submission persistence interfaces.
type SubmissionRepository interface {
	Create(ctx context.Context, submission *model.Submission) error
	Get(ctx context.Context, id int64) (model.Submission, error)
	// Update loads the submission, applies fn and stores the result atomically
	// with respect to other Update calls. Nothing is stored when fn fails.
	Update(ctx context.Context, id int64, fn func(sub *model.Submission) error) (model.Submission, error)
}

// CacheSubmissionRepository stores submissions as JSON documents in the cache.
type CacheSubmissionRepository struct {
	cache   cache.Cache
	lockTTL time.Duration
}

// NewSubmissionRepository creates a cache-backed submission repository.
func NewSubmissionRepository(cacheClient cache.Cache) *CacheSubmissionRepository {
	return &CacheSubmissionRepository{cache: cacheClient, lockTTL: defaultLockTTL}
}

// Create assigns the next id and stores the submission.
func (r *CacheSubmissionRepository) Create(ctx context.Context, submission *model.Submission) error {
	if submission == nil {
		return errors.New("submission is nil")
	}
	id, err := r.cache.Incr(ctx, submissionSeqKey)
	if err != nil {
		return fmt.Errorf("allocate submission id failed: %w", err)
	}
	submission.ID = id
	return r.save(ctx, *submission)
}

func (r *CacheSubmissionRepository) Get(ctx context.Context, id int64) (model.Submission, error) {
	raw, err := r.cache.Get(ctx, submissionKey(id))
	if err != nil {
		return model.Submission{}, fmt.Errorf("load submission %d failed: %w", id, err)
	}
	if raw == "" {
		return model.Submission{}, ErrSubmissionNotFound
	}
	var sub model.Submission
	if err := json.Unmarshal([]byte(raw), &sub); err != nil {
		return model.Submission{}, fmt.Errorf("decode submission %d failed: %w", id, err)
	}
	sub.Normalize()
	return sub, nil
}

func (r *CacheSubmissionRepository) Update(ctx context.Context, id int64, fn func(sub *model.Submission) error) (model.Submission, error) {
	var out model.Submission
	err := cache.WithLock(ctx, r.cache, submissionKey(id)+":lock", r.lockTTL, func(ctx context.Context) error {
		sub, err := r.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(&sub); err != nil {
			return err
		}
		if err := r.save(ctx, sub); err != nil {
			return err
		}
		out = sub
		return nil
	})
	return out, err
}

func (r *CacheSubmissionRepository) save(ctx context.Context, sub model.Submission) error {
	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("encode submission %d failed: %w", sub.ID, err)
	}
	if err := r.cache.Set(ctx, submissionKey(sub.ID), data, 0); err != nil {
		return fmt.Errorf("store submission %d failed: %w", sub.ID, err)
	}
	return nil
}

func submissionKey(id int64) string {
	return fmt.Sprintf("%s%d", submissionKeyPrefix, id)
}

var _ SubmissionRepository = (*CacheSubmissionRepository)(nil)
