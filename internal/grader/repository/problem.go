package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"proofjudge/internal/common/cache"
	"proofjudge/internal/evaluation/model"
)

const (
	problemKeyPrefix = "grader:problem:"
	problemIndexKey  = "grader:problems"
)

var (
	ErrProblemNotFound = errors.New("problem not found")
)

// ProblemRepository defines problem reads. Problems are authored elsewhere;
// the grader only keeps a seeded catalogue.
type ProblemRepository interface {
	Save(ctx context.Context, problems ...model.Problem) error
	Get(ctx context.Context, id int64) (model.Problem, error)
	List(ctx context.Context, skip, limit int) ([]model.Problem, error)
	Count(ctx context.Context) (int64, error)
}

// CacheProblemRepository keeps problems as JSON documents plus a sorted id index.
type CacheProblemRepository struct {
	cache cache.Cache
}

func NewProblemRepository(cacheClient cache.Cache) *CacheProblemRepository {
	return &CacheProblemRepository{cache: cacheClient}
}

// Save stores problems and indexes them by id.
func (r *CacheProblemRepository) Save(ctx context.Context, problems ...model.Problem) error {
	members := make([]cache.ZMember, 0, len(problems))
	for _, p := range problems {
		if p.ID <= 0 {
			return fmt.Errorf("problem id must be positive")
		}
		p.Topics = model.NormalizeTopics(p.Topics)
		if err := p.Validate(); err != nil {
			return fmt.Errorf("problem %d: %w", p.ID, err)
		}
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode problem %d failed: %w", p.ID, err)
		}
		if err := r.cache.Set(ctx, problemKey(p.ID), data, 0); err != nil {
			return fmt.Errorf("store problem %d failed: %w", p.ID, err)
		}
		members = append(members, cache.ZMember{Score: float64(p.ID), Member: strconv.FormatInt(p.ID, 10)})
	}
	return r.cache.ZAdd(ctx, problemIndexKey, members...)
}

func (r *CacheProblemRepository) Get(ctx context.Context, id int64) (model.Problem, error) {
	raw, err := r.cache.Get(ctx, problemKey(id))
	if err != nil {
		return model.Problem{}, fmt.Errorf("load problem %d failed: %w", id, err)
	}
	if raw == "" {
		return model.Problem{}, ErrProblemNotFound
	}
	var p model.Problem
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return model.Problem{}, fmt.Errorf("decode problem %d failed: %w", id, err)
	}
	return p, nil
}

// List returns problems ordered by id.
func (r *CacheProblemRepository) List(ctx context.Context, skip, limit int) ([]model.Problem, error) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		return []model.Problem{}, nil
	}
	ids, err := r.cache.ZRange(ctx, problemIndexKey, int64(skip), int64(skip+limit-1))
	if err != nil {
		return nil, fmt.Errorf("list problems failed: %w", err)
	}
	out := make([]model.Problem, 0, len(ids))
	for _, raw := range ids {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		p, err := r.Get(ctx, id)
		if errors.Is(err, ErrProblemNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Count returns the number of indexed problems.
func (r *CacheProblemRepository) Count(ctx context.Context) (int64, error) {
	n, err := r.cache.ZCard(ctx, problemIndexKey)
	if err != nil {
		return 0, fmt.Errorf("count problems failed: %w", err)
	}
	return n, nil
}

// SeedIfEmpty stores problems only when the catalogue has none, so an external
// redis keeps what it already holds. It reports whether seeding happened.
func (r *CacheProblemRepository) SeedIfEmpty(ctx context.Context, problems ...model.Problem) (bool, error) {
	n, err := r.Count(ctx)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	return true, r.Save(ctx, problems...)
}

func problemKey(id int64) string {
	return fmt.Sprintf("%s%d", problemKeyPrefix, id)
}

// SeedProblems is the catalogue the dev grading service starts with.
func SeedProblems() []model.Problem {
	created := func(s string) time.Time {
		t, _ := time.Parse(time.RFC3339, s)
		return t
	}
	return []model.Problem{
		{
			ID:          1,
			Title:       "Prove the Pythagorean Theorem",
			Statement:   "Prove that in a right-angled triangle the square of the hypotenuse equals the sum of the squares of the other two sides.\n\n$$a^2 + b^2 = c^2$$",
			Difficulty:  3,
			Topics:      []string{"Geometry", "Triangles", "Algebra"},
			IsPublished: true,
			CreatedByID: 1,
			CreatedAt:   created("2023-01-15T10:30:00Z"),
		},
		{
			ID:          2,
			Title:       "Prove the Quadratic Formula",
			Statement:   "Prove that the roots of $ax^2 + bx + c = 0$ are $$x = \\frac{-b \\pm \\sqrt{b^2 - 4ac}}{2a}$$",
			Difficulty:  4,
			Topics:      []string{"Algebra", "Equations"},
			IsPublished: true,
			CreatedByID: 1,
			CreatedAt:   created("2023-01-20T14:15:00Z"),
		},
		{
			ID:          3,
			Title:       "Prove the Fundamental Theorem of Calculus",
			Statement:   "Prove that if $f$ is continuous on $[a, b]$ and $F$ is an antiderivative of $f$, then $$\\int_a^b f(x)\\,dx = F(b) - F(a)$$",
			Difficulty:  7,
			Topics:      []string{"Calculus", "Integration"},
			IsPublished: true,
			CreatedByID: 2,
			CreatedAt:   created("2023-02-01T09:45:00Z"),
		},
	}
}

var _ ProblemRepository = (*CacheProblemRepository)(nil)
