package repository

import (
	"context"
	"errors"
	"sync"
	"testing"

	"proofjudge/internal/common/cache"
	"proofjudge/internal/evaluation/model"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCache(t *testing.T) cache.Cache {
	t.Helper()
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)
	c, err := cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: server.Addr()}))
	require.NoError(t, err)
	return c
}

func TestSubmissionCreateAndGet(t *testing.T) {
	repo := NewSubmissionRepository(newCache(t))
	ctx := context.Background()

	first := model.Submission{ProblemID: 1, SolutionText: "a", Status: model.StatusPending}
	require.NoError(t, repo.Create(ctx, &first))
	second := model.Submission{ProblemID: 1, SolutionText: "b", Status: model.StatusPending}
	require.NoError(t, repo.Create(ctx, &second))
	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, int64(2), second.ID)

	got, err := repo.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "b", got.SolutionText)
	assert.NotNil(t, got.Errors)

	_, err = repo.Get(ctx, 99)
	assert.ErrorIs(t, err, ErrSubmissionNotFound)
}

func TestSubmissionUpdate(t *testing.T) {
	repo := NewSubmissionRepository(newCache(t))
	ctx := context.Background()
	sub := model.Submission{ProblemID: 1, Status: model.StatusAppealing}
	require.NoError(t, repo.Create(ctx, &sub))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Update(ctx, sub.ID, func(s *model.Submission) error {
				s.AppealAttempts++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := repo.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.AppealAttempts)

	boom := errors.New("boom")
	_, err = repo.Update(ctx, sub.ID, func(s *model.Submission) error {
		s.Status = model.StatusCompleted
		return boom
	})
	assert.ErrorIs(t, err, boom)
	got, err = repo.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAppealing, got.Status)

	_, err = repo.Update(ctx, 42, func(*model.Submission) error { return nil })
	assert.ErrorIs(t, err, ErrSubmissionNotFound)
}

func TestProblemCatalogue(t *testing.T) {
	repo := NewProblemRepository(newCache(t))
	ctx := context.Background()
	require.NoError(t, repo.Save(ctx, SeedProblems()...))

	p, err := repo.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "Prove the Quadratic Formula", p.Title)

	all, err := repo.List(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, int64(1), all[0].ID)
	assert.Equal(t, int64(3), all[2].ID)

	page, err := repo.List(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, int64(2), page[0].ID)

	_, err = repo.Get(ctx, 7)
	assert.ErrorIs(t, err, ErrProblemNotFound)
}

func TestProblemSaveValidates(t *testing.T) {
	repo := NewProblemRepository(newCache(t))
	err := repo.Save(context.Background(), model.Problem{ID: 1, Title: "x", Difficulty: 12})
	assert.Error(t, err)

	require.NoError(t, repo.Save(context.Background(), model.Problem{ID: 5, Title: "x", Difficulty: 2, Topics: []string{"A", " a ", "B"}}))
	p, err := repo.Get(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, p.Topics)
}

func TestSeedIfEmpty(t *testing.T) {
	repo := NewProblemRepository(newCache(t))
	ctx := context.Background()

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	seeded, err := repo.SeedIfEmpty(ctx, SeedProblems()...)
	require.NoError(t, err)
	assert.True(t, seeded)

	custom := model.Problem{ID: 9, Title: "Prove there are infinitely many primes", Difficulty: 2}
	seeded, err = repo.SeedIfEmpty(ctx, custom)
	require.NoError(t, err)
	assert.False(t, seeded)

	n, err = repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	_, err = repo.Get(ctx, 9)
	assert.ErrorIs(t, err, ErrProblemNotFound)
}
