package service

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"proofjudge/internal/common/cache"
	"proofjudge/internal/evaluation/model"
	"proofjudge/internal/grader/repository"
	appErr "proofjudge/pkg/errors"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T, cfg Config) *GraderService {
	t.Helper()
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)
	c, err := cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: server.Addr()}))
	require.NoError(t, err)

	problems := repository.NewProblemRepository(c)
	require.NoError(t, problems.Save(context.Background(), repository.SeedProblems()...))
	svc := NewGraderService(repository.NewSubmissionRepository(c), problems, cfg)
	t.Cleanup(svc.Close)
	return svc
}

func waitForStatus(t *testing.T, svc *GraderService, id int64, status model.SubmissionStatus) model.Submission {
	t.Helper()
	var sub model.Submission
	require.Eventually(t, func() bool {
		var err error
		sub, err = svc.GetSubmission(context.Background(), id)
		return err == nil && sub.Status == status
	}, 2*time.Second, 5*time.Millisecond)
	return sub
}

func appealsFor(sub model.Submission, severity model.Severity, text string) []model.Appeal {
	var out []model.Appeal
	for _, e := range sub.Errors {
		if e.Severity == severity && e.AppealEligible(sub.AppealAttempts) {
			out = append(out, model.Appeal{ErrorID: e.ID, Justification: text})
		}
	}
	return out
}

func TestCleanSolutionCompletes(t *testing.T) {
	svc := newService(t, Config{})
	ctx := context.Background()

	sub, err := svc.CreateSubmission(ctx, 1, "a^2 + b^2 = c^2 by similar triangles")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, sub.Status)
	assert.Nil(t, sub.Score)
	assert.Empty(t, sub.Errors)

	done := waitForStatus(t, svc, sub.ID, model.StatusCompleted)
	require.NotNil(t, done.Score)
	assert.Equal(t, 100, *done.Score)
	assert.Empty(t, done.Errors)
}

func TestAppealRoundResolvesAndOverturns(t *testing.T) {
	svc := newService(t, Config{})
	ctx := context.Background()

	sub, err := svc.CreateSubmission(ctx, 1, "this proof has an Error in it")
	require.NoError(t, err)
	graded := waitForStatus(t, svc, sub.ID, model.StatusAppealing)
	require.Len(t, graded.Errors, 4)
	assert.Equal(t, "critical", graded.Errors[0].Type)
	assert.Equal(t, 0, *graded.Score)
	for _, e := range graded.Errors {
		assert.True(t, strings.HasPrefix(e.ID, "err-"))
		assert.Equal(t, model.ErrorActive, e.Status)
	}

	appeals := appealsFor(graded, model.SeverityHigh, "the step is correct")
	require.Len(t, appeals, 3)
	opened, err := svc.SubmitAppeals(ctx, sub.ID, appeals)
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessing, opened.Status)
	assert.Equal(t, 1, opened.AppealAttempts)
	assert.Equal(t, model.ErrorAppealing, opened.Errors[0].Status)
	assert.Equal(t, model.ErrorActive, opened.Errors[3].Status)

	done := waitForStatus(t, svc, sub.ID, model.StatusCompleted)
	assert.Equal(t, 100, *done.Score)
	for _, e := range done.Errors[:3] {
		assert.Equal(t, model.ErrorResolved, e.Status)
	}
	assert.Equal(t, model.ErrorOverturned, done.Errors[3].Status)

	current, err := model.ApplyServerSnapshot(graded, opened)
	require.NoError(t, err)
	_, err = model.ApplyServerSnapshot(current, done)
	assert.NoError(t, err)
}

func TestRejectedAppealsUntilLimit(t *testing.T) {
	svc := newService(t, Config{})
	ctx := context.Background()

	sub, err := svc.CreateSubmission(ctx, 2, "error")
	require.NoError(t, err)
	graded := waitForStatus(t, svc, sub.ID, model.StatusAppealing)
	target := graded.Errors[0].ID

	for round := 1; round <= model.MaxAppealAttempts; round++ {
		_, err := svc.SubmitAppeals(ctx, sub.ID, []model.Appeal{{ErrorID: target, Justification: "please"}})
		require.NoError(t, err, "round %d", round)
		graded = waitForStatus(t, svc, sub.ID, model.StatusAppealing)
		e, _ := graded.FindError(target)
		assert.Equal(t, model.ErrorRejected, e.Status)
		assert.Equal(t, round, graded.AppealAttempts)
	}

	_, err = svc.SubmitAppeals(ctx, sub.ID, []model.Appeal{{ErrorID: graded.Errors[1].ID, Justification: "correct"}})
	assert.True(t, appErr.Is(err, appErr.AppealLimitReached))

	accepted, err := svc.AcceptScore(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, accepted.Status)

	again, err := svc.AcceptScore(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, accepted, again)
}

func TestImageAppealIsRejected(t *testing.T) {
	svc := newService(t, Config{})
	ctx := context.Background()

	sub, err := svc.CreateSubmission(ctx, 1, "error")
	require.NoError(t, err)
	graded := waitForStatus(t, svc, sub.ID, model.StatusAppealing)

	image := base64.StdEncoding.EncodeToString([]byte("correct"))
	_, err = svc.SubmitAppeals(ctx, sub.ID, []model.Appeal{{ErrorID: graded.Errors[0].ID, ImageJustification: image}})
	require.NoError(t, err)
	done := waitForStatus(t, svc, sub.ID, model.StatusAppealing)
	assert.Equal(t, model.ErrorRejected, done.Errors[0].Status)
}

func TestAppealBatchValidation(t *testing.T) {
	svc := newService(t, Config{})
	ctx := context.Background()

	sub, err := svc.CreateSubmission(ctx, 1, "error")
	require.NoError(t, err)
	graded := waitForStatus(t, svc, sub.ID, model.StatusAppealing)
	first, second := graded.Errors[0].ID, graded.Errors[1].ID

	cases := []struct {
		name    string
		appeals []model.Appeal
	}{
		{name: "empty"},
		{name: "duplicate", appeals: []model.Appeal{{ErrorID: first, Justification: "a"}, {ErrorID: first, Justification: "b"}}},
		{name: "unknown", appeals: []model.Appeal{{ErrorID: "err-nope", Justification: "a"}}},
		{name: "both kinds", appeals: []model.Appeal{{ErrorID: first, Justification: "a", ImageJustification: "aGk="}}},
		{name: "bad image", appeals: []model.Appeal{{ErrorID: first, ImageJustification: "%%%"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.SubmitAppeals(ctx, sub.ID, tc.appeals)
			assert.True(t, appErr.Is(err, appErr.AppealBatchInvalid), "%v", err)
		})
	}

	_, err = svc.SubmitAppeals(ctx, sub.ID, []model.Appeal{{ErrorID: first, Justification: "ok"}, {ErrorID: second, Justification: "  "}})
	require.Error(t, err)
	assert.Equal(t, []string{second}, appErr.GetError(err).Details["missing"])

	unchanged, err := svc.GetSubmission(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, unchanged.AppealAttempts)
	assert.Equal(t, model.StatusAppealing, unchanged.Status)
}

func TestTransitionsOutsideAppealing(t *testing.T) {
	svc := newService(t, Config{StartDelay: time.Hour})
	ctx := context.Background()

	sub, err := svc.CreateSubmission(ctx, 1, "error")
	require.NoError(t, err)

	_, err = svc.SubmitAppeals(ctx, sub.ID, []model.Appeal{{ErrorID: "x", Justification: "y"}})
	assert.True(t, appErr.IsInvalidTransition(err))
	_, err = svc.AcceptScore(ctx, sub.ID)
	assert.True(t, appErr.IsInvalidTransition(err))

	_, err = svc.GetSubmission(ctx, 404)
	assert.True(t, appErr.Is(err, appErr.SubmissionNotFound))
}

func TestEvaluationErrorOnCrash(t *testing.T) {
	svc := newService(t, Config{})
	sub, err := svc.CreateSubmission(context.Background(), 3, "this will panic")
	require.NoError(t, err)
	done := waitForStatus(t, svc, sub.ID, model.StatusEvaluationError)
	require.NotNil(t, done.Feedback)
	assert.Nil(t, done.Score)
}

func TestCreateValidation(t *testing.T) {
	svc := newService(t, Config{MaxSolutionBytes: 8})
	ctx := context.Background()

	_, err := svc.CreateSubmission(ctx, 0, "x")
	assert.True(t, appErr.Is(err, appErr.ValidationFailed))
	_, err = svc.CreateSubmission(ctx, 1, "   ")
	assert.True(t, appErr.Is(err, appErr.ValidationFailed))
	_, err = svc.CreateSubmission(ctx, 1, "much too long")
	assert.True(t, appErr.Is(err, appErr.SolutionTooLarge))
	_, err = svc.CreateSubmission(ctx, 9, "x")
	assert.True(t, appErr.Is(err, appErr.ProblemNotFound))
}

func TestCloseStopsPendingJobs(t *testing.T) {
	svc := newService(t, Config{StartDelay: time.Hour})
	sub, err := svc.CreateSubmission(context.Background(), 1, "x")
	require.NoError(t, err)

	finished := make(chan struct{})
	go func() {
		svc.Close()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("close did not return")
	}
	got, err := svc.GetSubmission(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)
}

func TestProblemReads(t *testing.T) {
	svc := newService(t, Config{})
	ctx := context.Background()

	problems, err := svc.ListProblems(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, problems, 3)

	problems, err = svc.ListProblems(ctx, 2, 500)
	require.NoError(t, err)
	require.Len(t, problems, 1)
	assert.Equal(t, int64(3), problems[0].ID)

	_, err = svc.ListProblems(ctx, -1, 10)
	assert.Error(t, err)
}

func TestEvaluatorSettle(t *testing.T) {
	e := NewEvaluator()
	sub := model.Submission{Errors: []model.ErrorDetail{
		{ID: "a", Severity: model.SeverityHigh, Status: model.ErrorRejected},
		{ID: "b", Severity: model.SeverityLow, Status: model.ErrorActive},
	}}
	e.Settle(&sub)
	assert.Equal(t, model.StatusAppealing, sub.Status)
	assert.Equal(t, 0, *sub.Score)
	assert.Equal(t, model.ErrorActive, sub.Errors[1].Status)

	sub.Errors[0].Status = model.ErrorResolved
	e.Settle(&sub)
	assert.Equal(t, model.StatusCompleted, sub.Status)
	assert.Equal(t, 100, *sub.Score)
	assert.Equal(t, model.ErrorOverturned, sub.Errors[1].Status)
}
