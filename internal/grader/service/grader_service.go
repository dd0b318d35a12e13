package service

import (
	"context"
	"encoding/base64"
	stderrors "errors"
	"strings"
	"sync"
	"time"

	"proofjudge/internal/common/cache"
	"proofjudge/internal/evaluation/model"
	"proofjudge/internal/grader/repository"
	appErr "proofjudge/pkg/errors"
	"proofjudge/pkg/utils/contextkey"
	"proofjudge/pkg/utils/logger"

	"github.com/gabriel-vasile/mimetype"
	"github.com/zeromicro/go-zero/core/threading"
	"go.uber.org/zap"
)

const (
	defaultMaxSolutionBytes = 1 << 20
	defaultMaxImageBytes    = 10 << 20
	defaultListLimit        = 100
	maxListLimit            = 100

	feedbackCrashed = "The evaluation engine failed on this submission."
)

// errStale ends a job whose submission moved on without it.
var errStale = stderrors.New("submission changed before job ran")

// Config holds grader tuning.
type Config struct {
	StartDelay       time.Duration
	GradeDelay       time.Duration
	MaxSolutionBytes int
	MaxImageBytes    int
	// Transcriber reads image submissions. Nil means PNGTextTranscriber.
	Transcriber Transcriber
}

// GraderService runs the placeholder grading pipeline over stored submissions.
type GraderService struct {
	submissions repository.SubmissionRepository
	problems    repository.ProblemRepository
	evaluator   *Evaluator
	cfg         Config
	now         func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewGraderService creates the service. Close stops background jobs.
func NewGraderService(submissions repository.SubmissionRepository, problems repository.ProblemRepository, cfg Config) *GraderService {
	if cfg.StartDelay < 0 {
		cfg.StartDelay = 0
	}
	if cfg.GradeDelay < 0 {
		cfg.GradeDelay = 0
	}
	if cfg.MaxSolutionBytes <= 0 {
		cfg.MaxSolutionBytes = defaultMaxSolutionBytes
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = defaultMaxImageBytes
	}
	if cfg.Transcriber == nil {
		cfg.Transcriber = PNGTextTranscriber{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &GraderService{
		submissions: submissions,
		problems:    problems,
		evaluator:   NewEvaluator(),
		cfg:         cfg,
		now:         time.Now,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Close cancels pending jobs and waits for running ones.
func (s *GraderService) Close() {
	s.cancel()
	s.wg.Wait()
}

// CreateSubmission stores a pending submission and queues its grading.
func (s *GraderService) CreateSubmission(ctx context.Context, problemID int64, solution string) (model.Submission, error) {
	if problemID <= 0 {
		return model.Submission{}, appErr.ValidationError("problem_id", "must be positive")
	}
	if strings.TrimSpace(solution) == "" {
		return model.Submission{}, appErr.ValidationError("solution_text", "required")
	}
	if len(solution) > s.cfg.MaxSolutionBytes {
		return model.Submission{}, appErr.New(appErr.SolutionTooLarge).WithDetail("max_bytes", s.cfg.MaxSolutionBytes)
	}
	if _, err := s.GetProblem(ctx, problemID); err != nil {
		return model.Submission{}, err
	}

	sub := model.Submission{
		ProblemID:    problemID,
		SolutionText: solution,
		SubmittedAt:  s.now().UTC(),
		Status:       model.StatusPending,
		Errors:       []model.ErrorDetail{},
	}
	if err := s.submissions.Create(ctx, &sub); err != nil {
		return model.Submission{}, appErr.Wrapf(err, appErr.SubmissionCreateFailed, "create submission failed")
	}
	logger.Info(ctx, "submission queued", zap.Int64("submission_id", sub.ID), zap.Int64("problem_id", problemID))
	s.spawn(ctx, sub.ID, s.grade)
	return sub, nil
}

// CreateSubmissionFromImage transcribes a scanned solution and submits the
// extracted text. An image with no readable text is refused with ImageUnreadable.
func (s *GraderService) CreateSubmissionFromImage(ctx context.Context, problemID int64, image []byte) (model.Submission, error) {
	if problemID <= 0 {
		return model.Submission{}, appErr.ValidationError("problem_id", "must be positive")
	}
	if len(image) == 0 {
		return model.Submission{}, appErr.ValidationError("image_file", "required")
	}
	if len(image) > s.cfg.MaxImageBytes {
		return model.Submission{}, appErr.New(appErr.SolutionTooLarge).WithDetail("max_bytes", s.cfg.MaxImageBytes)
	}
	mime := mimetype.Detect(image)
	if !strings.HasPrefix(mime.String(), "image/") {
		return model.Submission{}, appErr.Newf(appErr.ImageUnreadable, "Image processing failed: unsupported file type %s", mime.String())
	}

	text, err := s.cfg.Transcriber.Transcribe(ctx, image)
	if err != nil {
		return model.Submission{}, appErr.Wrapf(err, appErr.ImageUnreadable, "Image processing failed: %v", err)
	}
	if strings.TrimSpace(text) == "" {
		return model.Submission{}, appErr.New(appErr.ImageUnreadable).WithDetail("mime", mime.String())
	}
	logger.Info(ctx, "image transcribed", zap.Int64("problem_id", problemID), zap.String("mime", mime.String()), zap.Int("chars", len(text)))
	return s.CreateSubmission(ctx, problemID, text)
}

// GetSubmission returns the stored submission.
func (s *GraderService) GetSubmission(ctx context.Context, id int64) (model.Submission, error) {
	sub, err := s.submissions.Get(ctx, id)
	if err != nil {
		return model.Submission{}, mapRepoError(err)
	}
	return sub, nil
}

// SubmitAppeals opens one appeal round and queues its review.
func (s *GraderService) SubmitAppeals(ctx context.Context, id int64, appeals []model.Appeal) (model.Submission, error) {
	sub, err := s.submissions.Update(ctx, id, func(sub *model.Submission) error {
		if sub.Status != model.StatusAppealing {
			return appErr.InvalidTransitionError("appeal", string(sub.Status))
		}
		if sub.AppealAttempts >= model.MaxAppealAttempts {
			return appErr.New(appErr.AppealLimitReached)
		}
		if err := validateAppeals(*sub, appeals); err != nil {
			return err
		}
		appealed := make(map[string]struct{}, len(appeals))
		for _, a := range appeals {
			appealed[a.ErrorID] = struct{}{}
		}
		for i := range sub.Errors {
			if _, ok := appealed[sub.Errors[i].ID]; ok {
				sub.Errors[i].Status = model.ErrorAppealing
			}
		}
		sub.AppealAttempts++
		sub.Status = model.StatusProcessing
		return nil
	})
	if err != nil {
		return model.Submission{}, mapRepoError(err)
	}
	logger.Info(ctx, "appeal round opened",
		zap.Int64("submission_id", id),
		zap.Int("attempt", sub.AppealAttempts),
		zap.Int("appeals", len(appeals)),
	)
	batch := append([]model.Appeal(nil), appeals...)
	s.spawn(ctx, id, func(ctx context.Context, id int64) { s.review(ctx, id, batch) })
	return sub, nil
}

// AcceptScore finalizes an appealing submission. Accepting a completed one is a no-op.
func (s *GraderService) AcceptScore(ctx context.Context, id int64) (model.Submission, error) {
	sub, err := s.submissions.Update(ctx, id, func(sub *model.Submission) error {
		switch sub.Status {
		case model.StatusAppealing:
			sub.Status = model.StatusCompleted
			return nil
		case model.StatusCompleted:
			return errStale
		default:
			return appErr.InvalidTransitionError("accept", string(sub.Status))
		}
	})
	if stderrors.Is(err, errStale) {
		return s.GetSubmission(ctx, id)
	}
	if err != nil {
		return model.Submission{}, mapRepoError(err)
	}
	logger.Info(ctx, "score accepted", zap.Int64("submission_id", id))
	return sub, nil
}

// GetProblem returns one problem.
func (s *GraderService) GetProblem(ctx context.Context, id int64) (model.Problem, error) {
	p, err := s.problems.Get(ctx, id)
	if stderrors.Is(err, repository.ErrProblemNotFound) {
		return model.Problem{}, appErr.New(appErr.ProblemNotFound).WithDetail("problem_id", id)
	}
	if err != nil {
		return model.Problem{}, appErr.Wrap(err, appErr.CacheError)
	}
	return p, nil
}

// ListProblems returns a page of problems ordered by id.
func (s *GraderService) ListProblems(ctx context.Context, skip, limit int) ([]model.Problem, error) {
	if skip < 0 {
		return nil, appErr.ValidationError("skip", "must not be negative")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	problems, err := s.problems.List(ctx, skip, limit)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CacheError)
	}
	return problems, nil
}

func validateAppeals(sub model.Submission, appeals []model.Appeal) error {
	if len(appeals) == 0 {
		return appErr.New(appErr.AppealBatchInvalid).WithMessage("appeal batch is empty")
	}
	seen := make(map[string]struct{}, len(appeals))
	var missing []string
	for _, a := range appeals {
		if _, dup := seen[a.ErrorID]; dup {
			return appErr.Newf(appErr.AppealBatchInvalid, "error %s appears twice in the batch", a.ErrorID).
				WithDetail("error_id", a.ErrorID)
		}
		seen[a.ErrorID] = struct{}{}

		detail, ok := sub.FindError(a.ErrorID)
		if !ok {
			return appErr.Newf(appErr.AppealBatchInvalid, "error %s does not exist", a.ErrorID).
				WithDetail("error_id", a.ErrorID)
		}
		if detail.Status != model.ErrorActive && detail.Status != model.ErrorRejected {
			return appErr.Newf(appErr.AppealBatchInvalid, "error %s is %s and cannot be appealed", a.ErrorID, detail.Status).
				WithDetail("error_id", a.ErrorID)
		}
		text := strings.TrimSpace(a.Justification)
		if text == "" && a.ImageJustification == "" {
			missing = append(missing, a.ErrorID)
			continue
		}
		if text != "" && a.ImageJustification != "" {
			return appErr.Newf(appErr.AppealBatchInvalid, "error %s carries both text and image", a.ErrorID).
				WithDetail("error_id", a.ErrorID)
		}
		if a.ImageJustification != "" {
			if _, err := base64.StdEncoding.DecodeString(a.ImageJustification); err != nil {
				return appErr.Newf(appErr.AppealBatchInvalid, "error %s has an invalid image payload", a.ErrorID).
					WithDetail("error_id", a.ErrorID)
			}
		}
	}
	if len(missing) > 0 {
		return appErr.New(appErr.AppealBatchInvalid).
			WithMessagef("missing justification: %s", strings.Join(missing, ", ")).
			WithDetail("missing", missing)
	}
	return nil
}

func (s *GraderService) spawn(ctx context.Context, id int64, job func(ctx context.Context, id int64)) {
	jobCtx := context.WithValue(s.ctx, contextkey.SubmissionID, id)
	if traceID, ok := ctx.Value(contextkey.TraceID).(string); ok {
		jobCtx = context.WithValue(jobCtx, contextkey.TraceID, traceID)
	}
	s.wg.Add(1)
	threading.GoSafe(func() {
		defer s.wg.Done()
		job(jobCtx, id)
	})
}

func (s *GraderService) grade(ctx context.Context, id int64) {
	if !sleep(ctx, s.cfg.StartDelay) {
		return
	}
	if !s.step(ctx, id, "start grading", func(sub *model.Submission) error {
		if sub.Status != model.StatusPending {
			return errStale
		}
		sub.Status = model.StatusProcessing
		return nil
	}) {
		return
	}
	if !sleep(ctx, s.cfg.GradeDelay) {
		return
	}
	s.step(ctx, id, "finish grading", func(sub *model.Submission) error {
		if sub.Status != model.StatusProcessing {
			return errStale
		}
		if s.evaluator.Crashes(sub.SolutionText) {
			feedback := feedbackCrashed
			sub.Status = model.StatusEvaluationError
			sub.Feedback = &feedback
			return nil
		}
		sub.Errors = s.evaluator.FindErrors(sub.SolutionText)
		s.evaluator.Settle(sub)
		return nil
	})
}

func (s *GraderService) review(ctx context.Context, id int64, appeals []model.Appeal) {
	if !sleep(ctx, s.cfg.GradeDelay) {
		return
	}
	s.step(ctx, id, "review appeals", func(sub *model.Submission) error {
		if sub.Status != model.StatusProcessing {
			return errStale
		}
		s.evaluator.ResolveAppeals(sub.Errors, appeals)
		s.evaluator.Settle(sub)
		return nil
	})
}

func (s *GraderService) step(ctx context.Context, id int64, name string, fn func(sub *model.Submission) error) bool {
	sub, err := s.submissions.Update(ctx, id, fn)
	if stderrors.Is(err, errStale) {
		logger.Debug(ctx, "grading step skipped", zap.String("step", name))
		return false
	}
	if err != nil {
		logger.Error(ctx, "grading step failed", zap.String("step", name), zap.Error(err))
		return false
	}
	logger.Info(ctx, "grading step done", zap.String("step", name), zap.String("status", string(sub.Status)))
	return true
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func mapRepoError(err error) error {
	var e *appErr.Error
	switch {
	case stderrors.As(err, &e):
		return err
	case stderrors.Is(err, repository.ErrSubmissionNotFound):
		return appErr.New(appErr.SubmissionNotFound)
	case stderrors.Is(err, cache.ErrLockBusy):
		return appErr.Wrap(err, appErr.ServiceUnavailable)
	default:
		return appErr.Wrap(err, appErr.CacheError)
	}
}
