package workflow

import (
	"context"
	"sync"
	"sync/atomic"

	"proofjudge/internal/evaluation/appeal"
	"proofjudge/internal/evaluation/model"
	"proofjudge/internal/evaluation/synchronizer"
	appErr "proofjudge/pkg/errors"
	"proofjudge/pkg/utils/contextkey"
	"proofjudge/pkg/utils/logger"

	"go.uber.org/zap"
)

// API is the subset of the resource client the workflow drives.
type API interface {
	CreateSubmission(ctx context.Context, problemID int64, solutionText string) (model.Submission, error)
	CreateSubmissionFromImage(ctx context.Context, problemID int64, filename string, image []byte) (model.Submission, error)
	GetSubmission(ctx context.Context, id int64) (model.Submission, error)
	SubmitAppealBatch(ctx context.Context, batch model.AppealBatch) (model.Submission, error)
	AcceptScore(ctx context.Context, id int64) (model.Submission, error)
}

// Options are view callbacks. They run outside the view lock, on the goroutine
// that produced the event.
type Options struct {
	OnChange    func(sub model.Submission)
	OnDegraded  func(err error)
	OnRecovered func()
	// OnFailed reports that polling stopped for good, e.g. the submission was deleted.
	OnFailed func(err error)
}

// Controller opens views on submissions.
type Controller struct {
	api  API
	sync *synchronizer.Synchronizer
	opts Options
}

// NewController creates a controller. Polling reads go through api.
func NewController(api API, cfg synchronizer.Config, opts Options) *Controller {
	return &Controller{
		api:  api,
		sync: synchronizer.New(api, cfg),
		opts: opts,
	}
}

// CreateSubmission submits a new solution and returns a view tracking it.
// No view exists when the call fails.
func (c *Controller) CreateSubmission(ctx context.Context, problemID int64, solutionText string) (*View, error) {
	sub, err := c.api.CreateSubmission(ctx, problemID, solutionText)
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "submission created", zap.Int64("submission_id", sub.ID), zap.Int64("problem_id", problemID))
	return c.open(sub)
}

// CreateSubmissionFromImage uploads a scanned solution and returns a view
// tracking the resulting submission. No view exists when the call fails.
func (c *Controller) CreateSubmissionFromImage(ctx context.Context, problemID int64, filename string, image []byte) (*View, error) {
	sub, err := c.api.CreateSubmissionFromImage(ctx, problemID, filename, image)
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "submission created from image", zap.Int64("submission_id", sub.ID), zap.Int64("problem_id", problemID))
	return c.open(sub)
}

// Open fetches an existing submission and returns a view tracking it.
func (c *Controller) Open(ctx context.Context, id int64) (*View, error) {
	sub, err := c.api.GetSubmission(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.open(sub)
}

func (c *Controller) open(sub model.Submission) (*View, error) {
	applied, err := model.ApplyServerSnapshot(model.Submission{}, sub)
	if err != nil {
		return nil, err
	}
	v := &View{
		api:  c.api,
		sync: c.sync,
		opts: c.opts,
	}
	v.current.Store(&applied)
	v.session = appeal.NewSession(v)
	v.ctx, v.cancel = context.WithCancel(context.WithValue(context.Background(), contextkey.SubmissionID, applied.ID))

	v.mu.Lock()
	if applied.Status.NeedsPolling() {
		v.startPollingLocked()
	}
	v.mu.Unlock()
	return v, nil
}

// View tracks one submission: it owns the authoritative value, the appeal
// session and at most one poll task.
type View struct {
	api  API
	sync *synchronizer.Synchronizer
	opts Options

	ctx    context.Context
	cancel context.CancelFunc

	// current is written under mu and read without it.
	current atomic.Pointer[model.Submission]
	session *appeal.Session

	mu       sync.Mutex
	handle   *synchronizer.Handle
	degraded bool
	closed   bool
}

// Current returns a copy of the authoritative submission.
func (v *View) Current() model.Submission {
	return v.current.Load().Clone()
}

// Submission is an alias of Current.
func (v *View) Submission() model.Submission {
	return v.Current()
}

// Session returns the appeal session of this submission.
func (v *View) Session() *appeal.Session {
	return v.session
}

// Degraded reports whether polling is currently failing past the miss limit.
func (v *View) Degraded() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.degraded
}

// Polling reports whether a poll task is running.
func (v *View) Polling() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.handle != nil && !v.handle.Stopped()
}

// SubmitAppealBatch sends the session's candidates as one appeal round.
// On failure the session and status are left untouched.
func (v *View) SubmitAppealBatch(ctx context.Context) (appeal.BuildResult, error) {
	sub := v.Current()
	if v.isClosed() {
		return appeal.BuildResult{}, appErr.InvalidTransitionError("submit appeal", "closed")
	}
	if sub.Status != model.StatusAppealing {
		return appeal.BuildResult{}, appErr.InvalidTransitionError("submit appeal", string(sub.Status))
	}
	if sub.AppealAttempts >= model.MaxAppealAttempts {
		return appeal.BuildResult{}, appErr.Newf(appErr.AppealLimitReached, "all %d appeal rounds used", model.MaxAppealAttempts).
			WithDetail("appeal_attempts", sub.AppealAttempts)
	}

	result, err := v.session.BuildBatch()
	if err != nil {
		return result, err
	}
	resp, err := v.api.SubmitAppealBatch(ctx, result.Batch)
	if err != nil {
		logger.Warn(v.ctx, "appeal batch failed", zap.Strings("error_ids", result.Batch.ErrorIDs()), zap.Error(err))
		return result, err
	}

	v.session.Clear()
	if _, err := v.apply(resp, true); err != nil {
		return result, err
	}
	logger.Info(v.ctx, "appeal batch submitted", zap.Strings("error_ids", result.Batch.ErrorIDs()))
	return result, nil
}

// AcceptScore finalizes the current score. It is allowed from appealing only,
// whatever errors or attempts remain. A repeated accept on a completed
// submission is refused with InvalidTransition and makes no call.
func (v *View) AcceptScore(ctx context.Context) error {
	sub := v.Current()
	if v.isClosed() {
		return appErr.InvalidTransitionError("accept score", "closed")
	}
	if sub.Status != model.StatusAppealing {
		return appErr.InvalidTransitionError("accept score", string(sub.Status))
	}

	resp, err := v.api.AcceptScore(ctx, sub.ID)
	if err != nil {
		return err
	}
	v.session.Clear()
	_, err = v.apply(resp, false)
	return err
}

// Refresh fetches the submission once, outside the poll schedule. It waits for
// a poll still in flight rather than racing it.
func (v *View) Refresh(ctx context.Context) error {
	if v.isClosed() {
		return appErr.InvalidTransitionError("refresh", "closed")
	}
	sub, err := v.sync.Fetch(ctx, v.Current().ID)
	if err != nil {
		return err
	}
	_, err = v.apply(sub, true)
	return err
}

// Close stops polling and discards the appeal session. Results that arrive later are dropped.
func (v *View) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	handle := v.handle
	v.handle = nil
	v.mu.Unlock()

	if handle != nil {
		handle.Stop()
	}
	v.cancel()
	v.session.Clear()
}

func (v *View) isClosed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

// apply merges a snapshot and, when restart is set, starts polling again if the
// new status needs it. It reports whether the snapshot was accepted.
func (v *View) apply(incoming model.Submission, restart bool) (bool, error) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return false, nil
	}
	next, err := model.ApplyServerSnapshot(*v.current.Load(), incoming)
	if err != nil {
		v.mu.Unlock()
		logger.Warn(v.ctx, "dropping inconsistent snapshot", zap.Error(err))
		return false, err
	}
	v.current.Store(&next)
	if restart && next.Status.NeedsPolling() && (v.handle == nil || v.handle.Stopped()) {
		v.startPollingLocked()
	}
	v.mu.Unlock()

	if v.opts.OnChange != nil {
		v.opts.OnChange(next.Clone())
	}
	return true, nil
}

func (v *View) startPollingLocked() {
	s := &sink{view: v}
	v.handle = v.sync.Start(v.ctx, v.current.Load().ID, s)
	s.handle = v.handle
}

// sink adapts one poll task to the view. A sink whose handle is no longer the
// view's current one drops everything it receives.
type sink struct {
	view   *View
	handle *synchronizer.Handle
}

func (s *sink) owned() bool {
	s.view.mu.Lock()
	defer s.view.mu.Unlock()
	return !s.view.closed && s.view.handle == s.handle
}

func (s *sink) ApplySnapshot(sub model.Submission) bool {
	if !s.owned() {
		return false
	}
	// An inconsistent snapshot is dropped by apply; polling then follows the
	// status we still hold.
	_, _ = s.view.apply(sub, false)

	v := s.view
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed || v.handle != s.handle {
		return false
	}
	if v.current.Load().Status.NeedsPolling() {
		return true
	}
	// Released together with the status check so a concurrent apply that
	// moves back to processing starts a fresh poller.
	v.handle = nil
	return false
}

func (s *sink) SyncDegraded(err error) {
	if !s.owned() {
		return
	}
	s.view.mu.Lock()
	s.view.degraded = true
	s.view.mu.Unlock()
	if s.view.opts.OnDegraded != nil {
		s.view.opts.OnDegraded(err)
	}
}

func (s *sink) SyncRecovered() {
	if !s.owned() {
		return
	}
	s.view.mu.Lock()
	s.view.degraded = false
	s.view.mu.Unlock()
	if s.view.opts.OnRecovered != nil {
		s.view.opts.OnRecovered()
	}
}

func (s *sink) SyncFailed(err error) {
	if !s.owned() {
		return
	}
	if s.view.opts.OnFailed != nil {
		s.view.opts.OnFailed(err)
	}
}
