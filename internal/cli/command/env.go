package command

import (
	"context"
	"sync"

	"proofjudge/internal/evaluation/model"
	"proofjudge/internal/evaluation/workflow"
	appErr "proofjudge/pkg/errors"
)

// Problems reads published problems.
type Problems interface {
	GetProblem(ctx context.Context, id int64) (model.Problem, error)
	ListProblems(ctx context.Context, skip, limit int) ([]model.Problem, error)
}

// Workflow opens submission views. *workflow.Controller implements it.
type Workflow interface {
	CreateSubmission(ctx context.Context, problemID int64, solutionText string) (*workflow.View, error)
	CreateSubmissionFromImage(ctx context.Context, problemID int64, filename string, image []byte) (*workflow.View, error)
	Open(ctx context.Context, id int64) (*workflow.View, error)
}

// Env is the state shared by commands in one REPL session. At most one
// submission is open at a time.
type Env struct {
	Problems Problems
	Workflow Workflow

	mu   sync.Mutex
	view *workflow.View
}

// View returns the open submission view.
func (e *Env) View() (*workflow.View, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.view == nil {
		return nil, appErr.BadRequest("no submission open, use: submit create | submit open")
	}
	return e.view, nil
}

// SetView makes v the open submission and closes the previous one.
func (e *Env) SetView(v *workflow.View) {
	e.mu.Lock()
	prev := e.view
	e.view = v
	e.mu.Unlock()
	if prev != nil && prev != v {
		prev.Close()
	}
}

// Close closes the open submission, if any.
func (e *Env) Close() {
	e.SetView(nil)
}
