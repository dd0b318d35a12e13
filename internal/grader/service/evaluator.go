package service

import (
	"strings"

	"proofjudge/internal/evaluation/model"

	"github.com/google/uuid"
)

const (
	feedbackPassed = "No active or rejected errors found."
	feedbackFailed = "Active or rejected errors identified. Please review the feedback below."
)

type errorTemplate struct {
	Type        string
	Location    string
	Description string
	Severity    model.Severity
}

var criticalError = errorTemplate{
	Type:        "critical",
	Location:    "Entire submission",
	Description: "Critical error found in submission. The solution contains explicit errors.",
	Severity:    model.SeverityHigh,
}

var predefinedErrors = []errorTemplate{
	{Type: "logic", Location: "Step 3", Description: "Logical flaw detected in step 3.", Severity: model.SeverityHigh},
	{Type: "calculation", Location: "Line 5", Description: "Incorrect formula used for integration.", Severity: model.SeverityHigh},
	{Type: "notation", Location: "Throughout", Description: "Minor notation inconsistency.", Severity: model.SeverityLow},
}

// Evaluator is the deterministic placeholder grading engine.
type Evaluator struct {
	newID func() string
}

func NewEvaluator() *Evaluator {
	return &Evaluator{newID: func() string { return "err-" + uuid.NewString() }}
}

// Crashes reports whether grading this solution fails outright.
func (e *Evaluator) Crashes(solution string) bool {
	return strings.Contains(strings.ToLower(solution), "panic")
}

// FindErrors flags a solution that mentions "error": one critical issue
// followed by the predefined ones, all active.
func (e *Evaluator) FindErrors(solution string) []model.ErrorDetail {
	if !strings.Contains(strings.ToLower(solution), "error") {
		return []model.ErrorDetail{}
	}
	templates := append([]errorTemplate{criticalError}, predefinedErrors...)
	out := make([]model.ErrorDetail, 0, len(templates))
	for _, t := range templates {
		out = append(out, model.ErrorDetail{
			ID:          e.newID(),
			Type:        t.Type,
			Location:    t.Location,
			Description: t.Description,
			Severity:    t.Severity,
			Status:      model.ErrorActive,
		})
	}
	return out
}

// ResolveAppeals decides every appealing error named in appeals. Text that
// contains "correct" wins; anything else, including an image the engine cannot
// read, is rejected.
func (e *Evaluator) ResolveAppeals(errs []model.ErrorDetail, appeals []model.Appeal) {
	byID := make(map[string]model.Appeal, len(appeals))
	for _, a := range appeals {
		byID[a.ErrorID] = a
	}
	for i := range errs {
		a, ok := byID[errs[i].ID]
		if !ok || errs[i].Status != model.ErrorAppealing {
			continue
		}
		if strings.Contains(strings.ToLower(a.Justification), "correct") {
			errs[i].Status = model.ErrorResolved
		} else {
			errs[i].Status = model.ErrorRejected
		}
	}
}

// Settle finishes a grading pass: minor issues are overturned once no
// high-severity issue is outstanding, then score, feedback and status follow
// from what remains.
func (e *Evaluator) Settle(sub *model.Submission) {
	highOutstanding := false
	for _, err := range sub.Errors {
		if err.Severity != model.SeverityLow && err.Status.Outstanding() {
			highOutstanding = true
			break
		}
	}
	if !highOutstanding {
		for i := range sub.Errors {
			if sub.Errors[i].Severity == model.SeverityLow && sub.Errors[i].Status == model.ErrorActive {
				sub.Errors[i].Status = model.ErrorOverturned
			}
		}
	}

	outstanding := false
	for _, err := range sub.Errors {
		if err.Status.Outstanding() {
			outstanding = true
			break
		}
	}
	score, feedback := 100, feedbackPassed
	sub.Status = model.StatusCompleted
	if outstanding {
		score, feedback = 0, feedbackFailed
		sub.Status = model.StatusAppealing
	}
	sub.Score = &score
	sub.Feedback = &feedback
}
