package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MaxAppealAttempts bounds the number of accepted appeal rounds per submission.
const MaxAppealAttempts = 5

// SubmissionStatus is the server-driven lifecycle state of a submission.
type SubmissionStatus string

const (
	StatusPending         SubmissionStatus = "pending"
	StatusProcessing      SubmissionStatus = "processing"
	StatusAppealing       SubmissionStatus = "appealing"
	StatusCompleted       SubmissionStatus = "completed"
	StatusEvaluationError SubmissionStatus = "evaluation_error"
)

// Valid reports whether s is a known status.
func (s SubmissionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusAppealing, StatusCompleted, StatusEvaluationError:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition can follow s.
func (s SubmissionStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusEvaluationError:
		return true
	case StatusPending, StatusProcessing, StatusAppealing:
		return false
	}
	return false
}

// NeedsPolling reports whether the grading engine is still working on the submission.
func (s SubmissionStatus) NeedsPolling() bool {
	switch s {
	case StatusPending, StatusProcessing:
		return true
	case StatusAppealing, StatusCompleted, StatusEvaluationError:
		return false
	}
	return false
}

// ErrorStatus is the lifecycle state of one flagged error.
type ErrorStatus string

const (
	ErrorActive     ErrorStatus = "active"
	ErrorAppealing  ErrorStatus = "appealing"
	ErrorResolved   ErrorStatus = "resolved"
	ErrorRejected   ErrorStatus = "rejected"
	ErrorOverturned ErrorStatus = "overturned"
)

// Valid reports whether s is a known error status.
func (s ErrorStatus) Valid() bool {
	switch s {
	case ErrorActive, ErrorAppealing, ErrorResolved, ErrorRejected, ErrorOverturned:
		return true
	}
	return false
}

// IsTerminal reports whether the error can never change status again.
func (s ErrorStatus) IsTerminal() bool {
	switch s {
	case ErrorResolved, ErrorOverturned:
		return true
	case ErrorActive, ErrorAppealing, ErrorRejected:
		return false
	}
	return false
}

// Outstanding reports whether the error still counts against the score.
func (s ErrorStatus) Outstanding() bool {
	switch s {
	case ErrorActive, ErrorRejected:
		return true
	case ErrorAppealing, ErrorResolved, ErrorOverturned:
		return false
	}
	return false
}

// Severity is the grading engine's weight for an error.
// Older engines send a boolean (true = non-trivial), newer ones a free-form tag.
type Severity string

const (
	SeverityHigh Severity = "high"
	SeverityLow  Severity = "low"
)

// UnmarshalJSON accepts a string, a boolean or null.
func (s *Severity) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	switch raw {
	case "null", "":
		*s = ""
		return nil
	case "true":
		*s = SeverityHigh
		return nil
	case "false":
		*s = SeverityLow
		return nil
	}
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return fmt.Errorf("decode severity: %w", err)
	}
	*s = Severity(strings.ToLower(strings.TrimSpace(text)))
	return nil
}

// ErrorDetail is one issue flagged by the grading engine.
type ErrorDetail struct {
	ID          string      `json:"id"`
	Type        string      `json:"type,omitempty"`
	Location    string      `json:"location,omitempty"`
	Description string      `json:"description"`
	Severity    Severity    `json:"severity,omitempty"`
	Status      ErrorStatus `json:"status"`
}

// AppealEligible reports whether the error may be put into a new appeal batch,
// given how many rounds the submission has already used.
func (e ErrorDetail) AppealEligible(appealAttempts int) bool {
	switch e.Status {
	case ErrorActive:
		return true
	case ErrorRejected:
		return appealAttempts < MaxAppealAttempts
	case ErrorAppealing, ErrorResolved, ErrorOverturned:
		return false
	}
	return false
}

// Submission is one proof attempt as reported by the evaluation service.
type Submission struct {
	ID             int64            `json:"id"`
	ProblemID      int64            `json:"problem_id"`
	SolutionText   string           `json:"solution_text"`
	SubmittedAt    time.Time        `json:"submitted_at"`
	Status         SubmissionStatus `json:"status"`
	Score          *int             `json:"score,omitempty"`
	Feedback       *string          `json:"feedback,omitempty"`
	Errors         []ErrorDetail    `json:"errors"`
	AppealAttempts int              `json:"appeal_attempts"`
}

// Normalize fills server-side defaults the wire format leaves implicit.
func (s *Submission) Normalize() {
	if s.Errors == nil {
		s.Errors = []ErrorDetail{}
	}
	for i := range s.Errors {
		if s.Errors[i].Status == "" {
			s.Errors[i].Status = ErrorActive
		}
	}
}

// Validate checks structural invariants of a single snapshot.
func (s Submission) Validate() error {
	if !s.Status.Valid() {
		return fmt.Errorf("unknown status %q", s.Status)
	}
	if s.AppealAttempts < 0 || s.AppealAttempts > MaxAppealAttempts {
		return fmt.Errorf("appeal_attempts %d outside 0..%d", s.AppealAttempts, MaxAppealAttempts)
	}
	if s.Status == StatusPending && (s.Score != nil || s.Feedback != nil) {
		return fmt.Errorf("pending submission carries a score or feedback")
	}
	seen := make(map[string]struct{}, len(s.Errors))
	for _, e := range s.Errors {
		if e.ID == "" {
			return fmt.Errorf("error without id")
		}
		if _, dup := seen[e.ID]; dup {
			return fmt.Errorf("duplicate error id %q", e.ID)
		}
		seen[e.ID] = struct{}{}
		if !e.Status.Valid() {
			return fmt.Errorf("error %q has unknown status %q", e.ID, e.Status)
		}
	}
	return nil
}

// FindError returns the error with the given id.
func (s Submission) FindError(id string) (ErrorDetail, bool) {
	for _, e := range s.Errors {
		if e.ID == id {
			return e, true
		}
	}
	return ErrorDetail{}, false
}

// AppealsRemaining returns how many appeal rounds are left.
func (s Submission) AppealsRemaining() int {
	if s.AppealAttempts >= MaxAppealAttempts {
		return 0
	}
	return MaxAppealAttempts - s.AppealAttempts
}

// EligibleErrors lists the errors that can currently be appealed, in server order.
func (s Submission) EligibleErrors() []ErrorDetail {
	var out []ErrorDetail
	for _, e := range s.Errors {
		if e.AppealEligible(s.AppealAttempts) {
			out = append(out, e)
		}
	}
	return out
}

// Clone returns a deep copy so callers cannot alias the authoritative value.
func (s Submission) Clone() Submission {
	out := s
	if s.Score != nil {
		score := *s.Score
		out.Score = &score
	}
	if s.Feedback != nil {
		feedback := *s.Feedback
		out.Feedback = &feedback
	}
	if s.Errors != nil {
		out.Errors = make([]ErrorDetail, len(s.Errors))
		copy(out.Errors, s.Errors)
	}
	return out
}
