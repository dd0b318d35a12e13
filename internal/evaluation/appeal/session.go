package appeal

import (
	"encoding/base64"
	"strings"
	"sync"

	"proofjudge/internal/evaluation/model"
	appErr "proofjudge/pkg/errors"
)

// SubmissionSource exposes the authoritative submission read-only.
type SubmissionSource interface {
	Current() model.Submission
}

// Justification is the argument attached to one appealed error.
// Exactly one of text or image is set.
type Justification struct {
	text  string
	image []byte
}

// TextJustification builds an inline text justification.
func TextJustification(text string) Justification {
	return Justification{text: text}
}

// ImageJustification builds an image justification from raw image bytes.
func ImageJustification(image []byte) Justification {
	data := make([]byte, len(image))
	copy(data, image)
	return Justification{image: data}
}

// Text returns the inline text, empty for image justifications.
func (j Justification) Text() string { return j.text }

// IsImage reports whether the justification carries an image.
func (j Justification) IsImage() bool { return j.image != nil }

// Complete reports whether the justification can be sent.
func (j Justification) Complete() bool {
	if j.IsImage() {
		return len(j.image) > 0
	}
	return strings.TrimSpace(j.text) != ""
}

func (j Justification) wire(errorID string) model.Appeal {
	if j.IsImage() {
		return model.Appeal{ErrorID: errorID, ImageJustification: base64.StdEncoding.EncodeToString(j.image)}
	}
	return model.Appeal{ErrorID: errorID, Justification: strings.TrimSpace(j.text)}
}

// Candidate is one selected error and its justification, if any.
type Candidate struct {
	ErrorID       string
	Justification Justification
	HasValue      bool
}

// BuildResult is the outcome of BuildBatch.
type BuildResult struct {
	Batch model.AppealBatch
	// Pruned lists selections dropped because their error is no longer eligible.
	Pruned []string
}

// Session holds the not-yet-submitted appeal candidates of one submission.
type Session struct {
	mu       sync.Mutex
	source   SubmissionSource
	order    []string
	selected map[string]*Candidate
}

// NewSession binds a session to its submission.
func NewSession(source SubmissionSource) *Session {
	return &Session{
		source:   source,
		selected: make(map[string]*Candidate),
	}
}

// Toggle selects or deselects an error. Ineligible errors cannot be selected
// and the call reports false. Deselecting drops any justification.
func (s *Session) Toggle(errorID string, selected bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !selected {
		s.remove(errorID)
		return true
	}
	sub := s.source.Current()
	e, ok := sub.FindError(errorID)
	if !ok || !e.AppealEligible(sub.AppealAttempts) {
		return false
	}
	if _, exists := s.selected[errorID]; exists {
		return true
	}
	s.selected[errorID] = &Candidate{ErrorID: errorID}
	s.order = append(s.order, errorID)
	return true
}

// SetJustification attaches a justification to a selected error, replacing any earlier one.
func (s *Session) SetJustification(errorID string, j Justification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.selected[errorID]
	if !ok {
		return appErr.Newf(appErr.AppealNotSelected, "error %s is not selected for appeal", errorID).
			WithDetail("error_id", errorID)
	}
	c.Justification = j
	c.HasValue = true
	return nil
}

// BuildBatch validates the selection against the current submission and produces
// the wire batch. Either every selected error is in the batch or an error is returned.
func (s *Session) BuildBatch() (BuildResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := s.source.Current()
	var result BuildResult
	if sub.AppealAttempts >= model.MaxAppealAttempts {
		return result, appErr.Newf(appErr.AppealLimitReached, "all %d appeal rounds used", model.MaxAppealAttempts).
			WithDetail("appeal_attempts", sub.AppealAttempts)
	}

	kept := s.order[:0]
	for _, id := range s.order {
		e, ok := sub.FindError(id)
		if !ok || !e.AppealEligible(sub.AppealAttempts) {
			delete(s.selected, id)
			result.Pruned = append(result.Pruned, id)
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept

	if len(s.order) == 0 {
		return result, appErr.New(appErr.AppealBatchInvalid).WithMessage("no errors selected for appeal")
	}

	var missing []string
	appeals := make([]model.Appeal, 0, len(s.order))
	for _, id := range s.order {
		c := s.selected[id]
		if !c.HasValue || !c.Justification.Complete() {
			missing = append(missing, id)
			continue
		}
		appeals = append(appeals, c.Justification.wire(id))
	}
	if len(missing) > 0 {
		return result, appErr.Newf(appErr.AppealBatchInvalid, "missing justification for %s", strings.Join(missing, ", ")).
			WithDetail("missing", missing)
	}

	result.Batch = model.AppealBatch{SubmissionID: sub.ID, Appeals: appeals}
	return result, nil
}

// Clear discards every candidate.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = nil
	s.selected = make(map[string]*Candidate)
}

// Selected returns the selected error ids in selection order.
func (s *Session) Selected() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Pending returns a copy of the candidates in selection order.
func (s *Session) Pending() []Candidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Candidate, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.selected[id])
	}
	return out
}

func (s *Session) remove(errorID string) {
	if _, ok := s.selected[errorID]; !ok {
		return
	}
	delete(s.selected, errorID)
	for i, id := range s.order {
		if id == errorID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}
