package model

import (
	"math/rand"
	"testing"

	appErr "proofjudge/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func appealingSubmission(attempts int, statuses ...ErrorStatus) Submission {
	sub := Submission{
		ID:             7,
		ProblemID:      1,
		SolutionText:   "x=-1",
		Status:         StatusAppealing,
		Score:          intPtr(0),
		AppealAttempts: attempts,
	}
	for i, status := range statuses {
		sub.Errors = append(sub.Errors, ErrorDetail{
			ID:          []string{"e1", "e2", "e3", "e4"}[i],
			Description: "flagged",
			Status:      status,
		})
	}
	return sub
}

func TestApplyServerSnapshotAcceptsFirstObservation(t *testing.T) {
	incoming := Submission{ID: 1, ProblemID: 1, SolutionText: "x=-1", Status: StatusPending}

	got, err := ApplyServerSnapshot(Submission{}, incoming)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.NotNil(t, got.Errors)
	assert.Empty(t, got.Errors)
	assert.Equal(t, 0, got.AppealAttempts)
}

func TestApplyServerSnapshotReplacesCurrent(t *testing.T) {
	current := appealingSubmission(0, ErrorActive, ErrorActive)
	incoming := appealingSubmission(1, ErrorAppealing, ErrorActive)
	incoming.Status = StatusProcessing

	got, err := ApplyServerSnapshot(current, incoming)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, got.Status)
	assert.Equal(t, 1, got.AppealAttempts)
	assert.Equal(t, ErrorAppealing, got.Errors[0].Status)
}

func TestApplyServerSnapshotDefaultsMissingErrorStatus(t *testing.T) {
	incoming := appealingSubmission(0, "")

	got, err := ApplyServerSnapshot(Submission{}, incoming)
	require.NoError(t, err)
	assert.Equal(t, ErrorActive, got.Errors[0].Status)
	assert.Equal(t, ErrorStatus(""), incoming.Errors[0].Status, "input must not be mutated")
}

func TestApplyServerSnapshotRejectsStaleAttempts(t *testing.T) {
	// A late poll response from before the appeal round was accepted.
	current := appealingSubmission(1, ErrorAppealing, ErrorActive)
	current.Status = StatusProcessing
	stale := appealingSubmission(0, ErrorActive, ErrorActive)

	got, err := ApplyServerSnapshot(current, stale)
	require.Error(t, err)
	assert.True(t, appErr.Is(err, appErr.InconsistentSnapshot))
	assert.Equal(t, 1, got.AppealAttempts)
	assert.Equal(t, StatusProcessing, got.Status)
}

func TestApplyServerSnapshotRejections(t *testing.T) {
	tests := []struct {
		name     string
		current  Submission
		incoming func() Submission
	}{
		{
			name:    "error disappears",
			current: appealingSubmission(0, ErrorActive, ErrorActive),
			incoming: func() Submission {
				return appealingSubmission(0, ErrorActive)
			},
		},
		{
			name:    "resolved error reopens",
			current: appealingSubmission(1, ErrorResolved, ErrorActive),
			incoming: func() Submission {
				return appealingSubmission(1, ErrorActive, ErrorActive)
			},
		},
		{
			name:    "overturned error becomes rejected",
			current: appealingSubmission(1, ErrorOverturned, ErrorActive),
			incoming: func() Submission {
				return appealingSubmission(1, ErrorRejected, ErrorActive)
			},
		},
		{
			name: "completed submission reopens",
			current: func() Submission {
				s := appealingSubmission(1, ErrorRejected)
				s.Status = StatusCompleted
				return s
			}(),
			incoming: func() Submission {
				return appealingSubmission(1, ErrorRejected)
			},
		},
		{
			name:    "different submission",
			current: appealingSubmission(0, ErrorActive),
			incoming: func() Submission {
				s := appealingSubmission(0, ErrorActive)
				s.ID = 8
				return s
			},
		},
		{
			name:    "attempts above cap",
			current: appealingSubmission(4, ErrorRejected),
			incoming: func() Submission {
				return appealingSubmission(6, ErrorRejected)
			},
		},
		{
			name:    "unknown status",
			current: appealingSubmission(0, ErrorActive),
			incoming: func() Submission {
				s := appealingSubmission(0, ErrorActive)
				s.Status = "failed"
				return s
			},
		},
		{
			name:    "duplicate error ids",
			current: Submission{},
			incoming: func() Submission {
				s := appealingSubmission(0, ErrorActive, ErrorActive)
				s.Errors[1].ID = "e1"
				return s
			},
		},
		{
			name:    "pending with score",
			current: Submission{},
			incoming: func() Submission {
				return Submission{ID: 3, Status: StatusPending, Score: intPtr(10)}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ApplyServerSnapshot(tt.current, tt.incoming())
			require.Error(t, err)
			assert.Equal(t, appErr.InconsistentSnapshot, appErr.GetCode(err))
			assert.Equal(t, tt.current, got)
		})
	}
}

func TestApplyServerSnapshotAllowsOverturnWithoutAppeal(t *testing.T) {
	current := appealingSubmission(0, ErrorActive, ErrorActive)
	incoming := appealingSubmission(0, ErrorActive, ErrorOverturned)

	got, err := ApplyServerSnapshot(current, incoming)
	require.NoError(t, err)
	assert.Equal(t, ErrorOverturned, got.Errors[1].Status)
}

// Random snapshot streams never move attempts backwards or reopen terminal errors.
func TestApplyServerSnapshotMonotonicity(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	statuses := []ErrorStatus{ErrorActive, ErrorAppealing, ErrorResolved, ErrorRejected, ErrorOverturned}
	subStatuses := []SubmissionStatus{StatusProcessing, StatusAppealing, StatusCompleted}

	for run := 0; run < 200; run++ {
		current, err := ApplyServerSnapshot(Submission{}, appealingSubmission(0, ErrorActive, ErrorActive, ErrorActive))
		require.NoError(t, err)

		for step := 0; step < 30; step++ {
			incoming := appealingSubmission(rng.Intn(MaxAppealAttempts+1),
				statuses[rng.Intn(len(statuses))],
				statuses[rng.Intn(len(statuses))],
				statuses[rng.Intn(len(statuses))])
			incoming.Status = subStatuses[rng.Intn(len(subStatuses))]

			next, err := ApplyServerSnapshot(current, incoming)
			if err != nil {
				require.Equal(t, current, next)
				continue
			}
			require.GreaterOrEqual(t, next.AppealAttempts, current.AppealAttempts)
			for i, e := range current.Errors {
				if e.Status.IsTerminal() {
					require.Equal(t, e.Status, next.Errors[i].Status)
				}
			}
			if current.Status.IsTerminal() {
				require.Equal(t, current.Status, next.Status)
			}
			current = next
		}
	}
}
