package model

import (
	"fmt"

	appErr "proofjudge/pkg/errors"
)

// ApplyServerSnapshot merges a freshly fetched server representation into the
// authoritative value. The server is authoritative for status, score, feedback and
// error status, but a snapshot that would move state backwards is refused with
// InconsistentSnapshot and current stays as it was.
//
// A zero current (ID 0) means nothing has been observed yet.
func ApplyServerSnapshot(current, incoming Submission) (Submission, error) {
	incoming = incoming.Clone()
	incoming.Normalize()

	if err := incoming.Validate(); err != nil {
		return current, appErr.InconsistentSnapshotError(err.Error())
	}
	if current.ID == 0 {
		return incoming, nil
	}
	if incoming.ID != current.ID {
		return current, appErr.InconsistentSnapshotError(
			fmt.Sprintf("snapshot for submission %d applied to %d", incoming.ID, current.ID))
	}
	if incoming.AppealAttempts < current.AppealAttempts {
		return current, appErr.InconsistentSnapshotError(
			fmt.Sprintf("appeal_attempts decreased from %d to %d", current.AppealAttempts, incoming.AppealAttempts)).
			WithDetail("current_attempts", current.AppealAttempts).
			WithDetail("incoming_attempts", incoming.AppealAttempts)
	}
	if current.Status.IsTerminal() && incoming.Status != current.Status {
		return current, appErr.InconsistentSnapshotError(
			fmt.Sprintf("status left terminal %s for %s", current.Status, incoming.Status))
	}

	next := make(map[string]ErrorStatus, len(incoming.Errors))
	for _, e := range incoming.Errors {
		next[e.ID] = e.Status
	}
	for _, e := range current.Errors {
		status, ok := next[e.ID]
		if !ok {
			return current, appErr.InconsistentSnapshotError(
				fmt.Sprintf("error %s disappeared", e.ID)).WithDetail("error_id", e.ID)
		}
		if e.Status.IsTerminal() && status != e.Status {
			return current, appErr.InconsistentSnapshotError(
				fmt.Sprintf("error %s left terminal %s for %s", e.ID, e.Status, status)).WithDetail("error_id", e.ID)
		}
	}

	return incoming, nil
}
