package model

// Appeal is one justified objection to a flagged error, in wire form.
// Exactly one of Justification or ImageJustification carries content.
type Appeal struct {
	ErrorID            string `json:"error_id"`
	Justification      string `json:"justification"`
	ImageJustification string `json:"image_justification,omitempty"` // base64
}

// AppealBatch is one round of appeals for a submission.
// Appeals are ordered and unique by error id.
type AppealBatch struct {
	SubmissionID int64    `json:"submission_id"`
	Appeals      []Appeal `json:"appeals"`
}

// ErrorIDs lists the appealed error ids in batch order.
func (b AppealBatch) ErrorIDs() []string {
	ids := make([]string, 0, len(b.Appeals))
	for _, a := range b.Appeals {
		ids = append(ids, a.ErrorID)
	}
	return ids
}
