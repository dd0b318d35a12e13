package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	httpclient "proofjudge/internal/cli/http"
	"proofjudge/internal/evaluation/model"
	appErr "proofjudge/pkg/errors"
)

const apiPrefix = "/api/v1"

// Transport sends raw requests. *httpclient.Client implements it.
type Transport interface {
	Do(ctx context.Context, method, path string, headers map[string]string, body []byte) (httpclient.ResponseInfo, error)
}

// Client issues typed reads and writes against the evaluation service.
// It never retries on its own: reads are retried by the synchronizer, and writes
// are not retried at all, to avoid duplicate submissions or replayed appeal rounds.
type Client struct {
	transport Transport
}

// New creates a resource client.
func New(transport Transport) *Client {
	return &Client{transport: transport}
}

type createSubmissionRequest struct {
	ProblemID    int64  `json:"problem_id"`
	SolutionText string `json:"solution_text"`
}

type acceptScoreRequest struct {
	SubmissionID int64 `json:"submission_id"`
}

// CreateSubmission registers a new proof attempt. The returned submission is pending.
func (c *Client) CreateSubmission(ctx context.Context, problemID int64, solutionText string) (model.Submission, error) {
	if problemID <= 0 {
		return model.Submission{}, appErr.ValidationError("problem_id", "must be positive")
	}
	if strings.TrimSpace(solutionText) == "" {
		return model.Submission{}, appErr.ValidationError("solution_text", "required")
	}
	var sub model.Submission
	err := c.call(ctx, http.MethodPost, apiPrefix+"/submissions/", createSubmissionRequest{
		ProblemID:    problemID,
		SolutionText: solutionText,
	}, &sub)
	if err != nil {
		return model.Submission{}, err
	}
	sub.Normalize()
	return sub, nil
}

// CreateSubmissionFromImage uploads a scanned solution as a multipart form.
// The service transcribes the image; the returned submission is pending.
func (c *Client) CreateSubmissionFromImage(ctx context.Context, problemID int64, filename string, image []byte) (model.Submission, error) {
	if problemID <= 0 {
		return model.Submission{}, appErr.ValidationError("problem_id", "must be positive")
	}
	if len(image) == 0 {
		return model.Submission{}, appErr.ValidationError("image_file", "required")
	}
	if filename == "" {
		filename = "solution.png"
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("problem_id", strconv.FormatInt(problemID, 10)); err != nil {
		return model.Submission{}, appErr.Wrapf(err, appErr.InvalidParams, "build form failed")
	}
	part, err := writer.CreateFormFile("image_file", filename)
	if err != nil {
		return model.Submission{}, appErr.Wrapf(err, appErr.InvalidParams, "build form failed")
	}
	if _, err := part.Write(image); err != nil {
		return model.Submission{}, appErr.Wrapf(err, appErr.InvalidParams, "build form failed")
	}
	if err := writer.Close(); err != nil {
		return model.Submission{}, appErr.Wrapf(err, appErr.InvalidParams, "build form failed")
	}

	var sub model.Submission
	headers := map[string]string{"Content-Type": writer.FormDataContentType()}
	if err := c.send(ctx, http.MethodPost, apiPrefix+"/submissions/", headers, buf.Bytes(), &sub); err != nil {
		return model.Submission{}, err
	}
	sub.Normalize()
	return sub, nil
}

// GetSubmission reads the current server representation.
func (c *Client) GetSubmission(ctx context.Context, id int64) (model.Submission, error) {
	var sub model.Submission
	if err := c.call(ctx, http.MethodGet, fmt.Sprintf("%s/submissions/%d", apiPrefix, id), nil, &sub); err != nil {
		return model.Submission{}, err
	}
	sub.Normalize()
	return sub, nil
}

// SubmitAppealBatch sends one appeal round.
func (c *Client) SubmitAppealBatch(ctx context.Context, batch model.AppealBatch) (model.Submission, error) {
	if len(batch.Appeals) == 0 {
		return model.Submission{}, appErr.New(appErr.AppealBatchInvalid).WithMessage("appeal batch is empty")
	}
	var sub model.Submission
	path := fmt.Sprintf("%s/submissions/%d/appeals", apiPrefix, batch.SubmissionID)
	if err := c.call(ctx, http.MethodPost, path, batch, &sub); err != nil {
		return model.Submission{}, err
	}
	sub.Normalize()
	return sub, nil
}

// AcceptScore finalizes the current score.
func (c *Client) AcceptScore(ctx context.Context, id int64) (model.Submission, error) {
	var sub model.Submission
	path := fmt.Sprintf("%s/submissions/%d/accept", apiPrefix, id)
	if err := c.call(ctx, http.MethodPost, path, acceptScoreRequest{SubmissionID: id}, &sub); err != nil {
		return model.Submission{}, err
	}
	sub.Normalize()
	return sub, nil
}

// GetProblem reads one problem.
func (c *Client) GetProblem(ctx context.Context, id int64) (model.Problem, error) {
	var p model.Problem
	if err := c.call(ctx, http.MethodGet, fmt.Sprintf("%s/problems/%d", apiPrefix, id), nil, &p); err != nil {
		return model.Problem{}, err
	}
	p.Topics = model.NormalizeTopics(p.Topics)
	return p, nil
}

// ListProblems reads one page of problems.
func (c *Client) ListProblems(ctx context.Context, skip, limit int) ([]model.Problem, error) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var problems []model.Problem
	path := fmt.Sprintf("%s/problems/?skip=%d&limit=%d", apiPrefix, skip, limit)
	if err := c.call(ctx, http.MethodGet, path, nil, &problems); err != nil {
		return nil, err
	}
	for i := range problems {
		problems[i].Topics = model.NormalizeTopics(problems[i].Topics)
	}
	return problems, nil
}

func (c *Client) call(ctx context.Context, method, path string, payload interface{}, out interface{}) error {
	var body []byte
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return appErr.Wrapf(err, appErr.InvalidParams, "marshal request body failed")
		}
		body = data
	}
	return c.send(ctx, method, path, nil, body, out)
}

func (c *Client) send(ctx context.Context, method, path string, headers map[string]string, body []byte, out interface{}) error {
	resp, err := c.transport.Do(ctx, method, path, headers, body)
	if err != nil {
		return appErr.Wrapf(err, appErr.TransportFailure, "%s %s: %v", method, path, err).
			WithDetail("request_id", resp.RequestID)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyStatus(method, path, resp)
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return appErr.Wrapf(err, appErr.MalformedResponse, "decode %s %s response: %v", method, path, err).
			WithDetail("request_id", resp.RequestID)
	}
	return nil
}

// errorBody covers both the service's {"detail": ...} shape and the
// {"code", "message"} envelope used by gateway-fronted deployments.
type errorBody struct {
	Detail  json.RawMessage `json:"detail"`
	Message string          `json:"message"`
	Code    int             `json:"code"`
}

func classifyStatus(method, path string, resp httpclient.ResponseInfo) error {
	message := serverMessage(resp.Body)
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	code := appErr.ServerRejected
	if resp.StatusCode >= 500 {
		code = appErr.ServiceUnavailable
	}
	return appErr.Newf(code, "%s", message).
		WithDetail("http_status", resp.StatusCode).
		WithDetail("method", method).
		WithDetail("path", path).
		WithDetail("request_id", resp.RequestID)
}

func serverMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return strings.TrimSpace(string(body))
	}
	if len(eb.Detail) > 0 {
		var text string
		if err := json.Unmarshal(eb.Detail, &text); err == nil {
			return text
		}
		// Validation failures carry a list of field errors.
		return string(eb.Detail)
	}
	return eb.Message
}
