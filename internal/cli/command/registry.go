package command

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"proofjudge/internal/evaluation/appeal"
	"proofjudge/internal/evaluation/model"
	"proofjudge/internal/evaluation/workflow"
	appErr "proofjudge/pkg/errors"
)

// Registry returns all CLI commands keyed by "service action".
func Registry() map[string]Command {
	commands := []Command{
		{
			Service: "problem",
			Action:  "get",
			Usage:   "problem get id=1",
			Fields: []Field{
				{Name: "id", Aliases: []string{"problem_id"}, Prompt: "problem_id", Type: FieldInt64, Required: true},
			},
			Run: runProblemGet,
		},
		{
			Service: "problem",
			Action:  "list",
			Usage:   "problem list skip=0 limit=20",
			Fields: []Field{
				{Name: "skip", Type: FieldInt},
				{Name: "limit", Type: FieldInt},
			},
			Run: runProblemList,
		},
		{
			Service: "submit",
			Action:  "create",
			Usage:   "submit create problem_id=1 solution_file=./proof.txt | image_file=./scan.png",
			Fields: []Field{
				{Name: "problem_id", Prompt: "problem_id", Type: FieldInt64, Required: true},
				{Name: "solution_text", Aliases: []string{"text"}, Prompt: "solution_text", Type: FieldString, Required: true, AnyOf: []string{"solution_file", "image_file"}},
				{Name: "solution_file", Aliases: []string{"file"}, Type: FieldFile},
				{Name: "image_file", Aliases: []string{"image"}, Type: FieldFile},
			},
			Run: runSubmitCreate,
		},
		{
			Service: "submit",
			Action:  "open",
			Usage:   "submit open id=12",
			Fields: []Field{
				{Name: "id", Aliases: []string{"submission_id"}, Prompt: "submission_id", Type: FieldInt64, Required: true},
			},
			Run: runSubmitOpen,
		},
		{Service: "submit", Action: "show", Usage: "submit show", Run: runSubmitShow},
		{Service: "submit", Action: "refresh", Usage: "submit refresh", Run: runSubmitRefresh},
		{Service: "submit", Action: "close", Usage: "submit close", Run: runSubmitClose},
		{
			Service: "appeal",
			Action:  "select",
			Usage:   "appeal select error_ids=err-1,err-2",
			Fields: []Field{
				{Name: "error_ids", Aliases: []string{"error_id", "ids"}, Prompt: "error_ids (comma-separated)", Type: FieldStringList, Required: true},
			},
			Run: runAppealSelect,
		},
		{
			Service: "appeal",
			Action:  "deselect",
			Usage:   "appeal deselect error_ids=err-1",
			Fields: []Field{
				{Name: "error_ids", Aliases: []string{"error_id", "ids"}, Prompt: "error_ids (comma-separated)", Type: FieldStringList, Required: true},
			},
			Run: runAppealDeselect,
		},
		{
			Service: "appeal",
			Action:  "justify",
			Usage:   "appeal justify error_id=err-1 text=\"the step is correct\" | image_file=./scan.png",
			Fields: []Field{
				{Name: "error_id", Aliases: []string{"id"}, Prompt: "error_id", Type: FieldString, Required: true},
				{Name: "text", Aliases: []string{"justification"}, Prompt: "justification", Type: FieldString, Required: true, AnyOf: []string{"image_file"}},
				{Name: "image_file", Aliases: []string{"image"}, Type: FieldFile},
			},
			Run: runAppealJustify,
		},
		{Service: "appeal", Action: "pending", Usage: "appeal pending", Run: runAppealPending},
		{Service: "appeal", Action: "send", Usage: "appeal send", Run: runAppealSend},
		{Service: "appeal", Action: "clear", Usage: "appeal clear", Run: runAppealClear},
		{Service: "score", Action: "accept", Usage: "score accept", Run: runScoreAccept},
	}

	registry := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		registry[cmd.Key()] = cmd
	}
	return registry
}

// ErrorSummary is one flagged error as shown to the user.
type ErrorSummary struct {
	model.ErrorDetail
	Eligible bool `json:"appeal_eligible"`
	Selected bool `json:"selected,omitempty"`
}

// SubmissionSummary is the rendered form of an open submission.
type SubmissionSummary struct {
	ID               int64                  `json:"id"`
	ProblemID        int64                  `json:"problem_id"`
	Status           model.SubmissionStatus `json:"status"`
	Score            *int                   `json:"score,omitempty"`
	Feedback         *string                `json:"feedback,omitempty"`
	AppealAttempts   int                    `json:"appeal_attempts"`
	AppealsRemaining int                    `json:"appeals_remaining"`
	Errors           []ErrorSummary         `json:"errors"`
	SyncDegraded     bool                   `json:"sync_degraded,omitempty"`
}

// Summarize renders a submission together with the current selection.
func Summarize(sub model.Submission, selected []string, degraded bool) SubmissionSummary {
	chosen := make(map[string]struct{}, len(selected))
	for _, id := range selected {
		chosen[id] = struct{}{}
	}
	out := SubmissionSummary{
		ID:               sub.ID,
		ProblemID:        sub.ProblemID,
		Status:           sub.Status,
		Score:            sub.Score,
		Feedback:         sub.Feedback,
		AppealAttempts:   sub.AppealAttempts,
		AppealsRemaining: sub.AppealsRemaining(),
		Errors:           make([]ErrorSummary, 0, len(sub.Errors)),
		SyncDegraded:     degraded,
	}
	for _, e := range sub.Errors {
		_, isSelected := chosen[e.ID]
		out.Errors = append(out.Errors, ErrorSummary{
			ErrorDetail: e,
			Eligible:    sub.Status == model.StatusAppealing && e.AppealEligible(sub.AppealAttempts),
			Selected:    isSelected,
		})
	}
	return out
}

func summarizeView(v *workflow.View) SubmissionSummary {
	return Summarize(v.Submission(), v.Session().Selected(), v.Degraded())
}

type problemSummary struct {
	model.Problem
	DifficultyLabel string `json:"difficulty_label"`
}

func runProblemGet(ctx context.Context, env *Env, params Params) (interface{}, error) {
	id, _ := ParseInt64(params.Get("id"))
	p, err := env.Problems.GetProblem(ctx, id)
	if err != nil {
		return nil, err
	}
	return problemSummary{Problem: p, DifficultyLabel: model.DifficultyLabel(p.Difficulty)}, nil
}

func runProblemList(ctx context.Context, env *Env, params Params) (interface{}, error) {
	skip, limit := 0, 0
	if params.Get("skip") != "" {
		skip, _ = ParseInt(params.Get("skip"))
	}
	if params.Get("limit") != "" {
		limit, _ = ParseInt(params.Get("limit"))
	}
	problems, err := env.Problems.ListProblems(ctx, skip, limit)
	if err != nil {
		return nil, err
	}
	out := make([]problemSummary, 0, len(problems))
	for _, p := range problems {
		out = append(out, problemSummary{Problem: p, DifficultyLabel: model.DifficultyLabel(p.Difficulty)})
	}
	return out, nil
}

func runSubmitCreate(ctx context.Context, env *Env, params Params) (interface{}, error) {
	problemID, _ := ParseInt64(params.Get("problem_id"))
	text := params.Get("solution_text")
	if path := params.Get("image_file"); text == "" && path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read image failed: %w", err)
		}
		v, err := env.Workflow.CreateSubmissionFromImage(ctx, problemID, filepath.Base(path), data)
		if err != nil {
			return nil, err
		}
		env.SetView(v)
		return summarizeView(v), nil
	}
	if text == "" && params.Get("solution_file") != "" {
		data, err := ReadFile(params.Get("solution_file"))
		if err != nil {
			return nil, err
		}
		text = data
	}
	v, err := env.Workflow.CreateSubmission(ctx, problemID, text)
	if err != nil {
		return nil, err
	}
	env.SetView(v)
	return summarizeView(v), nil
}

func runSubmitOpen(ctx context.Context, env *Env, params Params) (interface{}, error) {
	id, _ := ParseInt64(params.Get("id"))
	v, err := env.Workflow.Open(ctx, id)
	if err != nil {
		return nil, err
	}
	env.SetView(v)
	return summarizeView(v), nil
}

func runSubmitShow(ctx context.Context, env *Env, params Params) (interface{}, error) {
	v, err := env.View()
	if err != nil {
		return nil, err
	}
	return summarizeView(v), nil
}

func runSubmitRefresh(ctx context.Context, env *Env, params Params) (interface{}, error) {
	v, err := env.View()
	if err != nil {
		return nil, err
	}
	if err := v.Refresh(ctx); err != nil {
		return nil, err
	}
	return summarizeView(v), nil
}

func runSubmitClose(ctx context.Context, env *Env, params Params) (interface{}, error) {
	if _, err := env.View(); err != nil {
		return nil, err
	}
	env.Close()
	return "closed", nil
}

func runAppealSelect(ctx context.Context, env *Env, params Params) (interface{}, error) {
	v, err := env.View()
	if err != nil {
		return nil, err
	}
	var refused []string
	for _, id := range ParseStringList(params.Get("error_ids")) {
		if !v.Session().Toggle(id, true) {
			refused = append(refused, id)
		}
	}
	if len(refused) > 0 {
		return nil, appErr.Newf(appErr.AppealBatchInvalid, "not appealable: %s", strings.Join(refused, ", ")).
			WithDetail("error_ids", refused)
	}
	return v.Session().Selected(), nil
}

func runAppealDeselect(ctx context.Context, env *Env, params Params) (interface{}, error) {
	v, err := env.View()
	if err != nil {
		return nil, err
	}
	for _, id := range ParseStringList(params.Get("error_ids")) {
		v.Session().Toggle(id, false)
	}
	return v.Session().Selected(), nil
}

func runAppealJustify(ctx context.Context, env *Env, params Params) (interface{}, error) {
	v, err := env.View()
	if err != nil {
		return nil, err
	}
	j := appeal.TextJustification(params.Get("text"))
	if path := params.Get("image_file"); path != "" && params.Get("text") == "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read image failed: %w", err)
		}
		j = appeal.ImageJustification(data)
	}
	if err := v.Session().SetJustification(params.Get("error_id"), j); err != nil {
		return nil, err
	}
	return pendingView(v.Session()), nil
}

type pendingAppeal struct {
	ErrorID       string `json:"error_id"`
	Justification string `json:"justification,omitempty"`
	Image         bool   `json:"image,omitempty"`
	Ready         bool   `json:"ready"`
}

func pendingView(s *appeal.Session) []pendingAppeal {
	candidates := s.Pending()
	out := make([]pendingAppeal, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, pendingAppeal{
			ErrorID:       c.ErrorID,
			Justification: c.Justification.Text(),
			Image:         c.Justification.IsImage(),
			Ready:         c.HasValue && c.Justification.Complete(),
		})
	}
	return out
}

func runAppealPending(ctx context.Context, env *Env, params Params) (interface{}, error) {
	v, err := env.View()
	if err != nil {
		return nil, err
	}
	return pendingView(v.Session()), nil
}

func runAppealSend(ctx context.Context, env *Env, params Params) (interface{}, error) {
	v, err := env.View()
	if err != nil {
		return nil, err
	}
	result, err := v.SubmitAppealBatch(ctx)
	if err != nil {
		return nil, err
	}
	out := struct {
		Sent       []string          `json:"sent"`
		Pruned     []string          `json:"pruned,omitempty"`
		Submission SubmissionSummary `json:"submission"`
	}{
		Sent:       result.Batch.ErrorIDs(),
		Pruned:     result.Pruned,
		Submission: summarizeView(v),
	}
	return out, nil
}

func runAppealClear(ctx context.Context, env *Env, params Params) (interface{}, error) {
	v, err := env.View()
	if err != nil {
		return nil, err
	}
	v.Session().Clear()
	return []string{}, nil
}

func runScoreAccept(ctx context.Context, env *Env, params Params) (interface{}, error) {
	v, err := env.View()
	if err != nil {
		return nil, err
	}
	if err := v.AcceptScore(ctx); err != nil {
		return nil, err
	}
	return summarizeView(v), nil
}
