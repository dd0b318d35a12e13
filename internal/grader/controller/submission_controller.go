package controller

import (
	"io"
	"mime/multipart"
	"strconv"

	"proofjudge/internal/evaluation/model"
	"proofjudge/internal/grader/service"
	"proofjudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// SubmissionController handles submission HTTP endpoints.
type SubmissionController struct {
	graderService *service.GraderService
}

// NewSubmissionController creates a new SubmissionController.
func NewSubmissionController(graderService *service.GraderService) *SubmissionController {
	return &SubmissionController{graderService: graderService}
}

// Create queues a new submission for grading. A JSON body carries the solution
// text; a multipart form carries either solution_text or an image_file to transcribe.
func (h *SubmissionController) Create(c *gin.Context) {
	if c.ContentType() == "multipart/form-data" {
		h.createFromForm(c)
		return
	}
	var req CreateSubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	sub, err := h.graderService.CreateSubmission(c.Request.Context(), req.ProblemID, req.SolutionText)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, sub)
}

func (h *SubmissionController) createFromForm(c *gin.Context) {
	problemID, err := strconv.ParseInt(c.PostForm("problem_id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "Invalid problem_id")
		return
	}
	text, hasText := c.GetPostForm("solution_text")
	file, fileErr := c.FormFile("image_file")
	hasImage := fileErr == nil
	if hasText == hasImage {
		response.BadRequest(c, "Either solution_text or image_file must be provided")
		return
	}

	ctx := c.Request.Context()
	var sub model.Submission
	if hasImage {
		var image []byte
		image, err = readFormFile(file)
		if err != nil {
			response.BadRequest(c, "Invalid image_file")
			return
		}
		sub, err = h.graderService.CreateSubmissionFromImage(ctx, problemID, image)
	} else {
		sub, err = h.graderService.CreateSubmission(ctx, problemID, text)
	}
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, sub)
}

// Get returns one submission.
func (h *SubmissionController) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	sub, err := h.graderService.GetSubmission(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, sub)
}

// Appeal opens one appeal round.
func (h *SubmissionController) Appeal(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req AppealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	if req.SubmissionID != 0 && req.SubmissionID != id {
		response.BadRequest(c, "submission_id does not match the path")
		return
	}
	sub, err := h.graderService.SubmitAppeals(c.Request.Context(), id, req.Appeals)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, sub)
}

// Accept finalizes the current score.
func (h *SubmissionController) Accept(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req AcceptRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request parameters")
			return
		}
	}
	if req.SubmissionID != 0 && req.SubmissionID != id {
		response.BadRequest(c, "submission_id does not match the path")
		return
	}
	sub, err := h.graderService.AcceptScore(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, sub)
}

func readFormFile(file *multipart.FileHeader) ([]byte, error) {
	f, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()
	return io.ReadAll(f)
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(c, "Invalid submission id")
		return 0, false
	}
	return id, true
}

// CreateSubmissionRequest defines submission payload.
type CreateSubmissionRequest struct {
	ProblemID    int64  `json:"problem_id" binding:"required"`
	SolutionText string `json:"solution_text" binding:"required"`
}

// AppealRequest defines one appeal round.
type AppealRequest struct {
	SubmissionID int64          `json:"submission_id"`
	Appeals      []model.Appeal `json:"appeals"`
}

// AcceptRequest defines the accept payload.
type AcceptRequest struct {
	SubmissionID int64 `json:"submission_id"`
}
