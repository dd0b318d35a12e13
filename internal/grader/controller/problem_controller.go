package controller

import (
	"strconv"

	"proofjudge/internal/grader/service"
	"proofjudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// ProblemController serves the read-only problem catalogue.
type ProblemController struct {
	graderService *service.GraderService
}

func NewProblemController(graderService *service.GraderService) *ProblemController {
	return &ProblemController{graderService: graderService}
}

func (h *ProblemController) Get(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(c, "Invalid problem id")
		return
	}
	problem, err := h.graderService.GetProblem(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, problem)
}

// List supports skip/limit paging.
func (h *ProblemController) List(c *gin.Context) {
	skip, err := strconv.Atoi(c.DefaultQuery("skip", "0"))
	if err != nil {
		response.BadRequest(c, "Invalid skip")
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil {
		response.BadRequest(c, "Invalid limit")
		return
	}
	problems, err := h.graderService.ListProblems(c.Request.Context(), skip, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, problems)
}
