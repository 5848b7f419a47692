package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openedu/course-enrollment-api/internal/service"
	appErrors "github.com/openedu/course-enrollment-api/pkg/errors"
	"github.com/openedu/course-enrollment-api/pkg/response"
)

// AdvisorHandler wires the AI advisory endpoint.
type AdvisorHandler struct {
	service *service.AdvisorService
}

// NewAdvisorHandler creates a new handler.
func NewAdvisorHandler(svc *service.AdvisorService) *AdvisorHandler {
	return &AdvisorHandler{service: svc}
}

// Ask godoc
// @Summary Ask the academic advisor
// @Description Forward a question to the advisory service and return a short answer.
// @Tags Advisor
// @Accept json
// @Produce json
// @Param payload body service.AskRequest true "Question payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 500 {object} response.Envelope
// @Security BearerAuth
// @Router /ai-helper [post]
func (h *AdvisorHandler) Ask(c *gin.Context) {
	var req service.AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid advisory payload"))
		return
	}

	answer, err := h.service.Ask(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"answer": answer}, nil)
}
