package handler

import (
	"net/http"

	"github.com/fieldday/fieldday-backend/internal/middleware"
	"github.com/fieldday/fieldday-backend/internal/model"
	"github.com/fieldday/fieldday-backend/internal/repository"
	"github.com/fieldday/fieldday-backend/internal/response"
	"github.com/fieldday/fieldday-backend/internal/validator"
	"github.com/gin-gonic/gin"
)

// ChildHandler handles a parent's children.
type ChildHandler struct {
	childRepo *repository.ChildRepository
}

// NewChildHandler creates a new ChildHandler.
func NewChildHandler(childRepo *repository.ChildRepository) *ChildHandler {
	return &ChildHandler{childRepo: childRepo}
}

// ListChildren godoc
// GET /api/v1/parent/children
// Lists the children on the authenticated parent's account.
func (h *ChildHandler) ListChildren(c *gin.Context) {
	claims := middleware.GetClaims(c)

	children, err := h.childRepo.ListByParent(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"children": children})
}

// CreateChild godoc
// POST /api/v1/parent/children
// Adds a child to the authenticated parent's account.
func (h *ChildHandler) CreateChild(c *gin.Context) {
	claims := middleware.GetClaims(c)

	var req model.CreateChildRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	child := &model.Child{
		ParentID:  claims.UserID,
		Name:      req.Name,
		BirthDate: req.BirthDate,
	}
	if err := h.childRepo.Create(c.Request.Context(), child); err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"child": child})
}
