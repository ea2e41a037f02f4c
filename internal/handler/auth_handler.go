package handler

import (
	"net/http"

	"github.com/fieldday/fieldday-backend/internal/middleware"
	"github.com/fieldday/fieldday-backend/internal/model"
	"github.com/fieldday/fieldday-backend/internal/repository"
	"github.com/fieldday/fieldday-backend/internal/response"
	"github.com/fieldday/fieldday-backend/internal/service"
	"github.com/fieldday/fieldday-backend/internal/validator"
	"github.com/gin-gonic/gin"
)

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	authService *service.AuthService
	parentRepo  *repository.ParentRepository
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(authService *service.AuthService, parentRepo *repository.ParentRepository) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		parentRepo:  parentRepo,
	}
}

// ParentLogin godoc
// POST /api/v1/auth/parent/login
// Validates email + password, returns JWT. A new login replaces any previous
// session so a parent can move between devices mid-checkout.
func (h *AuthHandler) ParentLogin(c *gin.Context) {
	var req model.ParentLoginRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	parent, err := h.parentRepo.GetByEmail(c.Request.Context(), req.Email)
	if err != nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrInvalidCredentials)
		return
	}

	if err := h.authService.CheckPassword(parent.PasswordHash, req.Password); err != nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrInvalidCredentials)
		return
	}

	token, err := h.authService.GenerateParentToken(c.Request.Context(), parent.ID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"token": token,
		"parent": gin.H{
			"id":    parent.ID,
			"email": parent.Email,
			"name":  parent.Name,
		},
	})
}

// GetParentProfile godoc
// GET /api/v1/auth/parent/me
// Returns the profile of the currently authenticated parent.
func (h *AuthHandler) GetParentProfile(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	parent, err := h.parentRepo.GetByID(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"parent": gin.H{
			"id":    parent.ID,
			"email": parent.Email,
			"name":  parent.Name,
		},
	})
}

// ParentLogout godoc
// POST /api/v1/auth/parent/logout
// Logs out the currently authenticated parent.
func (h *AuthHandler) ParentLogout(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	if err := h.authService.InvalidateParentSession(c.Request.Context(), claims.UserID); err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{})
}
