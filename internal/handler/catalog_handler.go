package handler

import (
	"net/http"

	"github.com/fieldday/fieldday-backend/internal/middleware"
	"github.com/fieldday/fieldday-backend/internal/repository"
	"github.com/fieldday/fieldday-backend/internal/response"
	"github.com/fieldday/fieldday-backend/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CatalogHandler serves the public class catalog.
type CatalogHandler struct {
	offeringRepo *repository.OfferingRepository
	waitlistRepo *repository.WaitlistRepository
}

// NewCatalogHandler creates a new CatalogHandler.
func NewCatalogHandler(offeringRepo *repository.OfferingRepository, waitlistRepo *repository.WaitlistRepository) *CatalogHandler {
	return &CatalogHandler{
		offeringRepo: offeringRepo,
		waitlistRepo: waitlistRepo,
	}
}

// ListOfferings godoc
// GET /api/v1/catalog/offerings
// Lists open offerings with remaining capacity.
func (h *CatalogHandler) ListOfferings(c *gin.Context) {
	offerings, err := h.offeringRepo.ListOpen(c.Request.Context())
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	items := make([]gin.H, 0, len(offerings))
	for i := range offerings {
		o := &offerings[i]
		items = append(items, gin.H{
			"offering":   o,
			"seats_left": service.SeatsLeft(o),
		})
	}

	response.Success(c, http.StatusOK, gin.H{"offerings": items})
}

// GetOffering godoc
// GET /api/v1/catalog/offerings/:offering_id
// Returns one offering with its fees.
func (h *CatalogHandler) GetOffering(c *gin.Context) {
	offeringID, err := uuid.Parse(c.Param("offering_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	offering, err := h.offeringRepo.GetByID(c.Request.Context(), offeringID)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrOfferingNotFound)
		return
	}

	fees, err := h.offeringRepo.ListFees(c.Request.Context(), offeringID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"offering":   offering,
		"fees":       fees,
		"seats_left": service.SeatsLeft(offering),
	})
}

// ListWaitlistEntries godoc
// GET /api/v1/parent/waitlist
// Lists the authenticated parent's waitlist entries.
func (h *CatalogHandler) ListWaitlistEntries(c *gin.Context) {
	claims := middleware.GetClaims(c)

	entries, err := h.waitlistRepo.ListByParent(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"entries": entries})
}
