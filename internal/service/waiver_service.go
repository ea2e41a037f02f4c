package service

import (
	"context"
	"fmt"

	"github.com/fieldday/fieldday-backend/internal/model"
	"github.com/fieldday/fieldday-backend/internal/repository"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// WaiverService resolves pending waiver requirements per child and records
// batch signatures.
type WaiverService struct {
	waiverRepo *repository.WaiverRepository
	log        zerolog.Logger
}

// NewWaiverService creates a new WaiverService.
func NewWaiverService(waiverRepo *repository.WaiverRepository, log zerolog.Logger) *WaiverService {
	return &WaiverService{
		waiverRepo: waiverRepo,
		log:        log.With().Str("component", "waiver_service").Logger(),
	}
}

// CheckPending returns the required waiver templates the child has not signed
// within the given program/school scope. An empty result means the child is
// cleared for payment.
func (s *WaiverService) CheckPending(ctx context.Context, childID int, programID, schoolID uuid.UUID) ([]model.WaiverTemplate, error) {
	pending, err := s.waiverRepo.ListPendingForChild(ctx, childID, programID, schoolID)
	if err != nil {
		return nil, fmt.Errorf("list pending waivers: %w", err)
	}
	return pending, nil
}

// Sign records a batch of waiver acceptances. The success of this call is
// itself the clearance signal: callers mark the child cleared without a
// follow-up query.
func (s *WaiverService) Sign(ctx context.Context, parentID, childID int, templateIDs []uuid.UUID) error {
	if err := s.waiverRepo.CreateAcceptances(ctx, parentID, childID, templateIDs); err != nil {
		return fmt.Errorf("record acceptances: %w", err)
	}

	s.log.Info().
		Int("parent_id", parentID).
		Int("child_id", childID).
		Int("count", len(templateIDs)).
		Msg("Waivers signed")

	return nil
}
