package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/fieldday/fieldday-backend/internal/model"
	"github.com/google/uuid"
)

// ErrEmptySelection is returned when a preview is requested with no children
// selected.
var ErrEmptySelection = errors.New("no children selected")

// PricingService is the single pricing authority. Every displayed total comes
// from ComputePreview; the orchestrator and the UI never derive totals with
// their own arithmetic.
type PricingService struct {
	// processingFeeBps is the card processing fee in basis points, applied
	// to non-zero totals. 0 disables the fee line.
	processingFeeBps int
}

// NewPricingService creates a new PricingService.
func NewPricingService(processingFeeBps int) *PricingService {
	return &PricingService{processingFeeBps: processingFeeBps}
}

// ComputePreview builds the authoritative line-item breakdown for the current
// selection: per-child base price, required fees (implicit for every selected
// child), chosen optional fees, sibling discount, discount code, processing
// fee, and the installment split when one is selected.
func (s *PricingService) ComputePreview(snap *model.CheckoutSnapshot) (*model.PricePreview, error) {
	if snap.Offering == nil {
		return nil, errors.New("offering not loaded")
	}
	if len(snap.Selected) == 0 {
		return nil, ErrEmptySelection
	}

	feeByID := make(map[uuid.UUID]*model.OfferingFee, len(snap.Fees))
	for i := range snap.Fees {
		feeByID[snap.Fees[i].ID] = &snap.Fees[i]
	}

	var lines []model.PriceLine
	var subtotal int64

	for _, childID := range snap.Selected {
		childID := childID
		name := childLabel(snap, childID)

		lines = append(lines, model.PriceLine{
			Kind:        model.LineBasePrice,
			Label:       fmt.Sprintf("%s — %s", snap.Offering.Name, name),
			ChildID:     &childID,
			AmountCents: snap.Offering.PriceCents,
		})
		subtotal += snap.Offering.PriceCents

		// Required fees are charged for every selected child.
		for i := range snap.Fees {
			if !snap.Fees[i].Required {
				continue
			}
			lines = append(lines, model.PriceLine{
				Kind:        model.LineRequiredFee,
				Label:       fmt.Sprintf("%s — %s", snap.Fees[i].Name, name),
				ChildID:     &childID,
				AmountCents: snap.Fees[i].AmountCents,
			})
			subtotal += snap.Fees[i].AmountCents
		}

		// Chosen optional fees.
		for _, feeID := range snap.FeeSelection[childID] {
			fee, ok := feeByID[feeID]
			if !ok || fee.Required {
				continue
			}
			lines = append(lines, model.PriceLine{
				Kind:        model.LineOptionalFee,
				Label:       fmt.Sprintf("%s — %s", fee.Name, name),
				ChildID:     &childID,
				AmountCents: fee.AmountCents,
			})
			subtotal += fee.AmountCents
		}
	}

	// Sibling discount for each child beyond the first.
	if snap.Program != nil && snap.Program.SiblingDiscountCents > 0 && len(snap.Selected) > 1 {
		discount := int64(len(snap.Selected)-1) * snap.Program.SiblingDiscountCents
		lines = append(lines, model.PriceLine{
			Kind:        model.LineSiblingDiscount,
			Label:       "Sibling discount",
			AmountCents: -discount,
		})
		subtotal -= discount
	}

	if snap.Discount != nil {
		amount := discountAmount(snap.Discount, subtotal)
		if amount > 0 {
			lines = append(lines, model.PriceLine{
				Kind:        model.LineDiscountCode,
				Label:       fmt.Sprintf("Discount (%s)", snap.Discount.Code),
				AmountCents: -amount,
			})
			subtotal -= amount
		}
	}

	if subtotal < 0 {
		subtotal = 0
	}

	if s.processingFeeBps > 0 && subtotal > 0 {
		fee := subtotal * int64(s.processingFeeBps) / 10000
		if fee > 0 {
			lines = append(lines, model.PriceLine{
				Kind:        model.LineProcessingFee,
				Label:       "Processing fee",
				AmountCents: fee,
			})
			subtotal += fee
		}
	}

	preview := &model.PricePreview{
		Lines:      lines,
		TotalCents: subtotal,
		ComputedAt: time.Now(),
	}

	if snap.PaymentMethod == model.PaymentMethodInstallments && snap.Plan != nil && snap.Plan.Count > 1 {
		per := subtotal / int64(snap.Plan.Count)
		first := per + subtotal%int64(snap.Plan.Count)
		preview.Installment = &model.InstallmentPlan{
			Count:                 snap.Plan.Count,
			PerInstallmentCents:   per,
			FirstInstallmentCents: first,
		}
	}

	return preview, nil
}

// discountAmount converts a discount descriptor into cents off the subtotal,
// clamped so a fixed code never drives the total negative.
func discountAmount(d *model.DiscountCode, subtotal int64) int64 {
	var amount int64
	switch d.Kind {
	case model.DiscountKindPercent:
		amount = subtotal * d.Value / 100
	case model.DiscountKindFixed:
		amount = d.Value
	}
	if amount > subtotal {
		amount = subtotal
	}
	if amount < 0 {
		amount = 0
	}
	return amount
}

func childLabel(snap *model.CheckoutSnapshot, childID int) string {
	if c := snap.ChildByID(childID); c != nil {
		return c.Name
	}
	return fmt.Sprintf("child %d", childID)
}
