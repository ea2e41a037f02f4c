package service

import (
	"testing"

	"github.com/fieldday/fieldday-backend/internal/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func pricingSnapshot() *model.CheckoutSnapshot {
	offeringID := uuid.New()
	return &model.CheckoutSnapshot{
		OfferingID: offeringID,
		Offering: &model.Offering{
			ID:         offeringID,
			Name:       "Soccer Stars U8",
			PriceCents: 10000,
		},
		Fees: []model.OfferingFee{
			{ID: uuid.New(), Name: "Uniform", AmountCents: 2500, Required: true},
			{ID: uuid.New(), Name: "Team photo", AmountCents: 1000, Required: false},
		},
		Program: &model.Program{
			ID:                   uuid.New(),
			Name:                 "Spring Soccer",
			SiblingDiscountCents: 1500,
		},
		Children: []model.ChildCandidate{
			{Child: model.Child{ID: 1, Name: "Ava"}},
			{Child: model.Child{ID: 2, Name: "Ben"}},
		},
		Selected:     []int{1},
		FeeSelection: map[int][]uuid.UUID{},
	}
}

func lineTotal(preview *model.PricePreview, kind model.PriceLineKind) int64 {
	var total int64
	for _, l := range preview.Lines {
		if l.Kind == kind {
			total += l.AmountCents
		}
	}
	return total
}

func TestComputePreviewBaseAndRequiredFees(t *testing.T) {
	svc := NewPricingService(0)
	snap := pricingSnapshot()

	preview, err := svc.ComputePreview(snap)
	require.NoError(t, err)

	require.Equal(t, int64(10000), lineTotal(preview, model.LineBasePrice))
	require.Equal(t, int64(2500), lineTotal(preview, model.LineRequiredFee))
	require.Equal(t, int64(12500), preview.TotalCents)
}

func TestComputePreviewOptionalFee(t *testing.T) {
	svc := NewPricingService(0)
	snap := pricingSnapshot()
	snap.FeeSelection[1] = []uuid.UUID{snap.Fees[1].ID}

	preview, err := svc.ComputePreview(snap)
	require.NoError(t, err)

	require.Equal(t, int64(1000), lineTotal(preview, model.LineOptionalFee))
	require.Equal(t, int64(13500), preview.TotalCents)
}

func TestComputePreviewSiblingDiscountPerExtraChild(t *testing.T) {
	svc := NewPricingService(0)
	snap := pricingSnapshot()
	snap.Selected = []int{1, 2}

	preview, err := svc.ComputePreview(snap)
	require.NoError(t, err)

	// One discount for the second child: 2 × $125 − $15.
	require.Equal(t, int64(-1500), lineTotal(preview, model.LineSiblingDiscount))
	require.Equal(t, int64(23500), preview.TotalCents)
}

func TestComputePreviewDiscountCodes(t *testing.T) {
	svc := NewPricingService(0)

	snap := pricingSnapshot()
	snap.Discount = &model.DiscountCode{Code: "EARLYBIRD10", Kind: model.DiscountKindPercent, Value: 10}
	preview, err := svc.ComputePreview(snap)
	require.NoError(t, err)
	require.Equal(t, int64(-1250), lineTotal(preview, model.LineDiscountCode))
	require.Equal(t, int64(11250), preview.TotalCents)

	snap = pricingSnapshot()
	snap.Discount = &model.DiscountCode{Code: "WELCOME5", Kind: model.DiscountKindFixed, Value: 500}
	preview, err = svc.ComputePreview(snap)
	require.NoError(t, err)
	require.Equal(t, int64(12000), preview.TotalCents)
}

func TestComputePreviewFixedDiscountClampedToSubtotal(t *testing.T) {
	svc := NewPricingService(0)
	snap := pricingSnapshot()
	snap.Offering.PriceCents = 100
	snap.Fees = nil
	snap.Discount = &model.DiscountCode{Code: "BIG", Kind: model.DiscountKindFixed, Value: 99999}

	preview, err := svc.ComputePreview(snap)
	require.NoError(t, err)
	require.Equal(t, int64(0), preview.TotalCents)
}

func TestComputePreviewProcessingFee(t *testing.T) {
	svc := NewPricingService(290) // 2.9%
	snap := pricingSnapshot()

	preview, err := svc.ComputePreview(snap)
	require.NoError(t, err)

	require.Equal(t, int64(362), lineTotal(preview, model.LineProcessingFee)) // 12500 × 0.029, floored
	require.Equal(t, int64(12862), preview.TotalCents)
}

func TestComputePreviewInstallmentSplitRemainderOnFirst(t *testing.T) {
	svc := NewPricingService(0)
	snap := pricingSnapshot()
	snap.PaymentMethod = model.PaymentMethodInstallments
	snap.Plan = &model.InstallmentPlan{Count: 3}

	preview, err := svc.ComputePreview(snap)
	require.NoError(t, err)

	require.NotNil(t, preview.Installment)
	require.Equal(t, 3, preview.Installment.Count)
	require.Equal(t, int64(4166), preview.Installment.PerInstallmentCents)
	require.Equal(t, int64(4168), preview.Installment.FirstInstallmentCents)
	total := preview.Installment.FirstInstallmentCents +
		preview.Installment.PerInstallmentCents*int64(preview.Installment.Count-1)
	require.Equal(t, preview.TotalCents, total)
}

func TestComputePreviewEmptySelection(t *testing.T) {
	svc := NewPricingService(0)
	snap := pricingSnapshot()
	snap.Selected = nil

	_, err := svc.ComputePreview(snap)
	require.ErrorIs(t, err, ErrEmptySelection)
}
