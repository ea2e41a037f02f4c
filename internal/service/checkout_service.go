package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fieldday/fieldday-backend/internal/model"
	"github.com/fieldday/fieldday-backend/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Steps recorded on CheckoutError so a retry resumes where the flow failed
// instead of restarting it.
const (
	StepInitialize     = "initialize"
	StepWaiverCheck    = "waiver_check"
	StepOrderCreate    = "order_create"
	StepPaymentSession = "payment_session"
)

// OfferingStore loads offering data for a checkout.
type OfferingStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Offering, error)
	ListFees(ctx context.Context, offeringID uuid.UUID) ([]model.OfferingFee, error)
	GetProgram(ctx context.Context, programID uuid.UUID) (*model.Program, error)
}

// ChildStore loads a parent's children and their enrollment status.
type ChildStore interface {
	ListByParent(ctx context.Context, parentID int) ([]model.Child, error)
	EnrolledChildIDs(ctx context.Context, offeringID uuid.UUID, parentID int) (map[int]bool, error)
}

// ParentStore loads parent accounts.
type ParentStore interface {
	GetByID(ctx context.Context, id int) (*model.Parent, error)
}

// WaiverGateway resolves and records waiver requirements.
type WaiverGateway interface {
	CheckPending(ctx context.Context, childID int, programID, schoolID uuid.UUID) ([]model.WaiverTemplate, error)
	Sign(ctx context.Context, parentID, childID int, templateIDs []uuid.UUID) error
}

// DiscountStore validates discount codes.
type DiscountStore interface {
	GetActiveByCode(ctx context.Context, code string) (*model.DiscountCode, error)
}

// OrderStore manages enrollment orders.
type OrderStore interface {
	CreateWithCapacityCheck(ctx context.Context, o *model.Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Order, error)
	SetPaymentSession(ctx context.Context, orderID uuid.UUID, sessionID, redirectURL string) error
	MarkFreeConfirmed(ctx context.Context, orderID uuid.UUID) error
	VoidPending(ctx context.Context, orderID uuid.UUID) error
}

// WaitlistStore records waitlist joins.
type WaitlistStore interface {
	Join(ctx context.Context, e *model.WaitlistEntry) error
}

// PaymentProvider opens hosted payment sessions.
type PaymentProvider interface {
	CreateSession(ctx context.Context, order *model.Order, parent *model.Parent) (sessionID, redirectURL string, err error)
}

// SnapshotStore persists checkout snapshots.
type SnapshotStore interface {
	Get(ctx context.Context, id uuid.UUID) (*model.CheckoutSnapshot, error)
	Save(ctx context.Context, snap *model.CheckoutSnapshot) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// Pricer computes authoritative price previews.
type Pricer interface {
	ComputePreview(snap *model.CheckoutSnapshot) (*model.PricePreview, error)
}

// CheckoutService is the checkout orchestrator. All state transitions of a
// checkout go through here, serialized per checkout by an in-process lock;
// the snapshot in Redis is the single source of truth between requests.
type CheckoutService struct {
	offerings OfferingStore
	children  ChildStore
	parents   ParentStore
	waivers   WaiverGateway
	discounts DiscountStore
	orders    OrderStore
	waitlist  WaitlistStore
	payments  PaymentProvider
	snapshots SnapshotStore
	pricer    Pricer
	publisher EventPublisher
	log       zerolog.Logger

	// waiverFlight deduplicates concurrent waiver checks for the same
	// (checkout, child) pair into one gateway call.
	waiverFlight singleflight.Group

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex

	now func() time.Time
}

// NewCheckoutService creates the checkout orchestrator.
func NewCheckoutService(
	offerings OfferingStore,
	children ChildStore,
	parents ParentStore,
	waivers WaiverGateway,
	discounts DiscountStore,
	orders OrderStore,
	waitlist WaitlistStore,
	payments PaymentProvider,
	snapshots SnapshotStore,
	pricer Pricer,
	publisher EventPublisher,
	log zerolog.Logger,
) *CheckoutService {
	return &CheckoutService{
		offerings: offerings,
		children:  children,
		parents:   parents,
		waivers:   waivers,
		discounts: discounts,
		orders:    orders,
		waitlist:  waitlist,
		payments:  payments,
		snapshots: snapshots,
		pricer:    pricer,
		publisher: publisher,
		log:       log.With().Str("component", "checkout_service").Logger(),
		locks:     make(map[uuid.UUID]*sync.Mutex),
		now:       time.Now,
	}
}

// checkoutLock returns the per-checkout mutex, creating it on first use.
func (s *CheckoutService) checkoutLock(id uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.locks[id]; ok {
		return l
	}
	l := &sync.Mutex{}
	s.locks[id] = l
	return l
}

// Initialize starts a checkout for one offering: loads the offering, its
// fees, program scope and the parent's children, and persists the initial
// snapshot. A full class short-circuits straight to WAITLISTED so the parent
// can join the waitlist without walking the payment flow.
func (s *CheckoutService) Initialize(ctx context.Context, parentID int, offeringID uuid.UUID) (*model.CheckoutSnapshot, error) {
	snap := &model.CheckoutSnapshot{
		ID:           uuid.New(),
		ParentID:     parentID,
		OfferingID:   offeringID,
		WaiverStates: make(map[int]*model.ChildWaiverState),
		FeeSelection: make(map[int][]uuid.UUID),
		Phase:        model.PhaseInitializing,
		CreatedAt:    s.now(),
	}

	if err := s.loadCatalog(ctx, snap); err != nil {
		if errors.Is(err, ErrOfferingClosed) {
			return nil, err
		}
		// Transient failure: persist the snapshot so the client holds an id
		// and can resume initialization through Retry.
		snap.LastError = &model.CheckoutError{
			Code:      "CATALOG_LOAD_FAILED",
			Step:      StepInitialize,
			Retryable: true,
		}
		if saveErr := s.snapshots.Save(ctx, snap); saveErr != nil {
			return nil, err
		}
		s.log.Warn().Err(err).
			Str("checkout_id", snap.ID.String()).
			Msg("Catalog load failed, checkout left retryable")
		return snap, nil
	}

	if HasCapacity(snap.Offering) {
		snap.Phase = model.PhaseReady
	} else {
		snap.Phase = model.PhaseWaitlisted
	}

	if err := s.snapshots.Save(ctx, snap); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("checkout_id", snap.ID.String()).
		Str("offering_id", offeringID.String()).
		Int("parent_id", parentID).
		Str("phase", string(snap.Phase)).
		Msg("Checkout initialized")

	s.publish(ctx, snap)
	return snap, nil
}

// loadCatalog fetches the offering snapshot, fees, program scope and child
// candidates. Called once at initialization and again only on explicit retry.
func (s *CheckoutService) loadCatalog(ctx context.Context, snap *model.CheckoutSnapshot) error {
	offering, err := s.offerings.GetByID(ctx, snap.OfferingID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrOfferingClosed
	}
	if err != nil {
		return fmt.Errorf("load offering: %w", err)
	}
	if offering.Status != model.OfferingStatusOpen {
		return ErrOfferingClosed
	}

	fees, err := s.offerings.ListFees(ctx, offering.ID)
	if err != nil {
		return fmt.Errorf("load fees: %w", err)
	}

	program, err := s.offerings.GetProgram(ctx, offering.ProgramID)
	if err != nil {
		return fmt.Errorf("load program: %w", err)
	}

	kids, err := s.children.ListByParent(ctx, snap.ParentID)
	if err != nil {
		return fmt.Errorf("load children: %w", err)
	}

	enrolled, err := s.children.EnrolledChildIDs(ctx, offering.ID, snap.ParentID)
	if err != nil {
		return fmt.Errorf("load enrollments: %w", err)
	}

	candidates := make([]model.ChildCandidate, 0, len(kids))
	for _, c := range kids {
		candidates = append(candidates, model.ChildCandidate{
			Child:           c,
			AlreadyEnrolled: enrolled[c.ID],
		})
	}

	snap.Offering = offering
	snap.Fees = fees
	snap.Program = program
	snap.Children = candidates
	return nil
}

// Get returns the current snapshot, enforcing ownership.
func (s *CheckoutService) Get(ctx context.Context, parentID int, checkoutID uuid.UUID) (*model.CheckoutSnapshot, error) {
	snap, err := s.snapshots.Get(ctx, checkoutID)
	if err != nil {
		return nil, err
	}
	if snap.ParentID != parentID {
		return nil, ErrNotOwner
	}
	return snap, nil
}

// ToggleChild selects or deselects a child. First selection of a child kicks
// off its waiver check; the result is memoized for the rest of the session,
// so re-selecting a cleared child does not re-query the waiver gateway.
func (s *CheckoutService) ToggleChild(ctx context.Context, parentID int, checkoutID uuid.UUID, childID int) (*model.CheckoutSnapshot, error) {
	lock := s.checkoutLock(checkoutID)
	lock.Lock()

	snap, err := s.Get(ctx, parentID, checkoutID)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	if !s.selectionMutable(snap) {
		lock.Unlock()
		return nil, ErrInvalidPhase
	}

	candidate := snap.ChildByID(childID)
	if candidate == nil {
		lock.Unlock()
		return nil, ErrChildNotFound
	}

	needCheck := false
	var programID, schoolID uuid.UUID

	if snap.IsSelected(childID) {
		s.deselect(snap, childID)
	} else {
		if candidate.AlreadyEnrolled {
			lock.Unlock()
			return nil, ErrChildAlreadyEnrolled
		}
		snap.Selected = append(snap.Selected, childID)

		state := snap.WaiverStates[childID]
		if state == nil || state.State == model.WaiverUnchecked {
			snap.WaiverStates[childID] = &model.ChildWaiverState{State: model.WaiverChecking}
			needCheck = true
			programID = snap.Program.ID
			schoolID = snap.Program.SchoolID
		}
	}

	s.refreshPreview(snap)
	s.recomputePhase(snap)
	if err := s.snapshots.Save(ctx, snap); err != nil {
		lock.Unlock()
		return nil, err
	}
	lock.Unlock()

	if needCheck {
		s.runWaiverCheck(ctx, checkoutID, childID, programID, schoolID)
	}

	return s.Get(ctx, parentID, checkoutID)
}

// deselect removes a child from the selection, drops its optional fee picks,
// and discards an in-flight waiver check. A completed waiver result stays
// memoized for re-selection.
func (s *CheckoutService) deselect(snap *model.CheckoutSnapshot, childID int) {
	kept := snap.Selected[:0]
	for _, id := range snap.Selected {
		if id != childID {
			kept = append(kept, id)
		}
	}
	snap.Selected = kept
	delete(snap.FeeSelection, childID)

	if state := snap.WaiverStates[childID]; state != nil && state.State == model.WaiverChecking {
		state.State = model.WaiverUnchecked
	}
}

// EnsureWaiverChecks runs waiver checks for every selected child whose state
// is unresolved. Used by Retry and as a safety net after reconnects.
func (s *CheckoutService) EnsureWaiverChecks(ctx context.Context, parentID int, checkoutID uuid.UUID) (*model.CheckoutSnapshot, error) {
	lock := s.checkoutLock(checkoutID)
	lock.Lock()

	snap, err := s.Get(ctx, parentID, checkoutID)
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	var pending []int
	for _, childID := range snap.Selected {
		state := snap.WaiverStates[childID]
		if state == nil || state.State == model.WaiverUnchecked || state.State == model.WaiverChecking {
			snap.WaiverStates[childID] = &model.ChildWaiverState{State: model.WaiverChecking}
			pending = append(pending, childID)
		}
	}
	programID := snap.Program.ID
	schoolID := snap.Program.SchoolID

	if len(pending) > 0 {
		s.recomputePhase(snap)
		if err := s.snapshots.Save(ctx, snap); err != nil {
			lock.Unlock()
			return nil, err
		}
	}
	lock.Unlock()

	for _, childID := range pending {
		s.runWaiverCheck(ctx, checkoutID, childID, programID, schoolID)
	}

	return s.Get(ctx, parentID, checkoutID)
}

// runWaiverCheck performs one child's waiver check outside the checkout lock,
// deduplicated via singleflight, then applies the result under the lock. The
// result is discarded if the child was deselected while the check ran.
//
// The gateway failing open is deliberate: a waiver outage must not block
// enrollment revenue, at the cost of occasionally chasing signatures later.
func (s *CheckoutService) runWaiverCheck(ctx context.Context, checkoutID uuid.UUID, childID int, programID, schoolID uuid.UUID) {
	key := fmt.Sprintf("%s:%d", checkoutID, childID)

	result, err, _ := s.waiverFlight.Do(key, func() (interface{}, error) {
		return s.waivers.CheckPending(ctx, childID, programID, schoolID)
	})

	var pending []model.WaiverTemplate
	if err != nil {
		s.log.Warn().Err(err).
			Str("checkout_id", checkoutID.String()).
			Int("child_id", childID).
			Msg("Waiver check failed, treating child as cleared")
	} else {
		pending = result.([]model.WaiverTemplate)
	}

	lock := s.checkoutLock(checkoutID)
	lock.Lock()
	defer lock.Unlock()

	snap, loadErr := s.snapshots.Get(ctx, checkoutID)
	if loadErr != nil {
		return
	}

	if !snap.IsSelected(childID) {
		// Deselected mid-check: the result no longer applies.
		if state := snap.WaiverStates[childID]; state != nil && state.State == model.WaiverChecking {
			state.State = model.WaiverUnchecked
			_ = s.snapshots.Save(ctx, snap)
		}
		return
	}

	if len(pending) == 0 {
		snap.WaiverStates[childID] = &model.ChildWaiverState{State: model.WaiverCleared}
	} else {
		snap.WaiverStates[childID] = &model.ChildWaiverState{
			State:   model.WaiverBlocked,
			Pending: pending,
		}
	}

	s.refreshPreview(snap)
	s.recomputePhase(snap)
	if err := s.snapshots.Save(ctx, snap); err != nil {
		s.log.Error().Err(err).Str("checkout_id", checkoutID.String()).Msg("Failed to save waiver result")
		return
	}
	s.publish(ctx, snap)
}

// SignWaivers records the parent's signatures for a blocked child. A
// successful batch signature is itself the clearance signal: the signed
// templates are removed from the pending set without re-querying the gateway.
func (s *CheckoutService) SignWaivers(ctx context.Context, parentID int, checkoutID uuid.UUID, req *model.SignWaiversRequest) (*model.CheckoutSnapshot, error) {
	lock := s.checkoutLock(checkoutID)
	lock.Lock()
	defer lock.Unlock()

	snap, err := s.Get(ctx, parentID, checkoutID)
	if err != nil {
		return nil, err
	}
	if !s.selectionMutable(snap) {
		return nil, ErrInvalidPhase
	}

	state := snap.WaiverStates[req.ChildID]
	if !snap.IsSelected(req.ChildID) || state == nil || state.State != model.WaiverBlocked {
		return nil, ErrChildNotFound
	}

	if err := s.waivers.Sign(ctx, parentID, req.ChildID, req.TemplateIDs); err != nil {
		return nil, err
	}

	signed := make(map[uuid.UUID]bool, len(req.TemplateIDs))
	for _, id := range req.TemplateIDs {
		signed[id] = true
	}

	var remaining []model.WaiverTemplate
	for _, tpl := range state.Pending {
		if !signed[tpl.ID] {
			remaining = append(remaining, tpl)
		}
	}

	if len(remaining) == 0 {
		snap.WaiverStates[req.ChildID] = &model.ChildWaiverState{State: model.WaiverCleared}
	} else {
		snap.WaiverStates[req.ChildID] = &model.ChildWaiverState{
			State:   model.WaiverBlocked,
			Pending: remaining,
		}
	}

	s.refreshPreview(snap)
	s.recomputePhase(snap)
	if err := s.snapshots.Save(ctx, snap); err != nil {
		return nil, err
	}
	s.publish(ctx, snap)
	return snap, nil
}

// SelectPaymentMethod chooses CARD or INSTALLMENTS. Switching to CARD drops
// any previously selected installment plan. Locked until every selected
// child's waiver check cleared.
func (s *CheckoutService) SelectPaymentMethod(ctx context.Context, parentID int, checkoutID uuid.UUID, method model.PaymentMethod) (*model.CheckoutSnapshot, error) {
	return s.mutate(ctx, parentID, checkoutID, func(snap *model.CheckoutSnapshot) error {
		if err := waiversCleared(snap); err != nil {
			return err
		}
		snap.PaymentMethod = method
		if method == model.PaymentMethodCard {
			snap.Plan = nil
		}
		return nil
	})
}

// SelectInstallmentPlan chooses the installment count. Only valid once the
// INSTALLMENTS method is selected.
func (s *CheckoutService) SelectInstallmentPlan(ctx context.Context, parentID int, checkoutID uuid.UUID, count int) (*model.CheckoutSnapshot, error) {
	return s.mutate(ctx, parentID, checkoutID, func(snap *model.CheckoutSnapshot) error {
		if err := waiversCleared(snap); err != nil {
			return err
		}
		if snap.PaymentMethod != model.PaymentMethodInstallments {
			return ErrPlanRequiresInstallments
		}
		snap.Plan = &model.InstallmentPlan{Count: count}
		return nil
	})
}

// ToggleFee toggles one optional fee for one selected child. Required fees
// cannot be toggled; they are implicit for every selected child.
func (s *CheckoutService) ToggleFee(ctx context.Context, parentID int, checkoutID uuid.UUID, childID int, feeID uuid.UUID) (*model.CheckoutSnapshot, error) {
	return s.mutate(ctx, parentID, checkoutID, func(snap *model.CheckoutSnapshot) error {
		if err := waiversCleared(snap); err != nil {
			return err
		}
		if !snap.IsSelected(childID) {
			return ErrChildNotFound
		}

		var fee *model.OfferingFee
		for i := range snap.Fees {
			if snap.Fees[i].ID == feeID {
				fee = &snap.Fees[i]
				break
			}
		}
		if fee == nil || fee.Required {
			return ErrFeeNotOptional
		}

		chosen := snap.FeeSelection[childID]
		for i, id := range chosen {
			if id == feeID {
				snap.FeeSelection[childID] = append(chosen[:i], chosen[i+1:]...)
				return nil
			}
		}
		snap.FeeSelection[childID] = append(chosen, feeID)
		return nil
	})
}

// ApplyDiscount validates and applies a discount code. A rejected code leaves
// the checkout untouched, including any previously applied discount.
func (s *CheckoutService) ApplyDiscount(ctx context.Context, parentID int, checkoutID uuid.UUID, code string) (*model.CheckoutSnapshot, error) {
	return s.mutate(ctx, parentID, checkoutID, func(snap *model.CheckoutSnapshot) error {
		discount, err := s.discounts.GetActiveByCode(ctx, code)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrDiscountInvalid
		}
		if err != nil {
			return fmt.Errorf("validate discount: %w", err)
		}
		if discount.Expired(s.now()) {
			return ErrDiscountExpired
		}
		snap.Discount = discount
		return nil
	})
}

// RemoveDiscount clears an applied discount code.
func (s *CheckoutService) RemoveDiscount(ctx context.Context, parentID int, checkoutID uuid.UUID) (*model.CheckoutSnapshot, error) {
	return s.mutate(ctx, parentID, checkoutID, func(snap *model.CheckoutSnapshot) error {
		snap.Discount = nil
		return nil
	})
}

// Preview recomputes and returns the authoritative price preview.
func (s *CheckoutService) Preview(ctx context.Context, parentID int, checkoutID uuid.UUID) (*model.CheckoutSnapshot, error) {
	return s.mutate(ctx, parentID, checkoutID, func(snap *model.CheckoutSnapshot) error {
		return nil
	})
}

// mutate is the shared write path for selection-phase operations: load under
// the checkout lock, apply, refresh the preview, recompute the phase, save,
// publish.
func (s *CheckoutService) mutate(ctx context.Context, parentID int, checkoutID uuid.UUID, fn func(*model.CheckoutSnapshot) error) (*model.CheckoutSnapshot, error) {
	lock := s.checkoutLock(checkoutID)
	lock.Lock()
	defer lock.Unlock()

	snap, err := s.Get(ctx, parentID, checkoutID)
	if err != nil {
		return nil, err
	}
	if !s.selectionMutable(snap) {
		return nil, ErrInvalidPhase
	}

	if err := fn(snap); err != nil {
		return nil, err
	}

	s.refreshPreview(snap)
	s.recomputePhase(snap)
	if err := s.snapshots.Save(ctx, snap); err != nil {
		return nil, err
	}
	s.publish(ctx, snap)
	return snap, nil
}

// selectionMutable reports whether the snapshot is in a phase where selection,
// fees, discounts and payment method may still change. Once an order exists
// the selection is frozen until the order is voided.
func (s *CheckoutService) selectionMutable(snap *model.CheckoutSnapshot) bool {
	switch snap.Phase {
	case model.PhaseReady, model.PhaseWaiverChecking, model.PhaseWaiverBlocked,
		model.PhaseFeeAndPaymentSelection, model.PhaseOrderPreview:
		return snap.Order == nil
	}
	return false
}

// waiversCleared returns ErrWaiverBlocked unless every selected child's
// waiver check finished with a cleared result. Payment and fee choices are
// meaningless while a child is still blocked or being checked.
func waiversCleared(snap *model.CheckoutSnapshot) error {
	for _, childID := range snap.Selected {
		state := snap.WaiverStates[childID]
		if state == nil || state.State != model.WaiverCleared {
			return ErrWaiverBlocked
		}
	}
	return nil
}

// refreshPreview recomputes the price preview for the current selection, or
// clears it when the selection is empty.
func (s *CheckoutService) refreshPreview(snap *model.CheckoutSnapshot) {
	if len(snap.Selected) == 0 {
		snap.Preview = nil
		return
	}
	preview, err := s.pricer.ComputePreview(snap)
	if err != nil {
		s.log.Error().Err(err).Str("checkout_id", snap.ID.String()).Msg("Failed to compute preview")
		snap.Preview = nil
		return
	}
	snap.Preview = preview
}

// recomputePhase derives the selection-phase from the snapshot's waiver
// states and payment choices. Phases at or beyond order creation are managed
// explicitly by the operations that enter them.
func (s *CheckoutService) recomputePhase(snap *model.CheckoutSnapshot) {
	if !s.selectionMutable(snap) {
		return
	}

	if len(snap.Selected) == 0 {
		snap.Phase = model.PhaseReady
		return
	}

	blocked := false
	for _, childID := range snap.Selected {
		state := snap.WaiverStates[childID]
		if state == nil || state.State == model.WaiverChecking || state.State == model.WaiverUnchecked {
			snap.Phase = model.PhaseWaiverChecking
			return
		}
		if state.State == model.WaiverBlocked {
			blocked = true
		}
	}
	if blocked {
		snap.Phase = model.PhaseWaiverBlocked
		return
	}

	if snap.PaymentMethod == "" ||
		(snap.PaymentMethod == model.PaymentMethodInstallments && snap.Plan == nil) {
		snap.Phase = model.PhaseFeeAndPaymentSelection
		return
	}
	snap.Phase = model.PhaseOrderPreview
}

// CreateOrder converts the confirmed preview into an enrollment order. The
// operation is idempotent: the selection fingerprint plus a database unique
// constraint guarantee at most one order per confirmed selection, so a
// double-click or a retried request lands on the same order.
func (s *CheckoutService) CreateOrder(ctx context.Context, parentID int, checkoutID uuid.UUID) (*model.CheckoutSnapshot, error) {
	lock := s.checkoutLock(checkoutID)
	lock.Lock()
	defer lock.Unlock()

	snap, err := s.Get(ctx, parentID, checkoutID)
	if err != nil {
		return nil, err
	}

	switch snap.Phase {
	case model.PhaseOrderPreview, model.PhaseOrderCreating:
	case model.PhaseAwaitingPayment:
		// Order already exists with a live payment session.
		return snap, nil
	default:
		return nil, ErrInvalidPhase
	}

	if err := waiversCleared(snap); err != nil {
		return nil, err
	}
	if snap.Preview == nil {
		return nil, ErrInvalidPhase
	}

	fp := selectionFingerprint(snap)

	if snap.Order == nil || snap.Fingerprint != fp {
		snap.Phase = model.PhaseOrderCreating
		snap.Fingerprint = fp

		lineItems, err := json.Marshal(snap.Preview.Lines)
		if err != nil {
			return nil, fmt.Errorf("encode line items: %w", err)
		}

		order := &model.Order{
			ID:          uuid.New(),
			CheckoutID:  snap.ID,
			ParentID:    snap.ParentID,
			OfferingID:  snap.OfferingID,
			Fingerprint: fp,
			ChildIDs:    append([]int(nil), snap.Selected...),
			TotalCents:  snap.Preview.TotalCents,
			Status:      model.OrderStatusPending,
			LineItems:   lineItems,
		}

		err = s.orders.CreateWithCapacityCheck(ctx, order)
		if errors.Is(err, repository.ErrCapacityConflict) {
			// The class filled while the parent was deciding.
			snap.Phase = model.PhaseWaitlisted
			snap.Order = nil
			snap.LastError = nil
			if saveErr := s.snapshots.Save(ctx, snap); saveErr != nil {
				return nil, saveErr
			}
			s.publish(ctx, snap)
			return snap, nil
		}
		if err != nil {
			snap.LastError = &model.CheckoutError{
				Code:      "ORDER_CREATE_FAILED",
				Step:      StepOrderCreate,
				Retryable: true,
			}
			_ = s.snapshots.Save(ctx, snap)
			return nil, fmt.Errorf("create order: %w", err)
		}

		snap.Order = &model.OrderRef{
			ID:         order.ID,
			TotalCents: order.TotalCents,
			Status:     order.Status,
		}
		// The store may have handed back a live order created earlier for the
		// same selection; carry its payment session over instead of opening a
		// second one.
		if order.PaymentSessionID != nil {
			snap.Order.PaymentSessionID = *order.PaymentSessionID
		}
		if order.PaymentRedirectURL != nil {
			snap.Order.RedirectURL = *order.PaymentRedirectURL
		}
		snap.LastError = nil

		s.log.Info().
			Str("checkout_id", snap.ID.String()).
			Str("order_id", order.ID.String()).
			Int64("total_cents", order.TotalCents).
			Msg("Order created")
	}

	// A zero total confirms immediately: no payment session, no redirect.
	if snap.Order.TotalCents == 0 {
		if err := s.orders.MarkFreeConfirmed(ctx, snap.Order.ID); err != nil {
			snap.LastError = &model.CheckoutError{
				Code:      "ORDER_CREATE_FAILED",
				Step:      StepOrderCreate,
				Retryable: true,
			}
			_ = s.snapshots.Save(ctx, snap)
			return nil, fmt.Errorf("confirm free order: %w", err)
		}
		snap.Order.Status = model.OrderStatusFreeConfirmed
		snap.Phase = model.PhasePaymentSucceeded
		snap.LastError = nil
		if err := s.snapshots.Save(ctx, snap); err != nil {
			return nil, err
		}
		s.publish(ctx, snap)
		return snap, nil
	}

	if snap.Order.PaymentSessionID == "" {
		if err := s.openPaymentSession(ctx, snap); err != nil {
			return nil, err
		}
	}

	snap.Phase = model.PhaseAwaitingPayment
	snap.LastError = nil
	if err := s.snapshots.Save(ctx, snap); err != nil {
		return nil, err
	}
	s.publish(ctx, snap)
	return snap, nil
}

// openPaymentSession creates the hosted payment session for the snapshot's
// order and records the handoff. Failure is retryable and reuses the same
// order; the capacity hold survives the retry.
func (s *CheckoutService) openPaymentSession(ctx context.Context, snap *model.CheckoutSnapshot) error {
	parent, err := s.parents.GetByID(ctx, snap.ParentID)
	if err != nil {
		return fmt.Errorf("load parent: %w", err)
	}

	order, err := s.orders.GetByID(ctx, snap.Order.ID)
	if err != nil {
		return fmt.Errorf("load order: %w", err)
	}

	sessionID, redirectURL, err := s.payments.CreateSession(ctx, order, parent)
	if err != nil {
		snap.LastError = &model.CheckoutError{
			Code:      "PAYMENT_SESSION_FAILED",
			Step:      StepPaymentSession,
			Retryable: true,
		}
		_ = s.snapshots.Save(ctx, snap)
		return fmt.Errorf("open payment session: %w", err)
	}

	if err := s.orders.SetPaymentSession(ctx, order.ID, sessionID, redirectURL); err != nil {
		return fmt.Errorf("record payment session: %w", err)
	}

	snap.Order.PaymentSessionID = sessionID
	snap.Order.RedirectURL = redirectURL
	return nil
}

// CompletePaymentReturn handles the browser coming back from the hosted
// payment page. The return is a hint, not proof: the phase flips to
// PAYMENT_SUCCEEDED only once settlement has actually marked the order paid;
// otherwise the checkout stays in AWAITING_PAYMENT until the webhook lands.
func (s *CheckoutService) CompletePaymentReturn(ctx context.Context, parentID int, checkoutID uuid.UUID, sessionID string) (*model.CheckoutSnapshot, error) {
	lock := s.checkoutLock(checkoutID)
	lock.Lock()
	defer lock.Unlock()

	snap, err := s.Get(ctx, parentID, checkoutID)
	if err != nil {
		return nil, err
	}
	if snap.Order == nil {
		return nil, ErrNoPendingOrder
	}
	if sessionID != "" && sessionID != snap.Order.PaymentSessionID {
		return nil, ErrPaymentMismatch
	}

	order, err := s.orders.GetByID(ctx, snap.Order.ID)
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}

	snap.Order.Status = order.Status
	if order.Status.IsConfirmed() {
		snap.Phase = model.PhasePaymentSucceeded
		snap.LastError = nil
	}

	if err := s.snapshots.Save(ctx, snap); err != nil {
		return nil, err
	}
	s.publish(ctx, snap)
	return snap, nil
}

// CancelPayment voids the pending order, releasing its capacity hold, and
// returns the checkout to the preview so the parent can change the selection.
func (s *CheckoutService) CancelPayment(ctx context.Context, parentID int, checkoutID uuid.UUID) (*model.CheckoutSnapshot, error) {
	lock := s.checkoutLock(checkoutID)
	lock.Lock()
	defer lock.Unlock()

	snap, err := s.Get(ctx, parentID, checkoutID)
	if err != nil {
		return nil, err
	}
	if snap.Order == nil || snap.Order.Status.IsTerminal() {
		return nil, ErrNoPendingOrder
	}

	if err := s.orders.VoidPending(ctx, snap.Order.ID); err != nil {
		return nil, fmt.Errorf("void order: %w", err)
	}

	snap.Order = nil
	snap.Fingerprint = ""
	snap.LastError = nil
	snap.Phase = model.PhaseOrderPreview
	s.refreshPreview(snap)
	s.recomputePhase(snap)

	if err := s.snapshots.Save(ctx, snap); err != nil {
		return nil, err
	}
	s.publish(ctx, snap)
	return snap, nil
}

// Retry resumes a failed checkout at the step that failed rather than
// restarting the flow. Initialization retries also re-fetch the offering,
// which is otherwise immutable for the life of the checkout.
func (s *CheckoutService) Retry(ctx context.Context, parentID int, checkoutID uuid.UUID) (*model.CheckoutSnapshot, error) {
	snap, err := s.Get(ctx, parentID, checkoutID)
	if err != nil {
		return nil, err
	}
	if snap.LastError == nil || !snap.LastError.Retryable {
		return snap, nil
	}

	switch snap.LastError.Step {
	case StepInitialize:
		lock := s.checkoutLock(checkoutID)
		lock.Lock()
		if err := s.loadCatalog(ctx, snap); err != nil {
			lock.Unlock()
			return nil, err
		}
		snap.LastError = nil
		if HasCapacity(snap.Offering) {
			snap.Phase = model.PhaseReady
		} else {
			snap.Phase = model.PhaseWaitlisted
		}
		if err := s.snapshots.Save(ctx, snap); err != nil {
			lock.Unlock()
			return nil, err
		}
		lock.Unlock()
		s.publish(ctx, snap)
		return snap, nil
	case StepWaiverCheck:
		return s.EnsureWaiverChecks(ctx, parentID, checkoutID)
	case StepOrderCreate, StepPaymentSession:
		return s.CreateOrder(ctx, parentID, checkoutID)
	default:
		return snap, nil
	}
}

// JoinWaitlist puts one child on the offering's waitlist. Available once the
// checkout is WAITLISTED, whether from a full class at initialization or a
// capacity conflict at order creation.
func (s *CheckoutService) JoinWaitlist(ctx context.Context, parentID int, checkoutID uuid.UUID, childID int) (*model.WaitlistEntry, error) {
	snap, err := s.Get(ctx, parentID, checkoutID)
	if err != nil {
		return nil, err
	}
	if snap.Phase != model.PhaseWaitlisted {
		return nil, ErrInvalidPhase
	}
	if snap.ChildByID(childID) == nil {
		return nil, ErrChildNotFound
	}

	entry := &model.WaitlistEntry{
		ID:         uuid.New(),
		OfferingID: snap.OfferingID,
		ChildID:    childID,
		ParentID:   parentID,
	}
	if err := s.waitlist.Join(ctx, entry); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("offering_id", snap.OfferingID.String()).
		Int("child_id", childID).
		Msg("Child joined waitlist")
	return entry, nil
}

// Receipt renders a plain-text receipt for a confirmed order.
func (s *CheckoutService) Receipt(ctx context.Context, parentID int, checkoutID uuid.UUID) (string, error) {
	snap, err := s.Get(ctx, parentID, checkoutID)
	if err != nil {
		return "", err
	}
	if snap.Order == nil {
		return "", ErrReceiptUnavailable
	}

	order, err := s.orders.GetByID(ctx, snap.Order.ID)
	if err != nil {
		return "", fmt.Errorf("load order: %w", err)
	}
	if !order.Status.IsConfirmed() {
		return "", ErrReceiptUnavailable
	}

	var lines []model.PriceLine
	if len(order.LineItems) > 0 {
		if err := json.Unmarshal(order.LineItems, &lines); err != nil {
			return "", fmt.Errorf("decode line items: %w", err)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Enrollment receipt\n")
	fmt.Fprintf(&b, "Order:    %s\n", order.ID)
	if snap.Offering != nil {
		fmt.Fprintf(&b, "Class:    %s\n", snap.Offering.Name)
	}
	fmt.Fprintf(&b, "Date:     %s\n\n", order.CreatedAt.Format("2006-01-02 15:04"))
	for _, line := range lines {
		fmt.Fprintf(&b, "%-44s %10s\n", line.Label, formatCents(line.AmountCents))
	}
	fmt.Fprintf(&b, "%-44s %10s\n", "Total", formatCents(order.TotalCents))
	return b.String(), nil
}

// publish pushes the current snapshot to live subscribers.
func (s *CheckoutService) publish(ctx context.Context, snap *model.CheckoutSnapshot) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(ctx, &model.CheckoutEvent{
		Type:     model.EventSnapshot,
		Phase:    snap.Phase,
		Snapshot: snap,
	})
}

// selectionFingerprint hashes everything that determines what the order
// charges for: children, their fee picks, the discount code, and the payment
// choice. Two identical confirmed selections always produce the same
// fingerprint, which the database unique constraint turns into idempotency.
func selectionFingerprint(snap *model.CheckoutSnapshot) string {
	children := append([]int(nil), snap.Selected...)
	sort.Ints(children)

	var b strings.Builder
	b.WriteString(snap.OfferingID.String())
	for _, childID := range children {
		fmt.Fprintf(&b, "|c%d:", childID)
		fees := make([]string, 0, len(snap.FeeSelection[childID]))
		for _, feeID := range snap.FeeSelection[childID] {
			fees = append(fees, feeID.String())
		}
		sort.Strings(fees)
		b.WriteString(strings.Join(fees, ","))
	}
	if snap.Discount != nil {
		fmt.Fprintf(&b, "|d:%s", snap.Discount.Code)
	}
	fmt.Fprintf(&b, "|m:%s", snap.PaymentMethod)
	if snap.Plan != nil {
		fmt.Fprintf(&b, "|p:%d", snap.Plan.Count)
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// formatCents renders an int64 cent amount as a dollar string.
func formatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}
