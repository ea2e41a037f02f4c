package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fieldday/fieldday-backend/internal/model"
	"github.com/fieldday/fieldday-backend/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// ─── In-memory fakes ────────────────────────────────────────────────

type fakeOfferingStore struct {
	offering *model.Offering
	fees     []model.OfferingFee
	program  *model.Program
	err      error
}

func (s *fakeOfferingStore) GetByID(_ context.Context, id uuid.UUID) (*model.Offering, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.offering == nil || s.offering.ID != id {
		return nil, pgx.ErrNoRows
	}
	o := *s.offering
	return &o, nil
}

func (s *fakeOfferingStore) ListFees(_ context.Context, _ uuid.UUID) ([]model.OfferingFee, error) {
	return append([]model.OfferingFee(nil), s.fees...), nil
}

func (s *fakeOfferingStore) GetProgram(_ context.Context, _ uuid.UUID) (*model.Program, error) {
	p := *s.program
	return &p, nil
}

type fakeChildStore struct {
	children []model.Child
	enrolled map[int]bool
}

func (s *fakeChildStore) ListByParent(_ context.Context, _ int) ([]model.Child, error) {
	return append([]model.Child(nil), s.children...), nil
}

func (s *fakeChildStore) EnrolledChildIDs(_ context.Context, _ uuid.UUID, _ int) (map[int]bool, error) {
	if s.enrolled == nil {
		return map[int]bool{}, nil
	}
	return s.enrolled, nil
}

type fakeParentStore struct {
	parent *model.Parent
}

func (s *fakeParentStore) GetByID(_ context.Context, _ int) (*model.Parent, error) {
	p := *s.parent
	return &p, nil
}

type fakeWaiverGateway struct {
	mu         sync.Mutex
	pending    map[int][]model.WaiverTemplate
	checkCalls int32
	checkErr   error
	// gate, when set, blocks CheckPending until closed; entered signals that
	// a check reached the gateway.
	gate    chan struct{}
	entered chan struct{}
	signed  map[int][]uuid.UUID
}

func (g *fakeWaiverGateway) CheckPending(_ context.Context, childID int, _, _ uuid.UUID) ([]model.WaiverTemplate, error) {
	if g.entered != nil {
		select {
		case g.entered <- struct{}{}:
		default:
		}
	}
	if g.gate != nil {
		<-g.gate
	}
	atomic.AddInt32(&g.checkCalls, 1)
	if g.checkErr != nil {
		return nil, g.checkErr
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]model.WaiverTemplate(nil), g.pending[childID]...), nil
}

func (g *fakeWaiverGateway) Sign(_ context.Context, _, childID int, templateIDs []uuid.UUID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.signed == nil {
		g.signed = make(map[int][]uuid.UUID)
	}
	g.signed[childID] = append(g.signed[childID], templateIDs...)
	return nil
}

func (g *fakeWaiverGateway) calls() int32 {
	return atomic.LoadInt32(&g.checkCalls)
}

type fakeDiscountStore struct {
	codes map[string]*model.DiscountCode
}

func (s *fakeDiscountStore) GetActiveByCode(_ context.Context, code string) (*model.DiscountCode, error) {
	d, ok := s.codes[code]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	c := *d
	return &c, nil
}

// fakeOrderStore mirrors the real repository's semantics: a live order for
// the same (checkout, fingerprint) is reused before capacity is judged, then
// the capacity re-check counts pending holds alongside enrollments.
type fakeOrderStore struct {
	mu          sync.Mutex
	orders      map[uuid.UUID]*model.Order
	capacity    int
	enrolled    int
	createCalls int
}

func newFakeOrderStore(capacity int) *fakeOrderStore {
	return &fakeOrderStore{
		orders:   make(map[uuid.UUID]*model.Order),
		capacity: capacity,
	}
}

func (s *fakeOrderStore) CreateWithCapacityCheck(_ context.Context, o *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createCalls++

	for _, existing := range s.orders {
		if existing.CheckoutID == o.CheckoutID && existing.Fingerprint == o.Fingerprint &&
			existing.Status != model.OrderStatusCanceled && existing.Status != model.OrderStatusExpired {
			*o = *existing
			return nil
		}
	}

	held := 0
	for _, existing := range s.orders {
		if existing.Status == model.OrderStatusPending {
			held += len(existing.ChildIDs)
		}
	}
	if s.enrolled+held+len(o.ChildIDs) > s.capacity {
		return repository.ErrCapacityConflict
	}

	o.CreatedAt = time.Now()
	stored := *o
	s.orders[o.ID] = &stored
	return nil
}

func (s *fakeOrderStore) GetByID(_ context.Context, id uuid.UUID) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *o
	return &copied, nil
}

func (s *fakeOrderStore) SetPaymentSession(_ context.Context, orderID uuid.UUID, sessionID, redirectURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[orderID]; ok && o.Status == model.OrderStatusPending {
		o.PaymentSessionID = &sessionID
		o.PaymentRedirectURL = &redirectURL
	}
	return nil
}

func (s *fakeOrderStore) MarkFreeConfirmed(_ context.Context, orderID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[orderID]; ok && o.Status == model.OrderStatusPending {
		o.Status = model.OrderStatusFreeConfirmed
		s.enrolled += len(o.ChildIDs)
	}
	return nil
}

func (s *fakeOrderStore) VoidPending(_ context.Context, orderID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[orderID]; ok && o.Status == model.OrderStatusPending {
		o.Status = model.OrderStatusCanceled
	}
	return nil
}

func (s *fakeOrderStore) setStatus(orderID uuid.UUID, status model.OrderStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[orderID]; ok {
		o.Status = status
	}
}

func (s *fakeOrderStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

type fakeWaitlistStore struct {
	mu      sync.Mutex
	entries []model.WaitlistEntry
}

func (s *fakeWaitlistStore) Join(_ context.Context, e *model.WaitlistEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.entries {
		if existing.OfferingID == e.OfferingID && existing.ChildID == e.ChildID {
			return repository.ErrAlreadyWaitlisted
		}
	}
	e.CreatedAt = time.Now()
	s.entries = append(s.entries, *e)
	return nil
}

type fakePaymentProvider struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (p *fakePaymentProvider) CreateSession(_ context.Context, _ *model.Order, _ *model.Parent) (string, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", "", p.err
	}
	p.calls++
	return fmt.Sprintf("sess-%d", p.calls), fmt.Sprintf("https://pay.test/sess-%d", p.calls), nil
}

// fakeSnapshotStore serializes through JSON so callers get copies, matching
// Redis semantics.
type fakeSnapshotStore struct {
	mu   sync.Mutex
	data map[uuid.UUID][]byte
}

func newFakeSnapshotStore() *fakeSnapshotStore {
	return &fakeSnapshotStore{data: make(map[uuid.UUID][]byte)}
}

func (s *fakeSnapshotStore) Get(_ context.Context, id uuid.UUID) (*model.CheckoutSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.data[id]
	if !ok {
		return nil, repository.ErrSnapshotNotFound
	}
	var snap model.CheckoutSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *fakeSnapshotStore) Save(_ context.Context, snap *model.CheckoutSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	s.data[snap.ID] = raw
	return nil
}

func (s *fakeSnapshotStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, id)
	return nil
}

// ─── Fixture ────────────────────────────────────────────────────────

const testParentID = 7

type checkoutFixture struct {
	svc       *CheckoutService
	offerings *fakeOfferingStore
	waivers   *fakeWaiverGateway
	discounts *fakeDiscountStore
	orders    *fakeOrderStore
	waitlist  *fakeWaitlistStore
	payments  *fakePaymentProvider
	snapshots *fakeSnapshotStore

	offeringID uuid.UUID
	uniformFee uuid.UUID
	photoFee   uuid.UUID
}

func newCheckoutFixture(t *testing.T) *checkoutFixture {
	t.Helper()

	offeringID := uuid.New()
	programID := uuid.New()
	uniformFee := uuid.New()
	photoFee := uuid.New()

	f := &checkoutFixture{
		offerings: &fakeOfferingStore{
			offering: &model.Offering{
				ID:         offeringID,
				ProgramID:  programID,
				Name:       "Soccer Stars U8",
				PriceCents: 10000,
				Capacity:   12,
				Status:     model.OfferingStatusOpen,
			},
			fees: []model.OfferingFee{
				{ID: uniformFee, OfferingID: offeringID, Name: "Uniform", AmountCents: 2500, Required: true},
				{ID: photoFee, OfferingID: offeringID, Name: "Team photo", AmountCents: 1000, Required: false},
			},
			program: &model.Program{
				ID:                   programID,
				SchoolID:             uuid.New(),
				Name:                 "Spring Soccer",
				SiblingDiscountCents: 1500,
			},
		},
		waivers:    &fakeWaiverGateway{pending: map[int][]model.WaiverTemplate{}},
		discounts:  &fakeDiscountStore{codes: map[string]*model.DiscountCode{}},
		orders:     newFakeOrderStore(12),
		waitlist:   &fakeWaitlistStore{},
		payments:   &fakePaymentProvider{},
		snapshots:  newFakeSnapshotStore(),
		offeringID: offeringID,
		uniformFee: uniformFee,
		photoFee:   photoFee,
	}

	children := &fakeChildStore{
		children: []model.Child{
			{ID: 1, ParentID: testParentID, Name: "Ava"},
			{ID: 2, ParentID: testParentID, Name: "Ben"},
		},
	}
	parents := &fakeParentStore{
		parent: &model.Parent{ID: testParentID, Email: "pat@example.com", Name: "Pat"},
	}

	f.svc = NewCheckoutService(
		f.offerings, children, parents, f.waivers, f.discounts,
		f.orders, f.waitlist, f.payments, f.snapshots,
		NewPricingService(0), nil, zerolog.Nop(),
	)
	return f
}

func (f *checkoutFixture) initialize(t *testing.T) *model.CheckoutSnapshot {
	t.Helper()
	snap, err := f.svc.Initialize(context.Background(), testParentID, f.offeringID)
	require.NoError(t, err)
	return snap
}

// reachPreview walks a checkout to ORDER_PREVIEW with one child and card.
func (f *checkoutFixture) reachPreview(t *testing.T) uuid.UUID {
	t.Helper()
	ctx := context.Background()

	snap := f.initialize(t)
	_, err := f.svc.ToggleChild(ctx, testParentID, snap.ID, 1)
	require.NoError(t, err)
	_, err = f.svc.SelectPaymentMethod(ctx, testParentID, snap.ID, model.PaymentMethodCard)
	require.NoError(t, err)
	return snap.ID
}

// ─── Initialization ─────────────────────────────────────────────────

func TestInitializeReady(t *testing.T) {
	f := newCheckoutFixture(t)
	snap := f.initialize(t)

	require.Equal(t, model.PhaseReady, snap.Phase)
	require.Len(t, snap.Children, 2)
	require.Empty(t, snap.Selected)
	require.Nil(t, snap.Preview)
}

func TestInitializeFullOfferingGoesToWaitlist(t *testing.T) {
	f := newCheckoutFixture(t)
	f.offerings.offering.EnrolledCount = f.offerings.offering.Capacity

	snap := f.initialize(t)
	require.Equal(t, model.PhaseWaitlisted, snap.Phase)

	// Waitlist join is available; a second join for the same child is not.
	ctx := context.Background()
	_, err := f.svc.JoinWaitlist(ctx, testParentID, snap.ID, 1)
	require.NoError(t, err)
	_, err = f.svc.JoinWaitlist(ctx, testParentID, snap.ID, 1)
	require.ErrorIs(t, err, repository.ErrAlreadyWaitlisted)
}

func TestInitializeClosedOfferingRejected(t *testing.T) {
	f := newCheckoutFixture(t)
	f.offerings.offering.Status = model.OfferingStatusClosed

	_, err := f.svc.Initialize(context.Background(), testParentID, f.offeringID)
	require.ErrorIs(t, err, ErrOfferingClosed)
}

func TestInitializeFailureIsRetryable(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	f.offerings.err = errors.New("catalog db down")

	// A transient catalog failure still hands back a checkout id; the
	// snapshot parks in INITIALIZING with a retryable error.
	snap, err := f.svc.Initialize(ctx, testParentID, f.offeringID)
	require.NoError(t, err)
	require.Equal(t, model.PhaseInitializing, snap.Phase)
	require.NotNil(t, snap.LastError)
	require.Equal(t, StepInitialize, snap.LastError.Step)
	require.True(t, snap.LastError.Retryable)

	// Nothing else is possible until the retry succeeds.
	_, err = f.svc.ToggleChild(ctx, testParentID, snap.ID, 1)
	require.ErrorIs(t, err, ErrInvalidPhase)

	f.offerings.err = nil
	snap, err = f.svc.Retry(ctx, testParentID, snap.ID)
	require.NoError(t, err)
	require.Equal(t, model.PhaseReady, snap.Phase)
	require.Nil(t, snap.LastError)
	require.Len(t, snap.Children, 2)
}

func TestGetEnforcesOwnership(t *testing.T) {
	f := newCheckoutFixture(t)
	snap := f.initialize(t)

	_, err := f.svc.Get(context.Background(), 999, snap.ID)
	require.ErrorIs(t, err, ErrNotOwner)
}

// ─── Selection and pricing ──────────────────────────────────────────

func TestSelectChildComputesPreview(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	snap := f.initialize(t)

	snap, err := f.svc.ToggleChild(ctx, testParentID, snap.ID, 1)
	require.NoError(t, err)

	// $100 base + $25 required fee.
	require.Equal(t, model.PhaseFeeAndPaymentSelection, snap.Phase)
	require.NotNil(t, snap.Preview)
	require.Equal(t, int64(12500), snap.Preview.TotalCents)
}

func TestOptionalFeeAddsToTotal(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	snap := f.initialize(t)

	_, err := f.svc.ToggleChild(ctx, testParentID, snap.ID, 1)
	require.NoError(t, err)

	snap, err = f.svc.ToggleFee(ctx, testParentID, snap.ID, 1, f.photoFee)
	require.NoError(t, err)
	require.Equal(t, int64(13500), snap.Preview.TotalCents)

	// Toggling again removes it.
	snap, err = f.svc.ToggleFee(ctx, testParentID, snap.ID, 1, f.photoFee)
	require.NoError(t, err)
	require.Equal(t, int64(12500), snap.Preview.TotalCents)
}

func TestRequiredFeeCannotBeToggled(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	snap := f.initialize(t)

	_, err := f.svc.ToggleChild(ctx, testParentID, snap.ID, 1)
	require.NoError(t, err)

	_, err = f.svc.ToggleFee(ctx, testParentID, snap.ID, 1, f.uniformFee)
	require.ErrorIs(t, err, ErrFeeNotOptional)
}

func TestSiblingDiscountAppears(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	snap := f.initialize(t)

	_, err := f.svc.ToggleChild(ctx, testParentID, snap.ID, 1)
	require.NoError(t, err)
	snap, err = f.svc.ToggleChild(ctx, testParentID, snap.ID, 2)
	require.NoError(t, err)

	var discount *model.PriceLine
	for i := range snap.Preview.Lines {
		if snap.Preview.Lines[i].Kind == model.LineSiblingDiscount {
			discount = &snap.Preview.Lines[i]
		}
	}
	require.NotNil(t, discount)
	require.Equal(t, int64(-1500), discount.AmountCents)
	// 2 × ($100 + $25) − $15 sibling discount.
	require.Equal(t, int64(23500), snap.Preview.TotalCents)
}

func TestAlreadyEnrolledChildRejected(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()

	svcChildren := &fakeChildStore{
		children: []model.Child{{ID: 1, ParentID: testParentID, Name: "Ava"}},
		enrolled: map[int]bool{1: true},
	}
	f.svc.children = svcChildren

	snap := f.initialize(t)
	_, err := f.svc.ToggleChild(ctx, testParentID, snap.ID, 1)
	require.ErrorIs(t, err, ErrChildAlreadyEnrolled)
}

// ─── Waiver checks ──────────────────────────────────────────────────

func TestWaiverResultMemoizedAcrossReselection(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	snap := f.initialize(t)

	_, err := f.svc.ToggleChild(ctx, testParentID, snap.ID, 1)
	require.NoError(t, err)
	require.Equal(t, int32(1), f.waivers.calls())

	// Deselect and reselect: the cleared result is reused.
	_, err = f.svc.ToggleChild(ctx, testParentID, snap.ID, 1)
	require.NoError(t, err)
	latest, err := f.svc.ToggleChild(ctx, testParentID, snap.ID, 1)
	require.NoError(t, err)

	require.Equal(t, int32(1), f.waivers.calls())
	require.Equal(t, model.WaiverCleared, latest.WaiverStates[1].State)
}

func TestPendingWaiverBlocksCheckout(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	tpl := model.WaiverTemplate{ID: uuid.New(), Title: "Athletic Activity Waiver", Required: true}
	f.waivers.pending = map[int][]model.WaiverTemplate{1: {tpl}}

	snap := f.initialize(t)
	snap, err := f.svc.ToggleChild(ctx, testParentID, snap.ID, 1)
	require.NoError(t, err)

	require.Equal(t, model.PhaseWaiverBlocked, snap.Phase)
	require.Equal(t, model.WaiverBlocked, snap.WaiverStates[1].State)
	require.Len(t, snap.WaiverStates[1].Pending, 1)

	// Payment and fee choices are locked until the waiver clears.
	_, err = f.svc.SelectPaymentMethod(ctx, testParentID, snap.ID, model.PaymentMethodCard)
	require.ErrorIs(t, err, ErrWaiverBlocked)
	_, err = f.svc.SelectInstallmentPlan(ctx, testParentID, snap.ID, 3)
	require.ErrorIs(t, err, ErrWaiverBlocked)
	_, err = f.svc.ToggleFee(ctx, testParentID, snap.ID, 1, f.photoFee)
	require.ErrorIs(t, err, ErrWaiverBlocked)

	// Discounts are independent of clearance and still apply.
	f.discounts.codes["SPRING5"] = &model.DiscountCode{
		Code: "SPRING5", Kind: model.DiscountKindFixed, Value: 500, Active: true,
	}
	_, err = f.svc.ApplyDiscount(ctx, testParentID, snap.ID, "SPRING5")
	require.NoError(t, err)

	// Order creation is refused while blocked.
	_, err = f.svc.CreateOrder(ctx, testParentID, snap.ID)
	require.ErrorIs(t, err, ErrInvalidPhase)

	// Signing unlocks the payment step.
	_, err = f.svc.SignWaivers(ctx, testParentID, snap.ID, &model.SignWaiversRequest{
		ChildID:     1,
		TemplateIDs: []uuid.UUID{tpl.ID},
	})
	require.NoError(t, err)
	latest, err := f.svc.SelectPaymentMethod(ctx, testParentID, snap.ID, model.PaymentMethodCard)
	require.NoError(t, err)
	require.Equal(t, model.PhaseOrderPreview, latest.Phase)
}

func TestSignWaiversClearsWithoutRequery(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	tpl := model.WaiverTemplate{ID: uuid.New(), Title: "Athletic Activity Waiver", Required: true}
	f.waivers.pending = map[int][]model.WaiverTemplate{1: {tpl}}

	snap := f.initialize(t)
	_, err := f.svc.ToggleChild(ctx, testParentID, snap.ID, 1)
	require.NoError(t, err)
	require.Equal(t, int32(1), f.waivers.calls())

	snap, err = f.svc.SignWaivers(ctx, testParentID, snap.ID, &model.SignWaiversRequest{
		ChildID:     1,
		TemplateIDs: []uuid.UUID{tpl.ID},
	})
	require.NoError(t, err)

	// Signature success is the clearance signal; no second gateway query.
	require.Equal(t, model.WaiverCleared, snap.WaiverStates[1].State)
	require.Equal(t, model.PhaseFeeAndPaymentSelection, snap.Phase)
	require.Equal(t, int32(1), f.waivers.calls())
}

func TestPartialSignatureKeepsChildBlocked(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	liability := model.WaiverTemplate{ID: uuid.New(), Title: "Liability Waiver", Required: true}
	photo := model.WaiverTemplate{ID: uuid.New(), Title: "Photo Release", Required: true}
	f.waivers.pending = map[int][]model.WaiverTemplate{1: {liability, photo}}

	snap := f.initialize(t)
	_, err := f.svc.ToggleChild(ctx, testParentID, snap.ID, 1)
	require.NoError(t, err)

	// Signing one of two templates leaves the child blocked on the other.
	latest, err := f.svc.SignWaivers(ctx, testParentID, snap.ID, &model.SignWaiversRequest{
		ChildID:     1,
		TemplateIDs: []uuid.UUID{liability.ID},
	})
	require.NoError(t, err)
	require.Equal(t, model.WaiverBlocked, latest.WaiverStates[1].State)
	require.Len(t, latest.WaiverStates[1].Pending, 1)
	require.Equal(t, photo.ID, latest.WaiverStates[1].Pending[0].ID)
	require.Equal(t, model.PhaseWaiverBlocked, latest.Phase)

	latest, err = f.svc.SignWaivers(ctx, testParentID, snap.ID, &model.SignWaiversRequest{
		ChildID:     1,
		TemplateIDs: []uuid.UUID{photo.ID},
	})
	require.NoError(t, err)
	require.Equal(t, model.WaiverCleared, latest.WaiverStates[1].State)
	require.Equal(t, int32(1), f.waivers.calls())
}

func TestConcurrentWaiverChecksDeduplicated(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	snap := f.initialize(t)

	// Seed a selected child with an unresolved waiver state.
	stored, err := f.snapshots.Get(ctx, snap.ID)
	require.NoError(t, err)
	stored.Selected = []int{1}
	stored.WaiverStates[1] = &model.ChildWaiverState{State: model.WaiverUnchecked}
	require.NoError(t, f.snapshots.Save(ctx, stored))

	gate := make(chan struct{})
	entered := make(chan struct{}, 4)
	f.waivers.gate = gate
	f.waivers.entered = entered

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.EnsureWaiverChecks(ctx, testParentID, snap.ID)
			require.NoError(t, err)
		}()
	}

	<-entered
	time.Sleep(100 * time.Millisecond) // Let the second caller join the flight.
	close(gate)
	wg.Wait()

	require.Equal(t, int32(1), f.waivers.calls())
	latest, err := f.svc.Get(ctx, testParentID, snap.ID)
	require.NoError(t, err)
	require.Equal(t, model.WaiverCleared, latest.WaiverStates[1].State)
}

func TestStaleWaiverResultDiscardedAfterDeselection(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	snap := f.initialize(t)

	gate := make(chan struct{})
	entered := make(chan struct{}, 4)
	f.waivers.gate = gate
	f.waivers.entered = entered

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = f.svc.ToggleChild(ctx, testParentID, snap.ID, 1)
	}()

	// The check is in flight; deselect the child before it completes.
	<-entered
	_, err := f.svc.ToggleChild(ctx, testParentID, snap.ID, 1)
	require.NoError(t, err)

	close(gate)
	<-done

	latest, err := f.svc.Get(ctx, testParentID, snap.ID)
	require.NoError(t, err)
	require.False(t, latest.IsSelected(1))
	require.Equal(t, model.WaiverUnchecked, latest.WaiverStates[1].State)
	require.Equal(t, model.PhaseReady, latest.Phase)
}

func TestWaiverGatewayOutageFailsOpen(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	f.waivers.checkErr = errors.New("gateway down")

	snap := f.initialize(t)
	snap, err := f.svc.ToggleChild(ctx, testParentID, snap.ID, 1)
	require.NoError(t, err)

	require.Equal(t, model.WaiverCleared, snap.WaiverStates[1].State)
	require.Equal(t, model.PhaseFeeAndPaymentSelection, snap.Phase)
}

// ─── Discounts ──────────────────────────────────────────────────────

func TestApplyDiscountRejectionKeepsPriorState(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	f.discounts.codes["EARLYBIRD10"] = &model.DiscountCode{
		Code: "EARLYBIRD10", Kind: model.DiscountKindPercent, Value: 10, Active: true,
	}
	expired := time.Now().Add(-time.Hour)
	f.discounts.codes["OLD"] = &model.DiscountCode{
		Code: "OLD", Kind: model.DiscountKindFixed, Value: 500, Active: true, ExpiresAt: &expired,
	}

	snap := f.initialize(t)
	_, err := f.svc.ToggleChild(ctx, testParentID, snap.ID, 1)
	require.NoError(t, err)

	snap, err = f.svc.ApplyDiscount(ctx, testParentID, snap.ID, "EARLYBIRD10")
	require.NoError(t, err)
	require.Equal(t, int64(11250), snap.Preview.TotalCents) // $125 − 10%

	_, err = f.svc.ApplyDiscount(ctx, testParentID, snap.ID, "NOPE")
	require.ErrorIs(t, err, ErrDiscountInvalid)
	_, err = f.svc.ApplyDiscount(ctx, testParentID, snap.ID, "OLD")
	require.ErrorIs(t, err, ErrDiscountExpired)

	// The previously applied code survives both rejections.
	latest, err := f.svc.Get(ctx, testParentID, snap.ID)
	require.NoError(t, err)
	require.NotNil(t, latest.Discount)
	require.Equal(t, "EARLYBIRD10", latest.Discount.Code)
	require.Equal(t, int64(11250), latest.Preview.TotalCents)

	latest, err = f.svc.RemoveDiscount(ctx, testParentID, snap.ID)
	require.NoError(t, err)
	require.Nil(t, latest.Discount)
	require.Equal(t, int64(12500), latest.Preview.TotalCents)
}

// ─── Order creation and payment ─────────────────────────────────────

func TestCreateOrderIsIdempotent(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	checkoutID := f.reachPreview(t)

	first, err := f.svc.CreateOrder(ctx, testParentID, checkoutID)
	require.NoError(t, err)
	require.Equal(t, model.PhaseAwaitingPayment, first.Phase)
	require.NotNil(t, first.Order)
	require.NotEmpty(t, first.Order.RedirectURL)

	second, err := f.svc.CreateOrder(ctx, testParentID, checkoutID)
	require.NoError(t, err)
	require.Equal(t, first.Order.ID, second.Order.ID)
	require.Equal(t, 1, f.orders.count())
	require.Equal(t, 1, f.payments.calls)
}

func TestConcurrentCreateOrderYieldsOneOrder(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	checkoutID := f.reachPreview(t)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreateOrder(ctx, testParentID, checkoutID)
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, 1, f.orders.count())
}

func TestRetryOnLastSeatReusesOwnHold(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	f.orders.capacity = 1
	checkoutID := f.reachPreview(t)

	first, err := f.svc.CreateOrder(ctx, testParentID, checkoutID)
	require.NoError(t, err)
	require.Equal(t, model.PhaseAwaitingPayment, first.Phase)

	// Simulate a snapshot that lost the order reference (instance restart,
	// stale read) while the pending order still holds the last seat.
	stored, err := f.snapshots.Get(ctx, checkoutID)
	require.NoError(t, err)
	stored.Order = nil
	stored.Fingerprint = ""
	stored.Phase = model.PhaseOrderPreview
	require.NoError(t, f.snapshots.Save(ctx, stored))

	// The retried create must land on its own pending order, not read the
	// class as full and waitlist the parent.
	snap, err := f.svc.CreateOrder(ctx, testParentID, checkoutID)
	require.NoError(t, err)
	require.Equal(t, model.PhaseAwaitingPayment, snap.Phase)
	require.NotNil(t, snap.Order)
	require.Equal(t, first.Order.ID, snap.Order.ID)
	require.Equal(t, first.Order.PaymentSessionID, snap.Order.PaymentSessionID)
	require.Equal(t, 1, f.orders.count())
	require.Equal(t, 1, f.payments.calls)
}

func TestCapacityConflictAtOrderCreationWaitlists(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	checkoutID := f.reachPreview(t)

	// The class fills after the preview was confirmed.
	f.orders.mu.Lock()
	f.orders.enrolled = f.orders.capacity
	f.orders.mu.Unlock()

	snap, err := f.svc.CreateOrder(ctx, testParentID, checkoutID)
	require.NoError(t, err)
	require.Equal(t, model.PhaseWaitlisted, snap.Phase)
	require.Nil(t, snap.Order)
	require.Equal(t, 0, f.orders.count())

	_, err = f.svc.JoinWaitlist(ctx, testParentID, checkoutID, 1)
	require.NoError(t, err)
}

func TestFreeOrderConfirmsWithoutPaymentSession(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	f.offerings.offering.PriceCents = 0
	f.offerings.fees = nil

	snap := f.initialize(t)
	_, err := f.svc.ToggleChild(ctx, testParentID, snap.ID, 1)
	require.NoError(t, err)
	_, err = f.svc.SelectPaymentMethod(ctx, testParentID, snap.ID, model.PaymentMethodCard)
	require.NoError(t, err)

	snap, err = f.svc.CreateOrder(ctx, testParentID, snap.ID)
	require.NoError(t, err)

	require.Equal(t, model.PhasePaymentSucceeded, snap.Phase)
	require.Equal(t, model.OrderStatusFreeConfirmed, snap.Order.Status)
	require.Empty(t, snap.Order.RedirectURL)
	require.Equal(t, 0, f.payments.calls)
}

func TestPaymentSessionFailureIsRetryable(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	checkoutID := f.reachPreview(t)

	f.payments.err = errors.New("gateway timeout")
	_, err := f.svc.CreateOrder(ctx, testParentID, checkoutID)
	require.Error(t, err)

	snap, err := f.svc.Get(ctx, testParentID, checkoutID)
	require.NoError(t, err)
	require.NotNil(t, snap.LastError)
	require.Equal(t, StepPaymentSession, snap.LastError.Step)
	require.True(t, snap.LastError.Retryable)
	require.NotNil(t, snap.Order)
	orderID := snap.Order.ID

	// Retry resumes with the same order; the capacity hold survived.
	f.payments.err = nil
	snap, err = f.svc.Retry(ctx, testParentID, checkoutID)
	require.NoError(t, err)
	require.Equal(t, model.PhaseAwaitingPayment, snap.Phase)
	require.Equal(t, orderID, snap.Order.ID)
	require.NotEmpty(t, snap.Order.RedirectURL)
	require.Equal(t, 1, f.orders.count())
}

func TestPaymentReturnBeforeSettlementStaysAwaiting(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	checkoutID := f.reachPreview(t)

	snap, err := f.svc.CreateOrder(ctx, testParentID, checkoutID)
	require.NoError(t, err)
	sessionID := snap.Order.PaymentSessionID

	// Browser returns but the webhook has not landed yet.
	snap, err = f.svc.CompletePaymentReturn(ctx, testParentID, checkoutID, sessionID)
	require.NoError(t, err)
	require.Equal(t, model.PhaseAwaitingPayment, snap.Phase)

	// Settlement lands; the next return confirms.
	f.orders.setStatus(snap.Order.ID, model.OrderStatusPaid)
	snap, err = f.svc.CompletePaymentReturn(ctx, testParentID, checkoutID, sessionID)
	require.NoError(t, err)
	require.Equal(t, model.PhasePaymentSucceeded, snap.Phase)
}

func TestPaymentReturnSessionMismatchRejected(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	checkoutID := f.reachPreview(t)

	_, err := f.svc.CreateOrder(ctx, testParentID, checkoutID)
	require.NoError(t, err)

	_, err = f.svc.CompletePaymentReturn(ctx, testParentID, checkoutID, "sess-spoofed")
	require.ErrorIs(t, err, ErrPaymentMismatch)
}

func TestCancelPaymentVoidsOrderAndReturnsToPreview(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	checkoutID := f.reachPreview(t)

	first, err := f.svc.CreateOrder(ctx, testParentID, checkoutID)
	require.NoError(t, err)
	firstOrderID := first.Order.ID

	snap, err := f.svc.CancelPayment(ctx, testParentID, checkoutID)
	require.NoError(t, err)
	require.Equal(t, model.PhaseOrderPreview, snap.Phase)
	require.Nil(t, snap.Order)

	voided, err := f.orders.GetByID(ctx, firstOrderID)
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusCanceled, voided.Status)

	// The same selection can be re-created as a fresh order.
	snap, err = f.svc.CreateOrder(ctx, testParentID, checkoutID)
	require.NoError(t, err)
	require.NotEqual(t, firstOrderID, snap.Order.ID)
	require.Equal(t, model.PhaseAwaitingPayment, snap.Phase)
}

func TestSelectionFrozenWhileOrderPending(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	checkoutID := f.reachPreview(t)

	_, err := f.svc.CreateOrder(ctx, testParentID, checkoutID)
	require.NoError(t, err)

	_, err = f.svc.ToggleChild(ctx, testParentID, checkoutID, 2)
	require.ErrorIs(t, err, ErrInvalidPhase)
	_, err = f.svc.ApplyDiscount(ctx, testParentID, checkoutID, "ANY")
	require.ErrorIs(t, err, ErrInvalidPhase)
}

// ─── Receipt ────────────────────────────────────────────────────────

func TestReceiptOnlyForConfirmedOrders(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	checkoutID := f.reachPreview(t)

	snap, err := f.svc.CreateOrder(ctx, testParentID, checkoutID)
	require.NoError(t, err)

	_, err = f.svc.Receipt(ctx, testParentID, checkoutID)
	require.ErrorIs(t, err, ErrReceiptUnavailable)

	f.orders.setStatus(snap.Order.ID, model.OrderStatusPaid)
	receipt, err := f.svc.Receipt(ctx, testParentID, checkoutID)
	require.NoError(t, err)
	require.Contains(t, receipt, "Soccer Stars U8")
	require.Contains(t, receipt, "$125.00")
}

// ─── Fingerprint ────────────────────────────────────────────────────

func TestSelectionFingerprintStableUnderOrdering(t *testing.T) {
	base := &model.CheckoutSnapshot{
		OfferingID:    uuid.MustParse("7b1a43a4-7e94-4b5a-b2d1-111111111111"),
		Selected:      []int{2, 1},
		FeeSelection:  map[int][]uuid.UUID{},
		PaymentMethod: model.PaymentMethodCard,
	}
	reordered := &model.CheckoutSnapshot{
		OfferingID:    base.OfferingID,
		Selected:      []int{1, 2},
		FeeSelection:  map[int][]uuid.UUID{},
		PaymentMethod: model.PaymentMethodCard,
	}
	require.Equal(t, selectionFingerprint(base), selectionFingerprint(reordered))

	reordered.Plan = &model.InstallmentPlan{Count: 3}
	reordered.PaymentMethod = model.PaymentMethodInstallments
	require.NotEqual(t, selectionFingerprint(base), selectionFingerprint(reordered))
}
