package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/brewgallery/commerce-engine/internal/catalog"
	invdomain "github.com/brewgallery/commerce-engine/internal/inventory/domain"
	"github.com/brewgallery/commerce-engine/internal/notify"
	"github.com/brewgallery/commerce-engine/internal/order/domain"
	"github.com/brewgallery/commerce-engine/internal/payment/razorpay"
	"github.com/brewgallery/commerce-engine/pkg/logging"
)

// In-memory fakes mirroring the Postgres repositories' semantics, guarded
// by mutexes so the concurrency tests exercise real interleavings.

type fakeLedger struct {
	mu           sync.Mutex
	items        map[invdomain.Key]*invdomain.Item
	reservations map[string]*invdomain.Reservation
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		items:        make(map[invdomain.Key]*invdomain.Item),
		reservations: make(map[string]*invdomain.Reservation),
	}
}

func (l *fakeLedger) add(key invdomain.Key, capacity, committed int) {
	l.items[key] = &invdomain.Item{Key: key, Capacity: capacity, Committed: committed}
}

func (l *fakeLedger) TryReserve(_ context.Context, key invdomain.Key, quantity int, orderID string, ttl time.Duration) (invdomain.Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	item, ok := l.items[key]
	if !ok {
		return invdomain.Reservation{}, invdomain.ErrUnknownResource
	}
	if item.Committed+item.Reserved+quantity > item.Capacity {
		return invdomain.Reservation{}, invdomain.ErrCapacityExceeded
	}
	item.Reserved += quantity
	res := invdomain.NewReservation(key, quantity, orderID, ttl)
	l.reservations[res.ID] = &res
	return res, nil
}

func (l *fakeLedger) Release(_ context.Context, reservationID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.releaseLocked(reservationID)
}

func (l *fakeLedger) releaseLocked(reservationID string) error {
	res, ok := l.reservations[reservationID]
	if !ok || res.Status != invdomain.StatusHeld {
		return nil
	}
	res.Status = invdomain.StatusReleased
	l.items[res.Key].Reserved -= res.Quantity
	return nil
}

func (l *fakeLedger) commit(reservationID string, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	res, ok := l.reservations[reservationID]
	if !ok {
		return invdomain.ErrReservationNotFound
	}
	switch {
	case res.Status == invdomain.StatusCommitted:
		return nil
	case res.Status == invdomain.StatusReleased, res.Expired(now):
		return invdomain.ErrReservationExpired
	}
	res.Status = invdomain.StatusCommitted
	item := l.items[res.Key]
	item.Reserved -= res.Quantity
	item.Committed += res.Quantity
	return nil
}

func (l *fakeLedger) Availability(_ context.Context, key invdomain.Key) (invdomain.Item, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	item, ok := l.items[key]
	if !ok {
		return invdomain.Item{}, invdomain.ErrUnknownResource
	}
	return *item, nil
}

func (l *fakeLedger) SweepExpired(_ context.Context, now time.Time) ([]invdomain.Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var expired []invdomain.Reservation
	for id, res := range l.reservations {
		if res.Status == invdomain.StatusHeld && res.Expired(now) {
			_ = l.releaseLocked(id)
			expired = append(expired, *res)
		}
	}
	return expired, nil
}

type fakeOrders struct {
	mu     sync.Mutex
	ledger *fakeLedger
	orders map[string]*domain.Order
	events []notify.Event
}

func newFakeOrders(ledger *fakeLedger) *fakeOrders {
	return &fakeOrders{ledger: ledger, orders: make(map[string]*domain.Order)}
}

func (s *fakeOrders) CreateWithOutbox(_ context.Context, o domain.Order, commitReservation bool, events []notify.Event, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if commitReservation && o.ReservationID != nil {
		if err := s.ledger.commit(*o.ReservationID, time.Now().UTC()); err != nil {
			return err
		}
	}
	stored := o
	s.orders[o.ID] = &stored
	s.events = append(s.events, events...)
	return nil
}

func (s *fakeOrders) SetGatewayOrderRef(_ context.Context, orderID, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return domain.ErrNotFound
	}
	o.GatewayOrderRef = ref
	return nil
}

func (s *fakeOrders) SettlePaid(_ context.Context, orderID, paymentRef string, events []notify.Event, _ string) (domain.SettleOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return domain.SettleNotSettleable, domain.ErrNotFound
	}
	if o.PaymentState == domain.PaymentPaid {
		return domain.SettleAlreadyPaid, nil
	}
	if o.PaymentState == domain.PaymentFailed {
		return domain.SettleNotSettleable, nil
	}
	if o.ReservationID != nil {
		if err := s.ledger.commit(*o.ReservationID, time.Now().UTC()); err != nil {
			return domain.SettleNotSettleable, err
		}
	}
	o.PaymentState = domain.PaymentPaid
	o.GatewayPaymentRef = paymentRef
	s.events = append(s.events, events...)
	return domain.SettleApplied, nil
}

func (s *fakeOrders) MarkFailed(_ context.Context, orderID string, events []notify.Event, _ string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return false, nil
	}
	if o.PaymentState != domain.PaymentCreated {
		return false, nil
	}
	o.PaymentState = domain.PaymentFailed
	o.Fulfillment = domain.FulfillmentCancelled
	if o.ReservationID != nil {
		_ = s.ledger.Release(context.Background(), *o.ReservationID)
	}
	s.events = append(s.events, events...)
	return true, nil
}

func (s *fakeOrders) Get(_ context.Context, id string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return *o, nil
}

func (s *fakeOrders) eventCount(eventType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

type fakeGateway struct {
	mu          sync.Mutex
	failCreate  bool
	createCalls int
}

func (g *fakeGateway) CreateOrder(_ context.Context, amountCents int64, currency, receipt string) (razorpay.GatewayOrder, error) {
	g.mu.Lock()
	g.createCalls++
	fail := g.failCreate
	g.mu.Unlock()
	if fail {
		return razorpay.GatewayOrder{}, fmt.Errorf("%w: connection refused", razorpay.ErrUnavailable)
	}
	return razorpay.GatewayOrder{ID: "gw_" + receipt, Amount: amountCents, Currency: currency, Receipt: receipt}, nil
}

func (g *fakeGateway) VerifySignature(orderRef, paymentRef, signature string) bool {
	return signature == "sig:"+orderRef+"|"+paymentRef
}

func signFor(orderRef, paymentRef string) string {
	return "sig:" + orderRef + "|" + paymentRef
}

type fakeCatalog struct {
	menu      map[string]catalog.MenuItem
	art       map[string]catalog.ArtPiece
	workshops map[string]catalog.Workshop
}

func (c *fakeCatalog) MenuItem(_ context.Context, id string) (catalog.MenuItem, error) {
	m, ok := c.menu[id]
	if !ok {
		return catalog.MenuItem{}, catalog.ErrNotFound
	}
	return m, nil
}

func (c *fakeCatalog) ArtPiece(_ context.Context, id string) (catalog.ArtPiece, error) {
	a, ok := c.art[id]
	if !ok {
		return catalog.ArtPiece{}, catalog.ErrNotFound
	}
	return a, nil
}

func (c *fakeCatalog) Workshop(_ context.Context, id string) (catalog.Workshop, error) {
	w, ok := c.workshops[id]
	if !ok {
		return catalog.Workshop{}, catalog.ErrNotFound
	}
	return w, nil
}

type fixture struct {
	svc     *Service
	ledger  *fakeLedger
	orders  *fakeOrders
	gateway *fakeGateway
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	ledger := newFakeLedger()
	orders := newFakeOrders(ledger)
	gateway := &fakeGateway{}
	cat := &fakeCatalog{
		menu: map[string]catalog.MenuItem{
			"latte": {ID: "latte", Name: "Latte", PriceCents: 25000, Available: true},
		},
		art: map[string]catalog.ArtPiece{
			"sunset": {ID: "sunset", Title: "Sunset Over Kochi", PriceCents: 1200000},
		},
		workshops: map[string]catalog.Workshop{
			"pottery": {ID: "pottery", Title: "Pottery Basics", PriceCents: 150000, MaxParticipants: 5},
			"openday": {ID: "openday", Title: "Open Day", PriceCents: 0, MaxParticipants: 20},
		},
	}
	ledger.add(invdomain.Key{Kind: invdomain.KindArt, ResourceID: "sunset"}, 1, 0)
	ledger.add(invdomain.Key{Kind: invdomain.KindWorkshop, ResourceID: "pottery"}, 5, 0)
	ledger.add(invdomain.Key{Kind: invdomain.KindWorkshop, ResourceID: "openday"}, 20, 0)

	svc := NewService(logging.New(), ledger, orders, gateway, cat, nil, cfg)
	return &fixture{svc: svc, ledger: ledger, orders: orders, gateway: gateway}
}

var buyer = domain.Customer{Name: "Asha", Email: "asha@example.com"}

func (f *fixture) availability(t *testing.T, kind invdomain.Kind, id string) invdomain.Item {
	t.Helper()
	item, err := f.svc.Availability(context.Background(), kind, id)
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	return item
}

func TestWorkshopCheckoutRespectsSeatCap(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	// Four seats already sold.
	f.ledger.items[invdomain.Key{Kind: invdomain.KindWorkshop, ResourceID: "pottery"}].Committed = 4

	_, err := f.svc.BeginCheckout(ctx, domain.WorkshopDraft{WorkshopID: "pottery", Seats: 2, Customer: buyer}, "")
	if !errors.Is(err, invdomain.ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded for 2 seats, got %v", err)
	}
	if len(f.orders.orders) != 0 {
		t.Fatalf("capacity failure must not leave an order row, found %d", len(f.orders.orders))
	}

	result, err := f.svc.BeginCheckout(ctx, domain.WorkshopDraft{WorkshopID: "pottery", Seats: 1, Customer: buyer}, "")
	if err != nil {
		t.Fatalf("1-seat checkout: %v", err)
	}
	_, err = f.svc.Confirm(ctx, result.Order.ID, "pay_1", signFor(result.GatewayOrderRef, "pay_1"), "")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}

	item := f.availability(t, invdomain.KindWorkshop, "pottery")
	if item.Committed != 5 || item.Reserved != 0 {
		t.Fatalf("expected committed=5 reserved=0, got committed=%d reserved=%d", item.Committed, item.Reserved)
	}
}

func TestConcurrentArtCheckoutSellsExactlyOnce(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	draft := domain.ArtDraft{ArtID: "sunset", Customer: buyer}

	const buyers = 8
	errs := make(chan error, buyers)
	var wg sync.WaitGroup
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.BeginCheckout(ctx, draft, "")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, capacity int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, invdomain.ErrCapacityExceeded):
			capacity++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || capacity != buyers-1 {
		t.Fatalf("expected exactly 1 winner and %d capacity failures, got %d/%d", buyers-1, ok, capacity)
	}

	item := f.availability(t, invdomain.KindArt, "sunset")
	if item.Committed+item.Reserved > item.Capacity {
		t.Fatalf("capacity invariant violated: committed=%d reserved=%d capacity=%d", item.Committed, item.Reserved, item.Capacity)
	}
}

func TestConfirmIsIdempotent(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	result, err := f.svc.BeginCheckout(ctx, domain.ArtDraft{ArtID: "sunset", Customer: buyer}, "")
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	sig := signFor(result.GatewayOrderRef, "pay_dup")

	first, err := f.svc.Confirm(ctx, result.Order.ID, "pay_dup", sig, "")
	if err != nil {
		t.Fatalf("first confirm: %v", err)
	}
	second, err := f.svc.Confirm(ctx, result.Order.ID, "pay_dup", sig, "")
	if err != nil {
		t.Fatalf("duplicate confirm: %v", err)
	}
	if first.PaymentState != domain.PaymentPaid || second.PaymentState != domain.PaymentPaid {
		t.Fatalf("both confirms must report paid, got %s / %s", first.PaymentState, second.PaymentState)
	}

	item := f.availability(t, invdomain.KindArt, "sunset")
	if item.Committed != 1 {
		t.Fatalf("inventory committed exactly once, got %d", item.Committed)
	}
	if n := f.orders.eventCount("OrderConfirmed"); n != 1 {
		t.Fatalf("OrderConfirmed enqueued exactly once, got %d", n)
	}
	if n := f.orders.eventCount("ArtSold"); n != 1 {
		t.Fatalf("ArtSold enqueued exactly once, got %d", n)
	}
}

func TestConfirmRejectsTamperedSignature(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	result, err := f.svc.BeginCheckout(ctx, domain.ArtDraft{ArtID: "sunset", Customer: buyer}, "")
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	_, err = f.svc.Confirm(ctx, result.Order.ID, "pay_x", "forged", "")
	if !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}

	item := f.availability(t, invdomain.KindArt, "sunset")
	if item.Committed != 0 || item.Reserved != 0 {
		t.Fatalf("tampered confirm must commit nothing and release the hold, got committed=%d reserved=%d", item.Committed, item.Reserved)
	}
	o, _ := f.orders.Get(ctx, result.Order.ID)
	if o.PaymentState != domain.PaymentFailed || o.Fulfillment != domain.FulfillmentCancelled {
		t.Fatalf("order should be failed/cancelled, got %s/%s", o.PaymentState, o.Fulfillment)
	}
	if n := f.orders.eventCount("PaymentFailed"); n != 1 {
		t.Fatalf("PaymentFailed enqueued once, got %d", n)
	}
}

func TestFreeWorkshopSettlesWithoutGateway(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	result, err := f.svc.BeginCheckout(ctx, domain.WorkshopDraft{WorkshopID: "openday", Seats: 2, Customer: buyer}, "")
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if result.Order.PaymentState != domain.PaymentPaid {
		t.Fatalf("free order should be paid at creation, got %s", result.Order.PaymentState)
	}
	if result.Order.Fulfillment != domain.FulfillmentPending {
		t.Fatalf("fulfillment starts pending, got %s", result.Order.Fulfillment)
	}
	if f.gateway.createCalls != 0 {
		t.Fatalf("free checkout must not call the gateway, got %d calls", f.gateway.createCalls)
	}

	item := f.availability(t, invdomain.KindWorkshop, "openday")
	if item.Committed != 2 || item.Reserved != 0 {
		t.Fatalf("seats committed immediately, got committed=%d reserved=%d", item.Committed, item.Reserved)
	}
	if n := f.orders.eventCount("SeatBooked"); n != 1 {
		t.Fatalf("SeatBooked enqueued once, got %d", n)
	}
}

func TestExpiredReservationIsSweptAndNotConfirmable(t *testing.T) {
	f := newFixture(t, Config{ReservationTTL: time.Nanosecond})
	ctx := context.Background()

	result, err := f.svc.BeginCheckout(ctx, domain.ArtDraft{ArtID: "sunset", Customer: buyer}, "")
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	n, err := f.svc.Sweep(ctx, time.Now().UTC().Add(time.Second))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 swept reservation, got %d", n)
	}

	item := f.availability(t, invdomain.KindArt, "sunset")
	if item.Reserved != 0 {
		t.Fatalf("sweep must decrement reserved exactly once, got %d", item.Reserved)
	}

	// A second sweep finds nothing.
	n, err = f.svc.Sweep(ctx, time.Now().UTC().Add(time.Second))
	if err != nil || n != 0 {
		t.Fatalf("second sweep should be empty, got n=%d err=%v", n, err)
	}

	_, err = f.svc.Confirm(ctx, result.Order.ID, "pay_late", signFor(result.GatewayOrderRef, "pay_late"), "")
	if !errors.Is(err, invdomain.ErrReservationExpired) {
		t.Fatalf("late confirm should report expired reservation, got %v", err)
	}

	o, _ := f.orders.Get(ctx, result.Order.ID)
	if o.PaymentState != domain.PaymentFailed {
		t.Fatalf("swept order should be failed, got %s", o.PaymentState)
	}
}

func TestCancelReleasesHoldSynchronously(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	result, err := f.svc.BeginCheckout(ctx, domain.WorkshopDraft{WorkshopID: "pottery", Seats: 3, Customer: buyer}, "")
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if item := f.availability(t, invdomain.KindWorkshop, "pottery"); item.Reserved != 3 {
		t.Fatalf("expected 3 reserved, got %d", item.Reserved)
	}

	if err := f.svc.Cancel(ctx, result.Order.ID, ""); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if item := f.availability(t, invdomain.KindWorkshop, "pottery"); item.Reserved != 0 {
		t.Fatalf("cancel must release synchronously, reserved=%d", item.Reserved)
	}
	// Cancel is not a payment failure: no notification goes out.
	if n := f.orders.eventCount("PaymentFailed"); n != 0 {
		t.Fatalf("cancel should not emit PaymentFailed, got %d", n)
	}
}

func TestGatewayFailureReleasesHoldKeepsAuditTrail(t *testing.T) {
	f := newFixture(t, Config{})
	f.gateway.failCreate = true
	ctx := context.Background()

	_, err := f.svc.BeginCheckout(ctx, domain.ArtDraft{ArtID: "sunset", Customer: buyer}, "")
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}

	item := f.availability(t, invdomain.KindArt, "sunset")
	if item.Reserved != 0 || item.Committed != 0 {
		t.Fatalf("hold must be released after gateway failure, got reserved=%d committed=%d", item.Reserved, item.Committed)
	}
	if len(f.orders.orders) != 1 {
		t.Fatalf("failed order should remain as audit trail, found %d orders", len(f.orders.orders))
	}
	for _, o := range f.orders.orders {
		if o.PaymentState != domain.PaymentFailed {
			t.Fatalf("audit order should be failed, got %s", o.PaymentState)
		}
	}
}

func TestMenuCheckoutSkipsLedger(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	draft := domain.MenuDraft{
		Lines:    []domain.MenuLine{{MenuItemID: "latte", Quantity: 2}},
		Customer: buyer,
	}
	result, err := f.svc.BeginCheckout(ctx, draft, "")
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if result.Order.ReservationID != nil {
		t.Fatal("menu orders must not hold reservations")
	}
	if result.AmountCents != 50000 {
		t.Fatalf("expected total 50000, got %d", result.AmountCents)
	}

	_, err = f.svc.Confirm(ctx, result.Order.ID, "pay_menu", signFor(result.GatewayOrderRef, "pay_menu"), "")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if n := f.orders.eventCount("OrderConfirmed"); n != 1 {
		t.Fatalf("OrderConfirmed enqueued once, got %d", n)
	}
}

func TestReserveReleaseRoundTrip(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	key := invdomain.Key{Kind: invdomain.KindWorkshop, ResourceID: "pottery"}

	before := f.availability(t, invdomain.KindWorkshop, "pottery")
	res, err := f.ledger.TryReserve(ctx, key, 2, "order-x", time.Minute)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := f.ledger.Release(ctx, res.ID); err != nil {
		t.Fatalf("release: %v", err)
	}
	// Double release is a no-op.
	if err := f.ledger.Release(ctx, res.ID); err != nil {
		t.Fatalf("double release: %v", err)
	}

	after := f.availability(t, invdomain.KindWorkshop, "pottery")
	if after.Reserved != before.Reserved {
		t.Fatalf("round trip changed reserved: before=%d after=%d", before.Reserved, after.Reserved)
	}
}
