package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	invdomain "github.com/brewgallery/commerce-engine/internal/inventory/domain"
	"github.com/brewgallery/commerce-engine/internal/notify"
	"github.com/brewgallery/commerce-engine/internal/order/domain"
	"github.com/brewgallery/commerce-engine/pkg/idempotency"
)

// ErrGatewayUnavailable is transient: the draft never reserved anything
// durable once we roll back, so the client may retry the whole checkout.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

type Config struct {
	ReservationTTL time.Duration
	Currency       string
}

// Service is the reservation manager. It owns the checkout sequence
// (validate, reserve, persist, gateway) and the settlement sequence driven
// by the gateway's confirmation callback.
type Service struct {
	log     *slog.Logger
	ledger  Ledger
	orders  OrderStore
	gateway Gateway
	catalog Catalog
	dedup   Deduper
	cfg     Config
}

func NewService(log *slog.Logger, ledger Ledger, orders OrderStore, gateway Gateway, cat Catalog, dedup Deduper, cfg Config) *Service {
	if cfg.ReservationTTL <= 0 {
		cfg.ReservationTTL = 15 * time.Minute
	}
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	return &Service{log: log, ledger: ledger, orders: orders, gateway: gateway, catalog: cat, dedup: dedup, cfg: cfg}
}

type Result struct {
	Order           domain.Order
	GatewayOrderRef string
	AmountCents     int64
}

// BeginCheckout reserves capacity, persists the order and asks the gateway
// for an order handle. The ledger hold is taken before the gateway call and
// never under it: the gateway is slow and fallible, and a failure there
// only costs releasing the hold we just took.
func (s *Service) BeginCheckout(ctx context.Context, draft domain.Draft, traceparent string) (Result, error) {
	if err := draft.Validate(); err != nil {
		return Result{}, err
	}

	items, key, quantity, customer, err := s.price(ctx, draft)
	if err != nil {
		return Result{}, err
	}

	orderID := uuid.NewString()
	order := domain.NewOrder(orderID, draft.OrderType(), customer, items)

	if key != nil {
		res, err := s.ledger.TryReserve(ctx, *key, quantity, orderID, s.cfg.ReservationTTL)
		if err != nil {
			// No order row exists yet: a capacity failure leaves no trace.
			return Result{}, err
		}
		order.ReservationID = &res.ID
	}

	if order.Free() {
		order.PaymentState = domain.PaymentPaid
		if err := s.orders.CreateWithOutbox(ctx, order, true, s.settleEvents(order), traceparent); err != nil {
			s.releaseQuietly(ctx, order)
			return Result{}, err
		}
		s.log.Info("free order settled at creation", "order_id", orderID, "type", order.Type)
		return Result{Order: order}, nil
	}

	if err := s.orders.CreateWithOutbox(ctx, order, false, nil, traceparent); err != nil {
		s.releaseQuietly(ctx, order)
		return Result{}, err
	}

	gw, err := s.gateway.CreateOrder(ctx, order.TotalCents, s.cfg.Currency, orderID)
	if err != nil {
		// The failed order row stays behind as an audit trail; only the
		// hold goes back to the pool.
		if _, ferr := s.orders.MarkFailed(ctx, orderID, nil, traceparent); ferr != nil {
			s.log.Error("mark failed after gateway error", "order_id", orderID, "err", ferr)
		}
		return Result{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	if err := s.orders.SetGatewayOrderRef(ctx, orderID, gw.ID); err != nil {
		return Result{}, err
	}
	order.GatewayOrderRef = gw.ID

	return Result{Order: order, GatewayOrderRef: gw.ID, AmountCents: order.TotalCents}, nil
}

// Confirm settles a payment the gateway reports as complete. Safe to call
// any number of times for the same gatewayPaymentRef: the first delivery
// applies, the rest observe.
func (s *Service) Confirm(ctx context.Context, orderID, paymentRef, signature, traceparent string) (domain.Order, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if o.PaymentState == domain.PaymentPaid && o.GatewayPaymentRef == paymentRef {
		return o, nil
	}

	if s.dedup != nil {
		seen, err := s.dedup.Seen(ctx, idempotency.PaymentKey(paymentRef))
		if err != nil {
			s.log.Warn("idempotency check unavailable, continuing", "err", err)
		} else if seen && o.PaymentState == domain.PaymentPaid {
			return o, nil
		}
	}

	if !s.gateway.VerifySignature(o.GatewayOrderRef, paymentRef, signature) {
		s.log.Warn("payment signature rejected",
			"order_id", orderID, "gateway_order_ref", o.GatewayOrderRef, "gateway_payment_ref", paymentRef)
		failed := []notify.Event{notify.New(notify.TypePaymentFailed, notify.PaymentFailed{OrderID: orderID, Reason: "invalid signature"})}
		if _, ferr := s.orders.MarkFailed(ctx, orderID, failed, traceparent); ferr != nil {
			s.log.Error("mark failed after signature rejection", "order_id", orderID, "err", ferr)
		}
		return domain.Order{}, domain.ErrInvalidSignature
	}

	outcome, err := s.orders.SettlePaid(ctx, orderID, paymentRef, s.settleEvents(o), traceparent)
	if errors.Is(err, invdomain.ErrReservationExpired) {
		if _, ferr := s.orders.MarkFailed(ctx, orderID,
			[]notify.Event{notify.New(notify.TypePaymentFailed, notify.PaymentFailed{OrderID: orderID, Reason: "reservation expired"})},
			traceparent); ferr != nil {
			s.log.Error("mark failed after expired settlement", "order_id", orderID, "err", ferr)
		}
		return domain.Order{}, invdomain.ErrReservationExpired
	}
	if err != nil {
		return domain.Order{}, err
	}
	if outcome == domain.SettleNotSettleable {
		// Already failed (swept or cancelled); a late confirmation does
		// not resurrect the order.
		return domain.Order{}, invdomain.ErrReservationExpired
	}

	return s.orders.Get(ctx, orderID)
}

// Cancel is the user-abandons-checkout path: the hold goes back
// synchronously instead of waiting for the sweep.
func (s *Service) Cancel(ctx context.Context, orderID, traceparent string) error {
	_, err := s.orders.MarkFailed(ctx, orderID, nil, traceparent)
	return err
}

// FailPayment handles the gateway's explicit failure callback.
func (s *Service) FailPayment(ctx context.Context, orderID, reason, traceparent string) error {
	events := []notify.Event{notify.New(notify.TypePaymentFailed, notify.PaymentFailed{OrderID: orderID, Reason: reason})}
	_, err := s.orders.MarkFailed(ctx, orderID, events, traceparent)
	return err
}

// Availability is the single atomic read storefront counters derive from.
func (s *Service) Availability(ctx context.Context, kind invdomain.Kind, resourceID string) (invdomain.Item, error) {
	if !kind.Finite() {
		return invdomain.Item{}, invdomain.ErrUnknownResource
	}
	return s.ledger.Availability(ctx, invdomain.Key{Kind: kind, ResourceID: resourceID})
}

// Sweep releases expired holds and fails their orders. Runs from the
// reaper, never from a request handler.
func (s *Service) Sweep(ctx context.Context, now time.Time) (int, error) {
	expired, err := s.ledger.SweepExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	for _, res := range expired {
		events := []notify.Event{notify.New(notify.TypePaymentFailed, notify.PaymentFailed{OrderID: res.OrderID, Reason: "reservation expired"})}
		if _, err := s.orders.MarkFailed(ctx, res.OrderID, events, ""); err != nil {
			s.log.Error("sweep mark failed", "order_id", res.OrderID, "err", err)
		}
	}
	return len(expired), nil
}

func (s *Service) price(ctx context.Context, draft domain.Draft) ([]domain.LineItem, *invdomain.Key, int, domain.Customer, error) {
	switch d := draft.(type) {
	case domain.MenuDraft:
		items := make([]domain.LineItem, 0, len(d.Lines))
		for _, line := range d.Lines {
			m, err := s.catalog.MenuItem(ctx, line.MenuItemID)
			if err != nil {
				return nil, nil, 0, domain.Customer{}, err
			}
			if !m.Available {
				return nil, nil, 0, domain.Customer{}, fmt.Errorf("%w: menu item %s unavailable", domain.ErrInvalidDraft, m.ID)
			}
			items = append(items, domain.LineItem{ResourceID: m.ID, Name: m.Name, Quantity: line.Quantity, UnitPriceCents: m.PriceCents})
		}
		return items, nil, 0, d.Customer, nil

	case domain.ArtDraft:
		a, err := s.catalog.ArtPiece(ctx, d.ArtID)
		if err != nil {
			return nil, nil, 0, domain.Customer{}, err
		}
		key := invdomain.Key{Kind: invdomain.KindArt, ResourceID: a.ID}
		items := []domain.LineItem{{ResourceID: a.ID, Name: a.Title, Quantity: 1, UnitPriceCents: a.PriceCents}}
		return items, &key, 1, d.Customer, nil

	case domain.WorkshopDraft:
		w, err := s.catalog.Workshop(ctx, d.WorkshopID)
		if err != nil {
			return nil, nil, 0, domain.Customer{}, err
		}
		key := invdomain.Key{Kind: invdomain.KindWorkshop, ResourceID: w.ID}
		items := []domain.LineItem{{ResourceID: w.ID, Name: w.Title, Quantity: d.Seats, UnitPriceCents: w.PriceCents}}
		return items, &key, d.Seats, d.Customer, nil

	default:
		return nil, nil, 0, domain.Customer{}, domain.ErrInvalidDraft
	}
}

func (s *Service) settleEvents(o domain.Order) []notify.Event {
	events := []notify.Event{notify.New(notify.TypeOrderConfirmed, notify.OrderConfirmed{
		OrderID:    o.ID,
		OrderType:  string(o.Type),
		TotalCents: o.TotalCents,
		Email:      o.Customer.Email,
		Phone:      o.Customer.Phone,
	})}
	switch o.Type {
	case domain.TypeArt:
		events = append(events, notify.New(notify.TypeArtSold, notify.ArtSold{
			OrderID: o.ID, ArtID: o.Items[0].ResourceID, Email: o.Customer.Email,
		}))
	case domain.TypeWorkshop:
		events = append(events, notify.New(notify.TypeSeatBooked, notify.SeatBooked{
			OrderID: o.ID, WorkshopID: o.Items[0].ResourceID, Seats: o.Items[0].Quantity, Email: o.Customer.Email,
		}))
	}
	return events
}

func (s *Service) releaseQuietly(ctx context.Context, o domain.Order) {
	if o.ReservationID == nil {
		return
	}
	if err := s.ledger.Release(ctx, *o.ReservationID); err != nil {
		s.log.Error("release after create failure", "reservation_id", *o.ReservationID, "err", err)
	}
}
