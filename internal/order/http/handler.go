package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/brewgallery/commerce-engine/internal/catalog"
	"github.com/brewgallery/commerce-engine/internal/checkout"
	invdomain "github.com/brewgallery/commerce-engine/internal/inventory/domain"
	"github.com/brewgallery/commerce-engine/internal/order/domain"
)

// CheckoutService is the storefront-facing slice of the checkout service.
type CheckoutService interface {
	BeginCheckout(ctx context.Context, draft domain.Draft, traceparent string) (checkout.Result, error)
	Confirm(ctx context.Context, orderID, paymentRef, signature, traceparent string) (domain.Order, error)
	Cancel(ctx context.Context, orderID, traceparent string) error
	FailPayment(ctx context.Context, orderID, reason, traceparent string) error
	Availability(ctx context.Context, kind invdomain.Kind, resourceID string) (invdomain.Item, error)
}

// AdminStore is the back-office slice of the order store.
type AdminStore interface {
	List(ctx context.Context, f domain.ListFilter) ([]domain.Order, error)
	UpdateFulfillment(ctx context.Context, orderID string, next domain.FulfillmentStatus) (domain.Order, error)
	Get(ctx context.Context, id string) (domain.Order, error)
}

type Handler struct {
	log    *slog.Logger
	svc    CheckoutService
	admin  AdminStore
	tracer trace.Tracer
}

func NewHandler(log *slog.Logger, svc CheckoutService, admin AdminStore) *Handler {
	return &Handler{
		log:    log,
		svc:    svc,
		admin:  admin,
		tracer: otel.Tracer("commerce-http"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/checkout", h.beginCheckout)
	r.Post("/checkout/{orderID}/confirm", h.confirm)
	r.Post("/checkout/{orderID}/cancel", h.cancel)
	r.Post("/checkout/{orderID}/fail", h.fail)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{orderID}", h.getOrder)
	r.Put("/orders/{orderID}/status", h.updateStatus)
	r.Get("/availability/{kind}/{resourceID}", h.availability)
	return r
}

type checkoutReq struct {
	OrderType  string            `json:"orderType"`
	LineItems  []domain.MenuLine `json:"lineItems"`
	ArtID      string            `json:"artId"`
	WorkshopID string            `json:"workshopId"`
	Seats      int               `json:"seats"`
	Customer   domain.Customer   `json:"customerContact"`
}

func (h *Handler) beginCheckout(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "BeginCheckout")
	defer span.End()

	var req checkoutReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY")
		return
	}

	var draft domain.Draft
	switch domain.Type(strings.ToUpper(req.OrderType)) {
	case domain.TypeMenu:
		draft = domain.MenuDraft{Lines: req.LineItems, Customer: req.Customer}
	case domain.TypeArt:
		draft = domain.ArtDraft{ArtID: req.ArtID, Customer: req.Customer}
	case domain.TypeWorkshop:
		draft = domain.WorkshopDraft{WorkshopID: req.WorkshopID, Seats: req.Seats, Customer: req.Customer}
	default:
		writeError(w, http.StatusBadRequest, "UNKNOWN_ORDER_TYPE")
		return
	}

	result, err := h.svc.BeginCheckout(ctx, draft, traceparentFrom(ctx, r))
	switch {
	case err == nil:
	case errors.Is(err, invdomain.ErrCapacityExceeded):
		writeError(w, http.StatusConflict, "CAPACITY_EXCEEDED")
		return
	case errors.Is(err, checkout.ErrGatewayUnavailable):
		writeError(w, http.StatusBadGateway, "GATEWAY_UNAVAILABLE")
		return
	case errors.Is(err, domain.ErrInvalidDraft):
		writeError(w, http.StatusBadRequest, "INVALID_DRAFT")
		return
	case errors.Is(err, catalog.ErrNotFound), errors.Is(err, invdomain.ErrUnknownResource):
		writeError(w, http.StatusNotFound, "NOT_FOUND")
		return
	default:
		h.log.Error("checkout failed", "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"orderId":         result.Order.ID,
		"gatewayOrderRef": result.GatewayOrderRef,
		"amount":          result.AmountCents,
		"paymentState":    result.Order.PaymentState,
	})
}

type confirmReq struct {
	GatewayPaymentRef string `json:"gatewayPaymentRef"`
	GatewaySignature  string `json:"gatewaySignature"`
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ConfirmPayment")
	defer span.End()

	orderID := chi.URLParam(r, "orderID")
	var req confirmReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY")
		return
	}

	o, err := h.svc.Confirm(ctx, orderID, req.GatewayPaymentRef, req.GatewaySignature, traceparentFrom(ctx, r))
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrInvalidSignature):
		writeError(w, http.StatusUnprocessableEntity, "INVALID_SIGNATURE")
		return
	case errors.Is(err, invdomain.ErrReservationExpired):
		writeError(w, http.StatusConflict, "RESERVATION_EXPIRED")
		return
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND")
		return
	default:
		h.log.Error("confirm failed", "order_id", orderID, "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"orderId": o.ID, "paymentState": o.PaymentState})
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CancelCheckout")
	defer span.End()

	orderID := chi.URLParam(r, "orderID")
	if err := h.svc.Cancel(ctx, orderID, traceparentFrom(ctx, r)); err != nil {
		h.log.Error("cancel failed", "order_id", orderID, "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"orderId": orderID, "status": "cancelled"})
}

type failReq struct {
	Reason string `json:"reason"`
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "FailPayment")
	defer span.End()

	orderID := chi.URLParam(r, "orderID")
	var req failReq
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Reason == "" {
		req.Reason = "gateway reported failure"
	}

	if err := h.svc.FailPayment(ctx, orderID, req.Reason, traceparentFrom(ctx, r)); err != nil {
		h.log.Error("fail callback error", "order_id", orderID, "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"orderId": orderID, "paymentState": string(domain.PaymentFailed)})
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ListOrders")
	defer span.End()

	var f domain.ListFilter
	q := r.URL.Query()
	if v := q.Get("status"); v != "" {
		status, err := domain.ParseFulfillmentStatus(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "UNKNOWN_STATUS")
			return
		}
		f.Status = status
	}
	if v := q.Get("type"); v != "" {
		f.Type = domain.Type(strings.ToUpper(v))
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_DATE")
			return
		}
		f.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_DATE")
			return
		}
		f.To = t
	}

	orders, err := h.admin.List(ctx, f)
	if err != nil {
		h.log.Error("list orders failed", "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL")
		return
	}

	views := make([]orderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, toView(o))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetOrder")
	defer span.End()

	o, err := h.admin.Get(ctx, chi.URLParam(r, "orderID"))
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL")
		return
	}
	writeJSON(w, http.StatusOK, toView(o))
}

type statusReq struct {
	Status string `json:"status"`
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "UpdateFulfillment")
	defer span.End()

	orderID := chi.URLParam(r, "orderID")
	var req statusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY")
		return
	}
	next, err := domain.ParseFulfillmentStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, "UNKNOWN_STATUS")
		return
	}

	o, err := h.admin.UpdateFulfillment(ctx, orderID, next)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "INVALID_TRANSITION")
		return
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND")
		return
	default:
		h.log.Error("status update failed", "order_id", orderID, "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL")
		return
	}
	writeJSON(w, http.StatusOK, toView(o))
}

func (h *Handler) availability(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "Availability")
	defer span.End()

	kind := invdomain.Kind(strings.ToUpper(chi.URLParam(r, "kind")))
	item, err := h.svc.Availability(ctx, kind, chi.URLParam(r, "resourceID"))
	if errors.Is(err, invdomain.ErrUnknownResource) {
		writeError(w, http.StatusNotFound, "NOT_FOUND")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"capacity":  item.Capacity,
		"committed": item.Committed,
		"reserved":  item.Reserved,
		"available": item.Available(),
	})
}

type orderView struct {
	ID              string            `json:"orderId"`
	Type            string            `json:"orderType"`
	Items           []domain.LineItem `json:"lineItems"`
	TotalCents      int64             `json:"totalCents"`
	Customer        domain.Customer   `json:"customerContact"`
	PaymentState    string            `json:"paymentState"`
	Fulfillment     string            `json:"fulfillmentStatus"`
	GatewayOrderRef string            `json:"gatewayOrderRef,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
}

func toView(o domain.Order) orderView {
	return orderView{
		ID:              o.ID,
		Type:            string(o.Type),
		Items:           o.Items,
		TotalCents:      o.TotalCents,
		Customer:        o.Customer,
		PaymentState:    string(o.PaymentState),
		Fulfillment:     string(o.Fulfillment),
		GatewayOrderRef: o.GatewayOrderRef,
		CreatedAt:       o.CreatedAt,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func traceparentFrom(ctx context.Context, r *http.Request) string {
	if tp := r.Header.Get("traceparent"); tp != "" {
		return tp
	}
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return carrier["traceparent"]
}
