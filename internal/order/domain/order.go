package domain

import (
	"errors"
	"time"
)

type Type string

const (
	TypeMenu     Type = "MENU"
	TypeArt      Type = "ART"
	TypeWorkshop Type = "WORKSHOP"
)

type PaymentState string

const (
	PaymentCreated PaymentState = "created"
	PaymentPaid    PaymentState = "paid"
	PaymentFailed  PaymentState = "failed"
)

type FulfillmentStatus string

const (
	FulfillmentPending    FulfillmentStatus = "pending"
	FulfillmentInProgress FulfillmentStatus = "in_progress"
	FulfillmentDelivered  FulfillmentStatus = "delivered"
	FulfillmentCancelled  FulfillmentStatus = "cancelled"
)

// CanTransition encodes the fulfillment state machine:
// pending -> in_progress -> delivered, with cancelled reachable from
// pending or in_progress. Terminal states have no outgoing edges and
// pending cannot skip straight to delivered.
func (s FulfillmentStatus) CanTransition(next FulfillmentStatus) bool {
	switch s {
	case FulfillmentPending:
		return next == FulfillmentInProgress || next == FulfillmentCancelled
	case FulfillmentInProgress:
		return next == FulfillmentDelivered || next == FulfillmentCancelled
	default:
		return false
	}
}

func ParseFulfillmentStatus(v string) (FulfillmentStatus, error) {
	switch FulfillmentStatus(v) {
	case FulfillmentPending, FulfillmentInProgress, FulfillmentDelivered, FulfillmentCancelled:
		return FulfillmentStatus(v), nil
	}
	return "", ErrInvalidTransition
}

type LineItem struct {
	ResourceID     string `json:"resourceId"`
	Name           string `json:"name"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unitPriceCents"`
}

type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// Order is the durable commercial record. Payment state and fulfillment
// status are deliberately independent machines: an order can be paid long
// before it is fulfilled.
type Order struct {
	ID                string
	Type              Type
	Items             []LineItem
	TotalCents        int64
	Customer          Customer
	PaymentState      PaymentState
	Fulfillment       FulfillmentStatus
	GatewayOrderRef   string
	GatewayPaymentRef string
	ReservationID     *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func NewOrder(id string, typ Type, customer Customer, items []LineItem) Order {
	var total int64
	for _, item := range items {
		total += int64(item.Quantity) * item.UnitPriceCents
	}
	now := time.Now().UTC()
	return Order{
		ID:           id,
		Type:         typ,
		Items:        items,
		TotalCents:   total,
		Customer:     customer,
		PaymentState: PaymentCreated,
		Fulfillment:  FulfillmentPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Free orders (a zero-price workshop) never see the gateway and are marked
// paid at creation.
func (o Order) Free() bool {
	return o.TotalCents == 0
}

// ListFilter narrows order queries for the administrative reporting
// surface. Zero fields mean "no constraint".
type ListFilter struct {
	Status FulfillmentStatus
	Type   Type
	From   time.Time
	To     time.Time
}

// SettleOutcome reports what a settlement attempt actually did. Gateways
// redeliver confirmations, so "already paid" is a success for the caller,
// not an error.
type SettleOutcome int

const (
	SettleApplied SettleOutcome = iota
	SettleAlreadyPaid
	SettleNotSettleable
)

var (
	ErrInvalidTransition = errors.New("invalid fulfillment transition")
	ErrNotFound          = errors.New("order not found")
	ErrInvalidSignature  = errors.New("invalid payment signature")
)
