package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindMenu     Kind = "MENU"
	KindArt      Kind = "ART"
	KindWorkshop Kind = "WORKSHOP"
)

// Finite reports whether the kind competes for a bounded capacity.
// Menu items are made to order and never enter the ledger.
func (k Kind) Finite() bool {
	return k == KindArt || k == KindWorkshop
}

// Key identifies one sellable resource in the ledger.
type Key struct {
	Kind       Kind
	ResourceID string
}

// Item is a ledger row. committed + reserved never exceeds capacity.
type Item struct {
	Key       Key
	Capacity  int
	Committed int
	Reserved  int
}

func (it Item) Available() int {
	return it.Capacity - it.Committed - it.Reserved
}

type ReservationStatus string

const (
	StatusHeld      ReservationStatus = "held"
	StatusCommitted ReservationStatus = "committed"
	StatusReleased  ReservationStatus = "released"
)

// Reservation is a time-bounded hold against a ledger item.
type Reservation struct {
	ID        string
	Key       Key
	Quantity  int
	OrderID   string
	Status    ReservationStatus
	CreatedAt time.Time
	ExpiresAt time.Time
}

func NewReservation(key Key, quantity int, orderID string, ttl time.Duration) Reservation {
	now := time.Now().UTC()
	return Reservation{
		ID:        uuid.NewString(),
		Key:       key,
		Quantity:  quantity,
		OrderID:   orderID,
		Status:    StatusHeld,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

func (r Reservation) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

var (
	// ErrCapacityExceeded is the expected "sold out" outcome, not a fault.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrReservationExpired covers holds that were swept or ran past
	// their deadline before the payment confirmation arrived.
	ErrReservationExpired = errors.New("reservation no longer valid")

	ErrReservationNotFound = errors.New("reservation not found")
	ErrUnknownResource     = errors.New("resource not in ledger")
)
