// Package notify defines the event payloads the engine enqueues on
// committed state transitions. Delivery (mail templates, providers) lives
// outside this service; the engine only guarantees each event is enqueued
// exactly once, by writing it in the same transaction as the transition.
package notify

import "encoding/json"

const (
	TypeOrderConfirmed = "OrderConfirmed"
	TypeSeatBooked     = "SeatBooked"
	TypeArtSold        = "ArtSold"
	TypePaymentFailed  = "PaymentFailed"
)

// Event is an outbox-ready payload.
type Event struct {
	Type    string
	Payload []byte
}

type OrderConfirmed struct {
	OrderID    string `json:"orderId"`
	OrderType  string `json:"orderType"`
	TotalCents int64  `json:"totalCents"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
}

type SeatBooked struct {
	OrderID    string `json:"orderId"`
	WorkshopID string `json:"workshopId"`
	Seats      int    `json:"seats"`
	Email      string `json:"email"`
}

type ArtSold struct {
	OrderID string `json:"orderId"`
	ArtID   string `json:"artId"`
	Email   string `json:"email"`
}

type PaymentFailed struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason"`
}

func New(eventType string, payload any) Event {
	b, _ := json.Marshal(payload)
	return Event{Type: eventType, Payload: b}
}
