package domain

import (
	"errors"
	"testing"
)

func TestFulfillmentTransitions(t *testing.T) {
	cases := []struct {
		from, to FulfillmentStatus
		ok       bool
	}{
		{FulfillmentPending, FulfillmentInProgress, true},
		{FulfillmentPending, FulfillmentCancelled, true},
		{FulfillmentPending, FulfillmentDelivered, false},
		{FulfillmentInProgress, FulfillmentDelivered, true},
		{FulfillmentInProgress, FulfillmentCancelled, true},
		{FulfillmentInProgress, FulfillmentPending, false},
		{FulfillmentDelivered, FulfillmentInProgress, false},
		{FulfillmentDelivered, FulfillmentCancelled, false},
		{FulfillmentCancelled, FulfillmentPending, false},
		{FulfillmentCancelled, FulfillmentDelivered, false},
		{FulfillmentPending, FulfillmentPending, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.ok {
			t.Errorf("%s -> %s: got %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}

func TestParseFulfillmentStatus(t *testing.T) {
	for _, v := range []string{"pending", "in_progress", "delivered", "cancelled"} {
		if _, err := ParseFulfillmentStatus(v); err != nil {
			t.Errorf("parse %q: %v", v, err)
		}
	}
	if _, err := ParseFulfillmentStatus("shipped"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("parse shipped: got %v, want ErrInvalidTransition", err)
	}
}

func TestNewOrderTotals(t *testing.T) {
	o := NewOrder("o1", TypeMenu, Customer{Email: "a@b.c"}, []LineItem{
		{ResourceID: "latte", Quantity: 2, UnitPriceCents: 25000},
		{ResourceID: "croissant", Quantity: 1, UnitPriceCents: 18000},
	})
	if o.TotalCents != 68000 {
		t.Fatalf("total: got %d, want 68000", o.TotalCents)
	}
	if o.PaymentState != PaymentCreated || o.Fulfillment != FulfillmentPending {
		t.Fatalf("new order starts created/pending, got %s/%s", o.PaymentState, o.Fulfillment)
	}
	if o.Free() {
		t.Fatal("non-zero total must not be free")
	}
	if !NewOrder("o2", TypeWorkshop, Customer{Email: "a@b.c"}, []LineItem{{Quantity: 3, UnitPriceCents: 0}}).Free() {
		t.Fatal("zero total must be free")
	}
}

func TestDraftValidation(t *testing.T) {
	contact := Customer{Email: "a@b.c"}
	cases := []struct {
		name  string
		draft Draft
		ok    bool
	}{
		{"menu ok", MenuDraft{Lines: []MenuLine{{MenuItemID: "latte", Quantity: 1}}, Customer: contact}, true},
		{"menu empty", MenuDraft{Customer: contact}, false},
		{"menu zero qty", MenuDraft{Lines: []MenuLine{{MenuItemID: "latte", Quantity: 0}}, Customer: contact}, false},
		{"menu missing id", MenuDraft{Lines: []MenuLine{{Quantity: 1}}, Customer: contact}, false},
		{"art ok", ArtDraft{ArtID: "sunset", Customer: contact}, true},
		{"art missing id", ArtDraft{Customer: contact}, false},
		{"workshop ok", WorkshopDraft{WorkshopID: "pottery", Seats: 2, Customer: contact}, true},
		{"workshop zero seats", WorkshopDraft{WorkshopID: "pottery", Customer: contact}, false},
		{"workshop negative seats", WorkshopDraft{WorkshopID: "pottery", Seats: -1, Customer: contact}, false},
		{"no contact", ArtDraft{ArtID: "sunset"}, false},
		{"phone only contact", ArtDraft{ArtID: "sunset", Customer: Customer{Phone: "+919900112233"}}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.draft.Validate()
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrInvalidDraft) {
				t.Fatalf("got %v, want ErrInvalidDraft", err)
			}
		})
	}
}
