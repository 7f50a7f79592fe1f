package domain

import (
	"errors"
	"fmt"
)

// Checkout payloads vary per order type, so each variant carries only its
// own fields and is validated before anything is reserved or persisted.

var ErrInvalidDraft = errors.New("invalid checkout draft")

type Draft interface {
	OrderType() Type
	Validate() error
}

type MenuLine struct {
	MenuItemID string `json:"menuItemId"`
	Quantity   int    `json:"quantity"`
}

type MenuDraft struct {
	Lines    []MenuLine
	Customer Customer
}

func (d MenuDraft) OrderType() Type { return TypeMenu }

func (d MenuDraft) Validate() error {
	if len(d.Lines) == 0 {
		return fmt.Errorf("%w: no line items", ErrInvalidDraft)
	}
	for _, l := range d.Lines {
		if l.MenuItemID == "" {
			return fmt.Errorf("%w: missing menu item id", ErrInvalidDraft)
		}
		if l.Quantity <= 0 {
			return fmt.Errorf("%w: quantity must be positive", ErrInvalidDraft)
		}
	}
	return validateCustomer(d.Customer)
}

type ArtDraft struct {
	ArtID    string
	Customer Customer
}

func (d ArtDraft) OrderType() Type { return TypeArt }

func (d ArtDraft) Validate() error {
	if d.ArtID == "" {
		return fmt.Errorf("%w: missing art id", ErrInvalidDraft)
	}
	return validateCustomer(d.Customer)
}

type WorkshopDraft struct {
	WorkshopID string
	Seats      int
	Customer   Customer
}

func (d WorkshopDraft) OrderType() Type { return TypeWorkshop }

func (d WorkshopDraft) Validate() error {
	if d.WorkshopID == "" {
		return fmt.Errorf("%w: missing workshop id", ErrInvalidDraft)
	}
	if d.Seats <= 0 {
		return fmt.Errorf("%w: seats must be positive", ErrInvalidDraft)
	}
	return validateCustomer(d.Customer)
}

func validateCustomer(c Customer) error {
	if c.Email == "" && c.Phone == "" {
		return fmt.Errorf("%w: customer contact required", ErrInvalidDraft)
	}
	return nil
}
