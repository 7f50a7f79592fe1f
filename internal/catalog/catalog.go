// Package catalog exposes the read side of the café's sellable entities.
// Managing the content itself is out of scope; the engine only needs
// authoritative prices and capacity so checkout totals cannot be tampered
// with client-side.
package catalog

import "errors"

var ErrNotFound = errors.New("catalog entry not found")

type MenuItem struct {
	ID         string
	Name       string
	PriceCents int64
	Available  bool
}

type ArtPiece struct {
	ID         string
	Title      string
	PriceCents int64
}

type Workshop struct {
	ID              string
	Title           string
	PriceCents      int64
	MaxParticipants int
}
