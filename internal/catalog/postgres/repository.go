package postgres

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brewgallery/commerce-engine/internal/catalog"
)

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

func (r *Repository) MenuItem(ctx context.Context, id string) (catalog.MenuItem, error) {
	var m catalog.MenuItem
	err := r.pool.QueryRow(ctx, `SELECT id, name, price_cents, available FROM menu_items WHERE id=$1`, id).
		Scan(&m.ID, &m.Name, &m.PriceCents, &m.Available)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.MenuItem{}, catalog.ErrNotFound
	}
	return m, err
}

func (r *Repository) ArtPiece(ctx context.Context, id string) (catalog.ArtPiece, error) {
	var a catalog.ArtPiece
	err := r.pool.QueryRow(ctx, `SELECT id, title, price_cents FROM art_pieces WHERE id=$1`, id).
		Scan(&a.ID, &a.Title, &a.PriceCents)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.ArtPiece{}, catalog.ErrNotFound
	}
	return a, err
}

func (r *Repository) Workshop(ctx context.Context, id string) (catalog.Workshop, error) {
	var w catalog.Workshop
	err := r.pool.QueryRow(ctx, `SELECT id, title, price_cents, max_participants FROM workshops WHERE id=$1`, id).
		Scan(&w.ID, &w.Title, &w.PriceCents, &w.MaxParticipants)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Workshop{}, catalog.ErrNotFound
	}
	return w, err
}
