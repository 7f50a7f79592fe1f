package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brewgallery/commerce-engine/internal/inventory/domain"
)

// Repository is the inventory ledger backed by Postgres. Every mutation
// that touches a counter runs as a single conditional statement inside a
// transaction, so concurrent callers on the same key are serialized by
// the row lock and the capacity invariant can never be violated.
type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

// TryReserve takes a hold of quantity units against the key. The capacity
// check and the reserved increment are one UPDATE; there is no read-then-write
// window for a concurrent buyer to slip through.
func (r *Repository) TryReserve(ctx context.Context, key domain.Key, quantity int, orderID string, ttl time.Duration) (domain.Reservation, error) {
	res := domain.NewReservation(key, quantity, orderID, ttl)

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Reservation{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	ct, err := tx.Exec(ctx, `
		UPDATE inventory
		SET reserved = reserved + $3, updated_at = now()
		WHERE kind = $1 AND resource_id = $2
		  AND committed + reserved + $3 <= capacity`,
		key.Kind, key.ResourceID, quantity)
	if err != nil {
		return domain.Reservation{}, err
	}
	if ct.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM inventory WHERE kind=$1 AND resource_id=$2)`,
			key.Kind, key.ResourceID).Scan(&exists); err != nil {
			return domain.Reservation{}, err
		}
		if !exists {
			return domain.Reservation{}, domain.ErrUnknownResource
		}
		return domain.Reservation{}, domain.ErrCapacityExceeded
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO reservations (id, kind, resource_id, quantity, order_id, status, created_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		res.ID, key.Kind, key.ResourceID, quantity, orderID, res.Status, res.CreatedAt, res.ExpiresAt)
	if err != nil {
		return domain.Reservation{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Reservation{}, err
	}
	r.log.Info("reservation held", "reservation_id", res.ID, "kind", key.Kind, "resource_id", key.ResourceID, "quantity", quantity)
	return res, nil
}

// Commit turns a hold into a durable deduction. Idempotent: a reservation
// that is already committed is a no-op.
func (r *Repository) Commit(ctx context.Context, reservationID string) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := CommitInTx(ctx, tx, reservationID, time.Now().UTC()); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Release gives the held quantity back. Idempotent for the same reason
// Commit is: confirmation callbacks and the sweep may race.
func (r *Repository) Release(ctx context.Context, reservationID string) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := ReleaseInTx(ctx, tx, reservationID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// CommitInTx applies the held->committed transition inside the caller's
// transaction, so order settlement and the inventory commit land atomically.
func CommitInTx(ctx context.Context, tx pgx.Tx, reservationID string, now time.Time) error {
	var kind, resourceID string
	var quantity int
	err := tx.QueryRow(ctx, `
		UPDATE reservations
		SET status = $2
		WHERE id = $1 AND status = $3 AND expires_at > $4
		RETURNING kind, resource_id, quantity`,
		reservationID, domain.StatusCommitted, domain.StatusHeld, now,
	).Scan(&kind, &resourceID, &quantity)
	if errors.Is(err, pgx.ErrNoRows) {
		return classifyMiss(ctx, tx, reservationID)
	}
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE inventory
		SET reserved = reserved - $3, committed = committed + $3, updated_at = now()
		WHERE kind = $1 AND resource_id = $2`,
		kind, resourceID, quantity)
	return err
}

// ReleaseInTx applies the held->released transition inside the caller's
// transaction. Already-released and already-committed holds are left alone.
func ReleaseInTx(ctx context.Context, tx pgx.Tx, reservationID string) error {
	var kind, resourceID string
	var quantity int
	err := tx.QueryRow(ctx, `
		UPDATE reservations
		SET status = $2
		WHERE id = $1 AND status = $3
		RETURNING kind, resource_id, quantity`,
		reservationID, domain.StatusReleased, domain.StatusHeld,
	).Scan(&kind, &resourceID, &quantity)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE inventory
		SET reserved = reserved - $3, updated_at = now()
		WHERE kind = $1 AND resource_id = $2`,
		kind, resourceID, quantity)
	return err
}

func classifyMiss(ctx context.Context, tx pgx.Tx, reservationID string) error {
	var status domain.ReservationStatus
	err := tx.QueryRow(ctx, `SELECT status FROM reservations WHERE id=$1`, reservationID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrReservationNotFound
	}
	if err != nil {
		return err
	}
	switch status {
	case domain.StatusCommitted:
		return nil
	default:
		// held-but-expired or already released: either way the hold
		// is not committable anymore.
		return domain.ErrReservationExpired
	}
}

// Availability reads capacity counters in one atomic snapshot. Storefront
// counters (seats left, piece still available) must come from here, never
// from a cached number.
func (r *Repository) Availability(ctx context.Context, key domain.Key) (domain.Item, error) {
	it := domain.Item{Key: key}
	err := r.pool.QueryRow(ctx, `
		SELECT capacity, committed, reserved FROM inventory WHERE kind=$1 AND resource_id=$2`,
		key.Kind, key.ResourceID,
	).Scan(&it.Capacity, &it.Committed, &it.Reserved)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Item{}, domain.ErrUnknownResource
	}
	if err != nil {
		return domain.Item{}, err
	}
	return it, nil
}

// SweepExpired releases every hold whose deadline passed before now. The
// query is clock-based so a restart cannot lose an expiration, and SKIP
// LOCKED lets multiple instances sweep concurrently without contention.
func (r *Repository) SweepExpired(ctx context.Context, now time.Time) ([]domain.Reservation, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	rows, err := tx.Query(ctx, `
		SELECT id, kind, resource_id, quantity, order_id, created_at, expires_at
		FROM reservations
		WHERE status = $1 AND expires_at < $2
		FOR UPDATE SKIP LOCKED`,
		domain.StatusHeld, now)
	if err != nil {
		return nil, err
	}

	var expired []domain.Reservation
	for rows.Next() {
		res := domain.Reservation{Status: domain.StatusReleased}
		if err := rows.Scan(&res.ID, &res.Key.Kind, &res.Key.ResourceID, &res.Quantity, &res.OrderID, &res.CreatedAt, &res.ExpiresAt); err != nil {
			rows.Close()
			return nil, err
		}
		expired = append(expired, res)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(expired) == 0 {
		return nil, tx.Commit(ctx)
	}

	for _, res := range expired {
		if _, err := tx.Exec(ctx, `UPDATE reservations SET status=$2 WHERE id=$1`,
			res.ID, domain.StatusReleased); err != nil {
			return nil, err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE inventory SET reserved = reserved - $3, updated_at = now()
			WHERE kind = $1 AND resource_id = $2`,
			res.Key.Kind, res.Key.ResourceID, res.Quantity); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	r.log.Info("expired reservations swept", "count", len(expired))
	return expired, nil
}
