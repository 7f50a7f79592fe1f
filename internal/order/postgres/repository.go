package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	invpg "github.com/brewgallery/commerce-engine/internal/inventory/postgres"
	"github.com/brewgallery/commerce-engine/internal/notify"
	"github.com/brewgallery/commerce-engine/internal/order/domain"
)

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

// CreateWithOutbox persists the order, its line items, any notification
// events and, for free orders, the immediate commit of the reservation,
// all in one transaction.
func (r *Repository) CreateWithOutbox(ctx context.Context, o domain.Order, commitReservation bool, events []notify.Event, traceparent string) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (id, order_type, total_cents, customer_name, customer_email, customer_phone,
			payment_state, fulfillment_status, gateway_order_ref, gateway_payment_ref, reservation_id, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		o.ID, o.Type, o.TotalCents, o.Customer.Name, o.Customer.Email, o.Customer.Phone,
		o.PaymentState, o.Fulfillment, o.GatewayOrderRef, o.GatewayPaymentRef, o.ReservationID, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, item := range o.Items {
		batch.Queue(`INSERT INTO order_items (order_id, resource_id, name, quantity, unit_price_cents)
			VALUES ($1,$2,$3,$4,$5)`,
			o.ID, item.ResourceID, item.Name, item.Quantity, item.UnitPriceCents)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}

	if commitReservation && o.ReservationID != nil {
		if err := invpg.CommitInTx(ctx, tx, *o.ReservationID, time.Now().UTC()); err != nil {
			return err
		}
	}
	if err := insertOutbox(ctx, tx, o.ID, events, traceparent); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) SetGatewayOrderRef(ctx context.Context, orderID, ref string) error {
	ct, err := r.pool.Exec(ctx, `UPDATE orders SET gateway_order_ref=$2, updated_at=now() WHERE id=$1`, orderID, ref)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SettlePaid flips the order to paid, commits the reservation and enqueues
// the notification events as a single transaction. The conditional UPDATE
// on payment_state serializes duplicate confirmations for the same order:
// only the first one applies, the rest observe the already-paid state.
func (r *Repository) SettlePaid(ctx context.Context, orderID, paymentRef string, events []notify.Event, traceparent string) (domain.SettleOutcome, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.SettleNotSettleable, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var reservationID *string
	err = tx.QueryRow(ctx, `
		UPDATE orders
		SET payment_state=$2, gateway_payment_ref=$3, updated_at=now()
		WHERE id=$1 AND payment_state=$4
		RETURNING reservation_id`,
		orderID, domain.PaymentPaid, paymentRef, domain.PaymentCreated,
	).Scan(&reservationID)
	if errors.Is(err, pgx.ErrNoRows) {
		var state domain.PaymentState
		err := tx.QueryRow(ctx, `SELECT payment_state FROM orders WHERE id=$1`, orderID).Scan(&state)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SettleNotSettleable, domain.ErrNotFound
		}
		if err != nil {
			return domain.SettleNotSettleable, err
		}
		if state == domain.PaymentPaid {
			return domain.SettleAlreadyPaid, tx.Commit(ctx)
		}
		return domain.SettleNotSettleable, nil
	}
	if err != nil {
		return domain.SettleNotSettleable, err
	}

	if reservationID != nil {
		if err := invpg.CommitInTx(ctx, tx, *reservationID, time.Now().UTC()); err != nil {
			// The whole settlement rolls back: a hold that expired under
			// us must not produce a paid order.
			return domain.SettleNotSettleable, err
		}
	}
	if err := insertOutbox(ctx, tx, orderID, events, traceparent); err != nil {
		return domain.SettleNotSettleable, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.SettleNotSettleable, err
	}
	r.log.Info("order settled", "order_id", orderID, "gateway_payment_ref", paymentRef)
	return domain.SettleApplied, nil
}

// MarkFailed moves a still-pending order to failed/cancelled and releases
// its hold. No-op when the order already reached a terminal payment state,
// which makes the sweep, user cancellation and failure callbacks safe to
// race with each other.
func (r *Repository) MarkFailed(ctx context.Context, orderID string, events []notify.Event, traceparent string) (bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var reservationID *string
	err = tx.QueryRow(ctx, `
		UPDATE orders
		SET payment_state=$2, fulfillment_status=$3, updated_at=now()
		WHERE id=$1 AND payment_state=$4
		RETURNING reservation_id`,
		orderID, domain.PaymentFailed, domain.FulfillmentCancelled, domain.PaymentCreated,
	).Scan(&reservationID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, tx.Commit(ctx)
	}
	if err != nil {
		return false, err
	}

	if reservationID != nil {
		if err := invpg.ReleaseInTx(ctx, tx, *reservationID); err != nil {
			return false, err
		}
	}
	if err := insertOutbox(ctx, tx, orderID, events, traceparent); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	r.log.Info("order failed", "order_id", orderID)
	return true, nil
}

// UpdateFulfillment applies an administrative status change under the
// state machine. The row lock keeps two admins from interleaving.
func (r *Repository) UpdateFulfillment(ctx context.Context, orderID string, next domain.FulfillmentStatus) (domain.Order, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Order{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var current domain.FulfillmentStatus
	var payment domain.PaymentState
	err = tx.QueryRow(ctx, `SELECT fulfillment_status, payment_state FROM orders WHERE id=$1 FOR UPDATE`, orderID).
		Scan(&current, &payment)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Order{}, err
	}

	if !current.CanTransition(next) {
		return domain.Order{}, domain.ErrInvalidTransition
	}
	// Fulfillment may only progress once the order is paid; cancelling
	// an unpaid order is still allowed.
	if next != domain.FulfillmentCancelled && payment != domain.PaymentPaid {
		return domain.Order{}, domain.ErrInvalidTransition
	}

	_, err = tx.Exec(ctx, `UPDATE orders SET fulfillment_status=$2, updated_at=now() WHERE id=$1`, orderID, next)
	if err != nil {
		return domain.Order{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Order{}, err
	}
	return r.Get(ctx, orderID)
}

func (r *Repository) Get(ctx context.Context, id string) (domain.Order, error) {
	var o domain.Order
	err := r.pool.QueryRow(ctx, `
		SELECT id, order_type, total_cents, customer_name, customer_email, customer_phone,
			payment_state, fulfillment_status, gateway_order_ref, gateway_payment_ref, reservation_id, created_at, updated_at
		FROM orders WHERE id=$1`, id,
	).Scan(&o.ID, &o.Type, &o.TotalCents, &o.Customer.Name, &o.Customer.Email, &o.Customer.Phone,
		&o.PaymentState, &o.Fulfillment, &o.GatewayOrderRef, &o.GatewayPaymentRef, &o.ReservationID, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Order{}, err
	}

	rows, err := r.pool.Query(ctx, `SELECT resource_id, name, quantity, unit_price_cents FROM order_items WHERE order_id=$1`, id)
	if err != nil {
		return domain.Order{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var item domain.LineItem
		if err := rows.Scan(&item.ResourceID, &item.Name, &item.Quantity, &item.UnitPriceCents); err != nil {
			return domain.Order{}, err
		}
		o.Items = append(o.Items, item)
	}
	return o, rows.Err()
}

func (r *Repository) List(ctx context.Context, f domain.ListFilter) ([]domain.Order, error) {
	query := `
		SELECT id, order_type, total_cents, customer_name, customer_email, customer_phone,
			payment_state, fulfillment_status, gateway_order_ref, gateway_payment_ref, reservation_id, created_at, updated_at
		FROM orders WHERE 1=1`
	args := []any{}
	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(" AND fulfillment_status=$%d", len(args))
	}
	if f.Type != "" {
		args = append(args, f.Type)
		query += fmt.Sprintf(" AND order_type=$%d", len(args))
	}
	if !f.From.IsZero() {
		args = append(args, f.From)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		query += fmt.Sprintf(" AND created_at < $%d", len(args))
	}
	query += " ORDER BY created_at DESC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		var o domain.Order
		if err := rows.Scan(&o.ID, &o.Type, &o.TotalCents, &o.Customer.Name, &o.Customer.Email, &o.Customer.Phone,
			&o.PaymentState, &o.Fulfillment, &o.GatewayOrderRef, &o.GatewayPaymentRef, &o.ReservationID, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func insertOutbox(ctx context.Context, tx pgx.Tx, orderID string, events []notify.Event, traceparent string) error {
	for _, ev := range events {
		_, err := tx.Exec(ctx, `
			INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, headers, traceparent, status)
			VALUES ($1,$2,$3,$4,$5,$6,'pending')`,
			"order", orderID, ev.Type, ev.Payload, map[string]string{"source": "commerce-engine"}, traceparent)
		if err != nil {
			return err
		}
	}
	return nil
}
