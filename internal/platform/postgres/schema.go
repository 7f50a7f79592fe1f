// Package postgres owns the engine's schema. Tables are created on boot;
// every statement is idempotent so multiple instances can race on startup.
package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS inventory (
		kind        TEXT NOT NULL,
		resource_id TEXT NOT NULL,
		capacity    INT  NOT NULL,
		committed   INT  NOT NULL DEFAULT 0,
		reserved    INT  NOT NULL DEFAULT 0,
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (kind, resource_id),
		CHECK (committed + reserved <= capacity),
		CHECK (committed >= 0 AND reserved >= 0)
	)`,
	`CREATE TABLE IF NOT EXISTS reservations (
		id          TEXT PRIMARY KEY,
		kind        TEXT NOT NULL,
		resource_id TEXT NOT NULL,
		quantity    INT  NOT NULL,
		order_id    TEXT NOT NULL,
		status      TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL,
		expires_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS reservations_expiry_idx ON reservations (status, expires_at)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id                  TEXT PRIMARY KEY,
		order_type          TEXT NOT NULL,
		total_cents         BIGINT NOT NULL,
		customer_name       TEXT NOT NULL DEFAULT '',
		customer_email      TEXT NOT NULL DEFAULT '',
		customer_phone      TEXT NOT NULL DEFAULT '',
		payment_state       TEXT NOT NULL,
		fulfillment_status  TEXT NOT NULL,
		gateway_order_ref   TEXT NOT NULL DEFAULT '',
		gateway_payment_ref TEXT NOT NULL DEFAULT '',
		reservation_id      TEXT,
		created_at          TIMESTAMPTZ NOT NULL,
		updated_at          TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS orders_fulfillment_idx ON orders (fulfillment_status)`,
	`CREATE INDEX IF NOT EXISTS orders_created_idx ON orders (created_at)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		order_id         TEXT NOT NULL,
		resource_id      TEXT NOT NULL,
		name             TEXT NOT NULL DEFAULT '',
		quantity         INT  NOT NULL,
		unit_price_cents BIGINT NOT NULL,
		PRIMARY KEY (order_id, resource_id)
	)`,
	`CREATE TABLE IF NOT EXISTS outbox (
		id             BIGSERIAL PRIMARY KEY,
		aggregate_type TEXT NOT NULL,
		aggregate_id   TEXT NOT NULL,
		type           TEXT NOT NULL,
		payload        JSONB NOT NULL,
		headers        JSONB,
		traceparent    TEXT NOT NULL DEFAULT '',
		status         TEXT NOT NULL DEFAULT 'pending',
		relay_id       TEXT,
		lease_until    TIMESTAMPTZ,
		retry_count    INT NOT NULL DEFAULT 0,
		last_error     TEXT,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS outbox_pending_idx ON outbox (status, id)`,
	`CREATE TABLE IF NOT EXISTS menu_items (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		price_cents BIGINT NOT NULL,
		available   BOOLEAN NOT NULL DEFAULT true
	)`,
	`CREATE TABLE IF NOT EXISTS art_pieces (
		id          TEXT PRIMARY KEY,
		title       TEXT NOT NULL,
		price_cents BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS workshops (
		id               TEXT PRIMARY KEY,
		title            TEXT NOT NULL,
		price_cents      BIGINT NOT NULL,
		max_participants INT NOT NULL
	)`,
}

func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
