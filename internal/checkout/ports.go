package checkout

import (
	"context"
	"time"

	"github.com/brewgallery/commerce-engine/internal/catalog"
	invdomain "github.com/brewgallery/commerce-engine/internal/inventory/domain"
	"github.com/brewgallery/commerce-engine/internal/notify"
	"github.com/brewgallery/commerce-engine/internal/order/domain"
	"github.com/brewgallery/commerce-engine/internal/payment/razorpay"
)

type Ledger interface {
	TryReserve(ctx context.Context, key invdomain.Key, quantity int, orderID string, ttl time.Duration) (invdomain.Reservation, error)
	Release(ctx context.Context, reservationID string) error
	Availability(ctx context.Context, key invdomain.Key) (invdomain.Item, error)
	SweepExpired(ctx context.Context, now time.Time) ([]invdomain.Reservation, error)
}

type OrderStore interface {
	CreateWithOutbox(ctx context.Context, o domain.Order, commitReservation bool, events []notify.Event, traceparent string) error
	SetGatewayOrderRef(ctx context.Context, orderID, ref string) error
	SettlePaid(ctx context.Context, orderID, paymentRef string, events []notify.Event, traceparent string) (domain.SettleOutcome, error)
	MarkFailed(ctx context.Context, orderID string, events []notify.Event, traceparent string) (bool, error)
	Get(ctx context.Context, id string) (domain.Order, error)
}

type Gateway interface {
	CreateOrder(ctx context.Context, amountCents int64, currency, receipt string) (razorpay.GatewayOrder, error)
	VerifySignature(orderRef, paymentRef, signature string) bool
}

type Catalog interface {
	MenuItem(ctx context.Context, id string) (catalog.MenuItem, error)
	ArtPiece(ctx context.Context, id string) (catalog.ArtPiece, error)
	Workshop(ctx context.Context, id string) (catalog.Workshop, error)
}

type Deduper interface {
	Seen(ctx context.Context, key string) (bool, error)
}
