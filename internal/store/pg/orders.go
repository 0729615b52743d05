package pg

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"shopnotify/internal/store"
)

const orderCols = `
	order_id, shop_id, COALESCE(phone,''), COALESCE(email,''), COALESCE(customer_name,''),
	total_price, currency, COALESCE(financial_status,''), COALESCE(fulfillment_status,''),
	confirmation_sent, shipping_sent, delivered_sent, review_requested, created_at, updated_at
`

func (s *Store) GetOrder(ctx context.Context, orderID string) (store.Order, bool, error) {
	row := s.DB.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE order_id=$1`, orderID)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Order{}, false, nil
		}
		return store.Order{}, false, err
	}
	return o, true, nil
}

func (s *Store) UpsertOrder(ctx context.Context, in store.OrderUpsert) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO orders (order_id, shop_id, phone, email, customer_name, total_price,
		                    currency, financial_status, fulfillment_status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)
		ON CONFLICT (order_id)
		DO UPDATE SET phone=EXCLUDED.phone, email=EXCLUDED.email,
		              customer_name=EXCLUDED.customer_name, total_price=EXCLUDED.total_price,
		              currency=EXCLUDED.currency, financial_status=EXCLUDED.financial_status,
		              fulfillment_status=EXCLUDED.fulfillment_status, updated_at=EXCLUDED.updated_at
	`, in.OrderID, in.ShopID, nullIfEmpty(in.Phone), nullIfEmpty(in.Email),
		nullIfEmpty(in.CustomerName), in.TotalPrice, in.Currency,
		nullIfEmpty(in.FinancialStatus), nullIfEmpty(in.FulfillmentStatus), in.Now)
	return err
}

// ClaimOrderFlag flips one of the monotonic *_sent booleans false→true and
// reports whether this call won the flip. Duplicate webhook deliveries lose
// the claim and must not send.
func (s *Store) ClaimOrderFlag(ctx context.Context, orderID string, flag store.OrderFlag, now time.Time) (bool, error) {
	var q string
	switch flag {
	case store.FlagConfirmationSent:
		q = `UPDATE orders SET confirmation_sent=true, updated_at=$2 WHERE order_id=$1 AND confirmation_sent=false`
	case store.FlagShippingSent:
		q = `UPDATE orders SET shipping_sent=true, updated_at=$2 WHERE order_id=$1 AND shipping_sent=false`
	case store.FlagDeliveredSent:
		q = `UPDATE orders SET delivered_sent=true, updated_at=$2 WHERE order_id=$1 AND delivered_sent=false`
	case store.FlagReviewRequested:
		q = `UPDATE orders SET review_requested=true, updated_at=$2 WHERE order_id=$1 AND review_requested=false`
	default:
		return false, errors.New("unknown order flag: " + string(flag))
	}
	ct, err := s.DB.Exec(ctx, q, orderID, now)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

// OrdersDueForReview returns delivered orders with a known phone that have
// not been asked for a review and were last touched before the cutoff.
func (s *Store) OrdersDueForReview(ctx context.Context, shopID int64, olderThan time.Duration, now time.Time) ([]store.Order, error) {
	cutoff := now.Add(-olderThan)
	rows, err := s.DB.Query(ctx, `
		SELECT `+orderCols+`
		FROM orders
		WHERE shop_id=$1 AND delivered_sent=true AND review_requested=false
		  AND phone IS NOT NULL AND updated_at <= $2
		ORDER BY updated_at
	`, shopID, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanOrder(row pgx.Row) (store.Order, error) {
	var o store.Order
	err := row.Scan(&o.OrderID, &o.ShopID, &o.Phone, &o.Email, &o.CustomerName,
		&o.TotalPrice, &o.Currency, &o.FinancialStatus, &o.FulfillmentStatus,
		&o.ConfirmationSent, &o.ShippingSent, &o.DeliveredSent, &o.ReviewRequested,
		&o.CreatedAt, &o.UpdatedAt)
	return o, err
}
