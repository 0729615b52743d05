package pg

import (
	"context"
	"time"

	"shopnotify/internal/store"
)

const cartCols = `
	checkout_id, shop_id, COALESCE(phone,''), COALESCE(email,''), COALESCE(customer_name,''),
	total_price, currency, items_count, line_items, COALESCE(checkout_url,''),
	reminder_count, last_reminder_at, recovered, recovered_at, recovery_value, created_at
`

func (s *Store) UpsertAbandonedCart(ctx context.Context, in store.CartUpsert) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO abandoned_carts (checkout_id, shop_id, phone, email, customer_name,
		                             total_price, currency, items_count, line_items,
		                             checkout_url, reminder_count, recovered, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,0,false,$11)
		ON CONFLICT (checkout_id)
		DO UPDATE SET phone=EXCLUDED.phone, email=EXCLUDED.email,
		              customer_name=EXCLUDED.customer_name, total_price=EXCLUDED.total_price,
		              currency=EXCLUDED.currency, items_count=EXCLUDED.items_count,
		              line_items=EXCLUDED.line_items, checkout_url=EXCLUDED.checkout_url
	`, in.CheckoutID, in.ShopID, nullIfEmpty(in.Phone), nullIfEmpty(in.Email),
		nullIfEmpty(in.CustomerName), in.TotalPrice, in.Currency, in.ItemsCount,
		in.LineItemsJSON, nullIfEmpty(in.CheckoutURL), in.Now)
	return err
}

// CartsDueForReminder returns unrecovered carts with a known phone sitting at
// the given reminder stage for at least minAge. Recovered carts never come
// back from here regardless of age or count.
func (s *Store) CartsDueForReminder(ctx context.Context, shopID int64, reminderCount int, minAge time.Duration, now time.Time) ([]store.AbandonedCart, error) {
	cutoff := now.Add(-minAge)
	rows, err := s.DB.Query(ctx, `
		SELECT `+cartCols+`
		FROM abandoned_carts
		WHERE shop_id=$1 AND recovered=false AND reminder_count=$2
		  AND phone IS NOT NULL AND created_at <= $3
		ORDER BY created_at
	`, shopID, reminderCount, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.AbandonedCart
	for rows.Next() {
		var c store.AbandonedCart
		if err := rows.Scan(&c.CheckoutID, &c.ShopID, &c.Phone, &c.Email, &c.CustomerName,
			&c.TotalPrice, &c.Currency, &c.ItemsCount, &c.LineItemsJSON, &c.CheckoutURL,
			&c.ReminderCount, &c.LastReminderAt, &c.Recovered, &c.RecoveredAt,
			&c.RecoveryValue, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// AdvanceCartReminder increments the stage counter by exactly one. The WHERE
// clause pins the expected current count so a concurrent tick can't double
// advance.
func (s *Store) AdvanceCartReminder(ctx context.Context, checkoutID string, fromCount int, now time.Time) (bool, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE abandoned_carts
		SET reminder_count = reminder_count + 1, last_reminder_at=$3
		WHERE checkout_id=$1 AND reminder_count=$2 AND recovered=false
	`, checkoutID, fromCount, now)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

// MarkCartRecovered flips the absorbing recovered flag. Returns false if the
// cart is unknown or already recovered.
func (s *Store) MarkCartRecovered(ctx context.Context, checkoutID string, recoveryValue float64, now time.Time) (bool, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE abandoned_carts
		SET recovered=true, recovered_at=$3, recovery_value=$2
		WHERE checkout_id=$1 AND recovered=false
	`, checkoutID, recoveryValue, now)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}
