package pg

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"shopnotify/internal/store"
)

func (s *Store) GetShopByDomain(ctx context.Context, domain string) (store.Shop, bool, error) {
	var sh store.Shop
	row := s.DB.QueryRow(ctx, `
		SELECT id, domain, COALESCE(access_token,''), is_active, COALESCE(plan,'free'),
		       messages_sent, message_limit, revenue_to_date,
		       notify_orders, notify_carts, notify_reviews, notify_welcome,
		       created_at, updated_at
		FROM shops WHERE domain=$1
	`, domain)
	err := row.Scan(&sh.ID, &sh.Domain, &sh.AccessToken, &sh.IsActive, &sh.Plan,
		&sh.MessagesSent, &sh.MessageLimit, &sh.RevenueToDate,
		&sh.NotifyOrders, &sh.NotifyCarts, &sh.NotifyReviews, &sh.NotifyWelcome,
		&sh.CreatedAt, &sh.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Shop{}, false, nil
		}
		return store.Shop{}, false, err
	}
	return sh, true, nil
}

func (s *Store) GetShopByID(ctx context.Context, shopID int64) (store.Shop, bool, error) {
	var sh store.Shop
	row := s.DB.QueryRow(ctx, `
		SELECT id, domain, COALESCE(access_token,''), is_active, COALESCE(plan,'free'),
		       messages_sent, message_limit, revenue_to_date,
		       notify_orders, notify_carts, notify_reviews, notify_welcome,
		       created_at, updated_at
		FROM shops WHERE id=$1
	`, shopID)
	err := row.Scan(&sh.ID, &sh.Domain, &sh.AccessToken, &sh.IsActive, &sh.Plan,
		&sh.MessagesSent, &sh.MessageLimit, &sh.RevenueToDate,
		&sh.NotifyOrders, &sh.NotifyCarts, &sh.NotifyReviews, &sh.NotifyWelcome,
		&sh.CreatedAt, &sh.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Shop{}, false, nil
		}
		return store.Shop{}, false, err
	}
	return sh, true, nil
}

func (s *Store) UpsertShop(ctx context.Context, in store.ShopUpsert) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO shops (domain, access_token, plan, is_active, created_at, updated_at)
		VALUES ($1,$2,$3,true,$4,$4)
		ON CONFLICT (domain)
		DO UPDATE SET access_token=EXCLUDED.access_token, plan=EXCLUDED.plan,
		              is_active=true, updated_at=EXCLUDED.updated_at
	`, in.Domain, nullIfEmpty(in.AccessToken), in.Plan, in.Now)
	return err
}

// ActiveShops returns all shops the scheduler should process.
func (s *Store) ActiveShops(ctx context.Context) ([]store.Shop, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, domain, COALESCE(access_token,''), is_active, COALESCE(plan,'free'),
		       messages_sent, message_limit, revenue_to_date,
		       notify_orders, notify_carts, notify_reviews, notify_welcome,
		       created_at, updated_at
		FROM shops WHERE is_active=true ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Shop
	for rows.Next() {
		var sh store.Shop
		if err := rows.Scan(&sh.ID, &sh.Domain, &sh.AccessToken, &sh.IsActive, &sh.Plan,
			&sh.MessagesSent, &sh.MessageLimit, &sh.RevenueToDate,
			&sh.NotifyOrders, &sh.NotifyCarts, &sh.NotifyReviews, &sh.NotifyWelcome,
			&sh.CreatedAt, &sh.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, sh)
	}
	return out, rows.Err()
}

func (s *Store) IncrementShopMessages(ctx context.Context, shopID int64, now time.Time) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE shops SET messages_sent = messages_sent + 1, updated_at=$2 WHERE id=$1
	`, shopID, now)
	return err
}

func (s *Store) AddShopRevenue(ctx context.Context, shopID int64, amount float64, now time.Time) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE shops SET revenue_to_date = revenue_to_date + $2, updated_at=$3 WHERE id=$1
	`, shopID, amount, now)
	return err
}

// PurgeShop removes everything belonging to a shop on uninstall. Each table
// is attempted even if a previous one errored; the first error is returned
// after all steps ran.
func (s *Store) PurgeShop(ctx context.Context, domain string, now time.Time) error {
	sh, found, err := s.GetShopByDomain(ctx, domain)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	var firstErr error
	for _, q := range []string{
		`DELETE FROM campaigns WHERE shop_id=$1`,
		`DELETE FROM flows WHERE shop_id=$1`,
		`DELETE FROM abandoned_carts WHERE shop_id=$1`,
		`DELETE FROM orders WHERE shop_id=$1`,
		`DELETE FROM messages WHERE shop_id=$1`,
		`DELETE FROM customers WHERE shop_id=$1`,
	} {
		if _, err := s.DB.Exec(ctx, q, sh.ID); err != nil {
			slog.Error("shop purge step failed", "err", err, "shop", domain, "query", q)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if _, err := s.DB.Exec(ctx, `
		UPDATE shops SET is_active=false, access_token=NULL, updated_at=$2 WHERE id=$1
	`, sh.ID, now); err != nil {
		slog.Error("shop deactivate failed", "err", err, "shop", domain)
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
