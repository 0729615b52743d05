package pg

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"shopnotify/internal/store"
)

const customerCols = `
	id, shop_id, phone, COALESCE(email,''), COALESCE(first_name,''), COALESCE(last_name,''),
	opted_in, opted_out_at, total_spent, orders_count, last_interaction_at, is_vip, created_at
`

func (s *Store) GetCustomer(ctx context.Context, shopID int64, phone string) (store.Customer, bool, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT `+customerCols+` FROM customers WHERE shop_id=$1 AND phone=$2
	`, shopID, phone)
	c, err := scanCustomer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Customer{}, false, nil
		}
		return store.Customer{}, false, err
	}
	return c, true, nil
}

// FindCustomerByPhone resolves an inbound sender to a customer when the shop
// is not known from the request. The provider number is shared, so a phone
// can exist under several shops; the most recently touched row wins.
func (s *Store) FindCustomerByPhone(ctx context.Context, phone string) (store.Customer, bool, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT `+customerCols+` FROM customers
		WHERE phone=$1
		ORDER BY last_interaction_at DESC NULLS LAST, created_at DESC
		LIMIT 1
	`, phone)
	c, err := scanCustomer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Customer{}, false, nil
		}
		return store.Customer{}, false, err
	}
	return c, true, nil
}

// EnsureCustomer lazily creates the (shop, phone) row on first contact and
// fills in name/email fields that were previously empty. The opted_in flag
// is never touched here; the STOP/START commands are its only writers.
func (s *Store) EnsureCustomer(ctx context.Context, in store.CustomerUpsert) (store.Customer, error) {
	row := s.DB.QueryRow(ctx, `
		INSERT INTO customers (shop_id, phone, email, first_name, last_name, opted_in, created_at)
		VALUES ($1,$2,$3,$4,$5,true,$6)
		ON CONFLICT (shop_id, phone)
		DO UPDATE SET email      = COALESCE(NULLIF(customers.email,''), EXCLUDED.email),
		              first_name = COALESCE(NULLIF(customers.first_name,''), EXCLUDED.first_name),
		              last_name  = COALESCE(NULLIF(customers.last_name,''), EXCLUDED.last_name)
		RETURNING `+customerCols+`
	`, in.ShopID, in.Phone, nullIfEmpty(in.Email), nullIfEmpty(in.FirstName), nullIfEmpty(in.LastName), in.Now)
	return scanCustomer(row)
}

func (s *Store) SetCustomerOptedOut(ctx context.Context, shopID int64, phone string, now time.Time) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE customers SET opted_in=false, opted_out_at=$3 WHERE shop_id=$1 AND phone=$2
	`, shopID, phone, now)
	return err
}

func (s *Store) SetCustomerOptedIn(ctx context.Context, shopID int64, phone string) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE customers SET opted_in=true, opted_out_at=NULL WHERE shop_id=$1 AND phone=$2
	`, shopID, phone)
	return err
}

func (s *Store) TouchCustomerInteraction(ctx context.Context, shopID int64, phone string, now time.Time) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE customers SET last_interaction_at=$3 WHERE shop_id=$1 AND phone=$2
	`, shopID, phone, now)
	return err
}

func (s *Store) AddCustomerSpend(ctx context.Context, shopID int64, phone string, amount float64) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE customers
		SET total_spent = total_spent + $3, orders_count = orders_count + 1
		WHERE shop_id=$1 AND phone=$2
	`, shopID, phone, amount)
	return err
}

// ListOptedInCustomers returns the campaign audience for a shop.
func (s *Store) ListOptedInCustomers(ctx context.Context, shopID int64) ([]store.Customer, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT `+customerCols+` FROM customers
		WHERE shop_id=$1 AND opted_in=true
		ORDER BY id
	`, shopID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCustomer(row pgx.Row) (store.Customer, error) {
	var c store.Customer
	err := row.Scan(&c.ID, &c.ShopID, &c.Phone, &c.Email, &c.FirstName, &c.LastName,
		&c.OptedIn, &c.OptedOutAt, &c.TotalSpent, &c.OrdersCount, &c.LastInteractionAt,
		&c.IsVIP, &c.CreatedAt)
	return c, err
}
