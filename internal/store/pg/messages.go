package pg

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"shopnotify/internal/store"
)

func (s *Store) InsertMessage(ctx context.Context, in store.MessageInsert) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO messages (id, shop_id, phone, type, body, provider_msg_id, status,
		                      direction, cost, order_id, checkout_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, in.ID, in.ShopID, in.Phone, in.Type, in.Body, nullIfEmpty(in.ProviderMsgID),
		in.Status, in.Direction, in.Cost, nullIfEmpty(in.OrderID), nullIfEmpty(in.CheckoutID), in.Now)
	return err
}

// UpdateMessageByProviderMsgID applies a delivery-status callback. Rows are
// keyed by the provider's message id; false means no matching message yet.
func (s *Store) UpdateMessageByProviderMsgID(ctx context.Context, in store.ProviderMsgUpdate) (bool, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE messages
		SET status=$2, error_code=$3,
		    delivered_at = COALESCE($4, delivered_at),
		    read_at      = COALESCE($5, read_at)
		WHERE provider_msg_id=$1
	`, in.ProviderMsgID, in.Status, nullIfEmpty(in.ErrorCode), in.DeliveredAt, in.ReadAt)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (s *Store) GetMessage(ctx context.Context, msgID string) (store.Message, bool, error) {
	var m store.Message
	row := s.DB.QueryRow(ctx, `
		SELECT id, shop_id, phone, type, body, COALESCE(provider_msg_id,''), status,
		       direction, cost, COALESCE(order_id,''), COALESCE(checkout_id,''),
		       created_at, delivered_at, read_at
		FROM messages WHERE id=$1
	`, msgID)
	err := row.Scan(&m.ID, &m.ShopID, &m.Phone, &m.Type, &m.Body, &m.ProviderMsgID,
		&m.Status, &m.Direction, &m.Cost, &m.OrderID, &m.CheckoutID,
		&m.CreatedAt, &m.DeliveredAt, &m.ReadAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Message{}, false, nil
		}
		return store.Message{}, false, err
	}
	return m, true, nil
}

// CountMessages exists for the idempotency checks in tests and the admin
// surface: how many outbound messages of a type reference an order.
func (s *Store) CountMessages(ctx context.Context, shopID int64, orderID, msgType string) (int, error) {
	var n int
	err := s.DB.QueryRow(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE shop_id=$1 AND order_id=$2 AND type=$3 AND direction='outbound'
	`, shopID, orderID, msgType).Scan(&n)
	return n, err
}
