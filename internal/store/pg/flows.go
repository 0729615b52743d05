package pg

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"shopnotify/internal/store"
)

const flowCols = `
	id, shop_id, flow_type, language, delay_minutes, message, COALESCE(footer,''),
	COALESCE(discount_code,''), COALESCE(image_url,''), is_active
`

// FindFlow returns the active merchant override for (shop, category, language).
func (s *Store) FindFlow(ctx context.Context, shopID int64, flowType, language string) (store.Flow, bool, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT `+flowCols+`
		FROM flows
		WHERE shop_id=$1 AND flow_type=$2 AND language=$3 AND is_active=true
		ORDER BY id LIMIT 1
	`, shopID, flowType, language)
	return scanFlowRow(row)
}

// FindFlowAnyLanguage is the last-resort lookup: any active flow of the
// category, whatever language it was authored in.
func (s *Store) FindFlowAnyLanguage(ctx context.Context, shopID int64, flowType string) (store.Flow, bool, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT `+flowCols+`
		FROM flows
		WHERE shop_id=$1 AND flow_type=$2 AND is_active=true
		ORDER BY id LIMIT 1
	`, shopID, flowType)
	return scanFlowRow(row)
}

func scanFlowRow(row pgx.Row) (store.Flow, bool, error) {
	var f store.Flow
	err := row.Scan(&f.ID, &f.ShopID, &f.FlowType, &f.Language, &f.DelayMinutes,
		&f.Message, &f.Footer, &f.DiscountCode, &f.ImageURL, &f.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Flow{}, false, nil
		}
		return store.Flow{}, false, err
	}
	return f, true, nil
}

// DueCampaigns returns scheduled campaigns whose time has passed and that
// have not been executed yet.
func (s *Store) DueCampaigns(ctx context.Context, now time.Time) ([]store.Campaign, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, shop_id, name, message, scheduled_at, executed, executed_at
		FROM campaigns
		WHERE executed=false AND scheduled_at <= $1
		ORDER BY scheduled_at
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Campaign
	for rows.Next() {
		var c store.Campaign
		if err := rows.Scan(&c.ID, &c.ShopID, &c.Name, &c.Message, &c.ScheduledAt,
			&c.Executed, &c.ExecutedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) MarkCampaignExecuted(ctx context.Context, campaignID int64, now time.Time) (bool, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE campaigns SET executed=true, executed_at=$2 WHERE id=$1 AND executed=false
	`, campaignID, now)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}
