package notify

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"shopnotify/internal/domain"
	"shopnotify/internal/store"
)

// BroadcastStore is the persistence surface for campaign fan-out.
type BroadcastStore interface {
	GetShopByID(ctx context.Context, shopID int64) (store.Shop, bool, error)
	ListOptedInCustomers(ctx context.Context, shopID int64) ([]store.Customer, error)
}

// Broadcaster fans a campaign message out to every opted-in customer of the
// shop. Each recipient goes through the normal dispatch pipeline, so the
// message limit and opt-in gate apply per customer; one failed recipient
// does not abort the rest.
type Broadcaster struct {
	Store      BroadcastStore
	Dispatcher interface {
		Send(ctx context.Context, in Input, now time.Time) (Result, error)
	}

	Now func() time.Time
}

func (b *Broadcaster) Run(ctx context.Context, c store.Campaign) error {
	shop, found, err := b.Store.GetShopByID(ctx, c.ShopID)
	if err != nil {
		return err
	}
	if !found || !shop.IsActive {
		slog.Warn("campaign for missing or inactive shop", "campaign_id", c.ID, "shop_id", c.ShopID)
		return nil
	}

	customers, err := b.Store.ListOptedInCustomers(ctx, c.ShopID)
	if err != nil {
		return err
	}

	now := b.now()
	var sent, skipped, failed int
	for _, cust := range customers {
		res, err := b.Dispatcher.Send(ctx, Input{
			ShopDomain: shop.Domain,
			Phone:      cust.Phone,
			Type:       domain.TypeCampaign,
			Body:       c.Message,
			Data: domain.CustomerData(domain.CustomerInfo{
				Name:     strings.TrimSpace(cust.FirstName + " " + cust.LastName),
				ShopName: shop.Domain,
			}),
			Email:     cust.Email,
			FirstName: cust.FirstName,
			LastName:  cust.LastName,
		}, now)
		switch {
		case err != nil:
			failed++
			slog.Error("campaign send failed", "err", err, "campaign_id", c.ID, "phone", cust.Phone)
		case res.Skipped != "":
			skipped++
		default:
			sent++
		}
	}

	slog.Info("campaign executed", "campaign_id", c.ID, "name", c.Name,
		"shop", shop.Domain, "sent", sent, "skipped", skipped, "failed", failed)
	return nil
}

func (b *Broadcaster) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now().UTC()
}
