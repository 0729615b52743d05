package scheduler

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"shopnotify/internal/domain"
	"shopnotify/internal/notify"
	"shopnotify/internal/observability"
	"shopnotify/internal/store"
)

// Store is the persistence surface the periodic tasks need.
type Store interface {
	ActiveShops(ctx context.Context) ([]store.Shop, error)
	CartsDueForReminder(ctx context.Context, shopID int64, reminderCount int, minAge time.Duration, now time.Time) ([]store.AbandonedCart, error)
	AdvanceCartReminder(ctx context.Context, checkoutID string, fromCount int, now time.Time) (bool, error)
	OrdersDueForReview(ctx context.Context, shopID int64, olderThan time.Duration, now time.Time) ([]store.Order, error)
	ClaimOrderFlag(ctx context.Context, orderID string, flag store.OrderFlag, now time.Time) (bool, error)
	DueCampaigns(ctx context.Context, now time.Time) ([]store.Campaign, error)
	MarkCampaignExecuted(ctx context.Context, campaignID int64, now time.Time) (bool, error)
}

// Dispatcher sends one notification. Implemented by *notify.Dispatcher.
type Dispatcher interface {
	Send(ctx context.Context, in notify.Input, now time.Time) (notify.Result, error)
}

// CampaignRunner executes a due marketing campaign. Campaign execution is an
// external collaborator; the scheduler only finds due campaigns and hands
// them over.
type CampaignRunner interface {
	Run(ctx context.Context, c store.Campaign) error
}

// The three fixed abandoned-cart reminder stages.
var reminderStages = []struct {
	fromCount int
	minAge    time.Duration
	notifType domain.NotificationType
}{
	{0, 1 * time.Hour, domain.TypeAbandonedCart1h},
	{1, 24 * time.Hour, domain.TypeAbandonedCart24h},
	{2, 48 * time.Hour, domain.TypeAbandonedCart48h},
}

const reviewRequestAge = 72 * time.Hour

type Scheduler struct {
	Store      Store
	Dispatcher Dispatcher
	Campaigns  CampaignRunner

	CartInterval     time.Duration
	ReviewInterval   time.Duration
	CampaignInterval time.Duration

	Now func() time.Time
}

// Run blocks until ctx is canceled, driving the three independent periodic
// tasks. Within one tick, shops and carts are processed sequentially; a slow
// provider call delays later shops in the same tick but not the other timers.
// No cross-instance coordination exists: run exactly one scheduler.
func (s *Scheduler) Run(ctx context.Context) {
	go s.loop(ctx, "cart_reminders", s.CartInterval, s.CartSweep)
	go s.loop(ctx, "review_requests", s.ReviewInterval, s.ReviewSweep)
	s.loop(ctx, "campaigns", s.CampaignInterval, s.CampaignSweep)
}

func (s *Scheduler) loop(ctx context.Context, task string, interval time.Duration, fn func(ctx context.Context) error) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			observability.SchedulerRuns.WithLabelValues(task).Inc()
			if err := fn(ctx); err != nil {
				observability.SchedulerErrors.WithLabelValues(task).Inc()
				slog.Error("scheduler task failed", "task", task, "err", err)
			}
		}
	}
}

// CartSweep runs one abandoned-cart tick: per active shop, per stage, find
// due carts and dispatch the stage's reminder. The stage counter advances
// only after a dispatch attempt that did not hit a provider error, so a
// transiently failed cart stays eligible for the next tick. Policy no-ops
// (opted out, category disabled) advance too; retrying those every 30
// minutes would never send anything.
func (s *Scheduler) CartSweep(ctx context.Context) error {
	now := s.now()
	shops, err := s.Store.ActiveShops(ctx)
	if err != nil {
		return err
	}

	for _, shop := range shops {
		for _, stage := range reminderStages {
			carts, err := s.Store.CartsDueForReminder(ctx, shop.ID, stage.fromCount, stage.minAge, now)
			if err != nil {
				observability.SchedulerErrors.WithLabelValues("cart_reminders").Inc()
				slog.Error("cart query failed", "err", err, "shop", shop.Domain, "stage", stage.fromCount)
				continue
			}
			for _, cart := range carts {
				res, err := s.Dispatcher.Send(ctx, cartInput(shop, cart, stage.notifType), now)
				if err != nil {
					observability.SchedulerErrors.WithLabelValues("cart_reminders").Inc()
					slog.Error("cart reminder dispatch failed", "err", err,
						"shop", shop.Domain, "checkout_id", cart.CheckoutID, "type", stage.notifType)
					continue
				}
				if res.Skipped != "" {
					slog.Debug("cart reminder skipped", "shop", shop.Domain,
						"checkout_id", cart.CheckoutID, "reason", res.Skipped)
				}
				if _, err := s.Store.AdvanceCartReminder(ctx, cart.CheckoutID, cart.ReminderCount, now); err != nil {
					slog.Error("advance cart reminder failed", "err", err, "checkout_id", cart.CheckoutID)
				}
			}
		}
	}
	return nil
}

// ReviewSweep asks for reviews on delivered orders older than three days.
// The review_requested flag is claimed before dispatch so a crash between
// claim and send loses at most one request rather than double-sending.
func (s *Scheduler) ReviewSweep(ctx context.Context) error {
	now := s.now()
	shops, err := s.Store.ActiveShops(ctx)
	if err != nil {
		return err
	}

	for _, shop := range shops {
		orders, err := s.Store.OrdersDueForReview(ctx, shop.ID, reviewRequestAge, now)
		if err != nil {
			observability.SchedulerErrors.WithLabelValues("review_requests").Inc()
			slog.Error("review query failed", "err", err, "shop", shop.Domain)
			continue
		}
		for _, o := range orders {
			claimed, err := s.Store.ClaimOrderFlag(ctx, o.OrderID, store.FlagReviewRequested, now)
			if err != nil || !claimed {
				if err != nil {
					slog.Error("claim review flag failed", "err", err, "order_id", o.OrderID)
				}
				continue
			}
			if _, err := s.Dispatcher.Send(ctx, orderInput(shop, o, domain.TypeReviewRequest), now); err != nil {
				observability.SchedulerErrors.WithLabelValues("review_requests").Inc()
				slog.Error("review request dispatch failed", "err", err, "order_id", o.OrderID)
			}
		}
	}
	return nil
}

// CampaignSweep hands due campaigns to the runner and marks them executed.
func (s *Scheduler) CampaignSweep(ctx context.Context) error {
	now := s.now()
	due, err := s.Store.DueCampaigns(ctx, now)
	if err != nil {
		return err
	}
	for _, c := range due {
		if s.Campaigns != nil {
			if err := s.Campaigns.Run(ctx, c); err != nil {
				observability.SchedulerErrors.WithLabelValues("campaigns").Inc()
				slog.Error("campaign run failed", "err", err, "campaign_id", c.ID)
				continue
			}
		}
		if _, err := s.Store.MarkCampaignExecuted(ctx, c.ID, now); err != nil {
			slog.Error("mark campaign executed failed", "err", err, "campaign_id", c.ID)
		}
	}
	return nil
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func cartInput(shop store.Shop, cart store.AbandonedCart, t domain.NotificationType) notify.Input {
	var items []domain.LineItem
	if len(cart.LineItemsJSON) > 0 {
		_ = json.Unmarshal(cart.LineItemsJSON, &items)
	}
	return notify.Input{
		ShopDomain: shop.Domain,
		Phone:      cart.Phone,
		Type:       t,
		Data: domain.CartData(domain.CartInfo{
			CustomerName: cart.CustomerName,
			Total:        cart.TotalPrice,
			Currency:     cart.Currency,
			CheckoutURL:  cart.CheckoutURL,
			Items:        items,
			ShopName:     shop.Domain,
		}),
		Ref:   domain.Ref{CheckoutID: cart.CheckoutID},
		Email: cart.Email,
	}
}

func orderInput(shop store.Shop, o store.Order, t domain.NotificationType) notify.Input {
	return notify.Input{
		ShopDomain: shop.Domain,
		Phone:      o.Phone,
		Type:       t,
		Data: domain.OrderData(domain.OrderInfo{
			OrderNumber:  o.OrderID,
			CustomerName: o.CustomerName,
			Total:        o.TotalPrice,
			Currency:     o.Currency,
			ShopName:     shop.Domain,
		}),
		Ref:   domain.Ref{OrderID: o.OrderID},
		Email: o.Email,
	}
}
