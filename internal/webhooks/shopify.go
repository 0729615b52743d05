package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"shopnotify/internal/domain"
	"shopnotify/internal/notify"
	"shopnotify/internal/observability"
	"shopnotify/internal/store"
	"shopnotify/internal/util"
)

// ShopifyStore is the persistence surface the commerce webhook needs.
type ShopifyStore interface {
	GetShopByDomain(ctx context.Context, domain string) (store.Shop, bool, error)
	GetOrder(ctx context.Context, orderID string) (store.Order, bool, error)
	UpsertOrder(ctx context.Context, in store.OrderUpsert) error
	ClaimOrderFlag(ctx context.Context, orderID string, flag store.OrderFlag, now time.Time) (bool, error)
	UpsertAbandonedCart(ctx context.Context, in store.CartUpsert) error
	MarkCartRecovered(ctx context.Context, checkoutID string, recoveryValue float64, now time.Time) (bool, error)
	AddShopRevenue(ctx context.Context, shopID int64, amount float64, now time.Time) error
	AddCustomerSpend(ctx context.Context, shopID int64, phone string, amount float64) error
	EnsureCustomer(ctx context.Context, in store.CustomerUpsert) (store.Customer, error)
	PurgeShop(ctx context.Context, domain string, now time.Time) error
}

// Dispatcher sends one notification. Implemented by *notify.Dispatcher.
type Dispatcher interface {
	Send(ctx context.Context, in notify.Input, now time.Time) (notify.Result, error)
}

// Shopify receives commerce webhooks. One endpoint, one topic→action table:
// every event enters through the same mapping so the per-event behavior
// (database mutation, notification trigger, idempotency gate) lives in
// exactly one place.
type Shopify struct {
	Store      ShopifyStore
	Dispatcher Dispatcher
	Secret     string
	Now        func() time.Time
}

func (h *Shopify) Register(r *mux.Router) {
	r.HandleFunc("/v1/webhooks/shopify", h.handle).Methods(http.MethodPost)
}

type topicHandler func(ctx context.Context, shopDomain string, body []byte, now time.Time) error

func (h *Shopify) topics() map[string]topicHandler {
	return map[string]topicHandler{
		"orders/create":    h.orderCreated,
		"orders/updated":   h.orderUpdated,
		"orders/paid":      h.orderUpdated,
		"orders/fulfilled": h.orderUpdated,
		"checkouts/create": h.checkoutCreated,
		"checkouts/update": h.checkoutUpdated,
		"customers/create": h.customerCreated,
		"app/uninstalled":  h.appUninstalled,
	}
}

// handle verifies the HMAC, then runs the topic action. Processing failures
// after verification still answer 200 so the platform does not redeliver an
// event we have already acted on; the failure is logged instead.
func (h *Shopify) handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}
	if !verifyShopifyHMAC(h.Secret, r.Header.Get("X-Shopify-Hmac-Sha256"), body) {
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	topic := r.Header.Get("X-Shopify-Topic")
	shopDomain := r.Header.Get("X-Shopify-Shop-Domain")

	fn, ok := h.topics()[topic]
	if !ok {
		observability.WebhookEvents.WithLabelValues(topic, "ignored").Inc()
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := fn(r.Context(), shopDomain, body, h.now()); err != nil {
		observability.WebhookEvents.WithLabelValues(topic, "error").Inc()
		slog.Error("shopify webhook processing failed", "err", err, "topic", topic, "shop", shopDomain)
	} else {
		observability.WebhookEvents.WithLabelValues(topic, "ok").Inc()
	}
	w.WriteHeader(http.StatusOK)
}

// verifyShopifyHMAC checks the base64 HMAC-SHA256 of the raw body.
func verifyShopifyHMAC(secret, provided string, body []byte) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(provided))
}

// flexID tolerates the platform sending ids as either numbers or strings.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	*f = flexID(strings.Trim(string(b), `"`))
	return nil
}

type orderPayload struct {
	ID       flexID `json:"id"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Email    string `json:"email"`
	Customer struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Phone     string `json:"phone"`
	} `json:"customer"`
	TotalPrice        string `json:"total_price"`
	Currency          string `json:"currency"`
	FinancialStatus   string `json:"financial_status"`
	FulfillmentStatus string `json:"fulfillment_status"`
	LineItems         []struct {
		Title    string `json:"title"`
		Quantity int    `json:"quantity"`
		Price    string `json:"price"`
	} `json:"line_items"`
	ShippingAddress *struct {
		Name     string `json:"name"`
		Address1 string `json:"address1"`
		City     string `json:"city"`
		Country  string `json:"country"`
	} `json:"shipping_address"`
	Fulfillments []struct {
		TrackingNumber string `json:"tracking_number"`
		TrackingURL    string `json:"tracking_url"`
	} `json:"fulfillments"`
}

func (p *orderPayload) phone() string {
	phone := util.NormalizePhone(p.Phone)
	if phone == "" {
		phone = util.NormalizePhone(p.Customer.Phone)
	}
	// Malformed phone disables the notification side effect only; the
	// order row is still persisted without it.
	if !util.ValidPhone(phone) {
		return ""
	}
	return phone
}

func (p *orderPayload) customerName() string {
	return strings.TrimSpace(p.Customer.FirstName + " " + p.Customer.LastName)
}

func (p *orderPayload) upsert(shopID int64, now time.Time) store.OrderUpsert {
	return store.OrderUpsert{
		OrderID:           string(p.ID),
		ShopID:            shopID,
		Phone:             p.phone(),
		Email:             p.Email,
		CustomerName:      p.customerName(),
		TotalPrice:        p.TotalPrice,
		Currency:          p.Currency,
		FinancialStatus:   p.FinancialStatus,
		FulfillmentStatus: p.FulfillmentStatus,
		Now:               now,
	}
}

func (h *Shopify) orderCreated(ctx context.Context, shopDomain string, body []byte, now time.Time) error {
	var p orderPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return err
	}
	shop, found, err := h.Store.GetShopByDomain(ctx, shopDomain)
	if err != nil || !found {
		return err
	}

	_, existed, err := h.Store.GetOrder(ctx, string(p.ID))
	if err != nil {
		return err
	}
	if err := h.Store.UpsertOrder(ctx, p.upsert(shop.ID, now)); err != nil {
		return err
	}

	// A redelivered create webhook finds the row already present and sends
	// nothing. An order without a reachable phone is persisted without
	// claiming any flag, so a later replay carrying the phone can still
	// notify.
	if existed || p.phone() == "" {
		return nil
	}
	// Paid-at-creation orders take the payment path instead.
	if p.FinancialStatus == "paid" {
		return h.firePaid(ctx, shop, &p, now)
	}
	return h.fire(ctx, shop, &p, domain.TypeOrderPlaced, store.FlagConfirmationSent, now)
}

// orderUpdated covers orders/updated, orders/paid and orders/fulfilled: all
// three upsert the row and derive notifications from status transitions,
// gated by the monotonic *_sent flags.
func (h *Shopify) orderUpdated(ctx context.Context, shopDomain string, body []byte, now time.Time) error {
	var p orderPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return err
	}
	shop, found, err := h.Store.GetShopByDomain(ctx, shopDomain)
	if err != nil || !found {
		return err
	}

	prev, existed, err := h.Store.GetOrder(ctx, string(p.ID))
	if err != nil {
		return err
	}
	if err := h.Store.UpsertOrder(ctx, p.upsert(shop.ID, now)); err != nil {
		return err
	}
	if p.phone() == "" {
		return nil
	}

	// A stored row without a phone never notified anyone, so a redelivery
	// that fills the phone in re-runs the status checks; the monotonic
	// flags keep that replay-safe.
	fresh := !existed || prev.Phone == ""

	if p.FinancialStatus == "paid" && (fresh || prev.FinancialStatus != "paid") {
		if err := h.firePaid(ctx, shop, &p, now); err != nil {
			return err
		}
	}
	if p.FulfillmentStatus == "fulfilled" && (fresh || prev.FulfillmentStatus != "fulfilled") {
		if err := h.fire(ctx, shop, &p, domain.TypeOrderFulfilled, store.FlagShippingSent, now); err != nil {
			return err
		}
	}
	if p.FulfillmentStatus == "delivered" && (fresh || prev.FulfillmentStatus != "delivered") {
		if err := h.fire(ctx, shop, &p, domain.TypeOrderDelivered, store.FlagDeliveredSent, now); err != nil {
			return err
		}
	}
	return nil
}

func (h *Shopify) firePaid(ctx context.Context, shop store.Shop, p *orderPayload, now time.Time) error {
	if err := h.fire(ctx, shop, p, domain.TypeOrderPaid, store.FlagConfirmationSent, now); err != nil {
		return err
	}
	if total, err := strconv.ParseFloat(p.TotalPrice, 64); err == nil && total > 0 {
		if err := h.Store.AddCustomerSpend(ctx, shop.ID, p.phone(), total); err != nil {
			slog.Error("add customer spend failed", "err", err, "order_id", string(p.ID))
		}
	}
	return nil
}

// fire claims the stage flag and dispatches on a win. A provider failure
// after the claim is logged, not retried: the flag is monotonic and the
// upstream webhook must not be redelivered for a notification problem.
func (h *Shopify) fire(ctx context.Context, shop store.Shop, p *orderPayload, t domain.NotificationType, flag store.OrderFlag, now time.Time) error {
	claimed, err := h.Store.ClaimOrderFlag(ctx, string(p.ID), flag, now)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	var items []domain.LineItem
	for _, li := range p.LineItems {
		items = append(items, domain.LineItem{Name: li.Title, Quantity: li.Quantity, Price: li.Price})
	}
	var addr *domain.Address
	if p.ShippingAddress != nil {
		addr = &domain.Address{
			Name:     p.ShippingAddress.Name,
			Address1: p.ShippingAddress.Address1,
			City:     p.ShippingAddress.City,
			Country:  p.ShippingAddress.Country,
		}
	}
	var trackingNumber, trackingURL string
	if len(p.Fulfillments) > 0 {
		trackingNumber = p.Fulfillments[0].TrackingNumber
		trackingURL = p.Fulfillments[0].TrackingURL
	}

	orderNumber := p.Name
	if orderNumber == "" {
		orderNumber = string(p.ID)
	}

	_, err = h.Dispatcher.Send(ctx, notify.Input{
		ShopDomain: shop.Domain,
		Phone:      p.phone(),
		Type:       t,
		Data: domain.OrderData(domain.OrderInfo{
			OrderNumber:     orderNumber,
			CustomerName:    p.customerName(),
			Total:           p.TotalPrice,
			Currency:        p.Currency,
			TrackingNumber:  trackingNumber,
			TrackingURL:     trackingURL,
			Items:           items,
			ShippingAddress: addr,
			ShopName:        shop.Domain,
		}),
		Ref:       domain.Ref{OrderID: string(p.ID)},
		Email:     p.Email,
		FirstName: p.Customer.FirstName,
		LastName:  p.Customer.LastName,
	}, now)
	if err != nil {
		slog.Error("order notification dispatch failed", "err", err, "order_id", string(p.ID), "type", t)
	}
	return nil
}

type checkoutPayload struct {
	ID          flexID `json:"id"`
	Token       string `json:"token"`
	Phone       string `json:"phone"`
	Email       string `json:"email"`
	CompletedAt string `json:"completed_at"`
	TotalPrice  string `json:"total_price"`
	Currency    string `json:"currency"`
	CheckoutURL string `json:"abandoned_checkout_url"`
	Customer    struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Phone     string `json:"phone"`
	} `json:"customer"`
	LineItems []struct {
		Title    string `json:"title"`
		Quantity int    `json:"quantity"`
		Price    string `json:"price"`
	} `json:"line_items"`
}

func (p *checkoutPayload) phone() string {
	phone := util.NormalizePhone(p.Phone)
	if phone == "" {
		phone = util.NormalizePhone(p.Customer.Phone)
	}
	if !util.ValidPhone(phone) {
		return ""
	}
	return phone
}

func (h *Shopify) checkoutCreated(ctx context.Context, shopDomain string, body []byte, now time.Time) error {
	var p checkoutPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return err
	}
	// Carts without a reachable phone can never be reminded; skip them.
	if p.phone() == "" {
		return nil
	}
	shop, found, err := h.Store.GetShopByDomain(ctx, shopDomain)
	if err != nil || !found {
		return err
	}

	items := make([]domain.LineItem, 0, len(p.LineItems))
	for _, li := range p.LineItems {
		items = append(items, domain.LineItem{Name: li.Title, Quantity: li.Quantity, Price: li.Price})
	}
	lineItems, _ := json.Marshal(items)

	return h.Store.UpsertAbandonedCart(ctx, store.CartUpsert{
		CheckoutID:    string(p.ID),
		ShopID:        shop.ID,
		Phone:         p.phone(),
		Email:         p.Email,
		CustomerName:  strings.TrimSpace(p.Customer.FirstName + " " + p.Customer.LastName),
		TotalPrice:    p.TotalPrice,
		Currency:      p.Currency,
		ItemsCount:    len(p.LineItems),
		LineItemsJSON: lineItems,
		CheckoutURL:   p.CheckoutURL,
		Now:           now,
	})
}

// checkoutUpdated marks the cart recovered when the checkout completed.
// No notification fires here: the order webhooks already cover the
// confirmation, and double-messaging the customer is worse than silence.
func (h *Shopify) checkoutUpdated(ctx context.Context, shopDomain string, body []byte, now time.Time) error {
	var p checkoutPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return err
	}
	if p.CompletedAt == "" {
		// Still open; refresh the cart contents.
		return h.checkoutCreated(ctx, shopDomain, body, now)
	}

	shop, found, err := h.Store.GetShopByDomain(ctx, shopDomain)
	if err != nil || !found {
		return err
	}

	recoveryValue, _ := strconv.ParseFloat(p.TotalPrice, 64)
	recovered, err := h.Store.MarkCartRecovered(ctx, string(p.ID), recoveryValue, now)
	if err != nil {
		return err
	}
	if recovered && recoveryValue > 0 {
		if err := h.Store.AddShopRevenue(ctx, shop.ID, recoveryValue, now); err != nil {
			slog.Error("add shop revenue failed", "err", err, "checkout_id", string(p.ID))
		}
	}
	return nil
}

type customerPayload struct {
	ID        flexID `json:"id"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (h *Shopify) customerCreated(ctx context.Context, shopDomain string, body []byte, now time.Time) error {
	var p customerPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return err
	}
	shop, found, err := h.Store.GetShopByDomain(ctx, shopDomain)
	if err != nil || !found {
		return err
	}

	phone := util.NormalizePhone(p.Phone)
	if !util.ValidPhone(phone) {
		return nil
	}
	if _, err := h.Store.EnsureCustomer(ctx, store.CustomerUpsert{
		ShopID:    shop.ID,
		Phone:     phone,
		Email:     p.Email,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Now:       now,
	}); err != nil {
		return err
	}

	_, err = h.Dispatcher.Send(ctx, notify.Input{
		ShopDomain: shop.Domain,
		Phone:      phone,
		Type:       domain.TypeWelcome,
		Data: domain.CustomerData(domain.CustomerInfo{
			Name:     strings.TrimSpace(p.FirstName + " " + p.LastName),
			ShopName: shop.Domain,
		}),
		Email:     p.Email,
		FirstName: p.FirstName,
		LastName:  p.LastName,
	}, now)
	if err != nil {
		slog.Error("welcome dispatch failed", "err", err, "shop", shopDomain, "phone", phone)
	}
	return nil
}

func (h *Shopify) appUninstalled(ctx context.Context, shopDomain string, _ []byte, now time.Time) error {
	return h.Store.PurgeShop(ctx, shopDomain, now)
}

func (h *Shopify) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now().UTC()
}
