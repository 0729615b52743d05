package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"shopnotify/internal/domain"
	"shopnotify/internal/notify"
	"shopnotify/internal/store"
)

const testSecret = "whsec_test"

type fakeCommerceStore struct {
	shop      store.Shop
	shopFound bool

	orders map[string]store.Order
	carts  map[string]store.CartUpsert

	recovered  []string
	revenue    float64
	spend      float64
	customers  []store.CustomerUpsert
	purged     []string
	claimedSeq []string
}

func newFakeCommerceStore() *fakeCommerceStore {
	return &fakeCommerceStore{
		shop:      store.Shop{ID: 1, Domain: "demo.myshopify.com", IsActive: true},
		shopFound: true,
		orders:    map[string]store.Order{},
		carts:     map[string]store.CartUpsert{},
	}
}

func (f *fakeCommerceStore) GetShopByDomain(_ context.Context, _ string) (store.Shop, bool, error) {
	return f.shop, f.shopFound, nil
}

func (f *fakeCommerceStore) GetOrder(_ context.Context, orderID string) (store.Order, bool, error) {
	o, ok := f.orders[orderID]
	return o, ok, nil
}

func (f *fakeCommerceStore) UpsertOrder(_ context.Context, in store.OrderUpsert) error {
	o := f.orders[in.OrderID]
	o.OrderID = in.OrderID
	o.ShopID = in.ShopID
	o.Phone = in.Phone
	o.FinancialStatus = in.FinancialStatus
	o.FulfillmentStatus = in.FulfillmentStatus
	o.TotalPrice = in.TotalPrice
	o.Currency = in.Currency
	f.orders[in.OrderID] = o
	return nil
}

func (f *fakeCommerceStore) ClaimOrderFlag(_ context.Context, orderID string, flag store.OrderFlag, _ time.Time) (bool, error) {
	o := f.orders[orderID]
	var won bool
	switch flag {
	case store.FlagConfirmationSent:
		won = !o.ConfirmationSent
		o.ConfirmationSent = true
	case store.FlagShippingSent:
		won = !o.ShippingSent
		o.ShippingSent = true
	case store.FlagDeliveredSent:
		won = !o.DeliveredSent
		o.DeliveredSent = true
	case store.FlagReviewRequested:
		won = !o.ReviewRequested
		o.ReviewRequested = true
	}
	f.orders[orderID] = o
	if won {
		f.claimedSeq = append(f.claimedSeq, string(flag))
	}
	return won, nil
}

func (f *fakeCommerceStore) UpsertAbandonedCart(_ context.Context, in store.CartUpsert) error {
	f.carts[in.CheckoutID] = in
	return nil
}

func (f *fakeCommerceStore) MarkCartRecovered(_ context.Context, checkoutID string, _ float64, _ time.Time) (bool, error) {
	for _, id := range f.recovered {
		if id == checkoutID {
			return false, nil
		}
	}
	if _, ok := f.carts[checkoutID]; !ok {
		return false, nil
	}
	f.recovered = append(f.recovered, checkoutID)
	return true, nil
}

func (f *fakeCommerceStore) AddShopRevenue(_ context.Context, _ int64, amount float64, _ time.Time) error {
	f.revenue += amount
	return nil
}

func (f *fakeCommerceStore) AddCustomerSpend(_ context.Context, _ int64, _ string, amount float64) error {
	f.spend += amount
	return nil
}

func (f *fakeCommerceStore) EnsureCustomer(_ context.Context, in store.CustomerUpsert) (store.Customer, error) {
	f.customers = append(f.customers, in)
	return store.Customer{ShopID: in.ShopID, Phone: in.Phone, OptedIn: true}, nil
}

func (f *fakeCommerceStore) PurgeShop(_ context.Context, domain string, _ time.Time) error {
	f.purged = append(f.purged, domain)
	return nil
}

type recordingDispatcher struct {
	inputs []notify.Input
}

func (r *recordingDispatcher) Send(_ context.Context, in notify.Input, _ time.Time) (notify.Result, error) {
	r.inputs = append(r.inputs, in)
	return notify.Result{Sent: true}, nil
}

func newTestHandler(st ShopifyStore, d Dispatcher) http.Handler {
	h := &Shopify{Store: st, Dispatcher: d, Secret: testSecret}
	r := mux.NewRouter()
	h.Register(r)
	return r
}

func postWebhook(t *testing.T, handler http.Handler, topic string, body []byte, sign bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/shopify", bytes.NewReader(body))
	req.Header.Set("X-Shopify-Topic", topic)
	req.Header.Set("X-Shopify-Shop-Domain", "demo.myshopify.com")
	if sign {
		mac := hmac.New(sha256.New, []byte(testSecret))
		mac.Write(body)
		req.Header.Set("X-Shopify-Hmac-Sha256", base64.StdEncoding.EncodeToString(mac.Sum(nil)))
	} else {
		req.Header.Set("X-Shopify-Hmac-Sha256", "bogus")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	st := newFakeCommerceStore()
	disp := &recordingDispatcher{}
	h := newTestHandler(st, disp)

	rec := postWebhook(t, h, "orders/create", []byte(`{"id":1}`), false)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("got %d, want 401", rec.Code)
	}
	if len(disp.inputs) != 0 {
		t.Fatalf("unauthenticated webhook must not dispatch")
	}
}

func TestOrderCreateSendsOnceAndIsIdempotent(t *testing.T) {
	st := newFakeCommerceStore()
	disp := &recordingDispatcher{}
	h := newTestHandler(st, disp)

	body := []byte(`{"id":1001,"name":"#1001","total_price":"42.00","currency":"USD",
		"customer":{"first_name":"Ana","last_name":"Silva","phone":"+15551234567"},
		"line_items":[{"title":"Shirt","quantity":2,"price":"19.99"}]}`)

	if rec := postWebhook(t, h, "orders/create", body, true); rec.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", rec.Code)
	}
	if len(disp.inputs) != 1 {
		t.Fatalf("expected one dispatch, got %d", len(disp.inputs))
	}
	if disp.inputs[0].Type != domain.TypeOrderPlaced {
		t.Fatalf("got type %s, want order_placed", disp.inputs[0].Type)
	}
	if disp.inputs[0].Data.Vars["order_number"] != "#1001" {
		t.Fatalf("order number missing from payload: %+v", disp.inputs[0].Data.Vars)
	}

	// Replayed delivery: the order row exists, no second send.
	postWebhook(t, h, "orders/create", body, true)
	if len(disp.inputs) != 1 {
		t.Fatalf("replay must not dispatch again, got %d", len(disp.inputs))
	}
}

func TestOrderPaidTransitionFiresOnce(t *testing.T) {
	st := newFakeCommerceStore()
	disp := &recordingDispatcher{}
	h := newTestHandler(st, disp)

	paid := []byte(`{"id":1002,"name":"#1002","total_price":"30.00","currency":"USD",
		"financial_status":"paid","customer":{"phone":"+15551234567"}}`)

	postWebhook(t, h, "orders/paid", paid, true)
	if len(disp.inputs) != 1 || disp.inputs[0].Type != domain.TypeOrderPaid {
		t.Fatalf("expected one order_paid dispatch, got %+v", disp.inputs)
	}
	if st.spend != 30.00 {
		t.Fatalf("paid order should record customer spend, got %v", st.spend)
	}

	// Replay: stored financial_status is already paid.
	postWebhook(t, h, "orders/paid", paid, true)
	if len(disp.inputs) != 1 {
		t.Fatalf("replayed paid webhook must not send again, got %d", len(disp.inputs))
	}
}

func TestOrderFulfilledAndDeliveredTransitions(t *testing.T) {
	st := newFakeCommerceStore()
	disp := &recordingDispatcher{}
	h := newTestHandler(st, disp)

	fulfilled := []byte(`{"id":1003,"fulfillment_status":"fulfilled","customer":{"phone":"+15551234567"},
		"fulfillments":[{"tracking_number":"TRK1","tracking_url":"https://t/TRK1"}]}`)
	postWebhook(t, h, "orders/fulfilled", fulfilled, true)

	delivered := []byte(`{"id":1003,"fulfillment_status":"delivered","customer":{"phone":"+15551234567"}}`)
	postWebhook(t, h, "orders/updated", delivered, true)

	if len(disp.inputs) != 2 {
		t.Fatalf("expected fulfilled+delivered dispatches, got %d", len(disp.inputs))
	}
	if disp.inputs[0].Type != domain.TypeOrderFulfilled || disp.inputs[1].Type != domain.TypeOrderDelivered {
		t.Fatalf("unexpected sequence: %s then %s", disp.inputs[0].Type, disp.inputs[1].Type)
	}
	if disp.inputs[0].Data.Vars["tracking_number"] != "TRK1" {
		t.Fatalf("tracking number not carried: %+v", disp.inputs[0].Data.Vars)
	}
}

func TestPaidOrderWithoutPhoneKeepsConfirmationClaimable(t *testing.T) {
	st := newFakeCommerceStore()
	disp := &recordingDispatcher{}
	h := newTestHandler(st, disp)

	noPhone := []byte(`{"id":1005,"name":"#1005","total_price":"30.00","currency":"USD",
		"financial_status":"paid","email":"a@b.c"}`)
	postWebhook(t, h, "orders/create", noPhone, true)

	if len(disp.inputs) != 0 {
		t.Fatalf("no phone means no notification, got %+v", disp.inputs)
	}
	if len(st.claimedSeq) != 0 {
		t.Fatalf("confirmation flag must stay unclaimed without a phone: %v", st.claimedSeq)
	}
	if st.spend != 0 {
		t.Fatalf("no spend attribution without a recipient, got %v", st.spend)
	}

	// The platform later redelivers the order with the customer phone
	// filled in; the confirmation is still available.
	withPhone := []byte(`{"id":1005,"name":"#1005","total_price":"30.00","currency":"USD",
		"financial_status":"paid","customer":{"phone":"+15551234567"}}`)
	postWebhook(t, h, "orders/paid", withPhone, true)

	if len(disp.inputs) != 1 || disp.inputs[0].Type != domain.TypeOrderPaid {
		t.Fatalf("expected one order_paid dispatch after replay, got %+v", disp.inputs)
	}
}

func TestOrderWithoutPhoneStillPersisted(t *testing.T) {
	st := newFakeCommerceStore()
	disp := &recordingDispatcher{}
	h := newTestHandler(st, disp)

	body := []byte(`{"id":1004,"name":"#1004","email":"a@b.c"}`)
	postWebhook(t, h, "orders/create", body, true)

	if _, ok := st.orders["1004"]; !ok {
		t.Fatalf("order row must be written even without a phone")
	}
	if len(disp.inputs) != 0 {
		t.Fatalf("no phone means no notification")
	}
}

func TestCheckoutCreateWritesCart(t *testing.T) {
	st := newFakeCommerceStore()
	h := newTestHandler(st, &recordingDispatcher{})

	body := []byte(`{"id":"ck_1","phone":"+15551234567","total_price":"42.00","currency":"USD",
		"abandoned_checkout_url":"https://demo/checkout/ck_1",
		"line_items":[{"title":"Shirt","quantity":1,"price":"42.00"}]}`)
	postWebhook(t, h, "checkouts/create", body, true)

	cart, ok := st.carts["ck_1"]
	if !ok {
		t.Fatalf("cart row not written")
	}
	if cart.ItemsCount != 1 || cart.CheckoutURL != "https://demo/checkout/ck_1" {
		t.Fatalf("bad cart row: %+v", cart)
	}
}

func TestCheckoutCreateWithoutPhoneSkipped(t *testing.T) {
	st := newFakeCommerceStore()
	h := newTestHandler(st, &recordingDispatcher{})

	postWebhook(t, h, "checkouts/create", []byte(`{"id":"ck_2","email":"a@b.c"}`), true)
	if len(st.carts) != 0 {
		t.Fatalf("cart without phone must not be tracked")
	}
}

func TestCheckoutCompletedMarksRecoveredNoNotification(t *testing.T) {
	st := newFakeCommerceStore()
	disp := &recordingDispatcher{}
	h := newTestHandler(st, disp)

	create := []byte(`{"id":"ck_3","phone":"+15551234567","total_price":"55.00","currency":"USD"}`)
	postWebhook(t, h, "checkouts/create", create, true)

	complete := []byte(`{"id":"ck_3","phone":"+15551234567","total_price":"55.00","currency":"USD",
		"completed_at":"2026-08-28T10:00:00Z"}`)
	postWebhook(t, h, "checkouts/update", complete, true)

	if len(st.recovered) != 1 || st.recovered[0] != "ck_3" {
		t.Fatalf("cart not marked recovered: %+v", st.recovered)
	}
	if st.revenue != 55.00 {
		t.Fatalf("recovery revenue not attributed, got %v", st.revenue)
	}
	if len(disp.inputs) != 0 {
		t.Fatalf("completed checkout must not notify")
	}

	// A second completed update is a no-op for revenue.
	postWebhook(t, h, "checkouts/update", complete, true)
	if st.revenue != 55.00 {
		t.Fatalf("replayed completion double-counted revenue: %v", st.revenue)
	}
}

func TestCustomerCreateSendsWelcome(t *testing.T) {
	st := newFakeCommerceStore()
	disp := &recordingDispatcher{}
	h := newTestHandler(st, disp)

	body := []byte(`{"id":9,"first_name":"Ana","last_name":"Silva","phone":"+15551234567","email":"ana@x.y"}`)
	postWebhook(t, h, "customers/create", body, true)

	if len(st.customers) != 1 {
		t.Fatalf("customer row not ensured")
	}
	if len(disp.inputs) != 1 || disp.inputs[0].Type != domain.TypeWelcome {
		t.Fatalf("expected welcome dispatch, got %+v", disp.inputs)
	}
}

func TestAppUninstalledPurges(t *testing.T) {
	st := newFakeCommerceStore()
	h := newTestHandler(st, &recordingDispatcher{})

	rec := postWebhook(t, h, "app/uninstalled", []byte(`{}`), true)
	if rec.Code != http.StatusOK {
		t.Fatalf("uninstall must answer 200, got %d", rec.Code)
	}
	if len(st.purged) != 1 || st.purged[0] != "demo.myshopify.com" {
		t.Fatalf("shop not purged: %+v", st.purged)
	}
}

func TestUnknownTopicIgnored(t *testing.T) {
	st := newFakeCommerceStore()
	h := newTestHandler(st, &recordingDispatcher{})

	rec := postWebhook(t, h, "products/create", []byte(`{}`), true)
	if rec.Code != http.StatusOK {
		t.Fatalf("unknown topics still answer 200, got %d", rec.Code)
	}
}
