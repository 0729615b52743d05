package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"shopnotify/internal/domain"
	"shopnotify/internal/providers/twilio"
	"shopnotify/internal/store"
)

type fakeStore struct {
	shop      store.Shop
	shopFound bool

	customer store.Customer
	flows    map[string]store.Flow // keyed "flowType/language"
	anyFlow  *store.Flow

	inserted    []store.MessageInsert
	touched     int
	incremented int
}

func (f *fakeStore) GetShopByDomain(_ context.Context, _ string) (store.Shop, bool, error) {
	return f.shop, f.shopFound, nil
}

func (f *fakeStore) FindFlow(_ context.Context, _ int64, flowType, language string) (store.Flow, bool, error) {
	fl, ok := f.flows[flowType+"/"+language]
	return fl, ok, nil
}

func (f *fakeStore) FindFlowAnyLanguage(_ context.Context, _ int64, _ string) (store.Flow, bool, error) {
	if f.anyFlow == nil {
		return store.Flow{}, false, nil
	}
	return *f.anyFlow, true, nil
}

func (f *fakeStore) EnsureCustomer(_ context.Context, in store.CustomerUpsert) (store.Customer, error) {
	if f.customer.Phone == "" {
		return store.Customer{ShopID: in.ShopID, Phone: in.Phone, OptedIn: true}, nil
	}
	return f.customer, nil
}

func (f *fakeStore) InsertMessage(_ context.Context, in store.MessageInsert) error {
	f.inserted = append(f.inserted, in)
	return nil
}

func (f *fakeStore) TouchCustomerInteraction(_ context.Context, _ int64, _ string, _ time.Time) error {
	f.touched++
	return nil
}

func (f *fakeStore) IncrementShopMessages(_ context.Context, _ int64, _ time.Time) error {
	f.incremented++
	return nil
}

type fakeSender struct {
	configured bool
	calls      []twilio.SendRequest
	resp       twilio.SendResponse
	httpStatus int
	err        error
}

func (f *fakeSender) Configured() bool { return f.configured }

func (f *fakeSender) SendWhatsApp(_ context.Context, req twilio.SendRequest) (twilio.SendResponse, int, []byte, error) {
	f.calls = append(f.calls, req)
	return f.resp, f.httpStatus, nil, f.err
}

func activeShop() store.Shop {
	return store.Shop{
		ID: 1, Domain: "demo.myshopify.com", IsActive: true,
		NotifyOrders: true, NotifyCarts: true, NotifyReviews: true, NotifyWelcome: true,
	}
}

func newDispatcher(st *fakeStore, snd *fakeSender) *Dispatcher {
	n := 0
	return &Dispatcher{
		Store:           st,
		Sender:          snd,
		DefaultLanguage: "en",
		IDGen: func() string {
			n++
			return "msg_test" + string(rune('0'+n))
		},
	}
}

func orderInput() Input {
	return Input{
		ShopDomain: "demo.myshopify.com",
		Phone:      "+15551234567",
		Type:       domain.TypeOrderPlaced,
		Data: domain.OrderData(domain.OrderInfo{
			OrderNumber: "#1001", CustomerName: "Ana Silva",
			Total: "42.00", Currency: "USD", ShopName: "demo.myshopify.com",
		}),
		Ref: domain.Ref{OrderID: "1001"},
	}
}

func TestSendUnknownShopSkips(t *testing.T) {
	st := &fakeStore{shopFound: false}
	snd := &fakeSender{configured: true}
	d := newDispatcher(st, snd)

	res, err := d.Send(context.Background(), orderInput(), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Skipped != "shop_not_found" {
		t.Fatalf("got skip %q, want shop_not_found", res.Skipped)
	}
	if len(snd.calls) != 0 {
		t.Fatalf("provider should not be called")
	}
}

func TestSendInactiveShopSkips(t *testing.T) {
	sh := activeShop()
	sh.IsActive = false
	st := &fakeStore{shop: sh, shopFound: true}
	d := newDispatcher(st, &fakeSender{configured: true})

	res, _ := d.Send(context.Background(), orderInput(), time.Now())
	if res.Skipped != "shop_not_found" {
		t.Fatalf("got skip %q, want shop_not_found", res.Skipped)
	}
}

func TestSendCategoryDisabledSkips(t *testing.T) {
	sh := activeShop()
	sh.NotifyOrders = false
	st := &fakeStore{shop: sh, shopFound: true}
	snd := &fakeSender{configured: true}
	d := newDispatcher(st, snd)

	res, err := d.Send(context.Background(), orderInput(), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Skipped != "category_disabled" {
		t.Fatalf("got skip %q, want category_disabled", res.Skipped)
	}
	if len(snd.calls) != 0 || len(st.inserted) != 0 {
		t.Fatalf("disabled category must produce no side effects")
	}
}

func TestSendMessageLimitSkips(t *testing.T) {
	sh := activeShop()
	sh.MessagesSent = 50
	sh.MessageLimit = 50
	st := &fakeStore{shop: sh, shopFound: true}
	d := newDispatcher(st, &fakeSender{configured: true})

	res, _ := d.Send(context.Background(), orderInput(), time.Now())
	if res.Skipped != "message_limit_reached" {
		t.Fatalf("got skip %q, want message_limit_reached", res.Skipped)
	}
}

func TestSendOptedOutSkipsWithoutProviderCall(t *testing.T) {
	st := &fakeStore{
		shop: activeShop(), shopFound: true,
		customer: store.Customer{ShopID: 1, Phone: "+15551234567", OptedIn: false},
	}
	snd := &fakeSender{configured: true}
	d := newDispatcher(st, snd)

	res, err := d.Send(context.Background(), orderInput(), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Skipped != "opted_out" {
		t.Fatalf("got skip %q, want opted_out", res.Skipped)
	}
	if len(snd.calls) != 0 {
		t.Fatalf("opted-out customer must never reach the provider")
	}
	if len(st.inserted) != 0 {
		t.Fatalf("no message row for a suppressed send")
	}
}

func TestSendInvalidPhoneSkips(t *testing.T) {
	st := &fakeStore{shop: activeShop(), shopFound: true}
	d := newDispatcher(st, &fakeSender{configured: true})

	in := orderInput()
	in.Phone = "not-a-phone"
	res, _ := d.Send(context.Background(), in, time.Now())
	if res.Skipped != "invalid_phone" {
		t.Fatalf("got skip %q, want invalid_phone", res.Skipped)
	}
}

func TestSendUnknownTypeSkips(t *testing.T) {
	st := &fakeStore{shop: activeShop(), shopFound: true}
	d := newDispatcher(st, &fakeSender{configured: true})

	in := orderInput()
	in.Type = domain.NotificationType("price_drop")
	res, err := d.Send(context.Background(), in, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Skipped != "template_not_found" {
		t.Fatalf("got skip %q, want template_not_found", res.Skipped)
	}
}

func TestSendMockModeWhenUnconfigured(t *testing.T) {
	st := &fakeStore{shop: activeShop(), shopFound: true}
	snd := &fakeSender{configured: false}
	d := newDispatcher(st, snd)

	res, err := d.Send(context.Background(), orderInput(), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Sent {
		t.Fatalf("expected sent result, got %+v", res)
	}
	if res.Status != "mock" || !strings.HasPrefix(res.ProviderMsgID, "mock_") {
		t.Fatalf("expected mock provider result, got status=%q sid=%q", res.Status, res.ProviderMsgID)
	}
	if len(snd.calls) != 0 {
		t.Fatalf("unconfigured sender must not be called")
	}
	if len(st.inserted) != 1 {
		t.Fatalf("mock sends still record a message row")
	}
}

func TestSendDeliversAndRecords(t *testing.T) {
	st := &fakeStore{shop: activeShop(), shopFound: true}
	snd := &fakeSender{
		configured: true,
		resp:       twilio.SendResponse{Sid: "SM123", Status: "queued"},
		httpStatus: 201,
	}
	d := newDispatcher(st, snd)

	now := time.Now()
	res, err := d.Send(context.Background(), orderInput(), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Sent || res.ProviderMsgID != "SM123" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(snd.calls) != 1 {
		t.Fatalf("expected one provider call, got %d", len(snd.calls))
	}
	if len(st.inserted) != 1 {
		t.Fatalf("expected one message row, got %d", len(st.inserted))
	}
	m := st.inserted[0]
	if m.ProviderMsgID != "SM123" || m.OrderID != "1001" || m.Direction != "outbound" {
		t.Fatalf("bad message row: %+v", m)
	}
	if m.Cost != CostUtility {
		t.Fatalf("order notification should bill utility, got %v", m.Cost)
	}
	if st.touched != 1 || st.incremented != 1 {
		t.Fatalf("bookkeeping not applied: touched=%d incremented=%d", st.touched, st.incremented)
	}
}

func TestSendMarketingCostForCartReminder(t *testing.T) {
	st := &fakeStore{shop: activeShop(), shopFound: true}
	d := newDispatcher(st, &fakeSender{configured: false})

	in := Input{
		ShopDomain: "demo.myshopify.com",
		Phone:      "+15551234567",
		Type:       domain.TypeAbandonedCart24h,
		Data: domain.CartData(domain.CartInfo{
			CustomerName: "Ana", Total: "42.00", Currency: "USD",
			CheckoutURL: "https://demo/checkout", ShopName: "demo",
		}),
		Ref: domain.Ref{CheckoutID: "ck_1"},
	}
	if _, err := d.Send(context.Background(), in, time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.inserted[0].Cost != CostMarketing {
		t.Fatalf("cart reminder should bill marketing, got %v", st.inserted[0].Cost)
	}
	if st.inserted[0].CheckoutID != "ck_1" {
		t.Fatalf("checkout ref not recorded: %+v", st.inserted[0])
	}
}

func TestSendUsesFlowOverrideWithFooter(t *testing.T) {
	st := &fakeStore{
		shop: activeShop(), shopFound: true,
		flows: map[string]store.Flow{
			"order_confirmation/en": {
				Message:  "Custom: order {{order_number}} locked in!",
				Footer:   "Reply STOP to unsubscribe",
				IsActive: true,
			},
		},
	}
	st.customer = store.Customer{ShopID: 1, Phone: "+15551234567", OptedIn: true}
	snd := &fakeSender{configured: true, resp: twilio.SendResponse{Sid: "SM1", Status: "queued"}, httpStatus: 201}
	d := newDispatcher(st, snd)

	if _, err := d.Send(context.Background(), orderInput(), time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body := snd.calls[0].Body
	if !strings.HasPrefix(body, "Custom: order #1001 locked in!") {
		t.Fatalf("flow override not used: %q", body)
	}
	if !strings.HasSuffix(body, "\n\nReply STOP to unsubscribe") {
		t.Fatalf("footer not appended: %q", body)
	}
}

func TestSendFlowCascadeFallsBackToEnglish(t *testing.T) {
	st := &fakeStore{
		shop: activeShop(), shopFound: true,
		flows: map[string]store.Flow{
			"order_confirmation/en": {Message: "EN flow {{order_number}}", IsActive: true},
		},
	}
	snd := &fakeSender{configured: true, resp: twilio.SendResponse{Sid: "SM1", Status: "queued"}, httpStatus: 201}
	d := newDispatcher(st, snd)

	in := orderInput()
	in.Language = "pt"
	if _, err := d.Send(context.Background(), in, time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := snd.calls[0].Body; got != "EN flow #1001" {
		t.Fatalf("expected english flow fallback, got %q", got)
	}
}

func TestSendBodyOverrideBypassesTemplates(t *testing.T) {
	st := &fakeStore{shop: activeShop(), shopFound: true}
	snd := &fakeSender{configured: true, resp: twilio.SendResponse{Sid: "SM9", Status: "queued"}, httpStatus: 201}
	d := newDispatcher(st, snd)

	in := Input{
		ShopDomain: "demo.myshopify.com",
		Phone:      "+15551234567",
		Type:       domain.TypeCampaign,
		Body:       "Flash sale, {{first_name}}! 20% off today.",
		Data:       domain.CustomerData(domain.CustomerInfo{Name: "Ana Silva", ShopName: "demo"}),
	}
	res, err := d.Send(context.Background(), in, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Sent {
		t.Fatalf("expected sent, got %+v", res)
	}
	if got := snd.calls[0].Body; got != "Flash sale, Ana! 20% off today." {
		t.Fatalf("body override not rendered: %q", got)
	}
	if st.inserted[0].Cost != CostMarketing {
		t.Fatalf("campaign should bill marketing, got %v", st.inserted[0].Cost)
	}
}

func TestSendLimiterExhaustionIsAnError(t *testing.T) {
	st := &fakeStore{shop: activeShop(), shopFound: true}
	snd := &fakeSender{configured: true, resp: twilio.SendResponse{Sid: "SM1", Status: "queued"}, httpStatus: 201}
	d := newDispatcher(st, snd)
	// A zero-burst limiter never admits a request; every attempt fails
	// before reaching the provider.
	d.Limiter = rate.NewLimiter(0, 0)

	res, err := d.Send(context.Background(), orderInput(), time.Now())
	if err == nil {
		t.Fatalf("exhausted limiter must fail the dispatch, got %+v", res)
	}
	if res.Sent {
		t.Fatalf("failed dispatch reported as sent: %+v", res)
	}
	if len(snd.calls) != 0 {
		t.Fatalf("provider must not be reached, got %d calls", len(snd.calls))
	}
	if len(st.inserted) != 0 {
		t.Fatalf("no message row for a send that never happened: %+v", st.inserted)
	}
}

func TestSendProviderErrorPropagates(t *testing.T) {
	st := &fakeStore{shop: activeShop(), shopFound: true}
	snd := &fakeSender{configured: true, httpStatus: 400, err: errors.New("invalid To number")}
	d := newDispatcher(st, snd)

	_, err := d.Send(context.Background(), orderInput(), time.Now())
	if err == nil {
		t.Fatalf("expected provider error")
	}
	if len(st.inserted) != 0 {
		t.Fatalf("failed send must not record a sent message")
	}
}
