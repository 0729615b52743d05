package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"shopnotify/internal/notify"
	"shopnotify/internal/store"
)

type fakeAdminStore struct {
	shop      store.Shop
	shopFound bool
	msg       store.Message
	msgFound  bool
}

func (f *fakeAdminStore) GetShopByDomain(_ context.Context, _ string) (store.Shop, bool, error) {
	return f.shop, f.shopFound, nil
}

func (f *fakeAdminStore) GetMessage(_ context.Context, _ string) (store.Message, bool, error) {
	return f.msg, f.msgFound, nil
}

type stubDispatcher struct {
	res notify.Result
	in  *notify.Input
}

func (s *stubDispatcher) Send(_ context.Context, in notify.Input, _ time.Time) (notify.Result, error) {
	s.in = &in
	return s.res, nil
}

func newAdminRouter(st AdminStore, d *stubDispatcher) *mux.Router {
	a := &Admin{Store: st, Dispatcher: d, ProviderConfigured: true}
	r := mux.NewRouter()
	a.Register(r)
	return r
}

func TestGetShop(t *testing.T) {
	st := &fakeAdminStore{
		shop: store.Shop{
			Domain: "demo.myshopify.com", IsActive: true, Plan: "pro",
			MessagesSent: 12, MessageLimit: 1000, NotifyOrders: true,
		},
		shopFound: true,
	}
	r := newAdminRouter(st, &stubDispatcher{})

	req := httptest.NewRequest(http.MethodGet, "/v1/shops/demo.myshopify.com", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	if resp["domain"] != "demo.myshopify.com" || resp["plan"] != "pro" {
		t.Fatalf("unexpected body: %v", resp)
	}
	if resp["messagingConfigured"] != true {
		t.Fatalf("messagingConfigured missing: %v", resp)
	}
}

func TestGetShopNotFound(t *testing.T) {
	r := newAdminRouter(&fakeAdminStore{}, &stubDispatcher{})
	req := httptest.NewRequest(http.MethodGet, "/v1/shops/nope.myshopify.com", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("got %d, want 404", rec.Code)
	}
}

func TestSendNotification(t *testing.T) {
	d := &stubDispatcher{res: notify.Result{Sent: true, MessageID: "msg_1", Status: "queued"}}
	r := newAdminRouter(&fakeAdminStore{}, d)

	body := `{"shopDomain":"demo.myshopify.com","phone":"+15551234567","type":"welcome","vars":{"first_name":"Ana"}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/notifications", strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if d.in == nil || d.in.ShopDomain != "demo.myshopify.com" || string(d.in.Type) != "welcome" {
		t.Fatalf("dispatcher input not built: %+v", d.in)
	}
	if d.in.Data.Vars["first_name"] != "Ana" {
		t.Fatalf("vars not passed: %+v", d.in.Data.Vars)
	}
	var resp map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["sent"] != true || resp["messageId"] != "msg_1" {
		t.Fatalf("unexpected response: %v", resp)
	}
}

func TestSendNotificationSkippedIsNotAnError(t *testing.T) {
	d := &stubDispatcher{res: notify.Result{Skipped: "opted_out"}}
	r := newAdminRouter(&fakeAdminStore{}, d)

	body := `{"shopDomain":"demo.myshopify.com","phone":"+15551234567","type":"welcome"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/notifications", strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("skips answer 200, got %d", rec.Code)
	}
	var resp map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["skipped"] != "opted_out" {
		t.Fatalf("skip reason not surfaced: %v", resp)
	}
}

func TestSendNotificationValidation(t *testing.T) {
	r := newAdminRouter(&fakeAdminStore{}, &stubDispatcher{})

	req := httptest.NewRequest(http.MethodPost, "/v1/notifications", strings.NewReader(`{"phone":"+1"}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/notifications", strings.NewReader(`{not json`))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400 for bad json", rec.Code)
	}
}
