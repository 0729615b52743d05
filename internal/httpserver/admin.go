package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"shopnotify/internal/domain"
	"shopnotify/internal/notify"
	"shopnotify/internal/store"
)

// AdminStore is the persistence surface of the merchant-facing API.
type AdminStore interface {
	GetShopByDomain(ctx context.Context, domain string) (store.Shop, bool, error)
	GetMessage(ctx context.Context, msgID string) (store.Message, bool, error)
}

// Admin exposes the small merchant/operator API: shop status, a test-send
// endpoint, and message lookup.
type Admin struct {
	Store      AdminStore
	Dispatcher interface {
		Send(ctx context.Context, in notify.Input, now time.Time) (notify.Result, error)
	}

	// ProviderConfigured reports whether real WhatsApp credentials are
	// present; without them sends run in mock mode.
	ProviderConfigured bool
}

func (a *Admin) Register(r *mux.Router) {
	r.HandleFunc("/v1/shops/{domain}", a.handleGetShop).Methods(http.MethodGet)
	r.HandleFunc("/v1/notifications", a.handleSendNotification).Methods(http.MethodPost)
	r.HandleFunc("/v1/messages/{id}", a.handleGetMessage).Methods(http.MethodGet)
}

type shopResponse struct {
	Domain              string  `json:"domain"`
	IsActive            bool    `json:"isActive"`
	Plan                string  `json:"plan"`
	MessagesSent        int     `json:"messagesSent"`
	MessageLimit        int     `json:"messageLimit"`
	RevenueToDate       float64 `json:"revenueToDate"`
	NotifyOrders        bool    `json:"notifyOrders"`
	NotifyCarts         bool    `json:"notifyCarts"`
	NotifyReviews       bool    `json:"notifyReviews"`
	NotifyWelcome       bool    `json:"notifyWelcome"`
	MessagingConfigured bool    `json:"messagingConfigured"`
}

func (a *Admin) handleGetShop(w http.ResponseWriter, r *http.Request) {
	domainName := mux.Vars(r)["domain"]
	shop, found, err := a.Store.GetShopByDomain(r.Context(), domainName)
	if err != nil {
		slog.Error("get shop failed", "err", err, "domain", domainName)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	if !found {
		http.Error(w, ErrNotFound, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, shopResponse{
		Domain:              shop.Domain,
		IsActive:            shop.IsActive,
		Plan:                shop.Plan,
		MessagesSent:        shop.MessagesSent,
		MessageLimit:        shop.MessageLimit,
		RevenueToDate:       shop.RevenueToDate,
		NotifyOrders:        shop.NotifyOrders,
		NotifyCarts:         shop.NotifyCarts,
		NotifyReviews:       shop.NotifyReviews,
		NotifyWelcome:       shop.NotifyWelcome,
		MessagingConfigured: a.ProviderConfigured,
	})
}

type sendResponse struct {
	Sent          bool   `json:"sent"`
	Skipped       string `json:"skipped,omitempty"`
	MessageID     string `json:"messageId,omitempty"`
	ProviderMsgID string `json:"providerMsgId,omitempty"`
	Status        string `json:"status,omitempty"`
}

// handleSendNotification dispatches one notification on demand. Sends run
// synchronously; policy no-ops still answer 200 with the skip reason so the
// caller can tell "refused" from "failed".
func (a *Admin) handleSendNotification(w http.ResponseWriter, r *http.Request) {
	var req domain.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		http.Error(w, ErrMissingFields, http.StatusBadRequest)
		return
	}

	res, err := a.Dispatcher.Send(r.Context(), notify.Input{
		ShopDomain: req.ShopDomain,
		Phone:      req.Phone,
		Type:       req.Type,
		Language:   req.Language,
		Data:       domain.TemplateData{Vars: req.Vars},
	}, time.Now().UTC())
	if err != nil {
		slog.Error("manual send failed", "err", err, "shop", req.ShopDomain, "type", req.Type)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, sendResponse{
		Sent:          res.Sent,
		Skipped:       res.Skipped,
		MessageID:     res.MessageID,
		ProviderMsgID: res.ProviderMsgID,
		Status:        res.Status,
	})
}

func (a *Admin) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	msg, found, err := a.Store.GetMessage(r.Context(), id)
	if err != nil {
		slog.Error("get message failed", "err", err, "id", id)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	if !found {
		http.Error(w, ErrNotFound, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(msg)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
