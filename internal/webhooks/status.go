package webhooks

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"shopnotify/internal/observability"
	"shopnotify/internal/providers/twilio"
	"shopnotify/internal/store"
)

// StatusStore updates delivery state on stored messages.
type StatusStore interface {
	UpdateMessageByProviderMsgID(ctx context.Context, in store.ProviderMsgUpdate) (bool, error)
}

// Status receives provider delivery-status callbacks (queued, sent,
// delivered, read, failed, undelivered) and folds them into the message row.
type Status struct {
	Store StatusStore

	// AuthToken and PublicURL verify the callback signature. An empty
	// token skips verification, which only makes sense against the mock
	// provider in development.
	AuthToken string
	PublicURL string

	Now func() time.Time
}

func (h *Status) Register(r *mux.Router) {
	r.HandleFunc("/v1/webhooks/twilio/status", h.handle).Methods(http.MethodPost)
}

func (h *Status) handle(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	if h.AuthToken != "" {
		if !twilio.VerifySignature(h.AuthToken, h.PublicURL+r.URL.Path, r.Header.Get("X-Twilio-Signature"), r.PostForm) {
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	sid := r.PostForm.Get("MessageSid")
	status := r.PostForm.Get("MessageStatus")
	errorCode := r.PostForm.Get("ErrorCode")
	if sid == "" || status == "" {
		http.Error(w, "missing MessageSid or MessageStatus", http.StatusBadRequest)
		return
	}

	now := h.now()
	upd := store.ProviderMsgUpdate{
		ProviderMsgID: sid,
		Status:        status,
		ErrorCode:     errorCode,
		Now:           now,
	}
	switch status {
	case "delivered":
		upd.DeliveredAt = &now
	case "read":
		upd.ReadAt = &now
	}

	updated, err := h.Store.UpdateMessageByProviderMsgID(r.Context(), upd)
	if err != nil {
		slog.Error("status callback update failed", "err", err, "provider_msg_id", sid, "status", status)
		http.Error(w, "update failed", http.StatusInternalServerError)
		return
	}
	if !updated {
		// Callbacks can outrun the insert or reference another system's
		// message; acknowledge so the provider stops retrying.
		slog.Warn("status callback for unknown message", "provider_msg_id", sid, "status", status)
	}

	observability.StatusCallbacks.WithLabelValues(status).Inc()
	w.WriteHeader(http.StatusOK)
}

func (h *Status) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now().UTC()
}
