package webhooks

import (
	"context"
	"encoding/xml"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"shopnotify/internal/domain"
	"shopnotify/internal/observability"
	"shopnotify/internal/providers/twilio"
	"shopnotify/internal/store"
	"shopnotify/internal/util"
)

// InboundStore is the persistence surface for customer-initiated messages.
type InboundStore interface {
	FindCustomerByPhone(ctx context.Context, phone string) (store.Customer, bool, error)
	SetCustomerOptedOut(ctx context.Context, shopID int64, phone string, now time.Time) error
	SetCustomerOptedIn(ctx context.Context, shopID int64, phone string) error
	TouchCustomerInteraction(ctx context.Context, shopID int64, phone string, now time.Time) error
	InsertMessage(ctx context.Context, in store.MessageInsert) error
}

// Inbound handles customer-initiated WhatsApp messages: a small keyword
// command set answered synchronously with a TwiML reply. Anything beyond
// keywords is out of scope here and routed to the support reply.
type Inbound struct {
	Store InboundStore

	AuthToken string
	PublicURL string

	IDGen func() string
	Now   func() time.Time
}

func (h *Inbound) Register(r *mux.Router) {
	r.HandleFunc("/v1/webhooks/twilio/inbound", h.handle).Methods(http.MethodPost)
}

const (
	replyHelp = "Hi! I can help with:\n" +
		"ORDER - check your recent order status\n" +
		"SUPPORT - talk to the store team\n" +
		"STOP - unsubscribe from notifications"
	replyOrderStatus = "To check an order, reply with your order number (for example: ORDER #1001) and the store team will get back to you."
	replySupport     = "Got it, a member of the store team will reach out to you shortly."
	replyStop        = "You have been unsubscribed and will not receive further notifications. Reply START anytime to hear from us again."
	replyStart       = "Welcome back! You are subscribed to notifications again."
	replyFallback    = "Sorry, I didn't understand that. Reply HELP to see what I can do."
)

func (h *Inbound) handle(w http.ResponseWriter, r *http.Request) {
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

	from := util.NormalizePhone(strings.TrimPrefix(r.PostForm.Get("From"), "whatsapp:"))
	body := r.PostForm.Get("Body")
	sid := r.PostForm.Get("MessageSid")
	now := h.now()

	command, reply := route(body)
	observability.InboundCommands.WithLabelValues(command).Inc()

	customer, found, err := h.Store.FindCustomerByPhone(r.Context(), from)
	if err != nil {
		slog.Error("inbound customer lookup failed", "err", err, "phone", from)
	}
	if found {
		h.record(r.Context(), customer, from, body, sid, now)
		switch command {
		case "stop":
			if err := h.Store.SetCustomerOptedOut(r.Context(), customer.ShopID, from, now); err != nil {
				slog.Error("opt out failed", "err", err, "shop_id", customer.ShopID, "phone", from)
			}
		case "start":
			if err := h.Store.SetCustomerOptedIn(r.Context(), customer.ShopID, from); err != nil {
				slog.Error("opt in failed", "err", err, "shop_id", customer.ShopID, "phone", from)
			}
		}
	} else if command == "stop" {
		// Unknown sender asking to stop still gets the confirmation; there
		// is simply nothing to flip.
		slog.Warn("stop from unknown phone", "phone", from)
	}

	writeTwiML(w, reply)
}

// route maps the message text to a command and its canned reply.
func route(body string) (command, reply string) {
	switch strings.ToLower(strings.TrimSpace(body)) {
	case "hi", "hello", "help", "menu":
		return "help", replyHelp
	case "order", "orders", "status":
		return "order_status", replyOrderStatus
	case "support", "agent", "human":
		return "support", replySupport
	case "stop", "unsubscribe", "cancel":
		return "stop", replyStop
	case "start", "subscribe", "unstop":
		return "start", replyStart
	default:
		return "unknown", replyFallback
	}
}

// record persists the inbound message and refreshes the interaction clock.
func (h *Inbound) record(ctx context.Context, c store.Customer, phone, body, sid string, now time.Time) {
	if err := h.Store.InsertMessage(ctx, store.MessageInsert{
		ID:            h.newID(),
		ShopID:        c.ShopID,
		Phone:         phone,
		Type:          "inbound",
		Body:          body,
		ProviderMsgID: sid,
		Status:        "received",
		Direction:     string(domain.DirectionInbound),
		Now:           now,
	}); err != nil {
		slog.Error("persist inbound message failed", "err", err, "phone", phone)
	}
	if err := h.Store.TouchCustomerInteraction(ctx, c.ShopID, phone, now); err != nil {
		slog.Error("touch customer interaction failed", "err", err, "phone", phone)
	}
}

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Message string   `xml:"Message"`
}

func writeTwiML(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(xml.Header))
	out, err := xml.Marshal(twimlResponse{Message: message})
	if err != nil {
		slog.Error("twiml marshal failed", "err", err)
		return
	}
	w.Write(out)
}

func (h *Inbound) newID() string {
	if h.IDGen != nil {
		return h.IDGen()
	}
	return util.NewMessageID()
}

func (h *Inbound) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now().UTC()
}
