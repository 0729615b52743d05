package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"shopnotify/internal/domain"
	"shopnotify/internal/observability"
	"shopnotify/internal/providers/twilio"
	"shopnotify/internal/store"
	"shopnotify/internal/templates"
	"shopnotify/internal/util"
)

// Per-message provider cost by category. Promotional/marketing conversations
// bill higher than transactional/utility ones.
const (
	CostUtility   = 0.005
	CostMarketing = 0.05
)

// Store is the persistence surface the dispatcher depends on.
type Store interface {
	FlowStore
	GetShopByDomain(ctx context.Context, domain string) (store.Shop, bool, error)
	EnsureCustomer(ctx context.Context, in store.CustomerUpsert) (store.Customer, error)
	InsertMessage(ctx context.Context, in store.MessageInsert) error
	TouchCustomerInteraction(ctx context.Context, shopID int64, phone string, now time.Time) error
	IncrementShopMessages(ctx context.Context, shopID int64, now time.Time) error
}

// Sender is the messaging provider. The real implementation is
// *twilio.Client; tests substitute fakes.
type Sender interface {
	Configured() bool
	SendWhatsApp(ctx context.Context, req twilio.SendRequest) (twilio.SendResponse, int, []byte, error)
}

// Result is the outcome of one dispatch. Policy rejections set Skipped and
// are not errors: "did not send" is a first-class outcome.
type Result struct {
	Sent          bool
	Skipped       string
	MessageID     string
	ProviderMsgID string
	Status        string
}

// Input is one notification to dispatch.
type Input struct {
	ShopDomain string
	Phone      string
	Type       domain.NotificationType
	Language   string
	Data       domain.TemplateData
	Ref        domain.Ref

	// Body, when set, is the message text itself (still interpolated
	// against Data) and bypasses flow and template resolution. Campaign
	// sends use this; event notifications leave it empty.
	Body string

	// Customer identity hints for the lazy upsert.
	Email     string
	FirstName string
	LastName  string
}

type Dispatcher struct {
	Store   Store
	Sender  Sender
	Limiter *rate.Limiter
	Breaker *gobreaker.CircuitBreaker

	StatusCallbackURL string
	DefaultLanguage   string
	IDGen             func() string
}

// Send runs the full dispatch sequence: shop and toggle checks, override
// resolution, customer upsert and opt-in gate, rendering, delivery, and
// bookkeeping. Only provider/persistence faults return an error; everything
// policy-shaped comes back as a skipped Result.
func (d *Dispatcher) Send(ctx context.Context, in Input, now time.Time) (Result, error) {
	if in.ShopDomain == "" {
		return d.skip(in.Type, "missing_shop"), nil
	}

	shop, found, err := d.Store.GetShopByDomain(ctx, in.ShopDomain)
	if err != nil {
		return Result{}, err
	}
	if !found || !shop.IsActive {
		return d.skip(in.Type, "shop_not_found"), nil
	}

	category, knownCategory := domain.CategoryFor(in.Type)
	if knownCategory && !categoryEnabled(shop, category) {
		slog.Debug("notification category disabled", "shop", in.ShopDomain, "type", in.Type)
		return d.skip(in.Type, "category_disabled"), nil
	}
	if shop.MessageLimit > 0 && shop.MessagesSent >= shop.MessageLimit {
		slog.Warn("shop message limit reached", "shop", in.ShopDomain, "limit", shop.MessageLimit)
		return d.skip(in.Type, "message_limit_reached"), nil
	}

	lang := in.Language
	if lang == "" {
		lang = d.DefaultLanguage
	}
	if lang == "" {
		lang = "en"
	}

	flow, hasFlow, err := ResolveOverride(ctx, d.Store, shop.ID, in.Type, lang)
	if err != nil {
		return Result{}, err
	}

	var body string
	switch {
	case in.Body != "":
		body = templates.Render(in.Body, in.Data)
	case hasFlow:
		body = templates.Render(flow.Message, in.Data)
		if flow.Footer != "" {
			body += "\n\n" + flow.Footer
		}
	default:
		tmpl, ok := templates.Lookup(lang, in.Type)
		if !ok {
			tmpl, ok = templates.Lookup("en", in.Type)
		}
		if !ok {
			// Every known type has an English default; this is an
			// unrecognized type, not a merchant misconfiguration.
			slog.Error("no template for notification type", "shop", in.ShopDomain, "type", in.Type, "language", lang)
			return d.skip(in.Type, "template_not_found"), nil
		}
		body = templates.Render(tmpl, in.Data)
	}

	phone := util.NormalizePhone(in.Phone)
	if !util.ValidPhone(phone) {
		return d.skip(in.Type, "invalid_phone"), nil
	}

	customer, err := d.Store.EnsureCustomer(ctx, store.CustomerUpsert{
		ShopID:    shop.ID,
		Phone:     phone,
		Email:     in.Email,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Now:       now,
	})
	if err != nil {
		return Result{}, err
	}
	if !customer.OptedIn {
		return d.skip(in.Type, "opted_out"), nil
	}

	resp, err := d.deliver(ctx, phone, body)
	if err != nil {
		observability.Dispatches.WithLabelValues(string(in.Type), "error").Inc()
		return Result{}, err
	}

	msgID := d.newID()
	cost := CostUtility
	if in.Type.Marketing() {
		cost = CostMarketing
	}
	if err := d.Store.InsertMessage(ctx, store.MessageInsert{
		ID:            msgID,
		ShopID:        shop.ID,
		Phone:         phone,
		Type:          string(in.Type),
		Body:          body,
		ProviderMsgID: resp.Sid,
		Status:        resp.Status,
		Direction:     string(domain.DirectionOutbound),
		Cost:          cost,
		OrderID:       in.Ref.OrderID,
		CheckoutID:    in.Ref.CheckoutID,
		Now:           now,
	}); err != nil {
		return Result{}, err
	}
	if err := d.Store.TouchCustomerInteraction(ctx, shop.ID, phone, now); err != nil {
		slog.Error("touch customer interaction failed", "err", err, "shop", in.ShopDomain, "phone", phone)
	}
	if err := d.Store.IncrementShopMessages(ctx, shop.ID, now); err != nil {
		slog.Error("increment shop message counter failed", "err", err, "shop", in.ShopDomain)
	}

	observability.Dispatches.WithLabelValues(string(in.Type), "sent").Inc()
	return Result{Sent: true, MessageID: msgID, ProviderMsgID: resp.Sid, Status: resp.Status}, nil
}

// deliver sends through the provider with the limiter, breaker and small
// retry budget. When the provider is unconfigured it synthesizes a mock
// result so development environments still exercise the bookkeeping path.
func (d *Dispatcher) deliver(ctx context.Context, phone, body string) (twilio.SendResponse, error) {
	if d.Sender == nil || !d.Sender.Configured() {
		return twilio.SendResponse{Sid: "mock_" + d.newID(), Status: "mock"}, nil
	}

	var lastErr error
	start := time.Now()

	for attempt := 0; attempt < 3; attempt++ {
		if d.Limiter != nil {
			waitCtx, cancelWait := context.WithTimeout(ctx, 2*time.Second)
			err := d.Limiter.Wait(waitCtx)
			cancelWait()
			if err != nil {
				lastErr = fmt.Errorf("rate limiter: %w", err)
				observability.ProviderSend.WithLabelValues("rate_limited_local", "0").Inc()
				time.Sleep(200 * time.Millisecond)
				continue
			}
		}

		resp, httpStatus, _, err := d.executeWithBreaker(ctx, phone, body)

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			observability.ProviderSend.WithLabelValues("cb_open", "0").Inc()
			return twilio.SendResponse{}, err
		}

		if err == nil {
			observability.ProviderSend.WithLabelValues("ok", strconv.Itoa(httpStatus)).Inc()
			observability.ProviderLatency.Observe(time.Since(start).Seconds())
			return resp, nil
		}

		lastErr = err
		observability.ProviderSend.WithLabelValues("error", strconv.Itoa(httpStatus)).Inc()

		if !twilio.ShouldRetry(err, httpStatus) {
			return twilio.SendResponse{}, err
		}
		time.Sleep(twilio.Backoff(attempt))
	}

	return twilio.SendResponse{}, lastErr
}

func (d *Dispatcher) executeWithBreaker(ctx context.Context, phone, body string) (twilio.SendResponse, int, []byte, error) {
	call := func() (any, error) {
		reqCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
		defer cancel()

		resp, httpStatus, raw, callErr := d.Sender.SendWhatsApp(reqCtx, twilio.SendRequest{
			To:                phone,
			Body:              body,
			StatusCallbackURL: d.StatusCallbackURL,
		})
		if callErr != nil {
			return nil, providerCallError{err: callErr, httpStatus: httpStatus, raw: raw}
		}
		return sendResult{resp: resp, httpStatus: httpStatus, raw: raw}, nil
	}

	var resAny any
	var err error
	if d.Breaker == nil {
		resAny, err = call()
	} else {
		resAny, err = d.Breaker.Execute(call)
	}
	if err != nil {
		var pce providerCallError
		if errors.As(err, &pce) {
			return twilio.SendResponse{}, pce.httpStatus, pce.raw, err
		}
		return twilio.SendResponse{}, 0, nil, err
	}
	r := resAny.(sendResult)
	return r.resp, r.httpStatus, r.raw, nil
}

func (d *Dispatcher) skip(t domain.NotificationType, reason string) Result {
	observability.NoOps.WithLabelValues(reason).Inc()
	observability.Dispatches.WithLabelValues(string(t), "skipped").Inc()
	return Result{Skipped: reason}
}

func (d *Dispatcher) newID() string {
	if d.IDGen != nil {
		return d.IDGen()
	}
	return util.NewMessageID()
}

func categoryEnabled(sh store.Shop, c domain.FlowCategory) bool {
	switch c {
	case domain.FlowOrderConfirmation, domain.FlowShippingUpdate:
		return sh.NotifyOrders
	case domain.FlowAbandonedCart:
		return sh.NotifyCarts
	case domain.FlowReviewRequest:
		return sh.NotifyReviews
	case domain.FlowWelcome:
		return sh.NotifyWelcome
	}
	return true
}

type sendResult struct {
	resp       twilio.SendResponse
	httpStatus int
	raw        []byte
}

type providerCallError struct {
	err        error
	httpStatus int
	raw        []byte
}

func (e providerCallError) Error() string { return e.err.Error() }
func (e providerCallError) Unwrap() error { return e.err }
