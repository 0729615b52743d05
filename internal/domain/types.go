package domain

import "errors"

// NotificationType is the fine-grained event tag stamped on outbound messages.
type NotificationType string

const (
	TypeOrderPlaced      NotificationType = "order_placed"
	TypeOrderPaid        NotificationType = "order_paid"
	TypeOrderFulfilled   NotificationType = "order_fulfilled"
	TypeOrderDelivered   NotificationType = "order_delivered"
	TypeReviewRequest    NotificationType = "review_request"
	TypeAbandonedCart1h  NotificationType = "abandoned_cart_1h"
	TypeAbandonedCart24h NotificationType = "abandoned_cart_24h"
	TypeAbandonedCart48h NotificationType = "abandoned_cart_48h"
	TypeWelcome          NotificationType = "welcome"
	TypeCampaign         NotificationType = "campaign"
)

// FlowCategory is the coarser grouping merchants author overrides against.
// Several notification types intentionally share one category.
type FlowCategory string

const (
	FlowOrderConfirmation FlowCategory = "order_confirmation"
	FlowShippingUpdate    FlowCategory = "shipping_update"
	FlowAbandonedCart     FlowCategory = "abandoned_cart"
	FlowReviewRequest     FlowCategory = "review_request"
	FlowWelcome           FlowCategory = "welcome"
)

var flowCategories = map[NotificationType]FlowCategory{
	TypeOrderPlaced:      FlowOrderConfirmation,
	TypeOrderPaid:        FlowOrderConfirmation,
	TypeOrderFulfilled:   FlowShippingUpdate,
	TypeOrderDelivered:   FlowShippingUpdate,
	TypeReviewRequest:    FlowReviewRequest,
	TypeAbandonedCart1h:  FlowAbandonedCart,
	TypeAbandonedCart24h: FlowAbandonedCart,
	TypeAbandonedCart48h: FlowAbandonedCart,
	TypeWelcome:          FlowWelcome,
}

// CategoryFor maps a notification type to its flow category. Unknown types
// return ok=false; callers treat that as "no override possible".
func CategoryFor(t NotificationType) (FlowCategory, bool) {
	c, ok := flowCategories[t]
	return c, ok
}

// Marketing reports whether a notification type bills at the promotional
// rate. Order-lifecycle types are transactional/utility.
func (t NotificationType) Marketing() bool {
	switch t {
	case TypeAbandonedCart1h, TypeAbandonedCart24h, TypeAbandonedCart48h, TypeReviewRequest, TypeCampaign:
		return true
	}
	return false
}

type MessageDirection string

const (
	DirectionOutbound MessageDirection = "outbound"
	DirectionInbound  MessageDirection = "inbound"
)

// LineItem is one cart/order line rendered into the {{items}} placeholder.
type LineItem struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Price    string `json:"price"`
}

// Address renders into the {{shipping_address}} placeholder.
type Address struct {
	Name     string `json:"name"`
	Address1 string `json:"address1"`
	City     string `json:"city"`
	Country  string `json:"country"`
}

// TemplateData is the typed payload handed to the renderer. Plain string
// variables live in Vars; the two structured fields get special formatting.
// A key absent from Vars renders as the empty string, never as the literal
// placeholder.
type TemplateData struct {
	Vars            map[string]string
	Currency        string
	Items           []LineItem
	ShippingAddress *Address
}

// Ref carries optional linkage from a message back to the commerce entity
// that triggered it.
type Ref struct {
	OrderID    string
	CheckoutID string
}

// SendRequest is the dispatcher's input for the admin test-send endpoint.
type SendRequest struct {
	ShopDomain string            `json:"shopDomain"`
	Phone      string            `json:"phone"`
	Type       NotificationType  `json:"type"`
	Language   string            `json:"language,omitempty"`
	Vars       map[string]string `json:"vars,omitempty"`
}

func (r SendRequest) Validate() error {
	if r.ShopDomain == "" || r.Phone == "" || r.Type == "" {
		return ErrMissingFields
	}
	return nil
}

var ErrMissingFields = errors.New("missing required fields")
