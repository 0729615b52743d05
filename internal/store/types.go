package store

import "time"

type Shop struct {
	ID               int64
	Domain           string
	AccessToken      string
	IsActive         bool
	Plan             string
	MessagesSent     int
	MessageLimit     int
	RevenueToDate    float64
	NotifyOrders     bool
	NotifyCarts      bool
	NotifyReviews    bool
	NotifyWelcome    bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type ShopUpsert struct {
	Domain      string
	AccessToken string
	Plan        string
	Now         time.Time
}

type Customer struct {
	ID                int64
	ShopID            int64
	Phone             string
	Email             string
	FirstName         string
	LastName          string
	OptedIn           bool
	OptedOutAt        *time.Time
	TotalSpent        float64
	OrdersCount       int
	LastInteractionAt *time.Time
	IsVIP             bool
	CreatedAt         time.Time
}

type CustomerUpsert struct {
	ShopID    int64
	Phone     string
	Email     string
	FirstName string
	LastName  string
	Now       time.Time
}

type Message struct {
	ID            string
	ShopID        int64
	Phone         string
	Type          string
	Body          string
	ProviderMsgID string
	Status        string
	Direction     string
	Cost          float64
	OrderID       string
	CheckoutID    string
	CreatedAt     time.Time
	DeliveredAt   *time.Time
	ReadAt        *time.Time
}

type MessageInsert struct {
	ID            string
	ShopID        int64
	Phone         string
	Type          string
	Body          string
	ProviderMsgID string
	Status        string
	Direction     string
	Cost          float64
	OrderID       string
	CheckoutID    string
	Now           time.Time
}

type ProviderMsgUpdate struct {
	ProviderMsgID string
	Status        string
	ErrorCode     string
	DeliveredAt   *time.Time
	ReadAt        *time.Time
	Now           time.Time
}

type AbandonedCart struct {
	CheckoutID     string
	ShopID         int64
	Phone          string
	Email          string
	CustomerName   string
	TotalPrice     string
	Currency       string
	ItemsCount     int
	LineItemsJSON  []byte
	CheckoutURL    string
	ReminderCount  int
	LastReminderAt *time.Time
	Recovered      bool
	RecoveredAt    *time.Time
	RecoveryValue  float64
	CreatedAt      time.Time
}

type CartUpsert struct {
	CheckoutID    string
	ShopID        int64
	Phone         string
	Email         string
	CustomerName  string
	TotalPrice    string
	Currency      string
	ItemsCount    int
	LineItemsJSON []byte
	CheckoutURL   string
	Now           time.Time
}

type Order struct {
	OrderID           string
	ShopID            int64
	Phone             string
	Email             string
	CustomerName      string
	TotalPrice        string
	Currency          string
	FinancialStatus   string
	FulfillmentStatus string
	ConfirmationSent  bool
	ShippingSent      bool
	DeliveredSent     bool
	ReviewRequested   bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type OrderUpsert struct {
	OrderID           string
	ShopID            int64
	Phone             string
	Email             string
	CustomerName      string
	TotalPrice        string
	Currency          string
	FinancialStatus   string
	FulfillmentStatus string
	Now               time.Time
}

// OrderFlag names one of the monotonic *_sent booleans on an order.
type OrderFlag string

const (
	FlagConfirmationSent OrderFlag = "confirmation_sent"
	FlagShippingSent     OrderFlag = "shipping_sent"
	FlagDeliveredSent    OrderFlag = "delivered_sent"
	FlagReviewRequested  OrderFlag = "review_requested"
)

type Flow struct {
	ID           int64
	ShopID       int64
	FlowType     string
	Language     string
	DelayMinutes int
	Message      string
	Footer       string
	DiscountCode string
	ImageURL     string
	IsActive     bool
}

type Campaign struct {
	ID          int64
	ShopID      int64
	Name        string
	Message     string
	ScheduledAt time.Time
	Executed    bool
	ExecutedAt  *time.Time
}
