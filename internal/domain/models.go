package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Item struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
	CategoryID string          `json:"category_id"`
	TaxA       bool            `json:"tax_a"`
	TaxB       bool            `json:"tax_b"`
}

type ItemCreateRequest struct {
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
	CategoryID string          `json:"category_id"`
	TaxA       bool            `json:"tax_a"`
	TaxB       bool            `json:"tax_b"`
}

type ItemUpdateRequest struct {
	Name       *string          `json:"name,omitempty"`
	Price      *decimal.Decimal `json:"price,omitempty"`
	CategoryID *string          `json:"category_id,omitempty"`
	TaxA       *bool            `json:"tax_a,omitempty"`
	TaxB       *bool            `json:"tax_b,omitempty"`
}

type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type CustomerCreateRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

type PaymentType struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type UserAccount struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Manager   bool      `json:"manager"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type Actor struct {
	UserID   string
	Username string
	Manager  bool
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	UserID      string `json:"user_id"`
	Manager     bool   `json:"manager"`
	ExpiresAt   string `json:"expires_at"`
}

// Order is a ledger entry. PaymentTypeID is empty while the order is open and
// set once the order is finalized. ReturnOf links a return order to the order
// it offsets; line quantities on a return are negative.
type Order struct {
	ID            string    `json:"id"`
	CustomerID    string    `json:"customer_id,omitempty"`
	UserID        string    `json:"user_id"`
	PaymentTypeID string    `json:"payment_type_id,omitempty"`
	ReturnOf      string    `json:"return_of,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	HasReturns    bool      `json:"has_returns"`
}

// LineDetail is an order line joined with the current item master.
type LineDetail struct {
	ItemID     string          `json:"item_id"`
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
	CategoryID string          `json:"category_id"`
	TaxA       bool            `json:"tax_a"`
	TaxB       bool            `json:"tax_b"`
	Quantity   int64           `json:"quantity"`
}

// OrderDetails is an order with its lines and ledger-computed totals.
type OrderDetails struct {
	Order    Order           `json:"order"`
	Lines    []LineDetail    `json:"lines"`
	Subtotal decimal.Decimal `json:"subtotal"`
	TaxA     decimal.Decimal `json:"tax_a"`
	TaxB     decimal.Decimal `json:"tax_b"`
	Total    decimal.Decimal `json:"total"`
}

// CustomerOrder is a customer-search result row: one finalized order with the
// customer contact data and totals attached.
type CustomerOrder struct {
	OrderID      string          `json:"order_id"`
	CustomerName string          `json:"customer_name"`
	Phone        string          `json:"phone,omitempty"`
	Email        string          `json:"email,omitempty"`
	PaymentType  string          `json:"payment_type"`
	Cashier      string          `json:"cashier"`
	CreatedAt    time.Time       `json:"created_at"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	TaxA         decimal.Decimal `json:"tax_a"`
	TaxB         decimal.Decimal `json:"tax_b"`
}

type InventoryCount struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

type StockAdjustment struct {
	ID        string    `json:"id"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// CountWindow is the reconciliation period a count closes: the half-open
// interval (From, To]. From is nil for the first count (all history).
type CountWindow struct {
	From *time.Time `json:"from,omitempty"`
	To   time.Time  `json:"to"`
}

// Contains reports whether ts falls inside the window.
func (w CountWindow) Contains(ts time.Time) bool {
	if ts.After(w.To) {
		return false
	}
	if w.From == nil {
		return true
	}
	return ts.After(*w.From)
}

// CountDetailsRecord is one item's reconciliation row for a count. Items with
// no activity in the window still appear with all quantities zero.
type CountDetailsRecord struct {
	CategoryID          string `json:"category_id"`
	CategoryName        string `json:"category_name"`
	ItemID              string `json:"item_id"`
	ItemName            string `json:"item_name"`
	PreviousQuantity    int64  `json:"previous_quantity"`
	QuantitySold        int64  `json:"quantity_sold"`
	AdjustmentQuantity  int64  `json:"adjustment_quantity"`
	ActualQuantity      int64  `json:"actual_quantity"`
	TheoreticalQuantity int64  `json:"theoretical_quantity"`
	Difference          int64  `json:"difference"`
}

// LiveInventoryRecord is one item's row in the live inventory view: activity
// since the most recent count plus sales for the current day and month.
type LiveInventoryRecord struct {
	CategoryID          string `json:"category_id"`
	CategoryName        string `json:"category_name"`
	ItemID              string `json:"item_id"`
	ItemName            string `json:"item_name"`
	Date                string `json:"date"`
	DayQuantity         int64  `json:"day_quantity"`
	MonthQuantity       int64  `json:"month_quantity"`
	CountQuantity       int64  `json:"count_quantity"`
	AdjustmentQuantity  int64  `json:"adjustment_quantity"`
	QuantitySold        int64  `json:"quantity_sold"`
	TheoreticalQuantity int64  `json:"theoretical_quantity"`
}

type HourlySales struct {
	Hour      int             `json:"hour"`
	NumOrders int64           `json:"num_orders"`
	NumItems  int64           `json:"num_items"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	TaxA      decimal.Decimal `json:"tax_a"`
	TaxB      decimal.Decimal `json:"tax_b"`
}

type DailySales struct {
	Day       string          `json:"day"`
	NumOrders int64           `json:"num_orders"`
	NumItems  int64           `json:"num_items"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	TaxA      decimal.Decimal `json:"tax_a"`
	TaxB      decimal.Decimal `json:"tax_b"`
}

type CashierSales struct {
	UserID        string          `json:"user_id"`
	Username      string          `json:"username"`
	PaymentTypeID string          `json:"payment_type_id"`
	PaymentType   string          `json:"payment_type"`
	NumOrders     int64           `json:"num_orders"`
	NumItems      int64           `json:"num_items"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	TaxA          decimal.Decimal `json:"tax_a"`
	TaxB          decimal.Decimal `json:"tax_b"`
}

type ItemSales struct {
	ItemID       string          `json:"item_id"`
	ItemName     string          `json:"item_name"`
	CategoryID   string          `json:"category_id"`
	CategoryName string          `json:"category_name"`
	Quantity     int64           `json:"quantity"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	TaxA         decimal.Decimal `json:"tax_a"`
	TaxB         decimal.Decimal `json:"tax_b"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}
