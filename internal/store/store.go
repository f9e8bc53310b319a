// Package store defines the ledger repository contract and its error kinds.
package store

import (
	"context"
	"errors"
	"time"

	"tillpoint/internal/domain"
)

var (
	// ErrNotFound signals an unknown order, count, item, customer or user id.
	ErrNotFound = errors.New("not found")
	// ErrInvalidPayment signals an unknown payment type id at finalize.
	ErrInvalidPayment = errors.New("invalid payment type")
	// ErrInvalidQuantity signals a quantity with the wrong sign for the
	// operation (negative actual count, positive return line).
	ErrInvalidQuantity = errors.New("invalid quantity")
	// ErrStorageFailure signals that the backing store did not acknowledge a
	// write or allocate an identifier. Never retried automatically: retrying a
	// financial mutation risks double-application.
	ErrStorageFailure = errors.New("storage failure")
)

// Repository is the single-writer embedded ledger. Every mutation is an
// independent atomic unit; multi-step workflows (FinalizeOrderWithCustomer)
// commit all-or-nothing.
type Repository interface {
	// Item and category master directory.
	ListCategories(ctx context.Context) ([]domain.Category, error)
	CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error)
	ListItems(ctx context.Context) ([]domain.Item, error)
	GetItem(ctx context.Context, itemID string) (*domain.Item, error)
	CreateItem(ctx context.Context, item domain.Item) (*domain.Item, error)
	UpdateItem(ctx context.Context, item domain.Item) (*domain.Item, error)
	ListPaymentTypes(ctx context.Context) ([]domain.PaymentType, error)

	// Customer directory.
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	GetCustomer(ctx context.Context, customerID string) (*domain.Customer, error)
	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	SearchCustomerOrders(ctx context.Context, query string) ([]domain.CustomerOrder, error)

	// Users, consumed by the authentication provider.
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	UpdateUserPassword(ctx context.Context, username string, passwordHash string) error

	// Order ledger. Orders and lines are never deleted; returns are new
	// orders referencing the original through ReturnOf.
	CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	AddOrderItem(ctx context.Context, orderID, itemID string) error
	RemoveOrderItem(ctx context.Context, orderID, itemID string) error
	SetOrderItem(ctx context.Context, orderID, itemID string, quantity int64) error
	AttachCustomer(ctx context.Context, orderID, customerID string) error
	FinalizeOrder(ctx context.Context, orderID, paymentTypeID string) error
	FinalizeOrderWithCustomer(ctx context.Context, orderID, customerID, paymentTypeID string) error
	IsOrderPaid(ctx context.Context, orderID string) (bool, error)
	GetOrderLines(ctx context.Context, orderID string) ([]domain.LineDetail, error)
	GetNetOrderLines(ctx context.Context, orderID string) ([]domain.LineDetail, error)

	// Inventory counts and stock adjustments, append-only.
	CreateCount(ctx context.Context, count domain.InventoryCount) (*domain.InventoryCount, error)
	SetCountItem(ctx context.Context, countID, itemID string, quantity int64) error
	CreateAdjustment(ctx context.Context, adjustment domain.StockAdjustment) (*domain.StockAdjustment, error)
	SetAdjustmentItem(ctx context.Context, adjustmentID, itemID string, quantity int64) error
	ListCounts(ctx context.Context) ([]domain.InventoryCount, error)
	CountWindow(ctx context.Context, countID string) (*domain.CountWindow, error)
	CountDetails(ctx context.Context, countID string) ([]domain.CountDetailsRecord, error)
	LiveInventory(ctx context.Context, now time.Time) ([]domain.LiveInventoryRecord, error)

	// Sales reports over finalized orders.
	HourlySales(ctx context.Context, from, to time.Time) ([]domain.HourlySales, error)
	DailySales(ctx context.Context, from, to time.Time) ([]domain.DailySales, error)
	CashierSales(ctx context.Context, from, to time.Time) ([]domain.CashierSales, error)
	ItemSales(ctx context.Context, from, to time.Time) ([]domain.ItemSales, error)

	// Audit trail of ledger mutations.
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from, to time.Time, limit int) ([]domain.AuditLog, error)
}
