// Package service holds the business rules on top of the ledger repository:
// who may do what, which quantities are legal where, and how reports are
// cached.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"tillpoint/internal/cache"
	"tillpoint/internal/domain"
	"tillpoint/internal/store"
	"tillpoint/internal/tax"
	"tillpoint/internal/xid"
)

var (
	// ErrManagerRequired signals an operation reserved for manager accounts.
	ErrManagerRequired = errors.New("manager access required")
	// ErrActorRequired signals a mutation attempted without an
	// authenticated actor on the context.
	ErrActorRequired = errors.New("authenticated user required")
	// ErrInvalidRange signals an unparseable or inverted report date range.
	ErrInvalidRange = errors.New("invalid date range")
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo      store.Repository
	calc      tax.Calculator
	reports   cache.ReportCache
	reportTTL time.Duration
}

func New(repo store.Repository, calc tax.Calculator, reports cache.ReportCache, reportTTL time.Duration) *Service {
	if reports == nil {
		reports = cache.NoopReportCache{}
	}
	if reportTTL <= 0 {
		reportTTL = 5 * time.Minute
	}

	return &Service{
		repo:      repo,
		calc:      calc,
		reports:   reports,
		reportTTL: reportTTL,
	}
}

func (s *Service) requireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, ErrActorRequired
	}
	return actor, nil
}

func (s *Service) requireManager(ctx context.Context) (domain.Actor, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return domain.Actor{}, err
	}
	if !actor.Manager {
		return domain.Actor{}, ErrManagerRequired
	}
	return actor, nil
}

func (s *Service) ListCategories(ctx context.Context) ([]domain.Category, error) {
	return s.repo.ListCategories(ctx)
}

func (s *Service) CreateCategory(ctx context.Context, name string) (domain.Category, error) {
	if _, err := s.requireManager(ctx); err != nil {
		return domain.Category{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Category{}, fmt.Errorf("category name required")
	}

	created, err := s.repo.CreateCategory(ctx, domain.Category{Name: name})
	if err != nil {
		return domain.Category{}, err
	}
	s.logAudit(ctx, "category_create", "category", created.ID, created.Name)
	return *created, nil
}

func (s *Service) ListItems(ctx context.Context) ([]domain.Item, error) {
	return s.repo.ListItems(ctx)
}

func (s *Service) GetItem(ctx context.Context, itemID string) (domain.Item, error) {
	item, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return domain.Item{}, err
	}
	return *item, nil
}

func (s *Service) CreateItem(ctx context.Context, req domain.ItemCreateRequest) (domain.Item, error) {
	if _, err := s.requireManager(ctx); err != nil {
		return domain.Item{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.CategoryID == "" {
		return domain.Item{}, fmt.Errorf("item name and category required")
	}
	if req.Price.IsNegative() {
		return domain.Item{}, fmt.Errorf("item price must not be negative")
	}

	created, err := s.repo.CreateItem(ctx, domain.Item{
		Name:       req.Name,
		Price:      req.Price,
		CategoryID: req.CategoryID,
		TaxA:       req.TaxA,
		TaxB:       req.TaxB,
	})
	if err != nil {
		return domain.Item{}, err
	}
	s.logAudit(ctx, "item_create", "item", created.ID, fmt.Sprintf("name=%s,price=%s", created.Name, created.Price))
	return *created, nil
}

// UpdateItem changes the master record in place. Prices are read at
// transaction time, so a price change shifts how historical orders are
// valued. That is the intended read-time pricing model: the ledger stores
// quantities, the master stores prices.
func (s *Service) UpdateItem(ctx context.Context, itemID string, req domain.ItemUpdateRequest) (domain.Item, error) {
	if _, err := s.requireManager(ctx); err != nil {
		return domain.Item{}, err
	}

	existing, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return domain.Item{}, err
	}
	if req.Name != nil {
		existing.Name = strings.TrimSpace(*req.Name)
	}
	if req.Price != nil {
		if req.Price.IsNegative() {
			return domain.Item{}, fmt.Errorf("item price must not be negative")
		}
		existing.Price = *req.Price
	}
	if req.CategoryID != nil {
		existing.CategoryID = *req.CategoryID
	}
	if req.TaxA != nil {
		existing.TaxA = *req.TaxA
	}
	if req.TaxB != nil {
		existing.TaxB = *req.TaxB
	}
	if existing.Name == "" || existing.CategoryID == "" {
		return domain.Item{}, fmt.Errorf("item name and category required")
	}

	updated, err := s.repo.UpdateItem(ctx, *existing)
	if err != nil {
		return domain.Item{}, err
	}
	s.logAudit(ctx, "item_update", "item", updated.ID, fmt.Sprintf("name=%s,price=%s", updated.Name, updated.Price))
	return *updated, nil
}

func (s *Service) ListPaymentTypes(ctx context.Context) ([]domain.PaymentType, error) {
	return s.repo.ListPaymentTypes(ctx)
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	if _, err := s.requireActor(ctx); err != nil {
		return domain.Customer{}, err
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Customer{}, fmt.Errorf("customer name required")
	}

	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		Name:  req.Name,
		Phone: strings.TrimSpace(req.Phone),
		Email: strings.TrimSpace(req.Email),
	})
	if err != nil {
		return domain.Customer{}, err
	}
	s.logAudit(ctx, "customer_create", "customer", created.ID, created.Name)
	return *created, nil
}

func (s *Service) GetCustomer(ctx context.Context, customerID string) (domain.Customer, error) {
	customer, err := s.repo.GetCustomer(ctx, customerID)
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx)
}

func (s *Service) SearchCustomerOrders(ctx context.Context, query string) ([]domain.CustomerOrder, error) {
	return s.repo.SearchCustomerOrders(ctx, strings.TrimSpace(query))
}

// NewOrder opens an empty order owned by the authenticated cashier.
// NewOrder opens an order for the calling cashier. An optional customer id
// is written with the order itself, so an unknown customer fails the whole
// creation instead of leaving an orphan order behind.
func (s *Service) NewOrder(ctx context.Context, customerID string) (domain.Order, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return domain.Order{}, err
	}

	created, err := s.repo.CreateOrder(ctx, domain.Order{UserID: actor.UserID, CustomerID: customerID})
	if err != nil {
		return domain.Order{}, err
	}
	s.logAudit(ctx, "order_create", "order", created.ID, "")
	return *created, nil
}

func (s *Service) AddItem(ctx context.Context, orderID, itemID string) error {
	if _, err := s.requireActor(ctx); err != nil {
		return err
	}
	return s.repo.AddOrderItem(ctx, orderID, itemID)
}

func (s *Service) RemoveItem(ctx context.Context, orderID, itemID string) error {
	if _, err := s.requireActor(ctx); err != nil {
		return err
	}
	return s.repo.RemoveOrderItem(ctx, orderID, itemID)
}

func (s *Service) AttachCustomer(ctx context.Context, orderID, customerID string) error {
	if _, err := s.requireActor(ctx); err != nil {
		return err
	}
	if err := s.repo.AttachCustomer(ctx, orderID, customerID); err != nil {
		return err
	}
	s.logAudit(ctx, "order_attach_customer", "order", orderID, "customer="+customerID)
	return nil
}

func (s *Service) Finalize(ctx context.Context, orderID, paymentTypeID string) error {
	if _, err := s.requireActor(ctx); err != nil {
		return err
	}
	if err := s.repo.FinalizeOrder(ctx, orderID, paymentTypeID); err != nil {
		return err
	}
	s.logAudit(ctx, "order_finalize", "order", orderID, "payment="+paymentTypeID)
	return nil
}

// FinalizeWithCustomer attaches the customer and records payment atomically.
// If the payment type is unknown, the customer attachment does not stick
// either.
func (s *Service) FinalizeWithCustomer(ctx context.Context, orderID, customerID, paymentTypeID string) error {
	if _, err := s.requireActor(ctx); err != nil {
		return err
	}
	if err := s.repo.FinalizeOrderWithCustomer(ctx, orderID, customerID, paymentTypeID); err != nil {
		return err
	}
	s.logAudit(ctx, "order_finalize", "order", orderID, fmt.Sprintf("payment=%s,customer=%s", paymentTypeID, customerID))
	return nil
}

func (s *Service) IsPaid(ctx context.Context, orderID string) (bool, error) {
	return s.repo.IsOrderPaid(ctx, orderID)
}

// Details returns the order with its own lines and totals, valued at current
// master prices.
func (s *Service) Details(ctx context.Context, orderID string) (domain.OrderDetails, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return domain.OrderDetails{}, err
	}
	lines, err := s.repo.GetOrderLines(ctx, orderID)
	if err != nil {
		return domain.OrderDetails{}, err
	}
	return s.buildDetails(*order, lines), nil
}

// NetDetails returns the order's lines netted against its entire return
// chain. Without returns this equals Details. Only original orders can be
// netted; a return order is not a root.
func (s *Service) NetDetails(ctx context.Context, orderID string) (domain.OrderDetails, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return domain.OrderDetails{}, err
	}
	if order.ReturnOf != "" {
		return domain.OrderDetails{}, store.ErrNotFound
	}
	lines, err := s.repo.GetNetOrderLines(ctx, orderID)
	if err != nil {
		return domain.OrderDetails{}, err
	}
	return s.buildDetails(*order, lines), nil
}

func (s *Service) buildDetails(order domain.Order, lines []domain.LineDetail) domain.OrderDetails {
	details := domain.OrderDetails{
		Order:    order,
		Lines:    lines,
		Subtotal: decimal.Zero,
		TaxA:     decimal.Zero,
		TaxB:     decimal.Zero,
		Total:    decimal.Zero,
	}
	for _, line := range lines {
		sub, taxA, taxB, total := s.calc.Line(line.Price, line.Quantity, line.TaxA, line.TaxB)
		details.Subtotal = details.Subtotal.Add(sub)
		details.TaxA = details.TaxA.Add(taxA)
		details.TaxB = details.TaxB.Add(taxB)
		details.Total = details.Total.Add(total)
	}
	return details
}

// CreateReturn opens a return order against an original sale. Chaining a
// return off another return is rejected: corrections always reference the
// original sale, keeping every chain one level of indirection deep per link.
// CreateReturn opens a return order against an original. The customer
// defaults to the original's unless an override is supplied. Returns cannot
// themselves be returned against.
func (s *Service) CreateReturn(ctx context.Context, orderID, customerID string) (domain.Order, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return domain.Order{}, err
	}

	original, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if original.ReturnOf != "" {
		return domain.Order{}, store.ErrNotFound
	}
	if customerID == "" {
		customerID = original.CustomerID
	}

	created, err := s.repo.CreateOrder(ctx, domain.Order{
		UserID:     actor.UserID,
		CustomerID: customerID,
		ReturnOf:   original.ID,
	})
	if err != nil {
		return domain.Order{}, err
	}
	s.logAudit(ctx, "return_create", "order", created.ID, "return_of="+original.ID)
	return *created, nil
}

// SetReturnItem records a negative line on a return order. Positive
// quantities never appear on returns.
func (s *Service) SetReturnItem(ctx context.Context, returnID, itemID string, quantity int64) error {
	if _, err := s.requireActor(ctx); err != nil {
		return err
	}
	if quantity > 0 {
		return store.ErrInvalidQuantity
	}

	ret, err := s.repo.GetOrder(ctx, returnID)
	if err != nil {
		return err
	}
	if ret.ReturnOf == "" {
		return store.ErrNotFound
	}
	return s.repo.SetOrderItem(ctx, returnID, itemID, quantity)
}

func (s *Service) CreateCount(ctx context.Context) (domain.InventoryCount, error) {
	if _, err := s.requireManager(ctx); err != nil {
		return domain.InventoryCount{}, err
	}

	created, err := s.repo.CreateCount(ctx, domain.InventoryCount{})
	if err != nil {
		return domain.InventoryCount{}, err
	}
	s.logAudit(ctx, "count_create", "inventory_count", created.ID, "")
	return *created, nil
}

func (s *Service) SetCountItem(ctx context.Context, countID, itemID string, quantity int64) error {
	if _, err := s.requireManager(ctx); err != nil {
		return err
	}
	if quantity < 0 {
		return store.ErrInvalidQuantity
	}
	return s.repo.SetCountItem(ctx, countID, itemID, quantity)
}

func (s *Service) CreateAdjustment(ctx context.Context, reason string) (domain.StockAdjustment, error) {
	if _, err := s.requireManager(ctx); err != nil {
		return domain.StockAdjustment{}, err
	}

	created, err := s.repo.CreateAdjustment(ctx, domain.StockAdjustment{Reason: strings.TrimSpace(reason)})
	if err != nil {
		return domain.StockAdjustment{}, err
	}
	s.logAudit(ctx, "adjustment_create", "stock_adjustment", created.ID, created.Reason)
	return *created, nil
}

// SetAdjustmentItem records a signed quantity delta: negative for shrinkage
// and write-offs, positive for received stock.
func (s *Service) SetAdjustmentItem(ctx context.Context, adjustmentID, itemID string, quantity int64) error {
	if _, err := s.requireManager(ctx); err != nil {
		return err
	}
	return s.repo.SetAdjustmentItem(ctx, adjustmentID, itemID, quantity)
}

func (s *Service) ListCounts(ctx context.Context) ([]domain.InventoryCount, error) {
	if _, err := s.requireManager(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListCounts(ctx)
}

func (s *Service) CountWindow(ctx context.Context, countID string) (domain.CountWindow, error) {
	if _, err := s.requireManager(ctx); err != nil {
		return domain.CountWindow{}, err
	}
	window, err := s.repo.CountWindow(ctx, countID)
	if err != nil {
		return domain.CountWindow{}, err
	}
	return *window, nil
}

func (s *Service) CountDetails(ctx context.Context, countID string) ([]domain.CountDetailsRecord, error) {
	if _, err := s.requireManager(ctx); err != nil {
		return nil, err
	}
	return s.repo.CountDetails(ctx, countID)
}

func (s *Service) LiveInventory(ctx context.Context) ([]domain.LiveInventoryRecord, error) {
	if _, err := s.requireManager(ctx); err != nil {
		return nil, err
	}
	return s.repo.LiveInventory(ctx, time.Now().UTC())
}

func (s *Service) HourlyReport(ctx context.Context, from, to string) ([]domain.HourlySales, error) {
	if _, err := s.requireManager(ctx); err != nil {
		return nil, err
	}
	fromT, toT, err := parseDateRange(from, to)
	if err != nil {
		return nil, err
	}

	key := reportKey("hourly", from, to)
	var cached []domain.HourlySales
	if s.reportFromCache(ctx, key, &cached) {
		return cached, nil
	}
	result, err := s.repo.HourlySales(ctx, fromT, toT)
	if err != nil {
		return nil, err
	}
	s.reportToCache(ctx, key, result)
	return result, nil
}

func (s *Service) DailyReport(ctx context.Context, from, to string) ([]domain.DailySales, error) {
	if _, err := s.requireManager(ctx); err != nil {
		return nil, err
	}
	fromT, toT, err := parseDateRange(from, to)
	if err != nil {
		return nil, err
	}

	key := reportKey("daily", from, to)
	var cached []domain.DailySales
	if s.reportFromCache(ctx, key, &cached) {
		return cached, nil
	}
	result, err := s.repo.DailySales(ctx, fromT, toT)
	if err != nil {
		return nil, err
	}
	s.reportToCache(ctx, key, result)
	return result, nil
}

func (s *Service) CashierReport(ctx context.Context, from, to string) ([]domain.CashierSales, error) {
	if _, err := s.requireManager(ctx); err != nil {
		return nil, err
	}
	fromT, toT, err := parseDateRange(from, to)
	if err != nil {
		return nil, err
	}

	key := reportKey("cashier", from, to)
	var cached []domain.CashierSales
	if s.reportFromCache(ctx, key, &cached) {
		return cached, nil
	}
	result, err := s.repo.CashierSales(ctx, fromT, toT)
	if err != nil {
		return nil, err
	}
	s.reportToCache(ctx, key, result)
	return result, nil
}

func (s *Service) ItemReport(ctx context.Context, from, to string) ([]domain.ItemSales, error) {
	if _, err := s.requireManager(ctx); err != nil {
		return nil, err
	}
	fromT, toT, err := parseDateRange(from, to)
	if err != nil {
		return nil, err
	}

	key := reportKey("item", from, to)
	var cached []domain.ItemSales
	if s.reportFromCache(ctx, key, &cached) {
		return cached, nil
	}
	result, err := s.repo.ItemSales(ctx, fromT, toT)
	if err != nil {
		return nil, err
	}
	s.reportToCache(ctx, key, result)
	return result, nil
}

// parseDateRange turns inclusive calendar dates into the half-open UTC
// instant range [from 00:00, to+1d 00:00).
func parseDateRange(from, to string) (time.Time, time.Time, error) {
	fromT, err := time.ParseInLocation("2006-01-02", from, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, ErrInvalidRange
	}
	toT, err := time.ParseInLocation("2006-01-02", to, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, ErrInvalidRange
	}
	if toT.Before(fromT) {
		return time.Time{}, time.Time{}, ErrInvalidRange
	}
	return fromT, toT.AddDate(0, 0, 1), nil
}

func reportKey(kind, from, to string) string {
	return fmt.Sprintf("tillpoint:report:%s:%s:%s", kind, from, to)
}

func (s *Service) reportFromCache(ctx context.Context, key string, out any) bool {
	payload, ok, err := s.reports.Get(ctx, key)
	if err != nil {
		log.Printf("[service] WARN: report cache get failed key=%s: %v", key, err)
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(payload, out); err != nil {
		log.Printf("[service] WARN: report cache payload corrupt key=%s: %v", key, err)
		return false
	}
	return true
}

func (s *Service) reportToCache(ctx context.Context, key string, value any) {
	payload, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := s.reports.Set(ctx, key, payload, s.reportTTL); err != nil {
		log.Printf("[service] WARN: report cache set failed key=%s: %v", key, err)
	}
}

func (s *Service) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	if _, err := s.requireManager(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListUsers(ctx)
}

func (s *Service) CreateUser(ctx context.Context, username, password string, manager bool) error {
	if _, err := s.requireManager(ctx); err != nil {
		return err
	}
	// Stored lowercase; login lowercases its input before lookup.
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" {
		return fmt.Errorf("username required")
	}
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if err := s.repo.CreateUser(ctx, domain.UserAccount{
		ID:       xid.New("usr"),
		Username: username,
		Password: string(hash),
		Manager:  manager,
		Active:   true,
	}); err != nil {
		return err
	}
	s.logAudit(ctx, "user_create", "user", username, fmt.Sprintf("manager=%t", manager))
	return nil
}

// ChangePassword replaces the caller's own password after verifying the
// current one. Managers may also reset other users' passwords without the
// current-password check.
func (s *Service) ChangePassword(ctx context.Context, username, current, next string) error {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return err
	}
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" {
		username = actor.Username
	}
	if username != actor.Username && !actor.Manager {
		return ErrManagerRequired
	}
	if len(next) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}

	if username == actor.Username {
		user, err := s.repo.GetUserByUsername(ctx, username)
		if err != nil {
			return err
		}
		if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(current)) != nil {
			return fmt.Errorf("current password does not match")
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateUserPassword(ctx, username, string(hash)); err != nil {
		return err
	}
	s.logAudit(ctx, "user_password_change", "user", username, "")
	return nil
}

func (s *Service) ListAuditLogs(ctx context.Context, from, to string, limit int) ([]domain.AuditLog, error) {
	if _, err := s.requireManager(ctx); err != nil {
		return nil, err
	}
	fromT, toT, err := parseDateRange(from, to)
	if err != nil {
		return nil, err
	}
	return s.repo.ListAuditLogs(ctx, fromT, toT, limit)
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}
