// Package memory is the in-memory ledger used by tests and DATABASE_URL-less
// dev mode. It implements the same windowing, lineage and aggregation rules as
// the Postgres store.
package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"tillpoint/internal/domain"
	"tillpoint/internal/store"
	"tillpoint/internal/tax"
	"tillpoint/internal/xid"
)

type Store struct {
	mu   sync.RWMutex
	calc tax.Calculator

	categories      map[string]domain.Category
	items           map[string]domain.Item
	customers       map[string]domain.Customer
	paymentTypes    map[string]domain.PaymentType
	usersByUsername map[string]domain.UserAccount

	orders          map[string]domain.Order
	orderLines      map[string]map[string]int64
	returnsByParent map[string][]string

	counts          map[string]domain.InventoryCount
	countItems      map[string]map[string]int64
	adjustments     map[string]domain.StockAdjustment
	adjustmentItems map[string]map[string]int64

	auditLogs []domain.AuditLog
}

func New(calc tax.Calculator) *Store {
	return &Store{
		calc:            calc,
		categories:      make(map[string]domain.Category),
		items:           make(map[string]domain.Item),
		customers:       make(map[string]domain.Customer),
		paymentTypes:    make(map[string]domain.PaymentType),
		usersByUsername: make(map[string]domain.UserAccount),
		orders:          make(map[string]domain.Order),
		orderLines:      make(map[string]map[string]int64),
		returnsByParent: make(map[string][]string),
		counts:          make(map[string]domain.InventoryCount),
		countItems:      make(map[string]map[string]int64),
		adjustments:     make(map[string]domain.StockAdjustment),
		adjustmentItems: make(map[string]map[string]int64),
		auditLogs:       make([]domain.AuditLog, 0, 128),
	}
}

// seedUsers builds the initial user accounts for dev/demo mode. Credentials
// come from SEED_OWNER_PASSWORD and SEED_CASHIER_PASSWORD; unset variables
// fall back to hardcoded dev defaults with a warning. These credentials are
// never used in production (the backend uses PostgreSQL when DATABASE_URL is
// set).
func seedUsers() map[string]domain.UserAccount {
	ownerPwd := envOr("SEED_OWNER_PASSWORD", "owner123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_OWNER_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_OWNER_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		id       string
		username string
		password string
		manager  bool
	}{
		{"usr-owner", "owner", ownerPwd, true},
		{"usr-cashier", "cashier", cashierPwd, false},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			ID:        u.id,
			Username:  u.username,
			Password:  string(hash),
			Manager:   u.manager,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded(calc tax.Calculator) *Store {
	s := New(calc)

	categories := []domain.Category{
		{ID: "cat-drinks", Name: "Drinks"},
		{ID: "cat-snacks", Name: "Snacks"},
		{ID: "cat-produce", Name: "Produce"},
		{ID: "cat-bakery", Name: "Bakery"},
	}
	items := []domain.Item{
		{ID: "itm-cola", Name: "Cola Can", Price: decimal.RequireFromString("2.50"), CategoryID: "cat-drinks", TaxA: true, TaxB: true},
		{ID: "itm-coffee", Name: "Drip Coffee", Price: decimal.RequireFromString("3.25"), CategoryID: "cat-drinks", TaxA: true, TaxB: false},
		{ID: "itm-chips", Name: "Salted Chips", Price: decimal.RequireFromString("4.00"), CategoryID: "cat-snacks", TaxA: true, TaxB: true},
		{ID: "itm-choc", Name: "Chocolate Bar", Price: decimal.RequireFromString("1.75"), CategoryID: "cat-snacks", TaxA: true, TaxB: true},
		{ID: "itm-apple", Name: "Gala Apple", Price: decimal.RequireFromString("0.90"), CategoryID: "cat-produce", TaxA: false, TaxB: false},
		{ID: "itm-banana", Name: "Banana", Price: decimal.RequireFromString("0.60"), CategoryID: "cat-produce", TaxA: false, TaxB: false},
		{ID: "itm-bread", Name: "Sourdough Loaf", Price: decimal.RequireFromString("6.50"), CategoryID: "cat-bakery", TaxA: false, TaxB: true},
		{ID: "itm-croissant", Name: "Butter Croissant", Price: decimal.RequireFromString("3.80"), CategoryID: "cat-bakery", TaxA: true, TaxB: false},
	}
	paymentTypes := []domain.PaymentType{
		{ID: "pay-cash", Name: "Cash"},
		{ID: "pay-debit", Name: "Debit"},
		{ID: "pay-credit", Name: "Credit"},
	}
	customers := []domain.Customer{
		{ID: "cust-anna", Name: "Anna Fernandez", Phone: "555-0141", Email: "anna@example.com", CreatedAt: time.Now().UTC()},
		{ID: "cust-marcus", Name: "Marcus Webb", Phone: "555-0178", CreatedAt: time.Now().UTC()},
	}

	for _, c := range categories {
		s.categories[c.ID] = c
	}
	for _, it := range items {
		s.items[it.ID] = it
	}
	for _, pt := range paymentTypes {
		s.paymentTypes[pt.ID] = pt
	}
	for _, c := range customers {
		s.customers[c.ID] = c
	}
	s.usersByUsername = seedUsers()

	return s
}

func (s *Store) ListCategories(_ context.Context) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	categories := make([]domain.Category, 0, len(s.categories))
	for _, c := range s.categories {
		categories = append(categories, c)
	}
	slices.SortFunc(categories, func(a, b domain.Category) int {
		return strings.Compare(a.Name, b.Name)
	})
	return categories, nil
}

func (s *Store) CreateCategory(_ context.Context, category domain.Category) (*domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if category.Name == "" {
		return nil, store.ErrStorageFailure
	}
	if category.ID == "" {
		category.ID = xid.New("cat")
	}
	s.categories[category.ID] = category
	created := category
	return &created, nil
}

func (s *Store) ListItems(_ context.Context) ([]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.Item, 0, len(s.items))
	for _, it := range s.items {
		items = append(items, it)
	}
	slices.SortFunc(items, func(a, b domain.Item) int {
		if a.CategoryID == b.CategoryID {
			return strings.Compare(a.Name, b.Name)
		}
		return strings.Compare(a.CategoryID, b.CategoryID)
	})
	return items, nil
}

func (s *Store) GetItem(_ context.Context, itemID string) (*domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[itemID]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := item
	return &copied, nil
}

func (s *Store) CreateItem(_ context.Context, item domain.Item) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.categories[item.CategoryID]; !ok {
		return nil, store.ErrNotFound
	}
	if item.ID == "" {
		item.ID = xid.New("itm")
	}
	s.items[item.ID] = item
	created := item
	return &created, nil
}

func (s *Store) UpdateItem(_ context.Context, item domain.Item) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[item.ID]; !ok {
		return nil, store.ErrNotFound
	}
	if _, ok := s.categories[item.CategoryID]; !ok {
		return nil, store.ErrNotFound
	}
	s.items[item.ID] = item
	updated := item
	return &updated, nil
}

func (s *Store) ListPaymentTypes(_ context.Context) ([]domain.PaymentType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	types := make([]domain.PaymentType, 0, len(s.paymentTypes))
	for _, pt := range s.paymentTypes {
		types = append(types, pt)
	}
	slices.SortFunc(types, func(a, b domain.PaymentType) int {
		return strings.Compare(a.ID, b.ID)
	})
	return types, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	s.customers[customer.ID] = customer
	created := customer
	return &created, nil
}

func (s *Store) GetCustomer(_ context.Context, customerID string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, ok := s.customers[customerID]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := customer
	return &copied, nil
}

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		customers = append(customers, c)
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		return strings.Compare(a.Name, b.Name)
	})
	return customers, nil
}

func (s *Store) SearchCustomerOrders(_ context.Context, query string) ([]domain.CustomerOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(query))
	results := make([]domain.CustomerOrder, 0, 16)
	for _, order := range s.orders {
		if order.CustomerID == "" || order.PaymentTypeID == "" {
			continue
		}
		customer, ok := s.customers[order.CustomerID]
		if !ok {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(customer.Name), needle) &&
			!strings.Contains(strings.ToLower(customer.Phone), needle) &&
			!strings.Contains(strings.ToLower(customer.Email), needle) {
			continue
		}

		subtotal, taxA, taxB := s.orderTotalsLocked(order.ID)
		row := domain.CustomerOrder{
			OrderID:      order.ID,
			CustomerName: customer.Name,
			Phone:        customer.Phone,
			Email:        customer.Email,
			CreatedAt:    order.CreatedAt,
			Subtotal:     subtotal,
			TaxA:         taxA,
			TaxB:         taxB,
		}
		if pt, ok := s.paymentTypes[order.PaymentTypeID]; ok {
			row.PaymentType = pt.Name
		}
		if user := s.userByIDLocked(order.UserID); user != nil {
			row.Cashier = user.Username
		}
		results = append(results, row)
	}

	slices.SortFunc(results, func(a, b domain.CustomerOrder) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(a.OrderID, b.OrderID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return results, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		users = append(users, u)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.usersByUsername[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := user
	return &copied, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Username == "" {
		return store.ErrStorageFailure
	}
	if user.ID == "" {
		user.ID = xid.New("usr")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = passwordHash
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) CreateOrder(_ context.Context, order domain.Order) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if order.CustomerID != "" {
		if _, ok := s.customers[order.CustomerID]; !ok {
			return nil, store.ErrNotFound
		}
	}
	if order.ReturnOf != "" {
		if _, ok := s.orders[order.ReturnOf]; !ok {
			return nil, store.ErrNotFound
		}
	}
	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	order.HasReturns = false

	s.orders[order.ID] = order
	s.orderLines[order.ID] = make(map[string]int64)
	if order.ReturnOf != "" {
		s.returnsByParent[order.ReturnOf] = append(s.returnsByParent[order.ReturnOf], order.ID)
	}
	created := order
	return &created, nil
}

func (s *Store) GetOrder(_ context.Context, orderID string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := order
	copied.HasReturns = len(s.returnsByParent[orderID]) > 0
	return &copied, nil
}

func (s *Store) AddOrderItem(_ context.Context, orderID, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOrderItemLocked(orderID, itemID); err != nil {
		return err
	}
	s.orderLines[orderID][itemID]++
	return nil
}

// RemoveOrderItem decrements by one, floored at zero. The zero-quantity line
// stays recorded. Removing an item never added is a no-op.
func (s *Store) RemoveOrderItem(_ context.Context, orderID, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOrderItemLocked(orderID, itemID); err != nil {
		return err
	}
	lines := s.orderLines[orderID]
	if qty, ok := lines[itemID]; ok && qty > 0 {
		lines[itemID] = qty - 1
	}
	return nil
}

func (s *Store) SetOrderItem(_ context.Context, orderID, itemID string, quantity int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOrderItemLocked(orderID, itemID); err != nil {
		return err
	}
	s.orderLines[orderID][itemID] = quantity
	return nil
}

func (s *Store) checkOrderItemLocked(orderID, itemID string) error {
	if _, ok := s.orders[orderID]; !ok {
		return store.ErrNotFound
	}
	if _, ok := s.items[itemID]; !ok {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) AttachCustomer(_ context.Context, orderID, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return store.ErrNotFound
	}
	if _, ok := s.customers[customerID]; !ok {
		return store.ErrNotFound
	}
	order.CustomerID = customerID
	s.orders[orderID] = order
	return nil
}

// FinalizeOrder marks the order paid. Re-finalizing with a different payment
// type is allowed; the ledger keeps no lock on the field.
func (s *Store) FinalizeOrder(_ context.Context, orderID, paymentTypeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalizeLocked(orderID, paymentTypeID)
}

// FinalizeOrderWithCustomer attaches the customer and finalizes as one
// all-or-nothing unit: a failed step leaves the order untouched.
func (s *Store) FinalizeOrderWithCustomer(_ context.Context, orderID, customerID, paymentTypeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return store.ErrNotFound
	}
	if _, ok := s.customers[customerID]; !ok {
		return store.ErrNotFound
	}
	if _, ok := s.paymentTypes[paymentTypeID]; !ok {
		return store.ErrInvalidPayment
	}
	order.CustomerID = customerID
	order.PaymentTypeID = paymentTypeID
	s.orders[orderID] = order
	return nil
}

func (s *Store) finalizeLocked(orderID, paymentTypeID string) error {
	order, ok := s.orders[orderID]
	if !ok {
		return store.ErrNotFound
	}
	if _, ok := s.paymentTypes[paymentTypeID]; !ok {
		return store.ErrInvalidPayment
	}
	order.PaymentTypeID = paymentTypeID
	s.orders[orderID] = order
	return nil
}

func (s *Store) IsOrderPaid(_ context.Context, orderID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[orderID]
	if !ok {
		return false, store.ErrNotFound
	}
	return order.PaymentTypeID != "", nil
}

func (s *Store) GetOrderLines(_ context.Context, orderID string) ([]domain.LineDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.orders[orderID]; !ok {
		return nil, store.ErrNotFound
	}
	return s.lineDetailsLocked(s.orderLines[orderID]), nil
}

// GetNetOrderLines resolves the transitive return chain rooted at orderID and
// sums quantities per item across the whole subtree. The returnOf relation is
// a forest (one parent per order), so an iterative frontier walk suffices and
// cannot cycle.
func (s *Store) GetNetOrderLines(_ context.Context, orderID string) ([]domain.LineDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.orders[orderID]; !ok {
		return nil, store.ErrNotFound
	}

	net := make(map[string]int64)
	frontier := []string{orderID}
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		for itemID, qty := range s.orderLines[id] {
			net[itemID] += qty
		}
		frontier = append(frontier, s.returnsByParent[id]...)
	}
	return s.lineDetailsLocked(net), nil
}

func (s *Store) lineDetailsLocked(lines map[string]int64) []domain.LineDetail {
	details := make([]domain.LineDetail, 0, len(lines))
	for itemID, qty := range lines {
		item, ok := s.items[itemID]
		if !ok {
			continue
		}
		details = append(details, domain.LineDetail{
			ItemID:     item.ID,
			Name:       item.Name,
			Price:      item.Price,
			CategoryID: item.CategoryID,
			TaxA:       item.TaxA,
			TaxB:       item.TaxB,
			Quantity:   qty,
		})
	}
	slices.SortFunc(details, func(a, b domain.LineDetail) int {
		return strings.Compare(a.ItemID, b.ItemID)
	})
	return details
}

func (s *Store) orderTotalsLocked(orderID string) (subtotal, taxA, taxB decimal.Decimal) {
	subtotal, taxA, taxB = decimal.Zero, decimal.Zero, decimal.Zero
	for itemID, qty := range s.orderLines[orderID] {
		item, ok := s.items[itemID]
		if !ok {
			continue
		}
		lineSub, lineA, lineB, _ := s.calc.Line(item.Price, qty, item.TaxA, item.TaxB)
		subtotal = subtotal.Add(lineSub)
		taxA = taxA.Add(lineA)
		taxB = taxB.Add(lineB)
	}
	return subtotal, taxA, taxB
}

func (s *Store) CreateCount(_ context.Context, count domain.InventoryCount) (*domain.InventoryCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if count.ID == "" {
		count.ID = xid.New("cnt")
	}
	if count.CreatedAt.IsZero() {
		count.CreatedAt = time.Now().UTC()
	}
	s.counts[count.ID] = count
	s.countItems[count.ID] = make(map[string]int64)
	created := count
	return &created, nil
}

func (s *Store) SetCountItem(_ context.Context, countID, itemID string, quantity int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if quantity < 0 {
		return store.ErrInvalidQuantity
	}
	if _, ok := s.counts[countID]; !ok {
		return store.ErrNotFound
	}
	if _, ok := s.items[itemID]; !ok {
		return store.ErrNotFound
	}
	s.countItems[countID][itemID] = quantity
	return nil
}

func (s *Store) CreateAdjustment(_ context.Context, adjustment domain.StockAdjustment) (*domain.StockAdjustment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if adjustment.ID == "" {
		adjustment.ID = xid.New("adj")
	}
	if adjustment.CreatedAt.IsZero() {
		adjustment.CreatedAt = time.Now().UTC()
	}
	s.adjustments[adjustment.ID] = adjustment
	s.adjustmentItems[adjustment.ID] = make(map[string]int64)
	created := adjustment
	return &created, nil
}

func (s *Store) SetAdjustmentItem(_ context.Context, adjustmentID, itemID string, quantity int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.adjustments[adjustmentID]; !ok {
		return store.ErrNotFound
	}
	if _, ok := s.items[itemID]; !ok {
		return store.ErrNotFound
	}
	s.adjustmentItems[adjustmentID][itemID] = quantity
	return nil
}

func (s *Store) ListCounts(_ context.Context) ([]domain.InventoryCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedCountsLocked(), nil
}

func (s *Store) sortedCountsLocked() []domain.InventoryCount {
	counts := make([]domain.InventoryCount, 0, len(s.counts))
	for _, c := range s.counts {
		counts = append(counts, c)
	}
	slices.SortFunc(counts, func(a, b domain.InventoryCount) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(a.ID, b.ID)
		}
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return counts
}

func (s *Store) CountWindow(_ context.Context, countID string) (*domain.CountWindow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countWindowLocked(countID)
}

func (s *Store) countWindowLocked(countID string) (*domain.CountWindow, error) {
	counts := s.sortedCountsLocked()
	for i, c := range counts {
		if c.ID != countID {
			continue
		}
		window := domain.CountWindow{To: c.CreatedAt}
		if i > 0 {
			from := counts[i-1].CreatedAt
			window.From = &from
		}
		return &window, nil
	}
	return nil, store.ErrNotFound
}

func (s *Store) previousCountIDLocked(countID string) string {
	counts := s.sortedCountsLocked()
	for i, c := range counts {
		if c.ID == countID && i > 0 {
			return counts[i-1].ID
		}
	}
	return ""
}

func (s *Store) CountDetails(_ context.Context, countID string) ([]domain.CountDetailsRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	window, err := s.countWindowLocked(countID)
	if err != nil {
		return nil, err
	}
	prevID := s.previousCountIDLocked(countID)
	sold := s.soldInWindowLocked(*window)
	adjusted := s.adjustedInWindowLocked(*window)

	records := make([]domain.CountDetailsRecord, 0, len(s.items))
	for _, item := range s.items {
		record := domain.CountDetailsRecord{
			CategoryID:         item.CategoryID,
			ItemID:             item.ID,
			ItemName:           item.Name,
			QuantitySold:       sold[item.ID],
			AdjustmentQuantity: adjusted[item.ID],
			ActualQuantity:     s.countItems[countID][item.ID],
		}
		if prevID != "" {
			record.PreviousQuantity = s.countItems[prevID][item.ID]
		}
		if cat, ok := s.categories[item.CategoryID]; ok {
			record.CategoryName = cat.Name
		}
		record.TheoreticalQuantity = record.PreviousQuantity - record.QuantitySold + record.AdjustmentQuantity
		record.Difference = record.TheoreticalQuantity - record.ActualQuantity
		records = append(records, record)
	}
	sortCountRecords(records)
	return records, nil
}

func (s *Store) LiveInventory(_ context.Context, now time.Time) ([]domain.LiveInventoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now = now.UTC()
	window := domain.CountWindow{To: now}
	lastCountID := ""
	if counts := s.sortedCountsLocked(); len(counts) > 0 {
		last := counts[len(counts)-1]
		lastCountID = last.ID
		from := last.CreatedAt
		window.From = &from
	}

	sold := s.soldInWindowLocked(window)
	adjusted := s.adjustedInWindowLocked(window)
	daySold := make(map[string]int64)
	monthSold := make(map[string]int64)
	for orderID, order := range s.orders {
		created := order.CreatedAt.UTC()
		sameDay := created.Year() == now.Year() && created.YearDay() == now.YearDay()
		sameMonth := created.Year() == now.Year() && created.Month() == now.Month()
		if !sameDay && !sameMonth {
			continue
		}
		for itemID, qty := range s.orderLines[orderID] {
			if sameDay {
				daySold[itemID] += qty
			}
			if sameMonth {
				monthSold[itemID] += qty
			}
		}
	}

	date := now.Format("2006-01-02")
	records := make([]domain.LiveInventoryRecord, 0, len(s.items))
	for _, item := range s.items {
		record := domain.LiveInventoryRecord{
			CategoryID:         item.CategoryID,
			ItemID:             item.ID,
			ItemName:           item.Name,
			Date:               date,
			DayQuantity:        daySold[item.ID],
			MonthQuantity:      monthSold[item.ID],
			AdjustmentQuantity: adjusted[item.ID],
			QuantitySold:       sold[item.ID],
		}
		if lastCountID != "" {
			record.CountQuantity = s.countItems[lastCountID][item.ID]
		}
		if cat, ok := s.categories[item.CategoryID]; ok {
			record.CategoryName = cat.Name
		}
		record.TheoreticalQuantity = record.CountQuantity - record.QuantitySold + record.AdjustmentQuantity
		records = append(records, record)
	}
	slices.SortFunc(records, func(a, b domain.LiveInventoryRecord) int {
		if a.CategoryName == b.CategoryName {
			return strings.Compare(a.ItemName, b.ItemName)
		}
		return strings.Compare(a.CategoryName, b.CategoryName)
	})
	return records, nil
}

// soldInWindowLocked sums signed line quantities of every order created in
// the window. Return orders carry negative lines, so sales net of returns
// fall out of the plain sum.
func (s *Store) soldInWindowLocked(window domain.CountWindow) map[string]int64 {
	sold := make(map[string]int64)
	for orderID, order := range s.orders {
		if !window.Contains(order.CreatedAt) {
			continue
		}
		for itemID, qty := range s.orderLines[orderID] {
			sold[itemID] += qty
		}
	}
	return sold
}

func (s *Store) adjustedInWindowLocked(window domain.CountWindow) map[string]int64 {
	adjusted := make(map[string]int64)
	for adjID, adj := range s.adjustments {
		if !window.Contains(adj.CreatedAt) {
			continue
		}
		for itemID, qty := range s.adjustmentItems[adjID] {
			adjusted[itemID] += qty
		}
	}
	return adjusted
}

func sortCountRecords(records []domain.CountDetailsRecord) {
	slices.SortFunc(records, func(a, b domain.CountDetailsRecord) int {
		if a.CategoryName == b.CategoryName {
			return strings.Compare(a.ItemName, b.ItemName)
		}
		return strings.Compare(a.CategoryName, b.CategoryName)
	})
}

func (s *Store) HourlySales(_ context.Context, from, to time.Time) ([]domain.HourlySales, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	buckets := make(map[int]*domain.HourlySales)
	for orderID, order := range s.orders {
		if !s.inReportRangeLocked(order, from, to) {
			continue
		}
		hour := order.CreatedAt.UTC().Hour()
		bucket := buckets[hour]
		if bucket == nil {
			bucket = &domain.HourlySales{Hour: hour, Subtotal: decimal.Zero, TaxA: decimal.Zero, TaxB: decimal.Zero}
			buckets[hour] = bucket
		}
		s.accumulateOrderLocked(orderID, &bucket.NumOrders, &bucket.NumItems, &bucket.Subtotal, &bucket.TaxA, &bucket.TaxB)
	}

	result := make([]domain.HourlySales, 0, len(buckets))
	for _, bucket := range buckets {
		result = append(result, *bucket)
	}
	slices.SortFunc(result, func(a, b domain.HourlySales) int { return a.Hour - b.Hour })
	return result, nil
}

func (s *Store) DailySales(_ context.Context, from, to time.Time) ([]domain.DailySales, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	buckets := make(map[string]*domain.DailySales)
	for orderID, order := range s.orders {
		if !s.inReportRangeLocked(order, from, to) {
			continue
		}
		day := order.CreatedAt.UTC().Format("2006-01-02")
		bucket := buckets[day]
		if bucket == nil {
			bucket = &domain.DailySales{Day: day, Subtotal: decimal.Zero, TaxA: decimal.Zero, TaxB: decimal.Zero}
			buckets[day] = bucket
		}
		s.accumulateOrderLocked(orderID, &bucket.NumOrders, &bucket.NumItems, &bucket.Subtotal, &bucket.TaxA, &bucket.TaxB)
	}

	result := make([]domain.DailySales, 0, len(buckets))
	for _, bucket := range buckets {
		result = append(result, *bucket)
	}
	slices.SortFunc(result, func(a, b domain.DailySales) int { return strings.Compare(a.Day, b.Day) })
	return result, nil
}

func (s *Store) CashierSales(_ context.Context, from, to time.Time) ([]domain.CashierSales, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	buckets := make(map[string]*domain.CashierSales)
	for orderID, order := range s.orders {
		if !s.inReportRangeLocked(order, from, to) {
			continue
		}
		key := order.UserID + "|" + order.PaymentTypeID
		bucket := buckets[key]
		if bucket == nil {
			bucket = &domain.CashierSales{
				UserID:        order.UserID,
				PaymentTypeID: order.PaymentTypeID,
				Subtotal:      decimal.Zero,
				TaxA:          decimal.Zero,
				TaxB:          decimal.Zero,
			}
			if user := s.userByIDLocked(order.UserID); user != nil {
				bucket.Username = user.Username
			}
			if pt, ok := s.paymentTypes[order.PaymentTypeID]; ok {
				bucket.PaymentType = pt.Name
			}
			buckets[key] = bucket
		}
		s.accumulateOrderLocked(orderID, &bucket.NumOrders, &bucket.NumItems, &bucket.Subtotal, &bucket.TaxA, &bucket.TaxB)
	}

	result := make([]domain.CashierSales, 0, len(buckets))
	for _, bucket := range buckets {
		result = append(result, *bucket)
	}
	slices.SortFunc(result, func(a, b domain.CashierSales) int {
		if a.Username == b.Username {
			return strings.Compare(a.PaymentTypeID, b.PaymentTypeID)
		}
		return strings.Compare(a.Username, b.Username)
	})
	return result, nil
}

// ItemSales aggregates quantity per item first, then applies price and tax
// rates to the aggregated quantity. Equivalent to per-line computation since
// the price is constant per item within the window.
func (s *Store) ItemSales(_ context.Context, from, to time.Time) ([]domain.ItemSales, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	quantities := make(map[string]int64)
	for orderID, order := range s.orders {
		if !s.inReportRangeLocked(order, from, to) {
			continue
		}
		for itemID, qty := range s.orderLines[orderID] {
			quantities[itemID] += qty
		}
	}

	result := make([]domain.ItemSales, 0, len(quantities))
	for itemID, qty := range quantities {
		item, ok := s.items[itemID]
		if !ok {
			continue
		}
		subtotal, taxA, taxB, _ := s.calc.Line(item.Price, qty, item.TaxA, item.TaxB)
		row := domain.ItemSales{
			ItemID:     item.ID,
			ItemName:   item.Name,
			CategoryID: item.CategoryID,
			Quantity:   qty,
			Subtotal:   subtotal,
			TaxA:       taxA,
			TaxB:       taxB,
		}
		if cat, ok := s.categories[item.CategoryID]; ok {
			row.CategoryName = cat.Name
		}
		result = append(result, row)
	}
	slices.SortFunc(result, func(a, b domain.ItemSales) int {
		if a.CategoryName == b.CategoryName {
			return strings.Compare(a.ItemName, b.ItemName)
		}
		return strings.Compare(a.CategoryName, b.CategoryName)
	})
	return result, nil
}

// inReportRangeLocked applies the report inclusion rule: finalized orders
// only, created within [from, to).
func (s *Store) inReportRangeLocked(order domain.Order, from, to time.Time) bool {
	if order.PaymentTypeID == "" {
		return false
	}
	created := order.CreatedAt.UTC()
	return !created.Before(from) && created.Before(to)
}

func (s *Store) accumulateOrderLocked(orderID string, numOrders, numItems *int64, subtotal, taxA, taxB *decimal.Decimal) {
	*numOrders++
	for itemID, qty := range s.orderLines[orderID] {
		item, ok := s.items[itemID]
		if !ok {
			continue
		}
		*numItems += qty
		lineSub, lineA, lineB, _ := s.calc.Line(item.Price, qty, item.TaxA, item.TaxB)
		*subtotal = subtotal.Add(lineSub)
		*taxA = taxA.Add(lineA)
		*taxB = taxB.Add(lineB)
	}
}

func (s *Store) userByIDLocked(userID string) *domain.UserAccount {
	for _, u := range s.usersByUsername {
		if u.ID == userID {
			copied := u
			return &copied
		}
	}
	return nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 100
	}
	logs := make([]domain.AuditLog, 0, limit)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		logs = append(logs, entry)
	}
	slices.SortFunc(logs, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if len(logs) > limit {
		logs = logs[:limit]
	}
	return logs, nil
}
