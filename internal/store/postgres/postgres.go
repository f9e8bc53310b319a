// Package postgres is the durable ledger backing. All money arithmetic runs
// in-database as exact numeric so report sums reconcile with the per-order
// totals computed in Go.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"tillpoint/internal/domain"
	"tillpoint/internal/store"
	"tillpoint/internal/tax"
	"tillpoint/internal/xid"
)

type Store struct {
	db   *sql.DB
	calc tax.Calculator
}

func New(ctx context.Context, databaseURL string, calc tax.Calculator) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, calc: calc}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name
		FROM categories
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := make([]domain.Category, 0, 16)
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

func (s *Store) CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error) {
	if category.ID == "" {
		category.ID = xid.New("cat")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (id, name)
		VALUES ($1,$2)
	`, category.ID, category.Name)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrStorageFailure
		}
		return nil, fmt.Errorf("%w: %v", store.ErrStorageFailure, err)
	}
	created := category
	return &created, nil
}

func (s *Store) ListItems(ctx context.Context) ([]domain.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.id, i.name, i.price, i.category_id, i.tax_a, i.tax_b
		FROM items i
		JOIN categories c ON c.id = i.category_id
		ORDER BY c.name, i.name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Item, 0, 128)
	for rows.Next() {
		var it domain.Item
		if err := rows.Scan(&it.ID, &it.Name, &it.Price, &it.CategoryID, &it.TaxA, &it.TaxB); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *Store) GetItem(ctx context.Context, itemID string) (*domain.Item, error) {
	var it domain.Item
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, price, category_id, tax_a, tax_b
		FROM items
		WHERE id = $1
	`, itemID).Scan(&it.ID, &it.Name, &it.Price, &it.CategoryID, &it.TaxA, &it.TaxB)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &it, nil
}

func (s *Store) CreateItem(ctx context.Context, item domain.Item) (*domain.Item, error) {
	if item.ID == "" {
		item.ID = xid.New("itm")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (id, name, price, category_id, tax_a, tax_b)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, item.ID, item.Name, item.Price, item.CategoryID, item.TaxA, item.TaxB)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", store.ErrStorageFailure, err)
	}
	created := item
	return &created, nil
}

func (s *Store) UpdateItem(ctx context.Context, item domain.Item) (*domain.Item, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE items
		SET name = $2, price = $3, category_id = $4, tax_a = $5, tax_b = $6
		WHERE id = $1
	`, item.ID, item.Name, item.Price, item.CategoryID, item.TaxA, item.TaxB)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	updated := item
	return &updated, nil
}

func (s *Store) ListPaymentTypes(ctx context.Context) ([]domain.PaymentType, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name
		FROM payment_types
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	types := make([]domain.PaymentType, 0, 8)
	for rows.Next() {
		var pt domain.PaymentType
		if err := rows.Scan(&pt.ID, &pt.Name); err != nil {
			return nil, err
		}
		types = append(types, pt)
	}
	return types, rows.Err()
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, phone, email, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, customer.ID, customer.Name, nullIfEmpty(customer.Phone), nullIfEmpty(customer.Email), customer.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorageFailure, err)
	}
	created := customer
	return &created, nil
}

func (s *Store) GetCustomer(ctx context.Context, customerID string) (*domain.Customer, error) {
	var c domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(phone,''), COALESCE(email,''), created_at
		FROM customers
		WHERE id = $1
	`, customerID).Scan(&c.ID, &c.Name, &c.Phone, &c.Email, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(phone,''), COALESCE(email,''), created_at
		FROM customers
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 64)
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &c.Email, &c.CreatedAt); err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

func (s *Store) SearchCustomerOrders(ctx context.Context, query string) ([]domain.CustomerOrder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.id, cu.name, COALESCE(cu.phone,''), COALESCE(cu.email,''),
		       pt.name, u.username, o.created_at,
		       COALESCE(SUM(oi.quantity * i.price), 0),
		       COALESCE(SUM(CASE WHEN i.tax_a THEN oi.quantity * i.price * $2::numeric ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN i.tax_b THEN oi.quantity * i.price * $3::numeric ELSE 0 END), 0)
		FROM orders o
		JOIN customers cu ON cu.id = o.customer_id
		JOIN payment_types pt ON pt.id = o.payment_type_id
		JOIN users u ON u.id = o.user_id
		LEFT JOIN order_items oi ON oi.order_id = o.id
		LEFT JOIN items i ON i.id = oi.item_id
		WHERE $1 = ''
		   OR cu.name ILIKE '%' || $1 || '%'
		   OR cu.phone ILIKE '%' || $1 || '%'
		   OR cu.email ILIKE '%' || $1 || '%'
		GROUP BY o.id, cu.name, cu.phone, cu.email, pt.name, u.username, o.created_at
		ORDER BY o.created_at DESC, o.id
	`, query, s.calc.RateA, s.calc.RateB)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]domain.CustomerOrder, 0, 32)
	for rows.Next() {
		var r domain.CustomerOrder
		if err := rows.Scan(&r.OrderID, &r.CustomerName, &r.Phone, &r.Email,
			&r.PaymentType, &r.Cashier, &r.CreatedAt, &r.Subtotal, &r.TaxA, &r.TaxB); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, password_hash, manager, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.ID, &u.Username, &u.Password, &u.Manager, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error) {
	var u domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, manager, active, created_at
		FROM users
		WHERE username = $1
	`, username).Scan(&u.ID, &u.Username, &u.Password, &u.Manager, &u.Active, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.ID == "" {
		user.ID = xid.New("usr")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, manager, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, user.ID, user.Username, user.Password, user.Manager, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrStorageFailure
		}
		return fmt.Errorf("%w: %v", store.ErrStorageFailure, err)
	}
	return nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash = $2 WHERE username = $1
	`, username, passwordHash)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (id, customer_id, user_id, payment_type_id, return_of, created_at)
		VALUES ($1,$2,$3,NULL,$4,$5)
	`, order.ID, nullIfEmpty(order.CustomerID), order.UserID, nullIfEmpty(order.ReturnOf), order.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", store.ErrStorageFailure, err)
	}
	order.PaymentTypeID = ""
	order.HasReturns = false
	created := order
	return &created, nil
}

func (s *Store) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	var (
		o          domain.Order
		customerID sql.NullString
		paymentID  sql.NullString
		returnOf   sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT o.id, o.customer_id, o.user_id, o.payment_type_id, o.return_of, o.created_at,
		       EXISTS (SELECT 1 FROM orders r WHERE r.return_of = o.id)
		FROM orders o
		WHERE o.id = $1
	`, orderID).Scan(&o.ID, &customerID, &o.UserID, &paymentID, &returnOf, &o.CreatedAt, &o.HasReturns)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	o.CustomerID = customerID.String
	o.PaymentTypeID = paymentID.String
	o.ReturnOf = returnOf.String
	return &o, nil
}

func (s *Store) AddOrderItem(ctx context.Context, orderID, itemID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO order_items (order_id, item_id, quantity)
		VALUES ($1,$2,1)
		ON CONFLICT (order_id, item_id) DO UPDATE SET quantity = order_items.quantity + 1
	`, orderID, itemID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return store.ErrNotFound
		}
		return fmt.Errorf("%w: %v", store.ErrStorageFailure, err)
	}
	return nil
}

// RemoveOrderItem decrements by one, floored at zero. The line row stays; a
// zero-quantity line still shows on the receipt. Decrementing an item the
// order never had is a no-op.
func (s *Store) RemoveOrderItem(ctx context.Context, orderID, itemID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE order_items
		SET quantity = GREATEST(quantity - 1, 0)
		WHERE order_id = $1 AND item_id = $2
	`, orderID, itemID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// No line to decrement. Distinguish unknown ids from a plain no-op.
		if err := s.ensureExists(ctx, "orders", orderID); err != nil {
			return err
		}
		return s.ensureExists(ctx, "items", itemID)
	}
	return nil
}

func (s *Store) SetOrderItem(ctx context.Context, orderID, itemID string, quantity int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO order_items (order_id, item_id, quantity)
		VALUES ($1,$2,$3)
		ON CONFLICT (order_id, item_id) DO UPDATE SET quantity = EXCLUDED.quantity
	`, orderID, itemID, quantity)
	if err != nil {
		if isForeignKeyViolation(err) {
			return store.ErrNotFound
		}
		return fmt.Errorf("%w: %v", store.ErrStorageFailure, err)
	}
	return nil
}

func (s *Store) ensureExists(ctx context.Context, table string, id string) error {
	var exists bool
	// table is a compile-time constant at every call site, never user input.
	query := `SELECT EXISTS (SELECT 1 FROM ` + table + ` WHERE id = $1)`
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) AttachCustomer(ctx context.Context, orderID, customerID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET customer_id = $2 WHERE id = $1
	`, orderID, customerID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return store.ErrNotFound
		}
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) FinalizeOrder(ctx context.Context, orderID, paymentTypeID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET payment_type_id = $2 WHERE id = $1
	`, orderID, paymentTypeID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return store.ErrInvalidPayment
		}
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// FinalizeOrderWithCustomer attaches the customer and records payment in one
// serializable transaction. Either both stick or neither does.
func (s *Store) FinalizeOrderWithCustomer(ctx context.Context, orderID, customerID, paymentTypeID string) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE orders SET customer_id = $2 WHERE id = $1
	`, orderID, customerID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return store.ErrNotFound
		}
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE orders SET payment_type_id = $2 WHERE id = $1
	`, orderID, paymentTypeID); err != nil {
		if isForeignKeyViolation(err) {
			return store.ErrInvalidPayment
		}
		return err
	}

	return tx.Commit()
}

func (s *Store) IsOrderPaid(ctx context.Context, orderID string) (bool, error) {
	var paid bool
	err := s.db.QueryRowContext(ctx, `
		SELECT payment_type_id IS NOT NULL FROM orders WHERE id = $1
	`, orderID).Scan(&paid)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, store.ErrNotFound
		}
		return false, err
	}
	return paid, nil
}

func (s *Store) GetOrderLines(ctx context.Context, orderID string) ([]domain.LineDetail, error) {
	if err := s.ensureExists(ctx, "orders", orderID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.id, i.name, i.price, i.category_id, i.tax_a, i.tax_b, oi.quantity
		FROM order_items oi
		JOIN items i ON i.id = oi.item_id
		WHERE oi.order_id = $1
		ORDER BY i.id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLineDetails(rows)
}

// GetNetOrderLines walks the return chain rooted at orderID level by level
// and sums quantities per item across every order in the chain. The walk runs
// inside one serializable read-only transaction so a return finalized halfway
// through cannot skew the sums.
func (s *Store) GetNetOrderLines(ctx context.Context, orderID string) ([]domain.LineDetail, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable, ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)
	`, orderID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, store.ErrNotFound
	}

	chain := []string{orderID}
	frontier := []string{orderID}
	for len(frontier) > 0 {
		rows, err := tx.QueryContext(ctx, `
			SELECT id FROM orders WHERE return_of = ANY($1)
		`, frontier)
		if err != nil {
			return nil, err
		}
		next := make([]string, 0, 4)
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, err
			}
			next = append(next, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
		chain = append(chain, next...)
		frontier = next
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT i.id, i.name, i.price, i.category_id, i.tax_a, i.tax_b, SUM(oi.quantity)::bigint
		FROM order_items oi
		JOIN items i ON i.id = oi.item_id
		WHERE oi.order_id = ANY($1)
		GROUP BY i.id, i.name, i.price, i.category_id, i.tax_a, i.tax_b
		ORDER BY i.id
	`, chain)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	details, err := scanLineDetails(rows)
	if err != nil {
		return nil, err
	}
	return details, tx.Commit()
}

func scanLineDetails(rows *sql.Rows) ([]domain.LineDetail, error) {
	details := make([]domain.LineDetail, 0, 16)
	for rows.Next() {
		var d domain.LineDetail
		if err := rows.Scan(&d.ItemID, &d.Name, &d.Price, &d.CategoryID, &d.TaxA, &d.TaxB, &d.Quantity); err != nil {
			return nil, err
		}
		details = append(details, d)
	}
	return details, rows.Err()
}

func (s *Store) CreateCount(ctx context.Context, count domain.InventoryCount) (*domain.InventoryCount, error) {
	if count.ID == "" {
		count.ID = xid.New("cnt")
	}
	if count.CreatedAt.IsZero() {
		count.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory_counts (id, created_at) VALUES ($1,$2)
	`, count.ID, count.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorageFailure, err)
	}
	created := count
	return &created, nil
}

func (s *Store) SetCountItem(ctx context.Context, countID, itemID string, quantity int64) error {
	if quantity < 0 {
		return store.ErrInvalidQuantity
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory_count_items (count_id, item_id, quantity)
		VALUES ($1,$2,$3)
		ON CONFLICT (count_id, item_id) DO UPDATE SET quantity = EXCLUDED.quantity
	`, countID, itemID, quantity)
	if err != nil {
		if isForeignKeyViolation(err) {
			return store.ErrNotFound
		}
		return fmt.Errorf("%w: %v", store.ErrStorageFailure, err)
	}
	return nil
}

func (s *Store) CreateAdjustment(ctx context.Context, adjustment domain.StockAdjustment) (*domain.StockAdjustment, error) {
	if adjustment.ID == "" {
		adjustment.ID = xid.New("adj")
	}
	if adjustment.CreatedAt.IsZero() {
		adjustment.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stock_adjustments (id, reason, created_at) VALUES ($1,$2,$3)
	`, adjustment.ID, adjustment.Reason, adjustment.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorageFailure, err)
	}
	created := adjustment
	return &created, nil
}

func (s *Store) SetAdjustmentItem(ctx context.Context, adjustmentID, itemID string, quantity int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stock_adjustment_items (adjustment_id, item_id, quantity)
		VALUES ($1,$2,$3)
		ON CONFLICT (adjustment_id, item_id) DO UPDATE SET quantity = EXCLUDED.quantity
	`, adjustmentID, itemID, quantity)
	if err != nil {
		if isForeignKeyViolation(err) {
			return store.ErrNotFound
		}
		return fmt.Errorf("%w: %v", store.ErrStorageFailure, err)
	}
	return nil
}

func (s *Store) ListCounts(ctx context.Context) ([]domain.InventoryCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at
		FROM inventory_counts
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make([]domain.InventoryCount, 0, 32)
	for rows.Next() {
		var c domain.InventoryCount
		if err := rows.Scan(&c.ID, &c.CreatedAt); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

func (s *Store) CountWindow(ctx context.Context, countID string) (*domain.CountWindow, error) {
	return s.countWindow(ctx, s.db, countID)
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// countWindow resolves the half-open reconciliation interval a count closes:
// from the immediately preceding count (exclusive) to this count (inclusive).
// The first count has no lower bound.
func (s *Store) countWindow(ctx context.Context, q rowQuerier, countID string) (*domain.CountWindow, error) {
	var to time.Time
	err := q.QueryRowContext(ctx, `
		SELECT created_at FROM inventory_counts WHERE id = $1
	`, countID).Scan(&to)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	window := domain.CountWindow{To: to}
	var from time.Time
	err = q.QueryRowContext(ctx, `
		SELECT created_at
		FROM inventory_counts
		WHERE (created_at, id) < ($1, $2)
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, to, countID).Scan(&from)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// first count, all history before it
	case err != nil:
		return nil, err
	default:
		window.From = &from
	}
	return &window, nil
}

func (s *Store) previousCountID(ctx context.Context, q rowQuerier, countID string, to time.Time) (string, error) {
	var prevID string
	err := q.QueryRowContext(ctx, `
		SELECT id
		FROM inventory_counts
		WHERE (created_at, id) < ($1, $2)
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, to, countID).Scan(&prevID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return prevID, nil
}

// CountDetails reconciles one count against its window: previous counted
// quantity, net sales and adjustments inside the window, and the new counted
// quantity. Every item appears, zero-filled when it saw no activity. The
// whole read runs in a serializable read-only transaction so the rows describe
// one consistent ledger state.
func (s *Store) CountDetails(ctx context.Context, countID string) ([]domain.CountDetailsRecord, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable, ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	window, err := s.countWindow(ctx, tx, countID)
	if err != nil {
		return nil, err
	}
	prevID, err := s.previousCountID(ctx, tx, countID, window.To)
	if err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT i.category_id, c.name, i.id, i.name,
		       COALESCE(prev.quantity, 0),
		       COALESCE(sold.qty, 0)::bigint,
		       COALESCE(adj.qty, 0)::bigint,
		       COALESCE(cur.quantity, 0)
		FROM items i
		JOIN categories c ON c.id = i.category_id
		LEFT JOIN inventory_count_items cur
		       ON cur.count_id = $1 AND cur.item_id = i.id
		LEFT JOIN inventory_count_items prev
		       ON prev.count_id = $2 AND prev.item_id = i.id
		LEFT JOIN (
			SELECT oi.item_id, SUM(oi.quantity) AS qty
			FROM order_items oi
			JOIN orders o ON o.id = oi.order_id
			WHERE ($3::timestamptz IS NULL OR o.created_at > $3)
			  AND o.created_at <= $4
			GROUP BY oi.item_id
		) sold ON sold.item_id = i.id
		LEFT JOIN (
			SELECT ai.item_id, SUM(ai.quantity) AS qty
			FROM stock_adjustment_items ai
			JOIN stock_adjustments a ON a.id = ai.adjustment_id
			WHERE ($3::timestamptz IS NULL OR a.created_at > $3)
			  AND a.created_at <= $4
			GROUP BY ai.item_id
		) adj ON adj.item_id = i.id
		ORDER BY c.name, i.name
	`, countID, nullIfEmpty(prevID), nullTime(window.From), window.To)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.CountDetailsRecord, 0, 128)
	for rows.Next() {
		var r domain.CountDetailsRecord
		if err := rows.Scan(&r.CategoryID, &r.CategoryName, &r.ItemID, &r.ItemName,
			&r.PreviousQuantity, &r.QuantitySold, &r.AdjustmentQuantity, &r.ActualQuantity); err != nil {
			return nil, err
		}
		r.TheoreticalQuantity = r.PreviousQuantity - r.QuantitySold + r.AdjustmentQuantity
		r.Difference = r.TheoreticalQuantity - r.ActualQuantity
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, tx.Commit()
}

// LiveInventory is the running reconciliation view since the most recent
// count, with today's and this month's sold quantities alongside.
func (s *Store) LiveInventory(ctx context.Context, now time.Time) ([]domain.LiveInventoryRecord, error) {
	now = now.UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.AddDate(0, 0, 1)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	monthEnd := monthStart.AddDate(0, 1, 0)

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable, ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		lastCountID string
		lastCountAt sql.NullTime
	)
	err = tx.QueryRowContext(ctx, `
		SELECT id, created_at
		FROM inventory_counts
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`).Scan(&lastCountID, &lastCountAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT i.category_id, c.name, i.id, i.name,
		       COALESCE(day.qty, 0)::bigint,
		       COALESCE(month.qty, 0)::bigint,
		       COALESCE(cnt.quantity, 0),
		       COALESCE(adj.qty, 0)::bigint,
		       COALESCE(sold.qty, 0)::bigint
		FROM items i
		JOIN categories c ON c.id = i.category_id
		LEFT JOIN inventory_count_items cnt
		       ON cnt.count_id = $1 AND cnt.item_id = i.id
		LEFT JOIN (
			SELECT oi.item_id, SUM(oi.quantity) AS qty
			FROM order_items oi
			JOIN orders o ON o.id = oi.order_id
			WHERE ($2::timestamptz IS NULL OR o.created_at > $2)
			  AND o.created_at <= $3
			GROUP BY oi.item_id
		) sold ON sold.item_id = i.id
		LEFT JOIN (
			SELECT ai.item_id, SUM(ai.quantity) AS qty
			FROM stock_adjustment_items ai
			JOIN stock_adjustments a ON a.id = ai.adjustment_id
			WHERE ($2::timestamptz IS NULL OR a.created_at > $2)
			  AND a.created_at <= $3
			GROUP BY ai.item_id
		) adj ON adj.item_id = i.id
		LEFT JOIN (
			SELECT oi.item_id, SUM(oi.quantity) AS qty
			FROM order_items oi
			JOIN orders o ON o.id = oi.order_id
			WHERE o.created_at >= $4 AND o.created_at < $5
			GROUP BY oi.item_id
		) day ON day.item_id = i.id
		LEFT JOIN (
			SELECT oi.item_id, SUM(oi.quantity) AS qty
			FROM order_items oi
			JOIN orders o ON o.id = oi.order_id
			WHERE o.created_at >= $6 AND o.created_at < $7
			GROUP BY oi.item_id
		) month ON month.item_id = i.id
		ORDER BY c.name, i.name
	`, nullIfEmpty(lastCountID), nullSQLTime(lastCountAt), now, dayStart, dayEnd, monthStart, monthEnd)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	date := now.Format("2006-01-02")
	records := make([]domain.LiveInventoryRecord, 0, 128)
	for rows.Next() {
		var r domain.LiveInventoryRecord
		if err := rows.Scan(&r.CategoryID, &r.CategoryName, &r.ItemID, &r.ItemName,
			&r.DayQuantity, &r.MonthQuantity, &r.CountQuantity, &r.AdjustmentQuantity, &r.QuantitySold); err != nil {
			return nil, err
		}
		r.Date = date
		r.TheoreticalQuantity = r.CountQuantity - r.QuantitySold + r.AdjustmentQuantity
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, tx.Commit()
}

func (s *Store) HourlySales(ctx context.Context, from, to time.Time) ([]domain.HourlySales, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT EXTRACT(HOUR FROM o.created_at AT TIME ZONE 'UTC')::int AS hour,
		       COUNT(DISTINCT o.id),
		       COALESCE(SUM(oi.quantity), 0)::bigint,
		       COALESCE(SUM(oi.quantity * i.price), 0),
		       COALESCE(SUM(CASE WHEN i.tax_a THEN oi.quantity * i.price * $3::numeric ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN i.tax_b THEN oi.quantity * i.price * $4::numeric ELSE 0 END), 0)
		FROM orders o
		LEFT JOIN order_items oi ON oi.order_id = o.id
		LEFT JOIN items i ON i.id = oi.item_id
		WHERE o.payment_type_id IS NOT NULL
		  AND o.created_at >= $1 AND o.created_at < $2
		GROUP BY hour
		ORDER BY hour
	`, from, to, s.calc.RateA, s.calc.RateB)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.HourlySales, 0, 24)
	for rows.Next() {
		var h domain.HourlySales
		if err := rows.Scan(&h.Hour, &h.NumOrders, &h.NumItems, &h.Subtotal, &h.TaxA, &h.TaxB); err != nil {
			return nil, err
		}
		result = append(result, h)
	}
	return result, rows.Err()
}

func (s *Store) DailySales(ctx context.Context, from, to time.Time) ([]domain.DailySales, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT to_char(o.created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day,
		       COUNT(DISTINCT o.id),
		       COALESCE(SUM(oi.quantity), 0)::bigint,
		       COALESCE(SUM(oi.quantity * i.price), 0),
		       COALESCE(SUM(CASE WHEN i.tax_a THEN oi.quantity * i.price * $3::numeric ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN i.tax_b THEN oi.quantity * i.price * $4::numeric ELSE 0 END), 0)
		FROM orders o
		LEFT JOIN order_items oi ON oi.order_id = o.id
		LEFT JOIN items i ON i.id = oi.item_id
		WHERE o.payment_type_id IS NOT NULL
		  AND o.created_at >= $1 AND o.created_at < $2
		GROUP BY day
		ORDER BY day
	`, from, to, s.calc.RateA, s.calc.RateB)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.DailySales, 0, 31)
	for rows.Next() {
		var d domain.DailySales
		if err := rows.Scan(&d.Day, &d.NumOrders, &d.NumItems, &d.Subtotal, &d.TaxA, &d.TaxB); err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func (s *Store) CashierSales(ctx context.Context, from, to time.Time) ([]domain.CashierSales, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.username, pt.id, pt.name,
		       COUNT(DISTINCT o.id),
		       COALESCE(SUM(oi.quantity), 0)::bigint,
		       COALESCE(SUM(oi.quantity * i.price), 0),
		       COALESCE(SUM(CASE WHEN i.tax_a THEN oi.quantity * i.price * $3::numeric ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN i.tax_b THEN oi.quantity * i.price * $4::numeric ELSE 0 END), 0)
		FROM orders o
		JOIN users u ON u.id = o.user_id
		JOIN payment_types pt ON pt.id = o.payment_type_id
		LEFT JOIN order_items oi ON oi.order_id = o.id
		LEFT JOIN items i ON i.id = oi.item_id
		WHERE o.created_at >= $1 AND o.created_at < $2
		GROUP BY u.id, u.username, pt.id, pt.name
		ORDER BY u.username, pt.id
	`, from, to, s.calc.RateA, s.calc.RateB)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.CashierSales, 0, 16)
	for rows.Next() {
		var c domain.CashierSales
		if err := rows.Scan(&c.UserID, &c.Username, &c.PaymentTypeID, &c.PaymentType,
			&c.NumOrders, &c.NumItems, &c.Subtotal, &c.TaxA, &c.TaxB); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (s *Store) ItemSales(ctx context.Context, from, to time.Time) ([]domain.ItemSales, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.id, i.name, i.category_id, c.name,
		       SUM(oi.quantity)::bigint,
		       SUM(oi.quantity) * i.price,
		       CASE WHEN i.tax_a THEN SUM(oi.quantity) * i.price * $3::numeric ELSE 0 END,
		       CASE WHEN i.tax_b THEN SUM(oi.quantity) * i.price * $4::numeric ELSE 0 END
		FROM order_items oi
		JOIN orders o ON o.id = oi.order_id
		JOIN items i ON i.id = oi.item_id
		JOIN categories c ON c.id = i.category_id
		WHERE o.payment_type_id IS NOT NULL
		  AND o.created_at >= $1 AND o.created_at < $2
		GROUP BY i.id, i.name, i.category_id, c.name, i.price, i.tax_a, i.tax_b
		ORDER BY c.name, i.name
	`, from, to, s.calc.RateA, s.calc.RateB)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.ItemSales, 0, 128)
	for rows.Next() {
		var it domain.ItemSales
		if err := rows.Scan(&it.ItemID, &it.ItemName, &it.CategoryID, &it.CategoryName,
			&it.Quantity, &it.Subtotal, &it.TaxA, &it.TaxB); err != nil {
			return nil, err
		}
		result = append(result, it)
	}
	return result, rows.Err()
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, entry.ID, entry.ActorUsername, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.Action, &entry.EntityType,
			&entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullSQLTime(val sql.NullTime) any {
	if !val.Valid {
		return nil
	}
	return val.Time
}
