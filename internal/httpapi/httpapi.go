// Package httpapi exposes the till over HTTP: JSON in, JSON out, JWT bearer
// auth, with CSV and printable exports for the daily report.
package httpapi

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"tillpoint/internal/domain"
	"tillpoint/internal/service"
	"tillpoint/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
	csrfSecret    []byte
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string) *API {
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		// Fall back to a deterministic secret if crypto/rand fails (should not happen in practice).
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		csrfSecret:    csrfSecret,
	}
}

// csrfTokenForHour computes an HMAC-SHA256 token for the given hour bucket
// (expressed as Unix time truncated to the hour). The token is hex-encoded.
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	now := time.Now().UTC()
	bucket := now.Truncate(time.Hour).Unix()
	return a.csrfTokenForHour(bucket)
}

// validateCSRFToken checks whether the provided token matches the current or
// previous hour bucket, giving a 2-hour validity window.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	now := time.Now().UTC()
	currentBucket := now.Truncate(time.Hour).Unix()
	prevBucket := currentBucket - 3600

	expected1 := a.csrfTokenForHour(currentBucket)
	expected2 := a.csrfTokenForHour(prevBucket)

	return hmac.Equal([]byte(token), []byte(expected1)) ||
		hmac.Equal([]byte(token), []byte(expected2))
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("/api/v1/auth/csrf-token", a.handleCSRFToken)

	mux.HandleFunc("/api/v1/categories", a.requireAuth(a.handleCategories, false))
	mux.HandleFunc("/api/v1/items", a.requireAuth(a.handleItems, false))
	mux.HandleFunc("/api/v1/items/", a.requireAuth(a.handleItemActions, false))
	mux.HandleFunc("/api/v1/payment-types", a.requireAuth(a.handlePaymentTypes, false))

	mux.HandleFunc("/api/v1/customers", a.requireAuth(a.handleCustomers, false))
	mux.HandleFunc("/api/v1/customers/", a.requireAuth(a.handleCustomerActions, false))
	mux.HandleFunc("/api/v1/customer-orders", a.requireAuth(a.handleCustomerOrderSearch, false))

	mux.HandleFunc("/api/v1/orders", a.requireAuth(a.handleOrders, false))
	mux.HandleFunc("/api/v1/orders/", a.requireAuth(a.handleOrderActions, false))
	mux.HandleFunc("/api/v1/returns/", a.requireAuth(a.handleReturnActions, false))

	mux.HandleFunc("/api/v1/inventory/counts", a.requireAuth(a.handleCounts, true))
	mux.HandleFunc("/api/v1/inventory/counts/", a.requireAuth(a.handleCountActions, true))
	mux.HandleFunc("/api/v1/inventory/adjustments", a.requireAuth(a.handleAdjustments, true))
	mux.HandleFunc("/api/v1/inventory/adjustments/", a.requireAuth(a.handleAdjustmentActions, true))
	mux.HandleFunc("/api/v1/inventory/live", a.requireAuth(a.handleLiveInventory, true))

	mux.HandleFunc("/api/v1/reports/hourly", a.requireAuth(a.handleHourlyReport, true))
	mux.HandleFunc("/api/v1/reports/daily", a.requireAuth(a.handleDailyReport, true))
	mux.HandleFunc("/api/v1/reports/cashiers", a.requireAuth(a.handleCashierReport, true))
	mux.HandleFunc("/api/v1/reports/items", a.requireAuth(a.handleItemReport, true))

	mux.HandleFunc("/api/v1/users", a.requireAuth(a.handleUsers, true))
	mux.HandleFunc("/api/v1/users/password", a.requireAuth(a.handlePasswordChange, false))
	mux.HandleFunc("/api/v1/audit-logs", a.requireAuth(a.handleAuditLogs, true))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, managerOnly bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		if managerOnly && !actor.Manager {
			writeError(w, http.StatusForbidden, errors.New("manager access required"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleCSRFToken returns a stateless CSRF token valid for the current hour bucket.
// Clients must include this token in the X-CSRF-Token header for all mutating requests.
func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

// csrfExemptPaths lists paths that are exempt from CSRF validation. Login is
// excluded because it is called before any CSRF token fetch.
var csrfExemptPaths = []string{
	"/api/v1/auth/login",
}

// checkCSRF enforces CSRF token validation for state-changing methods.
func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	method := r.Method
	if method != http.MethodPost && method != http.MethodPut && method != http.MethodPatch {
		return true
	}
	for _, exempt := range csrfExemptPaths {
		if r.URL.Path == exempt {
			return true
		}
	}
	token := strings.TrimSpace(r.Header.Get("X-CSRF-Token"))
	if !a.validateCSRFToken(token) {
		writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
		return false
	}
	return true
}

func (a *API) handleCategories(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		categories, err := a.service.ListCategories(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"categories": categories})
	case http.MethodPost:
		var req struct {
			Name string `json:"name"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		category, err := a.service.CreateCategory(r.Context(), req.Name)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"category": category})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleItems(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		items, err := a.service.ListItems(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	case http.MethodPost:
		var req domain.ItemCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		item, err := a.service.CreateItem(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"item": item})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleItemActions(w http.ResponseWriter, r *http.Request) {
	itemID := pathTail(r.URL.Path, "/api/v1/items/")
	if itemID == "" || strings.Contains(itemID, "/") {
		writeError(w, http.StatusBadRequest, errors.New("item id required"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		item, err := a.service.GetItem(r.Context(), itemID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"item": item})
	case http.MethodPatch:
		var req domain.ItemUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		item, err := a.service.UpdateItem(r.Context(), itemID, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"item": item})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handlePaymentTypes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	types, err := a.service.ListPaymentTypes(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payment_types": types})
}

func (a *API) handleCustomers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		customers, err := a.service.ListCustomers(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"customers": customers})
	case http.MethodPost:
		var req domain.CustomerCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		customer, err := a.service.CreateCustomer(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"customer": customer})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleCustomerActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	customerID := pathTail(r.URL.Path, "/api/v1/customers/")
	if customerID == "" || strings.Contains(customerID, "/") {
		writeError(w, http.StatusBadRequest, errors.New("customer id required"))
		return
	}
	customer, err := a.service.GetCustomer(r.Context(), customerID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customer": customer})
}

func (a *API) handleCustomerOrderSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	results, err := a.service.SearchCustomerOrders(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": results})
}

func (a *API) handleOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	// Body is optional; an empty body opens an anonymous order.
	var req struct {
		CustomerID string `json:"customer_id"`
	}
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	order, err := a.service.NewOrder(r.Context(), req.CustomerID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"order": order})
}

// handleOrderActions routes /api/v1/orders/{id} and its sub-resources:
//
//	GET  /orders/{id}            order with lines and totals
//	GET  /orders/{id}/net        lines netted against the return chain
//	GET  /orders/{id}/paid       payment status
//	POST /orders/{id}/items      add one unit            {"item_id"}
//	POST /orders/{id}/items/remove  remove one unit      {"item_id"}
//	POST /orders/{id}/customer   attach customer         {"customer_id"}
//	POST /orders/{id}/finalize   record payment          {"payment_type_id","customer_id"?}
//	POST /orders/{id}/returns    open a return order
func (a *API) handleOrderActions(w http.ResponseWriter, r *http.Request) {
	tail := pathTail(r.URL.Path, "/api/v1/orders/")
	if tail == "" {
		writeError(w, http.StatusBadRequest, errors.New("order id required"))
		return
	}

	orderID, action, _ := strings.Cut(tail, "/")
	if orderID == "" {
		writeError(w, http.StatusBadRequest, errors.New("order id required"))
		return
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		details, err := a.service.Details(r.Context(), orderID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, details)
	case "net":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		details, err := a.service.NetDetails(r.Context(), orderID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, details)
	case "paid":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		paid, err := a.service.IsPaid(r.Context(), orderID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"paid": paid})
	case "items":
		a.handleOrderItem(w, r, orderID, false)
	case "items/remove":
		a.handleOrderItem(w, r, orderID, true)
	case "customer":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		var req struct {
			CustomerID string `json:"customer_id"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := a.service.AttachCustomer(r.Context(), orderID, req.CustomerID); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case "finalize":
		a.handleFinalize(w, r, orderID)
	case "returns":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		var req struct {
			CustomerID string `json:"customer_id"`
		}
		if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		ret, err := a.service.CreateReturn(r.Context(), orderID, req.CustomerID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"order": ret})
	default:
		writeError(w, http.StatusNotFound, errors.New("unknown order action"))
	}
}

func (a *API) handleOrderItem(w http.ResponseWriter, r *http.Request, orderID string, remove bool) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req struct {
		ItemID string `json:"item_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.ItemID == "" {
		writeError(w, http.StatusBadRequest, errors.New("item_id required"))
		return
	}

	var err error
	if remove {
		err = a.service.RemoveItem(r.Context(), orderID, req.ItemID)
	} else {
		err = a.service.AddItem(r.Context(), orderID, req.ItemID)
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}

	details, err := a.service.Details(r.Context(), orderID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (a *API) handleFinalize(w http.ResponseWriter, r *http.Request, orderID string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req struct {
		PaymentTypeID string `json:"payment_type_id"`
		CustomerID    string `json:"customer_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.PaymentTypeID == "" {
		writeError(w, http.StatusBadRequest, errors.New("payment_type_id required"))
		return
	}

	var err error
	if req.CustomerID != "" {
		err = a.service.FinalizeWithCustomer(r.Context(), orderID, req.CustomerID, req.PaymentTypeID)
	} else {
		err = a.service.Finalize(r.Context(), orderID, req.PaymentTypeID)
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleReturnActions routes POST /api/v1/returns/{id}/items for recording
// negative return lines.
func (a *API) handleReturnActions(w http.ResponseWriter, r *http.Request) {
	tail := pathTail(r.URL.Path, "/api/v1/returns/")
	returnID, action, _ := strings.Cut(tail, "/")
	if returnID == "" || action != "items" {
		writeError(w, http.StatusNotFound, errors.New("unknown return action"))
		return
	}
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req struct {
		ItemID   string `json:"item_id"`
		Quantity int64  `json:"quantity"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.ItemID == "" {
		writeError(w, http.StatusBadRequest, errors.New("item_id required"))
		return
	}
	if err := a.service.SetReturnItem(r.Context(), returnID, req.ItemID, req.Quantity); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handleCounts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		counts, err := a.service.ListCounts(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"counts": counts})
	case http.MethodPost:
		count, err := a.service.CreateCount(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"count": count})
	default:
		writeMethodNotAllowed(w)
	}
}

// handleCountActions routes /api/v1/inventory/counts/{id} and sub-resources:
//
//	GET  /counts/{id}         reconciliation records
//	GET  /counts/{id}/window  the count's time window
//	POST /counts/{id}/items   record a counted quantity {"item_id","quantity"}
func (a *API) handleCountActions(w http.ResponseWriter, r *http.Request) {
	tail := pathTail(r.URL.Path, "/api/v1/inventory/counts/")
	countID, action, _ := strings.Cut(tail, "/")
	if countID == "" {
		writeError(w, http.StatusBadRequest, errors.New("count id required"))
		return
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		records, err := a.service.CountDetails(r.Context(), countID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"records": records})
	case "window":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		window, err := a.service.CountWindow(r.Context(), countID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, window)
	case "items":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		var req struct {
			ItemID   string `json:"item_id"`
			Quantity int64  `json:"quantity"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := a.service.SetCountItem(r.Context(), countID, req.ItemID, req.Quantity); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusNotFound, errors.New("unknown count action"))
	}
}

func (a *API) handleAdjustments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	adjustment, err := a.service.CreateAdjustment(r.Context(), req.Reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"adjustment": adjustment})
}

func (a *API) handleAdjustmentActions(w http.ResponseWriter, r *http.Request) {
	tail := pathTail(r.URL.Path, "/api/v1/inventory/adjustments/")
	adjustmentID, action, _ := strings.Cut(tail, "/")
	if adjustmentID == "" || action != "items" {
		writeError(w, http.StatusNotFound, errors.New("unknown adjustment action"))
		return
	}
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req struct {
		ItemID   string `json:"item_id"`
		Quantity int64  `json:"quantity"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.service.SetAdjustmentItem(r.Context(), adjustmentID, req.ItemID, req.Quantity); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handleLiveInventory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	records, err := a.service.LiveInventory(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (a *API) handleHourlyReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	from, to := reportRange(r)
	report, err := a.service.HourlyReport(r.Context(), from, to)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"from": from, "to": to, "hours": report})
}

func (a *API) handleDailyReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	from, to := reportRange(r)
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))

	report, err := a.service.DailyReport(r.Context(), from, to)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	switch format {
	case "csv":
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"daily-report-%s-%s.csv\"", from, to))
		_, _ = w.Write([]byte(dailyReportToCSV(report)))
	case "print":
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(dailyReportToPrintableHTML(from, to, report)))
	default:
		writeJSON(w, http.StatusOK, map[string]any{"from": from, "to": to, "days": report})
	}
}

func (a *API) handleCashierReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	from, to := reportRange(r)
	report, err := a.service.CashierReport(r.Context(), from, to)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"from": from, "to": to, "cashiers": report})
}

func (a *API) handleItemReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	from, to := reportRange(r)
	report, err := a.service.ItemReport(r.Context(), from, to)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"from": from, "to": to, "items": report})
}

// reportRange reads from/to query parameters; both default to today.
func reportRange(r *http.Request) (string, string) {
	today := time.Now().UTC().Format("2006-01-02")
	from := strings.TrimSpace(r.URL.Query().Get("from"))
	to := strings.TrimSpace(r.URL.Query().Get("to"))
	if from == "" {
		from = today
	}
	if to == "" {
		to = today
	}
	return from, to
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		users, err := a.service.ListUsers(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"users": users})
	case http.MethodPost:
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
			Manager  bool   `json:"manager"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := a.service.CreateUser(r.Context(), req.Username, req.Password, req.Manager); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"ok": true})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handlePasswordChange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req struct {
		Username string `json:"username"`
		Current  string `json:"current_password"`
		Next     string `json:"new_password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.service.ChangePassword(r.Context(), req.Username, req.Current, req.Next); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	from, to := reportRange(r)
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)

	logs, err := a.service.ListAuditLogs(r.Context(), from, to, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if !a.checkCSRF(w, r) {
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(startedAt))
	})
}

func dailyReportToCSV(report []domain.DailySales) string {
	lines := []string{"day,num_orders,num_items,subtotal,tax_a,tax_b"}
	for _, day := range report {
		lines = append(lines, fmt.Sprintf("%s,%d,%d,%s,%s,%s",
			day.Day, day.NumOrders, day.NumItems, day.Subtotal, day.TaxA, day.TaxB))
	}
	return strings.Join(lines, "\n") + "\n"
}

// dailyReportHTMLTmpl renders the printable daily report. All fields are
// auto-escaped by html/template.
var dailyReportHTMLTmpl = template.Must(template.New("daily-report").Parse(`<!doctype html>
<html>
<head>
  <meta charset="utf-8" />
  <title>Daily Sales {{.From}} to {{.To}}</title>
  <style>
    body { font-family: sans-serif; margin: 24px; }
    table { width: 100%; border-collapse: collapse; margin-top: 8px; }
    th, td { border: 1px solid #ddd; padding: 6px; font-size: 13px; }
    td.num { text-align: right; }
    h2 { margin-bottom: 4px; }
  </style>
</head>
<body>
  <h2>Daily Sales {{.From}} to {{.To}}</h2>
  <table>
    <thead><tr><th>Day</th><th>Orders</th><th>Items</th><th>Subtotal</th><th>Tax A</th><th>Tax B</th></tr></thead>
    <tbody>{{range .Days}}<tr><td>{{.Day}}</td><td class="num">{{.NumOrders}}</td><td class="num">{{.NumItems}}</td><td class="num">{{.Subtotal}}</td><td class="num">{{.TaxA}}</td><td class="num">{{.TaxB}}</td></tr>{{end}}</tbody>
  </table>
</body>
</html>
`))

func dailyReportToPrintableHTML(from, to string, report []domain.DailySales) string {
	var buf bytes.Buffer
	data := struct {
		From string
		To   string
		Days []domain.DailySales
	}{From: from, To: to, Days: report}
	if err := dailyReportHTMLTmpl.Execute(&buf, data); err != nil {
		return "<!doctype html><html><body><p>Report rendering error.</p></body></html>"
	}
	return buf.String()
}

func pathTail(path string, prefix string) string {
	if !strings.HasPrefix(path, prefix) {
		return ""
	}
	return strings.Trim(strings.TrimPrefix(path, prefix), "/")
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

// writeServiceError maps the service and store error kinds onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, store.ErrInvalidPayment):
		writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, store.ErrInvalidQuantity):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, store.ErrStorageFailure):
		writeError(w, http.StatusInternalServerError, err)
	case errors.Is(err, service.ErrInvalidRange):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, service.ErrManagerRequired):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, service.ErrActorRequired):
		writeError(w, http.StatusUnauthorized, err)
	default:
		writeError(w, http.StatusUnprocessableEntity, err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	// For 5xx responses, return a generic message to avoid leaking internal
	// implementation details (SQL errors, file paths, etc.). 4xx responses
	// are user-facing so we return the original error message.
	msg := err.Error()
	if status >= 500 {
		log.Printf("internal error (status %d): %v", status, err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
