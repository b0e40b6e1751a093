package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	syncpkg "github.com/Alansi775/yshop-sync/internal/sync"
)

// Row caps per channel kind. Store- and user-scoped channels page less
// than the unscoped admin channels.
const (
	scopedLimit = 500
	adminLimit  = 1000
)

// fetchFunc runs the query set for one channel kind and returns the
// records to serialize plus the record count.
type fetchFunc func(ctx context.Context, scope string) (any, int, error)

type kindSpec struct {
	fetch      fetchFunc
	needsScope bool
}

// Fetchers maps channel kinds to their snapshot queries. Every fetch is
// read-only and bounded; nested line items are attached with a single
// batched follow-up query per page.
type Fetchers struct {
	store  *Store
	logger *zap.Logger
	kinds  map[string]kindSpec
}

func NewFetchers(st *Store, logger *zap.Logger) *Fetchers {
	f := &Fetchers{
		store:  st,
		logger: logger,
	}
	f.kinds = map[string]kindSpec{
		"returns":       {fetch: f.storeReturns, needsScope: true},
		"orders":        {fetch: f.storeOrders, needsScope: true},
		"admin:returns": {fetch: f.adminReturns},
		"admin:orders":  {fetch: f.adminOrders},
		"customer":      {fetch: f.customerOrders, needsScope: true},
		"delivery":      {fetch: f.driverDeliveries, needsScope: true},
	}
	return f
}

// SplitChannel parses a channel name into its kind and scope parameter.
// Unscoped kinds ("admin:returns", "admin:orders") match the whole name;
// scoped kinds expect "kind:scope" with a non-empty scope.
func (f *Fetchers) SplitChannel(channel string) (kind, scope string, ok bool) {
	if spec, found := f.kinds[channel]; found && !spec.needsScope {
		return channel, "", true
	}

	i := strings.LastIndex(channel, ":")
	if i <= 0 || i == len(channel)-1 {
		return "", "", false
	}

	kind, scope = channel[:i], channel[i+1:]
	spec, found := f.kinds[kind]
	if !found || !spec.needsScope {
		return "", "", false
	}
	return kind, scope, true
}

// ValidChannel reports whether a channel name maps to a known kind with
// a well-formed scope.
func (f *Fetchers) ValidChannel(channel string) bool {
	_, _, ok := f.SplitChannel(channel)
	return ok
}

// Fetch produces the current snapshot for a channel. The returned bytes
// are a canonical JSON array; fetching identical data twice yields
// byte-identical output.
func (f *Fetchers) Fetch(ctx context.Context, channel string) (syncpkg.Snapshot, error) {
	kind, scope, ok := f.SplitChannel(channel)
	if !ok {
		return syncpkg.Snapshot{}, fmt.Errorf("unknown channel: %s", channel)
	}

	records, count, err := f.kinds[kind].fetch(ctx, scope)
	if err != nil {
		return syncpkg.Snapshot{}, fmt.Errorf("fetching %s: %w", channel, err)
	}

	data, err := json.Marshal(records)
	if err != nil {
		return syncpkg.Snapshot{}, fmt.Errorf("encoding %s snapshot: %w", channel, err)
	}

	return syncpkg.Snapshot{Kind: kind, Data: data, Count: count}, nil
}

// storeReturns lists a store's admin-accepted return requests with the
// parent order total joined in.
func (f *Fetchers) storeReturns(ctx context.Context, storeID string) (any, int, error) {
	rows, err := f.store.db.QueryContext(ctx,
		`SELECT r.id, r.store_id, r.order_id, r.product_name, r.product_image_url,
		        r.return_reason, r.admin_accepted, r.store_received,
		        COALESCE(o.total_amount, 0), r.created_at, r.updated_at
		 FROM returned_products r
		 LEFT JOIN orders o ON o.id = r.order_id
		 WHERE r.store_id = ? AND r.admin_accepted = 1
		 ORDER BY r.updated_at DESC
		 LIMIT ?`,
		storeID, scopedLimit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	returns := make([]Return, 0)
	for rows.Next() {
		var r Return
		if err := rows.Scan(&r.ID, &r.StoreID, &r.OrderID, &r.ProductName, &r.ProductImageURL,
			&r.ReturnReason, &r.AdminAccepted, &r.StoreReceived,
			&r.OrderTotal, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, 0, err
		}
		returns = append(returns, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return returns, len(returns), nil
}

// adminReturns lists every return request with store and driver names.
func (f *Fetchers) adminReturns(ctx context.Context, _ string) (any, int, error) {
	rows, err := f.store.db.QueryContext(ctx,
		`SELECT r.id, r.store_id, r.order_id, r.product_name, r.product_image_url,
		        r.return_reason, r.admin_accepted, r.store_received,
		        COALESCE(o.total_amount, 0), COALESCE(s.name, ''), COALESCE(d.name, ''),
		        r.created_at, r.updated_at
		 FROM returned_products r
		 LEFT JOIN orders o ON o.id = r.order_id
		 LEFT JOIN stores s ON s.id = r.store_id
		 LEFT JOIN drivers d ON d.uid = r.driver_uid
		 ORDER BY r.updated_at DESC
		 LIMIT ?`,
		adminLimit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	returns := make([]Return, 0)
	for rows.Next() {
		var r Return
		if err := rows.Scan(&r.ID, &r.StoreID, &r.OrderID, &r.ProductName, &r.ProductImageURL,
			&r.ReturnReason, &r.AdminAccepted, &r.StoreReceived,
			&r.OrderTotal, &r.StoreName, &r.DriverName,
			&r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, 0, err
		}
		returns = append(returns, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return returns, len(returns), nil
}

// storeOrders lists a store's orders, excluding orders that have moved
// into the return flow.
func (f *Fetchers) storeOrders(ctx context.Context, storeID string) (any, int, error) {
	return f.orders(ctx,
		`WHERE store_id = ? AND status != 'return'`,
		scopedLimit, storeID)
}

// adminOrders lists every order.
func (f *Fetchers) adminOrders(ctx context.Context, _ string) (any, int, error) {
	return f.orders(ctx, "", adminLimit)
}

// customerOrders lists one user's orders.
func (f *Fetchers) customerOrders(ctx context.Context, userID string) (any, int, error) {
	return f.orders(ctx, `WHERE user_id = ?`, scopedLimit, userID)
}

// orders runs the shared order query with an optional filter clause and
// attaches line items to the resulting page.
func (f *Fetchers) orders(ctx context.Context, where string, limit int, args ...any) (any, int, error) {
	query := `SELECT id, store_id, user_id, status, total_amount, customer_name,
	                 userName, COALESCE(currency, 'USD'), created_at, updated_at
	          FROM orders `
	if where != "" {
		query += where + " "
	}
	query += "ORDER BY updated_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := f.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	orders := make([]Order, 0)
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.StoreID, &o.UserID, &o.Status, &o.TotalAmount,
			&o.CustomerName, &o.UserName, &o.Currency, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, 0, err
		}
		o.Items = make([]OrderItem, 0)
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	if err := f.attachItems(ctx, orders); err != nil {
		return nil, 0, err
	}
	return orders, len(orders), nil
}

// attachItems fetches the line items for a page of orders in one batched
// query keyed by the parent ids, then groups them by order. One query per
// page, never one per order.
func (f *Fetchers) attachItems(ctx context.Context, orders []Order) error {
	if len(orders) == 0 {
		return nil
	}

	ids := make([]any, len(orders))
	placeholders := make([]string, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		placeholders[i] = "?"
	}

	rows, err := f.store.db.QueryContext(ctx,
		`SELECT i.id, i.order_id, i.product_name, COALESCE(p.image_url, ''), i.quantity, i.price
		 FROM order_items i
		 LEFT JOIN products p ON p.id = i.product_id
		 WHERE i.order_id IN (`+strings.Join(placeholders, ",")+`)
		 ORDER BY i.id`,
		ids...)
	if err != nil {
		return err
	}
	defer rows.Close()

	byOrder := make(map[int64][]OrderItem)
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductName, &it.ProductImageURL,
			&it.Quantity, &it.Price); err != nil {
			return err
		}
		byOrder[it.OrderID] = append(byOrder[it.OrderID], it)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for i := range orders {
		if items, ok := byOrder[orders[i].ID]; ok {
			orders[i].Items = items
		}
	}
	return nil
}

// driverDeliveries lists one driver's delivery requests.
func (f *Fetchers) driverDeliveries(ctx context.Context, driverUID string) (any, int, error) {
	rows, err := f.store.db.QueryContext(ctx,
		`SELECT id, order_id, driver_uid, status, address, latitude, longitude,
		        created_at, updated_at
		 FROM delivery_requests
		 WHERE driver_uid = ?
		 ORDER BY updated_at DESC
		 LIMIT ?`,
		driverUID, scopedLimit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	deliveries := make([]DeliveryRequest, 0)
	for rows.Next() {
		var d DeliveryRequest
		var lat, lng sql.NullFloat64
		if err := rows.Scan(&d.ID, &d.OrderID, &d.DriverUID, &d.Status, &d.Address,
			&lat, &lng, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, 0, err
		}
		if lat.Valid {
			d.Latitude = &lat.Float64
		}
		if lng.Valid {
			d.Longitude = &lng.Float64
		}
		deliveries = append(deliveries, d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return deliveries, len(deliveries), nil
}
