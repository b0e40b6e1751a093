package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

var schema = []string{
	`CREATE TABLE stores (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL
	)`,
	`CREATE TABLE drivers (
		uid TEXT PRIMARY KEY,
		name TEXT NOT NULL
	)`,
	`CREATE TABLE products (
		id INTEGER PRIMARY KEY,
		image_url TEXT
	)`,
	`CREATE TABLE orders (
		id INTEGER PRIMARY KEY,
		store_id INTEGER NOT NULL,
		user_id TEXT NOT NULL,
		status TEXT NOT NULL,
		total_amount REAL NOT NULL,
		customer_name TEXT NOT NULL,
		userName TEXT NOT NULL,
		currency TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE order_items (
		id INTEGER PRIMARY KEY,
		order_id INTEGER NOT NULL,
		product_id INTEGER,
		product_name TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		price REAL NOT NULL
	)`,
	`CREATE TABLE returned_products (
		id INTEGER PRIMARY KEY,
		store_id INTEGER NOT NULL,
		order_id INTEGER NOT NULL,
		driver_uid TEXT,
		product_name TEXT NOT NULL,
		product_image_url TEXT NOT NULL,
		return_reason TEXT NOT NULL,
		admin_accepted INTEGER NOT NULL DEFAULT 0,
		store_received INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE delivery_requests (
		id INTEGER PRIMARY KEY,
		order_id INTEGER NOT NULL,
		driver_uid TEXT NOT NULL,
		status TEXT NOT NULL,
		address TEXT NOT NULL,
		latitude REAL,
		longitude REAL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
}

func newTestFetchers(t *testing.T) (*Fetchers, *sql.DB) {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	// One in-memory database, not one per pooled connection.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("creating schema: %v", err)
		}
	}

	return NewFetchers(NewWithDB(db, zap.NewNop()), zap.NewNop()), db
}

func mustExec(t *testing.T, db *sql.DB, query string, args ...any) {
	t.Helper()
	if _, err := db.Exec(query, args...); err != nil {
		t.Fatalf("exec failed: %v", err)
	}
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestSplitChannel(t *testing.T) {
	f, _ := newTestFetchers(t)

	cases := []struct {
		channel string
		kind    string
		scope   string
		ok      bool
	}{
		{"returns:502", "returns", "502", true},
		{"orders:7", "orders", "7", true},
		{"customer:user-9", "customer", "user-9", true},
		{"delivery:drv-3", "delivery", "drv-3", true},
		{"admin:returns", "admin:returns", "", true},
		{"admin:orders", "admin:orders", "", true},
		{"returns", "", "", false},
		{"orders:", "", "", false},
		{"admin:returns:5", "", "", false},
		{"bogus:1", "", "", false},
		{"", "", "", false},
	}

	for _, tc := range cases {
		kind, scope, ok := f.SplitChannel(tc.channel)
		if ok != tc.ok || kind != tc.kind || scope != tc.scope {
			t.Errorf("SplitChannel(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tc.channel, kind, scope, ok, tc.kind, tc.scope, tc.ok)
		}
		if got := f.ValidChannel(tc.channel); got != tc.ok {
			t.Errorf("ValidChannel(%q) = %v, want %v", tc.channel, got, tc.ok)
		}
	}
}

func TestStoreReturnsFiltersAndDerivesTotal(t *testing.T) {
	f, db := newTestFetchers(t)

	mustExec(t, db, `INSERT INTO orders (id, store_id, user_id, status, total_amount, customer_name, userName, currency, created_at, updated_at)
		VALUES (100, 5, 'u1', 'delivered', 42.50, 'Ada', 'ada', 'USD', ?, ?)`, base, base)

	// Accepted, newest.
	mustExec(t, db, `INSERT INTO returned_products (id, store_id, order_id, product_name, product_image_url, return_reason, admin_accepted, created_at, updated_at)
		VALUES (1, 5, 100, 'Keyboard', '/img/kb.png', 'defective', 1, ?, ?)`, base, base.Add(2*time.Minute))
	// Accepted, older.
	mustExec(t, db, `INSERT INTO returned_products (id, store_id, order_id, product_name, product_image_url, return_reason, admin_accepted, created_at, updated_at)
		VALUES (2, 5, 100, 'Mouse', '/img/m.png', 'wrong item', 1, ?, ?)`, base, base.Add(time.Minute))
	// Not yet accepted: must not appear.
	mustExec(t, db, `INSERT INTO returned_products (id, store_id, order_id, product_name, product_image_url, return_reason, admin_accepted, created_at, updated_at)
		VALUES (3, 5, 100, 'Cable', '/img/c.png', 'changed mind', 0, ?, ?)`, base, base.Add(3*time.Minute))
	// Other store: must not appear.
	mustExec(t, db, `INSERT INTO returned_products (id, store_id, order_id, product_name, product_image_url, return_reason, admin_accepted, created_at, updated_at)
		VALUES (4, 6, 100, 'Screen', '/img/s.png', 'defective', 1, ?, ?)`, base, base)

	snap, err := f.Fetch(context.Background(), "returns:5")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Kind != "returns" {
		t.Errorf("expected kind 'returns', got %q", snap.Kind)
	}
	if snap.Count != 2 {
		t.Fatalf("expected 2 returns, got %d", snap.Count)
	}

	var returns []Return
	if err := json.Unmarshal(snap.Data, &returns); err != nil {
		t.Fatal(err)
	}

	// Newest first.
	if returns[0].ID != 1 || returns[1].ID != 2 {
		t.Errorf("expected order [1, 2] by recency, got [%d, %d]", returns[0].ID, returns[1].ID)
	}
	if returns[0].OrderTotal != 42.50 {
		t.Errorf("expected derived order total 42.50, got %v", returns[0].OrderTotal)
	}
}

func TestAdminReturnsJoinsNames(t *testing.T) {
	f, db := newTestFetchers(t)

	mustExec(t, db, `INSERT INTO stores (id, name) VALUES (5, 'Corner Shop')`)
	mustExec(t, db, `INSERT INTO drivers (uid, name) VALUES ('drv-1', 'Sam')`)
	mustExec(t, db, `INSERT INTO returned_products (id, store_id, order_id, driver_uid, product_name, product_image_url, return_reason, admin_accepted, created_at, updated_at)
		VALUES (1, 5, 100, 'drv-1', 'Keyboard', '/img/kb.png', 'defective', 0, ?, ?)`, base, base)
	// No matching store or driver rows: names fall back to empty.
	mustExec(t, db, `INSERT INTO returned_products (id, store_id, order_id, driver_uid, product_name, product_image_url, return_reason, admin_accepted, created_at, updated_at)
		VALUES (2, 99, 100, NULL, 'Mouse', '/img/m.png', 'late', 1, ?, ?)`, base, base.Add(time.Minute))

	snap, err := f.Fetch(context.Background(), "admin:returns")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Count != 2 {
		t.Fatalf("expected all 2 returns regardless of acceptance, got %d", snap.Count)
	}

	var returns []Return
	if err := json.Unmarshal(snap.Data, &returns); err != nil {
		t.Fatal(err)
	}

	// returns[1] is the older row with the joined names.
	if returns[1].StoreName != "Corner Shop" {
		t.Errorf("expected store name 'Corner Shop', got %q", returns[1].StoreName)
	}
	if returns[1].DriverName != "Sam" {
		t.Errorf("expected driver name 'Sam', got %q", returns[1].DriverName)
	}
	if returns[0].StoreName != "" || returns[0].DriverName != "" {
		t.Errorf("expected empty names for unmatched joins, got %q/%q", returns[0].StoreName, returns[0].DriverName)
	}
}

func TestStoreOrdersExcludesReturnsAndAttachesItems(t *testing.T) {
	f, db := newTestFetchers(t)

	mustExec(t, db, `INSERT INTO products (id, image_url) VALUES (10, '/img/p10.png')`)
	mustExec(t, db, `INSERT INTO orders (id, store_id, user_id, status, total_amount, customer_name, userName, currency, created_at, updated_at)
		VALUES (1, 5, 'u1', 'pending', 30, 'Ada', 'ada', 'USD', ?, ?)`, base, base.Add(2*time.Minute))
	mustExec(t, db, `INSERT INTO orders (id, store_id, user_id, status, total_amount, customer_name, userName, currency, created_at, updated_at)
		VALUES (2, 5, 'u2', 'delivered', 15, 'Bo', 'bo', NULL, ?, ?)`, base, base.Add(time.Minute))
	// In the return flow: excluded from the store channel.
	mustExec(t, db, `INSERT INTO orders (id, store_id, user_id, status, total_amount, customer_name, userName, currency, created_at, updated_at)
		VALUES (3, 5, 'u1', 'return', 20, 'Ada', 'ada', 'USD', ?, ?)`, base, base.Add(3*time.Minute))
	// Other store: excluded.
	mustExec(t, db, `INSERT INTO orders (id, store_id, user_id, status, total_amount, customer_name, userName, currency, created_at, updated_at)
		VALUES (4, 6, 'u3', 'pending', 9, 'Cy', 'cy', 'USD', ?, ?)`, base, base)

	mustExec(t, db, `INSERT INTO order_items (id, order_id, product_id, product_name, quantity, price)
		VALUES (11, 1, 10, 'Keyboard', 1, 25)`)
	mustExec(t, db, `INSERT INTO order_items (id, order_id, product_id, product_name, quantity, price)
		VALUES (12, 1, NULL, 'Sticker', 5, 1)`)

	snap, err := f.Fetch(context.Background(), "orders:5")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Count != 2 {
		t.Fatalf("expected 2 orders, got %d", snap.Count)
	}

	var orders []Order
	if err := json.Unmarshal(snap.Data, &orders); err != nil {
		t.Fatal(err)
	}

	if orders[0].ID != 1 || orders[1].ID != 2 {
		t.Fatalf("expected order [1, 2] by recency, got [%d, %d]", orders[0].ID, orders[1].ID)
	}
	if len(orders[0].Items) != 2 {
		t.Fatalf("expected 2 items on order 1, got %d", len(orders[0].Items))
	}
	if orders[0].Items[0].ProductName != "Keyboard" || orders[0].Items[0].ProductImageURL != "/img/p10.png" {
		t.Errorf("expected joined product image on first item, got %+v", orders[0].Items[0])
	}
	if orders[0].Items[1].ProductImageURL != "" {
		t.Errorf("expected empty image for itemless product, got %q", orders[0].Items[1].ProductImageURL)
	}
	// An order without items carries an empty array, not null.
	if orders[1].Items == nil || len(orders[1].Items) != 0 {
		t.Errorf("expected empty item list on order 2, got %v", orders[1].Items)
	}
	if orders[1].Currency != "USD" {
		t.Errorf("expected currency fallback 'USD', got %q", orders[1].Currency)
	}
}

func TestCustomerOrdersScopedToUser(t *testing.T) {
	f, db := newTestFetchers(t)

	mustExec(t, db, `INSERT INTO orders (id, store_id, user_id, status, total_amount, customer_name, userName, currency, created_at, updated_at)
		VALUES (1, 5, 'u1', 'pending', 30, 'Ada', 'ada', 'USD', ?, ?)`, base, base)
	mustExec(t, db, `INSERT INTO orders (id, store_id, user_id, status, total_amount, customer_name, userName, currency, created_at, updated_at)
		VALUES (2, 8, 'u1', 'return', 12, 'Ada', 'ada', 'USD', ?, ?)`, base, base.Add(time.Minute))
	mustExec(t, db, `INSERT INTO orders (id, store_id, user_id, status, total_amount, customer_name, userName, currency, created_at, updated_at)
		VALUES (3, 5, 'u2', 'pending', 7, 'Bo', 'bo', 'USD', ?, ?)`, base, base)

	snap, err := f.Fetch(context.Background(), "customer:u1")
	if err != nil {
		t.Fatal(err)
	}
	// The customer channel includes return-state orders.
	if snap.Count != 2 {
		t.Fatalf("expected 2 orders for u1, got %d", snap.Count)
	}
}

func TestDriverDeliveries(t *testing.T) {
	f, db := newTestFetchers(t)

	mustExec(t, db, `INSERT INTO delivery_requests (id, order_id, driver_uid, status, address, latitude, longitude, created_at, updated_at)
		VALUES (1, 100, 'drv-1', 'assigned', '12 Main St', 41.01, 28.97, ?, ?)`, base, base)
	mustExec(t, db, `INSERT INTO delivery_requests (id, order_id, driver_uid, status, address, latitude, longitude, created_at, updated_at)
		VALUES (2, 101, 'drv-1', 'pending', '9 Oak Ave', NULL, NULL, ?, ?)`, base, base.Add(time.Minute))
	mustExec(t, db, `INSERT INTO delivery_requests (id, order_id, driver_uid, status, address, latitude, longitude, created_at, updated_at)
		VALUES (3, 102, 'drv-2', 'assigned', '1 Elm Rd', 40.0, 29.0, ?, ?)`, base, base)

	snap, err := f.Fetch(context.Background(), "delivery:drv-1")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Count != 2 {
		t.Fatalf("expected 2 deliveries for drv-1, got %d", snap.Count)
	}

	var deliveries []DeliveryRequest
	if err := json.Unmarshal(snap.Data, &deliveries); err != nil {
		t.Fatal(err)
	}
	if deliveries[0].ID != 2 {
		t.Errorf("expected newest delivery first, got id %d", deliveries[0].ID)
	}
	if deliveries[0].Latitude != nil {
		t.Errorf("expected missing latitude to be omitted, got %v", *deliveries[0].Latitude)
	}
	if deliveries[1].Latitude == nil || *deliveries[1].Latitude != 41.01 {
		t.Errorf("expected latitude 41.01, got %v", deliveries[1].Latitude)
	}
}

func TestFetchIsByteStable(t *testing.T) {
	f, db := newTestFetchers(t)

	mustExec(t, db, `INSERT INTO orders (id, store_id, user_id, status, total_amount, customer_name, userName, currency, created_at, updated_at)
		VALUES (1, 5, 'u1', 'pending', 30, 'Ada', 'ada', 'USD', ?, ?)`, base, base)
	mustExec(t, db, `INSERT INTO order_items (id, order_id, product_id, product_name, quantity, price)
		VALUES (11, 1, NULL, 'Keyboard', 1, 25)`)

	first, err := f.Fetch(context.Background(), "orders:5")
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.Fetch(context.Background(), "orders:5")
	if err != nil {
		t.Fatal(err)
	}

	if string(first.Data) != string(second.Data) {
		t.Error("expected two fetches of identical data to be byte-identical")
	}
}

func TestFetchUnknownChannel(t *testing.T) {
	f, _ := newTestFetchers(t)

	if _, err := f.Fetch(context.Background(), "inventory:5"); err == nil {
		t.Error("expected error for unknown channel kind")
	}
}

func TestFetchEmptySnapshot(t *testing.T) {
	f, _ := newTestFetchers(t)

	snap, err := f.Fetch(context.Background(), "orders:5")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Count != 0 {
		t.Errorf("expected count 0, got %d", snap.Count)
	}
	if string(snap.Data) != "[]" {
		t.Errorf("expected empty array snapshot, got %s", snap.Data)
	}
}
