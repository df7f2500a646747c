/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements the persistence gateway (stock items, job cards, assets,
  suppliers and the costing policy setting) on SQLite. The SQL is plain enough that the
  same patterns carry over to PostgreSQL.

INTERFACES IMPLEMENTED:
  jobcard.TxStore:              Job cards plus stock items, transactional
  inventory.TxStockStore:       Stock items on their own, transactional
  jobcard.AssetDirectory:       Assets
  inventory.SupplierDirectory:  Suppliers
  inventory.PolicySetting:      The costing policy, stored in settings

KEY TABLES:
  stock_items:      One row per item with cached totals and a version
  stock_batches:    Current batches; rewritten on every save
  stock_usage:      Consumption and reversal history (append-only)
  stock_writeoffs:  Write-off history (append-only)
  job_cards:        Card header, status and frozen costing method
  job_card_items:   Card lines, ordered by line_no
  assets:           Vehicles and machines
  suppliers:        Who stock is bought from
  settings:         Key/value settings (costing_policy)

OPTIMISTIC CONCURRENCY:
  stock_items.version is checked on every save. The UPDATE is guarded by
  "WHERE version = ?", so a concurrent writer that got there first makes
  the save fail with *inventory.StaleReferenceError.

APPEND-ONLY HISTORY:
  Usage and write-off rows are only ever inserted. The one exception is
  importing a ledger whose history does not extend the stored one; the
  imported history then replaces it.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) and immediate
  transactions, so a writer takes the database lock at BEGIN rather than
  failing half-way through a settlement.

USAGE:
  store, err := sqlite.New("./data/workshop.db", inventory.PolicyFIFO)
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - inventory/store.go: Stock gateway interfaces
  - jobcard/store.go: Job card gateway interfaces
  - store/memory/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/oneshot/workshop-ledger/inventory"
	"github.com/oneshot/workshop-ledger/jobcard"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db            *sql.DB
	mu            sync.RWMutex
	defaultPolicy inventory.CostingPolicy
}

var (
	_ jobcard.TxStore             = (*Store)(nil)
	_ inventory.TxStockStore      = (*Store)(nil)
	_ jobcard.AssetDirectory      = (*Store)(nil)
	_ inventory.SupplierDirectory = (*Store)(nil)
	_ inventory.PolicySetting     = (*Store)(nil)
)

// New opens (and migrates) the database at dbPath. Use ":memory:" for an
// in-memory database. defaultPolicy applies until a policy is saved.
func New(dbPath string, defaultPolicy inventory.CostingPolicy) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := Open(db, defaultPolicy)
	if err := store.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Open wraps an existing connection without migrating it.
func Open(db *sql.DB, defaultPolicy inventory.CostingPolicy) *Store {
	if !defaultPolicy.Valid() {
		defaultPolicy = inventory.PolicyFIFO
	}
	return &Store{db: db, defaultPolicy: defaultPolicy}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the database schema.
func (s *Store) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS stock_items (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		part_number TEXT,
		category TEXT,
		description TEXT,
		supplier_id TEXT,
		total_quantity TEXT NOT NULL,
		average_cost TEXT NOT NULL,
		version INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_stock_items_name ON stock_items(name);

	CREATE TABLE IF NOT EXISTS stock_batches (
		id TEXT PRIMARY KEY,
		stock_id TEXT NOT NULL REFERENCES stock_items(id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		date TEXT NOT NULL,
		quantity TEXT NOT NULL,
		unit_cost TEXT NOT NULL,
		invoice_ref TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_stock_batches_stock ON stock_batches(stock_id, seq);

	-- Usage history (append-only)
	CREATE TABLE IF NOT EXISTS stock_usage (
		id TEXT PRIMARY KEY,
		stock_id TEXT NOT NULL REFERENCES stock_items(id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		kind TEXT NOT NULL,
		date TEXT NOT NULL,
		quantity TEXT NOT NULL,
		cost TEXT NOT NULL,
		job_card_id TEXT,
		job_card_title TEXT,
		asset_id TEXT,
		asset_name TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_stock_usage_stock ON stock_usage(stock_id, seq);
	CREATE INDEX IF NOT EXISTS idx_stock_usage_job_card ON stock_usage(job_card_id)
		WHERE job_card_id IS NOT NULL;

	-- Write-off history (append-only)
	CREATE TABLE IF NOT EXISTS stock_writeoffs (
		id TEXT PRIMARY KEY,
		stock_id TEXT NOT NULL REFERENCES stock_items(id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		date TEXT NOT NULL,
		quantity TEXT NOT NULL,
		cost TEXT NOT NULL,
		reason TEXT NOT NULL,
		notes TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_stock_writeoffs_stock ON stock_writeoffs(stock_id, seq);

	CREATE TABLE IF NOT EXISTS job_cards (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		asset_id TEXT,
		date TEXT NOT NULL,
		labor_cost TEXT NOT NULL,
		notes TEXT,
		status TEXT NOT NULL,
		costing_method TEXT,
		settled_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_job_cards_asset ON job_cards(asset_id, status);

	CREATE TABLE IF NOT EXISTS job_card_items (
		job_card_id TEXT NOT NULL REFERENCES job_cards(id) ON DELETE CASCADE,
		line_no INTEGER NOT NULL,
		stock_id TEXT,
		description TEXT NOT NULL,
		quantity TEXT NOT NULL,
		actual_cost TEXT NOT NULL,
		PRIMARY KEY (job_card_id, line_no)
	);

	CREATE TABLE IF NOT EXISTS assets (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		registration TEXT
	);

	CREATE TABLE IF NOT EXISTS suppliers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		contact TEXT
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// querier is what both *sql.DB and *sql.Tx provide.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// STOCK ITEMS (inventory.StockStore interface)
// =============================================================================

// LoadStockItems returns every stock item with its ledger, ordered by name.
func (s *Store) LoadStockItems(ctx context.Context) ([]*inventory.StockItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return loadStockItems(ctx, s.db)
}

// LoadStockItem returns one stock item with its ledger.
func (s *Store) LoadStockItem(ctx context.Context, id inventory.StockID) (*inventory.StockItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return loadStockItem(ctx, s.db, id)
}

// SaveStockItem saves item in its own transaction.
func (s *Store) SaveStockItem(ctx context.Context, item *inventory.StockItem) error {
	return s.WithStockTx(ctx, func(tx inventory.StockStore) error {
		return tx.SaveStockItem(ctx, item)
	})
}

const stockItemColumns = `id, name, part_number, category, description, supplier_id,
	total_quantity, average_cost, version`

func loadStockItems(ctx context.Context, q querier) ([]*inventory.StockItem, error) {
	items, err := queryStockHeaders(ctx, q,
		`SELECT `+stockItemColumns+` FROM stock_items ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	// Children are loaded after the header rows are closed; an in-memory
	// database has a single connection.
	for _, item := range items {
		if err := loadStockChildren(ctx, q, item); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func loadStockItem(ctx context.Context, q querier, id inventory.StockID) (*inventory.StockItem, error) {
	items, err := queryStockHeaders(ctx, q,
		`SELECT `+stockItemColumns+` FROM stock_items WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: %s", inventory.ErrStockItemNotFound, id)
	}
	if err := loadStockChildren(ctx, q, items[0]); err != nil {
		return nil, err
	}
	return items[0], nil
}

func queryStockHeaders(ctx context.Context, q querier, query string, args ...any) ([]*inventory.StockItem, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock items: %w", err)
	}
	defer rows.Close()

	var items []*inventory.StockItem
	for rows.Next() {
		var (
			item                                        inventory.StockItem
			partNumber, category, description, supplier sql.NullString
		)
		if err := rows.Scan(
			&item.ID, &item.Name, &partNumber, &category, &description, &supplier,
			&item.TotalQuantity, &item.AverageCost, &item.Version,
		); err != nil {
			return nil, fmt.Errorf("failed to scan stock item: %w", err)
		}
		item.PartNumber = partNumber.String
		item.Category = category.String
		item.Description = description.String
		item.SupplierID = inventory.SupplierID(supplier.String)
		items = append(items, &item)
	}
	return items, rows.Err()
}

func loadStockChildren(ctx context.Context, q querier, item *inventory.StockItem) error {
	var err error
	if item.Batches, err = loadBatches(ctx, q, item.ID); err != nil {
		return err
	}
	if item.UsageHistory, err = loadUsage(ctx, q, item.ID); err != nil {
		return err
	}
	item.Writeoffs, err = loadWriteoffs(ctx, q, item.ID)
	return err
}

func loadBatches(ctx context.Context, q querier, id inventory.StockID) ([]inventory.Batch, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, date, quantity, unit_cost, invoice_ref
		FROM stock_batches WHERE stock_id = ? ORDER BY seq ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query batches: %w", err)
	}
	defer rows.Close()

	batches := []inventory.Batch{}
	for rows.Next() {
		var (
			b    inventory.Batch
			date string
			ref  sql.NullString
		)
		if err := rows.Scan(&b.ID, &date, &b.Quantity, &b.UnitCost, &ref); err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		b.Date = parseTime(date)
		b.InvoiceRef = ref.String
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func loadUsage(ctx context.Context, q querier, id inventory.StockID) ([]inventory.UsageRecord, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, kind, date, quantity, cost, job_card_id, job_card_title, asset_id, asset_name
		FROM stock_usage WHERE stock_id = ? ORDER BY seq ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage: %w", err)
	}
	defer rows.Close()

	usage := []inventory.UsageRecord{}
	for rows.Next() {
		var (
			u                                   inventory.UsageRecord
			date                                string
			cardID, cardTitle, assetID, assetNm sql.NullString
		)
		if err := rows.Scan(&u.ID, &u.Kind, &date, &u.Quantity, &u.Cost,
			&cardID, &cardTitle, &assetID, &assetNm); err != nil {
			return nil, fmt.Errorf("failed to scan usage: %w", err)
		}
		u.Date = parseTime(date)
		u.JobCardID = inventory.JobCardID(cardID.String)
		u.JobCardTitle = cardTitle.String
		u.AssetID = inventory.AssetID(assetID.String)
		u.AssetName = assetNm.String
		usage = append(usage, u)
	}
	return usage, rows.Err()
}

func loadWriteoffs(ctx context.Context, q querier, id inventory.StockID) ([]inventory.Writeoff, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, date, quantity, cost, reason, notes
		FROM stock_writeoffs WHERE stock_id = ? ORDER BY seq ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query write-offs: %w", err)
	}
	defer rows.Close()

	writeoffs := []inventory.Writeoff{}
	for rows.Next() {
		var (
			w     inventory.Writeoff
			date  string
			notes sql.NullString
		)
		if err := rows.Scan(&w.ID, &date, &w.Quantity, &w.Cost, &w.Reason, &notes); err != nil {
			return nil, fmt.Errorf("failed to scan write-off: %w", err)
		}
		w.Date = parseTime(date)
		w.Notes = notes.String
		writeoffs = append(writeoffs, w)
	}
	return writeoffs, rows.Err()
}

// saveStockItem writes item inside an open transaction. The version check
// and bump happen in the same statement that updates the row.
func saveStockItem(ctx context.Context, q querier, item *inventory.StockItem) error {
	now := formatTime(time.Now().UTC())

	if item.Version == 0 {
		_, err := q.ExecContext(ctx, `
			INSERT INTO stock_items (`+stockItemColumns+`, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?)`,
			item.ID, item.Name, nullString(item.PartNumber), nullString(item.Category),
			nullString(item.Description), nullString(string(item.SupplierID)),
			item.TotalQuantity, item.AverageCost, now,
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return staleError(ctx, q, item)
			}
			return fmt.Errorf("failed to insert stock item: %w", err)
		}
	} else {
		res, err := q.ExecContext(ctx, `
			UPDATE stock_items SET
				name = ?, part_number = ?, category = ?, description = ?, supplier_id = ?,
				total_quantity = ?, average_cost = ?, version = version + 1, updated_at = ?
			WHERE id = ? AND version = ?`,
			item.Name, nullString(item.PartNumber), nullString(item.Category),
			nullString(item.Description), nullString(string(item.SupplierID)),
			item.TotalQuantity, item.AverageCost, now,
			item.ID, item.Version,
		)
		if err != nil {
			return fmt.Errorf("failed to update stock item: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n != 1 {
			return staleError(ctx, q, item)
		}
	}

	if err := saveBatches(ctx, q, item); err != nil {
		return err
	}
	if err := saveUsage(ctx, q, item); err != nil {
		return err
	}
	if err := saveWriteoffs(ctx, q, item); err != nil {
		return err
	}

	item.Version++
	return nil
}

func staleError(ctx context.Context, q querier, item *inventory.StockItem) error {
	var actual int64
	err := q.QueryRowContext(ctx, `SELECT version FROM stock_items WHERE id = ?`, item.ID).Scan(&actual)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to read stock item version: %w", err)
	}
	return &inventory.StaleReferenceError{StockID: item.ID, ExpectedVersion: item.Version, ActualVersion: actual}
}

// saveBatches replaces the item's batches. Batches shrink and disappear
// on consumption, so they are current state rather than history.
func saveBatches(ctx context.Context, q querier, item *inventory.StockItem) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM stock_batches WHERE stock_id = ?`, item.ID); err != nil {
		return fmt.Errorf("failed to clear batches: %w", err)
	}
	for i, b := range item.Batches {
		_, err := q.ExecContext(ctx, `
			INSERT INTO stock_batches (id, stock_id, seq, date, quantity, unit_cost, invoice_ref)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			b.ID, item.ID, i, formatTime(b.Date), b.Quantity, b.UnitCost, nullString(b.InvoiceRef),
		)
		if err != nil {
			return fmt.Errorf("failed to insert batch: %w", err)
		}
	}
	return nil
}

func saveUsage(ctx context.Context, q querier, item *inventory.StockItem) error {
	ids := make([]string, len(item.UsageHistory))
	for i, u := range item.UsageHistory {
		ids[i] = string(u.ID)
	}
	from, err := appendFrom(ctx, q, "stock_usage", item.ID, ids)
	if err != nil {
		return err
	}
	for i := from; i < len(item.UsageHistory); i++ {
		u := item.UsageHistory[i]
		_, err := q.ExecContext(ctx, `
			INSERT INTO stock_usage
			(id, stock_id, seq, kind, date, quantity, cost, job_card_id, job_card_title, asset_id, asset_name)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			u.ID, item.ID, i, u.Kind, formatTime(u.Date), u.Quantity, u.Cost,
			nullString(string(u.JobCardID)), nullString(u.JobCardTitle),
			nullString(string(u.AssetID)), nullString(u.AssetName),
		)
		if err != nil {
			return fmt.Errorf("failed to insert usage record: %w", err)
		}
	}
	return nil
}

func saveWriteoffs(ctx context.Context, q querier, item *inventory.StockItem) error {
	ids := make([]string, len(item.Writeoffs))
	for i, w := range item.Writeoffs {
		ids[i] = string(w.ID)
	}
	from, err := appendFrom(ctx, q, "stock_writeoffs", item.ID, ids)
	if err != nil {
		return err
	}
	for i := from; i < len(item.Writeoffs); i++ {
		w := item.Writeoffs[i]
		_, err := q.ExecContext(ctx, `
			INSERT INTO stock_writeoffs (id, stock_id, seq, date, quantity, cost, reason, notes)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			w.ID, item.ID, i, formatTime(w.Date), w.Quantity, w.Cost, w.Reason, nullString(w.Notes),
		)
		if err != nil {
			return fmt.Errorf("failed to insert write-off: %w", err)
		}
	}
	return nil
}

// appendFrom returns the index of the first history entry not yet stored.
// When the stored history is not a prefix of ids (an imported ledger),
// the stored rows are removed and everything is written again.
func appendFrom(ctx context.Context, q querier, table string, id inventory.StockID, ids []string) (int, error) {
	rows, err := q.QueryContext(ctx, `SELECT id FROM `+table+` WHERE stock_id = ? ORDER BY seq ASC`, id)
	if err != nil {
		return 0, fmt.Errorf("failed to query %s: %w", table, err)
	}
	var stored []string
	for rows.Next() {
		var sid string
		if err := rows.Scan(&sid); err != nil {
			rows.Close()
			return 0, err
		}
		stored = append(stored, sid)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	prefix := len(stored) <= len(ids)
	for i := 0; prefix && i < len(stored); i++ {
		prefix = stored[i] == ids[i]
	}
	if prefix {
		return len(stored), nil
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM `+table+` WHERE stock_id = ?`, id); err != nil {
		return 0, fmt.Errorf("failed to replace %s: %w", table, err)
	}
	return 0, nil
}

// =============================================================================
// JOB CARDS (jobcard.Store interface)
// =============================================================================

// LoadJobCards returns all cards, newest first.
func (s *Store) LoadJobCards(ctx context.Context) ([]*jobcard.JobCard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return loadJobCards(ctx, s.db)
}

// LoadJobCard returns one card with its lines.
func (s *Store) LoadJobCard(ctx context.Context, id inventory.JobCardID) (*jobcard.JobCard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return loadJobCard(ctx, s.db, id)
}

// SaveJobCard inserts or replaces a card in its own transaction.
func (s *Store) SaveJobCard(ctx context.Context, card *jobcard.JobCard) error {
	return s.WithTx(ctx, func(tx jobcard.Store) error {
		return tx.SaveJobCard(ctx, card)
	})
}

// DeleteJobCard removes a card and its lines.
func (s *Store) DeleteJobCard(ctx context.Context, id inventory.JobCardID) error {
	return s.WithTx(ctx, func(tx jobcard.Store) error {
		return tx.DeleteJobCard(ctx, id)
	})
}

const jobCardColumns = `id, title, asset_id, date, labor_cost, notes, status, costing_method, settled_at`

func loadJobCards(ctx context.Context, q querier) ([]*jobcard.JobCard, error) {
	cards, err := queryJobCards(ctx, q, `SELECT `+jobCardColumns+` FROM job_cards ORDER BY date DESC, id ASC`)
	if err != nil {
		return nil, err
	}
	for _, c := range cards {
		if c.Items, err = loadJobCardItems(ctx, q, c.ID); err != nil {
			return nil, err
		}
	}
	return cards, nil
}

func loadJobCard(ctx context.Context, q querier, id inventory.JobCardID) (*jobcard.JobCard, error) {
	cards, err := queryJobCards(ctx, q, `SELECT `+jobCardColumns+` FROM job_cards WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(cards) == 0 {
		return nil, fmt.Errorf("%w: %s", inventory.ErrJobCardNotFound, id)
	}
	if cards[0].Items, err = loadJobCardItems(ctx, q, id); err != nil {
		return nil, err
	}
	return cards[0], nil
}

func queryJobCards(ctx context.Context, q querier, query string, args ...any) ([]*jobcard.JobCard, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query job cards: %w", err)
	}
	defer rows.Close()

	var cards []*jobcard.JobCard
	for rows.Next() {
		var (
			c                                 jobcard.JobCard
			date                              string
			assetID, notes, method, settledAt sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.Title, &assetID, &date, &c.LaborCost, &notes,
			&c.Status, &method, &settledAt); err != nil {
			return nil, fmt.Errorf("failed to scan job card: %w", err)
		}
		c.AssetID = inventory.AssetID(assetID.String)
		c.Date = parseTime(date)
		c.Notes = notes.String
		c.CostingMethod = inventory.CostingPolicy(method.String)
		if settledAt.Valid {
			t := parseTime(settledAt.String)
			c.SettledAt = &t
		}
		cards = append(cards, &c)
	}
	return cards, rows.Err()
}

func loadJobCardItems(ctx context.Context, q querier, id inventory.JobCardID) ([]jobcard.LineItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT stock_id, description, quantity, actual_cost
		FROM job_card_items WHERE job_card_id = ? ORDER BY line_no ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query job card items: %w", err)
	}
	defer rows.Close()

	var items []jobcard.LineItem
	for rows.Next() {
		var (
			l       jobcard.LineItem
			stockID sql.NullString
		)
		if err := rows.Scan(&stockID, &l.Description, &l.Quantity, &l.ActualCost); err != nil {
			return nil, fmt.Errorf("failed to scan job card item: %w", err)
		}
		l.StockID = inventory.StockID(stockID.String)
		items = append(items, l)
	}
	return items, rows.Err()
}

func saveJobCard(ctx context.Context, q querier, c *jobcard.JobCard) error {
	var settledAt sql.NullString
	if c.SettledAt != nil {
		settledAt = nullString(formatTime(*c.SettledAt))
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO job_cards (`+jobCardColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			asset_id = excluded.asset_id,
			date = excluded.date,
			labor_cost = excluded.labor_cost,
			notes = excluded.notes,
			status = excluded.status,
			costing_method = excluded.costing_method,
			settled_at = excluded.settled_at`,
		c.ID, c.Title, nullString(string(c.AssetID)), formatTime(c.Date), c.LaborCost,
		nullString(c.Notes), c.Status, nullString(string(c.CostingMethod)), settledAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save job card: %w", err)
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM job_card_items WHERE job_card_id = ?`, c.ID); err != nil {
		return fmt.Errorf("failed to clear job card items: %w", err)
	}
	for i, l := range c.Items {
		_, err := q.ExecContext(ctx, `
			INSERT INTO job_card_items (job_card_id, line_no, stock_id, description, quantity, actual_cost)
			VALUES (?, ?, ?, ?, ?, ?)`,
			c.ID, i, nullString(string(l.StockID)), l.Description, l.Quantity, l.ActualCost,
		)
		if err != nil {
			return fmt.Errorf("failed to insert job card item: %w", err)
		}
	}
	return nil
}

func deleteJobCard(ctx context.Context, q querier, id inventory.JobCardID) error {
	res, err := q.ExecContext(ctx, `DELETE FROM job_cards WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete job card: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", inventory.ErrJobCardNotFound, id)
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE (jobcard.TxStore / inventory.TxStockStore)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store jobcard.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// WithStockTx is WithTx restricted to stock items.
func (s *Store) WithStockTx(ctx context.Context, fn func(inventory.StockStore) error) error {
	return s.WithTx(ctx, func(tx jobcard.Store) error { return fn(tx) })
}

// txStore reads and writes only through the transaction.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) LoadStockItems(ctx context.Context) ([]*inventory.StockItem, error) {
	return loadStockItems(ctx, ts.tx)
}

func (ts *txStore) LoadStockItem(ctx context.Context, id inventory.StockID) (*inventory.StockItem, error) {
	return loadStockItem(ctx, ts.tx, id)
}

func (ts *txStore) SaveStockItem(ctx context.Context, item *inventory.StockItem) error {
	return saveStockItem(ctx, ts.tx, item)
}

func (ts *txStore) LoadJobCards(ctx context.Context) ([]*jobcard.JobCard, error) {
	return loadJobCards(ctx, ts.tx)
}

func (ts *txStore) LoadJobCard(ctx context.Context, id inventory.JobCardID) (*jobcard.JobCard, error) {
	return loadJobCard(ctx, ts.tx, id)
}

func (ts *txStore) SaveJobCard(ctx context.Context, card *jobcard.JobCard) error {
	return saveJobCard(ctx, ts.tx, card)
}

func (ts *txStore) DeleteJobCard(ctx context.Context, id inventory.JobCardID) error {
	return deleteJobCard(ctx, ts.tx, id)
}

// =============================================================================
// ASSETS (jobcard.AssetDirectory interface)
// =============================================================================

// LoadAssets returns every asset, ordered by name.
func (s *Store) LoadAssets(ctx context.Context) ([]jobcard.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, name, registration FROM assets ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query assets: %w", err)
	}
	defer rows.Close()

	assets := []jobcard.Asset{}
	for rows.Next() {
		var (
			a   jobcard.Asset
			reg sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.Name, &reg); err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		a.Registration = reg.String
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// LoadAsset returns one asset.
func (s *Store) LoadAsset(ctx context.Context, id inventory.AssetID) (jobcard.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		a   jobcard.Asset
		reg sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, name, registration FROM assets WHERE id = ?`, id).
		Scan(&a.ID, &a.Name, &reg)
	if errors.Is(err, sql.ErrNoRows) {
		return jobcard.Asset{}, fmt.Errorf("%w: %s", inventory.ErrAssetNotFound, id)
	}
	if err != nil {
		return jobcard.Asset{}, fmt.Errorf("failed to load asset: %w", err)
	}
	a.Registration = reg.String
	return a, nil
}

// SaveAsset inserts or updates an asset.
func (s *Store) SaveAsset(ctx context.Context, a jobcard.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO assets (id, name, registration) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, registration = excluded.registration`,
		a.ID, a.Name, nullString(a.Registration),
	)
	if err != nil {
		return fmt.Errorf("failed to save asset: %w", err)
	}
	return nil
}

// =============================================================================
// SUPPLIERS (inventory.SupplierDirectory interface)
// =============================================================================

// LoadSuppliers returns every supplier, ordered by name.
func (s *Store) LoadSuppliers(ctx context.Context) ([]inventory.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, name, contact FROM suppliers ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query suppliers: %w", err)
	}
	defer rows.Close()

	suppliers := []inventory.Supplier{}
	for rows.Next() {
		var (
			sup     inventory.Supplier
			contact sql.NullString
		)
		if err := rows.Scan(&sup.ID, &sup.Name, &contact); err != nil {
			return nil, fmt.Errorf("failed to scan supplier: %w", err)
		}
		sup.Contact = contact.String
		suppliers = append(suppliers, sup)
	}
	return suppliers, rows.Err()
}

// LoadSupplier returns one supplier.
func (s *Store) LoadSupplier(ctx context.Context, id inventory.SupplierID) (inventory.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		sup     inventory.Supplier
		contact sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, name, contact FROM suppliers WHERE id = ?`, id).
		Scan(&sup.ID, &sup.Name, &contact)
	if errors.Is(err, sql.ErrNoRows) {
		return inventory.Supplier{}, fmt.Errorf("%w: %s", inventory.ErrSupplierNotFound, id)
	}
	if err != nil {
		return inventory.Supplier{}, fmt.Errorf("failed to load supplier: %w", err)
	}
	sup.Contact = contact.String
	return sup, nil
}

// SaveSupplier inserts or updates a supplier.
func (s *Store) SaveSupplier(ctx context.Context, sup inventory.Supplier) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO suppliers (id, name, contact) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, contact = excluded.contact`,
		sup.ID, sup.Name, nullString(sup.Contact),
	)
	if err != nil {
		return fmt.Errorf("failed to save supplier: %w", err)
	}
	return nil
}

// =============================================================================
// SETTINGS (inventory.PolicySetting interface)
// =============================================================================

const costingPolicyKey = "costing_policy"

// CostingPolicy returns the stored policy, or the default if none is set.
func (s *Store) CostingPolicy(ctx context.Context) (inventory.CostingPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, costingPolicyKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return s.defaultPolicy, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load costing policy: %w", err)
	}
	return inventory.ParseCostingPolicy(value)
}

// SetCostingPolicy stores the policy used by settlements started from now on.
func (s *Store) SetCostingPolicy(ctx context.Context, policy inventory.CostingPolicy) error {
	if !policy.Valid() {
		return fmt.Errorf("%w: %q", inventory.ErrInvalidPolicy, policy)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		costingPolicyKey, string(policy),
	)
	if err != nil {
		return fmt.Errorf("failed to save costing policy: %w", err)
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// isUniqueConstraintError reports a duplicate key on insert. A clashing
// TEXT primary key is reported as ErrConstraintPrimaryKey, not
// ErrConstraintUnique.
func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
