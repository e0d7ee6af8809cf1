package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-variant-inventory/internal/inventory"
)

//go:embed schema.sql
var schema string

// Migrate creates the tables if they do not exist yet.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	_, err := db.Exec(ctx, schema)
	return err
}

// Store is the durable inventory.Store. One product is one row (variants as
// JSONB); Atomically holds that row FOR UPDATE for the whole transaction.
type Store struct{ DB *pgxpool.Pool }

const productCols = `product_id, variants, total_stock, total_reserved, version, updated_at`

const reservationCols = `token, product_id, size, color, quantity, cart_id, status, order_id, created_at, expires_at, updated_at`

const lineCols = `order_id, line_index, product_id, size, color, quantity, unit_price_cents, state, fulfilled, reservation_id, replacement_id, created_at, updated_at`

var ledgerCols = []string{"id", "order_id", "product_id", "size", "color", "kind", "stock_delta", "reserved_delta", "reference", "created_at"}

func scanProduct(row pgx.Row) (*inventory.Product, error) {
	var (
		id              string
		raw             []byte
		stock, reserved int
		version         int64
		updatedAt       time.Time
	)
	if err := row.Scan(&id, &raw, &stock, &reserved, &version, &updatedAt); err != nil {
		return nil, err
	}
	var records []inventory.StockRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("decode variants of %s: %w", id, err)
	}
	return inventory.RestoreProduct(id, records, stock, reserved, version, updatedAt.UTC()), nil
}

func variantsJSON(p *inventory.Product) (string, error) {
	vs := p.Variants()
	if vs == nil {
		vs = []inventory.StockRecord{}
	}
	b, err := json.Marshal(vs)
	return string(b), err
}

func scanReservation(row pgx.CollectableRow) (*inventory.Reservation, error) {
	var r inventory.Reservation
	err := row.Scan(&r.ID, &r.ProductID, &r.Key.Size, &r.Key.Color, &r.Quantity, &r.CartID,
		&r.Status, &r.OrderID, &r.CreatedAt, &r.ExpiresAt, &r.UpdatedAt)
	return &r, err
}

func scanLine(row pgx.CollectableRow) (*inventory.OrderLine, error) {
	var l inventory.OrderLine
	err := row.Scan(&l.OrderID, &l.Index, &l.ProductID, &l.Key.Size, &l.Key.Color, &l.Quantity,
		&l.UnitPriceCents, &l.State, &l.Fulfilled, &l.ReservationID, &l.ReplacementID, &l.CreatedAt, &l.UpdatedAt)
	return &l, err
}

func scanEntry(row pgx.CollectableRow) (inventory.LedgerEntry, error) {
	var e inventory.LedgerEntry
	err := row.Scan(&e.ID, &e.OrderID, &e.ProductID, &e.Key.Size, &e.Key.Color, &e.Kind,
		&e.StockDelta, &e.ReservedDelta, &e.Reference, &e.CreatedAt)
	return e, err
}

func (s *Store) CreateProduct(ctx context.Context, p *inventory.Product, opening []inventory.LedgerEntry) error {
	vs, err := variantsJSON(p)
	if err != nil {
		return err
	}
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO inventory_products(`+productCols+`)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		p.ID, vs, p.TotalStock(), p.TotalReserved(), p.Version, p.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", inventory.ErrProductExists, p.ID)
	}
	if err != nil {
		return err
	}
	if err := appendLedger(ctx, tx, opening); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) Product(ctx context.Context, id string) (*inventory.Product, error) {
	p, err := scanProduct(s.DB.QueryRow(ctx, `SELECT `+productCols+` FROM inventory_products WHERE product_id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", inventory.ErrProductNotFound, id)
	}
	return p, err
}

func (s *Store) Products(ctx context.Context, after string, limit int) ([]*inventory.Product, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.DB.Query(ctx, `
		SELECT `+productCols+` FROM inventory_products
		WHERE product_id > $1 ORDER BY product_id LIMIT $2`, after, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*inventory.Product, error) {
		return scanProduct(row)
	})
}

func (s *Store) Reservation(ctx context.Context, id inventory.Token) (*inventory.Reservation, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+reservationCols+` FROM inventory_reservations WHERE token=$1`, id)
	if err != nil {
		return nil, err
	}
	r, err := pgx.CollectExactlyOneRow(rows, scanReservation)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", inventory.ErrReservationNotFound, id)
	}
	return r, err
}

func (s *Store) ExpiredReservations(ctx context.Context, now time.Time, limit int) ([]*inventory.Reservation, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.DB.Query(ctx, `
		SELECT `+reservationCols+` FROM inventory_reservations
		WHERE status='ACTIVE' AND expires_at <= $1
		ORDER BY expires_at LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanReservation)
}

func (s *Store) OrderLines(ctx context.Context, orderID string) ([]*inventory.OrderLine, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+lineCols+` FROM order_lines WHERE order_id=$1 ORDER BY line_index`, orderID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanLine)
}

func (s *Store) Ledger(ctx context.Context, f inventory.LedgerFilter) ([]inventory.LedgerEntry, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.OrderID != "" {
		add("order_id = $%d", f.OrderID)
	}
	if f.ProductID != "" {
		add("product_id = $%d", f.ProductID)
	}
	if f.Key != nil {
		k := inventory.Key(f.Key.Size, f.Key.Color)
		add("lower(size) = lower($%d)", k.Size)
		add("lower(color) = lower($%d)", k.Color)
	}
	if !f.Since.IsZero() {
		add("created_at >= $%d", f.Since)
	}
	if !f.Until.IsZero() {
		add("created_at < $%d", f.Until)
	}
	q := `SELECT ` + strings.Join(ledgerCols, ", ") + ` FROM inventory_ledger`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY seq`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	rows, err := s.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanEntry)
}

// Atomically locks the product row, runs fn against a buffered view and
// writes product, reservations, order lines and ledger entries in the same
// transaction.
func (s *Store) Atomically(ctx context.Context, productID string, fn func(tx inventory.Tx) error) (*inventory.Change, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	cur, err := scanProduct(tx.QueryRow(ctx,
		`SELECT `+productCols+` FROM inventory_products WHERE product_id=$1 FOR UPDATE`, productID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", inventory.ErrProductNotFound, productID)
	}
	if err != nil {
		return nil, err
	}

	t := &pgTx{
		ctx:          ctx,
		tx:           tx,
		product:      cur.Clone(),
		reservations: make(map[inventory.Token]*inventory.Reservation),
		lines:        make(map[lineID]*inventory.OrderLine),
	}
	if err := fn(t); err != nil {
		return nil, err
	}
	if !t.dirty() {
		return &inventory.Change{Product: cur}, nil
	}

	p := t.product
	p.Version = cur.Version + 1
	p.UpdatedAt = time.Now().UTC()
	vs, err := variantsJSON(p)
	if err != nil {
		return nil, err
	}

	b := &pgx.Batch{}
	b.Queue(`
		UPDATE inventory_products
		SET variants=$2, total_stock=$3, total_reserved=$4, version=$5, updated_at=$6
		WHERE product_id=$1`,
		p.ID, vs, p.TotalStock(), p.TotalReserved(), p.Version, p.UpdatedAt)
	for _, r := range t.reservations {
		b.Queue(`
			INSERT INTO inventory_reservations(`+reservationCols+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
			ON CONFLICT (token) DO UPDATE SET
				quantity=EXCLUDED.quantity, status=EXCLUDED.status, order_id=EXCLUDED.order_id,
				expires_at=EXCLUDED.expires_at, updated_at=EXCLUDED.updated_at`,
			r.ID, r.ProductID, r.Key.Size, r.Key.Color, r.Quantity, r.CartID,
			r.Status, r.OrderID, r.CreatedAt, r.ExpiresAt, r.UpdatedAt)
	}
	for _, l := range t.lines {
		b.Queue(`
			INSERT INTO order_lines(`+lineCols+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
			ON CONFLICT (order_id, line_index) DO UPDATE SET
				state=EXCLUDED.state, fulfilled=EXCLUDED.fulfilled,
				replacement_id=EXCLUDED.replacement_id, updated_at=EXCLUDED.updated_at`,
			l.OrderID, l.Index, l.ProductID, l.Key.Size, l.Key.Color, l.Quantity, l.UnitPriceCents,
			l.State, l.Fulfilled, l.ReservationID, l.ReplacementID, l.CreatedAt, l.UpdatedAt)
	}
	if err := tx.SendBatch(ctx, b).Close(); err != nil {
		return nil, fmt.Errorf("write product %s: %w", productID, err)
	}
	if err := appendLedger(ctx, tx, t.entries); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &inventory.Change{Product: p.Clone(), Entries: t.entries}, nil
}

func appendLedger(ctx context.Context, tx pgx.Tx, entries []inventory.LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []any{e.ID, e.OrderID, e.ProductID, e.Key.Size, e.Key.Color,
			string(e.Kind), e.StockDelta, e.ReservedDelta, e.Reference, e.CreatedAt})
	}
	_, err := tx.CopyFrom(ctx, pgx.Identifier{"inventory_ledger"}, ledgerCols, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("append ledger: %w", err)
	}
	return nil
}

type lineID struct {
	orderID string
	index   int
}

// pgTx buffers writes; reads see buffered values first, then the database
// through the open transaction.
type pgTx struct {
	ctx          context.Context
	tx           pgx.Tx
	product      *inventory.Product
	reservations map[inventory.Token]*inventory.Reservation
	lines        map[lineID]*inventory.OrderLine
	entries      []inventory.LedgerEntry
}

func (t *pgTx) dirty() bool {
	return len(t.reservations) > 0 || len(t.lines) > 0 || len(t.entries) > 0
}

func (t *pgTx) Product() *inventory.Product { return t.product }

func (t *pgTx) Reservation(id inventory.Token) (*inventory.Reservation, error) {
	if r, ok := t.reservations[id]; ok {
		c := *r
		return &c, nil
	}
	rows, err := t.tx.Query(t.ctx, `
		SELECT `+reservationCols+` FROM inventory_reservations
		WHERE token=$1 AND product_id=$2`, id, t.product.ID)
	if err != nil {
		return nil, err
	}
	r, err := pgx.CollectExactlyOneRow(rows, scanReservation)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", inventory.ErrReservationNotFound, id)
	}
	return r, err
}

func (t *pgTx) PutReservation(r *inventory.Reservation) {
	c := *r
	t.reservations[r.ID] = &c
}

func (t *pgTx) OrderLine(orderID string, index int) (*inventory.OrderLine, error) {
	if l, ok := t.lines[lineID{orderID, index}]; ok {
		c := *l
		return &c, nil
	}
	rows, err := t.tx.Query(t.ctx, `
		SELECT `+lineCols+` FROM order_lines
		WHERE order_id=$1 AND line_index=$2 AND product_id=$3`, orderID, index, t.product.ID)
	if err != nil {
		return nil, err
	}
	l, err := pgx.CollectExactlyOneRow(rows, scanLine)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: order %s line %d", inventory.ErrOrderLineNotFound, orderID, index)
	}
	return l, err
}

func (t *pgTx) PutOrderLine(l *inventory.OrderLine) {
	c := *l
	t.lines[lineID{l.OrderID, l.Index}] = &c
}

func (t *pgTx) Append(e inventory.LedgerEntry) { t.entries = append(t.entries, e) }
