package inventory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a single-process Store. Each product has a lock channel so
// waiting for it honours context cancellation; committed products are
// immutable snapshots so readers never wait on writers.
type MemoryStore struct {
	locks sync.Map // product id -> chan struct{}

	mu           sync.RWMutex
	products     map[string]*Product
	reservations map[Token]*Reservation
	lines        map[string]map[int]*OrderLine
	ledger       []LedgerEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products:     make(map[string]*Product),
		reservations: make(map[Token]*Reservation),
		lines:        make(map[string]map[int]*OrderLine),
	}
}

func (s *MemoryStore) lock(ctx context.Context, productID string) (func(), error) {
	v, _ := s.locks.LoadOrStore(productID, make(chan struct{}, 1))
	ch := v.(chan struct{})
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *MemoryStore) CreateProduct(ctx context.Context, p *Product, opening []LedgerEntry) error {
	unlock, err := s.lock(ctx, p.ID)
	if err != nil {
		return err
	}
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[p.ID]; ok {
		return fmt.Errorf("%w: %s", ErrProductExists, p.ID)
	}
	s.products[p.ID] = p.Clone()
	s.ledger = append(s.ledger, opening...)
	return nil
}

func (s *MemoryStore) Product(ctx context.Context, id string) (*Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	p, ok := s.products[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, id)
	}
	return p.Clone(), nil
}

func (s *MemoryStore) Products(ctx context.Context, after string, limit int) ([]*Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	ids := make([]string, 0, len(s.products))
	for id := range s.products {
		if id > after {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]*Product, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.products[id].Clone())
	}
	s.mu.RUnlock()
	return out, nil
}

func (s *MemoryStore) Reservation(ctx context.Context, id Token) (*Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	r, ok := s.reservations[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrReservationNotFound, id)
	}
	c := *r
	return &c, nil
}

func (s *MemoryStore) ExpiredReservations(ctx context.Context, now time.Time, limit int) ([]*Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	var out []*Reservation
	for _, r := range s.reservations {
		if r.Expired(now) {
			c := *r
			out = append(out, &c)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) OrderLines(ctx context.Context, orderID string) ([]*OrderLine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]*OrderLine, 0, len(s.lines[orderID]))
	for _, l := range s.lines[orderID] {
		c := *l
		out = append(out, &c)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (s *MemoryStore) Ledger(ctx context.Context, f LedgerFilter) ([]LedgerEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []LedgerEntry
	for _, e := range s.ledger {
		if !f.Matches(e) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) Atomically(ctx context.Context, productID string, fn func(tx Tx) error) (*Change, error) {
	unlock, err := s.lock(ctx, productID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	s.mu.RLock()
	cur, ok := s.products[productID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}

	tx := &memTx{
		store:        s,
		product:      cur.Clone(),
		reservations: make(map[Token]*Reservation),
		lines:        make(map[string]*OrderLine),
	}
	if err := fn(tx); err != nil {
		return nil, err
	}
	if !tx.dirty() {
		return &Change{Product: cur.Clone()}, nil
	}
	// A caller that gave up before commit sees no effect at all.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p := tx.product
	p.Version = cur.Version + 1
	p.UpdatedAt = time.Now().UTC()

	s.mu.Lock()
	s.products[productID] = p.Clone()
	for id, r := range tx.reservations {
		c := *r
		s.reservations[id] = &c
	}
	for _, l := range tx.lines {
		byIndex, ok := s.lines[l.OrderID]
		if !ok {
			byIndex = make(map[int]*OrderLine)
			s.lines[l.OrderID] = byIndex
		}
		c := *l
		byIndex[l.Index] = &c
	}
	s.ledger = append(s.ledger, tx.entries...)
	s.mu.Unlock()

	return &Change{Product: p.Clone(), Entries: tx.entries}, nil
}

type memTx struct {
	store        *MemoryStore
	product      *Product
	reservations map[Token]*Reservation
	lines        map[string]*OrderLine
	entries      []LedgerEntry
}

func (t *memTx) dirty() bool {
	return len(t.reservations) > 0 || len(t.lines) > 0 || len(t.entries) > 0
}

func (t *memTx) Product() *Product { return t.product }

func (t *memTx) Reservation(id Token) (*Reservation, error) {
	if r, ok := t.reservations[id]; ok {
		c := *r
		return &c, nil
	}
	t.store.mu.RLock()
	r, ok := t.store.reservations[id]
	t.store.mu.RUnlock()
	if !ok || r.ProductID != t.product.ID {
		return nil, fmt.Errorf("%w: %s", ErrReservationNotFound, id)
	}
	c := *r
	return &c, nil
}

func (t *memTx) PutReservation(r *Reservation) {
	c := *r
	t.reservations[r.ID] = &c
}

func lineKey(orderID string, index int) string { return fmt.Sprintf("%s#%d", orderID, index) }

func (t *memTx) OrderLine(orderID string, index int) (*OrderLine, error) {
	if l, ok := t.lines[lineKey(orderID, index)]; ok {
		c := *l
		return &c, nil
	}
	t.store.mu.RLock()
	l, ok := t.store.lines[orderID][index]
	t.store.mu.RUnlock()
	if !ok || l.ProductID != t.product.ID {
		return nil, fmt.Errorf("%w: order %s line %d", ErrOrderLineNotFound, orderID, index)
	}
	c := *l
	return &c, nil
}

func (t *memTx) PutOrderLine(l *OrderLine) {
	c := *l
	t.lines[lineKey(l.OrderID, l.Index)] = &c
}

func (t *memTx) Append(e LedgerEntry) { t.entries = append(t.entries, e) }
