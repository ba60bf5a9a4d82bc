package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"wingscafe/backend/internal/domain"
	"wingscafe/backend/internal/kv"
	"wingscafe/backend/internal/store"
	"wingscafe/backend/internal/xid"
)

type Options struct {
	// Backend names the kv backend in status reports.
	Backend string
	// Seed fills an empty catalog with the demo products.
	Seed bool
}

// Store owns the catalog and both ledger sequences for the process. Every
// committed mutation is flushed to the kv store; memory stays authoritative
// when a flush fails.
type Store struct {
	mu      sync.Mutex
	state   *state
	kv      kv.Store
	backend string
	// pending holds collections changed since their last successful write.
	pending map[string]bool

	statusMu      sync.RWMutex
	lastFlushAt   time.Time
	lastFailureAt time.Time
	lastFlushErr  error
	pendingKeys   []string
}

// flushTimeout bounds one flush. Flushes run detached from the caller's
// context so a dropped request never skips persisting a committed change.
const flushTimeout = 10 * time.Second

type state struct {
	products []domain.Product
	sales    []domain.SaleRecord
	edits    []domain.EditRecord
	dirty    map[string]bool
}

func DemoProducts() []domain.Product {
	price := decimal.NewFromInt(4)
	return []domain.Product{
		{ID: xid.New("prd"), Name: "Apple", Quantity: 50, Price: price, Image: "./apple.jpg"},
		{ID: xid.New("prd"), Name: "Banana", Quantity: 30, Price: price, Image: "./banana.jpg"},
		{ID: xid.New("prd"), Name: "Orange", Quantity: 20, Price: price, Image: "./orange.jpg"},
	}
}

// Load reads the three collections from the kv store. Absent keys start
// empty; an absent catalog is seeded when opts.Seed is set.
func Load(ctx context.Context, backing kv.Store, opts Options) (*Store, error) {
	s := &Store{
		state:   &state{dirty: map[string]bool{}},
		kv:      backing,
		backend: opts.Backend,
		pending: map[string]bool{},
	}

	productsFound, err := loadKey(ctx, backing, domain.KeyProducts, &s.state.products)
	if err != nil {
		return nil, err
	}
	if _, err := loadKey(ctx, backing, domain.KeySales, &s.state.sales); err != nil {
		return nil, err
	}
	if _, err := loadKey(ctx, backing, domain.KeyEdits, &s.state.edits); err != nil {
		return nil, err
	}

	if !productsFound && opts.Seed {
		s.state.products = DemoProducts()
		s.pending[domain.KeyProducts] = true
		s.flush(ctx)
		log.Printf("[store] seeded demo catalog with %d products", len(s.state.products))
	}

	return s, nil
}

// New returns an empty store over backing without reading it.
func New(backing kv.Store) *Store {
	return &Store{
		state:   &state{dirty: map[string]bool{}},
		kv:      backing,
		backend: "memory",
		pending: map[string]bool{},
	}
}

func loadKey[T any](ctx context.Context, backing kv.Store, key string, dest *[]T) (bool, error) {
	raw, ok, err := backing.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("load %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("load %s: corrupt snapshot: %w", key, err)
	}
	return true, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.ListProducts(ctx)
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.GetProduct(ctx, id)
}

func (s *Store) FindProductByName(ctx context.Context, name string) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.FindProductByName(ctx, name)
}

func (s *Store) ListSales(ctx context.Context) ([]domain.SaleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.ListSales(ctx)
}

func (s *Store) ListEdits(ctx context.Context) ([]domain.EditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.ListEdits(ctx)
}

func (s *Store) AddProduct(ctx context.Context, product domain.Product) error {
	return s.WithinTx(ctx, func(tx store.Tx) error {
		return tx.AddProduct(ctx, product)
	})
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) error {
	return s.WithinTx(ctx, func(tx store.Tx) error {
		return tx.UpdateProduct(ctx, product)
	})
}

func (s *Store) RemoveProduct(ctx context.Context, id string) error {
	return s.WithinTx(ctx, func(tx store.Tx) error {
		return tx.RemoveProduct(ctx, id)
	})
}

func (s *Store) AppendSale(ctx context.Context, record domain.SaleRecord) error {
	return s.WithinTx(ctx, func(tx store.Tx) error {
		return tx.AppendSale(ctx, record)
	})
}

func (s *Store) AppendEdit(ctx context.Context, record domain.EditRecord) error {
	return s.WithinTx(ctx, func(tx store.Tx) error {
		return tx.AppendEdit(ctx, record)
	})
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := s.state.clone()
	if err := fn(staged); err != nil {
		return err
	}
	if len(staged.dirty) == 0 {
		return nil
	}

	for key := range staged.dirty {
		s.pending[key] = true
	}
	staged.dirty = map[string]bool{}
	s.state = staged
	s.flush(ctx)
	return nil
}

func (s *Store) Snapshot(_ context.Context) (domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return domain.Snapshot{
		Products: append([]domain.Product(nil), s.state.products...),
		Sales:    append([]domain.SaleRecord(nil), s.state.sales...),
		Edits:    append([]domain.EditRecord(nil), s.state.edits...),
	}, nil
}

func (s *Store) PersistenceStatus() domain.PersistenceStatus {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()

	status := domain.PersistenceStatus{Backend: s.backend, OK: s.lastFlushErr == nil && len(s.pendingKeys) == 0}
	if len(s.pendingKeys) > 0 {
		status.PendingKeys = append([]string(nil), s.pendingKeys...)
	}
	if s.lastFlushErr != nil {
		status.LastError = s.lastFlushErr.Error()
	}
	if !s.lastFailureAt.IsZero() {
		at := s.lastFailureAt
		status.LastFailureAt = &at
	}
	if !s.lastFlushAt.IsZero() {
		at := s.lastFlushAt
		status.LastFlushAt = &at
	}
	return status
}

// flush writes every pending collection of the live state. Keys that fail
// stay pending and are retried on the next commit; the in-memory state is
// not rolled back. Callers hold s.mu.
func (s *Store) flush(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
	defer cancel()

	var flushErr error
	for _, key := range []string{domain.KeyProducts, domain.KeySales, domain.KeyEdits} {
		if !s.pending[key] {
			continue
		}
		var (
			payload []byte
			err     error
		)
		switch key {
		case domain.KeyProducts:
			payload, err = marshalSlice(s.state.products)
		case domain.KeySales:
			payload, err = marshalSlice(s.state.sales)
		case domain.KeyEdits:
			payload, err = marshalSlice(s.state.edits)
		}
		if err == nil {
			err = s.kv.Put(ctx, key, payload)
		}
		if err != nil {
			log.Printf("[store] WARN: failed to persist %s: %v", key, err)
			flushErr = fmt.Errorf("persist %s: %w", key, err)
			continue
		}
		delete(s.pending, key)
	}

	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.pendingKeys = s.pendingKeys[:0]
	for _, key := range []string{domain.KeyProducts, domain.KeySales, domain.KeyEdits} {
		if s.pending[key] {
			s.pendingKeys = append(s.pendingKeys, key)
		}
	}
	if flushErr != nil {
		s.lastFlushErr = flushErr
		s.lastFailureAt = time.Now().UTC()
		return
	}
	s.lastFlushErr = nil
	s.lastFlushAt = time.Now().UTC()
}

func marshalSlice[T any](items []T) ([]byte, error) {
	if items == nil {
		items = []T{}
	}
	return json.Marshal(items)
}

// clone copies the slice headers' backing arrays so staged appends and
// in-place replacements never touch the live state.
func (st *state) clone() *state {
	return &state{
		products: append([]domain.Product(nil), st.products...),
		sales:    append([]domain.SaleRecord(nil), st.sales...),
		edits:    append([]domain.EditRecord(nil), st.edits...),
		dirty:    map[string]bool{},
	}
}

func (st *state) indexOf(id string) int {
	for i, p := range st.products {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func (st *state) ListProducts(_ context.Context) ([]domain.Product, error) {
	return append([]domain.Product{}, st.products...), nil
}

func (st *state) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	idx := st.indexOf(id)
	if idx < 0 {
		return nil, store.ErrNotFound
	}
	found := st.products[idx]
	return &found, nil
}

func (st *state) FindProductByName(_ context.Context, name string) (*domain.Product, error) {
	name = strings.TrimSpace(name)
	for _, p := range st.products {
		if strings.EqualFold(strings.TrimSpace(p.Name), name) {
			found := p
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

func (st *state) AddProduct(_ context.Context, product domain.Product) error {
	if product.ID == "" {
		return store.ErrInvalidProduct
	}
	if st.indexOf(product.ID) >= 0 {
		return fmt.Errorf("product id %s already in use: %w", product.ID, store.ErrInvalidProduct)
	}
	st.products = append(st.products, product)
	st.dirty[domain.KeyProducts] = true
	return nil
}

func (st *state) UpdateProduct(_ context.Context, product domain.Product) error {
	idx := st.indexOf(product.ID)
	if idx < 0 {
		return store.ErrNotFound
	}
	st.products[idx] = product
	st.dirty[domain.KeyProducts] = true
	return nil
}

func (st *state) RemoveProduct(_ context.Context, id string) error {
	idx := st.indexOf(id)
	if idx < 0 {
		return nil
	}
	st.products = append(st.products[:idx], st.products[idx+1:]...)
	st.dirty[domain.KeyProducts] = true
	return nil
}

func (st *state) AppendSale(_ context.Context, record domain.SaleRecord) error {
	st.sales = append(st.sales, record)
	st.dirty[domain.KeySales] = true
	return nil
}

func (st *state) AppendEdit(_ context.Context, record domain.EditRecord) error {
	st.edits = append(st.edits, record)
	st.dirty[domain.KeyEdits] = true
	return nil
}

func (st *state) ListSales(_ context.Context) ([]domain.SaleRecord, error) {
	return append([]domain.SaleRecord{}, st.sales...), nil
}

func (st *state) ListEdits(_ context.Context) ([]domain.EditRecord, error) {
	return append([]domain.EditRecord{}, st.edits...), nil
}
