package store

import (
	"context"
	"errors"
	"fmt"

	"wingscafe/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicateName     = errors.New("duplicate product name")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidProduct    = errors.New("invalid product")
	ErrInvalidSale       = errors.New("invalid sale")
	ErrEmptySale         = errors.New("sale has no line with a positive quantity")
)

// DuplicateNameError reports an add or rename that collides, ignoring case,
// with a product already in the catalog.
type DuplicateNameError struct {
	Name       string
	ExistingID string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("a product named %q already exists", e.Name)
}

func (e *DuplicateNameError) Is(target error) bool {
	return target == ErrDuplicateName
}

type InsufficientStockError struct {
	ProductID string
	Name      string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("not enough stock: product %s not found", e.ProductID)
	}
	return fmt.Sprintf("not enough stock for %s: requested %d, available %d", e.Name, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// Catalog holds the live product set. It does not enforce name uniqueness;
// callers validate before AddProduct.
type Catalog interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	FindProductByName(ctx context.Context, name string) (*domain.Product, error)
	AddProduct(ctx context.Context, product domain.Product) error
	UpdateProduct(ctx context.Context, product domain.Product) error
	RemoveProduct(ctx context.Context, id string) error
}

// Ledger holds the append-only sale and edit sequences.
type Ledger interface {
	AppendSale(ctx context.Context, record domain.SaleRecord) error
	AppendEdit(ctx context.Context, record domain.EditRecord) error
	ListSales(ctx context.Context) ([]domain.SaleRecord, error)
	ListEdits(ctx context.Context) ([]domain.EditRecord, error)
}

type Tx interface {
	Catalog
	Ledger
}

type Repository interface {
	Tx
	// WithinTx runs fn against staged state. Changes become visible and are
	// persisted only when fn returns nil.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
	Snapshot(ctx context.Context) (domain.Snapshot, error)
	PersistenceStatus() domain.PersistenceStatus
}
