package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"wingscafe/backend/internal/domain"
	"wingscafe/backend/internal/report"
	"wingscafe/backend/internal/store"
	"wingscafe/backend/internal/xid"
)

type ImageEncoder interface {
	Encode(ctx context.Context, upload domain.RawUpload) (domain.EncodedImage, error)
}

type Service struct {
	repo   store.Repository
	images ImageEncoder
	now    func() time.Time
}

func New(repo store.Repository, images ImageEncoder) *Service {
	return &Service{
		repo:   repo,
		images: images,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	product, err := s.repo.GetProduct(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) ListSales(ctx context.Context) ([]domain.SaleRecord, error) {
	return s.repo.ListSales(ctx)
}

func (s *Service) ListEdits(ctx context.Context) ([]domain.EditRecord, error) {
	return s.repo.ListEdits(ctx)
}

func (s *Service) LatestEdits(ctx context.Context) ([]domain.EditRecord, error) {
	edits, err := s.repo.ListEdits(ctx)
	if err != nil {
		return nil, err
	}
	return report.LatestEdits(edits), nil
}

func (s *Service) Report(ctx context.Context) (domain.Report, error) {
	snap, err := s.repo.Snapshot(ctx)
	if err != nil {
		return domain.Report{}, err
	}
	return report.Build(snap, s.now()), nil
}

func (s *Service) PersistenceStatus() domain.PersistenceStatus {
	return s.repo.PersistenceStatus()
}

// AddProduct validates the draft, resolves a pending upload into an encoded
// image and stores the product under a fresh id.
func (s *Service) AddProduct(ctx context.Context, draft domain.ProductDraft) (domain.Product, error) {
	draft.Name = strings.TrimSpace(draft.Name)
	if err := validateFields(draft.Name, draft.Quantity, draft.Price); err != nil {
		return domain.Product{}, err
	}

	if err := ensureNameFree(ctx, s.repo, draft.Name, ""); err != nil {
		return domain.Product{}, err
	}

	var image domain.EncodedImage
	switch img := draft.Image.(type) {
	case nil:
	case domain.EncodedImage:
		image = img
	case domain.RawUpload:
		if s.images == nil {
			return domain.Product{}, fmt.Errorf("image upload: no encoder configured")
		}
		encoded, err := s.images.Encode(ctx, img)
		if err != nil {
			return domain.Product{}, fmt.Errorf("encode image: %w", err)
		}
		image = encoded
	default:
		return domain.Product{}, fmt.Errorf("unsupported image payload %T: %w", draft.Image, store.ErrInvalidProduct)
	}

	product := domain.Product{
		ID:       xid.New("prd"),
		Name:     draft.Name,
		Quantity: draft.Quantity,
		Price:    draft.Price,
		Image:    image,
	}

	// The catalog may have changed while the image was encoding.
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		if err := ensureNameFree(ctx, tx, product.Name, ""); err != nil {
			return err
		}
		return tx.AddProduct(ctx, product)
	})
	if err != nil {
		return domain.Product{}, err
	}

	log.Printf("[service] product added id=%s name=%q qty=%d price=%s", product.ID, product.Name, product.Quantity, product.Price)
	return product, nil
}

// EditProduct replaces the stored product with updated and logs the change.
// An unknown id is ignored and reported as applied=false.
func (s *Service) EditProduct(ctx context.Context, updated domain.Product) (bool, error) {
	updated.ID = strings.TrimSpace(updated.ID)
	updated.Name = strings.TrimSpace(updated.Name)
	if err := validateFields(updated.Name, updated.Quantity, updated.Price); err != nil {
		return false, err
	}

	applied := false
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		applied, err = s.applyEdit(ctx, tx, updated)
		return err
	})
	if err != nil {
		return false, err
	}
	if !applied {
		log.Printf("[service] edit ignored: product %s not found", updated.ID)
	}
	return applied, nil
}

// UpdateProduct merges the set fields of req onto the stored product and
// applies the result as an edit. Reading and applying share one transaction
// so overlapping partial updates never drop each other's fields.
func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	id = strings.TrimSpace(id)

	var updated domain.Product
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		current, err := tx.GetProduct(ctx, id)
		if err != nil {
			return err
		}
		updated = req.Apply(*current)
		updated.Name = strings.TrimSpace(updated.Name)
		if err := validateFields(updated.Name, updated.Quantity, updated.Price); err != nil {
			return err
		}
		_, err = s.applyEdit(ctx, tx, updated)
		return err
	})
	if err != nil {
		return domain.Product{}, err
	}

	log.Printf("[service] product updated id=%s name=%q qty=%d price=%s", updated.ID, updated.Name, updated.Quantity, updated.Price)
	return updated, nil
}

// applyEdit appends the edit record and then replaces the product, both on tx.
func (s *Service) applyEdit(ctx context.Context, tx store.Tx, updated domain.Product) (bool, error) {
	existing, err := tx.GetProduct(ctx, updated.ID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if !strings.EqualFold(existing.Name, updated.Name) {
		if err := ensureNameFree(ctx, tx, updated.Name, updated.ID); err != nil {
			return false, err
		}
	}

	if err := tx.AppendEdit(ctx, domain.EditRecord{
		ID:          updated.ID,
		Name:        updated.Name,
		OldQuantity: existing.Quantity,
		NewQuantity: updated.Quantity,
		OldPrice:    existing.Price,
		NewPrice:    updated.Price,
		Date:        s.now(),
	}); err != nil {
		return false, err
	}
	if err := tx.UpdateProduct(ctx, updated); err != nil {
		return false, err
	}
	return true, nil
}

// DeleteProduct removes the product. Sale and edit history is kept.
func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if err := s.repo.RemoveProduct(ctx, id); err != nil {
		return err
	}
	log.Printf("[service] product deleted id=%s", id)
	return nil
}

// RecordSale decrements stock through the edit path and appends the sale
// record in one transaction, priced at the pre-sale price.
func (s *Service) RecordSale(ctx context.Context, productID string, quantity int) (domain.SaleRecord, error) {
	productID = strings.TrimSpace(productID)
	if quantity < 1 {
		return domain.SaleRecord{}, fmt.Errorf("quantity must be positive, got %d: %w", quantity, store.ErrInvalidSale)
	}

	var record domain.SaleRecord
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		record, err = s.sellOn(ctx, tx, productID, quantity)
		return err
	})
	if err != nil {
		return domain.SaleRecord{}, err
	}

	log.Printf("[service] sale recorded id=%s product=%q qty=%d total=%s", record.ID, record.ProductName, record.QuantitySold, record.Total)
	return record, nil
}

func (s *Service) sellOn(ctx context.Context, tx store.Tx, productID string, quantity int) (domain.SaleRecord, error) {
	product, err := tx.GetProduct(ctx, productID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.SaleRecord{}, &store.InsufficientStockError{ProductID: productID, Requested: quantity}
	}
	if err != nil {
		return domain.SaleRecord{}, err
	}
	if quantity > product.Quantity {
		return domain.SaleRecord{}, &store.InsufficientStockError{
			ProductID: product.ID,
			Name:      product.Name,
			Requested: quantity,
			Available: product.Quantity,
		}
	}

	decremented := *product
	decremented.Quantity -= quantity
	if _, err := s.applyEdit(ctx, tx, decremented); err != nil {
		return domain.SaleRecord{}, err
	}

	record := domain.SaleRecord{
		ID:           xid.New("sale"),
		ProductID:    product.ID,
		ProductName:  product.Name,
		QuantitySold: quantity,
		Total:        product.Price.Mul(decimal.NewFromInt(int64(quantity))),
		SoldAt:       s.now(),
	}
	if err := tx.AppendSale(ctx, record); err != nil {
		return domain.SaleRecord{}, err
	}
	return record, nil
}

// RecordSales commits each line on its own. A line that fails stock
// validation is reported as rejected and does not stop the others.
func (s *Service) RecordSales(ctx context.Context, lines []domain.SaleLine) (domain.SaleResponse, error) {
	resp := domain.SaleResponse{Lines: make([]domain.SaleLineResult, 0, len(lines))}

	positive := 0
	for _, line := range lines {
		if line.Quantity > 0 {
			positive++
		}
	}
	if positive == 0 {
		return resp, store.ErrEmptySale
	}

	for _, line := range lines {
		result := domain.SaleLineResult{ProductID: strings.TrimSpace(line.ProductID), Quantity: line.Quantity}
		if line.Quantity < 1 {
			result.Status = domain.SaleLineSkipped
			resp.Lines = append(resp.Lines, result)
			continue
		}

		record, err := s.RecordSale(ctx, result.ProductID, line.Quantity)
		if err != nil {
			if !errors.Is(err, store.ErrInsufficientStock) {
				return resp, err
			}
			log.Printf("[service] WARN: sale line dropped product=%s qty=%d: %v", result.ProductID, line.Quantity, err)
			result.Status = domain.SaleLineRejected
			result.Reason = err.Error()
			resp.Rejected++
			resp.Lines = append(resp.Lines, result)
			continue
		}

		result.Status = domain.SaleLineCommitted
		result.Sale = &record
		resp.Committed++
		resp.Lines = append(resp.Lines, result)
	}

	return resp, nil
}

func validateFields(name string, quantity int, price decimal.Decimal) error {
	if name == "" {
		return fmt.Errorf("name is required: %w", store.ErrInvalidProduct)
	}
	if quantity < 0 {
		return fmt.Errorf("quantity must not be negative: %w", store.ErrInvalidProduct)
	}
	if price.IsNegative() {
		return fmt.Errorf("price must not be negative: %w", store.ErrInvalidProduct)
	}
	return nil
}

// ensureNameFree fails when another product (other than exceptID) already
// uses name, ignoring case.
func ensureNameFree(ctx context.Context, catalog store.Catalog, name string, exceptID string) error {
	existing, err := catalog.FindProductByName(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if existing.ID == exceptID {
		return nil
	}
	return &store.DuplicateNameError{Name: name, ExistingID: existing.ID}
}
