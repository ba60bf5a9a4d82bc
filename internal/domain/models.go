package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Image    EncodedImage    `json:"image,omitempty"`
}

// ProductDraft is an add request before an id is assigned and the image
// payload is resolved.
type ProductDraft struct {
	Name     string
	Quantity int
	Price    decimal.Decimal
	Image    Image
}

type ProductCreateRequest struct {
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Image    string          `json:"image,omitempty"`
}

type ProductUpdateRequest struct {
	Name     *string          `json:"name,omitempty"`
	Quantity *int             `json:"quantity,omitempty"`
	Price    *decimal.Decimal `json:"price,omitempty"`
	Image    *string          `json:"image,omitempty"`
}

// Apply merges the set fields of the request onto a copy of p.
func (r ProductUpdateRequest) Apply(p Product) Product {
	if r.Name != nil {
		p.Name = *r.Name
	}
	if r.Quantity != nil {
		p.Quantity = *r.Quantity
	}
	if r.Price != nil {
		p.Price = *r.Price
	}
	if r.Image != nil {
		p.Image = EncodedImage(*r.Image)
	}
	return p
}

// SaleRecord is one committed sale line. ProductName is a snapshot taken at
// sale time and does not follow later renames.
type SaleRecord struct {
	ID           string          `json:"id"`
	ProductID    string          `json:"product_id"`
	ProductName  string          `json:"product_name"`
	QuantitySold int             `json:"quantity_sold"`
	Total        decimal.Decimal `json:"total"`
	SoldAt       time.Time       `json:"sold_at"`
}

// EditRecord logs one product edit. ID is the edited product's id.
type EditRecord struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	OldQuantity int             `json:"old_quantity"`
	NewQuantity int             `json:"new_quantity"`
	OldPrice    decimal.Decimal `json:"old_price"`
	NewPrice    decimal.Decimal `json:"new_price"`
	Date        time.Time       `json:"date"`
}

type SaleLine struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type SaleRequest struct {
	Lines []SaleLine `json:"lines"`
}

type SingleSaleRequest struct {
	Quantity int `json:"quantity"`
}

type SaleLineResult struct {
	ProductID string      `json:"product_id"`
	Quantity  int         `json:"quantity"`
	Status    string      `json:"status"`
	Reason    string      `json:"reason,omitempty"`
	Sale      *SaleRecord `json:"sale,omitempty"`
}

type SaleResponse struct {
	Committed int              `json:"committed"`
	Rejected  int              `json:"rejected"`
	Lines     []SaleLineResult `json:"lines"`
}

// Snapshot is a consistent copy of the catalog and both ledger sequences.
type Snapshot struct {
	Products []Product
	Sales    []SaleRecord
	Edits    []EditRecord
}

type ProductReport struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Quantity     int             `json:"quantity"`
	Price        decimal.Decimal `json:"price"`
	StockValue   decimal.Decimal `json:"stock_value"`
	TotalSold    int             `json:"total_sold"`
	TotalRevenue decimal.Decimal `json:"total_revenue"`
}

type ReportSummary struct {
	TotalProducts   int             `json:"total_products"`
	TotalStockValue decimal.Decimal `json:"total_stock_value"`
	TotalItemsSold  int             `json:"total_items_sold"`
	TotalRevenue    decimal.Decimal `json:"total_revenue"`
}

type TopSeller struct {
	Name         string `json:"name"`
	QuantitySold int    `json:"quantity_sold"`
}

type Report struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Summary     ReportSummary   `json:"summary"`
	Products    []ProductReport `json:"products"`
	LatestEdits []EditRecord    `json:"latest_edits"`
	TopSelling  *TopSeller      `json:"top_selling,omitempty"`
}

type PersistenceStatus struct {
	Backend       string     `json:"backend"`
	OK            bool       `json:"ok"`
	LastError     string     `json:"last_error,omitempty"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
	LastFlushAt   *time.Time `json:"last_flush_at,omitempty"`
	// PendingKeys are collections whose latest state has not reached storage.
	PendingKeys []string `json:"pending_keys,omitempty"`
}

const (
	SaleLineCommitted = "committed"
	SaleLineRejected  = "rejected"
	SaleLineSkipped   = "skipped"
)

const (
	KeyProducts = "products"
	KeySales    = "sales"
	KeyEdits    = "edits"
)
