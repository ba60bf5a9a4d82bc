package report

import (
	"time"

	"github.com/shopspring/decimal"

	"wingscafe/backend/internal/domain"
)

const moneyPlaces = 2

// Build aggregates a catalog and ledger snapshot. Sales join products by the
// product's current name, so sales recorded before a rename stay under the
// old name and are not attributed to the renamed product.
func Build(snap domain.Snapshot, now time.Time) domain.Report {
	soldByName := make(map[string]int, len(snap.Products))
	revenueByName := make(map[string]decimal.Decimal, len(snap.Products))

	summary := domain.ReportSummary{
		TotalProducts:   len(snap.Products),
		TotalStockValue: decimal.Zero,
		TotalRevenue:    decimal.Zero,
	}

	for _, sale := range snap.Sales {
		soldByName[sale.ProductName] += sale.QuantitySold
		revenueByName[sale.ProductName] = revenueByName[sale.ProductName].Add(sale.Total)
		summary.TotalItemsSold += sale.QuantitySold
		summary.TotalRevenue = summary.TotalRevenue.Add(sale.Total)
	}

	products := make([]domain.ProductReport, 0, len(snap.Products))
	for _, p := range snap.Products {
		stockValue := p.Price.Mul(decimal.NewFromInt(int64(p.Quantity)))
		summary.TotalStockValue = summary.TotalStockValue.Add(stockValue)

		revenue, ok := revenueByName[p.Name]
		if !ok {
			revenue = decimal.Zero
		}
		products = append(products, domain.ProductReport{
			ID:           p.ID,
			Name:         p.Name,
			Quantity:     p.Quantity,
			Price:        p.Price,
			StockValue:   stockValue.Round(moneyPlaces),
			TotalSold:    soldByName[p.Name],
			TotalRevenue: revenue.Round(moneyPlaces),
		})
	}

	summary.TotalStockValue = summary.TotalStockValue.Round(moneyPlaces)
	summary.TotalRevenue = summary.TotalRevenue.Round(moneyPlaces)

	return domain.Report{
		GeneratedAt: now.UTC(),
		Summary:     summary,
		Products:    products,
		LatestEdits: LatestEdits(snap.Edits),
		TopSelling:  TopSelling(snap.Sales),
	}
}

// LatestEdits keeps, for each product name, the last appended edit. Names
// are listed in the order they first appear in edits.
func LatestEdits(edits []domain.EditRecord) []domain.EditRecord {
	position := make(map[string]int, len(edits))
	latest := make([]domain.EditRecord, 0, len(edits))
	for _, edit := range edits {
		if idx, seen := position[edit.Name]; seen {
			latest[idx] = edit
			continue
		}
		position[edit.Name] = len(latest)
		latest = append(latest, edit)
	}
	return latest
}

// TopSelling returns the name with the largest summed quantity sold. Ties go
// to the name that was sold first. Nil when nothing has been sold.
func TopSelling(sales []domain.SaleRecord) *domain.TopSeller {
	totals := make(map[string]int, len(sales))
	order := make([]string, 0, len(sales))
	for _, sale := range sales {
		if _, seen := totals[sale.ProductName]; !seen {
			order = append(order, sale.ProductName)
		}
		totals[sale.ProductName] += sale.QuantitySold
	}

	var top *domain.TopSeller
	maxQty := 0
	for _, name := range order {
		if totals[name] > maxQty {
			maxQty = totals[name]
			top = &domain.TopSeller{Name: name, QuantitySold: maxQty}
		}
	}
	return top
}
