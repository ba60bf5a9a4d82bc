package httpapi

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"wingscafe/backend/internal/domain"
	"wingscafe/backend/internal/imaging"
	"wingscafe/backend/internal/service"
	"wingscafe/backend/internal/store"
)

const maxJSONBody = 1 << 20

var errBadRequest = errors.New("invalid request body")

type API struct {
	service       *service.Service
	allowedOrigin string
	maxImageBytes int64
}

func New(svc *service.Service, allowedOrigin string, maxImageBytes int64) *API {
	return &API{
		service:       svc,
		allowedOrigin: allowedOrigin,
		maxImageBytes: maxImageBytes,
	}
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/products", a.handleProducts)
	mux.HandleFunc("/api/v1/products/", a.handleProductActions)
	mux.HandleFunc("/api/v1/sales", a.handleSales)
	mux.HandleFunc("/api/v1/edits", a.handleEdits)
	mux.HandleFunc("/api/v1/reports/summary", a.handleReport)

	return a.withMiddleware(mux)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"at":          time.Now().UTC().Format(time.RFC3339),
		"persistence": a.service.PersistenceStatus(),
	})
}

func (a *API) handleProducts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		products, err := a.service.ListProducts(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"products": products})
	case http.MethodPost:
		draft, err := a.readProductDraft(r)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}

		product, err := a.service.AddProduct(r.Context(), draft)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"product": product})
	default:
		writeMethodNotAllowed(w)
	}
}

// readProductDraft accepts either a JSON body or a multipart form whose
// "image" file part becomes a pending upload.
func (a *API) readProductDraft(r *http.Request) (domain.ProductDraft, error) {
	if strings.HasPrefix(strings.ToLower(r.Header.Get("Content-Type")), "multipart/form-data") {
		return a.readMultipartDraft(r)
	}

	var req domain.ProductCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		return domain.ProductDraft{}, err
	}
	draft := domain.ProductDraft{Name: req.Name, Quantity: req.Quantity, Price: req.Price}
	if image := strings.TrimSpace(req.Image); image != "" {
		draft.Image = domain.EncodedImage(image)
	}
	return draft, nil
}

func (a *API) readMultipartDraft(r *http.Request) (domain.ProductDraft, error) {
	if err := r.ParseMultipartForm(a.maxImageBytes + maxJSONBody); err != nil {
		return domain.ProductDraft{}, badRequest(err)
	}

	quantity, err := strconv.Atoi(strings.TrimSpace(r.FormValue("quantity")))
	if err != nil {
		return domain.ProductDraft{}, fmt.Errorf("quantity must be a whole number: %w", store.ErrInvalidProduct)
	}
	price, err := decimal.NewFromString(strings.TrimSpace(r.FormValue("price")))
	if err != nil {
		return domain.ProductDraft{}, fmt.Errorf("price must be a number: %w", store.ErrInvalidProduct)
	}
	draft := domain.ProductDraft{Name: r.FormValue("name"), Quantity: quantity, Price: price}

	file, header, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return draft, nil
	}
	if err != nil {
		return domain.ProductDraft{}, badRequest(err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, a.maxImageBytes+1))
	if err != nil {
		return domain.ProductDraft{}, err
	}
	draft.Image = domain.RawUpload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}
	return draft, nil
}

func (a *API) handleProductActions(w http.ResponseWriter, r *http.Request) {
	prefix := "/api/v1/products/"
	tail := strings.TrimSpace(strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/"))
	if tail == "" {
		writeError(w, http.StatusBadRequest, errors.New("product id required"))
		return
	}

	parts := strings.Split(tail, "/")
	id := parts[0]
	switch {
	case len(parts) == 1:
		a.handleProduct(w, r, id)
	case len(parts) == 2 && parts[1] == "image":
		a.handleProductImage(w, r, id)
	case len(parts) == 2 && parts[1] == "sales":
		a.handleProductSale(w, r, id)
	default:
		writeError(w, http.StatusNotFound, errors.New("unknown product action"))
	}
}

func (a *API) handleProduct(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		product, err := a.service.GetProduct(r.Context(), id)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"product": product})
	case http.MethodPatch, http.MethodPut:
		var req domain.ProductUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, statusFor(err), err)
			return
		}

		updated, err := a.service.UpdateProduct(r.Context(), id, req)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"product": updated})
	case http.MethodDelete:
		if err := a.service.DeleteProduct(r.Context(), id); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleProductImage(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	product, err := a.service.GetProduct(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if product.Image == "" {
		writeError(w, http.StatusNotFound, errors.New("product has no image"))
		return
	}

	mime, data, err := imaging.Decode(product.Image)
	if errors.Is(err, imaging.ErrNotDataURL) {
		writeError(w, http.StatusNotFound, fmt.Errorf("image %q is a reference, not embedded", string(product.Image)))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	etag := `"` + imaging.Fingerprint(product.Image) + `"`
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "private, max-age=0, must-revalidate")
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (a *API) handleProductSale(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.SingleSaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	record, err := a.service.RecordSale(r.Context(), id, req.Quantity)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"sale": record})
}

func (a *API) handleSales(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		sales, err := a.service.ListSales(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sales": sales})
	case http.MethodPost:
		var req domain.SaleRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, statusFor(err), err)
			return
		}

		resp, err := a.service.RecordSales(r.Context(), req.Lines)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		status := http.StatusCreated
		if resp.Committed == 0 {
			status = http.StatusConflict
		}
		writeJSON(w, status, resp)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleEdits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	var (
		edits []domain.EditRecord
		err   error
	)
	if latest, _ := strconv.ParseBool(r.URL.Query().Get("latest")); latest {
		edits, err = a.service.LatestEdits(r.Context())
	} else {
		edits, err = a.service.ListEdits(r.Context())
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"edits": edits})
}

func (a *API) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))

	report, err := a.service.Report(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	switch format {
	case "csv":
		body, err := reportToCSV(report)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"report-%s.csv\"", report.GeneratedAt.Format("20060102")))
		_, _ = w.Write(body)
	case "html":
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(reportToPrintableHTML(report)))
	case "", "json":
		writeJSON(w, http.StatusOK, report)
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("unsupported report format %q", format))
	}
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, If-None-Match")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,PUT,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		switch r.Method {
		case http.MethodPost, http.MethodPatch, http.MethodPut:
			limit := int64(maxJSONBody)
			if strings.HasPrefix(strings.ToLower(r.Header.Get("Content-Type")), "multipart/form-data") {
				limit += a.maxImageBytes
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(startedAt))
	})
}

func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge), errors.Is(err, imaging.ErrImageTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrDuplicateName), errors.Is(err, store.ErrInsufficientStock):
		return http.StatusConflict
	case errors.Is(err, errBadRequest),
		errors.Is(err, store.ErrInvalidProduct),
		errors.Is(err, store.ErrInvalidSale),
		errors.Is(err, store.ErrEmptySale),
		errors.Is(err, imaging.ErrEmptyUpload):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// badRequest tags a body parsing failure, leaving an oversized body
// recognisable to statusFor.
func badRequest(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return err
	}
	return fmt.Errorf("%w: %v", errBadRequest, err)
}

func reportToCSV(report domain.Report) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	rows := [][]string{
		{"section", "key", "value"},
		{"summary", "generated_at", report.GeneratedAt.Format(time.RFC3339)},
		{"summary", "total_products", strconv.Itoa(report.Summary.TotalProducts)},
		{"summary", "total_stock_value", report.Summary.TotalStockValue.StringFixed(2)},
		{"summary", "total_items_sold", strconv.Itoa(report.Summary.TotalItemsSold)},
		{"summary", "total_revenue", report.Summary.TotalRevenue.StringFixed(2)},
	}
	if report.TopSelling != nil {
		rows = append(rows, []string{"summary", "top_selling", fmt.Sprintf("%s (%d)", report.TopSelling.Name, report.TopSelling.QuantitySold)})
	}
	for _, p := range report.Products {
		rows = append(rows,
			[]string{"product", p.Name + "_quantity", strconv.Itoa(p.Quantity)},
			[]string{"product", p.Name + "_price", p.Price.StringFixed(2)},
			[]string{"product", p.Name + "_stock_value", p.StockValue.StringFixed(2)},
			[]string{"product", p.Name + "_total_sold", strconv.Itoa(p.TotalSold)},
			[]string{"product", p.Name + "_total_revenue", p.TotalRevenue.StringFixed(2)},
		)
	}
	for _, e := range report.LatestEdits {
		rows = append(rows, []string{"latest_edit", e.Name, fmt.Sprintf("%d -> %d at %s", e.OldQuantity, e.NewQuantity, e.Date.Format(time.RFC3339))})
	}

	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// reportHTMLTmpl renders the printable report; html/template escapes product names.
var reportHTMLTmpl = template.Must(template.New("report").Parse(`<!doctype html>
<html>
<head>
  <meta charset="utf-8" />
  <title>Wings Cafe Report {{.GeneratedAt.Format "2006-01-02 15:04"}}</title>
  <style>
    body { font-family: sans-serif; margin: 24px; }
    table { width: 100%; border-collapse: collapse; margin-top: 8px; }
    th, td { border: 1px solid #ddd; padding: 6px; font-size: 13px; }
    h2, h3 { margin-bottom: 4px; }
  </style>
</head>
<body>
  <h2>Wings Cafe Report</h2>
  <p>Generated: {{.GeneratedAt.Format "2006-01-02 15:04:05"}}</p>
  <p>Products: {{.Summary.TotalProducts}} | Stock value: R{{.Summary.TotalStockValue.StringFixed 2}} | Items sold: {{.Summary.TotalItemsSold}} | Revenue: R{{.Summary.TotalRevenue.StringFixed 2}}</p>
  {{with .TopSelling}}<p>Top selling: {{.Name}} ({{.QuantitySold}})</p>{{end}}

  <h3>Products</h3>
  <table>
    <thead><tr><th>Product</th><th>Quantity</th><th>Price</th><th>Stock Value</th><th>Sold</th><th>Revenue</th></tr></thead>
    <tbody>{{range .Products}}<tr><td>{{.Name}}</td><td style="text-align:right;">{{.Quantity}}</td><td style="text-align:right;">R{{.Price.StringFixed 2}}</td><td style="text-align:right;">R{{.StockValue.StringFixed 2}}</td><td style="text-align:right;">{{.TotalSold}}</td><td style="text-align:right;">R{{.TotalRevenue.StringFixed 2}}</td></tr>{{end}}</tbody>
  </table>

  <h3>Latest Edits</h3>
  <table>
    <thead><tr><th>Product</th><th>Old Qty</th><th>New Qty</th><th>Old Price</th><th>New Price</th><th>Date</th></tr></thead>
    <tbody>{{range .LatestEdits}}<tr><td>{{.Name}}</td><td style="text-align:right;">{{.OldQuantity}}</td><td style="text-align:right;">{{.NewQuantity}}</td><td style="text-align:right;">R{{.OldPrice.StringFixed 2}}</td><td style="text-align:right;">R{{.NewPrice.StringFixed 2}}</td><td>{{.Date.Format "2006-01-02 15:04"}}</td></tr>{{end}}</tbody>
  </table>
</body>
</html>
`))

func reportToPrintableHTML(report domain.Report) string {
	var buf bytes.Buffer
	if err := reportHTMLTmpl.Execute(&buf, report); err != nil {
		log.Printf("[httpapi] WARN: report render failed: %v", err)
		return "<!doctype html><html><body><p>Report rendering error.</p></body></html>"
	}
	return buf.String()
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return badRequest(err)
	}
	return nil
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx details stay in the log.
	msg := err.Error()
	if status >= 500 {
		log.Printf("internal error (status %d): %v", status, err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
