package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wingscafe/backend/internal/domain"
	"wingscafe/backend/internal/imaging"
	"wingscafe/backend/internal/kv"
	"wingscafe/backend/internal/service"
	"wingscafe/backend/internal/store/memory"
)

// newTestAPI wires the real service over a seeded in-memory store so handler
// tests exercise the complete request path.
func newTestAPI(t *testing.T) http.Handler {
	t.Helper()

	repo, err := memory.Load(context.Background(), kv.NewMemoryStore(), memory.Options{Backend: "memory", Seed: true})
	require.NoError(t, err)
	svc := service.New(repo, imaging.NewEncoder(64))
	return New(svc, "*", 64).Handler()
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func productID(t *testing.T, h http.Handler, name string) string {
	t.Helper()
	rec := do(t, h, http.MethodGet, "/api/v1/products", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Products []domain.Product `json:"products"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	for _, p := range body.Products {
		if p.Name == name {
			return p.ID
		}
	}
	t.Fatalf("product %q not in catalog", name)
	return ""
}

func TestHandleHealthReportsPersistence(t *testing.T) {
	h := newTestAPI(t)

	rec := do(t, h, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, true, body["ok"])
	persistence, ok := body["persistence"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "memory", persistence["backend"])
	assert.Equal(t, true, persistence["ok"])
}

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	h := newTestAPI(t)

	rec := do(t, h, http.MethodGet, "/healthz", nil)

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, rec.Header().Get("Referrer-Policy"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestPreflightReturnsNoContent(t *testing.T) {
	h := newTestAPI(t)

	rec := do(t, h, http.MethodOptions, "/api/v1/products", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAddProductJSON(t *testing.T) {
	h := newTestAPI(t)

	rec := do(t, h, http.MethodPost, "/api/v1/products", map[string]any{"name": "Kiwi", "quantity": 12, "price": 2.5})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var body struct {
		Product domain.Product `json:"product"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.NotEmpty(t, body.Product.ID)
	assert.Equal(t, "2.5", body.Product.Price.String())
}

func TestAddProductDuplicateNameConflicts(t *testing.T) {
	h := newTestAPI(t)

	rec := do(t, h, http.MethodPost, "/api/v1/products", map[string]any{"name": "apple", "quantity": 1, "price": 1})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAddProductRejectsBadBody(t *testing.T) {
	h := newTestAPI(t)

	rec := do(t, h, http.MethodPost, "/api/v1/products", map[string]any{"name": "Pear", "quantity": 1, "price": 1, "colour": "green"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown fields are rejected")

	rec = do(t, h, http.MethodPost, "/api/v1/products", map[string]any{"name": "", "quantity": 1, "price": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func multipartProduct(t *testing.T, image []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("name", "Mango"))
	require.NoError(t, mw.WriteField("quantity", "7"))
	require.NoError(t, mw.WriteField("price", "6.00"))

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="image"; filename="mango.gif"`)
	header.Set("Content-Type", "image/gif")
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(image)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/products", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestAddProductMultipartServesImageWithETag(t *testing.T) {
	h := newTestAPI(t)
	gif := []byte("GIF89a-mango")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, multipartProduct(t, gif))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var body struct {
		Product domain.Product `json:"product"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.True(t, strings.HasPrefix(string(body.Product.Image), "data:image/gif;base64,"))

	imageRec := do(t, h, http.MethodGet, "/api/v1/products/"+body.Product.ID+"/image", nil)
	require.Equal(t, http.StatusOK, imageRec.Code)
	assert.Equal(t, "image/gif", imageRec.Header().Get("Content-Type"))
	assert.Equal(t, gif, imageRec.Body.Bytes())

	etag := imageRec.Header().Get("ETag")
	require.NotEmpty(t, etag)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/products/"+body.Product.ID+"/image", nil)
	req.Header.Set("If-None-Match", etag)
	cached := httptest.NewRecorder()
	h.ServeHTTP(cached, req)
	assert.Equal(t, http.StatusNotModified, cached.Code)
}

func TestAddProductMultipartRejectsOversizedImage(t *testing.T) {
	h := newTestAPI(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, multipartProduct(t, bytes.Repeat([]byte("x"), 65)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code, rec.Body.String())
}

func TestProductImageReferenceIsNotServed(t *testing.T) {
	h := newTestAPI(t)
	id := productID(t, h, "Apple")

	rec := do(t, h, http.MethodGet, "/api/v1/products/"+id+"/image", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetProductNotFound(t *testing.T) {
	h := newTestAPI(t)

	rec := do(t, h, http.MethodGet, "/api/v1/products/prd-missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPatchProductMergesFieldsAndLogsEdit(t *testing.T) {
	h := newTestAPI(t)
	id := productID(t, h, "Banana")

	rec := do(t, h, http.MethodPatch, "/api/v1/products/"+id, map[string]any{"quantity": 35})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Product domain.Product `json:"product"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "Banana", body.Product.Name)
	assert.Equal(t, 35, body.Product.Quantity)

	edits := do(t, h, http.MethodGet, "/api/v1/edits", nil)
	require.Equal(t, http.StatusOK, edits.Code)
	assert.Contains(t, edits.Body.String(), `"new_quantity":35`)
}

func TestPatchProductRenameCollisionConflicts(t *testing.T) {
	h := newTestAPI(t)
	id := productID(t, h, "Banana")

	rec := do(t, h, http.MethodPatch, "/api/v1/products/"+id, map[string]any{"name": "ORANGE"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDeleteProduct(t *testing.T) {
	h := newTestAPI(t)
	id := productID(t, h, "Orange")

	rec := do(t, h, http.MethodDelete, "/api/v1/products/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodDelete, "/api/v1/products/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/products/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSingleSale(t *testing.T) {
	h := newTestAPI(t)
	id := productID(t, h, "Apple")

	rec := do(t, h, http.MethodPost, "/api/v1/products/"+id+"/sales", map[string]any{"quantity": 10})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var body struct {
		Sale domain.SaleRecord `json:"sale"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "40", body.Sale.Total.String())

	rec = do(t, h, http.MethodPost, "/api/v1/products/"+id+"/sales", map[string]any{"quantity": 1000})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/products/"+id+"/sales", map[string]any{"quantity": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBatchSaleReportsPerLineOutcome(t *testing.T) {
	h := newTestAPI(t)
	apple := productID(t, h, "Apple")
	banana := productID(t, h, "Banana")

	rec := do(t, h, http.MethodPost, "/api/v1/sales", domain.SaleRequest{Lines: []domain.SaleLine{
		{ProductID: apple, Quantity: 5},
		{ProductID: banana, Quantity: 1000},
	}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp domain.SaleResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 1, resp.Committed)
	assert.Equal(t, 1, resp.Rejected)

	sales := do(t, h, http.MethodGet, "/api/v1/sales", nil)
	require.Equal(t, http.StatusOK, sales.Code)
	var body struct {
		Sales []domain.SaleRecord `json:"sales"`
	}
	require.NoError(t, json.NewDecoder(sales.Body).Decode(&body))
	require.Len(t, body.Sales, 1)
	assert.Equal(t, "Apple", body.Sales[0].ProductName)
}

func TestBatchSaleAllRejectedConflicts(t *testing.T) {
	h := newTestAPI(t)
	banana := productID(t, h, "Banana")

	rec := do(t, h, http.MethodPost, "/api/v1/sales", domain.SaleRequest{Lines: []domain.SaleLine{{ProductID: banana, Quantity: 1000}}})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestBatchSaleEmptyIsBadRequest(t *testing.T) {
	h := newTestAPI(t)

	rec := do(t, h, http.MethodPost, "/api/v1/sales", domain.SaleRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLatestEditsView(t *testing.T) {
	h := newTestAPI(t)
	apple := productID(t, h, "Apple")

	do(t, h, http.MethodPost, "/api/v1/products/"+apple+"/sales", map[string]any{"quantity": 5})
	do(t, h, http.MethodPost, "/api/v1/products/"+apple+"/sales", map[string]any{"quantity": 5})

	rec := do(t, h, http.MethodGet, "/api/v1/edits?latest=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Edits []domain.EditRecord `json:"edits"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Edits, 1)
	assert.Equal(t, 40, body.Edits[0].NewQuantity)
}

func TestReportFormats(t *testing.T) {
	h := newTestAPI(t)
	apple := productID(t, h, "Apple")
	do(t, h, http.MethodPost, "/api/v1/products/"+apple+"/sales", map[string]any{"quantity": 10})

	rec := do(t, h, http.MethodGet, "/api/v1/reports/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report domain.Report
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.Equal(t, 3, report.Summary.TotalProducts)
	assert.Equal(t, 10, report.Summary.TotalItemsSold)
	assert.Equal(t, "40", report.Summary.TotalRevenue.String())

	csvRec := do(t, h, http.MethodGet, "/api/v1/reports/summary?format=csv", nil)
	require.Equal(t, http.StatusOK, csvRec.Code)
	assert.Contains(t, csvRec.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, csvRec.Body.String(), "summary,total_revenue,40.00")

	htmlRec := do(t, h, http.MethodGet, "/api/v1/reports/summary?format=html", nil)
	require.Equal(t, http.StatusOK, htmlRec.Code)
	assert.Contains(t, htmlRec.Body.String(), "<td>Apple</td>")

	bad := do(t, h, http.MethodGet, "/api/v1/reports/summary?format=pdf", nil)
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestReportHTMLEscapesNames(t *testing.T) {
	out := reportToPrintableHTML(domain.Report{Products: []domain.ProductReport{{Name: "<script>x</script>"}}})
	assert.NotContains(t, out, "<script>x</script>")
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestAPI(t)

	rec := do(t, h, http.MethodDelete, "/api/v1/sales", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestEmptyCollectionsEncodeAsArrays(t *testing.T) {
	svc := service.New(memory.New(kv.NewMemoryStore()), imaging.NewEncoder(64))
	h := New(svc, "*", 64).Handler()

	for path, key := range map[string]string{
		"/api/v1/products":          "products",
		"/api/v1/sales":             "sales",
		"/api/v1/edits":             "edits",
		"/api/v1/edits?latest=true": "edits",
	} {
		rec := do(t, h, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"`+key+`":[]`, path)
	}
}

func TestPatchMissingProductNotFound(t *testing.T) {
	h := newTestAPI(t)

	rec := do(t, h, http.MethodPatch, "/api/v1/products/prd-missing", map[string]any{"quantity": 3})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
