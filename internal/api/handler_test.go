package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"storefront/server/internal/catalog"
)

type fakeStore struct {
	products  []catalog.Product
	listErr   error
	appendErr error
	appended  []catalog.Order
}

func (f *fakeStore) ListProducts(context.Context) ([]catalog.Product, error) {
	return f.products, f.listErr
}

func (f *fakeStore) AppendOrder(_ context.Context, o catalog.Order) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.appended = append(f.appended, o)
	return nil
}

func newTestServer(t *testing.T, store *fakeStore) http.Handler {
	t.Helper()
	h := NewHandler(store, store, "i-1", "r-1")
	h.now = func() time.Time { return time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC) }
	h.newID = func() string { return "ord-fixed" }
	mux := http.NewServeMux()
	h.Register(mux, nil)
	return mux
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &fakeStore{})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "ok" || body["instance"] != "i-1" || body["region"] != "r-1" {
		t.Errorf("body = %v", body)
	}
	if rec.Header().Get("X-Instance-ID") != "i-1" {
		t.Errorf("X-Instance-ID = %q", rec.Header().Get("X-Instance-ID"))
	}
}

func TestListProducts(t *testing.T) {
	store := &fakeStore{products: []catalog.Product{{ID: "p-1", Name: "Mug", Price: "12.5", Stock: 3}}}
	srv := newTestServer(t, store)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/products", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Products []catalog.Product `json:"products"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Products) != 1 || body.Products[0] != store.products[0] {
		t.Errorf("products = %+v", body.Products)
	}
}

func TestListProductsHidesCredentialErrors(t *testing.T) {
	store := &fakeStore{listErr: errors.New("token exchange rejected: invalid_grant")}
	srv := newTestServer(t, store)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/products", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "invalid_grant") {
		t.Errorf("credential detail leaked: %s", rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["error"] != "internal_error" || body["message"] != "An unexpected error occurred" {
		t.Errorf("body = %v", body)
	}
}

func TestCreateOrder(t *testing.T) {
	store := &fakeStore{}
	srv := newTestServer(t, store)
	payload := `{"customerName":" Ada ","customerEmail":"ada@example.com","items":[{"productId":"p-1","quantity":2}],"note":"gift"}`
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(payload)))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["orderId"] != "ord-fixed" || body["createdAt"] != "2024-05-01T12:30:00Z" {
		t.Errorf("body = %v", body)
	}
	if len(store.appended) != 1 {
		t.Fatalf("appended = %d, want 1", len(store.appended))
	}
	got := store.appended[0]
	if got.CustomerName != "Ada" || got.Note != "gift" || len(got.Items) != 1 || got.Items[0].Quantity != 2 {
		t.Errorf("order = %+v", got)
	}
}

func TestCreateOrderValidation(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"malformed json", `{"customerName":`},
		{"missing name", `{"customerName":"","customerEmail":"a@b.c","items":[{"productId":"p","quantity":1}]}`},
		{"bad email", `{"customerName":"Ada","customerEmail":"ada","items":[{"productId":"p","quantity":1}]}`},
		{"no items", `{"customerName":"Ada","customerEmail":"a@b.c","items":[]}`},
		{"empty product id", `{"customerName":"Ada","customerEmail":"a@b.c","items":[{"productId":"","quantity":1}]}`},
		{"zero quantity", `{"customerName":"Ada","customerEmail":"a@b.c","items":[{"productId":"p","quantity":0}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{}
			srv := newTestServer(t, store)
			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(tt.payload)))

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if body := decodeBody(t, rec); body["error"] != "invalid_request" {
				t.Errorf("body = %v", body)
			}
			if len(store.appended) != 0 {
				t.Error("invalid order must not be appended")
			}
		})
	}
}

func TestCreateOrderBodyTooLarge(t *testing.T) {
	srv := newTestServer(t, &fakeStore{})
	payload := `{"customerName":"` + strings.Repeat("a", maxOrderBody) + `"}`
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(payload)))

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
}

func TestCreateOrderStoreFailure(t *testing.T) {
	srv := newTestServer(t, &fakeStore{appendErr: errors.New("sheets unavailable")})
	payload := `{"customerName":"Ada","customerEmail":"a@b.c","items":[{"productId":"p","quantity":1}]}`
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(payload)))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}
