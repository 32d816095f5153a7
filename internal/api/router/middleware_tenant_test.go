package router

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequireTenantIDPassesThrough(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := tenantIDFromRequest(r)
		if !ok || tenantID != "tenant-abc" {
			t.Fatalf("expected tenant id propagated, got %s / %v", tenantID, ok)
		}
		w.WriteHeader(http.StatusTeapot)
	})

	handler := requireTenantID(next)
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(tenantHeader, "tenant-abc")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected downstream status, got %d", rr.Code)
	}
}

func TestRequireTenantIDMissingHeader(t *testing.T) {
	handler := requireTenantID(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing tenant, got %d", rr.Code)
	}
}
