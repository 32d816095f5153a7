package router

import (
	"net/http"
	"strings"

	"github.com/itf-gmbh/phone-agent/internal/tenancy"
)

const tenantHeader = "X-Tenant-Id"

// requireTenantID enforces the multi-tenancy header for API requests.
func requireTenantID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := strings.TrimSpace(r.Header.Get(tenantHeader))
		if tenantID == "" {
			http.Error(w, "missing X-Tenant-Id", http.StatusBadRequest)
			return
		}
		ctx := tenancy.WithTenantID(r.Context(), tenantID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// tenantIDFromRequest exposes the tenant id for local handlers.
func tenantIDFromRequest(r *http.Request) (string, bool) {
	return tenancy.TenantIDFromContext(r.Context())
}
