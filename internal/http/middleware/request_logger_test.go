package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/itf-gmbh/phone-agent/pkg/logging"
)

func TestRequestLoggerRecordsStatusAndTenant(t *testing.T) {
	var buf bytes.Buffer
	logger := &logging.Logger{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}

	h := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"ok":true}`))
	}))

	req := httptest.NewRequest(http.MethodPost, "/admin/campaigns/reminders", nil)
	req.Header.Set("X-Tenant-Id", "praxis-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("parse log line: %v", err)
	}
	if line["msg"] != "request completed" {
		t.Errorf("msg = %v", line["msg"])
	}
	if line["status"] != float64(http.StatusAccepted) {
		t.Errorf("status field = %v", line["status"])
	}
	if line["path"] != "/admin/campaigns/reminders" {
		t.Errorf("path field = %v", line["path"])
	}
	if line["tenant_id"] != "praxis-1" {
		t.Errorf("tenant_id field = %v", line["tenant_id"])
	}
	if line["bytes"] == float64(0) {
		t.Error("bytes field should count the response body")
	}
}
