package analytics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rentledger/rentledger-backend/api/middleware"
	"github.com/rentledger/rentledger-backend/internal/analytics/types"
	"github.com/rentledger/rentledger-backend/pkg/logger"
)

func TestCollectionsAnalyticsUsesPreset(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	timeNowUTC = func() time.Time { return now }
	defer func() { timeNowUTC = func() time.Time { return time.Now().UTC() } }()

	stub := &testAnalyticsService{
		response: &types.CollectionsQueryResponse{
			CollectedSeries: []types.TimeSeriesPoint{
				{Date: "2025-06-09", Value: 125000},
			},
			OverdueInvoices: 4,
		},
	}

	handler := CollectionsAnalytics(stub, logger.New(logger.Options{ServiceName: "test"}))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/analytics/collections?preset=7d", nil)

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	if stub.period() != 7*24*time.Hour {
		t.Fatalf("expected 7d range, got %v", stub.period())
	}
	if stub.last.TenantID != "" {
		t.Fatalf("expected unscoped request, got tenant %q", stub.last.TenantID)
	}

	var envelope struct {
		Data types.CollectionsQueryResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(envelope.Data.CollectedSeries) == 0 || envelope.Data.CollectedSeries[0].Value != 125000 {
		t.Fatalf("unexpected collected blob: %+v", envelope.Data.CollectedSeries)
	}
	if envelope.Data.OverdueInvoices != 4 {
		t.Fatalf("unexpected overdue count: %d", envelope.Data.OverdueInvoices)
	}
}

func TestCollectionsAnalyticsPinsTenantToken(t *testing.T) {
	stub := &testAnalyticsService{}
	handler := CollectionsAnalytics(stub, logger.New(logger.Options{ServiceName: "test"}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/analytics/collections?preset=30d", nil)
	req = req.WithContext(middleware.WithTenantID(req.Context(), "5f1c2f7e-4a7c-4a38-9b19-7d56a8f0a001"))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	if stub.last.TenantID != "5f1c2f7e-4a7c-4a38-9b19-7d56a8f0a001" {
		t.Fatalf("expected pinned tenant id, got %q", stub.last.TenantID)
	}
}

func TestCollectionsAnalyticsRejectsTenantMismatch(t *testing.T) {
	stub := &testAnalyticsService{}
	handler := CollectionsAnalytics(stub, logger.New(logger.Options{ServiceName: "test"}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/analytics/collections?tenant_id=other", nil)
	req = req.WithContext(middleware.WithTenantID(req.Context(), "5f1c2f7e-4a7c-4a38-9b19-7d56a8f0a001"))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}
	if stub.called() {
		t.Fatal("service should not be invoked on mismatch")
	}
}

func TestCollectionsAnalyticsRejectsHalfRange(t *testing.T) {
	stub := &testAnalyticsService{}
	handler := CollectionsAnalytics(stub, logger.New(logger.Options{ServiceName: "test"}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/analytics/collections?from=2025-06-01T00:00:00Z", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if stub.called() {
		t.Fatal("service should not be invoked on invalid range")
	}
}
