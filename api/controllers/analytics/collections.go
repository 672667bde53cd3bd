package analytics

import (
	"net/http"
	"strings"

	"github.com/rentledger/rentledger-backend/api/middleware"
	"github.com/rentledger/rentledger-backend/api/responses"
	"github.com/rentledger/rentledger-backend/internal/analytics"
	"github.com/rentledger/rentledger-backend/internal/analytics/types"
	pkgerrors "github.com/rentledger/rentledger-backend/pkg/errors"
	"github.com/rentledger/rentledger-backend/pkg/logger"
)

// CollectionsAnalytics serves the rent-collection KPI report. An optional
// tenant_id query param narrows the report; tenant-role tokens are pinned to
// their own tenant.
func CollectionsAnalytics(service analytics.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if service == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "analytics service unavailable"))
			return
		}

		tenantID := strings.TrimSpace(r.URL.Query().Get("tenant_id"))
		if own := middleware.TenantIDFromContext(ctx); own != "" {
			if tenantID != "" && tenantID != own {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "tenant mismatch"))
				return
			}
			tenantID = own
		}

		start, end, err := resolveAnalyticsRange(r, timeNowUTC())
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		req := types.CollectionsQueryRequest{
			TenantID: tenantID,
			Start:    start,
			End:      end,
		}

		result, err := service.Query(ctx, req)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}
