package query

import (
	"context"
	"fmt"

	cloudbigquery "cloud.google.com/go/bigquery"
	"github.com/rentledger/rentledger-backend/internal/analytics/types"
	"github.com/rentledger/rentledger-backend/pkg/bigquery"
	pkgerrors "github.com/rentledger/rentledger-backend/pkg/errors"
	"google.golang.org/api/iterator"
)

const (
	timeSeriesCollectedSQL = `
SELECT
  FORMAT_DATE('%%F', DATE_TRUNC(occurred_at, DAY)) AS day,
  SUM(COALESCE(amount_cents, 0)) AS value
FROM %s
WHERE %s
  AND event_type = 'payment_applied'
  AND occurred_at BETWEEN @start AND @end
GROUP BY day
ORDER BY day ASC
`

	timeSeriesRefundedSQL = `
SELECT
  FORMAT_DATE('%%F', DATE_TRUNC(occurred_at, DAY)) AS day,
  SUM(COALESCE(-amount_cents, 0)) AS value
FROM %s
WHERE %s
  AND event_type = 'payment_refunded'
  AND occurred_at BETWEEN @start AND @end
GROUP BY day
ORDER BY day ASC
`

	timeSeriesLateFeesSQL = `
SELECT
  FORMAT_DATE('%%F', DATE_TRUNC(occurred_at, DAY)) AS day,
  SUM(COALESCE(amount_cents, 0)) AS value
FROM %s
WHERE %s
  AND event_type = 'late_fee_applied'
  AND occurred_at BETWEEN @start AND @end
GROUP BY day
ORDER BY day ASC
`

	topTenantsSQL = `
SELECT tenant_id AS label, SUM(COALESCE(amount_cents, 0)) AS value
FROM %s
WHERE %s
  AND tenant_id IS NOT NULL
  AND event_type = 'payment_applied'
  AND occurred_at BETWEEN @start AND @end
GROUP BY tenant_id
ORDER BY value DESC
LIMIT 5
`

	averagePaymentSQL = `
SELECT SAFE_DIVIDE(SUM(COALESCE(amount_cents, 0)), NULLIF(COUNT(DISTINCT payment_id), 0)) AS value
FROM %s
WHERE %s
  AND event_type = 'payment_applied'
  AND occurred_at BETWEEN @start AND @end
`

	failureCountsSQL = `
SELECT
  COUNTIF(event_type = 'payment_failed') AS failed_payments,
  COUNTIF(event_type = 'invoice_overdue') AS overdue_invoices
FROM %s
WHERE %s
  AND occurred_at BETWEEN @start AND @end
`
)

// CollectionsService provides dashboard data from BigQuery payment_events.
type CollectionsService interface {
	Query(ctx context.Context, req types.CollectionsQueryRequest) (*types.CollectionsQueryResponse, error)
}

type collectionsService struct {
	client   *bigquery.Client
	tableRef string
}

// NewCollectionsService builds a service backed by BigQuery.
func NewCollectionsService(client *bigquery.Client, project, dataset, table string) (CollectionsService, error) {
	if client == nil {
		return nil, fmt.Errorf("bigquery client required")
	}
	if project == "" || dataset == "" || table == "" {
		return nil, fmt.Errorf("project, dataset, and table are required")
	}
	return &collectionsService{
		client:   client,
		tableRef: fmt.Sprintf("`%s.%s.%s`", project, dataset, table),
	}, nil
}

func (s *collectionsService) Query(ctx context.Context, req types.CollectionsQueryRequest) (*types.CollectionsQueryResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	scopeClause := buildScopeClause(req)
	params := s.baseParams(req)

	collected, err := s.querySeries(ctx, fmt.Sprintf(timeSeriesCollectedSQL, s.tableRef, scopeClause), params)
	if err != nil {
		return nil, err
	}
	refunded, err := s.querySeries(ctx, fmt.Sprintf(timeSeriesRefundedSQL, s.tableRef, scopeClause), params)
	if err != nil {
		return nil, err
	}
	lateFees, err := s.querySeries(ctx, fmt.Sprintf(timeSeriesLateFeesSQL, s.tableRef, scopeClause), params)
	if err != nil {
		return nil, err
	}

	topTenants, err := s.queryTopLabels(ctx, fmt.Sprintf(topTenantsSQL, s.tableRef, scopeClause), params)
	if err != nil {
		return nil, err
	}

	averagePayment, err := s.queryAverage(ctx, fmt.Sprintf(averagePaymentSQL, s.tableRef, scopeClause), params)
	if err != nil {
		return nil, err
	}

	failed, overdue, err := s.queryCounts(ctx, fmt.Sprintf(failureCountsSQL, s.tableRef, scopeClause), params)
	if err != nil {
		return nil, err
	}

	return &types.CollectionsQueryResponse{
		CollectedSeries: collected,
		RefundedSeries:  refunded,
		LateFeeSeries:   lateFees,
		TopTenants:      topTenants,
		AveragePayment:  averagePayment,
		FailedPayments:  failed,
		OverdueInvoices: overdue,
	}, nil
}

func validateRequest(req types.CollectionsQueryRequest) error {
	if req.Start.IsZero() || req.End.IsZero() {
		return pkgerrors.New(pkgerrors.CodeValidation, "start and end are required")
	}
	if req.End.Before(req.Start) {
		return pkgerrors.New(pkgerrors.CodeValidation, "end must be after start")
	}
	return nil
}

func buildScopeClause(req types.CollectionsQueryRequest) string {
	if req.TenantID != "" {
		return "tenant_id = @tenantID"
	}
	return "TRUE"
}

func (s *collectionsService) baseParams(req types.CollectionsQueryRequest) []cloudbigquery.QueryParameter {
	params := []cloudbigquery.QueryParameter{
		{Name: "start", Value: req.Start},
		{Name: "end", Value: req.End},
	}
	if req.TenantID != "" {
		params = append(params, cloudbigquery.QueryParameter{Name: "tenantID", Value: req.TenantID})
	}
	return params
}

func (s *collectionsService) querySeries(ctx context.Context, sql string, params []cloudbigquery.QueryParameter) ([]types.TimeSeriesPoint, error) {
	iter, err := s.client.Query(ctx, sql, params)
	if err != nil {
		return nil, fmt.Errorf("query series: %w", err)
	}

	var points []types.TimeSeriesPoint
	for {
		var row struct {
			Day   string `bigquery:"day"`
			Value int64  `bigquery:"value"`
		}
		if err := iter.Next(&row); err != nil {
			if err == iterator.Done {
				break
			}
			return nil, fmt.Errorf("reading series row: %w", err)
		}
		points = append(points, types.TimeSeriesPoint{Date: row.Day, Value: row.Value})
	}
	return points, nil
}

func (s *collectionsService) queryTopLabels(ctx context.Context, sql string, params []cloudbigquery.QueryParameter) ([]types.LabelValue, error) {
	iter, err := s.client.Query(ctx, sql, params)
	if err != nil {
		return nil, fmt.Errorf("query top labels: %w", err)
	}

	var result []types.LabelValue
	for {
		var row struct {
			Label string `bigquery:"label"`
			Value int64  `bigquery:"value"`
		}
		if err := iter.Next(&row); err != nil {
			if err == iterator.Done {
				break
			}
			return nil, fmt.Errorf("reading top label row: %w", err)
		}
		result = append(result, types.LabelValue{Label: row.Label, Value: row.Value})
	}
	return result, nil
}

func (s *collectionsService) queryAverage(ctx context.Context, sql string, params []cloudbigquery.QueryParameter) (float64, error) {
	iter, err := s.client.Query(ctx, sql, params)
	if err != nil {
		return 0, fmt.Errorf("query average payment: %w", err)
	}
	var row struct {
		Value cloudbigquery.NullFloat64 `bigquery:"value"`
	}
	if err := iter.Next(&row); err != nil {
		if err == iterator.Done {
			return 0, nil
		}
		return 0, fmt.Errorf("reading average payment row: %w", err)
	}
	if !row.Value.Valid {
		return 0, nil
	}
	return row.Value.Float64, nil
}

func (s *collectionsService) queryCounts(ctx context.Context, sql string, params []cloudbigquery.QueryParameter) (int64, int64, error) {
	iter, err := s.client.Query(ctx, sql, params)
	if err != nil {
		return 0, 0, fmt.Errorf("query failure counts: %w", err)
	}
	var row struct {
		FailedPayments  int64 `bigquery:"failed_payments"`
		OverdueInvoices int64 `bigquery:"overdue_invoices"`
	}
	if err := iter.Next(&row); err != nil {
		if err == iterator.Done {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("reading failure counts row: %w", err)
	}
	return row.FailedPayments, row.OverdueInvoices, nil
}
