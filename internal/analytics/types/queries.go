package types

import "time"

// CollectionsQueryRequest carries the input parameters for collections analytics queries.
type CollectionsQueryRequest struct {
	// TenantID narrows the report to a single tenant when set.
	TenantID string
	Start    time.Time
	End      time.Time
}

// TimeSeriesPoint describes a single date/value pair returned by the query service.
type TimeSeriesPoint struct {
	Date  string `json:"date"`
	Value int64  `json:"value"`
}

// LabelValue represents a top-N entry such as a tenant or invoice.
type LabelValue struct {
	Label string `json:"label"`
	Value int64  `json:"value"`
}

// CollectionsQueryResponse wraps the rent-collection KPIs for the dashboard.
type CollectionsQueryResponse struct {
	CollectedSeries []TimeSeriesPoint `json:"collected"`
	RefundedSeries  []TimeSeriesPoint `json:"refunded"`
	LateFeeSeries   []TimeSeriesPoint `json:"late_fees"`
	TopTenants      []LabelValue      `json:"top_tenants"`
	AveragePayment  float64           `json:"average_payment"`
	FailedPayments  int64             `json:"failed_payments"`
	OverdueInvoices int64             `json:"overdue_invoices"`
}
