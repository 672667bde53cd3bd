package analytics

import (
	"context"
	"fmt"

	"github.com/rentledger/rentledger-backend/internal/analytics/query"
	"github.com/rentledger/rentledger-backend/internal/analytics/types"
	"github.com/rentledger/rentledger-backend/pkg/bigquery"
)

// Service provides analytics reports based on payment events.
type Service interface {
	// Query returns rent-collection KPIs for the provided request.
	Query(ctx context.Context, req types.CollectionsQueryRequest) (*types.CollectionsQueryResponse, error)
}

type service struct {
	collections query.CollectionsService
}

// NewService builds an analytics service backed by BigQuery.
func NewService(client *bigquery.Client, project, dataset, table string) (Service, error) {
	if client == nil {
		return nil, fmt.Errorf("bigquery client required")
	}

	collections, err := query.NewCollectionsService(client, project, dataset, table)
	if err != nil {
		return nil, err
	}

	return &service{collections: collections}, nil
}

func (s *service) Query(ctx context.Context, req types.CollectionsQueryRequest) (*types.CollectionsQueryResponse, error) {
	return s.collections.Query(ctx, req)
}
