package analytics

import (
	"context"
	"time"

	"github.com/rentledger/rentledger-backend/internal/analytics/types"
)

type testAnalyticsService struct {
	last     types.CollectionsQueryRequest
	calls    int
	response *types.CollectionsQueryResponse
	err      error
}

func (s *testAnalyticsService) Query(ctx context.Context, req types.CollectionsQueryRequest) (*types.CollectionsQueryResponse, error) {
	s.last = req
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if s.response == nil {
		s.response = &types.CollectionsQueryResponse{}
	}
	return s.response, nil
}

func (s *testAnalyticsService) called() bool {
	return s.calls > 0
}

func (s *testAnalyticsService) period() time.Duration {
	return s.last.End.Sub(s.last.Start)
}
