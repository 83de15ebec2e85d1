package api

import (
	"context"
	"fmt"

	"github.com/datacure/livejobs/internal/model"
)

// GetDashboardMetrics fetches the aggregate dashboard metrics.
func (c *Client) GetDashboardMetrics(ctx context.Context) (model.DashboardMetrics, error) {
	var m model.DashboardMetrics
	if err := c.get(ctx, PathDashboardMetrics, nil, &m); err != nil {
		return model.DashboardMetrics{}, fmt.Errorf("get dashboard metrics: %w", err)
	}
	return m, nil
}
