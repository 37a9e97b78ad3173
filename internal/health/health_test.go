package health

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

type staticChecker struct {
	name   string
	status Status
}

func (c *staticChecker) Name() string { return c.name }
func (c *staticChecker) Check(ctx context.Context) CheckResult {
	return CheckResult{Status: c.status}
}

// TestOverallStatus 状态聚合：Unhealthy > Degraded > Healthy
func TestOverallStatus(t *testing.T) {
	ctx := context.Background()

	a := NewAggregator(&staticChecker{"db", StatusHealthy}, &staticChecker{"redis", StatusHealthy})
	assert.Equal(t, StatusHealthy, a.OverallStatus(ctx))
	assert.True(t, a.Ready(ctx))

	a.AddChecker(&staticChecker{"queue", StatusDegraded})
	assert.Equal(t, StatusDegraded, a.OverallStatus(ctx))
	assert.True(t, a.Ready(ctx))

	a.AddChecker(&staticChecker{"down", StatusUnhealthy})
	assert.Equal(t, StatusUnhealthy, a.OverallStatus(ctx))
	assert.False(t, a.Ready(ctx))
}

// TestCheckAll 所有检查器都有结果
func TestCheckAll(t *testing.T) {
	a := NewAggregator(&staticChecker{"db", StatusHealthy}, &staticChecker{"redis", StatusDegraded})
	results := a.CheckAll(context.Background())
	assert.Len(t, results, 2)
	assert.Equal(t, StatusHealthy, results["db"].Status)
	assert.Equal(t, StatusDegraded, results["redis"].Status)
}
