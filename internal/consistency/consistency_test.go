package consistency

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kevinzh0C/fechatter-core/internal/config"
	"github.com/Kevinzh0C/fechatter-core/internal/metrics"
)

var (
	testRegistryOnce sync.Once
	testRegistry     *metrics.Registry
)

func sharedTestRegistry() *metrics.Registry {
	testRegistryOnce.Do(func() { testRegistry = metrics.NewRegistry() })
	return testRegistry
}

func testConfig() config.ConsistencyConfig {
	return config.ConsistencyConfig{
		Enabled:              true,
		PartialFailureWarn:   0.01,
		PartialFailureMedium: 0.02,
		PartialFailureHigh:   0.05,
	}
}

func TestPartialFailureSeverityBands(t *testing.T) {
	cfg := testConfig()

	sev, risky := partialFailureSeverity(0.06, cfg)
	assert.True(t, risky)
	assert.Equal(t, SeverityHigh, sev)

	sev, risky = partialFailureSeverity(0.03, cfg)
	assert.True(t, risky)
	assert.Equal(t, SeverityMedium, sev)

	sev, risky = partialFailureSeverity(0.015, cfg)
	assert.True(t, risky)
	assert.Equal(t, SeverityLow, sev)

	_, risky = partialFailureSeverity(0.005, cfg)
	assert.False(t, risky, "at or below 1% partial-failure rate is not a reportable risk")
}

func TestScanAlwaysIncludesStaticRaceAndEventLossRisks(t *testing.T) {
	reg := sharedTestRegistry()
	a := New(testConfig(), reg, zerolog.Nop(), []string{"cache_invalidate"}, 10)

	report := a.Scan(context.Background())
	var kinds []RiskKind
	for _, r := range report.Risks {
		kinds = append(kinds, r.Kind)
	}
	assert.Contains(t, kinds, RiskRaceCondition)
	assert.Contains(t, kinds, RiskEventLoss)
}

func TestScanDetectsPartialFailureFromLiveStats(t *testing.T) {
	reg := sharedTestRegistry()
	reg.OperationTotal.WithLabelValues("search_index_update").Add(100)
	reg.OperationPartial.WithLabelValues("search_index_update").Add(7)

	a := New(testConfig(), reg, zerolog.Nop(), []string{"search_index_update"}, 10)
	report := a.Scan(context.Background())

	found := false
	for _, r := range report.Risks {
		if r.Kind == RiskPartialFailure && r.Operation == "search_index_update" {
			found = true
			assert.Equal(t, SeverityHigh, r.Severity)
		}
	}
	assert.True(t, found, "7%% partial-failure rate on a watched operation should surface as a risk")
	assert.GreaterOrEqual(t, report.HighRisks, 1)
}

func TestScanSkipsOperationsWithNoPartialFailures(t *testing.T) {
	reg := sharedTestRegistry()
	reg.OperationTotal.WithLabelValues("cache_put").Add(500)

	a := New(testConfig(), reg, zerolog.Nop(), []string{"cache_put"}, 10)
	report := a.Scan(context.Background())

	for _, r := range report.Risks {
		require.NotEqual(t, "cache_put", r.Operation, "zero partial failures should never be reported as a risk")
	}
}

func TestRunFiresAlarmWhenHighRiskThresholdReached(t *testing.T) {
	reg := sharedTestRegistry()
	reg.OperationTotal.WithLabelValues("notify_dispatch").Add(10)
	reg.OperationPartial.WithLabelValues("notify_dispatch").Add(1)

	cfg := testConfig()
	cfg.ScanInterval = 5 * time.Millisecond
	a := New(cfg, reg, zerolog.Nop(), []string{"notify_dispatch"}, 1)

	alarmed := make(chan Report, 1)
	a.Alarm = func(r Report) {
		select {
		case alarmed <- r:
		default:
		}
	}

	report := a.Scan(context.Background())
	require.GreaterOrEqual(t, report.HighRisks, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	select {
	case r := <-alarmed:
		assert.GreaterOrEqual(t, r.HighRisks, 1)
	case <-time.After(time.Second):
		t.Fatal("expected alarm to fire")
	}
}
