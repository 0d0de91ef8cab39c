package alert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/creatorfi/pulse/internal/config"
)

func testAlertsConfig() config.AlertsConfig {
	return config.AlertsConfig{
		RevenueDeviationFraction: 0.30,
		RevenueCooldown:          time.Hour,
		LargeInvestmentAmount:    10000,
		PlatformResponseTimeMs:   2000,
		PlatformErrorRate:        0.05,
		PlatformCPUUsage:         0.80,
		PlatformCooldown:         5 * time.Minute,
		VolatilityFraction:       0.15,
		VolatilityCooldown:       30 * time.Minute,
	}
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time        { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestEngine(t *testing.T, clock *fakeClock) *Engine {
	t.Helper()
	return NewEngine(zaptest.NewLogger(t), DefaultRules(testAlertsConfig()), WithClock(clock.Now))
}

func TestLargeInvestmentFiresEveryTime(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)}
	engine := newTestEngine(t, clock)
	ctx := map[string]interface{}{"investorId": "inv-1", "creatorId": "creator-1"}

	first, err := engine.Evaluate(RuleLargeInvestment, 15000, ctx)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, SeverityHigh, first.Severity)

	// No cooldown: an immediately following qualifying event fires again.
	second, err := engine.Evaluate(RuleLargeInvestment, 15000, ctx)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.NotEqual(t, first.ID, second.ID)

	below, err := engine.Evaluate(RuleLargeInvestment, 9999, ctx)
	require.NoError(t, err)
	assert.Nil(t, below)
}

func TestPlatformPerformanceCooldown(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)}
	engine := newTestEngine(t, clock)
	breach := map[string]interface{}{"responseTime": 2500.0, "errorRate": 0.01, "cpuUsage": 0.4}

	fired, err := engine.Evaluate(RulePlatformPerformance, 2500, breach)
	require.NoError(t, err)
	require.NotNil(t, fired)
	assert.Equal(t, SeverityCritical, fired.Severity)

	// A second breach one minute later is inside the 5 minute cooldown.
	clock.Advance(time.Minute)
	suppressed, err := engine.Evaluate(RulePlatformPerformance, 2500, breach)
	require.NoError(t, err)
	assert.Nil(t, suppressed)

	clock.Advance(5 * time.Minute)
	again, err := engine.Evaluate(RulePlatformPerformance, 2500, breach)
	require.NoError(t, err)
	assert.NotNil(t, again)
}

func TestPlatformPerformanceTriggersOnAnyGauge(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	engine := newTestEngine(t, clock)

	cases := []struct {
		name string
		ctx  map[string]interface{}
		want bool
	}{
		{"healthy", map[string]interface{}{"responseTime": 100.0, "errorRate": 0.01, "cpuUsage": 0.2}, false},
		{"slow", map[string]interface{}{"responseTime": 2100.0, "errorRate": 0.01, "cpuUsage": 0.2}, true},
		{"errors", map[string]interface{}{"responseTime": 100.0, "errorRate": 0.10, "cpuUsage": 0.2}, true},
		{"cpu", map[string]interface{}{"responseTime": 100.0, "errorRate": 0.01, "cpuUsage": 0.95}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clock.Advance(time.Hour) // clear the global cooldown between cases
			fired, err := engine.Evaluate(RulePlatformPerformance, 0, tc.ctx)
			require.NoError(t, err)
			assert.Equal(t, tc.want, fired != nil)
		})
	}
}

func TestRevenueAnomalyThreshold(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	engine := newTestEngine(t, clock)
	mean := (4200.0 + 4500.0 + 3800.0) / 3.0

	fired, err := engine.Evaluate(RuleRevenueAnomaly, 6100, map[string]interface{}{
		"creatorId":      "creator-1",
		"historicalMean": mean,
	})
	require.NoError(t, err)
	assert.NotNil(t, fired, "46%% deviation must fire")

	normal, err := engine.Evaluate(RuleRevenueAnomaly, 4300, map[string]interface{}{
		"creatorId":      "creator-2",
		"historicalMean": mean,
	})
	require.NoError(t, err)
	assert.Nil(t, normal, "3%% deviation must not fire")
}

func TestRevenueAnomalyDedupPerCreator(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	engine := newTestEngine(t, clock)

	ctxFor := func(creator string) map[string]interface{} {
		return map[string]interface{}{"creatorId": creator, "historicalMean": 1000.0}
	}

	fired, err := engine.Evaluate(RuleRevenueAnomaly, 5000, ctxFor("creator-1"))
	require.NoError(t, err)
	require.NotNil(t, fired)

	// Same creator inside cooldown: suppressed.
	suppressed, err := engine.Evaluate(RuleRevenueAnomaly, 5000, ctxFor("creator-1"))
	require.NoError(t, err)
	assert.Nil(t, suppressed)

	// Different creator: independent cooldown key.
	other, err := engine.Evaluate(RuleRevenueAnomaly, 5000, ctxFor("creator-2"))
	require.NoError(t, err)
	assert.NotNil(t, other)
}

func TestTokenVolatilityBothDirections(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	engine := newTestEngine(t, clock)

	up, err := engine.Evaluate(RuleTokenVolatility, 0.20, map[string]interface{}{"creatorId": "a"})
	require.NoError(t, err)
	assert.NotNil(t, up)

	down, err := engine.Evaluate(RuleTokenVolatility, -0.20, map[string]interface{}{"creatorId": "b"})
	require.NoError(t, err)
	assert.NotNil(t, down)

	flat, err := engine.Evaluate(RuleTokenVolatility, 0.10, map[string]interface{}{"creatorId": "c"})
	require.NoError(t, err)
	assert.Nil(t, flat)
}

func TestUnknownRule(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	engine := newTestEngine(t, clock)

	_, err := engine.Evaluate("no_such_rule", 1, nil)
	assert.Error(t, err)
}

func TestPanickingRuleIsIsolated(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	engine := newTestEngine(t, clock)
	engine.Register(Rule{
		Name:     "broken",
		Severity: SeverityLow,
		Condition: func(value float64, ctx map[string]interface{}) bool {
			panic("boom")
		},
	})

	fired, err := engine.Evaluate("broken", 1, nil)
	require.NoError(t, err, "a panicking rule is logged, not propagated")
	assert.Nil(t, fired)

	// Other rules keep evaluating.
	ok, err := engine.Evaluate(RuleLargeInvestment, 20000, map[string]interface{}{"creatorId": "x"})
	require.NoError(t, err)
	assert.NotNil(t, ok)
}

func TestPruneExpired(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	engine := newTestEngine(t, clock)

	_, err := engine.Evaluate(RuleTokenVolatility, 0.5, map[string]interface{}{"creatorId": "a"})
	require.NoError(t, err)

	assert.Equal(t, 0, engine.PruneExpired(), "inside cooldown, nothing to prune")
	clock.Advance(31 * time.Minute)
	assert.Equal(t, 1, engine.PruneExpired())
}
