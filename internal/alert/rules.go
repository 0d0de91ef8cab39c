package alert

import (
	"math"

	"github.com/creatorfi/pulse/internal/config"
)

func stringFromCtx(ctx map[string]interface{}, key string) string {
	if v, ok := ctx[key].(string); ok {
		return v
	}
	return ""
}

func floatFromCtx(ctx map[string]interface{}, key string) (float64, bool) {
	v, ok := ctx[key].(float64)
	return v, ok
}

// DefaultRules builds the four built-in rules with thresholds taken from
// configuration (defaults match the documented business constants).
func DefaultRules(cfg config.AlertsConfig) []Rule {
	return []Rule{
		{
			Name:     RuleRevenueAnomaly,
			Severity: SeverityMedium,
			Cooldown: cfg.RevenueCooldown,
			DedupKey: func(ctx map[string]interface{}) string {
				return stringFromCtx(ctx, "creatorId")
			},
			Condition: func(value float64, ctx map[string]interface{}) bool {
				mean, ok := floatFromCtx(ctx, "historicalMean")
				if !ok || mean == 0 {
					return false
				}
				return math.Abs(value-mean) > cfg.RevenueDeviationFraction*mean
			},
		},
		{
			Name:     RuleLargeInvestment,
			Severity: SeverityHigh,
			// No cooldown: every qualifying investment fires.
			Cooldown: 0,
			DedupKey: func(ctx map[string]interface{}) string {
				return stringFromCtx(ctx, "creatorId")
			},
			Condition: func(value float64, _ map[string]interface{}) bool {
				return value > cfg.LargeInvestmentAmount
			},
		},
		{
			Name:     RulePlatformPerformance,
			Severity: SeverityCritical,
			Cooldown: cfg.PlatformCooldown,
			// Global dedup key: platform health is not per-entity.
			DedupKey: func(_ map[string]interface{}) string { return "" },
			Condition: func(_ float64, ctx map[string]interface{}) bool {
				responseTime, _ := floatFromCtx(ctx, "responseTime")
				errorRate, _ := floatFromCtx(ctx, "errorRate")
				cpuUsage, _ := floatFromCtx(ctx, "cpuUsage")
				return responseTime > cfg.PlatformResponseTimeMs ||
					errorRate > cfg.PlatformErrorRate ||
					cpuUsage > cfg.PlatformCPUUsage
			},
		},
		{
			Name:     RuleTokenVolatility,
			Severity: SeverityMedium,
			Cooldown: cfg.VolatilityCooldown,
			DedupKey: func(ctx map[string]interface{}) string {
				return stringFromCtx(ctx, "creatorId")
			},
			Condition: func(value float64, _ map[string]interface{}) bool {
				return math.Abs(value) > cfg.VolatilityFraction
			},
		},
	}
}
