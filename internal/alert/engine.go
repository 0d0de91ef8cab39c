// Package alert evaluates named rules against stream values with
// per-dedup-key cooldown semantics.
package alert

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/creatorfi/pulse/pkg/metrics"
)

// Severity is the priority tier downstream consumers route/escalate on.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rule names built into the pipeline.
const (
	RuleRevenueAnomaly      = "revenue_anomaly"
	RuleLargeInvestment     = "large_investment"
	RulePlatformPerformance = "platform_performance"
	RuleTokenVolatility     = "token_volatility"
)

// Condition decides whether a rule fires for the given value and context.
type Condition func(value float64, ctx map[string]interface{}) bool

// Rule is a named predicate with severity and cooldown. DedupKey derives
// the entity the cooldown is tracked against; returning "" makes the
// cooldown global.
type Rule struct {
	Name      string
	Severity  Severity
	Cooldown  time.Duration
	DedupKey  func(ctx map[string]interface{}) string
	Condition Condition
}

// Event is a fired alert. Immutable once emitted.
type Event struct {
	ID       string                 `json:"id"`
	RuleName string                 `json:"ruleName"`
	Severity Severity               `json:"severity"`
	Context  map[string]interface{} `json:"context"`
	FiredAt  time.Time              `json:"firedAt"`
}

type firedEntry struct {
	at       time.Time
	cooldown time.Duration
}

const firedStripes = 64

// Engine is the rule registry plus the lastFiredAt dedup state.
type Engine struct {
	mu    sync.RWMutex
	rules map[string]*Rule

	// lastFiredAt is striped by dedup key so unrelated entities never
	// serialize on a shared lock.
	stripes [firedStripes]struct {
		sync.Mutex
		fired map[string]firedEntry
	}

	clock  func() time.Time
	logger *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the engine's time source.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// NewEngine creates an engine with the given rules registered.
func NewEngine(logger *zap.Logger, rules []Rule, opts ...Option) *Engine {
	e := &Engine{
		rules:  make(map[string]*Rule, len(rules)),
		clock:  time.Now,
		logger: logger,
	}
	for i := range e.stripes {
		e.stripes[i].fired = make(map[string]firedEntry)
	}
	for i := range rules {
		r := rules[i]
		e.rules[r.Name] = &r
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register adds or replaces a rule.
func (e *Engine) Register(rule Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules[rule.Name] = &rule
}

func (e *Engine) stripeFor(key string) *struct {
	sync.Mutex
	fired map[string]firedEntry
} {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &e.stripes[h.Sum32()%firedStripes]
}

// Evaluate runs the named rule. It returns a fired Event, or nil when the
// condition is false or the dedup key is still cooling down. lastFiredAt
// is updated before the event is returned, so a burst of qualifying
// events within the same tick cannot double-fire.
func (e *Engine) Evaluate(ruleName string, value float64, ctx map[string]interface{}) (*Event, error) {
	e.mu.RLock()
	rule, ok := e.rules[ruleName]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown alert rule %q", ruleName)
	}

	fired, err := e.safeCondition(rule, value, ctx)
	if err != nil {
		// A faulty rule must not prevent other rules from evaluating.
		e.logger.Error("alert condition failed", zap.String("rule", ruleName), zap.Error(err))
		return nil, nil
	}
	if !fired {
		return nil, nil
	}

	dedupKey := rule.Name
	if rule.DedupKey != nil {
		dedupKey = rule.Name + "|" + rule.DedupKey(ctx)
	}

	now := e.clock()
	if rule.Cooldown > 0 {
		stripe := e.stripeFor(dedupKey)
		stripe.Lock()
		if entry, seen := stripe.fired[dedupKey]; seen && now.Sub(entry.at) < rule.Cooldown {
			stripe.Unlock()
			metrics.AlertsSuppressed.WithLabelValues(ruleName).Inc()
			return nil, nil
		}
		stripe.fired[dedupKey] = firedEntry{at: now, cooldown: rule.Cooldown}
		stripe.Unlock()
	}

	metrics.AlertsFired.WithLabelValues(ruleName, string(rule.Severity)).Inc()
	return &Event{
		ID:       uuid.NewString(),
		RuleName: rule.Name,
		Severity: rule.Severity,
		Context:  ctx,
		FiredAt:  now,
	}, nil
}

// safeCondition isolates a panicking rule from the rest of the engine.
func (e *Engine) safeCondition(rule *Rule, value float64, ctx map[string]interface{}) (fired bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rule %s panicked: %v", rule.Name, r)
		}
	}()
	return rule.Condition(value, ctx), nil
}

// PruneExpired drops cooldown entries whose window has elapsed. Called by
// the housekeeping timer, never by the hot path.
func (e *Engine) PruneExpired() int {
	now := e.clock()
	pruned := 0
	for i := range e.stripes {
		stripe := &e.stripes[i]
		stripe.Lock()
		for key, entry := range stripe.fired {
			if now.Sub(entry.at) >= entry.cooldown {
				delete(stripe.fired, key)
				pruned++
			}
		}
		stripe.Unlock()
	}
	return pruned
}
