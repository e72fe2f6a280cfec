// Package consistency implements C11, the periodic scanner that classifies
// cache/event-pipeline consistency risk from live operation statistics
// (spec.md §4.11). It is grounded on
// original_source/fechatter_server/src/services/infrastructure/cache/consistency_checker.rs:
// the same four risk categories (race condition, partial failure, event
// loss, incomplete invalidation), the same partial-failure-rate severity
// bands (>5% High, >2% Medium, >1% Low-and-up, else none), read here from
// the prometheus.CounterVec pairs internal/metrics.Registry already
// exposes instead of the Rust file's own HashMap<String, OperationStats>.
package consistency

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"

	"github.com/Kevinzh0C/fechatter-core/internal/config"
	"github.com/Kevinzh0C/fechatter-core/internal/metrics"
)

// RiskKind names the four categories consistency_checker.rs enumerates as
// the ConsistencyRisk variant tags.
type RiskKind string

const (
	RiskRaceCondition          RiskKind = "race_condition"
	RiskPartialFailure         RiskKind = "partial_failure"
	RiskEventLoss              RiskKind = "event_loss"
	RiskIncompleteInvalidation RiskKind = "incomplete_invalidation"
)

// Severity mirrors the Rust RiskSeverity enum.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Risk is one assessed finding (consistency_checker.rs's RiskAssessment,
// flattened: the tagged ConsistencyRisk union collapses into Kind+Operation
// since Go has no enum-with-payload idiom as light as Rust's).
type Risk struct {
	Kind        RiskKind
	Operation   string
	Severity    Severity
	Probability float64
	Impact      string
	Mitigation  []string
}

// Report is spec.md §4.11's ConsistencyReport.
type Report struct {
	Timestamp      time.Time
	Risks          []Risk
	HighRisks      int
	MediumRisks    int
	LowRisks       int
	Recommendations []string
}

// staticRiskCatalog holds the four fixed risks the checker always reports
// (two race-condition, two event-loss), ported verbatim from
// check_race_condition_risks and check_event_loss_risks — these
// describe structural hazards in the system design, not something derived
// from live stats, so they are constants rather than computed.
var staticRiskCatalog = []Risk{
	{
		Kind:        RiskRaceCondition,
		Operation:   "user_update",
		Severity:    SeverityMedium,
		Probability: 0.15,
		Impact:      "user profile fields may be briefly inconsistent across cached views",
		Mitigation:  []string{"use transactional cache writes", "copy-on-write cached profile", "version-check before overwrite"},
	},
	{
		Kind:        RiskRaceCondition,
		Operation:   "message_send",
		Severity:    SeverityHigh,
		Probability: 0.25,
		Impact:      "unread counts may be briefly inaccurate under concurrent sends",
		Mitigation:  []string{"atomic counter increments", "eventual-consistency reconciliation pass", "per-message sequence numbers"},
	},
	{
		Kind:        RiskEventLoss,
		Operation:   "event_transport",
		Severity:    SeverityHigh,
		Probability: 0.05,
		Impact:      "cache invalidation events may be lost on broker disconnect, leaving stale entries",
		Mitigation:  []string{"persistent stream for domain events", "delivery acknowledgment", "heartbeat detection"},
	},
	{
		Kind:        RiskEventLoss,
		Operation:   "async_invalidation_task",
		Severity:    SeverityMedium,
		Probability: 0.10,
		Impact:      "in-flight invalidation batches are lost on process restart",
		Mitigation:  []string{"durable task queue", "task status tracking", "startup integrity scan"},
	},
}

// partialFailureSeverity applies consistency_checker.rs's thresholds:
// >5% -> High, >2% -> Medium, >1% -> Low, <=1% -> no risk at all.
func partialFailureSeverity(rate float64, cfg config.ConsistencyConfig) (Severity, bool) {
	switch {
	case rate > cfg.PartialFailureHigh:
		return SeverityHigh, true
	case rate > cfg.PartialFailureMedium:
		return SeverityMedium, true
	case rate > cfg.PartialFailureWarn:
		return SeverityLow, true
	default:
		return "", false
	}
}

// readCounterVec reads the current value of one label of a CounterVec
// without mutating it, using the same Write(*dto.Metric) escape hatch
// prometheus/client_golang's own testutil.ToFloat64 relies on.
func readCounterVec(vec *prometheus.CounterVec, label string) float64 {
	m := &dto.Metric{}
	if err := vec.WithLabelValues(label).Write(m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

// Auditor is the guardian: it scans on an interval and raises Alarm when
// high_risks reaches HighRiskThreshold (spec.md §4.11: "raises an alarm
// when high_risks >= threshold").
type Auditor struct {
	cfg             config.ConsistencyConfig
	reg             *metrics.Registry
	log             zerolog.Logger
	operations      []string
	highRiskThreshold int

	// Alarm fires when a scan's Report.HighRisks reaches highRiskThreshold.
	Alarm func(report Report)
}

// New builds an Auditor watching the named operations (the set of
// OperationTotal/OperationPartial label values C3/C5/C6/C8/C9 record
// against).
func New(cfg config.ConsistencyConfig, reg *metrics.Registry, log zerolog.Logger, operations []string, highRiskThreshold int) *Auditor {
	return &Auditor{
		cfg: cfg, reg: reg, log: log.With().Str("subsystem", "consistency").Logger(),
		operations: operations, highRiskThreshold: highRiskThreshold,
	}
}

// Scan performs one full consistency check (consistency_checker.rs's
// perform_consistency_check): static race/event-loss risks plus
// stats-derived partial-failure risks, reduced to a Report.
func (a *Auditor) Scan(_ context.Context) Report {
	risks := make([]Risk, 0, len(staticRiskCatalog))
	risks = append(risks, staticRiskCatalog...)
	risks = append(risks, a.partialFailureRisks()...)

	return a.buildReport(risks)
}

func (a *Auditor) partialFailureRisks() []Risk {
	var risks []Risk
	for _, op := range a.operations {
		total := readCounterVec(a.reg.OperationTotal, op)
		partial := readCounterVec(a.reg.OperationPartial, op)
		if total == 0 || partial == 0 {
			continue
		}
		rate := partial / total
		sev, risky := partialFailureSeverity(rate, a.cfg)
		if !risky {
			continue
		}
		risks = append(risks, Risk{
			Kind:        RiskPartialFailure,
			Operation:   op,
			Severity:    sev,
			Probability: rate,
			Impact:      fmt.Sprintf("%s has a %.2f%% partial-failure rate", op, rate*100),
			Mitigation:  []string{"compensating invalidation", "retry with backoff", "distributed transaction"},
		})
	}
	return risks
}

func (a *Auditor) buildReport(risks []Risk) Report {
	sort.Slice(risks, func(i, j int) bool { return risks[i].Operation < risks[j].Operation })

	var high, medium, low int
	var recs []string
	for _, r := range risks {
		switch r.Severity {
		case SeverityCritical, SeverityHigh:
			high++
			recs = append(recs, "high priority: "+r.Impact)
		case SeverityMedium:
			medium++
			recs = append(recs, "medium priority: "+r.Impact)
		case SeverityLow:
			low++
		}
	}
	if high > 0 {
		recs = append(recs, "mitigate high-risk items immediately")
	}
	if medium > 3 {
		recs = append(recs, "consider a stricter cache-consistency policy")
	}
	recs = append(recs, "run consistency checks on a fixed interval to track drift")

	return Report{
		Timestamp:       time.Now().UTC(),
		Risks:           risks,
		HighRisks:       high,
		MediumRisks:     medium,
		LowRisks:        low,
		Recommendations: recs,
	}
}

// Run is the guardian loop (spec.md §4.11: "runs the scan on an interval
// and raises an alarm"). It blocks until ctx is cancelled.
func (a *Auditor) Run(ctx context.Context) {
	interval := a.cfg.ScanInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report := a.Scan(ctx)
			a.log.Info().Int("high_risks", report.HighRisks).Int("medium_risks", report.MediumRisks).
				Int("low_risks", report.LowRisks).Msg("consistency scan complete")
			if report.HighRisks >= a.highRiskThreshold && a.Alarm != nil {
				a.Alarm(report)
			}
		}
	}
}
