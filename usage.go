package steward

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// EventLLMCost is published (severity medium) the first time the daily cost
// total crosses the configured alert threshold.
const EventLLMCost = "alert.system.llm_cost"

// maxUsageRecords hard-caps the in-memory usage window.
const maxUsageRecords = 10_000

// ModelPricing holds per-million-token pricing for one model.
type ModelPricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// UsageSummary aggregates one (provider, model) pair for the current day.
// Cost is nil when no record for the pair had a cost. Tracked counts records
// whose provider reported usage metrics.
type UsageSummary struct {
	Provider     string   `json:"provider"`
	Model        string   `json:"model"`
	InputTokens  int      `json:"input_tokens"`
	OutputTokens int      `json:"output_tokens"`
	Requests     int      `json:"requests"`
	Cost         *float64 `json:"cost,omitempty"`
	Tracked      int      `json:"tracked"`
}

// UsageTracker keeps a bounded in-memory window of usage records for the
// current calendar day (local time) and raises a cost alert once per day.
type UsageTracker struct {
	mu       sync.Mutex
	records  []UsageRecord
	pricing  map[string]ModelPricing
	bus      *EventBus
	logger   *slog.Logger
	now      func() time.Time
	sink     UsageSink // optional persistence, best-effort
	alertUSD float64   // 0 = disabled
	alerted  bool
	alertDay string // yyyy-mm-dd the alerted flag belongs to
}

// UsageOption configures a UsageTracker.
type UsageOption func(*UsageTracker)

// Pricing sets the per-model rate table used to estimate costs.
func Pricing(table map[string]ModelPricing) UsageOption {
	return func(u *UsageTracker) { u.pricing = table }
}

// DailyAlertThreshold sets the daily USD total that triggers a single
// alert.system.llm_cost event per day. Zero disables the alert.
func DailyAlertThreshold(usd float64) UsageOption {
	return func(u *UsageTracker) { u.alertUSD = usd }
}

// UsageLogger sets the structured logger.
func UsageLogger(l *slog.Logger) UsageOption {
	return func(u *UsageTracker) { u.logger = l }
}

// UsagePersistence sets an optional sink that receives every tracked record.
// Writes are best-effort; sink errors never reach the caller.
func UsagePersistence(s UsageSink) UsageOption {
	return func(u *UsageTracker) { u.sink = s }
}

// usageClock overrides the tracker's time source, for tests.
func usageClock(now func() time.Time) UsageOption {
	return func(u *UsageTracker) { u.now = now }
}

// NewUsageTracker creates a tracker publishing alerts to bus (may be nil).
func NewUsageTracker(bus *EventBus, opts ...UsageOption) *UsageTracker {
	u := &UsageTracker{
		bus:    bus,
		logger: nopLogger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Track appends one usage record. Cost is estimated from the pricing table
// when an entry exists for the model; it stays nil when the provider
// reported no usage.
func (u *UsageTracker) Track(ctx context.Context, provider, model string, usage Usage, tier Tier) {
	rec := UsageRecord{
		Provider:     provider,
		Model:        model,
		Tier:         tier,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		Tracked:      usage.Tracked,
		At:           u.now(),
	}
	if usage.Tracked {
		if p, ok := u.pricing[model]; ok {
			cost := float64(usage.InputTokens)/1e6*p.InputPerMillion +
				float64(usage.OutputTokens)/1e6*p.OutputPerMillion
			rec.Cost = &cost
		}
	}

	u.mu.Lock()
	u.rollover(rec.At)
	u.records = append(u.records, rec)
	u.prune(rec.At)

	var alert float64
	if u.alertUSD > 0 && !u.alerted {
		if total := u.totalCostLocked(); total != nil && *total >= u.alertUSD {
			u.alerted = true
			alert = *total
		}
	}
	u.mu.Unlock()

	if u.sink != nil {
		if err := u.sink.WriteUsage(ctx, rec); err != nil {
			u.logger.Warn("usage sink write failed", "provider", provider, "error", err)
		}
	}
	if alert > 0 && u.bus != nil {
		u.bus.Publish(ctx, Event{
			Type:     EventLLMCost,
			Source:   "usage_tracker",
			Severity: SeverityMedium,
			Payload: map[string]any{
				"daily_cost_usd": alert,
				"threshold_usd":  u.alertUSD,
			},
		})
	}
}

// DailySummary aggregates today's records per (provider, model).
func (u *UsageTracker) DailySummary() []UsageSummary {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.prune(u.now())
	return summarize(u.records)
}

// DailyTotalCost returns today's total estimated cost, or nil when no record
// had a cost.
func (u *UsageTracker) DailyTotalCost() *float64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.prune(u.now())
	return u.totalCostLocked()
}

// DailyByTier groups today's summaries by routing tier.
func (u *UsageTracker) DailyByTier() map[Tier][]UsageSummary {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.prune(u.now())
	byTier := make(map[Tier][]UsageRecord)
	for _, r := range u.records {
		byTier[r.Tier] = append(byTier[r.Tier], r)
	}
	out := make(map[Tier][]UsageSummary, len(byTier))
	for tier, recs := range byTier {
		out[tier] = summarize(recs)
	}
	return out
}

// totalCostLocked sums costs across records. Caller must hold u.mu.
func (u *UsageTracker) totalCostLocked() *float64 {
	var total float64
	var any bool
	for _, r := range u.records {
		if r.Cost != nil {
			total += *r.Cost
			any = true
		}
	}
	if !any {
		return nil
	}
	return &total
}

// rollover resets the daily alert flag when the calendar day changes.
// Caller must hold u.mu.
func (u *UsageTracker) rollover(now time.Time) {
	day := now.Format("2006-01-02")
	if day != u.alertDay {
		u.alertDay = day
		u.alerted = false
	}
}

// prune drops records from previous days and enforces the hard cap,
// discarding oldest first. Caller must hold u.mu.
func (u *UsageTracker) prune(now time.Time) {
	y, m, d := now.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	kept := u.records[:0]
	for _, r := range u.records {
		if !r.At.Before(midnight) {
			kept = append(kept, r)
		}
	}
	u.records = kept
	if len(u.records) > maxUsageRecords {
		u.records = u.records[len(u.records)-maxUsageRecords:]
	}
}

func summarize(records []UsageRecord) []UsageSummary {
	index := make(map[string]int)
	var out []UsageSummary
	for _, r := range records {
		key := r.Provider + "\x00" + r.Model
		i, ok := index[key]
		if !ok {
			i = len(out)
			index[key] = i
			out = append(out, UsageSummary{Provider: r.Provider, Model: r.Model})
		}
		s := &out[i]
		s.InputTokens += r.InputTokens
		s.OutputTokens += r.OutputTokens
		s.Requests++
		if r.Tracked {
			s.Tracked++
		}
		if r.Cost != nil {
			if s.Cost == nil {
				s.Cost = new(float64)
			}
			*s.Cost += *r.Cost
		}
	}
	return out
}
