// Package gaps inspects the local store for signs of missed webhook
// deliveries or stalled syncs and recommends a recovery action. It only
// reads committed state and never mutates the store.
package gaps

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/omnidesk/omnisync/internal/bus"
	"github.com/omnidesk/omnisync/internal/store"
)

// Config holds detection thresholds. Zero values fall back to defaults.
type Config struct {
	TimeGapThreshold      time.Duration // silence between consecutive messages that counts as a gap
	RecencyWindow         time.Duration // how far back message activity is inspected
	PendingStuckAfter     time.Duration
	OutboundStuckAfter    time.Duration
	HealthStaleAfter      time.Duration // max age of the last successful sync
	ConsecutiveErrorLimit int
	Cooldown              time.Duration
	MaxConversations      int // cap on conversations scanned per run
}

func (c Config) withDefaults() Config {
	if c.TimeGapThreshold <= 0 {
		c.TimeGapThreshold = 30 * time.Minute
	}
	if c.RecencyWindow <= 0 {
		c.RecencyWindow = 24 * time.Hour
	}
	if c.PendingStuckAfter <= 0 {
		c.PendingStuckAfter = time.Hour
	}
	if c.OutboundStuckAfter <= 0 {
		c.OutboundStuckAfter = 2 * time.Hour
	}
	if c.HealthStaleAfter <= 0 {
		c.HealthStaleAfter = 6 * time.Hour
	}
	if c.ConsecutiveErrorLimit <= 0 {
		c.ConsecutiveErrorLimit = 3
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 5 * time.Minute
	}
	if c.MaxConversations <= 0 {
		c.MaxConversations = 50
	}
	return c
}

// Gap is one detected inconsistency.
type Gap struct {
	Kind           string // sequence, time, status, health
	ConversationID int64
	ThreadID       string
	Detail         string
}

// Recommendation is the detector's suggested follow-up.
type Recommendation struct {
	Priority string // high, medium, low, none
	Action   string // full_resync, targeted_sync, monitor, none
	Reason   string
}

// Report is the outcome of one detection pass.
type Report struct {
	AccountID      string
	CheckedAt      time.Time
	Skipped        bool // true when the cooldown suppressed the pass
	Gaps           []Gap
	Recommendation Recommendation
}

// Detector runs gap checks against the store.
type Detector struct {
	db  *store.DB
	bus *bus.Bus
	log *zap.Logger
	cfg Config

	mu         sync.Mutex
	lastRun    map[string]time.Time
	lastReport map[string]*Report

	now func() time.Time
}

// New creates a detector.
func New(db *store.DB, b *bus.Bus, log *zap.Logger, cfg Config) *Detector {
	return &Detector{
		db:         db,
		bus:        b,
		log:        log,
		cfg:        cfg.withDefaults(),
		lastRun:    make(map[string]time.Time),
		lastReport: make(map[string]*Report),
		now:        time.Now,
	}
}

// DetectGaps runs all checks for one account. Routine passes are rate
// limited per account: during the cooldown the previous pass's report is
// served with Skipped set, so callers still see the last known state. Any
// other reason (webhook anomaly, operator request) bypasses the cooldown.
func (d *Detector) DetectGaps(ctx context.Context, accountID, reason string) (*Report, error) {
	now := d.now()
	if reason == "routine" && !d.takeSlot(accountID, now) {
		if cached := d.cachedReport(accountID); cached != nil {
			r := *cached
			r.Skipped = true
			return &r, nil
		}
		return &Report{
			AccountID:      accountID,
			CheckedAt:      now,
			Skipped:        true,
			Recommendation: Recommendation{Priority: "none", Action: "none", Reason: "cooldown"},
		}, nil
	}

	ch, err := d.db.GetChannelByAccount(accountID)
	if err != nil {
		return nil, fmt.Errorf("load channel: %w", err)
	}
	if ch == nil {
		return nil, fmt.Errorf("unknown account %q", accountID)
	}

	report := &Report{AccountID: accountID, CheckedAt: now}
	report.Gaps = append(report.Gaps, d.checkAccountHealth(ch, now)...)

	statusGaps, err := d.checkStatuses(ch.ID, now)
	if err != nil {
		return nil, err
	}
	report.Gaps = append(report.Gaps, statusGaps...)

	convGaps, err := d.checkConversations(ctx, ch.ID, now)
	if err != nil {
		return nil, err
	}
	report.Gaps = append(report.Gaps, convGaps...)

	report.Recommendation = recommend(report.Gaps, reason)

	if report.Recommendation.Priority != "none" {
		d.log.Info("gaps detected",
			zap.String("account_id", accountID),
			zap.Int("gaps", len(report.Gaps)),
			zap.String("priority", report.Recommendation.Priority),
			zap.String("action", report.Recommendation.Action))
		if d.bus != nil {
			d.bus.Publish(bus.Event{
				Kind: bus.KindGapsDetected,
				Payload: bus.GapsPayload{
					AccountID: accountID,
					Priority:  report.Recommendation.Priority,
					Action:    report.Recommendation.Action,
					Reason:    report.Recommendation.Reason,
				},
			})
		}
	}
	d.rememberReport(accountID, report)
	return report, nil
}

// takeSlot reserves a detection slot for the account, enforcing the cooldown.
func (d *Detector) takeSlot(accountID string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if last, ok := d.lastRun[accountID]; ok && now.Sub(last) < d.cfg.Cooldown {
		return false
	}
	d.lastRun[accountID] = now
	return true
}

func (d *Detector) rememberReport(accountID string, r *Report) {
	d.mu.Lock()
	d.lastReport[accountID] = r
	d.mu.Unlock()
}

func (d *Detector) cachedReport(accountID string) *Report {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastReport[accountID]
}

func (d *Detector) checkAccountHealth(ch *store.Channel, now time.Time) []Gap {
	var gaps []Gap
	if ch.ConsecutiveSyncErrors >= d.cfg.ConsecutiveErrorLimit {
		gaps = append(gaps, Gap{
			Kind:   "health",
			Detail: fmt.Sprintf("%d consecutive sync errors (last: %s)", ch.ConsecutiveSyncErrors, ch.LastSyncError),
		})
	}
	if ch.LastSyncAt > 0 && now.Sub(time.UnixMilli(ch.LastSyncAt)) > d.cfg.HealthStaleAfter {
		gaps = append(gaps, Gap{
			Kind:   "health",
			Detail: fmt.Sprintf("last successful sync at %s", time.UnixMilli(ch.LastSyncAt).UTC().Format(time.RFC3339)),
		})
	}
	if ch.Status != "active" {
		gaps = append(gaps, Gap{Kind: "health", Detail: "channel status " + ch.Status})
	}
	return gaps
}

func (d *Detector) checkStatuses(channelID int64, now time.Time) ([]Gap, error) {
	var gaps []Gap
	pending, err := d.db.CountStuckPendingSync(channelID, now.Add(-d.cfg.PendingStuckAfter).UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("count stuck pending: %w", err)
	}
	if pending > 0 {
		gaps = append(gaps, Gap{Kind: "status", Detail: fmt.Sprintf("%d messages stuck in pending sync", pending)})
	}
	stuck, err := d.db.CountStuckOutbound(channelID, now.Add(-d.cfg.OutboundStuckAfter).UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("count stuck outbound: %w", err)
	}
	if stuck > 0 {
		gaps = append(gaps, Gap{Kind: "status", Detail: fmt.Sprintf("%d outbound messages stuck at sent", stuck)})
	}
	return gaps, nil
}

func (d *Detector) checkConversations(ctx context.Context, channelID int64, now time.Time) ([]Gap, error) {
	since := now.Add(-d.cfg.RecencyWindow).UnixMilli()
	ids, err := d.db.RecentConversationIDs(channelID, since)
	if err != nil {
		return nil, fmt.Errorf("recent conversations: %w", err)
	}
	if len(ids) > d.cfg.MaxConversations {
		ids = ids[:d.cfg.MaxConversations]
	}

	var gaps []Gap
	for _, convID := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		threadID, err := d.db.ConversationThreadID(convID)
		if err != nil {
			return nil, fmt.Errorf("thread id for conversation %d: %w", convID, err)
		}

		extIDs, err := d.db.MessageExternalIDs(convID)
		if err != nil {
			return nil, fmt.Errorf("external ids for conversation %d: %w", convID, err)
		}
		if missing := sequenceGaps(extIDs); missing > 0 {
			gaps = append(gaps, Gap{
				Kind:           "sequence",
				ConversationID: convID,
				ThreadID:       threadID,
				Detail:         fmt.Sprintf("%d missing ids in numeric sequence", missing),
			})
		}

		times, err := d.db.MessageSentTimes(convID, since)
		if err != nil {
			return nil, fmt.Errorf("sent times for conversation %d: %w", convID, err)
		}
		if n, widest := timeGaps(times, d.cfg.TimeGapThreshold); n > 0 {
			gaps = append(gaps, Gap{
				Kind:           "time",
				ConversationID: convID,
				ThreadID:       threadID,
				Detail:         fmt.Sprintf("%d silence gaps, widest %s", n, widest.Round(time.Second)),
			})
		}
	}
	return gaps, nil
}

// sequenceGaps returns the number of ids missing from the numeric sequence
// of external message ids. Providers with opaque ids are exempt: the check
// applies only when at least 80% of the ids parse as integers.
func sequenceGaps(ids []string) int {
	var nums []int64
	for _, id := range ids {
		if n, err := strconv.ParseInt(id, 10, 64); err == nil {
			nums = append(nums, n)
		}
	}
	if len(ids) < 2 || len(nums)*5 < len(ids)*4 {
		return 0
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })
	missing := 0
	for i := 1; i < len(nums); i++ {
		if delta := nums[i] - nums[i-1]; delta > 1 {
			missing += int(delta - 1)
		}
	}
	return missing
}

// timeGaps counts silences longer than the threshold between consecutive
// message timestamps and returns the widest one.
func timeGaps(sentMs []int64, threshold time.Duration) (int, time.Duration) {
	count := 0
	var widest time.Duration
	for i := 1; i < len(sentMs); i++ {
		gap := time.Duration(sentMs[i]-sentMs[i-1]) * time.Millisecond
		if gap > threshold {
			count++
			if gap > widest {
				widest = gap
			}
		}
	}
	return count, widest
}

// recommend maps detected gaps to a single follow-up action. Health and
// status problems outrank sequence gaps, which outrank plain silences.
func recommend(gaps []Gap, reason string) Recommendation {
	if len(gaps) == 0 {
		return Recommendation{Priority: "none", Action: "none", Reason: reason}
	}
	kinds := make(map[string]bool, len(gaps))
	for _, g := range gaps {
		kinds[g.Kind] = true
	}
	switch {
	case kinds["health"] || kinds["status"]:
		return Recommendation{Priority: "high", Action: "full_resync", Reason: reason}
	case kinds["sequence"]:
		return Recommendation{Priority: "medium", Action: "targeted_sync", Reason: reason}
	default:
		return Recommendation{Priority: "low", Action: "monitor", Reason: reason}
	}
}
