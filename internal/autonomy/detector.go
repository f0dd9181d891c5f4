package autonomy

import (
	"context"
	"fmt"
	"time"

	"autopilot-platform/internal/campaigns"
)

const (
	// snapshotWindow bounds how much history each detection run considers.
	snapshotWindow = 10

	// declineThreshold: emit when the recent mean falls below 80% of the
	// older mean, i.e. a >=20% relative decline.
	declineThreshold = 0.8

	// timingImprovement: the best slot must beat the scheduled slot by at
	// least 20%.
	timingImprovement = 1.2

	// minSnapshotsForTesting: experimentation only makes sense with some
	// baseline data.
	minSnapshotsForTesting = 5
)

// Detector inspects recent campaign performance and emits typed improvement
// opportunities. Detection is read-only and idempotent: the same snapshots
// produce the same opportunities.
type Detector struct {
	repo  campaigns.Repository
	clock func() time.Time
}

func NewDetector(repo campaigns.Repository) *Detector {
	return &Detector{repo: repo, clock: time.Now}
}

// Detect runs all detection rules for one campaign. Multiple opportunities
// may be emitted; each rule is evaluated independently.
func (d *Detector) Detect(ctx context.Context, workspaceID, campaignID string) ([]Opportunity, error) {
	if workspaceID == "" || campaignID == "" {
		return nil, ErrValidation
	}
	c, err := d.repo.GetCampaign(ctx, workspaceID, campaignID)
	if err != nil {
		return nil, err
	}
	snaps, err := d.repo.RecentSnapshots(ctx, workspaceID, campaignID, snapshotWindow)
	if err != nil {
		return nil, err
	}

	now := d.clock().UTC()
	var out []Opportunity
	if opp, ok := d.detectEngagementDecline(c, snaps, now); ok {
		out = append(out, opp)
	}
	if opp, ok := d.detectSuboptimalTiming(c, snaps, now); ok {
		out = append(out, opp)
	}
	if opp, ok := d.detectMissingExperimentation(c, snaps, now); ok {
		out = append(out, opp)
	}
	return out, nil
}

// detectEngagementDecline compares the 3 most recent snapshots against the
// next 3 on mean click-to-open ratio.
func (d *Detector) detectEngagementDecline(c campaigns.Campaign, snaps []campaigns.MetricSnapshot, now time.Time) (Opportunity, bool) {
	if len(snaps) < 6 {
		return Opportunity{}, false
	}
	recent := meanClickToOpen(snaps[0:3])
	older := meanClickToOpen(snaps[3:6])
	if older <= 0 {
		return Opportunity{}, false
	}
	if recent >= older*declineThreshold {
		return Opportunity{}, false
	}
	change := (recent - older) / older * 100

	return Opportunity{
		Type:       ActionContentVariation,
		Priority:   PriorityHigh,
		CampaignID: c.ID,
		Metrics: map[string]float64{
			"recent_mean_click_to_open": recent,
			"older_mean_click_to_open":  older,
			"percent_change":            change,
		},
		Description: fmt.Sprintf("click-to-open dropped %.1f%% (%.3f -> %.3f)", -change, older, recent),
		DetectedAt:  now,
	}, true
}

// detectSuboptimalTiming buckets snapshots by (weekday, hour) and compares
// the best bucket's engagement rate against the currently scheduled slot.
func (d *Detector) detectSuboptimalTiming(c campaigns.Campaign, snaps []campaigns.MetricSnapshot, now time.Time) (Opportunity, bool) {
	type bucket struct {
		clicks int
		opens  int
	}
	buckets := map[[2]int]*bucket{}
	for _, s := range snaps {
		k := [2]int{int(s.SentAt.Weekday()), s.SentAt.Hour()}
		b := buckets[k]
		if b == nil {
			b = &bucket{}
			buckets[k] = b
		}
		b.clicks += s.Clicks
		b.opens += s.Opens
	}

	rate := func(b *bucket) float64 {
		if b == nil || b.opens <= 0 {
			return 0
		}
		return float64(b.clicks) / float64(b.opens)
	}

	scheduled := [2]int{c.ScheduledDay, c.ScheduledHour}
	scheduledRate := rate(buckets[scheduled])
	if scheduledRate <= 0 {
		// No data for the current slot; nothing to compare against.
		return Opportunity{}, false
	}

	best := scheduled
	bestRate := scheduledRate
	for k, b := range buckets {
		if r := rate(b); r > bestRate {
			best, bestRate = k, r
		}
	}
	if best == scheduled || bestRate < scheduledRate*timingImprovement {
		return Opportunity{}, false
	}
	improvement := (bestRate - scheduledRate) / scheduledRate * 100

	return Opportunity{
		Type:       ActionScheduleAdjustment,
		Priority:   PriorityMedium,
		CampaignID: c.ID,
		Metrics: map[string]float64{
			"scheduled_day":       float64(scheduled[0]),
			"scheduled_hour":      float64(scheduled[1]),
			"scheduled_rate":      scheduledRate,
			"best_day":            float64(best[0]),
			"best_hour":           float64(best[1]),
			"best_rate":           bestRate,
			"improvement_percent": improvement,
		},
		Description: fmt.Sprintf("sending %s %02d:00 engages %.0f%% better than the current slot", time.Weekday(best[0]), best[1], improvement),
		DetectedAt:  now,
	}, true
}

func (d *Detector) detectMissingExperimentation(c campaigns.Campaign, snaps []campaigns.MetricSnapshot, now time.Time) (Opportunity, bool) {
	if c.HasActiveTest || len(snaps) < minSnapshotsForTesting {
		return Opportunity{}, false
	}
	return Opportunity{
		Type:       ActionABTestCreation,
		Priority:   PriorityMedium,
		CampaignID: c.ID,
		Metrics: map[string]float64{
			"snapshots": float64(len(snaps)),
		},
		Description: "no active test despite enough baseline data",
		DetectedAt:  now,
	}, true
}

func meanClickToOpen(snaps []campaigns.MetricSnapshot) float64 {
	if len(snaps) == 0 {
		return 0
	}
	var sum float64
	for _, s := range snaps {
		sum += s.ClickToOpen()
	}
	return sum / float64(len(snaps))
}
