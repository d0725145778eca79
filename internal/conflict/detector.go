// Package conflict detects time collisions among a child's care schedules
// and maintains the conflict cache on each schedule row.
package conflict

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/hopelink/hopelink/internal/interval"
	"github.com/hopelink/hopelink/internal/lock"
	"github.com/hopelink/hopelink/internal/model"
	"github.com/hopelink/hopelink/internal/store"
)

// Report describes one detected collision from the perspective of the
// mutated schedule.
type Report struct {
	ScheduleID     string        `json:"schedule_id"`
	ScheduleTitle  string        `json:"schedule_title"`
	OtherID        string        `json:"other_id"`
	OtherTitle     string        `json:"other_title"`
	OverlapStart   time.Time     `json:"overlap_start"`
	OverlapEnd     time.Time     `json:"overlap_end"`
	OverlapMinutes int           `json:"overlap_minutes"`
	Kind           interval.Kind `json:"conflict_type"`
	Warning        string        `json:"warning_message"`
}

// Detector recomputes conflict sets for a child's schedules. It is the
// only component that writes has_conflict and conflict_with.
type Detector struct {
	schedules *store.ScheduleStore
	locks     *lock.Keyed
	logger    *slog.Logger
}

func NewDetector(schedules *store.ScheduleStore, logger *slog.Logger) *Detector {
	return &Detector{
		schedules: schedules,
		locks:     lock.NewKeyed(),
		logger:    logger,
	}
}

// Recompute rebuilds the conflict cache for every active schedule of the
// child and returns the reports involving focusID (all reports when
// focusID is empty). The whole recomputation holds a per-child section so
// two concurrent inserts cannot leave asymmetric references.
func (d *Detector) Recompute(childID, focusID string) ([]Report, error) {
	unlock := d.locks.Lock(childID)
	defer unlock()

	schedules, err := d.schedules.ListActiveByChild(childID)
	if err != nil {
		return nil, fmt.Errorf("list schedules for child: %w", err)
	}

	sets := make(map[string][]string, len(schedules))
	for i := range schedules {
		sets[schedules[i].ID] = nil
	}

	var reports []Report
	for i := range schedules {
		for j := i + 1; j < len(schedules); j++ {
			a, b := &schedules[i], &schedules[j]

			ia, err := scheduleInterval(a)
			if err != nil {
				continue
			}
			ib, err := scheduleInterval(b)
			if err != nil {
				continue
			}
			if !ia.Overlaps(ib) {
				continue
			}

			sets[a.ID] = append(sets[a.ID], b.ID)
			sets[b.ID] = append(sets[b.ID], a.ID)

			if focusID == "" || a.ID == focusID || b.ID == focusID {
				// Report from the mutated schedule's point of view.
				if b.ID == focusID {
					a, b = b, a
					ia, ib = ib, ia
				}
				reports = append(reports, buildReport(a, b, ia, ib))
			}
		}
	}

	for id, refs := range sets {
		sort.Strings(refs)
		if err := d.schedules.SetConflicts(id, refs); err != nil {
			return nil, fmt.Errorf("write conflict cache: %w", err)
		}
	}

	if len(reports) > 0 {
		d.logger.Info("conflicts detected", "child_id", childID, "count", len(reports))
	}
	return reports, nil
}

func scheduleInterval(s *model.Schedule) (interval.Interval, error) {
	return interval.New(s.StartTime, s.EndTime, s.AllDay)
}

func buildReport(a, b *model.Schedule, ia, ib interval.Interval) Report {
	start, end, _ := interval.Overlap(ia, ib)
	minutes := interval.Minutes(start, end)
	kind := interval.Classify(ia, ib)

	return Report{
		ScheduleID:     a.ID,
		ScheduleTitle:  a.Title,
		OtherID:        b.ID,
		OtherTitle:     b.Title,
		OverlapStart:   start,
		OverlapEnd:     end,
		OverlapMinutes: minutes,
		Kind:           kind,
		Warning: fmt.Sprintf("Schedule conflict: %q and %q overlap for %d minutes starting %s",
			a.Title, b.Title, minutes, start.Format("2006-01-02 15:04")),
	}
}
