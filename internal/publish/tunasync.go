package publish

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/jlulug/shined/internal/task"
)

var tunasyncStatus = map[task.State]string{
	task.Paused:  "paused",
	task.Success: "success",
	task.Syncing: "syncing",
	task.Failed:  "failed",
}

// tunasyncRecord is one task's entry in tunasync.json. Grounded on
// example/plugins/tunasync.py's tunasync_json().
type tunasyncRecord struct {
	Name           string `json:"name"`
	IsMaster       bool   `json:"is_master"`
	Status         string `json:"status"`
	LastUpdate     string `json:"last_update"`
	LastUpdateTS   int64  `json:"last_update_ts"`
	LastStarted    string `json:"last_started"`
	LastStartedTS  int64  `json:"last_started_ts"`
	LastEnded      string `json:"last_ended"`
	LastEndedTS    int64  `json:"last_ended_ts"`
	NextSchedule   string `json:"next_schedule"`
	NextScheduleTS int64  `json:"next_schedule_ts"`
	Upstream       string `json:"upstream"`
	Size           string `json:"size"`
}

func fmtTime(ts int64) string {
	if ts == 0 {
		return time.Unix(0, 0).Format("2006-01-02 15:04:05 -0700")
	}
	return time.Unix(ts, 0).Format("2006-01-02 15:04:05 -0700")
}

// NewTunasyncPublisher returns a :save subscriber that renders
// <apiDir>/tunasync.json from the live task table, sorted by name.
func NewTunasyncPublisher(apiDir string, tasksFn func() []*task.Task) func(any) {
	path := filepath.Join(apiDir, "tunasync.json")
	return func(any) {
		tasks := tasksFn()
		records := make([]tunasyncRecord, 0, len(tasks))
		for _, t := range tasks {
			t.Lock()
			records = append(records, tunasyncRecord{
				Name:           t.Name,
				IsMaster:       true,
				Status:         tunasyncStatus[t.State],
				LastUpdate:     fmtTime(t.LastUpdate),
				LastUpdateTS:   t.LastUpdate,
				LastStarted:    fmtTime(t.LastStart),
				LastStartedTS:  t.LastStart,
				LastEnded:      fmtTime(t.LastFinish),
				LastEndedTS:    t.LastFinish,
				NextSchedule:   fmtTime(t.NextSched),
				NextScheduleTS: t.NextSched,
				Upstream:       t.Upstream,
				Size:           humanSize(t.Size),
			})
			t.Unlock()
		}
		sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })

		data, err := json.Marshal(records)
		if err != nil {
			return
		}
		_ = writeFileAtomic(path, data)
	}
}

// humanSize renders a byte count the way tunasync's own status page does,
// e.g. "4.0 MiB". A zero size (never synced, or extraction failed) renders
// as the empty string, matching the original's `task.size_str or ''`.
func humanSize(bytes uint64) string {
	if bytes == 0 {
		return ""
	}
	const unit = 1024.0
	units := []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}
	size := float64(bytes)
	i := 0
	for size >= unit && i < len(units)-1 {
		size /= unit
		i++
	}
	if i == 0 {
		return fmt.Sprintf("%d B", bytes)
	}
	return fmt.Sprintf("%.1f %s", size, units[i])
}
