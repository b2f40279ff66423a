package publish

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/jlulug/shined/internal/task"
)

// mirrorzDoc is the top-level https://github.com/mirrorz-org/mirrorz
// document shape. Grounded on example/plugins/mirrorz.py's mirrorz().
type mirrorzDoc struct {
	Version float64             `json:"version"`
	Site    map[string]any      `json:"site"`
	Info    []any               `json:"info"`
	Mirrors []map[string]string `json:"mirrors"`
}

// NewMirrorzPublisher returns a :save subscriber that renders
// <apiDir>/mirrorz.json. site is the operator-supplied site block, passed
// through verbatim from the mirrorz-publisher plugin manifest's "site"
// param (internal/config's BuiltinPluginRegistry).
func NewMirrorzPublisher(apiDir string, site map[string]any, tasksFn func() []*task.Task) func(any) {
	path := filepath.Join(apiDir, "mirrorz.json")
	return func(any) {
		doc := mirrorzDoc{Version: 1.5, Site: site, Info: []any{}, Mirrors: []map[string]string{}}
		for _, t := range tasksFn() {
			t.Lock()
			entry := map[string]string{
				"cname":  t.Name,
				"status": mirrorzStatus(t),
			}
			if t.Description != "" {
				entry["desc"] = t.Description
			}
			if s := humanSize(t.Size); s != "" {
				entry["size"] = s
			}
			if t.URL != "" {
				entry["url"] = t.URL
			}
			if t.HelpURL != "" {
				entry["help"] = t.HelpURL
			}
			if t.Upstream != "" {
				entry["upstream"] = t.Upstream
			}
			if raw, ok := t.Extra["mirrorz_data"].(map[string]any); ok {
				for k, v := range raw {
					if s, ok := v.(string); ok {
						entry[k] = s
					}
				}
			}
			t.Unlock()
			doc.Mirrors = append(doc.Mirrors, entry)
		}

		data, err := json.Marshal(doc)
		if err != nil {
			return
		}
		_ = writeFileAtomic(path, data)
	}
}

// mirrorzStatus renders the compact per-state encoding mirrorz.org
// expects. Caller must hold t's lock.
func mirrorzStatus(t *task.Task) string {
	switch t.State {
	case task.Paused:
		return fmt.Sprintf("P%d", t.LastUpdate)
	case task.Success:
		return fmt.Sprintf("S%dX%d", t.LastUpdate, t.NextSched)
	case task.Syncing:
		return fmt.Sprintf("Y%dO%d", t.LastStart, t.LastUpdate)
	case task.Failed:
		return fmt.Sprintf("F%dX%dO%d", t.LastFinish, t.NextSched, t.LastUpdate)
	default:
		return "U"
	}
}
