package publish

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/jlulug/shined/internal/task"
)

func newTask(name string, state task.State) *task.Task {
	t := &task.Task{Name: name, State: state, LastUpdate: 100, LastStart: 90, LastFinish: 95, NextSched: 200, Size: 1024 * 1024}
	t.WithDefaults()
	return t
}

func TestTunasyncPublisherWritesSortedRecords(t *testing.T) {
	dir := t.TempDir()
	tasks := []*task.Task{newTask("zeta", task.Success), newTask("alpha", task.Paused)}
	pub := NewTunasyncPublisher(dir, func() []*task.Task { return tasks })
	pub(nil)

	data, err := os.ReadFile(filepath.Join(dir, "tunasync.json"))
	if err != nil {
		t.Fatal(err)
	}
	var records []tunasyncRecord
	if err := json.Unmarshal(data, &records); err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 || records[0].Name != "alpha" || records[1].Name != "zeta" {
		t.Fatalf("got %+v", records)
	}
	if records[0].Status != "paused" || records[1].Status != "success" {
		t.Fatalf("unexpected status mapping: %+v", records)
	}
	if records[0].Size != "1.0 MiB" {
		t.Fatalf("Size = %q, want 1.0 MiB", records[0].Size)
	}
}

func TestMirrorzPublisherEncodesCompactStatus(t *testing.T) {
	dir := t.TempDir()
	tasks := []*task.Task{newTask("debian", task.Failed)}
	pub := NewMirrorzPublisher(dir, map[string]any{"abbr": "EX"}, func() []*task.Task { return tasks })
	pub(nil)

	data, err := os.ReadFile(filepath.Join(dir, "mirrorz.json"))
	if err != nil {
		t.Fatal(err)
	}
	var doc mirrorzDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	if doc.Version != 1.5 || len(doc.Mirrors) != 1 {
		t.Fatalf("got %+v", doc)
	}
	want := "F95X200O100"
	if doc.Mirrors[0]["status"] != want {
		t.Fatalf("status = %q, want %q", doc.Mirrors[0]["status"], want)
	}
}

func TestMirrorzPublisherFiltersNonStringExtraValues(t *testing.T) {
	dir := t.TempDir()
	tk := newTask("debian", task.Success)
	tk.Extra = map[string]any{"mirrorz_data": map[string]any{"note": "ok", "count": 5}}
	pub := NewMirrorzPublisher(dir, nil, func() []*task.Task { return []*task.Task{tk} })
	pub(nil)

	data, _ := os.ReadFile(filepath.Join(dir, "mirrorz.json"))
	var doc mirrorzDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	if doc.Mirrors[0]["note"] != "ok" {
		t.Fatalf("expected string extra to merge, got %+v", doc.Mirrors[0])
	}
	if _, ok := doc.Mirrors[0]["count"]; ok {
		t.Fatal("non-string extra value must be filtered out")
	}
}
