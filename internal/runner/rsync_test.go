package runner

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jlulug/shined/internal/task"
)

func TestNewRsyncRequiresUpstreamAndLocal(t *testing.T) {
	if _, err := NewRsync(RsyncOptions{}); err == nil {
		t.Fatal("expected an error when upstream/local are empty")
	}
}

func TestNewRsyncRunsFakeExecutableAndExtractsSize(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "local")
	logDir := filepath.Join(dir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		t.Fatal(err)
	}

	fakeRsync := filepath.Join(dir, "fake-rsync")
	script := "#!/bin/sh\necho 'Total file size: 4096 bytes'\nexit 0\n"
	if err := os.WriteFile(fakeRsync, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}

	runFn, err := NewRsync(RsyncOptions{
		Upstream:         "rsync://example.org/debian/",
		Local:            local,
		Executable:       fakeRsync,
		NoDefaultOptions: true,
		IOTimeout:        0,
		LogDir:           logDir,
		Timeout:          5 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}

	tk := &task.Task{Name: "debian"}
	tk.WithDefaults()
	if ok := runFn(tk); !ok {
		t.Fatal("expected the fake rsync run to succeed")
	}
	if tk.Size != 4096 {
		t.Fatalf("Size = %d, want 4096", tk.Size)
	}
	if _, err := os.Stat(local); err != nil {
		t.Fatalf("local dir was not created: %v", err)
	}
}

func TestNewRsyncFailsOnNonZeroExit(t *testing.T) {
	dir := t.TempDir()
	logDir := filepath.Join(dir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		t.Fatal(err)
	}
	fakeRsync := filepath.Join(dir, "fake-rsync")
	if err := os.WriteFile(fakeRsync, []byte("#!/bin/sh\nexit 23\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	runFn, err := NewRsync(RsyncOptions{
		Upstream: "rsync://example.org/debian/", Local: filepath.Join(dir, "local"),
		Executable: fakeRsync, NoDefaultOptions: true, LogDir: logDir,
	})
	if err != nil {
		t.Fatal(err)
	}
	tk := &task.Task{Name: "debian"}
	tk.WithDefaults()
	if runFn(tk) {
		t.Fatal("expected failure on exit code 23")
	}
}

func TestStripDeleteFlagsRemovesOnlyDeleteOptions(t *testing.T) {
	in := []string{"rsync", "--delete-after", "-aHvh", "--delete", "--stats"}
	out := stripDeleteFlags(in)
	want := []string{"rsync", "-aHvh", "--stats"}
	if len(out) != len(want) {
		t.Fatalf("got %v, want %v", out, want)
	}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("got %v, want %v", out, want)
		}
	}
}
