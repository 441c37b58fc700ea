package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	tomlContent := `
[profiling]
mode = 2
sample-rate = 17
max-profiles = 100
max-init-obj-props = 4

[selection]
escalation-threshold = 0.05
sink-vanilla-threshold = 0.7

[jit]
max-code-bytes = 65536
lease-wait = "10ms"
workers = 3
queue-size = 8

[export]
path = "profiles.db"
layouts-file = "/tmp/layouts.cbor"

[log]
verbosity = 2
`
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte(tomlContent), 0644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if c.Profiling.Mode != ModeProfile {
		t.Errorf("profiling mode = %s, want profile", c.Profiling.Mode)
	}
	if c.Profiling.SampleRate != 17 {
		t.Errorf("sample rate = %d, want 17", c.Profiling.SampleRate)
	}
	if c.Profiling.MaxProfiles != 100 || c.Profiling.MaxInitObjProps != 4 {
		t.Errorf("profiling limits = %d/%d, want 100/4", c.Profiling.MaxProfiles, c.Profiling.MaxInitObjProps)
	}
	if c.Selection.EscalationThreshold != 0.05 || c.Selection.SinkVanillaThreshold != 0.7 {
		t.Errorf("selection = %+v", c.Selection)
	}
	if c.Selection.SinkBespokeThreshold != 0.95 {
		t.Errorf("sink bespoke threshold = %v, want default 0.95", c.Selection.SinkBespokeThreshold)
	}
	if c.JIT.LeaseWait != 10*time.Millisecond || c.JIT.Workers != 3 || c.JIT.QueueSize != 8 {
		t.Errorf("jit = %+v", c.JIT)
	}
	if got := c.ExportPath(); got != filepath.Join(c.Dir, "profiles.db") {
		t.Errorf("export path = %q, want it under %q", got, c.Dir)
	}
	if got := c.LayoutsPath(); got != "/tmp/layouts.cbor" {
		t.Errorf("layouts path = %q, want /tmp/layouts.cbor", got)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte("[profiling]\nsample-rate = 0\n"), 0644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Profiling.SampleRate != 0 {
		t.Errorf("sample rate = %d, want explicit 0", c.Profiling.SampleRate)
	}
	if c.Profiling.Mode != ModeOff {
		t.Errorf("mode = %s, want off", c.Profiling.Mode)
	}
	if c.JIT.Workers != 1 || c.JIT.LeaseWait != 50*time.Millisecond || c.JIT.QueueSize != DefaultQueueSize {
		t.Errorf("jit defaults = %+v", c.JIT)
	}
	if d := Default(); d.Profiling.SampleRate != 1 {
		t.Errorf("default sample rate = %d, want 1", d.Profiling.SampleRate)
	}
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	cases := []string{
		"[profiling]\nmode = 7\n",
		"[selection]\nsink-vanilla-threshold = 1.5\n",
		"[jit]\nworkers = -1\n",
		"[jit]\nqueue-size = -4\n",
		"[profiling\n",
	}
	for _, content := range cases {
		path := filepath.Join(t.TempDir(), FileName)
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(path); err == nil {
			t.Errorf("expected error for %q", content)
		}
	}
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, FileName), []byte("[profiling]\nmode = 1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	c, err := FindAndLoad(nested)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if !c.Profiling.Mode.ShouldTest() || !c.Profiling.Mode.AllowBespoke() {
		t.Errorf("mode = %s, want test", c.Profiling.Mode)
	}
	abs, _ := filepath.Abs(root)
	if c.Dir != abs {
		t.Errorf("dir = %q, want %q", c.Dir, abs)
	}
}
