package core

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "spawn.toml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[build]
mode = "production"
protocol = "single"
precompress = true

[build.aliases]
"@lib/" = "/src/lib/"

[runtime]
execution_timeout = 250
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Build.Mode != ModeProduction {
		t.Errorf("mode = %q", cfg.Build.Mode)
	}
	if cfg.Build.Protocol != ProtocolSingle {
		t.Errorf("protocol = %q", cfg.Build.Protocol)
	}
	if !cfg.Build.Precompress {
		t.Error("precompress not set")
	}
	if got := cfg.Build.Aliases["@lib/"]; got != "/src/lib/" {
		t.Errorf("alias = %q", got)
	}
	if cfg.Build.ImportSource != DefaultImportSource {
		t.Errorf("import source = %q, want default", cfg.Build.ImportSource)
	}
	if cfg.Runtime.Timeout() != 250*time.Millisecond {
		t.Errorf("timeout = %s", cfg.Runtime.Timeout())
	}
	if cfg.Runtime.MemoryLimitMB != 64 {
		t.Errorf("memory limit = %d, want default", cfg.Runtime.MemoryLimitMB)
	}
}

func TestLoadConfigRejectsUnknownProtocol(t *testing.T) {
	path := writeConfig(t, "[build]\nprotocol = \"both\"\n")
	_, err := LoadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "both") {
		t.Fatalf("got %v, want unknown protocol error", err)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestWithDefaults(t *testing.T) {
	cfg := Config{Build: BuildConfig{Protocol: ProtocolSingle}}.WithDefaults()
	if cfg.Build.RuntimeSpecifier != DefaultRuntimeID {
		t.Errorf("runtime specifier = %q", cfg.Build.RuntimeSpecifier)
	}
	if cfg.Build.Mode != ModeDevelopment {
		t.Errorf("mode = %q", cfg.Build.Mode)
	}
	if cfg.Runtime.Protocol != ProtocolSingle {
		t.Errorf("runtime protocol = %q, want the build protocol", cfg.Runtime.Protocol)
	}
	if cfg.Runtime.MaxMessageBytes <= 0 {
		t.Error("message limit not defaulted")
	}
}

func TestTimeoutDisabled(t *testing.T) {
	if d := (RuntimeConfig{ExecutionTimeout: -1}).Timeout(); d != 0 {
		t.Errorf("timeout = %s, want 0", d)
	}
}

func TestErrorMessages(t *testing.T) {
	ce := &CaptureError{Name: "helper", Kind: CaptureFunction}
	if !strings.Contains(ce.Error(), "cannot capture function 'helper'") {
		t.Errorf("capture error = %q", ce.Error())
	}
	cl := &CaptureError{Name: "Point", Kind: CaptureClass}
	if !strings.Contains(cl.Error(), "class 'Point'") {
		t.Errorf("class error = %q", cl.Error())
	}
	clone := &CloneError{Path: "captured.cb", Reason: "function could not be cloned"}
	if clone.Error() != "spawn: captured.cb: function could not be cloned" {
		t.Errorf("clone error = %q", clone.Error())
	}
	if (&WorkerError{Message: "boom"}).Error() != "boom" {
		t.Error("worker error does not carry the exact message")
	}
}
