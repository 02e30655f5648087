package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigValidates(t *testing.T) {
	c := DefaultConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected default config to validate, got %v", err)
	}
}

func TestLoadConfigMergesOverYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
store:
  data_dir: /tmp/custom
nats:
  port: 5000
scheduler:
  decay_interval_hours: 6
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	c, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if c.Store.DataDir != "/tmp/custom" {
		t.Errorf("expected overridden data_dir, got %q", c.Store.DataDir)
	}
	if c.NATS.Port != 5000 {
		t.Errorf("expected overridden NATS port, got %d", c.NATS.Port)
	}
	if c.Scheduler.DecayIntervalHours != 6 {
		t.Errorf("expected overridden decay interval, got %d", c.Scheduler.DecayIntervalHours)
	}
	if c.Embedding.Model != "voyage-4" {
		t.Errorf("expected unset fields to keep their default, got %q", c.Embedding.Model)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestLoadConfigRejectsInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("not: valid: yaml: :"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected an error for malformed YAML")
	}
}

func TestValidateRejectsEmptyDataDir(t *testing.T) {
	c := DefaultConfig()
	c.Store.DataDir = ""
	if err := c.Validate(); err == nil {
		t.Error("expected an error for an empty data_dir")
	}
}

func TestValidateRejectsBadPort(t *testing.T) {
	c := DefaultConfig()
	c.NATS.Port = 70000
	if err := c.Validate(); err == nil {
		t.Error("expected an error for an out-of-range NATS port")
	}
}

func TestValidateRequiresEndpointWhenNotMock(t *testing.T) {
	c := DefaultConfig()
	c.Embedding.Mock = false
	c.Embedding.Endpoint = ""
	if err := c.Validate(); err == nil {
		t.Error("expected an error when embedding.mock is false and endpoint is empty")
	}
}

func TestValidateRejectsNonPositiveDecayInterval(t *testing.T) {
	c := DefaultConfig()
	c.Scheduler.DecayIntervalHours = 0
	if err := c.Validate(); err == nil {
		t.Error("expected an error for a non-positive decay interval")
	}
}
