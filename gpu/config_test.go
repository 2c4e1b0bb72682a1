package gpu

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	d := Defaults()
	if *d.SubmitBatch != 3 {
		t.Errorf("expected default submit batch 3, got %d", *d.SubmitBatch)
	}
	if *d.BufferPoolSlots != 256 {
		t.Errorf("expected default pool slots 256, got %d", *d.BufferPoolSlots)
	}
	if *d.DescriptorSetPool != 128 {
		t.Errorf("expected default descriptor set pool 128, got %d", *d.DescriptorSetPool)
	}
}

func TestLoadConfigMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("expected no error for a missing config file, got %v", err)
	}
	if *cfg.SubmitBatch != 3 {
		t.Errorf("expected defaults to survive a missing file")
	}
}

func TestLoadConfigFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tensorvk.yaml")
	if err := os.WriteFile(path, []byte("device_index: 2\nno_pinned: true\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if *cfg.DeviceIndex != 2 {
		t.Errorf("expected device_index=2, got %d", *cfg.DeviceIndex)
	}
	if !*cfg.NoPinned {
		t.Errorf("expected no_pinned=true")
	}
	if *cfg.BufferPoolSlots != 256 {
		t.Errorf("expected unset fields to keep their default")
	}
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tensorvk.yaml")
	if err := os.WriteFile(path, []byte("device_index: 2\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("TENSORVK_DEVICE_INDEX", "5")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if *cfg.DeviceIndex != 5 {
		t.Errorf("expected env override to win, got %d", *cfg.DeviceIndex)
	}
}

func TestLoadConfigMalformedFileErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tensorvk.yaml")
	if err := os.WriteFile(path, []byte("device_index: [1, 2\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Errorf("expected an error for malformed YAML")
	}
}
