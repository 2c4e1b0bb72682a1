package gpu

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds the setup-time knobs: device selection, the
// pinned-memory opt-out, and the submission batch size / buffer pool
// capacity / descriptor set pool tuning constants. Fields are pointers
// so an on-disk config file can leave a knob unset and let the
// environment or the built-in default take over.
type Config struct {
	DeviceIndex       *int  `yaml:"device_index"`
	NoPinned          *bool `yaml:"no_pinned"`
	SubmitBatch       *int  `yaml:"submit_batch"`
	BufferPoolSlots   *int  `yaml:"buffer_pool_slots"`
	DescriptorSetPool *int  `yaml:"descriptor_set_pool"`
}

// Defaults returns the built-in tuning constants: a submission batch
// size of 3 tiles, a 256-slot buffer pool, and a 128-set descriptor
// pool pre-allocation in MULTI mode.
func Defaults() Config {
	batch, slots, dpool := 3, 256, 128
	return Config{
		DeviceIndex:       intPtr(0),
		NoPinned:          boolPtr(false),
		SubmitBatch:       &batch,
		BufferPoolSlots:   &slots,
		DescriptorSetPool: &dpool,
	}
}

// LoadConfig reads path if it exists (silently proceeding with
// defaults if it does not — a missing config file is not an error,
// only a malformed one is), then layers TENSORVK_* environment
// overrides on top (file provides defaults, explicit settings win).
func LoadConfig(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			var fileCfg Config
			if err := yaml.Unmarshal(data, &fileCfg); err != nil {
				return cfg, newErr(KindConfig, "LoadConfig", "parse "+path, err)
			}
			mergeConfig(&cfg, &fileCfg)
		} else if !os.IsNotExist(err) {
			return cfg, newErr(KindConfig, "LoadConfig", "read "+path, err)
		}
	}

	if v := os.Getenv("TENSORVK_DEVICE_INDEX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DeviceIndex = &n
		}
	}
	if os.Getenv("TENSORVK_NO_PINNED") != "" {
		cfg.NoPinned = boolPtr(true)
	}

	return cfg, nil
}

func mergeConfig(dst, src *Config) {
	if src.DeviceIndex != nil {
		dst.DeviceIndex = src.DeviceIndex
	}
	if src.NoPinned != nil {
		dst.NoPinned = src.NoPinned
	}
	if src.SubmitBatch != nil {
		dst.SubmitBatch = src.SubmitBatch
	}
	if src.BufferPoolSlots != nil {
		dst.BufferPoolSlots = src.BufferPoolSlots
	}
	if src.DescriptorSetPool != nil {
		dst.DescriptorSetPool = src.DescriptorSetPool
	}
}

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }
