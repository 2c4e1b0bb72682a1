// Package detector probes the WebGPU adapter/device this backend will
// run on and turns the result into the capability facts the device
// context (gpu.Context) needs to make setup decisions: whether 16-bit
// storage/arithmetic is usable, what workgroup sizes are safe, and how
// many independent submission ledgers ("logical queues") are worth
// maintaining.
//
// WebGPU does not expose Vulkan-style queue families — a wgpu.Device
// has exactly one Queue. QueueLayout below is this backend's own
// synthesis of a queue-family discovery step: since there is nothing
// to discover, the recommendation is derived from adapter type
// instead (discrete adapters get three independent logical ledgers;
// anything else shares one, the same fallback a Vulkan backend takes
// when a dedicated transfer family isn't available).
package detector

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/openfluke/webgpu/wgpu"
)

// Report is a portable summary of the current adapter/device caps.
type Report struct {
	WhenISO     string            `json:"when_iso"`
	Backend     string            `json:"backend"`
	AdapterType string            `json:"adapter_type"`
	VendorID    string            `json:"vendor_id_hex"`
	DeviceID    string            `json:"device_id_hex"`
	Name        string            `json:"name"`
	Driver      string            `json:"driver"`
	FP16        bool              `json:"fp16"`
	Queues      QueueLayout       `json:"queues"`
	Recommended Recommendations   `json:"recommended"`
	Limits      Limits            `json:"limits"`
	Features    []string          `json:"features"`
	Env         map[string]string `json:"env,omitempty"`
}

// QueueLayout is this backend's logical-queue recommendation (see
// package doc). Compute is always present; Transfer holds 1 or 2
// distinct logical ledger indices, naming compute / transfer[0] /
// transfer[1]. When TransferShared is true, transfer[0] and
// transfer[1] both alias the compute ledger.
type QueueLayout struct {
	Compute        int  `json:"compute"`
	Transfer       []int `json:"transfer"`
	TransferShared bool  `json:"transfer_shared"`
}

type Limits struct {
	MaxComputeInvocationsPerWorkgroup uint32 `json:"max_compute_invocations_per_workgroup"`
	MaxComputeWorkgroupSizeX          uint32 `json:"max_compute_workgroup_size_x"`
	MaxComputeWorkgroupSizeY          uint32 `json:"max_compute_workgroup_size_y"`
	MaxComputeWorkgroupSizeZ          uint32 `json:"max_compute_workgroup_size_z"`
	MaxComputeWorkgroupsPerDimension  uint32 `json:"max_compute_workgroups_per_dimension"`
	MaxComputeWorkgroupStorageSize    uint32 `json:"max_compute_workgroup_storage_size"`
	MaxStorageBufferBindingSize       uint64 `json:"max_storage_buffer_binding_size"`
	MaxBufferSize                     uint64 `json:"max_buffer_size"`
	MinStorageBufferOffsetAlignment   uint32 `json:"min_storage_buffer_offset_alignment"`
}

type Recommendations struct {
	WorkgroupX uint32 `json:"workgroup_x"`
	WorkgroupY uint32 `json:"workgroup_y"`
	WorkgroupZ uint32 `json:"workgroup_z"`

	TileX uint32 `json:"tile_x"`
	TileY uint32 `json:"tile_y"`

	BudgetBytes uint64 `json:"budget_bytes"`
}

// Count reports how many adapters the instance can enumerate. It only
// reports the count; it does not add multi-GPU sharding.
func Count() (int, error) {
	inst := wgpu.CreateInstance(nil)
	if inst == nil {
		return 0, fmt.Errorf("detector: wgpu.CreateInstance returned nil")
	}
	defer inst.Release()
	return len(inst.EnumerateAdapters(nil)), nil
}

// Detect probes the adapter selected by TENSORVK_DEVICE_INDEX (default
// 0) and synthesizes a Report.
func Detect() (*Report, error) {
	inst := wgpu.CreateInstance(nil)
	if inst == nil {
		return nil, fmt.Errorf("detector: wgpu.CreateInstance returned nil")
	}
	defer inst.Release()

	idx := deviceIndex()
	adapters := inst.EnumerateAdapters(nil)

	var adapter *wgpu.Adapter
	if idx >= 0 && idx < len(adapters) {
		adapter = adapters[idx]
	} else {
		var err error
		adapter, err = inst.RequestAdapter(&wgpu.RequestAdapterOptions{
			PowerPreference: wgpu.PowerPreferenceHighPerformance,
		})
		if err != nil {
			return nil, fmt.Errorf("detector: request adapter: %w", err)
		}
	}
	if adapter == nil {
		return nil, fmt.Errorf("detector: no adapter available (index=%d, found=%d)", idx, len(adapters))
	}
	defer adapter.Release()

	info := adapter.GetInfo()
	limits := adapter.GetLimits()

	var feats []string
	fp16 := false
	for _, f := range adapter.EnumerateFeatures() {
		name := f.String()
		feats = append(feats, name)
		if strings.Contains(strings.ToLower(name), "shader-f16") || strings.Contains(strings.ToLower(name), "float16") {
			fp16 = true
		}
	}

	device, err := adapter.RequestDevice(&wgpu.DeviceDescriptor{})
	if err != nil {
		return nil, fmt.Errorf("detector: request device: %w", err)
	}
	defer device.Release()

	wgX, wgY, wgZ := chooseWorkgroup(limits)
	tileX, tileY := chooseTile(limits, wgX, wgY)

	budget := uint64(256 * 1024 * 1024)
	if mb := os.Getenv("TENSORVK_BUDGET_MB"); mb != "" {
		if v, err := strconv.Atoi(mb); err == nil && v > 0 {
			budget = uint64(v) * 1024 * 1024
		}
	}

	rep := &Report{
		WhenISO:     time.Now().UTC().Format(time.RFC3339),
		Backend:     info.BackendType.String(),
		AdapterType: info.AdapterType.String(),
		VendorID:    fmt.Sprintf("0x%04x", info.VendorId),
		DeviceID:    fmt.Sprintf("0x%04x", info.DeviceId),
		Name:        strings.TrimSpace(info.Name),
		Driver:      strings.TrimSpace(info.DriverDescription),
		FP16:        fp16,
		Queues:      queueLayout(info.AdapterType),
		Limits: Limits{
			MaxComputeInvocationsPerWorkgroup: limits.Limits.MaxComputeInvocationsPerWorkgroup,
			MaxComputeWorkgroupSizeX:          limits.Limits.MaxComputeWorkgroupSizeX,
			MaxComputeWorkgroupSizeY:          limits.Limits.MaxComputeWorkgroupSizeY,
			MaxComputeWorkgroupSizeZ:          limits.Limits.MaxComputeWorkgroupSizeZ,
			MaxComputeWorkgroupsPerDimension:  limits.Limits.MaxComputeWorkgroupsPerDimension,
			MaxComputeWorkgroupStorageSize:    limits.Limits.MaxComputeWorkgroupStorageSize,
			MaxStorageBufferBindingSize:       limits.Limits.MaxStorageBufferBindingSize,
			MaxBufferSize:                     limits.Limits.MaxBufferSize,
			MinStorageBufferOffsetAlignment:   256, // wgpu-native's portable floor; the adapter's own alignment limit is not read here
		},
		Features: feats,
		Recommended: Recommendations{
			WorkgroupX: wgX, WorkgroupY: wgY, WorkgroupZ: wgZ,
			TileX: tileX, TileY: tileY,
			BudgetBytes: budget,
		},
		Env: pickEnv([]string{"TENSORVK_BUDGET_MB", "TENSORVK_DEVICE_INDEX", "TENSORVK_NO_PINNED"}),
	}
	return rep, nil
}

// JSON renders the report as indented JSON via goccy/go-json.
func (r *Report) JSON() (string, error) {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func deviceIndex() int {
	if v := os.Getenv("TENSORVK_DEVICE_INDEX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}

func queueLayout(at wgpu.AdapterType) QueueLayout {
	switch at {
	case wgpu.AdapterTypeDiscreteGPU:
		return QueueLayout{Compute: 0, Transfer: []int{1, 2}, TransferShared: false}
	default:
		return QueueLayout{Compute: 0, Transfer: []int{0, 0}, TransferShared: true}
	}
}

func chooseWorkgroup(l wgpu.SupportedLimits) (uint32, uint32, uint32) {
	maxX := l.Limits.MaxComputeWorkgroupSizeX
	maxTot := l.Limits.MaxComputeInvocationsPerWorkgroup

	for _, c := range []uint32{256, 128, 64, 32, 16, 8, 4, 1} {
		if c <= maxX && c <= maxTot {
			return c, 1, 1
		}
	}
	return 1, 1, 1
}

func chooseTile(l wgpu.SupportedLimits, wgX, wgY uint32) (uint32, uint32) {
	tx := wgX * 8
	if tx < 1 {
		tx = 1
	}
	if tx > l.Limits.MaxComputeWorkgroupsPerDimension {
		tx = l.Limits.MaxComputeWorkgroupsPerDimension
	}
	ty := uint32(1)
	if wgY > 1 {
		ty = wgY * 8
		if ty > l.Limits.MaxComputeWorkgroupsPerDimension {
			ty = l.Limits.MaxComputeWorkgroupsPerDimension
		}
	}
	return tx, ty
}

func pickEnv(keys []string) map[string]string {
	out := map[string]string{}
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
