// Package config holds the core's geometry and timing configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// CoreConfig holds the parameters of the simulated core. Values mirror the
// modeled hardware; the defaults describe the reference configuration.
type CoreConfig struct {
	// ResetVector is the PC after reset.
	ResetVector uint32 `json:"reset_vector"`

	// ICacheLines is the number of instruction cache lines. Must be a
	// power of 2. Default: 128.
	ICacheLines int `json:"icache_lines"`

	// DCacheLines is the number of data cache lines. Must be a power
	// of 2. Default: 128.
	DCacheLines int `json:"dcache_lines"`

	// LineBytes is the cache line size in bytes. Default: 32.
	LineBytes int `json:"line_bytes"`

	// TlbEntriesPerPort is the number of TLB entries held by each of the
	// instruction and data ports. Default: 4.
	TlbEntriesPerPort int `json:"tlb_entries_per_port"`

	// PredictorEntries is the number of branch history entries. Must be
	// a power of 2. Default: 256.
	PredictorEntries int `json:"predictor_entries"`

	// BusLatency is the first-word latency of the external memory
	// ports, in cycles. Default: 4.
	BusLatency int `json:"bus_latency"`

	// IOBase and IOLimit bound the memory-mapped I/O window. Data
	// accesses whose physical address falls in [IOBase, IOLimit) bypass
	// the data cache.
	IOBase  uint32 `json:"io_base"`
	IOLimit uint32 `json:"io_limit"`
}

// DefaultConfig returns the reference core configuration: 4KB caches
// (128 lines of 32 bytes), 4-entry TLBs, a 256-entry predictor, and the
// conventional 0x80000000 reset vector.
func DefaultConfig() CoreConfig {
	return CoreConfig{
		ResetVector:       0x80000000,
		ICacheLines:       128,
		DCacheLines:       128,
		LineBytes:         32,
		TlbEntriesPerPort: 4,
		PredictorEntries:  256,
		BusLatency:        4,
		IOBase:            0xF0000000,
		IOLimit:           0xF0010000,
	}
}

// Validate checks structural constraints on the configuration.
func (c CoreConfig) Validate() error {
	if c.ICacheLines <= 0 || c.ICacheLines&(c.ICacheLines-1) != 0 {
		return fmt.Errorf("icache_lines must be a positive power of 2, got %d", c.ICacheLines)
	}
	if c.DCacheLines <= 0 || c.DCacheLines&(c.DCacheLines-1) != 0 {
		return fmt.Errorf("dcache_lines must be a positive power of 2, got %d", c.DCacheLines)
	}
	if c.LineBytes < 8 || c.LineBytes&(c.LineBytes-1) != 0 {
		return fmt.Errorf("line_bytes must be a power of 2 of at least 8, got %d", c.LineBytes)
	}
	if c.TlbEntriesPerPort <= 0 {
		return fmt.Errorf("tlb_entries_per_port must be positive, got %d", c.TlbEntriesPerPort)
	}
	if c.PredictorEntries <= 0 || c.PredictorEntries&(c.PredictorEntries-1) != 0 {
		return fmt.Errorf("predictor_entries must be a positive power of 2, got %d", c.PredictorEntries)
	}
	if c.IOLimit < c.IOBase {
		return fmt.Errorf("io_limit %#x below io_base %#x", c.IOLimit, c.IOBase)
	}
	return nil
}

// LoadConfig loads a CoreConfig from a JSON file. Missing fields keep
// their default values.
func LoadConfig(path string) (CoreConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return CoreConfig{}, fmt.Errorf("failed to read core config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return CoreConfig{}, fmt.Errorf("failed to parse core config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return CoreConfig{}, err
	}
	return cfg, nil
}

// SaveConfig writes the configuration to a JSON file.
func (c CoreConfig) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal core config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write core config file: %w", err)
	}
	return nil
}
