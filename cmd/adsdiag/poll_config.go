package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/plcforge/go-ads/ams"
	"github.com/plcforge/go-ads/diag"
)

// pollConfig drives the poll command: which device to dial, which
// slaves to sweep and how often.
type pollConfig struct {
	// Target is the router address as host or host:port.
	Target string `yaml:"target"`
	// NetID is the target AMS NetID; derived from an IPv4 host when empty.
	NetID string `yaml:"netid"`
	// AMSPort is the target AMS port, the EtherCAT master by default.
	AMSPort uint16 `yaml:"ams_port"`
	// DeviceID selects the EtherCAT device on multi-segment masters.
	DeviceID uint16 `yaml:"device_id"`
	// Slaves lists the configured station addresses to sweep.
	Slaves []uint16 `yaml:"slaves"`
	// IntervalMs is the sweep interval in milliseconds.
	IntervalMs int `yaml:"interval_ms"`
	// TimeoutMs is the per-request timeout in milliseconds.
	TimeoutMs int `yaml:"timeout_ms"`
	// ResetOnStart clears frame and lost-link counters before the first
	// sweep, so every reported error happened during this run.
	ResetOnStart bool `yaml:"reset_on_start"`
}

func loadPollConfig(path string) (*pollConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	return parsePollConfig(data)
}

func parsePollConfig(data []byte) (*pollConfig, error) {
	var cfg pollConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyPollDefaults(&cfg)

	if err := validatePollConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyPollDefaults(cfg *pollConfig) {
	if cfg.AMSPort == 0 {
		cfg.AMSPort = uint16(ams.PortEtherCATMaster)
	}

	if cfg.DeviceID == 0 {
		cfg.DeviceID = diag.DefaultDeviceID
	}

	if cfg.IntervalMs == 0 {
		cfg.IntervalMs = 1000
	}

	if cfg.TimeoutMs == 0 {
		cfg.TimeoutMs = 3000
	}
}

func validatePollConfig(cfg *pollConfig) error {
	if cfg.Target == "" {
		return fmt.Errorf("config: target is required")
	}

	if cfg.NetID != "" {
		if _, err := ams.ParseNetID(cfg.NetID); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}

	if len(cfg.Slaves) == 0 {
		return fmt.Errorf("config: at least one slave address is required")
	}

	if cfg.IntervalMs < 10 {
		return fmt.Errorf("config: interval_ms %d below minimum 10", cfg.IntervalMs)
	}

	if cfg.TimeoutMs < 10 {
		return fmt.Errorf("config: timeout_ms %d below minimum 10", cfg.TimeoutMs)
	}

	return nil
}
