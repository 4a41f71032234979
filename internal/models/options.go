package models

import (
	"fmt"
	"time"
)

// IPMode selects how a guest's preferred address is chosen.
type IPMode string

const (
	IPModePrefer192168  IPMode = "prefer_192168"
	IPModePreferPrivate IPMode = "prefer_private"
	IPModeAny           IPMode = "any"
	IPModeCustomPrefix  IPMode = "custom_prefix"
)

// Option defaults and bounds.
const (
	DefaultScanInterval = 20 * time.Second
	MinScanInterval     = 5 * time.Second
	MaxScanInterval     = 3600 * time.Second
	DefaultIPMode       = IPModePrefer192168
	DefaultIPPrefix     = "192.168."
)

// IPModes lists every accepted mode.
func IPModes() []IPMode {
	return []IPMode{IPModePrefer192168, IPModePreferPrivate, IPModeAny, IPModeCustomPrefix}
}

// Valid reports whether m is one of the enumerated modes.
func (m IPMode) Valid() bool {
	for _, mode := range IPModes() {
		if m == mode {
			return true
		}
	}
	return false
}

// Options are the live, per-connection settings that can change without
// reloading the connection.
type Options struct {
	ScanInterval time.Duration `json:"scan_interval"`
	IPMode       IPMode        `json:"ip_mode"`
	IPPrefix     string        `json:"ip_prefix"`
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		ScanInterval: DefaultScanInterval,
		IPMode:       DefaultIPMode,
		IPPrefix:     DefaultIPPrefix,
	}
}

// Validate checks the interval bounds and the mode enum.
func (o Options) Validate() error {
	if o.ScanInterval < MinScanInterval || o.ScanInterval > MaxScanInterval {
		return fmt.Errorf("scan_interval must be between %d and %d seconds, got %s",
			int(MinScanInterval.Seconds()), int(MaxScanInterval.Seconds()), o.ScanInterval)
	}
	if !o.IPMode.Valid() {
		return fmt.Errorf("ip_mode must be one of %v, got %q", IPModes(), o.IPMode)
	}
	return nil
}

// AddressPolicy is the subset of Options consumed by guest coordinators.
type AddressPolicy struct {
	Mode   IPMode
	Prefix string
}

// Policy returns the address policy part of the options.
func (o Options) Policy() AddressPolicy {
	return AddressPolicy{Mode: o.IPMode, Prefix: o.IPPrefix}
}
