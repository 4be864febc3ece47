/*
 * MIT License
 *
 * Copyright (c) 2026 ringcache contributors
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package config loads and validates the layered startup configuration
// (defaults, file, environment, flags) spec §6 requires.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the full set of tunables spec §6 lists, consumed once at
// startup by the ring, monitor, manager and dispatcher.
type Config struct {
	TargetCF          float64    `mapstructure:"target_cf" validate:"gt=0"`
	GrowthRate        float64    `mapstructure:"growth_rate" validate:"gt=0"`
	ServerLoadCutoffs [4]float64 `mapstructure:"server_load_cutoffs" validate:"required"`

	RequestMonitorRecordTTLMs int `mapstructure:"request_monitor_record_ttl_ms" validate:"gt=0"`
	ModulationIntervalMs      int `mapstructure:"modulation_interval_ms" validate:"gt=0"`
	RedistributionIntervalMs  int `mapstructure:"redistribution_interval_ms" validate:"gt=0"`
	PollIntervalMs            int `mapstructure:"poll_interval_ms" validate:"gt=0"`
	PollTimeoutMs             int `mapstructure:"poll_timeout_ms" validate:"gt=0"`

	InitialBackendCount int `mapstructure:"initial_backend_count" validate:"gt=0"`

	SelectablePortRangeLo int `mapstructure:"selectable_port_range_lo" validate:"gt=0"`
	SelectablePortRangeHi int `mapstructure:"selectable_port_range_hi" validate:"gtfield=SelectablePortRangeLo"`

	RingSize               uint32 `mapstructure:"ring_size" validate:"gte=16384"`
	InitialAnglesPerServer int    `mapstructure:"initial_angles_per_server" validate:"gt=0"`
	HashFunctionID         string `mapstructure:"hash_function_id" validate:"oneof=FNV1A32 MD5_LOW32"`

	DispatcherAddr string `mapstructure:"dispatcher_addr" validate:"required"`
	ManagerAddr    string `mapstructure:"manager_addr" validate:"required"`

	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`

	BackendReadyTimeoutMs  int `mapstructure:"backend_ready_timeout_ms" validate:"gt=0"`
	BackendShutdownGraceMs int `mapstructure:"backend_shutdown_grace_ms" validate:"gt=0"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("target_cf", 0.5)
	v.SetDefault("growth_rate", 5.0)
	v.SetDefault("server_load_cutoffs", []float64{0.25, 0.5, 0.75, 1.5})
	v.SetDefault("request_monitor_record_ttl_ms", 10000)
	v.SetDefault("modulation_interval_ms", 2000)
	v.SetDefault("redistribution_interval_ms", 1000)
	v.SetDefault("poll_interval_ms", 500)
	v.SetDefault("poll_timeout_ms", 2000)
	v.SetDefault("initial_backend_count", 39)
	v.SetDefault("selectable_port_range_lo", 37100)
	v.SetDefault("selectable_port_range_hi", 37200)
	v.SetDefault("ring_size", 1<<16)
	v.SetDefault("initial_angles_per_server", 10)
	v.SetDefault("hash_function_id", "FNV1A32")
	v.SetDefault("dispatcher_addr", "127.0.0.1:8080")
	v.SetDefault("manager_addr", "127.0.0.1:8090")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
	v.SetDefault("backend_ready_timeout_ms", 5000)
	v.SetDefault("backend_shutdown_grace_ms", 5000)
}

// Load builds a Config from, in ascending precedence: built-in defaults,
// an optional configuration file at path (skipped if empty), environment
// variables prefixed RINGCACHE_, and whatever viper instance v already has
// bound from command-line flags.
func Load(v *viper.Viper, path string) (Config, error) {
	if v == nil {
		v = viper.New()
	}

	defaults(v)

	v.SetEnvPrefix("ringcache")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file %q: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding configuration: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks struct-tag constraints plus the cutoff-ordering invariant
// spec §9 calls out explicitly: c0 < c1 < c2 < c3.
func Validate(cfg Config) error {
	val := validator.New()
	if err := val.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	c := cfg.ServerLoadCutoffs
	if !(c[0] < c[1] && c[1] < c[2] && c[2] < c[3]) {
		return fmt.Errorf("invalid configuration: server_load_cutoffs must be strictly increasing, got %v", c)
	}
	return nil
}

// PollTimeout returns the monitor's per-request deadline as a Duration.
func (c Config) PollTimeout() time.Duration { return time.Duration(c.PollTimeoutMs) * time.Millisecond }

// PollInterval returns the monitor's polling cadence as a Duration.
func (c Config) PollInterval() time.Duration { return time.Duration(c.PollIntervalMs) * time.Millisecond }

// RecordTTL returns the capacity-factor history retention window.
func (c Config) RecordTTL() time.Duration {
	return time.Duration(c.RequestMonitorRecordTTLMs) * time.Millisecond
}

// ModulationInterval returns the autoscaler control loop's cadence.
func (c Config) ModulationInterval() time.Duration {
	return time.Duration(c.ModulationIntervalMs) * time.Millisecond
}

// RedistributionInterval returns the dispatcher's redistribution cadence.
func (c Config) RedistributionInterval() time.Duration {
	return time.Duration(c.RedistributionIntervalMs) * time.Millisecond
}

// BackendReadyTimeout returns how long the manager waits for a newly
// launched backend to signal readiness.
func (c Config) BackendReadyTimeout() time.Duration {
	return time.Duration(c.BackendReadyTimeoutMs) * time.Millisecond
}

// BackendShutdownGrace returns how long the manager waits for a backend to
// confirm a graceful stop before giving up with BackendStopTimeout.
func (c Config) BackendShutdownGrace() time.Duration {
	return time.Duration(c.BackendShutdownGraceMs) * time.Millisecond
}
