package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/Jeremy-Gitau/launch-pad/internal/logger"
	"github.com/Jeremy-Gitau/launch-pad/internal/registry"
	"github.com/Jeremy-Gitau/launch-pad/internal/supervisor"
)

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	Supervisor SupervisorConfig    `toml:"supervisor" mapstructure:"supervisor"`
	Server     ServerConfig        `toml:"server" mapstructure:"server"`
	Store      StoreConfig         `toml:"store" mapstructure:"store"`
	Log        LogConfig           `toml:"log" mapstructure:"log"`
	Services   []ServiceConfig     `toml:"services" mapstructure:"services"`
	Presets    map[string][]string `toml:"presets" mapstructure:"presets"`
}

// SupervisorConfig tunes lifecycle timing. Zero values fall back to the
// supervisor defaults.
type SupervisorConfig struct {
	MonitorInterval   time.Duration `toml:"monitor_interval" mapstructure:"monitor_interval"`
	StartStagger      time.Duration `toml:"start_stagger" mapstructure:"start_stagger"`
	StabilityWindow   time.Duration `toml:"stability_window" mapstructure:"stability_window"`
	RestartLimit      int           `toml:"restart_limit" mapstructure:"restart_limit"`
	RestartDelay      time.Duration `toml:"restart_delay" mapstructure:"restart_delay"`
	DependencyTimeout time.Duration `toml:"dependency_timeout" mapstructure:"dependency_timeout"`
	StopGrace         time.Duration `toml:"stop_grace" mapstructure:"stop_grace"`
	LogBufferLines    int           `toml:"log_buffer_lines" mapstructure:"log_buffer_lines"`
}

type ServerConfig struct {
	Listen  string `toml:"listen" mapstructure:"listen"`
	Metrics bool   `toml:"metrics" mapstructure:"metrics"`
}

type StoreConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Color      bool   `toml:"color" mapstructure:"color"`
	Dir        string `toml:"dir" mapstructure:"dir"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

// ServiceConfig is the TOML shape of one service definition.
type ServiceConfig struct {
	ID                string        `toml:"id" mapstructure:"id"`
	Label             string        `toml:"label" mapstructure:"label"`
	Command           string        `toml:"command" mapstructure:"command"`
	Args              []string      `toml:"args" mapstructure:"args"`
	WorkDir           string        `toml:"workdir" mapstructure:"workdir"`
	Env               []string      `toml:"env" mapstructure:"env"`
	DependsOn         []string      `toml:"depends_on" mapstructure:"depends_on"`
	AutoRestart       bool          `toml:"autorestart" mapstructure:"autorestart"`
	GracePeriod       time.Duration `toml:"grace_period" mapstructure:"grace_period"`
	DependencyTimeout time.Duration `toml:"dependency_timeout" mapstructure:"dependency_timeout"`
	ReadyAddress      string        `toml:"ready_address" mapstructure:"ready_address"`
	ReadyTimeout      time.Duration `toml:"ready_timeout" mapstructure:"ready_timeout"`
}

const DefaultListen = "127.0.0.1:8713"

// Load reads and parses a TOML config file.
func Load(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if fc.Server.Listen == "" {
		fc.Server.Listen = DefaultListen
	}
	return &fc, nil
}

// Descriptors converts service sections into registry descriptors.
func (fc *FileConfig) Descriptors() []registry.Descriptor {
	out := make([]registry.Descriptor, 0, len(fc.Services))
	for _, s := range fc.Services {
		out = append(out, registry.Descriptor{
			ID:        s.ID,
			Label:     s.Label,
			DependsOn: s.DependsOn,
			Launch: registry.LaunchParams{
				Command: s.Command,
				Args:    s.Args,
				WorkDir: s.WorkDir,
				Env:     s.Env,
			},
			AutoRestart:       s.AutoRestart,
			GracePeriod:       s.GracePeriod,
			DependencyTimeout: s.DependencyTimeout,
			Ready: registry.ReadyProbe{
				Address: s.ReadyAddress,
				Timeout: s.ReadyTimeout,
			},
		})
	}
	return out
}

// Registry validates the service sections into a registry.
func (fc *FileConfig) Registry() (*registry.Registry, error) {
	return registry.New(fc.Descriptors())
}

// SupervisorOptions maps the timing section onto supervisor options.
func (fc *FileConfig) SupervisorOptions() supervisor.Options {
	return supervisor.Options{
		MonitorInterval:   fc.Supervisor.MonitorInterval,
		StartStagger:      fc.Supervisor.StartStagger,
		StabilityWindow:   fc.Supervisor.StabilityWindow,
		RestartLimit:      fc.Supervisor.RestartLimit,
		RestartDelay:      fc.Supervisor.RestartDelay,
		DependencyTimeout: fc.Supervisor.DependencyTimeout,
		StopGrace:         fc.Supervisor.StopGrace,
		LogCapacity:       fc.Supervisor.LogBufferLines,
		LogConfig: logger.Config{
			Dir:        fc.Log.Dir,
			MaxSizeMB:  fc.Log.MaxSizeMB,
			MaxBackups: fc.Log.MaxBackups,
			MaxAgeDays: fc.Log.MaxAgeDays,
			Compress:   fc.Log.Compress,
		},
	}
}

// Preset resolves a named preset to its member service ids.
func (fc *FileConfig) Preset(name string) ([]string, error) {
	ids, ok := fc.Presets[name]
	if !ok {
		return nil, fmt.Errorf("unknown preset: %s", name)
	}
	return ids, nil
}
