// Package config loads and watches spawnbot's configuration file.
//
// YAML and JSON are both accepted; YAML is coerced to JSON so one strict
// decoder (DisallowUnknownFields) covers both. All durations are Go duration
// strings (e.g. "500ms", "5s", "1h").
package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Spawn    SpawnConfig    `json:"spawn"`
	Janitor  JanitorConfig  `json:"janitor,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	PollTimeout  string  `json:"poll_timeout,omitempty"`
	OwnerUserIDs []int64 `json:"owner_user_ids,omitempty"`
}

type LoggingConfig struct {
	Level   string     `json:"level,omitempty"`
	Console bool       `json:"console"`
	File    FileConfig `json:"file,omitempty"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// SpawnConfig tunes the spawn engine. The debounce window and recovery drift
// tolerance default to 5s and 1h; they are exposed here rather than buried as
// constants.
type SpawnConfig struct {
	CatchToken             string `json:"catch_token,omitempty"`
	DefaultMinInterval     string `json:"default_min_interval,omitempty"`
	DefaultMaxInterval     string `json:"default_max_interval,omitempty"`
	DebounceWindow         string `json:"debounce_window,omitempty"`
	RecoveryDriftTolerance string `json:"recovery_drift_tolerance,omitempty"`
	AssetsDir              string `json:"assets_dir,omitempty"`
}

// JanitorConfig controls periodic maintenance. Enabled is a pointer so an
// omitted field defaults to true while an explicit false still disables it.
type JanitorConfig struct {
	Enabled  *bool  `json:"enabled,omitempty"`
	Schedule string `json:"schedule,omitempty"` // cron spec, default "@every 1h"
}

func (j JanitorConfig) IsEnabled() bool {
	return j.Enabled == nil || *j.Enabled
}
