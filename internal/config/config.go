package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and socket configuration.
type Paths struct {
	StagingDir   string `toml:"staging_dir"`
	OutputDir    string `toml:"output_dir"`
	LogDir       string `toml:"log_dir"`
	Socket       string `toml:"socket"`
	WorkerBinary string `toml:"worker_binary"`
}

// Renderer configures the external frame renderer collaborator.
type Renderer struct {
	Binary    string   `toml:"binary"`
	ExtraArgs []string `toml:"extra_args"`
}

// Transcoder configures the external concat/re-encode collaborator and the
// combine sanity thresholds.
type Transcoder struct {
	Binary            string  `toml:"binary"`
	FallbackCodec     string  `toml:"fallback_codec"`
	FallbackCRF       int     `toml:"fallback_crf"`
	FallbackPreset    string  `toml:"fallback_preset"`
	FallbackAudio     string  `toml:"fallback_audio_codec"`
	FallbackBitrate   string  `toml:"fallback_audio_bitrate"`
	MinOutputBytes    int64   `toml:"min_output_bytes"`
	MinOutputFraction float64 `toml:"min_output_fraction"`
}

// Planner contains the export planning heuristics. These thresholds are
// empirically tuned and deliberately configurable rather than constants.
type Planner struct {
	MinParallelDurationSeconds int     `toml:"min_parallel_duration_seconds"`
	MinTotalMemoryGB           float64 `toml:"min_total_memory_gb"`
	MinAvailableMemoryGB       float64 `toml:"min_available_memory_gb"`
	MinCPUCores                int     `toml:"min_cpu_cores"`
	MaxWorkers                 int     `toml:"max_workers"`
	MemoryPerWorkerGB          float64 `toml:"memory_per_worker_gb"`
	CPUFraction                float64 `toml:"cpu_fraction"`
	MaxConcurrency             int     `toml:"max_concurrency"`
	ParallelConcurrencyCap     int     `toml:"parallel_concurrency_cap"`
	ShortVideoFrames           int     `toml:"short_video_frames"`
	TargetChunkSeconds         int     `toml:"target_chunk_seconds"`
	MinTimeoutMinutes          int     `toml:"min_timeout_minutes"`
	MaxTimeoutMinutes          int     `toml:"max_timeout_minutes"`
}

// Adaptive contains the per-worker concurrency feedback parameters.
type Adaptive struct {
	FreeFloorMB     float64 `toml:"free_floor_mb"`
	RSSRatio        float64 `toml:"rss_ratio"`
	IncreaseEvery   int     `toml:"increase_every"`
	CooldownBatches int     `toml:"cooldown_batches"`
}

// Worker contains supervision settings for render worker processes.
type Worker struct {
	HeartbeatIntervalSeconds int `toml:"heartbeat_interval_seconds"`
	HeartbeatTimeoutSeconds  int `toml:"heartbeat_timeout_seconds"`
	MaxRestarts              int `toml:"max_restarts"`
	GracePeriodSeconds       int `toml:"grace_period_seconds"`
	MemoryCeilingMB          int `toml:"memory_ceiling_mb"`
}

// Machine contains the available-memory normalization parameters.
type Machine struct {
	ReserveFraction float64 `toml:"reserve_fraction"`
	MinReserveGB    float64 `toml:"min_reserve_gb"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for shuttle.
type Config struct {
	Paths      Paths      `toml:"paths"`
	Renderer   Renderer   `toml:"renderer"`
	Transcoder Transcoder `toml:"transcoder"`
	Planner    Planner    `toml:"planner"`
	Adaptive   Adaptive   `toml:"adaptive"`
	Worker     Worker     `toml:"worker"`
	Machine    Machine    `toml:"machine"`
	Logging    Logging    `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration
// file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/shuttle/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg, resolvedPath, exists, err := Peek(path)
	if err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return cfg, resolvedPath, exists, nil
}

// Peek parses the configuration without enforcing validation rules. It
// exists for inspection commands that must work before setup is complete.
func Peek(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("shuttle.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StagingDir, c.Paths.LogDir, c.Paths.OutputDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// SocketPath returns the daemon control socket path.
func (c *Config) SocketPath() string {
	return c.Paths.Socket
}

// LogPath returns the daemon log file path.
func (c *Config) LogPath() string {
	return filepath.Join(c.Paths.LogDir, "shuttle.log")
}

// WorkerBinary returns the render worker executable. An empty value means
// "shuttle-worker" resolved from PATH or next to the daemon binary.
func (c *Config) WorkerBinary() string {
	if binary := strings.TrimSpace(c.Paths.WorkerBinary); binary != "" {
		return binary
	}
	return "shuttle-worker"
}

// TranscoderBinary returns the transcoder executable name.
func (c *Config) TranscoderBinary() string {
	if binary := strings.TrimSpace(c.Transcoder.Binary); binary != "" {
		return binary
	}
	return "ffmpeg"
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
