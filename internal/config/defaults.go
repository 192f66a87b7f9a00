package config

const (
	defaultStagingDir = "~/.local/share/shuttle/staging"
	defaultOutputDir  = "~/exports"
	defaultLogDir     = "~/.local/share/shuttle/logs"
	defaultSocket     = "~/.local/share/shuttle/shuttle.sock"
	defaultLogFormat  = "console"
	defaultLogLevel   = "info"

	defaultTranscoderBinary  = "ffmpeg"
	defaultFallbackCodec     = "libx264"
	defaultFallbackCRF       = 18
	defaultFallbackPreset    = "medium"
	defaultFallbackAudio     = "aac"
	defaultFallbackBitrate   = "192k"
	defaultMinOutputBytes    = 100 * 1024
	defaultMinOutputFraction = 0.05

	defaultMinParallelDurationSeconds = 180
	defaultMinTotalMemoryGB           = 8
	defaultMinAvailableMemoryGB       = 4
	defaultMinCPUCores                = 4
	defaultMaxWorkers                 = 4
	defaultMemoryPerWorkerGB          = 1.0
	defaultCPUFraction                = 0.8
	defaultMaxConcurrency             = 8
	defaultParallelConcurrencyCap     = 3
	defaultShortVideoFrames           = 3600
	defaultTargetChunkSeconds         = 60
	defaultMinTimeoutMinutes          = 10
	defaultMaxTimeoutMinutes          = 24 * 60

	defaultFreeFloorMB     = 512
	defaultRSSRatio        = 0.60
	defaultIncreaseEvery   = 3
	defaultCooldownBatches = 2

	defaultHeartbeatIntervalSeconds = 5
	defaultHeartbeatTimeoutSeconds  = 30
	defaultMaxRestarts              = 2
	defaultGracePeriodSeconds       = 5

	defaultReserveFraction = 0.25
	defaultMinReserveGB    = 2
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir: defaultStagingDir,
			OutputDir:  defaultOutputDir,
			LogDir:     defaultLogDir,
			Socket:     defaultSocket,
		},
		Transcoder: Transcoder{
			Binary:            defaultTranscoderBinary,
			FallbackCodec:     defaultFallbackCodec,
			FallbackCRF:       defaultFallbackCRF,
			FallbackPreset:    defaultFallbackPreset,
			FallbackAudio:     defaultFallbackAudio,
			FallbackBitrate:   defaultFallbackBitrate,
			MinOutputBytes:    defaultMinOutputBytes,
			MinOutputFraction: defaultMinOutputFraction,
		},
		Planner: Planner{
			MinParallelDurationSeconds: defaultMinParallelDurationSeconds,
			MinTotalMemoryGB:           defaultMinTotalMemoryGB,
			MinAvailableMemoryGB:       defaultMinAvailableMemoryGB,
			MinCPUCores:                defaultMinCPUCores,
			MaxWorkers:                 defaultMaxWorkers,
			MemoryPerWorkerGB:          defaultMemoryPerWorkerGB,
			CPUFraction:                defaultCPUFraction,
			MaxConcurrency:             defaultMaxConcurrency,
			ParallelConcurrencyCap:     defaultParallelConcurrencyCap,
			ShortVideoFrames:           defaultShortVideoFrames,
			TargetChunkSeconds:         defaultTargetChunkSeconds,
			MinTimeoutMinutes:          defaultMinTimeoutMinutes,
			MaxTimeoutMinutes:          defaultMaxTimeoutMinutes,
		},
		Adaptive: Adaptive{
			FreeFloorMB:     defaultFreeFloorMB,
			RSSRatio:        defaultRSSRatio,
			IncreaseEvery:   defaultIncreaseEvery,
			CooldownBatches: defaultCooldownBatches,
		},
		Worker: Worker{
			HeartbeatIntervalSeconds: defaultHeartbeatIntervalSeconds,
			HeartbeatTimeoutSeconds:  defaultHeartbeatTimeoutSeconds,
			MaxRestarts:              defaultMaxRestarts,
			GracePeriodSeconds:       defaultGracePeriodSeconds,
		},
		Machine: Machine{
			ReserveFraction: defaultReserveFraction,
			MinReserveGB:    defaultMinReserveGB,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
