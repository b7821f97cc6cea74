package config

const (
	defaultInstanceName       = "Frame Randomizer Instance"
	defaultUUIDNamespace      = "b219dcdb-c910-417c-8403-01c6b40c5fb4"
	defaultVideoSourceDir     = "~/videos"
	defaultImageOutputDir     = "~/.local/share/framer/frames"
	defaultDataDir            = "~/.local/share/framer/data"
	defaultLogDir             = "~/.local/share/framer/logs"
	defaultAPIBind            = "127.0.0.1:7493"
	defaultOutputExtension    = "png"
	defaultRequiredStdDev     = 10.0
	defaultGenMaxAttempts     = 5
	defaultPregenCount        = 3
	defaultGenMaxParallelism  = 2
	defaultServeTimeout       = 15
	defaultFrameExpiry        = 3600
	defaultAnswerExpiry       = 600
	defaultRunExpiry          = 3600
	defaultCleanupInterval    = 60
	defaultRetentionThreshold = 10
	defaultProbeConcurrency   = 0 // unlimited
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
)

func defaultVideoExtensions() []string {
	return []string{".mkv", ".mp4", ".avi", ".webm"}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		InstanceName:  defaultInstanceName,
		UUIDNamespace: defaultUUIDNamespace,
		Paths: Paths{
			VideoSourceDir: defaultVideoSourceDir,
			ImageOutputDir: defaultImageOutputDir,
			DataDir:        defaultDataDir,
			LogDir:         defaultLogDir,
			APIBind:        defaultAPIBind,
		},
		Frames: Frames{
			OutputExtension:           defaultOutputExtension,
			RequiredStandardDeviation: defaultRequiredStdDev,
			GenMaxAttempts:            defaultGenMaxAttempts,
			PregenCount:               defaultPregenCount,
			GenMaxParallelism:         defaultGenMaxParallelism,
			ServeTimeoutSeconds:       defaultServeTimeout,
			WaitForReady:              false,
		},
		Episodes: Episodes{
			AllowMissing:      true,
			SearchRecursively: false,
			ProbeConcurrency:  defaultProbeConcurrency,
			VideoExtensions:   defaultVideoExtensions(),
		},
		TTL: TTL{
			FrameExpirySeconds:     defaultFrameExpiry,
			AnswerExpirySeconds:    defaultAnswerExpiry,
			RunExpirySeconds:       defaultRunExpiry,
			CleanupIntervalSeconds: defaultCleanupInterval,
		},
		RunVerification: RunVerification{
			RetentionThreshold: defaultRetentionThreshold,
		},
		DurationCache: DurationCache{
			Enabled: true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
