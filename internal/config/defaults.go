package config

const (
	defaultDataDir            = "~/.local/share/conveyor/data"
	defaultLogDir             = "~/.local/share/conveyor/logs"
	defaultAPIBind            = "127.0.0.1:7519"
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultMaxConcurrentJobs  = 5
	defaultEventBuffer        = 256
	defaultStaleTempMaxAgeHrs = 72
	defaultMinFreeDiskMB      = 512
	defaultShutdownGraceSecs  = 30
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Workflow: Workflow{
			MaxConcurrentJobs:   defaultMaxConcurrentJobs,
			EventBuffer:         defaultEventBuffer,
			StaleTempMaxAgeHrs:  defaultStaleTempMaxAgeHrs,
			MinFreeDiskMB:       defaultMinFreeDiskMB,
			ShutdownGraceSecond: defaultShutdownGraceSecs,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Stages: map[string]Stage{},
	}
}
