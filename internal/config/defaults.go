package config

const (
	defaultDataDir             = "~/.local/share/usher"
	defaultLogDir              = "~/.local/share/usher/logs"
	defaultAPIBind             = "127.0.0.1:7910"
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
	defaultPollIntervalSeconds = 30
	defaultInitialDelaySeconds = 10
	defaultHTTPTimeoutSeconds  = 15

	// minPollIntervalSeconds is the floor for the reconciliation cadence.
	minPollIntervalSeconds = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Monitor: Monitor{
			PollIntervalSeconds: defaultPollIntervalSeconds,
			InitialDelaySeconds: defaultInitialDelaySeconds,
			HTTPTimeoutSeconds:  defaultHTTPTimeoutSeconds,
		},
		Notifications: Notifications{
			RequestTimeout: 10,
			Sync:           true,
			Expirations:    true,
			Errors:         true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
