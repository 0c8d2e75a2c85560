package config

// ConfigDiff describes what changed between two configs.
// Hot-reloadable changes are reported field by field; everything else is
// collected in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// InterviewChanged is true when any interview tunable changed. The new
	// values apply to sessions created after the reload.
	InterviewChanged bool
	NewInterview     InterviewConfig

	// RestartRequired lists dotted config paths that changed but are only
	// read at startup.
	RestartRequired []string
}

// Empty reports whether d carries no changes at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.InterviewChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Interview != new.Interview {
		d.InterviewChanged = true
		d.NewInterview = new.Interview
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Server.SessionIdleTimeout != new.Server.SessionIdleTimeout {
		d.RestartRequired = append(d.RestartRequired, "server.session_idle_timeout")
	}
	if old.Backend != new.Backend {
		d.RestartRequired = append(d.RestartRequired, "backend")
	}
	if old.Store != new.Store {
		d.RestartRequired = append(d.RestartRequired, "store")
	}
	if old.Speech.Name != new.Speech.Name {
		d.RestartRequired = append(d.RestartRequired, "speech.name")
	}

	return d
}
