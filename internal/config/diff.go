package config

// ConfigDiff describes what changed between two configs. Only changes the
// running server can react to are tracked; room credential changes require
// a restart and are surfaced separately so the watcher can warn.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	BackendChanged bool
	QueueChanged   bool

	// RoomCredentialsChanged means the signing key pair differs; minted
	// tokens keep using the old pair until the process restarts.
	RoomCredentialsChanged bool
}

// Empty reports whether nothing tracked by the diff changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.BackendChanged && !d.QueueChanged && !d.RoomCredentialsChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Backend != new.Backend {
		d.BackendChanged = true
	}
	if old.Queue != new.Queue {
		d.QueueChanged = true
	}
	if old.Room.APIKey != new.Room.APIKey || old.Room.APISecret != new.Room.APISecret {
		d.RoomCredentialsChanged = true
	}

	return d
}
