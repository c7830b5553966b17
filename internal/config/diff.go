package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	MaxBotsPerRoomChanged bool
	NewMaxBotsPerRoom     int

	// RestartRequired lists changed settings that only take effect after a
	// restart (e.g. "server.port").
	RestartRequired []string
}

// Changed reports whether d carries any change.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.MaxBotsPerRoomChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.ControlPlane.MaxBotsPerRoom != new.ControlPlane.MaxBotsPerRoom {
		d.MaxBotsPerRoomChanged = true
		d.NewMaxBotsPerRoom = new.ControlPlane.MaxBotsPerRoom
	}

	if old.Server.Host != new.Server.Host {
		d.RestartRequired = append(d.RestartRequired, "server.host")
	}
	if old.Server.Port != new.Server.Port {
		d.RestartRequired = append(d.RestartRequired, "server.port")
	}
	if old.Rooms.APIURL != new.Rooms.APIURL || old.Rooms.APIKey != new.Rooms.APIKey {
		d.RestartRequired = append(d.RestartRequired, "rooms")
	}
	if old.ControlPlane.WorkerCommand != new.ControlPlane.WorkerCommand {
		d.RestartRequired = append(d.RestartRequired, "controlplane.worker_command")
	}
	return d
}
