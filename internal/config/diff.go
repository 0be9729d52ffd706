package config

import "reflect"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SettingsChanged lists the changed sections that feed
	// [Config.MeetingSettings]. New settings apply to meetings started
	// after the reload; running meetings keep theirs.
	SettingsChanged []string

	// RestartRequired lists changed sections that are only read at startup.
	RestartRequired []string
}

// MeetingSettingsChanged reports whether meetings started from now on
// behave differently.
func (d ConfigDiff) MeetingSettingsChanged() bool { return len(d.SettingsChanged) > 0 }

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	settings := []struct {
		name     string
		old, new any
	}{
		{"meeting", old.Meeting, new.Meeting},
		{"transcription", old.Transcription, new.Transcription},
		{"playback", old.Playback, new.Playback},
		{"gate", old.Gate, new.Gate},
		{"recording", old.Recording, new.Recording},
	}
	for _, s := range settings {
		if !reflect.DeepEqual(s.old, s.new) {
			d.SettingsChanged = append(d.SettingsChanged, s.name)
		}
	}

	startup := []struct {
		name     string
		old, new any
	}{
		{"server.listen_addr", old.Server.ListenAddr, new.Server.ListenAddr},
		{"server.log_format", old.Server.LogFormat, new.Server.LogFormat},
		{"discord", old.Discord, new.Discord},
		{"providers", old.Providers, new.Providers},
		{"archive", old.Archive, new.Archive},
		{"transcripts", old.Transcripts, new.Transcripts},
	}
	for _, s := range startup {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}

	return d
}
