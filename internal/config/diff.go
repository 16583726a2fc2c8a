package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; connection
// settings (broker, database, analyzer credentials) require a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// AnalysisChanged is true if any analysis tuning field changed.
	AnalysisChanged bool
	NewAnalysis     AnalysisConfig

	// FilesChanged is true if the file lifecycle timings changed.
	FilesChanged bool
	NewFiles     FilesConfig
}

// Any reports whether the diff contains any change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.AnalysisChanged || d.FilesChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Analysis != new.Analysis {
		d.AnalysisChanged = true
		d.NewAnalysis = new.Analysis
	}

	if old.Files != new.Files {
		d.FilesChanged = true
		d.NewFiles = new.Files
	}

	return d
}
