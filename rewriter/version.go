package rewriter

// Version represents the current semantic version of the answer-rewriter module.
const Version = "0.3.0"

// VersionInfo encapsulates version metadata for the answer-rewriter module.
type VersionInfo struct {
	// Version contains the semantic version string following semver format
	Version string

	// Name contains the canonical module name for identification purposes
	Name string
}

// GetVersion returns structured version information for the answer-rewriter module.
//
// Usage:
//
//	info := GetVersion()
//	slog.Info("starting", "name", info.Name, "version", info.Version)
func GetVersion() VersionInfo {
	return VersionInfo{
		Version: Version,
		Name:    "answer-rewriter",
	}
}
