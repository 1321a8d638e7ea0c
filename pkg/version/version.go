package version

import "runtime"

// Set through ldflags at release time:
// -X 'github.com/compozy/agentrix/pkg/version.Version=v0.1.0'
// -X 'github.com/compozy/agentrix/pkg/version.CommitHash=abc123'
// -X 'github.com/compozy/agentrix/pkg/version.BuildDate=2026-01-01T00:00:00Z'
var (
	Version    = "dev"
	CommitHash = "unknown"
	BuildDate  = "unknown"
)

// Info is the build information reported by the health endpoint and the CLI.
type Info struct {
	Version    string `json:"version"`
	CommitHash string `json:"commitHash"`
	BuildDate  string `json:"buildDate"`
	GoVersion  string `json:"goVersion"`
}

func Get() Info {
	return Info{
		Version:    Version,
		CommitHash: CommitHash,
		BuildDate:  BuildDate,
		GoVersion:  runtime.Version(),
	}
}

// String renders the one-line form used by `agentrix --version`.
func (i Info) String() string {
	return i.Version + " (" + i.CommitHash + ", built " + i.BuildDate + ", " + i.GoVersion + ")"
}
