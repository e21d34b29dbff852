package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Set at build time:
//
//	go build -ldflags="-X github.com/waterctl/waterctl/internal/version.Version=v0.3.0 \
//	                   -X github.com/waterctl/waterctl/internal/version.Commit=abc1234"
//
// Unset values are filled from the embedded build info.
var (
	// Version is the semantic version of waterctl
	Version = ""
	// Commit is the short git commit hash
	Commit = ""
	// Date is the commit or build date (YYYY-MM-DD)
	Date = ""
)

func init() {
	if info, ok := debug.ReadBuildInfo(); ok {
		fill(info)
	}
	if Version == "" {
		Version = "dev"
	}
	if Commit == "" {
		Commit = "unknown"
	}
}

// fill takes missing values from build info. A module version wins when
// waterctl was installed with go install; otherwise VCS stamps are used.
func fill(info *debug.BuildInfo) {
	if Version == "" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		Version = info.Main.Version
	}

	var revision, modified, vcsTime string
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			modified = setting.Value
		case "vcs.time":
			vcsTime = setting.Value
		}
	}

	if Commit == "" && revision != "" {
		Commit = revision
		if len(Commit) > 7 {
			Commit = Commit[:7]
		}
		if modified == "true" {
			Commit += "-dirty"
		}
	}
	if Date == "" && len(vcsTime) >= len("2006-01-02") {
		Date = vcsTime[:len("2006-01-02")]
	}
}

// Info is the version report printed by "waterctl version"
type Info struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	Date      string `json:"date,omitempty" yaml:"date,omitempty"`
	GoVersion string `json:"go" yaml:"go"`
	Platform  string `json:"platform" yaml:"platform"`
}

// Get returns the version report
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// Full returns the full version string including commit
func Full() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (commit: %s", Version, Commit)
	if Date != "" {
		fmt.Fprintf(&b, ", %s", Date)
	}
	b.WriteString(")")
	return b.String()
}
