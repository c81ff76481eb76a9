// Package version identifies the running anonrelay build.
package version

import (
	"cmp"
	"fmt"
	"runtime"
	"runtime/debug"
)

// Stamped by release builds:
//
//	-ldflags "-X github.com/soyeahso/anonrelay/internal/version.Version=v1.0.0
//	  -X github.com/soyeahso/anonrelay/internal/version.Commit=<sha>
//	  -X github.com/soyeahso/anonrelay/internal/version.Date=<rfc3339>"
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

// Build describes the binary. Consoles receive it in the gateway hello.
type Build struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	Date      string `json:"date,omitempty"`
	Modified  bool   `json:"modified,omitempty"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

// readBuildInfo is swapped in tests.
var readBuildInfo = debug.ReadBuildInfo

// Current merges the ldflags stamp with what the toolchain recorded. Stamped
// values win; VCS settings fill the gaps for plain go build / go install.
func Current() Build {
	b := Build{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	info, ok := readBuildInfo()
	if !ok {
		return b
	}
	if b.Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		b.Version = info.Main.Version
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			b.Commit = cmp.Or(b.Commit, s.Value)
		case "vcs.time":
			b.Date = cmp.Or(b.Date, s.Value)
		case "vcs.modified":
			b.Modified = s.Value == "true"
		}
	}
	return b
}

// ShortCommit is the first seven characters of the commit, or "unknown".
func (b Build) ShortCommit() string {
	c := cmp.Or(b.Commit, "unknown")
	if len(c) > 7 {
		c = c[:7]
	}
	if b.Modified {
		c += "+dirty"
	}
	return c
}

// String is the one-line form printed by anonrelay version.
func (b Build) String() string {
	return fmt.Sprintf("anonrelay %s (commit %s, built %s, %s, %s)",
		b.Version, b.ShortCommit(), cmp.Or(b.Date, "unknown"), b.GoVersion, b.Platform)
}
