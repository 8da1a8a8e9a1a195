package version

import (
	"runtime"
	"runtime/debug"
)

// Set at build time with -ldflags "-X invasion-viewer/version.BuildVersion=...".
var (
	BuildVersion = "dev"
	GitSHA       = ""
	BuildTime    = ""
)

type Info struct {
	Service   string `json:"service"`
	Version   string `json:"version"`
	GitSHA    string `json:"git_sha,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
	GoVersion string `json:"go_version"`
}

func Get(service string) Info {
	gitSHA, buildTime := GitSHA, BuildTime
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			switch {
			case s.Key == "vcs.revision" && gitSHA == "":
				gitSHA = s.Value
			case s.Key == "vcs.time" && buildTime == "":
				buildTime = s.Value
			}
		}
	}
	return Info{
		Service:   service,
		Version:   BuildVersion,
		GitSHA:    gitSHA,
		BuildTime: buildTime,
		GoVersion: runtime.Version(),
	}
}
