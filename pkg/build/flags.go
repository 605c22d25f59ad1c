// SPDX-License-Identifier: MIT
//
// Package build carries the metadata embedded into the moodtap binary at
// compile time with linker flags, for example:
//
//	go build -ldflags "-X moodtap/pkg/build.buildName=moodtap -X moodtap/pkg/build.buildVersion=0.3.0"
//
// Development builds run without the flags and report "unknown" fields.
package build

import (
	"errors"
	"fmt"
)

// DefaultName is reported when no name was embedded.
const DefaultName = "moodtap"

// Description is the one-line summary shown by the CLI.
const Description = "Mood detection for audio files and live input"

// Info is the embedded build metadata.
type Info struct {
	Name    string
	Time    string
	Commit  string
	Version string
}

// String formats the version line printed by the CLI.
func (i Info) String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", i.Name, i.Version, i.Commit, i.Time)
}

// Package-level variables for build information. These are populated by -ldflags
// during compilation.
var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
	buildFlags   = defaultInfo()
)

func defaultInfo() *Info {
	return &Info{
		Name:    DefaultName,
		Time:    "unknown",
		Commit:  "unknown",
		Version: "unknown",
	}
}

// Initialize validates and copies build information from ldflags variables.
// On error the defaults stay in place, so callers may treat a failure as a
// development build and continue.
func Initialize() error {
	var errs []error
	if buildName == "" {
		errs = append(errs, errors.New("BuildName is required"))
	}
	if buildTime == "" {
		errs = append(errs, errors.New("BuildTime is required"))
	}
	if buildCommit == "" {
		errs = append(errs, errors.New("BuildCommit is required"))
	}
	if buildVersion == "" {
		errs = append(errs, errors.New("BuildVersion is required"))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	buildFlags.Name = buildName
	buildFlags.Time = buildTime
	buildFlags.Commit = buildCommit
	buildFlags.Version = buildVersion

	return nil
}

// GetBuildFlags returns the current build information.
func GetBuildFlags() *Info {
	return buildFlags
}
