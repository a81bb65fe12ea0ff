// Package version carries the launcher's build identity, injected at
// link time via -ldflags.
package version

import "fmt"

var (
	// Number is the semantic version, overridden by the release build.
	Number = "0.0.0-dev"
	// Commit is the short git hash of the build.
	Commit = ""
	// Date is the build date in ISO 8601.
	Date = ""
)

// String formats the full build identity for the version command.
func String() string {
	out := Number
	if Commit != "" {
		out += "+" + Commit
	}
	if Date != "" {
		out = fmt.Sprintf("%s (built %s)", out, Date)
	}
	return out
}
