// Package version holds build metadata, set at link time with
// -ldflags "-X github.com/banshee-data/facefollow/internal/version.Version=...".
package version

import "fmt"

var (
	Version   = "dev"
	GitSHA    = "unknown"
	BuildTime = "unknown"
)

// String is the one-line form printed by -version and logged at startup.
func String() string {
	return fmt.Sprintf("%s (%s, built %s)", Version, GitSHA, BuildTime)
}
