package internal

import (
	"fmt"
	"runtime"
)

// Version is the current version of studyhub.
// This should be updated with each release
const Version = "0.3.0"

// VersionString is what `studyhub version` prints.
func VersionString() string {
	return fmt.Sprintf("studyhub v%s (%s/%s, %s)", Version, runtime.GOOS, runtime.GOARCH, runtime.Version())
}
