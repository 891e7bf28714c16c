// Package dockmon provides core application constants and version information
// which are used throughout the application.
package dockmon

import "github.com/blang/semver"

const (
	// Version is the current version of the application.
	Version = "0.4.0"
	// AppName is the name of the application.
	AppName = "dockmon"
)

// MinVersionEngine is the oldest Docker Engine release whose memory
// accounting we understand. Pre 19.03 memory calculation is not supported.
var MinVersionEngine = semver.MustParse("19.3.0")
