package common

// Version is set at build time via -ldflags "-X .../internal/common.Version=x.y.z".
var Version = "0.1.0-dev"

// GetVersion returns the application version string.
func GetVersion() string {
	return Version
}
