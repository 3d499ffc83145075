// Package common holds process-wide helpers shared by the binaries.
package common

// Version is set at build time with -ldflags "-X github.com/ruteri/tf-state-backend/common.Version=..."
var Version = "dev"

// PackageName is the service name used in logs and metrics.
const PackageName = "tf-state-backend"
