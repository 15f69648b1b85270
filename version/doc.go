// Package version reports the tradeguard build.
//
// Version, commit and build time are stamped at link time and fall back
// to the module's VCS build settings:
//
//	go build -ldflags "-X github.com/kbukum/tradeguard/version.Version=1.4.0" ./cmd/tradeguard
package version
