// Package version provides the identification this client presents to peers and writes into the
// torrents it creates.
package version

import (
	"fmt"
	"runtime/debug"
)

const modulePath = "github.com/peershare/torrent"

var (
	// Prefix of generated peer IDs. Update it when client behaviour changes in a way peers could
	// care about.
	DefaultPeerIDPrefix = Fingerprint("PS", 0, 1, 0, 0)
	// Used for the "created by" field of new torrents.
	DefaultCreatedBy string
)

func init() {
	moduleVersion := "unknown"
	if buildInfo, ok := debug.ReadBuildInfo(); ok {
		// The main module reports "(devel)" when built from a checkout.
		for _, dep := range append(buildInfo.Deps, &buildInfo.Main) {
			if dep.Path == modulePath {
				moduleVersion = dep.Version
			}
		}
	}
	DefaultCreatedBy = fmt.Sprintf("peershare/torrent %v", moduleVersion)
}
