package build

import "github.com/btcsuite/btclog"

// ParseLevel maps a level name ("trace", "debug", "info", "warn", "error",
// "critical", "off") to its btclog level. The second return reports whether
// the name was recognized.
func ParseLevel(name string) (btclog.Level, bool) {
	return btclog.LevelFromString(name)
}
