package build

import "runtime"

// These variables are set at link time via -ldflags. They are empty when the
// binary is built without those flags.
var (
	// Commit is the full git tag + commit string, set via ldflags.
	Commit string

	// CommitHash is the raw VCS commit hash, set via ldflags.
	CommitHash string
)

// GoVersion records the Go toolchain the binary was built with.
var GoVersion = runtime.Version()

// semantic version components of the current release.
const (
	appMajor uint = 0
	appMinor uint = 1
	appPatch uint = 0
)

// Version returns the application version as a properly formed string.
func Version() string {
	return versionString(appMajor, appMinor, appPatch)
}

func versionString(major, minor, patch uint) string {
	const digits = "0123456789"
	itoa := func(n uint) string {
		if n == 0 {
			return "0"
		}
		var buf [20]byte
		i := len(buf)
		for n > 0 {
			i--
			buf[i] = digits[n%10]
			n /= 10
		}
		return string(buf[i:])
	}

	return itoa(major) + "." + itoa(minor) + "." + itoa(patch)
}
