// Package version reports the build's git revision for health endpoints,
// handshake payloads, and log banners.
//
// The commit is resolved once at init: an -ldflags override wins, then the
// vcs.revision embedded by the Go toolchain, then the literal "dev" (test
// binaries, tarball builds).
package version

import "runtime/debug"

// AppName prefixes version strings in handshakes and user agents.
const AppName = "mxf"

// gitCommitOverride is injected with
// -ldflags "-X .../pkg/version.gitCommitOverride=<sha>" for container
// builds that strip the .git directory.
var gitCommitOverride string

// GitCommit is the short (8-char) revision, or "dev" when none is known.
var GitCommit = initGitCommit()

func initGitCommit() string {
	if gitCommitOverride != "" {
		return shorten(gitCommitOverride)
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			return shorten(s.Value)
		}
	}
	return "dev"
}

func shorten(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}

// Full returns "mxf/<commit>".
func Full() string {
	return AppName + "/" + GitCommit
}
