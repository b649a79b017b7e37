package finding

import (
	"path"
	"strings"
	"unicode"
)

// DeriveUniqueID computes the stable key of a finding.
//
// The key is the package name, the manifest directory (omitted for the
// repository root) and the fix version, joined with ":". When no fix version is
// known the advisory identifier takes its place, so unrelated unfixed
// vulnerabilities of the same package do not share a ticket. Whitespace is
// replaced with "_" because the key is also used as a tracker label.
func DeriveUniqueID(pkg, manifestPath, fixVersion, sourceID string) string {
	parts := []string{pkg}
	if !IsRootManifest(manifestPath) {
		parts = append(parts, manifestPath)
	}

	identifier := fixVersion
	if identifier == "" {
		identifier = sourceID
	}
	parts = append(parts, identifier)

	return replaceWhitespace(strings.Join(parts, ":"), '_')
}

// IsRootManifest reports whether a manifest directory denotes the repository root.
func IsRootManifest(dir string) bool {
	return dir == "" || dir == RootManifestPath
}

// ManifestDir reduces a manifest file path to its directory component.
// "package.json" and "" both yield ".".
func ManifestDir(manifestPath string) string {
	return path.Dir(strings.TrimPrefix(manifestPath, "/"))
}

func replaceWhitespace(s string, r rune) string {
	return strings.Map(func(c rune) rune {
		if unicode.IsSpace(c) {
			return r
		}
		return c
	}, s)
}
