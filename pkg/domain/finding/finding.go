// Package finding provides the canonical, source-agnostic representation of a
// security finding and the rules that derive its identity and ticket content.
package finding

import (
	"strings"
)

// Kind identifies which source record a finding was normalized from.
type Kind string

const (
	KindAlert       Kind = "alert"
	KindPullRequest Kind = "pull_request"
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	return string(k)
}

// NoFixLabel is rendered wherever a fix version is unknown.
const NoFixLabel = "no fix"

// RootManifestPath marks a manifest living at the repository root.
const RootManifestPath = "."

// PullRequestRef points at the pull request a finding was derived from.
type PullRequestRef struct {
	Number int
	URL    string
}

// Finding is one vulnerability/fix pairing, independent of the record it came from.
type Finding struct {
	Kind            Kind
	Repository      string // owner/name
	RepositoryURL   string
	Package         string
	Ecosystem       string
	Severity        string
	VulnerableRange string
	FixVersion      string // empty when no fix is known
	ManifestPath    string // directory only, "." for the repository root
	References      []string
	Description     string
	SourceID        string // advisory identifier, used when FixVersion is empty
	ExtraLabels     []string
	PullRequest     *PullRequestRef
}

// HasFix reports whether a fix version is known.
func (f Finding) HasFix() bool {
	return f.FixVersion != ""
}

// FixLabel returns the fix version or the "no fix" sentinel.
func (f Finding) FixLabel() string {
	if f.HasFix() {
		return f.FixVersion
	}
	return NoFixLabel
}

// UniqueID returns the deduplication key of the finding.
func (f Finding) UniqueID() string {
	return DeriveUniqueID(f.Package, f.ManifestPath, f.FixVersion, f.SourceID)
}

// Summary returns the ticket summary. When withSeverity is set and the severity
// is known it is appended.
func (f Finding) Summary(withSeverity bool) string {
	summary := f.Package + " (" + f.FixLabel() + ")"
	if withSeverity && f.Severity != "" {
		summary += " - " + f.Severity
	}
	return summary
}

// Labels returns the tracker labels: repository, unique id, then extra labels.
// Duplicates and blanks are dropped, first occurrence wins.
func (f Finding) Labels() []string {
	candidates := make([]string, 0, 2+len(f.ExtraLabels))
	candidates = append(candidates, f.Repository, f.UniqueID())
	candidates = append(candidates, f.ExtraLabels...)

	seen := make(map[string]struct{}, len(candidates))
	labels := make([]string, 0, len(candidates))
	for _, l := range candidates {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		labels = append(labels, l)
	}
	return labels
}

// ParseLabelList splits a comma separated label list, trimming each entry and
// dropping empties.
func ParseLabelList(s string) []string {
	labels := make([]string, 0)
	for _, p := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			labels = append(labels, trimmed)
		}
	}
	return labels
}
