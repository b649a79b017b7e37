package finding

import (
	"regexp"
)

// NormalizeOptions carries the run-wide values every finding is stamped with.
type NormalizeOptions struct {
	Repository    string // owner/name
	RepositoryURL string // web URL of the repository, defaults to github.com
	ExtraLabels   []string
}

// Record is a raw source record that can be normalized into a Finding.
// It is implemented by AlertRecord and PullRequestRecord only.
type Record interface {
	Normalize(opts NormalizeOptions) Finding
	Kind() Kind
	isRecord()
}

// =============================================================================
// Vulnerability alerts
// =============================================================================

// AlertRecord is a vulnerability alert node as returned by the GitHub GraphQL API.
type AlertRecord struct {
	SecurityVulnerability      SecurityVulnerability `json:"securityVulnerability"`
	VulnerableManifestPath     string                `json:"vulnerableManifestPath"`
	VulnerableManifestFilename string                `json:"vulnerableManifestFilename"`
	VulnerableRequirements     string                `json:"vulnerableRequirements"`
}

// SecurityVulnerability describes the vulnerable package and its advisory.
type SecurityVulnerability struct {
	Package                AlertPackage    `json:"package"`
	Severity               string          `json:"severity"`
	VulnerableVersionRange string          `json:"vulnerableVersionRange"`
	FirstPatchedVersion    *PatchedVersion `json:"firstPatchedVersion"`
	Advisory               Advisory        `json:"advisory"`
}

// AlertPackage names the vulnerable package.
type AlertPackage struct {
	Name      string `json:"name"`
	Ecosystem string `json:"ecosystem"`
}

// PatchedVersion is the first version that fixes the vulnerability.
type PatchedVersion struct {
	Identifier string `json:"identifier"`
}

// Advisory is the security advisory behind an alert.
// References are kept loose so entries without a string url can be detected.
type Advisory struct {
	Description string               `json:"description"`
	Summary     string               `json:"summary"`
	Severity    string               `json:"severity"`
	Identifiers []AdvisoryIdentifier `json:"identifiers"`
	References  []map[string]any     `json:"references"`
}

// AdvisoryIdentifier is one identifier of an advisory, e.g. GHSA or CVE.
type AdvisoryIdentifier struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Kind implements Record.
func (AlertRecord) Kind() Kind { return KindAlert }

func (AlertRecord) isRecord() {}

// Normalize implements Record.
func (a AlertRecord) Normalize(opts NormalizeOptions) Finding {
	vuln := a.SecurityVulnerability

	var fix string
	if vuln.FirstPatchedVersion != nil {
		fix = vuln.FirstPatchedVersion.Identifier
	}

	severity := vuln.Severity
	if severity == "" {
		severity = vuln.Advisory.Severity
	}

	return Finding{
		Kind:            KindAlert,
		Repository:      opts.Repository,
		RepositoryURL:   opts.RepositoryURL,
		Package:         vuln.Package.Name,
		Ecosystem:       vuln.Package.Ecosystem,
		Severity:        severity,
		VulnerableRange: vuln.VulnerableVersionRange,
		FixVersion:      fix,
		ManifestPath:    ManifestDir(a.VulnerableManifestPath),
		References:      referenceURLs(vuln.Advisory.References),
		Description:     vuln.Advisory.Description,
		SourceID:        advisoryID(vuln.Advisory.Identifiers),
		ExtraLabels:     opts.ExtraLabels,
	}
}

// referenceURLs keeps the entries that carry a string url, in order.
func referenceURLs(refs []map[string]any) []string {
	urls := make([]string, 0, len(refs))
	for _, ref := range refs {
		u, ok := ref["url"].(string)
		if !ok {
			continue
		}
		urls = append(urls, u)
	}
	return urls
}

// advisoryID prefers the GHSA identifier, then CVE, then whatever comes first.
func advisoryID(ids []AdvisoryIdentifier) string {
	for _, want := range []string{"GHSA", "CVE"} {
		for _, id := range ids {
			if id.Type == want && id.Value != "" {
				return id.Value
			}
		}
	}
	for _, id := range ids {
		if id.Value != "" {
			return id.Value
		}
	}
	return ""
}

// =============================================================================
// Dependency-update pull requests
// =============================================================================

var (
	prPackagePattern  = regexp.MustCompile(`^.*Bump (.*) from.*$`)
	prManifestPattern = regexp.MustCompile(`^.* in /(.*)$`)
	prVersionPattern  = regexp.MustCompile(`^.*to ([^ ]+).*$`)
)

// PullRequestRecord is a dependency-bump pull request found by the search API.
type PullRequestRecord struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	URL    string `json:"url"`
}

// Kind implements Record.
func (PullRequestRecord) Kind() Kind { return KindPullRequest }

func (PullRequestRecord) isRecord() {}

// Normalize implements Record. Title fragments that cannot be found are left
// empty; the finding is still usable, just with a degraded identity.
func (p PullRequestRecord) Normalize(opts NormalizeOptions) Finding {
	return Finding{
		Kind:          KindPullRequest,
		Repository:    opts.Repository,
		RepositoryURL: opts.RepositoryURL,
		Package:       submatch(prPackagePattern, p.Title),
		FixVersion:    submatch(prVersionPattern, p.Title),
		ManifestPath:  submatch(prManifestPattern, p.Title),
		References:    []string{},
		ExtraLabels:   opts.ExtraLabels,
		PullRequest:   &PullRequestRef{Number: p.Number, URL: p.URL},
	}
}

// Misses lists the title fragments that could not be extracted.
func (p PullRequestRecord) Misses() []string {
	var misses []string
	if !prPackagePattern.MatchString(p.Title) {
		misses = append(misses, "package")
	}
	if !prVersionPattern.MatchString(p.Title) {
		misses = append(misses, "version")
	}
	return misses
}

func submatch(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}
