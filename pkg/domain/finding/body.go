package finding

import (
	"fmt"
	"strings"

	"github.com/mitchellh/go-wordwrap"
)

// DescriptionWidth is the column at which advisory descriptions are wrapped.
const DescriptionWidth = 100

const defaultRepositoryHost = "https://github.com/"

// Body renders the ticket description in Jira wiki markup. The section order
// is fixed so tickets generated on different runs stay comparable.
func (f Finding) Body() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "- Repository: [%s|%s]\n", f.Repository, f.repositoryURL())

	if f.Ecosystem != "" {
		fmt.Fprintf(&sb, "- Package: %s (%s)\n", f.Package, f.Ecosystem)
	} else {
		fmt.Fprintf(&sb, "- Package: %s\n", f.Package)
	}

	if f.Kind == KindAlert && f.Severity != "" {
		fmt.Fprintf(&sb, "- Severity: %s\n", f.Severity)
	}
	if f.VulnerableRange != "" {
		fmt.Fprintf(&sb, "- Vulnerable version: %s\n", f.VulnerableRange)
	}
	fmt.Fprintf(&sb, "- Secure version: %s\n", f.FixLabel())

	if f.PullRequest != nil {
		fmt.Fprintf(&sb, "- Pull request with more info: [#%d|%s]\n", f.PullRequest.Number, f.PullRequest.URL)
	}

	if len(f.References) > 0 {
		sb.WriteString("- Links:\n")
		for _, ref := range f.References {
			fmt.Fprintf(&sb, "-- %s\n", ref)
		}
	}

	if f.Kind == KindAlert {
		sb.WriteString("\n{noformat}\n")
		sb.WriteString(wordwrap.WrapString(f.Description, DescriptionWidth))
		sb.WriteString("\n{noformat}")
	}

	return strings.TrimRight(sb.String(), "\n")
}

func (f Finding) repositoryURL() string {
	if f.RepositoryURL != "" {
		return f.RepositoryURL
	}
	return defaultRepositoryHost + f.Repository
}
