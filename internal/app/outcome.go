package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/openctemio/securitysync/pkg/domain/finding"
)

// ErrFindingsFailed is returned by Report.Err when at least one ticket could
// not be created.
var ErrFindingsFailed = errors.New("ticket creation failed")

// OutcomeKind is the action taken for one finding.
type OutcomeKind string

const (
	OutcomeCovered     OutcomeKind = "covered"
	OutcomeCreated     OutcomeKind = "created"
	OutcomeWouldCreate OutcomeKind = "would_create"
	OutcomeFailed      OutcomeKind = "failed"
)

// String returns the string representation of the outcome kind.
func (k OutcomeKind) String() string {
	return string(k)
}

// Outcome is the result of reconciling one finding.
type Outcome struct {
	Kind      OutcomeKind
	Source    finding.Kind
	UniqueID  string
	TicketKey string // existing or created ticket, empty otherwise
	Reason    string // failure reason
}

// Message renders the outcome as one operator-facing line.
func (o Outcome) Message() string {
	switch o.Kind {
	case OutcomeCovered:
		return fmt.Sprintf("Existing issue %s covers %s.", o.TicketKey, o.UniqueID)
	case OutcomeCreated:
		return fmt.Sprintf("Created issue %s for %s.", o.TicketKey, o.UniqueID)
	case OutcomeWouldCreate:
		return fmt.Sprintf("Would have created an issue for %s if not a dry run.", o.UniqueID)
	case OutcomeFailed:
		return fmt.Sprintf("Could not create issue for %s: %s", o.UniqueID, o.Reason)
	default:
		return fmt.Sprintf("Unknown outcome %q for %s.", o.Kind, o.UniqueID)
	}
}

// Report collects the outcomes of one run.
type Report struct {
	RunID      string
	DryRun     bool
	StartedAt  time.Time
	FinishedAt time.Time
	Outcomes   []Outcome

	// Skipped counts findings whose unique id was already handled
	// earlier in the run.
	Skipped int
}

// Add appends an outcome.
func (r *Report) Add(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
}

// Count returns the number of outcomes of the given kind.
func (r *Report) Count(kind OutcomeKind) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Kind == kind {
			n++
		}
	}
	return n
}

// Failures returns the failed outcomes.
func (r *Report) Failures() []Outcome {
	var failed []Outcome
	for _, o := range r.Outcomes {
		if o.Kind == OutcomeFailed {
			failed = append(failed, o)
		}
	}
	return failed
}

// Duration returns how long the run took.
func (r *Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Err returns ErrFindingsFailed, wrapped with a count, when any finding failed.
func (r *Report) Err() error {
	failed := r.Count(OutcomeFailed)
	if failed == 0 {
		return nil
	}
	return fmt.Errorf("%d of %d findings: %w", failed, len(r.Outcomes), ErrFindingsFailed)
}
