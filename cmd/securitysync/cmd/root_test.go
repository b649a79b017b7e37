package cmd

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/securitysync/internal/app"
)

func TestOutcomePrinter(t *testing.T) {
	fixed := func() time.Time {
		return time.Date(2026, 5, 6, 7, 8, 9, 0, time.FixedZone("CEST", 2*60*60))
	}

	t.Run("quiet by default", func(t *testing.T) {
		flagVerbose = false
		assert.Nil(t, outcomePrinter(&bytes.Buffer{}, "SEC", fixed))
	})

	t.Run("verbose", func(t *testing.T) {
		flagVerbose = true
		t.Cleanup(func() { flagVerbose = false })

		var buf bytes.Buffer
		report := outcomePrinter(&buf, "SEC", fixed)
		require.NotNil(t, report)

		report(app.Outcome{Kind: app.OutcomeCreated, UniqueID: "lodash:4.17.21", TicketKey: "SEC-12"})
		report(app.Outcome{Kind: app.OutcomeWouldCreate, UniqueID: "ws:server:7.4.6"})

		assert.Equal(t,
			"2026-05-06T05:08:09+0000 - SEC - Created issue SEC-12 for lodash:4.17.21.\n"+
				"2026-05-06T05:08:09+0000 - SEC - Would have created an issue for ws:server:7.4.6 if not a dry run.\n",
			buf.String())
	})
}

func TestVersionCommand(t *testing.T) {
	SetVersion("1.4.0")
	t.Cleanup(func() { SetVersion("") })

	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	versionCmd.Run(versionCmd, nil)

	assert.Contains(t, buf.String(), "securitysync version 1.4.0")
}

func TestSyncCommand_InvalidConfig(t *testing.T) {
	t.Setenv("GITHUB_REPOSITORY", "not-a-repo")
	t.Setenv("GH_SECURITY_TOKEN", "")
	t.Setenv("JIRA_HOST", "")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"sync"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}
