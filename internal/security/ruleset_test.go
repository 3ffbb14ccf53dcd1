package security

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRuleOverridesMissingPathIsNotAnError(t *testing.T) {
	overrides, err := LoadRuleOverrides("")
	require.NoError(t, err)
	assert.Nil(t, overrides)

	overrides, err = LoadRuleOverrides(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Nil(t, overrides)
}

func TestAuditAppliesRuleOverrideSeverity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overrides.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"Dangerous transfer() Usage:\n  severity: Critical\n",
	), 0o644))

	a := New(nil, nil)
	require.NoError(t, a.LoadOverrides(path))

	report, _, err := a.Audit(context.Background(), `function f() external { msg.sender.transfer(1); }`, Options{
		Depth: DepthComprehensive, SeverityFloor: SeverityInfo,
	})
	require.NoError(t, err)

	var found bool
	for _, iss := range report.Issues {
		if iss.Title == "Dangerous transfer() Usage" {
			found = true
			assert.Equal(t, SeverityCritical, iss.Severity)
		}
	}
	assert.True(t, found, "expected the transfer() rule to still fire under its overridden severity")
}
