package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covault/station/pkg/config"
	"github.com/covault/station/pkg/contracts"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"STATION_STORE_PATH", "STATION_LOG_LEVEL", "STATION_AUDIT_DRIVER",
		"STATION_DEFAULT_EXPIRY", "STATION_SCHEDULING_INTERVAL",
		"STATION_MAX_EXECUTE_ATTEMPTS", "STATION_TELEMETRY",
	} {
		t.Setenv(key, "")
	}

	cfg := config.Load()
	assert.Equal(t, "station.db", cfg.StorePath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "sqlite", cfg.AuditDriver)
	assert.Equal(t, 7*24*time.Hour, cfg.DefaultExpiry)
	assert.Equal(t, 5*time.Second, cfg.SchedulingInterval)
	assert.Equal(t, 10, cfg.MaxExecuteAttempts)
	assert.False(t, cfg.TelemetryEnabled)
}

func TestLoadOverridesAndBadValues(t *testing.T) {
	t.Setenv("STATION_STORE_PATH", "/var/lib/station/db.sqlite")
	t.Setenv("STATION_DEFAULT_EXPIRY", "48h")
	t.Setenv("STATION_SCHEDULING_INTERVAL", "not-a-duration")
	t.Setenv("STATION_MAX_EXECUTE_ATTEMPTS", "-3")
	t.Setenv("STATION_TELEMETRY", "true")

	cfg := config.Load()
	assert.Equal(t, "/var/lib/station/db.sqlite", cfg.StorePath)
	assert.Equal(t, 48*time.Hour, cfg.DefaultExpiry)
	assert.Equal(t, 5*time.Second, cfg.SchedulingInterval, "unparsable value falls back")
	assert.Equal(t, 10, cfg.MaxExecuteAttempts, "non-positive value falls back")
	assert.True(t, cfg.TelemetryEnabled)
}

const sampleProfile = `
name: default
admin_group: 6f1c2b6e-0000-4000-8000-000000000001
groups:
  - id: 6f1c2b6e-0000-4000-8000-000000000001
    name: admins
users:
  - name: root
    principals: [p-root]
    groups: [6f1c2b6e-0000-4000-8000-000000000001]
named_rules:
  - id: 6f1c2b6e-0000-4000-8000-00000000000a
    name: majority
    criteria:
      kind: APPROVAL_THRESHOLD
      threshold:
        voters: {kind: ANY}
        percentage: 51
policies:
  - id: 6f1c2b6e-0000-4000-8000-00000000000b
    operation_type: TRANSFER
    criteria:
      kind: NAMED_RULE
      rule_id: 6f1c2b6e-0000-4000-8000-00000000000a
`

func TestLoadProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleProfile), 0o600))

	p, err := config.LoadProfile(path)
	require.NoError(t, err)
	assert.Equal(t, "default", p.Name)

	admin, err := p.AdminGroupID()
	require.NoError(t, err)
	assert.NotEqual(t, admin.String(), "00000000-0000-0000-0000-000000000000")

	require.Len(t, p.Rules, 1)
	rule, err := p.Rules[0].NamedRule()
	require.NoError(t, err)
	assert.Equal(t, contracts.CriteriaApprovalThreshold, rule.Criteria.Kind)
	require.NotNil(t, rule.Criteria.Threshold)
	assert.Equal(t, uint8(51), rule.Criteria.Threshold.Percentage)
	assert.Equal(t, contracts.VoterAny, rule.Criteria.Threshold.Voters.Kind)

	require.Len(t, p.Policies, 1)
	pol, err := p.Policies[0].RequestPolicy()
	require.NoError(t, err)
	assert.Equal(t, contracts.OpTransfer, pol.Specifier.OperationType)
	assert.Equal(t, contracts.TargetAny, pol.Specifier.Target.Kind)
	assert.Equal(t, contracts.CriteriaNamedRule, pol.Criteria.Kind)
	require.NotNil(t, pol.Criteria.RuleID)
	assert.Equal(t, rule.ID, *pol.Criteria.RuleID)
}

func TestLoadProfileRejectsBadCriteria(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
policies:
  - id: not-a-uuid
    operation_type: TRANSFER
    criteria: {kind: AUTO_ADOPTED}
`), 0o600))

	p, err := config.LoadProfile(path)
	require.NoError(t, err)
	require.Len(t, p.Policies, 1)
	_, err = p.Policies[0].RequestPolicy()
	assert.Error(t, err)
}
