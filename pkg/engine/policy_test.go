package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetdeck/fleetdeck/pkg/policy"
	"github.com/fleetdeck/fleetdeck/pkg/stores"
)

func withPolicies(t *testing.T, f *fixture, extra ...policy.Policy) {
	t.Helper()
	ctx := context.Background()
	e, err := policy.NewEngine(ctx, nil)
	require.NoError(t, err)
	for _, p := range extra {
		require.NoError(t, e.AddPolicy(ctx, p))
	}
	f.syncer.policies = e
}

func TestSyncReportsPolicyWarnings(t *testing.T) {
	f := newFixture(t)
	withPolicies(t, f)
	ctx := context.Background()
	require.NoError(t, f.syncer.Registry().Add(ctx, clusterProvider()))

	report, err := f.syncer.Sync(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, report.Policy)
	assert.True(t, report.Policy.Allowed)
	assert.Empty(t, report.Policy.Warnings)

	f.cluster.objects = clusterObjects(false)
	report, err = f.syncer.Sync(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Instances.Pruned)
	require.Len(t, report.Policy.Warnings, 1)
	assert.Equal(t, "prune-all", report.Policy.Warnings[0].Policy)
}

func TestSyncDeniedByPolicyLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)
	withPolicies(t, f, policy.Policy{
		Name:     "keep-prod",
		Severity: policy.SeverityError,
		Enabled:  true,
		Rego: `package fleetdeck.policies.keep_prod

import rego.v1

deny contains "prod instances are pruned by hand only" if {
	input.provider.group == "prod"
	input.changes.instances.pruned > 0
}`,
	})
	ctx := context.Background()
	require.NoError(t, f.syncer.Registry().Add(ctx, clusterProvider()))

	_, err := f.syncer.Sync(ctx, "p1")
	require.NoError(t, err)
	before := f.state(t)

	f.cluster.objects = clusterObjects(false)
	_, err = f.syncer.Sync(ctx, "p1")
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Contains(t, err.Error(), "policy keep-prod: prod instances are pruned by hand only")

	var se *SyncError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, ErrCodePolicyDenied, se.Code)
	assert.Equal(t, "policy", se.Operation)

	assert.Equal(t, before, f.state(t))
	assert.NotNil(t, f.state(t).Instance("app-abcde"))

	runs, err := f.syncer.History(ctx, "p1", 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, stores.SyncStatusFailed, runs[0].Status)
}
