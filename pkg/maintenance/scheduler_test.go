package maintenance

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatekeeper/pkg/config"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func TestScheduler_AddAndRunNow(t *testing.T) {
	s := NewScheduler(testLogger(), time.Second)

	runs := 0
	require.NoError(t, s.Add("count", "@every 1h", func(ctx context.Context) error {
		runs++
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		return nil
	}))

	assert.Error(t, s.Add("count", "@every 1h", func(context.Context) error { return nil }), "duplicate name")
	assert.Error(t, s.Add("bad", "not a schedule", func(context.Context) error { return nil }))

	require.NoError(t, s.RunNow(context.Background(), "count"))
	assert.Equal(t, 1, runs)
	assert.Equal(t, []string{"count"}, s.Jobs())

	assert.Error(t, s.RunNow(context.Background(), "missing"))
}

func TestScheduler_RunNowReportsFailuresAndPanics(t *testing.T) {
	s := NewScheduler(testLogger(), time.Second)
	require.NoError(t, s.Add("fail", "", func(context.Context) error { return assert.AnError }))
	require.NoError(t, s.Add("panic", "", func(context.Context) error { panic("boom") }))

	assert.ErrorIs(t, s.RunNow(context.Background(), "fail"), assert.AnError)
	assert.Error(t, s.RunNow(context.Background(), "panic"))
}

func TestScheduler_StartStop(t *testing.T) {
	s := NewScheduler(testLogger(), time.Second)
	require.NoError(t, s.Add("noop", "@every 1h", func(context.Context) error { return nil }))
	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}

type fakeDeps struct {
	purged, swept int64
	archived      int
	removed       int
	reported      int
	archiveErr    error
}

func (f *fakeDeps) PurgeResets(context.Context) (int64, error)  { return f.purged, nil }
func (f *fakeDeps) SweepExpired(context.Context) (int64, error) { return f.swept, nil }
func (f *fakeDeps) ArchivePreviousDay(context.Context) error {
	f.archived++
	return f.archiveErr
}
func (f *fakeDeps) RemoveUnhealthyReplicas(context.Context) int { return f.removed }
func (f *fakeDeps) ReportStats(*observability.Metrics)          { f.reported++ }

func TestRegisterJobs(t *testing.T) {
	fake := &fakeDeps{purged: 2, swept: 3, removed: 1}
	metrics := observability.NewNopMetrics()
	cfg := config.MaintenanceConfig{
		ResetPurgeSchedule:   "@every 1h",
		SessionSweepSchedule: "@every 1h",
		DBHealthSchedule:     "@every 1m",
		ArchiveEnabled:       false,
		ArchiveSchedule:      "15 0 * * *",
	}

	s := NewScheduler(testLogger(), time.Second)
	require.NoError(t, RegisterJobs(s, cfg, Dependencies{
		Resets:   fake,
		Sessions: fake,
		Archiver: fake,
		Pool:     fake,
		Metrics:  metrics,
		Logger:   testLogger(),
	}))

	assert.ElementsMatch(t, []string{JobPurgeResets, JobSweepSessions, JobArchiveAudit, JobDBHealth}, s.Jobs())

	ctx := context.Background()
	require.NoError(t, s.RunNow(ctx, JobSweepSessions))
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.SessionsSweptTotal))

	require.NoError(t, s.RunNow(ctx, JobPurgeResets))
	require.NoError(t, s.RunNow(ctx, JobDBHealth))
	assert.Equal(t, 1, fake.reported)

	require.NoError(t, s.RunNow(ctx, JobArchiveAudit), "archive stays runnable by hand when unscheduled")
	assert.Equal(t, 1, fake.archived)

	fake.archiveErr = errors.New("s3 down")
	assert.Error(t, s.RunNow(ctx, JobArchiveAudit))
}

func TestRegisterJobs_OptionalDependencies(t *testing.T) {
	fake := &fakeDeps{}
	s := NewScheduler(testLogger(), time.Second)
	require.NoError(t, RegisterJobs(s, config.MaintenanceConfig{
		ResetPurgeSchedule:   "@every 1h",
		SessionSweepSchedule: "@every 1h",
	}, Dependencies{Resets: fake, Sessions: fake, Metrics: observability.NewNopMetrics(), Logger: testLogger()}))

	assert.Equal(t, []string{JobPurgeResets, JobSweepSessions}, s.Jobs())
}
