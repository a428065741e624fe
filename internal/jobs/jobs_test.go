package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSweeper struct {
	calls atomic.Int32
	err   error
}

func (f *fakeSweeper) Sweep(context.Context) (int64, error) {
	f.calls.Add(1)
	return 3, f.err
}

type jobRun struct {
	job string
	err error
}

type recorder struct{ runs []jobRun }

func (r *recorder) RecordResolution(context.Context, string, string) {}
func (r *recorder) RecordInvitation(context.Context, string)         {}
func (r *recorder) RecordJobRun(_ context.Context, job string, _ time.Duration, err error) {
	r.runs = append(r.runs, jobRun{job, err})
}

// TestPurpose: Validates a one-off job run.
// Scope: Unit Test
// Expected: The sweep runs once and its outcome is recorded, including failures.
// Test Case ID: JOB-01
func TestScheduler_RunNow(t *testing.T) {
	rec := &recorder{}
	s := NewScheduler(rec, time.Second)
	sweeper := &fakeSweeper{}
	job := NewInvitationSweep(sweeper)

	require.NoError(t, s.RunNow(context.Background(), job))
	sweeper.err = errors.New("database is read-only")
	assert.Error(t, s.RunNow(context.Background(), job))

	assert.Equal(t, int32(2), sweeper.calls.Load())
	require.Len(t, rec.runs, 2)
	assert.Equal(t, "invitation_sweep", rec.runs[0].job)
	assert.NoError(t, rec.runs[0].err)
	assert.Error(t, rec.runs[1].err)
}

// TestPurpose: Validates scheduling.
// Scope: Unit Test
// Expected: Invalid specs are rejected; a scheduled job fires and the scheduler stops cleanly.
// Test Case ID: JOB-02
func TestScheduler_Schedule(t *testing.T) {
	s := NewScheduler(nil, time.Second)
	sweeper := &fakeSweeper{}

	assert.Error(t, s.Add("every now and then", NewInvitationSweep(sweeper)))
	require.NoError(t, s.Add("@every 1s", NewInvitationSweep(sweeper)))

	s.Start()
	assert.Eventually(t, func() bool { return sweeper.calls.Load() > 0 }, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}
