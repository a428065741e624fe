package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRecorder struct {
	resolutions, invitations, jobs int
}

func (c *countingRecorder) RecordResolution(context.Context, string, string) { c.resolutions++ }
func (c *countingRecorder) RecordInvitation(context.Context, string)         { c.invitations++ }
func (c *countingRecorder) RecordJobRun(context.Context, string, time.Duration, error) {
	c.jobs++
}

// TestPurpose: Validates that resolution and invitation counters are labelled per outcome.
// Scope: Unit Test
// Expected: Counters reflect exactly the recorded events.
// Test Case ID: MET-01
func TestPrometheus_Counters(t *testing.T) {
	p, err := NewPrometheus("tenancy")
	require.NoError(t, err)
	ctx := context.Background()

	p.RecordResolution(ctx, "domain", OutcomeResolved)
	p.RecordResolution(ctx, "domain", OutcomeResolved)
	p.RecordResolution(ctx, "header", OutcomeRejected)
	p.RecordInvitation(ctx, InvitationIssued)
	p.RecordJobRun(ctx, "sweep", time.Millisecond, errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(p.resolutions.WithLabelValues("domain", OutcomeResolved)))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.resolutions.WithLabelValues("header", OutcomeRejected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.invitations.WithLabelValues(InvitationIssued)))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.jobRuns.WithLabelValues("sweep", "error")))
}

// TestPurpose: Validates that the exposition handler serves the tenancy series.
// Scope: Unit Test
// Expected: 200 with the resolutions_total series in the body.
// Test Case ID: MET-02
func TestPrometheus_Handler(t *testing.T) {
	p, err := NewPrometheus("tenancy")
	require.NoError(t, err)
	p.RecordResolution(context.Background(), "subdomain", OutcomeResolved)

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `tenancy_resolutions_total{method="subdomain",outcome="resolved"} 1`)
}

// TestPurpose: Validates fan-out to every recorder.
// Scope: Unit Test
// Expected: Each recorder sees each event once.
// Test Case ID: MET-03
func TestMulti(t *testing.T) {
	a, b := &countingRecorder{}, &countingRecorder{}
	m := Multi{a, b, Nop{}}
	ctx := context.Background()

	m.RecordResolution(ctx, "header", OutcomeResolved)
	m.RecordInvitation(ctx, InvitationRedeemed)
	m.RecordJobRun(ctx, "sweep", time.Second, nil)

	for _, r := range []*countingRecorder{a, b} {
		assert.Equal(t, 1, r.resolutions)
		assert.Equal(t, 1, r.invitations)
		assert.Equal(t, 1, r.jobs)
	}
}

// TestPurpose: Validates that OTel instruments can be created on the global meter.
// Scope: Unit Test
// Expected: No error; recording does not panic.
// Test Case ID: MET-04
func TestOTelRecorder(t *testing.T) {
	m, err := New(context.Background(), Config{Enabled: true}, "tenancy-test")
	require.NoError(t, err)
	r, err := NewOTelRecorder(m)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		r.RecordResolution(context.Background(), "default", OutcomeResolved)
		r.RecordJobRun(context.Background(), "sweep", time.Second, nil)
	})
}
