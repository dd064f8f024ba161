package cron

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/rentflow-backend/pkg/logger"
	"github.com/angelmondragon/rentflow-backend/pkg/metrics"
)

type fakeLock struct {
	mu       sync.Mutex
	acquired bool
	deny     bool
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.acquired || f.deny {
		return false, nil
	}
	f.acquired = true
	return true, nil
}

func (f *fakeLock) Release(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquired = false
	return nil
}

type testJob struct {
	mu   sync.Mutex
	name string
	err  error
	runs int
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runs++
	return t.err
}

func (t *testJob) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runs
}

func newTestService(t *testing.T, lock Lock, reg prometheus.Registerer, interval time.Duration, jobs ...Job) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard}),
		Registry: NewRegistry(jobs...),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(reg),
		Interval: interval,
	})
	require.NoError(t, err)
	return svc
}

func TestServiceRunCycleRunsAllJobsEvenOnFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	success := &testJob{name: "success"}
	failure := &testJob{name: "fail", err: errors.New("boom")}
	svc := newTestService(t, &fakeLock{}, reg, 0, success, failure)

	require.NoError(t, svc.runCycle(context.Background()))
	assert.Equal(t, 1, success.count())
	assert.Equal(t, 1, failure.count())

	count, err := testutil.GatherAndCount(reg, "rentflow_cron_job_failure_total", "rentflow_cron_job_success_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestServiceRunCycleSkipsWithoutLock(t *testing.T) {
	job := &testJob{name: "offer-expiry"}
	svc := newTestService(t, &fakeLock{deny: true}, nil, 0, job)

	require.NoError(t, svc.runCycle(context.Background()))
	assert.Zero(t, job.count())
}

func TestServiceRunTicksUntilCanceled(t *testing.T) {
	job := &testJob{name: "offer-expiry"}
	svc := newTestService(t, &fakeLock{}, nil, time.Second, job)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, func() bool { return job.count() >= 2 }, 5*time.Second, 20*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNewServiceRequiresLock(t *testing.T) {
	_, err := NewService(ServiceParams{Logger: logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard})})
	require.Error(t, err)
}
