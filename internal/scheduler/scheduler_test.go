package scheduler

import (
	"binance-trade-bot-go/internal/metrics"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockRunner blocks every run until release is signalled.
type mockRunner struct {
	sync.Mutex
	name    string
	runs    int
	active  int
	overlap bool
	err     error
	started chan struct{}
	release chan struct{}
}

func newMockRunner(name string) *mockRunner {
	return &mockRunner{
		name:    name,
		started: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
}

func (r *mockRunner) Name() string { return r.name }

func (r *mockRunner) Run(ctx context.Context) error {
	r.Lock()
	r.runs++
	r.active++
	if r.active > 1 {
		r.overlap = true
	}
	err := r.err
	r.Unlock()

	r.started <- struct{}{}
	select {
	case <-r.release:
	case <-ctx.Done():
	}

	r.Lock()
	r.active--
	r.Unlock()
	return err
}

func (r *mockRunner) getRuns() int {
	r.Lock()
	defer r.Unlock()
	return r.runs
}

func (r *mockRunner) hadOverlap() bool {
	r.Lock()
	defer r.Unlock()
	return r.overlap
}

func waitStarted(t *testing.T, r *mockRunner) {
	t.Helper()
	select {
	case <-r.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("job %s did not start", r.name)
	}
}

func TestScheduler_RunsImmediatelyAndDropsOverlappingTicks(t *testing.T) {
	mt := metrics.New()
	s := New(mt, zap.NewNop())
	r := newMockRunner("grid")
	require.NoError(t, s.Add(r, time.Hour))

	s.Start(context.Background())
	defer s.Stop()
	waitStarted(t, r)

	// 第一次运行还未结束: 一个触发排队，其余被丢弃
	assert.True(t, s.Trigger("grid"))
	assert.False(t, s.Trigger("grid"))
	assert.False(t, s.Trigger("grid"))
	assert.Equal(t, 2.0, testutil.ToFloat64(mt.JobSkippedTotal.WithLabelValues("grid")))

	r.release <- struct{}{}
	waitStarted(t, r)
	r.release <- struct{}{}

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(mt.JobRunsTotal.WithLabelValues("grid", "ok")) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, r.getRuns())
	assert.False(t, r.hadOverlap())
}

func TestScheduler_JobsAreIndependent(t *testing.T) {
	s := New(nil, zap.NewNop())
	slow := newMockRunner("collective")
	fast := newMockRunner("mint")
	require.NoError(t, s.Add(slow, time.Hour))
	require.NoError(t, s.Add(fast, time.Hour))
	assert.Equal(t, []string{"collective", "mint"}, s.Jobs())

	s.Start(context.Background())
	defer s.Stop()

	waitStarted(t, slow)
	waitStarted(t, fast)
	fast.release <- struct{}{}

	// slow 仍在运行, 不影响 mint 的下一次运行
	assert.True(t, s.Trigger("mint"))
	waitStarted(t, fast)
	fast.release <- struct{}{}
	slow.release <- struct{}{}
}

func TestScheduler_RecordsFailures(t *testing.T) {
	mt := metrics.New()
	s := New(mt, zap.NewNop())
	r := newMockRunner("splitshort")
	r.err = errors.New("load failed")
	require.NoError(t, s.Add(r, 30*time.Second))

	s.Start(context.Background())
	waitStarted(t, r)
	r.release <- struct{}{}

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(mt.JobRunsTotal.WithLabelValues("splitshort", "error")) == 1
	}, 2*time.Second, 10*time.Millisecond)
	s.Stop()
}

func TestScheduler_StopCancelsRunningJobs(t *testing.T) {
	s := New(nil, zap.NewNop())
	r := newMockRunner("grid")
	require.NoError(t, s.Add(r, time.Hour))

	s.Start(context.Background())
	waitStarted(t, r)

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return while a job was running")
	}
}

func TestScheduler_AddValidation(t *testing.T) {
	s := New(nil, zap.NewNop())
	require.NoError(t, s.Add(newMockRunner("grid"), 0))
	assert.Error(t, s.Add(newMockRunner("grid"), time.Second))
	assert.False(t, s.Trigger("unknown"))

	s.Start(context.Background())
	defer s.Stop()
	assert.Error(t, s.Add(newMockRunner("mint"), time.Second))
}
