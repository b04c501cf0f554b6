package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubJob struct {
	name  string
	runs  int32
	err   error
	panic bool
}

func (j *stubJob) Name() string        { return j.name }
func (j *stubJob) Description() string { return "stub " + j.name }
func (j *stubJob) Run(ctx context.Context) error {
	atomic.AddInt32(&j.runs, 1)
	if j.panic {
		panic("kaboom")
	}
	return j.err
}

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	cfg := DefaultSchedulerConfig()
	cfg.MaxHistorySize = 3
	s, err := NewScheduler(cfg)
	require.NoError(t, err)
	return s
}

func TestSchedule_String(t *testing.T) {
	assert.Equal(t, "cron(15 3 * * *)", Cron("15 3 * * *").String())
	assert.Equal(t, "every 1m0s", Every(time.Minute).String())

	_, err := Schedule{}.definition()
	assert.ErrorIs(t, err, ErrInvalidSchedule)
}

func TestScheduler_Register(t *testing.T) {
	s := newTestScheduler(t)
	job := &stubJob{name: "reconcile"}

	require.NoError(t, s.Register(job, Cron("15 3 * * *")))
	assert.ErrorIs(t, s.Register(job, Every(time.Minute)), ErrJobAlreadyExists)
	assert.ErrorIs(t, s.Register(nil, Every(time.Minute)), ErrNilJob)
	assert.ErrorIs(t, s.Register(&stubJob{name: "x"}, Schedule{}), ErrInvalidSchedule)
	assert.Error(t, s.Register(&stubJob{name: "bad"}, Cron("not a cron")))

	jobs := s.ListJobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "reconcile", jobs[0].Name)
	assert.Equal(t, "cron(15 3 * * *)", jobs[0].Schedule)
}

func TestScheduler_RunNow(t *testing.T) {
	s := newTestScheduler(t)
	ok := &stubJob{name: "ok"}
	failing := &stubJob{name: "failing", err: errors.New("store down")}
	panicky := &stubJob{name: "panicky", panic: true}
	for _, j := range []*stubJob{ok, failing, panicky} {
		require.NoError(t, s.Register(j, Every(time.Hour)))
	}
	ctx := context.Background()

	res, err := s.RunNow(ctx, "ok")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Manual)

	res, err = s.RunNow(ctx, "failing")
	assert.Error(t, err)
	assert.False(t, res.Success)

	_, err = s.RunNow(ctx, "panicky")
	assert.ErrorIs(t, err, ErrJobPanicked)

	_, err = s.RunNow(ctx, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	for _, info := range s.ListJobs() {
		assert.Equal(t, int64(1), info.RunCount, info.Name)
		require.NotNil(t, info.LastResult)
	}
}

func TestScheduler_HistoryIsBounded(t *testing.T) {
	s := newTestScheduler(t)
	job := &stubJob{name: "warm"}
	require.NoError(t, s.Register(job, Every(time.Hour)))

	for i := 0; i < 5; i++ {
		_, err := s.RunNow(context.Background(), "warm")
		require.NoError(t, err)
	}

	assert.Len(t, s.GetHistory(0), 3)
	assert.Len(t, s.GetHistory(2), 2)
	assert.Equal(t, int32(5), atomic.LoadInt32(&job.runs))
}

func TestScheduler_Lifecycle(t *testing.T) {
	s := newTestScheduler(t)
	job := &stubJob{name: "tick"}
	require.NoError(t, s.Register(job, Every(20*time.Millisecond)))

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)
	assert.True(t, s.IsRunning())

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&job.runs) > 0 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)
	assert.False(t, s.IsRunning())
}

// ══════════════════════════════════════════════════════════════════════════════
// LOCKER
// ══════════════════════════════════════════════════════════════════════════════

type fakeAcquirer struct {
	held     map[string]string
	released []string
	err      error
}

func (f *fakeAcquirer) TryLock(_ context.Context, resource, owner string, _ time.Duration) (func(context.Context) error, bool, error) {
	if f.err != nil {
		return nil, false, f.err
	}
	if _, ok := f.held[resource]; ok {
		return nil, false, nil
	}
	f.held[resource] = owner
	return func(context.Context) error {
		delete(f.held, resource)
		f.released = append(f.released, resource)
		return nil
	}, true, nil
}

func TestLocker(t *testing.T) {
	acq := &fakeAcquirer{held: map[string]string{}}
	a := NewLocker(acq, "worker-a", time.Minute)
	b := NewLocker(acq, "worker-b", time.Minute)
	ctx := context.Background()

	lock, err := a.Lock(ctx, "reconcile_ledger")
	require.NoError(t, err)
	assert.Equal(t, "worker-a", acq.held["job:reconcile_ledger"])

	_, err = b.Lock(ctx, "reconcile_ledger")
	assert.ErrorIs(t, err, ErrLockHeld)

	require.NoError(t, lock.Unlock(ctx))
	assert.Equal(t, []string{"job:reconcile_ledger"}, acq.released)

	_, err = b.Lock(ctx, "reconcile_ledger")
	assert.NoError(t, err)

	acq.err = errors.New("redis down")
	_, err = a.Lock(ctx, "warm_leaderboard")
	assert.EqualError(t, err, "redis down")
}
