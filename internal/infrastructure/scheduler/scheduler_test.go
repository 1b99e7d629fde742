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

type funcJob struct {
	name string
	run  func(ctx context.Context) error
}

func (j funcJob) Name() string                  { return j.name }
func (j funcJob) Description() string           { return "test job " + j.name }
func (j funcJob) Run(ctx context.Context) error { return j.run(ctx) }

func TestScheduler_RegisterRejectsDuplicatesAndBadSpecs(t *testing.T) {
	s := New(DefaultConfig())
	job := funcJob{name: "a", run: func(context.Context) error { return nil }}

	require.NoError(t, s.Register("@every 1h", job))
	assert.ErrorIs(t, s.Register("@every 1h", job), ErrJobAlreadyExists)
	assert.ErrorIs(t, s.Register("not a cron", funcJob{name: "b"}), ErrInvalidSchedule)
	assert.ErrorIs(t, s.Register("@every 1h", nil), ErrNilJob)

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "a", jobs[0].Name)
	assert.Equal(t, "@every 1h", jobs[0].Schedule)
}

func TestScheduler_RunNowRecordsResults(t *testing.T) {
	s := New(Config{JobTimeout: time.Second, HistorySize: 2})
	boom := errors.New("boom")

	calls := 0
	require.NoError(t, s.Register("@daily", funcJob{name: "flaky", run: func(ctx context.Context) error {
		calls++
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		if calls == 2 {
			return boom
		}
		return nil
	}}))

	res, err := s.RunNow(context.Background(), "flaky")
	require.NoError(t, err)
	assert.True(t, res.Success())
	assert.True(t, res.Manual)

	_, err = s.RunNow(context.Background(), "flaky")
	assert.ErrorIs(t, err, boom)
	_, err = s.RunNow(context.Background(), "flaky")
	require.NoError(t, err)

	_, err = s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	info := s.Jobs()[0]
	assert.EqualValues(t, 3, info.RunCount)
	assert.EqualValues(t, 1, info.FailCount)
	require.NotNil(t, info.LastResult)
	assert.True(t, info.LastResult.Success())

	history := s.History(0)
	require.Len(t, history, 2)
	assert.ErrorIs(t, history[0].Err, boom)
}

func TestScheduler_FiresOnSchedule(t *testing.T) {
	s := New(DefaultConfig())
	var runs atomic.Int32
	require.NoError(t, s.Register("@every 1s", funcJob{name: "tick", run: func(context.Context) error {
		runs.Add(1)
		return nil
	}}))

	s.Start()
	assert.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestScheduler_StopCancelsSlowJobsAfterDeadline(t *testing.T) {
	s := New(Config{})
	started := make(chan struct{})
	require.NoError(t, s.Register("@every 1s", funcJob{name: "slow", run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}}))

	s.Start()
	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("job never started")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Stop(ctx), context.DeadlineExceeded)
}
