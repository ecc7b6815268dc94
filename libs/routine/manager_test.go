package routine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func blockUntilDone(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestManager_StartRejectsInvalidTask(t *testing.T) {
	m := NewManager(context.Background(), nil)

	assert.ErrorIs(t, m.Start(Task{Handler: blockUntilDone}), ErrEmptyID)
	assert.ErrorIs(t, m.Start(Task{ID: "a"}), ErrNoHandler)
	assert.False(t, m.Stop("missing"))
}

func TestManager_DuplicateIDRejected(t *testing.T) {
	m := NewManager(context.Background(), nil)

	require.NoError(t, m.Start(Task{ID: "acct-1", Handler: blockUntilDone}))
	assert.ErrorIs(t, m.Start(Task{ID: "acct-1", Handler: blockUntilDone}), ErrRoutineExists)
	assert.True(t, m.Running("acct-1"))

	assert.True(t, m.Stop("acct-1"))
	assert.False(t, m.Running("acct-1"))

	// The id is free again once the previous routine exited.
	require.NoError(t, m.Start(Task{ID: "acct-1", Handler: blockUntilDone}))
	require.NoError(t, m.StopAll(context.Background()))
}

func TestManager_OnExitReportsFailure(t *testing.T) {
	m := NewManager(context.Background(), nil)
	boom := errors.New("boom")

	exited := make(chan error, 1)
	require.NoError(t, m.Start(Task{
		ID:      "hooks",
		Handler: func(context.Context) error { return boom },
		OnExit: func(id string, err error) {
			assert.Equal(t, "hooks", id)
			assert.False(t, m.Running(id), "the id is released before the hook runs")
			exited <- err
		},
	}))

	select {
	case err := <-exited:
		assert.ErrorIs(t, err, boom)
	case <-time.After(time.Second):
		t.Fatal("routine did not exit")
	}
}

func TestManager_StoppedRoutineExitsClean(t *testing.T) {
	m := NewManager(context.Background(), nil)

	var gotErr atomic.Value
	require.NoError(t, m.Start(Task{
		ID:      "a",
		Handler: blockUntilDone,
		OnExit:  func(_ string, err error) { gotErr.Store(errBox{err}) },
	}))

	require.True(t, m.Stop("a"))
	// Stop returns only after OnExit ran.
	assert.Equal(t, errBox{}, gotErr.Load())
}

type errBox struct{ err error }

func TestManager_CooldownHoldsFailedID(t *testing.T) {
	clock := quartz.NewMock(t)
	trap := clock.Trap().NewTimer("routine", "cooldown")
	defer trap.Close()
	m := NewManager(context.Background(), clock)

	exited := make(chan struct{})
	require.NoError(t, m.Start(Task{
		ID:       "acct",
		Handler:  func(context.Context) error { return errors.New("disconnected") },
		Cooldown: time.Minute,
		OnExit:   func(string, error) { close(exited) },
	}))

	call := trap.MustWait(t.Context())
	call.MustRelease(t.Context())
	assert.ErrorIs(t, m.Start(Task{ID: "acct", Handler: blockUntilDone}), ErrRoutineExists)

	clock.Advance(time.Minute).MustWait(t.Context())
	<-exited
	assert.False(t, m.Running("acct"))
}

func TestManager_StopAllStopsEveryRoutine(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewManager(ctx, nil)

	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, m.Start(Task{ID: id, Handler: blockUntilDone}))
	}
	assert.Equal(t, []string{"a", "b", "c"}, m.IDs())

	require.NoError(t, m.StopAll(context.Background()))
	assert.Empty(t, m.IDs())
	assert.ErrorIs(t, m.Start(Task{ID: "d", Handler: blockUntilDone}), ErrStopping)
}

func TestManager_StopAllGivesUpAtDeadline(t *testing.T) {
	release := make(chan struct{})
	m := NewManager(context.Background(), nil)
	require.NoError(t, m.Start(Task{
		ID:      "stuck",
		Handler: func(context.Context) error { <-release; return nil },
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.StopAll(ctx), context.DeadlineExceeded)

	close(release)
	require.Eventually(t, func() bool { return !m.Running("stuck") }, time.Second, 5*time.Millisecond)
}
