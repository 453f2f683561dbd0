package autosave_test

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmremap/dmremap/pkg/autosave"
)

func Test_Scheduler_Timer_Skips_Save_When_Clean(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	sched := autosave.New(func() error {
		calls.Add(1)
		return nil
	}, 10*time.Millisecond)

	go sched.Run()
	time.Sleep(55 * time.Millisecond)
	sched.Stop()

	require.Equal(t, int32(0), calls.Load(), "clean table must never be saved by the timer")
}

func Test_Scheduler_Timer_Saves_When_Dirty_And_Clears_Flag(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	sched := autosave.New(func() error {
		calls.Add(1)
		return nil
	}, 10*time.Millisecond)

	sched.MarkDirty()

	go sched.Run()
	time.Sleep(35 * time.Millisecond)
	sched.Stop()

	require.GreaterOrEqual(t, calls.Load(), int32(1))
	require.False(t, sched.Stats().Dirty)
}

func Test_Scheduler_SaveNow_Is_Synchronous_And_Updates_Counters(t *testing.T) {
	t.Parallel()

	sched := autosave.New(func() error { return nil }, time.Hour)
	sched.MarkDirty()

	require.NoError(t, sched.SaveNow())

	stats := sched.Stats()
	require.Equal(t, uint64(1), stats.SuccessCount)
	require.False(t, stats.Dirty)
}

func Test_Scheduler_SaveNow_Failure_Leaves_Dirty_Flag_Set(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	sched := autosave.New(func() error { return boom }, time.Hour)
	sched.MarkDirty()

	err := sched.SaveNow()
	require.ErrorIs(t, err, boom)

	stats := sched.Stats()
	require.True(t, stats.Dirty)
	require.Equal(t, uint64(1), stats.FailureCount)
}

func Test_Scheduler_Stop_Performs_Final_Save_If_Dirty(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	sched := autosave.New(func() error {
		calls.Add(1)
		return nil
	}, time.Hour) // long enough that only Stop's final save fires

	sched.MarkDirty()

	go sched.Run()
	time.Sleep(10 * time.Millisecond)
	sched.Stop()

	require.Equal(t, int32(1), calls.Load())
}
