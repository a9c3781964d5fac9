package resultstore

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/ecatlab/ecatbench/pkg/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a store backed by a temporary SQLite database.
func setupTestStore(t *testing.T) Store {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	cfg := &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteDatabaseConfig{
			Path: filepath.Join(t.TempDir(), "test.db"),
		},
	}

	s := NewStore(log, cfg)
	require.NoError(t, s.Start(context.Background()))

	t.Cleanup(func() {
		require.NoError(t, s.Stop())
	})

	return s
}

func testRun(name string) *Run {
	return &Run{
		Name:              name,
		Date:              time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Scenario:          "1thr-2task",
		Hostname:          "rt-host-01",
		PropagationTimeNs: 1420,
		Settings:          `{"cycle_time_us":1000}`,
	}
}

func TestCreateRun(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	id, err := s.CreateRun(ctx, testRun("run-a"))
	require.NoError(t, err)
	assert.NotZero(t, id)

	got, err := s.GetRun(ctx, "run-a")
	require.NoError(t, err)
	assert.Equal(t, "run-a", got.Name)
	assert.Equal(t, "1thr-2task", got.Scenario)
	assert.Equal(t, int64(1420), got.PropagationTimeNs)
	assert.JSONEq(t, `{"cycle_time_us":1000}`, got.Settings)
}

func TestCreateRunDuplicateName(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.CreateRun(ctx, testRun("run-a"))
	require.NoError(t, err)

	_, err = s.CreateRun(ctx, testRun("run-a"))
	require.ErrorIs(t, err, ErrDuplicateRun)

	// The original row is untouched.
	got, err := s.GetRun(ctx, "run-a")
	require.NoError(t, err)
	assert.Equal(t, "rt-host-01", got.Hostname)
}

func TestCreateRunSettingsValidation(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	run := testRun("run-bad")
	run.Settings = `{"cycle_time_us":`

	_, err := s.CreateRun(ctx, run)
	require.ErrorIs(t, err, ErrInvalidSettings)

	// Empty settings are normalized to an empty object.
	empty := testRun("run-empty")
	empty.Settings = ""

	_, err = s.CreateRun(ctx, empty)
	require.NoError(t, err)

	got, err := s.GetRun(ctx, "run-empty")
	require.NoError(t, err)
	assert.Equal(t, "{}", got.Settings)
}

func TestGetRunNotFound(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.GetRun(context.Background(), "nope")
	require.ErrorIs(t, err, ErrRunNotFound)
}

func TestAppendFrameComputesDelta(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.CreateRun(ctx, testRun("run-a"))
	require.NoError(t, err)

	id, err := s.AppendFrame(ctx, &Frame{
		Run:          "run-a",
		PacketNumber: 1,
		Index:        0,
		Command:      "LRW",
		TxTimeNs:     1_000_000,
		RxTimeNs:     1_014_500,
		// A caller-supplied delta is ignored.
		DeltaTimeNs: 999,
	})
	require.NoError(t, err)
	assert.NotZero(t, id)

	cursor, err := s.QueryFrames(ctx, "run-a")
	require.NoError(t, err)

	defer cursor.Close()

	require.True(t, cursor.Next())
	assert.Equal(t, int64(14500), cursor.Frame().DeltaTimeNs)
	require.False(t, cursor.Next())
	require.NoError(t, cursor.Err())
}

func TestAppendFrameNegativeDelta(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.CreateRun(ctx, testRun("run-a"))
	require.NoError(t, err)

	// An rx before tx (clock anomaly) stores a negative delta rather
	// than failing.
	_, err = s.AppendFrame(ctx, &Frame{
		Run:      "run-a",
		Command:  "BRD",
		TxTimeNs: 2000,
		RxTimeNs: 1500,
	})
	require.NoError(t, err)

	cursor, err := s.QueryFrames(ctx, "run-a")
	require.NoError(t, err)

	defer cursor.Close()

	require.True(t, cursor.Next())
	assert.Equal(t, int64(-500), cursor.Frame().DeltaTimeNs)
}

func TestAppendFrameInvalidTimestamp(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.CreateRun(ctx, testRun("run-a"))
	require.NoError(t, err)

	_, err = s.AppendFrame(ctx, &Frame{
		Run:      "run-a",
		TxTimeNs: -1,
		RxTimeNs: 100,
	})
	require.ErrorIs(t, err, ErrInvalidTimestamp)

	count, err := s.CountFrames(ctx, "run-a")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestAppendFrameUnknownRun(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.AppendFrame(context.Background(), &Frame{
		Run:      "ghost",
		TxTimeNs: 1,
		RxTimeNs: 2,
	})
	require.ErrorIs(t, err, ErrUnknownRun)
}

func TestAppendFramesBatch(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.CreateRun(ctx, testRun("run-a"))
	require.NoError(t, err)

	frames := make([]*Frame, 0, 1200)
	for i := 0; i < 1200; i++ {
		frames = append(frames, &Frame{
			Run:          "run-a",
			PacketNumber: int64(i + 1),
			Command:      "LRW",
			TxTimeNs:     int64(i) * 1000,
			RxTimeNs:     int64(i)*1000 + 12000,
		})
	}

	require.NoError(t, s.AppendFrames(ctx, frames))

	count, err := s.CountFrames(ctx, "run-a")
	require.NoError(t, err)
	assert.Equal(t, int64(1200), count)
}

func TestAppendFramesBatchValidationRejectsAll(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.CreateRun(ctx, testRun("run-a"))
	require.NoError(t, err)

	frames := []*Frame{
		{Run: "run-a", PacketNumber: 1, TxTimeNs: 100, RxTimeNs: 200},
		{Run: "run-a", PacketNumber: 2, TxTimeNs: -5, RxTimeNs: 200},
	}

	require.ErrorIs(t, s.AppendFrames(ctx, frames), ErrInvalidTimestamp)

	count, err := s.CountFrames(ctx, "run-a")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestQueryFramesOrderAndRestart(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.CreateRun(ctx, testRun("run-a"))
	require.NoError(t, err)

	// Insert out of order; two PDUs share packet 2.
	require.NoError(t, s.AppendFrames(ctx, []*Frame{
		{Run: "run-a", PacketNumber: 2, Index: 1, Command: "BRD", TxTimeNs: 1, RxTimeNs: 2},
		{Run: "run-a", PacketNumber: 1, Index: 0, Command: "LRW", TxTimeNs: 1, RxTimeNs: 2},
		{Run: "run-a", PacketNumber: 2, Index: 0, Command: "LRW", TxTimeNs: 1, RxTimeNs: 2},
	}))

	readOrder := func() [][2]int64 {
		cursor, err := s.QueryFrames(ctx, "run-a")
		require.NoError(t, err)

		defer cursor.Close()

		var order [][2]int64
		for cursor.Next() {
			f := cursor.Frame()
			order = append(order, [2]int64{f.PacketNumber, int64(f.Index)})
		}

		require.NoError(t, cursor.Err())

		return order
	}

	want := [][2]int64{{1, 0}, {2, 0}, {2, 1}}
	assert.Equal(t, want, readOrder())

	// A fresh cursor restarts from the beginning.
	assert.Equal(t, want, readOrder())
}

func TestAppendCycleMonotonicity(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.CreateRun(ctx, testRun("run-a"))
	require.NoError(t, err)

	for _, c := range []int64{1, 2, 5} {
		_, err := s.AppendCycle(ctx, &Cycle{
			Run:              "run-a",
			Cycle:            c,
			ProcessingTimeNs: 8000,
		})
		require.NoError(t, err)
	}

	// Equal and lower counters are both rejected.
	_, err = s.AppendCycle(ctx, &Cycle{Run: "run-a", Cycle: 5})
	require.ErrorIs(t, err, ErrNonMonotonicCycle)

	_, err = s.AppendCycle(ctx, &Cycle{Run: "run-a", Cycle: 3})
	require.ErrorIs(t, err, ErrNonMonotonicCycle)

	// Previously appended rows are intact.
	count, err := s.CountCycles(ctx, "run-a")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	// Counters are per run, not global.
	_, err = s.CreateRun(ctx, testRun("run-b"))
	require.NoError(t, err)

	_, err = s.AppendCycle(ctx, &Cycle{Run: "run-b", Cycle: 1})
	require.NoError(t, err)
}

func TestAppendCycleUnknownRun(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.AppendCycle(context.Background(), &Cycle{Run: "ghost", Cycle: 1})
	require.ErrorIs(t, err, ErrUnknownRun)
}

func TestAppendCyclesBatch(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.CreateRun(ctx, testRun("run-a"))
	require.NoError(t, err)

	cycles := make([]*Cycle, 0, 100)
	for i := 0; i < 100; i++ {
		cycles = append(cycles, &Cycle{
			Run:              "run-a",
			Cycle:            int64(i + 1),
			ProcessingTimeNs: 8000,
			TickWaitNs:       990000,
			CycleTimeDeltaNs: int64(i%7) - 3,
		})
	}

	require.NoError(t, s.AppendCycles(ctx, cycles))

	// A batch overlapping already-stored counters is rejected entirely.
	err = s.AppendCycles(ctx, []*Cycle{
		{Run: "run-a", Cycle: 100},
		{Run: "run-a", Cycle: 101},
	})
	require.ErrorIs(t, err, ErrNonMonotonicCycle)

	// An internally non-increasing batch is rejected before touching
	// the database.
	err = s.AppendCycles(ctx, []*Cycle{
		{Run: "run-a", Cycle: 200},
		{Run: "run-a", Cycle: 200},
	})
	require.ErrorIs(t, err, ErrNonMonotonicCycle)

	count, err := s.CountCycles(ctx, "run-a")
	require.NoError(t, err)
	assert.Equal(t, int64(100), count)
}

func TestDeleteRunCascades(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"run-a", "run-b"} {
		_, err := s.CreateRun(ctx, testRun(name))
		require.NoError(t, err)

		require.NoError(t, s.AppendFrames(ctx, []*Frame{
			{Run: name, PacketNumber: 1, TxTimeNs: 1, RxTimeNs: 2},
			{Run: name, PacketNumber: 2, TxTimeNs: 3, RxTimeNs: 4},
		}))

		require.NoError(t, s.AppendCycles(ctx, []*Cycle{
			{Run: name, Cycle: 1},
			{Run: name, Cycle: 2},
		}))
	}

	require.NoError(t, s.DeleteRun(ctx, "run-a"))

	_, err := s.GetRun(ctx, "run-a")
	require.ErrorIs(t, err, ErrRunNotFound)

	count, err := s.CountFrames(ctx, "run-a")
	require.NoError(t, err)
	assert.Zero(t, count)

	count, err = s.CountCycles(ctx, "run-a")
	require.NoError(t, err)
	assert.Zero(t, count)

	// The sibling run is untouched.
	count, err = s.CountFrames(ctx, "run-b")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	count, err = s.CountCycles(ctx, "run-b")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// The name is reusable after deletion.
	_, err = s.CreateRun(ctx, testRun("run-a"))
	require.NoError(t, err)
}

func TestDeleteRunNotFound(t *testing.T) {
	s := setupTestStore(t)

	require.ErrorIs(t,
		s.DeleteRun(context.Background(), "nope"), ErrRunNotFound)
}

func TestListRuns(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	for i, name := range []string{"old", "mid", "new"} {
		run := testRun(name)
		run.Date = base.Add(time.Duration(i) * time.Hour)

		if name == "mid" {
			run.Scenario = "8thr-1task"
		}

		_, err := s.CreateRun(ctx, run)
		require.NoError(t, err)
	}

	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "new", runs[0].Name)
	assert.Equal(t, "old", runs[2].Name)

	byScenario, err := s.ListRunsByScenario(ctx, "8thr-1task")
	require.NoError(t, err)
	require.Len(t, byScenario, 1)
	assert.Equal(t, "mid", byScenario[0].Name)

	none, err := s.ListRunsByScenario(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestFindRunsByNamePrefix(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for _, name := range []string{
		"2025-06-01-lrw", "2025-06-02-lrw", "2025-07-01-brd", "baseline_x", "baselineZx",
	} {
		_, err := s.CreateRun(ctx, testRun(name))
		require.NoError(t, err)
	}

	runs, err := s.FindRunsByNamePrefix(ctx, "2025-06")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "2025-06-01-lrw", runs[0].Name)
	assert.Equal(t, "2025-06-02-lrw", runs[1].Name)

	// LIKE metacharacters match literally.
	runs, err = s.FindRunsByNamePrefix(ctx, "baseline_")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "baseline_x", runs[0].Name)

	runs, err = s.FindRunsByNamePrefix(ctx, "nomatch")
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestConcurrentCreateRunSameName(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	const writers = 8

	errCh := make(chan error, writers)

	for i := 0; i < writers; i++ {
		go func() {
			_, err := s.CreateRun(ctx, testRun("contended"))
			errCh <- err
		}()
	}

	var ok, dup int

	for i := 0; i < writers; i++ {
		err := <-errCh

		switch {
		case err == nil:
			ok++
		default:
			require.ErrorIs(t, err, ErrDuplicateRun)
			dup++
		}
	}

	assert.Equal(t, 1, ok)
	assert.Equal(t, writers-1, dup)
}

func TestFullRunLifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	run := testRun("2025-06-01T12:00-1thr-2task")

	_, err := s.CreateRun(ctx, run)
	require.NoError(t, err)

	frames := make([]*Frame, 0, 50)
	for i := 0; i < 50; i++ {
		frames = append(frames, &Frame{
			Run:          run.Name,
			PacketNumber: int64(2*i + 1),
			Command:      "LRW",
			TxTimeNs:     int64(i) * 1_000_000,
			RxTimeNs:     int64(i)*1_000_000 + 13_000,
		})
	}

	require.NoError(t, s.AppendFrames(ctx, frames))

	cycles := make([]*Cycle, 0, 50)
	for i := 0; i < 50; i++ {
		cycles = append(cycles, &Cycle{
			Run:              run.Name,
			Cycle:            int64(i + 1),
			ProcessingTimeNs: 7_500,
			TickWaitNs:       991_000,
		})
	}

	require.NoError(t, s.AppendCycles(ctx, cycles))

	frameCount, err := s.CountFrames(ctx, run.Name)
	require.NoError(t, err)
	assert.Equal(t, int64(50), frameCount)

	cycleCount, err := s.CountCycles(ctx, run.Name)
	require.NoError(t, err)
	assert.Equal(t, int64(50), cycleCount)

	cursor, err := s.QueryCycles(ctx, run.Name)
	require.NoError(t, err)

	defer cursor.Close()

	var prev int64
	for cursor.Next() {
		c := cursor.Cycle()
		assert.Greater(t, c.Cycle, prev)
		prev = c.Cycle
	}

	require.NoError(t, cursor.Err())
	assert.Equal(t, int64(50), prev)

	require.NoError(t, s.DeleteRun(ctx, run.Name))

	_, err = s.GetRun(ctx, run.Name)
	require.ErrorIs(t, err, ErrRunNotFound)
}

func TestStoreErrorsAreDistinct(t *testing.T) {
	errs := []error{
		ErrDuplicateRun,
		ErrRunNotFound,
		ErrUnknownRun,
		ErrInvalidSettings,
		ErrInvalidTimestamp,
		ErrNonMonotonicCycle,
	}

	for i, a := range errs {
		for j, b := range errs {
			if i == j {
				continue
			}

			assert.NotErrorIs(t, fmt.Errorf("wrap: %w", a), b)
		}
	}
}
