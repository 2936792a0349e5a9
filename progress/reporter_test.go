package progress

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dtsynth/family"
	"dtsynth/tree"

	"github.com/stretchr/testify/require"
)

// fakeClock advances by step on every reading.
type fakeClock struct {
	now  time.Time
	step time.Duration
}

func (c *fakeClock) read() time.Time {
	c.now = c.now.Add(c.step)
	return c.now
}

func eventsOf(snapshots []Snapshot) []Event {
	events := make([]Event, len(snapshots))
	for i, s := range snapshots {
		events[i] = s.Event
	}
	return events
}

func TestReporterCheckpoints(t *testing.T) {
	ctx := context.Background()
	recorder := &Recorder{}
	r := NewReporter(recorder, Config{Checkpoints: true})

	r.Start(ctx)
	for i := 0; i < 10; i++ {
		r.FamilyEvaluated(ctx)
	}

	iterations := recorder.Events(EventIteration)
	require.Len(t, iterations, 4, "Checkpoints are at 1, 2, 4 and 8")
	for i, want := range []int{1, 2, 4, 8} {
		require.Equal(t, want, iterations[i].FamiliesEvaluated)
	}
	require.Equal(t, 10, r.Evaluated())
}

func TestReporterRun(t *testing.T) {
	ctx := context.Background()
	recorder := &Recorder{}
	shared := NewReporter(recorder, Config{Checkpoints: true, Metadata: map[string]string{"run": "r1"}})
	first, second := shared.Run(), shared.Run()

	first.Start(ctx)
	second.Start(ctx)
	for i := 0; i < 3; i++ {
		first.FamilyEvaluated(ctx)
	}
	second.FamilyEvaluated(ctx)

	require.Equal(t, 3, first.Evaluated())
	require.Equal(t, 1, second.Evaluated(), "Runs keep separate counters")
	require.Equal(t, 0, shared.Evaluated(), "The shared reporter is never touched")
	require.Len(t, recorder.Events(EventStart), 2, "Both runs write to the shared sink")
	require.Len(t, recorder.Events(EventIteration), 3, "Checkpoints 1 and 2 for the first run, 1 for the second")
	require.Equal(t, "r1", recorder.Snapshots()[0].Metadata["run"])
}

func TestReporterCheckpointsDisabled(t *testing.T) {
	ctx := context.Background()
	recorder := &Recorder{}
	r := NewReporter(recorder, Config{})

	r.Start(ctx)
	r.FamilyEvaluated(ctx)
	r.Finish(ctx)

	require.Equal(t, []Event{EventStart, EventFinished}, eventsOf(recorder.Snapshots()), "Start and finish are always emitted")
}

func TestReporterInterval(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(0, 0), step: 400 * time.Millisecond}
	recorder := &Recorder{}
	r := NewReporter(recorder, Config{Interval: time.Second}).WithClock(clock.read)

	r.Start(ctx)
	for i := 0; i < 6; i++ {
		r.Tick(ctx)
	}

	require.NotEmpty(t, recorder.Events(EventInterval), "Ticks past the interval should emit")
	require.Less(t, len(recorder.Events(EventInterval)), 6, "Not every tick is due")
}

func TestReporterImprovement(t *testing.T) {
	ctx := context.Background()
	recorder := &Recorder{}
	r := NewReporter(recorder, Config{Metadata: map[string]string{"run": "r1"}})
	b := tree.NewBuilder(nil, nil)
	shape := b.Build(b.Decision("x", 1, b.Leaf("A"), b.Leaf("B")))

	r.Start(ctx)
	start := recorder.Snapshots()[0]
	r.Improved(ctx, family.Known(3), shape)
	r.Improved(ctx, family.Unknown, nil)

	require.Nil(t, start.BestValue, "Unknown fields are null before the first improvement")
	require.Nil(t, start.TreeSize)
	require.Nil(t, start.FrontierSize)

	improvements := recorder.Events(EventImprovement)
	require.Len(t, improvements, 2)
	require.Equal(t, 3.0, *improvements[0].BestValue)
	require.Equal(t, 3, *improvements[0].TreeSize)
	require.Equal(t, 1, *improvements[0].TreeDepth)
	require.Equal(t, 1, improvements[0].ImprovementCount)
	require.Equal(t, "r1", improvements[0].Metadata["run"])
	require.Equal(t, 3.0, *improvements[1].BestValue, "An unknown value keeps the previous best")
	require.Equal(t, 2, r.Improvements())
}

func TestReporterLowerBound(t *testing.T) {
	ctx := context.Background()
	recorder := &Recorder{}
	r := NewReporter(recorder, Config{})

	r.Start(ctx)
	r.LowerBound(ctx, 0.5)
	r.LowerBound(ctx, 0.5+1e-12)
	r.LowerBound(ctx, 0.75)

	bounds := recorder.Events(EventLowerBound)
	require.Len(t, bounds, 2, "Changes within the tolerance are not reported")
	require.Equal(t, 0.75, *bounds[1].LowerBound)
}

func TestReporterTimestampsNeverDecrease(t *testing.T) {
	ctx := context.Background()
	times := []time.Time{time.Unix(10, 0), time.Unix(12, 0), time.Unix(11, 0), time.Unix(13, 0)}
	i := 0
	clock := func() time.Time {
		now := times[min(i, len(times)-1)]
		i++
		return now
	}
	recorder := &Recorder{}
	r := NewReporter(recorder, Config{}).WithClock(clock)

	r.Start(ctx)
	r.Improved(ctx, family.Known(1), nil)
	r.Improved(ctx, family.Known(2), nil)
	r.Finish(ctx)

	snapshots := recorder.Snapshots()
	for i := 1; i < len(snapshots); i++ {
		require.GreaterOrEqual(t, snapshots[i].Timestamp, snapshots[i-1].Timestamp, "Clock going backwards should not show")
	}
}

func TestReporterSinkErrorsAreNotFatal(t *testing.T) {
	ctx := context.Background()
	calls := 0
	sink := SinkFunc(func(context.Context, Snapshot) error {
		calls++
		return errors.New("sink unavailable")
	})
	r := NewReporter(sink, Config{})

	r.Start(ctx)
	r.Improved(ctx, family.Known(1), nil)

	require.Equal(t, 2, calls, "Every event should still be offered to the sink")
	require.Equal(t, 1, r.Improvements())
}

func TestCSVSink(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "runs", "progress.csv")
	value := 2.5

	sink, err := NewCSVSink(path, "run")
	require.NoError(t, err)
	require.NoError(t, sink.Emit(ctx, Snapshot{Event: EventStart, Metadata: map[string]string{"run": "r1"}}))
	require.NoError(t, sink.Close())

	sink, err = NewCSVSink(path, "run")
	require.NoError(t, err)
	require.NoError(t, sink.Emit(ctx, Snapshot{Event: EventImprovement, BestValue: &value, FamiliesEvaluated: 3}))
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3, "Reopening should not repeat the header")
	require.True(t, strings.HasPrefix(lines[0], "event,timestamp,best_value"))
	require.True(t, strings.HasSuffix(lines[0], ",run"))
	require.Equal(t, "start,0.000000,,,,,0,0,,r1", lines[1])
	require.Equal(t, "improvement,0.000000,2.5,,,,3,0,,", lines[2])
}

func TestAsync(t *testing.T) {
	t.Run("delivers everything in order", func(t *testing.T) {
		recorder := &Recorder{}
		async := NewAsync(context.Background(), recorder, 2)

		for i := 0; i < 20; i++ {
			require.NoError(t, async.Emit(context.Background(), Snapshot{FamiliesEvaluated: i}))
		}
		require.NoError(t, async.Close())

		snapshots := recorder.Snapshots()
		require.Len(t, snapshots, 20)
		for i, s := range snapshots {
			require.Equal(t, i, s.FamiliesEvaluated)
		}
	})

	t.Run("reports the first delivery error", func(t *testing.T) {
		boom := errors.New("boom")
		async := NewAsync(context.Background(), SinkFunc(func(context.Context, Snapshot) error { return boom }), 0)

		for i := 0; i < 5; i++ {
			require.NoError(t, async.Emit(context.Background(), Snapshot{}), "Emit should not block after a failure")
		}

		require.ErrorIs(t, async.Close(), boom)
	})
}

func TestMulti(t *testing.T) {
	first, second := &Recorder{}, &Recorder{}

	require.NoError(t, Multi{first, second}.Emit(context.Background(), Snapshot{Event: EventStart}))

	require.Len(t, first.Snapshots(), 1)
	require.Len(t, second.Snapshots(), 1)
}
