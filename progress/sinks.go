package progress

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Recorder keeps every snapshot in memory.
type Recorder struct {
	mu        sync.Mutex
	snapshots []Snapshot
}

func (r *Recorder) Emit(_ context.Context, s Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.snapshots = append(r.snapshots, s)
	return nil
}

func (r *Recorder) Snapshots() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Snapshot(nil), r.snapshots...)
}

// Events returns the recorded snapshots of one kind.
func (r *Recorder) Events(event Event) []Snapshot {
	var out []Snapshot
	for _, s := range r.Snapshots() {
		if s.Event == event {
			out = append(out, s)
		}
	}
	return out
}

// Multi fans a snapshot out to several sinks, stopping at the first error.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, s Snapshot) error {
	for _, sink := range m {
		if err := sink.Emit(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

var csvColumns = []string{
	"event", "timestamp", "best_value", "tree_size", "tree_depth",
	"frontier_size", "families_evaluated", "improvement_count", "lower_bound",
}

// CSVSink appends one row per snapshot. The header is written once, when the file is new.
type CSVSink struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
	tags   []string
}

// NewCSVSink opens path for appending. tags name the metadata keys written as extra columns.
func NewCSVSink(path string, tags ...string) (*CSVSink, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}
	_, statErr := os.Stat(path)
	fresh := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open progress file: %w", err)
	}

	s := &CSVSink{file: f, writer: csv.NewWriter(f), tags: tags}
	if fresh {
		header := append(append([]string{}, csvColumns...), tags...)
		if err := s.writer.Write(header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write progress header: %w", err)
		}
		s.writer.Flush()
	}
	return s, nil
}

func (s *CSVSink) Emit(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := []string{
		string(snap.Event),
		strconv.FormatFloat(snap.Timestamp, 'f', 6, 64),
		formatFloat(snap.BestValue),
		formatInt(snap.TreeSize),
		formatInt(snap.TreeDepth),
		formatInt(snap.FrontierSize),
		strconv.Itoa(snap.FamiliesEvaluated),
		strconv.Itoa(snap.ImprovementCount),
		formatFloat(snap.LowerBound),
	}
	for _, tag := range s.tags {
		row = append(row, snap.Metadata[tag])
	}
	if err := s.writer.Write(row); err != nil {
		return fmt.Errorf("failed to write progress row: %w", err)
	}
	s.writer.Flush()
	return s.writer.Error()
}

func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writer.Flush()
	return s.file.Close()
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'g', -1, 64)
}

func formatInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

// Async delivers snapshots to a slow sink on a separate goroutine so the search is not blocked.
// Every snapshot is delivered, in order; Close waits for the backlog to drain.
type Async struct {
	queue chan Snapshot
	group *errgroup.Group
}

func NewAsync(ctx context.Context, sink Sink, buffer int) *Async {
	g, gctx := errgroup.WithContext(ctx)
	a := &Async{queue: make(chan Snapshot, buffer), group: g}
	g.Go(func() error {
		for s := range a.queue {
			if err := sink.Emit(gctx, s); err != nil {
				// Drain so Emit never blocks on a dead consumer.
				for range a.queue {
				}
				return err
			}
		}
		return nil
	})
	return a
}

func (a *Async) Emit(ctx context.Context, s Snapshot) error {
	select {
	case a.queue <- s:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting snapshots and returns the first delivery error.
func (a *Async) Close() error {
	close(a.queue)
	return a.group.Wait()
}
