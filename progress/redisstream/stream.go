package redisstream

import (
	"context"
	"encoding/json"
	"fmt"

	"dtsynth/progress"

	backend "github.com/redis/go-redis/v9"
)

var _ progress.Sink = (*Sink)(nil)

// Sink appends every snapshot to a Redis stream, one entry per event.
type Sink struct {
	client *backend.Client
	stream string
	maxLen int64
}

type Option func(*Sink)

// WithStream sets the stream key.
func WithStream(stream string) Option {
	return func(s *Sink) {
		s.stream = stream
	}
}

// WithMaxLen caps the stream approximately at n entries.
func WithMaxLen(n int64) Option {
	return func(s *Sink) {
		s.maxLen = n
	}
}

func New(address, password string, db int, opts ...Option) *Sink {
	return NewFromClient(backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	}), opts...)
}

func NewFromClient(client *backend.Client, opts ...Option) *Sink {
	s := &Sink{
		client: client,
		stream: "dtsynth:progress",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sink) Emit(ctx context.Context, snap progress.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	args := &backend.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{"event": string(snap.Event), "snapshot": string(data)},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to append to stream %s: %w", s.stream, err)
	}
	return nil
}

// Read returns the snapshots currently in the stream, oldest first.
func (s *Sink) Read(ctx context.Context) ([]progress.Snapshot, error) {
	entries, err := s.client.XRange(ctx, s.stream, "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read stream %s: %w", s.stream, err)
	}
	out := make([]progress.Snapshot, 0, len(entries))
	for _, entry := range entries {
		raw, ok := entry.Values["snapshot"].(string)
		if !ok {
			return nil, fmt.Errorf("stream entry %s has no snapshot", entry.ID)
		}
		var snap progress.Snapshot
		if err := json.Unmarshal([]byte(raw), &snap); err != nil {
			return nil, fmt.Errorf("failed to decode stream entry %s: %w", entry.ID, err)
		}
		out = append(out, snap)
	}
	return out, nil
}

func (s *Sink) Close() error {
	return s.client.Close()
}
