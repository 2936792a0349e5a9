package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"dtsynth/progress"
	"dtsynth/progress/badgerlog"
	"dtsynth/progress/prom"
	"dtsynth/progress/redisstream"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// sinks is every progress destination the configuration asks for, fanned out as one sink.
type sinks struct {
	progress.Multi
	closers []func() error
	server  *http.Server
}

// openSinks opens the configured sinks. Remote and disk sinks are fed asynchronously so a slow
// store never holds up the search.
func (a *app) openSinks(ctx context.Context, runID string, metadata map[string]string) (*sinks, error) {
	cfg := a.cfg.Progress
	s := &sinks{}
	fail := func(err error) (*sinks, error) {
		s.Close(ctx)
		return nil, err
	}

	if cfg.CSV != "" {
		keys := make([]string, 0, len(metadata))
		for k := range metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		csvSink, err := progress.NewCSVSink(cfg.CSV, keys...)
		if err != nil {
			return fail(err)
		}
		s.add(csvSink, csvSink.Close)
	}
	if cfg.Redis.Addr != "" {
		var opts []redisstream.Option
		if cfg.Redis.Stream != "" {
			opts = append(opts, redisstream.WithStream(cfg.Redis.Stream))
		}
		if cfg.Redis.MaxLen > 0 {
			opts = append(opts, redisstream.WithMaxLen(cfg.Redis.MaxLen))
		}
		stream := redisstream.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, opts...)
		async := progress.NewAsync(ctx, stream, cfg.Buffer)
		s.add(async, func() error { return errors.Join(async.Close(), stream.Close()) })
	}
	if cfg.BadgerDir != "" {
		journal, err := badgerlog.Open(cfg.BadgerDir, runID)
		if err != nil {
			return fail(err)
		}
		async := progress.NewAsync(ctx, journal, cfg.Buffer)
		s.add(async, func() error { return errors.Join(async.Close(), journal.Close()) })
	}
	if cfg.MetricsAddr != "" {
		registry := prometheus.NewRegistry()
		promSink, err := prom.New(registry)
		if err != nil {
			return fail(err)
		}
		s.Multi = append(s.Multi, promSink)
		s.server = &http.Server{Addr: cfg.MetricsAddr, Handler: metricsRouter(registry), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Info().Msgf("serving metrics on %s", cfg.MetricsAddr)
			if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}
	return s, nil
}

func (s *sinks) add(sink progress.Sink, closer func() error) {
	s.Multi = append(s.Multi, sink)
	s.closers = append(s.closers, closer)
}

// Close drains the asynchronous sinks and stops the metrics server.
func (s *sinks) Close(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}

func metricsRouter(registry *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return r
}
