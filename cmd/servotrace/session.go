package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/banshee-data/servotrace/internal/config"
	"github.com/banshee-data/servotrace/internal/db"
	"github.com/banshee-data/servotrace/internal/decode"
	"github.com/banshee-data/servotrace/internal/ingest"
	"github.com/banshee-data/servotrace/internal/modulelog"
	"github.com/banshee-data/servotrace/internal/monitor"
	"github.com/banshee-data/servotrace/internal/render"
	"github.com/banshee-data/servotrace/internal/series"
	"github.com/banshee-data/servotrace/internal/transport"
)

// session wires one source through the ingest loop into the stores.
type session struct {
	cfg     *config.Config
	profile *decode.Profile
	source  transport.Source
	series  *series.Store
	log     *modulelog.Store
	stats   *monitor.FrameStats
	tail    *monitor.Tail
	loop    *ingest.Loop
	started time.Time
}

// newSession opens the source. withSeries and withLog select which stores
// the loop feeds.
func newSession(cfg *config.Config, withSeries, withLog bool) (*session, error) {
	profile, err := cfg.Profile()
	if err != nil {
		return nil, err
	}
	classes, err := cfg.GetClasses()
	if err != nil {
		return nil, err
	}
	src, err := transport.Open(cfg.GetSource(), cfg.TransportOptions())
	if err != nil {
		return nil, fmt.Errorf("open source %q: %w", cfg.GetSource(), err)
	}

	s := &session{
		cfg:     cfg,
		profile: profile,
		source:  src,
		stats:   monitor.NewFrameStats(classes, nil),
		tail:    monitor.NewTail(0),
		started: time.Now(),
	}
	if withSeries {
		s.series = series.New(cfg.GetMaxPoints())
	}
	if withLog {
		s.log = modulelog.New()
	}
	s.loop = ingest.New(ingest.Config{
		Source:     src,
		Profile:    profile,
		Series:     s.series,
		Log:        s.log,
		Timeout:    cfg.GetReceiveTimeout(),
		Policy:     cfg.GetPolicy(),
		AngleScale: cfg.GetAngleScale(),
		Observer:   monitor.Observers{s.stats, s.tail},
	})
	log.Printf("session: source=%s profile=%s modules=%d", cfg.GetSource(), profile.Name(), cfg.GetModules())
	return s, nil
}

func (s *session) Close() error {
	s.tail.Close()
	return s.source.Close()
}

// webServer returns the debug routes for this session.
func (s *session) webServer(chart *render.EChartsSink) *monitor.WebServer {
	return &monitor.WebServer{
		Stats:   s.stats,
		Tail:    s.tail,
		Chart:   chart,
		Ingest:  s.loop.Stats,
		Profile: s.profile.Name(),
		Started: s.started,
	}
}

// run starts the ingest loop and the helper routines, and blocks until the
// loop ends. Helpers are cancelled once the loop returns.
func (s *session) run(ctx context.Context, duration time.Duration, helpers ...func(context.Context)) error {
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}
	helperCtx, stopHelpers := context.WithCancel(ctx)
	defer stopHelpers()

	var wg sync.WaitGroup
	for _, h := range helpers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h(helperCtx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.stats.Run(helperCtx, s.cfg.GetStatsInterval()); err != nil &&
			!errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			log.Printf("stats routine: %v", err)
		}
	}()

	err := s.loop.Start(ctx)
	stopHelpers()
	wg.Wait()

	if errors.Is(err, context.DeadlineExceeded) && duration > 0 {
		err = nil
	}
	log.Printf("session: loop finished %+v", s.loop.Stats())
	return err
}

// serveHTTP serves mux on addr until ctx is cancelled.
func serveHTTP(ctx context.Context, addr string, mux *http.ServeMux) {
	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()
	log.Printf("serving debug routes on %s/debug/", addr)

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
}

func runLog(ctx context.Context, opts *options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	s, err := newSession(cfg, false, true)
	if err != nil {
		return err
	}
	defer s.Close()

	var database *db.DB
	if path := cfg.GetSQLitePath(); path != "" {
		if database, err = db.NewDB(path); err != nil {
			return fmt.Errorf("open export database: %w", err)
		}
		defer database.Close()
	}

	var helpers []func(context.Context)
	if opts.listen != "" {
		mux := http.NewServeMux()
		s.webServer(nil).AttachAdminRoutes(mux)
		if database != nil {
			if err := database.AttachAdminRoutes(mux); err != nil {
				return err
			}
		}
		helpers = append(helpers, func(ctx context.Context) { serveHTTP(ctx, opts.listen, mux) })
	}

	if opts.duration > 0 {
		log.Printf("recording for %v (Ctrl-C to stop early)", opts.duration)
	} else {
		log.Printf("recording until interrupted")
	}
	runErr := s.run(ctx, opts.duration, helpers...)

	// Export even when interrupted; the log is only lost if every sink fails.
	exportCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := exportSession(exportCtx, s, database); err != nil {
		return err
	}
	return runErr
}

func exportSession(ctx context.Context, s *session, database *db.DB) error {
	commands, servos := s.log.Counts()
	prefix := modulelog.SessionPrefix(s.started)

	csvSink := modulelog.NewCSVSink(s.cfg.GetExportDir(), prefix)
	if err := s.log.Export(ctx, csvSink); err != nil {
		return err
	}
	log.Printf("exported %d command and %d servo samples to %d files in %s",
		commands, servos, len(csvSink.Written), s.cfg.GetExportDir())

	if database != nil {
		sink := db.NewSink(database, prefix, s.profile.Name(), s.cfg.GetSource(),
			float64(s.started.UnixNano())/1e9)
		if err := s.log.Export(ctx, sink); err != nil {
			return err
		}
		log.Printf("exported session %s to %s", sink.Sessions[len(sink.Sessions)-1], s.cfg.GetSQLitePath())
	}
	return nil
}

func runPlot(ctx context.Context, opts *options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	s, err := newSession(cfg, true, false)
	if err != nil {
		return err
	}
	defer s.Close()

	chart := render.NewEChartsSink()
	chart.AssetsHost = opts.assetsHost
	sinks := render.Sinks{chart}
	if opts.png != "" {
		sinks = append(sinks, render.NewPlotSink(opts.png, opts.pngEvery))
	}
	reader := render.NewReader(render.ReaderConfig{
		Series:   s.series,
		Tracks:   s.profile.Tracks(),
		Sink:     sinks,
		Window:   cfg.GetWindow(),
		Interval: cfg.GetTickInterval(),
		YMin:     cfg.GetYMin(),
		YMax:     cfg.GetYMax(),
	})

	helpers := []func(context.Context){
		func(ctx context.Context) {
			if err := reader.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("render routine: %v", err)
			}
		},
	}
	if opts.listen != "" {
		mux := http.NewServeMux()
		s.webServer(chart).AttachAdminRoutes(mux)
		mux.Handle("/", chart)
		helpers = append(helpers, func(ctx context.Context) { serveHTTP(ctx, opts.listen, mux) })
		log.Printf("live chart at http://%s/", opts.listen)
	}

	err = s.run(ctx, opts.duration, helpers...)
	frames, failed := reader.Rendered()
	log.Printf("rendered %d frames (%d failed)", frames, failed)
	return err
}

func runStats(ctx context.Context, opts *options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	s, err := newSession(cfg, false, false)
	if err != nil {
		return err
	}
	defer s.Close()

	var helpers []func(context.Context)
	if opts.listen != "" {
		mux := http.NewServeMux()
		s.webServer(nil).AttachAdminRoutes(mux)
		helpers = append(helpers, func(ctx context.Context) { serveHTTP(ctx, opts.listen, mux) })
	}
	err = s.run(ctx, opts.duration, helpers...)
	s.stats.LogStats()
	return err
}
