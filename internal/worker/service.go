package worker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/thebtf/storyline/internal/config"
	"github.com/thebtf/storyline/internal/db/gorm"
	"github.com/thebtf/storyline/internal/pipeline"
	"github.com/thebtf/storyline/internal/scoring"
	"github.com/thebtf/storyline/internal/worker/sse"
	"github.com/thebtf/storyline/pkg/models"
)

// Service configuration constants
const (
	// DefaultHTTPTimeout bounds read-only API requests.
	DefaultHTTPTimeout = 30 * time.Second

	// MaxRequestBodyBytes caps request bodies; the control API takes none of note.
	MaxRequestBodyBytes = 64 << 10

	// runKey is the singleflight key shared by every run trigger.
	runKey = "run"
)

// ErrShuttingDown is returned for runs requested after Shutdown began.
var ErrShuttingDown = errors.New("worker is shutting down")

// Runner executes one full ingestion cycle.
type Runner interface {
	Run(ctx context.Context) (*pipeline.RunStats, error)
}

// HealthChecker reports store health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) *gorm.HealthInfo
}

// ClusterReader reads ranked clusters and their members.
type ClusterReader interface {
	TopClusters(ctx context.Context, since time.Time, limit int) ([]*models.Cluster, error)
	ClusterArticleIDs(ctx context.Context, clusterID int64) ([]int64, error)
}

// ArticleReader loads articles by id.
type ArticleReader interface {
	GetArticlesByIDs(ctx context.Context, ids []int64) ([]*models.Article, error)
}

// TrendReader reports entity frequencies.
type TrendReader interface {
	EntityFrequencies(ctx context.Context, since time.Time, limit int) ([]gorm.EntityFrequency, error)
}

// BackgroundRecalculator recalculates cluster scores on its own ticker.
type BackgroundRecalculator interface {
	Start(ctx context.Context)
	Stop()
	GetStats() scoring.Stats
}

// MaintenanceReporter exposes entity maintenance statistics.
type MaintenanceReporter interface {
	Stats() map[string]any
}

var (
	_ HealthChecker          = (*gorm.Store)(nil)
	_ ClusterReader          = (*gorm.ClusterStore)(nil)
	_ ArticleReader          = (*gorm.ArticleStore)(nil)
	_ TrendReader            = (*gorm.EntityStore)(nil)
	_ BackgroundRecalculator = (*scoring.Recalculator)(nil)
	_ Runner                 = (*pipeline.Pipeline)(nil)
)

// Deps are the collaborators of the worker service. Recalculator and Maintenance are optional.
type Deps struct {
	Runner       Runner
	Health       HealthChecker
	Clusters     ClusterReader
	Articles     ArticleReader
	Trends       TrendReader
	Recalculator BackgroundRecalculator
	Maintenance  MaintenanceReporter
	Version      string
}

// Stats summarizes the worker's run history.
type Stats struct {
	StartedAt    time.Time          `json:"started_at"`
	LastRun      *pipeline.RunStats `json:"last_run,omitempty"`
	Maintenance  map[string]any     `json:"maintenance,omitempty"`
	RateLimit    map[string]any     `json:"rate_limit"`
	Recalculator *scoring.Stats     `json:"recalculator,omitempty"`
	Version      string             `json:"version"`
	Uptime       string             `json:"uptime"`
	Runs         int64              `json:"runs"`
	FailedRuns   int64              `json:"failed_runs"`
	SSEClients   int                `json:"sse_clients"`
	Running      bool               `json:"running"`
}

// Service schedules pipeline runs and serves the control API.
type Service struct {
	log          zerolog.Logger
	deps         Deps
	cfg          *config.Config
	router       *chi.Mux
	server       *http.Server
	listener     net.Listener
	events       *sse.Broadcaster
	auth         *TokenAuth
	limiter      *PerClientRateLimiter
	now          func() time.Time
	startTime    time.Time
	lastRun      *pipeline.RunStats
	ctx          context.Context
	cancel       context.CancelFunc
	runs         singleflight.Group
	wg           sync.WaitGroup
	statsMu      sync.RWMutex
	runCount     atomic.Int64
	failedRuns   atomic.Int64
	running      atomic.Bool
	closed       bool
	lifeMu       sync.Mutex
	shutdownOnce sync.Once
}

// NewService creates the worker service. Nothing runs until Start.
func NewService(cfg *config.Config, deps Deps, log zerolog.Logger) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	log = log.With().Str("component", "worker").Logger()

	s := &Service{
		log:       log,
		deps:      deps,
		cfg:       cfg,
		router:    chi.NewRouter(),
		events:    sse.NewBroadcaster(log),
		auth:      NewTokenAuth(cfg.Worker.AuthToken),
		limiter:   NewPerClientRateLimiter(1, 3),
		now:       time.Now,
		startTime: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler.
func (s *Service) Handler() http.Handler {
	return s.router
}

func (s *Service) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RealIP)
	s.router.Use(RequestID)
	s.router.Use(RequestLogger(s.log))
	s.router.Use(SecurityHeaders)
	s.router.Use(MaxBodySize(MaxRequestBodyBytes))
}

func (s *Service) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Group(func(r chi.Router) {
		r.Use(s.auth.Middleware)

		// Streams and runs outlive the request timeout.
		r.Get("/api/events", s.events.HandleSSE)
		r.With(RequireJSONContentType, PerClientRateLimitMiddleware(s.limiter)).
			Post("/api/runs", s.handleTriggerRun)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(DefaultHTTPTimeout))
			r.Get("/api/stats", s.handleStats)
			r.Get("/api/runs/last", s.handleLastRun)
			r.Get("/api/clusters", s.handleClusters)
			r.Get("/api/entities/trending", s.handleTrending)
		})
	})
}

// TriggerRun starts a run, or joins the one already in flight, and waits for it or for ctx.
// The run itself is bound to the service lifetime, not to ctx. shared reports whether the
// result came from a run started by another caller.
func (s *Service) TriggerRun(ctx context.Context) (stats *pipeline.RunStats, shared bool, err error) {
	ch := s.runs.DoChan(runKey, func() (any, error) {
		if !s.track() {
			return nil, ErrShuttingDown
		}
		defer s.wg.Done()
		return s.runOnce()
	})
	select {
	case res := <-ch:
		stats, _ = res.Val.(*pipeline.RunStats)
		return stats, res.Shared, res.Err
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// track registers background work unless shutdown has started.
func (s *Service) track() bool {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Service) runOnce() (*pipeline.RunStats, error) {
	s.running.Store(true)
	defer s.running.Store(false)

	s.events.Broadcast(sse.EventRunStarted, nil)
	stats, err := s.deps.Runner.Run(s.ctx)
	s.runCount.Add(1)

	if stats != nil {
		s.statsMu.Lock()
		s.lastRun = stats
		s.statsMu.Unlock()
	}

	if err != nil {
		s.failedRuns.Add(1)
		s.log.Error().Err(err).Msg("pipeline run failed")
		s.events.Broadcast(sse.EventRunFailed, stats)
		return stats, err
	}
	s.events.Broadcast(sse.EventRunCompleted, stats)
	return stats, nil
}

// scheduleLoop runs the pipeline immediately, then again every interval measured from the
// start of the previous run. A run longer than the interval is followed directly by the next.
func (s *Service) scheduleLoop(interval time.Duration) {
	defer s.wg.Done()

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-timer.C:
		}

		start := s.now()
		if _, _, err := s.TriggerRun(s.ctx); err != nil && s.ctx.Err() != nil {
			return
		}

		wait := max(0, interval-s.now().Sub(start))
		s.log.Info().Dur("next_in", wait).Msg("scheduled run finished")
		timer.Reset(wait)
	}
}

// Start binds the HTTP listener and starts the scheduler and, when enabled, the recalculator.
func (s *Service) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Worker.Port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", s.cfg.Worker.Port, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	if s.cfg.Pipeline.Interval > 0 {
		s.wg.Add(1)
		go s.scheduleLoop(s.cfg.Pipeline.Interval)
	}

	if s.cfg.Worker.RecalcEnabled && s.deps.Recalculator != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.deps.Recalculator.Start(s.ctx)
		}()
	}

	s.log.Info().
		Str("addr", ln.Addr().String()).
		Dur("interval", s.cfg.Pipeline.Interval).
		Bool("recalc", s.cfg.Worker.RecalcEnabled).
		Bool("auth", s.auth.Enabled()).
		Msg("worker started")
	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Service) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops the scheduler, lets an in-flight run observe cancellation, and closes the server.
func (s *Service) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.lifeMu.Lock()
		s.closed = true
		s.lifeMu.Unlock()

		s.cancel()
		s.events.Close()

		if s.server != nil {
			if shutdownErr := s.server.Shutdown(ctx); shutdownErr != nil {
				err = fmt.Errorf("shutdown HTTP server: %w", shutdownErr)
			}
		}

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = errors.Join(err, fmt.Errorf("wait for background work: %w", ctx.Err()))
		}
		s.log.Info().Msg("worker shutdown complete")
	})
	return err
}

// Stats returns the current run statistics.
func (s *Service) Stats() Stats {
	s.statsMu.RLock()
	last := s.lastRun
	s.statsMu.RUnlock()

	st := Stats{
		StartedAt:  s.startTime,
		LastRun:    last,
		Version:    s.deps.Version,
		Uptime:     time.Since(s.startTime).Round(time.Second).String(),
		Runs:       s.runCount.Load(),
		FailedRuns: s.failedRuns.Load(),
		Running:    s.running.Load(),
		SSEClients: s.events.ClientCount(),
		RateLimit:  s.limiter.Stats(),
	}
	if s.deps.Recalculator != nil {
		rs := s.deps.Recalculator.GetStats()
		st.Recalculator = &rs
	}
	if s.deps.Maintenance != nil {
		st.Maintenance = s.deps.Maintenance.Stats()
	}
	return st
}
