// Package api exposes chart view-state and derived series over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"agent-chart-lab/internal/domain"
	"agent-chart-lab/internal/livetick"
	"agent-chart-lab/internal/marketstream"
	"agent-chart-lab/internal/observability"
	"agent-chart-lab/internal/storage"
	"agent-chart-lab/internal/viewstate"
	"agent-chart-lab/internal/widget"
)

// Source is the remote data cache widgets read from.
type Source interface {
	widget.Source
	widget.Subscriber
}

// KlineStream opens live kline streams.
type KlineStream interface {
	Subscribe(ctx context.Context, symbol, interval string) (<-chan []byte, error)
}

// Dependencies wires the server. Views and Source are required.
type Dependencies struct {
	Views      *viewstate.Store
	Source     Source
	ViewStore  storage.ViewStateStore // optional persistence
	Archiver   *storage.Archiver      // optional series archive
	LastViewed *viewstate.LastViewed  // optional
	Stream     KlineStream            // optional live ticks
	Logger     *log.Logger
	Now        func() time.Time

	AllowedOrigins []string
	RequestTimeout time.Duration
}

// Server serves the chart API.
type Server struct {
	deps   Dependencies
	logger *log.Logger
	router chi.Router

	// ctx bounds background stream pumps.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	modules map[domain.Module]*widget.Widget
	markets map[string]*widget.Widget
	unwatch []func()
}

// NewServer creates the server and binds one widget per module to its
// view-state.
func NewServer(deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = log.New(log.Writer(), "[api] ", log.LstdFlags)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.RequestTimeout == 0 {
		deps.RequestTimeout = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		deps:    deps,
		logger:  deps.Logger,
		ctx:     ctx,
		cancel:  cancel,
		modules: make(map[domain.Module]*widget.Widget),
		markets: make(map[string]*widget.Widget),
	}

	for _, name := range viewstate.Modules() {
		st := deps.Views.MustModule(name)
		w := s.newWidget(string(name))
		w.SetParams(st.QueryKey())
		s.modules[name] = w
		s.unwatch = append(s.unwatch, st.OnChange(func(domain.ViewState) {
			w.SetParams(st.QueryKey())
		}))
	}

	s.router = s.routes()
	return s
}

func (s *Server) newWidget(name string) *widget.Widget {
	return widget.New(name, s.deps.Source,
		widget.WithLogger(s.logger),
		widget.WithSubscriber(s.deps.Source),
		widget.WithClock(s.deps.Now),
	)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.deps.RequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", observability.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/modules/{module}", func(r chi.Router) {
			r.Get("/view-state", s.handleGetViewState)
			r.Put("/view-state", s.handlePutViewState)
			r.Get("/series", s.handleModuleSeries)
		})
		r.Get("/backtests/{id}/comparison", s.handleComparison)
		r.Get("/markets/{symbol}/klines", s.handleKlines)
		r.Get("/agents/{id}/viewed", s.handleGetViewed)
		r.Post("/agents/{id}/viewed", s.handleTouchViewed)
	})

	return r
}

// Handler returns the router wrapped with CORS.
func (s *Server) Handler() http.Handler {
	origins := s.deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPut, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:         int((12 * time.Hour).Seconds()),
	})
	return c.Handler(s.router)
}

// Restore loads persisted view-states into the store.
func (s *Server) Restore(ctx context.Context) error {
	if s.deps.ViewStore == nil {
		return nil
	}
	states, err := s.deps.ViewStore.GetAll(ctx)
	if err != nil {
		return err
	}
	return s.deps.Views.Restore(states)
}

// Close stops stream pumps and drops widget subscriptions.
func (s *Server) Close() {
	s.cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, unwatch := range s.unwatch {
		unwatch()
	}
	for _, w := range s.modules {
		w.Close()
	}
	for _, w := range s.markets {
		w.Close()
	}
}

// marketWidget returns the shared kline widget for symbol and interval,
// creating it and attaching the live stream on first use.
func (s *Server) marketWidget(symbol, interval string, timeRange domain.TimeRange) *widget.Widget {
	name := marketstream.StreamName(symbol, interval)
	key := domain.QueryKey{
		Source:    domain.SourceKline,
		TimeRange: timeRange,
		ChartType: domain.ChartTypeKline,
		Symbol:    symbol,
		Interval:  interval,
	}

	s.mu.Lock()
	w, ok := s.markets[name]
	if !ok {
		w = s.newWidget(name)
		s.markets[name] = w
	}
	s.mu.Unlock()

	w.SetParams(key)

	if !ok && s.deps.Stream != nil {
		ch, err := s.deps.Stream.Subscribe(s.ctx, symbol, interval)
		if err != nil {
			s.logger.Printf("stream %s: %v", name, err)
		} else {
			go marketstream.Pump(s.ctx, ch, s.logger, func(u livetick.KlineUpdate) {
				w.ApplyTick(u.Candle)
			})
		}
	}
	return w
}

// archive stores the new tail of a delivered series.
func (s *Server) archive(ctx context.Context, state widget.State) {
	if s.deps.Archiver == nil || !state.Series.HasData {
		return
	}
	if _, err := s.deps.Archiver.Archive(ctx, state.Key, state.Series); err != nil {
		s.logger.Printf("archive %s: %v", state.Key, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, viewstate.ErrUnsupportedModule), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, viewstate.ErrInvalidValue), errors.Is(err, storage.ErrInvalidInput):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
