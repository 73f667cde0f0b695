package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"agent-chart-lab/internal/domain"
	"agent-chart-lab/internal/reporting"
	"agent-chart-lab/internal/viewstate"
	"agent-chart-lab/internal/widget"
)

// ViewStateUpdate is the PUT body; absent fields are left unchanged.
type ViewStateUpdate struct {
	TimeRange *domain.TimeRange `json:"timeRange,omitempty"`
	ChartType *domain.ChartType `json:"chartType,omitempty"`
	TargetID  *string           `json:"targetId,omitempty"`
}

// ModuleSeriesResponse is returned by the module series endpoint.
type ModuleSeriesResponse struct {
	Module    domain.Module    `json:"module"`
	ViewState domain.ViewState `json:"viewState"`
	Widget    widget.State     `json:"widget"`
}

// ComparisonResponse is returned by the comparison endpoint.
type ComparisonResponse struct {
	BacktestID string                    `json:"backtestId"`
	Symbol     string                    `json:"symbol"`
	Interval   string                    `json:"interval"`
	Initial    float64                   `json:"initialInvestment"`
	HasData    bool                      `json:"hasData"`
	Records    []domain.ComparisonRecord `json:"records"`
}

// ViewedResponse is returned by the last-viewed endpoints.
type ViewedResponse struct {
	AgentID  string `json:"agentId"`
	ViewedAt int64  `json:"viewedAt"` // ms
}

func (s *Server) module(r *http.Request) (*viewstate.ModuleState, *widget.Widget, error) {
	name := domain.Module(chi.URLParam(r, "module"))
	st, err := s.deps.Views.Module(name)
	if err != nil {
		return nil, nil, err
	}
	s.mu.Lock()
	w := s.modules[name]
	s.mu.Unlock()
	return st, w, nil
}

func (s *Server) handleGetViewState(w http.ResponseWriter, r *http.Request) {
	st, _, err := s.module(r)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, st.Get())
}

func (s *Server) handlePutViewState(w http.ResponseWriter, r *http.Request) {
	st, _, err := s.module(r)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	var req ViewStateUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}

	// Validate everything before applying anything.
	if req.TimeRange != nil && !req.TimeRange.IsValid() {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: time range %q", viewstate.ErrInvalidValue, *req.TimeRange))
		return
	}
	if req.ChartType != nil && !req.ChartType.IsValid() {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: chart type %q", viewstate.ErrInvalidValue, *req.ChartType))
		return
	}

	if req.TimeRange != nil {
		_ = st.SetTimeRange(*req.TimeRange)
	}
	if req.ChartType != nil {
		_ = st.SetChartType(*req.ChartType)
	}
	if req.TargetID != nil {
		st.SetTargetID(*req.TargetID)
	}

	vs := st.Get()
	if s.deps.ViewStore != nil {
		if err := s.deps.ViewStore.Save(r.Context(), st.Name(), vs); err != nil {
			s.logger.Printf("save view state %s: %v", st.Name(), err)
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, vs)
}

func (s *Server) handleModuleSeries(w http.ResponseWriter, r *http.Request) {
	st, wg, err := s.module(r)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	if wg.Snapshot().Status == widget.StatusLoading {
		if err := wg.Load(r.Context()); err != nil {
			s.logger.Printf("load %s: %v", st.Name(), err)
		}
	}

	state := wg.Snapshot()
	s.archive(r.Context(), state)

	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		w.Write([]byte(reporting.RenderSeriesCSV(state.Series)))
		return
	}
	writeJSON(w, http.StatusOK, ModuleSeriesResponse{
		Module:    st.Name(),
		ViewState: st.Get(),
		Widget:    state,
	})
}

func (s *Server) handleComparison(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	q := r.URL.Query()
	symbol, interval := q.Get("symbol"), q.Get("interval")
	if symbol == "" || interval == "" {
		writeError(w, http.StatusBadRequest, errors.New("symbol and interval are required"))
		return
	}
	initial, err := strconv.ParseFloat(q.Get("initial"), 64)
	if err != nil || initial <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid initial investment %q", q.Get("initial")))
		return
	}

	ctx := r.Context()

	funding := widget.New("funding_trend", s.deps.Source, widget.WithLogger(s.logger))
	funding.SetParams(domain.QueryKey{Source: domain.SourceFundingTrend, TargetID: id})
	if err := funding.Load(ctx); err != nil {
		s.logger.Printf("load funding trend %s: %v", id, err)
	}

	prices := widget.New("backtest_prices", s.deps.Source, widget.WithLogger(s.logger))
	if trend := funding.Snapshot().Series; trend.HasData {
		start, end := klineWindow(trend, interval)
		prices.SetParams(domain.QueryKey{
			Source:    domain.SourceKline,
			TargetID:  id,
			ChartType: domain.ChartTypeKline,
			Symbol:    symbol,
			Interval:  interval,
			Start:     start,
			End:       end,
		})
		if err := prices.Load(ctx); err != nil {
			s.logger.Printf("load prices %s: %v", symbol, err)
		}
	}

	records := funding.Comparison(prices, initial)

	if q.Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		w.Write([]byte(reporting.RenderComparisonCSV(records)))
		return
	}
	writeJSON(w, http.StatusOK, ComparisonResponse{
		BacktestID: id,
		Symbol:     symbol,
		Interval:   interval,
		Initial:    initial,
		HasData:    len(records) > 0,
		Records:    records,
	})
}

func (s *Server) handleKlines(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	q := r.URL.Query()
	interval := q.Get("interval")
	if interval == "" {
		interval = "1m"
	}
	timeRange := domain.TimeRange1D
	if raw := q.Get("timeRange"); raw != "" {
		tr, err := domain.ParseTimeRange(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		timeRange = tr
	}

	wg := s.marketWidget(symbol, interval, timeRange)
	if wg.Snapshot().Status == widget.StatusLoading {
		if err := wg.Load(r.Context()); err != nil {
			s.logger.Printf("load klines %s: %v", symbol, err)
		}
	}

	state := wg.Snapshot()
	s.archive(r.Context(), state)
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleGetViewed(w http.ResponseWriter, r *http.Request) {
	if s.deps.LastViewed == nil {
		writeError(w, http.StatusNotFound, errors.New("last-viewed tracking disabled"))
		return
	}
	id := chi.URLParam(r, "id")
	ts, ok := s.deps.LastViewed.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("agent %q never viewed", id))
		return
	}
	writeJSON(w, http.StatusOK, ViewedResponse{AgentID: id, ViewedAt: ts.UnixMilli()})
}

func (s *Server) handleTouchViewed(w http.ResponseWriter, r *http.Request) {
	if s.deps.LastViewed == nil {
		writeError(w, http.StatusNotFound, errors.New("last-viewed tracking disabled"))
		return
	}
	id := chi.URLParam(r, "id")
	now := s.deps.Now()
	if !s.deps.LastViewed.Touch(id, now) {
		s.logger.Printf("last-viewed write for %s dropped", id)
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("last-viewed write for %q dropped", id))
		return
	}
	writeJSON(w, http.StatusOK, ViewedResponse{AgentID: id, ViewedAt: now.UnixMilli()})
}

// klineWindow covers the funding trend's span with candles, starting one
// interval early so the first sample has a candle at or before it.
func klineWindow(trend domain.Series, interval string) (start, end int64) {
	start = trend.First().Timestamp - intervalDuration(interval).Milliseconds()
	if start < 1 {
		start = 1
	}
	return start, trend.Last().Timestamp
}

// intervalDuration parses exchange interval names such as 15m, 4h, 1d, 1w
// and 1M. Unknown names yield 0.
func intervalDuration(interval string) time.Duration {
	if len(interval) < 2 {
		return 0
	}
	n, err := strconv.Atoi(interval[:len(interval)-1])
	if err != nil || n <= 0 {
		return 0
	}
	unit := map[byte]time.Duration{
		's': time.Second,
		'm': time.Minute,
		'h': time.Hour,
		'd': 24 * time.Hour,
		'w': 7 * 24 * time.Hour,
		'M': 31 * 24 * time.Hour,
	}[interval[len(interval)-1]]
	return time.Duration(n) * unit
}
