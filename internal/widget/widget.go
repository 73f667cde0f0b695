// Package widget holds the per-chart state machine that ties a query key to
// its fetched series, live ticks and memoized derived values.
package widget

import (
	"context"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"agent-chart-lab/internal/domain"
	"agent-chart-lab/internal/livetick"
	"agent-chart-lab/internal/normalization"
	"agent-chart-lab/internal/observability"
	"agent-chart-lab/internal/resample"
)

// Status is the lifecycle stage of a widget.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusReady
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	}
	return "unknown"
}

// MarshalText renders the status by name in JSON.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a status name.
func (s *Status) UnmarshalText(text []byte) error {
	switch string(text) {
	case "idle":
		*s = StatusIdle
	case "loading":
		*s = StatusLoading
	case "ready":
		*s = StatusReady
	default:
		return fmt.Errorf("unknown widget status %q", text)
	}
	return nil
}

// Source fetches the raw payload for a key.
type Source interface {
	Get(ctx context.Context, key domain.QueryKey) ([]byte, error)
}

// Subscriber pushes refreshed payloads for a key until unsubscribed.
type Subscriber interface {
	Subscribe(key domain.QueryKey, fn func(raw []byte, err error)) (unsubscribe func())
}

// Decoder converts a raw payload into a series for key.
type Decoder func(raw []byte, key domain.QueryKey) domain.Series

// DecodeSeries picks the normalizer matching the key's source.
func DecodeSeries(raw []byte, key domain.QueryKey) domain.Series {
	if key.Source == domain.SourceKline {
		return normalization.NormalizeKlines(raw)
	}
	return normalization.Normalize(raw, normalization.SpecFor(key.Source, key.ChartType), key.ChartType)
}

// State is a read-only copy of a widget.
type State struct {
	ID       string          `json:"id"`
	Status   Status          `json:"status"`
	Key      domain.QueryKey `json:"key"`
	Series   domain.Series   `json:"series"`
	Revision uint64          `json:"revision"`
}

// Option configures a Widget.
type Option func(*Widget)

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(w *Widget) { w.logger = logger }
}

// WithDecoder overrides DecodeSeries.
func WithDecoder(d Decoder) Option {
	return func(w *Widget) { w.decode = d }
}

// WithClock clips delivered series to the key's time range ending at now().
func WithClock(now func() time.Time) Option {
	return func(w *Widget) { w.now = now }
}

// WithSubscriber keeps the widget subscribed to pushes for its current key.
func WithSubscriber(sub Subscriber) Option {
	return func(w *Widget) { w.sub = sub }
}

type comparisonMemo struct {
	revision      uint64
	pricesID      string
	priceKey      domain.QueryKey
	priceRevision uint64
	initial       float64
	records       []domain.ComparisonRecord
}

// Widget is one chart instance. Only the response for the current key is
// ever applied; responses for a previous key are dropped.
type Widget struct {
	id     string
	name   string
	logger *log.Logger
	source Source
	sub    Subscriber
	decode Decoder
	now    func() time.Time
	merger *livetick.Merger

	mu          sync.RWMutex
	status      Status
	key         domain.QueryKey
	series      domain.Series
	revision    uint64
	unsubscribe func()
	memo        *comparisonMemo
}

// New creates an idle widget. name labels its metrics.
func New(name string, source Source, opts ...Option) *Widget {
	w := &Widget{
		id:     uuid.NewString(),
		name:   name,
		source: source,
		decode: DecodeSeries,
		merger: livetick.NewMerger(),
		series: domain.EmptySeries(""),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = log.New(log.Writer(), "[widget] ", log.LstdFlags)
	}
	return w
}

// ID returns the instance id.
func (w *Widget) ID() string {
	return w.id
}

// SetParams selects the key to display. A new key moves the widget to
// Loading (Idle for the zero key) and clears the loaded flag.
// It reports whether the key changed.
func (w *Widget) SetParams(key domain.QueryKey) bool {
	w.mu.Lock()
	if key == w.key && w.status != StatusIdle {
		w.mu.Unlock()
		return false
	}

	w.key = key
	w.series = domain.EmptySeries(key.ChartType)
	w.revision++
	w.memo = nil
	if key.IsZero() {
		w.status = StatusIdle
	} else {
		w.status = StatusLoading
	}
	w.merger.Reset(key.String())

	prevUnsub := w.unsubscribe
	w.unsubscribe = nil
	w.mu.Unlock()

	if prevUnsub != nil {
		prevUnsub()
	}
	if w.sub != nil && !key.IsZero() {
		unsub := w.sub.Subscribe(key, func(raw []byte, err error) {
			w.Deliver(key, raw, err)
		})
		w.mu.Lock()
		if w.key == key && w.unsubscribe == nil {
			w.unsubscribe = unsub
			unsub = nil
		}
		w.mu.Unlock()
		if unsub != nil {
			// Key moved on while subscribing.
			unsub()
		}
	}
	return true
}

// Deliver applies a fetch result for key. Results for any key other than
// the current one are discarded and false is returned. A fetch error
// yields Ready with an empty series.
func (w *Widget) Deliver(key domain.QueryKey, raw []byte, err error) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if key != w.key || key.IsZero() {
		observability.RecordStaleDiscard(string(key.Source))
		return false
	}

	var s domain.Series
	if err != nil {
		w.logger.Printf("fetch %s failed: %v", key, err)
		s = domain.EmptySeries(key.ChartType)
	} else {
		s = w.decode(raw, key)
		if s.ChartType == "" {
			s.ChartType = key.ChartType
		}
		if w.now != nil && key.TimeRange != "" {
			s = normalization.ClipToRange(s, key.TimeRange, w.now())
		}
	}

	w.series = s
	w.status = StatusReady
	w.revision++
	w.merger.MarkLoaded(key.String())
	observability.UpdateSeriesPoints(w.name, len(s.Points))
	return true
}

// Load fetches the current key and delivers the result.
// The fetch error, if any, is returned after the widget is Ready.
func (w *Widget) Load(ctx context.Context) error {
	w.mu.RLock()
	key := w.key
	w.mu.RUnlock()

	if key.IsZero() || w.source == nil {
		return nil
	}

	raw, err := w.source.Get(ctx, key)
	w.Deliver(key, raw, err)
	return err
}

// ApplyTick merges a live candle into the current series. Ticks arriving
// before history for the current key has loaded are refused.
func (w *Widget) ApplyTick(tick domain.Candle) livetick.MergeResult {
	result := livetick.NotLoaded
	livetick.ApplySafely(w.logger, func() error {
		w.mu.Lock()
		defer w.mu.Unlock()

		result = w.merger.Apply(w.key.String(), &w.series, tick)
		if result.Applied() {
			w.revision++
		}
		return nil
	})
	observability.RecordTickMerged(result.String())
	return result
}

// Snapshot returns a deep copy of the widget state.
func (w *Widget) Snapshot() State {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return State{
		ID:       w.id,
		Status:   w.status,
		Key:      w.key,
		Series:   w.series.Clone(),
		Revision: w.revision,
	}
}

// Comparison derives equity-vs-hold records from this widget's funding
// series and the prices widget. The result is recomputed only when either
// revision, the prices widget or its key, or the initial investment changes.
// The returned slice is the caller's own copy.
func (w *Widget) Comparison(prices *Widget, initialInvestment float64) []domain.ComparisonRecord {
	priceState := prices.Snapshot()

	w.mu.Lock()
	defer w.mu.Unlock()

	if m := w.memo; m != nil &&
		m.revision == w.revision &&
		m.pricesID == priceState.ID &&
		m.priceKey == priceState.Key &&
		m.priceRevision == priceState.Revision &&
		m.initial == initialInvestment {
		return slices.Clone(m.records)
	}

	var records []domain.ComparisonRecord
	if w.series.HasData {
		records = resample.Compare(w.series.Points, priceState.Series.Points, initialInvestment, w.series.First().Value)
	} else {
		records = []domain.ComparisonRecord{}
	}

	w.memo = &comparisonMemo{
		revision:      w.revision,
		pricesID:      priceState.ID,
		priceKey:      priceState.Key,
		priceRevision: priceState.Revision,
		initial:       initialInvestment,
		records:       records,
	}
	return slices.Clone(records)
}

// Close drops the push subscription.
func (w *Widget) Close() {
	w.mu.Lock()
	unsub := w.unsubscribe
	w.unsubscribe = nil
	w.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}
