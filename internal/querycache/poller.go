package querycache

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"agent-chart-lab/internal/domain"
	"agent-chart-lab/internal/observability"
)

// Polling schedules used by the dashboard.
const (
	ChartSchedule   = "@every 5m"  // balance, funding and kline history
	HistorySchedule = "@every 60s" // order and trade history
)

// Poller refreshes subscribed keys on cron schedules.
type Poller struct {
	cron    *cron.Cron
	cache   *Cache
	logger  *log.Logger
	timeout time.Duration
}

// NewPoller creates a poller over cache.
func NewPoller(cache *Cache, logger *log.Logger) *Poller {
	if logger == nil {
		logger = log.New(log.Writer(), "[poller] ", log.LstdFlags)
	}
	return &Poller{
		cron:    cron.New(),
		cache:   cache,
		logger:  logger,
		timeout: 30 * time.Second,
	}
}

// Register refreshes every subscribed key whose source is in sources on
// schedule. No sources means all keys.
func (p *Poller) Register(schedule string, sources ...domain.Source) error {
	if _, err := p.cron.AddFunc(schedule, func() { p.Poll(schedule, sources...) }); err != nil {
		return fmt.Errorf("register poll %q: %w", schedule, err)
	}
	return nil
}

// Poll refreshes the matching subscribed keys once.
func (p *Poller) Poll(schedule string, sources ...domain.Source) int {
	n := 0
	for _, key := range p.cache.Keys() {
		if !matches(key.Source, sources) {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		if err := p.cache.Refresh(ctx, key); err != nil {
			p.logger.Printf("poll %s: %v", key, err)
		}
		cancel()

		observability.RecordPollDelivery(schedule)
		n++
	}
	return n
}

// Start begins running the registered schedules.
func (p *Poller) Start() {
	p.cron.Start()
	p.logger.Println("poller started")
}

// Stop halts scheduling and waits for running polls.
func (p *Poller) Stop() {
	<-p.cron.Stop().Done()
	p.logger.Println("poller stopped")
}

func matches(source domain.Source, sources []domain.Source) bool {
	if len(sources) == 0 {
		return true
	}
	for _, s := range sources {
		if s == source {
			return true
		}
	}
	return false
}
