package ingest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ip-sentry/backend/internal/config"
	"github.com/ip-sentry/backend/internal/logger"
	"github.com/ip-sentry/backend/internal/models"
	"github.com/ip-sentry/backend/internal/service"
)

// Entry is an access record in construction, as captured on the request
// path. Field caps are applied here, before the record is handed off.
type Entry struct {
	IPAddress    string
	Method       string
	URL          string
	Path         string
	StatusCode   *int
	ResponseTime *int64
	UserAgent    string
	Referer      string
	TenantID     string
	UserID       string
	RequestBody  string
	Error        string
}

// Pipeline persists access records off the request path. Log never blocks
// beyond one channel send and never reports failure to the caller: a full
// queue drops the record, a failed write is logged and swallowed.
type Pipeline struct {
	store   *service.AccessLogService
	queue   chan *models.AccessLog
	workers int

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
	dropped atomic.Int64
}

// New builds a pipeline with the configured worker count and queue depth.
func New(cfg config.IngestConfig, store *service.AccessLogService) *Pipeline {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	queueSize := cfg.QueueSize
	if queueSize < 1 {
		queueSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		store:   store,
		queue:   make(chan *models.AccessLog, queueSize),
		workers: workers,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the worker pool.
func (p *Pipeline) Start() {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run()
	}
	logger.Info("ingestion pipeline started",
		zap.Int("workers", p.workers),
		zap.Int("queue_size", cap(p.queue)),
	)
}

// Stop cancels the workers and waits for them to exit. Queued records that
// have not reached a worker yet are abandoned.
func (p *Pipeline) Stop() {
	p.cancel()
	p.wg.Wait()
	if n := p.dropped.Load(); n > 0 {
		logger.Warn("ingestion pipeline stopped with dropped records", zap.Int64("dropped", n))
	} else {
		logger.Info("ingestion pipeline stopped")
	}
}

// Dropped returns the number of records discarded due to queue overflow.
func (p *Pipeline) Dropped() int64 {
	return p.dropped.Load()
}

// Log schedules one record for persistence. It applies the field caps and
// returns immediately; the caller always observes success.
func (p *Pipeline) Log(e Entry) {
	record := &models.AccessLog{
		IPAddress:    e.IPAddress,
		Method:       e.Method,
		URL:          truncate(e.URL, models.MaxURLLen),
		Path:         truncate(e.Path, models.MaxPathLen),
		StatusCode:   e.StatusCode,
		ResponseTime: e.ResponseTime,
		UserAgent:    truncate(e.UserAgent, models.MaxUserAgentLen),
		Referer:      truncate(e.Referer, models.MaxRefererLen),
		TenantID:     e.TenantID,
		UserID:       e.UserID,
		RequestBody:  e.RequestBody,
		Error:        truncate(e.Error, models.MaxErrorLen),
	}

	select {
	case p.queue <- record:
	default:
		n := p.dropped.Add(1)
		logger.Warn("ingestion queue full, dropping access record",
			zap.String("ip", e.IPAddress),
			zap.Int64("dropped_total", n),
		)
	}
}

func (p *Pipeline) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case record := <-p.queue:
			record.CreatedAt = time.Now().UTC().UnixMilli()
			if err := p.store.Insert(p.ctx, record); err != nil {
				logger.Warn("access record write failed",
					zap.String("ip", record.IPAddress),
					zap.Error(err),
				)
			}
		}
	}
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}
