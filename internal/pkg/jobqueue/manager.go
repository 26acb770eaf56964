// Package jobqueue runs the payment core's background work: the expiry
// sweep, the outbox relay and the webhook delivery archive.
package jobqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/robfig/cron/v3"

	"github.com/vpnshop/paycore/internal/pkg/billing"
	"github.com/vpnshop/paycore/internal/pkg/config"
)

const sweepBatch = 500

// Manager schedules the background tasks
type Manager struct {
	cfg      config.WorkerConfig
	engine   *billing.Engine
	relay    *OutboxRelay
	archiver *DeliveryArchiver

	cron         *cron.Cron
	outboxTicker *time.Ticker
	stopCh       chan struct{}
	wg           sync.WaitGroup
	mu           sync.Mutex
	running      bool
}

// NewManager wires the tasks. relay and archiver may be nil when Redis or
// the S3 archive are not configured; their workers are then skipped.
func NewManager(cfg config.WorkerConfig, engine *billing.Engine, relay *OutboxRelay, archiver *DeliveryArchiver) *Manager {
	return &Manager{cfg: cfg, engine: engine, relay: relay, archiver: archiver}
}

// Start starts the cron schedule and the outbox worker
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}
	log.Info("[JobQueue Manager] Starting background tasks")

	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(m.cfg.ExpirySchedule, m.expiryJob); err != nil {
		return fmt.Errorf("expiry schedule %q: %w", m.cfg.ExpirySchedule, err)
	}
	if m.archiver != nil {
		if _, err := c.AddFunc(m.cfg.ArchiveSchedule, m.archiveJob); err != nil {
			return fmt.Errorf("archive schedule %q: %w", m.cfg.ArchiveSchedule, err)
		}
	}
	m.cron = c
	m.cron.Start()

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	if m.relay != nil {
		interval := m.cfg.OutboxInterval
		if interval <= 0 {
			interval = 2 * time.Second
		}
		m.outboxTicker = time.NewTicker(interval)
		m.wg.Add(1)
		go m.outboxWorker(m.outboxTicker, m.stopCh)
	}

	m.running = true
	log.Info("[JobQueue Manager] Started successfully")
	return nil
}

// Stop stops the schedule and waits for running jobs
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	log.Info("[JobQueue Manager] Stopping background tasks...")

	if m.outboxTicker != nil {
		m.outboxTicker.Stop()
	}
	close(m.stopCh)
	m.wg.Wait()

	<-m.cron.Stop().Done()
	m.running = false
	log.Info("[JobQueue Manager] Stopped successfully")
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) outboxWorker(ticker *time.Ticker, stop <-chan struct{}) {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started outbox worker (interval: %s)", m.cfg.OutboxInterval)
	for {
		select {
		case <-stop:
			log.Info("[JobQueue Manager] Outbox worker stopping")
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if _, err := m.relay.RelayOnce(ctx); err != nil {
				log.Errorf("[JobQueue Manager] Outbox relay error: %v", err)
			}
			cancel()
		}
	}
}

func (m *Manager) expiryJob() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if _, err := m.RunExpirySweepOnce(ctx); err != nil {
		log.Errorf("[JobQueue Manager] Expiry sweep error: %v", err)
	}
}

func (m *Manager) archiveJob() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()
	if _, err := m.archiver.ArchiveOnce(ctx); err != nil {
		log.Errorf("[JobQueue Manager] Delivery archive error: %v", err)
	}
}

// RunExpirySweepOnce exposes a manual trigger for a single expiry sweep.
func (m *Manager) RunExpirySweepOnce(ctx context.Context) (*billing.SweepResult, error) {
	return m.engine.ExpireOverdue(ctx, sweepBatch)
}
