package worker

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/studymate/checkout/internal/pkg/env"
	"github.com/studymate/checkout/internal/pkg/metrics/counter"
)

// Sweeper is the orchestrator surface the manager needs.
type Sweeper interface {
	ExpireStale(ctx context.Context) (int64, error)
}

// Manager runs the background sweep that expires stale checkout sessions, so
// abandoned sessions do not depend on a later request to flip their state.
type Manager struct {
	sweeper     Sweeper
	sweepTicker *time.Ticker
	stopCh      chan struct{}
	wg          sync.WaitGroup
	mu          sync.Mutex
	running     bool
}

func NewManager(sweeper Sweeper) *Manager {
	return &Manager{
		sweeper: sweeper,
		stopCh:  make(chan struct{}),
	}
}

// Start starts the background sweep. Safe to call more than once.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so the manager can be
	// restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[Worker Manager] Starting checkout expiry sweep")

	m.sweepTicker = time.NewTicker(sweepInterval())
	m.wg.Add(1)
	go m.sweepWorker()
}

// Stop stops the background sweep and waits for the worker to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	m.running = false

	log.Info("[Worker Manager] Stopping checkout expiry sweep")
	close(m.stopCh)
	if m.sweepTicker != nil {
		m.sweepTicker.Stop()
	}
	m.wg.Wait()
}

func (m *Manager) sweepWorker() {
	defer m.wg.Done()

	for {
		select {
		case <-m.sweepTicker.C:
			m.sweepOnce()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) sweepOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := m.sweeper.ExpireStale(ctx)
	if err != nil {
		log.Errorf("[Worker Manager] expiry sweep failed: %v", err)
		return
	}
	if n > 0 {
		log.Infof("[Worker Manager] expired %d stale checkout sessions", n)
		if err := counter.AddCheckoutsExpired(n); err != nil {
			log.Warnf("[Worker Manager] expired counter update failed: %v", err)
		}
	}
}

// sweepInterval reads CHECKOUT_SWEEP_INTERVAL_MINUTES, defaulting to five
// minutes. The checkout window is thirty minutes, so the sweep lag stays well
// under one window.
func sweepInterval() time.Duration {
	raw := env.GetEnv("CHECKOUT_SWEEP_INTERVAL_MINUTES", "5")
	minutes, err := strconv.Atoi(raw)
	if err != nil || minutes <= 0 {
		minutes = 5
	}
	return time.Duration(minutes) * time.Minute
}
