package jobqueue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/PlusLedger/internal/pkg/billing"
	"github.com/ManuelReschke/PlusLedger/internal/pkg/cache"
)

const (
	// SweeperLeaseKey is held by the one instance that schedules sweeps.
	SweeperLeaseKey = "plusledger:lease:sweepers"
	sweeperLeaseTTL = 30 * time.Second
	giftSweepPeriod = 24 * time.Hour
)

// Manager owns the job queue and the periodic sweeps. Every instance runs
// workers; only the lease holder enqueues sweep work.
type Manager struct {
	queue *Queue
	svc   *billing.Service
	lease *cache.Lease

	resume     *ResumeSweeper
	expiration *ExpirationSweeper
	customers  *CustomerSweeper

	holding atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewManager wires the queue and sweepers to svc.
func NewManager(svc *billing.Service, client *redis.Client, workers int) *Manager {
	return &Manager{
		queue:      NewQueue(client, workers, NewBillingProcessor(svc)),
		svc:        svc,
		lease:      cache.NewLease(client, SweeperLeaseKey, sweeperLeaseTTL),
		resume:     NewResumeSweeper(svc),
		expiration: NewExpirationSweeper(svc),
		customers:  NewCustomerSweeper(svc),
		stopCh:     make(chan struct{}),
	}
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and sweepers")

	m.queue.Start()

	cfg := m.svc.Config()
	m.wg.Add(1)
	go m.leaseWorker(sweeperLeaseTTL / 3)

	m.startTicker("resume", cfg.ResumeSweepInterval, func(ctx context.Context) error {
		_, err := m.resume.Scan(ctx, m.enqueuer(JobTypeCheckExpiring))
		return err
	})
	m.startTicker("expiration", cfg.ExpirationSweepInterval, func(ctx context.Context) error {
		_, err := m.expiration.Scan(ctx, m.enqueuer(JobTypeDailyCheck))
		return err
	})
	m.startTicker("customers", cfg.CustomerSweepInterval, func(ctx context.Context) error {
		_, err := m.customers.Scan(ctx, m.enqueuer(JobTypeCleanupCustomers))
		return err
	})
	m.startTicker("gift tokens", giftSweepPeriod, func(ctx context.Context) error {
		_, err := m.queue.EnqueueUnique(ctx, JobTypeSweepGiftTokens, "all", map[string]interface{}{})
		return err
	})

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and sweepers...")
	close(m.stopCh)
	m.running = false
	m.wg.Wait()

	if m.holding.Swap(false) {
		leaseHeld.Set(0)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := m.lease.Release(ctx); err != nil {
			log.Warnf("[Lease] release failed: %v", err)
		}
		cancel()
	}

	m.queue.Stop()
	log.Info("[JobQueue Manager] Stopped successfully")
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// HoldsLease reports whether this instance currently schedules sweeps.
func (m *Manager) HoldsLease() bool {
	return m.holding.Load()
}

// RunNow runs the expiration sweep in the caller's goroutine.
func (m *Manager) RunNow(ctx context.Context, actor string) (SweepReport, error) {
	return m.expiration.Run(ctx, actor)
}

// RunResumeNow runs the resume sweep in the caller's goroutine.
func (m *Manager) RunResumeNow(ctx context.Context, actor string) (SweepReport, error) {
	return m.resume.Run(ctx, actor)
}

func (m *Manager) enqueuer(jobType JobType) Dispatch {
	actor := "sweeper:" + string(jobType)
	return func(ctx context.Context, userID uint) error {
		_, err := m.queue.EnqueueUnique(ctx, jobType, fmt.Sprint(userID), AccountJobPayload{UserID: userID, Actor: actor}.ToMap())
		return err
	}
}

func (m *Manager) leaseWorker(interval time.Duration) {
	defer m.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.refreshLease()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.refreshLease()
		}
	}
}

func (m *Manager) refreshLease() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	held, err := m.lease.Hold(ctx)
	if err != nil {
		log.Warnf("[Lease] %s: %v", SweeperLeaseKey, err)
		held = false
	}
	if was := m.holding.Swap(held); was != held {
		if held {
			leaseHeld.Set(1)
			log.Infof("[Lease] this instance now schedules sweeps (%s)", m.lease.Owner())
		} else {
			leaseHeld.Set(0)
			log.Infof("[Lease] sweeps are scheduled elsewhere")
		}
	}
}

func (m *Manager) startTicker(name string, interval time.Duration, run func(ctx context.Context) error) {
	ticker := time.NewTicker(interval)
	stopCh := m.stopCh
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer ticker.Stop()
		log.Infof("[JobQueue Manager] %s sweep every %s", name, interval)
		for {
			select {
			case <-stopCh:
				log.Infof("[JobQueue Manager] %s sweep stopping", name)
				return
			case <-ticker.C:
				if !m.holding.Load() {
					continue
				}
				if err := run(context.Background()); err != nil {
					log.Errorf("[JobQueue Manager] %s sweep error: %v", name, err)
				}
			}
		}
	}()
}
