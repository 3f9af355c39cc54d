package jobqueue

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/firmaentrega/backend/app/repository"
	"github.com/firmaentrega/backend/internal/pkg/env"
)

const evidenceSweepBatchSize = 50

// Manager manages the global job queue and background tasks
type Manager struct {
	queue          *Queue
	evidenceTicker *time.Ticker
	stopCh         chan struct{}
	wg             sync.WaitGroup
	mu             sync.Mutex
	running        bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// GetManager returns the global job queue manager (singleton)
func GetManager() *Manager {
	managerOnce.Do(func() {
		workerCount := env.GetEnvInt("JOB_QUEUE_WORKERS", 2)
		globalManager = &Manager{
			queue:  NewQueue(workerCount),
			stopCh: make(chan struct{}),
		}
	})
	return globalManager
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

	// Recreate stop channel so the manager can be restarted safely
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	m.queue.Start()

	sweepInterval := time.Duration(env.GetEnvInt("EVIDENCE_SWEEP_INTERVAL_MINUTES", 5)) * time.Minute
	m.evidenceTicker = time.NewTicker(sweepInterval)
	m.wg.Add(1)
	go m.evidenceSweepWorker()

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")

	if m.evidenceTicker != nil {
		m.evidenceTicker.Stop()
	}
	close(m.stopCh)
	m.running = false
	m.wg.Wait()
	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped")
}

// evidenceSweepWorker periodically finds confirmations whose evidence
// document was never attached and enqueues a retry job per confirmation.
func (m *Manager) evidenceSweepWorker() {
	defer m.wg.Done()

	for {
		select {
		case <-m.stopCh:
			return
		case <-m.evidenceTicker.C:
			m.sweepMissingEvidence()
		}
	}
}

func (m *Manager) sweepMissingEvidence() {
	repos := repository.GetGlobalRepositories()
	if repos == nil {
		return
	}

	confirmations, err := repos.Confirmation.ListMissingEvidence(evidenceSweepBatchSize)
	if err != nil {
		log.Errorf("[JobQueue Manager] Evidence sweep query failed: %v", err)
		return
	}
	if len(confirmations) == 0 {
		return
	}

	log.Infof("[JobQueue Manager] Evidence sweep found %d confirmations without evidence", len(confirmations))
	for _, conf := range confirmations {
		payload := EvidenceRetryJobPayload{
			ConfirmationID: conf.ID,
			OrderID:        conf.OrderID,
		}
		if _, err := m.queue.EnqueueJob(JobTypeEvidenceRetry, payload.ToMap()); err != nil {
			log.Errorf("[JobQueue Manager] Failed to enqueue evidence retry for confirmation %d: %v", conf.ID, err)
		}
	}
}
