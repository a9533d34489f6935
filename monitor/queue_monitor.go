package monitor

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/canfieldjuan/finetunelab.ai-sub013/config"
)

// QueueStore is the store surface the monitor reads from.
type QueueStore interface {
	PendingCount() (int64, error)
	StaleRunningJobs(cutoff time.Time) ([]config.TrainingJob, error)
}

// QueueMonitor periodically reports the depth of the unclaimed job queue and
// warns about running jobs whose claim is older than the stale threshold.
// Observation only: it never mutates jobs, because an agent assignment is
// permanent for the job's lifetime.
type QueueMonitor struct {
	store      QueueStore
	interval   time.Duration
	staleAfter time.Duration
	stopChan   chan struct{}
	wg         sync.WaitGroup
}

// NewQueueMonitor creates a new queue monitor
func NewQueueMonitor(store QueueStore, interval, staleAfter time.Duration) *QueueMonitor {
	return &QueueMonitor{
		store:      store,
		interval:   interval,
		staleAfter: staleAfter,
		stopChan:   make(chan struct{}),
	}
}

// Start begins the monitor loop
func (m *QueueMonitor) Start() {
	m.wg.Add(1)
	go m.monitorLoop()
	logrus.WithField("interval", m.interval).Info("Queue monitor started")
}

// Stop stops the queue monitor gracefully
func (m *QueueMonitor) Stop() {
	close(m.stopChan)
	m.wg.Wait()
	logrus.Info("Queue monitor stopped")
}

func (m *QueueMonitor) monitorLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.checkQueue()
		}
	}
}

// checkQueue takes one observation of the queue
func (m *QueueMonitor) checkQueue() {
	pending, err := m.store.PendingCount()
	if err != nil {
		logrus.WithError(err).Error("Failed to count pending jobs")
		return
	}
	if pending > 0 {
		logrus.WithField("pending", pending).Info("Unclaimed jobs waiting")
	}

	stale, err := m.store.StaleRunningJobs(time.Now().Add(-m.staleAfter))
	if err != nil {
		logrus.WithError(err).Error("Failed to list stale running jobs")
		return
	}
	for _, job := range stale {
		agentID := ""
		if job.AgentID != nil {
			agentID = *job.AgentID
		}
		logrus.WithFields(logrus.Fields{
			"job_id":     job.ID,
			"agent_id":   agentID,
			"claimed_at": job.ClaimedAt,
		}).Warn("Running job has held its claim past the stale threshold")
	}
}
