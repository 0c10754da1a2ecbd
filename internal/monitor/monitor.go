// Package monitor periodically writes recorder status to a file so operators
// can watch a headless instance without attaching to the control port.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/trailerlab/trailerd/internal/influx"
	"github.com/trailerlab/trailerd/internal/logging"
	"github.com/trailerlab/trailerd/internal/run"
	"github.com/trailerlab/trailerd/internal/worker"
)

// statusInterval is how often the status file is rewritten.
const statusInterval = 1000 * time.Millisecond

// Dependencies holds all dependencies for the monitor service. Influx is
// optional; when set, every status sample also lands in the
// recorder_performance bucket.
type Dependencies struct {
	LogManager    *logging.SlogManager
	RunContext    *run.Context
	WorkerManager *worker.Manager
	StatusDir     string
	IsRunning     func() bool
	Influx        *influx.Manager
}

// Status is the JSON document written to the status file.
type Status struct {
	Time                time.Time `json:"time"`
	Running             bool      `json:"running"`
	RunName             string    `json:"runName"`
	CourseName          string    `json:"courseName"`
	LastWriteDurationMs float32   `json:"lastWriteDurationMs"`
}

// Service manages the status monitor goroutine.
type Service struct {
	deps      Dependencies
	mu        sync.RWMutex
	isRunning bool
	stopChan  chan struct{}
}

// NewService creates a new monitor service.
func NewService(deps Dependencies) *Service {
	return &Service{
		deps:     deps,
		stopChan: make(chan struct{}),
	}
}

// IsRunning returns whether the status monitor is running.
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetStatus builds the current status snapshot.
func (s *Service) GetStatus() Status {
	return Status{
		Time:                time.Now(),
		Running:             s.deps.IsRunning(),
		RunName:             s.deps.RunContext.GetRun().Name,
		CourseName:          s.deps.RunContext.GetCourse().Name,
		LastWriteDurationMs: float32(s.deps.WorkerManager.GetLastDBWriteDuration().Milliseconds()),
	}
}

// StatusFilePath returns the path of the status file.
func (s *Service) StatusFilePath() string {
	return filepath.Join(s.deps.StatusDir, "status.json")
}

// Start starts the status monitor goroutine.
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.mu.Unlock()

	logger := s.deps.LogManager.Logger()

	go func() {
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}()

		logger.Debug("Starting status monitor goroutine", "file", s.StatusFilePath())

		ticker := time.NewTicker(statusInterval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stopChan:
				return
			case <-ticker.C:
				status := s.GetStatus()
				if err := s.writeStatusFile(status); err != nil {
					logger.Error("Error writing status file", "error", err)
				}
				if err := s.reportPerformance(status); err != nil {
					logger.Error("Error writing recorder performance", "error", err)
				}
			}
		}
	}()

	return nil
}

// Stop stops the status monitor.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		close(s.stopChan)
	}
}

func (s *Service) writeStatusFile(status Status) error {
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		data = []byte(fmt.Sprintf(`{"error": %q}`, err.Error()))
	}

	// Write then rename so readers never see a partial file.
	tmp := s.StatusFilePath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.StatusFilePath())
}

// reportPerformance mirrors the status sample into InfluxDB.
func (s *Service) reportPerformance(status Status) error {
	if s.deps.Influx == nil {
		return nil
	}
	point := influx.RecorderPerformancePoint(
		status.RunName, status.Running, float64(status.LastWriteDurationMs))
	return s.deps.Influx.WritePoint(context.Background(), "recorder_performance", point)
}
